package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/yuridevx/proxyhub/domain"
	"github.com/yuridevx/proxyhub/pkg/proxyline"
	"github.com/yuridevx/proxyhub/pkg/store"
	"go.uber.org/zap"
)

var ErrEmptyTagName = errors.New("tag name is required")

const (
	DefaultLimit = 25
	MaxLimit     = 500
)

// Catalog answers read-side questions about an owner's proxies. Besides
// Delete and CreateTag it never writes.
type Catalog struct {
	log   *zap.Logger
	store store.Store
}

func New(log *zap.Logger, st store.Store) *Catalog {
	return &Catalog{log: log, store: st}
}

// List returns one page of the owner's proxies matching q together with
// the distinct tag names across the whole unfiltered collection.
func (c *Catalog) List(ctx context.Context, ownerID int64, q domain.ListQuery) (domain.ProxyPage, error) {
	q = normalize(q)
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	q.Limit = min(q.Limit, MaxLimit)

	proxies, total, err := c.store.ListProxies(ctx, ownerID, q)
	if err != nil {
		return domain.ProxyPage{}, err
	}
	tags, err := c.store.OwnerTagNames(ctx, ownerID)
	if err != nil {
		return domain.ProxyPage{}, err
	}
	if proxies == nil {
		proxies = []domain.Proxy{}
	}

	return domain.ProxyPage{
		Proxies:    proxies,
		Total:      total,
		Page:       q.Page,
		Limit:      q.Limit,
		TotalPages: (total + q.Limit - 1) / q.Limit,
		Tags:       tags,
	}, nil
}

// Export renders every proxy matching the filters, one per line.
func (c *Catalog) Export(ctx context.Context, ownerID int64, q domain.ListQuery) (string, error) {
	q = normalize(q)
	q.Page, q.Limit = 0, 0
	proxies, _, err := c.store.ListProxies(ctx, ownerID, q)
	if err != nil {
		return "", err
	}
	return proxyline.FormatAll(proxies), nil
}

func (c *Catalog) CopySelected(ctx context.Context, ownerID int64, ids []int64) (string, error) {
	proxies, err := c.store.GetProxies(ctx, ownerID, ids)
	if err != nil {
		return "", err
	}
	return proxyline.FormatAll(proxies), nil
}

func (c *Catalog) Live(ctx context.Context, ownerID int64) ([]domain.Proxy, error) {
	proxies, _, err := c.store.ListProxies(ctx, ownerID, domain.ListQuery{Status: domain.StatusLive})
	if err != nil {
		return nil, err
	}
	if proxies == nil {
		proxies = []domain.Proxy{}
	}
	return proxies, nil
}

func (c *Catalog) Stats(ctx context.Context, ownerID int64) (domain.Stats, error) {
	proxies, _, err := c.store.ListProxies(ctx, ownerID, domain.ListQuery{})
	if err != nil {
		return domain.Stats{}, err
	}

	stats := domain.Stats{
		Total:  len(proxies),
		ByType: map[string]int{},
		ByTag:  map[string]int{},
	}
	var (
		rtSum   int64
		rtCount int
	)
	for _, p := range proxies {
		switch p.Status {
		case domain.StatusLive:
			stats.Live++
			if p.ResponseTime != nil && *p.ResponseTime > 0 {
				rtSum += *p.ResponseTime
				rtCount++
			}
		case domain.StatusDead:
			stats.Dead++
		case domain.StatusPending:
			stats.Pending++
		}

		scheme := string(p.Scheme)
		if scheme == "" {
			scheme = string(domain.SchemeHTTP)
		}
		stats.ByType[scheme]++
		for _, t := range p.Tags {
			stats.ByTag[t.Name]++
		}

		if p.LastTested != nil && (stats.LastTested == nil || p.LastTested.After(*stats.LastTested)) {
			lt := *p.LastTested
			stats.LastTested = &lt
		}
	}
	if rtCount > 0 {
		stats.AvgResponseTime = float64(rtSum) / float64(rtCount)
	}
	return stats, nil
}

// Delete removes the owner's proxies with the given ids and reports how
// many went away. Tags stay.
func (c *Catalog) Delete(ctx context.Context, ownerID int64, ids []int64) (int, error) {
	n, err := c.store.DeleteProxies(ctx, ownerID, ids)
	if err != nil {
		return 0, err
	}
	c.log.Info("proxies deleted", zap.Int64("owner_id", ownerID), zap.Int("requested", len(ids)), zap.Int("deleted", n))
	return n, nil
}

func (c *Catalog) Tags(ctx context.Context) ([]domain.Tag, error) {
	tags, err := c.store.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []domain.Tag{}
	}
	return tags, nil
}

func (c *Catalog) CreateTag(ctx context.Context, name string) (domain.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Tag{}, ErrEmptyTagName
	}
	return c.store.EnsureTag(ctx, name)
}

// normalize maps the UI's "show everything" sentinels to empty filters.
func normalize(q domain.ListQuery) domain.ListQuery {
	q.Tag = strings.TrimSpace(q.Tag)
	if q.Tag == "All Tags" || strings.EqualFold(q.Tag, "all") {
		q.Tag = ""
	}
	q.Search = strings.TrimSpace(q.Search)
	status := domain.Status(strings.ToLower(strings.TrimSpace(string(q.Status))))
	if status == "all" {
		status = ""
	}
	q.Status = status
	return q
}
