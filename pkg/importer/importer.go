package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yuridevx/proxyhub/domain"
	"github.com/yuridevx/proxyhub/pkg/metrics"
	"github.com/yuridevx/proxyhub/pkg/proxyline"
	"github.com/yuridevx/proxyhub/pkg/utils"
	"go.uber.org/zap"
)

var DefaultTags = []string{"Default"}

type Store interface {
	CreateProxy(ctx context.Context, ownerID int64, in domain.ProxyInput) (domain.Proxy, error)
	UpdateProxy(ctx context.Context, ownerID, id int64, in domain.ProxyInput) (domain.Proxy, error)
}

type Fetcher interface {
	FetchLines(ctx context.Context, source string) ([]string, error)
}

type Importer struct {
	log         *zap.Logger
	store       Store
	fetcher     Fetcher
	metrics     *metrics.Metrics
	defaultTags []string
}

func New(log *zap.Logger, st Store, fetcher Fetcher, m *metrics.Metrics, defaultTags []string) *Importer {
	if len(defaultTags) == 0 {
		defaultTags = DefaultTags
	}
	return &Importer{
		log:         log,
		store:       st,
		fetcher:     fetcher,
		metrics:     m,
		defaultTags: defaultTags,
	}
}

// Import parses text line by line and persists every valid proxy. Bad
// lines are reported and skipped; they never abort the import.
func (im *Importer) Import(ctx context.Context, ownerID int64, text string, tags []string) domain.ImportReport {
	return im.importLines(ctx, ownerID, strings.Split(text, "\n"), tags)
}

// ImportURL downloads a plain-text list and imports it like Import.
func (im *Importer) ImportURL(ctx context.Context, ownerID int64, source string, tags []string) (domain.ImportReport, error) {
	lines, err := im.fetcher.FetchLines(ctx, source)
	if err != nil {
		return domain.ImportReport{}, err
	}
	return im.importLines(ctx, ownerID, lines, tags), nil
}

func (im *Importer) importLines(ctx context.Context, ownerID int64, lines []string, tags []string) domain.ImportReport {
	if tags == nil {
		tags = im.defaultTags
	}
	report := domain.ImportReport{
		ErrorDetails: []string{},
		Proxies:      []domain.Proxy{},
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		p, err := im.importLine(ctx, ownerID, line, tags)
		if err != nil {
			im.log.Debug("line rejected", zap.String("line", line), zap.Error(err))
			report.Errors++
			report.ErrorDetails = append(report.ErrorDetails, lineError(line, err))
			im.metrics.ImportLine("error")
			continue
		}
		report.Imported++
		report.Proxies = append(report.Proxies, p)
		im.metrics.ImportLine("imported")
	}

	im.log.Info("import finished",
		zap.Int64("owner_id", ownerID),
		zap.Int("imported", report.Imported),
		zap.Int("errors", report.Errors),
	)
	return report
}

func (im *Importer) importLine(ctx context.Context, ownerID int64, line string, tags []string) (domain.Proxy, error) {
	c, err := proxyline.Parse(line)
	if err != nil {
		return domain.Proxy{}, err
	}
	return im.AddProxy(ctx, ownerID, domain.ProxyInput{Candidate: c, Tags: tags})
}

// AddProxy validates and persists a single proxy with status pending.
func (im *Importer) AddProxy(ctx context.Context, ownerID int64, in domain.ProxyInput) (domain.Proxy, error) {
	in.Candidate = proxyline.Normalize(in.Candidate)
	if err := proxyline.Validate(in.Candidate); err != nil {
		return domain.Proxy{}, err
	}
	in.Tags = cleanTags(in.Tags)
	return im.store.CreateProxy(ctx, ownerID, in)
}

// UpdateProxy replaces the editable fields of an owned proxy. Health
// fields are left alone. A nil Tags slice keeps the current tags.
func (im *Importer) UpdateProxy(ctx context.Context, ownerID, id int64, in domain.ProxyInput) (domain.Proxy, error) {
	in.Candidate = proxyline.Normalize(in.Candidate)
	if err := proxyline.Validate(in.Candidate); err != nil {
		return domain.Proxy{}, err
	}
	if in.Tags != nil {
		in.Tags = cleanTags(in.Tags)
	}
	return im.store.UpdateProxy(ctx, ownerID, id, in)
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return utils.Dedupe(out)
}

// lineError renders "<line>: <reason>". Parse errors already carry the line.
func lineError(line string, err error) string {
	var perr *proxyline.ParseError
	if errors.As(err, &perr) {
		return perr.Error()
	}
	var verr *proxyline.ValidationError
	if errors.As(err, &verr) {
		return fmt.Sprintf("%s: %s", line, verr.Reason)
	}
	return fmt.Sprintf("%s: failed to save proxy", line)
}
