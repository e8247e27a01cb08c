package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yuridevx/proxyhub/domain"
	"github.com/yuridevx/proxyhub/pkg/models"
	"github.com/yuridevx/proxyhub/pkg/store"
	"github.com/yuridevx/proxyhub/pkg/utils"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

const (
	maxTxAttempts  = 5
	tagLookupBatch = 1000
)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// New connects, verifies the connection and applies the schema.
func New(ctx context.Context, log *zap.Logger, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	s := &Store{pool: pool, log: log, now: func() time.Time { return time.Now().UTC() }}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// inTx runs fn in a transaction, retrying the whole transaction on unique
// violations, serialization failures and deadlocks.
func (s *Store) inTx(ctx context.Context, fn func(q *models.Queries) error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			return fn(models.New(tx))
		})
		if err == nil {
			return struct{}{}, nil
		}
		if retryable(err) {
			s.log.Debug("retrying transaction", zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxTxAttempts))
	return err
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "23505", "40001", "40P01":
		return true
	}
	return false
}

func (s *Store) CreateProxy(ctx context.Context, ownerID int64, in domain.ProxyInput) (domain.Proxy, error) {
	var out domain.Proxy
	err := s.inTx(ctx, func(q *models.Queries) error {
		row, err := q.InsertProxy(ctx, models.InsertProxyParams{
			OwnerID:   ownerID,
			Name:      in.Name,
			Host:      in.Host,
			Port:      int32(in.Port),
			Username:  in.Username,
			Password:  in.Password,
			Type:      string(in.Scheme),
			CreatedAt: timestamptz(s.now()),
		})
		if err != nil {
			return err
		}
		tags, err := s.linkTags(ctx, q, row.ID, in.Tags)
		if err != nil {
			return err
		}
		out = toDomain(row, tags)
		return nil
	})
	if err != nil {
		return domain.Proxy{}, fmt.Errorf("create proxy: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateProxy(ctx context.Context, ownerID, id int64, in domain.ProxyInput) (domain.Proxy, error) {
	var out domain.Proxy
	err := s.inTx(ctx, func(q *models.Queries) error {
		row, err := q.UpdateProxy(ctx, models.UpdateProxyParams{
			ID:        id,
			OwnerID:   ownerID,
			Name:      in.Name,
			Host:      in.Host,
			Port:      int32(in.Port),
			Username:  in.Username,
			Password:  in.Password,
			Type:      string(in.Scheme),
			UpdatedAt: timestamptz(s.now()),
		})
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}

		var tags []domain.Tag
		if in.Tags != nil {
			if err := q.ClearProxyTags(ctx, id); err != nil {
				return err
			}
			if tags, err = s.linkTags(ctx, q, id, in.Tags); err != nil {
				return err
			}
		} else if tags, err = proxyTags(ctx, q, id); err != nil {
			return err
		}
		out = toDomain(row, tags)
		return nil
	})
	if err != nil {
		return domain.Proxy{}, fmt.Errorf("update proxy %d: %w", id, err)
	}
	return out, nil
}

func (s *Store) DeleteProxies(ctx context.Context, ownerID int64, ids []int64) (int, error) {
	n, err := models.New(s.pool).DeleteProxies(ctx, models.DeleteProxiesParams{OwnerID: ownerID, Ids: ids})
	if err != nil {
		return 0, fmt.Errorf("delete proxies: %w", err)
	}
	return int(n), nil
}

func (s *Store) GetProxies(ctx context.Context, ownerID int64, ids []int64) ([]domain.Proxy, error) {
	q := models.New(s.pool)
	rows, err := q.GetProxies(ctx, models.GetProxiesParams{OwnerID: ownerID, Ids: utils.Dedupe(ids)})
	if err != nil {
		return nil, fmt.Errorf("get proxies: %w", err)
	}
	return s.hydrate(ctx, q, rows)
}

func (s *Store) ListProxies(ctx context.Context, ownerID int64, lq domain.ListQuery) ([]domain.Proxy, int, error) {
	q := models.New(s.pool)
	status, tag, search := optText(string(lq.Status)), optText(lq.Tag), optText(lq.Search)

	total, err := q.CountProxies(ctx, models.CountProxiesParams{
		OwnerID: ownerID,
		Status:  status,
		Tag:     tag,
		Search:  search,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("count proxies: %w", err)
	}

	params := models.ListProxiesParams{
		OwnerID: ownerID,
		Status:  status,
		Tag:     tag,
		Search:  search,
	}
	if lq.Limit > 0 {
		params.Limit = pgtype.Int4{Int32: int32(lq.Limit), Valid: true}
		if lq.Page > 1 {
			params.Offset = int32((lq.Page - 1) * lq.Limit)
		}
	}
	rows, err := q.ListProxies(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("list proxies: %w", err)
	}
	proxies, err := s.hydrate(ctx, q, rows)
	if err != nil {
		return nil, 0, err
	}
	return proxies, int(total), nil
}

func (s *Store) OwnerTagNames(ctx context.Context, ownerID int64) ([]string, error) {
	names, err := models.New(s.pool).OwnerTagNames(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("owner tags: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (s *Store) ListTags(ctx context.Context) ([]domain.Tag, error) {
	rows, err := models.New(s.pool).ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	tags := make([]domain.Tag, 0, len(rows))
	for _, r := range rows {
		tags = append(tags, tagToDomain(r))
	}
	return tags, nil
}

func (s *Store) EnsureTag(ctx context.Context, name string) (domain.Tag, error) {
	var out domain.Tag
	err := s.inTx(ctx, func(q *models.Queries) error {
		t, err := s.ensureTag(ctx, q, name)
		out = tagToDomain(t)
		return err
	})
	if err != nil {
		return domain.Tag{}, fmt.Errorf("ensure tag %q: %w", name, err)
	}
	return out, nil
}

func (s *Store) ApplyHealth(ctx context.Context, id int64, r domain.ProbeResult, at time.Time) (domain.Proxy, error) {
	q := models.New(s.pool)
	var (
		row models.Proxy
		err error
	)
	if r.Live() {
		row, err = q.MarkProxyLive(ctx, models.MarkProxyLiveParams{
			ID:           id,
			ResponseTime: pgtype.Int4{Int32: int32(r.ResponseTime), Valid: true},
			PublicIp:     pgtype.Text{String: r.PublicIP, Valid: true},
			Location:     optText(r.Location),
			TestedAt:     timestamptz(at),
		})
	} else {
		row, err = q.MarkProxyDead(ctx, models.MarkProxyDeadParams{ID: id, TestedAt: timestamptz(at)})
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Proxy{}, fmt.Errorf("apply health %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return domain.Proxy{}, fmt.Errorf("apply health %d: %w", id, err)
	}
	tags, err := proxyTags(ctx, q, id)
	if err != nil {
		return domain.Proxy{}, fmt.Errorf("apply health %d: %w", id, err)
	}
	return toDomain(row, tags), nil
}

func (s *Store) StaleProxies(ctx context.Context, before time.Time, limit int) ([]domain.Proxy, error) {
	rows, err := models.New(s.pool).ListStaleProxies(ctx, models.ListStaleProxiesParams{
		Before: timestamptz(before),
		Limit:  int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("stale proxies: %w", err)
	}
	out := make([]domain.Proxy, 0, len(rows))
	for _, r := range rows {
		out = append(out, toDomain(r, nil))
	}
	return out, nil
}

// ensureTag is the get-or-create used inside transactions. A concurrent
// insert of the same name makes ON CONFLICT return no row, so it re-reads.
func (s *Store) ensureTag(ctx context.Context, q *models.Queries, name string) (models.Tag, error) {
	t, err := q.InsertTagIfMissing(ctx, models.InsertTagIfMissingParams{
		Name:      name,
		CreatedAt: timestamptz(s.now()),
	})
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Tag{}, err
	}
	return q.GetTagByName(ctx, name)
}

func (s *Store) linkTags(ctx context.Context, q *models.Queries, proxyID int64, names []string) ([]domain.Tag, error) {
	tags := make([]domain.Tag, 0, len(names))
	seen := map[string]struct{}{}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		t, err := s.ensureTag(ctx, q, name)
		if err != nil {
			return nil, err
		}
		if err := q.AddProxyTag(ctx, models.AddProxyTagParams{ProxyID: proxyID, TagID: t.ID}); err != nil {
			return nil, err
		}
		tags = append(tags, tagToDomain(t))
	}
	return tags, nil
}

func (s *Store) hydrate(ctx context.Context, q *models.Queries, rows []models.Proxy) ([]domain.Proxy, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	byProxy := make(map[int64][]domain.Tag, len(rows))
	for _, chunk := range utils.Batch(ids, tagLookupBatch) {
		tagRows, err := q.ListProxyTags(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("proxy tags: %w", err)
		}
		for _, t := range tagRows {
			byProxy[t.ProxyID] = append(byProxy[t.ProxyID], domain.Tag{ID: t.ID, Name: t.Name, CreatedAt: t.CreatedAt.Time})
		}
	}

	out := make([]domain.Proxy, 0, len(rows))
	for _, r := range rows {
		out = append(out, toDomain(r, byProxy[r.ID]))
	}
	return out, nil
}

func proxyTags(ctx context.Context, q *models.Queries, id int64) ([]domain.Tag, error) {
	rows, err := q.ListProxyTags(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	tags := make([]domain.Tag, 0, len(rows))
	for _, t := range rows {
		tags = append(tags, domain.Tag{ID: t.ID, Name: t.Name, CreatedAt: t.CreatedAt.Time})
	}
	return tags, nil
}

func toDomain(r models.Proxy, tags []domain.Tag) domain.Proxy {
	if tags == nil {
		tags = []domain.Tag{}
	}
	p := domain.Proxy{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Name:      r.Name,
		Host:      r.Host,
		Port:      int(r.Port),
		Username:  r.Username,
		Password:  r.Password,
		Scheme:    domain.Scheme(r.Type),
		Status:    domain.Status(r.Status),
		FailCount: int(r.FailCount),
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
		Tags:      tags,
	}
	if r.ResponseTime.Valid {
		v := int64(r.ResponseTime.Int32)
		p.ResponseTime = &v
	}
	if r.PublicIp.Valid {
		v := r.PublicIp.String
		p.PublicIP = &v
	}
	if r.Location.Valid {
		v := r.Location.String
		p.Location = &v
	}
	if r.LastTested.Valid {
		v := r.LastTested.Time
		p.LastTested = &v
	}
	if r.LastUsedAt.Valid {
		v := r.LastUsedAt.Time
		p.LastUsedAt = &v
	}
	return p
}

func tagToDomain(t models.Tag) domain.Tag {
	return domain.Tag{ID: t.ID, Name: t.Name, CreatedAt: t.CreatedAt.Time}
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
