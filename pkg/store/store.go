package store

import (
	"context"
	"errors"
	"time"

	"github.com/yuridevx/proxyhub/domain"
)

var ErrNotFound = errors.New("not found")

// Store persists proxies and tags. Every proxy operation is scoped to an
// owner except the health and staleness calls, which are driven by ids the
// caller already resolved.
type Store interface {
	CreateProxy(ctx context.Context, ownerID int64, in domain.ProxyInput) (domain.Proxy, error)
	// UpdateProxy replaces the editable fields. A nil in.Tags keeps the
	// current associations.
	UpdateProxy(ctx context.Context, ownerID, id int64, in domain.ProxyInput) (domain.Proxy, error)
	DeleteProxies(ctx context.Context, ownerID int64, ids []int64) (int, error)
	GetProxies(ctx context.Context, ownerID int64, ids []int64) ([]domain.Proxy, error)
	// ListProxies returns one page ordered by id and the filtered total.
	// q.Limit <= 0 returns every match.
	ListProxies(ctx context.Context, ownerID int64, q domain.ListQuery) ([]domain.Proxy, int, error)
	OwnerTagNames(ctx context.Context, ownerID int64) ([]string, error)

	ListTags(ctx context.Context) ([]domain.Tag, error)
	EnsureTag(ctx context.Context, name string) (domain.Tag, error)

	ApplyHealth(ctx context.Context, id int64, r domain.ProbeResult, at time.Time) (domain.Proxy, error)
	// StaleProxies returns proxies of any owner never tested or last tested
	// before the cutoff, oldest first.
	StaleProxies(ctx context.Context, before time.Time, limit int) ([]domain.Proxy, error)

	Close() error
}
