package boltstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yuridevx/proxyhub/domain"
	"github.com/yuridevx/proxyhub/pkg/store"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "test.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func input(host string, port int, tags ...string) domain.ProxyInput {
	return domain.ProxyInput{
		Candidate: domain.Candidate{
			Scheme: domain.SchemeHTTP,
			Host:   host,
			Port:   port,
			Name:   host,
		},
		Tags: tags,
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	p, err := s.CreateProxy(ctx, 1, input("10.0.0.1", 8080, "Default", "eu", "Default"))
	require.NoError(t, err)
	require.Equal(t, int64(1), p.ID)
	require.Equal(t, domain.StatusPending, p.Status)
	require.Equal(t, []string{"Default", "eu"}, p.TagNames())
	require.Nil(t, p.LastTested)
	require.Zero(t, p.FailCount)

	got, err := s.GetProxies(ctx, 1, []int64{p.ID, 999})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "10.0.0.1", got[0].Host)

	other, err := s.GetProxies(ctx, 2, []int64{p.ID})
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestTagsAreSharedAcrossProxies(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	a, err := s.CreateProxy(ctx, 1, input("10.0.0.1", 80, "shared"))
	require.NoError(t, err)
	b, err := s.CreateProxy(ctx, 2, input("10.0.0.2", 80, "shared"))
	require.NoError(t, err)
	require.Equal(t, a.Tags[0].ID, b.Tags[0].ID)

	tags, err := s.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)
}

func TestUpdateProxy(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	p, err := s.CreateProxy(ctx, 1, input("10.0.0.1", 80, "a"))
	require.NoError(t, err)

	in := input("10.0.0.9", 3128)
	in.Tags = nil
	up, err := s.UpdateProxy(ctx, 1, p.ID, in)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.9", up.Host)
	require.Equal(t, 3128, up.Port)
	require.Equal(t, []string{"a"}, up.TagNames())

	up, err = s.UpdateProxy(ctx, 1, p.ID, input("10.0.0.9", 3128, "b"))
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, up.TagNames())

	_, err = s.UpdateProxy(ctx, 2, p.ID, in)
	require.True(t, errors.Is(err, store.ErrNotFound))

	_, err = s.UpdateProxy(ctx, 1, 404, in)
	require.True(t, errors.Is(err, store.ErrNotFound))
}

func TestDeleteKeepsTags(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	a, err := s.CreateProxy(ctx, 1, input("10.0.0.1", 80, "keep"))
	require.NoError(t, err)
	b, err := s.CreateProxy(ctx, 2, input("10.0.0.2", 80))
	require.NoError(t, err)

	n, err := s.DeleteProxies(ctx, 1, []int64{a.ID, b.ID, 12345})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	tags, err := s.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	require.Equal(t, "keep", tags[0].Name)

	left, err := s.GetProxies(ctx, 2, []int64{b.ID})
	require.NoError(t, err)
	require.Len(t, left, 1)
}

func TestListFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	for i, host := range []string{"alpha.example", "beta.example", "gamma.example", "delta.test", "eps.test"} {
		tag := "even"
		if i%2 == 1 {
			tag = "odd"
		}
		_, err := s.CreateProxy(ctx, 1, input(host, 1000+i, tag))
		require.NoError(t, err)
	}
	_, err := s.CreateProxy(ctx, 2, input("alpha.other", 1, "even"))
	require.NoError(t, err)

	all, total, err := s.ListProxies(ctx, 1, domain.ListQuery{})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, all, 5)

	page, total, err := s.ListProxies(ctx, 1, domain.ListQuery{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, page, 2)
	require.Equal(t, "gamma.example", page[0].Host)

	page, total, err = s.ListProxies(ctx, 1, domain.ListQuery{Page: 3, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, page, 1)

	odd, total, err := s.ListProxies(ctx, 1, domain.ListQuery{Tag: "odd"})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, odd, 2)

	found, total, err := s.ListProxies(ctx, 1, domain.ListQuery{Search: "EXAMPLE"})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, found, 3)

	none, total, err := s.ListProxies(ctx, 1, domain.ListQuery{Status: domain.StatusLive})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, none)

	names, err := s.OwnerTagNames(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"even", "odd"}, names)
}

func TestApplyHealthTransitions(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	p, err := s.CreateProxy(ctx, 1, input("10.0.0.1", 80))
	require.NoError(t, err)

	p, err = s.ApplyHealth(ctx, p.ID, domain.ProbeResult{Status: domain.StatusDead}, at)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDead, p.Status)
	require.Equal(t, 1, p.FailCount)
	require.Nil(t, p.ResponseTime)

	p, err = s.ApplyHealth(ctx, p.ID, domain.ProbeResult{Status: domain.StatusDead}, at)
	require.NoError(t, err)
	require.Equal(t, 2, p.FailCount)

	p, err = s.ApplyHealth(ctx, p.ID, domain.ProbeResult{Status: domain.StatusLive, ResponseTime: 120, PublicIP: "1.2.3.4"}, at)
	require.NoError(t, err)
	require.Equal(t, domain.StatusLive, p.Status)
	require.Zero(t, p.FailCount)
	require.Equal(t, int64(120), *p.ResponseTime)
	require.Equal(t, "1.2.3.4", *p.PublicIP)
	require.True(t, at.Equal(*p.LastTested))

	p, err = s.ApplyHealth(ctx, p.ID, domain.ProbeResult{Status: domain.StatusDead}, at.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, p.FailCount)
	require.Equal(t, int64(120), *p.ResponseTime)
	require.Equal(t, "1.2.3.4", *p.PublicIP)

	_, err = s.ApplyHealth(ctx, 999, domain.ProbeResult{Status: domain.StatusDead}, at)
	require.True(t, errors.Is(err, store.ErrNotFound))
}

func TestStaleProxies(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	fresh, err := s.CreateProxy(ctx, 1, input("10.0.0.1", 80))
	require.NoError(t, err)
	old, err := s.CreateProxy(ctx, 1, input("10.0.0.2", 80))
	require.NoError(t, err)
	never, err := s.CreateProxy(ctx, 2, input("10.0.0.3", 80))
	require.NoError(t, err)

	_, err = s.ApplyHealth(ctx, fresh.ID, domain.ProbeResult{Status: domain.StatusLive}, now)
	require.NoError(t, err)
	_, err = s.ApplyHealth(ctx, old.ID, domain.ProbeResult{Status: domain.StatusLive}, now.Add(-2*time.Hour))
	require.NoError(t, err)

	stale, err := s.StaleProxies(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	require.Equal(t, never.ID, stale[0].ID)
	require.Equal(t, old.ID, stale[1].ID)

	stale, err = s.StaleProxies(ctx, now.Add(-time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, stale, 1)
}

func TestConcurrentEnsureTag(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	var wg sync.WaitGroup
	ids := make([]int64, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tag, err := s.EnsureTag(ctx, "race")
			require.NoError(t, err)
			ids[i] = tag.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	tags, err := s.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)
}

func TestCanceledContext(t *testing.T) {
	s := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CreateProxy(ctx, 1, input("10.0.0.1", 80))
	require.ErrorIs(t, err, context.Canceled)
}
