package health

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yuridevx/proxyhub/domain"
	"github.com/yuridevx/proxyhub/pkg/proxyline"
	"github.com/yuridevx/proxyhub/pkg/store"
	"github.com/yuridevx/proxyhub/pkg/store/boltstore"
	"go.uber.org/zap"
)

// fakeProber answers by host. Hosts starting with "live" succeed, "slow"
// blocks until the context ends, everything else fails.
type fakeProber struct {
	delay    time.Duration
	inflight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func (f *fakeProber) Probe(ctx context.Context, c domain.Candidate) domain.ProbeResult {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	switch {
	case len(c.Host) >= 4 && c.Host[:4] == "slow":
		<-ctx.Done()
		return domain.ProbeResult{Status: domain.StatusDead, Error: ctx.Err().Error()}
	case len(c.Host) >= 4 && c.Host[:4] == "live":
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		return domain.ProbeResult{Status: domain.StatusLive, ResponseTime: 42, PublicIP: "203.0.113.1", TestURL: "http://echo"}
	default:
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		return domain.ProbeResult{Status: domain.StatusDead, Error: "connection refused"}
	}
}

func setup(t *testing.T, hosts ...string) (*boltstore.Store, []int64) {
	t.Helper()
	st, err := boltstore.Open(filepath.Join(t.TempDir(), "health.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	var ids []int64
	for _, h := range hosts {
		p, err := st.CreateProxy(context.Background(), 1, domain.ProxyInput{
			Candidate: domain.Candidate{Scheme: domain.SchemeHTTP, Host: h, Port: 8080, Name: h},
		})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	return st, ids
}

func TestBatchMixedOutcomes(t *testing.T) {
	st, ids := setup(t, "live-1", "live-2", "dead-1", "live-3", "dead-2")
	tr := NewTracker(zap.NewNop(), st, &fakeProber{})

	report, err := tr.TestProxies(context.Background(), 1, ids, nil)
	require.NoError(t, err)
	require.Equal(t, domain.Summary{Total: 5, Live: 3, Dead: 2}, report.Summary)
	require.Len(t, report.Results, 5)

	proxies, err := st.GetProxies(context.Background(), 1, ids)
	require.NoError(t, err)
	for _, p := range proxies {
		require.NotNil(t, p.LastTested, p.Host)
		if p.Host[:4] == "live" {
			require.Equal(t, domain.StatusLive, p.Status)
			require.Zero(t, p.FailCount)
			require.Equal(t, int64(42), *p.ResponseTime)
			require.Equal(t, "203.0.113.1", *p.PublicIP)
		} else {
			require.Equal(t, domain.StatusDead, p.Status)
			require.Equal(t, 1, p.FailCount)
			require.Nil(t, p.ResponseTime)
		}
	}

	for _, o := range report.Results {
		if o.Live() {
			require.Empty(t, o.Error)
		} else {
			require.Equal(t, "connection refused", o.Error)
			require.Equal(t, 1, o.FailCount)
		}
	}
}

func TestRepeatedBatchIsIdempotentForLive(t *testing.T) {
	st, ids := setup(t, "live-a", "dead-a")
	tr := NewTracker(zap.NewNop(), st, &fakeProber{})
	ctx := context.Background()

	for range 3 {
		_, err := tr.TestProxies(ctx, 1, ids, nil)
		require.NoError(t, err)
	}

	proxies, err := st.GetProxies(ctx, 1, ids)
	require.NoError(t, err)
	require.Equal(t, domain.StatusLive, proxies[0].Status)
	require.Zero(t, proxies[0].FailCount)
	require.Equal(t, domain.StatusDead, proxies[1].Status)
	require.Equal(t, 3, proxies[1].FailCount)
}

func TestBatchConcurrencyBound(t *testing.T) {
	hosts := make([]string, 20)
	for i := range hosts {
		hosts[i] = "live-host"
	}
	st, ids := setup(t, hosts...)
	prober := &fakeProber{delay: 20 * time.Millisecond}
	tr := NewTracker(zap.NewNop(), st, prober)

	report, err := tr.TestProxies(context.Background(), 1, ids, nil)
	require.NoError(t, err)
	require.Equal(t, 20, report.Summary.Live)
	require.EqualValues(t, 20, prober.calls.Load())
	require.LessOrEqual(t, prober.maxSeen.Load(), int32(DefaultParallel))
	require.Greater(t, prober.maxSeen.Load(), int32(1))
}

func TestBatchDeadline(t *testing.T) {
	st, ids := setup(t, "slow-1", "live-1", "live-2")
	prober := &fakeProber{}
	tr := NewTracker(zap.NewNop(), st, prober, WithParallel(1), WithDeadline(50*time.Millisecond))

	report, err := tr.TestProxies(context.Background(), 1, ids, nil)
	require.NoError(t, err)
	require.Equal(t, domain.Summary{Total: 3, Live: 0, Dead: 3}, report.Summary)
	for _, o := range report.Results {
		require.Equal(t, errDeadline, o.Error)
	}
	require.EqualValues(t, 1, prober.calls.Load())

	proxies, err := st.GetProxies(context.Background(), 1, ids)
	require.NoError(t, err)
	for _, p := range proxies {
		require.Equal(t, domain.StatusDead, p.Status)
		require.Equal(t, 1, p.FailCount)
	}
}

func TestBatchCanceledByCaller(t *testing.T) {
	st, ids := setup(t, "slow-1")
	tr := NewTracker(zap.NewNop(), st, &fakeProber{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := tr.TestProxies(ctx, 1, ids, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	proxies, err := st.GetProxies(context.Background(), 1, ids)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, proxies[0].Status)
}

func TestTestProxiesNotFound(t *testing.T) {
	st, ids := setup(t, "live-1")
	tr := NewTracker(zap.NewNop(), st, &fakeProber{})

	_, err := tr.TestProxies(context.Background(), 2, ids, nil)
	require.True(t, errors.Is(err, store.ErrNotFound))

	_, err = tr.TestProxies(context.Background(), 1, []int64{999}, nil)
	require.True(t, errors.Is(err, store.ErrNotFound))
}

func TestOnOutcomeStreamsEveryRecord(t *testing.T) {
	st, ids := setup(t, "live-1", "dead-1", "live-2")
	tr := NewTracker(zap.NewNop(), st, &fakeProber{})

	var (
		mu   sync.Mutex
		seen = map[int64]domain.Outcome{}
	)
	_, err := tr.TestProxies(context.Background(), 1, ids, func(o domain.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		seen[o.ID] = o
	})
	require.NoError(t, err)
	require.Len(t, seen, 3)
	require.Equal(t, 1, seen[ids[1]].FailCount)
	require.Equal(t, domain.StatusLive, seen[ids[0]].Status)
}

func TestTestOneValidates(t *testing.T) {
	st, _ := setup(t)
	tr := NewTracker(zap.NewNop(), st, &fakeProber{})

	_, err := tr.TestOne(context.Background(), domain.Candidate{Host: "bad host!", Port: 80})
	var verr *proxyline.ValidationError
	require.ErrorAs(t, err, &verr)

	res, err := tr.TestOne(context.Background(), domain.Candidate{Host: "live.example", Port: 80})
	require.NoError(t, err)
	require.True(t, res.Live())
}

func TestReconcileRetestsStale(t *testing.T) {
	st, ids := setup(t, "live-1", "dead-1")
	prober := &fakeProber{}
	tr := NewTracker(zap.NewNop(), st, prober, WithRetestAfter(time.Hour))
	ctx := context.Background()

	n, err := tr.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = tr.Reconcile(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.EqualValues(t, 2, prober.calls.Load())

	proxies, err := st.GetProxies(ctx, 1, ids)
	require.NoError(t, err)
	require.Equal(t, domain.StatusLive, proxies[0].Status)
}
