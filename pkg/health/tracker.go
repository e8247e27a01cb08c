package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yuridevx/proxyhub/domain"
	"github.com/yuridevx/proxyhub/pkg/metrics"
	"github.com/yuridevx/proxyhub/pkg/proxyline"
	"github.com/yuridevx/proxyhub/pkg/store"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultParallel = 5
	DefaultDeadline = 5 * time.Minute
	staleBatchSize  = 100
)

const errDeadline = "batch deadline exceeded"

type Prober interface {
	Probe(ctx context.Context, c domain.Candidate) domain.ProbeResult
}

type Store interface {
	GetProxies(ctx context.Context, ownerID int64, ids []int64) ([]domain.Proxy, error)
	ApplyHealth(ctx context.Context, id int64, r domain.ProbeResult, at time.Time) (domain.Proxy, error)
	StaleProxies(ctx context.Context, before time.Time, limit int) ([]domain.Proxy, error)
}

// OnOutcome receives each outcome as soon as its probe finishes. Calls are
// serialized. FailCount is the value the record will have once saved.
type OnOutcome func(domain.Outcome)

type Tracker struct {
	log         *zap.Logger
	store       Store
	prober      Prober
	metrics     *metrics.Metrics
	parallel    int64
	deadline    time.Duration
	retestAfter time.Duration
	now         func() time.Time
}

type Option func(*Tracker)

func WithParallel(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.parallel = int64(n)
		}
	}
}

func WithDeadline(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.deadline = d
		}
	}
}

// WithRetestAfter sets how old last_tested must be before Reconcile picks a
// proxy up again.
func WithRetestAfter(d time.Duration) Option {
	return func(t *Tracker) {
		t.retestAfter = d
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

func NewTracker(log *zap.Logger, st Store, prober Prober, options ...Option) *Tracker {
	t := &Tracker{
		log:         log,
		store:       st,
		prober:      prober,
		parallel:    DefaultParallel,
		deadline:    DefaultDeadline,
		retestAfter: time.Hour,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// TestOne probes a candidate that is not persisted.
func (t *Tracker) TestOne(ctx context.Context, c domain.Candidate) (domain.ProbeResult, error) {
	c = proxyline.Normalize(c)
	if err := proxyline.Validate(c); err != nil {
		return domain.ProbeResult{}, err
	}
	return t.prober.Probe(ctx, c), nil
}

// TestProxies re-probes the owner's proxies with the given ids. Ids that do
// not exist or belong to someone else are skipped; if none remain the call
// fails with store.ErrNotFound.
func (t *Tracker) TestProxies(ctx context.Context, ownerID int64, ids []int64, onOutcome OnOutcome) (domain.BatchReport, error) {
	proxies, err := t.store.GetProxies(ctx, ownerID, ids)
	if err != nil {
		return domain.BatchReport{}, err
	}
	if len(proxies) == 0 {
		return domain.BatchReport{}, fmt.Errorf("no proxies found: %w", store.ErrNotFound)
	}
	return t.RunBatch(ctx, proxies, onOutcome)
}

// RunBatch probes every proxy with at most `parallel` probes in flight,
// waits for all of them and then saves the health of each record. Probes
// that have not finished when the batch deadline passes count as dead.
func (t *Tracker) RunBatch(ctx context.Context, proxies []domain.Proxy, onOutcome OnOutcome) (domain.BatchReport, error) {
	start := time.Now()
	batchCtx, cancel := context.WithTimeout(ctx, t.deadline)
	defer cancel()

	var (
		wg      sync.WaitGroup
		emitMu  sync.Mutex
		sem     = semaphore.NewWeighted(t.parallel)
		results = make([]domain.ProbeResult, len(proxies))
	)

	emit := func(p domain.Proxy, r domain.ProbeResult) {
		if onOutcome == nil {
			return
		}
		p.ApplyProbe(r, t.now())
		emitMu.Lock()
		defer emitMu.Unlock()
		onOutcome(outcome(p, r))
	}

	for i, p := range proxies {
		if err := sem.Acquire(batchCtx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(i int, p domain.Proxy) {
			defer wg.Done()
			defer sem.Release(1)

			t.metrics.ProbeStarted()
			res := t.prober.Probe(batchCtx, p.Candidate())
			t.metrics.ProbeFinished()

			if !res.Live() && batchCtx.Err() != nil && ctx.Err() == nil {
				res = domain.ProbeResult{Status: domain.StatusDead, Error: errDeadline}
			}
			results[i] = res
			emit(p, res)
		}(i, p)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return domain.BatchReport{}, err
	}

	for i, p := range proxies {
		if results[i].Status == "" {
			results[i] = domain.ProbeResult{Status: domain.StatusDead, Error: errDeadline}
			emit(p, results[i])
		}
	}

	report := t.persist(context.WithoutCancel(ctx), proxies, results)
	t.metrics.ObserveBatch(time.Since(start))
	t.log.Info("batch finished",
		zap.Int("total", report.Summary.Total),
		zap.Int("live", report.Summary.Live),
		zap.Int("dead", report.Summary.Dead),
		zap.Duration("took", time.Since(start)),
	)
	return report, nil
}

func (t *Tracker) persist(ctx context.Context, proxies []domain.Proxy, results []domain.ProbeResult) domain.BatchReport {
	at := t.now()
	report := domain.BatchReport{
		Results: make([]domain.Outcome, 0, len(proxies)),
		Summary: domain.Summary{Total: len(proxies)},
	}

	for i, p := range proxies {
		res := results[i]
		if res.Live() {
			report.Summary.Live++
		} else {
			report.Summary.Dead++
		}

		saved, err := t.store.ApplyHealth(ctx, p.ID, res, at)
		if err != nil {
			t.log.Error("failed to save proxy health",
				zap.Int64("proxy_id", p.ID),
				zap.String("proxy", p.Candidate().String()),
				zap.Error(err),
			)
			if errors.Is(err, store.ErrNotFound) {
				res.Error = "proxy was deleted during the test"
			} else {
				res.Error = "failed to save test result"
			}
			p.ApplyProbe(results[i], at)
			report.Results = append(report.Results, outcome(p, res))
			continue
		}
		report.Results = append(report.Results, outcome(saved, res))
	}
	return report
}

// Reconcile retests proxies whose last test is older than the retest age.
// It returns how many proxies were tested, 0 when nothing was stale.
func (t *Tracker) Reconcile(ctx context.Context) (int, error) {
	stale, err := t.store.StaleProxies(ctx, t.now().Add(-t.retestAfter), staleBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale proxies: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if _, err := t.RunBatch(ctx, stale, nil); err != nil {
		return 0, err
	}
	return len(stale), nil
}

func outcome(p domain.Proxy, r domain.ProbeResult) domain.Outcome {
	return domain.Outcome{
		ID:          p.ID,
		ProbeResult: r,
		Host:        p.Host,
		Port:        p.Port,
		FailCount:   p.FailCount,
	}
}
