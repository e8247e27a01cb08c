package reconciler

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// ReconcileFn does one unit of work and reports how many items it handled.
// Returning 0 means there was nothing to do and the runner waits before the
// next round; any other count makes it go again right away.
type ReconcileFn func(ctx context.Context) (int, error)

type Runner struct {
	Name        string
	Log         *zap.Logger
	FailBackOff backoff.BackOff
	WaitBackOff backoff.BackOff
	ReconcileFn ReconcileFn
}

type RunnerOption func(*Runner)

func WithFailBackOff(b backoff.BackOff) RunnerOption {
	return func(r *Runner) {
		r.FailBackOff = b
	}
}

func WithWaitBackOff(b backoff.BackOff) RunnerOption {
	return func(r *Runner) {
		r.WaitBackOff = b
	}
}

func WithLogger(log *zap.Logger, name string) RunnerOption {
	return func(r *Runner) {
		r.Log = log
		r.Name = name
	}
}

// Loop runs until ctx is done.
func (r *Runner) Loop(ctx context.Context) {
	for {
		n, err := r.ReconcileFn(ctx)
		if ctx.Err() != nil {
			return
		}

		var wait time.Duration
		switch {
		case err != nil:
			wait = r.FailBackOff.NextBackOff()
			r.Log.Warn("reconcile failed", zap.String("runner", r.Name), zap.Error(err), zap.Duration("retry_in", wait))
		case n == 0:
			r.FailBackOff.Reset()
			wait = r.WaitBackOff.NextBackOff()
			r.WaitBackOff.Reset()
		default:
			r.FailBackOff.Reset()
			r.Log.Debug("reconciled", zap.String("runner", r.Name), zap.Int("items", n))
			continue
		}

		if !sleep(ctx, wait) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func NewRunner(
	reconcile ReconcileFn,
	options ...RunnerOption,
) *Runner {
	p := &Runner{
		Log:         zap.NewNop(),
		ReconcileFn: reconcile,
		FailBackOff: &backoff.ExponentialBackOff{
			InitialInterval:     backoff.DefaultInitialInterval,
			RandomizationFactor: backoff.DefaultRandomizationFactor,
			Multiplier:          backoff.DefaultMultiplier,
			MaxInterval:         backoff.DefaultMaxInterval,
		},
		WaitBackOff: &backoff.ConstantBackOff{
			Interval: time.Hour,
		},
	}

	for _, option := range options {
		option(p)
	}

	return p
}

func RunReconciler(
	ctx context.Context,
	reconcile ReconcileFn,
	options ...RunnerOption,
) {
	p := NewRunner(reconcile, options...)
	go p.Loop(ctx)
}
