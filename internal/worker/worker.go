// Package worker runs the fixed-size pool of background tasks that poll
// the payment store for eligible rows, dispatch to the lifecycle module
// under a row lock, and commit the resulting transition. It is
// grounded on stronghold/internal/settlement/worker.go's Start/Stop and
// two-loop (retry + expiration) structure, generalized from a 2-state
// settlement retry into the full outgoing-payment state machine.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/rafikipay/outpay/internal/lifecycle"
	"github.com/rafikipay/outpay/internal/payment"
	"github.com/rafikipay/outpay/internal/store"
)

// Config controls pool sizing and polling cadence.
type Config struct {
	WorkerCount        int
	BatchSize          int
	IdleInterval       time.Duration
	ExpirationInterval time.Duration
}

// DefaultConfig returns sensible defaults for a single-process deployment.
func DefaultConfig() Config {
	return Config{
		WorkerCount:        4,
		BatchSize:          10,
		IdleInterval:       2 * time.Second,
		ExpirationInterval: time.Minute,
	}
}

// Pool is the running set of worker goroutines plus the sweeper.
type Pool struct {
	store  *store.Store
	deps   lifecycle.Deps
	cfg    Config
	logger *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Pool. deps is shared read-only across every worker
// goroutine, matching the "explicit dependencies record" design note.
func New(st *store.Store, deps lifecycle.Deps, cfg Config, logger *slog.Logger) *Pool {
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{store: st, deps: deps, cfg: cfg, logger: logger, stopCh: make(chan struct{})}
}

// Start launches the worker pool and the expiration sweeper.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(p.cfg.WorkerCount + 1)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := i
		go func() {
			defer p.wg.Done()
			p.runDispatchLoop(ctx, workerID)
		}()
	}

	go func() {
		defer p.wg.Done()
		p.runExpirationLoop(ctx)
	}()

	p.logger.Info("worker pool started", "workers", p.cfg.WorkerCount)
}

// Stop signals every goroutine to exit and blocks until they do.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) runDispatchLoop(ctx context.Context, workerID int) {
	select {
	case <-time.After(jitterDuration(p.cfg.IdleInterval)):
	case <-ctx.Done():
		return
	case <-p.stopCh:
		return
	}

	ticker := time.NewTicker(p.cfg.IdleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			for p.dispatchOne(ctx, workerID) {
				select {
				case <-ctx.Done():
					return
				case <-p.stopCh:
					return
				default:
				}
			}
		}
	}
}

// dispatchOne processes a single eligible row and reports whether the
// caller should keep draining the backlog between ticks instead of
// waiting a full idleInterval per row: false when no row was found or the
// row's handler failed, true otherwise.
func (p *Pool) dispatchOne(ctx context.Context, workerID int) bool {
	rows, tx, err := p.store.NextEligible(ctx, 1)
	if err != nil {
		p.logger.Error("failed to fetch eligible payment", "worker", workerID, "error", err)
		return false
	}
	if len(rows) == 0 {
		_ = tx.Rollback(ctx)
		return false
	}

	row := rows[0]
	result, handlerErr := dispatch(ctx, p.deps, row)
	if handlerErr != nil {
		// Unclassified error: roll back with no checkpoint. stateAttempts
		// is NOT incremented because no commit happens, and ProcessAt is
		// unchanged, so the row stays eligible; returning false makes this
		// worker wait for its next tick before polling again.
		p.logger.Error("lifecycle handler failed, rolling back", "worker", workerID, "payment", row.ID, "state", row.State, "attempt", row.StateAttempts, "error", handlerErr)
		_ = tx.Rollback(ctx)
		return false
	}

	patch := store.Patch{
		State:              result.NextState,
		StateAttempts:      result.StateAttempts,
		DestinationAccount: result.DestinationAccount,
		Quote:              result.Quote,
		Error:              result.Error,
		ProcessAt:          result.ProcessAt,
	}
	if err := p.store.Patch(ctx, tx, row.ID, row.State, patch); err != nil {
		p.logger.Error("failed to patch payment", "worker", workerID, "payment", row.ID, "error", err)
		_ = tx.Rollback(ctx)
		return true
	}
	if err := tx.Commit(ctx); err != nil {
		p.logger.Error("failed to commit payment transition", "worker", workerID, "payment", row.ID, "error", err)
		return true
	}

	p.logger.Info("payment transitioned", "payment", row.ID, "from", row.State, "to", result.NextState)
	return true
}

// dispatch routes a locked payment to its matching lifecycle handler. A
// panic inside the handler is recovered and returned as an error, so the
// caller rolls back exactly as for any other unclassified failure.
func dispatch(ctx context.Context, deps lifecycle.Deps, p *payment.Payment) (result lifecycle.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = lifecycle.Result{}, fmt.Errorf("worker: lifecycle handler panicked: %v", r)
		}
	}()

	switch p.State {
	case payment.StateQuoting:
		return lifecycle.HandleQuoting(ctx, deps, p)
	case payment.StateSending:
		return lifecycle.HandleSending(ctx, deps, p)
	case payment.StateCancelling:
		return lifecycle.HandleCancelling(ctx, deps, p)
	case payment.StateReady, payment.StateActivated:
		if result, ok := lifecycle.HandleExpiration(deps, p); ok {
			return result, nil
		}
		return lifecycle.Result{}, errNotEligible(p.State)
	default:
		return lifecycle.Result{}, errNotEligible(p.State)
	}
}

func errNotEligible(s payment.State) error {
	return notEligibleError{state: s}
}

type notEligibleError struct {
	state payment.State
}

func (e notEligibleError) Error() string {
	return "worker: payment in state " + string(e.state) + " is not eligible for dispatch"
}

func (p *Pool) runExpirationLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ExpirationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweepExpiredQuotes(ctx)
		}
	}
}

// sweepExpiredQuotes drains Ready/Activated rows whose quote has passed
// its activation deadline — implemented as its own loop so quote
// expiration isn't starved by a busy dispatch loop.
func (p *Pool) sweepExpiredQuotes(ctx context.Context) {
	for {
		rows, tx, err := p.store.NextEligible(ctx, p.cfg.BatchSize)
		if err != nil {
			p.logger.Error("sweeper: failed to fetch eligible payments", "error", err)
			return
		}
		if len(rows) == 0 {
			_ = tx.Rollback(ctx)
			return
		}

		swept := 0
		for _, row := range rows {
			result, ok := lifecycle.HandleExpiration(p.deps, row)
			if !ok {
				continue
			}
			patch := store.Patch{
				State:         result.NextState,
				StateAttempts: result.StateAttempts,
				Error:         result.Error,
				ProcessAt:     result.ProcessAt,
			}
			if err := p.store.Patch(ctx, tx, row.ID, row.State, patch); err != nil {
				p.logger.Error("sweeper: failed to patch payment", "payment", row.ID, "error", err)
				continue
			}
			swept++
		}

		if err := tx.Commit(ctx); err != nil {
			p.logger.Error("sweeper: failed to commit", "error", err)
			return
		}
		if swept > 0 {
			p.logger.Info("sweeper expired quotes", "count", swept)
		}
		if len(rows) < p.cfg.BatchSize {
			return
		}
	}
}

// jitterDuration returns a random duration in [0, base), the same
// small-random scheduling spread the lifecycle backoff uses. Each
// dispatch-loop goroutine waits one before its first tick so a pool
// started with several workers doesn't poll the store in lockstep.
func jitterDuration(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(base)))
}
