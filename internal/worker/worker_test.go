package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rafikipay/outpay/internal/capability"
	"github.com/rafikipay/outpay/internal/lifecycle"
	"github.com/rafikipay/outpay/internal/money"
	"github.com/rafikipay/outpay/internal/payment"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 4, cfg.WorkerCount)
	require.Equal(t, 10, cfg.BatchSize)
	require.Equal(t, 2*time.Second, cfg.IdleInterval)
	require.Equal(t, time.Minute, cfg.ExpirationInterval)
}

func TestNewClampsInvalidSizes(t *testing.T) {
	p := New(nil, lifecycle.Deps{}, Config{WorkerCount: 0, BatchSize: 0}, nil)
	require.Equal(t, 1, p.cfg.WorkerCount)
	require.Equal(t, 1, p.cfg.BatchSize)
}

func TestPoolGracefulShutdownOnContextCancel(t *testing.T) {
	// Intervals longer than the test's lifetime so the dispatch/sweep
	// tickers never fire against the nil store.
	cfg := Config{WorkerCount: 2, BatchSize: 5, IdleInterval: time.Hour, ExpirationInterval: time.Hour}
	p := New(nil, lifecycle.Deps{}, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	done := make(chan struct{})
	go func() {
		cancel()
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not shut down within 2 seconds")
	}
}

func TestDispatchRoutesQuotingToHandleQuoting(t *testing.T) {
	streaming := &capability.FakeStreaming{}
	streaming.QueueSetup(capability.Destination{}, &payment.Error{Code: payment.ErrInvalidPaymentPointer})
	deps := lifecycle.Deps{
		Streaming: streaming,
		Plugins:   capability.NewFakePluginFactory(),
		Now:       func() time.Time { return time.Now() },
	}
	p := &payment.Payment{
		ID:            uuid.New(),
		State:         payment.StateQuoting,
		SourceAccount: payment.Account{ID: uuid.New()},
		Intent:        payment.Intent{FixedSend: &payment.FixedSendIntent{PaymentPointer: "bad", AmountToSend: money.Amount(1)}},
	}

	result, err := dispatch(context.Background(), deps, p)
	require.NoError(t, err)
	require.Equal(t, payment.StateCancelling, result.NextState)
}

func TestDispatchRoutesReadyToExpirationOrRejects(t *testing.T) {
	now := time.Now()
	deps := lifecycle.Deps{Now: func() time.Time { return now }}

	expired := &payment.Payment{
		State: payment.StateReady,
		Quote: &payment.Quote{ActivationDeadline: now.Add(-time.Second)},
	}
	result, err := dispatch(context.Background(), deps, expired)
	require.NoError(t, err)
	require.Equal(t, payment.StateCancelling, result.NextState)

	notExpired := &payment.Payment{
		State: payment.StateReady,
		Quote: &payment.Quote{ActivationDeadline: now.Add(time.Minute)},
	}
	_, err = dispatch(context.Background(), deps, notExpired)
	require.Error(t, err)
}

func TestDispatchRejectsTerminalStates(t *testing.T) {
	deps := lifecycle.Deps{Now: func() time.Time { return time.Now() }}
	for _, s := range []payment.State{payment.StateCompleted, payment.StateCancelled} {
		_, err := dispatch(context.Background(), deps, &payment.Payment{State: s})
		require.Error(t, err)
	}
}

func TestJitterDurationWithinBounds(t *testing.T) {
	for i := 0; i < 20; i++ {
		j := jitterDuration(100 * time.Millisecond)
		require.GreaterOrEqual(t, j, time.Duration(0))
		require.Less(t, j, 100*time.Millisecond)
	}
}

func TestJitterDurationZeroBase(t *testing.T) {
	require.Equal(t, time.Duration(0), jitterDuration(0))
}
