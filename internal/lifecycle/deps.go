// Package lifecycle implements the pure-ish outgoing-payment state machine
//: handleQuoting, handleFunding, handleSending, handleCancelling.
// Each function takes a row-locked *payment.Payment plus an explicit Deps
// record — never a resolved-from-container service — and returns the next
// state as a Result the caller commits in the same transaction that holds
// the row lock. Handlers never touch the store directly.
package lifecycle

import (
	"math/rand"
	"time"

	"github.com/rafikipay/outpay/internal/capability"
	"github.com/rafikipay/outpay/internal/payment"
)

// Deps bundles every capability and configuration value a handler needs.
// Built once by cmd/enginesrv and passed down explicitly; there is no
// process-wide singleton or service locator.
type Deps struct {
	Accounting capability.AccountingService
	Rates      capability.RatesService
	Streaming  capability.StreamingCapability
	Plugins    capability.PluginFactory

	Limits        payment.Limits
	Slippage      float64
	QuoteLifespan time.Duration
	BackoffBase   time.Duration
	BackoffMax    time.Duration

	// Now returns the current instant. Overridable in tests; defaults to
	// time.Now in production wiring.
	Now func() time.Time

	// Jitter returns a small random addend for backoff scheduling.
	// Overridable in tests for deterministic assertions.
	Jitter func(base time.Duration) time.Duration
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) jitter(base time.Duration) time.Duration {
	if d.Jitter != nil {
		return d.Jitter(base)
	}
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(base)))
}
