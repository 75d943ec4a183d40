// Package payment defines the outgoing-payment aggregate: its lifecycle
// state, the user-supplied intent, the priced quote, and the error
// taxonomy that drives state transitions.
package payment

import (
	"time"

	"github.com/google/uuid"

	"github.com/rafikipay/outpay/internal/money"
)

// State is one of the outgoing payment's lifecycle states.
type State string

const (
	StateQuoting    State = "QUOTING"
	StateReady      State = "READY"
	StateActivated  State = "ACTIVATED"
	StateSending    State = "SENDING"
	StateCancelling State = "CANCELLING"
	StateCompleted  State = "COMPLETED"
	StateCancelled  State = "CANCELLED"
)

// Terminal reports whether the state accepts no further worker-driven
// transitions (requote is the one administrative exception, handled at
// the command layer, not here).
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// MaxAttempts returns the retry bound for a retryable state.
// States with no bounded-retry concept return 0.
func MaxAttempts(s State, cfg Limits) int {
	switch s {
	case StateQuoting:
		return cfg.MaxQuoteAttempts
	case StateSending:
		return cfg.MaxSendAttempts
	default:
		return 0
	}
}

// Limits carries the configurable retry bounds a lifecycle handler needs
// to decide whether to retry or give up. Kept separate from the full
// engine config so lifecycle stays a narrow, easily-tested dependency.
type Limits struct {
	MaxQuoteAttempts int
	MaxSendAttempts  int
}

// Account captures an asset-scoped account reference as observed at a
// point in time (admission for the source, quoting for the destination).
type Account struct {
	ID         uuid.UUID `json:"id,omitempty"`
	AssetCode  string    `json:"assetCode"`
	AssetScale int32     `json:"assetScale"`
	URL        string    `json:"url,omitempty"`
}

// Quote is the priced plan computed during Quoting, valid until
// ActivationDeadline.
type Quote struct {
	Timestamp             time.Time    `json:"timestamp"`
	ActivationDeadline    time.Time    `json:"activationDeadline"`
	TargetType            TargetType   `json:"targetType"`
	MinDeliveryAmount     money.Amount `json:"minDeliveryAmount"`
	MaxSourceAmount       money.Amount `json:"maxSourceAmount"`
	MinExchangeRate       float64      `json:"minExchangeRate"`
	LowExchangeRateEstimate  float64   `json:"lowExchangeRateEstimate"`
	HighExchangeRateEstimate float64   `json:"highExchangeRateEstimate"`
}

// Expired reports whether the quote is no longer honourable at instant
// `now`. A deadline equal to `now` is treated as expired (boundary
// behavior).
func (q *Quote) Expired(now time.Time) bool {
	return q == nil || !now.Before(q.ActivationDeadline)
}

// TargetType describes whether the streaming send targets a fixed source
// spend or a fixed delivery amount (invoice).
type TargetType string

const (
	TargetTypeFixedSend TargetType = "FIXED_SEND"
	TargetTypeInvoice   TargetType = "INVOICE"
)

// Payment is the single aggregate persisted by the store.
type Payment struct {
	ID             uuid.UUID `json:"id"`
	State          State     `json:"state"`
	StateAttempts  int       `json:"stateAttempts"`
	Intent         Intent    `json:"intent"`
	AccountID      uuid.UUID `json:"accountId"`
	SuperAccountID uuid.UUID `json:"superAccountId"`

	SourceAccount      Account `json:"sourceAccount"`
	DestinationAccount Account `json:"destinationAccount"`

	Quote *Quote `json:"quote,omitempty"`
	Error *Error `json:"error,omitempty"`

	// ClientToken is the caller-supplied idempotency token scoped to
	// SuperAccountID; see open question, resolved in DESIGN.md.
	ClientToken string `json:"clientToken,omitempty"`

	// ProcessAt gates worker eligibility: a row is eligible only
	// once ProcessAt has passed, which is how retry backoff and quote
	// expiration sweeps are expressed without a dedicated scheduler.
	ProcessAt time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// QuoteInvariantHolds checks the invariant that Quote is present iff
// the payment is in a state that requires one.
func (p *Payment) QuoteInvariantHolds() bool {
	needsQuote := p.State == StateReady || p.State == StateActivated ||
		p.State == StateSending || p.State == StateCompleted
	if needsQuote {
		return p.Quote != nil
	}
	// Cancelling reached from Activated (i.e. funded) still carries a
	// quote; Cancelling reached from Quoting does not. We can't tell
	// which without history, so Cancelling is permitted either way.
	if p.State == StateCancelling {
		return true
	}
	return p.Quote == nil
}
