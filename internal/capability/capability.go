// Package capability defines the engine's abstract contracts for every
// external collaborator: accounting, rates, streaming,
// sub-account creation, and plugin lifecycle. The engine depends on these
// interfaces, not on any concrete implementation — implementations are
// injected by the process wiring in cmd/enginesrv, never resolved from a
// global registry.
package capability

import (
	"context"

	"github.com/google/uuid"

	"github.com/rafikipay/outpay/internal/money"
	"github.com/rafikipay/outpay/internal/payment"
)

// AccountingService moves and reports balances. CreateTransfer must be
// idempotent by TransferID.
type AccountingService interface {
	CreateTransfer(ctx context.Context, req TransferRequest) error
	GetTotalSent(ctx context.Context, accountID uuid.UUID) (money.Amount, bool, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (money.Amount, bool, error)
}

// TransferRequest describes a single ledger movement.
type TransferRequest struct {
	SourceAccountID      uuid.UUID
	DestinationAccountID uuid.UUID
	Amount               money.Amount
	TransferID           string
}

// RatesService resolves exchange rates for a base asset. Implementations
// may return a stale cached map; the engine treats staleness as the
// service's concern, not the caller's.
type RatesService interface {
	Prices(ctx context.Context, baseAssetCode string) (map[string]float64, error)
}

// Destination describes the resolved receiver of a streaming payment, as
// returned by SetupPayment.
type Destination struct {
	Account payment.Account
}

// Outcome is the terminal result of a streaming Pay call.
type Outcome struct {
	// Completed is true once the amount is fully delivered (or the
	// invoice fully paid).
	Completed bool
	// TotalSent is the cumulative source-side amount sent so far,
	// including prior attempts — the engine never trusts its own
	// in-memory count across a crash.
	TotalSent money.Amount
}

// SetupPaymentRequest carries everything needed to resolve a destination.
type SetupPaymentRequest struct {
	Plugin         Plugin
	PaymentPointer string
	InvoiceURL     string
}

// StartQuoteRequest carries everything needed to price a payment.
type StartQuoteRequest struct {
	Plugin       Plugin
	Destination  Destination
	SourceAmount money.Amount
	Slippage     float64
	Prices       map[string]float64
}

// PayRequest resumes or starts a streaming send.
type PayRequest struct {
	Plugin         Plugin
	Destination    Destination
	Quote          payment.Quote
	ProgressOffset money.Amount
}

// StreamingCapability wraps the ILP STREAM rate-probe and packetized-send
// library.
type StreamingCapability interface {
	SetupPayment(ctx context.Context, req SetupPaymentRequest) (Destination, error)
	StartQuote(ctx context.Context, req StartQuoteRequest) (payment.Quote, error)
	Pay(ctx context.Context, req PayRequest) (Outcome, error)
}

// SubAccountFactory creates the sub-account the engine admits a payment
// into.
type SubAccountFactory interface {
	CreateSubAccount(ctx context.Context, superAccountID uuid.UUID) (payment.Account, error)
}

// Plugin is a scoped connection to the network on behalf of one source
// account. Its only method here reports the source account it was opened
// for — streaming and accounting otherwise treat it as an opaque
// capability token — and it must be
// released via PluginFactory.ClosePlugin on every exit path.
type Plugin interface {
	SourceAccountID() uuid.UUID
}

// PluginFactory acquires and releases Plugins. OpenPlugin must be paired
// with exactly one ClosePlugin call, even on error paths, to avoid
// stalling the streaming backend.
type PluginFactory interface {
	OpenPlugin(ctx context.Context, sourceAccountID uuid.UUID) (Plugin, error)
	ClosePlugin(ctx context.Context, p Plugin) error
}
