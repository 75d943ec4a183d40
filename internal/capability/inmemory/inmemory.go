// Package inmemory provides deterministic, always-available in-process
// stand-ins for the five capability adapters the engine treats as remote
// collaborators (accounting, rates, streaming, sub-account creation,
// plugin lifetime). No real ILP STREAM client or ledger is part of this
// engine's scope, so cmd/enginesrv wires these by default: a usable
// implementation of each real interface that needs no external
// infrastructure. Unlike the capability package's Fake* test doubles,
// these never run dry — StartQuote and Pay compute a real answer from
// the request on every call rather than popping a finite scripted queue,
// so a long-running process can serve an unbounded number of payments.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rafikipay/outpay/internal/capability"
	"github.com/rafikipay/outpay/internal/capability/subaccount"
	"github.com/rafikipay/outpay/internal/money"
	"github.com/rafikipay/outpay/internal/payment"
)

// Ledger is an in-process double-entry accounting stub. Transfers are
// idempotent by TransferID, the same contract a real ledger service must
// honor.
type Ledger struct {
	mu        sync.Mutex
	balances  map[uuid.UUID]money.Amount
	transfers map[string]capability.TransferRequest
	totalSent map[uuid.UUID]money.Amount
}

// NewLedger returns a Ledger with no accounts yet opened. Accounts are
// created with a zero balance on first reference and funded explicitly
// via CreateTransfer from a super-account that Credit has seeded.
func NewLedger() *Ledger {
	return &Ledger{
		balances:  make(map[uuid.UUID]money.Amount),
		transfers: make(map[string]capability.TransferRequest),
		totalSent: make(map[uuid.UUID]money.Amount),
	}
}

// Credit adds amount to accountID's balance with no corresponding debit,
// the operator-facing equivalent of an external deposit. Used by
// cmd/enginesrv to seed a super-account before payments can be funded
// from it.
func (l *Ledger) Credit(accountID uuid.UUID, amount money.Amount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[accountID] = l.balances[accountID].Add(amount)
}

func (l *Ledger) CreateTransfer(_ context.Context, req capability.TransferRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.transfers[req.TransferID]; ok {
		if existing != req {
			return fmt.Errorf("inmemory ledger: transfer %s already recorded with different parameters", req.TransferID)
		}
		return nil
	}
	if l.balances[req.SourceAccountID].LessThan(req.Amount) {
		return fmt.Errorf("inmemory ledger: insufficient funds in %s", req.SourceAccountID)
	}

	l.balances[req.SourceAccountID] = l.balances[req.SourceAccountID].Sub(req.Amount)
	l.balances[req.DestinationAccountID] = l.balances[req.DestinationAccountID].Add(req.Amount)
	l.totalSent[req.SourceAccountID] = l.totalSent[req.SourceAccountID].Add(req.Amount)
	l.transfers[req.TransferID] = req
	return nil
}

func (l *Ledger) GetTotalSent(_ context.Context, accountID uuid.UUID) (money.Amount, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.totalSent[accountID]
	return v, ok, nil
}

func (l *Ledger) GetBalance(_ context.Context, accountID uuid.UUID) (money.Amount, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.balances[accountID]
	return v, ok, nil
}

// Rates is a fixed exchange-rate table, unchanging for the life of the
// process. A real RatesService would poll an external price feed; this
// stub exists so HandleQuoting has something to call.
type Rates struct {
	fixed map[string]float64
}

// NewRates returns a Rates stub whose table holds a single 1:1 entry for
// USD; no other asset code has a price. The engine doesn't cross assets in
// this deployment, so a flat table is sufficient.
func NewRates() *Rates {
	return &Rates{fixed: map[string]float64{"USD": 1.0}}
}

func (r *Rates) Prices(_ context.Context, _ string) (map[string]float64, error) {
	return r.fixed, nil
}

// SubAccounts opens a new zero-balance sub-account per call, tagging it
// with subaccount.DeriveLedgerTag-derived metadata is the destination
// side's concern (resolved in Streaming.SetupPayment); the source side
// here just needs a fresh identity and asset scope.
type SubAccounts struct {
	ledger *Ledger
}

// NewSubAccounts returns a SubAccountFactory that opens accounts against
// ledger.
func NewSubAccounts(ledger *Ledger) *SubAccounts {
	return &SubAccounts{ledger: ledger}
}

func (s *SubAccounts) CreateSubAccount(_ context.Context, _ uuid.UUID) (payment.Account, error) {
	return payment.Account{ID: uuid.New(), AssetCode: "USD", AssetScale: 2}, nil
}

// Streaming is a deterministic stand-in for the ILP STREAM rate-probe and
// packetized-send library: SetupPayment resolves a destination account
// keyed off the payment pointer or invoice host via
// subaccount.DeriveLedgerTag, StartQuote prices at the fixed 1:1 rate
// with the caller-supplied slippage band applied, and Pay delivers the
// full quoted amount in a single call — there is no real network to
// packetize traffic over.
type Streaming struct{}

// NewStreaming returns a ready-to-use Streaming stub.
func NewStreaming() *Streaming { return &Streaming{} }

func (s *Streaming) SetupPayment(_ context.Context, req capability.SetupPaymentRequest) (capability.Destination, error) {
	target := req.PaymentPointer
	if target == "" {
		target = req.InvoiceURL
	}
	tag, err := subaccount.DeriveLedgerTag(target)
	if err != nil {
		return capability.Destination{}, &payment.Error{Code: payment.ErrInvalidPaymentPointer}
	}
	return capability.Destination{
		Account: payment.Account{ID: uuid.New(), AssetCode: "USD", AssetScale: 2, URL: tag},
	}, nil
}

func (s *Streaming) StartQuote(_ context.Context, req capability.StartQuoteRequest) (payment.Quote, error) {
	sourceAmount := req.SourceAmount
	minDelivery := applySlippage(sourceAmount, req.Slippage)
	return payment.Quote{
		MinDeliveryAmount: minDelivery,
		MaxSourceAmount:   sourceAmount,
		MinExchangeRate:   1.0 - req.Slippage,
		LowExchangeRateEstimate:  1.0,
		HighExchangeRateEstimate: 1.0,
	}, nil
}

func (s *Streaming) Pay(_ context.Context, req capability.PayRequest) (capability.Outcome, error) {
	return capability.Outcome{
		Completed: true,
		TotalSent: req.ProgressOffset.Add(req.Quote.MaxSourceAmount.Sub(req.ProgressOffset)),
	}, nil
}

func applySlippage(amount money.Amount, slippage float64) money.Amount {
	if slippage <= 0 {
		return amount
	}
	reduced := float64(amount) * (1.0 - slippage)
	if reduced < 0 {
		reduced = 0
	}
	return money.Amount(reduced)
}

// plugin is the opaque handle Streaming and the accounting ledger are
// scoped to; it carries no state of its own beyond the account it was
// opened for.
type plugin struct {
	sourceAccountID uuid.UUID
}

func (p *plugin) SourceAccountID() uuid.UUID { return p.sourceAccountID }

// PluginFactory opens and releases plugin handles. Opening never fails
// and releasing is a no-op since there is no real connection to tear
// down, but the pairing discipline is still enforced by
// capability.WithPlugin at the call site.
type PluginFactory struct{}

// NewPluginFactory returns a ready-to-use PluginFactory stub.
func NewPluginFactory() *PluginFactory { return &PluginFactory{} }

func (f *PluginFactory) OpenPlugin(_ context.Context, sourceAccountID uuid.UUID) (capability.Plugin, error) {
	return &plugin{sourceAccountID: sourceAccountID}, nil
}

func (f *PluginFactory) ClosePlugin(_ context.Context, _ capability.Plugin) error {
	return nil
}
