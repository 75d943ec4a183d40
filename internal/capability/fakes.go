package capability

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rafikipay/outpay/internal/money"
	"github.com/rafikipay/outpay/internal/payment"
)

// FakeAccounting is an in-process AccountingService for tests, the way
// internal/wallet/testing.go provides a TestWallet that needs no OS
// keyring. Transfers are idempotent by TransferID, matching the real
// accounting service's contract.
type FakeAccounting struct {
	mu        sync.Mutex
	transfers map[string]TransferRequest
	totalSent map[uuid.UUID]money.Amount
	balances  map[uuid.UUID]money.Amount
}

// NewFakeAccounting returns a ready-to-use fake with the given starting
// balances.
func NewFakeAccounting(balances map[uuid.UUID]money.Amount) *FakeAccounting {
	b := make(map[uuid.UUID]money.Amount, len(balances))
	for k, v := range balances {
		b[k] = v
	}
	return &FakeAccounting{
		transfers: make(map[string]TransferRequest),
		totalSent: make(map[uuid.UUID]money.Amount),
		balances:  b,
	}
}

func (f *FakeAccounting) CreateTransfer(_ context.Context, req TransferRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.transfers[req.TransferID]; ok {
		if existing != req {
			return fmt.Errorf("transfer %s already recorded with different parameters", req.TransferID)
		}
		return nil
	}

	if f.balances[req.SourceAccountID] < req.Amount {
		return fmt.Errorf("insufficient funds in %s", req.SourceAccountID)
	}

	f.balances[req.SourceAccountID] -= req.Amount
	f.balances[req.DestinationAccountID] += req.Amount
	f.totalSent[req.SourceAccountID] += req.Amount
	f.transfers[req.TransferID] = req
	return nil
}

func (f *FakeAccounting) GetTotalSent(_ context.Context, accountID uuid.UUID) (money.Amount, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.totalSent[accountID]
	return v, ok, nil
}

func (f *FakeAccounting) GetBalance(_ context.Context, accountID uuid.UUID) (money.Amount, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.balances[accountID]
	return v, ok, nil
}

// FakeSubAccounts is an in-process SubAccountFactory for tests.
type FakeSubAccounts struct {
	mu     sync.Mutex
	assets map[uuid.UUID]payment.Account
}

func NewFakeSubAccounts(superAccount payment.Account) *FakeSubAccounts {
	return &FakeSubAccounts{assets: map[uuid.UUID]payment.Account{}}
}

func (f *FakeSubAccounts) CreateSubAccount(_ context.Context, superAccountID uuid.UUID) (payment.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct := payment.Account{ID: uuid.New(), AssetCode: "USD", AssetScale: 2}
	f.assets[acct.ID] = acct
	return acct, nil
}

// FakePlugin is a no-op Plugin for tests.
type FakePlugin struct {
	sourceAccountID uuid.UUID
	closed          bool
}

func (p *FakePlugin) SourceAccountID() uuid.UUID { return p.sourceAccountID }

// FakePluginFactory tracks open/close pairs so tests can assert every
// plugin opened was also closed (catches a leaked plugin).
type FakePluginFactory struct {
	mu    sync.Mutex
	open  map[*FakePlugin]bool
	Opens int
}

func NewFakePluginFactory() *FakePluginFactory {
	return &FakePluginFactory{open: map[*FakePlugin]bool{}}
}

func (f *FakePluginFactory) OpenPlugin(_ context.Context, sourceAccountID uuid.UUID) (Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &FakePlugin{sourceAccountID: sourceAccountID}
	f.open[p] = true
	f.Opens++
	return p, nil
}

func (f *FakePluginFactory) ClosePlugin(_ context.Context, p Plugin) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, ok := p.(*FakePlugin)
	if !ok {
		return fmt.Errorf("unexpected plugin type %T", p)
	}
	fp.closed = true
	delete(f.open, fp)
	return nil
}

// AllClosed reports whether every plugin this factory opened has since
// been closed.
func (f *FakePluginFactory) AllClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open) == 0
}

// FakeRates is an in-process RatesService for tests.
type FakeRates struct {
	Prices_ map[string]float64
	Err     error
}

func (f *FakeRates) Prices(_ context.Context, _ string) (map[string]float64, error) {
	return f.Prices_, f.Err
}

// FakeStreaming is a scriptable in-process StreamingCapability for
// lifecycle tests: each call pops the next queued response/error.
type FakeStreaming struct {
	mu sync.Mutex

	SetupResponses []fakeSetupResult
	QuoteResponses []fakeQuoteResult
	PayResponses   []fakePayResult
}

type fakeSetupResult struct {
	Destination Destination
	Err         error
}

type fakeQuoteResult struct {
	Quote payment.Quote
	Err   error
}

type fakePayResult struct {
	Outcome Outcome
	Err     error
}

func (f *FakeStreaming) SetupPayment(_ context.Context, _ SetupPaymentRequest) (Destination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.SetupResponses) == 0 {
		return Destination{}, fmt.Errorf("fake streaming: no SetupPayment response queued")
	}
	r := f.SetupResponses[0]
	f.SetupResponses = f.SetupResponses[1:]
	return r.Destination, r.Err
}

func (f *FakeStreaming) StartQuote(_ context.Context, _ StartQuoteRequest) (payment.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.QuoteResponses) == 0 {
		return payment.Quote{}, fmt.Errorf("fake streaming: no StartQuote response queued")
	}
	r := f.QuoteResponses[0]
	f.QuoteResponses = f.QuoteResponses[1:]
	return r.Quote, r.Err
}

func (f *FakeStreaming) Pay(_ context.Context, _ PayRequest) (Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.PayResponses) == 0 {
		return Outcome{}, fmt.Errorf("fake streaming: no Pay response queued")
	}
	r := f.PayResponses[0]
	f.PayResponses = f.PayResponses[1:]
	return r.Outcome, r.Err
}

// QueueSetup appends a scripted SetupPayment response.
func (f *FakeStreaming) QueueSetup(d Destination, err error) {
	f.SetupResponses = append(f.SetupResponses, fakeSetupResult{d, err})
}

// QueueQuote appends a scripted StartQuote response.
func (f *FakeStreaming) QueueQuote(q payment.Quote, err error) {
	f.QuoteResponses = append(f.QuoteResponses, fakeQuoteResult{q, err})
}

// QueuePay appends a scripted Pay response.
func (f *FakeStreaming) QueuePay(o Outcome, err error) {
	f.PayResponses = append(f.PayResponses, fakePayResult{o, err})
}
