package command_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rafikipay/outpay/internal/capability"
	"github.com/rafikipay/outpay/internal/command"
	"github.com/rafikipay/outpay/internal/lifecycle"
	"github.com/rafikipay/outpay/internal/money"
	"github.com/rafikipay/outpay/internal/payment"
	"github.com/rafikipay/outpay/internal/store"
	"github.com/rafikipay/outpay/internal/store/testutil"
)

func testLifecycleDeps(now time.Time, streaming *capability.FakeStreaming, accounting *capability.FakeAccounting) lifecycle.Deps {
	return lifecycle.Deps{
		Accounting:    accounting,
		Rates:         &capability.FakeRates{Prices_: map[string]float64{"USD": 1}},
		Streaming:     streaming,
		Plugins:       capability.NewFakePluginFactory(),
		Limits:        payment.Limits{MaxQuoteAttempts: 5, MaxSendAttempts: 5},
		Slippage:      0.01,
		QuoteLifespan: 5 * time.Minute,
		BackoffBase:   time.Second,
		BackoffMax:    5 * time.Minute,
		Now:           func() time.Time { return now },
		Jitter:        func(time.Duration) time.Duration { return 0 },
	}
}

func newEngine(t *testing.T, deps lifecycle.Deps, subAccts *capability.FakeSubAccounts) (*command.Engine, *testutil.TestDB) {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	return command.New(tdb.Store, subAccts, deps), tdb
}

// applyResult persists a lifecycle.Result the same way the worker loop
// would, for tests that need to drive a payment past a state the Command
// API itself never transitions out of (Quoting, Sending, Cancelling).
func applyResult(t *testing.T, st *store.Store, id uuid.UUID, from payment.State, result lifecycle.Result) {
	t.Helper()
	tx, err := st.BeginTx(context.Background())
	require.NoError(t, err)
	err = st.Patch(context.Background(), tx, id, from, store.Patch{
		State:              result.NextState,
		StateAttempts:      result.StateAttempts,
		DestinationAccount: result.DestinationAccount,
		Quote:              result.Quote,
		Error:              result.Error,
		ProcessAt:          result.ProcessAt,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))
}

func TestCreateIsIdempotentByClientToken(t *testing.T) {
	subAccts := capability.NewFakeSubAccounts(payment.Account{})
	engine, tdb := newEngine(t, testLifecycleDeps(time.Now(), &capability.FakeStreaming{}, capability.NewFakeAccounting(nil)), subAccts)
	defer tdb.Close(t)
	defer tdb.Truncate(t)

	superAccountID := uuid.New()
	intent := payment.Intent{FixedSend: &payment.FixedSendIntent{PaymentPointer: "$wallet.example/alice", AmountToSend: money.Amount(1000)}}

	p1, err := engine.Create(context.Background(), superAccountID, "token-1", intent)
	require.NoError(t, err)
	require.Equal(t, payment.StateQuoting, p1.State)

	p2, err := engine.Create(context.Background(), superAccountID, "token-1", intent)
	require.NoError(t, err)
	require.Equal(t, p1.ID, p2.ID)
}

func TestCreateRejectsInvalidIntent(t *testing.T) {
	subAccts := capability.NewFakeSubAccounts(payment.Account{})
	engine, tdb := newEngine(t, testLifecycleDeps(time.Now(), &capability.FakeStreaming{}, capability.NewFakeAccounting(nil)), subAccts)
	defer tdb.Close(t)
	defer tdb.Truncate(t)

	_, err := engine.Create(context.Background(), uuid.New(), "token-bad", payment.Intent{})
	require.Error(t, err)

	var cerr *payment.CreateError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, payment.CreateErrorInvalidIntent, cerr.Code)
}

func TestApproveRequiresReadyState(t *testing.T) {
	subAccts := capability.NewFakeSubAccounts(payment.Account{})
	engine, tdb := newEngine(t, testLifecycleDeps(time.Now(), &capability.FakeStreaming{}, capability.NewFakeAccounting(nil)), subAccts)
	defer tdb.Close(t)
	defer tdb.Truncate(t)

	intent := payment.Intent{FixedSend: &payment.FixedSendIntent{PaymentPointer: "$wallet.example/alice", AmountToSend: money.Amount(1000)}}
	p, err := engine.Create(context.Background(), uuid.New(), "token-2", intent)
	require.NoError(t, err)
	require.Equal(t, payment.StateQuoting, p.State)

	_, err = engine.Approve(context.Background(), p.ID)
	require.Error(t, err)
	var serr *payment.StateError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, payment.StateErrorWrongState, serr.Code)
}

func TestApproveSecondCallReturnsWrongState(t *testing.T) {
	now := time.Now()
	streaming := &capability.FakeStreaming{}
	streaming.QueueSetup(capability.Destination{Account: payment.Account{ID: uuid.New()}}, nil)
	streaming.QueueQuote(payment.Quote{MaxSourceAmount: money.Amount(1050)}, nil)

	accounting := capability.NewFakeAccounting(nil)
	deps := testLifecycleDeps(now, streaming, accounting)
	subAccts := capability.NewFakeSubAccounts(payment.Account{})
	engine, tdb := newEngine(t, deps, subAccts)
	defer tdb.Close(t)
	defer tdb.Truncate(t)

	intent := payment.Intent{FixedSend: &payment.FixedSendIntent{PaymentPointer: "$wallet.example/alice", AmountToSend: money.Amount(1000)}, AutoApprove: false}
	p, err := engine.Create(context.Background(), uuid.New(), "token-double-approve", intent)
	require.NoError(t, err)

	result, err := lifecycle.HandleQuoting(context.Background(), deps, p)
	require.NoError(t, err)
	require.Equal(t, payment.StateReady, result.NextState)
	applyResult(t, tdb.Store, p.ID, payment.StateQuoting, result)

	_, err = engine.Approve(context.Background(), p.ID)
	require.NoError(t, err)

	_, err = engine.Approve(context.Background(), p.ID)
	require.Error(t, err)
	var serr *payment.StateError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, payment.StateErrorWrongState, serr.Code)
}

func TestHappyPathCreateApproveFundComplete(t *testing.T) {
	now := time.Now()
	streaming := &capability.FakeStreaming{}
	destAccount := payment.Account{ID: uuid.New(), AssetCode: "USD", AssetScale: 2}
	streaming.QueueSetup(capability.Destination{Account: destAccount}, nil)
	streaming.QueueQuote(payment.Quote{MaxSourceAmount: money.Amount(1050), MinDeliveryAmount: money.Amount(1000)}, nil)

	superAccountID := uuid.New()
	accounting := capability.NewFakeAccounting(map[uuid.UUID]money.Amount{superAccountID: money.Amount(5000)})
	subAccts := capability.NewFakeSubAccounts(payment.Account{})

	deps := testLifecycleDeps(now, streaming, accounting)
	engine, tdb := newEngine(t, deps, subAccts)
	defer tdb.Close(t)
	defer tdb.Truncate(t)

	intent := payment.Intent{
		FixedSend:   &payment.FixedSendIntent{PaymentPointer: "$wallet.example/alice", AmountToSend: money.Amount(1000)},
		AutoApprove: false,
	}
	p, err := engine.Create(context.Background(), superAccountID, "token-happy", intent)
	require.NoError(t, err)
	require.Equal(t, payment.StateQuoting, p.State)

	quoteResult, err := lifecycle.HandleQuoting(context.Background(), deps, p)
	require.NoError(t, err)
	require.Equal(t, payment.StateReady, quoteResult.NextState)
	applyResult(t, tdb.Store, p.ID, payment.StateQuoting, quoteResult)

	approved, err := engine.Approve(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, payment.StateActivated, approved.State)

	sent, err := engine.Fund(context.Background(), p.ID, money.Amount(1050), "T1")
	require.NoError(t, err)
	require.Equal(t, payment.StateSending, sent.State)

	balance, _, _ := accounting.GetBalance(context.Background(), sent.AccountID)
	require.Equal(t, money.Amount(1050), balance)

	// A second fund call after the payment has already moved to Sending
	// hits the state precondition, not the accounting layer.
	_, err = engine.Fund(context.Background(), p.ID, money.Amount(1050), "T1")
	require.Error(t, err)

	streaming.QueuePay(capability.Outcome{Completed: true, TotalSent: money.Amount(1000)}, nil)
	sendResult, err := lifecycle.HandleSending(context.Background(), deps, sent)
	require.NoError(t, err)
	require.Equal(t, payment.StateCompleted, sendResult.NextState)
	applyResult(t, tdb.Store, p.ID, payment.StateSending, sendResult)

	final, err := engine.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, payment.StateCompleted, final.State)
}

func TestFundRejectsWrongState(t *testing.T) {
	subAccts := capability.NewFakeSubAccounts(payment.Account{})
	engine, tdb := newEngine(t, testLifecycleDeps(time.Now(), &capability.FakeStreaming{}, capability.NewFakeAccounting(nil)), subAccts)
	defer tdb.Close(t)
	defer tdb.Truncate(t)

	intent := payment.Intent{FixedSend: &payment.FixedSendIntent{PaymentPointer: "$wallet.example/alice", AmountToSend: money.Amount(1000)}}
	p, err := engine.Create(context.Background(), uuid.New(), "token-fund-wrong", intent)
	require.NoError(t, err)

	_, err = engine.Fund(context.Background(), p.ID, money.Amount(1000), "T-wrong")
	require.Error(t, err)
	var serr *payment.StateError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, payment.StateErrorWrongState, serr.Code)
}

func TestRequoteResetsCancelledPayment(t *testing.T) {
	now := time.Now()
	streaming := &capability.FakeStreaming{}
	streaming.QueueSetup(capability.Destination{}, &payment.Error{Code: payment.ErrInvalidPaymentPointer})
	subAccts := capability.NewFakeSubAccounts(payment.Account{})
	accounting := capability.NewFakeAccounting(nil)

	deps := testLifecycleDeps(now, streaming, accounting)
	engine, tdb := newEngine(t, deps, subAccts)
	defer tdb.Close(t)
	defer tdb.Truncate(t)

	intent := payment.Intent{FixedSend: &payment.FixedSendIntent{PaymentPointer: "not-a-pointer", AmountToSend: money.Amount(1000)}}
	p, err := engine.Create(context.Background(), uuid.New(), "token-requote", intent)
	require.NoError(t, err)

	quoteResult, err := lifecycle.HandleQuoting(context.Background(), deps, p)
	require.NoError(t, err)
	require.Equal(t, payment.StateCancelling, quoteResult.NextState)
	applyResult(t, tdb.Store, p.ID, payment.StateQuoting, quoteResult)

	cancelling, err := tdb.Store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)

	cancelResult, err := lifecycle.HandleCancelling(context.Background(), deps, cancelling)
	require.NoError(t, err)
	require.Equal(t, payment.StateCancelled, cancelResult.NextState)
	applyResult(t, tdb.Store, p.ID, payment.StateCancelling, cancelResult)

	requoted, err := engine.Requote(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, payment.StateQuoting, requoted.State)
	require.Nil(t, requoted.Quote)
	require.Nil(t, requoted.Error)
	require.Equal(t, 0, requoted.StateAttempts)
}

func TestListByAccountReturnsCreatedPayments(t *testing.T) {
	subAccts := capability.NewFakeSubAccounts(payment.Account{})
	engine, tdb := newEngine(t, testLifecycleDeps(time.Now(), &capability.FakeStreaming{}, capability.NewFakeAccounting(nil)), subAccts)
	defer tdb.Close(t)
	defer tdb.Truncate(t)

	intent := payment.Intent{FixedSend: &payment.FixedSendIntent{PaymentPointer: "$wallet.example/alice", AmountToSend: money.Amount(1000)}}
	p, err := engine.Create(context.Background(), uuid.New(), "token-list", intent)
	require.NoError(t, err)

	page, info, err := engine.ListByAccount(context.Background(), p.AccountID, "", 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.False(t, info.HasNextPage)
	require.Equal(t, p.ID, page[0].ID)
}
