package lifecycle_test

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

func testDeps(now time.Time, streaming *capability.FakeStreaming, accounting *capability.FakeAccounting) lifecycle.Deps {
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

func basePayment() *payment.Payment {
	accountID := uuid.New()
	return &payment.Payment{
		ID:             uuid.New(),
		State:          payment.StateQuoting,
		SuperAccountID: uuid.New(),
		AccountID:      accountID,
		SourceAccount:  payment.Account{ID: accountID, AssetCode: "USD", AssetScale: 2},
		Intent: payment.Intent{
			FixedSend:   &payment.FixedSendIntent{PaymentPointer: "$wallet.example/alice", AmountToSend: money.Amount(1000)},
			AutoApprove: true,
		},
	}
}

func TestHandleQuotingSuccessAutoApproveGoesToActivated(t *testing.T) {
	now := time.Now()
	streaming := &capability.FakeStreaming{}
	destAccount := payment.Account{ID: uuid.New(), AssetCode: "USD", AssetScale: 2}
	streaming.QueueSetup(capability.Destination{Account: destAccount}, nil)
	streaming.QueueQuote(payment.Quote{MaxSourceAmount: money.Amount(1050), MinDeliveryAmount: money.Amount(1000)}, nil)

	deps := testDeps(now, streaming, capability.NewFakeAccounting(nil))
	p := basePayment()

	result, err := lifecycle.HandleQuoting(context.Background(), deps, p)
	require.NoError(t, err)
	require.Equal(t, payment.StateActivated, result.NextState)
	require.NotNil(t, result.Quote)
	require.Equal(t, now.Add(deps.QuoteLifespan), result.Quote.ActivationDeadline)
}

func TestHandleQuotingSuccessNoAutoApproveGoesToReady(t *testing.T) {
	now := time.Now()
	streaming := &capability.FakeStreaming{}
	streaming.QueueSetup(capability.Destination{Account: payment.Account{ID: uuid.New()}}, nil)
	streaming.QueueQuote(payment.Quote{MaxSourceAmount: money.Amount(1200)}, nil)

	deps := testDeps(now, streaming, capability.NewFakeAccounting(nil))
	p := basePayment()
	p.Intent.AutoApprove = false

	result, err := lifecycle.HandleQuoting(context.Background(), deps, p)
	require.NoError(t, err)
	require.Equal(t, payment.StateReady, result.NextState)
}

func TestHandleQuotingTerminalErrorGoesToCancelling(t *testing.T) {
	now := time.Now()
	streaming := &capability.FakeStreaming{}
	streaming.QueueSetup(capability.Destination{}, &payment.Error{Code: payment.ErrInvalidPaymentPointer})

	deps := testDeps(now, streaming, capability.NewFakeAccounting(nil))
	p := basePayment()

	result, err := lifecycle.HandleQuoting(context.Background(), deps, p)
	require.NoError(t, err)
	require.Equal(t, payment.StateCancelling, result.NextState)
	require.Equal(t, payment.ErrInvalidPaymentPointer, result.Error.Code)
}

func TestHandleQuotingInvoiceAlreadyPaidGoesDirectlyToCompleted(t *testing.T) {
	now := time.Now()
	streaming := &capability.FakeStreaming{}
	streaming.QueueSetup(capability.Destination{}, &payment.Error{Code: payment.ErrInvoiceAlreadyPaid})

	deps := testDeps(now, streaming, capability.NewFakeAccounting(nil))
	p := basePayment()
	p.Intent = payment.Intent{Invoice: &payment.InvoiceIntent{InvoiceURL: "https://rcv/invoice/42"}}

	result, err := lifecycle.HandleQuoting(context.Background(), deps, p)
	require.NoError(t, err)
	require.Equal(t, payment.StateCompleted, result.NextState)
	require.NotNil(t, result.Quote)
}

func TestHandleQuotingRetryableFailureIncrementsAttempts(t *testing.T) {
	now := time.Now()
	streaming := &capability.FakeStreaming{}
	streaming.QueueSetup(capability.Destination{}, &payment.Error{Code: payment.ErrConnectorError})

	deps := testDeps(now, streaming, capability.NewFakeAccounting(nil))
	p := basePayment()
	p.StateAttempts = 0

	result, err := lifecycle.HandleQuoting(context.Background(), deps, p)
	require.NoError(t, err)
	require.Equal(t, payment.StateQuoting, result.NextState)
	require.Equal(t, 1, result.StateAttempts)
	require.True(t, result.ProcessAt.After(now))
}

func TestHandleQuotingExhaustedRetriesGoesToCancellingQuoteFailed(t *testing.T) {
	now := time.Now()
	streaming := &capability.FakeStreaming{}
	streaming.QueueSetup(capability.Destination{}, &payment.Error{Code: payment.ErrConnectorError})

	deps := testDeps(now, streaming, capability.NewFakeAccounting(nil))
	p := basePayment()
	p.StateAttempts = 5 // already at the limit

	result, err := lifecycle.HandleQuoting(context.Background(), deps, p)
	require.NoError(t, err)
	require.Equal(t, payment.StateCancelling, result.NextState)
	require.Equal(t, payment.ErrQuoteFailed, result.Error.Code)
}

func TestHandleSendingCompletesOnFullDelivery(t *testing.T) {
	now := time.Now()
	streaming := &capability.FakeStreaming{}
	streaming.QueuePay(capability.Outcome{Completed: true, TotalSent: money.Amount(1000)}, nil)

	accounting := capability.NewFakeAccounting(nil)
	deps := testDeps(now, streaming, accounting)

	p := basePayment()
	p.State = payment.StateSending
	p.DestinationAccount = payment.Account{ID: uuid.New(), AssetCode: "USD", AssetScale: 2}
	p.Quote = &payment.Quote{MaxSourceAmount: money.Amount(1050)}

	result, err := lifecycle.HandleSending(context.Background(), deps, p)
	require.NoError(t, err)
	require.Equal(t, payment.StateCompleted, result.NextState)
}

func TestHandleSendingRetryableFailureThenSuccess(t *testing.T) {
	now := time.Now()
	streaming := &capability.FakeStreaming{}
	streaming.QueuePay(capability.Outcome{}, &payment.Error{Code: payment.ErrConnectorError})
	streaming.QueuePay(capability.Outcome{Completed: true}, nil)

	deps := testDeps(now, streaming, capability.NewFakeAccounting(nil))
	p := basePayment()
	p.State = payment.StateSending
	p.DestinationAccount = payment.Account{ID: uuid.New()}
	p.Quote = &payment.Quote{MaxSourceAmount: money.Amount(1050)}

	result, err := lifecycle.HandleSending(context.Background(), deps, p)
	require.NoError(t, err)
	require.Equal(t, payment.StateSending, result.NextState)
	require.Equal(t, 1, result.StateAttempts)

	p.StateAttempts = result.StateAttempts
	result, err = lifecycle.HandleSending(context.Background(), deps, p)
	require.NoError(t, err)
	require.Equal(t, payment.StateCompleted, result.NextState)
}

func TestHandleCancellingRefundsThenCancels(t *testing.T) {
	now := time.Now()
	sourceID := uuid.New()
	superID := uuid.New()
	accounting := capability.NewFakeAccounting(map[uuid.UUID]money.Amount{sourceID: money.Amount(500)})

	deps := testDeps(now, &capability.FakeStreaming{}, accounting)
	p := basePayment()
	p.State = payment.StateCancelling
	p.SourceAccount = payment.Account{ID: sourceID}
	p.SuperAccountID = superID
	p.Error = &payment.Error{Code: payment.ErrQuoteExpired}

	result, err := lifecycle.HandleCancelling(context.Background(), deps, p)
	require.NoError(t, err)
	require.Equal(t, payment.StateCancelled, result.NextState)
	require.Equal(t, payment.ErrQuoteExpired, result.Error.Code)

	balance, _, _ := accounting.GetBalance(context.Background(), sourceID)
	require.Equal(t, money.Zero, balance)
}

func TestHandleFundingRejectsBelowMaxSourceAmount(t *testing.T) {
	now := time.Now()
	deps := testDeps(now, &capability.FakeStreaming{}, capability.NewFakeAccounting(nil))
	p := basePayment()
	p.State = payment.StateActivated
	p.Quote = &payment.Quote{MaxSourceAmount: money.Amount(1050), ActivationDeadline: now.Add(time.Hour)}

	_, err := lifecycle.HandleFunding(context.Background(), deps, p, money.Amount(1000), "T1")
	require.Error(t, err)
}

func TestHandleFundingTransitionsToSending(t *testing.T) {
	now := time.Now()
	p := basePayment()
	p.State = payment.StateActivated
	p.Quote = &payment.Quote{MaxSourceAmount: money.Amount(1050), ActivationDeadline: now.Add(time.Hour)}

	accounting := capability.NewFakeAccounting(map[uuid.UUID]money.Amount{p.SuperAccountID: money.Amount(5000)})
	deps := testDeps(now, &capability.FakeStreaming{}, accounting)

	result, err := lifecycle.HandleFunding(context.Background(), deps, p, money.Amount(1050), "T1")
	require.NoError(t, err)
	require.Equal(t, payment.StateSending, result.NextState)
}

func TestHandleFundingRejectsExpiredQuote(t *testing.T) {
	now := time.Now()
	p := basePayment()
	p.State = payment.StateActivated
	p.Quote = &payment.Quote{MaxSourceAmount: money.Amount(1050), ActivationDeadline: now}

	accounting := capability.NewFakeAccounting(map[uuid.UUID]money.Amount{p.SuperAccountID: money.Amount(5000)})
	deps := testDeps(now, &capability.FakeStreaming{}, accounting)

	result, err := lifecycle.HandleFunding(context.Background(), deps, p, money.Amount(1050), "T1")
	require.NoError(t, err)
	require.Equal(t, payment.StateCancelling, result.NextState)
	require.Equal(t, payment.ErrQuoteExpired, result.Error.Code)

	balance, _, _ := accounting.GetBalance(context.Background(), p.SuperAccountID)
	require.Equal(t, money.Amount(5000), balance)
}

func TestHandleExpirationIgnoresUnexpiredQuote(t *testing.T) {
	now := time.Now()
	deps := testDeps(now, &capability.FakeStreaming{}, capability.NewFakeAccounting(nil))
	p := basePayment()
	p.State = payment.StateReady
	p.Quote = &payment.Quote{ActivationDeadline: now.Add(time.Minute)}

	_, ok := lifecycle.HandleExpiration(deps, p)
	require.False(t, ok)
}

func TestHandleExpirationExpiresPastDeadline(t *testing.T) {
	now := time.Now()
	deps := testDeps(now, &capability.FakeStreaming{}, capability.NewFakeAccounting(nil))
	p := basePayment()
	p.State = payment.StateActivated
	p.Quote = &payment.Quote{ActivationDeadline: now}

	result, ok := lifecycle.HandleExpiration(deps, p)
	require.True(t, ok)
	require.Equal(t, payment.StateCancelling, result.NextState)
	require.Equal(t, payment.ErrQuoteExpired, result.Error.Code)
}
