package lifecycle

import (
	"context"
	"fmt"

	"github.com/rafikipay/outpay/internal/capability"
	"github.com/rafikipay/outpay/internal/money"
	"github.com/rafikipay/outpay/internal/payment"
)

// FundingKey returns the stable idempotency key for a payment's funding
// transfer, namespaced by the caller-supplied transferId.
func FundingKey(transferID string) string {
	return "fund:" + transferID
}

// HandleFunding performs the `fund` command's accounting transfer and
// returns the Sending transition. It is invoked by the Command API under
// the same row lock as every other mutator, not by the worker loop — the
// Activated→Sending edge is command-driven, not a passive poll outcome.
// A quote whose activation deadline has already passed (deadline == now
// counts as expired) is never funded: HandleFunding instead returns the
// same Cancelling/QuoteExpired transition the sweeper would apply, so a
// fund call that races the sweeper can't push a payment past it.
func HandleFunding(ctx context.Context, deps Deps, p *payment.Payment, amount money.Amount, transferID string) (Result, error) {
	if p.Quote == nil {
		return Result{}, fmt.Errorf("funding: payment %s has no quote", p.ID)
	}
	if p.Quote.Expired(deps.now()) {
		return Result{
			NextState:     payment.StateCancelling,
			StateAttempts: 0,
			Error:         &payment.Error{Code: payment.ErrQuoteExpired},
			ProcessAt:     deps.now(),
		}, nil
	}
	if amount < p.Quote.MaxSourceAmount {
		return Result{}, payment.NewStateError(payment.StateErrorInsufficientFunds,
			fmt.Sprintf("amount %d is below quote.maxSourceAmount %d", amount, p.Quote.MaxSourceAmount))
	}

	err := deps.Accounting.CreateTransfer(ctx, capability.TransferRequest{
		SourceAccountID:      p.SuperAccountID,
		DestinationAccountID: p.SourceAccount.ID,
		Amount:               amount,
		TransferID:           FundingKey(transferID),
	})
	if err != nil {
		return Result{}, fmt.Errorf("funding: create transfer: %w", err)
	}

	return Result{
		NextState:     payment.StateSending,
		StateAttempts: 0,
		ProcessAt:     deps.now(),
	}, nil
}
