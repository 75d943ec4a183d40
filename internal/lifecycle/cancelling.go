package lifecycle

import (
	"context"
	"fmt"

	"github.com/rafikipay/outpay/internal/capability"
	"github.com/rafikipay/outpay/internal/payment"
)

// RefundKey returns the stable idempotency key for a payment's Cancelling
// refund transfer.
func RefundKey(paymentID fmt.Stringer) string {
	return "cancel:" + paymentID.String()
}

// HandleCancelling reverses any unreserved source funds back to the
// super-account, idempotently by RefundKey, then commits Cancelled.
func HandleCancelling(ctx context.Context, deps Deps, p *payment.Payment) (Result, error) {
	refundAmount, hasBalance, err := deps.Accounting.GetBalance(ctx, p.SourceAccount.ID)
	if err != nil {
		return Result{}, fmt.Errorf("cancelling: read balance: %w", err)
	}

	if hasBalance && refundAmount > 0 {
		err := deps.Accounting.CreateTransfer(ctx, capability.TransferRequest{
			SourceAccountID:      p.SourceAccount.ID,
			DestinationAccountID: p.SuperAccountID,
			Amount:               refundAmount,
			TransferID:           RefundKey(p.ID),
		})
		if err != nil {
			attempts := p.StateAttempts + 1
			return Result{
				NextState:     payment.StateCancelling,
				StateAttempts: attempts,
				Error:         p.Error,
				ProcessAt:     deps.now().Add(backoff(attempts, deps.BackoffBase, deps.BackoffMax, deps.jitter(deps.BackoffBase))),
			}, nil
		}
	}

	return Result{
		NextState:     payment.StateCancelled,
		StateAttempts: 0,
		Error:         p.Error,
		ProcessAt:     deps.now(),
	}, nil
}
