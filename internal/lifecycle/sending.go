package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/rafikipay/outpay/internal/capability"
	"github.com/rafikipay/outpay/internal/payment"
)

// HandleSending drives one Sending attempt. On re-entry
// after a crash or retry it first reads totalSent from accounting and
// passes it to the streaming library as the resume offset, so no packet
// is delivered twice in net effect.
func HandleSending(ctx context.Context, deps Deps, p *payment.Payment) (Result, error) {
	if p.Quote == nil {
		return Result{}, fmt.Errorf("sending: payment %s has no quote", p.ID)
	}

	offset, _, err := deps.Accounting.GetTotalSent(ctx, p.SourceAccount.ID)
	if err != nil {
		return Result{}, fmt.Errorf("sending: read totalSent: %w", err)
	}

	var outcome capability.Outcome

	err = capability.WithPlugin(ctx, deps.Plugins, p.SourceAccount.ID, func(plug capability.Plugin) error {
		o, err := deps.Streaming.Pay(ctx, capability.PayRequest{
			Plugin:         plug,
			Destination:    capability.Destination{Account: p.DestinationAccount},
			Quote:          *p.Quote,
			ProgressOffset: offset,
		})
		if err != nil {
			return err
		}
		outcome = o
		return nil
	})

	if err == nil {
		if outcome.Completed {
			return Result{
				NextState:     payment.StateCompleted,
				StateAttempts: 0,
				ProcessAt:     deps.now(),
			}, nil
		}
		// Not yet complete, no error: reschedule promptly without
		// consuming a retry attempt — this is forward progress, not a
		// failure.
		return Result{
			NextState:     payment.StateSending,
			StateAttempts: p.StateAttempts,
			ProcessAt:     deps.now(),
		}, nil
	}

	var perr *payment.Error
	if !errors.As(err, &perr) {
		return Result{}, fmt.Errorf("sending: unclassified error: %w", err)
	}

	classification := payment.Classify(perr.Code)

	switch classification {
	case payment.ClassificationRetryable:
		attempts := p.StateAttempts + 1
		if attempts <= payment.MaxAttempts(payment.StateSending, deps.Limits) {
			return Result{
				NextState:     payment.StateSending,
				StateAttempts: attempts,
				ProcessAt:     deps.now().Add(backoff(attempts, deps.BackoffBase, deps.BackoffMax, deps.jitter(deps.BackoffBase))),
			}, nil
		}
		return Result{
			NextState:     payment.StateCancelling,
			StateAttempts: 0,
			Error:         &payment.Error{Code: payment.ErrSendFailed},
			ProcessAt:     deps.now(),
		}, nil

	case payment.ClassificationTerminal:
		return Result{
			NextState:     payment.StateCancelling,
			StateAttempts: 0,
			Error:         perr,
			ProcessAt:     deps.now(),
		}, nil

	default:
		return Result{}, fmt.Errorf("sending: unexpected classification for %s", perr.Code)
	}
}
