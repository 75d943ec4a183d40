package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/rafikipay/outpay/internal/capability"
	"github.com/rafikipay/outpay/internal/money"
	"github.com/rafikipay/outpay/internal/payment"
)

// HandleQuoting drives one Quoting attempt. It attaches a
// streaming plugin, resolves the destination, prices the payment, and
// returns the next state. A returned plain error (not wrapping
// *payment.Error) is unclassified: the caller must roll back without
// committing any checkpoint.
func HandleQuoting(ctx context.Context, deps Deps, p *payment.Payment) (Result, error) {
	var quote payment.Quote
	var destination capability.Destination

	err := capability.WithPlugin(ctx, deps.Plugins, p.SourceAccount.ID, func(plug capability.Plugin) error {
		var prices map[string]float64
		if deps.Rates != nil {
			var rateErr error
			prices, rateErr = deps.Rates.Prices(ctx, p.SourceAccount.AssetCode)
			if rateErr != nil {
				return &payment.Error{Code: payment.ErrExternalRateUnavailable}
			}
		}

		dest, err := deps.Streaming.SetupPayment(ctx, capability.SetupPaymentRequest{
			Plugin:         plug,
			PaymentPointer: fixedSendPointer(p.Intent),
			InvoiceURL:     invoiceURL(p.Intent),
		})
		if err != nil {
			return err
		}
		destination = dest

		q, err := deps.Streaming.StartQuote(ctx, capability.StartQuoteRequest{
			Plugin:       plug,
			Destination:  dest,
			SourceAmount: fixedSendAmount(p.Intent),
			Slippage:     deps.Slippage,
			Prices:       prices,
		})
		if err != nil {
			return err
		}
		quote = q
		return nil
	})

	if err == nil {
		quote.Timestamp = deps.now()
		quote.ActivationDeadline = deps.now().Add(deps.QuoteLifespan)
		quote.TargetType = p.Intent.TargetType()

		nextState := payment.StateReady
		if p.Intent.AutoApprove {
			nextState = payment.StateActivated
		}

		// Ready/Activated are passive states: the worker takes no action
		// on them until the quote expires, so ProcessAt is set to the
		// activation deadline rather than "now" — the row becomes
		// eligible again only once the sweeper's expiration condition is
		// actually true.
		return Result{
			NextState:          nextState,
			StateAttempts:      0,
			DestinationAccount: &destination.Account,
			Quote:              &quote,
			ProcessAt:          quote.ActivationDeadline,
		}, nil
	}

	var perr *payment.Error
	if !errors.As(err, &perr) {
		return Result{}, fmt.Errorf("quoting: unclassified error: %w", err)
	}

	classification := payment.Classify(perr.Code)

	if perr.Code == payment.ErrInvoiceAlreadyPaid {
		done := payment.Quote{
			Timestamp:          deps.now(),
			ActivationDeadline: deps.now(),
			TargetType:         p.Intent.TargetType(),
		}
		return Result{
			NextState:     payment.StateCompleted,
			StateAttempts: 0,
			Quote:         &done,
			ProcessAt:     deps.now(),
		}, nil
	}

	switch classification {
	case payment.ClassificationRetryable:
		attempts := p.StateAttempts + 1
		if attempts <= payment.MaxAttempts(payment.StateQuoting, deps.Limits) {
			return Result{
				NextState:     payment.StateQuoting,
				StateAttempts: attempts,
				ProcessAt:     deps.now().Add(backoff(attempts, deps.BackoffBase, deps.BackoffMax, deps.jitter(deps.BackoffBase))),
			}, nil
		}
		return Result{
			NextState:     payment.StateCancelling,
			StateAttempts: 0,
			Error:         &payment.Error{Code: payment.ErrQuoteFailed},
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
		return Result{}, fmt.Errorf("quoting: unexpected classification for %s", perr.Code)
	}
}

func fixedSendPointer(i payment.Intent) string {
	if i.FixedSend != nil {
		return i.FixedSend.PaymentPointer
	}
	return ""
}

func invoiceURL(i payment.Intent) string {
	if i.Invoice != nil {
		return i.Invoice.InvoiceURL
	}
	return ""
}

func fixedSendAmount(i payment.Intent) money.Amount {
	if i.FixedSend != nil {
		return i.FixedSend.AmountToSend
	}
	return money.Zero
}
