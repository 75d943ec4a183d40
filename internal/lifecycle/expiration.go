package lifecycle

import "github.com/rafikipay/outpay/internal/payment"

// HandleExpiration implements the Ready/Activated sweeper rule: a locked
// payment whose quote has passed its activation
// deadline transitions to Cancelling with error=QuoteExpired. It reports
// ok=false when the payment isn't eligible for expiration, so the caller
// can skip committing anything.
func HandleExpiration(deps Deps, p *payment.Payment) (result Result, ok bool) {
	if p.State != payment.StateReady && p.State != payment.StateActivated {
		return Result{}, false
	}
	if !p.Quote.Expired(deps.now()) {
		return Result{}, false
	}

	return Result{
		NextState:     payment.StateCancelling,
		StateAttempts: 0,
		Error:         &payment.Error{Code: payment.ErrQuoteExpired},
		ProcessAt:     deps.now(),
	}, true
}
