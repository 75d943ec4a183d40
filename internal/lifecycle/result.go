package lifecycle

import (
	"time"

	"github.com/rafikipay/outpay/internal/payment"
)

// Result is the outcome of a handler call: the next state plus every
// field the caller should persist in the same commit as the state
// change. A handler that cannot classify its own failure returns a plain
// error instead of a Result, signalling the caller to roll back with no
// checkpoint at all (step 5, "unclassified exceptions").
type Result struct {
	NextState          payment.State
	StateAttempts      int
	DestinationAccount *payment.Account
	Quote              *payment.Quote
	Error              *payment.Error
	ProcessAt          time.Time
}

// backoff computes the retry delay for a given attempt count:
// delay(attempt) = min(maxDelay, base*2^attempt + jitter).
func backoff(attempt int, base, max time.Duration, jitter time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	delay += jitter
	if delay > max {
		delay = max
	}
	return delay
}
