package payment

// Classification is the outcome of classifying a PaymentError into a
// retry disposition.
type Classification string

const (
	// ClassificationTerminal errors never retry: the payment moves
	// straight to Cancelling with this code as its terminal Error.
	ClassificationTerminal Classification = "TERMINAL"
	// ClassificationRetryable errors increment StateAttempts and retry
	// the current state, subject to the state's attempt bound.
	ClassificationRetryable Classification = "RETRYABLE"
	// ClassificationDone is the single special case (InvoiceAlreadyPaid)
	// where a "failure" actually means the payment is already complete.
	ClassificationDone Classification = "DONE"
)

var terminalErrors = map[ErrorCode]struct{}{
	ErrInvalidPaymentPointer:    {},
	ErrInvalidCredentials:       {},
	ErrUnknownSourceAsset:       {},
	ErrUnknownPaymentTarget:     {},
	ErrInvalidSourceAmount:      {},
	ErrInvalidDestinationAmount: {},
	ErrUnenforceableDelivery:    {},
	ErrQueryFailed:              {},
}

var doneErrors = map[ErrorCode]struct{}{
	ErrInvoiceAlreadyPaid: {},
}

// Classify maps a streaming-layer PaymentError code to its retry
// disposition. Codes outside the closed set above are treated as
// Retryable, the conservative default for an unclassified/unexpected
// error — they still respect the state's attempt bound rather than
// retrying forever.
func Classify(code ErrorCode) Classification {
	if _, ok := terminalErrors[code]; ok {
		return ClassificationTerminal
	}
	if _, ok := doneErrors[code]; ok {
		return ClassificationDone
	}
	return ClassificationRetryable
}
