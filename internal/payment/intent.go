package payment

import "github.com/rafikipay/outpay/internal/money"

// Intent is the immutable user-supplied description of the desired
// payment, re-expressed as a tagged variant, Design Notes rather
// than a single record with optional fields: exactly one of FixedSend or
// Invoice is ever populated.
type Intent struct {
	FixedSend   *FixedSendIntent `json:"fixedSend,omitempty"`
	Invoice     *InvoiceIntent   `json:"invoice,omitempty"`
	AutoApprove bool             `json:"autoApprove"`
}

// FixedSendIntent pays a fixed source amount to a payment pointer.
type FixedSendIntent struct {
	PaymentPointer string       `json:"paymentPointer"`
	AmountToSend   money.Amount `json:"amountToSend"`
}

// InvoiceIntent pays an externally-hosted invoice in full.
type InvoiceIntent struct {
	InvoiceURL string `json:"invoiceUrl"`
}

// Validate enforces the mutual-exclusion rule and the boundary
// case that a zero fixed-send amount is invalid.
func (i Intent) Validate() error {
	switch {
	case i.FixedSend != nil && i.Invoice != nil:
		return NewCreateError(CreateErrorInvalidIntent, "intent carries both fixedSend and invoice")
	case i.FixedSend == nil && i.Invoice == nil:
		return NewCreateError(CreateErrorInvalidIntent, "intent carries neither fixedSend nor invoice")
	case i.FixedSend != nil:
		if i.FixedSend.PaymentPointer == "" {
			return NewCreateError(CreateErrorInvalidIntent, "fixedSend requires a paymentPointer")
		}
		if i.FixedSend.AmountToSend == money.Zero {
			return NewCreateError(CreateErrorInvalidIntent, "amountToSend must be greater than zero")
		}
	case i.Invoice != nil:
		if i.Invoice.InvoiceURL == "" {
			return NewCreateError(CreateErrorInvalidIntent, "invoice requires an invoiceUrl")
		}
	}
	return nil
}

// TargetType reports the streaming target shape implied by the intent.
func (i Intent) TargetType() TargetType {
	if i.Invoice != nil {
		return TargetTypeInvoice
	}
	return TargetTypeFixedSend
}
