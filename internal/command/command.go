// Package command implements the Command API: the only authorized mutators
// of an outgoing payment from outside the engine. Every mutating method
// other than Create (which inserts a new row) runs inside a single
// transaction with SELECT ... FOR UPDATE on the target row, checks the
// operation's state precondition, and commits the transition in the same
// transaction as any side effect it records. It is
// grounded on stronghold/internal/handlers/account.go's pattern of a thin
// handler calling down into a service-layer method that owns its own
// transaction, and internal/db/payments.go's CreateOrGetPaymentTransaction
// for the idempotent-create path.
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rafikipay/outpay/internal/capability"
	"github.com/rafikipay/outpay/internal/lifecycle"
	"github.com/rafikipay/outpay/internal/money"
	"github.com/rafikipay/outpay/internal/payment"
	"github.com/rafikipay/outpay/internal/store"
)

// Engine is the Command API. It holds no request-scoped state; every
// method opens its own transaction against the store.
type Engine struct {
	store     *store.Store
	subAccts  capability.SubAccountFactory
	lifecycle lifecycle.Deps
}

// New builds a command Engine. lifecycleDeps is reused unmodified for the
// Fund operation's call into lifecycle.HandleFunding, the one lifecycle
// handler the Command API invokes directly rather than the worker loop.
func New(st *store.Store, subAccts capability.SubAccountFactory, lifecycleDeps lifecycle.Deps) *Engine {
	return &Engine{store: st, subAccts: subAccts, lifecycle: lifecycleDeps}
}

// Create admits a new outgoing payment. It is idempotent on
// (superAccountId, clientToken): a retried create with the same token
// returns the payment created by the first call.
func (e *Engine) Create(ctx context.Context, superAccountID uuid.UUID, clientToken string, intent payment.Intent) (*payment.Payment, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	account, err := e.subAccts.CreateSubAccount(ctx, superAccountID)
	if err != nil {
		return nil, payment.NewCreateError(payment.CreateErrorUnknownAccount, err.Error())
	}

	now := e.lifecycle.Now
	var createdAt time.Time
	if now != nil {
		createdAt = now()
	} else {
		createdAt = time.Now()
	}

	p := &payment.Payment{
		ID:             uuid.New(),
		State:          payment.StateQuoting,
		StateAttempts:  0,
		Intent:         intent,
		AccountID:      account.ID,
		SuperAccountID: superAccountID,
		SourceAccount:  account,
		ClientToken:    clientToken,
		ProcessAt:      createdAt,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}

	if _, err := e.store.Insert(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	return p, nil
}

// Approve transitions a Ready payment to Activated.
func (e *Engine) Approve(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return e.mutate(ctx, id, func(p *payment.Payment) (store.Patch, error) {
		if p.State != payment.StateReady {
			return store.Patch{}, payment.NewStateError(payment.StateErrorWrongState, "payment is not Ready")
		}
		return store.Patch{
			State:         payment.StateActivated,
			StateAttempts: p.StateAttempts,
			ProcessAt:     p.Quote.ActivationDeadline,
		}, nil
	})
}

// Cancel transitions a Ready payment to Cancelling with error=CancelledByAPI.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return e.mutate(ctx, id, func(p *payment.Payment) (store.Patch, error) {
		if p.State != payment.StateReady {
			return store.Patch{}, payment.NewStateError(payment.StateErrorWrongState, "payment is not Ready")
		}
		return store.Patch{
			State:         payment.StateCancelling,
			StateAttempts: 0,
			Error:         &payment.Error{Code: payment.ErrCancelledByAPI},
			ProcessAt:     e.now(),
		}, nil
	})
}

// Requote resets a Cancelled payment back to Quoting, clearing its quote
// and error, the one administrative transition a terminal state permits.
func (e *Engine) Requote(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return e.mutate(ctx, id, func(p *payment.Payment) (store.Patch, error) {
		if p.State != payment.StateCancelled {
			return store.Patch{}, payment.NewStateError(payment.StateErrorWrongState, "payment is not Cancelled")
		}
		return store.Patch{
			State:         payment.StateQuoting,
			StateAttempts: 0,
			ClearQuote:    true,
			ClearError:    true,
			ProcessAt:     e.now(),
		}, nil
	})
}

// Fund transfers amount from the super-account to the source account,
// keyed idempotently by transferId, then transitions the payment to
// Sending. The accounting transfer and the state patch commit in the same
// transaction as the row lock.
func (e *Engine) Fund(ctx context.Context, id uuid.UUID, amount money.Amount, transferID string) (*payment.Payment, error) {
	return e.mutate(ctx, id, func(p *payment.Payment) (store.Patch, error) {
		if p.State != payment.StateActivated {
			return store.Patch{}, payment.NewStateError(payment.StateErrorWrongState, "payment is not Activated")
		}

		result, err := lifecycle.HandleFunding(ctx, e.lifecycle, p, amount, transferID)
		if err != nil {
			var serr *payment.StateError
			if errors.As(err, &serr) {
				return store.Patch{}, err
			}
			return store.Patch{}, fmt.Errorf("fund: %w", err)
		}

		return store.Patch{
			State:         result.NextState,
			StateAttempts: result.StateAttempts,
			Error:         result.Error,
			ProcessAt:     result.ProcessAt,
		}, nil
	})
}

// Get reads a payment by id, no lock.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return e.store.GetByID(ctx, id)
}

// ListByAccount returns a cursor page of payments for an account.
func (e *Engine) ListByAccount(ctx context.Context, accountID uuid.UUID, after string, limit int) ([]*payment.Payment, store.PageInfo, error) {
	return e.store.ListByAccount(ctx, accountID, after, limit)
}

// mutate runs the SELECT ... FOR UPDATE / validate / patch / commit
// sequence every mutating command shares: fn validates the locked row's
// current state and returns the patch to apply, or a *payment.StateError
// if the precondition fails.
func (e *Engine) mutate(ctx context.Context, id uuid.UUID, fn func(*payment.Payment) (store.Patch, error)) (*payment.Payment, error) {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := e.store.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, payment.NewStateError(payment.StateErrorUnknownPayment, "payment not found")
		}
		return nil, fmt.Errorf("lock payment: %w", err)
	}

	fromState := p.State
	patch, err := fn(p)
	if err != nil {
		return nil, err
	}

	if err := e.store.Patch(ctx, tx, id, fromState, patch); err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return nil, payment.NewStateError(payment.StateErrorWrongState, "payment state changed concurrently")
		}
		return nil, fmt.Errorf("patch payment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return e.store.GetByID(ctx, id)
}

func (e *Engine) now() time.Time {
	if e.lifecycle.Now != nil {
		return e.lifecycle.Now()
	}
	return time.Now()
}
