package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rafikipay/outpay/internal/payment"
)

// ErrNotFound is returned when a payment lookup matches no row.
var ErrNotFound = errors.New("store: payment not found")

// ErrStaleState is returned by Patch when the row's state no longer
// matches the expected fromState — another worker or command already
// moved it, the same race TransitionStatus guards against in the
// teacher's db package.
var ErrStaleState = errors.New("store: payment state changed concurrently")

const paymentColumns = `
	id, super_account_id, account_id, client_token, state, state_attempts,
	intent, source_account, destination_account, quote, error_code,
	process_at, created_at, updated_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(row scanner) (*payment.Payment, error) {
	var p payment.Payment
	var intentJSON, sourceJSON []byte
	var destJSON, quoteJSON []byte
	var errorCode *string

	err := row.Scan(
		&p.ID, &p.SuperAccountID, &p.AccountID, &p.ClientToken, &p.State, &p.StateAttempts,
		&intentJSON, &sourceJSON, &destJSON, &quoteJSON, &errorCode,
		&p.ProcessAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(intentJSON, &p.Intent); err != nil {
		return nil, fmt.Errorf("unmarshal intent: %w", err)
	}
	if err := json.Unmarshal(sourceJSON, &p.SourceAccount); err != nil {
		return nil, fmt.Errorf("unmarshal source_account: %w", err)
	}
	if destJSON != nil {
		if err := json.Unmarshal(destJSON, &p.DestinationAccount); err != nil {
			return nil, fmt.Errorf("unmarshal destination_account: %w", err)
		}
	}
	if quoteJSON != nil {
		var q payment.Quote
		if err := json.Unmarshal(quoteJSON, &q); err != nil {
			return nil, fmt.Errorf("unmarshal quote: %w", err)
		}
		p.Quote = &q
	}
	if errorCode != nil {
		p.Error = &payment.Error{Code: payment.ErrorCode(*errorCode)}
	}

	return &p, nil
}

// Insert creates a new payment, idempotent on (super_account_id,
// client_token): a duplicate client token returns the row that was
// created the first time, with created set to false, the same
// INSERT ... ON CONFLICT DO NOTHING RETURNING pattern as
// CreateOrGetPaymentTransaction in the original stronghold payments table.
func (s *Store) Insert(ctx context.Context, p *payment.Payment) (created bool, err error) {
	intentJSON, err := json.Marshal(p.Intent)
	if err != nil {
		return false, fmt.Errorf("marshal intent: %w", err)
	}
	sourceJSON, err := json.Marshal(p.SourceAccount)
	if err != nil {
		return false, fmt.Errorf("marshal source_account: %w", err)
	}

	query := `
		INSERT INTO outgoing_payments (
			id, super_account_id, account_id, client_token, state, state_attempts,
			target_type, intent, source_account, process_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (super_account_id, client_token) DO NOTHING
		RETURNING id
	`

	var returnedID uuid.UUID
	err = s.queryRow(ctx, query,
		p.ID, p.SuperAccountID, p.AccountID, p.ClientToken, p.State, p.StateAttempts,
		p.Intent.TargetType(), intentJSON, sourceJSON, p.ProcessAt,
	).Scan(&returnedID)

	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("insert payment: %w", err)
	}

	existing, getErr := s.GetByClientToken(ctx, p.SuperAccountID, p.ClientToken)
	if getErr != nil {
		return false, fmt.Errorf("fetch existing payment for client token: %w", getErr)
	}
	*p = *existing
	return false, nil
}

// GetByID reads a payment with no lock.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	query := "SELECT " + paymentColumns + " FROM outgoing_payments WHERE id = $1"
	return scanPayment(s.queryRow(ctx, query, id))
}

// GetByClientToken reads a payment by its idempotency key.
func (s *Store) GetByClientToken(ctx context.Context, superAccountID uuid.UUID, clientToken string) (*payment.Payment, error) {
	query := "SELECT " + paymentColumns + " FROM outgoing_payments WHERE super_account_id = $1 AND client_token = $2"
	return scanPayment(s.queryRow(ctx, query, superAccountID, clientToken))
}

// GetByIDForUpdate reads a payment within tx, holding a row lock until
// the transaction commits or rolls back — the precondition check every
// Command-API mutator needs before validating and patching state.
func (s *Store) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*payment.Payment, error) {
	query := "SELECT " + paymentColumns + " FROM outgoing_payments WHERE id = $1 FOR UPDATE"
	row := tx.QueryRow(ctx, query, id)
	return scanPayment(row)
}

// Patch is a partial update applied to a locked payment row. A nil Quote
// or Error leaves that column unchanged unless the matching Clear flag is
// set, in which case the column is reset to NULL — requote's "quote=null,
// error=null" reset needs this distinction; COALESCE alone cannot tell
// "no change" from "set to null".
type Patch struct {
	State              payment.State
	StateAttempts      int
	DestinationAccount *payment.Account
	Quote              *payment.Quote
	ClearQuote         bool
	Error              *payment.Error
	ClearError         bool
	ProcessAt          time.Time
}

// Patch applies a state transition within tx, guarded by a
// compare-and-swap on the row's current state — the same defense the
// teacher's TransitionStatus applies, here layered on top of the
// FOR UPDATE lock the worker/command layer already holds so a stale
// caller still fails loudly instead of clobbering a newer transition.
func (s *Store) Patch(ctx context.Context, tx pgx.Tx, id uuid.UUID, fromState payment.State, patch Patch) error {
	var destJSON, quoteJSON []byte
	var errorCode *string
	var err error

	if patch.DestinationAccount != nil {
		destJSON, err = json.Marshal(patch.DestinationAccount)
		if err != nil {
			return fmt.Errorf("marshal destination_account: %w", err)
		}
	}
	if patch.Quote != nil {
		quoteJSON, err = json.Marshal(patch.Quote)
		if err != nil {
			return fmt.Errorf("marshal quote: %w", err)
		}
	}
	if patch.Error != nil {
		code := string(patch.Error.Code)
		errorCode = &code
	}

	query := `
		UPDATE outgoing_payments
		SET state = $3, state_attempts = $4,
		    destination_account = COALESCE($5, destination_account),
		    quote = CASE WHEN $9 THEN NULL ELSE COALESCE($6, quote) END,
		    error_code = CASE WHEN $10 THEN NULL ELSE COALESCE($7, error_code) END,
		    process_at = $8,
		    updated_at = NOW()
		WHERE id = $1 AND state = $2
	`

	tag, err := tx.Exec(ctx, query,
		id, fromState, patch.State, patch.StateAttempts,
		destJSON, quoteJSON, errorCode, patch.ProcessAt,
		patch.ClearQuote, patch.ClearError,
	)
	if err != nil {
		return fmt.Errorf("patch payment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// NextEligible locks and returns up to limit payments ready for worker
// processing — ProcessAt has passed and the state isn't terminal — using
// FOR UPDATE SKIP LOCKED so concurrent worker-pool goroutines never
// contend for the same row, mirroring GetPendingSettlements in the
// teacher's db package. The caller owns the returned transaction and
// must commit or roll it back once every row's Patch has been applied.
func (s *Store) NextEligible(ctx context.Context, limit int) ([]*payment.Payment, pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}

	query := `
		SELECT ` + paymentColumns + `
		FROM outgoing_payments
		WHERE state NOT IN ('COMPLETED', 'CANCELLED')
		  AND process_at <= NOW()
		ORDER BY process_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, nil, fmt.Errorf("query eligible payments: %w", err)
	}
	defer rows.Close()

	var out []*payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, nil, fmt.Errorf("scan eligible payment: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		_ = tx.Rollback(ctx)
		return nil, nil, err
	}

	return out, tx, nil
}

// PageInfo describes a keyset page's boundary relative to the full
// result set.
type PageInfo struct {
	HasNextPage     bool
	HasPreviousPage bool
	StartCursor     string
	EndCursor       string
}

// ListByAccount returns a forward keyset page of payments for an
// account ordered by creation time. It fetches one row beyond the
// requested limit to determine HasNextPage without a separate COUNT
// query, then trims that probe row before returning.
func (s *Store) ListByAccount(ctx context.Context, accountID uuid.UUID, after string, limit int) ([]*payment.Payment, PageInfo, error) {
	if limit <= 0 {
		limit = 20
	}

	args := []any{accountID, limit + 1}
	query := "SELECT " + paymentColumns + " FROM outgoing_payments WHERE account_id = $1"

	if after != "" {
		createdAt, id, err := decodeCursor(after)
		if err != nil {
			return nil, PageInfo{}, fmt.Errorf("decode cursor: %w", err)
		}
		query += " AND (created_at, id) > ($3, $4)"
		args = append(args, createdAt, id)
	}
	query += " ORDER BY created_at ASC, id ASC LIMIT $2"

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, PageInfo{}, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []*payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, PageInfo{}, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, PageInfo{}, err
	}

	info := PageInfo{HasPreviousPage: after != ""}
	if len(out) > limit {
		info.HasNextPage = true
		out = out[:limit]
	}
	if len(out) > 0 {
		info.StartCursor = encodeCursor(out[0])
		info.EndCursor = encodeCursor(out[len(out)-1])
	}

	return out, info, nil
}

func encodeCursor(p *payment.Payment) string {
	return fmt.Sprintf("%d:%s", p.CreatedAt.UnixNano(), p.ID)
}

func decodeCursor(cursor string) (time.Time, uuid.UUID, error) {
	var nanos int64
	var idStr string
	if _, err := fmt.Sscanf(cursor, "%d:%s", &nanos, &idStr); err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor %q", cursor)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor id %q", idStr)
	}
	return time.Unix(0, nanos), id, nil
}
