package negotiation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"negotiator/pkg/utils"

	"github.com/shopspring/decimal"
)

// Schema creates the negotiations table. One row per negotiation keyed by id.
const Schema = `
CREATE TABLE IF NOT EXISTS negotiations (
	id                TEXT PRIMARY KEY,
	owner_id          TEXT,
	phone_number      TEXT NOT NULL,
	category          TEXT NOT NULL,
	request           TEXT NOT NULL,
	reference_number  TEXT,
	evidence_ref      TEXT,
	provider_call_id  TEXT,
	status            TEXT NOT NULL,
	refund_amount     NUMERIC(12,2),
	confirmation_code TEXT,
	completed_at      TIMESTAMPTZ,
	failure_reason    TEXT,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS negotiations_owner_created_idx ON negotiations (owner_id, created_at DESC);
`

const negotiationColumns = `id, owner_id, phone_number, category, request, reference_number, evidence_ref,
provider_call_id, status, refund_amount, confirmation_code, completed_at, failure_reason, created_at, updated_at`

// PostgresStore is a durable Store. Updates lock the row with SELECT ... FOR
// UPDATE inside a transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema applies Schema. Safe to run on every start.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("negotiation: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, n Negotiation) error {
	const q = `
INSERT INTO negotiations (` + negotiationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`
	_, err := s.db.ExecContext(ctx, q, rowArgs(n)...)
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateID, n.ID)
		}
		return err
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Negotiation, error) {
	const q = `SELECT ` + negotiationColumns + ` FROM negotiations WHERE id = $1`
	n, err := scanNegotiation(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Negotiation{}, &NotFoundError{ID: id}
	}
	return n, err
}

func (s *PostgresStore) Update(ctx context.Context, id string, fn UpdateFunc) (Negotiation, error) {
	const lockQ = `SELECT ` + negotiationColumns + ` FROM negotiations WHERE id = $1 FOR UPDATE`
	const updateQ = `
UPDATE negotiations
SET provider_call_id = $2, status = $3, refund_amount = $4, confirmation_code = $5,
    completed_at = $6, failure_reason = $7, updated_at = $8
WHERE id = $1
`
	var out Negotiation
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := scanNegotiation(tx.QueryRowContext(ctx, lockQ, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return &NotFoundError{ID: id}
			}
			return err
		}
		out = cur.clone()

		next := cur.clone()
		if err := fn(&next); err != nil {
			return err
		}
		refund, code, completedAt := outcomeArgs(next.Outcome)
		if _, err := tx.ExecContext(ctx, updateQ,
			next.ID,
			nullString(next.ProviderCallID),
			string(next.Status),
			refund,
			code,
			completedAt,
			nullString(next.FailureReason),
			next.UpdatedAt,
		); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

// ListByOwner returns the owner's negotiations, newest first. limit <= 0
// returns all of them.
func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Negotiation, error) {
	q := `SELECT ` + negotiationColumns + `
FROM negotiations
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC`
	args := []any{ownerID}
	if limit > 0 {
		q += "\nLIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Negotiation, 0)
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNegotiation(row rowScanner) (Negotiation, error) {
	var (
		n                                         Negotiation
		owner, ref, evidence, callID, code, fail sql.NullString
		category, status                          string
		refund                                    decimal.NullDecimal
		completedAt                               sql.NullTime
	)
	if err := row.Scan(
		&n.ID,
		&owner,
		&n.PhoneNumber,
		&category,
		&n.Request,
		&ref,
		&evidence,
		&callID,
		&status,
		&refund,
		&code,
		&completedAt,
		&fail,
		&n.CreatedAt,
		&n.UpdatedAt,
	); err != nil {
		return Negotiation{}, err
	}

	c, err := ParseCategory(category)
	if err != nil {
		return Negotiation{}, err
	}
	n.Category = c
	n.Status = Status(status)
	if !n.Status.Valid() {
		return Negotiation{}, fmt.Errorf("negotiation: unknown status %q for %s", status, n.ID)
	}
	n.OwnerID = owner.String
	n.ReferenceNumber = ref.String
	n.EvidenceRef = evidence.String
	n.ProviderCallID = callID.String
	n.FailureReason = fail.String
	if n.Status == StatusCompleted {
		n.Outcome = &Outcome{
			RefundAmount:     refund.Decimal,
			ConfirmationCode: code.String,
			CompletedAt:      completedAt.Time,
		}
	}
	return n, nil
}

func rowArgs(n Negotiation) []any {
	refund, code, completedAt := outcomeArgs(n.Outcome)
	return []any{
		n.ID,
		nullString(n.OwnerID),
		n.PhoneNumber,
		string(n.Category),
		n.Request,
		nullString(n.ReferenceNumber),
		nullString(n.EvidenceRef),
		nullString(n.ProviderCallID),
		string(n.Status),
		refund,
		code,
		completedAt,
		nullString(n.FailureReason),
		n.CreatedAt,
		n.UpdatedAt,
	}
}

func outcomeArgs(o *Outcome) (decimal.NullDecimal, sql.NullString, sql.NullTime) {
	if o == nil {
		return decimal.NullDecimal{}, sql.NullString{}, sql.NullTime{}
	}
	return decimal.NullDecimal{Decimal: o.RefundAmount, Valid: true},
		sql.NullString{String: o.ConfirmationCode, Valid: true},
		sql.NullTime{Time: o.CompletedAt, Valid: !o.CompletedAt.IsZero()}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
