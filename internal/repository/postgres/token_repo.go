package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/doutorizze/discount-tokens/internal/errs"
	"github.com/doutorizze/discount-tokens/internal/model"
)

const tokenColumns = `id, code, user_id, tipo, percentual, valor_maximo_cents, usado, usado_em, usado_em_parceiro, valor_economizado_cents, criado_em, expira_em`

// TokenRepo implements TokenRepository using PostgreSQL.
type TokenRepo struct{ db *DB }

// NewTokenRepo constructs a token repository.
func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

// Create inserts a new token row.
func (r *TokenRepo) Create(ctx context.Context, t *model.Token) error {
	const q = `
INSERT INTO discount_tokens (id, code, user_id, tipo, percentual, valor_maximo_cents, criado_em, expira_em)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Pool.Exec(ctx, q,
		t.ID, t.Code, t.UserID, string(t.Type), t.Percent, toCents(t.MaxDiscount), t.CreatedAt, t.ExpiresAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByCode selects a token by code.
func (r *TokenRepo) GetByCode(ctx context.Context, code string) (*model.Token, error) {
	const q = `SELECT ` + tokenColumns + ` FROM discount_tokens WHERE code=$1`
	t, err := scanToken(r.db.Pool.QueryRow(ctx, q, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// ListByUser selects all tokens of a user.
func (r *TokenRepo) ListByUser(ctx context.Context, userID string) ([]model.Token, error) {
	const q = `SELECT ` + tokenColumns + ` FROM discount_tokens WHERE user_id=$1`
	return r.list(ctx, q, userID)
}

// ListExpiredUnused selects tokens past expiry that were never used.
func (r *TokenRepo) ListExpiredUnused(ctx context.Context, now time.Time) ([]model.Token, error) {
	const q = `SELECT ` + tokenColumns + ` FROM discount_tokens WHERE NOT usado AND expira_em<$1`
	return r.list(ctx, q, now)
}

// MarkUsed applies the conditional transition in a single statement.
// When nothing matched, a follow-up lookup tells not-found from already-used.
func (r *TokenRepo) MarkUsed(
	ctx context.Context, code string, usedAt time.Time, partner string, saved decimal.Decimal,
) (*model.Token, error) {
	const upd = `
UPDATE discount_tokens
SET usado=true, usado_em=$2, usado_em_parceiro=$3, valor_economizado_cents=$4
WHERE code=$1 AND NOT usado
RETURNING ` + tokenColumns
	var p *string
	if partner != "" {
		p = &partner
	}
	t, err := scanToken(r.db.Pool.QueryRow(ctx, upd, code, usedAt, p, toCents(saved)))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	const sel = `SELECT usado FROM discount_tokens WHERE code=$1`
	var used bool
	if err := r.db.Pool.QueryRow(ctx, sel, code).Scan(&used); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return nil, errs.ErrAlreadyUsed
}

func (r *TokenRepo) list(ctx context.Context, q string, args ...any) ([]model.Token, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanToken(row pgx.Row) (*model.Token, error) {
	var (
		t        model.Token
		tipo     string
		maxCents int64
		saved    *int64
	)
	if err := row.Scan(&t.ID, &t.Code, &t.UserID, &tipo, &t.Percent, &maxCents,
		&t.Used, &t.UsedAt, &t.UsedAtPartner, &saved, &t.CreatedAt, &t.ExpiresAt); err != nil {
		return nil, err
	}
	t.Type = model.TokenType(tipo)
	t.MaxDiscount = fromCents(maxCents)
	if saved != nil {
		s := fromCents(*saved)
		t.Saved = &s
	}
	return &t, nil
}
