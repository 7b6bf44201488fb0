// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/doutorizze/discount-tokens/internal/model"
)

// TokenRepository provides access to discount tokens.
type TokenRepository interface {
	// Create inserts a new token; a taken code yields errs.ErrAlreadyExists.
	Create(ctx context.Context, t *model.Token) error

	// GetByCode loads a token by its code, or errs.ErrNotFound.
	GetByCode(ctx context.Context, code string) (*model.Token, error)

	// ListByUser returns every token owned by userID, in no particular order.
	ListByUser(ctx context.Context, userID string) ([]model.Token, error)

	// MarkUsed atomically flips an unused token to used and records redemption data.
	// It returns errs.ErrAlreadyUsed if the token was used before, errs.ErrNotFound if absent.
	MarkUsed(ctx context.Context, code string, usedAt time.Time, partner string, saved decimal.Decimal) (*model.Token, error)

	// ListExpiredUnused returns tokens with expiry before now that were never used.
	ListExpiredUnused(ctx context.Context, now time.Time) ([]model.Token, error)
}
