// Package memory contains an in-process implementation of the token repository.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/doutorizze/discount-tokens/internal/errs"
	"github.com/doutorizze/discount-tokens/internal/model"
)

// TokenRepo keeps tokens keyed by code with a secondary index by user.
type TokenRepo struct {
	mu     sync.RWMutex
	byCode map[string]*model.Token
	byUser map[string][]string
}

// NewTokenRepo constructs an empty in-memory repository.
func NewTokenRepo() *TokenRepo {
	return &TokenRepo{
		byCode: make(map[string]*model.Token),
		byUser: make(map[string][]string),
	}
}

// Create inserts a copy of t.
func (r *TokenRepo) Create(_ context.Context, t *model.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byCode[t.Code]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *t
	r.byCode[t.Code] = &cp
	r.byUser[t.UserID] = append(r.byUser[t.UserID], t.Code)
	return nil
}

// GetByCode returns a copy of the stored token.
func (r *TokenRepo) GetByCode(_ context.Context, code string) (*model.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byCode[code]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListByUser returns copies of the user's tokens in insertion order.
func (r *TokenRepo) ListByUser(_ context.Context, userID string) ([]model.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := r.byUser[userID]
	out := make([]model.Token, 0, len(codes))
	for _, c := range codes {
		out = append(out, *r.byCode[c])
	}
	return out, nil
}

// MarkUsed performs the unused -> used transition under the write lock.
func (r *TokenRepo) MarkUsed(
	_ context.Context, code string, usedAt time.Time, partner string, saved decimal.Decimal,
) (*model.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byCode[code]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if t.Used {
		return nil, errs.ErrAlreadyUsed
	}
	t.MarkRedeemed(usedAt, partner, saved)
	cp := *t
	return &cp, nil
}

// ListExpiredUnused scans all tokens for the expiry sweep.
func (r *TokenRepo) ListExpiredUnused(_ context.Context, now time.Time) ([]model.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Token
	for _, t := range r.byCode {
		if !t.Used && t.Expired(now) {
			out = append(out, *t)
		}
	}
	return out, nil
}
