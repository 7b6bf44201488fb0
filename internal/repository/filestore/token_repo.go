// Package filestore persists the whole token list as one JSON document on disk.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/doutorizze/discount-tokens/internal/errs"
	"github.com/doutorizze/discount-tokens/internal/model"
)

// StorageKey names the document holding the serialized token list.
const StorageKey = "doutorizze_discount_tokens"

// TokenRepo reads and rewrites the full list on every call.
type TokenRepo struct {
	mu   sync.Mutex
	path string
}

// NewTokenRepo constructs a repository storing its document under dir.
func NewTokenRepo(dir string) (*TokenRepo, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &TokenRepo{path: filepath.Join(dir, StorageKey+".json")}, nil
}

// Path returns the document location.
func (r *TokenRepo) Path() string { return r.path }

// Reset discards the stored list, recovering from ErrStorageCorrupted.
func (r *TokenRepo) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(nil)
}

func (r *TokenRepo) load() ([]model.Token, error) {
	b, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	var list []model.Token
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", r.path, errs.ErrStorageCorrupted, err)
	}
	return list, nil
}

func (r *TokenRepo) save(list []model.Token) error {
	if list == nil {
		list = []model.Token{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), StorageKey+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), r.path)
}

// Create appends t to the stored list.
func (r *TokenRepo) Create(_ context.Context, t *model.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, err := r.load()
	if err != nil {
		return err
	}
	for i := range list {
		if list[i].Code == t.Code {
			return errs.ErrAlreadyExists
		}
	}
	return r.save(append(list, *t))
}

// GetByCode scans the stored list for code.
func (r *TokenRepo) GetByCode(_ context.Context, code string) (*model.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, err := r.load()
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Code == code {
			return &list[i], nil
		}
	}
	return nil, errs.ErrNotFound
}

// ListByUser filters the stored list by owner.
func (r *TokenRepo) ListByUser(_ context.Context, userID string) ([]model.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]model.Token, 0)
	for _, t := range list {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

// MarkUsed flips the matching record and rewrites the document.
func (r *TokenRepo) MarkUsed(
	_ context.Context, code string, usedAt time.Time, partner string, saved decimal.Decimal,
) (*model.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, err := r.load()
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Code != code {
			continue
		}
		if list[i].Used {
			return nil, errs.ErrAlreadyUsed
		}
		list[i].MarkRedeemed(usedAt, partner, saved)
		if err := r.save(list); err != nil {
			return nil, err
		}
		t := list[i]
		return &t, nil
	}
	return nil, errs.ErrNotFound
}

// ListExpiredUnused filters the stored list for the expiry sweep.
func (r *TokenRepo) ListExpiredUnused(_ context.Context, now time.Time) ([]model.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, err := r.load()
	if err != nil {
		return nil, err
	}
	var out []model.Token
	for _, t := range list {
		if !t.Used && t.Expired(now) {
			out = append(out, t)
		}
	}
	return out, nil
}
