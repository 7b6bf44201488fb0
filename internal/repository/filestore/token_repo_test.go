package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/doutorizze/discount-tokens/internal/errs"
	"github.com/doutorizze/discount-tokens/internal/model"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func tok(code, user string, expires time.Time) *model.Token {
	return &model.Token{Code: code, UserID: user, Type: model.TypeLoyalty, Percent: 25,
		MaxDiscount: model.MaxDiscountFor(25), CreatedAt: t0, ExpiresAt: expires}
}

func newRepo(t *testing.T) *TokenRepo {
	t.Helper()
	r, err := NewTokenRepo(t.TempDir())
	require.NoError(t, err)
	return r
}

func TestTokenRepo_MissingFileIsEmpty(t *testing.T) {
	r := newRepo(t)
	list, err := r.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, list)
	require.Equal(t, StorageKey+".json", filepath.Base(r.Path()))
}

func TestTokenRepo_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r, err := NewTokenRepo(dir)
	require.NoError(t, err)

	require.NoError(t, r.Create(ctx, tok("DESC-AAAA-0001", "u1", t0.Add(model.Day))))
	require.ErrorIs(t, r.Create(ctx, tok("DESC-AAAA-0001", "u2", t0)), errs.ErrAlreadyExists)
	_, err = r.MarkUsed(ctx, "DESC-AAAA-0001", t0, "", decimal.RequireFromString("12.50"))
	require.NoError(t, err)

	r2, err := NewTokenRepo(dir)
	require.NoError(t, err)
	got, err := r2.GetByCode(ctx, "DESC-AAAA-0001")
	require.NoError(t, err)
	require.True(t, got.Used)
	require.True(t, got.Saved.Equal(decimal.RequireFromString("12.5")))
	require.True(t, got.MaxDiscount.Equal(decimal.NewFromInt(100)))
	require.Nil(t, got.UsedAtPartner)
	require.True(t, got.ExpiresAt.Equal(t0.Add(model.Day)))
}

func TestTokenRepo_MarkUsedTwice(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	require.NoError(t, r.Create(ctx, tok("DESC-AAAA-0001", "u1", t0.Add(model.Day))))

	_, err := r.MarkUsed(ctx, "DESC-AAAA-0001", t0, "Parceiro X", decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = r.MarkUsed(ctx, "DESC-AAAA-0001", t0, "", decimal.NewFromInt(10))
	require.ErrorIs(t, err, errs.ErrAlreadyUsed)
	_, err = r.MarkUsed(ctx, "DESC-ZZZZ-ZZZZ", t0, "", decimal.NewFromInt(10))
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestTokenRepo_ListExpiredUnused(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	require.NoError(t, r.Create(ctx, tok("DESC-OLD0-0001", "u1", t0.Add(-model.Day))))
	require.NoError(t, r.Create(ctx, tok("DESC-NEW0-0001", "u1", t0.Add(model.Day))))

	list, err := r.ListExpiredUnused(ctx, t0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "DESC-OLD0-0001", list[0].Code)
}

func TestTokenRepo_CorruptedDocument(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	require.NoError(t, os.WriteFile(r.Path(), []byte("{not json"), 0o600))

	_, err := r.GetByCode(ctx, "DESC-AAAA-0001")
	require.ErrorIs(t, err, errs.ErrStorageCorrupted)
	_, err = r.ListByUser(ctx, "u1")
	require.ErrorIs(t, err, errs.ErrStorageCorrupted)
	require.ErrorIs(t, r.Create(ctx, tok("DESC-AAAA-0001", "u1", t0)), errs.ErrStorageCorrupted)

	require.NoError(t, r.Reset())
	require.NoError(t, r.Create(ctx, tok("DESC-AAAA-0001", "u1", t0)))
	list, err := r.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestTokenRepo_EmptyFileIsEmpty(t *testing.T) {
	r := newRepo(t)
	require.NoError(t, os.WriteFile(r.Path(), nil, 0o600))
	list, err := r.ListExpiredUnused(context.Background(), t0)
	require.NoError(t, err)
	require.Empty(t, list)
}
