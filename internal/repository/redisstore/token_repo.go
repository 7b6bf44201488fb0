// Package redisstore contains a Redis implementation of the token repository.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/doutorizze/discount-tokens/internal/errs"
	"github.com/doutorizze/discount-tokens/internal/model"
)

const maxTxRetries = 5

// createScript indexes the code before writing the value, so a failed SADD
// leaves nothing behind.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('SADD', KEYS[2], ARGV[2])
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// TokenRepo stores each token as a JSON value with a code set per user.
//
//	<prefix>:token:<code> -> JSON token
//	<prefix>:user:<id>    -> SET of codes
type TokenRepo struct {
	client redis.UniversalClient
	prefix string
}

// NewTokenRepo constructs a Redis-backed repository.
func NewTokenRepo(client redis.UniversalClient, prefix string) *TokenRepo {
	if prefix == "" {
		prefix = "dt"
	}
	return &TokenRepo{client: client, prefix: prefix}
}

func (r *TokenRepo) tokenKey(code string) string { return fmt.Sprintf("%s:token:%s", r.prefix, code) }

func (r *TokenRepo) userKey(userID string) string { return fmt.Sprintf("%s:user:%s", r.prefix, userID) }

// Create claims the code and indexes it under the owner in one script call.
func (r *TokenRepo) Create(ctx context.Context, t *model.Token) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	keys := []string{r.tokenKey(t.Code), r.userKey(t.UserID)}
	created, err := createScript.Run(ctx, r.client, keys, b, t.Code).Int()
	if err != nil {
		return err
	}
	if created == 0 {
		return errs.ErrAlreadyExists
	}
	return nil
}

// GetByCode loads and decodes a single token.
func (r *TokenRepo) GetByCode(ctx context.Context, code string) (*model.Token, error) {
	b, err := r.client.Get(ctx, r.tokenKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(b)
}

// ListByUser resolves the user's code set with a single MGET.
func (r *TokenRepo) ListByUser(ctx context.Context, userID string) ([]model.Token, error) {
	codes, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		return []model.Token{}, nil
	}
	keys := make([]string, len(codes))
	for i, c := range codes {
		keys[i] = r.tokenKey(c)
	}
	return r.mget(ctx, keys)
}

// MarkUsed flips the token under WATCH so concurrent redeemers cannot both succeed.
func (r *TokenRepo) MarkUsed(
	ctx context.Context, code string, usedAt time.Time, partner string, saved decimal.Decimal,
) (*model.Token, error) {
	key := r.tokenKey(code)
	var out *model.Token
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return errs.ErrNotFound
		}
		if err != nil {
			return err
		}
		t, err := decode(b)
		if err != nil {
			return err
		}
		if t.Used {
			return errs.ErrAlreadyUsed
		}
		t.MarkRedeemed(usedAt, partner, saved)
		nb, err := json.Marshal(t)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, nb, 0)
			return nil
		})
		if err == nil {
			out = t
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("mark used %s: %w", code, redis.TxFailedErr)
}

// ListExpiredUnused walks every token key with SCAN.
func (r *TokenRepo) ListExpiredUnused(ctx context.Context, now time.Time) ([]model.Token, error) {
	var out []model.Token
	iter := r.client.Scan(ctx, 0, r.prefix+":token:*", 200).Iterator()
	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		list, err := r.mget(ctx, batch)
		if err != nil {
			return err
		}
		for _, t := range list {
			if !t.Used && t.Expired(now) {
				out = append(out, t)
			}
		}
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 200 {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *TokenRepo) mget(ctx context.Context, keys []string) ([]model.Token, error) {
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.Token, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			// index entry without a value
			continue
		}
		t, err := decode([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func decode(b []byte) (*model.Token, error) {
	var t model.Token
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorageCorrupted, err)
	}
	return &t, nil
}
