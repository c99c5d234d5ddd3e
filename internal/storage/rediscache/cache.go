// Package rediscache provides a read-through Redis cache in front of a
// promo.Store for code lookups on the checkout path.
package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/promo"
	"github.com/xenking/promo-engine/internal/promojson"
)

const (
	codeKeyPrefix = "promo:code:"
	idKeyPrefix   = "promo:id:"
	// cachedSet tracks every cached code so bulk status changes can drop them.
	cachedSet = "promo:cached"
)

var _ promo.Store = (*Store)(nil)

// Store caches GetByCode results of the wrapped store. Every write that can
// change a cached policy invalidates it. Redis failures fall back to the
// wrapped store.
type Store struct {
	promo.Store
	client *redis.Client
	ttl    time.Duration
}

// New wraps next with a cache whose entries live for ttl.
func New(next promo.Store, client *redis.Client, ttl time.Duration) *Store {
	return &Store{Store: next, client: client, ttl: ttl}
}

// GetByCode returns the cached policy or loads and caches it.
func (s *Store) GetByCode(ctx context.Context, code string) (*promo.Policy, error) {
	data, err := s.client.Get(ctx, codeKeyPrefix+code).Bytes()
	switch {
	case err == nil:
		p, err := promojson.UnmarshalPolicy(data)
		if err == nil {
			return p, nil
		}
		s.warn(ctx, "Decode cached promo", code, err)
	case errors.Is(err, redis.Nil):
	default:
		s.warn(ctx, "Read promo cache", code, err)
	}

	p, err := s.Store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.put(ctx, p); err != nil {
		s.warn(ctx, "Fill promo cache", code, err)
	}
	return p, nil
}

// Update invalidates the policy after a successful write.
func (s *Store) Update(ctx context.Context, p *promo.Policy, expectedUsed int) (bool, error) {
	ok, err := s.Store.Update(ctx, p, expectedUsed)
	if ok {
		s.invalidate(ctx, p.ID)
	}
	return ok, err
}

// Delete invalidates the policy after it is removed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := s.Store.Delete(ctx, id)
	if ok {
		s.invalidate(ctx, id)
	}
	return ok, err
}

// Redeem invalidates the policy once its counter moved.
func (s *Store) Redeem(ctx context.Context, r promo.Redemption) (*promo.Policy, error) {
	p, err := s.Store.Redeem(ctx, r)
	if err == nil {
		s.invalidate(ctx, r.PolicyID)
	}
	return p, err
}

// ExpireStale drops every cached policy when any status changed.
func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.Store.ExpireStale(ctx, now)
	if err != nil || n == 0 {
		return n, err
	}
	if err := s.flush(ctx); err != nil {
		s.warn(ctx, "Flush promo cache", "", err)
	}
	return n, nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) put(ctx context.Context, p *promo.Policy) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, codeKeyPrefix+p.Code, promojson.MarshalPolicy(p), s.ttl)
		pipe.Set(ctx, idKeyPrefix+p.ID, p.Code, s.ttl)
		pipe.SAdd(ctx, cachedSet, p.Code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set promo: %w", err)
	}
	return nil
}

func (s *Store) invalidate(ctx context.Context, id string) {
	code, err := s.client.GetDel(ctx, idKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return
	}
	if err != nil {
		s.warn(ctx, "Invalidate promo cache", id, err)
		return
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, codeKeyPrefix+code)
		pipe.SRem(ctx, cachedSet, code)
		return nil
	})
	if err != nil {
		s.warn(ctx, "Invalidate promo cache", id, err)
	}
}

func (s *Store) flush(ctx context.Context) error {
	codes, err := s.client.SMembers(ctx, cachedSet).Result()
	if err != nil {
		return fmt.Errorf("redis list cached promos: %w", err)
	}
	if len(codes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(codes)+1)
	for _, code := range codes {
		keys = append(keys, codeKeyPrefix+code)
	}
	keys = append(keys, cachedSet)
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis flush promos: %w", err)
	}
	return nil
}

func (s *Store) warn(ctx context.Context, msg, key string, err error) {
	zctx.From(ctx).Warn(msg, zap.String("key", key), zap.Error(err))
}
