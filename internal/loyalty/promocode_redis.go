package loyalty

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
	"github.com/richxcame/store-loyalty/pkg/redis"
)

const promoCodeKeyPrefix = "loyalty:promo:"

// compare-and-set in one script so concurrent submitters cannot both match
var consumeScript = goredis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// RedisCodeStore keeps codes in Redis so every replica sees the same value
type RedisCodeStore struct {
	client *redis.Client
	gen    CodeGenerator
}

// NewRedisCodeStore creates a code store backed by Redis
func NewRedisCodeStore(client *redis.Client, gen CodeGenerator) *RedisCodeStore {
	if gen == nil {
		gen = RandomCode
	}
	return &RedisCodeStore{client: client, gen: gen}
}

func promoCodeKey(storeID int64) string {
	return promoCodeKeyPrefix + strconv.FormatInt(storeID, 10)
}

// CurrentCode returns the active code, issuing one on first use
func (s *RedisCodeStore) CurrentCode(ctx context.Context, storeID int64) (int, error) {
	key := promoCodeKey(storeID)

	code, found, err := s.client.GetInt(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to get promo code: %w", err)
	}
	if found {
		return code, nil
	}

	if _, err := s.client.SetIfAbsent(ctx, key, strconv.Itoa(s.gen())); err != nil {
		return 0, fmt.Errorf("failed to issue promo code: %w", err)
	}

	// another replica may have won the SETNX
	code, found, err = s.client.GetInt(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to get promo code: %w", err)
	}
	if !found {
		return 0, fmt.Errorf("promo code for store %d vanished after issue", storeID)
	}
	return code, nil
}

// TryConsume runs the compare-and-rotate script
func (s *RedisCodeStore) TryConsume(ctx context.Context, storeID int64, submitted int) (*Rotation, error) {
	if !validPromoCode(submitted) {
		return nil, nil
	}

	next := nextCode(s.gen, submitted)
	matched, err := s.swap(ctx, storeID, submitted, next)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate promo code: %w", err)
	}
	if !matched {
		return nil, nil
	}
	return &Rotation{StoreID: storeID, Previous: submitted, Current: next}, nil
}

// Revert runs the same script with the codes swapped
func (s *RedisCodeStore) Revert(ctx context.Context, r Rotation) error {
	if _, err := s.swap(ctx, r.StoreID, r.Current, r.Previous); err != nil {
		return fmt.Errorf("failed to revert promo code: %w", err)
	}
	return nil
}

func (s *RedisCodeStore) swap(ctx context.Context, storeID int64, from, to int) (bool, error) {
	matched, err := consumeScript.Run(ctx, s.client,
		[]string{promoCodeKey(storeID)},
		strconv.Itoa(from), strconv.Itoa(to),
	).Int()
	if err != nil {
		return false, err
	}
	return matched == 1, nil
}
