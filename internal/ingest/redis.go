package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"workyard-sim/internal/logging"
)

// DefaultRedisKey is the list producers push arrival JSON onto.
const DefaultRedisKey = "workyard:arrivals"

// redisClient is the subset of *redis.Client the source needs.
type redisClient interface {
	LPop(ctx context.Context, key string) *redis.StringCmd
}

// RedisSource drains arrivals pushed onto a Redis list by external
// producers. Each element is one JSON Arrival; its Tick is overwritten with
// the tick it was popped at.
type RedisSource struct {
	client     redisClient
	key        string
	maxPerTick int
}

// NewRedisSource connects to addr. maxPerTick bounds how many arrivals one
// tick admits; zero means 64.
func NewRedisSource(addr, key string, maxPerTick int) *RedisSource {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return newRedisSource(rdb, key, maxPerTick)
}

func newRedisSource(c redisClient, key string, maxPerTick int) *RedisSource {
	if key == "" {
		key = DefaultRedisKey
	}
	if maxPerTick <= 0 {
		maxPerTick = 64
	}
	return &RedisSource{client: c, key: key, maxPerTick: maxPerTick}
}

// Ping checks connectivity when the client supports it.
func (s *RedisSource) Ping(ctx context.Context) error {
	if p, ok := s.client.(interface {
		Ping(context.Context) *redis.StatusCmd
	}); ok {
		return p.Ping(ctx).Err()
	}
	return nil
}

// Poll implements Source. Malformed elements are logged and skipped.
func (s *RedisSource) Poll(ctx context.Context, tick uint64) ([]Arrival, error) {
	log := logging.FromContext(ctx)
	var out []Arrival
	for range s.maxPerTick {
		raw, err := s.client.LPop(ctx, s.key).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("redis pop %s: %w", s.key, err)
		}
		var a Arrival
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			log.Warn("dropping malformed arrival", "key", s.key, "err", err)
			continue
		}
		a.Tick = tick
		out = append(out, a)
	}
	return out, nil
}
