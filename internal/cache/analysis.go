package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tgrady/market-risk-service/internal/models"
)

const (
	analysisKeyPrefix = "analysis:"
	symbolIndexPrefix = "analysis-idx:"
)

// AnalysisStore is the persistent tier for computed analysis results, backed
// by Redis. Results key by request fingerprint so identical requests collapse
// to one row; a write supersedes the previous value for the same key. A
// per-symbol index set makes symbol-scoped invalidation possible even though
// fingerprints are opaque.
type AnalysisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAnalysisStore wraps a Redis client with the analysis TTL.
func NewAnalysisStore(client *redis.Client, ttl time.Duration) *AnalysisStore {
	return &AnalysisStore{client: client, ttl: ttl}
}

// Get returns the cached result for a fingerprint, or nil on miss. Redis
// expiry handles the TTL; anything still readable is within its window.
func (s *AnalysisStore) Get(ctx context.Context, fingerprint string) (*models.AnalysisResult, error) {
	data, err := s.client.Get(ctx, analysisKeyPrefix+fingerprint).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("analysis cache get: %w", err)
	}
	var result models.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("analysis cache decode: %w", err)
	}
	return &result, nil
}

// Put stores a result under its key and indexes it by symbol for targeted
// invalidation. The index lives slightly longer than the value so a sweep
// never misses a live entry.
func (s *AnalysisStore) Put(ctx context.Context, result *models.AnalysisResult, symbols []string) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("analysis cache encode: %w", err)
	}

	pipe := s.client.TxPipeline()
	key := analysisKeyPrefix + result.Key
	pipe.Set(ctx, key, data, s.ttl)
	for _, sym := range symbols {
		idx := symbolIndexPrefix + sym
		pipe.SAdd(ctx, idx, key)
		pipe.Expire(ctx, idx, 2*s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("analysis cache put: %w", err)
	}
	return nil
}

// InvalidateSymbol drops every analysis result that used the symbol and
// returns the number of entries cleared.
func (s *AnalysisStore) InvalidateSymbol(ctx context.Context, symbol string) (int, error) {
	idx := symbolIndexPrefix + symbol
	keys, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, fmt.Errorf("analysis cache index read: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	removed, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("analysis cache delete: %w", err)
	}
	if err := s.client.Del(ctx, idx).Err(); err != nil {
		return int(removed), fmt.Errorf("analysis cache index delete: %w", err)
	}
	return int(removed), nil
}

// InvalidateAll drops every analysis entry and index, returning the count of
// analysis entries cleared.
func (s *AnalysisStore) InvalidateAll(ctx context.Context) (int, error) {
	removed := 0
	for _, prefix := range []string{analysisKeyPrefix, symbolIndexPrefix} {
		var cursor uint64
		for {
			keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
			if err != nil {
				return removed, fmt.Errorf("analysis cache scan: %w", err)
			}
			if len(keys) > 0 {
				n, err := s.client.Del(ctx, keys...).Result()
				if err != nil {
					return removed, fmt.Errorf("analysis cache delete: %w", err)
				}
				if prefix == analysisKeyPrefix {
					removed += int(n)
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	return removed, nil
}
