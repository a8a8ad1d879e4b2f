package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash used when no key is configured.
const DefaultRedisKey = "stockwatch:prices"

// RedisHash stores each record as a JSON field of a single hash and
// publishes it on <key>:<symbol> so subscribers see every write.
type RedisHash struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisHash creates a Redis-backed store. The store owns client.
func NewRedisHash(client *redis.Client, key string, logger *slog.Logger) *RedisHash {
	if key == "" {
		key = DefaultRedisKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisHash{client: client, key: key, logger: logger}
}

// Channel returns the pub/sub channel for symbol.
func (s *RedisHash) Channel(symbol string) string {
	return fmt.Sprintf("%s:%s", s.key, symbol)
}

// Put sets the hash field and publishes the record in one pipeline.
func (s *RedisHash) Put(ctx context.Context, symbol string, rec PriceRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record for %s: %w", symbol, err)
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.key, symbol, payload)
	pipe.Publish(ctx, s.Channel(symbol), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis write for %s failed: %w", symbol, err)
	}
	return nil
}

// Load returns every record in the hash. Undecodable fields are logged and
// skipped.
func (s *RedisHash) Load(ctx context.Context) (map[string]PriceRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read failed: %w", err)
	}

	records := make(map[string]PriceRecord, len(fields))
	for symbol, raw := range fields {
		var rec PriceRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("skipping corrupt redis record",
				"key", s.key,
				"symbol", symbol,
				"error", err)
			continue
		}
		records[symbol] = rec
	}
	return records, nil
}

// Close closes the Redis client.
func (s *RedisHash) Close() error {
	return s.client.Close()
}
