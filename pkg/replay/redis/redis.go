package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/crosslane/vaa-go/pkg/replay"
	"github.com/crosslane/vaa-go/pkg/vaa"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixBitmap = "vaa:bitmap:"
	keyPrefixHash   = "vaa:consumed:"
)

// RedisGuard is a replay guard backed by Redis, suitable for deployments
// where several verifiers share one consumption record. SETBIT and SETNX
// both return the previous state atomically, which is exactly the
// check-and-set the replay contract requires.
type RedisGuard struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

var _ replay.Guard = (*RedisGuard)(nil)

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys (for
	// multi-tenant setups). If set, it is prepended to the default
	// "vaa:" prefixes.
	KeyPrefix string
}

// NewRedisGuard creates a Redis-backed replay guard.
func NewRedisGuard(cfg *RedisConfig, logger *zap.Logger) (*RedisGuard, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rg := &RedisGuard{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	logger.Sugar().Infow("Redis replay guard initialized", "address", cfg.Address, "db", cfg.DB)

	return rg, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisGuard) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

// ReplayProtect marks (chain, emitter, sequence) as consumed. SETBIT
// returns the previous bit, so the check and the set are one atomic
// round trip.
func (r *RedisGuard) ReplayProtect(ctx context.Context, chain uint16, emitter vaa.Address, sequence uint64) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("replay guard is closed")
	}

	slot, bit := replay.BitmapPosition(sequence)
	key := r.prefixKey(fmt.Sprintf("%s%s:%d", keyPrefixBitmap, replay.EmitterKey(chain, emitter).Hex(), slot))

	prev, err := r.client.SetBit(ctx, key, int64(bit), 1).Result()
	if err != nil {
		return errors.Wrap(err, "failed to set replay bit")
	}
	if prev == 1 {
		return replay.ErrAlreadyProcessed
	}

	return nil
}

// ReplayProtectHash marks the canonical single hash as consumed via SETNX.
func (r *RedisGuard) ReplayProtectHash(ctx context.Context, hash common.Hash) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("replay guard is closed")
	}

	key := r.prefixKey(keyPrefixHash + hash.Hex())

	set, err := r.client.SetNX(ctx, key, 1, 0).Result()
	if err != nil {
		return errors.Wrap(err, "failed to set replay flag")
	}
	if !set {
		return replay.ErrAlreadyProcessed
	}

	return nil
}

// Close shuts down the replay guard. Idempotent.
func (r *RedisGuard) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis replay guard closed")
	return nil
}

// HealthCheck verifies the Redis connection is operational.
func (r *RedisGuard) HealthCheck(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("replay guard is closed")
	}

	return r.client.Ping(ctx).Err()
}
