package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carestack/supplyline/internal/core/domain"
)

const (
	availabilityKeyPrefix = "availability:"
	statsKey              = "requisitions:stats"

	availabilityTTL = 30 * time.Second
	statsTTL        = 10 * time.Second
)

// RedisAdapter caches read-side summaries. Values are JSON with short TTLs;
// issue operations delete the affected keys instead of rewriting them.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) GetItemAvailability(ctx context.Context, itemID string) (*domain.ItemAvailability, error) {
	payload, err := r.client.Get(ctx, availabilityKeyPrefix+itemID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get availability: %w", err)
	}
	var avail domain.ItemAvailability
	if err := json.Unmarshal(payload, &avail); err != nil {
		return nil, fmt.Errorf("decode availability: %w", err)
	}
	return &avail, nil
}

func (r *RedisAdapter) SetItemAvailability(ctx context.Context, avail *domain.ItemAvailability) error {
	payload, err := json.Marshal(avail)
	if err != nil {
		return fmt.Errorf("encode availability: %w", err)
	}
	return r.client.Set(ctx, availabilityKeyPrefix+avail.ItemID, payload, availabilityTTL).Err()
}

func (r *RedisAdapter) InvalidateItemAvailability(ctx context.Context, itemIDs ...string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	keys := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		keys[i] = availabilityKeyPrefix + id
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisAdapter) GetStats(ctx context.Context) (*domain.RequisitionStats, error) {
	payload, err := r.client.Get(ctx, statsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	var stats domain.RequisitionStats
	if err := json.Unmarshal(payload, &stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &stats, nil
}

func (r *RedisAdapter) SetStats(ctx context.Context, stats *domain.RequisitionStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	return r.client.Set(ctx, statsKey, payload, statsTTL).Err()
}

func (r *RedisAdapter) InvalidateStats(ctx context.Context) error {
	return r.client.Del(ctx, statsKey).Err()
}
