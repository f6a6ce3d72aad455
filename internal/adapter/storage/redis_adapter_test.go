package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/carestack/supplyline/internal/core/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestItemAvailabilityCache_Roundtrip(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	itemID := uuid.New().String()
	defer client.Del(ctx, availabilityKeyPrefix+itemID)

	avail := &domain.ItemAvailability{
		ItemID:            itemID,
		QuantityAvailable: 42,
		Locations:         []string{"ward-3", "central"},
	}
	if err := adapter.SetItemAvailability(ctx, avail); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, err := adapter.GetItemAvailability(ctx, itemID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached availability, got nil")
	}
	if got.QuantityAvailable != 42 || len(got.Locations) != 2 {
		t.Errorf("unexpected payload %+v", got)
	}

	ttl := client.TTL(ctx, availabilityKeyPrefix+itemID).Val()
	if ttl <= 0 || ttl > availabilityTTL {
		t.Errorf("expected TTL within (0, %v], got %v", availabilityTTL, ttl)
	}
}

func TestItemAvailabilityCache_MissIsNil(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	adapter := NewRedisAdapter(client)
	got, err := adapter.GetItemAvailability(context.Background(), uuid.New().String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil on miss, got %+v", got)
	}
}

func TestInvalidateItemAvailability(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	itemA := uuid.New().String()
	itemB := uuid.New().String()

	for _, id := range []string{itemA, itemB} {
		if err := adapter.SetItemAvailability(ctx, &domain.ItemAvailability{ItemID: id, QuantityAvailable: 1}); err != nil {
			t.Fatalf("set failed: %v", err)
		}
	}

	if err := adapter.InvalidateItemAvailability(ctx, itemA, itemB); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	for _, id := range []string{itemA, itemB} {
		if got, _ := adapter.GetItemAvailability(ctx, id); got != nil {
			t.Errorf("expected %s invalidated, got %+v", id, got)
		}
	}

	// Invalidating nothing is a no-op, not an error.
	if err := adapter.InvalidateItemAvailability(ctx); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStatsCache_Roundtrip(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	defer client.Del(ctx, statsKey)

	stats := &domain.RequisitionStats{
		Total:              7,
		PendingApproval:    2,
		PendingFulfillment: 3,
		ByStatus: []domain.StatusCount{
			{Status: domain.StatusPendingApproval, Count: 2},
			{Status: domain.StatusApproved, Count: 3},
			{Status: domain.StatusFulfilled, Count: 2},
		},
		ByPriority: []domain.PriorityCount{
			{Priority: domain.PriorityNormal, Count: 5},
			{Priority: domain.PriorityUrgent, Count: 2},
		},
	}
	if err := adapter.SetStats(ctx, stats); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, err := adapter.GetStats(ctx)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached stats, got nil")
	}
	if got.Total != 7 || got.PendingApproval != 2 || got.PendingFulfillment != 3 {
		t.Errorf("unexpected totals %+v", got)
	}
	if len(got.ByStatus) != 3 || len(got.ByPriority) != 2 {
		t.Errorf("unexpected breakdowns %+v", got)
	}

	if err := adapter.InvalidateStats(ctx); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if got, _ := adapter.GetStats(ctx); got != nil {
		t.Errorf("expected stats invalidated, got %+v", got)
	}
}
