package port

import (
	"context"

	"github.com/carestack/supplyline/internal/core/domain"
)

// CacheRepository is the read-side cache. A nil result with a nil error is a
// miss; cache failures are soft and never block the primary store.
type CacheRepository interface {
	GetItemAvailability(ctx context.Context, itemID string) (*domain.ItemAvailability, error)
	SetItemAvailability(ctx context.Context, avail *domain.ItemAvailability) error

	// InvalidateItemAvailability drops cached summaries after an issue
	// mutates the underlying stock.
	InvalidateItemAvailability(ctx context.Context, itemIDs ...string) error

	GetStats(ctx context.Context) (*domain.RequisitionStats, error)
	SetStats(ctx context.Context, stats *domain.RequisitionStats) error
	InvalidateStats(ctx context.Context) error
}
