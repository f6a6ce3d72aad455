package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/carestack/supplyline/internal/core/domain"
)

// RequisitionDetail is the read-side view of a requisition: the aggregate
// plus an availability summary per referenced catalog item.
type RequisitionDetail struct {
	Requisition  domain.Requisition                  `json:"requisition"`
	Availability map[string]*domain.ItemAvailability `json:"availability"`
}

const maxPageSize = 100

// GetByID loads a requisition and annotates each line item's catalog item
// with its current availability. Summaries come from the cache when present;
// misses fall through to the store and repopulate the cache.
func (s *RequisitionService) GetByID(ctx context.Context, id string) (*RequisitionDetail, error) {
	if err := requireUUID("id", id); err != nil {
		return nil, err
	}

	req, err := s.db.GetRequisition(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load requisition: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: requisition %s", domain.ErrNotFound, id)
	}

	detail := &RequisitionDetail{
		Requisition:  *req,
		Availability: make(map[string]*domain.ItemAvailability),
	}
	for i := range req.Items {
		itemID := req.Items[i].ItemID
		if _, ok := detail.Availability[itemID]; ok {
			continue
		}
		avail, err := s.itemAvailability(ctx, itemID)
		if err != nil {
			return nil, err
		}
		detail.Availability[itemID] = avail
	}
	return detail, nil
}

func (s *RequisitionService) itemAvailability(ctx context.Context, itemID string) (*domain.ItemAvailability, error) {
	cached, err := s.cache.GetItemAvailability(ctx, itemID)
	if err != nil {
		s.log.Warn("availability cache read failed", zap.String("item_id", itemID), zap.Error(err))
	} else if cached != nil {
		return cached, nil
	}

	avail, err := s.db.ItemAvailability(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	if err := s.cache.SetItemAvailability(ctx, avail); err != nil {
		s.log.Warn("availability cache write failed", zap.String("item_id", itemID), zap.Error(err))
	}
	return avail, nil
}

func (s *RequisitionService) List(ctx context.Context, filter domain.RequisitionFilter) (*domain.RequisitionPage, error) {
	if filter.Status != nil && !validStatus(*filter.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, *filter.Status)
	}
	if filter.Priority != nil && !filter.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", domain.ErrValidation, *filter.Priority)
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}
	if filter.PageSize > maxPageSize {
		filter.PageSize = maxPageSize
	}
	page, err := s.db.ListRequisitions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list requisitions: %w", err)
	}
	return page, nil
}

func validStatus(s domain.RequisitionStatus) bool {
	switch s {
	case domain.StatusDraft, domain.StatusPendingApproval, domain.StatusApproved,
		domain.StatusPartiallyFulfilled, domain.StatusFulfilled,
		domain.StatusRejected, domain.StatusCancelled:
		return true
	}
	return false
}

func (s *RequisitionService) Stats(ctx context.Context) (*domain.RequisitionStats, error) {
	cached, err := s.cache.GetStats(ctx)
	if err != nil {
		s.log.Warn("stats cache read failed", zap.Error(err))
	} else if cached != nil {
		return cached, nil
	}

	stats, err := s.db.RequisitionStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	if err := s.cache.SetStats(ctx, stats); err != nil {
		s.log.Warn("stats cache write failed", zap.Error(err))
	}
	return stats, nil
}
