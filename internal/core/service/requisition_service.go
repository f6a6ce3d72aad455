package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carestack/supplyline/internal/core/domain"
	"github.com/carestack/supplyline/internal/port"
)

// RequisitionService owns the requisition lifecycle: creation, submission,
// approval, fulfillment, and cancellation. Every mutating operation runs as
// one transaction against the store; concurrent callers are serialized by the
// row locks the store takes on the requisition and stock rows.
type RequisitionService struct {
	db    port.DatabaseRepository
	cache port.CacheRepository
	log   *zap.Logger
}

func NewRequisitionService(db port.DatabaseRepository, cache port.CacheRepository, log *zap.Logger) *RequisitionService {
	return &RequisitionService{db: db, cache: cache, log: log}
}

type CreateItemInput struct {
	ItemID            string `json:"item_id"`
	QuantityRequested int    `json:"quantity_requested"`
	Notes             string `json:"notes"`
}

type CreateRequisitionInput struct {
	DepartmentID  string            `json:"department_id"`
	RequestedBy   string            `json:"requested_by"`
	Priority      domain.Priority   `json:"priority"`
	NeededBy      *time.Time        `json:"needed_by"`
	Justification string            `json:"justification"`
	Notes         string            `json:"notes"`
	Items         []CreateItemInput `json:"items"`
}

// UpdateRequisitionInput carries the fields a draft may change. Nil pointers
// leave the current value untouched; a non-nil Items slice replaces the whole
// line-item set.
type UpdateRequisitionInput struct {
	Priority      *domain.Priority  `json:"priority"`
	NeededBy      *time.Time        `json:"needed_by"`
	Justification *string           `json:"justification"`
	Notes         *string           `json:"notes"`
	Items         []CreateItemInput `json:"items"`
}

type ItemAdjustment struct {
	ItemID               string  `json:"item_id"`
	QuantityApproved     int     `json:"quantity_approved"`
	SubstituteItemID     *string `json:"substitute_item_id"`
	SubstitutionApproved bool    `json:"substitution_approved"`
}

func requireUUID(field, value string) error {
	if _, err := uuid.Parse(value); err != nil {
		return fmt.Errorf("%w: %s must be a valid UUID", domain.ErrValidation, field)
	}
	return nil
}

func validateItemInputs(items []CreateItemInput) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item is required", domain.ErrValidation)
	}
	for i, it := range items {
		if err := requireUUID(fmt.Sprintf("items[%d].item_id", i), it.ItemID); err != nil {
			return err
		}
		if it.QuantityRequested < 1 {
			return fmt.Errorf("%w: items[%d].quantity_requested must be at least 1", domain.ErrValidation, i)
		}
	}
	return nil
}

// buildItems resolves every referenced catalog item and materializes the
// line-item rows for a requisition.
func buildItems(ctx context.Context, tx port.Store, requisitionID string, inputs []CreateItemInput) ([]domain.RequisitionItem, error) {
	items := make([]domain.RequisitionItem, 0, len(inputs))
	for i, in := range inputs {
		cat, err := tx.GetCatalogItem(ctx, in.ItemID)
		if err != nil {
			return nil, fmt.Errorf("lookup catalog item: %w", err)
		}
		if cat == nil {
			return nil, fmt.Errorf("%w: catalog item %s", domain.ErrNotFound, in.ItemID)
		}
		items = append(items, domain.RequisitionItem{
			ID:                uuid.New().String(),
			RequisitionID:     requisitionID,
			Position:          i,
			ItemID:            in.ItemID,
			QuantityRequested: in.QuantityRequested,
			Notes:             in.Notes,
		})
	}
	return items, nil
}

func (s *RequisitionService) Create(ctx context.Context, in CreateRequisitionInput) (*domain.Requisition, error) {
	if err := requireUUID("department_id", in.DepartmentID); err != nil {
		return nil, err
	}
	if in.RequestedBy == "" {
		return nil, fmt.Errorf("%w: requested_by is required", domain.ErrValidation)
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityNormal
	}
	if !in.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", domain.ErrValidation, in.Priority)
	}
	if err := validateItemInputs(in.Items); err != nil {
		return nil, err
	}

	var out *domain.Requisition
	err := s.db.WithinTx(ctx, func(tx port.Store) error {
		exists, err := tx.DepartmentExists(ctx, in.DepartmentID)
		if err != nil {
			return fmt.Errorf("check department: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: department %s", domain.ErrNotFound, in.DepartmentID)
		}

		seq, err := tx.NextSequence(ctx, domain.SequenceRequisition)
		if err != nil {
			return fmt.Errorf("allocate request number: %w", err)
		}

		now := time.Now().UTC()
		req := &domain.Requisition{
			ID:            uuid.New().String(),
			RequestNumber: domain.FormatRequestNumber(seq),
			DepartmentID:  in.DepartmentID,
			RequestedBy:   in.RequestedBy,
			Priority:      in.Priority,
			Status:        domain.StatusDraft,
			NeededBy:      in.NeededBy,
			Justification: in.Justification,
			Notes:         in.Notes,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		items, err := buildItems(ctx, tx, req.ID, in.Items)
		if err != nil {
			return err
		}
		req.Items = items

		if err := tx.InsertRequisition(ctx, req); err != nil {
			return fmt.Errorf("insert requisition: %w", err)
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStats(ctx)
	s.log.Info("requisition created",
		zap.String("id", out.ID),
		zap.String("number", out.RequestNumber),
		zap.String("department", out.DepartmentID))
	return out, nil
}

func (s *RequisitionService) Update(ctx context.Context, id string, in UpdateRequisitionInput) (*domain.Requisition, error) {
	if err := requireUUID("id", id); err != nil {
		return nil, err
	}
	if in.Priority != nil && !in.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", domain.ErrValidation, *in.Priority)
	}
	if in.Items != nil {
		if err := validateItemInputs(in.Items); err != nil {
			return nil, err
		}
	}

	var out *domain.Requisition
	err := s.db.WithinTx(ctx, func(tx port.Store) error {
		req, err := loadRequisition(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Status != domain.StatusDraft {
			return fmt.Errorf("%w: only draft requisitions can be edited, current status is %s", domain.ErrInvalidState, req.Status)
		}

		if in.Priority != nil {
			req.Priority = *in.Priority
		}
		if in.NeededBy != nil {
			req.NeededBy = in.NeededBy
		}
		if in.Justification != nil {
			req.Justification = *in.Justification
		}
		if in.Notes != nil {
			req.Notes = *in.Notes
		}
		if in.Items != nil {
			items, err := buildItems(ctx, tx, req.ID, in.Items)
			if err != nil {
				return err
			}
			if err := tx.ReplaceRequisitionItems(ctx, req.ID, items); err != nil {
				return fmt.Errorf("replace items: %w", err)
			}
			req.Items = items
		}
		req.UpdatedAt = time.Now().UTC()

		if err := tx.UpdateRequisitionHeader(ctx, req); err != nil {
			return fmt.Errorf("update requisition: %w", err)
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RequisitionService) Submit(ctx context.Context, id string) (*domain.Requisition, error) {
	if err := requireUUID("id", id); err != nil {
		return nil, err
	}

	var out *domain.Requisition
	err := s.db.WithinTx(ctx, func(tx port.Store) error {
		req, err := loadRequisition(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Status != domain.StatusDraft || !req.Status.CanTransitionTo(domain.StatusPendingApproval) {
			return fmt.Errorf("%w: only draft requisitions can be submitted, current status is %s", domain.ErrInvalidState, req.Status)
		}
		req.Status = domain.StatusPendingApproval
		req.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateRequisitionHeader(ctx, req); err != nil {
			return fmt.Errorf("update requisition: %w", err)
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStats(ctx)
	s.log.Info("requisition submitted", zap.String("id", out.ID), zap.String("number", out.RequestNumber))
	return out, nil
}

// Approve applies the optional per-line adjustments and flips the requisition
// to APPROVED in one transaction. Line items absent from adjustments keep a
// nil approved quantity, meaning approved as requested.
func (s *RequisitionService) Approve(ctx context.Context, id, approver, notes string, adjustments []ItemAdjustment) (*domain.Requisition, error) {
	if err := requireUUID("id", id); err != nil {
		return nil, err
	}
	if approver == "" {
		return nil, fmt.Errorf("%w: approver is required", domain.ErrValidation)
	}
	for i, adj := range adjustments {
		if err := requireUUID(fmt.Sprintf("adjustments[%d].item_id", i), adj.ItemID); err != nil {
			return nil, err
		}
		if adj.QuantityApproved < 0 {
			return nil, fmt.Errorf("%w: adjustments[%d].quantity_approved cannot be negative", domain.ErrValidation, i)
		}
		if adj.SubstituteItemID != nil {
			if err := requireUUID(fmt.Sprintf("adjustments[%d].substitute_item_id", i), *adj.SubstituteItemID); err != nil {
				return nil, err
			}
		}
	}

	var out *domain.Requisition
	err := s.db.WithinTx(ctx, func(tx port.Store) error {
		req, err := loadRequisition(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Status != domain.StatusPendingApproval {
			return fmt.Errorf("%w: only pending requisitions can be approved, current status is %s", domain.ErrInvalidState, req.Status)
		}

		for _, adj := range adjustments {
			item := req.ItemByID(adj.ItemID)
			if item == nil {
				return fmt.Errorf("%w: line item %s does not belong to requisition %s", domain.ErrNotFound, adj.ItemID, req.ID)
			}
			if adj.SubstituteItemID != nil {
				sub, err := tx.GetCatalogItem(ctx, *adj.SubstituteItemID)
				if err != nil {
					return fmt.Errorf("lookup substitute item: %w", err)
				}
				if sub == nil {
					return fmt.Errorf("%w: substitute item %s", domain.ErrNotFound, *adj.SubstituteItemID)
				}
			}
			approved := adj.QuantityApproved
			item.QuantityApproved = &approved
			item.SubstituteItemID = adj.SubstituteItemID
			item.SubstitutionApproved = adj.SubstitutionApproved
			if err := tx.UpdateRequisitionItem(ctx, item); err != nil {
				return fmt.Errorf("update line item: %w", err)
			}
		}

		now := time.Now().UTC()
		req.Status = domain.StatusApproved
		req.ApprovedBy = approver
		req.ApprovedAt = &now
		req.ApprovalNotes = notes
		req.UpdatedAt = now
		if err := tx.UpdateRequisitionHeader(ctx, req); err != nil {
			return fmt.Errorf("update requisition: %w", err)
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStats(ctx)
	s.log.Info("requisition approved",
		zap.String("id", out.ID),
		zap.String("number", out.RequestNumber),
		zap.String("approver", approver))
	return out, nil
}

func (s *RequisitionService) Reject(ctx context.Context, id, approver, reason string) (*domain.Requisition, error) {
	if err := requireUUID("id", id); err != nil {
		return nil, err
	}
	if approver == "" {
		return nil, fmt.Errorf("%w: approver is required", domain.ErrValidation)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: a rejection reason is required", domain.ErrValidation)
	}

	var out *domain.Requisition
	err := s.db.WithinTx(ctx, func(tx port.Store) error {
		req, err := loadRequisition(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Status != domain.StatusPendingApproval {
			return fmt.Errorf("%w: only pending requisitions can be rejected, current status is %s", domain.ErrInvalidState, req.Status)
		}
		now := time.Now().UTC()
		req.Status = domain.StatusRejected
		req.ApprovedBy = approver
		req.ApprovedAt = &now
		req.ApprovalNotes = reason
		req.UpdatedAt = now
		if err := tx.UpdateRequisitionHeader(ctx, req); err != nil {
			return fmt.Errorf("update requisition: %w", err)
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStats(ctx)
	s.log.Info("requisition rejected", zap.String("id", out.ID), zap.String("number", out.RequestNumber))
	return out, nil
}

// Cancel flips a requisition to CANCELLED. It is forbidden once any stock has
// been issued: the status guard covers the fulfilled variants, and the
// per-item check covers a header/item divergence that should never happen.
func (s *RequisitionService) Cancel(ctx context.Context, id, reason string) (*domain.Requisition, error) {
	if err := requireUUID("id", id); err != nil {
		return nil, err
	}

	var out *domain.Requisition
	err := s.db.WithinTx(ctx, func(tx port.Store) error {
		req, err := loadRequisition(ctx, tx, id)
		if err != nil {
			return err
		}
		if !req.Status.CanTransitionTo(domain.StatusCancelled) {
			return fmt.Errorf("%w: a %s requisition cannot be cancelled", domain.ErrInvalidState, req.Status)
		}
		if req.AnyIssued() {
			return fmt.Errorf("%w: stock has already been issued against this requisition", domain.ErrInvalidState)
		}
		if reason != "" {
			if req.Notes != "" {
				req.Notes += "\n"
			}
			req.Notes += "Cancelled: " + reason
		}
		req.Status = domain.StatusCancelled
		req.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateRequisitionHeader(ctx, req); err != nil {
			return fmt.Errorf("update requisition: %w", err)
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStats(ctx)
	s.log.Info("requisition cancelled", zap.String("id", out.ID), zap.String("number", out.RequestNumber))
	return out, nil
}

func loadRequisition(ctx context.Context, tx port.Store, id string) (*domain.Requisition, error) {
	req, err := tx.GetRequisitionForUpdate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load requisition: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: requisition %s", domain.ErrNotFound, id)
	}
	return req, nil
}

func (s *RequisitionService) invalidateStats(ctx context.Context) {
	if err := s.cache.InvalidateStats(ctx); err != nil {
		s.log.Warn("stats cache invalidation failed", zap.Error(err))
	}
}
