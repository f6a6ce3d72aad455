package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/carestack/supplyline/internal/core/domain"
	"github.com/carestack/supplyline/internal/port"
)

// FulfillmentInstruction issues a quantity of one line item from a specific
// stock record. An instruction with Quantity <= 0 is skipped, not rejected.
type FulfillmentInstruction struct {
	ItemID       string  `json:"item_id"`
	Quantity     int     `json:"quantity"`
	LocationID   string  `json:"location_id"`
	LotNumber    *string `json:"lot_number"`
	SerialNumber *string `json:"serial_number"`
}

// Fulfill applies a batch of fulfillment instructions to an approved
// requisition inside one transaction: line-item issued quantities, ledger
// entries, and stock decrements land together or not at all. Instructions are
// applied strictly in the order supplied; later instructions see the stock
// state left by earlier ones.
func (s *RequisitionService) Fulfill(ctx context.Context, id, fulfiller string, instructions []FulfillmentInstruction, notes string) (*domain.Requisition, error) {
	if err := requireUUID("id", id); err != nil {
		return nil, err
	}
	if fulfiller == "" {
		return nil, fmt.Errorf("%w: fulfiller is required", domain.ErrValidation)
	}
	if len(instructions) == 0 {
		return nil, fmt.Errorf("%w: at least one instruction is required", domain.ErrValidation)
	}
	for i, ins := range instructions {
		if err := requireUUID(fmt.Sprintf("instructions[%d].item_id", i), ins.ItemID); err != nil {
			return nil, err
		}
		if err := requireUUID(fmt.Sprintf("instructions[%d].location_id", i), ins.LocationID); err != nil {
			return nil, err
		}
	}

	var (
		out     *domain.Requisition
		touched []string
	)
	err := s.db.WithinTx(ctx, func(tx port.Store) error {
		touched = touched[:0]
		req, err := loadRequisition(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Status != domain.StatusApproved && req.Status != domain.StatusPartiallyFulfilled {
			return fmt.Errorf("%w: requisition must be approved before fulfillment, current status is %s", domain.ErrInvalidState, req.Status)
		}

		now := time.Now().UTC()
		for _, ins := range instructions {
			item := req.ItemByID(ins.ItemID)
			if item == nil {
				return fmt.Errorf("%w: line item %s does not belong to requisition %s", domain.ErrNotFound, ins.ItemID, req.ID)
			}
			if ins.Quantity <= 0 {
				continue
			}

			item.QuantityIssued += ins.Quantity
			item.Fulfilled = item.IsFulfilled()
			if err := tx.UpdateRequisitionItem(ctx, item); err != nil {
				return fmt.Errorf("update line item: %w", err)
			}

			cat, err := tx.GetCatalogItem(ctx, item.ItemID)
			if err != nil {
				return fmt.Errorf("lookup catalog item: %w", err)
			}
			if cat == nil {
				return fmt.Errorf("%w: catalog item %s", domain.ErrNotFound, item.ItemID)
			}

			seq, err := tx.NextSequence(ctx, domain.SequenceTransaction)
			if err != nil {
				return fmt.Errorf("allocate transaction number: %w", err)
			}
			txn := &domain.InventoryTransaction{
				ID:                uuid.New().String(),
				TransactionNumber: domain.FormatTransactionNumber(seq),
				Type:              domain.TransactionTypeIssue,
				ItemID:            item.ItemID,
				SourceLocationID:  ins.LocationID,
				Quantity:          ins.Quantity,
				UnitCost:          cat.AverageCost,
				TotalCost:         cat.AverageCost.Mul(decimal.NewFromInt(int64(ins.Quantity))),
				LotNumber:         ins.LotNumber,
				SerialNumber:      ins.SerialNumber,
				ReferenceType:     domain.ReferenceTypeRequisition,
				ReferenceID:       req.ID,
				ReferenceNumber:   req.RequestNumber,
				PerformedBy:       fulfiller,
				Notes:             notes,
				CreatedAt:         now,
			}
			if err := tx.InsertTransaction(ctx, txn); err != nil {
				return fmt.Errorf("record transaction: %w", err)
			}

			key := domain.StockKey{
				ItemID:       item.ItemID,
				LocationID:   ins.LocationID,
				LotNumber:    ins.LotNumber,
				SerialNumber: ins.SerialNumber,
			}
			if err := issueStock(ctx, tx, key, ins.Quantity); err != nil {
				return err
			}
			touched = append(touched, item.ItemID)
		}

		req.Status = domain.Rollup(req.Status, req.Items)
		if req.AnyIssued() {
			req.FulfilledBy = fulfiller
			// First-fulfillment timestamp is set once and kept on later
			// partial fulfillments.
			if req.FulfilledAt == nil {
				req.FulfilledAt = &now
			}
		}
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

	if len(touched) > 0 {
		if err := s.cache.InvalidateItemAvailability(ctx, touched...); err != nil {
			s.log.Warn("availability cache invalidation failed", zap.Error(err))
		}
	}
	s.invalidateStats(ctx)
	s.log.Info("requisition fulfilled",
		zap.String("id", out.ID),
		zap.String("number", out.RequestNumber),
		zap.String("status", string(out.Status)),
		zap.String("fulfiller", fulfiller))
	return out, nil
}

// issueStock decrements one stock record inside the caller's transaction. The
// sufficiency check and the decrement run under the row lock taken by
// GetStockForUpdate. A record drained to zero on hand and zero reserved is
// deleted rather than left as a zero-quantity row.
func issueStock(ctx context.Context, tx port.Store, key domain.StockKey, quantity int) error {
	rec, err := tx.GetStockForUpdate(ctx, key)
	if err != nil {
		return fmt.Errorf("load stock: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("%w: stock not found for the specified item and location", domain.ErrNotFound)
	}
	if rec.QuantityOnHand < quantity {
		return fmt.Errorf("%w: requested %d, available %d", domain.ErrInsufficientStock, quantity, rec.QuantityOnHand)
	}

	rec.QuantityOnHand -= quantity
	rec.QuantityAvailable -= quantity
	if rec.Depleted() {
		if err := tx.DeleteStockRecord(ctx, rec.ID); err != nil {
			return fmt.Errorf("delete depleted stock: %w", err)
		}
		return nil
	}
	if err := tx.UpdateStockQuantities(ctx, rec); err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	return nil
}
