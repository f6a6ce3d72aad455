package domain

import (
	"fmt"
	"time"
)

type RequisitionStatus string

const (
	StatusDraft              RequisitionStatus = "DRAFT"
	StatusPendingApproval    RequisitionStatus = "PENDING_APPROVAL"
	StatusApproved           RequisitionStatus = "APPROVED"
	StatusPartiallyFulfilled RequisitionStatus = "PARTIALLY_FULFILLED"
	StatusFulfilled          RequisitionStatus = "FULFILLED"
	StatusRejected           RequisitionStatus = "REJECTED"
	StatusCancelled          RequisitionStatus = "CANCELLED"
)

// validTransitions is the closed set of lifecycle edges. Any transition not
// listed here is rejected, including self-transitions out of terminal states.
var validTransitions = map[RequisitionStatus][]RequisitionStatus{
	StatusDraft:              {StatusPendingApproval, StatusCancelled},
	StatusPendingApproval:    {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:           {StatusApproved, StatusPartiallyFulfilled, StatusFulfilled, StatusCancelled},
	StatusPartiallyFulfilled: {StatusPartiallyFulfilled, StatusFulfilled},
}

func (s RequisitionStatus) CanTransitionTo(next RequisitionStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leads out of this status.
func (s RequisitionStatus) Terminal() bool {
	return len(validTransitions[s]) == 0
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Requisition is a department's supply request, tracked from DRAFT through
// approval and stock issuance. The request number is assigned once at
// creation and never changes.
type Requisition struct {
	ID            string            `json:"id"`
	RequestNumber string            `json:"request_number"`
	DepartmentID  string            `json:"department_id"`
	RequestedBy   string            `json:"requested_by"`
	Priority      Priority          `json:"priority"`
	Status        RequisitionStatus `json:"status"`
	NeededBy      *time.Time        `json:"needed_by,omitempty"`
	Justification string            `json:"justification,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	ApprovedBy    string            `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time        `json:"approved_at,omitempty"`
	ApprovalNotes string            `json:"approval_notes,omitempty"`
	FulfilledBy   string            `json:"fulfilled_by,omitempty"`
	FulfilledAt   *time.Time        `json:"fulfilled_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Items         []RequisitionItem `json:"items"`
}

// ItemByID returns the line item with the given id, or nil if the id does not
// belong to this requisition.
func (r *Requisition) ItemByID(id string) *RequisitionItem {
	for i := range r.Items {
		if r.Items[i].ID == id {
			return &r.Items[i]
		}
	}
	return nil
}

// AnyIssued reports whether any line item has physically issued stock.
func (r *Requisition) AnyIssued() bool {
	for i := range r.Items {
		if r.Items[i].QuantityIssued > 0 {
			return true
		}
	}
	return false
}

// RequisitionItem is one requested catalog item within a requisition.
// QuantityRequested is immutable after creation; QuantityIssued only grows.
type RequisitionItem struct {
	ID                   string  `json:"id"`
	RequisitionID        string  `json:"requisition_id"`
	Position             int     `json:"position"`
	ItemID               string  `json:"item_id"`
	QuantityRequested    int     `json:"quantity_requested"`
	QuantityApproved     *int    `json:"quantity_approved,omitempty"`
	QuantityIssued       int     `json:"quantity_issued"`
	Fulfilled            bool    `json:"fulfilled"`
	SubstituteItemID     *string `json:"substitute_item_id,omitempty"`
	SubstitutionApproved bool    `json:"substitution_approved"`
	Notes                string  `json:"notes,omitempty"`
}

// EffectiveTarget is the quantity the item is measured against: the approved
// quantity when the approver set one, otherwise the requested quantity.
func (i *RequisitionItem) EffectiveTarget() int {
	if i.QuantityApproved != nil {
		return *i.QuantityApproved
	}
	return i.QuantityRequested
}

// IsFulfilled derives the fulfilled state from quantities. An item approved
// at quantity 0 is vacuously fulfilled.
func (i *RequisitionItem) IsFulfilled() bool {
	return i.QuantityIssued >= i.EffectiveTarget()
}

// Rollup derives the aggregate status from line-item state: FULFILLED when
// every item has met its effective target, PARTIALLY_FULFILLED when any stock
// has been issued, otherwise the current status is kept.
func Rollup(current RequisitionStatus, items []RequisitionItem) RequisitionStatus {
	allFulfilled := len(items) > 0
	anyFulfilled := false
	for i := range items {
		if !items[i].IsFulfilled() {
			allFulfilled = false
		}
		if items[i].QuantityIssued > 0 {
			anyFulfilled = true
		}
	}
	switch {
	case allFulfilled:
		return StatusFulfilled
	case anyFulfilled:
		return StatusPartiallyFulfilled
	default:
		return current
	}
}

// Sequence scopes for the allocator. Each scope owns an independent counter.
const (
	SequenceRequisition = "requisition"
	SequenceTransaction = "inventory_transaction"
)

func FormatRequestNumber(n int64) string {
	return fmt.Sprintf("REQ-%06d", n)
}

func FormatTransactionNumber(n int64) string {
	return fmt.Sprintf("TXN-%06d", n)
}
