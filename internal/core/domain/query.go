package domain

import "time"

// RequisitionFilter narrows a requisition listing. Nil pointers mean "any".
type RequisitionFilter struct {
	Status       *RequisitionStatus
	DepartmentID *string
	Priority     *Priority
	NeededFrom   *time.Time
	NeededTo     *time.Time
	Search       string // matched against request number and justification
	Page         int
	PageSize     int
}

type RequisitionPage struct {
	Requisitions []Requisition `json:"requisitions"`
	Total        int64         `json:"total"`
	Page         int           `json:"page"`
	PageSize     int           `json:"page_size"`
}

type StatusCount struct {
	Status RequisitionStatus `json:"status"`
	Count  int64             `json:"count"`
}

type PriorityCount struct {
	Priority Priority `json:"priority"`
	Count    int64    `json:"count"`
}

type RequisitionStats struct {
	Total              int64           `json:"total"`
	PendingApproval    int64           `json:"pending_approval"`
	PendingFulfillment int64           `json:"pending_fulfillment"`
	ByStatus           []StatusCount   `json:"by_status"`
	ByPriority         []PriorityCount `json:"by_priority"`
}
