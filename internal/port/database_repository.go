package port

import (
	"context"

	"github.com/carestack/supplyline/internal/core/domain"
)

// Store is the write surface of one open transaction. Every method runs in
// the same isolation scope; lookups return (nil, nil) when the row is absent
// so the service layer decides which error kind applies.
type Store interface {
	// GetRequisitionForUpdate loads a requisition and its line items under a
	// row lock, serializing concurrent lifecycle operations on it.
	GetRequisitionForUpdate(ctx context.Context, id string) (*domain.Requisition, error)
	InsertRequisition(ctx context.Context, req *domain.Requisition) error
	UpdateRequisitionHeader(ctx context.Context, req *domain.Requisition) error
	ReplaceRequisitionItems(ctx context.Context, requisitionID string, items []domain.RequisitionItem) error
	UpdateRequisitionItem(ctx context.Context, item *domain.RequisitionItem) error

	// GetStockForUpdate locks the stock record identified by key so the
	// sufficiency check and the decrement happen under one lock.
	GetStockForUpdate(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error)
	UpdateStockQuantities(ctx context.Context, rec *domain.StockRecord) error
	DeleteStockRecord(ctx context.Context, id string) error

	InsertTransaction(ctx context.Context, txn *domain.InventoryTransaction) error

	// NextSequence atomically increments and returns the named counter.
	NextSequence(ctx context.Context, name string) (int64, error)

	GetCatalogItem(ctx context.Context, id string) (*domain.CatalogItem, error)
	DepartmentExists(ctx context.Context, id string) (bool, error)
}

// DatabaseRepository is the storage port. WithinTx runs fn inside a single
// transaction: every write fn performs lands atomically or not at all.
type DatabaseRepository interface {
	WithinTx(ctx context.Context, fn func(Store) error) error

	GetRequisition(ctx context.Context, id string) (*domain.Requisition, error)
	ListRequisitions(ctx context.Context, filter domain.RequisitionFilter) (*domain.RequisitionPage, error)
	RequisitionStats(ctx context.Context) (*domain.RequisitionStats, error)
	ItemAvailability(ctx context.Context, itemID string) (*domain.ItemAvailability, error)
}
