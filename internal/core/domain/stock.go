package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockKey uniquely identifies a physical stock record: one item at one
// location, optionally scoped to a lot or serial number.
type StockKey struct {
	ItemID       string
	LocationID   string
	LotNumber    *string
	SerialNumber *string
}

type StockRecord struct {
	ID                string     `json:"id"`
	ItemID            string     `json:"item_id"`
	LocationID        string     `json:"location_id"`
	LotNumber         *string    `json:"lot_number,omitempty"`
	SerialNumber      *string    `json:"serial_number,omitempty"`
	QuantityOnHand    int        `json:"quantity_on_hand"`
	QuantityReserved  int        `json:"quantity_reserved"`
	QuantityAvailable int        `json:"quantity_available"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (r *StockRecord) Key() StockKey {
	return StockKey{
		ItemID:       r.ItemID,
		LocationID:   r.LocationID,
		LotNumber:    r.LotNumber,
		SerialNumber: r.SerialNumber,
	}
}

// Depleted reports whether the record holds nothing at all. A depleted record
// must be removed by the operation that drained it, never left as a zero row.
func (r *StockRecord) Depleted() bool {
	return r.QuantityOnHand == 0 && r.QuantityReserved == 0
}

type TransactionType string

const TransactionTypeIssue TransactionType = "ISSUE"

const ReferenceTypeRequisition = "REQUISITION"

// InventoryTransaction is an append-only ledger entry for one stock movement.
// Rows are never updated or deleted once written.
type InventoryTransaction struct {
	ID                string          `json:"id"`
	TransactionNumber string          `json:"transaction_number"`
	Type              TransactionType `json:"type"`
	ItemID            string          `json:"item_id"`
	SourceLocationID  string          `json:"source_location_id"`
	Quantity          int             `json:"quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	LotNumber         *string         `json:"lot_number,omitempty"`
	SerialNumber      *string         `json:"serial_number,omitempty"`
	ReferenceType     string          `json:"reference_type"`
	ReferenceID       string          `json:"reference_id"`
	ReferenceNumber   string          `json:"reference_number"`
	PerformedBy       string          `json:"performed_by"`
	Notes             string          `json:"notes,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// CatalogItem is owned by the item catalog; this core only reads it for
// existence checks and the current average cost.
type CatalogItem struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Unit        string          `json:"unit"`
	AverageCost decimal.Decimal `json:"average_cost"`
}

// ItemAvailability is the read-side summary attached to line items: total
// quantity available for an item and the locations holding any of it.
type ItemAvailability struct {
	ItemID            string   `json:"item_id"`
	QuantityAvailable int      `json:"quantity_available"`
	Locations         []string `json:"locations"`
}
