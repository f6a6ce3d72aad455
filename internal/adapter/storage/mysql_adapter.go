package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carestack/supplyline/internal/core/domain"
	"github.com/carestack/supplyline/internal/port"
)

//go:embed schema.sql
var Schema string

// ApplySchema creates the tables this adapter expects. Statements are
// idempotent (CREATE TABLE IF NOT EXISTS).
func ApplySchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(Schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// WithinTx runs fn inside one transaction. Any error from fn rolls every
// write back; the commit error is surfaced so callers never see a half
// applied batch as success.
func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(port.Store) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetRequisition(ctx context.Context, id string) (*domain.Requisition, error) {
	return selectRequisition(ctx, m.db, id, false)
}

func (m *MySQLAdapter) ListRequisitions(ctx context.Context, filter domain.RequisitionFilter) (*domain.RequisitionPage, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.DepartmentID != nil {
		conds = append(conds, "department_id = ?")
		args = append(args, *filter.DepartmentID)
	}
	if filter.Priority != nil {
		conds = append(conds, "priority = ?")
		args = append(args, string(*filter.Priority))
	}
	if filter.NeededFrom != nil {
		conds = append(conds, "needed_by >= ?")
		args = append(args, *filter.NeededFrom)
	}
	if filter.NeededTo != nil {
		conds = append(conds, "needed_by <= ?")
		args = append(args, *filter.NeededTo)
	}
	if filter.Search != "" {
		conds = append(conds, "(request_number LIKE ? OR justification LIKE ?)")
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM requisitions"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count requisitions: %w", err)
	}

	pageArgs := append(append([]any{}, args...), filter.PageSize, (filter.Page-1)*filter.PageSize)
	rows, err := m.db.QueryContext(ctx,
		"SELECT "+requisitionColumns+" FROM requisitions"+where+" ORDER BY created_at DESC, id LIMIT ? OFFSET ?",
		pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("query requisitions: %w", err)
	}
	defer rows.Close()

	reqs := make([]domain.Requisition, 0, filter.PageSize)
	ids := make([]string, 0, filter.PageSize)
	for rows.Next() {
		req, err := scanRequisition(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan requisition: %w", err)
		}
		reqs = append(reqs, *req)
		ids = append(ids, req.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requisitions: %w", err)
	}

	itemsByReq, err := loadItemSets(ctx, m.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		reqs[i].Items = itemsByReq[reqs[i].ID]
	}

	return &domain.RequisitionPage{
		Requisitions: reqs,
		Total:        total,
		Page:         filter.Page,
		PageSize:     filter.PageSize,
	}, nil
}

func (m *MySQLAdapter) RequisitionStats(ctx context.Context) (*domain.RequisitionStats, error) {
	stats := &domain.RequisitionStats{}

	rows, err := m.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM requisitions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sc domain.StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus = append(stats.ByStatus, sc)
		stats.Total += sc.Count
		switch sc.Status {
		case domain.StatusPendingApproval:
			stats.PendingApproval += sc.Count
		case domain.StatusApproved, domain.StatusPartiallyFulfilled:
			stats.PendingFulfillment += sc.Count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	prows, err := m.db.QueryContext(ctx, `SELECT priority, COUNT(*) FROM requisitions GROUP BY priority`)
	if err != nil {
		return nil, fmt.Errorf("count by priority: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var pc domain.PriorityCount
		if err := prows.Scan(&pc.Priority, &pc.Count); err != nil {
			return nil, fmt.Errorf("scan priority count: %w", err)
		}
		stats.ByPriority = append(stats.ByPriority, pc)
	}
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("iterate priority counts: %w", err)
	}

	return stats, nil
}

func (m *MySQLAdapter) ItemAvailability(ctx context.Context, itemID string) (*domain.ItemAvailability, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT location_id, COALESCE(SUM(quantity_available), 0)
		FROM stock_records WHERE item_id = ? GROUP BY location_id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query availability: %w", err)
	}
	defer rows.Close()

	avail := &domain.ItemAvailability{ItemID: itemID, Locations: []string{}}
	for rows.Next() {
		var location string
		var qty int
		if err := rows.Scan(&location, &qty); err != nil {
			return nil, fmt.Errorf("scan availability: %w", err)
		}
		avail.QuantityAvailable += qty
		if qty > 0 {
			avail.Locations = append(avail.Locations, location)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate availability: %w", err)
	}
	return avail, nil
}

// txStore implements port.Store over one open *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (s *txStore) GetRequisitionForUpdate(ctx context.Context, id string) (*domain.Requisition, error) {
	return selectRequisition(ctx, s.tx, id, true)
}

func (s *txStore) InsertRequisition(ctx context.Context, req *domain.Requisition) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO requisitions
			(id, request_number, department_id, requested_by, priority, status,
			 needed_by, justification, notes, approved_by, approved_at, approval_notes,
			 fulfilled_by, fulfilled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.RequestNumber, req.DepartmentID, req.RequestedBy,
		string(req.Priority), string(req.Status), req.NeededBy, req.Justification,
		req.Notes, req.ApprovedBy, req.ApprovedAt, req.ApprovalNotes,
		req.FulfilledBy, req.FulfilledAt, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert requisition: %w", err)
	}
	for i := range req.Items {
		if err := insertItem(ctx, s.tx, &req.Items[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *txStore) UpdateRequisitionHeader(ctx context.Context, req *domain.Requisition) error {
	_, err := s.tx.ExecContext(ctx, `
		UPDATE requisitions
		SET priority = ?, status = ?, needed_by = ?, justification = ?, notes = ?,
		    approved_by = ?, approved_at = ?, approval_notes = ?,
		    fulfilled_by = ?, fulfilled_at = ?, updated_at = ?
		WHERE id = ?`,
		string(req.Priority), string(req.Status), req.NeededBy, req.Justification,
		req.Notes, req.ApprovedBy, req.ApprovedAt, req.ApprovalNotes,
		req.FulfilledBy, req.FulfilledAt, req.UpdatedAt, req.ID,
	)
	if err != nil {
		return fmt.Errorf("update requisition: %w", err)
	}
	return nil
}

func (s *txStore) ReplaceRequisitionItems(ctx context.Context, requisitionID string, items []domain.RequisitionItem) error {
	if _, err := s.tx.ExecContext(ctx, `DELETE FROM requisition_items WHERE requisition_id = ?`, requisitionID); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	for i := range items {
		if err := insertItem(ctx, s.tx, &items[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *txStore) UpdateRequisitionItem(ctx context.Context, item *domain.RequisitionItem) error {
	_, err := s.tx.ExecContext(ctx, `
		UPDATE requisition_items
		SET quantity_approved = ?, quantity_issued = ?, fulfilled = ?,
		    substitute_item_id = ?, substitution_approved = ?, notes = ?
		WHERE id = ?`,
		item.QuantityApproved, item.QuantityIssued, item.Fulfilled,
		item.SubstituteItemID, item.SubstitutionApproved, item.Notes, item.ID,
	)
	if err != nil {
		return fmt.Errorf("update line item: %w", err)
	}
	return nil
}

func (s *txStore) GetStockForUpdate(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error) {
	var (
		rec         domain.StockRecord
		lot, serial sql.NullString
	)
	// <=> is MySQL's NULL-safe equality; lot and serial are part of the key
	// even when absent.
	err := s.tx.QueryRowContext(ctx, `
		SELECT id, item_id, location_id, lot_number, serial_number,
		       quantity_on_hand, quantity_reserved, quantity_available,
		       created_at, updated_at
		FROM stock_records
		WHERE item_id = ? AND location_id = ? AND lot_number <=> ? AND serial_number <=> ?
		FOR UPDATE`,
		key.ItemID, key.LocationID, key.LotNumber, key.SerialNumber,
	).Scan(&rec.ID, &rec.ItemID, &rec.LocationID, &lot, &serial,
		&rec.QuantityOnHand, &rec.QuantityReserved, &rec.QuantityAvailable,
		&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", err)
	}
	rec.LotNumber = nullableString(lot)
	rec.SerialNumber = nullableString(serial)
	return &rec, nil
}

func (s *txStore) UpdateStockQuantities(ctx context.Context, rec *domain.StockRecord) error {
	_, err := s.tx.ExecContext(ctx, `
		UPDATE stock_records
		SET quantity_on_hand = ?, quantity_available = ?, updated_at = NOW()
		WHERE id = ?`,
		rec.QuantityOnHand, rec.QuantityAvailable, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	return nil
}

func (s *txStore) DeleteStockRecord(ctx context.Context, id string) error {
	if _, err := s.tx.ExecContext(ctx, `DELETE FROM stock_records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete stock: %w", err)
	}
	return nil
}

func (s *txStore) InsertTransaction(ctx context.Context, txn *domain.InventoryTransaction) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO inventory_transactions
			(id, transaction_number, type, item_id, source_location_id, quantity,
			 unit_cost, total_cost, lot_number, serial_number,
			 reference_type, reference_id, reference_number, performed_by, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.TransactionNumber, string(txn.Type), txn.ItemID,
		txn.SourceLocationID, txn.Quantity, txn.UnitCost, txn.TotalCost,
		txn.LotNumber, txn.SerialNumber, txn.ReferenceType, txn.ReferenceID,
		txn.ReferenceNumber, txn.PerformedBy, txn.Notes, txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// NextSequence atomically increments the named counter, creating it on first
// use. LAST_INSERT_ID carries the post-increment value back through the
// connection, so concurrent callers never observe the same number.
func (s *txStore) NextSequence(ctx context.Context, name string) (int64, error) {
	res, err := s.tx.ExecContext(ctx, `
		INSERT INTO sequences (name, value) VALUES (?, LAST_INSERT_ID(1))
		ON DUPLICATE KEY UPDATE value = LAST_INSERT_ID(value + 1)`, name)
	if err != nil {
		return 0, fmt.Errorf("increment sequence: %w", err)
	}
	n, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read sequence: %w", err)
	}
	return n, nil
}

func (s *txStore) GetCatalogItem(ctx context.Context, id string) (*domain.CatalogItem, error) {
	var item domain.CatalogItem
	err := s.tx.QueryRowContext(ctx,
		`SELECT id, name, unit, average_cost FROM catalog_items WHERE id = ?`, id,
	).Scan(&item.ID, &item.Name, &item.Unit, &item.AverageCost)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query catalog item: %w", err)
	}
	return &item, nil
}

func (s *txStore) DepartmentExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.tx.QueryRowContext(ctx, `SELECT 1 FROM departments WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query department: %w", err)
	}
	return true, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx so the read helpers work
// inside and outside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const requisitionColumns = `id, request_number, department_id, requested_by, priority, status,
	needed_by, justification, notes, approved_by, approved_at, approval_notes,
	fulfilled_by, fulfilled_at, created_at, updated_at`

func selectRequisition(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Requisition, error) {
	query := "SELECT " + requisitionColumns + " FROM requisitions WHERE id = ?"
	if forUpdate {
		query += " FOR UPDATE"
	}
	req, err := scanRequisition(q.QueryRowContext(ctx, query, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query requisition: %w", err)
	}

	itemsByReq, err := loadItemSets(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	req.Items = itemsByReq[id]
	return req, nil
}

func scanRequisition(scan func(...any) error) (*domain.Requisition, error) {
	var (
		req                       domain.Requisition
		neededBy, approvedAt      sql.NullTime
		fulfilledAt               sql.NullTime
		justification, notes      sql.NullString
		approvedBy, approvalNotes sql.NullString
		fulfilledBy               sql.NullString
	)
	err := scan(&req.ID, &req.RequestNumber, &req.DepartmentID, &req.RequestedBy,
		&req.Priority, &req.Status, &neededBy, &justification, &notes,
		&approvedBy, &approvedAt, &approvalNotes, &fulfilledBy, &fulfilledAt,
		&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}
	req.NeededBy = nullableTime(neededBy)
	req.Justification = justification.String
	req.Notes = notes.String
	req.ApprovedBy = approvedBy.String
	req.ApprovedAt = nullableTime(approvedAt)
	req.ApprovalNotes = approvalNotes.String
	req.FulfilledBy = fulfilledBy.String
	req.FulfilledAt = nullableTime(fulfilledAt)
	return &req, nil
}

func loadItemSets(ctx context.Context, q querier, requisitionIDs []string) (map[string][]domain.RequisitionItem, error) {
	result := make(map[string][]domain.RequisitionItem, len(requisitionIDs))
	if len(requisitionIDs) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(requisitionIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(requisitionIDs))
	for i, id := range requisitionIDs {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, requisition_id, position, item_id, quantity_requested,
		       quantity_approved, quantity_issued, fulfilled,
		       substitute_item_id, substitution_approved, notes
		FROM requisition_items
		WHERE requisition_id IN (`+placeholders+`)
		ORDER BY requisition_id, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item       domain.RequisitionItem
			approved   sql.NullInt64
			substitute sql.NullString
			notes      sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.RequisitionID, &item.Position,
			&item.ItemID, &item.QuantityRequested, &approved, &item.QuantityIssued,
			&item.Fulfilled, &substitute, &item.SubstitutionApproved, &notes); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		if approved.Valid {
			v := int(approved.Int64)
			item.QuantityApproved = &v
		}
		item.SubstituteItemID = nullableString(substitute)
		item.Notes = notes.String
		result[item.RequisitionID] = append(result[item.RequisitionID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}
	return result, nil
}

func insertItem(ctx context.Context, q querier, item *domain.RequisitionItem) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO requisition_items
			(id, requisition_id, position, item_id, quantity_requested,
			 quantity_approved, quantity_issued, fulfilled,
			 substitute_item_id, substitution_approved, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.RequisitionID, item.Position, item.ItemID,
		item.QuantityRequested, item.QuantityApproved, item.QuantityIssued,
		item.Fulfilled, item.SubstituteItemID, item.SubstitutionApproved, item.Notes,
	)
	if err != nil {
		return fmt.Errorf("insert line item: %w", err)
	}
	return nil
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func nullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
