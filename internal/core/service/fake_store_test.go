package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/carestack/supplyline/internal/core/domain"
	"github.com/carestack/supplyline/internal/port"
)

// fakeDB is an in-memory DatabaseRepository. WithinTx runs the callback
// against a deep copy of the state and swaps it in only on success, so a
// failed batch leaves no partial effects, matching the real adapter.
type fakeDB struct {
	mu    sync.Mutex
	state *fakeState
}

type fakeState struct {
	requisitions map[string]*domain.Requisition
	stock        map[string]*domain.StockRecord
	transactions []domain.InventoryTransaction
	sequences    map[string]int64
	catalog      map[string]domain.CatalogItem
	departments  map[string]bool
}

func newFakeDB() *fakeDB {
	return &fakeDB{state: &fakeState{
		requisitions: make(map[string]*domain.Requisition),
		stock:        make(map[string]*domain.StockRecord),
		sequences:    make(map[string]int64),
		catalog:      make(map[string]domain.CatalogItem),
		departments:  make(map[string]bool),
	}}
}

func (f *fakeDB) WithinTx(ctx context.Context, fn func(port.Store) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	trial := f.state.clone()
	if err := fn(&fakeStore{state: trial}); err != nil {
		return err
	}
	f.state = trial
	return nil
}

func (f *fakeDB) GetRequisition(ctx context.Context, id string) (*domain.Requisition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.state.requisitions[id]
	if !ok {
		return nil, nil
	}
	return cloneRequisition(req), nil
}

func (f *fakeDB) ListRequisitions(ctx context.Context, filter domain.RequisitionFilter) (*domain.RequisitionPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	matched := make([]domain.Requisition, 0, len(f.state.requisitions))
	for _, req := range f.state.requisitions {
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}
		if filter.DepartmentID != nil && req.DepartmentID != *filter.DepartmentID {
			continue
		}
		if filter.Priority != nil && req.Priority != *filter.Priority {
			continue
		}
		matched = append(matched, *cloneRequisition(req))
	}
	return &domain.RequisitionPage{
		Requisitions: matched,
		Total:        int64(len(matched)),
		Page:         filter.Page,
		PageSize:     filter.PageSize,
	}, nil
}

func (f *fakeDB) RequisitionStats(ctx context.Context) (*domain.RequisitionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := &domain.RequisitionStats{}
	byStatus := make(map[domain.RequisitionStatus]int64)
	byPriority := make(map[domain.Priority]int64)
	for _, req := range f.state.requisitions {
		stats.Total++
		byStatus[req.Status]++
		byPriority[req.Priority]++
	}
	stats.PendingApproval = byStatus[domain.StatusPendingApproval]
	stats.PendingFulfillment = byStatus[domain.StatusApproved] + byStatus[domain.StatusPartiallyFulfilled]
	for s, c := range byStatus {
		stats.ByStatus = append(stats.ByStatus, domain.StatusCount{Status: s, Count: c})
	}
	for p, c := range byPriority {
		stats.ByPriority = append(stats.ByPriority, domain.PriorityCount{Priority: p, Count: c})
	}
	return stats, nil
}

func (f *fakeDB) ItemAvailability(ctx context.Context, itemID string) (*domain.ItemAvailability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	avail := &domain.ItemAvailability{ItemID: itemID, Locations: []string{}}
	perLocation := make(map[string]int)
	for _, rec := range f.state.stock {
		if rec.ItemID == itemID {
			avail.QuantityAvailable += rec.QuantityAvailable
			perLocation[rec.LocationID] += rec.QuantityAvailable
		}
	}
	for loc, qty := range perLocation {
		if qty > 0 {
			avail.Locations = append(avail.Locations, loc)
		}
	}
	return avail, nil
}

// Seed helpers. All take the lock so tests can seed between operations.

func (f *fakeDB) addDepartment(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.departments[id] = true
}

func (f *fakeDB) addCatalogItem(id, cost string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.catalog[id] = domain.CatalogItem{
		ID:          id,
		Name:        "item " + id,
		Unit:        "EA",
		AverageCost: decimal.RequireFromString(cost),
	}
}

func (f *fakeDB) addStock(itemID, locationID string, lot, serial *string, onHand, reserved int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New().String()
	f.state.stock[id] = &domain.StockRecord{
		ID:                id,
		ItemID:            itemID,
		LocationID:        locationID,
		LotNumber:         lot,
		SerialNumber:      serial,
		QuantityOnHand:    onHand,
		QuantityReserved:  reserved,
		QuantityAvailable: onHand - reserved,
	}
	return id
}

func (f *fakeDB) stockByKey(key domain.StockKey) *domain.StockRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.state.stock {
		if sameStockKey(rec.Key(), key) {
			clone := *rec
			return &clone
		}
	}
	return nil
}

func (f *fakeDB) transactionsFor(requisitionID string) []domain.InventoryTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.InventoryTransaction
	for _, txn := range f.state.transactions {
		if txn.ReferenceID == requisitionID {
			out = append(out, txn)
		}
	}
	return out
}

// fakeStore implements port.Store over the trial state of one transaction.
type fakeStore struct {
	state *fakeState
}

func (s *fakeStore) GetRequisitionForUpdate(ctx context.Context, id string) (*domain.Requisition, error) {
	req, ok := s.state.requisitions[id]
	if !ok {
		return nil, nil
	}
	return cloneRequisition(req), nil
}

func (s *fakeStore) InsertRequisition(ctx context.Context, req *domain.Requisition) error {
	s.state.requisitions[req.ID] = cloneRequisition(req)
	return nil
}

func (s *fakeStore) UpdateRequisitionHeader(ctx context.Context, req *domain.Requisition) error {
	stored := s.state.requisitions[req.ID]
	items := stored.Items
	updated := cloneRequisition(req)
	updated.Items = items
	s.state.requisitions[req.ID] = updated
	return nil
}

func (s *fakeStore) ReplaceRequisitionItems(ctx context.Context, requisitionID string, items []domain.RequisitionItem) error {
	stored := s.state.requisitions[requisitionID]
	stored.Items = cloneItems(items)
	return nil
}

func (s *fakeStore) UpdateRequisitionItem(ctx context.Context, item *domain.RequisitionItem) error {
	stored := s.state.requisitions[item.RequisitionID]
	for i := range stored.Items {
		if stored.Items[i].ID == item.ID {
			stored.Items[i] = *cloneItem(item)
			return nil
		}
	}
	return nil
}

func (s *fakeStore) GetStockForUpdate(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error) {
	for _, rec := range s.state.stock {
		if sameStockKey(rec.Key(), key) {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) UpdateStockQuantities(ctx context.Context, rec *domain.StockRecord) error {
	clone := *rec
	s.state.stock[rec.ID] = &clone
	return nil
}

func (s *fakeStore) DeleteStockRecord(ctx context.Context, id string) error {
	delete(s.state.stock, id)
	return nil
}

func (s *fakeStore) InsertTransaction(ctx context.Context, txn *domain.InventoryTransaction) error {
	s.state.transactions = append(s.state.transactions, *txn)
	return nil
}

func (s *fakeStore) NextSequence(ctx context.Context, name string) (int64, error) {
	s.state.sequences[name]++
	return s.state.sequences[name], nil
}

func (s *fakeStore) GetCatalogItem(ctx context.Context, id string) (*domain.CatalogItem, error) {
	item, ok := s.state.catalog[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *fakeStore) DepartmentExists(ctx context.Context, id string) (bool, error) {
	return s.state.departments[id], nil
}

// fakeCache records invalidations so tests can assert on them.
type fakeCache struct {
	mu               sync.Mutex
	availability     map[string]*domain.ItemAvailability
	stats            *domain.RequisitionStats
	invalidatedItems []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{availability: make(map[string]*domain.ItemAvailability)}
}

func (c *fakeCache) GetItemAvailability(ctx context.Context, itemID string) (*domain.ItemAvailability, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.availability[itemID], nil
}

func (c *fakeCache) SetItemAvailability(ctx context.Context, avail *domain.ItemAvailability) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.availability[avail.ItemID] = avail
	return nil
}

func (c *fakeCache) InvalidateItemAvailability(ctx context.Context, itemIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range itemIDs {
		delete(c.availability, id)
		c.invalidatedItems = append(c.invalidatedItems, id)
	}
	return nil
}

func (c *fakeCache) GetStats(ctx context.Context) (*domain.RequisitionStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats, nil
}

func (c *fakeCache) SetStats(ctx context.Context, stats *domain.RequisitionStats) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = stats
	return nil
}

func (c *fakeCache) InvalidateStats(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = nil
	return nil
}

func newTestService() (*RequisitionService, *fakeDB, *fakeCache) {
	db := newFakeDB()
	cache := newFakeCache()
	return NewRequisitionService(db, cache, zap.NewNop()), db, cache
}

// Deep-copy helpers.

func (st *fakeState) clone() *fakeState {
	out := &fakeState{
		requisitions: make(map[string]*domain.Requisition, len(st.requisitions)),
		stock:        make(map[string]*domain.StockRecord, len(st.stock)),
		transactions: append([]domain.InventoryTransaction(nil), st.transactions...),
		sequences:    make(map[string]int64, len(st.sequences)),
		catalog:      make(map[string]domain.CatalogItem, len(st.catalog)),
		departments:  make(map[string]bool, len(st.departments)),
	}
	for id, req := range st.requisitions {
		out.requisitions[id] = cloneRequisition(req)
	}
	for id, rec := range st.stock {
		clone := *rec
		out.stock[id] = &clone
	}
	for name, v := range st.sequences {
		out.sequences[name] = v
	}
	for id, item := range st.catalog {
		out.catalog[id] = item
	}
	for id, ok := range st.departments {
		out.departments[id] = ok
	}
	return out
}

func cloneRequisition(req *domain.Requisition) *domain.Requisition {
	clone := *req
	clone.NeededBy = cloneTimePtr(req.NeededBy)
	clone.ApprovedAt = cloneTimePtr(req.ApprovedAt)
	clone.FulfilledAt = cloneTimePtr(req.FulfilledAt)
	clone.Items = cloneItems(req.Items)
	return &clone
}

func cloneItems(items []domain.RequisitionItem) []domain.RequisitionItem {
	out := make([]domain.RequisitionItem, len(items))
	for i := range items {
		out[i] = *cloneItem(&items[i])
	}
	return out
}

func cloneItem(item *domain.RequisitionItem) *domain.RequisitionItem {
	clone := *item
	if item.QuantityApproved != nil {
		v := *item.QuantityApproved
		clone.QuantityApproved = &v
	}
	if item.SubstituteItemID != nil {
		v := *item.SubstituteItemID
		clone.SubstituteItemID = &v
	}
	return &clone
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func sameStockKey(a, b domain.StockKey) bool {
	return a.ItemID == b.ItemID &&
		a.LocationID == b.LocationID &&
		samePtr(a.LotNumber, b.LotNumber) &&
		samePtr(a.SerialNumber, b.SerialNumber)
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
