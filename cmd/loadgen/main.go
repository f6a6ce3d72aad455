package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/carestack/supplyline/internal/adapter/storage"
	"github.com/carestack/supplyline/internal/core/domain"
	"github.com/carestack/supplyline/internal/core/service"
)

// loadgen races concurrent fulfillments against a single stock record and
// checks that exactly initialStock units are issued in total.
const (
	mysqlDSN      = "root:root@tcp(localhost:3306)/supplyline?parseTime=true"
	redisAddr     = "localhost:6379"
	initialStock  = 20
	totalRequests = 50
)

func main() {
	ctx := context.Background()

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}
	if err := storage.ApplySchema(ctx, db); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	svc := service.NewRequisitionService(storage.NewMySQLAdapter(db), storage.NewRedisAdapter(rdb), logger)

	departmentID := uuid.New().String()
	itemID := uuid.New().String()
	locationID := uuid.New().String()

	mustExec(ctx, db, `INSERT INTO departments (id, name) VALUES (?, ?)`, departmentID, "loadgen")
	mustExec(ctx, db, `INSERT INTO catalog_items (id, name, unit, average_cost) VALUES (?, ?, ?, ?)`,
		itemID, "loadgen item", "EA", "2.5000")
	mustExec(ctx, db, `
		INSERT INTO stock_records
			(id, item_id, location_id, quantity_on_hand, quantity_reserved, quantity_available, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, NOW(), NOW())`,
		uuid.New().String(), itemID, locationID, initialStock, initialStock)

	// One approved single-unit requisition per request.
	requisitionIDs := make([]string, 0, totalRequests)
	for i := 0; i < totalRequests; i++ {
		req, err := svc.Create(ctx, service.CreateRequisitionInput{
			DepartmentID: departmentID,
			RequestedBy:  fmt.Sprintf("loadgen-%d", i),
			Items:        []service.CreateItemInput{{ItemID: itemID, QuantityRequested: 1}},
		})
		if err != nil {
			log.Fatalf("create failed: %v", err)
		}
		if _, err := svc.Submit(ctx, req.ID); err != nil {
			log.Fatalf("submit failed: %v", err)
		}
		if _, err := svc.Approve(ctx, req.ID, "loadgen", "", nil); err != nil {
			log.Fatalf("approve failed: %v", err)
		}
		requisitionIDs = append(requisitionIDs, req.ID)
	}

	var fulfilled, rejected, failed atomic.Int32
	var wg sync.WaitGroup
	for _, id := range requisitionIDs {
		wg.Add(1)
		go func(reqID string) {
			defer wg.Done()
			req, err := svc.GetByID(ctx, reqID)
			if err != nil {
				failed.Add(1)
				return
			}
			_, err = svc.Fulfill(ctx, reqID, "loadgen",
				[]service.FulfillmentInstruction{{
					ItemID:     req.Requisition.Items[0].ID,
					Quantity:   1,
					LocationID: locationID,
				}}, "")
			switch {
			case err == nil:
				fulfilled.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrNotFound):
				rejected.Add(1)
			default:
				failed.Add(1)
			}
		}(id)
	}
	wg.Wait()

	fmt.Printf("fulfilled=%d rejected=%d failed=%d (expected fulfilled=%d)\n",
		fulfilled.Load(), rejected.Load(), failed.Load(), initialStock)
	if fulfilled.Load() != initialStock || failed.Load() != 0 {
		log.Fatal("over-issue or unexpected failure detected")
	}

	var remaining int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stock_records WHERE item_id = ? AND location_id = ?`, itemID, locationID).Scan(&remaining)
	if err != nil {
		log.Fatalf("verify stock: %v", err)
	}
	if remaining != 0 {
		log.Fatalf("expected depleted stock record to be deleted, found %d rows", remaining)
	}
	fmt.Println("stock record deleted after depletion, ledger consistent")
}

func mustExec(ctx context.Context, db *sql.DB, query string, args ...any) {
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}
