package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/storefront?parseTime=true&clientFoundRows=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := NewMySQLAdapter(db).Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return db
}

// seedProduct inserts a fresh category and a product with one variant.
func seedProduct(t *testing.T, adapter *MySQLAdapter, stock int) domain.Product {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	cat := domain.Category{ID: uuid.NewString(), Name: "test-" + uuid.NewString()[:8], CreatedAt: now}
	if err := adapter.CreateCategory(ctx, cat); err != nil {
		t.Fatalf("create category: %v", err)
	}
	p := domain.Product{
		ID:         uuid.NewString(),
		CategoryID: cat.ID,
		Name:       "Tee",
		Price:      decimal.RequireFromString("12.50"),
		Images:     []string{"a.jpg"},
		Image:      "a.jpg",
		Available:  true,
		Variants:   []domain.Variant{{ID: uuid.NewString(), Name: "M", Quantity: stock}},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := adapter.CreateProduct(ctx, p); err != nil {
		t.Fatalf("create product: %v", err)
	}
	t.Cleanup(func() { adapter.DeleteCategory(context.Background(), cat.ID) })
	return p
}

func TestDecrementVariantStock_Guarded(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	p := seedProduct(t, adapter, 5)
	vid := p.Variants[0].ID

	ok, err := adapter.DecrementVariantStock(ctx, p.ID, vid, 3)
	if err != nil || !ok {
		t.Fatalf("expected decrement to succeed, got ok=%v err=%v", ok, err)
	}

	ok, err = adapter.DecrementVariantStock(ctx, p.ID, vid, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected guard to reject decrement below zero")
	}

	if err := adapter.IncrementVariantStock(ctx, p.ID, vid, 1); err != nil {
		t.Fatalf("IncrementVariantStock failed: %v", err)
	}

	got, err := adapter.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if got.Variants[0].Quantity != 3 {
		t.Errorf("expected quantity 3, got %d", got.Variants[0].Quantity)
	}
}

func TestDecrementVariantStock_Concurrent(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	p := seedProduct(t, adapter, 20)
	vid := p.Variants[0].ID

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.DecrementVariantStock(ctx, p.ID, vid, 1)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 20 {
		t.Errorf("expected 20 successes, got %d", successCount.Load())
	}
}

func TestProduct_RoundTrip(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	p := seedProduct(t, adapter, 7)

	got, err := adapter.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if !got.Price.Equal(p.Price) {
		t.Errorf("expected price %s, got %s", p.Price, got.Price)
	}
	if len(got.Images) != 1 || got.Images[0] != "a.jpg" {
		t.Errorf("unexpected images %v", got.Images)
	}

	p.Name = "Renamed"
	p.Variants = []domain.Variant{{ID: uuid.NewString(), Name: "L", Quantity: 1}}
	if err := adapter.UpdateProduct(ctx, p, false); err != nil {
		t.Fatalf("UpdateProduct failed: %v", err)
	}
	got, _ = adapter.GetProduct(ctx, p.ID)
	if got.Name != "Renamed" || got.Variants[0].Name != "M" {
		t.Errorf("expected name change with variants kept, got %s/%s", got.Name, got.Variants[0].Name)
	}

	if err := adapter.UpdateProduct(ctx, p, true); err != nil {
		t.Fatalf("UpdateProduct failed: %v", err)
	}
	got, _ = adapter.GetProduct(ctx, p.ID)
	if len(got.Variants) != 1 || got.Variants[0].Name != "L" {
		t.Errorf("expected variants replaced, got %+v", got.Variants)
	}

	if err := adapter.DeleteCategory(ctx, p.CategoryID); err != nil {
		t.Fatalf("DeleteCategory failed: %v", err)
	}
	if _, err := adapter.GetProduct(ctx, p.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected product removed with category, got %v", err)
	}
}

func TestCategory_Duplicate(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	name := "dup-" + uuid.NewString()[:8]

	first := domain.Category{ID: uuid.NewString(), Name: name, CreatedAt: time.Now()}
	if err := adapter.CreateCategory(ctx, first); err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}
	defer adapter.DeleteCategory(ctx, first.ID)

	err := adapter.CreateCategory(ctx, domain.Category{ID: uuid.NewString(), Name: name, CreatedAt: time.Now()})
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestCart_CompareAndSwap(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	userID := time.Now().UnixNano()

	cart := domain.NewCart(uuid.NewString(), userID, time.Now().UTC())
	if err := adapter.InsertCart(ctx, cart); err != nil {
		t.Fatalf("InsertCart failed: %v", err)
	}
	defer db.ExecContext(ctx, `DELETE FROM carts WHERE id = ?`, cart.ID)

	if err := adapter.InsertCart(ctx, domain.NewCart(uuid.NewString(), userID, time.Now())); !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	stale := *cart
	cart.AddLine(domain.CartItem{ID: uuid.NewString(), ProductID: "p", Quantity: 2, Price: decimal.NewFromInt(3)}, time.Now().UTC())
	if err := adapter.UpdateCart(ctx, cart, nil); err != nil {
		t.Fatalf("UpdateCart failed: %v", err)
	}
	if cart.Version != 1 {
		t.Errorf("expected version 1, got %d", cart.Version)
	}

	if err := adapter.UpdateCart(ctx, &stale, nil); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict for stale write, got %v", err)
	}

	got, err := adapter.GetCartByUser(ctx, userID)
	if err != nil {
		t.Fatalf("GetCartByUser failed: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 2 {
		t.Errorf("unexpected items %+v", got.Items)
	}

	ok, _ := adapter.DeleteCart(ctx, cart.ID, 0, nil)
	if ok {
		t.Error("expected delete at stale version to fail")
	}
	ok, _ = adapter.DeleteCart(ctx, cart.ID, 1, nil)
	if !ok {
		t.Error("expected delete at current version to succeed")
	}
}

func TestPendingRelease_RecordedWithDeleteAndAppliedOnce(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	p := seedProduct(t, adapter, 5)
	vid := p.Variants[0].ID

	cart := domain.NewCart(uuid.NewString(), time.Now().UnixNano(), time.Now().UTC())
	if err := adapter.InsertCart(ctx, cart); err != nil {
		t.Fatalf("InsertCart failed: %v", err)
	}
	release := domain.PendingRelease{
		ID: uuid.NewString(), ProductID: p.ID, VariantID: vid, Quantity: 3,
		Reason: domain.ReleaseCartExpired, CreatedAt: time.Now().UTC(),
	}
	defer db.ExecContext(ctx, `DELETE FROM pending_releases WHERE id = ?`, release.ID)

	// A stale delete must not record anything
	if ok, err := adapter.DeleteCart(ctx, cart.ID, 7, []domain.PendingRelease{release}); err != nil || ok {
		t.Fatalf("expected stale delete to miss: ok=%v err=%v", ok, err)
	}
	var count int
	db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_releases WHERE id = ?`, release.ID).Scan(&count)
	if count != 0 {
		t.Fatalf("expected no pending release after stale delete, got %d", count)
	}

	if ok, err := adapter.DeleteCart(ctx, cart.ID, 0, []domain.PendingRelease{release}); err != nil || !ok {
		t.Fatalf("DeleteCart failed: ok=%v err=%v", ok, err)
	}
	pending, err := adapter.ListPendingReleases(ctx, 1000)
	if err != nil {
		t.Fatalf("ListPendingReleases failed: %v", err)
	}
	found := false
	for _, r := range pending {
		found = found || r.ID == release.ID
	}
	if !found {
		t.Fatal("expected the release to be recorded with the delete")
	}

	for i := 0; i < 2; i++ {
		ok, err := adapter.ApplyPendingRelease(ctx, release)
		if err != nil {
			t.Fatalf("ApplyPendingRelease failed: %v", err)
		}
		if ok != (i == 0) {
			t.Errorf("apply #%d: expected ok=%v, got %v", i+1, i == 0, ok)
		}
	}

	var qty int
	db.QueryRowContext(ctx, `SELECT quantity FROM product_variants WHERE product_id = ? AND id = ?`, p.ID, vid).Scan(&qty)
	if qty != 8 {
		t.Errorf("expected stock 8, got %d", qty)
	}
}

func TestOrder_Lifecycle(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	userID := time.Now().UnixNano()
	now := time.Now().UTC().Truncate(time.Microsecond)

	cart := domain.NewCart(uuid.NewString(), userID, now)
	if err := adapter.InsertCart(ctx, cart); err != nil {
		t.Fatalf("InsertCart failed: %v", err)
	}

	order := domain.Order{
		ID:          uuid.Must(uuid.NewV7()).String(),
		UserID:      userID,
		Address:     "1 Main St",
		Items:       []domain.OrderItem{{ProductID: "p", Quantity: 1, Price: decimal.NewFromInt(5)}},
		TotalAmount: decimal.NewFromInt(5),
		Status:      domain.OrderStatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := adapter.CreateOrderFromCart(ctx, order, cart.ID, 1); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale cart version, got %v", err)
	}
	if err := adapter.CreateOrderFromCart(ctx, order, cart.ID, 0); err != nil {
		t.Fatalf("CreateOrderFromCart failed: %v", err)
	}
	defer db.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, order.ID)

	if _, err := adapter.GetCartByUser(ctx, userID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected cart deleted by checkout, got %v", err)
	}

	archivedAt := now
	ok, err := adapter.TransitionStatus(ctx, order.ID, domain.OrderStatusProcessing, domain.OrderStatusDone, &archivedAt, nil)
	if err != nil || !ok {
		t.Fatalf("TransitionStatus failed: ok=%v err=%v", ok, err)
	}
	ok, _ = adapter.TransitionStatus(ctx, order.ID, domain.OrderStatusProcessing, domain.OrderStatusCanceled, nil, nil)
	if ok {
		t.Error("expected transition from a stale status to fail")
	}

	ok, _ = adapter.RestoreOrder(ctx, order.ID, now.Add(time.Minute))
	if ok {
		t.Error("expected restore past the window to fail")
	}
	ok, _ = adapter.RestoreOrder(ctx, order.ID, now.Add(-time.Minute))
	if !ok {
		t.Error("expected restore inside the window to succeed")
	}

	got, err := adapter.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.DeletedAt != nil || got.Status != domain.OrderStatusDone {
		t.Errorf("unexpected order state %s deleted=%v", got.Status, got.DeletedAt)
	}

	adapter.TransitionStatus(ctx, order.ID, domain.OrderStatusDone, domain.OrderStatusDone, &archivedAt, nil)
	ok, _ = adapter.DeleteArchivedOrder(ctx, order.ID, now.Add(-time.Second))
	if ok {
		t.Error("expected purge before cutoff to skip the order")
	}
	ok, _ = adapter.DeleteArchivedOrder(ctx, order.ID, now.Add(time.Second))
	if !ok {
		t.Error("expected purge after cutoff to delete the order")
	}
}

func TestStoreStatus_WakeIfDue(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	now := time.Now().UTC().Truncate(time.Microsecond)
	until := now.Add(time.Minute)

	err := adapter.SaveStoreStatus(ctx, domain.StoreStatus{IsSleep: true, SleepMessage: "back soon", SleepUntil: &until, UpdatedAt: now})
	if err != nil {
		t.Fatalf("SaveStoreStatus failed: %v", err)
	}
	defer adapter.SaveStoreStatus(ctx, domain.StoreStatus{UpdatedAt: now})

	ok, _ := adapter.WakeIfDue(ctx, now)
	if ok {
		t.Error("expected no wake before sleep_until")
	}
	ok, _ = adapter.WakeIfDue(ctx, until)
	if !ok {
		t.Error("expected wake at sleep_until")
	}
	ok, _ = adapter.WakeIfDue(ctx, until)
	if ok {
		t.Error("expected second wake to be a no-op")
	}

	st, err := adapter.GetStoreStatus(ctx)
	if err != nil {
		t.Fatalf("GetStoreStatus failed: %v", err)
	}
	if st.IsSleep || st.SleepUntil != nil {
		t.Errorf("expected store awake, got %+v", st)
	}
}

func TestCatalogVersion(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	version := uuid.NewString()

	if err := adapter.SetCatalogVersion(ctx, version); err != nil {
		t.Fatalf("SetCatalogVersion failed: %v", err)
	}
	got, err := adapter.GetCatalogVersion(ctx)
	if err != nil {
		t.Fatalf("GetCatalogVersion failed: %v", err)
	}
	if got != version {
		t.Errorf("expected %s, got %s", version, got)
	}
}
