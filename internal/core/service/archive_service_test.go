package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
)

func TestSetStatus_DoneArchivesInSameUpdate(t *testing.T) {
	f := newOrderFixture(t)
	order, _, _ := f.placeOrder(t, 1, 1)

	got, err := f.archive.SetStatus(context.Background(), order.ID, domain.OrderStatusDone)
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
	assert.Equal(t, f.clock.Now(), *got.DeletedAt)

	stored := f.store.orders[order.ID]
	assert.Equal(t, domain.OrderStatusDone, stored.Status)
	assert.NotNil(t, stored.DeletedAt)
}

func TestSetStatus_LeavingDoneClearsMarker(t *testing.T) {
	f := newOrderFixture(t)
	order, _, _ := f.placeOrder(t, 1, 1)
	ctx := context.Background()

	_, err := f.archive.SetStatus(ctx, order.ID, domain.OrderStatusDone)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	got, err := f.archive.SetStatus(ctx, order.ID, domain.OrderStatusShipped)
	require.NoError(t, err)
	assert.Nil(t, got.DeletedAt)
	assert.Nil(t, f.store.orders[order.ID].DeletedAt)
}

func TestSetStatus_CancelReleasesOnce(t *testing.T) {
	f := newOrderFixture(t)
	order, pid, vid := f.placeOrder(t, 1, 4)
	ctx := context.Background()
	require.Equal(t, 6, f.store.stock(pid, vid))

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.archive.SetStatus(ctx, order.ID, domain.OrderStatusCanceled); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), ok.Load())
	assert.Equal(t, 10, f.store.stock(pid, vid))

	_, err := f.archive.SetStatus(ctx, order.ID, domain.OrderStatusCanceled)
	require.NoError(t, err)
	assert.Equal(t, 10, f.store.stock(pid, vid))

	_, err = f.archive.SetStatus(ctx, order.ID, domain.OrderStatusProcessing)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestSetStatus_CancelReleaseRetriedAfterOutage(t *testing.T) {
	f := newOrderFixture(t)
	order, pid, vid := f.placeOrder(t, 1, 4)
	ctx := context.Background()

	f.store.failStock = errBoom
	got, err := f.archive.SetStatus(ctx, order.ID, domain.OrderStatusCanceled)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, got.Status)
	assert.Equal(t, 6, f.store.stock(pid, vid))
	assert.Equal(t, 1, f.store.pendingCount())

	// Canceling again must not record a second release
	_, err = f.archive.SetStatus(ctx, order.ID, domain.OrderStatusCanceled)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.pendingCount())

	f.store.failStock = nil
	applied, err := NewStockLedger(f.store).DrainPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, 10, f.store.stock(pid, vid))
}

func TestSetStatus_CancelFromDoneRejected(t *testing.T) {
	f := newOrderFixture(t)
	order, pid, vid := f.placeOrder(t, 1, 2)
	ctx := context.Background()

	_, err := f.archive.SetStatus(ctx, order.ID, domain.OrderStatusDone)
	require.NoError(t, err)
	_, err = f.archive.SetStatus(ctx, order.ID, domain.OrderStatusCanceled)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 8, f.store.stock(pid, vid))
}

func TestSetStatus_UnknownStatus(t *testing.T) {
	f := newOrderFixture(t)
	order, _, _ := f.placeOrder(t, 1, 1)

	_, err := f.archive.SetStatus(context.Background(), order.ID, "lost")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSetStatus_NotifiesCustomer(t *testing.T) {
	f := newOrderFixture(t)
	order, _, _ := f.placeOrder(t, 1, 1)

	_, err := f.archive.SetStatus(context.Background(), order.ID, domain.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, []domain.OrderStatus{domain.OrderStatusShipped}, f.notifier.statuses)
}

func TestQuickAccept(t *testing.T) {
	f := newOrderFixture(t)
	order, _, _ := f.placeOrder(t, 1, 1)
	ctx := context.Background()

	got, err := f.archive.QuickAccept(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAccepted, got.Status)

	_, err = f.archive.QuickAccept(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRestore_WithinGraceWindow(t *testing.T) {
	f := newOrderFixture(t)
	order, _, _ := f.placeOrder(t, 1, 1)
	ctx := context.Background()

	_, err := f.archive.SetStatus(ctx, order.ID, domain.OrderStatusDone)
	require.NoError(t, err)
	f.clock.Advance(9 * time.Minute)

	got, err := f.archive.Restore(ctx, order.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DeletedAt)
	assert.Nil(t, f.store.orders[order.ID].DeletedAt)
	assert.Equal(t, domain.OrderStatusDone, f.store.orders[order.ID].Status)
}

func TestRestore_AfterGraceWindowExpired(t *testing.T) {
	f := newOrderFixture(t)
	order, _, _ := f.placeOrder(t, 1, 1)
	ctx := context.Background()

	_, err := f.archive.SetStatus(ctx, order.ID, domain.OrderStatusDone)
	require.NoError(t, err)
	f.clock.Advance(11 * time.Minute)

	_, err = f.archive.Restore(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrRestoreExpired)
	assert.NotNil(t, f.store.orders[order.ID].DeletedAt)
}

func TestRestore_NotArchived(t *testing.T) {
	f := newOrderFixture(t)
	order, _, _ := f.placeOrder(t, 1, 1)

	_, err := f.archive.Restore(context.Background(), order.ID)
	assert.ErrorIs(t, err, domain.ErrNotArchived)
}

func TestPurgeExpired(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	old, _, _ := f.placeOrder(t, 1, 1)
	recent, _, _ := f.placeOrder(t, 2, 1)
	active, _, _ := f.placeOrder(t, 3, 1)

	_, err := f.archive.SetStatus(ctx, old.ID, domain.OrderStatusDone)
	require.NoError(t, err)
	f.clock.Advance(8 * time.Minute)
	_, err = f.archive.SetStatus(ctx, recent.ID, domain.OrderStatusDone)
	require.NoError(t, err)
	f.clock.Advance(3 * time.Minute)

	f.blobs.failDel = errBoom
	n, err := f.archive.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotContains(t, f.store.orders, old.ID)
	assert.Contains(t, f.store.orders, recent.ID)
	assert.Contains(t, f.store.orders, active.ID)
	assert.Equal(t, []string{old.ReceiptKey}, f.blobs.deletions)

	n, err = f.archive.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
