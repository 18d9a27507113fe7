package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const drainBatch = 100

// StockLedger adjusts per-variant quantity with single guarded updates.
// Releases that follow a cart or order write are recorded with that write
// and settled afterwards; whatever fails to settle is retried by DrainPending.
type StockLedger struct {
	repo port.StockRepository
	now  func() time.Time
}

func NewStockLedger(repo port.StockRepository) *StockLedger {
	return &StockLedger{repo: repo, now: time.Now}
}

// Reserve takes quantity units of a variant. It returns false without error
// when stock is short or the product id is malformed.
func (l *StockLedger) Reserve(ctx context.Context, productID, variantID string, quantity int) (bool, error) {
	if quantity <= 0 {
		return true, nil
	}
	if _, err := uuid.Parse(productID); err != nil {
		return false, nil
	}

	ok, err := l.repo.DecrementVariantStock(ctx, productID, variantID, quantity)
	if err != nil {
		return false, fmt.Errorf("%w: reserve %s/%s: %w", domain.ErrStorage, productID, variantID, err)
	}
	return ok, nil
}

// Release returns quantity units to a variant.
func (l *StockLedger) Release(ctx context.Context, productID, variantID string, quantity int) error {
	if quantity <= 0 {
		return nil
	}
	if _, err := uuid.Parse(productID); err != nil {
		return nil
	}

	if err := l.repo.IncrementVariantStock(ctx, productID, variantID, quantity); err != nil {
		return fmt.Errorf("%w: release %s/%s: %w", domain.ErrStorage, productID, variantID, err)
	}
	return nil
}

// Owed turns quantity units of a variant into a pending release. It returns
// nil when there is nothing to give back.
func (l *StockLedger) Owed(productID, variantID string, quantity int, reason string) *domain.PendingRelease {
	if quantity <= 0 || variantID == "" {
		return nil
	}
	if _, err := uuid.Parse(productID); err != nil {
		return nil
	}
	return &domain.PendingRelease{
		ID:        uuid.NewString(),
		ProductID: productID,
		VariantID: variantID,
		Quantity:  quantity,
		Reason:    reason,
		CreatedAt: l.now().UTC(),
	}
}

// owedLines collects a pending release for every tracked line.
func (l *StockLedger) owedLines(items []domain.CartItem, reason string) []domain.PendingRelease {
	var out []domain.PendingRelease
	for _, it := range items {
		if !it.Tracked() {
			continue
		}
		if r := l.Owed(it.ProductID, it.VariantID, it.Quantity, reason); r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Settle applies releases that were recorded with a committed write. A
// release that fails stays recorded.
func (l *StockLedger) Settle(ctx context.Context, releases []domain.PendingRelease) error {
	var errs []error
	for _, r := range releases {
		if _, err := l.repo.ApplyPendingRelease(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("%w: release %s/%s: %w", domain.ErrStorage, r.ProductID, r.VariantID, err))
		}
	}
	return errors.Join(errs...)
}

// Defer records a release to be applied by a later DrainPending. It is the
// fallback when an immediate Release failed.
func (l *StockLedger) Defer(ctx context.Context, release domain.PendingRelease) error {
	if err := l.repo.InsertPendingReleases(ctx, []domain.PendingRelease{release}); err != nil {
		return fmt.Errorf("%w: record release %s/%s: %w", domain.ErrStorage, release.ProductID, release.VariantID, err)
	}
	return nil
}

// DrainPending applies one batch of releases left by failed settles and
// returns how many it applied.
func (l *StockLedger) DrainPending(ctx context.Context) (int, error) {
	pending, err := l.repo.ListPendingReleases(ctx, drainBatch)
	if err != nil {
		return 0, fmt.Errorf("%w: list pending releases: %w", domain.ErrStorage, err)
	}

	var (
		applied int
		errs    []error
	)
	for _, r := range pending {
		ok, err := l.repo.ApplyPendingRelease(ctx, r)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: release %s/%s: %w", domain.ErrStorage, r.ProductID, r.VariantID, err))
			continue
		}
		if ok {
			applied++
		}
	}
	return applied, errors.Join(errs...)
}
