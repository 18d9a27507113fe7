package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rl1809/storefront/internal/core/domain"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (m *MySQLAdapter) DecrementVariantStock(ctx context.Context, productID, variantID string, quantity int) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE product_variants
		SET quantity = quantity - ?
		WHERE product_id = ? AND id = ? AND quantity >= ?`,
		quantity, productID, variantID, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("decrement variant stock: %w", err)
	}
	return affected(result)
}

func (m *MySQLAdapter) IncrementVariantStock(ctx context.Context, productID, variantID string, quantity int) error {
	return incrementVariantStock(ctx, m.db, productID, variantID, quantity)
}

func incrementVariantStock(ctx context.Context, ex execer, productID, variantID string, quantity int) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE product_variants
		SET quantity = quantity + ?
		WHERE product_id = ? AND id = ?`,
		quantity, productID, variantID,
	)
	if err != nil {
		return fmt.Errorf("increment variant stock: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) InsertPendingReleases(ctx context.Context, releases []domain.PendingRelease) error {
	return insertPendingReleases(ctx, m.db, releases)
}

func insertPendingReleases(ctx context.Context, ex execer, releases []domain.PendingRelease) error {
	if len(releases) == 0 {
		return nil
	}
	rows := make([]string, 0, len(releases))
	args := make([]any, 0, len(releases)*6)
	for _, r := range releases {
		rows = append(rows, "(?, ?, ?, ?, ?, ?)")
		args = append(args, r.ID, r.ProductID, r.VariantID, r.Quantity, r.Reason, r.CreatedAt.UTC())
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO pending_releases (id, product_id, variant_id, quantity, reason, created_at)
		VALUES `+strings.Join(rows, ", "), args...)
	if err != nil {
		return fmt.Errorf("insert pending releases: %w", err)
	}
	return nil
}

// ApplyPendingRelease deletes the row first. A concurrent caller blocks on
// the row lock and then matches nothing, so the units go back once.
func (m *MySQLAdapter) ApplyPendingRelease(ctx context.Context, release domain.PendingRelease) (bool, error) {
	var applied bool
	err := m.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM pending_releases WHERE id = ?`, release.ID)
		if err != nil {
			return fmt.Errorf("delete pending release: %w", err)
		}
		if applied, err = affected(result); err != nil || !applied {
			return err
		}
		return incrementVariantStock(ctx, tx, release.ProductID, release.VariantID, release.Quantity)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (m *MySQLAdapter) ListPendingReleases(ctx context.Context, limit int) ([]domain.PendingRelease, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, product_id, variant_id, quantity, reason, created_at
		FROM pending_releases
		ORDER BY created_at
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending releases: %w", err)
	}
	defer rows.Close()

	releases := []domain.PendingRelease{}
	for rows.Next() {
		var r domain.PendingRelease
		if err := rows.Scan(&r.ID, &r.ProductID, &r.VariantID, &r.Quantity, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending release: %w", err)
		}
		releases = append(releases, r)
	}
	return releases, rows.Err()
}

// guardedWrite runs a conditional statement and, only when its guard
// matched, records releases in the same transaction.
func (m *MySQLAdapter) guardedWrite(ctx context.Context, releases []domain.PendingRelease, write func(ex execer) (sql.Result, error)) (bool, error) {
	if len(releases) == 0 {
		result, err := write(m.db)
		if err != nil {
			return false, err
		}
		return affected(result)
	}

	var ok bool
	err := m.withTx(ctx, func(tx *sql.Tx) error {
		result, err := write(tx)
		if err != nil {
			return err
		}
		if ok, err = affected(result); err != nil || !ok {
			return err
		}
		return insertPendingReleases(ctx, tx, releases)
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}
