package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/rl1809/storefront/internal/core/domain"
)

const cartColumns = `id, user_id, items, total_amount, version, created_at, updated_at`

func (m *MySQLAdapter) GetCartByUser(ctx context.Context, userID int64) (*domain.Cart, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+cartColumns+` FROM carts WHERE user_id = ?`, userID)
	cart, err := scanCart(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (m *MySQLAdapter) InsertCart(ctx context.Context, cart *domain.Cart) error {
	items, err := encodeCartItems(cart.Items)
	if err != nil {
		return err
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO carts (`+cartColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cart.ID, cart.UserID, items, cart.TotalAmount, cart.Version, cart.CreatedAt.UTC(), cart.UpdatedAt.UTC(),
	)
	if isDuplicate(err) {
		return fmt.Errorf("%w: cart for user %d", domain.ErrDuplicate, cart.UserID)
	}
	if err != nil {
		return fmt.Errorf("insert cart: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) UpdateCart(ctx context.Context, cart *domain.Cart, releases []domain.PendingRelease) error {
	items, err := encodeCartItems(cart.Items)
	if err != nil {
		return err
	}
	ok, err := m.guardedWrite(ctx, releases, func(ex execer) (sql.Result, error) {
		return ex.ExecContext(ctx, `
			UPDATE carts
			SET items = ?, total_amount = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`,
			items, cart.TotalAmount, cart.UpdatedAt.UTC(), cart.ID, cart.Version,
		)
	})
	if err != nil {
		return fmt.Errorf("update cart: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: cart %s moved past version %d", domain.ErrConflict, cart.ID, cart.Version)
	}
	cart.Version++
	return nil
}

func (m *MySQLAdapter) DeleteCart(ctx context.Context, cartID string, version int64, releases []domain.PendingRelease) (bool, error) {
	ok, err := m.guardedWrite(ctx, releases, func(ex execer) (sql.Result, error) {
		return ex.ExecContext(ctx, `DELETE FROM carts WHERE id = ? AND version = ?`, cartID, version)
	})
	if err != nil {
		return false, fmt.Errorf("delete cart: %w", err)
	}
	return ok, nil
}

func (m *MySQLAdapter) ListIdleCarts(ctx context.Context, idleSince time.Time, limit int) ([]domain.Cart, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+cartColumns+` FROM carts
		WHERE updated_at < ?
		ORDER BY updated_at
		LIMIT ?`,
		idleSince.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query idle carts: %w", err)
	}
	defer rows.Close()

	carts := []domain.Cart{}
	for rows.Next() {
		cart, err := scanCart(rows)
		if err != nil {
			return nil, err
		}
		carts = append(carts, *cart)
	}
	return carts, rows.Err()
}

func scanCart(row rowScanner) (*domain.Cart, error) {
	var (
		cart  domain.Cart
		items []byte
	)
	err := row.Scan(&cart.ID, &cart.UserID, &items, &cart.TotalAmount, &cart.Version, &cart.CreatedAt, &cart.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan cart: %w", err)
	}
	cart.Items = []domain.CartItem{}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &cart.Items); err != nil {
			return nil, fmt.Errorf("decode cart %s items: %w", cart.ID, err)
		}
	}
	return &cart, nil
}

func encodeCartItems(items []domain.CartItem) ([]byte, error) {
	if items == nil {
		items = []domain.CartItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode cart items: %w", err)
	}
	return data, nil
}
