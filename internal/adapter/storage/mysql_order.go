package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/rl1809/storefront/internal/core/domain"
)

const orderColumns = `id, user_id, customer_name, phone, address, comment, delivery_type, payment_type,
	items, total_amount, status, receipt_key, deleted_at, created_at, updated_at`

// CreateOrderFromCart inserts the order and removes the cart it came from in
// one transaction. The cart delete is guarded by version, so a cart that
// changed after it was read rolls the whole checkout back.
func (m *MySQLAdapter) CreateOrderFromCart(ctx context.Context, order domain.Order, cartID string, cartVersion int64) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}

	return m.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE id = ? AND version = ?`, cartID, cartVersion)
		if err != nil {
			return fmt.Errorf("delete cart: %w", err)
		}
		ok, err := affected(result)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: cart %s moved past version %d", domain.ErrConflict, cartID, cartVersion)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ID, order.UserID, order.CustomerName, order.Phone, order.Address, order.Comment,
			order.DeliveryType, order.PaymentType, items, order.TotalAmount, order.Status, order.ReceiptKey,
			nullTime(order.DeletedAt), order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return nil
	})
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return m.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
}

func (m *MySQLAdapter) LastOrderForUser(ctx context.Context, userID int64) (*domain.Order, error) {
	return m.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY id DESC LIMIT 1`, userID)
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, q domain.OrderQuery) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if q.Cursor != "" {
		where = append(where, "id < ?")
		args = append(args, q.Cursor)
	}
	if !q.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	switch q.Status {
	case "":
	case domain.OrderStatusProcessing:
		where = append(where, "status IN (?, ?)")
		args = append(args, domain.OrderStatusProcessing, domain.OrderStatusNew)
	default:
		where = append(where, "status = ?")
		args = append(args, q.Status)
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, q.Limit)

	return m.queryOrders(ctx, query, args...)
}

func (m *MySQLAdapter) TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus, deletedAt *time.Time, releases []domain.PendingRelease) (bool, error) {
	ok, err := m.guardedWrite(ctx, releases, func(ex execer) (sql.Result, error) {
		return ex.ExecContext(ctx, `
			UPDATE orders
			SET status = ?, deleted_at = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			to, nullTime(deletedAt), time.Now().UTC(), id, from,
		)
	})
	if err != nil {
		return false, fmt.Errorf("transition order status: %w", err)
	}
	return ok, nil
}

func (m *MySQLAdapter) UpdateAddress(ctx context.Context, id, address string) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE orders SET address = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		address, time.Now().UTC(), id, domain.OrderStatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("update order address: %w", err)
	}
	return affected(result)
}

func (m *MySQLAdapter) RestoreOrder(ctx context.Context, id string, notBefore time.Time) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE orders SET deleted_at = NULL, updated_at = ?
		WHERE id = ? AND deleted_at IS NOT NULL AND deleted_at >= ?`,
		time.Now().UTC(), id, notBefore.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("restore order: %w", err)
	}
	return affected(result)
}

func (m *MySQLAdapter) FindPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	return m.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE deleted_at IS NOT NULL AND deleted_at <= ?
		ORDER BY deleted_at
		LIMIT ?`,
		cutoff.UTC(), limit,
	)
}

func (m *MySQLAdapter) DeleteArchivedOrder(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		DELETE FROM orders WHERE id = ? AND deleted_at IS NOT NULL AND deleted_at <= ?`,
		id, cutoff.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("delete archived order: %w", err)
	}
	return affected(result)
}

func (m *MySQLAdapter) queryOrder(ctx context.Context, query string, args ...any) (*domain.Order, error) {
	order, err := scanOrder(m.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (m *MySQLAdapter) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o         domain.Order
		items     []byte
		deletedAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.UserID, &o.CustomerName, &o.Phone, &o.Address, &o.Comment, &o.DeliveryType,
		&o.PaymentType, &items, &o.TotalAmount, &o.Status, &o.ReceiptKey, &deletedAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if deletedAt.Valid {
		o.DeletedAt = &deletedAt.Time
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode order %s items: %w", o.ID, err)
	}
	return &o, nil
}
