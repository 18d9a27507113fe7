package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
)

const (
	catalogVersionName = "catalog_version"
	storeStatusRowID   = 1
)

func (m *MySQLAdapter) GetCatalogVersion(ctx context.Context) (string, error) {
	var version string
	err := m.db.QueryRowContext(ctx, `SELECT value FROM cache_state WHERE name = ?`, catalogVersionName).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query catalog version: %w", err)
	}
	return version, nil
}

func (m *MySQLAdapter) SetCatalogVersion(ctx context.Context, version string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO cache_state (name, value, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`,
		catalogVersionName, version, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save catalog version: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetStoreStatus(ctx context.Context) (*domain.StoreStatus, error) {
	var (
		st    domain.StoreStatus
		until sql.NullTime
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT is_sleep, sleep_message, sleep_until, payment_link, updated_at
		FROM store_status WHERE id = ?`, storeStatusRowID,
	).Scan(&st.IsSleep, &st.SleepMessage, &until, &st.PaymentLink, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query store status: %w", err)
	}
	if until.Valid {
		st.SleepUntil = &until.Time
	}
	return &st, nil
}

func (m *MySQLAdapter) SaveStoreStatus(ctx context.Context, st domain.StoreStatus) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO store_status (id, is_sleep, sleep_message, sleep_until, payment_link, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			is_sleep = VALUES(is_sleep),
			sleep_message = VALUES(sleep_message),
			sleep_until = VALUES(sleep_until),
			payment_link = VALUES(payment_link),
			updated_at = VALUES(updated_at)`,
		storeStatusRowID, st.IsSleep, st.SleepMessage, nullTime(st.SleepUntil), st.PaymentLink, st.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save store status: %w", err)
	}
	return nil
}

// WakeIfDue clears sleep mode in one guarded update so only one process
// announces the wake-up.
func (m *MySQLAdapter) WakeIfDue(ctx context.Context, now time.Time) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE store_status
		SET is_sleep = FALSE, sleep_message = '', sleep_until = NULL, updated_at = ?
		WHERE id = ? AND is_sleep = TRUE AND sleep_until IS NOT NULL AND sleep_until <= ?`,
		now.UTC(), storeStatusRowID, now.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("wake store: %w", err)
	}
	return affected(result)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
