package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/rl1809/storefront/internal/core/domain"
)

const productColumns = `id, category_id, name, description, price, image, images, available, created_at, updated_at`

func (m *MySQLAdapter) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, name, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	categories := []domain.Category{}
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (m *MySQLAdapter) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	var c domain.Category
	err := m.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query category: %w", err)
	}
	return &c, nil
}

func (m *MySQLAdapter) CreateCategory(ctx context.Context, c domain.Category) error {
	_, err := m.db.ExecContext(ctx, `INSERT INTO categories (id, name, created_at) VALUES (?, ?, ?)`,
		c.ID, c.Name, c.CreatedAt.UTC())
	if isDuplicate(err) {
		return fmt.Errorf("%w: category %q", domain.ErrDuplicate, c.Name)
	}
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) UpdateCategory(ctx context.Context, c domain.Category) error {
	result, err := m.db.ExecContext(ctx, `UPDATE categories SET name = ? WHERE id = ?`, c.Name, c.ID)
	if isDuplicate(err) {
		return fmt.Errorf("%w: category %q", domain.ErrDuplicate, c.Name)
	}
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	return requireRow(result)
}

// DeleteCategory relies on the foreign key cascade to drop products and variants.
func (m *MySQLAdapter) DeleteCategory(ctx context.Context, id string) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return requireRow(result)
}

func (m *MySQLAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return m.queryProducts(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at, id`)
}

func (m *MySQLAdapter) ListProductsByCategory(ctx context.Context, categoryID string) ([]domain.Product, error) {
	return m.queryProducts(ctx, `SELECT `+productColumns+` FROM products WHERE category_id = ? ORDER BY created_at, id`, categoryID)
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	products, err := m.queryProducts(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, domain.ErrNotFound
	}
	return &products[0], nil
}

func (m *MySQLAdapter) CreateProduct(ctx context.Context, p domain.Product) error {
	images, err := json.Marshal(nonNilStrings(p.Images))
	if err != nil {
		return fmt.Errorf("encode images: %w", err)
	}
	return m.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (`+productColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.CategoryID, p.Name, p.Description, p.Price, p.Image, images, p.Available,
			p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
		return insertVariants(ctx, tx, p.ID, p.Variants)
	})
}

// UpdateProduct never touches variant quantities unless replaceVariants is
// set, so concurrent reservations keep their effect.
func (m *MySQLAdapter) UpdateProduct(ctx context.Context, p domain.Product, replaceVariants bool) error {
	images, err := json.Marshal(nonNilStrings(p.Images))
	if err != nil {
		return fmt.Errorf("encode images: %w", err)
	}
	return m.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE products
			SET category_id = ?, name = ?, description = ?, price = ?, image = ?, images = ?, available = ?, updated_at = ?
			WHERE id = ?`,
			p.CategoryID, p.Name, p.Description, p.Price, p.Image, images, p.Available, p.UpdatedAt.UTC(), p.ID,
		)
		if err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		if err := requireRow(result); err != nil {
			return err
		}
		if !replaceVariants {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM product_variants WHERE product_id = ?`, p.ID); err != nil {
			return fmt.Errorf("delete variants: %w", err)
		}
		return insertVariants(ctx, tx, p.ID, p.Variants)
	})
}

func (m *MySQLAdapter) DeleteProduct(ctx context.Context, id string) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return requireRow(result)
}

func (m *MySQLAdapter) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := []domain.Product{}
	index := make(map[string]int)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		index[p.ID] = len(products)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	if len(products) == 0 {
		return products, nil
	}

	if err := m.attachVariants(ctx, products, index); err != nil {
		return nil, err
	}
	return products, nil
}

func (m *MySQLAdapter) attachVariants(ctx context.Context, products []domain.Product, index map[string]int) error {
	query := `SELECT product_id, id, name, price, quantity, image FROM product_variants`
	var args []any
	if len(products) == 1 {
		query += ` WHERE product_id = ?`
		args = append(args, products[0].ID)
	}
	query += ` ORDER BY product_id, position`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			productID string
			v         domain.Variant
		)
		if err := rows.Scan(&productID, &v.ID, &v.Name, &v.Price, &v.Quantity, &v.Image); err != nil {
			return fmt.Errorf("scan variant: %w", err)
		}
		i, ok := index[productID]
		if !ok {
			continue
		}
		products[i].Variants = append(products[i].Variants, v)
	}
	return rows.Err()
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p      domain.Product
		images []byte
	)
	err := row.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, &p.Price, &p.Image, &images,
		&p.Available, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, fmt.Errorf("scan product: %w", err)
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &p.Images); err != nil {
			return p, fmt.Errorf("decode images for %s: %w", p.ID, err)
		}
	}
	p.Variants = []domain.Variant{}
	return p, nil
}

func insertVariants(ctx context.Context, tx *sql.Tx, productID string, variants []domain.Variant) error {
	for i, v := range variants {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO product_variants (product_id, id, position, name, price, quantity, image)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			productID, v.ID, i, v.Name, v.Price, v.Quantity, v.Image,
		)
		if err != nil {
			return fmt.Errorf("insert variant %s: %w", v.ID, err)
		}
	}
	return nil
}

func requireRow(result sql.Result) error {
	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
