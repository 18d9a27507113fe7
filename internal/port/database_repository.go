package port

import (
	"context"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
)

type StockRepository interface {
	// DecrementVariantStock lowers quantity only when at least quantity units are on hand.
	// Returns false when the guard did not match.
	DecrementVariantStock(ctx context.Context, productID, variantID string, quantity int) (bool, error)

	// IncrementVariantStock adds quantity back without any guard
	IncrementVariantStock(ctx context.Context, productID, variantID string, quantity int) error

	InsertPendingReleases(ctx context.Context, releases []domain.PendingRelease) error

	// ApplyPendingRelease deletes the release and adds its quantity back in one transaction.
	// Returns false when another caller already applied it.
	ApplyPendingRelease(ctx context.Context, release domain.PendingRelease) (bool, error)

	// ListPendingReleases returns the oldest releases still owed
	ListPendingReleases(ctx context.Context, limit int) ([]domain.PendingRelease, error)
}

type CatalogRepository interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id string) (*domain.Category, error)
	CreateCategory(ctx context.Context, category domain.Category) error
	UpdateCategory(ctx context.Context, category domain.Category) error
	// DeleteCategory removes the category together with its products
	DeleteCategory(ctx context.Context, id string) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListProductsByCategory(ctx context.Context, categoryID string) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) error
	// UpdateProduct rewrites product fields and, when replaceVariants is set, its variant rows
	UpdateProduct(ctx context.Context, product domain.Product, replaceVariants bool) error
	DeleteProduct(ctx context.Context, id string) error
}

// CatalogStateRepository persists the catalog version token.
type CatalogStateRepository interface {
	// GetCatalogVersion returns domain.ErrNotFound before the first bump
	GetCatalogVersion(ctx context.Context) (string, error)
	SetCatalogVersion(ctx context.Context, version string) error
}

type CartRepository interface {
	GetCartByUser(ctx context.Context, userID int64) (*domain.Cart, error)

	// InsertCart returns domain.ErrDuplicate when the user already owns a cart
	InsertCart(ctx context.Context, cart *domain.Cart) error

	// UpdateCart writes items and total when cart.Version still matches, then bumps it.
	// releases are recorded in the same transaction. Returns domain.ErrConflict on a version mismatch.
	UpdateCart(ctx context.Context, cart *domain.Cart, releases []domain.PendingRelease) error

	// DeleteCart deletes the cart at the given version and records releases with it.
	// Returns false if the cart changed or vanished.
	DeleteCart(ctx context.Context, cartID string, version int64, releases []domain.PendingRelease) (bool, error)

	ListIdleCarts(ctx context.Context, idleSince time.Time, limit int) ([]domain.Cart, error)
}

type OrderRepository interface {
	// CreateOrderFromCart inserts the order and deletes the cart at cartVersion atomically.
	// Returns domain.ErrConflict when the cart changed underneath.
	CreateOrderFromCart(ctx context.Context, order domain.Order, cartID string, cartVersion int64) error

	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	LastOrderForUser(ctx context.Context, userID int64) (*domain.Order, error)

	// ListOrders returns up to query.Limit orders with id below query.Cursor, newest first
	ListOrders(ctx context.Context, query domain.OrderQuery) ([]domain.Order, error)

	// TransitionStatus sets status and deleted_at only while the order is still in from.
	// releases are recorded only when the transition happened.
	TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus, deletedAt *time.Time, releases []domain.PendingRelease) (bool, error)

	// UpdateAddress succeeds only while the order is processing
	UpdateAddress(ctx context.Context, id, address string) (bool, error)

	// RestoreOrder clears deleted_at when it is set and not older than notBefore
	RestoreOrder(ctx context.Context, id string, notBefore time.Time) (bool, error)

	FindPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)

	// DeleteArchivedOrder deletes the order only if it is still archived before cutoff
	DeleteArchivedOrder(ctx context.Context, id string, cutoff time.Time) (bool, error)
}

type StoreStatusRepository interface {
	// GetStoreStatus returns domain.ErrNotFound before the first save
	GetStoreStatus(ctx context.Context) (*domain.StoreStatus, error)
	SaveStoreStatus(ctx context.Context, status domain.StoreStatus) error

	// WakeIfDue clears sleep mode when the scheduled wake time is not after now
	WakeIfDue(ctx context.Context, now time.Time) (bool, error)
}
