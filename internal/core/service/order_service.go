package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	DefaultOrderPageSize = 50
	MaxOrderPageSize     = 200
	checkoutKeyTTL       = 10 * time.Minute
)

var receiptTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/heic":      ".heic",
	"image/heif":      ".heif",
	"application/pdf": ".pdf",
}

type Receipt struct {
	Filename    string
	ContentType string
	Data        []byte
}

type CheckoutRequest struct {
	UserID       int64
	CustomerName string
	Phone        string
	Address      string
	Comment      string
	DeliveryType string
	PaymentType  string
	Receipt      *Receipt
}

type OrderConfig struct {
	MaxReceiptBytes int64
}

// OrderService turns carts into orders and serves order reads.
type OrderService struct {
	orders   port.OrderRepository
	carts    *CartService
	catalog  port.CatalogRepository
	gate     StoreGate
	blobs    port.BlobStorage
	cache    port.CacheRepository
	notifier port.Notifier
	tasks    port.TaskRunner
	logger   zerolog.Logger
	cfg      OrderConfig
	now      func() time.Time
}

func NewOrderService(
	orders port.OrderRepository,
	carts *CartService,
	catalog port.CatalogRepository,
	gate StoreGate,
	blobs port.BlobStorage,
	cache port.CacheRepository,
	notifier port.Notifier,
	tasks port.TaskRunner,
	logger zerolog.Logger,
	cfg OrderConfig,
) *OrderService {
	if cfg.MaxReceiptBytes <= 0 {
		cfg.MaxReceiptBytes = 10 << 20
	}
	return &OrderService{
		orders:   orders,
		carts:    carts,
		catalog:  catalog,
		gate:     gate,
		blobs:    blobs,
		cache:    cache,
		notifier: notifier,
		tasks:    tasks,
		logger:   logger.With().Str("component", "orders").Logger(),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Checkout converts the user's cart into an order. The cart's reservations
// become the order's stock usage, so nothing is released here.
func (s *OrderService) Checkout(ctx context.Context, req CheckoutRequest) (*domain.Order, error) {
	if err := s.validateCheckout(req); err != nil {
		return nil, err
	}
	if err := s.gate.EnsureOpen(ctx); err != nil {
		return nil, err
	}

	cart, err := s.carts.GetCart(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if err := s.checkStock(ctx, cart); err != nil {
		return nil, err
	}

	idemKey, err := s.claimCheckout(ctx, cart)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := domain.Order{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       req.UserID,
		CustomerName: strings.TrimSpace(req.CustomerName),
		Phone:        strings.TrimSpace(req.Phone),
		Address:      strings.TrimSpace(req.Address),
		Comment:      strings.TrimSpace(req.Comment),
		DeliveryType: req.DeliveryType,
		PaymentType:  req.PaymentType,
		Items:        domain.SnapshotItems(cart.Items),
		TotalAmount:  domain.LineTotal(cart.Items),
		Status:       domain.OrderStatusProcessing,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if req.Receipt != nil {
		order.ReceiptKey = receiptKey(now, req.Receipt)
		if err := s.blobs.Put(ctx, order.ReceiptKey, req.Receipt.Data, req.Receipt.ContentType); err != nil {
			s.releaseCheckout(ctx, idemKey)
			return nil, fmt.Errorf("%w: upload receipt: %w", domain.ErrStorage, err)
		}
	}

	if err := s.orders.CreateOrderFromCart(ctx, order, cart.ID, cart.Version); err != nil {
		s.releaseCheckout(ctx, idemKey)
		if order.ReceiptKey != "" {
			key := order.ReceiptKey
			s.tasks.Go("receipt-cleanup", func(ctx context.Context) error {
				return s.blobs.Delete(ctx, key)
			})
		}
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: cart changed during checkout", domain.ErrConflict)
		}
		return nil, fmt.Errorf("%w: create order: %w", domain.ErrStorage, err)
	}

	s.logger.Info().
		Str("order_id", order.ID).
		Int64("user_id", order.UserID).
		Str("total", order.TotalAmount.StringFixed(2)).
		Msg("order created")

	if s.notifier != nil {
		snapshot := order
		s.tasks.Go("notify-new-order", func(ctx context.Context) error {
			return s.notifier.NotifyNewOrder(ctx, snapshot)
		})
	}
	return &order, nil
}

// claimCheckout marks the cart version as being checked out. An unreachable
// cache does not block checkout; the cart version guard still prevents a
// second order from the same cart.
func (s *OrderService) claimCheckout(ctx context.Context, cart *domain.Cart) (string, error) {
	if s.cache == nil {
		return "", nil
	}
	key := fmt.Sprintf("checkout:%s:%d", cart.ID, cart.Version)
	ok, err := s.cache.SetIdempotency(ctx, key, checkoutKeyTTL)
	if err != nil {
		s.logger.Warn().Err(err).Str("cart_id", cart.ID).Msg("checkout idempotency check failed")
		return "", nil
	}
	if !ok {
		return "", ErrDuplicateRequest
	}
	return key, nil
}

// releaseCheckout lets the user retry after a failed attempt.
func (s *OrderService) releaseCheckout(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.cache.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("release checkout key")
	}
}

// GetOrder returns an order owned by userID.
func (s *OrderService) GetOrder(ctx context.Context, userID int64, id string) (*domain.Order, error) {
	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	return order, nil
}

func (s *OrderService) LastOrder(ctx context.Context, userID int64) (*domain.Order, error) {
	order, err := s.orders.LastOrderForUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: no orders for user %d", domain.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load last order: %w", domain.ErrStorage, err)
	}
	return order, nil
}

// UpdateAddress changes the delivery address while the order is processing.
func (s *OrderService) UpdateAddress(ctx context.Context, userID int64, id, address string) (*domain.Order, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, domain.Invalid("address is required")
	}
	order, err := s.GetOrder(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.orders.UpdateAddress(ctx, id, address)
	if err != nil {
		return nil, fmt.Errorf("%w: update address: %w", domain.ErrStorage, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: address can only change while the order is processing", domain.ErrConflict)
	}
	order.Address = address
	return order, nil
}

// Receipt returns the stored receipt. Admins may read any order's receipt.
func (s *OrderService) Receipt(ctx context.Context, userID int64, isAdmin bool, id string) ([]byte, string, error) {
	order, err := s.load(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !isAdmin && order.UserID != userID {
		return nil, "", fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	if order.ReceiptKey == "" {
		return nil, "", fmt.Errorf("%w: order %s has no receipt", domain.ErrNotFound, id)
	}
	if s.blobs == nil {
		return nil, "", fmt.Errorf("%w: receipt storage is not configured", domain.ErrNotFound)
	}
	data, contentType, err := s.blobs.Get(ctx, order.ReceiptKey)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read receipt: %w", domain.ErrStorage, err)
	}
	return data, contentType, nil
}

// AdminGetOrder returns any order, archived ones included.
func (s *OrderService) AdminGetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.load(ctx, id)
}

// ListOrders pages through orders newest first.
func (s *OrderService) ListOrders(ctx context.Context, q domain.OrderQuery) (*domain.OrderPage, error) {
	if q.Limit == 0 {
		q.Limit = DefaultOrderPageSize
	}
	if q.Limit < 1 || q.Limit > MaxOrderPageSize {
		return nil, domain.Invalid("limit must be between 1 and %d", MaxOrderPageSize)
	}
	if q.Status != "" {
		if _, err := domain.ParseOrderStatus(string(q.Status)); err != nil {
			return nil, err
		}
	}

	limit := q.Limit
	q.Limit = limit + 1
	orders, err := s.orders.ListOrders(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: list orders: %w", domain.ErrStorage, err)
	}

	page := &domain.OrderPage{Orders: orders}
	if len(orders) > limit {
		page.Orders = orders[:limit]
		page.NextCursor = orders[limit-1].ID
	}
	if page.Orders == nil {
		page.Orders = []domain.Order{}
	}
	return page, nil
}

func (s *OrderService) load(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load order: %w", domain.ErrStorage, err)
	}
	return order, nil
}

func (s *OrderService) validateCheckout(req CheckoutRequest) error {
	if strings.TrimSpace(req.CustomerName) == "" {
		return domain.Invalid("customer name is required")
	}
	if strings.TrimSpace(req.Phone) == "" {
		return domain.Invalid("phone is required")
	}
	if strings.TrimSpace(req.Address) == "" {
		return domain.Invalid("address is required")
	}
	if req.Receipt == nil {
		return nil
	}
	if s.blobs == nil {
		return domain.Invalid("receipt uploads are not available")
	}
	if len(req.Receipt.Data) == 0 {
		return domain.Invalid("receipt is empty")
	}
	if int64(len(req.Receipt.Data)) > s.cfg.MaxReceiptBytes {
		return domain.Invalid("receipt exceeds %d bytes", s.cfg.MaxReceiptBytes)
	}
	if _, ok := receiptTypes[req.Receipt.ContentType]; !ok {
		return domain.Invalid("unsupported receipt type %q", req.Receipt.ContentType)
	}
	return nil
}

// checkStock rejects carts whose variants went negative after reservation.
func (s *OrderService) checkStock(ctx context.Context, cart *domain.Cart) error {
	products := make(map[string]*domain.Product)
	for _, it := range cart.Items {
		if !it.Tracked() {
			continue
		}
		p, ok := products[it.ProductID]
		if !ok {
			var err error
			p, err = s.catalog.GetProduct(ctx, it.ProductID)
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: product %s", domain.ErrNotFound, it.ProductID)
			}
			if err != nil {
				return fmt.Errorf("%w: load product: %w", domain.ErrStorage, err)
			}
			products[it.ProductID] = p
		}
		v := p.Variant(it.VariantID)
		if v == nil {
			return fmt.Errorf("%w: variant %s", domain.ErrNotFound, it.VariantID)
		}
		if v.Quantity < 0 {
			return &domain.InsufficientStockError{Available: 0, InCart: it.Quantity}
		}
	}
	return nil
}

func receiptKey(now time.Time, r *Receipt) string {
	ext := strings.ToLower(filepath.Ext(r.Filename))
	if ext == "" {
		ext = receiptTypes[r.ContentType]
	}
	return fmt.Sprintf("receipts/%s/%s%s", now.Format("2006/01/02"), uuid.NewString(), ext)
}
