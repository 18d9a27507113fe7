package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// StoreGate rejects customer writes while the store sleeps.
type StoreGate interface {
	EnsureOpen(ctx context.Context) error
}

type CartConfig struct {
	ExpireAfter time.Duration
	MaxAttempts int
	SweepBatch  int
}

func DefaultCartConfig() CartConfig {
	return CartConfig{
		ExpireAfter: 30 * time.Minute,
		MaxAttempts: 5,
		SweepBatch:  100,
	}
}

// CartService owns the cart lifecycle and keeps cart lines and stock
// reservations in step. Every cart write is a compare-and-swap on the cart
// version; a writer that loses the race gives back what it reserved.
type CartService struct {
	carts   port.CartRepository
	catalog port.CatalogRepository
	ledger  *StockLedger
	gate    StoreGate
	tasks   port.TaskRunner
	logger  zerolog.Logger
	cfg     CartConfig
	now     func() time.Time
}

func NewCartService(
	carts port.CartRepository,
	catalog port.CatalogRepository,
	ledger *StockLedger,
	gate StoreGate,
	tasks port.TaskRunner,
	logger zerolog.Logger,
	cfg CartConfig,
) *CartService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultCartConfig().MaxAttempts
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = DefaultCartConfig().ExpireAfter
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = DefaultCartConfig().SweepBatch
	}
	return &CartService{
		carts:   carts,
		catalog: catalog,
		ledger:  ledger,
		gate:    gate,
		tasks:   tasks,
		logger:  logger.With().Str("component", "cart").Logger(),
		cfg:     cfg,
		now:     time.Now,
	}
}

// GetCart returns the user's live cart, creating it on first access. An
// expired cart is deleted and replaced by an empty one; its reservations are
// released in the background.
func (s *CartService) GetCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		cart, err := s.carts.GetCartByUser(ctx, userID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			cart = domain.NewCart(uuid.NewString(), userID, s.now())
			err = s.carts.InsertCart(ctx, cart)
			if errors.Is(err, domain.ErrDuplicate) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("%w: create cart: %w", domain.ErrStorage, err)
			}
			return cart, nil
		case err != nil:
			return nil, fmt.Errorf("%w: load cart: %w", domain.ErrStorage, err)
		}

		if !cart.Expired(s.now(), s.cfg.ExpireAfter) {
			return cart, nil
		}
		if _, err := s.expire(ctx, cart, true); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: cart for user %d kept changing", domain.ErrConflict, userID)
}

// expire deletes the cart at its current version and then gives its stock
// back. The owed releases are recorded with the delete, so only the writer
// that removed the cart releases and a failed release is retried later.
func (s *CartService) expire(ctx context.Context, cart *domain.Cart, background bool) (bool, error) {
	releases := s.ledger.owedLines(cart.Items, domain.ReleaseCartExpired)
	deleted, err := s.carts.DeleteCart(ctx, cart.ID, cart.Version, releases)
	if err != nil {
		return false, fmt.Errorf("%w: delete expired cart: %w", domain.ErrStorage, err)
	}
	if !deleted {
		return false, nil
	}

	log := s.logger.With().Str("cart_id", cart.ID).Int64("user_id", cart.UserID).Logger()
	if background {
		s.tasks.Go("cart-expiry-release", func(ctx context.Context) error {
			return s.ledger.Settle(ctx, releases)
		})
		log.Info().Int("lines", len(cart.Items)).Msg("cart expired")
		return true, nil
	}

	if err := s.ledger.Settle(ctx, releases); err != nil {
		log.Warn().Err(err).Msg("release expired cart stock, left for retry")
		return true, err
	}
	log.Info().Int("lines", len(cart.Items)).Msg("cart expired")
	return true, nil
}

// AddItem reserves quantity units and adds them to the cart.
func (s *CartService) AddItem(ctx context.Context, userID int64, productID, variantID string, quantity int) (*domain.Cart, error) {
	if quantity < domain.MinLineQuantity || quantity > domain.MaxLineQuantity {
		return nil, domain.Invalid("quantity must be between %d and %d", domain.MinLineQuantity, domain.MaxLineQuantity)
	}
	if err := s.gate.EnsureOpen(ctx); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		product, variant, err := s.resolve(ctx, productID, variantID)
		if err != nil {
			return nil, err
		}

		cart, err := s.GetCart(ctx, userID)
		if err != nil {
			return nil, err
		}

		tracked := variant != nil
		inCart := cart.QuantityOf(productID, variantID)
		if tracked {
			if quantity > variant.Quantity-inCart {
				return nil, &domain.InsufficientStockError{Available: variant.Quantity, InCart: inCart}
			}
			ok, err := s.ledger.Reserve(ctx, productID, variantID, quantity)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, &domain.InsufficientStockError{Available: s.onHand(ctx, productID, variantID), InCart: inCart}
			}
		}

		item := domain.CartItem{
			ID:          uuid.NewString(),
			ProductID:   product.ID,
			ProductName: product.Name,
			Image:       product.Image,
			Quantity:    quantity,
			Price:       product.UnitPrice(variant),
		}
		if tracked {
			item.VariantID = variant.ID
			item.VariantName = variant.Name
			if variant.Image != "" {
				item.Image = variant.Image
			}
		}
		cart.AddLine(item, s.now())

		err = s.carts.UpdateCart(ctx, cart, nil)
		if err == nil {
			return cart, nil
		}
		if tracked {
			s.compensate(ctx, productID, variantID, quantity)
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: update cart: %w", domain.ErrStorage, err)
		}
	}
	return nil, fmt.Errorf("%w: cart for user %d kept changing", domain.ErrConflict, userID)
}

// UpdateItem sets a line to quantity, reserving or releasing the difference.
func (s *CartService) UpdateItem(ctx context.Context, userID int64, itemID string, quantity int) (*domain.Cart, error) {
	if quantity < domain.MinLineQuantity || quantity > domain.MaxLineQuantity {
		return nil, domain.Invalid("quantity must be between %d and %d", domain.MinLineQuantity, domain.MaxLineQuantity)
	}

	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		cart, err := s.GetCart(ctx, userID)
		if err != nil {
			return nil, err
		}
		item := cart.Item(itemID)
		if item == nil {
			return nil, fmt.Errorf("%w: cart item %s", domain.ErrNotFound, itemID)
		}
		line := *item
		delta := quantity - line.Quantity
		if delta == 0 {
			return cart, nil
		}

		if delta > 0 && line.Tracked() {
			ok, err := s.ledger.Reserve(ctx, line.ProductID, line.VariantID, delta)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, &domain.InsufficientStockError{
					Available: s.onHand(ctx, line.ProductID, line.VariantID),
					InCart:    line.Quantity,
				}
			}
		}

		var releases []domain.PendingRelease
		if delta < 0 && line.Tracked() {
			if r := s.ledger.Owed(line.ProductID, line.VariantID, -delta, domain.ReleaseCartReduced); r != nil {
				releases = append(releases, *r)
			}
		}

		cart.SetQuantity(itemID, quantity, s.now())
		err = s.carts.UpdateCart(ctx, cart, releases)
		if err != nil {
			if delta > 0 && line.Tracked() {
				s.compensate(ctx, line.ProductID, line.VariantID, delta)
			}
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return nil, fmt.Errorf("%w: update cart: %w", domain.ErrStorage, err)
		}

		s.settle(ctx, cart.ID, releases)
		return cart, nil
	}
	return nil, fmt.Errorf("%w: cart for user %d kept changing", domain.ErrConflict, userID)
}

// RemoveItem drops a line and releases its full quantity.
func (s *CartService) RemoveItem(ctx context.Context, userID int64, itemID string) (*domain.Cart, error) {
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		cart, err := s.GetCart(ctx, userID)
		if err != nil {
			return nil, err
		}
		removed, ok := cart.RemoveLine(itemID, s.now())
		if !ok {
			return nil, fmt.Errorf("%w: cart item %s", domain.ErrNotFound, itemID)
		}
		releases := s.ledger.owedLines([]domain.CartItem{removed}, domain.ReleaseCartRemoved)

		err = s.carts.UpdateCart(ctx, cart, releases)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: update cart: %w", domain.ErrStorage, err)
		}

		s.settle(ctx, cart.ID, releases)
		return cart, nil
	}
	return nil, fmt.Errorf("%w: cart for user %d kept changing", domain.ErrConflict, userID)
}

// Clear empties the cart and releases every line.
func (s *CartService) Clear(ctx context.Context, userID int64) (*domain.Cart, error) {
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		cart, err := s.GetCart(ctx, userID)
		if err != nil {
			return nil, err
		}
		if len(cart.Items) == 0 {
			return cart, nil
		}
		releases := s.ledger.owedLines(cart.Clear(s.now()), domain.ReleaseCartCleared)

		err = s.carts.UpdateCart(ctx, cart, releases)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: update cart: %w", domain.ErrStorage, err)
		}

		s.settle(ctx, cart.ID, releases)
		return cart, nil
	}
	return nil, fmt.Errorf("%w: cart for user %d kept changing", domain.ErrConflict, userID)
}

// SweepExpired first retries stock releases left owed by earlier failures,
// then expires one batch of idle carts and returns how many it removed.
func (s *CartService) SweepExpired(ctx context.Context) (int, error) {
	var errs []error
	if applied, err := s.ledger.DrainPending(ctx); err != nil {
		errs = append(errs, err)
	} else if applied > 0 {
		s.logger.Info().Int("releases", applied).Msg("owed stock returned")
	}

	carts, err := s.carts.ListIdleCarts(ctx, s.now().Add(-s.cfg.ExpireAfter), s.cfg.SweepBatch)
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: list idle carts: %w", domain.ErrStorage, err))
		return 0, errors.Join(errs...)
	}

	var expired int
	for i := range carts {
		ok, err := s.expire(ctx, &carts[i], false)
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

func (s *CartService) resolve(ctx context.Context, productID, variantID string) (*domain.Product, *domain.Variant, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, productID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: load product: %w", domain.ErrStorage, err)
	}
	if !product.Available {
		return nil, nil, fmt.Errorf("%w: product %s is unavailable", domain.ErrNotFound, productID)
	}

	if !product.HasVariants() {
		if variantID != "" {
			return nil, nil, fmt.Errorf("%w: variant %s", domain.ErrNotFound, variantID)
		}
		return product, nil, nil
	}
	if variantID == "" {
		return nil, nil, domain.Invalid("variant is required for product %s", productID)
	}
	variant := product.Variant(variantID)
	if variant == nil {
		return nil, nil, fmt.Errorf("%w: variant %s", domain.ErrNotFound, variantID)
	}
	return product, variant, nil
}

func (s *CartService) onHand(ctx context.Context, productID, variantID string) int {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return 0
	}
	if v := product.Variant(variantID); v != nil && v.Quantity > 0 {
		return v.Quantity
	}
	return 0
}

// compensate releases a reservation that did not make it into the cart. It
// runs even when the request context is already canceled. When the release
// fails the units are recorded as owed for the next sweep.
func (s *CartService) compensate(ctx context.Context, productID, variantID string, quantity int) {
	ctx = context.WithoutCancel(ctx)
	err := s.ledger.Release(ctx, productID, variantID, quantity)
	if err == nil {
		return
	}
	log := s.logger.With().
		Str("product_id", productID).
		Str("variant_id", variantID).
		Int("quantity", quantity).
		Logger()
	if r := s.ledger.Owed(productID, variantID, quantity, domain.ReleaseCartRollback); r != nil {
		if derr := s.ledger.Defer(ctx, *r); derr == nil {
			log.Warn().Err(err).Msg("compensating release deferred")
			return
		}
	}
	log.Error().Err(err).Msg("compensating release failed")
}

// settle applies releases recorded with a committed cart write. Failures
// stay recorded for SweepExpired.
func (s *CartService) settle(ctx context.Context, cartID string, releases []domain.PendingRelease) {
	if len(releases) == 0 {
		return
	}
	if err := s.ledger.Settle(context.WithoutCancel(ctx), releases); err != nil {
		s.logger.Warn().Err(err).Str("cart_id", cartID).Msg("release cart stock, left for retry")
	}
}
