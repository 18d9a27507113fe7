package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type ArchiveConfig struct {
	GraceWindow time.Duration
	PurgeBatch  int
	MaxAttempts int
}

func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		GraceWindow: 10 * time.Minute,
		PurgeBatch:  100,
		MaxAttempts: 3,
	}
}

// ArchiveService drives order status transitions. Reaching done archives an
// order; archived orders can be restored within the grace window and are
// purged after it. Canceling gives the order's stock back exactly once.
type ArchiveService struct {
	orders   port.OrderRepository
	ledger   *StockLedger
	blobs    port.BlobStorage
	notifier port.Notifier
	tasks    port.TaskRunner
	logger   zerolog.Logger
	cfg      ArchiveConfig
	now      func() time.Time
}

func NewArchiveService(
	orders port.OrderRepository,
	ledger *StockLedger,
	blobs port.BlobStorage,
	notifier port.Notifier,
	tasks port.TaskRunner,
	logger zerolog.Logger,
	cfg ArchiveConfig,
) *ArchiveService {
	def := DefaultArchiveConfig()
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = def.GraceWindow
	}
	if cfg.PurgeBatch <= 0 {
		cfg.PurgeBatch = def.PurgeBatch
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &ArchiveService{
		orders:   orders,
		ledger:   ledger,
		blobs:    blobs,
		notifier: notifier,
		tasks:    tasks,
		logger:   logger.With().Str("component", "archive").Logger(),
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetStatus moves an order to status. Setting the current status is a no-op.
func (s *ArchiveService) SetStatus(ctx context.Context, id string, to domain.OrderStatus) (*domain.Order, error) {
	if _, err := domain.ParseOrderStatus(string(to)); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		order, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		from := order.Status
		if from == to {
			return order, nil
		}
		if from == domain.OrderStatusCanceled {
			return nil, fmt.Errorf("%w: order %s is canceled", domain.ErrConflict, id)
		}
		if to == domain.OrderStatusCanceled && from == domain.OrderStatusDone {
			return nil, fmt.Errorf("%w: order %s is already done", domain.ErrConflict, id)
		}

		now := s.now()
		var deletedAt *time.Time
		if to == domain.OrderStatusDone {
			deletedAt = &now
		}
		var releases []domain.PendingRelease
		if to == domain.OrderStatusCanceled {
			releases = s.owedItems(order.Items)
		}

		ok, err := s.orders.TransitionStatus(ctx, id, from, to, deletedAt, releases)
		if err != nil {
			return nil, fmt.Errorf("%w: transition order: %w", domain.ErrStorage, err)
		}
		if !ok {
			continue
		}

		order.Status = to
		order.DeletedAt = deletedAt
		order.UpdatedAt = now
		log := s.logger.With().Str("order_id", id).Str("from", string(from)).Str("to", string(to)).Logger()

		if len(releases) > 0 {
			if err := s.ledger.Settle(context.WithoutCancel(ctx), releases); err != nil {
				log.Warn().Err(err).Msg("release canceled order stock, left for retry")
			}
		}
		log.Info().Msg("order status changed")
		s.notifyStatus(*order)
		return order, nil
	}
	return nil, fmt.Errorf("%w: order %s kept changing", domain.ErrConflict, id)
}

// QuickAccept moves a processing order to accepted.
func (s *ArchiveService) QuickAccept(ctx context.Context, id string) (*domain.Order, error) {
	ok, err := s.orders.TransitionStatus(ctx, id, domain.OrderStatusProcessing, domain.OrderStatusAccepted, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: accept order: %w", domain.ErrStorage, err)
	}
	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: order %s is %s, not processing", domain.ErrConflict, id, order.Status)
	}
	s.notifyStatus(*order)
	return order, nil
}

// Restore clears the archive marker while the grace window is open.
func (s *ArchiveService) Restore(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Archived() {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotArchived, id)
	}

	now := s.now()
	notBefore := now.Add(-s.cfg.GraceWindow)
	if order.DeletedAt.Before(notBefore) {
		return nil, fmt.Errorf("%w: order %s", domain.ErrRestoreExpired, id)
	}

	ok, err := s.orders.RestoreOrder(ctx, id, notBefore)
	if err != nil {
		return nil, fmt.Errorf("%w: restore order: %w", domain.ErrStorage, err)
	}
	if !ok {
		current, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if !current.Archived() {
			return nil, fmt.Errorf("%w: order %s", domain.ErrNotArchived, id)
		}
		return nil, fmt.Errorf("%w: order %s", domain.ErrRestoreExpired, id)
	}

	order.DeletedAt = nil
	order.UpdatedAt = now
	s.logger.Info().Str("order_id", id).Msg("order restored")
	return order, nil
}

// PurgeExpired deletes one batch of orders archived longer than the grace
// window. Receipt deletion is best effort.
func (s *ArchiveService) PurgeExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.GraceWindow)
	orders, err := s.orders.FindPurgeable(ctx, cutoff, s.cfg.PurgeBatch)
	if err != nil {
		return 0, fmt.Errorf("%w: find purgeable orders: %w", domain.ErrStorage, err)
	}

	var (
		purged int
		errs   []error
	)
	for _, o := range orders {
		ok, err := s.orders.DeleteArchivedOrder(ctx, o.ID, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("purge order %s: %w", o.ID, err))
			continue
		}
		if !ok {
			continue
		}
		purged++
		if o.ReceiptKey != "" && s.blobs != nil {
			if err := s.blobs.Delete(ctx, o.ReceiptKey); err != nil {
				s.logger.Warn().Err(err).Str("order_id", o.ID).Msg("delete receipt")
			}
		}
	}
	if purged > 0 {
		s.logger.Info().Int("purged", purged).Msg("archived orders purged")
	}
	return purged, errors.Join(errs...)
}

// owedItems is the stock a canceled order gives back.
func (s *ArchiveService) owedItems(items []domain.OrderItem) []domain.PendingRelease {
	var out []domain.PendingRelease
	for _, it := range items {
		if r := s.ledger.Owed(it.ProductID, it.VariantID, it.Quantity, domain.ReleaseOrderCancel); r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (s *ArchiveService) notifyStatus(order domain.Order) {
	if s.notifier == nil || s.tasks == nil {
		return
	}
	s.tasks.Go("notify-status-change", func(ctx context.Context) error {
		return s.notifier.NotifyStatusChange(ctx, order)
	})
}

func (s *ArchiveService) load(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load order: %w", domain.ErrStorage, err)
	}
	return order, nil
}
