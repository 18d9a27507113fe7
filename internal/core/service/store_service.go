package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const DefaultStatusCacheTTL = 30 * time.Second

// StoreService owns the store status record, its short-lived in-process
// copy and the auto-wake correction.
type StoreService struct {
	repo   port.StoreStatusRepository
	events *Broadcaster
	logger zerolog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	cached   *domain.StoreStatus
	cachedAt time.Time
}

func NewStoreService(repo port.StoreStatusRepository, events *Broadcaster, logger zerolog.Logger, cacheTTL time.Duration) *StoreService {
	if cacheTTL <= 0 {
		cacheTTL = DefaultStatusCacheTTL
	}
	return &StoreService{
		repo:   repo,
		events: events,
		logger: logger.With().Str("component", "store").Logger(),
		ttl:    cacheTTL,
		now:    time.Now,
	}
}

// Status returns the current status, waking the store when its scheduled
// wake time has passed.
func (s *StoreService) Status(ctx context.Context) (domain.StoreStatus, error) {
	now := s.now()

	s.mu.Lock()
	cached := s.cached
	fresh := cached != nil && now.Sub(s.cachedAt) < s.ttl
	s.mu.Unlock()

	var st domain.StoreStatus
	if fresh {
		st = *cached
	} else {
		loaded, err := s.load(ctx)
		if err != nil {
			return domain.StoreStatus{}, err
		}
		st = loaded
	}

	if st.WakeDue(now) {
		return s.wake(ctx, st, now)
	}
	if !fresh {
		s.remember(st)
	}
	return st, nil
}

// RefreshStatus reloads the record past the cache. A change made by another
// process is announced to local listeners.
func (s *StoreService) RefreshStatus(ctx context.Context) error {
	s.mu.Lock()
	prev := s.cached
	s.mu.Unlock()

	st, err := s.load(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	if st.WakeDue(now) {
		_, err := s.wake(ctx, st, now)
		return err
	}
	s.remember(st)
	if prev != nil && !sameStatus(*prev, st) {
		s.publish(st)
	}
	return nil
}

// EnsureOpen fails with a StoreClosedError while the store sleeps.
func (s *StoreService) EnsureOpen(ctx context.Context) error {
	st, err := s.Status(ctx)
	if err != nil {
		return err
	}
	if st.IsSleep {
		return &domain.StoreClosedError{Message: st.SleepMessage}
	}
	return nil
}

// SetSleep switches sleep mode. until, when set, schedules the wake-up.
func (s *StoreService) SetSleep(ctx context.Context, sleep bool, message string, until *time.Time) (domain.StoreStatus, error) {
	now := s.now()
	if sleep && until != nil && !until.After(now) {
		return domain.StoreStatus{}, domain.Invalid("wake time must be in the future")
	}

	st, err := s.load(ctx)
	if err != nil {
		return domain.StoreStatus{}, err
	}
	if sleep {
		st.IsSleep = true
		st.SleepMessage = strings.TrimSpace(message)
		st.SleepUntil = until
		st.UpdatedAt = now
	} else {
		st.Wake(now)
	}
	return s.save(ctx, st)
}

// SetPaymentLink stores an http(s) link; an empty link clears it.
func (s *StoreService) SetPaymentLink(ctx context.Context, link string) (domain.StoreStatus, error) {
	link = strings.TrimSpace(link)
	if link != "" {
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return domain.StoreStatus{}, domain.Invalid("payment link must be an http or https url")
		}
	}

	st, err := s.load(ctx)
	if err != nil {
		return domain.StoreStatus{}, err
	}
	st.PaymentLink = link
	st.UpdatedAt = s.now()
	return s.save(ctx, st)
}

// Subscribe registers a listener and returns it with the status to send first.
func (s *StoreService) Subscribe(ctx context.Context) (*Listener, domain.StoreStatus, error) {
	l := s.events.Register()
	st, err := s.Status(ctx)
	if err != nil {
		s.events.Unregister(l)
		return nil, domain.StoreStatus{}, err
	}
	return l, st, nil
}

func (s *StoreService) Unsubscribe(l *Listener) {
	s.events.Unregister(l)
}

func (s *StoreService) load(ctx context.Context) (domain.StoreStatus, error) {
	st, err := s.repo.GetStoreStatus(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		def := domain.StoreStatus{UpdatedAt: s.now()}
		if err := s.repo.SaveStoreStatus(ctx, def); err != nil {
			return domain.StoreStatus{}, fmt.Errorf("%w: create store status: %w", domain.ErrStorage, err)
		}
		return def, nil
	}
	if err != nil {
		return domain.StoreStatus{}, fmt.Errorf("%w: load store status: %w", domain.ErrStorage, err)
	}
	return *st, nil
}

func (s *StoreService) save(ctx context.Context, st domain.StoreStatus) (domain.StoreStatus, error) {
	if err := s.repo.SaveStoreStatus(ctx, st); err != nil {
		return domain.StoreStatus{}, fmt.Errorf("%w: save store status: %w", domain.ErrStorage, err)
	}
	s.remember(st)
	s.publish(st)
	return st, nil
}

func (s *StoreService) wake(ctx context.Context, st domain.StoreStatus, now time.Time) (domain.StoreStatus, error) {
	woke, err := s.repo.WakeIfDue(ctx, now)
	if err != nil {
		return domain.StoreStatus{}, fmt.Errorf("%w: wake store: %w", domain.ErrStorage, err)
	}
	if !woke {
		// someone else already changed the record
		st, err = s.load(ctx)
		if err != nil {
			return domain.StoreStatus{}, err
		}
		s.remember(st)
		return st, nil
	}

	st.Wake(now)
	s.remember(st)
	s.logger.Info().Msg("store woke up on schedule")
	s.publish(st)
	return st, nil
}

func (s *StoreService) remember(st domain.StoreStatus) {
	s.mu.Lock()
	s.cached = &st
	s.cachedAt = s.now()
	s.mu.Unlock()
}

func (s *StoreService) publish(st domain.StoreStatus) {
	if s.events == nil {
		return
	}
	s.events.Broadcast(domain.Event{Kind: domain.EventStatus, Status: &st, At: s.now()})
}

func sameStatus(a, b domain.StoreStatus) bool {
	if a.IsSleep != b.IsSleep || a.SleepMessage != b.SleepMessage || a.PaymentLink != b.PaymentLink {
		return false
	}
	if (a.SleepUntil == nil) != (b.SleepUntil == nil) {
		return false
	}
	// stored timestamps lose sub-microsecond precision
	return a.SleepUntil == nil || a.SleepUntil.Sub(*b.SleepUntil).Abs() < time.Millisecond
}
