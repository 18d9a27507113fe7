package handler

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// Each stub embeds its interface so calls the test did not set up panic.

type stubCatalog struct {
	CatalogReader
	snap  *service.CatalogSnapshot
	err   error
	admin *service.CatalogSnapshot
}

func (s *stubCatalog) Lookup(_ context.Context, ifNoneMatch string) (*service.CatalogSnapshot, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	return s.snap, service.MatchesFingerprint(ifNoneMatch, s.snap.Fingerprint), nil
}

func (s *stubCatalog) AdminCatalog(context.Context) (*service.CatalogSnapshot, error) {
	return s.admin, s.err
}

type stubCarts struct {
	Carts
	mu    sync.Mutex
	calls []string
	cart  *domain.Cart
	err   error
}

func (s *stubCarts) record(call string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return s.cart, s.err
}

func (s *stubCarts) GetCart(context.Context, int64) (*domain.Cart, error) {
	return s.record("get")
}

func (s *stubCarts) AddItem(_ context.Context, _ int64, productID, variantID string, _ int) (*domain.Cart, error) {
	return s.record("add:" + productID + ":" + variantID)
}

func (s *stubCarts) UpdateItem(_ context.Context, _ int64, itemID string, _ int) (*domain.Cart, error) {
	return s.record("update:" + itemID)
}

type stubOrders struct {
	Orders
	checkout    service.CheckoutRequest
	order       *domain.Order
	page        *domain.OrderPage
	query       domain.OrderQuery
	receipt     []byte
	receiptType string
	err         error
}

func (s *stubOrders) Checkout(_ context.Context, req service.CheckoutRequest) (*domain.Order, error) {
	s.checkout = req
	return s.order, s.err
}

func (s *stubOrders) GetOrder(_ context.Context, userID int64, id string) (*domain.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.order == nil || s.order.ID != id || s.order.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return s.order, nil
}

func (s *stubOrders) Receipt(_ context.Context, userID int64, isAdmin bool, _ string) ([]byte, string, error) {
	if !isAdmin && s.order.UserID != userID {
		return nil, "", domain.ErrNotFound
	}
	return s.receipt, s.receiptType, nil
}

func (s *stubOrders) ListOrders(_ context.Context, q domain.OrderQuery) (*domain.OrderPage, error) {
	s.query = q
	return s.page, s.err
}

type stubStatuses struct {
	OrderStatuses
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *stubStatuses) SetStatus(_ context.Context, id string, to domain.OrderStatus) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, id+"="+string(to))
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Order{ID: id, Status: to}, nil
}

func (s *stubStatuses) Restore(context.Context, string) (*domain.Order, error) {
	return nil, s.err
}

type stubStore struct {
	Store
	events *service.Broadcaster
	status domain.StoreStatus
}

func newStubStore() *stubStore {
	return &stubStore{
		events: service.NewBroadcaster(4, zerolog.Nop()),
		status: domain.StoreStatus{PaymentLink: "https://pay.example", UpdatedAt: time.Unix(1700000000, 0).UTC()},
	}
}

func (s *stubStore) Status(context.Context) (domain.StoreStatus, error) {
	return s.status, nil
}

func (s *stubStore) Subscribe(context.Context) (*service.Listener, domain.StoreStatus, error) {
	return s.events.Register(), s.status, nil
}

func (s *stubStore) Unsubscribe(l *service.Listener) {
	s.events.Unregister(l)
}

type stubBot struct {
	mu      sync.Mutex
	answers []string
}

func (b *stubBot) AnswerCallback(_ context.Context, _ string, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answers = append(b.answers, text)
	return nil
}

func (b *stubBot) last() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.answers) == 0 {
		return ""
	}
	return b.answers[len(b.answers)-1]
}
