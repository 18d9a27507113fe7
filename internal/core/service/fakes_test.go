package service

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/storefront/internal/core/domain"
)

// memStore is an in-memory stand-in for every persistent repository.
type memStore struct {
	mu sync.Mutex

	categories map[string]domain.Category
	products   map[string]domain.Product
	version    string
	carts      map[int64]domain.Cart
	orders     map[string]domain.Order
	status     *domain.StoreStatus
	pending    map[string]domain.PendingRelease

	failStock    error
	failUpdate   error
	failList     error
	productReads int
	listReads    int
	versionReads int
}

func newMemStore() *memStore {
	return &memStore{
		categories: make(map[string]domain.Category),
		products:   make(map[string]domain.Product),
		carts:      make(map[int64]domain.Cart),
		orders:     make(map[string]domain.Order),
		pending:    make(map[string]domain.PendingRelease),
	}
}

func (m *memStore) putProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = cloneProduct(p)
}

func (m *memStore) stock(productID, variantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[productID]
	if v := p.Variant(variantID); v != nil {
		return v.Quantity
	}
	return -1
}

func (m *memStore) setStock(productID, variantID string, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[productID]
	if v := p.Variant(variantID); v != nil {
		v.Quantity = qty
	}
	m.products[productID] = p
}

func cloneProduct(p domain.Product) domain.Product {
	p.Variants = append([]domain.Variant(nil), p.Variants...)
	p.Images = append([]string(nil), p.Images...)
	return p
}

func cloneCart(c domain.Cart) *domain.Cart {
	c.Items = append([]domain.CartItem(nil), c.Items...)
	return &c
}

// StockRepository

func (m *memStore) DecrementVariantStock(ctx context.Context, productID, variantID string, quantity int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStock != nil {
		return false, m.failStock
	}
	p, ok := m.products[productID]
	if !ok {
		return false, nil
	}
	v := p.Variant(variantID)
	if v == nil || v.Quantity < quantity {
		return false, nil
	}
	v.Quantity -= quantity
	m.products[productID] = p
	return true, nil
}

func (m *memStore) IncrementVariantStock(ctx context.Context, productID, variantID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStock != nil {
		return m.failStock
	}
	p, ok := m.products[productID]
	if !ok {
		return nil
	}
	if v := p.Variant(variantID); v != nil {
		v.Quantity += quantity
	}
	m.products[productID] = p
	return nil
}

func (m *memStore) InsertPendingReleases(ctx context.Context, releases []domain.PendingRelease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(releases)
	return nil
}

func (m *memStore) recordLocked(releases []domain.PendingRelease) {
	for _, r := range releases {
		m.pending[r.ID] = r
	}
}

func (m *memStore) ApplyPendingRelease(ctx context.Context, release domain.PendingRelease) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStock != nil {
		return false, m.failStock
	}
	if _, ok := m.pending[release.ID]; !ok {
		return false, nil
	}
	delete(m.pending, release.ID)
	if p, ok := m.products[release.ProductID]; ok {
		if v := p.Variant(release.VariantID); v != nil {
			v.Quantity += release.Quantity
		}
		m.products[release.ProductID] = p
	}
	return true, nil
}

func (m *memStore) ListPendingReleases(ctx context.Context, limit int) ([]domain.PendingRelease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PendingRelease, 0, len(m.pending))
	for _, r := range m.pending {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) pendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// CatalogRepository

func (m *memStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listReads++
	out := make([]domain.Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (m *memStore) CreateCategory(ctx context.Context, c domain.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.categories {
		if strings.EqualFold(existing.Name, c.Name) {
			return domain.ErrDuplicate
		}
	}
	m.categories[c.ID] = c
	return nil
}

func (m *memStore) UpdateCategory(ctx context.Context, c domain.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[c.ID]; !ok {
		return domain.ErrNotFound
	}
	m.categories[c.ID] = c
	return nil
}

func (m *memStore) DeleteCategory(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.categories, id)
	for pid, p := range m.products {
		if p.CategoryID == id {
			delete(m.products, pid)
		}
	}
	return nil
}

func (m *memStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return nil, m.failList
	}
	out := make([]domain.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, cloneProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListProductsByCategory(ctx context.Context, categoryID string) ([]domain.Product, error) {
	all, _ := m.ListProducts(ctx)
	out := []domain.Product{}
	for _, p := range all {
		if p.CategoryID == categoryID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.productReads++
	p, ok := m.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := cloneProduct(p)
	return &cp, nil
}

func (m *memStore) CreateProduct(ctx context.Context, p domain.Product) error {
	m.putProduct(p)
	return nil
}

func (m *memStore) UpdateProduct(ctx context.Context, p domain.Product, replaceVariants bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.products[p.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if !replaceVariants {
		p.Variants = old.Variants
	}
	m.products[p.ID] = cloneProduct(p)
	return nil
}

func (m *memStore) DeleteProduct(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.products, id)
	return nil
}

// CatalogStateRepository

func (m *memStore) GetCatalogVersion(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versionReads++
	if m.version == "" {
		return "", domain.ErrNotFound
	}
	return m.version, nil
}

func (m *memStore) SetCatalogVersion(ctx context.Context, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version = version
	return nil
}

// CartRepository

func (m *memStore) GetCartByUser(ctx context.Context, userID int64) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneCart(c), nil
}

func (m *memStore) InsertCart(ctx context.Context, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carts[cart.UserID]; ok {
		return domain.ErrDuplicate
	}
	m.carts[cart.UserID] = *cloneCart(*cart)
	return nil
}

func (m *memStore) UpdateCart(ctx context.Context, cart *domain.Cart, releases []domain.PendingRelease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate != nil {
		return m.failUpdate
	}
	cur, ok := m.carts[cart.UserID]
	if !ok || cur.ID != cart.ID || cur.Version != cart.Version {
		return domain.ErrConflict
	}
	cart.Version++
	m.carts[cart.UserID] = *cloneCart(*cart)
	m.recordLocked(releases)
	return nil
}

func (m *memStore) DeleteCart(ctx context.Context, cartID string, version int64, releases []domain.PendingRelease) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uid, c := range m.carts {
		if c.ID == cartID && c.Version == version {
			delete(m.carts, uid)
			m.recordLocked(releases)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListIdleCarts(ctx context.Context, idleSince time.Time, limit int) ([]domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Cart{}
	for _, c := range m.carts {
		if c.UpdatedAt.Before(idleSince) && len(out) < limit {
			out = append(out, *cloneCart(c))
		}
	}
	return out, nil
}

// OrderRepository

func (m *memStore) CreateOrderFromCart(ctx context.Context, order domain.Order, cartID string, cartVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[order.UserID]
	if !ok || c.ID != cartID || c.Version != cartVersion {
		return domain.ErrConflict
	}
	delete(m.carts, order.UserID)
	m.orders[order.ID] = order
	return nil
}

func (m *memStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}

func (m *memStore) LastOrderForUser(ctx context.Context, userID int64) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *domain.Order
	for _, o := range m.orders {
		if o.UserID == userID && (last == nil || o.ID > last.ID) {
			cp := o
			last = &cp
		}
	}
	if last == nil {
		return nil, domain.ErrNotFound
	}
	return last, nil
}

func (m *memStore) ListOrders(ctx context.Context, q domain.OrderQuery) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Order{}
	for _, o := range m.orders {
		if q.Cursor != "" && o.ID >= q.Cursor {
			continue
		}
		if !q.IncludeDeleted && o.DeletedAt != nil {
			continue
		}
		if q.Status != "" && o.Status != q.Status &&
			!(q.Status == domain.OrderStatusProcessing && o.Status == domain.OrderStatusNew) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memStore) TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus, deletedAt *time.Time, releases []domain.PendingRelease) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.DeletedAt = deletedAt
	m.orders[id] = o
	m.recordLocked(releases)
	return true, nil
}

func (m *memStore) UpdateAddress(ctx context.Context, id, address string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != domain.OrderStatusProcessing {
		return false, nil
	}
	o.Address = address
	m.orders[id] = o
	return true, nil
}

func (m *memStore) RestoreOrder(ctx context.Context, id string, notBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.DeletedAt == nil || o.DeletedAt.Before(notBefore) {
		return false, nil
	}
	o.DeletedAt = nil
	m.orders[id] = o
	return true, nil
}

func (m *memStore) FindPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Order{}
	for _, o := range m.orders {
		if o.DeletedAt != nil && !o.DeletedAt.After(cutoff) && len(out) < limit {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) DeleteArchivedOrder(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.DeletedAt == nil || o.DeletedAt.After(cutoff) {
		return false, nil
	}
	delete(m.orders, id)
	return true, nil
}

// StoreStatusRepository

func (m *memStore) GetStoreStatus(ctx context.Context) (*domain.StoreStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == nil {
		return nil, domain.ErrNotFound
	}
	st := *m.status
	return &st, nil
}

func (m *memStore) SaveStoreStatus(ctx context.Context, st domain.StoreStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = &st
	return nil
}

func (m *memStore) WakeIfDue(ctx context.Context, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == nil || !m.status.WakeDue(now) {
		return false, nil
	}
	m.status.Wake(now)
	return true, nil
}

// memCache is the distributed tier.
type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	fail    error
	setKeys map[string]bool
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), setKeys: make(map[string]bool)}
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return nil, c.fail
	}
	return c.data[key], nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.data[key] = append([]byte(nil), value...)
	return nil
}

func (c *memCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
		delete(c.setKeys, k)
	}
	return c.fail
}

func (c *memCache) DeletePrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
		}
	}
	return nil
}

func (c *memCache) SetIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return false, c.fail
	}
	if c.setKeys[key] {
		return false, nil
	}
	c.setKeys[key] = true
	return true, nil
}

type memBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failPut   error
	failDel   error
	deletions []string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (b *memBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPut != nil {
		return b.failPut
	}
	b.objects[key] = data
	return nil
}

func (b *memBlobs) Get(ctx context.Context, key string) ([]byte, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, "", domain.ErrNotFound
	}
	return data, "image/png", nil
}

func (b *memBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletions = append(b.deletions, key)
	if b.failDel != nil {
		return b.failDel
	}
	delete(b.objects, key)
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	created  []string
	statuses []domain.OrderStatus
}

func (n *recordingNotifier) NotifyNewOrder(ctx context.Context, order domain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, order.ID)
	return nil
}

func (n *recordingNotifier) NotifyStatusChange(ctx context.Context, order domain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, order.Status)
	return nil
}

func (n *recordingNotifier) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return nil
}

// syncTasks runs background work inline and records failures.
type syncTasks struct {
	mu     sync.Mutex
	names  []string
	errors []error
}

func (t *syncTasks) Go(name string, fn func(ctx context.Context) error) {
	err := fn(context.Background())
	t.mu.Lock()
	defer t.mu.Unlock()
	t.names = append(t.names, name)
	if err != nil {
		t.errors = append(t.errors, err)
	}
}

func (t *syncTasks) ran(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, x := range t.names {
		if x == name {
			n++
		}
	}
	return n
}

type openGate struct{ err error }

func (g openGate) EnsureOpen(ctx context.Context) error { return g.err }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func bufferLogger() (zerolog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return zerolog.New(&lockedWriter{w: &buf}), &buf
}

type lockedWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

var errBoom = errors.New("boom")
