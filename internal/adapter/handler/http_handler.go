package handler

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

const defaultStreamPing = 25 * time.Second

type CatalogReader interface {
	Lookup(ctx context.Context, ifNoneMatch string) (*service.CatalogSnapshot, bool, error)
	AdminCatalog(ctx context.Context) (*service.CatalogSnapshot, error)
}

type CatalogAdmin interface {
	CreateCategory(ctx context.Context, name string) (*domain.Category, error)
	UpdateCategory(ctx context.Context, id, name string) (*domain.Category, error)
	DeleteCategory(ctx context.Context, id string) error
	CategoryDetail(ctx context.Context, id string) (*service.CategoryDetail, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, in service.ProductInput) (*domain.Product, error)
	UpdateProduct(ctx context.Context, id string, patch service.ProductPatch) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
}

type Carts interface {
	GetCart(ctx context.Context, userID int64) (*domain.Cart, error)
	AddItem(ctx context.Context, userID int64, productID, variantID string, quantity int) (*domain.Cart, error)
	UpdateItem(ctx context.Context, userID int64, itemID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, userID int64, itemID string) (*domain.Cart, error)
	Clear(ctx context.Context, userID int64) (*domain.Cart, error)
}

type Orders interface {
	Checkout(ctx context.Context, req service.CheckoutRequest) (*domain.Order, error)
	GetOrder(ctx context.Context, userID int64, id string) (*domain.Order, error)
	LastOrder(ctx context.Context, userID int64) (*domain.Order, error)
	UpdateAddress(ctx context.Context, userID int64, id, address string) (*domain.Order, error)
	Receipt(ctx context.Context, userID int64, isAdmin bool, id string) ([]byte, string, error)
	AdminGetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, q domain.OrderQuery) (*domain.OrderPage, error)
}

type OrderStatuses interface {
	SetStatus(ctx context.Context, id string, to domain.OrderStatus) (*domain.Order, error)
	QuickAccept(ctx context.Context, id string) (*domain.Order, error)
	Restore(ctx context.Context, id string) (*domain.Order, error)
}

type Store interface {
	Status(ctx context.Context) (domain.StoreStatus, error)
	SetSleep(ctx context.Context, sleep bool, message string, until *time.Time) (domain.StoreStatus, error)
	SetPaymentLink(ctx context.Context, link string) (domain.StoreStatus, error)
	Subscribe(ctx context.Context) (*service.Listener, domain.StoreStatus, error)
	Unsubscribe(l *service.Listener)
}

type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

type Services struct {
	Catalog       CatalogReader
	CatalogAdmin  CatalogAdmin
	Carts         Carts
	Orders        Orders
	OrderStatuses OrderStatuses
	Store         Store
	Bot           CallbackAnswerer
}

type Options struct {
	AdminIDs        []int64
	RateLimit       RateLimits
	MaxReceiptBytes int64
	WebhookSecret   string
	StreamPing      time.Duration
}

// HTTPHandler serves the REST API, the status stream and the bot webhook.
type HTTPHandler struct {
	svc    Services
	opts   Options
	admins map[int64]bool
	logger zerolog.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

func NewHTTPHandler(svc Services, opts Options, logger zerolog.Logger) *HTTPHandler {
	if opts.StreamPing <= 0 {
		opts.StreamPing = defaultStreamPing
	}
	if opts.MaxReceiptBytes <= 0 {
		opts.MaxReceiptBytes = 10 << 20
	}
	admins := make(map[int64]bool, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = true
	}
	return &HTTPHandler{
		svc:     svc,
		opts:    opts,
		admins:  admins,
		logger:  logger.With().Str("component", "http").Logger(),
		closing: make(chan struct{}),
	}
}

// Close ends every open status stream. Pass it to http.Server.RegisterOnShutdown.
func (h *HTTPHandler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

func (h *HTTPHandler) Router() *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = h.opts.MaxReceiptBytes
	r.Use(h.recovery(), h.accessLog())

	r.GET("/health", h.HealthCheck)

	limits := newLimiterSet(h.opts.RateLimit)
	api := r.Group("/api")

	public := api.Group("", limits.middleware("default", h.opts.RateLimit.Default))
	public.GET("/catalog", h.GetCatalog)
	public.GET("/store/status", h.GetStoreStatus)
	public.GET("/store/stream", h.StreamStoreStatus)
	public.POST("/telegram/webhook", h.TelegramWebhook)

	cart := api.Group("/cart", h.authenticate, limits.middleware("cart", h.opts.RateLimit.Cart))
	cart.GET("", h.GetCart)
	cart.POST("/items", h.AddCartItem)
	cart.PATCH("/items/:item_id", h.UpdateCartItem)
	cart.DELETE("/items/:item_id", h.RemoveCartItem)
	cart.DELETE("", h.ClearCart)

	order := api.Group("/order", h.authenticate, limits.middleware("order", h.opts.RateLimit.Order))
	order.POST("", h.Checkout)
	order.GET("/last", h.LastOrder)
	order.GET("/:id", h.GetOrder)
	order.PATCH("/:id/address", h.UpdateOrderAddress)
	order.GET("/:id/receipt", h.OrderReceipt)

	admin := api.Group("/admin", h.authenticate, requireAdmin, limits.middleware("admin", h.opts.RateLimit.Admin))
	admin.GET("/catalog", h.AdminCatalog)
	admin.POST("/categories", h.CreateCategory)
	admin.GET("/categories/:id", h.CategoryDetail)
	admin.PUT("/categories/:id", h.UpdateCategory)
	admin.DELETE("/categories/:id", h.DeleteCategory)
	admin.POST("/products", h.CreateProduct)
	admin.GET("/products/:id", h.GetProduct)
	admin.PATCH("/products/:id", h.UpdateProduct)
	admin.DELETE("/products/:id", h.DeleteProduct)
	admin.GET("/orders", h.ListOrders)
	admin.GET("/orders/:id", h.AdminGetOrder)
	admin.GET("/orders/:id/receipt", h.OrderReceipt)
	admin.PUT("/orders/:id/status", h.SetOrderStatus)
	admin.POST("/orders/:id/accept", h.QuickAccept)
	admin.POST("/orders/:id/restore", h.RestoreOrder)
	admin.PUT("/store/sleep", h.SetSleep)
	admin.PUT("/store/payment-link", h.SetPaymentLink)

	return r
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetCatalog serves the public catalog with an entity tag. Clients must
// revalidate on every use.
func (h *HTTPHandler) GetCatalog(c *gin.Context) {
	snap, notModified, err := h.svc.Catalog.Lookup(c.Request.Context(), c.GetHeader("If-None-Match"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("ETag", `"`+snap.Fingerprint+`"`)
	c.Header("Cache-Control", "public, max-age=0, must-revalidate")
	if notModified {
		c.AbortWithStatus(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", snap.Payload)
}

func (h *HTTPHandler) AdminCatalog(c *gin.Context) {
	snap, err := h.svc.Catalog.AdminCatalog(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/json; charset=utf-8", snap.Payload)
}

func (h *HTTPHandler) GetStoreStatus(c *gin.Context) {
	st, err := h.svc.Store.Status(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// StreamStoreStatus pushes the current status, then every broadcast event,
// as server-sent events until the client leaves or falls behind.
func (h *HTTPHandler) StreamStoreStatus(c *gin.Context) {
	l, st, err := h.svc.Store.Subscribe(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	defer h.svc.Store.Unsubscribe(l)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(string(domain.EventStatus), st)
	c.Writer.Flush()

	ping := time.NewTicker(h.opts.StreamPing)
	defer ping.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-l.Events():
			switch ev.Kind {
			case domain.EventStatus:
				if ev.Status != nil {
					c.SSEvent(string(domain.EventStatus), ev.Status)
				}
			case domain.EventCatalog:
				c.SSEvent(string(domain.EventCatalog), gin.H{"version": ev.CatalogVersion})
			}
			return true
		case <-ping.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		case <-l.Done():
			return false
		case <-h.closing:
			return false
		case <-c.Request.Context().Done():
			return false
		}
	})
}
