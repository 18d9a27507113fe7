package handler

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	ctxUserID  = "user_id"
	ctxIsAdmin = "is_admin"

	limiterIdle = 10 * time.Minute
)

// authenticate resolves the caller from the X-User-Id header. Credential
// checks happen upstream; this only trusts what the gateway forwarded.
func (h *HTTPHandler) authenticate(c *gin.Context) {
	raw := c.GetHeader("X-User-Id")
	if raw == "" {
		raw = c.GetHeader("X-Dev-User-Id")
	}
	if raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "missing user id"})
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid user id"})
		return
	}
	c.Set(ctxUserID, id)
	c.Set(ctxIsAdmin, h.admins[id])
	c.Next()
}

func requireAdmin(c *gin.Context) {
	if !isAdmin(c) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "admin only"})
		return
	}
	c.Next()
}

func userID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}

func isAdmin(c *gin.Context) bool {
	return c.GetBool(ctxIsAdmin)
}

func (h *HTTPHandler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := h.logger.Info()
		switch {
		case status >= http.StatusInternalServerError:
			ev = h.logger.Error()
		case status >= http.StatusBadRequest:
			ev = h.logger.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int64("user_id", userID(c)).
			Msg("request")
	}
}

func (h *HTTPHandler) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		h.logger.Error().Interface("panic", recovered).Str("path", c.Request.URL.Path).Msg("handler panicked")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal error"})
	})
}

// RateLimits are requests per minute per client. Zero disables a group.
type RateLimits struct {
	Enabled bool
	Default int
	Cart    int
	Order   int
	Admin   int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet keeps one token bucket per client and route group.
type limiterSet struct {
	enabled bool

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastPrune time.Time
}

func newLimiterSet(cfg RateLimits) *limiterSet {
	return &limiterSet{
		enabled: cfg.Enabled,
		clients: make(map[string]*clientLimiter),
	}
}

func (s *limiterSet) middleware(group string, perMinute int) gin.HandlerFunc {
	if !s.enabled || perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	every := rate.Every(time.Minute / time.Duration(perMinute))

	return func(c *gin.Context) {
		client := c.ClientIP()
		if id := userID(c); id != 0 {
			client = strconv.FormatInt(id, 10)
		}
		if !s.allow(group+":"+client, every, perMinute) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "message": "too many requests"})
			return
		}
		c.Next()
	}
}

func (s *limiterSet) allow(key string, every rate.Limit, burst int) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastPrune) > time.Minute {
		for k, cl := range s.clients {
			if now.Sub(cl.lastSeen) > limiterIdle {
				delete(s.clients, k)
			}
		}
		s.lastPrune = now
	}

	cl, ok := s.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(every, burst)}
		s.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}
