package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Available *int   `json:"available,omitempty"`
	InCart    *int   `json:"in_cart,omitempty"`
	Retryable *bool  `json:"retryable,omitempty"`
}

// httpError maps a core error onto a status code and a response body.
func httpError(err error) (int, errorResponse) {
	var stock *domain.InsufficientStockError
	var closed *domain.StoreClosedError

	switch {
	case errors.Is(err, domain.ErrStorage):
		return http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"}
	case errors.As(err, &stock):
		return http.StatusBadRequest, errorResponse{
			Error:     "insufficient_stock",
			Message:   err.Error(),
			Available: &stock.Available,
			InCart:    &stock.InCart,
		}
	case errors.As(err, &closed):
		return http.StatusLocked, errorResponse{Error: "store_closed", Message: closed.Message}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrRestoreExpired):
		retryable := false
		return http.StatusConflict, errorResponse{Error: "restore_expired", Message: err.Error(), Retryable: &retryable}
	case errors.Is(err, service.ErrDuplicateRequest):
		return http.StatusConflict, errorResponse{Error: "duplicate_request", Message: err.Error()}
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicate), errors.Is(err, domain.ErrNotArchived):
		return http.StatusConflict, errorResponse{Error: "conflict", Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, errorResponse{Error: "invalid_argument", Message: err.Error()}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorResponse{Error: "forbidden", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"}
	}
}

func (h *HTTPHandler) fail(c *gin.Context, err error) {
	status, body := httpError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid_argument", Message: msg})
}
