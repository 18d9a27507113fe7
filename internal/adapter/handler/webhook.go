package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rl1809/storefront/internal/adapter/notify"
	"github.com/rl1809/storefront/internal/core/domain"
)

const webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

type telegramUpdate struct {
	UpdateID      int64          `json:"update_id"`
	CallbackQuery *callbackQuery `json:"callback_query"`
}

type callbackQuery struct {
	ID   string `json:"id"`
	Data string `json:"data"`
	From struct {
		ID int64 `json:"id"`
	} `json:"from"`
}

// TelegramWebhook applies status buttons pressed under new-order messages.
// Telegram retries anything but a 2xx, so handled failures still answer 200.
func (h *HTTPHandler) TelegramWebhook(c *gin.Context) {
	if h.opts.WebhookSecret != "" {
		got := c.GetHeader(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.opts.WebhookSecret)) != 1 {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
	}

	var update telegramUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, err.Error())
		return
	}
	cb := update.CallbackQuery
	if cb == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	ctx := c.Request.Context()
	log := h.logger.With().Int64("from", cb.From.ID).Str("data", cb.Data).Logger()

	if !h.admins[cb.From.ID] {
		log.Warn().Msg("status callback from non-admin")
		h.answer(ctx, cb.ID, "Not allowed")
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	orderID, status, err := notify.ParseCallback(cb.Data)
	if err != nil {
		h.answer(ctx, cb.ID, "Unknown action")
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	order, err := h.svc.OrderStatuses.SetStatus(ctx, orderID, status)
	switch {
	case err == nil:
		log.Info().Str("order_id", order.ID).Str("status", string(order.Status)).Msg("status set from bot")
		h.answer(ctx, cb.ID, "Status: "+string(order.Status))
	case errors.Is(err, domain.ErrNotFound):
		h.answer(ctx, cb.ID, "Order not found")
	case errors.Is(err, domain.ErrConflict):
		h.answer(ctx, cb.ID, "Status cannot change")
	default:
		log.Error().Err(err).Msg("status callback failed")
		h.answer(ctx, cb.ID, "Failed, try again")
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *HTTPHandler) answer(ctx context.Context, callbackID, text string) {
	if h.svc.Bot == nil || callbackID == "" {
		return
	}
	if err := h.svc.Bot.AnswerCallback(ctx, callbackID, text); err != nil {
		h.logger.Warn().Err(err).Msg("answer callback")
	}
}
