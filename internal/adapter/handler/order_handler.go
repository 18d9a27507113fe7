package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

type checkoutForm struct {
	Name         string `form:"name"`
	Phone        string `form:"phone"`
	Address      string `form:"address"`
	Comment      string `form:"comment"`
	DeliveryType string `form:"delivery_type"`
	PaymentType  string `form:"payment_type"`
}

type addressRequest struct {
	Address string `json:"address" binding:"required"`
}

type listOrdersQuery struct {
	Status         string `form:"status"`
	Limit          int    `form:"limit"`
	IncludeDeleted bool   `form:"include_deleted"`
	Cursor         string `form:"cursor"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// Checkout takes a multipart form with the delivery details and an optional
// receipt file.
func (h *HTTPHandler) Checkout(c *gin.Context) {
	var form checkoutForm
	if err := c.ShouldBind(&form); err != nil {
		badRequest(c, err.Error())
		return
	}

	req := service.CheckoutRequest{
		UserID:       userID(c),
		CustomerName: form.Name,
		Phone:        form.Phone,
		Address:      form.Address,
		Comment:      form.Comment,
		DeliveryType: form.DeliveryType,
		PaymentType:  form.PaymentType,
	}

	fh, err := c.FormFile("receipt")
	switch {
	case err == nil:
		receipt, err := h.readReceipt(fh)
		if err != nil {
			h.fail(c, err)
			return
		}
		req.Receipt = receipt
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		badRequest(c, err.Error())
		return
	}

	order, err := h.svc.Orders.Checkout(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *HTTPHandler) readReceipt(fh *multipart.FileHeader) (*service.Receipt, error) {
	if fh.Size > h.opts.MaxReceiptBytes {
		return nil, domain.Invalid("receipt exceeds %d bytes", h.opts.MaxReceiptBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, domain.Invalid("open receipt: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.opts.MaxReceiptBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read receipt: %w", err)
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return &service.Receipt{
		Filename:    filepath.Base(fh.Filename),
		ContentType: contentType,
		Data:        data,
	}, nil
}

func (h *HTTPHandler) GetOrder(c *gin.Context) {
	order, err := h.svc.Orders.GetOrder(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *HTTPHandler) LastOrder(c *gin.Context) {
	order, err := h.svc.Orders.LastOrder(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *HTTPHandler) UpdateOrderAddress(c *gin.Context) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	order, err := h.svc.Orders.UpdateAddress(c.Request.Context(), userID(c), c.Param("id"), req.Address)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// OrderReceipt streams the stored receipt. Admins can read any order's.
func (h *HTTPHandler) OrderReceipt(c *gin.Context) {
	data, contentType, err := h.svc.Orders.Receipt(c.Request.Context(), userID(c), isAdmin(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "private, no-store")
	c.Data(http.StatusOK, contentType, data)
}

func (h *HTTPHandler) ListOrders(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	page, err := h.svc.Orders.ListOrders(c.Request.Context(), domain.OrderQuery{
		Status:         domain.OrderStatus(q.Status),
		Limit:          q.Limit,
		IncludeDeleted: q.IncludeDeleted,
		Cursor:         q.Cursor,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *HTTPHandler) AdminGetOrder(c *gin.Context) {
	order, err := h.svc.Orders.AdminGetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *HTTPHandler) SetOrderStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	order, err := h.svc.OrderStatuses.SetStatus(c.Request.Context(), c.Param("id"), domain.OrderStatus(req.Status))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *HTTPHandler) QuickAccept(c *gin.Context) {
	order, err := h.svc.OrderStatuses.QuickAccept(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *HTTPHandler) RestoreOrder(c *gin.Context) {
	order, err := h.svc.OrderStatuses.Restore(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
