package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rl1809/storefront/internal/core/service"
)

type categoryRequest struct {
	Name string `json:"name"`
}

type sleepRequest struct {
	Sleep   bool       `json:"is_sleep"`
	Message string     `json:"sleep_message"`
	Until   *time.Time `json:"sleep_until"`
}

type paymentLinkRequest struct {
	PaymentLink string `json:"payment_link"`
}

func (h *HTTPHandler) CreateCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	cat, err := h.svc.CatalogAdmin.CreateCategory(c.Request.Context(), req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cat)
}

func (h *HTTPHandler) UpdateCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	cat, err := h.svc.CatalogAdmin.UpdateCategory(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

func (h *HTTPHandler) DeleteCategory(c *gin.Context) {
	if err := h.svc.CatalogAdmin.DeleteCategory(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) CategoryDetail(c *gin.Context) {
	detail, err := h.svc.CatalogAdmin.CategoryDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, detail)
}

func (h *HTTPHandler) GetProduct(c *gin.Context) {
	p, err := h.svc.CatalogAdmin.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *HTTPHandler) CreateProduct(c *gin.Context) {
	var in service.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := h.svc.CatalogAdmin.CreateProduct(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *HTTPHandler) UpdateProduct(c *gin.Context) {
	var patch service.ProductPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := h.svc.CatalogAdmin.UpdateProduct(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *HTTPHandler) DeleteProduct(c *gin.Context) {
	if err := h.svc.CatalogAdmin.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) SetSleep(c *gin.Context) {
	var req sleepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	st, err := h.svc.Store.SetSleep(c.Request.Context(), req.Sleep, req.Message, req.Until)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *HTTPHandler) SetPaymentLink(c *gin.Context) {
	var req paymentLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	st, err := h.svc.Store.SetPaymentLink(c.Request.Context(), req.PaymentLink)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
