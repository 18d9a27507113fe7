package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type addItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity" binding:"required"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

func (h *HTTPHandler) GetCart(c *gin.Context) {
	cart, err := h.svc.Carts.GetCart(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *HTTPHandler) AddCartItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	cart, err := h.svc.Carts.AddItem(c.Request.Context(), userID(c), req.ProductID, req.VariantID, req.Quantity)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *HTTPHandler) UpdateCartItem(c *gin.Context) {
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	cart, err := h.svc.Carts.UpdateItem(c.Request.Context(), userID(c), c.Param("item_id"), req.Quantity)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *HTTPHandler) RemoveCartItem(c *gin.Context) {
	cart, err := h.svc.Carts.RemoveItem(c.Request.Context(), userID(c), c.Param("item_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *HTTPHandler) ClearCart(c *gin.Context) {
	cart, err := h.svc.Carts.Clear(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}
