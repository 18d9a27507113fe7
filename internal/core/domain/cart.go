package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinLineQuantity = 1
	MaxLineQuantity = 50
)

type CartItem struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	VariantID   string          `json:"variant_id,omitempty"`
	ProductName string          `json:"product_name"`
	VariantName string          `json:"variant_name,omitempty"`
	Image       string          `json:"image,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// Tracked reports whether the line holds a stock reservation.
func (i CartItem) Tracked() bool {
	return i.VariantID != ""
}

type Cart struct {
	ID          string          `json:"id"`
	UserID      int64           `json:"user_id"`
	Items       []CartItem      `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Version     int64           `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func NewCart(id string, userID int64, now time.Time) *Cart {
	return &Cart{
		ID:          id,
		UserID:      userID,
		Items:       []CartItem{},
		TotalAmount: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Expired reports whether the cart has been idle longer than window.
func (c *Cart) Expired(now time.Time, window time.Duration) bool {
	last := c.UpdatedAt
	if last.IsZero() {
		last = c.CreatedAt
	}
	return now.Sub(last) > window
}

func (c *Cart) Item(id string) *CartItem {
	for i := range c.Items {
		if c.Items[i].ID == id {
			return &c.Items[i]
		}
	}
	return nil
}

// QuantityOf sums the quantity already held for a product/variant pair.
func (c *Cart) QuantityOf(productID, variantID string) int {
	total := 0
	for _, it := range c.Items {
		if it.ProductID == productID && it.VariantID == variantID {
			total += it.Quantity
		}
	}
	return total
}

// AddLine merges item into an existing line for the same product and variant,
// or appends it.
func (c *Cart) AddLine(item CartItem, now time.Time) CartItem {
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID && c.Items[i].VariantID == item.VariantID {
			c.Items[i].Quantity += item.Quantity
			c.touch(now)
			return c.Items[i]
		}
	}
	c.Items = append(c.Items, item)
	c.touch(now)
	return item
}

func (c *Cart) SetQuantity(itemID string, quantity int, now time.Time) bool {
	it := c.Item(itemID)
	if it == nil {
		return false
	}
	it.Quantity = quantity
	c.touch(now)
	return true
}

func (c *Cart) RemoveLine(itemID string, now time.Time) (CartItem, bool) {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			removed := c.Items[i]
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			c.touch(now)
			return removed, true
		}
	}
	return CartItem{}, false
}

func (c *Cart) Clear(now time.Time) []CartItem {
	removed := c.Items
	c.Items = []CartItem{}
	c.touch(now)
	return removed
}

func (c *Cart) Recalculate() {
	c.TotalAmount = LineTotal(c.Items)
}

func (c *Cart) touch(now time.Time) {
	c.UpdatedAt = now
	c.Recalculate()
}

// LineTotal sums price*quantity rounded to cents.
func LineTotal(items []CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total.Round(2)
}
