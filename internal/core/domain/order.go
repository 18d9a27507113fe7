package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusNew        OrderStatus = "new"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusAccepted   OrderStatus = "accepted"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDone       OrderStatus = "done"
	OrderStatusCanceled   OrderStatus = "canceled"
)

var orderStatuses = map[OrderStatus]bool{
	OrderStatusNew:        true,
	OrderStatusProcessing: true,
	OrderStatusAccepted:   true,
	OrderStatusShipped:    true,
	OrderStatusDone:       true,
	OrderStatusCanceled:   true,
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if !orderStatuses[st] {
		return "", Invalid("unknown order status %q", s)
	}
	return st, nil
}

type OrderItem struct {
	ProductID   string          `json:"product_id"`
	VariantID   string          `json:"variant_id,omitempty"`
	ProductName string          `json:"product_name"`
	VariantName string          `json:"variant_name,omitempty"`
	Image       string          `json:"image,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

type Order struct {
	ID           string          `json:"id"`
	UserID       int64           `json:"user_id"`
	CustomerName string          `json:"customer_name"`
	Phone        string          `json:"phone"`
	Address      string          `json:"address"`
	Comment      string          `json:"comment,omitempty"`
	DeliveryType string          `json:"delivery_type,omitempty"`
	PaymentType  string          `json:"payment_type,omitempty"`
	Items        []OrderItem     `json:"items"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Status       OrderStatus     `json:"status"`
	ReceiptKey   string          `json:"receipt_key,omitempty"`
	DeletedAt    *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// SnapshotItems copies cart lines so later catalog edits do not leak into
// the order.
func SnapshotItems(items []CartItem) []OrderItem {
	out := make([]OrderItem, 0, len(items))
	for _, it := range items {
		out = append(out, OrderItem{
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			ProductName: it.ProductName,
			VariantName: it.VariantName,
			Image:       it.Image,
			Quantity:    it.Quantity,
			Price:       it.Price,
		})
	}
	return out
}

func (o *Order) Archived() bool {
	return o.DeletedAt != nil
}

// OrderQuery drives the admin listing. Cursor is the last id of the previous page.
type OrderQuery struct {
	Status         OrderStatus
	Limit          int
	IncludeDeleted bool
	Cursor         string
}

type OrderPage struct {
	Orders     []Order `json:"orders"`
	NextCursor string  `json:"next_cursor,omitempty"`
}
