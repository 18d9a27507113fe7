package domain

import "time"

const (
	ReleaseCartExpired  = "cart_expired"
	ReleaseCartReduced  = "cart_reduced"
	ReleaseCartRemoved  = "cart_removed"
	ReleaseCartCleared  = "cart_cleared"
	ReleaseCartRollback = "cart_rollback"
	ReleaseOrderCancel  = "order_canceled"
)

// PendingRelease is stock owed back to a variant. It is recorded in the same
// write that drops the reservation and deleted in the same transaction that
// returns the units, so each one is applied exactly once.
type PendingRelease struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	VariantID string    `json:"variant_id"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
