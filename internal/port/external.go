package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

// BlobStorage keeps payment receipts.
type BlobStorage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
}

// Notifier hands events to an out-of-band messaging channel.
type Notifier interface {
	NotifyNewOrder(ctx context.Context, order domain.Order) error
	NotifyStatusChange(ctx context.Context, order domain.Order) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// TaskRunner runs fire-and-forget work under supervision.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context) error)
}
