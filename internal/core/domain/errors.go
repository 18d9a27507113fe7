package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrDuplicate         = errors.New("duplicate")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrRestoreExpired    = errors.New("restore window expired")
	ErrNotArchived       = errors.New("order is not archived")
	ErrStoreClosed       = errors.New("store is closed")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrForbidden         = errors.New("forbidden")
	ErrStorage           = errors.New("storage failure")
)

// InsufficientStockError reports how much of a variant can still be taken.
type InsufficientStockError struct {
	Available int
	InCart    int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: available %d, in cart %d", e.Available, e.InCart)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type StoreClosedError struct {
	Message string
}

func (e *StoreClosedError) Error() string {
	if e.Message == "" {
		return ErrStoreClosed.Error()
	}
	return ErrStoreClosed.Error() + ": " + e.Message
}

func (e *StoreClosedError) Is(target error) bool {
	return target == ErrStoreClosed
}

// Invalid builds an ErrInvalidArgument carrying a reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
