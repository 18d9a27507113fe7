package service

import (
	"errors"
	"fmt"

	"github.com/rl1809/storefront/internal/core/domain"
)

var (
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrEmptyCart        = fmt.Errorf("%w: cart is empty", domain.ErrInvalidArgument)
)
