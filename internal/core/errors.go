package core

import (
	"errors"
	"fmt"
)

// Business outcomes. Infrastructure failures are returned wrapped and never match these.
var (
	ErrNotFound          = errors.New("inventory record not found")
	ErrAlreadyExists     = errors.New("inventory record already exists")
	ErrSKUTaken          = errors.New("sku already assigned to another product")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrExceedsHeld       = errors.New("quantity exceeds units held by session")
	ErrInvalidStockLevel = errors.New("stock level below reserved quantity")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrTimeout           = errors.New("inventory operation timed out")

	// errHoldChanged signals that a hold was renewed or modified between the sweeper's
	// scan and its reclaim attempt.
	errHoldChanged = errors.New("hold changed since scan")
)

// InsufficientStockError carries the availability observed when a delta was rejected.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// AvailableFromError extracts the available quantity carried by an insufficient stock error.
func AvailableFromError(err error) (int, bool) {
	var ise *InsufficientStockError
	if errors.As(err, &ise) {
		return ise.Available, true
	}
	return 0, false
}

// IsBusinessError reports whether err is an expected business outcome rather than an
// infrastructure failure.
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrAlreadyExists, ErrSKUTaken, ErrInsufficientStock,
		ErrExceedsHeld, ErrInvalidStockLevel, ErrInvalidQuantity, ErrInvalidArgument,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
