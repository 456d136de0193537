package service

import (
	"errors"

	"kasirlite/backend/internal/store"
)

var (
	ErrInvalidQuantity   = errors.New("quantity must be greater than zero")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAlreadyOpen       = errors.New("cash drawer is already open")
	ErrNotOpen           = errors.New("cash drawer is not open")
	ErrDrawerClosed      = errors.New("cash drawer is closed")
	ErrEmptyCart         = errors.New("cart is empty")

	// Re-exported so callers only need this package.
	ErrInvalidInput    = store.ErrInvalidInput
	ErrNotFound        = store.ErrNotFound
	ErrStockOutOfRange = store.ErrStockOutOfRange
	ErrAlreadyReversed = store.ErrAlreadyReversed
)

// Kind groups errors the way the operator sees them. Every kind leaves state
// unchanged.
type Kind int

const (
	KindPersistence Kind = iota
	KindValidation
	KindNotFound
	KindState
	KindStock
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	case KindStock:
		return "stock"
	default:
		return "persistence"
	}
}

// Classify maps an engine error to its Kind. Anything unrecognised is a
// storage failure.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyOpen), errors.Is(err, ErrNotOpen), errors.Is(err, ErrDrawerClosed),
		errors.Is(err, ErrEmptyCart), errors.Is(err, ErrAlreadyReversed):
		return KindState
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrStockOutOfRange):
		return KindStock
	default:
		return KindPersistence
	}
}
