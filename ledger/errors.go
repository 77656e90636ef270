/*
errors.go - Error kinds for the ledger and transaction engine

ERROR CATEGORIES:
  1. Business rule violations - InvalidInput, NotFound, InsufficientStock,
     AlreadyReturned. Detected while validating; nothing is written.
  2. Storage failures - StorageError. Fatal to the request; the enclosing
     transaction is rolled back.

USAGE:
  if errors.Is(err, ledger.ErrInsufficientStock) {
      var se *ledger.InsufficientStockError
      errors.As(err, &se)
      fmt.Println(se.Product, se.Available)
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAlreadyReturned   = errors.New("sale already returned")
	ErrStorage           = errors.New("storage error")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidInputError names the offending request field.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

func invalid(field, reason string) error {
	return &InvalidInputError{Field: field, Reason: reason}
}

// NotFoundError reports a missing product, sale, customer or doctor.
// Line is the 1-based sale line, or 0 when not tied to a line.
type NotFoundError struct {
	Kind string
	Ref  string
	Line int
}

func (e *NotFoundError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s %q not found (line %d)", e.Kind, e.Ref, e.Line)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.Ref)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	ItemID    ItemID
	Product   string
	Line      int
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %d, requested %d",
		e.Product, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// AlreadyReturnedError is returned for a second return of the same sale.
type AlreadyReturnedError struct {
	SaleID   SaleID
	ReturnID SaleID
}

func (e *AlreadyReturnedError) Error() string {
	if e.ReturnID == "" {
		return fmt.Sprintf("sale %s already returned", e.SaleID)
	}
	return fmt.Sprintf("sale %s already returned by %s", e.SaleID, e.ReturnID)
}

func (e *AlreadyReturnedError) Unwrap() error { return ErrAlreadyReturned }

// StorageError wraps a persistence failure. It matches both ErrStorage and
// the underlying cause.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// Storage wraps err as a StorageError unless it already carries a ledger
// error kind.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

type Kind string

const (
	KindUnknown           Kind = ""
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindInsufficientStock Kind = "insufficient_stock"
	KindAlreadyReturned   Kind = "already_returned"
	KindStorage           Kind = "storage_error"
)

// KindOf classifies err into one of the ledger error kinds.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrAlreadyReturned):
		return KindAlreadyReturned
	case errors.Is(err, ErrStorage):
		return KindStorage
	}
	return KindUnknown
}

// IsClientError returns true if the caller can fix the request and retry.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindInvalidInput, KindNotFound, KindInsufficientStock, KindAlreadyReturned:
		return true
	}
	return false
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
