package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorKind string

// Business-rule violations raised by order creation. Infrastructure failures
// (connectivity, SQL errors) are never wrapped into these kinds; they
// propagate as plain errors.
const (
	ErrCustomerNotFound  ErrorKind = "CUSTOMER_NOT_FOUND"
	ErrNoProductsFound   ErrorKind = "NO_PRODUCTS_FOUND"
	ErrProductsNotFound  ErrorKind = "PRODUCTS_NOT_FOUND"
	ErrInsufficientStock ErrorKind = "INSUFFICIENT_STOCK"
)

// Error is the single tagged application-error type for business-rule
// violations.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the error kind and true when err is a domain error.
func KindOf(err error) (ErrorKind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

func ErrCustomerNotFoundf(id CustomerID) *Error {
	return NewError(ErrCustomerNotFound, "could not find any customer with the given id: %s", id)
}

func ErrNoProductsFoundf() *Error {
	return NewError(ErrNoProductsFound, "could not find any products with the given ids")
}

func ErrProductsNotFoundf(ids []ProductID) *Error {
	return NewError(ErrProductsNotFound, "could not find products with ids: %s", joinProductIDs(ids))
}

func ErrInsufficientStockf(lines []OrderLine) *Error {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, fmt.Sprintf("%s (requested %d)", l.ProductID, l.Quantity))
	}
	return NewError(ErrInsufficientStock, "products with quantity not available: %s", strings.Join(parts, ", "))
}

func joinProductIDs(ids []ProductID) string {
	ss := make([]string, 0, len(ids))
	for _, id := range ids {
		ss = append(ss, string(id))
	}
	sort.Strings(ss)
	return strings.Join(ss, ", ")
}
