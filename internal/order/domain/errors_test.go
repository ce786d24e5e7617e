package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := ErrCustomerNotFoundf("c1")

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrCustomerNotFound, kind)
	assert.Contains(t, err.Error(), "c1")

	_, ok = KindOf(errors.New("connection refused"))
	assert.False(t, ok)
	_, ok = KindOf(nil)
	assert.False(t, ok)
}

func TestKindOf_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("create order: %w", ErrNoProductsFoundf())

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrNoProductsFound, kind)
}

func TestErrProductsNotFoundf_SortsIDs(t *testing.T) {
	err := ErrProductsNotFoundf([]ProductID{"p2", "p1"})
	assert.Equal(t, "could not find products with ids: p1, p2", err.Error())
}

func TestErrInsufficientStockf_NamesLines(t *testing.T) {
	err := ErrInsufficientStockf([]OrderLine{{ProductID: "p1", Quantity: 6}})
	assert.Equal(t, "products with quantity not available: p1 (requested 6)", err.Error())
}
