package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partnerqueue/internal/database"
	"partnerqueue/internal/models"
)

func noop(key string) Handler {
	return NewHandlerFunc(key, func(context.Context, *models.QueueItem, *database.DB) error { return nil })
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry(noop("Expense.Create"), noop("Expense.Delete"))
	require.NoError(t, err)

	h, ok := r.Lookup("expense.create")
	require.True(t, ok)
	assert.Equal(t, "Expense.Create", h.Key())

	_, ok = r.Lookup("  EXPENSE.DELETE ")
	assert.True(t, ok)

	_, ok = r.Lookup("")
	assert.False(t, ok)

	assert.Equal(t, []string{"Expense.Create", "Expense.Delete"}, r.Keys())
}

func TestNewRegistry_DuplicateKey(t *testing.T) {
	_, err := NewRegistry(noop("Expense.Create"), noop("EXPENSE.CREATE"))
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestNewRegistry_EmptyKey(t *testing.T) {
	_, err := NewRegistry(noop("  "))
	assert.Error(t, err)
}

func TestRegistry_Validate(t *testing.T) {
	r, err := NewRegistry(noop("Expense.Create"))
	require.NoError(t, err)

	assert.NoError(t, r.Validate("Expense.Create", "expense.create"))

	err = r.Validate("Expense.Create", "Expense.Typo", "Other.Missing")
	require.ErrorIs(t, err, ErrUnknownOperation)
	assert.Contains(t, err.Error(), "Expense.Typo")
	assert.Contains(t, err.Error(), "Other.Missing")
}

func TestRegistry_Resolve(t *testing.T) {
	r, err := NewRegistry(noop("Expense.Create"))
	require.NoError(t, err)

	_, err = r.resolve(&models.QueueItem{RequestRef: "abc"})
	require.ErrorIs(t, err, ErrUnknownOperation)
	assert.Contains(t, err.Error(), "missing operation_key")
	assert.Contains(t, err.Error(), "request_ref=abc")

	key := "Nope.Key"
	_, err = r.resolve(&models.QueueItem{RequestRef: "def", OperationKey: &key})
	require.ErrorIs(t, err, ErrUnknownOperation)
	assert.Contains(t, err.Error(), "Nope.Key")
	assert.Contains(t, err.Error(), "request_ref=def")
}
