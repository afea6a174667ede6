package strata_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
)

func TestNotFoundError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		assert.Equal(t, "strata: Product not found", strata.NewNotFoundError("Product").Error())
		err := &strata.NotFoundError{Model: "Product", Key: []any{int64(4)}}
		assert.Equal(t, "strata: Product not found (pk=[4])", err.Error())
	})

	t.Run("IsNotFound", func(t *testing.T) {
		err := strata.NewNotFoundError("Order")
		assert.True(t, errors.Is(err, strata.ErrNotFound))
		assert.True(t, strata.IsNotFound(fmt.Errorf("wrapper: %w", err)))
		assert.True(t, strata.IsNotFound(strata.ErrNotFound))
		assert.False(t, strata.IsNotFound(strata.NewNotSingularError("Order", 2)))
		assert.False(t, strata.IsNotFound(nil))
	})
}

func TestNotSingularError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		assert.Equal(t, "strata: Order not singular (got 3 rows)", strata.NewNotSingularError("Order", 3).Error())
		assert.Equal(t, "strata: Order not singular", strata.NewNotSingularError("Order", 0).Error())
	})

	t.Run("IsNotSingular", func(t *testing.T) {
		err := strata.NewNotSingularError("Order", 2)
		assert.True(t, errors.Is(err, strata.ErrNotSingular))
		assert.True(t, strata.IsNotSingular(fmt.Errorf("wrapper: %w", err)))
		assert.False(t, strata.IsNotSingular(strata.ErrNotFound))
		assert.False(t, strata.IsNotSingular(nil))
	})
}

func TestConfigError(t *testing.T) {
	err := strata.NewConfigError("Product", "missing primary key")
	assert.Equal(t, "strata: model Product: missing primary key", err.Error())
	assert.True(t, strata.IsConfigError(fmt.Errorf("register: %w", err)))
	assert.False(t, strata.IsConfigError(errors.New("other")))
}

func TestQueryErrors(t *testing.T) {
	t.Run("QueryError", func(t *testing.T) {
		underlying := errors.New("range needs two values")
		err := strata.NewQueryError("Product", "select", underlying)
		assert.Equal(t, "strata: querying Product (select): range needs two values", err.Error())
		assert.ErrorIs(t, err, underlying)
		assert.True(t, strata.IsQueryError(err))
	})

	t.Run("LookupError", func(t *testing.T) {
		err := &strata.LookupError{Model: "Order", Segment: "nope", Path: "customer__nope"}
		assert.Contains(t, err.Error(), `"nope"`)
		assert.Contains(t, err.Error(), "Order")
		assert.True(t, strata.IsQueryError(err))
	})

	t.Run("UnsupportedLookupError", func(t *testing.T) {
		err := &strata.UnsupportedLookupError{Lookup: "contains", Kind: "integer"}
		assert.Equal(t, `strata: unsupported lookup "contains" for integer fields`, err.Error())
		assert.True(t, strata.IsQueryError(fmt.Errorf("compile: %w", err)))
	})
}

func TestTransactionError(t *testing.T) {
	underlying := errors.New("prepare failed")
	err := strata.NewTransactionError("commit", true, underlying)
	assert.Equal(t, "strata: fatal transaction failure during commit: prepare failed", err.Error())
	assert.ErrorIs(t, err, underlying)
	assert.True(t, strata.IsTransactionError(err))
	assert.True(t, strata.IsFatal(err))

	soft := strata.NewTransactionError("add", false, strata.ErrSecondBackend)
	assert.False(t, strata.IsFatal(soft))
	assert.ErrorIs(t, soft, strata.ErrSecondBackend)
}

func TestConstraintError(t *testing.T) {
	underlying := errors.New("db error")
	err := strata.NewConstraintError("UNIQUE constraint failed", underlying)
	assert.Equal(t, "strata: constraint failed: UNIQUE constraint failed", err.Error())
	assert.ErrorIs(t, err, underlying)
	assert.True(t, strata.IsConstraintError(fmt.Errorf("wrapper: %w", err)))
	assert.False(t, strata.IsConstraintError(nil))
}

func TestValidationError(t *testing.T) {
	underlying := errors.New("too long")
	err := &strata.ValidationError{Name: "name", Err: underlying}
	assert.Equal(t, `strata: validator failed for field "name": too long`, err.Error())
	assert.ErrorIs(t, err, underlying)
	assert.True(t, strata.IsValidationError(err))
}

func TestRollbackError(t *testing.T) {
	underlying := errors.New("connection lost")
	err := &strata.RollbackError{Backend: "orders", Err: underlying}
	assert.Equal(t, "strata: rollback of orders failed: connection lost", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestAggregateError(t *testing.T) {
	t.Run("NoErrors", func(t *testing.T) {
		assert.Nil(t, strata.NewAggregateError())
		assert.Nil(t, strata.NewAggregateError(nil, nil))
	})

	t.Run("SingleError", func(t *testing.T) {
		single := errors.New("single error")
		assert.Equal(t, single, strata.NewAggregateError(nil, single))
	})

	t.Run("MultipleErrors", func(t *testing.T) {
		err1 := errors.New("error 1")
		err2 := errors.New("error 2")
		err := strata.NewAggregateError(err1, nil, err2)
		require.NotNil(t, err)
		assert.Contains(t, err.Error(), "multiple errors")
		assert.Contains(t, err.Error(), "[2] error 2")
		assert.ErrorIs(t, err, err1)
		assert.ErrorIs(t, err, err2)
	})
}
