package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirlite/backend/internal/domain"
	"kasirlite/backend/internal/store/memory"
)

func TestAdjustStockNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	inv := NewInventory(memory.New(), DefaultLowStockThreshold)
	p, err := inv.Create(ctx, domain.ProductCreateRequest{Name: "Gula", InitialStock: 3, PriceCents: 1500})
	require.NoError(t, err)

	for _, delta := range []int{-2, -2, +4, -5, -5, +1} {
		_, err := inv.AdjustStock(ctx, p.ID, delta)
		current, getErr := inv.Get(ctx, p.ID)
		require.NoError(t, getErr)
		assert.GreaterOrEqual(t, current.Stock, 0)
		if err != nil {
			assert.ErrorIs(t, err, ErrStockOutOfRange)
			assert.Equal(t, KindStock, Classify(err))
		}
	}
	final, err := inv.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, final.Stock)
}

func TestCreateValidatesFields(t *testing.T) {
	ctx := context.Background()
	inv := NewInventory(memory.New(), DefaultLowStockThreshold)

	for _, req := range []domain.ProductCreateRequest{
		{Name: "  ", PriceCents: 100},
		{Name: "Teh", PriceCents: 0},
		{Name: "Teh", PriceCents: 100, InitialStock: -1},
	} {
		_, err := inv.Create(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, KindValidation, Classify(err))
	}
}

func TestReceiveAndLowStock(t *testing.T) {
	ctx := context.Background()
	inv := NewInventory(memory.New(), DefaultLowStockThreshold)
	p, err := inv.Create(ctx, domain.ProductCreateRequest{Name: "Roti", InitialStock: 4, PriceCents: 1800})
	require.NoError(t, err)
	_, err = inv.Create(ctx, domain.ProductCreateRequest{Name: "Susu", InitialStock: 20, PriceCents: 1900})
	require.NoError(t, err)

	low, err := inv.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, p.ID, low[0].ID)

	_, err = inv.Receive(ctx, p.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	received, err := inv.Receive(ctx, p.ID, 6)
	require.NoError(t, err)
	assert.Equal(t, 10, received.Stock)

	low, err = inv.LowStock(ctx)
	require.NoError(t, err)
	assert.Empty(t, low)
}

func TestUpdateNeverTouchesStock(t *testing.T) {
	ctx := context.Background()
	inv := NewInventory(memory.New(), DefaultLowStockThreshold)
	p, err := inv.Create(ctx, domain.ProductCreateRequest{Name: "Roti", Category: "bakery", InitialStock: 4, PriceCents: 1800})
	require.NoError(t, err)

	name := "Roti Tawar"
	updated, err := inv.Update(ctx, p.ID, domain.ProductUpdateRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Roti Tawar", updated.Name)
	assert.Equal(t, "bakery", updated.Category)
	assert.Equal(t, 4, updated.Stock)

	_, err = inv.Update(ctx, 999, domain.ProductUpdateRequest{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}
