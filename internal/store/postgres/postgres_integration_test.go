package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirlite/backend/internal/domain"
	"kasirlite/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("POS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestWithTxRollsBackStockAndSale(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	name := fmt.Sprintf("Produk IT %d", time.Now().UnixNano())
	p, err := s.CreateProduct(ctx, domain.Product{Name: name, Category: "snack", Stock: 10, PriceCents: 6000})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, p.ID)
	})

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx store.Repository) error {
		if _, err := tx.AdjustStock(ctx, p.ID, -2); err != nil {
			return err
		}
		if _, err := tx.CreateSale(ctx, domain.SaleRecord{
			TotalCents: 12000,
			Lines:      []domain.SaleLine{{ProductName: name, Quantity: 2, UnitPriceCents: 6000}},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	reloaded, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, reloaded.Stock)
}

func TestAdjustStockAndReverseSale(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	name := fmt.Sprintf("Produk Reverse IT %d", time.Now().UnixNano())
	p, err := s.CreateProduct(ctx, domain.Product{Name: name, Category: "snack", Stock: 3, PriceCents: 5000})
	require.NoError(t, err)

	var saleID int64
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, p.ID)
	})

	_, err = s.AdjustStock(ctx, p.ID, -4)
	require.ErrorIs(t, err, store.ErrStockOutOfRange)

	sale, err := s.CreateSale(ctx, domain.SaleRecord{
		TotalCents: 10000,
		Lines:      []domain.SaleLine{{ProductName: name, Quantity: 2, UnitPriceCents: 5000}},
	})
	require.NoError(t, err)
	saleID = sale.ID

	loaded, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 1)
	assert.Equal(t, 2, loaded.Lines[0].Quantity)

	matches, err := s.FindProductsByName(ctx, name)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, p.ID, matches[0].ID)

	reversed, err := s.MarkSaleReversed(ctx, sale.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, reversed.Reversed)

	_, err = s.MarkSaleReversed(ctx, sale.ID, time.Now())
	assert.ErrorIs(t, err, store.ErrAlreadyReversed)
}

func TestDuplicateSaleReferenceIsNotAValidationError(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	ref := fmt.Sprintf("S-IT-%d", time.Now().UnixNano())
	sale := domain.SaleRecord{
		Reference:  ref,
		TotalCents: 500,
		Lines:      []domain.SaleLine{{ProductName: "Permen", Quantity: 1, UnitPriceCents: 500}},
	}
	first, err := s.CreateSale(ctx, sale)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, first.ID)
	})

	_, err = s.CreateSale(ctx, sale)
	require.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrInvalidInput))
	assert.True(t, isUniqueViolation(err))
}
