package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirlite/backend/internal/domain"
	"kasirlite/backend/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, "sqlite", FileDSN(filepath.Join(t.TempDir(), "pos.db")))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestProductLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	kopi, err := s.CreateProduct(ctx, domain.Product{Name: "Kopi Sachet", Category: "beverage", Stock: 10, PriceCents: 2600})
	require.NoError(t, err)
	_, err = s.CreateProduct(ctx, domain.Product{Name: "Roti 100%", Category: "bakery", Stock: 4, PriceCents: 17800})
	require.NoError(t, err)

	got, err := s.SearchProducts(ctx, "BEV")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, kopi.ID, got[0].ID)

	got, err = s.SearchProducts(ctx, "100%")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Roti 100%", got[0].Name)

	got, err = s.SearchProducts(ctx, "%")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	updated, err := s.UpdateProduct(ctx, domain.Product{ID: kopi.ID, Name: "Kopi Sachet", Category: "beverage", PriceCents: 3000, Stock: 999})
	require.NoError(t, err)
	assert.Equal(t, 10, updated.Stock)
	assert.Equal(t, int64(3000), updated.PriceCents)

	_, err = s.AdjustStock(ctx, kopi.ID, -11)
	assert.ErrorIs(t, err, store.ErrStockOutOfRange)
	adjusted, err := s.AdjustStock(ctx, kopi.ID, -10)
	require.NoError(t, err)
	assert.Equal(t, 0, adjusted.Stock)

	require.NoError(t, s.DeleteProduct(ctx, kopi.ID))
	_, err = s.GetProduct(ctx, kopi.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteProduct(ctx, kopi.ID), store.ErrNotFound)
}

func TestSessionsAndSales(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, domain.CashSession{})
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, domain.CashSession{})
	require.ErrorIs(t, err, store.ErrSessionOpen)

	sale, err := s.CreateSale(ctx, domain.SaleRecord{
		Reference:  "S-1",
		SessionID:  sess.ID,
		TotalCents: 8800,
		Lines: []domain.SaleLine{
			{ProductName: "Kopi Sachet", Quantity: 2, UnitPriceCents: 2600},
			{ProductName: "Teh", Quantity: 1, UnitPriceCents: 3600},
		},
	})
	require.NoError(t, err)

	loaded, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 2)
	assert.Equal(t, "Kopi Sachet", loaded.Lines[0].ProductName)
	assert.Equal(t, sess.ID, loaded.SessionID)

	_, err = s.AddSessionProfit(ctx, sess.ID, 8800)
	require.NoError(t, err)
	open, err := s.GetOpenSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8800), open.ProfitCents)

	_, err = s.MarkSaleReversed(ctx, sale.ID, time.Now())
	require.NoError(t, err)
	_, err = s.MarkSaleReversed(ctx, sale.ID, time.Now())
	assert.ErrorIs(t, err, store.ErrAlreadyReversed)

	closed, err := s.CloseSession(ctx, sess.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusClosed, closed.Status)
	_, err = s.GetOpenSession(ctx)
	assert.ErrorIs(t, err, store.ErrNoOpenSession)

	sales, err := s.ListSales(ctx, domain.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.True(t, sales[0].Reversed)
}

func TestWithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, err := s.CreateProduct(ctx, domain.Product{Name: "Gula", Stock: 5, PriceCents: 1000})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx store.Repository) error {
		if _, err := tx.AdjustStock(ctx, p.ID, -5); err != nil {
			return err
		}
		if _, err := tx.CreateSale(ctx, domain.SaleRecord{
			TotalCents: 5000,
			Lines:      []domain.SaleLine{{ProductName: "Gula", Quantity: 5, UnitPriceCents: 1000}},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	reloaded, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, reloaded.Stock)
	sales, err := s.ListSales(ctx, domain.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
}
