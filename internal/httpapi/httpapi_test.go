package httpapi

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"kasirlite/backend/internal/domain"
	"kasirlite/backend/internal/metrics"
	"kasirlite/backend/internal/service"
	"kasirlite/backend/internal/store/memory"
)

// newTestAPI builds the full handler over an empty in-memory store so tests
// exercise the complete request path.
func newTestAPI(t *testing.T) http.Handler {
	t.Helper()

	engine := service.New(memory.New(), service.Options{LowStockThreshold: service.DefaultLowStockThreshold})
	require.NoError(t, engine.Recover(context.Background()))
	return New(engine, nil, metrics.New(), nil, "*").Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func createProduct(t *testing.T, h http.Handler, name string, stock int, price int64) productView {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/products", domain.ProductCreateRequest{
		Name: name, Category: "umum", InitialStock: stock, PriceCents: price,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[struct {
		Product productView `json:"product"`
	}](t, rec).Product
}

func TestHandleHealth(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, false, body["drawer_open"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflightShortCircuits(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodOptions, "/api/sales", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestProductLifecycle(t *testing.T) {
	h := newTestAPI(t)
	created := createProduct(t, h, "Kopi Susu", 3, 1500)
	assert.Equal(t, "15.00", created.Price)
	assert.True(t, created.LowStock)

	rec := do(t, h, http.MethodGet, "/api/products?q=kopi", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Products []productView `json:"products"`
	}](t, rec)
	require.Len(t, list.Products, 1)
	assert.Equal(t, created.ID, list.Products[0].ID)

	rec = do(t, h, http.MethodPost, "/api/products/1/receive", domain.StockReceiveRequest{Qty: 10})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	received := decode[struct {
		Product productView `json:"product"`
	}](t, rec).Product
	assert.Equal(t, 13, received.Stock)
	assert.False(t, received.LowStock)

	name := "Kopi Susu Gula Aren"
	rec = do(t, h, http.MethodPatch, "/api/products/1", domain.ProductUpdateRequest{Name: &name})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[struct {
		Product productView `json:"product"`
	}](t, rec).Product
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, 13, updated.Stock)

	rec = do(t, h, http.MethodDelete, "/api/products/1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/products/1", domain.ConfirmRequest{Confirm: true})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/products/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProductValidationErrors(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodPost, "/api/products", domain.ProductCreateRequest{Name: "", PriceCents: 100})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/products", map[string]any{"name": "x", "unknown": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/products/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLowStockFilter(t *testing.T) {
	h := newTestAPI(t)
	createProduct(t, h, "Teh Botol", 2, 500)
	createProduct(t, h, "Air Mineral", 40, 300)

	rec := do(t, h, http.MethodGet, "/api/products?low_stock=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Products []productView `json:"products"`
	}](t, rec)
	require.Len(t, list.Products, 1)
	assert.Equal(t, "Teh Botol", list.Products[0].Name)
}

func TestCheckoutAndReverseFlow(t *testing.T) {
	h := newTestAPI(t)
	createProduct(t, h, "Apel Fuji", 5, 1000)

	rec := do(t, h, http.MethodPost, "/api/sales", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "finalize with closed drawer")

	rec = do(t, h, http.MethodPost, "/api/drawer/open", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/drawer/open", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/cart/items", domain.CartAddRequest{Term: "apel", Quantity: 9})
	assert.Equal(t, http.StatusConflict, rec.Code, "insufficient stock")

	rec = do(t, h, http.MethodPost, "/api/cart/items", domain.CartAddRequest{Term: "durian", Quantity: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/cart/items", domain.CartAddRequest{Term: "apel", Quantity: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/cart/items", domain.CartAddRequest{Term: "apel", Quantity: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cart := decode[struct {
		Cart domain.CartView `json:"cart"`
	}](t, rec).Cart
	assert.Equal(t, int64(2000), cart.TotalCents)

	rec = do(t, h, http.MethodPost, "/api/sales", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	finalized := decode[domain.FinalizeResponse](t, rec)
	assert.Equal(t, int64(2000), finalized.Sale.TotalCents)
	assert.Equal(t, int64(2000), finalized.SessionProfitCents)

	rec = do(t, h, http.MethodGet, "/api/cart", nil)
	assert.Empty(t, decode[struct {
		Cart domain.CartView `json:"cart"`
	}](t, rec).Cart.Lines)

	rec = do(t, h, http.MethodPost, "/api/sales/1/reverse", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reversal := decode[domain.ReversalResult](t, rec)
	assert.True(t, reversal.Sale.Reversed)
	assert.True(t, reversal.ProfitAdjusted)

	rec = do(t, h, http.MethodPost, "/api/sales/1/reverse", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/sales/99/reverse", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/products/1", nil)
	assert.Equal(t, 5, decode[struct {
		Product productView `json:"product"`
	}](t, rec).Product.Stock)

	rec = do(t, h, http.MethodGet, "/api/drawer", nil)
	status := decode[struct {
		Drawer domain.DrawerStatus `json:"drawer"`
	}](t, rec).Drawer
	require.True(t, status.Open)
	assert.Equal(t, int64(0), status.Session.ProfitCents)
}

func TestDrawerCloseRequiresConfirmation(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodPost, "/api/drawer/close", domain.ConfirmRequest{Confirm: true})
	assert.Equal(t, http.StatusConflict, rec.Code, "close without open session")

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/drawer/open", nil).Code)

	rec = do(t, h, http.MethodPost, "/api/drawer/close", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/drawer/close", domain.ConfirmRequest{Confirm: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sess := decode[struct {
		Session domain.CashSession `json:"session"`
	}](t, rec).Session
	assert.Equal(t, domain.SessionStatusClosed, sess.Status)
	assert.NotNil(t, sess.ClosedAt)

	rec = do(t, h, http.MethodGet, "/api/drawer/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[struct {
		Sessions []domain.CashSession `json:"sessions"`
	}](t, rec)
	assert.Len(t, history.Sessions, 1)
}

func TestCartClearAndRemove(t *testing.T) {
	h := newTestAPI(t)
	createProduct(t, h, "Roti Tawar", 10, 1200)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/cart/items", domain.CartAddRequest{Term: "roti", Quantity: 1}).Code)

	rec := do(t, h, http.MethodDelete, "/api/cart", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/cart/items/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/cart/items/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/cart/items", domain.CartAddRequest{Term: "roti", Quantity: 1}).Code)
	rec = do(t, h, http.MethodDelete, "/api/cart", domain.ConfirmRequest{Confirm: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[struct {
		Cart domain.CartView `json:"cart"`
	}](t, rec).Cart.Lines)
}

func sellOne(t *testing.T, h http.Handler) {
	t.Helper()
	createProduct(t, h, "Apel Fuji", 5, 1000)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/drawer/open", nil).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/cart/items", domain.CartAddRequest{Term: "apel", Quantity: 3}).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/sales", nil).Code)
}

func TestSalesListingAndSummary(t *testing.T) {
	h := newTestAPI(t)
	sellOne(t, h)

	rec := do(t, h, http.MethodGet, "/api/sales?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sales := decode[struct {
		Sales []domain.SaleRecord `json:"sales"`
	}](t, rec).Sales
	require.Len(t, sales, 1)
	assert.Equal(t, int64(3000), sales[0].TotalCents)

	rec = do(t, h, http.MethodGet, "/api/sales/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/sales/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[struct {
		Summary domain.LedgerSummary `json:"summary"`
	}](t, rec).Summary
	assert.Equal(t, int64(1), summary.Sales)
	assert.Equal(t, int64(3), summary.ItemsSold)
	assert.Equal(t, int64(3000), summary.NetCents)

	rec = do(t, h, http.MethodGet, "/api/sales?from=2024-01-02&to=2024-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/sales?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportDownloads(t *testing.T) {
	h := newTestAPI(t)
	sellOne(t, h)

	rec := do(t, h, http.MethodGet, "/api/sales/export?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Apel Fuji", rows[1][4])

	rec = do(t, h, http.MethodGet, "/api/sales/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	book, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer book.Close()
	assert.Contains(t, book.GetSheetList(), "Sales")

	rec = do(t, h, http.MethodGet, "/api/sales/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditLogsAndMetrics(t *testing.T) {
	h := newTestAPI(t)
	sellOne(t, h)

	rec := do(t, h, http.MethodGet, "/api/audit-logs?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[struct {
		AuditLogs []domain.AuditLog `json:"audit_logs"`
	}](t, rec).AuditLogs
	assert.Len(t, logs, 2)

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_request_duration_seconds")
}

func TestUnknownRouteIsJSON(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "route not found", decode[map[string]string](t, rec)["error"])
}
