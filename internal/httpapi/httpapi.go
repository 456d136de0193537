package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"kasirlite/backend/internal/domain"
	"kasirlite/backend/internal/export"
	"kasirlite/backend/internal/logging"
	"kasirlite/backend/internal/metrics"
	"kasirlite/backend/internal/money"
	"kasirlite/backend/internal/service"
)

var errConfirmationRequired = errors.New(`confirmation required: send {"confirm": true}`)

type API struct {
	engine        *service.Engine
	exporter      *export.Exporter
	metrics       *metrics.Metrics
	logger        *zap.Logger
	allowedOrigin string
	now           func() time.Time
}

func New(engine *service.Engine, exporter *export.Exporter, m *metrics.Metrics, logger *zap.Logger, allowedOrigin string) *API {
	if exporter == nil {
		exporter = export.New(engine)
	}
	return &API{
		engine:        engine,
		exporter:      exporter,
		metrics:       m,
		logger:        logging.OrNop(logger),
		allowedOrigin: allowedOrigin,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.withMiddleware)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		a.writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", a.handleListProducts)
			r.Post("/", a.handleCreateProduct)
			r.Get("/{id}", a.handleGetProduct)
			r.Patch("/{id}", a.handleUpdateProduct)
			r.Delete("/{id}", a.handleDeleteProduct)
			r.Post("/{id}/receive", a.handleReceiveStock)
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", a.handleCart)
			r.Delete("/", a.handleClearCart)
			r.Post("/items", a.handleAddToCart)
			r.Delete("/items/{productID}", a.handleRemoveFromCart)
		})

		r.Route("/sales", func(r chi.Router) {
			r.Get("/", a.handleListSales)
			r.Post("/", a.handleFinalize)
			r.Get("/summary", a.handleSummary)
			r.Get("/export", a.handleExport)
			r.Get("/{id}", a.handleGetSale)
			r.Post("/{id}/reverse", a.handleReverse)
		})

		r.Route("/drawer", func(r chi.Router) {
			r.Get("/", a.handleDrawerStatus)
			r.Post("/open", a.handleDrawerOpen)
			r.Post("/close", a.handleDrawerClose)
			r.Get("/history", a.handleDrawerHistory)
		})

		r.Get("/audit-logs", a.handleAuditLogs)
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"at":          a.now().Format(time.RFC3339),
		"drawer_open": a.engine.DrawerStatus().Open,
	})
}

type productView struct {
	domain.Product
	Price    string `json:"price"`
	LowStock bool   `json:"low_stock"`
}

func (a *API) productView(p domain.Product) productView {
	return productView{
		Product:  p,
		Price:    money.FormatCents(p.PriceCents),
		LowStock: p.IsLowStock(a.engine.LowStockThreshold()),
	}
}

func (a *API) productViews(products []domain.Product) []productView {
	views := make([]productView, 0, len(products))
	for _, p := range products {
		views = append(views, a.productView(p))
	}
	return views
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	var (
		products []domain.Product
		err      error
	)
	if strings.EqualFold(r.URL.Query().Get("low_stock"), "true") {
		products, err = a.engine.LowStock(r.Context())
	} else {
		products, err = a.engine.SearchProducts(r.Context(), r.URL.Query().Get("q"))
	}
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": a.productViews(products)})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.engine.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": a.productView(product)})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.engine.GetProduct(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": a.productView(product)})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.engine.UpdateProduct(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": a.productView(product)})
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := decodeConfirm(r); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.engine.DeleteProduct(r.Context(), id); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReceiveStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.StockReceiveRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.engine.ReceiveStock(r.Context(), id, req.Qty)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": a.productView(product)})
}

func (a *API) handleCart(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cart": a.engine.Cart()})
}

func (a *API) handleClearCart(w http.ResponseWriter, r *http.Request) {
	if err := decodeConfirm(r); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": a.engine.ClearCart()})
}

func (a *API) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	var req domain.CartAddRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	cart, err := a.engine.AddToCart(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (a *API) handleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productID")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	cart, err := a.engine.RemoveFromCart(productID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (a *API) handleFinalize(w http.ResponseWriter, r *http.Request) {
	result, err := a.engine.Finalize(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	filter, err := parseSaleFilter(r, 50, 500)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	sales, err := a.engine.ListSales(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := a.engine.GetSale(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleReverse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.engine.Reverse(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSummary defaults to the current UTC day.
func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	from := a.now().Truncate(24 * time.Hour)
	to := from.Add(24 * time.Hour)

	query := r.URL.Query()
	if raw := query.Get("from"); raw != "" {
		parsed, err := parseTime(raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		from = parsed
		to = from.Add(24 * time.Hour)
	}
	if raw := query.Get("to"); raw != "" {
		parsed, err := parseTime(raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		to = parsed
	}

	summary, err := a.engine.Summary(r.Context(), from, to)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	filter, err := parseSaleFilter(r, 0, 0)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	var buf bytes.Buffer
	if err := a.exporter.Write(r.Context(), &buf, format, filter); err != nil {
		a.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename(a.now())))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (a *API) handleDrawerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"drawer": a.engine.DrawerStatus()})
}

func (a *API) handleDrawerOpen(w http.ResponseWriter, r *http.Request) {
	sess, err := a.engine.OpenDrawer(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": sess})
}

func (a *API) handleDrawerClose(w http.ResponseWriter, r *http.Request) {
	if err := decodeConfirm(r); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, err := a.engine.CloseDrawer(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (a *API) handleDrawerHistory(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 20, 200)
	sessions, err := a.engine.DrawerHistory(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.engine.ListAuditLogs(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut || r.Method == http.MethodDelete {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		elapsed := time.Since(startedAt)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		a.metrics.ObserveRequest(r.Method, route, status, elapsed)
		a.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
		)
	})
}

func statusFor(err error) int {
	switch service.Classify(err) {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindState, service.KindStock:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	a.writeError(w, statusFor(err), err)
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic so storage details do not leak to clients.
	msg := err.Error()
	if status >= 500 {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	return nil
}

// decodeConfirm accepts an empty body as "not confirmed".
func decodeConfirm(r *http.Request) error {
	var req domain.ConfirmRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if !req.Confirm {
		return errConfirmationRequired
	}
	return nil
}

func pathID(r *http.Request, key string) (int64, error) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return id, nil
}

func parseSaleFilter(r *http.Request, fallbackLimit, maxLimit int) (domain.SaleFilter, error) {
	var filter domain.SaleFilter
	query := r.URL.Query()
	if raw := query.Get("from"); raw != "" {
		from, err := parseTime(raw)
		if err != nil {
			return domain.SaleFilter{}, err
		}
		filter.From = from
	}
	if raw := query.Get("to"); raw != "" {
		to, err := parseTime(raw)
		if err != nil {
			return domain.SaleFilter{}, err
		}
		filter.To = to
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.To.After(filter.From) {
		return domain.SaleFilter{}, errors.New("to must be after from")
	}
	filter.Limit = parsePositiveLimit(query.Get("limit"), fallbackLimit, maxLimit)
	return filter, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates, read as UTC midnight.
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: use RFC 3339 or YYYY-MM-DD", raw)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}
