package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"kasirlite/backend/internal/cache"
	"kasirlite/backend/internal/domain"
	"kasirlite/backend/internal/logging"
	"kasirlite/backend/internal/metrics"
	"kasirlite/backend/internal/store"
	"kasirlite/backend/internal/xid"
)

type Options struct {
	LowStockThreshold int
	CartStockPolicy   string
	ReportCache       cache.ReportCache
	ReportCacheTTL    time.Duration
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
	Now               func() time.Time
}

// Engine is the register. It owns the cart and drawer state and runs every
// public operation under one mutex, so concurrent callers see the same
// behaviour as one operator acting in sequence.
type Engine struct {
	mu        sync.Mutex
	repo      store.Repository
	inventory *Inventory
	cart      *Cart
	drawer    *Drawer
	ledger    *Ledger
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func New(repo store.Repository, opts Options) *Engine {
	logger := logging.OrNop(opts.Logger)
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	inventory := NewInventory(repo, opts.LowStockThreshold)
	return &Engine{
		repo:      repo,
		inventory: inventory,
		cart:      NewCart(inventory, opts.CartStockPolicy),
		drawer:    NewDrawer(repo),
		ledger:    NewLedger(repo, opts.ReportCache, opts.ReportCacheTTL, logger),
		logger:    logger,
		metrics:   opts.Metrics,
		now:       now,
	}
}

// Recover resumes an open drawer session left by a previous process.
func (e *Engine) Recover(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.drawer.Recover(ctx); err != nil {
		return fmt.Errorf("recover cash session: %w", err)
	}
	e.metrics.DrawerOpen(e.drawer.IsOpen())
	if status := e.drawer.Status(); status.Open {
		e.logger.Info("resumed open cash session",
			zap.Int64("session_id", status.Session.ID),
			zap.Int64("profit_cents", status.Session.ProfitCents),
		)
	}
	return nil
}

func (e *Engine) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inventory.Search(ctx, query)
}

func (e *Engine) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inventory.Get(ctx, id)
}

func (e *Engine) LowStock(ctx context.Context) ([]domain.Product, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inventory.LowStock(ctx)
}

func (e *Engine) LowStockThreshold() int {
	return e.inventory.LowStockThreshold()
}

func (e *Engine) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	created, err := e.inventory.Create(ctx, req)
	if err != nil {
		return domain.Product{}, e.fail("product_create", err)
	}
	e.logAudit(ctx, "product_create", "product", idString(created.ID),
		fmt.Sprintf("name=%s,price=%d,stock=%d", created.Name, created.PriceCents, created.Stock))
	return created, nil
}

func (e *Engine) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	updated, err := e.inventory.Update(ctx, id, req)
	if err != nil {
		return domain.Product{}, e.fail("product_update", err)
	}
	e.logAudit(ctx, "product_update", "product", idString(id),
		fmt.Sprintf("name=%s,price=%d", updated.Name, updated.PriceCents))
	return updated, nil
}

func (e *Engine) DeleteProduct(ctx context.Context, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.inventory.Delete(ctx, id); err != nil {
		return e.fail("product_delete", err)
	}
	e.logAudit(ctx, "product_delete", "product", idString(id), "")
	return nil
}

// ReceiveStock is the receiving workflow. It bypasses the cart entirely.
func (e *Engine) ReceiveStock(ctx context.Context, id int64, qty int) (domain.Product, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.inventory.Receive(ctx, id, qty)
	if err != nil {
		return domain.Product{}, e.fail("stock_receive", err)
	}
	e.logAudit(ctx, "stock_receive", "product", idString(id), fmt.Sprintf("qty=%d,stock=%d", qty, p.Stock))
	return p, nil
}

func (e *Engine) AddToCart(ctx context.Context, req domain.CartAddRequest) (domain.CartView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.cart.AddItem(ctx, req.Term, req.Quantity); err != nil {
		return domain.CartView{}, e.fail("cart_add", err)
	}
	return e.cart.View(), nil
}

func (e *Engine) RemoveFromCart(productID int64) (domain.CartView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.cart.Remove(productID); err != nil {
		return domain.CartView{}, e.fail("cart_remove", err)
	}
	return e.cart.View(), nil
}

func (e *Engine) ClearCart() domain.CartView {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cart.Clear()
	return e.cart.View()
}

func (e *Engine) Cart() domain.CartView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cart.View()
}

// OpenDrawer starts a session with zero profit. The cart is cleared.
func (e *Engine) OpenDrawer(ctx context.Context) (domain.CashSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, err := e.drawer.Open(ctx, e.now())
	if err != nil {
		e.metrics.DrawerOpen(e.drawer.IsOpen())
		return domain.CashSession{}, e.fail("drawer_open", err)
	}
	e.cart.Clear()
	e.metrics.DrawerOpen(true)
	e.logAudit(ctx, "drawer_open", "cash_session", idString(sess.ID), "")
	e.logger.Info("cash drawer opened", zap.Int64("session_id", sess.ID))
	return sess, nil
}

// CloseDrawer persists the session's final profit. The cart is cleared.
func (e *Engine) CloseDrawer(ctx context.Context) (domain.CashSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, err := e.drawer.Close(ctx, e.now())
	if err != nil {
		return domain.CashSession{}, e.fail("drawer_close", err)
	}
	e.cart.Clear()
	e.metrics.DrawerOpen(false)
	e.logAudit(ctx, "drawer_close", "cash_session", idString(sess.ID), fmt.Sprintf("profit=%d", sess.ProfitCents))
	e.logger.Info("cash drawer closed", zap.Int64("session_id", sess.ID), zap.Int64("profit_cents", sess.ProfitCents))
	return sess, nil
}

func (e *Engine) DrawerStatus() domain.DrawerStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drawer.Status()
}

func (e *Engine) DrawerHistory(ctx context.Context, limit int) ([]domain.CashSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drawer.History(ctx, limit)
}

// Finalize commits the cart as one sale. Stock decrements, the ledger entry
// and the profit delta are written in a single transaction; on any failure
// none of them persist and the cart is kept.
func (e *Engine) Finalize(ctx context.Context) (domain.FinalizeResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.drawer.sync(ctx); err != nil {
		return domain.FinalizeResponse{}, e.fail("finalize", err)
	}
	status := e.drawer.Status()
	if !status.Open {
		return domain.FinalizeResponse{}, e.fail("finalize", ErrDrawerClosed)
	}
	if e.cart.IsEmpty() {
		return domain.FinalizeResponse{}, e.fail("finalize", ErrEmptyCart)
	}

	now := e.now()
	cartLines := e.cart.Lines()
	draft := domain.SaleRecord{
		Reference:  xid.Receipt(now),
		SessionID:  status.Session.ID,
		CreatedAt:  now,
		TotalCents: e.cart.Total(),
		Lines:      make([]domain.SaleLine, 0, len(cartLines)),
	}
	for _, line := range cartLines {
		draft.Lines = append(draft.Lines, domain.SaleLine{
			ProductName:    line.Name,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
		})
	}

	var (
		sale    domain.SaleRecord
		session *domain.CashSession
	)
	err := e.repo.WithTx(ctx, func(tx store.Repository) error {
		inventory := e.inventory.with(tx)
		for _, line := range cartLines {
			if _, err := inventory.AdjustStock(ctx, line.ProductID, -line.Quantity); err != nil {
				if errors.Is(err, ErrStockOutOfRange) {
					return fmt.Errorf("%w: %s", ErrInsufficientStock, line.Name)
				}
				return fmt.Errorf("%s: %w", line.Name, err)
			}
		}

		var err error
		sale, err = e.ledger.with(tx).Append(ctx, draft)
		if err != nil {
			return fmt.Errorf("append sale: %w", err)
		}

		session, err = e.drawer.recordDelta(ctx, tx, sale.TotalCents)
		if errors.Is(err, ErrNotOpen) {
			return ErrDrawerClosed
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrDrawerClosed) {
			_ = e.drawer.Recover(ctx)
			e.metrics.DrawerOpen(e.drawer.IsOpen())
		}
		return domain.FinalizeResponse{}, e.fail("finalize", err)
	}

	e.drawer.adopt(session)
	e.cart.Clear()
	e.ledger.invalidate(ctx)
	e.metrics.SaleFinalized(sale.TotalCents)
	e.logAudit(ctx, "sale_finalize", "sale", idString(sale.ID), fmt.Sprintf("ref=%s,total=%d", sale.Reference, sale.TotalCents))
	e.logger.Info("sale finalized",
		zap.Int64("sale_id", sale.ID),
		zap.String("reference", sale.Reference),
		zap.Int64("total_cents", sale.TotalCents),
	)
	return domain.FinalizeResponse{Sale: sale, SessionProfitCents: session.ProfitCents}, nil
}

// Reverse undoes a sale. Each line finds its product by recorded name; a line
// whose product was renamed or deleted is reported as a warning and skipped.
// The profit delta is applied only while a session is open.
func (e *Engine) Reverse(ctx context.Context, saleID int64) (domain.ReversalResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.drawer.sync(ctx); err != nil {
		return domain.ReversalResult{}, e.fail("reverse", err)
	}

	var (
		result  domain.ReversalResult
		session *domain.CashSession
	)
	err := e.repo.WithTx(ctx, func(tx store.Repository) error {
		result = domain.ReversalResult{}
		session = nil

		ledger := e.ledger.with(tx)
		sale, err := ledger.Get(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Reversed {
			return fmt.Errorf("sale %d: %w", saleID, ErrAlreadyReversed)
		}

		inventory := e.inventory.with(tx)
		for _, line := range sale.Lines {
			product, err := inventory.ResolveByName(ctx, line.ProductName)
			if errors.Is(err, ErrNotFound) {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("product %q no longer exists; %d unit(s) not restocked", line.ProductName, line.Quantity))
				continue
			}
			if err != nil {
				return err
			}
			if _, err := inventory.AdjustStock(ctx, product.ID, line.Quantity); err != nil {
				return err
			}
			result.Restocked = append(result.Restocked, line)
		}

		result.Sale, err = ledger.MarkReversed(ctx, saleID, e.now())
		if err != nil {
			return err
		}

		if !e.drawer.IsOpen() {
			return nil
		}
		session, err = e.drawer.recordDelta(ctx, tx, -sale.TotalCents)
		if errors.Is(err, ErrNotOpen) {
			session = nil
			return nil
		}
		if err != nil {
			return err
		}
		result.ProfitAdjusted = true
		return nil
	})
	if err != nil {
		return domain.ReversalResult{}, e.fail("reverse", err)
	}

	if session != nil {
		e.drawer.adopt(session)
	}
	e.ledger.invalidate(ctx)
	e.metrics.SaleReversed(result.Sale.TotalCents)
	e.logAudit(ctx, "sale_reverse", "sale", idString(saleID),
		fmt.Sprintf("restocked=%d,warnings=%d,profit_adjusted=%t", len(result.Restocked), len(result.Warnings), result.ProfitAdjusted))
	for _, w := range result.Warnings {
		e.logger.Warn("reversal line skipped", zap.Int64("sale_id", saleID), zap.String("warning", w))
	}
	return result, nil
}

func (e *Engine) GetSale(ctx context.Context, id int64) (domain.SaleRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Get(ctx, id)
}

func (e *Engine) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.List(ctx, filter)
}

func (e *Engine) Summary(ctx context.Context, from, to time.Time) (domain.LedgerSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Summary(ctx, from, to)
}

func (e *Engine) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.repo.ListAuditLogs(ctx, limit)
}

func (e *Engine) fail(operation string, err error) error {
	kind := Classify(err)
	e.metrics.OperationFailed(operation, kind.String())
	if kind == KindPersistence {
		e.logger.Error("operation failed", zap.String("operation", operation), zap.Error(err))
	}
	return err
}

func (e *Engine) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	if err := e.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  e.now(),
	}); err != nil {
		e.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
