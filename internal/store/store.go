package store

import (
	"context"
	"errors"
	"time"

	"kasirlite/backend/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrStockOutOfRange = errors.New("stock adjustment out of range")
	ErrSessionOpen     = errors.New("cash session already open")
	ErrNoOpenSession   = errors.New("no open cash session")
	ErrAlreadyReversed = errors.New("sale already reversed")
)

// Repository is the persistence contract shared by every backend. Each
// method commits on its own unless it runs inside WithTx.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	SearchProducts(ctx context.Context, query string) ([]domain.Product, error)
	FindProductsByName(ctx context.Context, name string) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	AdjustStock(ctx context.Context, id int64, delta int) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error

	CreateSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error)
	GetOpenSession(ctx context.Context) (*domain.CashSession, error)
	AddSessionProfit(ctx context.Context, id int64, deltaCents int64) (*domain.CashSession, error)
	CloseSession(ctx context.Context, id int64, closedAt time.Time) (*domain.CashSession, error)
	ListSessions(ctx context.Context, limit int) ([]domain.CashSession, error)

	CreateSale(ctx context.Context, sale domain.SaleRecord) (*domain.SaleRecord, error)
	GetSale(ctx context.Context, id int64) (*domain.SaleRecord, error)
	MarkSaleReversed(ctx context.Context, id int64, at time.Time) (*domain.SaleRecord, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleRecord, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	// WithTx runs fn against a transactional view of the repository. If fn
	// returns an error nothing it wrote is kept.
	WithTx(ctx context.Context, fn func(tx Repository) error) error

	Close() error
}
