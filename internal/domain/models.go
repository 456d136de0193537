package domain

import "time"

// Product is a catalog entry. Stock only changes through stock adjustments,
// never through a catalog edit.
type Product struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Stock       int    `json:"stock"`
	PriceCents  int64  `json:"price_cents"`
}

func (p Product) IsLowStock(threshold int) bool {
	return p.Stock < threshold
}

type ProductCreateRequest struct {
	Name         string `json:"name"`
	Category     string `json:"category"`
	Description  string `json:"description"`
	InitialStock int    `json:"initial_stock"`
	PriceCents   int64  `json:"price_cents"`
}

type ProductUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Category    *string `json:"category,omitempty"`
	Description *string `json:"description,omitempty"`
	PriceCents  *int64  `json:"price_cents,omitempty"`
}

type StockReceiveRequest struct {
	Qty int `json:"qty"`
}

// CartLine snapshots name and price at add time.
type CartLine struct {
	ProductID      int64  `json:"product_id"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
}

func (l CartLine) SubtotalCents() int64 {
	return l.UnitPriceCents * int64(l.Quantity)
}

type CartAddRequest struct {
	Term     string `json:"term"`
	Quantity int    `json:"quantity"`
}

type CartView struct {
	Lines      []CartLine `json:"lines"`
	TotalCents int64      `json:"total_cents"`
	ItemCount  int        `json:"item_count"`
}

// CashSession is one drawer period. ProfitCents is gross revenue: no cost
// basis is tracked.
type CashSession struct {
	ID          int64      `json:"id"`
	Status      string     `json:"status"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	ProfitCents int64      `json:"profit_cents"`
}

func (s CashSession) IsOpen() bool {
	return s.Status == SessionStatusOpen
}

type DrawerStatus struct {
	Open    bool         `json:"open"`
	Session *CashSession `json:"session,omitempty"`
}

// ConfirmRequest carries the operator's confirmation for destructive actions
// such as closing the drawer or clearing the cart.
type ConfirmRequest struct {
	Confirm bool `json:"confirm"`
}

type SaleLine struct {
	ProductName    string `json:"product_name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (l SaleLine) SubtotalCents() int64 {
	return l.UnitPriceCents * int64(l.Quantity)
}

// SaleRecord is append-only except for the single reversed false->true flip.
type SaleRecord struct {
	ID         int64      `json:"id"`
	Reference  string     `json:"reference"`
	SessionID  int64      `json:"session_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	TotalCents int64      `json:"total_cents"`
	Lines      []SaleLine `json:"lines"`
	Reversed   bool       `json:"reversed"`
	ReversedAt *time.Time `json:"reversed_at,omitempty"`
}

type SaleFilter struct {
	From  time.Time
	To    time.Time
	Limit int
}

type FinalizeResponse struct {
	Sale               SaleRecord `json:"sale"`
	SessionProfitCents int64      `json:"session_profit_cents"`
}

type ReversalResult struct {
	Sale           SaleRecord `json:"sale"`
	Restocked      []SaleLine `json:"restocked"`
	Warnings       []string   `json:"warnings,omitempty"`
	ProfitAdjusted bool       `json:"profit_adjusted"`
}

// LedgerSummary aggregates the sales created in [From, To). NetCents and
// ItemsSold leave reversed sales out.
type LedgerSummary struct {
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	Sales         int64     `json:"sales"`
	ReversedSales int64     `json:"reversed_sales"`
	GrossCents    int64     `json:"gross_cents"`
	ReversedCents int64     `json:"reversed_cents"`
	NetCents      int64     `json:"net_cents"`
	ItemsSold     int64     `json:"items_sold"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"
)

const (
	CartStockPolicyLive     = "live"
	CartStockPolicyReserved = "reserved"
)
