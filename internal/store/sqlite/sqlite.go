// Package sqlite implements the repository on gorm. It defaults to a local
// SQLite file and can point at MySQL through the same code.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	sqlitedriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kasirlite/backend/internal/domain"
	"kasirlite/backend/internal/store"
	"kasirlite/backend/internal/xid"
)

type productRow struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"size:255;not null;index"`
	Category    string `gorm:"size:255;not null;default:''"`
	Description string `gorm:"type:text"`
	Stock       int    `gorm:"not null;default:0"`
	PriceCents  int64  `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (productRow) TableName() string { return "products" }

type sessionRow struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Status      string `gorm:"size:16;not null;index"`
	OpenedAt    time.Time
	ClosedAt    *time.Time
	ProfitCents int64 `gorm:"not null;default:0"`
}

func (sessionRow) TableName() string { return "cash_sessions" }

type saleRow struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Reference  string `gorm:"size:64;not null;uniqueIndex"`
	SessionID  *int64
	CreatedAt  time.Time `gorm:"index"`
	TotalCents int64     `gorm:"not null"`
	Reversed   bool      `gorm:"not null;default:false"`
	ReversedAt *time.Time
	Lines      []saleLineRow `gorm:"foreignKey:SaleID;constraint:OnDelete:CASCADE"`
}

func (saleRow) TableName() string { return "sales" }

type saleLineRow struct {
	SaleID         int64  `gorm:"primaryKey;autoIncrement:false"`
	LineNo         int    `gorm:"primaryKey;autoIncrement:false"`
	ProductName    string `gorm:"size:255;not null"`
	Qty            int    `gorm:"not null"`
	UnitPriceCents int64  `gorm:"not null"`
}

func (saleLineRow) TableName() string { return "sale_lines" }

type auditRow struct {
	ID         string    `gorm:"primaryKey;size:64"`
	Action     string    `gorm:"size:64;not null"`
	EntityType string    `gorm:"size:64;not null"`
	EntityID   string    `gorm:"size:64;not null"`
	Detail     string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

func (auditRow) TableName() string { return "audit_logs" }

type Store struct {
	db   *gorm.DB
	inTx bool
}

// Open connects with the given driver ("sqlite" or "mysql"). MySQL DSNs need
// parseTime=true.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	dialector, err := buildDialector(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: get sql.DB: %w", err)
	}
	if driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(4)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	return &Store{db: db}, nil
}

func buildDialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "sqlite":
		return sqlitedriver.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q (supported: sqlite, mysql)", driver)
	}
}

// FileDSN turns a SQLite path into a DSN with foreign keys and a busy timeout.
func FileDSN(path string) string {
	return path + "?_foreign_keys=on&_busy_timeout=5000"
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&productRow{},
		&sessionRow{},
		&saleRow{},
		&saleLineRow{},
		&auditRow{},
	)
}

func (s *Store) Close() error {
	if s.inTx {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Repository) error) error {
	return s.withTx(ctx, func(tx *Store) error { return fn(tx) })
}

func (s *Store) withTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, inTx: true})
	})
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.findProducts(s.db.WithContext(ctx))
}

func (s *Store) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return s.ListProducts(ctx)
	}
	like := escapeLike(q)
	return s.findProducts(s.db.WithContext(ctx).Where(
		"CAST(id AS CHAR) LIKE ? ESCAPE '!' OR LOWER(name) LIKE ? ESCAPE '!' OR LOWER(category) LIKE ? ESCAPE '!'",
		like+"%", "%"+like+"%", "%"+like+"%",
	))
}

func (s *Store) FindProductsByName(ctx context.Context, name string) ([]domain.Product, error) {
	return s.findProducts(s.db.WithContext(ctx).Where("LOWER(name) = ?", strings.ToLower(strings.TrimSpace(name))))
}

func (s *Store) findProducts(db *gorm.DB) ([]domain.Product, error) {
	var rows []productRow
	if err := db.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, r.toDomain())
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var row productRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, mapNotFound(err)
	}
	p := row.toDomain()
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	row := productRow{
		Name:        product.Name,
		Category:    product.Category,
		Description: product.Description,
		Stock:       product.Stock,
		PriceCents:  product.PriceCents,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	created := row.toDomain()
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	res := s.db.WithContext(ctx).Model(&productRow{}).Where("id = ?", product.ID).Updates(map[string]any{
		"name":        product.Name,
		"category":    product.Category,
		"description": product.Description,
		"price_cents": product.PriceCents,
		"updated_at":  time.Now().UTC(),
	})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) AdjustStock(ctx context.Context, id int64, delta int) (*domain.Product, error) {
	res := s.db.WithContext(ctx).Model(&productRow{}).
		Where("id = ? AND stock + ? >= 0", id, delta).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock + ?", delta),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	p, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, store.ErrStockOutOfRange
	}
	return p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&productRow{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CreateSession enforces the single open session inside its own transaction.
func (s *Store) CreateSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	row := sessionRow{
		Status:      domain.SessionStatusOpen,
		OpenedAt:    session.OpenedAt.UTC(),
		ProfitCents: session.ProfitCents,
	}
	err := s.withTx(ctx, func(tx *Store) error {
		var open int64
		if err := tx.db.WithContext(ctx).Model(&sessionRow{}).Where("status = ?", domain.SessionStatusOpen).Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return store.ErrSessionOpen
		}
		return tx.db.WithContext(ctx).Create(&row).Error
	})
	if err != nil {
		return nil, err
	}
	created := row.toDomain()
	return &created, nil
}

func (s *Store) GetOpenSession(ctx context.Context) (*domain.CashSession, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).Where("status = ?", domain.SessionStatusOpen).Order("id DESC").First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNoOpenSession
		}
		return nil, err
	}
	sess := row.toDomain()
	return &sess, nil
}

func (s *Store) AddSessionProfit(ctx context.Context, id int64, deltaCents int64) (*domain.CashSession, error) {
	res := s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ? AND status = ?", id, domain.SessionStatusOpen).
		Update("profit_cents", gorm.Expr("profit_cents + ?", deltaCents))
	return s.afterSessionUpdate(ctx, id, res)
}

func (s *Store) CloseSession(ctx context.Context, id int64, closedAt time.Time) (*domain.CashSession, error) {
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ? AND status = ?", id, domain.SessionStatusOpen).
		Updates(map[string]any{
			"status":    domain.SessionStatusClosed,
			"closed_at": closedAt.UTC(),
		})
	return s.afterSessionUpdate(ctx, id, res)
}

func (s *Store) afterSessionUpdate(ctx context.Context, id int64, res *gorm.DB) (*domain.CashSession, error) {
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, store.ErrNoOpenSession
	}
	var row sessionRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, mapNotFound(err)
	}
	sess := row.toDomain()
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context, limit int) ([]domain.CashSession, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []sessionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	sessions := make([]domain.CashSession, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, r.toDomain())
	}
	return sessions, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.SaleRecord) (*domain.SaleRecord, error) {
	if len(sale.Lines) == 0 || sale.TotalCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if sale.Reference == "" {
		sale.Reference = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	row := saleRow{
		Reference:  sale.Reference,
		CreatedAt:  sale.CreatedAt.UTC(),
		TotalCents: sale.TotalCents,
		Lines:      make([]saleLineRow, 0, len(sale.Lines)),
	}
	if sale.SessionID != 0 {
		sessionID := sale.SessionID
		row.SessionID = &sessionID
	}
	for i, line := range sale.Lines {
		row.Lines = append(row.Lines, saleLineRow{
			LineNo:         i + 1,
			ProductName:    line.ProductName,
			Qty:            line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
		})
	}

	// gorm saves the lines with the header inside one transaction.
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	created := row.toDomain()
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.SaleRecord, error) {
	var row saleRow
	err := s.db.WithContext(ctx).Preload("Lines", orderLines).First(&row, id).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	sale := row.toDomain()
	return &sale, nil
}

func (s *Store) MarkSaleReversed(ctx context.Context, id int64, at time.Time) (*domain.SaleRecord, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).Model(&saleRow{}).
		Where("id = ? AND reversed = ?", id, false).
		Updates(map[string]any{
			"reversed":    true,
			"reversed_at": at.UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	sale, err := s.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, store.ErrAlreadyReversed
	}
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleRecord, error) {
	q := s.db.WithContext(ctx).Preload("Lines", orderLines).Order("created_at DESC, id DESC")
	if !filter.From.IsZero() {
		q = q.Where("created_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("created_at < ?", filter.To.UTC())
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []saleRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	sales := make([]domain.SaleRecord, 0, len(rows))
	for _, r := range rows {
		sales = append(sales, r.toDomain())
	}
	return sales, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(&auditRow{
		ID:         entry.ID,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Detail:     entry.Detail,
		CreatedAt:  entry.CreatedAt.UTC(),
	}).Error
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []auditRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	logs := make([]domain.AuditLog, 0, len(rows))
	for _, r := range rows {
		logs = append(logs, domain.AuditLog{
			ID:         r.ID,
			Action:     r.Action,
			EntityType: r.EntityType,
			EntityID:   r.EntityID,
			Detail:     r.Detail,
			CreatedAt:  r.CreatedAt.UTC(),
		})
	}
	return logs, nil
}

func orderLines(db *gorm.DB) *gorm.DB {
	return db.Order("line_no")
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func escapeLike(v string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(v)
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:          r.ID,
		Name:        r.Name,
		Category:    r.Category,
		Description: r.Description,
		Stock:       r.Stock,
		PriceCents:  r.PriceCents,
	}
}

func (r sessionRow) toDomain() domain.CashSession {
	sess := domain.CashSession{
		ID:          r.ID,
		Status:      r.Status,
		OpenedAt:    r.OpenedAt.UTC(),
		ProfitCents: r.ProfitCents,
	}
	if r.ClosedAt != nil {
		at := r.ClosedAt.UTC()
		sess.ClosedAt = &at
	}
	return sess
}

func (r saleRow) toDomain() domain.SaleRecord {
	sale := domain.SaleRecord{
		ID:         r.ID,
		Reference:  r.Reference,
		CreatedAt:  r.CreatedAt.UTC(),
		TotalCents: r.TotalCents,
		Reversed:   r.Reversed,
		Lines:      make([]domain.SaleLine, 0, len(r.Lines)),
	}
	if r.SessionID != nil {
		sale.SessionID = *r.SessionID
	}
	if r.ReversedAt != nil {
		at := r.ReversedAt.UTC()
		sale.ReversedAt = &at
	}
	for _, l := range r.Lines {
		sale.Lines = append(sale.Lines, domain.SaleLine{
			ProductName:    l.ProductName,
			Quantity:       l.Qty,
			UnitPriceCents: l.UnitPriceCents,
		})
	}
	return sale
}
