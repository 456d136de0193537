package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirlite/backend/internal/domain"
	"kasirlite/backend/internal/store"
	"kasirlite/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db   *sql.DB
	q    querier
	inTx bool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, q: db}, nil
}

func (s *Store) Close() error {
	if s.inTx {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Repository) error) error {
	return s.withTx(ctx, func(tx *Store) error { return fn(tx) })
}

func (s *Store) withTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(&Store{db: s.db, q: pgTx, inTx: true}); err != nil {
		return err
	}
	return pgTx.Commit()
}

const productColumns = `id, name, category, description, stock, price_cents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Description, &p.Stock, &p.PriceCents)
	return p, err
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.queryProducts(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
}

func (s *Store) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return s.ListProducts(ctx)
	}
	return s.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE starts_with(id::text, $1)
			OR strpos(lower(name), $1) > 0
			OR strpos(lower(category), $1) > 0
		ORDER BY id
	`, q)
}

func (s *Store) FindProductsByName(ctx context.Context, name string) ([]domain.Product, error) {
	return s.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE lower(name) = lower($1)
		ORDER BY id
	`, strings.TrimSpace(name))
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(s.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	created, err := scanProduct(s.q.QueryRowContext(ctx, `
		INSERT INTO products (name, category, description, stock, price_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now())
		RETURNING `+productColumns,
		product.Name, product.Category, product.Description, product.Stock, product.PriceCents))
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}

	updated, err := scanProduct(s.q.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, description = $4, price_cents = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, product.Category, product.Description, product.PriceCents))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

// AdjustStock applies delta only when the result stays non-negative.
func (s *Store) AdjustStock(ctx context.Context, id int64, delta int) (*domain.Product, error) {
	p, err := scanProduct(s.q.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING `+productColumns, id, delta))
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if _, err := s.GetProduct(ctx, id); err != nil {
		return nil, err
	}
	return nil, store.ErrStockOutOfRange
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

const sessionColumns = `id, status, opened_at, closed_at, profit_cents`

func scanSession(row rowScanner) (domain.CashSession, error) {
	var sess domain.CashSession
	var closedAt sql.NullTime
	if err := row.Scan(&sess.ID, &sess.Status, &sess.OpenedAt, &closedAt, &sess.ProfitCents); err != nil {
		return sess, err
	}
	sess.OpenedAt = sess.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		sess.ClosedAt = &at
	}
	return sess, nil
}

func (s *Store) CreateSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}

	created, err := scanSession(s.q.QueryRowContext(ctx, `
		INSERT INTO cash_sessions (status, opened_at, closed_at, profit_cents)
		VALUES ('open', $1, NULL, $2)
		RETURNING `+sessionColumns, session.OpenedAt, session.ProfitCents))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrSessionOpen
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) GetOpenSession(ctx context.Context) (*domain.CashSession, error) {
	sess, err := scanSession(s.q.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE status = 'open'
		ORDER BY id DESC
		LIMIT 1
	`))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoOpenSession
		}
		return nil, err
	}
	return &sess, nil
}

func (s *Store) AddSessionProfit(ctx context.Context, id int64, deltaCents int64) (*domain.CashSession, error) {
	sess, err := scanSession(s.q.QueryRowContext(ctx, `
		UPDATE cash_sessions
		SET profit_cents = profit_cents + $2
		WHERE id = $1 AND status = 'open'
		RETURNING `+sessionColumns, id, deltaCents))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoOpenSession
		}
		return nil, err
	}
	return &sess, nil
}

func (s *Store) CloseSession(ctx context.Context, id int64, closedAt time.Time) (*domain.CashSession, error) {
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	sess, err := scanSession(s.q.QueryRowContext(ctx, `
		UPDATE cash_sessions
		SET status = 'closed', closed_at = $2
		WHERE id = $1 AND status = 'open'
		RETURNING `+sessionColumns, id, closedAt.UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoOpenSession
		}
		return nil, err
	}
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context, limit int) ([]domain.CashSession, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		ORDER BY id DESC
		LIMIT $1
	`, nullLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.CashSession, 0, 16)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

const saleColumns = `id, reference, session_id, created_at, total_cents, reversed, reversed_at`

func scanSale(row rowScanner) (domain.SaleRecord, error) {
	var sale domain.SaleRecord
	var sessionID sql.NullInt64
	var reversedAt sql.NullTime
	if err := row.Scan(&sale.ID, &sale.Reference, &sessionID, &sale.CreatedAt, &sale.TotalCents, &sale.Reversed, &reversedAt); err != nil {
		return sale, err
	}
	sale.SessionID = sessionID.Int64
	sale.CreatedAt = sale.CreatedAt.UTC()
	if reversedAt.Valid {
		at := reversedAt.Time.UTC()
		sale.ReversedAt = &at
	}
	return sale, nil
}

// CreateSale writes the header and its lines atomically, opening its own
// transaction when the caller has none.
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

	var created domain.SaleRecord
	err := s.withTx(ctx, func(tx *Store) error {
		var err error
		created, err = scanSale(tx.q.QueryRowContext(ctx, `
			INSERT INTO sales (reference, session_id, created_at, total_cents, reversed, reversed_at)
			VALUES ($1,$2,$3,$4,false,NULL)
			RETURNING `+saleColumns,
			sale.Reference, nullID(sale.SessionID), sale.CreatedAt, sale.TotalCents))
		if err != nil {
			return err
		}
		for i, line := range sale.Lines {
			if _, err := tx.q.ExecContext(ctx, `
				INSERT INTO sale_lines (sale_id, line_no, product_name, qty, unit_price_cents)
				VALUES ($1,$2,$3,$4,$5)
			`, created.ID, i+1, line.ProductName, line.Quantity, line.UnitPriceCents); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("sale reference %s already stored: %w", sale.Reference, err)
		}
		return nil, err
	}
	created.Lines = append([]domain.SaleLine(nil), sale.Lines...)
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.SaleRecord, error) {
	sale, err := scanSale(s.q.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	lines, err := s.loadLines(ctx, []int64{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Lines = lines[sale.ID]
	return &sale, nil
}

func (s *Store) loadLines(ctx context.Context, saleIDs []int64) (map[int64][]domain.SaleLine, error) {
	out := make(map[int64][]domain.SaleLine, len(saleIDs))
	if len(saleIDs) == 0 {
		return out, nil
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT sale_id, product_name, qty, unit_price_cents
		FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID int64
		var line domain.SaleLine
		if err := rows.Scan(&saleID, &line.ProductName, &line.Quantity, &line.UnitPriceCents); err != nil {
			return nil, err
		}
		out[saleID] = append(out[saleID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) MarkSaleReversed(ctx context.Context, id int64, at time.Time) (*domain.SaleRecord, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE sales
		SET reversed = true, reversed_at = $2
		WHERE id = $1 AND reversed = false
	`, id, at.UTC())
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	sale, err := s.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrAlreadyReversed
	}
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleRecord, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, nullZeroTime(filter.From), nullZeroTime(filter.To), nullLimit(filter.Limit))
	if err != nil {
		return nil, err
	}

	sales := make([]domain.SaleRecord, 0, 32)
	ids := make([]int64, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	lines, err := s.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Lines = lines[sales[i].ID]
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
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, nullLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 32)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// nullLimit maps a non-positive limit to LIMIT NULL, which postgres reads as
// no limit.
func nullLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
