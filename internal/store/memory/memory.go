package memory

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"kasirlite/backend/internal/domain"
	"kasirlite/backend/internal/store"
)

type state struct {
	products      map[int64]domain.Product
	nextProductID int64
	sessions      map[int64]domain.CashSession
	nextSessionID int64
	sales         map[int64]domain.SaleRecord
	nextSaleID    int64
	auditLogs     []domain.AuditLog
}

// Store keeps everything in process memory. Nothing survives a restart, so it
// is meant for demos and tests.
type Store struct {
	mu sync.RWMutex
	st state
}

func New() *Store {
	return &Store{st: state{
		products:  make(map[int64]domain.Product),
		sessions:  make(map[int64]domain.CashSession),
		sales:     make(map[int64]domain.SaleRecord),
		auditLogs: make([]domain.AuditLog, 0, 64),
	}}
}

func NewSeeded() *Store {
	s := New()
	seed := []domain.Product{
		{Name: "Mie Goreng Instan", Category: "grocery", Description: "Bungkus 85g", Stock: 120, PriceCents: 3500},
		{Name: "Telur 10 Butir", Category: "grocery", Description: "Telur ayam negeri", Stock: 40, PriceCents: 26500},
		{Name: "Susu UHT 1L", Category: "dairy", Description: "Full cream", Stock: 36, PriceCents: 18900},
		{Name: "Roti Tawar", Category: "bakery", Stock: 18, PriceCents: 17800},
		{Name: "Kopi Sachet", Category: "beverage", Stock: 200, PriceCents: 2600},
		{Name: "Gula 1kg", Category: "grocery", Stock: 25, PriceCents: 17400},
		{Name: "Teh Celup", Category: "beverage", Description: "Isi 25", Stock: 3, PriceCents: 9800},
		{Name: "Air Mineral 600ml", Category: "beverage", Stock: 96, PriceCents: 3900},
	}
	for _, p := range seed {
		s.st.nextProductID++
		p.ID = s.st.nextProductID
		s.st.products[p.ID] = p
	}
	return s
}

func (s *Store) Close() error { return nil }

// WithTx runs fn against a private copy of the state and swaps it in only
// when fn succeeds. The write lock is held for the whole unit.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stage := &Store{st: s.st.clone()}
	if err := fn(stage); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = stage.st
	return nil
}

func (st state) clone() state {
	out := state{
		products:      make(map[int64]domain.Product, len(st.products)),
		nextProductID: st.nextProductID,
		sessions:      make(map[int64]domain.CashSession, len(st.sessions)),
		nextSessionID: st.nextSessionID,
		sales:         make(map[int64]domain.SaleRecord, len(st.sales)),
		nextSaleID:    st.nextSaleID,
		auditLogs:     slices.Clone(st.auditLogs),
	}
	for id, p := range st.products {
		out.products[id] = p
	}
	for id, sess := range st.sessions {
		out.sessions[id] = cloneSession(sess)
	}
	for id, sale := range st.sales {
		out.sales[id] = cloneSale(sale)
	}
	return out
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.SearchProducts(ctx, "")
}

// SearchProducts matches an id prefix, a name substring or a category
// substring, case-insensitively, ordered by id.
func (s *Store) SearchProducts(_ context.Context, query string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]domain.Product, 0, len(s.st.products))
	for _, p := range s.st.products {
		if q == "" || matchesProduct(p, q) {
			out = append(out, p)
		}
	}
	sortProducts(out)
	return out, nil
}

func matchesProduct(p domain.Product, q string) bool {
	if strings.HasPrefix(strconv.FormatInt(p.ID, 10), q) {
		return true
	}
	return strings.Contains(strings.ToLower(p.Name), q) ||
		strings.Contains(strings.ToLower(p.Category), q)
}

func (s *Store) FindProductsByName(_ context.Context, name string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name = strings.TrimSpace(name)
	out := make([]domain.Product, 0, 1)
	for _, p := range s.st.products {
		if strings.EqualFold(p.Name, name) {
			out = append(out, p)
		}
	}
	sortProducts(out)
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateProduct(product); err != nil {
		return nil, err
	}
	if product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	s.st.nextProductID++
	product.ID = s.st.nextProductID
	s.st.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.st.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := validateProduct(product); err != nil {
		return nil, err
	}
	current.Name = product.Name
	current.Category = product.Category
	current.Description = product.Description
	current.PriceCents = product.PriceCents
	s.st.products[current.ID] = current
	updated := current
	return &updated, nil
}

func (s *Store) AdjustStock(_ context.Context, id int64, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.Stock+delta < 0 {
		return nil, store.ErrStockOutOfRange
	}
	p.Stock += delta
	s.st.products[id] = p
	return &p, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.st.products, id)
	return nil
}

func (s *Store) CreateSession(_ context.Context, session domain.CashSession) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.openSessionLocked(); ok {
		return nil, store.ErrSessionOpen
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	s.st.nextSessionID++
	session.ID = s.st.nextSessionID
	session.Status = domain.SessionStatusOpen
	session.ClosedAt = nil
	s.st.sessions[session.ID] = session
	created := cloneSession(session)
	return &created, nil
}

func (s *Store) GetOpenSession(_ context.Context) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.openSessionLocked()
	if !ok {
		return nil, store.ErrNoOpenSession
	}
	out := cloneSession(sess)
	return &out, nil
}

// openSessionLocked returns the open session with the highest id.
func (s *Store) openSessionLocked() (domain.CashSession, bool) {
	var (
		found domain.CashSession
		ok    bool
	)
	for _, sess := range s.st.sessions {
		if !sess.IsOpen() {
			continue
		}
		if !ok || sess.ID > found.ID {
			found, ok = sess, true
		}
	}
	return found, ok
}

func (s *Store) AddSessionProfit(_ context.Context, id int64, deltaCents int64) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.st.sessions[id]
	if !ok || !sess.IsOpen() {
		return nil, store.ErrNoOpenSession
	}
	sess.ProfitCents += deltaCents
	s.st.sessions[id] = sess
	out := cloneSession(sess)
	return &out, nil
}

func (s *Store) CloseSession(_ context.Context, id int64, closedAt time.Time) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.st.sessions[id]
	if !ok || !sess.IsOpen() {
		return nil, store.ErrNoOpenSession
	}
	at := closedAt.UTC()
	sess.Status = domain.SessionStatusClosed
	sess.ClosedAt = &at
	s.st.sessions[id] = sess
	out := cloneSession(sess)
	return &out, nil
}

func (s *Store) ListSessions(_ context.Context, limit int) ([]domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CashSession, 0, len(s.st.sessions))
	for _, sess := range s.st.sessions {
		out = append(out, cloneSession(sess))
	}
	slices.SortFunc(out, func(a, b domain.CashSession) int {
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.SaleRecord) (*domain.SaleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Lines) == 0 || sale.TotalCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	s.st.nextSaleID++
	sale.ID = s.st.nextSaleID
	sale.Reversed = false
	sale.ReversedAt = nil
	s.st.sales[sale.ID] = cloneSale(sale)
	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.st.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSale(sale)
	return &out, nil
}

func (s *Store) MarkSaleReversed(_ context.Context, id int64, at time.Time) (*domain.SaleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.st.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Reversed {
		return nil, store.ErrAlreadyReversed
	}
	reversedAt := at.UTC()
	sale.Reversed = true
	sale.ReversedAt = &reversedAt
	s.st.sales[id] = sale
	out := cloneSale(sale)
	return &out, nil
}

// ListSales returns sales newest first. Zero bounds in the filter are open.
func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SaleRecord, 0, len(s.st.sales))
	for _, sale := range s.st.sales {
		if !filter.From.IsZero() && sale.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !sale.CreatedAt.Before(filter.To) {
			continue
		}
		out = append(out, cloneSale(sale))
	}
	slices.SortFunc(out, func(a, b domain.SaleRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.st.auditLogs = append(s.st.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, len(s.st.auditLogs))
	for i := len(s.st.auditLogs) - 1; i >= 0; i-- {
		out = append(out, s.st.auditLogs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func validateProduct(p domain.Product) error {
	if strings.TrimSpace(p.Name) == "" || p.PriceCents < 1 {
		return store.ErrInvalidInput
	}
	return nil
}

func sortProducts(products []domain.Product) {
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmp.Compare(a.ID, b.ID)
	})
}

func cloneSession(sess domain.CashSession) domain.CashSession {
	if sess.ClosedAt != nil {
		at := *sess.ClosedAt
		sess.ClosedAt = &at
	}
	return sess
}

func cloneSale(sale domain.SaleRecord) domain.SaleRecord {
	sale.Lines = slices.Clone(sale.Lines)
	if sale.ReversedAt != nil {
		at := *sale.ReversedAt
		sale.ReversedAt = &at
	}
	return sale
}
