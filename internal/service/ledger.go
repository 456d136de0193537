package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kasirlite/backend/internal/cache"
	"kasirlite/backend/internal/domain"
	"kasirlite/backend/internal/logging"
	"kasirlite/backend/internal/store"
)

// Ledger is the append-only record of finalized sales. The only permitted
// change to a stored sale is the reversed flag.
type Ledger struct {
	repo   store.Repository
	cache  cache.ReportCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewLedger(repo store.Repository, reportCache cache.ReportCache, ttl time.Duration, logger *zap.Logger) *Ledger {
	if reportCache == nil {
		reportCache = cache.NoopReportCache{}
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Ledger{repo: repo, cache: reportCache, ttl: ttl, logger: logging.OrNop(logger)}
}

func (l *Ledger) with(repo store.Repository) *Ledger {
	return &Ledger{repo: repo, cache: l.cache, ttl: l.ttl, logger: l.logger}
}

// Append stores sale after checking that its total matches its lines.
func (l *Ledger) Append(ctx context.Context, sale domain.SaleRecord) (domain.SaleRecord, error) {
	if len(sale.Lines) == 0 {
		return domain.SaleRecord{}, ErrEmptyCart
	}
	var sum int64
	for _, line := range sale.Lines {
		if line.Quantity <= 0 {
			return domain.SaleRecord{}, ErrInvalidQuantity
		}
		sum += line.SubtotalCents()
	}
	if sum != sale.TotalCents {
		return domain.SaleRecord{}, fmt.Errorf("%w: total %d does not match lines %d", ErrInvalidInput, sale.TotalCents, sum)
	}

	saved, err := l.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.SaleRecord{}, err
	}
	return *saved, nil
}

func (l *Ledger) Get(ctx context.Context, id int64) (domain.SaleRecord, error) {
	sale, err := l.repo.GetSale(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SaleRecord{}, fmt.Errorf("sale %d: %w", id, ErrNotFound)
		}
		return domain.SaleRecord{}, err
	}
	return *sale, nil
}

func (l *Ledger) MarkReversed(ctx context.Context, id int64, at time.Time) (domain.SaleRecord, error) {
	sale, err := l.repo.MarkSaleReversed(ctx, id, at)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SaleRecord{}, fmt.Errorf("sale %d: %w", id, ErrNotFound)
		}
		return domain.SaleRecord{}, err
	}
	return *sale, nil
}

func (l *Ledger) List(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleRecord, error) {
	return l.repo.ListSales(ctx, filter)
}

// Summary aggregates [from, to). Results are cached until the ledger changes.
func (l *Ledger) Summary(ctx context.Context, from, to time.Time) (domain.LedgerSummary, error) {
	if !to.After(from) {
		return domain.LedgerSummary{}, fmt.Errorf("%w: summary window must end after it starts", ErrInvalidInput)
	}
	key := cache.SummaryKey(from, to)
	if cached, ok, err := l.cache.Get(ctx, key); err != nil {
		l.logger.Warn("report cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return *cached, nil
	}

	sales, err := l.repo.ListSales(ctx, domain.SaleFilter{From: from, To: to})
	if err != nil {
		return domain.LedgerSummary{}, err
	}
	summary := Summarize(sales)
	summary.From = from.UTC()
	summary.To = to.UTC()

	if err := l.cache.Set(ctx, key, &summary, l.ttl); err != nil {
		l.logger.Warn("report cache write failed", zap.String("key", key), zap.Error(err))
	}
	return summary, nil
}

func (l *Ledger) invalidate(ctx context.Context) {
	if err := l.cache.Invalidate(ctx); err != nil {
		l.logger.Warn("report cache invalidation failed", zap.Error(err))
	}
}

func Summarize(sales []domain.SaleRecord) domain.LedgerSummary {
	var s domain.LedgerSummary
	for _, sale := range sales {
		s.Sales++
		s.GrossCents += sale.TotalCents
		if sale.Reversed {
			s.ReversedSales++
			s.ReversedCents += sale.TotalCents
			continue
		}
		for _, line := range sale.Lines {
			s.ItemsSold += int64(line.Quantity)
		}
	}
	s.NetCents = s.GrossCents - s.ReversedCents
	return s
}
