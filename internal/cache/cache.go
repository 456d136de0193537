package cache

import (
	"context"
	"time"

	"kasirlite/backend/internal/domain"
)

// ReportCache stores computed ledger summaries. Implementations must treat a
// miss as (nil, false, nil).
type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.LedgerSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.LedgerSummary, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.LedgerSummary, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.LedgerSummary, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context) error {
	return nil
}

// SummaryKey identifies a summary window.
func SummaryKey(from, to time.Time) string {
	return "summary:" + from.UTC().Format(time.RFC3339) + ":" + to.UTC().Format(time.RFC3339)
}
