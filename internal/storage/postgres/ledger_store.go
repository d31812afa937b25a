package postgres

import (
	"context"
	"fmt"
	"time"
)

// LedgerStore is a Postgres-backed cost.LedgerStore. Spend rows are
// append-only; window totals are computed with range queries over UTC
// boundaries.
type LedgerStore struct {
	pool Pool
}

// NewLedgerStore constructs a LedgerStore over an existing pool.
func NewLedgerStore(pool Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// AddSpend appends one spend row.
func (s *LedgerStore) AddSpend(ctx context.Context, orgID string, at time.Time, usd float64, tokens int) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO analysis_spend (org_id, spent_at, usd, tokens)
VALUES ($1, $2, $3, $4)`,
		orgID, at.UTC(), usd, tokens,
	)
	if err != nil {
		return fmt.Errorf("insert spend: %w", err)
	}
	return nil
}

// DailySpend sums spend within the UTC day containing the timestamp.
func (s *LedgerStore) DailySpend(ctx context.Context, orgID string, day time.Time) (float64, error) {
	start, end := dayBounds(day)
	return s.sumBetween(ctx, orgID, start, end)
}

// MonthlySpend sums spend within the UTC month containing the timestamp.
func (s *LedgerStore) MonthlySpend(ctx context.Context, orgID string, month time.Time) (float64, error) {
	start, end := monthBounds(month)
	return s.sumBetween(ctx, orgID, start, end)
}

func (s *LedgerStore) sumBetween(ctx context.Context, orgID string, start, end time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(usd), 0) FROM analysis_spend
WHERE org_id = $1 AND spent_at >= $2 AND spent_at < $3`,
		orgID, start, end,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum spend: %w", err)
	}
	return total, nil
}

func dayBounds(at time.Time) (time.Time, time.Time) {
	utc := at.UTC()
	start := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

func monthBounds(at time.Time) (time.Time, time.Time) {
	utc := at.UTC()
	start := time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
