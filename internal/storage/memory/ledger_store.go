package memory

import (
	"context"
	"sync"
	"time"

	"github.com/thehouseofbailey/personamapper/internal/cost"
)

// LedgerStore is an in-memory cost.LedgerStore bucketing spend by UTC day
// and month.
type LedgerStore struct {
	mu      sync.Mutex
	daily   map[string]float64
	monthly map[string]float64
}

// NewLedgerStore constructs a LedgerStore.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		daily:   make(map[string]float64),
		monthly: make(map[string]float64),
	}
}

// AddSpend accumulates spend for the organisation's current windows.
func (s *LedgerStore) AddSpend(_ context.Context, orgID string, at time.Time, usd float64, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daily[orgID+"/"+cost.DayKey(at)] += usd
	s.monthly[orgID+"/"+cost.MonthKey(at)] += usd
	return nil
}

// DailySpend reports spend in the UTC day containing the timestamp.
func (s *LedgerStore) DailySpend(_ context.Context, orgID string, day time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.daily[orgID+"/"+cost.DayKey(day)], nil
}

// MonthlySpend reports spend in the UTC month containing the timestamp.
func (s *LedgerStore) MonthlySpend(_ context.Context, orgID string, month time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monthly[orgID+"/"+cost.MonthKey(month)], nil
}
