// Package cost meters spend on remote analysis and enforces daily and
// monthly budget caps per organisation.
package cost

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
	"github.com/thehouseofbailey/personamapper/internal/metrics"
)

// Budget errors. Both unwrap to ErrBudgetExhausted so callers can trigger
// a fallback strategy without caring which window was exceeded.
var (
	ErrBudgetExhausted        = errors.New("analysis budget exhausted")
	ErrDailyBudgetExhausted   = fmt.Errorf("daily %w", ErrBudgetExhausted)
	ErrMonthlyBudgetExhausted = fmt.Errorf("monthly %w", ErrBudgetExhausted)
)

// LedgerStore persists spend entries. Days and months are UTC; the day
// argument always carries the full timestamp and implementations bucket it.
type LedgerStore interface {
	AddSpend(ctx context.Context, orgID string, at time.Time, usd float64, tokens int) error
	DailySpend(ctx context.Context, orgID string, day time.Time) (float64, error)
	MonthlySpend(ctx context.Context, orgID string, month time.Time) (float64, error)
}

// Config bounds spend per organisation.
type Config struct {
	DailyLimitUSD   float64
	MonthlyLimitUSD float64
	CostPer1KTokens float64
}

// Usage is a point-in-time budget snapshot for one organisation.
type Usage struct {
	OrgID            string  `json:"org_id"`
	DailySpentUSD    float64 `json:"daily_spent_usd"`
	DailyLimitUSD    float64 `json:"daily_limit_usd"`
	MonthlySpentUSD  float64 `json:"monthly_spent_usd"`
	MonthlyLimitUSD  float64 `json:"monthly_limit_usd"`
	DailyRemaining   float64 `json:"daily_remaining_usd"`
	MonthlyRemaining float64 `json:"monthly_remaining_usd"`
}

// Governor answers "may this organisation spend this much right now" and
// records what was actually spent. Windows roll over lazily: spend is
// bucketed by the UTC day and month of the clock reading, so a new day
// starts with a fresh total without any timer.
type Governor struct {
	store  LedgerStore
	clock  crawl.Clock
	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex
	orgs map[string]*sync.Mutex
}

// NewGovernor builds a Governor. Non-positive limits disable the
// corresponding cap.
func NewGovernor(store LedgerStore, clock crawl.Clock, cfg Config, logger *zap.Logger) *Governor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{
		store:  store,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
		orgs:   make(map[string]*sync.Mutex),
	}
}

// EstimateUSD converts a token count to estimated dollars.
func (g *Governor) EstimateUSD(tokens int) float64 {
	if tokens <= 0 {
		return 0
	}
	return float64(tokens) / 1000.0 * g.cfg.CostPer1KTokens
}

// Authorize reports whether the organisation may spend the estimated token
// cost right now. It returns a budget error when either window would be
// exceeded.
func (g *Governor) Authorize(ctx context.Context, orgID string, estimatedTokens int) error {
	lock := g.orgLock(orgID)
	lock.Lock()
	defer lock.Unlock()

	estimated := g.EstimateUSD(estimatedTokens)
	now := g.clock.Now().UTC()

	if g.cfg.DailyLimitUSD > 0 {
		spent, err := g.store.DailySpend(ctx, orgID, now)
		if err != nil {
			return fmt.Errorf("daily spend lookup: %w", err)
		}
		if spent+estimated > g.cfg.DailyLimitUSD {
			g.logger.Warn("daily analysis budget exhausted",
				zap.String("org_id", orgID),
				zap.Float64("spent_usd", spent),
				zap.Float64("estimated_usd", estimated),
				zap.Float64("limit_usd", g.cfg.DailyLimitUSD),
			)
			return ErrDailyBudgetExhausted
		}
	}

	if g.cfg.MonthlyLimitUSD > 0 {
		spent, err := g.store.MonthlySpend(ctx, orgID, now)
		if err != nil {
			return fmt.Errorf("monthly spend lookup: %w", err)
		}
		if spent+estimated > g.cfg.MonthlyLimitUSD {
			g.logger.Warn("monthly analysis budget exhausted",
				zap.String("org_id", orgID),
				zap.Float64("spent_usd", spent),
				zap.Float64("estimated_usd", estimated),
				zap.Float64("limit_usd", g.cfg.MonthlyLimitUSD),
			)
			return ErrMonthlyBudgetExhausted
		}
	}
	return nil
}

// Record writes actual spend to the ledger after a remote call completes.
func (g *Governor) Record(ctx context.Context, orgID string, tokens int) error {
	lock := g.orgLock(orgID)
	lock.Lock()
	defer lock.Unlock()

	usd := g.EstimateUSD(tokens)
	now := g.clock.Now().UTC()
	if err := g.store.AddSpend(ctx, orgID, now, usd, tokens); err != nil {
		return fmt.Errorf("record spend: %w", err)
	}
	metrics.AddAnalysisCost(usd)
	g.logger.Debug("recorded analysis spend",
		zap.String("org_id", orgID),
		zap.Int("tokens", tokens),
		zap.Float64("usd", usd),
	)
	return nil
}

// Usage reports the current budget snapshot for an organisation.
func (g *Governor) Usage(ctx context.Context, orgID string) (Usage, error) {
	now := g.clock.Now().UTC()
	daily, err := g.store.DailySpend(ctx, orgID, now)
	if err != nil {
		return Usage{}, fmt.Errorf("daily spend lookup: %w", err)
	}
	monthly, err := g.store.MonthlySpend(ctx, orgID, now)
	if err != nil {
		return Usage{}, fmt.Errorf("monthly spend lookup: %w", err)
	}
	return Usage{
		OrgID:            orgID,
		DailySpentUSD:    daily,
		DailyLimitUSD:    g.cfg.DailyLimitUSD,
		MonthlySpentUSD:  monthly,
		MonthlyLimitUSD:  g.cfg.MonthlyLimitUSD,
		DailyRemaining:   remaining(g.cfg.DailyLimitUSD, daily),
		MonthlyRemaining: remaining(g.cfg.MonthlyLimitUSD, monthly),
	}, nil
}

func remaining(limit, spent float64) float64 {
	if limit <= 0 {
		return 0
	}
	if spent >= limit {
		return 0
	}
	return limit - spent
}

func (g *Governor) orgLock(orgID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.orgs[orgID]
	if !ok {
		lock = &sync.Mutex{}
		g.orgs[orgID] = lock
	}
	return lock
}

// DayKey returns the UTC calendar day bucket for a timestamp.
func DayKey(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

// MonthKey returns the UTC calendar month bucket for a timestamp.
func MonthKey(at time.Time) string {
	return at.UTC().Format("2006-01")
}
