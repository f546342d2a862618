package services

import (
	"context"
	"fmt"
	"time"

	"translation-gateway/configs"
	"translation-gateway/internal/apperrors"
	"translation-gateway/internal/models"
	"translation-gateway/internal/tasks"

	"go.uber.org/zap"
)

// LedgerStore persists the global cost ledger.
type LedgerStore interface {
	LedgerTotal(ctx context.Context, window string, windowStart time.Time) (float64, error)
	AddCost(ctx context.Context, window string, windowStart time.Time, usd float64) error
}

// CostGuard is the circuit breaker on service-funded upstream spend. BYOK
// requests bypass it entirely.
type CostGuard struct {
	store  LedgerStore
	runner *tasks.Runner
	cfg    *configs.Config
	logger *zap.Logger
	now    func() time.Time
}

func NewCostGuard(store LedgerStore, runner *tasks.Runner, cfg *configs.Config, logger *zap.Logger) *CostGuard {
	return &CostGuard{store: store, runner: runner, cfg: cfg, logger: logger, now: time.Now}
}

// Estimate prices a provider call from the characters in the new words.
func (g *CostGuard) Estimate(words []string) float64 {
	var chars int
	for _, w := range words {
		chars += len([]rune(w))
	}
	return float64(chars) * g.cfg.CostPerCharacterUSD
}

// Allow rejects the call when the estimate would push either window past its
// ceiling. The caller still returns whatever was resolved from cache.
func (g *CostGuard) Allow(ctx context.Context, estimatedUSD float64) error {
	now := g.now()

	hourTotal, err := g.store.LedgerTotal(ctx, models.WindowHourly, hourStart(now))
	if err != nil {
		return apperrors.Database("ledger lookup failed", err)
	}
	if hourTotal+estimatedUSD > g.cfg.HourlyCostCeilingUSD {
		reset := hourStart(now).Add(time.Hour).Sub(now)
		return apperrors.CostLimit("hourly_cost_limit",
			fmt.Sprintf("hourly cost ceiling reached ($%.4f accumulated)", hourTotal), reset)
	}

	dayTotal, err := g.store.LedgerTotal(ctx, models.WindowDaily, dayStart(now))
	if err != nil {
		return apperrors.Database("ledger lookup failed", err)
	}
	if dayTotal+estimatedUSD > g.cfg.DailyCostCeilingUSD {
		reset := dayStart(now).Add(24 * time.Hour).Sub(now)
		return apperrors.CostLimit("daily_cost_limit",
			fmt.Sprintf("daily cost ceiling reached ($%.4f accumulated)", dayTotal), reset)
	}

	return nil
}

// CommitAsync records spend after the provider call actually succeeded, off
// the response path. Failed upstream calls never consume cost budget.
func (g *CostGuard) CommitAsync(usd float64) {
	if usd <= 0 {
		return
	}
	when := g.now()
	g.runner.Go("cost-ledger", func(ctx context.Context) error {
		if err := g.store.AddCost(ctx, models.WindowHourly, hourStart(when), usd); err != nil {
			return err
		}
		return g.store.AddCost(ctx, models.WindowDaily, dayStart(when), usd)
	})
}
