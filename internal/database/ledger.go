package database

import (
	"context"
	"errors"
	"time"

	"translation-gateway/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerTotal returns the accumulated upstream spend for a window.
func (m *Manager) LedgerTotal(ctx context.Context, window string, windowStart time.Time) (float64, error) {
	var row models.CostLedger
	err := m.DB.WithContext(ctx).
		Where("`window` = ? AND window_start = ?", window, windowStart).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.AccumulatedUSD, nil
}

// AddCost records spend against a window after a provider call succeeds.
func (m *Manager) AddCost(ctx context.Context, window string, windowStart time.Time, usd float64) error {
	row := models.CostLedger{
		Window:         window,
		WindowStart:    windowStart,
		AccumulatedUSD: usd,
	}
	return m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "window"}, {Name: "window_start"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"accumulated_usd": gorm.Expr("accumulated_usd + ?", usd),
			"updated_at":      time.Now(),
		}),
	}).Create(&row).Error
}
