package database

import (
	"context"
	"errors"
	"time"

	"translation-gateway/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UsageCount returns the accepted-word count for a window. A missing row
// means the window has not been touched yet.
func (m *Manager) UsageCount(ctx context.Context, installID, language, kind, window string, windowStart time.Time) (int64, error) {
	var counter models.UsageCounter
	err := m.DB.WithContext(ctx).
		Where("install_id = ? AND language = ? AND kind = ? AND `window` = ? AND window_start = ?",
			installID, language, kind, window, windowStart).
		First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return counter.Count, nil
}

// AddUsage atomically increments a window counter, creating the row at
// window rollover. Negative amounts implement quota rollback.
func (m *Manager) AddUsage(ctx context.Context, installID, language, kind, window string, windowStart time.Time, n int64) error {
	counter := models.UsageCounter{
		InstallID:   installID,
		Language:    language,
		Kind:        kind,
		Window:      window,
		WindowStart: windowStart,
		Count:       n,
	}
	if n < 0 {
		// A rollback can only apply to an existing row. `window` needs quoting:
		// it is a reserved word on MySQL 8.
		return m.DB.WithContext(ctx).Model(&models.UsageCounter{}).
			Where("install_id = ? AND language = ? AND kind = ? AND `window` = ? AND window_start = ? AND count >= ?",
				installID, language, kind, window, windowStart, -n).
			Update("count", gorm.Expr("count + ?", n)).Error
	}
	return m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "install_id"}, {Name: "language"}, {Name: "kind"},
			{Name: "window"}, {Name: "window_start"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"count":      gorm.Expr("count + ?", n),
			"updated_at": time.Now(),
		}),
	}).Create(&counter).Error
}
