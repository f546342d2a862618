package database

import (
	"context"
	"time"

	"translation-gateway/internal/models"

	"gorm.io/gorm/clause"
)

// FindEntries fetches all requested (word, language) pairs in one batched
// query rather than N lookups.
func (m *Manager) FindEntries(ctx context.Context, words []string, language string) ([]models.TranslationEntry, error) {
	if len(words) == 0 {
		return nil, nil
	}
	var entries []models.TranslationEntry
	err := m.DB.WithContext(ctx).
		Where("language = ? AND word IN ?", language, words).
		Find(&entries).Error
	return entries, err
}

// UpsertEntry persists a translation entry, replacing translation fields and
// the variation set on conflict.
func (m *Manager) UpsertEntry(ctx context.Context, entry *models.TranslationEntry) error {
	return m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "word"}, {Name: "language"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"translation":   entry.Translation,
			"pronunciation": entry.Pronunciation,
			"variations":    entry.Variations,
			"updated_at":    time.Now(),
		}),
	}).Create(entry).Error
}

// GetEntry returns a single entry or nil when absent.
func (m *Manager) GetEntry(ctx context.Context, word, language string) (*models.TranslationEntry, error) {
	entries, err := m.FindEntries(ctx, []string{word}, language)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}
