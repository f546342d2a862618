package database

import (
	"context"
	"errors"
	"time"

	"translation-gateway/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetCredential returns the active credential for an installation, or nil
// when none exists.
func (m *Manager) GetCredential(ctx context.Context, installID string) (*models.AuthCredential, error) {
	var cred models.AuthCredential
	err := m.DB.WithContext(ctx).Where("install_id = ?", installID).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// SaveCredential replaces the installation's credential (exactly one active
// credential per installation).
func (m *Manager) SaveCredential(ctx context.Context, cred *models.AuthCredential) error {
	return m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "install_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"shared_key": cred.SharedKey,
			"issued_at":  cred.IssuedAt,
			"expires_at": cred.ExpiresAt,
			"updated_at": time.Now(),
		}),
	}).Create(cred).Error
}

// UpsertInstallation creates the installation on first contact and refreshes
// version/platform afterwards. Installations are never hard-deleted.
func (m *Manager) UpsertInstallation(ctx context.Context, inst *models.Installation) error {
	return m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "install_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"client_version": inst.ClientVersion,
			"platform":       inst.Platform,
			"last_seen":      inst.LastSeen,
			"updated_at":     time.Now(),
		}),
	}).Create(inst).Error
}

// TouchLastSeen records activity for an installation.
func (m *Manager) TouchLastSeen(ctx context.Context, installID string, seen time.Time) error {
	return m.DB.WithContext(ctx).Model(&models.Installation{}).
		Where("install_id = ?", installID).
		Update("last_seen", seen).Error
}
