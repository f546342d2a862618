package database

import (
	"time"

	"translation-gateway/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Manager owns the durable relational store. It is constructed once per
// process and injected into the services that need it.
type Manager struct {
	DB     *gorm.DB
	logger *zap.Logger
}

func NewManager(databaseURL string, log *zap.Logger) (*Manager, error) {
	db, err := gorm.Open(mysql.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&models.Installation{},
		&models.AuthCredential{},
		&models.TranslationEntry{},
		&models.UsageCounter{},
		&models.CostLedger{},
	); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	log.Info("database connection established")

	return &Manager{DB: db, logger: log}, nil
}

// Ping reports whether the underlying connection is usable.
func (m *Manager) Ping() error {
	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
