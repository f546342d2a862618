package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Installations
type Installation struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	InstallID     string    `gorm:"type:varchar(100);uniqueIndex;not null"`
	ClientVersion string    `gorm:"type:varchar(50)"`
	Platform      string    `gorm:"type:varchar(50)"`
	RegisteredAt  time.Time `gorm:"not null"`
	LastSeen      time.Time `gorm:"index;not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Installation) TableName() string {
	return "installations"
}

// Auth Credentials (one active credential per installation)
type AuthCredential struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	InstallID string    `gorm:"type:varchar(100);uniqueIndex;not null"`
	SharedKey string    `gorm:"type:varchar(255);not null"`
	IssuedAt  time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (AuthCredential) TableName() string {
	return "auth_credentials"
}

// ContextVariation is one (pronunciation, meaning, example) triple for a word.
type ContextVariation struct {
	Pronunciation string `json:"pronunciation"`
	Meaning       string `json:"meaning"`
	Example       string `json:"example"`
}

// Variations is stored as a JSON column.
type Variations []ContextVariation

func (v Variations) Value() (driver.Value, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(v)
	return string(data), err
}

func (v *Variations) Scan(value interface{}) error {
	if value == nil {
		*v = nil
		return nil
	}
	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, v)
	case string:
		return json.Unmarshal([]byte(data), v)
	default:
		return errors.New("variations: unsupported column type")
	}
}

// Translation Entries (unique per word+language, word stored lowercased)
type TranslationEntry struct {
	ID            uint       `gorm:"primaryKey;autoIncrement"`
	Word          string     `gorm:"type:varchar(100);uniqueIndex:idx_word_lang;not null"`
	Language      string     `gorm:"type:varchar(10);uniqueIndex:idx_word_lang;not null"`
	Translation   string     `gorm:"type:varchar(255);not null"`
	Pronunciation string     `gorm:"type:varchar(255)"`
	Variations    Variations `gorm:"type:json"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (TranslationEntry) TableName() string {
	return "translation_entries"
}

// Usage Counters (one row per window per installation+language per kind)
type UsageCounter struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	InstallID   string    `gorm:"type:varchar(100);uniqueIndex:idx_usage_window;not null"`
	Language    string    `gorm:"type:varchar(10);uniqueIndex:idx_usage_window;not null"`
	Kind        string    `gorm:"type:varchar(20);uniqueIndex:idx_usage_window;not null"`
	Window      string    `gorm:"type:varchar(10);uniqueIndex:idx_usage_window;not null"`
	WindowStart time.Time `gorm:"uniqueIndex:idx_usage_window;index;not null"`
	Count       int64     `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (UsageCounter) TableName() string {
	return "usage_counters"
}

// Cost Ledger (global per-window accumulated upstream spend)
type CostLedger struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	Window         string    `gorm:"type:varchar(10);uniqueIndex:idx_cost_window;not null"`
	WindowStart    time.Time `gorm:"uniqueIndex:idx_cost_window;not null"`
	AccumulatedUSD float64   `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (CostLedger) TableName() string {
	return "cost_ledger"
}

// Window kinds for usage counters and the cost ledger.
const (
	WindowHourly = "hour"
	WindowDaily  = "day"

	KindTranslation = "translation"
	KindContext     = "context"
)
