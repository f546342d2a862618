package services

import (
	"context"
	"fmt"
	"time"

	"translation-gateway/configs"
	"translation-gateway/internal/apperrors"
	"translation-gateway/internal/models"

	"go.uber.org/zap"
)

// UsageStore persists per-window usage counters, the sole source of truth
// for quota decisions.
type UsageStore interface {
	UsageCount(ctx context.Context, installID, language, kind, window string, windowStart time.Time) (int64, error)
	AddUsage(ctx context.Context, installID, language, kind, window string, windowStart time.Time, n int64) error
}

// QuotaService enforces the hourly and daily word windows per
// (installation, language). Counters tolerate small read-modify-write races;
// the thresholds are soft.
type QuotaService struct {
	store  UsageStore
	cfg    *configs.Config
	logger *zap.Logger
	now    func() time.Time
}

func NewQuotaService(store UsageStore, cfg *configs.Config, logger *zap.Logger) *QuotaService {
	return &QuotaService{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// QuotaStatus carries remaining-quota metadata for response headers.
type QuotaStatus struct {
	HourlyLimit     int64
	DailyLimit      int64
	HourlyRemaining int64
	DailyRemaining  int64
}

func hourStart(t time.Time) time.Time { return t.UTC().Truncate(time.Hour) }

func dayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *QuotaService) limits(byok bool) (hourly, daily int64) {
	if byok {
		return s.cfg.BYOKHourlyWordLimit, s.cfg.BYOKDailyWordLimit
	}
	return s.cfg.HourlyWordLimit, s.cfg.DailyWordLimit
}

// ChargedWords applies the large-payload multiplier to discourage batching
// abuse.
func (s *QuotaService) ChargedWords(newWords int, bodyBytes int64) int64 {
	charged := int64(newWords)
	if bodyBytes > s.cfg.LargeBodyBytes {
		charged *= s.cfg.LargeBodyMultiplier
	}
	return charged
}

// Check decides allow/deny for a request needing charged new words, before
// any counter is touched. On denial the offending window is named and
// retry-after is time to window reset.
func (s *QuotaService) Check(ctx context.Context, installID, language, kind string, charged int64, byok bool) (*QuotaStatus, error) {
	now := s.now()
	hourlyLimit, dailyLimit := s.limits(byok)

	hourCount, err := s.store.UsageCount(ctx, installID, language, kind, models.WindowHourly, hourStart(now))
	if err != nil {
		return nil, apperrors.Database("usage lookup failed", err)
	}
	dayCount, err := s.store.UsageCount(ctx, installID, language, kind, models.WindowDaily, dayStart(now))
	if err != nil {
		return nil, apperrors.Database("usage lookup failed", err)
	}

	status := &QuotaStatus{
		HourlyLimit:     hourlyLimit,
		DailyLimit:      dailyLimit,
		HourlyRemaining: max64(hourlyLimit-hourCount, 0),
		DailyRemaining:  max64(dailyLimit-dayCount, 0),
	}

	if charged > status.HourlyRemaining {
		reset := hourStart(now).Add(time.Hour).Sub(now)
		return status, apperrors.RateLimit("hourly_limit_exceeded",
			fmt.Sprintf("hourly word limit reached (%d remaining, %d requested)", status.HourlyRemaining, charged), reset)
	}
	if charged > status.DailyRemaining {
		reset := dayStart(now).Add(24 * time.Hour).Sub(now)
		return status, apperrors.RateLimit("daily_limit_exceeded",
			fmt.Sprintf("daily word limit reached (%d remaining, %d requested)", status.DailyRemaining, charged), reset)
	}

	return status, nil
}

// Consume counts accepted words against both windows. Cache hits never reach
// this point.
func (s *QuotaService) Consume(ctx context.Context, installID, language, kind string, charged int64) error {
	now := s.now()
	if err := s.store.AddUsage(ctx, installID, language, kind, models.WindowHourly, hourStart(now), charged); err != nil {
		return apperrors.Database("usage increment failed", err)
	}
	if err := s.store.AddUsage(ctx, installID, language, kind, models.WindowDaily, dayStart(now), charged); err != nil {
		return apperrors.Database("usage increment failed", err)
	}
	return nil
}

// Rollback compensates a consumed quota when the downstream provider call
// fails, so callers are not charged for failed work.
func (s *QuotaService) Rollback(ctx context.Context, installID, language, kind string, charged int64) {
	now := s.now()
	if err := s.store.AddUsage(ctx, installID, language, kind, models.WindowHourly, hourStart(now), -charged); err != nil {
		s.logger.Warn("quota rollback failed", zap.String("window", models.WindowHourly), zap.Error(err))
	}
	if err := s.store.AddUsage(ctx, installID, language, kind, models.WindowDaily, dayStart(now), -charged); err != nil {
		s.logger.Warn("quota rollback failed", zap.String("window", models.WindowDaily), zap.Error(err))
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
