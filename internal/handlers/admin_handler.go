package handlers

import (
	"net/http"
	"time"

	"translation-gateway/internal/apperrors"
	"translation-gateway/internal/database"
	"translation-gateway/internal/models"

	"github.com/gin-gonic/gin"
)

// AdminHandler exposes the ops snapshot: cache effectiveness and current
// window spend.
type AdminHandler struct {
	db      *database.Manager
	metrics *Metrics
}

func NewAdminHandler(db *database.Manager, metrics *Metrics) *AdminHandler {
	return &AdminHandler{db: db, metrics: metrics}
}

// Stats returns cache and cost counters for the current windows.
func (h *AdminHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	now := time.Now().UTC()
	hourStart := now.Truncate(time.Hour)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	hourCost, err := h.db.LedgerTotal(ctx, models.WindowHourly, hourStart)
	if err != nil {
		apperrors.Respond(c, apperrors.Database("ledger lookup failed", err))
		return
	}
	dayCost, err := h.db.LedgerTotal(ctx, models.WindowDaily, dayStart)
	if err != nil {
		apperrors.Respond(c, apperrors.Database("ledger lookup failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"generatedAt": now.Unix(),
		"cache": gin.H{
			"hits":    h.metrics.CacheHits.Load(),
			"misses":  h.metrics.CacheMisses.Load(),
			"hitRate": h.metrics.HitRate(),
		},
		"cost": gin.H{
			"hourlyUSD": hourCost,
			"dailyUSD":  dayCost,
		},
	})
}
