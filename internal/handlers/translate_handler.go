package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"translation-gateway/configs"
	"translation-gateway/internal/apperrors"
	"translation-gateway/internal/cache"
	"translation-gateway/internal/logging"
	"translation-gateway/internal/models"
	"translation-gateway/internal/providers"
	"translation-gateway/internal/services"
	"translation-gateway/internal/tasks"
	"translation-gateway/internal/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Metrics tracks process-lifetime cache effectiveness for the ops surface.
type Metrics struct {
	CacheHits   atomic.Int64
	CacheMisses atomic.Int64
}

func (m *Metrics) HitRate() float64 {
	hits := m.CacheHits.Load()
	total := hits + m.CacheMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// TranslateHandler orchestrates the /translate and /context flows.
type TranslateHandler struct {
	validator  *validation.Validator
	quota      *services.QuotaService
	costGuard  *services.CostGuard
	store      *cache.TranslationStore
	manager    *cache.Manager
	translator providers.TranslationProvider
	contextGen providers.ContextProvider
	runner     *tasks.Runner
	cfg        *configs.Config
	logger     *zap.Logger
	metrics    *Metrics
}

func NewTranslateHandler(
	validator *validation.Validator,
	quota *services.QuotaService,
	costGuard *services.CostGuard,
	store *cache.TranslationStore,
	manager *cache.Manager,
	translator providers.TranslationProvider,
	contextGen providers.ContextProvider,
	runner *tasks.Runner,
	cfg *configs.Config,
	logger *zap.Logger,
	metrics *Metrics,
) *TranslateHandler {
	return &TranslateHandler{
		validator:  validator,
		quota:      quota,
		costGuard:  costGuard,
		store:      store,
		manager:    manager,
		translator: translator,
		contextGen: contextGen,
		runner:     runner,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
	}
}

// Translate handles the main batched translation flow
// @Summary Translate a batch of words
// @Tags translation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Router /translate [post]
func (h *TranslateHandler) Translate(c *gin.Context) {
	installID := c.GetString("install_id")
	ctx := c.Request.Context()

	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, apperrors.Validation("invalid_body", "request body is not valid JSON"))
		return
	}

	language, err := h.validator.ValidateLanguage(req.TargetLanguage)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	validated, err := h.validator.ValidateWords(req.Words)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	byok := req.APIKey != ""
	enableContext := req.EnableContext == nil || *req.EnableContext

	lookup, err := h.store.Lookup(ctx, validated.Words, language)
	if err != nil {
		apperrors.Respond(c, apperrors.Database("cache lookup failed", err))
		return
	}

	h.metrics.CacheHits.Add(int64(len(lookup.Hits)))
	h.metrics.CacheMisses.Add(int64(len(lookup.Misses)))

	translations := make(map[string]WordResult, len(validated.Words))
	for word, entry := range lookup.Hits {
		translations[word] = resultFromEntry(entry)
	}

	meta := Metadata{
		CacheHits:      len(lookup.Hits),
		CacheMisses:    len(lookup.Misses),
		WordsProcessed: len(validated.Words),
		WordsFiltered:  validated.Filtered,
	}

	var status *services.QuotaStatus
	var resolved map[string]string

	if len(lookup.Misses) > 0 {
		charged := h.quota.ChargedWords(len(lookup.Misses), c.Request.ContentLength)

		status, err = h.quota.Check(ctx, installID, language, models.KindTranslation, charged, byok)
		if err != nil {
			h.respondDenied(c, err, translations, meta, status)
			return
		}

		estimate := 0.0
		if !byok {
			estimate = h.costGuard.Estimate(lookup.Misses)
			if err := h.costGuard.Allow(ctx, estimate); err != nil {
				h.respondDenied(c, err, translations, meta, status)
				return
			}
		}

		var failed []string
		resolved, failed = h.resolveMisses(c, &req, installID, language, lookup.Misses, charged, byok, estimate)
		if len(resolved) == 0 && len(translations) == 0 {
			// Nothing cached and nothing translated: surface the failure.
			apperrors.Respond(c, apperrors.ExternalService("translation_failed",
				"translation provider unavailable", errors.New("all chunks failed")))
			return
		}

		for word, tr := range resolved {
			translations[word] = WordResult{Translation: tr}
		}
		meta.NewTranslations = len(resolved)
		meta.Partial = len(failed) > 0

		h.publishUsage(installID, language, len(resolved))
	}

	// New translations plus hits lacking stored variations get context; the
	// AI call is raced against the deadline inside.
	if enableContext {
		h.attachContext(c, translations, resolved, lookup, language)
	} else {
		h.persistTranslations(resolved, nil, language)
	}

	// Headers report remaining quota after any consumption above.
	status, _ = h.quota.Check(ctx, installID, language, models.KindTranslation, 0, byok)
	h.setQuotaHeaders(c, status, meta)

	meta.Limits = limitsFrom(status)
	c.JSON(http.StatusOK, TranslateResponse{Translations: translations, Metadata: meta})
}

// resolveMisses consumes quota, calls the translation provider, and rolls
// the consumed quota back for words that failed.
func (h *TranslateHandler) resolveMisses(c *gin.Context, req *TranslateRequest, installID, language string, misses []string, charged int64, byok bool, estimate float64) (map[string]string, []string) {
	ctx := c.Request.Context()

	if err := h.quota.Consume(ctx, installID, language, models.KindTranslation, charged); err != nil {
		h.logger.Warn("quota consume failed", zap.Error(err))
	}

	resolved, err := h.translator.Translate(ctx, misses, language, req.APIKey)

	var partial *providers.PartialError
	switch {
	case err == nil:
	case errors.As(err, &partial):
		rollback := h.quota.ChargedWords(len(partial.Failed), c.Request.ContentLength)
		h.quota.Rollback(ctx, installID, language, models.KindTranslation, rollback)
	default:
		h.quota.Rollback(ctx, installID, language, models.KindTranslation, charged)
		h.logger.Error("translation provider failed", logging.SafeError(err))
		return nil, misses
	}

	if !byok && len(resolved) > 0 {
		// Commit actual spend, scaled to what succeeded.
		actual := estimate
		if len(partialFailed(partial)) > 0 {
			actual = h.costGuard.Estimate(keys(resolved))
		}
		h.costGuard.CommitAsync(actual)
	}

	return resolved, partialFailed(partial)
}

// attachContext races the AI context call against a short deadline. The call
// always runs to completion in the background so its result lands in the
// cache even when the response ships with basic context.
func (h *TranslateHandler) attachContext(c *gin.Context, translations map[string]WordResult, resolved map[string]string, lookup *cache.LookupResult, language string) {
	needing := make(map[string]string, len(resolved)+len(lookup.NeedContext))
	for word, tr := range resolved {
		needing[word] = tr
	}
	for _, word := range lookup.NeedContext {
		if entry, ok := lookup.Hits[word]; ok {
			needing[word] = entry.Translation
		}
	}
	if len(needing) == 0 || h.contextGen == nil {
		h.persistTranslations(resolved, nil, language)
		return
	}

	resultCh := make(chan map[string]models.Variations, 1)

	h.runner.Go("context-generation", func(taskCtx context.Context) error {
		contexts, err := h.contextGen.GenerateContexts(taskCtx, needing, language)
		if err != nil {
			// Basic context already covers the response; still persist the
			// bare translations.
			h.persistTranslations(resolved, nil, language)
			return err
		}
		select {
		case resultCh <- contexts:
		default:
		}
		h.persistTranslations(resolved, contexts, language)
		return nil
	})

	var enhanced map[string]models.Variations
	select {
	case enhanced = <-resultCh:
	case <-time.After(h.cfg.ContextDeadline):
		// Respond with basic context; the AI call continues in the
		// background and benefits the next request.
	}

	for word, tr := range needing {
		wr, ok := translations[word]
		if !ok {
			wr = WordResult{Translation: tr}
		}
		variation := pickVariation(enhanced[word])
		if variation == nil {
			basic := providers.BasicContext(word, tr, language)
			variation = &basic
		}
		wr.Meaning = variation.Meaning
		wr.Example = variation.Example
		if variation.Pronunciation != "" {
			wr.Pronunciation = variation.Pronunciation
		} else if wr.Pronunciation == "" {
			wr.Pronunciation = providers.ApproximatePronunciation(tr)
		}
		translations[word] = wr
	}
}

// persistTranslations writes new entries (and any variations) to the durable
// tier off the response path.
func (h *TranslateHandler) persistTranslations(resolved map[string]string, contexts map[string]models.Variations, language string) {
	for word, tr := range resolved {
		entry := &models.TranslationEntry{
			Translation:   tr,
			Pronunciation: providers.ApproximatePronunciation(tr),
		}
		if vars, ok := contexts[word]; ok {
			entry.Variations = vars
		}
		h.store.WriteAsync(word, language, entry)
	}
	// Variations for words whose translation was already cached.
	for word, vars := range contexts {
		if _, isNew := resolved[word]; isNew || len(vars) == 0 {
			continue
		}
		word, vars := word, vars
		h.runner.Go("variation-write", func(ctx context.Context) error {
			return h.appendVariations(ctx, word, language, vars)
		})
	}
}

func (h *TranslateHandler) appendVariations(ctx context.Context, word, language string, vars models.Variations) error {
	entry, err := h.store.GetCached(ctx, word, language)
	if err != nil || entry == nil {
		return err
	}
	entry.Variations = vars
	h.store.WriteAsync(word, language, entry)
	return nil
}

// GenerateContext handles single-word context requests
// @Summary Generate context for one word
// @Tags translation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Router /context [post]
func (h *TranslateHandler) GenerateContext(c *gin.Context) {
	installID := c.GetString("install_id")
	ctx := c.Request.Context()

	var req ContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, apperrors.Validation("invalid_body", "request body is not valid JSON"))
		return
	}

	language, err := h.validator.ValidateLanguage(req.TargetLanguage)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	validated, err := h.validator.ValidateWords([]string{req.Word})
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	word := validated.Words[0]

	// Rotation over cached variations serves repeat reads cheaply.
	if entry, err := h.store.GetCached(ctx, word, language); err == nil && entry != nil {
		if v := cache.RotateVariation(entry); v != nil {
			c.JSON(http.StatusOK, ContextResponse{Context: v})
			return
		}
	}

	status, err := h.quota.Check(ctx, installID, language, models.KindContext, 1, false)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	h.setQuotaHeaders(c, status, Metadata{})

	if err := h.quota.Consume(ctx, installID, language, models.KindContext, 1); err != nil {
		h.logger.Warn("quota consume failed", zap.Error(err))
	}

	var variation *models.ContextVariation
	if h.contextGen != nil {
		genCtx, cancel := context.WithTimeout(ctx, h.cfg.ContextDeadline)
		defer cancel()
		variation, err = h.contextGen.GenerateOne(genCtx, word, req.Translation, language, req.Sentence)
		if err != nil {
			h.logger.Warn("context generation failed, falling back to basic",
				zap.String("word", logging.TruncateContent(word)), logging.SafeError(err))
		}
	}
	if variation == nil {
		// Context failures never fail the request.
		basic := providers.BasicContext(word, req.Translation, language)
		variation = &basic
	} else if req.Translation != "" {
		// Persist AI context for the next encounter of this word.
		h.store.WriteAsync(word, language, &models.TranslationEntry{
			Translation: req.Translation,
			Variations:  models.Variations{*variation},
		})
	}

	c.JSON(http.StatusOK, ContextResponse{Context: variation})
}

// respondDenied rejects the request but still returns whatever was already
// resolved from cache, marked partial.
func (h *TranslateHandler) respondDenied(c *gin.Context, err error, translations map[string]WordResult, meta Metadata, status *services.QuotaStatus) {
	meta.Partial = true
	meta.Limits = limitsFrom(status)
	h.setQuotaHeaders(c, status, meta)

	apperrors.RespondWithPayload(c, err, map[string]interface{}{
		"translations": translations,
		"metadata":     meta,
	})
}

func (h *TranslateHandler) setQuotaHeaders(c *gin.Context, status *services.QuotaStatus, meta Metadata) {
	if status != nil {
		c.Header("X-RateLimit-Remaining-Hourly", fmt.Sprintf("%d", status.HourlyRemaining))
		c.Header("X-RateLimit-Remaining-Daily", fmt.Sprintf("%d", status.DailyRemaining))
	}
	total := meta.CacheHits + meta.CacheMisses
	if total > 0 {
		c.Header("X-Cache-Hit-Rate", fmt.Sprintf("%.2f", float64(meta.CacheHits)/float64(total)))
	}
}

func (h *TranslateHandler) publishUsage(installID, language string, words int) {
	if words == 0 {
		return
	}
	h.runner.Go("usage-publish", func(ctx context.Context) error {
		h.manager.PublishUsage(ctx, cache.UsageUpdate{
			Action:    "words_translated",
			InstallID: installID,
			Language:  language,
			Words:     words,
		})
		return nil
	})
}

func resultFromEntry(entry *models.TranslationEntry) WordResult {
	wr := WordResult{
		Translation:   entry.Translation,
		Pronunciation: entry.Pronunciation,
	}
	if v := cache.RotateVariation(entry); v != nil {
		wr.Meaning = v.Meaning
		wr.Example = v.Example
		if v.Pronunciation != "" {
			wr.Pronunciation = v.Pronunciation
		}
	}
	return wr
}

func pickVariation(vars models.Variations) *models.ContextVariation {
	if len(vars) == 0 {
		return nil
	}
	v := vars[0]
	return &v
}

func limitsFrom(status *services.QuotaStatus) *Limits {
	if status == nil {
		return nil
	}
	return &Limits{
		HourlyLimit:     status.HourlyLimit,
		DailyLimit:      status.DailyLimit,
		HourlyRemaining: status.HourlyRemaining,
		DailyRemaining:  status.DailyRemaining,
	}
}

func partialFailed(err *providers.PartialError) []string {
	if err == nil {
		return nil
	}
	return err.Failed
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Request/Response structures
type TranslateRequest struct {
	Words          []string `json:"words" binding:"required"`
	TargetLanguage string   `json:"targetLanguage" binding:"required"`
	APIKey         string   `json:"apiKey"`
	EnableContext  *bool    `json:"enableContext"`
}

type WordResult struct {
	Translation   string `json:"translation"`
	Pronunciation string `json:"pronunciation,omitempty"`
	Meaning       string `json:"meaning,omitempty"`
	Example       string `json:"example,omitempty"`
}

type Limits struct {
	HourlyLimit     int64 `json:"hourlyLimit"`
	DailyLimit      int64 `json:"dailyLimit"`
	HourlyRemaining int64 `json:"hourlyRemaining"`
	DailyRemaining  int64 `json:"dailyRemaining"`
}

type Metadata struct {
	CacheHits       int      `json:"cacheHits"`
	CacheMisses     int      `json:"cacheMisses"`
	WordsProcessed  int      `json:"wordsProcessed"`
	NewTranslations int      `json:"newTranslations"`
	WordsFiltered   []string `json:"wordsFiltered,omitempty"`
	Partial         bool     `json:"partial,omitempty"`
	Limits          *Limits  `json:"limits,omitempty"`
}

type TranslateResponse struct {
	Translations map[string]WordResult `json:"translations"`
	Metadata     Metadata              `json:"metadata"`
}

type ContextRequest struct {
	Word           string `json:"word" binding:"required"`
	Translation    string `json:"translation"`
	TargetLanguage string `json:"targetLanguage" binding:"required"`
	Sentence       string `json:"sentence"`
}

type ContextResponse struct {
	Context *models.ContextVariation `json:"context"`
}
