package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"translation-gateway/configs"
	"translation-gateway/internal/cache"
	"translation-gateway/internal/models"
	"translation-gateway/internal/services"
	"translation-gateway/internal/tasks"
	"translation-gateway/internal/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---- fakes ----

type fakeEntryStore struct {
	mu      sync.Mutex
	entries map[string]*models.TranslationEntry
}

func newFakeEntryStore() *fakeEntryStore {
	return &fakeEntryStore{entries: make(map[string]*models.TranslationEntry)}
}

func (s *fakeEntryStore) key(word, language string) string { return language + ":" + word }

func (s *fakeEntryStore) FindEntries(_ context.Context, words []string, language string) ([]models.TranslationEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TranslationEntry
	for _, w := range words {
		if e, ok := s.entries[s.key(w, language)]; ok {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *fakeEntryStore) UpsertEntry(_ context.Context, entry *models.TranslationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *entry
	s.entries[s.key(entry.Word, entry.Language)] = &copied
	return nil
}

func (s *fakeEntryStore) GetEntry(_ context.Context, word, language string) (*models.TranslationEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[s.key(word, language)]
	if !ok {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

func (s *fakeEntryStore) put(word, language, translation string, vars models.Variations) {
	s.UpsertEntry(context.Background(), &models.TranslationEntry{
		Word: word, Language: language, Translation: translation, Variations: vars,
	})
}

type fakeUsageStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeUsageStore() *fakeUsageStore {
	return &fakeUsageStore{counts: make(map[string]int64)}
}

func (s *fakeUsageStore) key(installID, language, kind, window string, start time.Time) string {
	return installID + "|" + language + "|" + kind + "|" + window + "|" + start.Format(time.RFC3339)
}

func (s *fakeUsageStore) UsageCount(_ context.Context, installID, language, kind, window string, start time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[s.key(installID, language, kind, window, start)], nil
}

func (s *fakeUsageStore) AddUsage(_ context.Context, installID, language, kind, window string, start time.Time, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(installID, language, kind, window, start)
	next := s.counts[key] + n
	if next < 0 {
		next = 0
	}
	s.counts[key] = next
	return nil
}

func (s *fakeUsageStore) total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, v := range s.counts {
		sum += v
	}
	return sum
}

type fakeLedgerStore struct {
	mu     sync.Mutex
	totals map[string]float64
}

func newFakeLedgerStore() *fakeLedgerStore {
	return &fakeLedgerStore{totals: make(map[string]float64)}
}

func (s *fakeLedgerStore) LedgerTotal(_ context.Context, window string, start time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals[window+start.Format(time.RFC3339)], nil
}

func (s *fakeLedgerStore) AddCost(_ context.Context, window string, start time.Time, usd float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals[window+start.Format(time.RFC3339)] += usd
	return nil
}

type fakeTranslator struct {
	calls atomic.Int64
	err   error
}

func (f *fakeTranslator) Translate(_ context.Context, words []string, targetLanguage, _ string) (map[string]string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string, len(words))
	for _, w := range words {
		out[w] = w + "-" + targetLanguage
	}
	return out, nil
}

type fakeContextProvider struct {
	delay time.Duration
	err   error
	calls atomic.Int64
}

func (f *fakeContextProvider) GenerateContexts(ctx context.Context, words map[string]string, _ string) (map[string]models.Variations, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]models.Variations, len(words))
	for word, tr := range words {
		out[word] = models.Variations{{
			Pronunciation: "ai-" + tr,
			Meaning:       "ai meaning of " + word,
			Example:       "ai example with " + tr,
		}}
	}
	return out, nil
}

func (f *fakeContextProvider) GenerateOne(ctx context.Context, word, translation, _, _ string) (*models.ContextVariation, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &models.ContextVariation{
		Pronunciation: "ai-" + translation,
		Meaning:       "ai meaning of " + word,
		Example:       "ai example with " + translation,
	}, nil
}

// ---- harness ----

type testEnv struct {
	router     *gin.Engine
	runner     *tasks.Runner
	entries    *fakeEntryStore
	usage      *fakeUsageStore
	ledger     *fakeLedgerStore
	translator *fakeTranslator
	contextGen *fakeContextProvider
	metrics    *Metrics
	cfg        *configs.Config
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithLogger(t, zap.NewNop())
}

func newTestEnvWithLogger(t *testing.T, logger *zap.Logger) *testEnv {
	t.Helper()

	env := &testEnv{
		entries:    newFakeEntryStore(),
		usage:      newFakeUsageStore(),
		ledger:     newFakeLedgerStore(),
		translator: &fakeTranslator{},
		contextGen: &fakeContextProvider{},
		metrics:    &Metrics{},
		cfg: &configs.Config{
			HourlyWordLimit:      100,
			DailyWordLimit:       500,
			BYOKHourlyWordLimit:  1000,
			BYOKDailyWordLimit:   5000,
			LargeBodyBytes:       5 * 1024,
			LargeBodyMultiplier:  2,
			CostPerCharacterUSD:  0.00002,
			HourlyCostCeilingUSD: 1.0,
			DailyCostCeilingUSD:  10.0,
			ContextDeadline:      150 * time.Millisecond,
			CacheTTL:             time.Minute,
			MaxVariations:        5,
			SupportedLanguages:   []string{"es", "fr"},
		},
	}

	env.runner = tasks.NewRunner(logger, 5*time.Second)
	manager := cache.NewLocalManager(logger)
	store := cache.NewTranslationStore(manager, env.entries, env.runner, logger, env.cfg.CacheTTL, env.cfg.MaxVariations)
	quota := services.NewQuotaService(env.usage, env.cfg, logger)
	costGuard := services.NewCostGuard(env.ledger, env.runner, env.cfg, logger)
	validator := validation.New(env.cfg.SupportedLanguages)

	handler := NewTranslateHandler(validator, quota, costGuard, store, manager,
		env.translator, env.contextGen, env.runner, env.cfg, logger, env.metrics)

	env.router = gin.New()
	env.router.Use(func(c *gin.Context) {
		c.Set("install_id", "inst-1")
		c.Set("request_id", "req-1")
	})
	env.router.POST("/translate", handler.Translate)
	env.router.POST("/context", handler.GenerateContext)

	return env
}

func (env *testEnv) post(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.runner.Drain(ctx); err != nil {
		t.Fatalf("background tasks did not drain: %v", err)
	}
}

func decodeTranslateResponse(t *testing.T, w *httptest.ResponseRecorder) TranslateResponse {
	t.Helper()
	var resp TranslateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body %q: %v", w.Body.String(), err)
	}
	return resp
}

// ---- /translate ----

func TestTranslateMissFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.post(t, "/translate", gin.H{
		"words":          []string{"house", "water", "time"},
		"targetLanguage": "es",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeTranslateResponse(t, w)
	if resp.Metadata.NewTranslations != 3 || resp.Metadata.CacheHits != 0 || resp.Metadata.CacheMisses != 3 {
		t.Errorf("unexpected metadata: %+v", resp.Metadata)
	}
	if resp.Translations["house"].Translation != "house-es" {
		t.Errorf("unexpected translation: %+v", resp.Translations["house"])
	}
	// The fast AI provider wins the race, so its context ships inline.
	if resp.Translations["house"].Example == "" || resp.Translations["house"].Meaning == "" {
		t.Errorf("every word should carry context: %+v", resp.Translations["house"])
	}

	if got := w.Header().Get("X-RateLimit-Remaining-Hourly"); got != "97" {
		t.Errorf("expected 97 remaining, got %q", got)
	}
	if resp.Metadata.Limits == nil || resp.Metadata.Limits.HourlyLimit != 100 {
		t.Errorf("limits missing from metadata: %+v", resp.Metadata.Limits)
	}
}

func TestTranslateSecondCallServedFromCache(t *testing.T) {
	env := newTestEnv(t)
	body := gin.H{"words": []string{"house", "water"}, "targetLanguage": "es"}

	env.post(t, "/translate", body)
	env.drain(t)

	w := env.post(t, "/translate", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	resp := decodeTranslateResponse(t, w)
	if resp.Metadata.CacheMisses != 0 || resp.Metadata.CacheHits != 2 {
		t.Errorf("second call should be all hits: %+v", resp.Metadata)
	}
	if env.translator.calls.Load() != 1 {
		t.Errorf("cached words must not reach the provider, got %d calls", env.translator.calls.Load())
	}
	// Hits never consume quota.
	if got := w.Header().Get("X-RateLimit-Remaining-Hourly"); got != "98" {
		t.Errorf("expected quota untouched at 98, got %q", got)
	}
}

func TestTranslateRejectsOversizedBatch(t *testing.T) {
	env := newTestEnv(t)

	words := make([]string, 51)
	for i := range words {
		words[i] = "word"
	}
	w := env.post(t, "/translate", gin.H{"words": words, "targetLanguage": "es"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if env.translator.calls.Load() != 0 {
		t.Error("invalid requests must not reach the provider")
	}
}

func TestTranslateRejectsUnsupportedLanguage(t *testing.T) {
	env := newTestEnv(t)

	w := env.post(t, "/translate", gin.H{"words": []string{"house"}, "targetLanguage": "xx"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestTranslateQuotaDenialKeepsCachedWords(t *testing.T) {
	env := newTestEnv(t)
	env.entries.put("house", "es", "casa", models.Variations{{Meaning: "a dwelling", Example: "Mi casa."}})

	// Exhaust the hourly window.
	env.usage.AddUsage(context.Background(), "inst-1", "es", models.KindTranslation,
		models.WindowHourly, time.Now().UTC().Truncate(time.Hour), 100)

	w := env.post(t, "/translate", gin.H{
		"words":          []string{"house", "water"},
		"targetLanguage": "es",
	})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Error struct {
			Code       string `json:"code"`
			RetryAfter int64  `json:"retryAfter"`
		} `json:"error"`
		Translations map[string]WordResult `json:"translations"`
		Metadata     Metadata              `json:"metadata"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != "hourly_limit_exceeded" {
		t.Errorf("unexpected code %q", body.Error.Code)
	}
	if body.Error.RetryAfter <= 0 {
		t.Error("denial should carry retryAfter seconds")
	}
	if body.Translations["house"].Translation != "casa" {
		t.Errorf("cached words should still be returned on denial: %+v", body.Translations)
	}
	if !body.Metadata.Partial {
		t.Error("denial with cached words must be marked partial")
	}
	if env.translator.calls.Load() != 0 {
		t.Error("denied request must not reach the provider")
	}
}

func TestTranslateCostCeilingDenies(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.AddCost(context.Background(), models.WindowHourly,
		time.Now().UTC().Truncate(time.Hour), 1.0)

	w := env.post(t, "/translate", gin.H{"words": []string{"house"}, "targetLanguage": "es"})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", w.Code)
	}
	if env.translator.calls.Load() != 0 {
		t.Error("cost-limited request must not reach the provider")
	}
}

func TestTranslateBYOKBypassesCostCeiling(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.AddCost(context.Background(), models.WindowHourly,
		time.Now().UTC().Truncate(time.Hour), 1.0)

	w := env.post(t, "/translate", gin.H{
		"words":          []string{"house"},
		"targetLanguage": "es",
		"apiKey":         "caller-key",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("caller-funded request should bypass the cost breaker, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTranslateProviderFailureRollsBackQuota(t *testing.T) {
	env := newTestEnv(t)
	env.translator.err = context.DeadlineExceeded

	w := env.post(t, "/translate", gin.H{"words": []string{"house"}, "targetLanguage": "es"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	env.drain(t)
	if env.usage.total() != 0 {
		t.Errorf("failed upstream call must not consume quota, got %d", env.usage.total())
	}
}

func TestTranslateSlowContextShipsBasicThenCachesAI(t *testing.T) {
	env := newTestEnv(t)
	env.contextGen.delay = 400 * time.Millisecond // past the 150ms deadline

	start := time.Now()
	w := env.post(t, "/translate", gin.H{"words": []string{"house"}, "targetLanguage": "es"})
	elapsed := time.Since(start)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if elapsed > 350*time.Millisecond {
		t.Errorf("response must not wait for the slow AI call, took %v", elapsed)
	}

	resp := decodeTranslateResponse(t, w)
	house := resp.Translations["house"]
	if house.Example == "" || house.Meaning == "" {
		t.Errorf("basic context should fill in when AI misses the deadline: %+v", house)
	}
	if strings.HasPrefix(house.Meaning, "ai meaning") {
		t.Errorf("AI context should not have made the response: %+v", house)
	}

	// The AI call keeps running and its result lands in the durable tier.
	env.drain(t)
	entry, err := env.entries.GetEntry(context.Background(), "house", "es")
	if err != nil || entry == nil {
		t.Fatalf("entry missing after drain: %v", err)
	}
	if len(entry.Variations) == 0 || !strings.HasPrefix(entry.Variations[0].Meaning, "ai meaning") {
		t.Errorf("continued AI call should enrich the cache: %+v", entry.Variations)
	}
}

func TestTranslateContextDisabled(t *testing.T) {
	env := newTestEnv(t)
	disabled := false

	w := env.post(t, "/translate", gin.H{
		"words":          []string{"house"},
		"targetLanguage": "es",
		"enableContext":  &disabled,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	resp := decodeTranslateResponse(t, w)
	if resp.Translations["house"].Meaning != "" || resp.Translations["house"].Example != "" {
		t.Errorf("context disabled should skip enrichment: %+v", resp.Translations["house"])
	}
	if env.contextGen.calls.Load() != 0 {
		t.Error("context provider must not be called when disabled")
	}

	// Bare translations still persist.
	env.drain(t)
	if entry, _ := env.entries.GetEntry(context.Background(), "house", "es"); entry == nil {
		t.Error("translation should persist even without context")
	}
}

func TestTranslateHitWithVariationsRotates(t *testing.T) {
	env := newTestEnv(t)
	env.entries.put("house", "es", "casa", models.Variations{
		{Meaning: "m1", Example: "e1"},
		{Meaning: "m2", Example: "e2"},
		{Meaning: "m3", Example: "e3"},
	})

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		w := env.post(t, "/translate", gin.H{"words": []string{"house"}, "targetLanguage": "es"})
		resp := decodeTranslateResponse(t, w)
		seen[resp.Translations["house"].Example] = true
	}
	if len(seen) < 2 {
		t.Errorf("repeat hits should rotate variations, saw only %v", seen)
	}
	if env.contextGen.calls.Load() != 0 {
		t.Error("fully cached words must not trigger context generation")
	}
}

// ---- /context ----

func TestGenerateContextServedFromCache(t *testing.T) {
	env := newTestEnv(t)
	env.entries.put("house", "es", "casa", models.Variations{{Meaning: "a dwelling", Example: "Mi casa."}})

	w := env.post(t, "/context", gin.H{"word": "house", "targetLanguage": "es"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp ContextResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Context == nil || resp.Context.Meaning != "a dwelling" {
		t.Errorf("expected cached variation, got %+v", resp.Context)
	}
	if env.usage.total() != 0 {
		t.Error("cached context must not consume quota")
	}
}

func TestGenerateContextCallsAI(t *testing.T) {
	env := newTestEnv(t)

	w := env.post(t, "/context", gin.H{
		"word": "house", "translation": "casa", "targetLanguage": "es",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp ContextResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Context == nil || !strings.HasPrefix(resp.Context.Meaning, "ai meaning") {
		t.Errorf("expected AI variation, got %+v", resp.Context)
	}

	// The AI result is cached for the next encounter.
	env.drain(t)
	entry, _ := env.entries.GetEntry(context.Background(), "house", "es")
	if entry == nil || len(entry.Variations) == 0 {
		t.Error("AI context should be persisted")
	}
}

func TestGenerateContextFallsBackToBasic(t *testing.T) {
	env := newTestEnv(t)
	env.contextGen.err = context.DeadlineExceeded

	w := env.post(t, "/context", gin.H{
		"word": "house", "translation": "casa", "targetLanguage": "es",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("context failures must not fail the request, got %d", w.Code)
	}

	var resp ContextResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Context == nil || resp.Context.Example == "" {
		t.Errorf("expected basic fallback, got %+v", resp.Context)
	}
}

func TestContextFailureLogsAreSanitized(t *testing.T) {
	core, observed := observer.New(zapcore.WarnLevel)
	env := newTestEnvWithLogger(t, zap.New(core))
	env.contextGen.err = errors.New("upstream rejected key for bob@example.com")

	longWord := strings.Repeat("a", 40)
	w := env.post(t, "/context", gin.H{
		"word": longWord, "translation": "casa", "targetLanguage": "es",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected basic fallback, got %d", w.Code)
	}

	entries := observed.FilterMessage("context generation failed, falling back to basic").All()
	if len(entries) != 1 {
		t.Fatalf("expected one fallback log line, got %d", len(entries))
	}
	fields := entries[0].ContextMap()

	errField, _ := fields["error"].(string)
	if strings.Contains(errField, "bob@example.com") {
		t.Errorf("logged provider error leaks the address: %q", errField)
	}
	if !strings.Contains(errField, "[email]") {
		t.Errorf("expected redaction marker in %q", errField)
	}

	wordField, _ := fields["word"].(string)
	if !strings.HasSuffix(wordField, "...") || strings.Contains(wordField, longWord) {
		t.Errorf("logged word should be truncated, got %q", wordField)
	}
}

func TestMetricsHitRate(t *testing.T) {
	m := &Metrics{}
	if m.HitRate() != 0 {
		t.Error("no traffic means zero hit rate")
	}
	m.CacheHits.Add(3)
	m.CacheMisses.Add(1)
	if m.HitRate() != 0.75 {
		t.Errorf("expected 0.75, got %f", m.HitRate())
	}
}
