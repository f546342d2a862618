package cache

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"translation-gateway/internal/models"
	"translation-gateway/internal/tasks"

	"go.uber.org/zap"
)

// EntryStore is the durable tier underneath the translation cache.
type EntryStore interface {
	FindEntries(ctx context.Context, words []string, language string) ([]models.TranslationEntry, error)
	UpsertEntry(ctx context.Context, entry *models.TranslationEntry) error
	GetEntry(ctx context.Context, word, language string) (*models.TranslationEntry, error)
}

// LookupResult classifies each requested word after the batched lookup.
type LookupResult struct {
	// Hits maps word -> cached entry (translation present, possibly with
	// context variations).
	Hits map[string]*models.TranslationEntry
	// Misses have no entry at all and need translation + context.
	Misses []string
	// NeedContext have a cached translation but no variations yet; they are
	// misses for context generation only.
	NeedContext []string
}

// TranslationStore combines the ephemeral tier (Manager) with the durable
// relational tier for translation entries.
type TranslationStore struct {
	manager       *Manager
	store         EntryStore
	runner        *tasks.Runner
	logger        *zap.Logger
	ttl           time.Duration
	maxVariations int
}

func NewTranslationStore(manager *Manager, store EntryStore, runner *tasks.Runner, logger *zap.Logger, ttl time.Duration, maxVariations int) *TranslationStore {
	if maxVariations < 3 {
		maxVariations = 3
	}
	return &TranslationStore{
		manager:       manager,
		store:         store,
		runner:        runner,
		logger:        logger,
		ttl:           ttl,
		maxVariations: maxVariations,
	}
}

func entryKey(word, language string) string {
	return fmt.Sprintf("tr:%s:%s", language, word)
}

// Lookup resolves all requested words in one batched query against the
// durable tier, consulting the ephemeral tier first.
func (s *TranslationStore) Lookup(ctx context.Context, words []string, language string) (*LookupResult, error) {
	result := &LookupResult{Hits: make(map[string]*models.TranslationEntry, len(words))}

	remaining := make([]string, 0, len(words))
	for _, word := range words {
		var entry models.TranslationEntry
		found, err := s.manager.Get(ctx, entryKey(word, language), &entry)
		if err == nil && found && entry.Translation != "" {
			result.Hits[word] = &entry
			continue
		}
		remaining = append(remaining, word)
	}

	if len(remaining) > 0 {
		entries, err := s.store.FindEntries(ctx, remaining, language)
		if err != nil {
			return nil, err
		}

		byWord := make(map[string]*models.TranslationEntry, len(entries))
		for i := range entries {
			byWord[entries[i].Word] = &entries[i]
		}

		for _, word := range remaining {
			entry, ok := byWord[word]
			if !ok {
				result.Misses = append(result.Misses, word)
				continue
			}
			result.Hits[word] = entry
			s.manager.Set(ctx, entryKey(word, language), entry, s.ttl)
		}
	}

	for word, entry := range result.Hits {
		if len(entry.Variations) == 0 {
			result.NeedContext = append(result.NeedContext, word)
		}
	}

	return result, nil
}

// GetCached returns a single entry, consulting the ephemeral tier first.
func (s *TranslationStore) GetCached(ctx context.Context, word, language string) (*models.TranslationEntry, error) {
	var entry models.TranslationEntry
	found, err := s.manager.Get(ctx, entryKey(word, language), &entry)
	if err == nil && found && entry.Translation != "" {
		return &entry, nil
	}

	stored, err := s.store.GetEntry(ctx, word, language)
	if err != nil || stored == nil {
		return nil, err
	}
	s.manager.Set(ctx, entryKey(word, language), stored, s.ttl)
	return stored, nil
}

// RotateVariation picks one stored variation uniformly at random so repeat
// encounters of a word see different example sentences.
func RotateVariation(entry *models.TranslationEntry) *models.ContextVariation {
	if entry == nil || len(entry.Variations) == 0 {
		return nil
	}
	v := entry.Variations[rand.Intn(len(entry.Variations))]
	return &v
}

// WriteAsync persists a new or enriched entry without blocking the caller's
// response path.
func (s *TranslationStore) WriteAsync(word, language string, entry *models.TranslationEntry) {
	if entry == nil || entry.Translation == "" {
		// Entries are never created without a translation.
		return
	}
	entry.Word = word
	entry.Language = language

	s.runner.Go("cache-write", func(ctx context.Context) error {
		return s.write(ctx, entry)
	})
}

func (s *TranslationStore) write(ctx context.Context, entry *models.TranslationEntry) error {
	existing, err := s.store.GetEntry(ctx, entry.Word, entry.Language)
	if err != nil {
		return err
	}
	if existing != nil {
		entry.Variations = mergeVariations(existing.Variations, entry.Variations, s.maxVariations)
		if entry.Pronunciation == "" {
			entry.Pronunciation = existing.Pronunciation
		}
	} else if len(entry.Variations) > s.maxVariations {
		entry.Variations = entry.Variations[len(entry.Variations)-s.maxVariations:]
	}

	if err := s.store.UpsertEntry(ctx, entry); err != nil {
		return err
	}

	return s.manager.Set(ctx, entryKey(entry.Word, entry.Language), entry, s.ttl)
}

// mergeVariations appends new variations up to the cap, then replaces
// oldest-first.
func mergeVariations(existing, incoming models.Variations, limit int) models.Variations {
	seen := make(map[string]bool, len(existing))
	for _, v := range existing {
		seen[v.Example] = true
	}

	merged := append(models.Variations{}, existing...)
	for _, v := range incoming {
		if v.Example == "" || seen[v.Example] {
			continue
		}
		merged = append(merged, v)
		seen[v.Example] = true
	}

	if len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged
}
