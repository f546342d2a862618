package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// TranslationProvider is the upstream machine-translation client. apiKey
// overrides the service credential for BYOK callers.
type TranslationProvider interface {
	Translate(ctx context.Context, words []string, targetLanguage, apiKey string) (map[string]string, error)
}

// PartialError reports that some chunks failed while others translated. The
// orchestrator treats the failed words as "no translation available" instead
// of aborting the whole request.
type PartialError struct {
	Failed []string
	Err    error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("translation incomplete for %d words: %v", len(e.Failed), e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// HTTPTranslator batches words into provider-size chunks, fans the chunks
// out in parallel, and coalesces identical concurrent requests.
type HTTPTranslator struct {
	url       string
	apiKey    string
	chunkSize int
	retries   int
	client    *http.Client
	group     singleflight.Group
	logger    *zap.Logger
}

func NewHTTPTranslator(url, apiKey string, chunkSize, retries int, timeout time.Duration, logger *zap.Logger) *HTTPTranslator {
	if chunkSize <= 0 {
		chunkSize = 25
	}
	return &HTTPTranslator{
		url:       url,
		apiKey:    apiKey,
		chunkSize: chunkSize,
		retries:   retries,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

type translateRequest struct {
	Words  []string `json:"words"`
	Target string   `json:"target"`
}

type translateResponse struct {
	Translations []string `json:"translations"`
}

type translateOutcome struct {
	translations map[string]string
	failed       []string
}

func (t *HTTPTranslator) Translate(ctx context.Context, words []string, targetLanguage, apiKey string) (map[string]string, error) {
	if len(words) == 0 {
		return map[string]string{}, nil
	}

	key := coalesceKey(words, targetLanguage, apiKey)
	v, err, shared := t.group.Do(key, func() (interface{}, error) {
		return t.translateAll(ctx, words, targetLanguage, apiKey)
	})
	if shared {
		t.logger.Debug("translation request coalesced", zap.String("language", targetLanguage))
	}
	if err != nil {
		return nil, err
	}

	outcome := v.(*translateOutcome)
	if len(outcome.failed) > 0 {
		return outcome.translations, &PartialError{Failed: outcome.failed}
	}
	return outcome.translations, nil
}

// coalesceKey identifies a request by its sorted word set, target language
// and credential, so two concurrent identical requests share one upstream
// call within this instance.
func coalesceKey(words []string, targetLanguage, apiKey string) string {
	sorted := append([]string(nil), words...)
	sort.Strings(sorted)
	return targetLanguage + "|" + apiKey + "|" + strings.Join(sorted, ",")
}

func (t *HTTPTranslator) translateAll(ctx context.Context, words []string, targetLanguage, apiKey string) (*translateOutcome, error) {
	chunks := chunkWords(words, t.chunkSize)

	outcome := &translateOutcome{translations: make(map[string]string, len(words))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			translated, err := t.translateChunk(gctx, chunk, targetLanguage, apiKey)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// A chunk failure fails only that chunk's words.
				outcome.failed = append(outcome.failed, chunk...)
				return nil
			}
			for word, tr := range translated {
				outcome.translations[word] = tr
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(outcome.translations) == 0 && len(outcome.failed) > 0 {
		return nil, fmt.Errorf("translation provider: all %d chunks failed", len(chunks))
	}
	return outcome, nil
}

func (t *HTTPTranslator) translateChunk(ctx context.Context, chunk []string, targetLanguage, apiKey string) (map[string]string, error) {
	key := apiKey
	if key == "" {
		key = t.apiKey
	}

	body, err := json.Marshal(translateRequest{Words: chunk, Target: targetLanguage})
	if err != nil {
		return nil, err
	}

	var result translateResponse
	err = withRetry(ctx, t.retries, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+key)

		resp, err := t.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("translation provider: status %d", resp.StatusCode)
		}
		return json.Unmarshal(data, &result)
	})
	if err != nil {
		return nil, err
	}

	if len(result.Translations) != len(chunk) {
		return nil, fmt.Errorf("translation provider: got %d translations for %d words",
			len(result.Translations), len(chunk))
	}

	// Results are positional relative to the submitted chunk.
	out := make(map[string]string, len(chunk))
	for i, word := range chunk {
		if result.Translations[i] != "" {
			out[word] = result.Translations[i]
		}
	}
	return out, nil
}

func chunkWords(words []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(words); start += size {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, words[start:end])
	}
	return chunks
}
