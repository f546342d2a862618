package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"translation-gateway/internal/models"

	"go.uber.org/zap"
)

// ContextProvider generates pronunciation/meaning/example variations for
// words via the upstream LLM.
type ContextProvider interface {
	GenerateContexts(ctx context.Context, words map[string]string, targetLanguage string) (map[string]models.Variations, error)
	GenerateOne(ctx context.Context, word, translation, targetLanguage, sentence string) (*models.ContextVariation, error)
}

// chatRequest/chatResponse follow the OpenAI-style chat completions shape.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// HTTPContextProvider asks for all words in one batched prompt with at least
// three independent phrasings per word, instead of one round trip per word.
type HTTPContextProvider struct {
	baseURL string
	apiKey  string
	model   string
	retries int
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPContextProvider(baseURL, apiKey, model string, retries int, timeout time.Duration, logger *zap.Logger) *HTTPContextProvider {
	return &HTTPContextProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		retries: retries,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

const contextSystemPrompt = "You are a language tutor. For each word you are given, produce pronunciation, a short meaning, and a natural example sentence in the target language. Return ONLY a single JSON object and nothing else."

func batchPrompt(words map[string]string, targetLanguage string) string {
	var sb strings.Builder
	sb.WriteString("For each of the following words, produce 3 independent variations, each with a different example sentence. Target language: ")
	sb.WriteString(targetLanguage)
	sb.WriteString(`. Respond with this exact JSON shape:
{"contexts":{"<word>":[{"pronunciation":"...","meaning":"...","example":"..."}]}}
Words (word: translation):
`)
	for word, translation := range words {
		sb.WriteString(word)
		sb.WriteString(": ")
		sb.WriteString(translation)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (p *HTTPContextProvider) GenerateContexts(ctx context.Context, words map[string]string, targetLanguage string) (map[string]models.Variations, error) {
	if len(words) == 0 {
		return map[string]models.Variations{}, nil
	}

	content, err := p.complete(ctx, batchPrompt(words, targetLanguage))
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Contexts map[string][]models.ContextVariation `json:"contexts"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("context provider: malformed response: %w", err)
	}

	// Validate each word's variations independently; one malformed word does
	// not invalidate the others.
	out := make(map[string]models.Variations, len(parsed.Contexts))
	for word, variations := range parsed.Contexts {
		word = strings.ToLower(strings.TrimSpace(word))
		if _, requested := words[word]; !requested {
			continue
		}
		valid := make(models.Variations, 0, len(variations))
		for _, v := range variations {
			if cleaned, ok := cleanVariation(v); ok {
				valid = append(valid, cleaned)
			}
		}
		if len(valid) > 0 {
			out[word] = valid
		}
	}
	return out, nil
}

func (p *HTTPContextProvider) GenerateOne(ctx context.Context, word, translation, targetLanguage, sentence string) (*models.ContextVariation, error) {
	prompt := fmt.Sprintf(`Give pronunciation, a short meaning, and one natural example sentence for the word %q (translation: %q) in target language %s.`, word, translation, targetLanguage)
	if sentence != "" {
		prompt += fmt.Sprintf(" The word was encountered in this sentence: %q.", sentence)
	}
	prompt += ` Respond with this exact JSON shape: {"pronunciation":"...","meaning":"...","example":"..."}`

	content, err := p.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var v models.ContextVariation
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, fmt.Errorf("context provider: malformed response: %w", err)
	}
	cleaned, ok := cleanVariation(v)
	if !ok {
		return nil, fmt.Errorf("context provider: incomplete variation for %q", word)
	}
	return &cleaned, nil
}

// cleanVariation validates fields independently. Meaning and example are
// required; pronunciation may be empty and gets filled by the basic
// approximation downstream.
func cleanVariation(v models.ContextVariation) (models.ContextVariation, bool) {
	v.Pronunciation = strings.TrimSpace(v.Pronunciation)
	v.Meaning = strings.TrimSpace(v.Meaning)
	v.Example = strings.TrimSpace(v.Example)
	if v.Meaning == "" || v.Example == "" {
		return v, false
	}
	return v, true
}

func (p *HTTPContextProvider) complete(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: contextSystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}

	var content string
	err = withRetry(ctx, p.retries, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(reqBody))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("context provider: status %d", resp.StatusCode)
		}

		var chat chatResponse
		if err := json.Unmarshal(data, &chat); err != nil {
			return err
		}
		if len(chat.Choices) == 0 {
			return fmt.Errorf("context provider: empty choices")
		}
		content = strings.TrimSpace(chat.Choices[0].Message.Content)
		return nil
	})
	return content, err
}
