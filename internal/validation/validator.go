package validation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"translation-gateway/internal/apperrors"

	"golang.org/x/text/unicode/norm"
)

const (
	MaxWords    = 50
	MinWordLen  = 2
	MaxWordLen  = 50
	MinIDLength = 10
)

var (
	scriptInjectionPattern = regexp.MustCompile(`(?i)<\s*/?\s*script|javascript:|on\w+\s*=`)
	sqlMetaPattern         = regexp.MustCompile(`['";]|--|/\*|\*/`)
	installIDPattern       = regexp.MustCompile(`^[a-zA-Z0-9\-_]{10,100}$`)
)

// Validator sanitizes and bounds-checks all external input before any cache
// or auth work happens.
type Validator struct {
	languages map[string]bool
}

func New(supportedLanguages []string) *Validator {
	langs := make(map[string]bool, len(supportedLanguages))
	for _, l := range supportedLanguages {
		langs[strings.ToLower(l)] = true
	}
	return &Validator{languages: langs}
}

// Result carries the normalized word list plus the inputs that were dropped.
type Result struct {
	Words    []string
	Filtered []string
}

// ValidateWords normalizes, deduplicates and filters a raw word list. The
// whole request is rejected on an empty or oversized list; individual bad
// words are filtered, and an all-filtered list is a rejection too.
func (v *Validator) ValidateWords(raw []string) (*Result, error) {
	if len(raw) == 0 {
		return nil, apperrors.Validation("empty_word_list", "at least one word is required")
	}
	if len(raw) > MaxWords {
		return nil, apperrors.Validation("too_many_words", "word list exceeds maximum of 50")
	}

	result := &Result{}
	seen := make(map[string]bool, len(raw))

	for _, w := range raw {
		word, ok := v.normalizeWord(w)
		if !ok {
			result.Filtered = append(result.Filtered, truncate(w))
			continue
		}
		if seen[word] {
			continue
		}
		seen[word] = true
		result.Words = append(result.Words, word)
	}

	if len(result.Words) == 0 {
		return nil, apperrors.Validation("no_valid_words", "no words passed validation")
	}
	return result, nil
}

// ValidateLanguage checks the target language against the allow-list.
func (v *Validator) ValidateLanguage(lang string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(lang))
	if !v.languages[normalized] {
		return "", apperrors.Validation("unsupported_language", "target language is not supported")
	}
	return normalized, nil
}

// ValidateInstallID checks the shape of a client-supplied installation id
// during registration bootstrap.
func (v *Validator) ValidateInstallID(id string) error {
	if utf8.RuneCountInString(id) < MinIDLength {
		return apperrors.Validation("invalid_installation_id", "installation id must be at least 10 characters")
	}
	if !installIDPattern.MatchString(id) {
		return apperrors.Validation("invalid_installation_id", "installation id has an invalid format")
	}
	return nil
}

func (v *Validator) normalizeWord(raw string) (string, bool) {
	// NFC first so length checks count composed code points.
	word := norm.NFC.String(strings.TrimSpace(raw))
	word = stripInvisible(word)
	word = strings.ToLower(word)

	n := utf8.RuneCountInString(word)
	if n < MinWordLen || n > MaxWordLen {
		return "", false
	}
	if scriptInjectionPattern.MatchString(word) || sqlMetaPattern.MatchString(word) {
		return "", false
	}
	if hasMixedScripts(word) {
		return "", false
	}
	return word, true
}

// stripInvisible removes zero-width, control and bidi-override characters
// before any length check runs.
func stripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff',
			'\u202a', '\u202b', '\u202c', '\u202d', '\u202e',
			'\u2066', '\u2067', '\u2068', '\u2069':
			return -1
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// hasMixedScripts rejects Latin mixed with confusable Cyrillic or Greek
// letters, which blocks homoglyph spoofing.
func hasMixedScripts(s string) bool {
	var latin, cyrillic, greek bool
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Latin, r):
			latin = true
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic = true
		case unicode.Is(unicode.Greek, r):
			greek = true
		}
	}
	if latin && (cyrillic || greek) {
		return true
	}
	return cyrillic && greek
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxWordLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxWordLen])
}
