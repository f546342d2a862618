package providers

import (
	"fmt"
	"strings"

	"translation-gateway/internal/models"
)

// BasicContext synthesizes a deterministic, non-AI context so every word
// gets some context even when the AI path fails or times out.
func BasicContext(word, translation, targetLanguage string) models.ContextVariation {
	return models.ContextVariation{
		Pronunciation: ApproximatePronunciation(translation),
		Meaning:       fmt.Sprintf("%q in %s", word, languageName(targetLanguage)),
		Example:       exampleSentence(word, translation, targetLanguage),
	}
}

var exampleTemplates = map[string]string{
	"es": "Aprendí la palabra «%s» hoy.",
	"fr": "J'ai appris le mot « %s » aujourd'hui.",
	"de": "Ich habe heute das Wort „%s“ gelernt.",
	"it": "Oggi ho imparato la parola «%s».",
	"pt": "Aprendi a palavra «%s» hoje.",
}

func exampleSentence(word, translation, targetLanguage string) string {
	if tmpl, ok := exampleTemplates[targetLanguage]; ok {
		return fmt.Sprintf(tmpl, translation)
	}
	return fmt.Sprintf("%s (%s)", translation, word)
}

var languageNames = map[string]string{
	"es": "Spanish", "fr": "French", "de": "German", "it": "Italian",
	"pt": "Portuguese", "ja": "Japanese", "ko": "Korean", "zh": "Chinese",
	"ru": "Russian", "ar": "Arabic", "hi": "Hindi", "nl": "Dutch",
	"pl": "Polish", "tr": "Turkish",
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

// ApproximatePronunciation is a rule-based syllable split, a rough stand-in
// until the AI pronunciation lands in the cache.
func ApproximatePronunciation(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	isVowel := func(r rune) bool {
		return strings.ContainsRune("aeiouáéíóúàèìòùâêîôûäëïöü", r)
	}

	var syllables []string
	var current strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		current.WriteRune(r)
		// Break after a vowel followed by a consonant.
		if isVowel(r) && i+1 < len(runes) && !isVowel(runes[i+1]) && i+2 < len(runes) {
			syllables = append(syllables, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		syllables = append(syllables, current.String())
	}

	return strings.Join(syllables, "-")
}
