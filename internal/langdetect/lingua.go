// Package langdetect tags ingested posts with an ISO 639-1 language
// code. Detection is restricted to the languages seen in the monitored
// marketplaces, which keeps the model footprint small.
package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

var marketplaceLanguages = []lingua.Language{
	lingua.Russian,
	lingua.Ukrainian,
	lingua.English,
	lingua.German,
	lingua.Polish,
	lingua.Kazakh,
}

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// DetectISO6391 returns a two-letter language code, or "" when the text
// is too short or ambiguous to call.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < 6 {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(marketplaceLanguages...).
			WithPreloadedLanguageModels().
			Build()
	})
	return detector
}
