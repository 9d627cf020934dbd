// Package lexical scores keyword sets against post text using character
// trigram overlap. It is a pure scoring layer: thresholds are always
// supplied by the caller, never decided here.
package lexical

import (
	"strings"

	"horse.fit/bazaar/internal/textnorm"
)

// Jaccard computes intersection-over-union of two trigram sets. Two empty
// sets are defined as fully similar; one empty against one non-empty set
// is fully dissimilar.
func Jaccard(left, right map[string]struct{}) float64 {
	if len(left) == 0 && len(right) == 0 {
		return 1
	}
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	intersection := 0
	for gram := range left {
		if _, ok := right[gram]; ok {
			intersection++
		}
	}

	union := len(left) + len(right) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// KeywordScore combines per-keyword trigram containment against the text
// into a single score in [0,1]. Each keyword contributes the share of its
// own trigrams found in the text, so a fully contained keyword counts 1
// regardless of how much longer the text is. Keywords too short to form
// trigrams fall back to plain substring containment.
func KeywordScore(text string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}

	textGrams := textnorm.Trigrams(text)
	if len(textGrams) == 0 {
		return 0
	}
	normalizedText := textnorm.Normalize(text)

	total := 0.0
	counted := 0
	for _, keyword := range keywords {
		if strings.TrimSpace(keyword) == "" {
			continue
		}
		counted++

		keywordGrams := textnorm.Trigrams(keyword)
		if len(keywordGrams) == 0 {
			if strings.Contains(normalizedText, textnorm.Normalize(keyword)) {
				total++
			}
			continue
		}

		overlap := 0
		for gram := range keywordGrams {
			if _, ok := textGrams[gram]; ok {
				overlap++
			}
		}
		total += float64(overlap) / float64(len(keywordGrams))
	}

	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}

// ContainsNegative reports whether any negative keyword occurs in the
// text, returning the first keyword that triggered. Exact substring
// containment is checked first for every keyword; when that misses, the
// bridge check catches typo-level variations by comparing the phrase's
// trigram set against same-length word windows of the text.
//
// The bridge threshold is deliberately stricter than the general gate:
// a false exclusion silently hides a wanted post.
func ContainsNegative(text string, negatives []string, bridgeThreshold float64) (string, bool) {
	if len(negatives) == 0 {
		return "", false
	}

	normalizedText := textnorm.Normalize(text)
	if normalizedText == "" {
		return "", false
	}
	textTokens := strings.Fields(normalizedText)

	for _, negative := range negatives {
		phrase := textnorm.Normalize(negative)
		if phrase == "" {
			continue
		}
		if strings.Contains(normalizedText, phrase) {
			return negative, true
		}
		if bridgeMatch(phrase, textTokens, bridgeThreshold) {
			return negative, true
		}
	}
	return "", false
}

// bridgeMatch slides a window of the phrase's word count across the text
// tokens and compares trigram sets with Jaccard. Windowing keeps the
// comparison local: matching the phrase against the whole text would
// dilute the overlap with unrelated trigrams.
func bridgeMatch(phrase string, textTokens []string, threshold float64) bool {
	phraseGrams := textnorm.Trigrams(phrase)
	if len(phraseGrams) == 0 {
		return false
	}

	width := len(strings.Fields(phrase))
	if width == 0 || width > len(textTokens) {
		return false
	}

	for i := 0; i+width <= len(textTokens); i++ {
		window := strings.Join(textTokens[i:i+width], " ")
		if Jaccard(phraseGrams, textnorm.Trigrams(window)) >= threshold {
			return true
		}
	}
	return false
}
