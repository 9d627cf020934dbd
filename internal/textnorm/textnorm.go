// Package textnorm provides the shared Unicode cleanup and character
// trigram representation used by every lexical scoring stage.
package textnorm

import (
	"strings"
	"unicode"
)

// Normalize lower-cases the input, drops everything except letters,
// digits and whitespace, and collapses whitespace runs into single spaces.
func Normalize(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

// Tokenize splits normalized text into lower-case word tokens.
func Tokenize(input string) []string {
	normalized := Normalize(input)
	if normalized == "" {
		return nil
	}

	parts := strings.Fields(normalized)
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		tokens = append(tokens, p)
	}
	return tokens
}

// Trigrams returns the set of character trigrams of the normalized input.
// Inputs shorter than three usable characters yield an empty set: such
// text cannot be scored and callers must reject it rather than receive a
// misleading score from a degenerate set.
func Trigrams(input string) map[string]struct{} {
	normalized := Normalize(input)
	if normalized == "" {
		return nil
	}

	runes := []rune(normalized)
	usable := 0
	for _, r := range runes {
		if r != ' ' {
			usable++
		}
	}
	if usable < 3 {
		return nil
	}

	set := make(map[string]struct{}, len(runes)-2)
	for i := 0; i <= len(runes)-3; i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

// RuneLength counts the usable characters of the normalized input. Used
// for the minimum post length gate so that markup and punctuation do not
// inflate a post past the threshold.
func RuneLength(input string) int {
	return len([]rune(Normalize(input)))
}
