package verify

import (
	"encoding/json"
	"strings"
)

// parseKind tags how a backend response was decoded, so callers never
// probe fields defensively.
type parseKind int

const (
	parseStructured parseKind = iota
	parseSalvaged
	parseFailed
)

type parsedVerdict struct {
	kind    parseKind
	verdict Verdict
}

type verdictPayload struct {
	Match      bool    `json:"match"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// parseVerdict decodes a classification response. The structured JSON
// path is primary; when it fails, the last-resort salvage heuristic may
// still recover a usable low-confidence signal.
func parseVerdict(raw string) parsedVerdict {
	cleaned := stripCodeFence(raw)

	var payload verdictPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err == nil {
		return parsedVerdict{
			kind: parseStructured,
			verdict: Verdict{
				Match:      payload.Match,
				Confidence: clampUnit(payload.Confidence),
				Reason:     strings.TrimSpace(payload.Reason),
			},
		}
	}

	if verdict, ok := salvageVerdict(raw); ok {
		return parsedVerdict{kind: parseSalvaged, verdict: verdict}
	}
	return parsedVerdict{kind: parseFailed}
}

// salvageConfidence is deliberately low: a salvaged verdict is a weak
// signal and must not clear any decisiveness threshold on its own.
const salvageConfidence = 0.5

var affirmativeTokens = []string{"yes", "true", "match", "да"}
var negativeTokens = []string{"no", "false", "нет"}

// salvageVerdict is the explicit last-resort heuristic for non-JSON
// responses: a leading yes/no-like token is taken as a low-confidence
// verdict. Anything else is unusable.
func salvageVerdict(raw string) (Verdict, bool) {
	text := strings.ToLower(strings.TrimSpace(stripCodeFence(raw)))
	if text == "" {
		return Verdict{}, false
	}

	head := text
	if idx := strings.IndexAny(text, " .,:;!\n"); idx > 0 {
		head = text[:idx]
	}

	for _, token := range affirmativeTokens {
		if head == token {
			return Verdict{Match: true, Confidence: salvageConfidence, Reason: snippet(raw)}, true
		}
	}
	for _, token := range negativeTokens {
		if head == token {
			return Verdict{Match: false, Confidence: salvageConfidence, Reason: snippet(raw)}, true
		}
	}
	return Verdict{}, false
}

func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func snippet(raw string) string {
	const limit = 140
	trimmed := strings.TrimSpace(raw)
	runes := []rune(trimmed)
	if len(runes) <= limit {
		return trimmed
	}
	return string(runes[:limit])
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
