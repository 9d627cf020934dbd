// Package semantic scores candidate text against a subscription's
// precomputed keyword embeddings using cosine similarity with
// accumulation and early termination.
package semantic

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// KeywordVector is one keyword with its precomputed embedding.
type KeywordVector struct {
	Keyword string
	Vector  []float64
}

// Vectors holds a subscription's cached keyword embeddings, aligned by
// keyword index within each list.
type Vectors struct {
	Positive []KeywordVector
	Negative []KeywordVector
}

// Empty reports whether there is nothing to score.
func (v Vectors) Empty() bool {
	return len(v.Positive) == 0 && len(v.Negative) == 0
}

// Decision is the matcher's verdict for one (subscription, text) pair.
type Decision struct {
	Match     bool
	Score     float64
	BlockedBy string
	// Evaluation counters let tests prove the early stop without
	// instrumenting the backend.
	PositiveEvaluated int
	NegativeEvaluated int
}

// Matcher walks positive and negative keyword lists in lock-step,
// accumulating positive similarity and treating any negative hit as a
// hard veto.
type Matcher struct {
	backend           Backend
	positiveThreshold float64
	negativeThreshold float64
	logger            zerolog.Logger
}

func NewMatcher(backend Backend, positiveThreshold, negativeThreshold float64, logger zerolog.Logger) *Matcher {
	return &Matcher{
		backend:           backend,
		positiveThreshold: positiveThreshold,
		negativeThreshold: negativeThreshold,
		logger:            logger,
	}
}

// Match embeds the candidate text once and interleaves negative and
// positive checks index by index. The negative check runs first at each
// index so a disqualifying signal always wins over positive evidence
// discovered later in the same pass. Accumulation is a sum: several
// weaker positive signals can together justify a match.
func (m *Matcher) Match(ctx context.Context, vectors Vectors, text string) (Decision, error) {
	if m == nil || m.backend == nil {
		return Decision{}, fmt.Errorf("semantic matcher is not initialized")
	}
	if vectors.Empty() {
		return Decision{}, nil
	}

	candidate, err := m.backend.Embed(ctx, text)
	if err != nil {
		return Decision{}, fmt.Errorf("embed candidate text: %w", err)
	}

	var decision Decision
	steps := max(len(vectors.Positive), len(vectors.Negative))
	for i := 0; i < steps; i++ {
		if i < len(vectors.Negative) {
			decision.NegativeEvaluated++
			similarity := Cosine(candidate, vectors.Negative[i].Vector)
			if similarity > m.negativeThreshold {
				decision.Match = false
				decision.Score = 0
				decision.BlockedBy = vectors.Negative[i].Keyword
				return decision, nil
			}
		}

		if i < len(vectors.Positive) {
			decision.PositiveEvaluated++
			decision.Score += Cosine(candidate, vectors.Positive[i].Vector)
			if decision.Score >= m.positiveThreshold {
				decision.Match = true
				return decision, nil
			}
		}
	}

	decision.Match = decision.Score >= m.positiveThreshold
	return decision, nil
}

// Cosine computes the cosine similarity of two vectors. A zero-norm or
// mismatched vector yields 0 rather than dividing by zero.
func Cosine(left, right []float64) float64 {
	if len(left) == 0 || len(left) != len(right) {
		return 0
	}

	var dot, leftNorm, rightNorm float64
	for i := range left {
		dot += left[i] * right[i]
		leftNorm += left[i] * left[i]
		rightNorm += right[i] * right[i]
	}
	if leftNorm == 0 || rightNorm == 0 {
		return 0
	}
	return dot / (math.Sqrt(leftNorm) * math.Sqrt(rightNorm))
}
