package verify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

const (
	// DefaultVisionThreshold is the decisiveness bar above which a
	// visual verdict is trusted without a text check. Inclusive.
	DefaultVisionThreshold = 0.75
	// DefaultTextThreshold gates the final text verdict.
	DefaultTextThreshold = 0.7

	// nearMissFloor starts the band of rejections worth human review.
	nearMissFloor = 0.5
)

// Candidate is the post-side input to one verification.
type Candidate struct {
	Text     string
	HasPhoto bool
	ImageURL string
}

// Cascade runs vision-then-text verification with graceful fallback
// between modalities. Every failure path is fail closed.
type Cascade struct {
	text            TextBackend
	vision          VisionBackend
	visionThreshold float64
	textThreshold   float64
	logger          zerolog.Logger
}

func NewCascade(text TextBackend, vision VisionBackend, visionThreshold, textThreshold float64, logger zerolog.Logger) *Cascade {
	if visionThreshold <= 0 {
		visionThreshold = DefaultVisionThreshold
	}
	if textThreshold <= 0 {
		textThreshold = DefaultTextThreshold
	}
	return &Cascade{
		text:            text,
		vision:          vision,
		visionThreshold: visionThreshold,
		textThreshold:   textThreshold,
		logger:          logger,
	}
}

// Verify classifies one candidate against a subscription description.
//
// When the post carries an image, vision runs first; a confidence at or
// above the decisiveness threshold is terminal. Below it, the visual
// rationale is kept as an uncertainty disclaimer and the text stage
// decides. A vision backend failure also falls through to text. A text
// backend failure returns a no-match error result: a failed verification
// must never pass as a silent match.
func (c *Cascade) Verify(ctx context.Context, description string, candidate Candidate) Result {
	if c == nil || c.text == nil {
		return errorResult("verification cascade is not initialized")
	}

	var uncertainDisclaimer string
	visionFailed := false

	if candidate.HasPhoto && candidate.ImageURL != "" && c.vision != nil {
		verdict, err := c.vision.Classify(ctx, candidate.ImageURL, description, candidate.Text)
		switch {
		case err != nil:
			visionFailed = true
			c.logger.Debug().Err(err).Msg("vision verification failed, falling through to text")
		case verdict.Confidence >= c.visionThreshold:
			stage := StageVisionVerified
			if !verdict.Match {
				stage = StageRejected
			}
			return Result{
				Match:      verdict.Match,
				Confidence: verdict.Confidence,
				Stage:      stage,
				Reason:     verdict.Reason,
			}
		default:
			uncertainDisclaimer = fmt.Sprintf("vision was uncertain (%.2f): %s", verdict.Confidence, verdict.Reason)
		}
	}

	verdict, err := c.text.Classify(ctx, candidate.Text, description, candidate.HasPhoto)
	if err != nil {
		c.logger.Warn().Err(err).Msg("text verification failed")
		return errorResult("text verification failed")
	}

	match := verdict.Match && verdict.Confidence >= c.textThreshold
	if verdict.Match && !match && verdict.Confidence >= nearMissFloor {
		// The band most likely to hold borderline mis-classifications.
		c.logger.Warn().
			Float64("confidence", verdict.Confidence).
			Str("reason", verdict.Reason).
			Msg("near-threshold verification rejection")
	}

	stage := StageTextVerified
	if !match {
		stage = StageRejected
	}
	return Result{
		Match:      match,
		Confidence: verdict.Confidence,
		Stage:      stage,
		Reason:     composeReason(uncertainDisclaimer, visionFailed, verdict.Reason),
	}
}

// VerifyBatch verifies one post against many subscription descriptions
// sequentially, respecting backend rate limits. A failure for one
// subscription is an isolated error result and never aborts the rest.
func (c *Cascade) VerifyBatch(ctx context.Context, descriptions []string, candidate Candidate) []Result {
	results := make([]Result, 0, len(descriptions))
	for _, description := range descriptions {
		results = append(results, c.Verify(ctx, description, candidate))
	}
	return results
}

func composeReason(uncertainDisclaimer string, visionFailed bool, textReason string) string {
	switch {
	case uncertainDisclaimer != "":
		return uncertainDisclaimer
	case visionFailed && textReason != "":
		return "image check unavailable; " + textReason
	case visionFailed:
		return "image check unavailable"
	default:
		return textReason
	}
}
