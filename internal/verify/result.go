// Package verify implements the LLM text and image verification cascade,
// the most expensive and most failure-prone matching stage. It is invoked
// only for candidates that survived the cheaper filters, or standalone
// when a subscription has no cached embeddings yet.
package verify

// Stage labels which part of the pipeline decided an outcome.
type Stage string

const (
	StageLexicalReject  Stage = "lexical_reject"
	StageSemanticBlock  Stage = "semantic_block"
	StageSemanticReject Stage = "semantic_reject"
	StageTextVerified   Stage = "text_verified"
	StageVisionVerified Stage = "vision_verified"
	StageRejected       Stage = "rejected"
	StageError          Stage = "error"
)

// Verdict is the match/confidence/rationale triple every classification
// backend returns.
type Verdict struct {
	Match      bool
	Confidence float64
	Reason     string
}

// Result is the outcome of verifying one (subscription, post) pair. It is
// consumed immediately by the dispatch step and never persisted.
type Result struct {
	Match      bool
	Confidence float64
	Stage      Stage
	Reason     string
}

func errorResult(reason string) Result {
	return Result{
		Match:      false,
		Confidence: 0,
		Stage:      StageError,
		Reason:     reason,
	}
}
