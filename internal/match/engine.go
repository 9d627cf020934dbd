// Package match is the live entry point tying the stages together:
// lexical prefilter, semantic accumulate-and-block, LLM verification,
// ledger gate, dispatch. Each (subscription, post) evaluation owns its
// own state; a failure for one subscription never aborts the rest.
package match

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/bazaar/internal/db"
	"horse.fit/bazaar/internal/globaltime"
	"horse.fit/bazaar/internal/lexical"
	"horse.fit/bazaar/internal/notifier"
	"horse.fit/bazaar/internal/semantic"
	"horse.fit/bazaar/internal/textnorm"
	"horse.fit/bazaar/internal/verify"
)

const (
	DefaultLexicalGate   = 0.15
	DefaultBridgeLevel   = 0.85
	DefaultMinPostLength = 20

	ledgerWriteAttempts = 3
	ledgerWriteBackoff  = 2 * time.Second
)

// Store is the post/subscription read side the scan loop needs.
type Store interface {
	PendingPosts(ctx context.Context, limit int) ([]db.Post, error)
	ActiveSubscriptions(ctx context.Context) ([]db.Subscription, error)
	MarkPostScanned(ctx context.Context, postID int64, now time.Time) error
}

// VectorSource loads a subscription's cached keyword embeddings.
type VectorSource interface {
	SubscriptionVectors(ctx context.Context, subscriptionID int64, disabledNegative []string) (semantic.Vectors, bool, error)
}

// Ledger is the idempotent notification dedup store.
type Ledger interface {
	IsNotified(ctx context.Context, subscriptionID, postID, groupID int64) (bool, error)
	MarkNotified(ctx context.Context, subscriptionID, postID, groupID int64, now time.Time) (bool, error)
}

// SemanticMatcher runs the accumulate-and-block pass.
type SemanticMatcher interface {
	Match(ctx context.Context, vectors semantic.Vectors, text string) (semantic.Decision, error)
}

// Verifier runs the LLM cascade for one pair.
type Verifier interface {
	Verify(ctx context.Context, description string, candidate verify.Candidate) verify.Result
}

type Options struct {
	LexicalGate     float64
	BridgeThreshold float64
	MinPostLength   int
}

func (o Options) normalized() Options {
	if o.LexicalGate <= 0 {
		o.LexicalGate = DefaultLexicalGate
	}
	if o.BridgeThreshold <= 0 {
		o.BridgeThreshold = DefaultBridgeLevel
	}
	if o.MinPostLength <= 0 {
		o.MinPostLength = DefaultMinPostLength
	}
	return o
}

// Outcome is one subscription's verdict for a post, with the dispatch fate.
type Outcome struct {
	Subscription db.Subscription
	Result       verify.Result
	Dispatched   bool
}

type Engine struct {
	store   Store
	vectors VectorSource
	matcher SemanticMatcher
	cascade Verifier
	ledger  Ledger
	sender  notifier.Sender
	opts    Options
	logger  zerolog.Logger
}

func NewEngine(
	store Store,
	vectors VectorSource,
	matcher SemanticMatcher,
	cascade Verifier,
	ledger Ledger,
	sender notifier.Sender,
	opts Options,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		store:   store,
		vectors: vectors,
		matcher: matcher,
		cascade: cascade,
		ledger:  ledger,
		sender:  sender,
		opts:    opts.normalized(),
		logger:  logger,
	}
}

// ScanResult summarizes one scan pass.
type ScanResult struct {
	Posts      int
	Matches    int
	Dispatched int
	Errors     int
}

// ScanPending evaluates fresh posts against every active subscription,
// sequentially: all known backends enforce external rate limits, so the
// scan fans out one LLM call at a time rather than in parallel.
func (e *Engine) ScanPending(ctx context.Context, limit int) (ScanResult, error) {
	if e == nil || e.store == nil {
		return ScanResult{}, fmt.Errorf("match engine is not initialized")
	}
	if limit <= 0 {
		return ScanResult{}, nil
	}

	posts, err := e.store.PendingPosts(ctx, limit)
	if err != nil {
		return ScanResult{}, err
	}
	if len(posts) == 0 {
		return ScanResult{}, nil
	}

	subs, err := e.store.ActiveSubscriptions(ctx)
	if err != nil {
		return ScanResult{}, err
	}

	var result ScanResult
	for _, post := range posts {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Posts++

		outcomes := e.EvaluatePost(ctx, post, subs)
		for _, outcome := range outcomes {
			switch {
			case outcome.Result.Stage == verify.StageError:
				result.Errors++
			case outcome.Result.Match:
				result.Matches++
				if outcome.Dispatched {
					result.Dispatched++
				}
			}
		}

		if err := e.store.MarkPostScanned(ctx, post.PostID, globaltime.UTC()); err != nil {
			return result, err
		}
	}
	return result, nil
}

// EvaluatePost runs the full cascade for one post against a list of
// candidate subscriptions and dispatches the matches through the ledger
// gate. Posts below the minimum usable length are never matched.
func (e *Engine) EvaluatePost(ctx context.Context, post db.Post, subs []db.Subscription) []Outcome {
	if post.DeletedAt != nil {
		return nil
	}
	if textnorm.RuneLength(post.Text) < e.opts.MinPostLength {
		e.logger.Debug().Int64("post_id", post.PostID).Msg("post below minimum length, skipping")
		return nil
	}

	outcomes := make([]Outcome, 0, len(subs))
	for _, sub := range subs {
		result := e.evaluateOne(ctx, post, sub)
		outcome := Outcome{Subscription: sub, Result: result}
		if result.Match {
			outcome.Dispatched = e.dispatch(ctx, post, sub, result)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (e *Engine) evaluateOne(ctx context.Context, post db.Post, sub db.Subscription) verify.Result {
	logger := e.logger.With().
		Int64("post_id", post.PostID).
		Int64("subscription_id", sub.SubscriptionID).
		Logger()

	lists, err := sub.KeywordLists()
	if err != nil {
		logger.Error().Err(err).Msg("undecodable subscription keywords")
		return verify.Result{Stage: verify.StageError, Reason: "undecodable subscription keywords"}
	}
	if len(lists.Positive) == 0 {
		// An empty query matches nothing meaningfully.
		return verify.Result{Stage: verify.StageLexicalReject, Reason: "subscription has no positive keywords"}
	}

	if keyword, blocked := lexical.ContainsNegative(post.Text, lists.EnabledNegative(), e.opts.BridgeThreshold); blocked {
		return verify.Result{
			Stage:  verify.StageLexicalReject,
			Reason: fmt.Sprintf("negative keyword %q present", keyword),
		}
	}

	score := lexical.KeywordScore(post.Text, lists.Positive)
	if score < e.opts.LexicalGate {
		return verify.Result{
			Confidence: score,
			Stage:      verify.StageLexicalReject,
			Reason:     fmt.Sprintf("lexical score %.3f below gate", score),
		}
	}

	if degraded := e.semanticStage(ctx, post, sub, lists, logger); degraded != nil {
		return *degraded
	}

	return e.cascade.Verify(ctx, e.description(sub, lists), verify.Candidate{
		Text:     post.Text,
		HasPhoto: post.HasPhoto,
		ImageURL: derefString(post.PhotoURL),
	})
}

// semanticStage returns a terminal result when the semantic matcher can
// and does reject the pair; nil means "proceed to verification". A
// semantic match is deliberately not terminal: the cascade confirms it,
// since the accumulated cosine sum is evidence, not a verdict. An
// unavailable embedding backend degrades the engine to lexical plus LLM.
func (e *Engine) semanticStage(ctx context.Context, post db.Post, sub db.Subscription, lists db.KeywordLists, logger zerolog.Logger) *verify.Result {
	if e.vectors == nil || e.matcher == nil {
		return nil
	}

	vectors, cached, err := e.vectors.SubscriptionVectors(ctx, sub.SubscriptionID, lists.DisabledNegative)
	if err != nil {
		logger.Warn().Err(err).Msg("loading subscription vectors failed, skipping semantic stage")
		return nil
	}
	if !cached {
		return nil
	}

	decision, err := e.matcher.Match(ctx, vectors, post.Text)
	if err != nil {
		logger.Warn().Err(err).Msg("semantic matching failed, skipping semantic stage")
		return nil
	}

	if decision.BlockedBy != "" {
		return &verify.Result{
			Stage:  verify.StageSemanticBlock,
			Reason: fmt.Sprintf("semantically blocked by negative keyword %q", decision.BlockedBy),
		}
	}
	if !decision.Match {
		return &verify.Result{
			Confidence: decision.Score,
			Stage:      verify.StageSemanticReject,
			Reason:     fmt.Sprintf("accumulated semantic score %.3f below threshold", decision.Score),
		}
	}
	return nil
}

// dispatch sends the notification behind the ledger gate. The ledger
// write is retried on failure; the message is never re-sent without a
// recorded entry, since a duplicate dispatch is strictly worse than a
// delayed one.
func (e *Engine) dispatch(ctx context.Context, post db.Post, sub db.Subscription, result verify.Result) bool {
	if e.ledger == nil || e.sender == nil {
		return false
	}

	logger := e.logger.With().
		Int64("post_id", post.PostID).
		Int64("subscription_id", sub.SubscriptionID).
		Logger()

	already, err := e.ledger.IsNotified(ctx, sub.SubscriptionID, post.PostID, post.GroupID)
	if err != nil {
		logger.Error().Err(err).Msg("ledger check failed, withholding dispatch")
		return false
	}
	if already {
		return false
	}

	if err := e.sender.Notify(ctx, sub.UserChatID, notifier.FormatMatch(post, result)); err != nil {
		logger.Error().Err(err).Msg("notification dispatch failed")
		return false
	}

	for attempt := 1; attempt <= ledgerWriteAttempts; attempt++ {
		if _, err := e.ledger.MarkNotified(ctx, sub.SubscriptionID, post.PostID, post.GroupID, globaltime.UTC()); err == nil {
			return true
		} else if attempt == ledgerWriteAttempts {
			logger.Error().Err(err).Msg("ledger write failed after dispatch; duplicate risk until resolved")
			return true
		}

		select {
		case <-ctx.Done():
			logger.Error().Msg("cancelled while retrying ledger write after dispatch")
			return true
		case <-time.After(ledgerWriteBackoff):
		}
	}
	return true
}

func (e *Engine) description(sub db.Subscription, lists db.KeywordLists) string {
	if strings.TrimSpace(sub.Description) != "" {
		return sub.Description
	}
	return strings.Join(lists.Positive, ", ")
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
