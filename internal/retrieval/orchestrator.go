// Package retrieval answers "find up to N posts relevant to this query"
// with a two-tier design: strict semantic search first, then lexical
// scanning at progressively relaxed thresholds. The relaxation exists
// because fixed thresholds frequently return zero examples for niche
// queries; it trades precision for recall only after the stricter path
// has already failed, and never below the configured floor.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/bazaar/internal/db"
	"horse.fit/bazaar/internal/lexical"
	"horse.fit/bazaar/internal/semantic"
	"horse.fit/bazaar/internal/textnorm"
)

const (
	defaultScanLimit   = 500
	defaultMinLength   = 20
	defaultBridgeLevel = 0.85
)

// SemanticIndex is the vector-index side of the post store.
type SemanticIndex interface {
	NearestPosts(ctx context.Context, vectorLiteral string, groupIDs []int64, limit int) ([]db.ScoredPost, error)
}

// PostSource is the scan side of the post store.
type PostSource interface {
	PostsByGroups(ctx context.Context, groupIDs []int64, includeDeleted bool, limit int) ([]db.Post, error)
}

// Query is one retrieval request. An empty GroupIDs searches every
// group.
type Query struct {
	Text     string
	Negative []string
	GroupIDs []int64
	Limit    int
}

// Hit is one retrieved post with its score and the strategy that found it.
type Hit struct {
	Post     db.Post
	Score    float64
	Strategy string
}

type Options struct {
	// Ladder is the descending lexical threshold sequence; the last
	// entry is the floor.
	Ladder          []float64
	BridgeThreshold float64
	MinPostLength   int
	ScanLimit       int
}

func (o Options) normalized() Options {
	if len(o.Ladder) == 0 {
		o.Ladder = []float64{0.15, 0.10}
	}
	if o.BridgeThreshold <= 0 {
		o.BridgeThreshold = defaultBridgeLevel
	}
	if o.MinPostLength <= 0 {
		o.MinPostLength = defaultMinLength
	}
	if o.ScanLimit <= 0 {
		o.ScanLimit = defaultScanLimit
	}
	return o
}

type Orchestrator struct {
	embed  semantic.Backend
	index  SemanticIndex
	posts  PostSource
	opts   Options
	logger zerolog.Logger
}

func NewOrchestrator(embed semantic.Backend, index SemanticIndex, posts PostSource, opts Options, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		embed:  embed,
		index:  index,
		posts:  posts,
		opts:   opts.normalized(),
		logger: logger,
	}
}

// strategy is one retrieval attempt. The runner tries each in order,
// keeps the best result set seen, and stops as soon as one fills the
// requested count.
type strategy struct {
	name string
	run  func(ctx context.Context) ([]Hit, error)
}

// Find returns up to query.Limit relevant posts. Failures degrade to the
// next strategy; the caller sees a smaller or empty result set, never an
// error from a backend outage.
func (o *Orchestrator) Find(ctx context.Context, query Query) ([]Hit, error) {
	if o == nil {
		return nil, fmt.Errorf("retrieval orchestrator is not initialized")
	}
	if strings.TrimSpace(query.Text) == "" {
		return nil, fmt.Errorf("query text is empty")
	}
	if query.Limit <= 0 {
		return nil, nil
	}

	strategies := []strategy{
		{
			name: "semantic",
			run: func(ctx context.Context) ([]Hit, error) {
				return o.semanticSearch(ctx, query)
			},
		},
	}
	for _, threshold := range o.opts.Ladder {
		threshold := threshold
		strategies = append(strategies, strategy{
			name: fmt.Sprintf("lexical@%.2f", threshold),
			run: func(ctx context.Context) ([]Hit, error) {
				return o.lexicalSearch(ctx, query, threshold)
			},
		})
	}

	var best []Hit
	for _, s := range strategies {
		hits, err := s.run(ctx)
		if err != nil {
			o.logger.Warn().Err(err).Str("strategy", s.name).Msg("retrieval strategy failed, falling back")
			continue
		}
		if len(hits) > len(best) {
			best = hits
		}
		if len(best) >= query.Limit {
			o.logger.Debug().Str("strategy", s.name).Int("hits", len(best)).Msg("retrieval satisfied")
			break
		}
	}

	if len(best) > query.Limit {
		best = best[:query.Limit]
	}
	return best, nil
}

func (o *Orchestrator) semanticSearch(ctx context.Context, query Query) ([]Hit, error) {
	if o.embed == nil || o.index == nil {
		return nil, fmt.Errorf("semantic retrieval unavailable")
	}

	vector, err := o.embed.Embed(ctx, query.Text)
	if err != nil {
		return nil, fmt.Errorf("embed retrieval query: %w", err)
	}
	literal, err := db.VectorLiteral(vector)
	if err != nil {
		return nil, fmt.Errorf("render query vector: %w", err)
	}

	// Over-fetch so negative filtering does not starve the result set.
	scored, err := o.index.NearestPosts(ctx, literal, query.GroupIDs, query.Limit*2)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, query.Limit)
	for _, candidate := range scored {
		if textnorm.RuneLength(candidate.Post.Text) < o.opts.MinPostLength {
			continue
		}
		if containsAnySubstring(candidate.Post.Text, query.Negative) {
			continue
		}
		hits = append(hits, Hit{
			Post:     candidate.Post,
			Score:    1 - candidate.Distance,
			Strategy: "semantic",
		})
		if len(hits) == query.Limit {
			break
		}
	}
	return hits, nil
}

func (o *Orchestrator) lexicalSearch(ctx context.Context, query Query, threshold float64) ([]Hit, error) {
	if o.posts == nil {
		return nil, fmt.Errorf("lexical retrieval unavailable")
	}

	posts, err := o.posts.PostsByGroups(ctx, query.GroupIDs, true, o.opts.ScanLimit)
	if err != nil {
		return nil, fmt.Errorf("scan group posts: %w", err)
	}

	keywords := textnorm.Tokenize(query.Text)
	name := fmt.Sprintf("lexical@%.2f", threshold)

	hits := make([]Hit, 0, query.Limit)
	for _, post := range posts {
		if textnorm.RuneLength(post.Text) < o.opts.MinPostLength {
			continue
		}
		if _, blocked := lexical.ContainsNegative(post.Text, query.Negative, o.opts.BridgeThreshold); blocked {
			continue
		}
		score := lexical.KeywordScore(post.Text, keywords)
		if score < threshold {
			continue
		}
		hits = append(hits, Hit{Post: post, Score: score, Strategy: name})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > query.Limit {
		hits = hits[:query.Limit]
	}
	return hits, nil
}

func containsAnySubstring(text string, negatives []string) bool {
	normalized := textnorm.Normalize(text)
	for _, negative := range negatives {
		phrase := textnorm.Normalize(negative)
		if phrase == "" {
			continue
		}
		if strings.Contains(normalized, phrase) {
			return true
		}
	}
	return false
}
