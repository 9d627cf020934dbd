package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"horse.fit/bazaar/internal/semantic"
)

const subscriptionColumns = `
	s.subscription_id,
	s.user_chat_id,
	s.positive_keywords,
	s.negative_keywords,
	s.disabled_negative_keywords,
	s.description,
	s.active,
	s.embedded_at,
	s.created_at,
	s.updated_at
`

func scanSubscription(rows *Rows) (Subscription, error) {
	var sub Subscription
	err := rows.Scan(
		&sub.SubscriptionID,
		&sub.UserChatID,
		&sub.PositiveKeywords,
		&sub.NegativeKeywords,
		&sub.DisabledNegativeKeywords,
		&sub.Description,
		&sub.Active,
		&sub.EmbeddedAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	return sub, err
}

// ActiveSubscriptions returns every subscription currently in force.
func (p *Pool) ActiveSubscriptions(ctx context.Context) ([]Subscription, error) {
	q := `
SELECT ` + subscriptionColumns + `
FROM bazaar.subscriptions s
WHERE s.active
ORDER BY s.subscription_id
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query active subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]Subscription, 0, 64)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

// SubscriptionsMissingEmbeddings returns active subscriptions whose
// keyword embeddings have not been cached yet, for the backfill job.
func (p *Pool) SubscriptionsMissingEmbeddings(ctx context.Context, limit int) ([]Subscription, error) {
	q := `
SELECT ` + subscriptionColumns + `
FROM bazaar.subscriptions s
WHERE s.active
  AND s.embedded_at IS NULL
ORDER BY s.subscription_id
LIMIT $1
`
	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions missing embeddings: %w", err)
	}
	defer rows.Close()

	subs := make([]Subscription, 0, limit)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending subscriptions: %w", err)
	}
	return subs, nil
}

// KeywordEmbedding is one keyword vector to cache.
type KeywordEmbedding struct {
	Kind          string
	KeywordIndex  int
	Keyword       string
	VectorLiteral string
}

// ReplaceSubscriptionEmbeddings swaps a subscription's cached keyword
// vectors and stamps embedded_at, all in one transaction so a concurrent
// scan never reads a partial vector set. Keyword edits invalidate the
// whole cache, so the replacement is wholesale rather than per slot.
func (p *Pool) ReplaceSubscriptionEmbeddings(ctx context.Context, subscriptionID int64, embeddings []KeywordEmbedding, now time.Time) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	const clear = `DELETE FROM bazaar.subscription_embeddings WHERE subscription_id = $1`

	const insert = `
INSERT INTO bazaar.subscription_embeddings (
	subscription_id,
	kind,
	keyword_index,
	keyword,
	embedding,
	created_at
)
VALUES ($1, $2, $3, $4, $5::vector, $6)
ON CONFLICT (subscription_id, kind, keyword_index) DO UPDATE
SET keyword = EXCLUDED.keyword, embedding = EXCLUDED.embedding, created_at = EXCLUDED.created_at
`

	const stamp = `
UPDATE bazaar.subscriptions
SET embedded_at = $2, updated_at = $2
WHERE subscription_id = $1
`

	return p.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(clear, subscriptionID).Error; err != nil {
			return fmt.Errorf("clear subscription embeddings subscription_id=%d: %w", subscriptionID, err)
		}
		for _, embedding := range embeddings {
			if err := tx.Exec(insert, subscriptionID, embedding.Kind, embedding.KeywordIndex, embedding.Keyword, embedding.VectorLiteral, now).Error; err != nil {
				return fmt.Errorf("insert subscription embedding subscription_id=%d kind=%s index=%d: %w",
					subscriptionID, embedding.Kind, embedding.KeywordIndex, err)
			}
		}
		if err := tx.Exec(stamp, subscriptionID, now).Error; err != nil {
			return fmt.Errorf("stamp subscription embedded_at subscription_id=%d: %w", subscriptionID, err)
		}
		return nil
	})
}

// SubscriptionVectors loads a subscription's cached keyword vectors,
// skipping negatives the user has toggled off. The boolean reports
// whether any vectors exist at all.
func (p *Pool) SubscriptionVectors(ctx context.Context, subscriptionID int64, disabledNegative []string) (semantic.Vectors, bool, error) {
	const q = `
SELECT kind, keyword, embedding::text
FROM bazaar.subscription_embeddings
WHERE subscription_id = $1
ORDER BY kind, keyword_index
`
	rows, err := p.Query(ctx, q, subscriptionID)
	if err != nil {
		return semantic.Vectors{}, false, fmt.Errorf("query subscription vectors subscription_id=%d: %w", subscriptionID, err)
	}
	defer rows.Close()

	disabled := make(map[string]struct{}, len(disabledNegative))
	for _, keyword := range disabledNegative {
		disabled[keyword] = struct{}{}
	}

	var vectors semantic.Vectors
	for rows.Next() {
		var kind, keyword, literal string
		if err := rows.Scan(&kind, &keyword, &literal); err != nil {
			return semantic.Vectors{}, false, fmt.Errorf("scan subscription vector: %w", err)
		}

		vector, err := ParseVectorLiteral(literal)
		if err != nil {
			return semantic.Vectors{}, false, fmt.Errorf("parse subscription vector subscription_id=%d keyword=%q: %w", subscriptionID, keyword, err)
		}

		entry := semantic.KeywordVector{Keyword: keyword, Vector: vector}
		switch kind {
		case "positive":
			vectors.Positive = append(vectors.Positive, entry)
		case "negative":
			if _, off := disabled[keyword]; off {
				continue
			}
			vectors.Negative = append(vectors.Negative, entry)
		}
	}
	if err := rows.Err(); err != nil {
		return semantic.Vectors{}, false, fmt.Errorf("iterate subscription vectors: %w", err)
	}
	return vectors, !vectors.Empty(), nil
}

// UpdateSubscriptionKeywords replaces the keyword lists and clears the
// embedding stamp so the backfill job recomputes the cache.
func (p *Pool) UpdateSubscriptionKeywords(ctx context.Context, subscriptionID int64, lists KeywordLists, now time.Time) error {
	positive, err := json.Marshal(lists.Positive)
	if err != nil {
		return fmt.Errorf("marshal positive keywords: %w", err)
	}
	negative, err := json.Marshal(lists.Negative)
	if err != nil {
		return fmt.Errorf("marshal negative keywords: %w", err)
	}
	disabled, err := json.Marshal(lists.DisabledNegative)
	if err != nil {
		return fmt.Errorf("marshal disabled negative keywords: %w", err)
	}

	const q = `
UPDATE bazaar.subscriptions
SET positive_keywords = $2::jsonb,
	negative_keywords = $3::jsonb,
	disabled_negative_keywords = $4::jsonb,
	embedded_at = NULL,
	updated_at = $5
WHERE subscription_id = $1
`
	if _, err := p.Exec(ctx, q, subscriptionID, string(positive), string(negative), string(disabled), now); err != nil {
		return fmt.Errorf("update subscription keywords subscription_id=%d: %w", subscriptionID, err)
	}
	return nil
}

// DeactivateSubscription soft-disables a subscription; nothing is deleted.
func (p *Pool) DeactivateSubscription(ctx context.Context, subscriptionID int64, now time.Time) error {
	const q = `
UPDATE bazaar.subscriptions
SET active = FALSE, updated_at = $2
WHERE subscription_id = $1
`
	if _, err := p.Exec(ctx, q, subscriptionID, now); err != nil {
		return fmt.Errorf("deactivate subscription subscription_id=%d: %w", subscriptionID, err)
	}
	return nil
}
