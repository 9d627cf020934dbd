package db

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultEmbeddingModelName    = "bge-m3"
	DefaultEmbeddingModelVersion = "v1"

	defaultSearchEF = 64
)

// InsertPostEmbedding caches one post vector for the retrieval index.
func (p *Pool) InsertPostEmbedding(ctx context.Context, postID int64, modelName, modelVersion, vectorLiteral, endpoint string, now time.Time) (bool, error) {
	const q = `
INSERT INTO bazaar.post_embeddings (
	post_id,
	model_name,
	model_version,
	embedding,
	embedded_at,
	service_endpoint
)
VALUES ($1, $2, $3, $4::vector, $5, $6)
ON CONFLICT (post_id) DO NOTHING
`
	tag, err := p.Exec(ctx, q, postID, modelName, modelVersion, vectorLiteral, now, endpoint)
	if err != nil {
		return false, fmt.Errorf("insert post embedding post_id=%d: %w", postID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// PostsMissingEmbeddings returns posts absent from the retrieval index.
func (p *Pool) PostsMissingEmbeddings(ctx context.Context, limit int) ([]Post, error) {
	q := `
SELECT ` + postColumns + `
FROM bazaar.posts p
WHERE NOT EXISTS (
	SELECT 1
	FROM bazaar.post_embeddings pe
	WHERE pe.post_id = p.post_id
)
ORDER BY p.post_id
LIMIT $1
`
	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query posts missing embeddings: %w", err)
	}
	defer rows.Close()

	posts := make([]Post, 0, limit)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unembedded post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unembedded posts: %w", err)
	}
	return posts, nil
}

// ScoredPost is one nearest-neighbour hit with its cosine distance.
type ScoredPost struct {
	Post     Post
	Distance float64
}

// NearestPosts runs the vector index scan scoped to the given groups,
// or over every group when groupIDs is empty. Soft-deleted posts stay
// eligible: the index serves retrieval, not the live stream.
func (p *Pool) NearestPosts(ctx context.Context, vectorLiteral string, groupIDs []int64, limit int) ([]ScoredPost, error) {
	if limit <= 0 {
		return nil, nil
	}

	if _, err := p.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", defaultSearchEF)); err != nil {
		return nil, fmt.Errorf("set hnsw.ef_search: %w", err)
	}

	q := `
SELECT ` + postColumns + `,
	(pe.embedding <=> $1::vector)::DOUBLE PRECISION AS distance
FROM bazaar.posts p
JOIN bazaar.post_embeddings pe ON pe.post_id = p.post_id
WHERE ($2::bigint[] IS NULL OR p.group_id = ANY($2))
ORDER BY pe.embedding <=> $1::vector ASC
LIMIT $3
`
	rows, err := p.Query(ctx, q, vectorLiteral, groupParam(groupIDs), limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest posts: %w", err)
	}
	defer rows.Close()

	hits := make([]ScoredPost, 0, limit)
	for rows.Next() {
		var hit ScoredPost
		err := rows.Scan(
			&hit.Post.PostID,
			&hit.Post.GroupID,
			&hit.Post.MessageID,
			&hit.Post.GroupTitle,
			&hit.Post.Text,
			&hit.Post.Sender,
			&hit.Post.Language,
			&hit.Post.HasPhoto,
			&hit.Post.PhotoURL,
			&hit.Post.PostedAt,
			&hit.Post.ScannedAt,
			&hit.Post.DeletedAt,
			&hit.Post.CreatedAt,
			&hit.Post.UpdatedAt,
			&hit.Distance,
		)
		if err != nil {
			return nil, fmt.Errorf("scan nearest post: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearest posts: %w", err)
	}
	return hits, nil
}
