package db

import (
	"context"
	"fmt"
	"time"
)

const postColumns = `
	p.post_id,
	p.group_id,
	p.message_id,
	p.group_title,
	p.text,
	p.sender,
	p.language,
	p.has_photo,
	p.photo_url,
	p.posted_at,
	p.scanned_at,
	p.deleted_at,
	p.created_at,
	p.updated_at
`

func scanPost(rows *Rows) (Post, error) {
	var post Post
	err := rows.Scan(
		&post.PostID,
		&post.GroupID,
		&post.MessageID,
		&post.GroupTitle,
		&post.Text,
		&post.Sender,
		&post.Language,
		&post.HasPhoto,
		&post.PhotoURL,
		&post.PostedAt,
		&post.ScannedAt,
		&post.DeletedAt,
		&post.CreatedAt,
		&post.UpdatedAt,
	)
	return post, err
}

// InsertPost stores one harvested post, ignoring re-ingestion of the
// same (group, message) pair. Returns whether a row was inserted and the
// post id either way.
func (p *Pool) InsertPost(ctx context.Context, post *Post) (bool, error) {
	const insert = `
INSERT INTO bazaar.posts (
	group_id,
	message_id,
	group_title,
	text,
	sender,
	language,
	has_photo,
	photo_url,
	posted_at,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (group_id, message_id) DO NOTHING
RETURNING post_id
`
	now := time.Now().UTC()
	err := p.QueryRow(
		ctx,
		insert,
		post.GroupID,
		post.MessageID,
		post.GroupTitle,
		post.Text,
		post.Sender,
		post.Language,
		post.HasPhoto,
		post.PhotoURL,
		post.PostedAt,
		now,
	).Scan(&post.PostID)
	if err == nil {
		return true, nil
	}
	if !IsNoRows(err) {
		return false, fmt.Errorf("insert post group_id=%d message_id=%d: %w", post.GroupID, post.MessageID, err)
	}

	const lookup = `
SELECT post_id
FROM bazaar.posts
WHERE group_id = $1 AND message_id = $2
`
	if err := p.QueryRow(ctx, lookup, post.GroupID, post.MessageID).Scan(&post.PostID); err != nil {
		return false, fmt.Errorf("lookup existing post group_id=%d message_id=%d: %w", post.GroupID, post.MessageID, err)
	}
	return false, nil
}

// GetPost fetches one post by id.
func (p *Pool) GetPost(ctx context.Context, postID int64) (Post, bool, error) {
	q := `SELECT ` + postColumns + ` FROM bazaar.posts p WHERE p.post_id = $1`

	rows, err := p.Query(ctx, q, postID)
	if err != nil {
		return Post{}, false, fmt.Errorf("query post post_id=%d: %w", postID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return Post{}, false, rows.Err()
	}
	post, err := scanPost(rows)
	if err != nil {
		return Post{}, false, fmt.Errorf("scan post post_id=%d: %w", postID, err)
	}
	return post, true, nil
}

// PendingPosts returns fresh posts awaiting a live matching pass.
// Soft-deleted posts are never live-matched.
func (p *Pool) PendingPosts(ctx context.Context, limit int) ([]Post, error) {
	q := `
SELECT ` + postColumns + `
FROM bazaar.posts p
WHERE p.scanned_at IS NULL
  AND p.deleted_at IS NULL
ORDER BY p.post_id
LIMIT $1
`
	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending posts: %w", err)
	}
	defer rows.Close()

	posts := make([]Post, 0, limit)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending posts: %w", err)
	}
	return posts, nil
}

// PostsByGroups returns the posts of the given groups, newest first. An
// empty groupIDs means every group. Retrieval keeps soft-deleted posts:
// they remain informative examples even though they are excluded from
// live matching.
func (p *Pool) PostsByGroups(ctx context.Context, groupIDs []int64, includeDeleted bool, limit int) ([]Post, error) {
	q := `
SELECT ` + postColumns + `
FROM bazaar.posts p
WHERE ($1::bigint[] IS NULL OR p.group_id = ANY($1))
`
	if !includeDeleted {
		q += `  AND p.deleted_at IS NULL
`
	}
	q += `ORDER BY p.posted_at DESC
LIMIT $2
`

	rows, err := p.Query(ctx, q, groupParam(groupIDs), limit)
	if err != nil {
		return nil, fmt.Errorf("query posts by groups: %w", err)
	}
	defer rows.Close()

	posts := make([]Post, 0, limit)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group posts: %w", err)
	}
	return posts, nil
}

// MarkPostScanned records that the live pipeline has evaluated a post.
func (p *Pool) MarkPostScanned(ctx context.Context, postID int64, now time.Time) error {
	const q = `
UPDATE bazaar.posts
SET scanned_at = $2, updated_at = $2
WHERE post_id = $1
`
	if _, err := p.Exec(ctx, q, postID, now); err != nil {
		return fmt.Errorf("mark post scanned post_id=%d: %w", postID, err)
	}
	return nil
}

// UpdatePostText replaces an edited post's text and clears the scan
// marker so the edit is re-evaluated.
func (p *Pool) UpdatePostText(ctx context.Context, postID int64, text string, now time.Time) error {
	const q = `
UPDATE bazaar.posts
SET text = $2, scanned_at = NULL, updated_at = $3
WHERE post_id = $1 AND deleted_at IS NULL
`
	if _, err := p.Exec(ctx, q, postID, text, now); err != nil {
		return fmt.Errorf("update post text post_id=%d: %w", postID, err)
	}
	return nil
}

// SoftDeletePost hides a post from live matching while keeping it
// available to retrieval.
func (p *Pool) SoftDeletePost(ctx context.Context, postID int64, now time.Time) error {
	const q = `
UPDATE bazaar.posts
SET deleted_at = $2, updated_at = $2
WHERE post_id = $1 AND deleted_at IS NULL
`
	if _, err := p.Exec(ctx, q, postID, now); err != nil {
		return fmt.Errorf("soft-delete post post_id=%d: %w", postID, err)
	}
	return nil
}

// UpsertGroup records a monitored group, refreshing its title.
func (p *Pool) UpsertGroup(ctx context.Context, groupID int64, title string, now time.Time) error {
	const q = `
INSERT INTO bazaar.groups (group_id, title, monitored, created_at, updated_at)
VALUES ($1, $2, TRUE, $3, $3)
ON CONFLICT (group_id) DO UPDATE
SET title = EXCLUDED.title, updated_at = EXCLUDED.updated_at
`
	if _, err := p.Exec(ctx, q, groupID, title, now); err != nil {
		return fmt.Errorf("upsert group group_id=%d: %w", groupID, err)
	}
	return nil
}

// groupParam renders a group filter argument: NULL disables the filter.
func groupParam(groupIDs []int64) any {
	if len(groupIDs) == 0 {
		return nil
	}
	return groupIDs
}
