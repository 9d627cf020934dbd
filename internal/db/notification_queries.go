package db

import (
	"context"
	"fmt"
	"time"
)

// IsNotified reports whether the (subscription, post, group) triple has
// already fired.
func (p *Pool) IsNotified(ctx context.Context, subscriptionID, postID, groupID int64) (bool, error) {
	const q = `
SELECT EXISTS (
	SELECT 1
	FROM bazaar.notifications
	WHERE subscription_id = $1
	  AND post_id = $2
	  AND group_id = $3
)
`
	var exists bool
	if err := p.QueryRow(ctx, q, subscriptionID, postID, groupID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check notification subscription_id=%d post_id=%d group_id=%d: %w",
			subscriptionID, postID, groupID, err)
	}
	return exists, nil
}

// MarkNotified appends a ledger entry, ignoring a duplicate triple. The
// unique index makes this safe under concurrent or retried dispatch; the
// return value reports whether this call inserted the entry.
func (p *Pool) MarkNotified(ctx context.Context, subscriptionID, postID, groupID int64, now time.Time) (bool, error) {
	const q = `
INSERT INTO bazaar.notifications (subscription_id, post_id, group_id, notified_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (subscription_id, post_id, group_id) DO NOTHING
`
	tag, err := p.Exec(ctx, q, subscriptionID, postID, groupID, now)
	if err != nil {
		return false, fmt.Errorf("mark notified subscription_id=%d post_id=%d group_id=%d: %w",
			subscriptionID, postID, groupID, err)
	}
	return tag.RowsAffected() == 1, nil
}
