package db

import (
	"encoding/json"
	"fmt"
	"time"
)

// Group maps bazaar.groups, one monitored chat.
type Group struct {
	GroupID   int64     `gorm:"column:group_id;primaryKey"`
	Title     string    `gorm:"column:title;type:text;not null"`
	Monitored bool      `gorm:"column:monitored;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Group) TableName() string { return "bazaar.groups" }

// Post maps bazaar.posts, one harvested marketplace message.
type Post struct {
	PostID     int64      `gorm:"column:post_id;primaryKey;autoIncrement"`
	GroupID    int64      `gorm:"column:group_id;type:bigint;not null;uniqueIndex:ux_posts_group_message"`
	MessageID  int64      `gorm:"column:message_id;type:bigint;not null;uniqueIndex:ux_posts_group_message"`
	GroupTitle string     `gorm:"column:group_title;type:text;not null;default:''"`
	Text       string     `gorm:"column:text;type:text;not null"`
	Sender     *string    `gorm:"column:sender;type:text"`
	Language   string     `gorm:"column:language;type:text;not null;default:und"`
	HasPhoto   bool       `gorm:"column:has_photo;not null;default:false"`
	PhotoURL   *string    `gorm:"column:photo_url;type:text"`
	PostedAt   time.Time  `gorm:"column:posted_at;type:timestamptz;not null"`
	ScannedAt  *time.Time `gorm:"column:scanned_at;type:timestamptz"`
	DeletedAt  *time.Time `gorm:"column:deleted_at;type:timestamptz"`
	CreatedAt  time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Post) TableName() string { return "bazaar.posts" }

// Subscription maps bazaar.subscriptions, one standing user query.
// Keyword lists are JSON arrays of strings. Disabled negative keywords
// stay in the negative list; the disabled list marks them off without
// loss so the user can toggle them back.
type Subscription struct {
	SubscriptionID           int64           `gorm:"column:subscription_id;primaryKey;autoIncrement"`
	UserChatID               int64           `gorm:"column:user_chat_id;type:bigint;not null"`
	PositiveKeywords         json.RawMessage `gorm:"column:positive_keywords;type:jsonb;not null;default:'[]'"`
	NegativeKeywords         json.RawMessage `gorm:"column:negative_keywords;type:jsonb;not null;default:'[]'"`
	DisabledNegativeKeywords json.RawMessage `gorm:"column:disabled_negative_keywords;type:jsonb;not null;default:'[]'"`
	Description              string          `gorm:"column:description;type:text;not null;default:''"`
	Active                   bool            `gorm:"column:active;not null;default:true"`
	EmbeddedAt               *time.Time      `gorm:"column:embedded_at;type:timestamptz"`
	CreatedAt                time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt                time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Subscription) TableName() string { return "bazaar.subscriptions" }

// KeywordLists is the decoded view of a subscription's keyword sets.
type KeywordLists struct {
	Positive         []string
	Negative         []string
	DisabledNegative []string
}

// EnabledNegative returns the negative keywords currently in force.
func (k KeywordLists) EnabledNegative() []string {
	if len(k.Negative) == 0 {
		return nil
	}
	disabled := make(map[string]struct{}, len(k.DisabledNegative))
	for _, keyword := range k.DisabledNegative {
		disabled[keyword] = struct{}{}
	}
	enabled := make([]string, 0, len(k.Negative))
	for _, keyword := range k.Negative {
		if _, off := disabled[keyword]; off {
			continue
		}
		enabled = append(enabled, keyword)
	}
	return enabled
}

// KeywordLists decodes the subscription's JSON keyword columns.
func (s *Subscription) KeywordLists() (KeywordLists, error) {
	var lists KeywordLists
	if err := decodeKeywords(s.PositiveKeywords, &lists.Positive); err != nil {
		return KeywordLists{}, fmt.Errorf("decode positive keywords for subscription_id=%d: %w", s.SubscriptionID, err)
	}
	if err := decodeKeywords(s.NegativeKeywords, &lists.Negative); err != nil {
		return KeywordLists{}, fmt.Errorf("decode negative keywords for subscription_id=%d: %w", s.SubscriptionID, err)
	}
	if err := decodeKeywords(s.DisabledNegativeKeywords, &lists.DisabledNegative); err != nil {
		return KeywordLists{}, fmt.Errorf("decode disabled negative keywords for subscription_id=%d: %w", s.SubscriptionID, err)
	}
	return lists, nil
}

func decodeKeywords(raw json.RawMessage, out *[]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// SubscriptionEmbedding maps bazaar.subscription_embeddings, one cached
// keyword vector. Kind is "positive" or "negative"; keyword_index keeps
// the vector aligned with the keyword list it was computed from.
type SubscriptionEmbedding struct {
	SubscriptionEmbeddingID int64     `gorm:"column:subscription_embedding_id;primaryKey;autoIncrement"`
	SubscriptionID          int64     `gorm:"column:subscription_id;type:bigint;not null;uniqueIndex:ux_subscription_embeddings_slot"`
	Kind                    string    `gorm:"column:kind;type:text;not null;uniqueIndex:ux_subscription_embeddings_slot"`
	KeywordIndex            int       `gorm:"column:keyword_index;type:integer;not null;uniqueIndex:ux_subscription_embeddings_slot"`
	Keyword                 string    `gorm:"column:keyword;type:text;not null"`
	Embedding               string    `gorm:"column:embedding;type:vector(1024);not null"`
	CreatedAt               time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (SubscriptionEmbedding) TableName() string { return "bazaar.subscription_embeddings" }

// PostEmbedding maps bazaar.post_embeddings, the semantic retrieval index.
type PostEmbedding struct {
	PostEmbeddingID int64     `gorm:"column:post_embedding_id;primaryKey;autoIncrement"`
	PostID          int64     `gorm:"column:post_id;type:bigint;not null;uniqueIndex:ux_post_embeddings_post"`
	ModelName       string    `gorm:"column:model_name;type:text;not null"`
	ModelVersion    string    `gorm:"column:model_version;type:text;not null"`
	Embedding       string    `gorm:"column:embedding;type:vector(1024);not null"`
	EmbeddedAt      time.Time `gorm:"column:embedded_at;type:timestamptz;not null"`
	ServiceEndpoint string    `gorm:"column:service_endpoint;type:text;not null;default:''"`
}

func (PostEmbedding) TableName() string { return "bazaar.post_embeddings" }

// Notification maps bazaar.notifications, the append-only ledger of
// dispatched matches. The unique triple is the sole correctness
// guarantee against duplicate notifications.
type Notification struct {
	NotificationID int64     `gorm:"column:notification_id;primaryKey;autoIncrement"`
	SubscriptionID int64     `gorm:"column:subscription_id;type:bigint;not null;uniqueIndex:ux_notifications_triple"`
	PostID         int64     `gorm:"column:post_id;type:bigint;not null;uniqueIndex:ux_notifications_triple"`
	GroupID        int64     `gorm:"column:group_id;type:bigint;not null;uniqueIndex:ux_notifications_triple"`
	NotifiedAt     time.Time `gorm:"column:notified_at;type:timestamptz;not null"`
}

func (Notification) TableName() string { return "bazaar.notifications" }

func autoMigrateModels() []any {
	return []any{
		&Group{},
		&Post{},
		&Subscription{},
		&SubscriptionEmbedding{},
		&PostEmbedding{},
		&Notification{},
	}
}
