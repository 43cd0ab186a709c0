package store

import (
	"time"

	"gorm.io/datatypes"

	"agora/api/internal/rbac"
)

// Author is a copy of the caller identity taken when content is written.
type Author struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Handle     string    `json:"handle,omitempty"`
	Tier       rbac.Tier `json:"tier"`
	Role       string    `json:"role"`
	Reputation int       `json:"reputation"`
	PostCount  int       `json:"postCount"`
}

type Category struct {
	ID             string     `gorm:"primaryKey" json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Icon           string     `json:"icon,omitempty"`
	Color          string     `json:"color,omitempty"`
	RequiredTier   rbac.Tier  `json:"requiredTier"`
	Position       int        `json:"position"`
	TopicCount     int        `json:"topicCount"`
	PostCount      int        `json:"postCount"`
	MaxTopicTier   rbac.Tier  `json:"-"`
	LastActivityAt *time.Time `json:"lastActivityAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// LastReply is the denormalized summary of a topic's newest post.
type LastReply struct {
	PostID     string    `json:"postId"`
	AuthorName string    `json:"authorName"`
	CreatedAt  time.Time `json:"createdAt"`
	Preview    string    `json:"preview"`
}

type Topic struct {
	Seq             int64                       `gorm:"->" json:"-"`
	ID              string                      `gorm:"primaryKey" json:"id"`
	CategoryID      string                      `json:"categoryId"`
	Title           string                      `json:"title"`
	Body            string                      `json:"body"`
	Author          Author                      `gorm:"embedded;embeddedPrefix:author_" json:"author"`
	CreatedAt       time.Time                   `json:"createdAt"`
	UpdatedAt       time.Time                   `json:"updatedAt"`
	Pinned          bool                        `json:"pinned"`
	Locked          bool                        `json:"locked"`
	Announcement    bool                        `json:"announcement"`
	ReplyCount      int                         `json:"replyCount"`
	ViewCount       int                         `json:"viewCount"`
	Upvotes         int                         `json:"upvotes"`
	Downvotes       int                         `json:"downvotes"`
	Tags            datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"tags"`
	RequiredTier    rbac.Tier                   `json:"requiredTier"`
	LastReply       *LastReply                  `gorm:"serializer:json;type:jsonb" json:"lastReply,omitempty"`
	IsReported      bool                        `json:"isReported"`
	ReportCount     int                         `json:"reportCount"`
	MilestonesFired datatypes.JSONSlice[int]    `gorm:"type:jsonb" json:"-"`
	IsDeleted       bool                        `json:"isDeleted,omitempty"`
	DeletedAt       *time.Time                  `json:"-"`
}

// Score is the net vote total used by the popular sort.
func (t Topic) Score() int { return t.Upvotes - t.Downvotes }

type Attachment struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type Post struct {
	Seq              int64                           `gorm:"->" json:"-"`
	ID               string                          `gorm:"primaryKey" json:"id"`
	TopicID          string                          `json:"topicId"`
	ParentID         *string                         `json:"parentId,omitempty"`
	Author           Author                          `gorm:"embedded;embeddedPrefix:author_" json:"author"`
	Body             string                          `json:"body"`
	CreatedAt        time.Time                       `json:"createdAt"`
	EditedAt         *time.Time                      `json:"editedAt,omitempty"`
	Upvotes          int                             `json:"upvotes"`
	Downvotes        int                             `json:"downvotes"`
	Attachments      datatypes.JSONSlice[Attachment] `gorm:"type:jsonb" json:"attachments"`
	IsDeleted        bool                            `json:"isDeleted"`
	DeletedAt        *time.Time                      `json:"-"`
	IsReported       bool                            `json:"isReported"`
	ReportCount      int                             `json:"reportCount"`
	Mentions         datatypes.JSONSlice[string]     `gorm:"type:jsonb" json:"mentions"`
	IsAcceptedAnswer bool                            `json:"isAcceptedAnswer"`
	MilestonesFired  datatypes.JSONSlice[int]        `gorm:"type:jsonb" json:"-"`
	Replies          []*Post                         `gorm:"-" json:"replies"`
}

func (p Post) Score() int { return p.Upvotes - p.Downvotes }

const (
	TargetTopic = "topic"
	TargetPost  = "post"
)

const (
	ReportPending   = "pending"
	ReportReviewed  = "reviewed"
	ReportResolved  = "resolved"
	ReportDismissed = "dismissed"
)

type Report struct {
	Seq          int64      `gorm:"->" json:"-"`
	ID           string     `gorm:"primaryKey" json:"id"`
	ReporterID   string     `json:"reporterId"`
	ReporterName string     `json:"reporterName"`
	TargetType   string     `json:"targetType"`
	TargetID     string     `json:"targetId"`
	TopicID      string     `json:"topicId"`
	Reason       string     `json:"reason"`
	Description  string     `json:"description"`
	Status       string     `json:"status"`
	ReviewedBy   *string    `json:"reviewedBy,omitempty"`
	ReviewedAt   *time.Time `json:"reviewedAt,omitempty"`
	Action       string     `json:"action,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Terminal reports whether no further status change is allowed.
func (r Report) Terminal() bool {
	return r.Status == ReportResolved || r.Status == ReportDismissed
}

const (
	NotifyReply      = "reply"
	NotifyMention    = "mention"
	NotifyUpvote     = "upvote"
	NotifyNewTopic   = "new_topic"
	NotifyModeration = "moderation"
)

type Notification struct {
	Seq         int64     `gorm:"->" json:"-"`
	ID          string    `gorm:"primaryKey" json:"id"`
	RecipientID string    `json:"recipientId"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	TopicID     string    `json:"topicId,omitempty"`
	PostID      string    `json:"postId,omitempty"`
	IsRead      bool      `json:"isRead"`
	ActionURL   string    `json:"actionUrl"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Follow subscribes a user to new topics in a category. Tier is the follower's tier when they followed.
type Follow struct {
	UserID     string    `gorm:"primaryKey" json:"userId"`
	CategoryID string    `gorm:"primaryKey" json:"categoryId"`
	Tier       rbac.Tier `json:"tier"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (Follow) TableName() string { return "category_follows" }
