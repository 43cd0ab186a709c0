package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"agora/api/internal/rbac"
)

var ErrNotFound = errors.New("not found")

type CategoryRepository interface {
	ListCategories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, id string) (Category, error)
	CreateCategory(ctx context.Context, c *Category) error
	UpdateCategory(ctx context.Context, c *Category) error
	// AdjustCategory applies counter deltas and, when at is non-nil, moves lastActivityAt.
	AdjustCategory(ctx context.Context, id string, topicDelta, postDelta int, at *time.Time) error
	RaiseTopicTier(ctx context.Context, id string, tier rbac.Tier) error
	// CountVisible recounts live topics (and their replies) a caller of tier may see.
	CountVisible(ctx context.Context, categoryID string, tier rbac.Tier) (VisibleStats, error)
}

// VisibleStats is a category aggregate restricted to one tier's view.
type VisibleStats struct {
	Topics         int
	Posts          int
	LastActivityAt *time.Time
}

type TopicQuery struct {
	CategoryID string
	MaxTier    rbac.Tier
	Tags       []string
	Text       string
}

type TopicRepository interface {
	CreateTopic(ctx context.Context, t *Topic) error
	GetTopic(ctx context.Context, id string) (Topic, error)
	// LockTopic reads a topic and holds it for the enclosing Atomic call.
	LockTopic(ctx context.Context, id string) (Topic, error)
	SaveTopic(ctx context.Context, t *Topic) error
	// ListTopics returns live topics in creation order.
	ListTopics(ctx context.Context, q TopicQuery) ([]Topic, error)
}

type PostQuery struct {
	CategoryID string
	MaxTier    rbac.Tier
	Text       string
}

type PostRepository interface {
	CreatePost(ctx context.Context, p *Post) error
	GetPost(ctx context.Context, id string) (Post, error)
	SavePost(ctx context.Context, p *Post) error
	// ListPosts returns every post of a topic, deleted ones included, in creation order.
	ListPosts(ctx context.Context, topicID string) ([]Post, error)
	ClearAcceptedAnswer(ctx context.Context, topicID string) error
	// SearchPosts returns live posts in live topics, in creation order.
	SearchPosts(ctx context.Context, q PostQuery) ([]Post, error)
}

type ReportRepository interface {
	CreateReport(ctx context.Context, r *Report) error
	GetReport(ctx context.Context, id string) (Report, error)
	LockReport(ctx context.Context, id string) (Report, error)
	SaveReport(ctx context.Context, r *Report) error
	// ListReports returns reports newest first; empty status means all.
	ListReports(ctx context.Context, status string) ([]Report, error)
	CountOpenReports(ctx context.Context, targetType, targetID string) (int, error)
	HasOpenReport(ctx context.Context, reporterID, targetType, targetID string) (bool, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *Notification) error
	GetNotification(ctx context.Context, id string) (Notification, error)
	SaveNotification(ctx context.Context, n *Notification) error
	// ListNotifications returns a recipient's notifications newest first.
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]Notification, error)
	MarkAllRead(ctx context.Context, recipientID string) (int, error)
}

type FollowRepository interface {
	FollowCategory(ctx context.Context, f Follow) error
	UnfollowCategory(ctx context.Context, userID, categoryID string) error
	ListFollowers(ctx context.Context, categoryID string) ([]Follow, error)
}

// AuthorRepository recovers the newest author snapshot per user from stored content.
type AuthorRepository interface {
	ListAuthors(ctx context.Context) ([]Author, error)
}

// Repositories is the whole persistence surface. Atomic runs fn as one unit: on the
// relational store a transaction, in memory a critical section over every collection.
type Repositories interface {
	CategoryRepository
	TopicRepository
	PostRepository
	ReportRepository
	NotificationRepository
	FollowRepository
	AuthorRepository
	Atomic(ctx context.Context, fn func(tx Repositories) error) error
	Ping(ctx context.Context) error
}

// MatchText is the case-insensitive substring test shared by every in-process search path.
func MatchText(query string, fields ...string) bool {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return true
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// HasAllTags reports whether have contains every tag in want.
func HasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
