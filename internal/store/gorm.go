package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"agora/api/internal/rbac"
)

// GormStore is the relational implementation of Repositories. Posts live in a flat
// table keyed by id with a parent_id column; trees are assembled on read.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open pgx-backed *sql.DB.
func NewGormStore(sqlDB *sql.DB) (*GormStore, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) DB() *gorm.DB { return s.db }

func (s *GormStore) Atomic(ctx context.Context, fn func(tx Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// likePattern escapes LIKE metacharacters so the query is a literal substring.
func likePattern(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(text)) + "%"
}

// Categories

func (s *GormStore) ListCategories(ctx context.Context) ([]Category, error) {
	var out []Category
	if err := s.db.WithContext(ctx).Order("position ASC, created_at ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out, nil
}

func (s *GormStore) GetCategory(ctx context.Context, id string) (Category, error) {
	var c Category
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&c).Error; err != nil {
		return Category{}, notFound(err)
	}
	return c, nil
}

func (s *GormStore) CreateCategory(ctx context.Context, c *Category) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

func (s *GormStore) UpdateCategory(ctx context.Context, c *Category) error {
	res := s.db.WithContext(ctx).Model(&Category{}).Where("id = ?", c.ID).Updates(map[string]any{
		"name":          c.Name,
		"description":   c.Description,
		"icon":          c.Icon,
		"color":         c.Color,
		"required_tier": c.RequiredTier,
		"position":      c.Position,
	})
	if res.Error != nil {
		return fmt.Errorf("update category: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) AdjustCategory(ctx context.Context, id string, topicDelta, postDelta int, at *time.Time) error {
	updates := map[string]any{
		"topic_count": gorm.Expr("topic_count + ?", topicDelta),
		"post_count":  gorm.Expr("post_count + ?", postDelta),
	}
	if at != nil {
		updates["last_activity_at"] = *at
	}
	res := s.db.WithContext(ctx).Model(&Category{}).Where("id = ?", id).UpdateColumns(updates)
	if res.Error != nil {
		return fmt.Errorf("adjust category: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) RaiseTopicTier(ctx context.Context, id string, tier rbac.Tier) error {
	err := s.db.WithContext(ctx).Model(&Category{}).Where("id = ?", id).
		UpdateColumn("max_topic_tier", gorm.Expr("GREATEST(max_topic_tier, ?)", tier)).Error
	if err != nil {
		return fmt.Errorf("raise topic tier: %w", err)
	}
	return nil
}

func (s *GormStore) CountVisible(ctx context.Context, categoryID string, tier rbac.Tier) (VisibleStats, error) {
	var row struct {
		Topics         int
		Posts          int
		LastActivityAt *time.Time
	}
	err := s.db.WithContext(ctx).Model(&Topic{}).
		Select(`COUNT(*) AS topics, COALESCE(SUM(reply_count), 0) AS posts,
			MAX(GREATEST(created_at, COALESCE((last_reply->>'createdAt')::timestamptz, created_at))) AS last_activity_at`).
		Where("category_id = ? AND is_deleted = false AND required_tier <= ?", categoryID, tier).
		Scan(&row).Error
	if err != nil {
		return VisibleStats{}, fmt.Errorf("count visible: %w", err)
	}
	return VisibleStats{Topics: row.Topics, Posts: row.Posts, LastActivityAt: row.LastActivityAt}, nil
}

// Topics

func (s *GormStore) CreateTopic(ctx context.Context, t *Topic) error {
	if err := s.db.WithContext(ctx).Omit("seq").Create(t).Error; err != nil {
		return fmt.Errorf("insert topic: %w", err)
	}
	return nil
}

func (s *GormStore) GetTopic(ctx context.Context, id string) (Topic, error) {
	var t Topic
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&t).Error; err != nil {
		return Topic{}, notFound(err)
	}
	return t, nil
}

func (s *GormStore) LockTopic(ctx context.Context, id string) (Topic, error) {
	var t Topic
	err := s.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&t).Error
	if err != nil {
		return Topic{}, notFound(err)
	}
	return t, nil
}

func (s *GormStore) SaveTopic(ctx context.Context, t *Topic) error {
	res := s.db.WithContext(ctx).Model(&Topic{}).Where("id = ?", t.ID).Select("*").Omit("seq", "id", "category_id", "created_at").Updates(t)
	if res.Error != nil {
		return fmt.Errorf("save topic: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListTopics(ctx context.Context, q TopicQuery) ([]Topic, error) {
	tx := s.db.WithContext(ctx).Where("is_deleted = false AND required_tier <= ?", q.MaxTier)
	if q.CategoryID != "" {
		tx = tx.Where("category_id = ?", q.CategoryID)
	}
	if len(q.Tags) > 0 {
		tags, err := json.Marshal(q.Tags)
		if err != nil {
			return nil, err
		}
		tx = tx.Where("tags @> ?::jsonb", string(tags))
	}
	if strings.TrimSpace(q.Text) != "" {
		pattern := likePattern(q.Text)
		tx = tx.Where(`(title ILIKE ? OR body ILIKE ? OR EXISTS (SELECT 1 FROM jsonb_array_elements_text(tags) tag WHERE tag ILIKE ?))`,
			pattern, pattern, pattern)
	}
	var out []Topic
	if err := tx.Order("seq ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return out, nil
}

// Posts

func (s *GormStore) CreatePost(ctx context.Context, p *Post) error {
	if err := s.db.WithContext(ctx).Omit("seq").Create(p).Error; err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (s *GormStore) GetPost(ctx context.Context, id string) (Post, error) {
	var p Post
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&p).Error; err != nil {
		return Post{}, notFound(err)
	}
	return p, nil
}

func (s *GormStore) SavePost(ctx context.Context, p *Post) error {
	res := s.db.WithContext(ctx).Model(&Post{}).Where("id = ?", p.ID).Select("*").Omit("seq", "id", "topic_id", "parent_id", "created_at").Updates(p)
	if res.Error != nil {
		return fmt.Errorf("save post: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListPosts(ctx context.Context, topicID string) ([]Post, error) {
	var out []Post
	if err := s.db.WithContext(ctx).Where("topic_id = ?", topicID).Order("seq ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return out, nil
}

func (s *GormStore) ClearAcceptedAnswer(ctx context.Context, topicID string) error {
	err := s.db.WithContext(ctx).Model(&Post{}).
		Where("topic_id = ? AND is_accepted_answer = true", topicID).
		UpdateColumn("is_accepted_answer", false).Error
	if err != nil {
		return fmt.Errorf("clear accepted answer: %w", err)
	}
	return nil
}

func (s *GormStore) SearchPosts(ctx context.Context, q PostQuery) ([]Post, error) {
	tx := s.db.WithContext(ctx).Model(&Post{}).
		Joins("JOIN topics ON topics.id = posts.topic_id").
		Where("posts.is_deleted = false AND topics.is_deleted = false AND topics.required_tier <= ?", q.MaxTier)
	if q.CategoryID != "" {
		tx = tx.Where("topics.category_id = ?", q.CategoryID)
	}
	if strings.TrimSpace(q.Text) != "" {
		tx = tx.Where("posts.body ILIKE ?", likePattern(q.Text))
	}
	var out []Post
	if err := tx.Select("posts.*").Order("posts.seq ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	return out, nil
}

// Reports

func (s *GormStore) CreateReport(ctx context.Context, r *Report) error {
	if err := s.db.WithContext(ctx).Omit("seq").Create(r).Error; err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *GormStore) GetReport(ctx context.Context, id string) (Report, error) {
	var r Report
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&r).Error; err != nil {
		return Report{}, notFound(err)
	}
	return r, nil
}

func (s *GormStore) LockReport(ctx context.Context, id string) (Report, error) {
	var r Report
	err := s.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&r).Error
	if err != nil {
		return Report{}, notFound(err)
	}
	return r, nil
}

func (s *GormStore) SaveReport(ctx context.Context, r *Report) error {
	res := s.db.WithContext(ctx).Model(&Report{}).Where("id = ?", r.ID).Updates(map[string]any{
		"status":      r.Status,
		"reviewed_by": r.ReviewedBy,
		"reviewed_at": r.ReviewedAt,
		"action":      r.Action,
	})
	if res.Error != nil {
		return fmt.Errorf("save report: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListReports(ctx context.Context, status string) ([]Report, error) {
	tx := s.db.WithContext(ctx)
	if status != "" {
		tx = tx.Where("status = ?", status)
	}
	var out []Report
	if err := tx.Order("seq DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return out, nil
}

var openStatuses = []string{ReportPending, ReportReviewed}

func (s *GormStore) CountOpenReports(ctx context.Context, targetType, targetID string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Report{}).
		Where("target_type = ? AND target_id = ? AND status IN ?", targetType, targetID, openStatuses).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count open reports: %w", err)
	}
	return int(n), nil
}

func (s *GormStore) HasOpenReport(ctx context.Context, reporterID, targetType, targetID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Report{}).
		Where("reporter_id = ? AND target_type = ? AND target_id = ? AND status IN ?", reporterID, targetType, targetID, openStatuses).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check open report: %w", err)
	}
	return n > 0, nil
}

// Notifications

func (s *GormStore) CreateNotification(ctx context.Context, n *Notification) error {
	if err := s.db.WithContext(ctx).Omit("seq").Create(n).Error; err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *GormStore) GetNotification(ctx context.Context, id string) (Notification, error) {
	var n Notification
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&n).Error; err != nil {
		return Notification{}, notFound(err)
	}
	return n, nil
}

func (s *GormStore) SaveNotification(ctx context.Context, n *Notification) error {
	res := s.db.WithContext(ctx).Model(&Notification{}).Where("id = ?", n.ID).UpdateColumn("is_read", n.IsRead)
	if res.Error != nil {
		return fmt.Errorf("save notification: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]Notification, error) {
	tx := s.db.WithContext(ctx).Where("recipient_id = ?", recipientID)
	if unreadOnly {
		tx = tx.Where("is_read = false")
	}
	var out []Notification
	if err := tx.Order("seq DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

func (s *GormStore) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	res := s.db.WithContext(ctx).Model(&Notification{}).
		Where("recipient_id = ? AND is_read = false", recipientID).
		UpdateColumn("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark all read: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Follows

func (s *GormStore) FollowCategory(ctx context.Context, f Follow) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "category_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tier"}),
	}).Create(&f).Error
	if err != nil {
		return fmt.Errorf("follow category: %w", err)
	}
	return nil
}

func (s *GormStore) UnfollowCategory(ctx context.Context, userID, categoryID string) error {
	err := s.db.WithContext(ctx).Where("user_id = ? AND category_id = ?", userID, categoryID).Delete(&Follow{}).Error
	if err != nil {
		return fmt.Errorf("unfollow category: %w", err)
	}
	return nil
}

func (s *GormStore) ListFollowers(ctx context.Context, categoryID string) ([]Follow, error) {
	var out []Follow
	if err := s.db.WithContext(ctx).Where("category_id = ?", categoryID).Order("created_at ASC, user_id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list followers: %w", err)
	}
	return out, nil
}

// Authors

const listAuthorsSQL = `
SELECT DISTINCT ON (author_id)
	author_id AS id, author_name AS name, author_handle AS handle,
	author_tier AS tier, author_role AS role,
	author_reputation AS reputation, author_post_count AS post_count
FROM (
	SELECT author_id, author_name, author_handle, author_tier, author_role,
		author_reputation, author_post_count, created_at FROM topics
	UNION ALL
	SELECT author_id, author_name, author_handle, author_tier, author_role,
		author_reputation, author_post_count, created_at FROM posts
) AS content
WHERE author_id <> '' AND author_handle <> ''
ORDER BY author_id, created_at DESC`

func (s *GormStore) ListAuthors(ctx context.Context) ([]Author, error) {
	var out []Author
	if err := s.db.WithContext(ctx).Raw(listAuthorsSQL).Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("list authors: %w", err)
	}
	return out, nil
}
