package moderation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"agora/api/internal/forum"
	"agora/api/internal/log"
	"agora/api/internal/rbac"
	"agora/api/internal/store"
	"agora/api/internal/util"
)

const DefaultAlertThreshold = 3

var reasons = map[string]bool{
	"spam":           true,
	"inappropriate":  true,
	"harassment":     true,
	"misinformation": true,
	"other":          true,
}

var statuses = map[string]bool{
	store.ReportPending:   true,
	store.ReportReviewed:  true,
	store.ReportResolved:  true,
	store.ReportDismissed: true,
}

var alertsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "forum_moderation_alerts_total",
		Help: "Targets that reached the open report alert threshold",
	},
	[]string{"target_type"},
)

func init() {
	prometheus.MustRegister(alertsTotal)
}

// Service runs the report lifecycle: pending, reviewed, then resolved or dismissed.
// Reports never hide or delete content on their own.
type Service struct {
	repo           store.Repositories
	alertThreshold int
	clock          func() time.Time
}

func NewService(repo store.Repositories, alertThreshold int) *Service {
	if alertThreshold <= 0 {
		alertThreshold = DefaultAlertThreshold
	}
	return &Service{
		repo:           repo,
		alertThreshold: alertThreshold,
		clock:          func() time.Time { return time.Now().UTC() },
	}
}

type ReportInput struct {
	TargetType  string `json:"targetType"`
	TargetID    string `json:"targetId"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

type ResolveInput struct {
	Outcome string `json:"outcome"`
	Action  string `json:"action"`
}

// Report files a pending report and flags the target.
func (s *Service) Report(ctx context.Context, caller forum.Caller, in ReportInput) (store.Report, error) {
	if !caller.Authenticated() {
		return store.Report{}, forum.AccessDenied("sign in to report content")
	}
	targetType := strings.ToLower(strings.TrimSpace(in.TargetType))
	if targetType != store.TargetTopic && targetType != store.TargetPost {
		return store.Report{}, forum.Invalid("targetType", "target type must be topic or post")
	}
	reason := strings.ToLower(strings.TrimSpace(in.Reason))
	if !reasons[reason] {
		return store.Report{}, forum.Invalid("reason", "reason must be spam, inappropriate, harassment, misinformation or other")
	}

	var report store.Report
	err := s.repo.Atomic(ctx, func(tx store.Repositories) error {
		topic, post, err := lockTarget(ctx, tx, caller, targetType, in.TargetID)
		if err != nil {
			return err
		}
		open, err := tx.HasOpenReport(ctx, caller.UserID, targetType, in.TargetID)
		if err != nil {
			return err
		}
		if open {
			return forum.Invalid("targetId", "you already have an open report on this content")
		}
		report = store.Report{
			ID:           util.NewID("rep"),
			ReporterID:   caller.UserID,
			ReporterName: caller.Name,
			TargetType:   targetType,
			TargetID:     in.TargetID,
			TopicID:      topic.ID,
			Reason:       reason,
			Description:  strings.TrimSpace(in.Description),
			Status:       store.ReportPending,
			CreatedAt:    s.clock(),
		}
		if err := tx.CreateReport(ctx, &report); err != nil {
			return err
		}
		if targetType == store.TargetTopic {
			topic.IsReported = true
			topic.ReportCount++
			return tx.SaveTopic(ctx, &topic)
		}
		post.IsReported = true
		post.ReportCount++
		return tx.SavePost(ctx, &post)
	})
	if err != nil {
		return store.Report{}, err
	}
	s.alertIfNeeded(ctx, report)
	return report, nil
}

// lockTarget locks the topic behind a report target and checks the reporter can see it.
func lockTarget(ctx context.Context, tx store.Repositories, caller forum.Caller, targetType, targetID string) (store.Topic, store.Post, error) {
	topicID := targetID
	var post store.Post
	if targetType == store.TargetPost {
		p, err := tx.GetPost(ctx, targetID)
		if err != nil {
			return store.Topic{}, store.Post{}, notFound(err, "post", targetID)
		}
		post, topicID = p, p.TopicID
	}
	topic, err := tx.LockTopic(ctx, topicID)
	if err != nil {
		return store.Topic{}, store.Post{}, notFound(err, "topic", topicID)
	}
	if topic.IsDeleted || (targetType == store.TargetPost && post.IsDeleted) {
		return store.Topic{}, store.Post{}, forum.NotFound("%s %s not found", targetType, targetID)
	}
	if !rbac.CanView(caller.Tier, topic.RequiredTier) {
		return store.Topic{}, store.Post{}, forum.AccessDenied("topic requires a higher membership tier")
	}
	if targetType == store.TargetPost {
		// Re-read under the topic lock.
		if post, err = tx.GetPost(ctx, targetID); err != nil {
			return store.Topic{}, store.Post{}, err
		}
	}
	return topic, post, nil
}

func (s *Service) alertIfNeeded(ctx context.Context, report store.Report) {
	open, err := s.repo.CountOpenReports(ctx, report.TargetType, report.TargetID)
	if err != nil {
		log.L.Warn("count open reports", zap.String("target", report.TargetID), zap.Error(err))
		return
	}
	if open != s.alertThreshold {
		return
	}
	alertsTotal.WithLabelValues(report.TargetType).Inc()
	log.L.Warn("moderation alert: report threshold reached",
		zap.String("targetType", report.TargetType),
		zap.String("targetId", report.TargetID),
		zap.Int("openReports", open),
	)
}

// List returns reports newest first, optionally narrowed to one status.
func (s *Service) List(ctx context.Context, caller forum.Caller, status string) ([]store.Report, error) {
	if !caller.CanModerate() {
		return nil, forum.AccessDenied("moderator role required")
	}
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && !statuses[status] {
		return nil, forum.Invalid("status", "unknown report status: "+status)
	}
	return s.repo.ListReports(ctx, status)
}

func (s *Service) MarkReviewed(ctx context.Context, caller forum.Caller, id string) (store.Report, error) {
	return s.transition(ctx, caller, id, store.ReportReviewed, "")
}

// Resolve closes a report as resolved or dismissed. Closed reports cannot change again.
func (s *Service) Resolve(ctx context.Context, caller forum.Caller, id string, in ResolveInput) (store.Report, error) {
	outcome := strings.ToLower(strings.TrimSpace(in.Outcome))
	if outcome == "" {
		outcome = store.ReportResolved
	}
	if outcome != store.ReportResolved && outcome != store.ReportDismissed {
		return store.Report{}, forum.Invalid("outcome", "outcome must be resolved or dismissed")
	}
	return s.transition(ctx, caller, id, outcome, strings.TrimSpace(in.Action))
}

func (s *Service) transition(ctx context.Context, caller forum.Caller, id, to, action string) (store.Report, error) {
	if !caller.CanModerate() {
		return store.Report{}, forum.AccessDenied("moderator role required")
	}
	var report store.Report
	err := s.repo.Atomic(ctx, func(tx store.Repositories) error {
		r, err := tx.LockReport(ctx, id)
		if err != nil {
			return notFound(err, "report", id)
		}
		if r.Terminal() || (to == store.ReportReviewed && r.Status != store.ReportPending) {
			return forum.InvalidTransition(r.Status, to)
		}
		// Serialize against content mutations on the reported topic.
		if _, err := tx.LockTopic(ctx, r.TopicID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		now := s.clock()
		reviewer := caller.UserID
		r.Status = to
		r.ReviewedBy = &reviewer
		r.ReviewedAt = &now
		if action != "" {
			r.Action = action
		}
		report = r
		return tx.SaveReport(ctx, &r)
	})
	return report, err
}

// PendingCount is the size of the moderation queue.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	pending, err := s.repo.ListReports(ctx, store.ReportPending)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return forum.NotFound("%s %s not found", entity, id)
	}
	return err
}
