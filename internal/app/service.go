package app

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"agora/api/internal/attachment"
	"agora/api/internal/auth"
	"agora/api/internal/config"
	"agora/api/internal/forum"
	"agora/api/internal/log"
	"agora/api/internal/moderation"
	"agora/api/internal/notify"
	"agora/api/internal/rbac"
	"agora/api/internal/search"
	"agora/api/internal/store"
	"agora/api/internal/votes"
)

// Presigner issues attachment upload URLs. It is nil when object storage is not configured.
type Presigner interface {
	Presign(ctx context.Context, caller forum.Caller, filename, contentType string) (attachment.Upload, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Service is the forum facade. Every write goes through it so side effects run only
// after the primary mutation has committed.
type Service struct {
	cfg        config.Config
	repo       store.Repositories
	ladder     *rbac.Ladder
	ledger     votes.Ledger
	verifier   *auth.Verifier
	categories *forum.CategoryStore
	topics     *forum.TopicStore
	posts      *forum.PostStore
	moderation *moderation.Service
	index      *search.Index
	notifier   *notify.Generator
	presigner  Presigner
}

func New(
	cfg config.Config,
	repo store.Repositories,
	ladder *rbac.Ladder,
	ledger votes.Ledger,
	verifier *auth.Verifier,
	index *search.Index,
	mod *moderation.Service,
	notifier *notify.Generator,
	presigner Presigner,
) *Service {
	limits := forum.Limits{MaxTitle: cfg.MaxTitleLength, MaxBody: cfg.MaxBodyLength, MaxTags: cfg.MaxTags}
	if limits.MaxTitle <= 0 || limits.MaxBody <= 0 {
		limits = forum.DefaultLimits()
	}
	return &Service{
		cfg:        cfg,
		repo:       repo,
		ladder:     ladder,
		ledger:     ledger,
		verifier:   verifier,
		categories: forum.NewCategoryStore(repo, ladder),
		topics:     forum.NewTopicStore(repo, limits, ledger, cfg.UpvoteMilestones, index),
		posts:      forum.NewPostStore(repo, limits, ledger, cfg.UpvoteMilestones),
		moderation: mod,
		index:      index,
		notifier:   notifier,
		presigner:  presigner,
	}
}

// Authenticate resolves a bearer token. An empty token reads as an anonymous caller.
func (s *Service) Authenticate(token string) (forum.Caller, error) {
	if token == "" {
		return forum.Anonymous(), nil
	}
	caller, err := s.verifier.Caller(token)
	if err != nil {
		return forum.Caller{}, err
	}
	s.notifier.Directory().Learn(caller.Snapshot())
	return caller, nil
}

// Seed creates the configured categories that do not exist yet.
func (s *Service) Seed(ctx context.Context, seed config.Seed) error {
	inputs := make([]forum.CategoryInput, 0, len(seed.Categories))
	for _, c := range seed.Categories {
		inputs = append(inputs, forum.CategoryInput{ID: c.ID, Name: c.Name, Description: c.Description, Icon: c.Icon, Color: c.Color, Tier: c.Tier})
	}
	created, err := s.categories.Seed(ctx, inputs)
	if err != nil {
		return err
	}
	if created > 0 {
		log.L.Info("seeded categories", zap.Int("created", created))
	}
	return nil
}

// WarmDirectory teaches the mention directory every author already on record.
func (s *Service) WarmDirectory(ctx context.Context) error {
	n, err := s.notifier.Directory().Warm(ctx, s.repo)
	if err != nil {
		return err
	}
	log.L.Info("mention directory warmed", zap.Int("members", n))
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Checks reports readiness per dependency; nil means healthy.
func (s *Service) Checks(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.repo.Ping(ctx)}
	if p, ok := s.ledger.(pinger); ok {
		checks["votes"] = p.Ping(ctx)
	}
	return checks
}

func (s *Service) Tiers() []string { return s.ladder.Names() }

// Categories

func (s *Service) ListCategories(ctx context.Context, caller forum.Caller) ([]store.Category, error) {
	return s.categories.List(ctx, caller.Tier)
}

func (s *Service) GetCategory(ctx context.Context, caller forum.Caller, id string) (store.Category, error) {
	return s.categories.Get(ctx, id, caller.Tier)
}

func (s *Service) CreateCategory(ctx context.Context, caller forum.Caller, in forum.CategoryInput) (store.Category, error) {
	return s.categories.Create(ctx, caller, in)
}

func (s *Service) UpdateCategory(ctx context.Context, caller forum.Caller, id string, patch forum.CategoryPatch) (store.Category, error) {
	return s.categories.Update(ctx, caller, id, patch)
}

func (s *Service) FollowCategory(ctx context.Context, caller forum.Caller, id string) error {
	return s.categories.Follow(ctx, caller, id)
}

func (s *Service) UnfollowCategory(ctx context.Context, caller forum.Caller, id string) error {
	return s.categories.Unfollow(ctx, caller, id)
}

// Topics

func (s *Service) ListTopics(ctx context.Context, caller forum.Caller, filter forum.TopicFilter) (forum.TopicPage, error) {
	return s.topics.List(ctx, caller.Tier, filter)
}

func (s *Service) CreateTopic(ctx context.Context, caller forum.Caller, in forum.CreateTopicInput) (store.Topic, error) {
	topic, err := s.topics.Create(ctx, caller, in)
	if err != nil {
		return store.Topic{}, err
	}
	s.notifier.TopicCreated(ctx, topic)
	return topic, nil
}

func (s *Service) GetTopic(ctx context.Context, caller forum.Caller, id string) (store.Topic, error) {
	return s.topics.Get(ctx, caller.Tier, id)
}

func (s *Service) DeleteTopic(ctx context.Context, caller forum.Caller, id string) (store.Topic, error) {
	return s.topics.Delete(ctx, caller, id)
}

func (s *Service) VoteTopic(ctx context.Context, caller forum.Caller, id, direction string) (forum.VoteResult, error) {
	dir, err := parseDirection(direction)
	if err != nil {
		return forum.VoteResult{}, err
	}
	topic, result, err := s.topics.Vote(ctx, caller, id, dir)
	if err != nil {
		return forum.VoteResult{}, err
	}
	if len(result.Milestones) > 0 {
		s.notifier.UpvoteMilestones(ctx, topic, nil, result.Milestones)
	}
	return result, nil
}

func (s *Service) SetModerationFlags(ctx context.Context, caller forum.Caller, id string, flags forum.ModerationFlags) (store.Topic, error) {
	return s.topics.SetModerationFlags(ctx, caller, id, flags)
}

// Posts

func (s *Service) GetPosts(ctx context.Context, caller forum.Caller, topicID string) ([]*store.Post, error) {
	return s.posts.Tree(ctx, caller.Tier, topicID)
}

func (s *Service) CreatePost(ctx context.Context, caller forum.Caller, in forum.CreatePostInput) (store.Post, error) {
	created, err := s.posts.Create(ctx, caller, in)
	if err != nil {
		return store.Post{}, err
	}
	s.notifier.PostCreated(ctx, created.Topic, created.Post, created.Parent)
	return created.Post, nil
}

func (s *Service) EditPost(ctx context.Context, caller forum.Caller, postID, body string) (store.Post, error) {
	edited, err := s.posts.Edit(ctx, caller, postID, body)
	if err != nil {
		return store.Post{}, err
	}
	if len(edited.AddedMentions) > 0 {
		s.notifier.PostEdited(ctx, edited.Topic, edited.Post, edited.AddedMentions)
	}
	return edited.Post, nil
}

func (s *Service) DeletePost(ctx context.Context, caller forum.Caller, postID string) (store.Post, error) {
	return s.posts.SoftDelete(ctx, caller, postID)
}

func (s *Service) VotePost(ctx context.Context, caller forum.Caller, postID, direction string) (forum.VoteResult, error) {
	dir, err := parseDirection(direction)
	if err != nil {
		return forum.VoteResult{}, err
	}
	post, result, err := s.posts.Vote(ctx, caller, "", postID, dir)
	if err != nil {
		return forum.VoteResult{}, err
	}
	if len(result.Milestones) > 0 {
		topic, err := s.topics.Peek(ctx, s.ladder.Highest(), post.TopicID)
		if err != nil {
			log.L.Warn("milestone topic lookup", zap.String("topic", post.TopicID), zap.Error(err))
			return result, nil
		}
		s.notifier.UpvoteMilestones(ctx, topic, &post, result.Milestones)
	}
	return result, nil
}

func (s *Service) MarkAcceptedAnswer(ctx context.Context, caller forum.Caller, topicID, postID string) (store.Post, error) {
	return s.posts.MarkAccepted(ctx, caller, topicID, postID)
}

func parseDirection(value string) (votes.Direction, error) {
	dir, ok := votes.ParseDirection(value)
	if !ok {
		return dir, forum.Invalid("direction", "direction must be up or down")
	}
	return dir, nil
}

// Moderation

func (s *Service) ReportContent(ctx context.Context, caller forum.Caller, in moderation.ReportInput) (store.Report, error) {
	return s.moderation.Report(ctx, caller, in)
}

func (s *Service) ListReports(ctx context.Context, caller forum.Caller, status string) ([]store.Report, error) {
	return s.moderation.List(ctx, caller, status)
}

func (s *Service) MarkReportReviewed(ctx context.Context, caller forum.Caller, id string) (store.Report, error) {
	return s.moderation.MarkReviewed(ctx, caller, id)
}

func (s *Service) ResolveReport(ctx context.Context, caller forum.Caller, id string, in moderation.ResolveInput) (store.Report, error) {
	report, err := s.moderation.Resolve(ctx, caller, id, in)
	if err != nil {
		return store.Report{}, err
	}
	s.notifier.ReportResolved(ctx, report, caller.UserID)
	return report, nil
}

// Search

func (s *Service) Search(ctx context.Context, caller forum.Caller, q search.Query) (search.Response, error) {
	q.Tier = caller.Tier
	return s.index.Search(ctx, q)
}

// Notifications

func (s *Service) ListNotifications(ctx context.Context, caller forum.Caller, unreadOnly bool) ([]store.Notification, error) {
	if !caller.Authenticated() {
		return nil, forum.AccessDenied("sign in to read notifications")
	}
	return s.repo.ListNotifications(ctx, caller.UserID, unreadOnly)
}

// SetNotificationRead marks one notification read or unread. Only its recipient may change it.
func (s *Service) SetNotificationRead(ctx context.Context, caller forum.Caller, id string, read bool) (store.Notification, error) {
	n, err := s.repo.GetNotification(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Notification{}, forum.NotFound("notification %s not found", id)
		}
		return store.Notification{}, err
	}
	if n.RecipientID != caller.UserID {
		return store.Notification{}, forum.AccessDenied("only the recipient may update a notification")
	}
	n.IsRead = read
	if err := s.repo.SaveNotification(ctx, &n); err != nil {
		return store.Notification{}, err
	}
	return n, nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, caller forum.Caller) (int, error) {
	if !caller.Authenticated() {
		return 0, forum.AccessDenied("sign in to read notifications")
	}
	return s.repo.MarkAllRead(ctx, caller.UserID)
}

// Attachments

func (s *Service) PresignAttachment(ctx context.Context, caller forum.Caller, filename, contentType string) (attachment.Upload, error) {
	if s.presigner == nil {
		return attachment.Upload{}, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "attachment storage is not configured", nil)
	}
	return s.presigner.Presign(ctx, caller, filename, contentType)
}
