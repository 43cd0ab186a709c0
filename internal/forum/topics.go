package forum

import (
	"context"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"

	"agora/api/internal/rbac"
	"agora/api/internal/store"
	"agora/api/internal/util"
	"agora/api/internal/votes"
)

type SortMode string

const (
	SortRecent  SortMode = "recent"
	SortPopular SortMode = "popular"
	SortOldest  SortMode = "oldest"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

func ParseSort(value string) (SortMode, error) {
	switch SortMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", SortRecent:
		return SortRecent, nil
	case SortPopular:
		return SortPopular, nil
	case SortOldest:
		return SortOldest, nil
	default:
		return "", Invalid("sort", "sort must be recent, popular or oldest")
	}
}

// TopicMatcher runs the substring part of a topic listing.
type TopicMatcher interface {
	MatchTopics(ctx context.Context, q store.TopicQuery) ([]store.Topic, error)
}

// TopicStore owns topics, their flags and tallies.
type TopicStore struct {
	repo       store.Repositories
	limits     Limits
	ledger     votes.Ledger
	milestones []int
	matcher    TopicMatcher
	clock      func() time.Time
}

func NewTopicStore(repo store.Repositories, limits Limits, ledger votes.Ledger, milestones []int, matcher TopicMatcher) *TopicStore {
	return &TopicStore{
		repo:       repo,
		limits:     limits,
		ledger:     ledger,
		milestones: milestones,
		matcher:    matcher,
		clock:      utcNow,
	}
}

type CreateTopicInput struct {
	CategoryID string   `json:"categoryId"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Tags       []string `json:"tags"`
}

type TopicFilter struct {
	CategoryID string
	Tags       []string
	Query      string
	Sort       SortMode
	Limit      int
	Offset     int
}

type TopicPage struct {
	Topics []store.Topic `json:"topics"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

type ModerationFlags struct {
	Pinned       *bool `json:"pinned"`
	Locked       *bool `json:"locked"`
	Announcement *bool `json:"announcement"`
}

// VoteResult carries the new tallies and any upvote milestones reached for the first time.
type VoteResult struct {
	Upvotes    int   `json:"upvotes"`
	Downvotes  int   `json:"downvotes"`
	Milestones []int `json:"-"`
}

// Create inserts a topic and counts it against its category in the same atomic unit.
func (s *TopicStore) Create(ctx context.Context, caller Caller, in CreateTopicInput) (store.Topic, error) {
	if err := requireUser(caller); err != nil {
		return store.Topic{}, err
	}
	var created store.Topic
	err := s.repo.Atomic(ctx, func(tx store.Repositories) error {
		category, err := tx.GetCategory(ctx, in.CategoryID)
		if err != nil {
			return lookup(err, "category", in.CategoryID)
		}
		if !rbac.CanPost(caller.Tier, category.RequiredTier) {
			return AccessDenied("category requires a higher membership tier")
		}
		title, err := validateTitle(in.Title, s.limits)
		if err != nil {
			return err
		}
		body, err := validateBody(in.Body, s.limits)
		if err != nil {
			return err
		}
		tags, err := NormalizeTags(in.Tags, s.limits)
		if err != nil {
			return err
		}

		now := s.clock()
		created = store.Topic{
			ID:              util.NewID("top"),
			CategoryID:      category.ID,
			Title:           title,
			Body:            body,
			Author:          caller.Snapshot(),
			CreatedAt:       now,
			UpdatedAt:       now,
			Tags:            datatypes.JSONSlice[string](tags),
			RequiredTier:    category.RequiredTier,
			MilestonesFired: datatypes.JSONSlice[int]{},
		}
		if err := tx.CreateTopic(ctx, &created); err != nil {
			return err
		}
		if err := tx.AdjustCategory(ctx, category.ID, 1, 0, &now); err != nil {
			return err
		}
		return tx.RaiseTopicTier(ctx, category.ID, created.RequiredTier)
	})
	if err != nil {
		return store.Topic{}, err
	}
	return created, nil
}

// List filters by tier first, then sorts with pinned topics in front, then paginates.
func (s *TopicStore) List(ctx context.Context, tier rbac.Tier, filter TopicFilter) (TopicPage, error) {
	if filter.CategoryID != "" {
		category, err := s.repo.GetCategory(ctx, filter.CategoryID)
		if err != nil {
			return TopicPage{}, lookup(err, "category", filter.CategoryID)
		}
		if !rbac.CanView(tier, category.RequiredTier) {
			return TopicPage{}, AccessDenied("category requires a higher membership tier")
		}
	}
	tags, err := NormalizeTags(filter.Tags, Limits{})
	if err != nil {
		return TopicPage{}, err
	}
	q := store.TopicQuery{CategoryID: filter.CategoryID, MaxTier: tier, Tags: tags, Text: strings.TrimSpace(filter.Query)}

	var topics []store.Topic
	if q.Text != "" && s.matcher != nil {
		topics, err = s.matcher.MatchTopics(ctx, q)
	} else {
		topics, err = s.repo.ListTopics(ctx, q)
	}
	if err != nil {
		return TopicPage{}, err
	}

	mode := filter.Sort
	if mode == "" {
		mode = SortRecent
	}
	SortTopics(topics, mode)

	limit, offset := pageBounds(filter.Limit, filter.Offset)
	page := TopicPage{Topics: []store.Topic{}, Total: len(topics), Limit: limit, Offset: offset}
	if offset < len(topics) {
		end := offset + limit
		if end > len(topics) {
			end = len(topics)
		}
		page.Topics = topics[offset:end]
	}
	return page, nil
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// SortTopics orders topics by mode, stably partitioning pinned topics to the front.
func SortTopics(topics []store.Topic, mode SortMode) {
	var less func(a, b store.Topic) bool
	switch mode {
	case SortPopular:
		less = func(a, b store.Topic) bool { return a.Score() > b.Score() }
	case SortOldest:
		less = func(a, b store.Topic) bool { return a.CreatedAt.Before(b.CreatedAt) }
	default:
		less = func(a, b store.Topic) bool { return a.UpdatedAt.After(b.UpdatedAt) }
	}
	sort.SliceStable(topics, func(i, j int) bool {
		if topics[i].Pinned != topics[j].Pinned {
			return topics[i].Pinned
		}
		return less(topics[i], topics[j])
	})
}

// Get returns a topic and counts the read as a view.
func (s *TopicStore) Get(ctx context.Context, tier rbac.Tier, id string) (store.Topic, error) {
	var topic store.Topic
	err := s.repo.Atomic(ctx, func(tx store.Repositories) error {
		t, err := s.lockVisible(ctx, tx, tier, id)
		if err != nil {
			return err
		}
		t.ViewCount++
		topic = t
		return tx.SaveTopic(ctx, &t)
	})
	return topic, err
}

// Peek reads a topic with the same checks as Get, without counting a view.
func (s *TopicStore) Peek(ctx context.Context, tier rbac.Tier, id string) (store.Topic, error) {
	t, err := s.repo.GetTopic(ctx, id)
	if err != nil {
		return store.Topic{}, lookup(err, "topic", id)
	}
	if t.IsDeleted {
		return store.Topic{}, NotFound("topic %s not found", id)
	}
	if !rbac.CanView(tier, t.RequiredTier) {
		return store.Topic{}, AccessDenied("topic requires a higher membership tier")
	}
	return t, nil
}

func (s *TopicStore) lockVisible(ctx context.Context, tx store.Repositories, tier rbac.Tier, id string) (store.Topic, error) {
	t, err := tx.LockTopic(ctx, id)
	if err != nil {
		return store.Topic{}, lookup(err, "topic", id)
	}
	if t.IsDeleted {
		return store.Topic{}, NotFound("topic %s not found", id)
	}
	if !rbac.CanView(tier, t.RequiredTier) {
		return store.Topic{}, AccessDenied("topic requires a higher membership tier")
	}
	return t, nil
}

func (s *TopicStore) Vote(ctx context.Context, caller Caller, id string, dir votes.Direction) (store.Topic, VoteResult, error) {
	if err := requireUser(caller); err != nil {
		return store.Topic{}, VoteResult{}, err
	}
	var (
		topic  store.Topic
		result VoteResult
	)
	err := s.repo.Atomic(ctx, func(tx store.Repositories) error {
		t, err := s.lockVisible(ctx, tx, caller.Tier, id)
		if err != nil {
			return err
		}
		delta, err := s.ledger.Cast(ctx, votes.Key(store.TargetTopic, id), caller.UserID, dir)
		if err != nil {
			return err
		}
		if delta.Zero() {
			topic, result = t, VoteResult{Upvotes: t.Upvotes, Downvotes: t.Downvotes}
			return nil
		}
		t.Upvotes += delta.Up
		t.Downvotes += delta.Down
		var reached []int
		t.MilestonesFired, reached = crossMilestones(t.MilestonesFired, t.Upvotes, s.milestones)
		topic, result = t, VoteResult{Upvotes: t.Upvotes, Downvotes: t.Downvotes, Milestones: reached}
		return tx.SaveTopic(ctx, &t)
	})
	return topic, result, err
}

// crossMilestones marks every milestone count has reached that has not fired before.
func crossMilestones(fired datatypes.JSONSlice[int], count int, milestones []int) (datatypes.JSONSlice[int], []int) {
	done := map[int]bool{}
	for _, m := range fired {
		done[m] = true
	}
	var reached []int
	for _, m := range milestones {
		if count >= m && !done[m] {
			fired = append(fired, m)
			reached = append(reached, m)
		}
	}
	if fired == nil {
		fired = datatypes.JSONSlice[int]{}
	}
	return fired, reached
}

func (s *TopicStore) SetModerationFlags(ctx context.Context, caller Caller, id string, flags ModerationFlags) (store.Topic, error) {
	if err := requireModerator(caller); err != nil {
		return store.Topic{}, err
	}
	var topic store.Topic
	err := s.repo.Atomic(ctx, func(tx store.Repositories) error {
		t, err := tx.LockTopic(ctx, id)
		if err != nil {
			return lookup(err, "topic", id)
		}
		if t.IsDeleted {
			return NotFound("topic %s not found", id)
		}
		if flags.Pinned != nil {
			t.Pinned = *flags.Pinned
		}
		if flags.Locked != nil {
			t.Locked = *flags.Locked
		}
		if flags.Announcement != nil {
			t.Announcement = *flags.Announcement
		}
		topic = t
		return tx.SaveTopic(ctx, &t)
	})
	return topic, err
}

// Delete soft-deletes a topic and removes it, and its replies, from the category counters.
func (s *TopicStore) Delete(ctx context.Context, caller Caller, id string) (store.Topic, error) {
	var topic store.Topic
	err := s.repo.Atomic(ctx, func(tx store.Repositories) error {
		t, err := s.lockVisible(ctx, tx, caller.Tier, id)
		if err != nil {
			return err
		}
		if err := ownsOrModerates(caller, t.Author); err != nil {
			return err
		}
		now := s.clock()
		t.IsDeleted = true
		t.DeletedAt = &now
		if err := tx.SaveTopic(ctx, &t); err != nil {
			return err
		}
		topic = t
		return tx.AdjustCategory(ctx, t.CategoryID, -1, -t.ReplyCount, nil)
	})
	return topic, err
}
