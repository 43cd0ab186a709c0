package forum

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"agora/api/internal/rbac"
	"agora/api/internal/store"
	"agora/api/internal/util"
)

var categoryIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,63}$`)

// CategoryStore owns categories and their denormalized counters.
type CategoryStore struct {
	repo   store.Repositories
	ladder *rbac.Ladder
	clock  func() time.Time
}

func NewCategoryStore(repo store.Repositories, ladder *rbac.Ladder) *CategoryStore {
	return &CategoryStore{repo: repo, ladder: ladder, clock: utcNow}
}

func utcNow() time.Time { return time.Now().UTC() }

type CategoryInput struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
	Tier        string `json:"tier"`
}

type CategoryPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Icon        *string `json:"icon"`
	Color       *string `json:"color"`
	Tier        *string `json:"tier"`
	Position    *int    `json:"position"`
}

// List returns the categories tier may view, in declaration order.
func (s *CategoryStore) List(ctx context.Context, tier rbac.Tier) ([]store.Category, error) {
	all, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]store.Category, 0, len(all))
	for _, c := range all {
		if !rbac.CanView(tier, c.RequiredTier) {
			continue
		}
		visible, err := s.visibleCounts(ctx, c, tier)
		if err != nil {
			return nil, err
		}
		out = append(out, visible)
	}
	return out, nil
}

func (s *CategoryStore) Get(ctx context.Context, id string, tier rbac.Tier) (store.Category, error) {
	c, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return store.Category{}, lookup(err, "category", id)
	}
	if !rbac.CanView(tier, c.RequiredTier) {
		return store.Category{}, AccessDenied("category requires a higher membership tier")
	}
	return s.visibleCounts(ctx, c, tier)
}

// visibleCounts recounts when the category holds topics above the caller's tier,
// so hidden topics never show up in aggregates or lastActivityAt.
func (s *CategoryStore) visibleCounts(ctx context.Context, c store.Category, tier rbac.Tier) (store.Category, error) {
	if tier >= c.MaxTopicTier {
		return c, nil
	}
	stats, err := s.repo.CountVisible(ctx, c.ID, tier)
	if err != nil {
		return store.Category{}, err
	}
	c.TopicCount, c.PostCount = stats.Topics, stats.Posts
	c.LastActivityAt = stats.LastActivityAt
	return c, nil
}

// IncrementActivity adjusts counters and lastActivityAt in one step.
func (s *CategoryStore) IncrementActivity(ctx context.Context, id string, topicDelta, postDelta int, at time.Time) error {
	return lookup(s.repo.AdjustCategory(ctx, id, topicDelta, postDelta, &at), "category", id)
}

func (s *CategoryStore) Create(ctx context.Context, caller Caller, in CategoryInput) (store.Category, error) {
	if err := requireAdmin(caller); err != nil {
		return store.Category{}, err
	}
	return s.create(ctx, in)
}

func (s *CategoryStore) create(ctx context.Context, in CategoryInput) (store.Category, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return store.Category{}, Invalid("name", "name is required")
	}
	tier, err := s.parseTier(in.Tier)
	if err != nil {
		return store.Category{}, err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = util.NewID("cat")
	} else if !categoryIDPattern.MatchString(id) {
		return store.Category{}, Invalid("id", "id must be a lower-case slug")
	}

	var created store.Category
	err = s.repo.Atomic(ctx, func(tx store.Repositories) error {
		if _, err := tx.GetCategory(ctx, id); err == nil {
			return Invalid("id", "category already exists")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		existing, err := tx.ListCategories(ctx)
		if err != nil {
			return err
		}
		created = store.Category{
			ID:           id,
			Name:         name,
			Description:  strings.TrimSpace(in.Description),
			Icon:         in.Icon,
			Color:        in.Color,
			RequiredTier: tier,
			Position:     len(existing),
			CreatedAt:    s.clock(),
		}
		return tx.CreateCategory(ctx, &created)
	})
	if err != nil {
		return store.Category{}, err
	}
	return created, nil
}

// Update edits category metadata. Changing the tier leaves existing topics at the tier they were created with.
func (s *CategoryStore) Update(ctx context.Context, caller Caller, id string, patch CategoryPatch) (store.Category, error) {
	if err := requireAdmin(caller); err != nil {
		return store.Category{}, err
	}
	var updated store.Category
	err := s.repo.Atomic(ctx, func(tx store.Repositories) error {
		c, err := tx.GetCategory(ctx, id)
		if err != nil {
			return lookup(err, "category", id)
		}
		if patch.Name != nil {
			if strings.TrimSpace(*patch.Name) == "" {
				return Invalid("name", "name is required")
			}
			c.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			c.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.Icon != nil {
			c.Icon = *patch.Icon
		}
		if patch.Color != nil {
			c.Color = *patch.Color
		}
		if patch.Tier != nil {
			tier, err := s.parseTier(*patch.Tier)
			if err != nil {
				return err
			}
			c.RequiredTier = tier
		}
		if patch.Position != nil {
			c.Position = *patch.Position
		}
		updated = c
		return tx.UpdateCategory(ctx, &c)
	})
	return updated, err
}

// Seed creates any configured category that does not exist yet. Existing ones are left alone.
func (s *CategoryStore) Seed(ctx context.Context, seeds []CategoryInput) (int, error) {
	created := 0
	for _, in := range seeds {
		if _, err := s.repo.GetCategory(ctx, in.ID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return created, err
		}
		if _, err := s.create(ctx, in); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func (s *CategoryStore) Follow(ctx context.Context, caller Caller, id string) error {
	if err := requireUser(caller); err != nil {
		return err
	}
	if _, err := s.Get(ctx, id, caller.Tier); err != nil {
		return err
	}
	return s.repo.FollowCategory(ctx, store.Follow{UserID: caller.UserID, CategoryID: id, Tier: caller.Tier, CreatedAt: s.clock()})
}

func (s *CategoryStore) Unfollow(ctx context.Context, caller Caller, id string) error {
	if err := requireUser(caller); err != nil {
		return err
	}
	if _, err := s.repo.GetCategory(ctx, id); err != nil {
		return lookup(err, "category", id)
	}
	return s.repo.UnfollowCategory(ctx, caller.UserID, id)
}

// parseTier accepts only names on the ladder; an empty name means the lowest tier.
func (s *CategoryStore) parseTier(name string) (rbac.Tier, error) {
	if strings.TrimSpace(name) == "" {
		return s.ladder.Lowest(), nil
	}
	tier, ok := s.ladder.Lookup(name)
	if !ok {
		return 0, Invalid("tier", "unknown membership tier: "+name)
	}
	return tier, nil
}
