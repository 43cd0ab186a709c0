package forum

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"

	"agora/api/internal/rbac"
	"agora/api/internal/store"
	"agora/api/internal/util"
	"agora/api/internal/votes"
)

// PostStore owns posts and reply trees. Every mutation locks the owning topic for
// the duration of the find-and-mutate.
type PostStore struct {
	repo       store.Repositories
	limits     Limits
	ledger     votes.Ledger
	milestones []int
	clock      func() time.Time
}

func NewPostStore(repo store.Repositories, limits Limits, ledger votes.Ledger, milestones []int) *PostStore {
	return &PostStore{repo: repo, limits: limits, ledger: ledger, milestones: milestones, clock: utcNow}
}

type CreatePostInput struct {
	TopicID     string             `json:"topicId"`
	ParentID    string             `json:"parentId"`
	Body        string             `json:"body"`
	Attachments []store.Attachment `json:"attachments"`
}

// CreatedPost is a new post together with the state the notification side effects need.
type CreatedPost struct {
	Post   store.Post
	Topic  store.Topic
	Parent *store.Post
}

type EditedPost struct {
	Post          store.Post
	Topic         store.Topic
	AddedMentions []string
}

func (s *PostStore) Create(ctx context.Context, caller Caller, in CreatePostInput) (CreatedPost, error) {
	if err := requireUser(caller); err != nil {
		return CreatedPost{}, err
	}
	var out CreatedPost
	err := s.repo.Atomic(ctx, func(tx store.Repositories) error {
		topic, err := tx.LockTopic(ctx, in.TopicID)
		if err != nil {
			return lookup(err, "topic", in.TopicID)
		}
		if topic.IsDeleted {
			return NotFound("topic %s not found", in.TopicID)
		}
		if !rbac.CanPost(caller.Tier, topic.RequiredTier) {
			return AccessDenied("topic requires a higher membership tier")
		}
		if topic.Locked {
			return TopicLocked(topic.ID)
		}

		var parentID *string
		if in.ParentID != "" {
			parent, err := tx.GetPost(ctx, in.ParentID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if err != nil || parent.TopicID != topic.ID {
				return NotFound("post %s not found in topic %s", in.ParentID, topic.ID)
			}
			out.Parent = &parent
			parentID = &parent.ID
		}

		body, err := validateBody(in.Body, s.limits)
		if err != nil {
			return err
		}
		attachments, err := validateAttachments(in.Attachments)
		if err != nil {
			return err
		}

		now := s.clock()
		post := store.Post{
			ID:              util.NewID("pst"),
			TopicID:         topic.ID,
			ParentID:        parentID,
			Author:          caller.Snapshot(),
			Body:            body,
			CreatedAt:       now,
			Attachments:     attachments,
			Mentions:        datatypes.JSONSlice[string](ExtractMentions(body)),
			MilestonesFired: datatypes.JSONSlice[int]{},
		}
		if err := tx.CreatePost(ctx, &post); err != nil {
			return err
		}

		topic.ReplyCount++
		topic.UpdatedAt = now
		topic.LastReply = &store.LastReply{
			PostID:     post.ID,
			AuthorName: post.Author.Name,
			CreatedAt:  now,
			Preview:    Preview(body),
		}
		if err := tx.SaveTopic(ctx, &topic); err != nil {
			return err
		}
		if err := tx.AdjustCategory(ctx, topic.CategoryID, 0, 1, &now); err != nil {
			return err
		}
		out.Post, out.Topic = post, topic
		return nil
	})
	if err != nil {
		return CreatedPost{}, err
	}
	return out, nil
}

func validateAttachments(in []store.Attachment) (datatypes.JSONSlice[store.Attachment], error) {
	out := make(datatypes.JSONSlice[store.Attachment], 0, len(in))
	for _, a := range in {
		if strings.TrimSpace(a.Key) == "" {
			return nil, Invalid("attachments", "attachment key is required")
		}
		if a.Size < 0 {
			return nil, Invalid("attachments", "attachment size must not be negative")
		}
		out = append(out, a)
	}
	return out, nil
}

// Tree returns a topic's posts as nested replies, roots and replies each in creation order.
func (s *PostStore) Tree(ctx context.Context, tier rbac.Tier, topicID string) ([]*store.Post, error) {
	topic, err := s.repo.GetTopic(ctx, topicID)
	if err != nil {
		return nil, lookup(err, "topic", topicID)
	}
	if topic.IsDeleted {
		return nil, NotFound("topic %s not found", topicID)
	}
	if !rbac.CanView(tier, topic.RequiredTier) {
		return nil, AccessDenied("topic requires a higher membership tier")
	}
	posts, err := s.repo.ListPosts(ctx, topicID)
	if err != nil {
		return nil, err
	}
	return BuildTree(posts), nil
}

// BuildTree links a flat, creation-ordered post list into reply trees. Deleted posts stay
// in place as tombstones so their replies keep a parent.
func BuildTree(posts []store.Post) []*store.Post {
	nodes := make(map[string]*store.Post, len(posts))
	ordered := make([]*store.Post, 0, len(posts))
	for i := range posts {
		p := posts[i]
		if p.IsDeleted {
			p = Tombstone(p)
		}
		p.Replies = []*store.Post{}
		nodes[p.ID] = &p
		ordered = append(ordered, &p)
	}
	roots := []*store.Post{}
	for _, p := range ordered {
		if p.ParentID != nil {
			if parent, ok := nodes[*p.ParentID]; ok {
				parent.Replies = append(parent.Replies, p)
				continue
			}
		}
		roots = append(roots, p)
	}
	return roots
}

// Tombstone hides the content of a deleted post and keeps its place in the tree.
func Tombstone(p store.Post) store.Post {
	p.Body = ""
	p.Mentions = datatypes.JSONSlice[string]{}
	p.Attachments = datatypes.JSONSlice[store.Attachment]{}
	return p
}

// Depth is the number of levels in a reply forest.
func Depth(roots []*store.Post) int {
	deepest := 0
	for _, p := range roots {
		if d := 1 + Depth(p.Replies); d > deepest {
			deepest = d
		}
	}
	return deepest
}

// lockPost locks the topic owning postID and returns both, rejecting deleted content.
func lockPost(ctx context.Context, tx store.Repositories, topicID, postID string) (store.Topic, store.Post, error) {
	if topicID == "" {
		p, err := tx.GetPost(ctx, postID)
		if err != nil {
			return store.Topic{}, store.Post{}, lookup(err, "post", postID)
		}
		topicID = p.TopicID
	}
	topic, err := tx.LockTopic(ctx, topicID)
	if err != nil {
		return store.Topic{}, store.Post{}, lookup(err, "topic", topicID)
	}
	if topic.IsDeleted {
		return store.Topic{}, store.Post{}, NotFound("topic %s not found", topicID)
	}
	post, err := tx.GetPost(ctx, postID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.Topic{}, store.Post{}, err
	}
	if err != nil || post.TopicID != topic.ID {
		return store.Topic{}, store.Post{}, NotFound("post %s not found in topic %s", postID, topicID)
	}
	if post.IsDeleted {
		return store.Topic{}, store.Post{}, NotFound("post %s not found", postID)
	}
	return topic, post, nil
}

func (s *PostStore) Vote(ctx context.Context, caller Caller, topicID, postID string, dir votes.Direction) (store.Post, VoteResult, error) {
	if err := requireUser(caller); err != nil {
		return store.Post{}, VoteResult{}, err
	}
	var (
		post   store.Post
		result VoteResult
	)
	err := s.repo.Atomic(ctx, func(tx store.Repositories) error {
		topic, p, err := lockPost(ctx, tx, topicID, postID)
		if err != nil {
			return err
		}
		if !rbac.CanView(caller.Tier, topic.RequiredTier) {
			return AccessDenied("topic requires a higher membership tier")
		}
		delta, err := s.ledger.Cast(ctx, votes.Key(store.TargetPost, p.ID), caller.UserID, dir)
		if err != nil {
			return err
		}
		if delta.Zero() {
			post, result = p, VoteResult{Upvotes: p.Upvotes, Downvotes: p.Downvotes}
			return nil
		}
		p.Upvotes += delta.Up
		p.Downvotes += delta.Down
		var reached []int
		p.MilestonesFired, reached = crossMilestones(p.MilestonesFired, p.Upvotes, s.milestones)
		post, result = p, VoteResult{Upvotes: p.Upvotes, Downvotes: p.Downvotes, Milestones: reached}
		return tx.SavePost(ctx, &p)
	})
	return post, result, err
}

// MarkAccepted makes postID the single accepted answer of its topic. Only the topic
// author or a moderator may choose it.
func (s *PostStore) MarkAccepted(ctx context.Context, caller Caller, topicID, postID string) (store.Post, error) {
	var post store.Post
	err := s.repo.Atomic(ctx, func(tx store.Repositories) error {
		topic, p, err := lockPost(ctx, tx, topicID, postID)
		if err != nil {
			return err
		}
		if err := ownsOrModerates(caller, topic.Author); err != nil {
			return err
		}
		if err := tx.ClearAcceptedAnswer(ctx, topic.ID); err != nil {
			return err
		}
		p.IsAcceptedAnswer = true
		post = p
		return tx.SavePost(ctx, &p)
	})
	return post, err
}

// SoftDelete tombstones a post. Counters are left alone: a deleted reply still counts
// as having existed.
func (s *PostStore) SoftDelete(ctx context.Context, caller Caller, postID string) (store.Post, error) {
	var post store.Post
	err := s.repo.Atomic(ctx, func(tx store.Repositories) error {
		topic, p, err := lockPost(ctx, tx, "", postID)
		if err != nil {
			return err
		}
		if err := ownsOrModerates(caller, p.Author); err != nil {
			return err
		}
		now := s.clock()
		p.IsDeleted = true
		p.DeletedAt = &now
		if err := tx.SavePost(ctx, &p); err != nil {
			return err
		}
		if topic.LastReply != nil && topic.LastReply.PostID == p.ID {
			topic.LastReply.Preview = ""
			if err := tx.SaveTopic(ctx, &topic); err != nil {
				return err
			}
		}
		post = Tombstone(p)
		return nil
	})
	return post, err
}

// Edit replaces a post body. Only the author may edit, and only while the topic is open.
func (s *PostStore) Edit(ctx context.Context, caller Caller, postID, body string) (EditedPost, error) {
	if err := requireUser(caller); err != nil {
		return EditedPost{}, err
	}
	var out EditedPost
	err := s.repo.Atomic(ctx, func(tx store.Repositories) error {
		topic, p, err := lockPost(ctx, tx, "", postID)
		if err != nil {
			return err
		}
		if p.Author.ID != caller.UserID {
			return AccessDenied("only the author may edit a post")
		}
		if topic.Locked {
			return TopicLocked(topic.ID)
		}
		body, err := validateBody(body, s.limits)
		if err != nil {
			return err
		}
		now := s.clock()
		mentions := ExtractMentions(body)
		out.AddedMentions = addedMentions(p.Mentions, mentions)
		p.Body = body
		p.Mentions = datatypes.JSONSlice[string](mentions)
		p.EditedAt = &now
		if err := tx.SavePost(ctx, &p); err != nil {
			return err
		}
		if topic.LastReply != nil && topic.LastReply.PostID == p.ID {
			topic.LastReply.Preview = Preview(body)
			if err := tx.SaveTopic(ctx, &topic); err != nil {
				return err
			}
		}
		out.Post, out.Topic = p, topic
		return nil
	})
	return out, err
}
