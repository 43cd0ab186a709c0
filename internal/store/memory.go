package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"agora/api/internal/rbac"
)

type memState struct {
	mu            sync.Mutex
	seq           int64
	categories    map[string]*Category
	categoryOrder []string
	topics        map[string]*Topic
	topicOrder    []string
	posts         map[string]*Post
	postOrder     []string
	reports       map[string]*Report
	notifications map[string]*Notification
	follows       map[string]Follow
}

// MemoryStore keeps everything in process memory. One mutex guards all collections,
// so Atomic serializes every mutation. Atomic does not roll back partial writes when
// fn fails; callers validate before writing.
type MemoryStore struct {
	st   *memState
	inTx bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: &memState{
		categories:    map[string]*Category{},
		topics:        map[string]*Topic{},
		posts:         map[string]*Post{},
		reports:       map[string]*Report{},
		notifications: map[string]*Notification{},
		follows:       map[string]Follow{},
	}}
}

func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.st.mu.Lock()
	return s.st.mu.Unlock
}

func (s *MemoryStore) Atomic(ctx context.Context, fn func(tx Repositories) error) error {
	if s.inTx {
		return fn(s)
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return fn(&MemoryStore{st: s.st, inTx: true})
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) nextSeq() int64 {
	s.st.seq++
	return s.st.seq
}

// Categories

func (s *MemoryStore) ListCategories(ctx context.Context) ([]Category, error) {
	defer s.lock()()
	out := make([]Category, 0, len(s.st.categoryOrder))
	for _, id := range s.st.categoryOrder {
		out = append(out, *s.st.categories[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *MemoryStore) GetCategory(ctx context.Context, id string) (Category, error) {
	defer s.lock()()
	c, ok := s.st.categories[id]
	if !ok {
		return Category{}, ErrNotFound
	}
	return *c, nil
}

func (s *MemoryStore) CreateCategory(ctx context.Context, c *Category) error {
	defer s.lock()()
	if _, exists := s.st.categories[c.ID]; exists {
		return fmt.Errorf("category %s already exists", c.ID)
	}
	stored := *c
	s.st.categories[c.ID] = &stored
	s.st.categoryOrder = append(s.st.categoryOrder, c.ID)
	return nil
}

func (s *MemoryStore) UpdateCategory(ctx context.Context, c *Category) error {
	defer s.lock()()
	existing, ok := s.st.categories[c.ID]
	if !ok {
		return ErrNotFound
	}
	*existing = *c
	return nil
}

func (s *MemoryStore) AdjustCategory(ctx context.Context, id string, topicDelta, postDelta int, at *time.Time) error {
	defer s.lock()()
	c, ok := s.st.categories[id]
	if !ok {
		return ErrNotFound
	}
	c.TopicCount += topicDelta
	c.PostCount += postDelta
	if at != nil {
		stamp := *at
		c.LastActivityAt = &stamp
	}
	return nil
}

func (s *MemoryStore) RaiseTopicTier(ctx context.Context, id string, tier rbac.Tier) error {
	defer s.lock()()
	c, ok := s.st.categories[id]
	if !ok {
		return ErrNotFound
	}
	if tier > c.MaxTopicTier {
		c.MaxTopicTier = tier
	}
	return nil
}

func (s *MemoryStore) CountVisible(ctx context.Context, categoryID string, tier rbac.Tier) (VisibleStats, error) {
	defer s.lock()()
	var stats VisibleStats
	for _, id := range s.st.topicOrder {
		t := s.st.topics[id]
		if t.CategoryID != categoryID || t.IsDeleted || t.RequiredTier > tier {
			continue
		}
		stats.Topics++
		stats.Posts += t.ReplyCount
		at := t.CreatedAt
		if t.LastReply != nil && t.LastReply.CreatedAt.After(at) {
			at = t.LastReply.CreatedAt
		}
		if stats.LastActivityAt == nil || at.After(*stats.LastActivityAt) {
			stats.LastActivityAt = &at
		}
	}
	return stats, nil
}

// Topics

func (s *MemoryStore) CreateTopic(ctx context.Context, t *Topic) error {
	defer s.lock()()
	if _, exists := s.st.topics[t.ID]; exists {
		return fmt.Errorf("topic %s already exists", t.ID)
	}
	t.Seq = s.nextSeq()
	stored := cloneTopic(*t)
	s.st.topics[t.ID] = &stored
	s.st.topicOrder = append(s.st.topicOrder, t.ID)
	return nil
}

func (s *MemoryStore) GetTopic(ctx context.Context, id string) (Topic, error) {
	defer s.lock()()
	t, ok := s.st.topics[id]
	if !ok {
		return Topic{}, ErrNotFound
	}
	return cloneTopic(*t), nil
}

func (s *MemoryStore) LockTopic(ctx context.Context, id string) (Topic, error) {
	return s.GetTopic(ctx, id)
}

func (s *MemoryStore) SaveTopic(ctx context.Context, t *Topic) error {
	defer s.lock()()
	existing, ok := s.st.topics[t.ID]
	if !ok {
		return ErrNotFound
	}
	seq := existing.Seq
	*existing = cloneTopic(*t)
	existing.Seq = seq
	return nil
}

func (s *MemoryStore) ListTopics(ctx context.Context, q TopicQuery) ([]Topic, error) {
	defer s.lock()()
	out := []Topic{}
	for _, id := range s.st.topicOrder {
		t := s.st.topics[id]
		if t.IsDeleted || t.RequiredTier > q.MaxTier {
			continue
		}
		if q.CategoryID != "" && t.CategoryID != q.CategoryID {
			continue
		}
		if !HasAllTags(t.Tags, q.Tags) {
			continue
		}
		if q.Text != "" && !MatchText(q.Text, append([]string{t.Title, t.Body}, t.Tags...)...) {
			continue
		}
		out = append(out, cloneTopic(*t))
	}
	return out, nil
}

// Posts

func (s *MemoryStore) CreatePost(ctx context.Context, p *Post) error {
	defer s.lock()()
	if _, exists := s.st.posts[p.ID]; exists {
		return fmt.Errorf("post %s already exists", p.ID)
	}
	p.Seq = s.nextSeq()
	stored := clonePost(*p)
	s.st.posts[p.ID] = &stored
	s.st.postOrder = append(s.st.postOrder, p.ID)
	return nil
}

func (s *MemoryStore) GetPost(ctx context.Context, id string) (Post, error) {
	defer s.lock()()
	p, ok := s.st.posts[id]
	if !ok {
		return Post{}, ErrNotFound
	}
	return clonePost(*p), nil
}

func (s *MemoryStore) SavePost(ctx context.Context, p *Post) error {
	defer s.lock()()
	existing, ok := s.st.posts[p.ID]
	if !ok {
		return ErrNotFound
	}
	seq := existing.Seq
	*existing = clonePost(*p)
	existing.Seq = seq
	return nil
}

func (s *MemoryStore) ListPosts(ctx context.Context, topicID string) ([]Post, error) {
	defer s.lock()()
	out := []Post{}
	for _, id := range s.st.postOrder {
		if p := s.st.posts[id]; p.TopicID == topicID {
			out = append(out, clonePost(*p))
		}
	}
	return out, nil
}

func (s *MemoryStore) ClearAcceptedAnswer(ctx context.Context, topicID string) error {
	defer s.lock()()
	for _, p := range s.st.posts {
		if p.TopicID == topicID {
			p.IsAcceptedAnswer = false
		}
	}
	return nil
}

func (s *MemoryStore) SearchPosts(ctx context.Context, q PostQuery) ([]Post, error) {
	defer s.lock()()
	out := []Post{}
	for _, id := range s.st.postOrder {
		p := s.st.posts[id]
		if p.IsDeleted {
			continue
		}
		t, ok := s.st.topics[p.TopicID]
		if !ok || t.IsDeleted || t.RequiredTier > q.MaxTier {
			continue
		}
		if q.CategoryID != "" && t.CategoryID != q.CategoryID {
			continue
		}
		if !MatchText(q.Text, p.Body) {
			continue
		}
		out = append(out, clonePost(*p))
	}
	return out, nil
}

// Reports

func (s *MemoryStore) CreateReport(ctx context.Context, r *Report) error {
	defer s.lock()()
	r.Seq = s.nextSeq()
	stored := *r
	s.st.reports[r.ID] = &stored
	return nil
}

func (s *MemoryStore) GetReport(ctx context.Context, id string) (Report, error) {
	defer s.lock()()
	r, ok := s.st.reports[id]
	if !ok {
		return Report{}, ErrNotFound
	}
	return *r, nil
}

func (s *MemoryStore) LockReport(ctx context.Context, id string) (Report, error) {
	return s.GetReport(ctx, id)
}

func (s *MemoryStore) SaveReport(ctx context.Context, r *Report) error {
	defer s.lock()()
	existing, ok := s.st.reports[r.ID]
	if !ok {
		return ErrNotFound
	}
	seq := existing.Seq
	*existing = *r
	existing.Seq = seq
	return nil
}

func (s *MemoryStore) ListReports(ctx context.Context, status string) ([]Report, error) {
	defer s.lock()()
	out := []Report{}
	for _, r := range s.st.reports {
		if status == "" || r.Status == status {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return out, nil
}

func (s *MemoryStore) CountOpenReports(ctx context.Context, targetType, targetID string) (int, error) {
	defer s.lock()()
	n := 0
	for _, r := range s.st.reports {
		if r.TargetType == targetType && r.TargetID == targetID && !r.Terminal() {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) HasOpenReport(ctx context.Context, reporterID, targetType, targetID string) (bool, error) {
	defer s.lock()()
	for _, r := range s.st.reports {
		if r.ReporterID == reporterID && r.TargetType == targetType && r.TargetID == targetID && !r.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

// Notifications

func (s *MemoryStore) CreateNotification(ctx context.Context, n *Notification) error {
	defer s.lock()()
	n.Seq = s.nextSeq()
	stored := *n
	s.st.notifications[n.ID] = &stored
	return nil
}

func (s *MemoryStore) GetNotification(ctx context.Context, id string) (Notification, error) {
	defer s.lock()()
	n, ok := s.st.notifications[id]
	if !ok {
		return Notification{}, ErrNotFound
	}
	return *n, nil
}

func (s *MemoryStore) SaveNotification(ctx context.Context, n *Notification) error {
	defer s.lock()()
	existing, ok := s.st.notifications[n.ID]
	if !ok {
		return ErrNotFound
	}
	seq := existing.Seq
	*existing = *n
	existing.Seq = seq
	return nil
}

func (s *MemoryStore) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]Notification, error) {
	defer s.lock()()
	out := []Notification{}
	for _, n := range s.st.notifications {
		if n.RecipientID != recipientID || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return out, nil
}

func (s *MemoryStore) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	defer s.lock()()
	n := 0
	for _, item := range s.st.notifications {
		if item.RecipientID == recipientID && !item.IsRead {
			item.IsRead = true
			n++
		}
	}
	return n, nil
}

// Follows

func followKey(userID, categoryID string) string { return userID + "\x00" + categoryID }

func (s *MemoryStore) FollowCategory(ctx context.Context, f Follow) error {
	defer s.lock()()
	s.st.follows[followKey(f.UserID, f.CategoryID)] = f
	return nil
}

func (s *MemoryStore) UnfollowCategory(ctx context.Context, userID, categoryID string) error {
	defer s.lock()()
	delete(s.st.follows, followKey(userID, categoryID))
	return nil
}

func (s *MemoryStore) ListFollowers(ctx context.Context, categoryID string) ([]Follow, error) {
	defer s.lock()()
	out := []Follow{}
	for _, f := range s.st.follows {
		if f.CategoryID == categoryID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Authors

func (s *MemoryStore) ListAuthors(ctx context.Context) ([]Author, error) {
	defer s.lock()()
	newest := map[string]Author{}
	seqs := map[string]int64{}
	note := func(a Author, seq int64) {
		if a.ID == "" || a.Handle == "" {
			return
		}
		if prev, ok := seqs[a.ID]; ok && prev > seq {
			return
		}
		newest[a.ID], seqs[a.ID] = a, seq
	}
	for _, id := range s.st.topicOrder {
		t := s.st.topics[id]
		note(t.Author, t.Seq)
	}
	for _, id := range s.st.postOrder {
		p := s.st.posts[id]
		note(p.Author, p.Seq)
	}
	out := make([]Author, 0, len(newest))
	for _, a := range newest {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneTopic(t Topic) Topic {
	t.Tags = append(t.Tags[:0:0], t.Tags...)
	t.MilestonesFired = append(t.MilestonesFired[:0:0], t.MilestonesFired...)
	if t.LastReply != nil {
		lr := *t.LastReply
		t.LastReply = &lr
	}
	return t
}

func clonePost(p Post) Post {
	p.Mentions = append(p.Mentions[:0:0], p.Mentions...)
	p.Attachments = append(p.Attachments[:0:0], p.Attachments...)
	p.MilestonesFired = append(p.MilestonesFired[:0:0], p.MilestonesFired...)
	if p.ParentID != nil {
		parent := *p.ParentID
		p.ParentID = &parent
	}
	p.Replies = nil
	return p
}
