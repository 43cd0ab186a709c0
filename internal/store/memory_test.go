package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/datatypes"

	"agora/api/internal/rbac"
)

func seedMemory(t *testing.T) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore()
	for i, c := range []Category{
		{ID: "cat-books", Name: "Books", RequiredTier: 0, Position: 1},
		{ID: "cat-vault", Name: "Vault", RequiredTier: 2, Position: 0},
	} {
		c.CreatedAt = time.Date(2026, 1, i+1, 0, 0, 0, 0, time.UTC)
		if err := s.CreateCategory(ctx, &c); err != nil {
			t.Fatalf("create category: %v", err)
		}
	}
	return s
}

func TestMemoryListCategoriesByPosition(t *testing.T) {
	s := seedMemory(t)
	got, err := s.ListCategories(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "cat-vault" || got[1].ID != "cat-books" {
		t.Fatalf("unexpected order %+v", got)
	}
}

func TestMemoryGetMissingReturnsErrNotFound(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()
	if _, err := s.GetTopic(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.AdjustCategory(ctx, "nope", 1, 0, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetReport(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryListTopicsFilters(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()
	topics := []Topic{
		{ID: "t1", CategoryID: "cat-books", Title: "Feb pick", Body: "vote here", Tags: datatypes.JSONSlice[string]{"book-club", "feb"}},
		{ID: "t2", CategoryID: "cat-books", Title: "March", Body: "nothing", Tags: datatypes.JSONSlice[string]{"book-club"}},
		{ID: "t3", CategoryID: "cat-vault", Title: "Secret FEB notes", RequiredTier: 2},
		{ID: "t4", CategoryID: "cat-books", Title: "gone feb", IsDeleted: true},
	}
	for i := range topics {
		if err := s.CreateTopic(ctx, &topics[i]); err != nil {
			t.Fatalf("create topic: %v", err)
		}
	}

	cases := []struct {
		name string
		q    TopicQuery
		want []string
	}{
		{name: "free caller sees free only", q: TopicQuery{MaxTier: 0}, want: []string{"t1", "t2"}},
		{name: "premium caller sees all live", q: TopicQuery{MaxTier: 2}, want: []string{"t1", "t2", "t3"}},
		{name: "tag intersection", q: TopicQuery{MaxTier: 2, Tags: []string{"book-club", "feb"}}, want: []string{"t1"}},
		{name: "text case insensitive", q: TopicQuery{MaxTier: 2, Text: "feb"}, want: []string{"t1", "t3"}},
		{name: "category", q: TopicQuery{MaxTier: 2, CategoryID: "cat-vault"}, want: []string{"t3"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.ListTopics(ctx, tc.q)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %d topics, want %v", len(got), tc.want)
			}
			for i := range got {
				if got[i].ID != tc.want[i] {
					t.Fatalf("position %d: got %s, want %s", i, got[i].ID, tc.want[i])
				}
			}
		})
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()
	topic := Topic{ID: "t1", CategoryID: "cat-books", Tags: datatypes.JSONSlice[string]{"a"}}
	if err := s.CreateTopic(ctx, &topic); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := s.GetTopic(ctx, "t1")
	got.Tags[0] = "mutated"
	got.Upvotes = 99
	again, _ := s.GetTopic(ctx, "t1")
	if again.Tags[0] != "a" || again.Upvotes != 0 {
		t.Fatalf("store state leaked through returned value: %+v", again)
	}
}

func TestMemoryCountVisible(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, topic := range []Topic{
		{ID: "t1", CategoryID: "cat-books", ReplyCount: 2, CreatedAt: base,
			LastReply: &LastReply{PostID: "p1", CreatedAt: base.Add(time.Hour)}},
		{ID: "t4", CategoryID: "cat-books", CreatedAt: base.Add(30 * time.Minute)},
		{ID: "t2", CategoryID: "cat-books", ReplyCount: 5, RequiredTier: rbac.Tier(2), CreatedAt: base,
			LastReply: &LastReply{PostID: "p2", CreatedAt: base.Add(3 * time.Hour)}},
		{ID: "t3", CategoryID: "cat-books", ReplyCount: 1, IsDeleted: true, CreatedAt: base.Add(5 * time.Hour)},
	} {
		topic := topic
		if err := s.CreateTopic(ctx, &topic); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	stats, err := s.CountVisible(ctx, "cat-books", 0)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if stats.Topics != 2 || stats.Posts != 2 {
		t.Fatalf("expected 2 topics / 2 posts visible, got %d / %d", stats.Topics, stats.Posts)
	}
	if stats.LastActivityAt == nil || !stats.LastActivityAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("expected last activity from the visible reply, got %v", stats.LastActivityAt)
	}
	empty, err := s.CountVisible(ctx, "cat-missing", 0)
	if err != nil {
		t.Fatalf("count empty: %v", err)
	}
	if empty.Topics != 0 || empty.LastActivityAt != nil {
		t.Fatalf("expected no activity for an empty category, got %+v", empty)
	}
}

func TestMemoryAtomicSerializesCounters(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()
	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Atomic(ctx, func(tx Repositories) error {
				c, err := tx.GetCategory(ctx, "cat-books")
				if err != nil {
					return err
				}
				c.TopicCount++
				return tx.UpdateCategory(ctx, &c)
			})
		}()
	}
	wg.Wait()
	c, _ := s.GetCategory(ctx, "cat-books")
	if c.TopicCount != writers {
		t.Fatalf("expected %d, got %d (lost update)", writers, c.TopicCount)
	}
}

func TestMemorySearchPostsSkipsHiddenTopics(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()
	_ = s.CreateTopic(ctx, &Topic{ID: "t-open", CategoryID: "cat-books"})
	_ = s.CreateTopic(ctx, &Topic{ID: "t-vault", CategoryID: "cat-vault", RequiredTier: 2})
	_ = s.CreatePost(ctx, &Post{ID: "p1", TopicID: "t-open", Body: "Hello World"})
	_ = s.CreatePost(ctx, &Post{ID: "p2", TopicID: "t-vault", Body: "hello vault"})
	_ = s.CreatePost(ctx, &Post{ID: "p3", TopicID: "t-open", Body: "hello again", IsDeleted: true})

	got, err := s.SearchPosts(ctx, PostQuery{Text: "HELLO", MaxTier: 0})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "p1" {
		t.Fatalf("expected only p1, got %+v", got)
	}
}

func TestMemoryReportsNewestFirst(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()
	for _, id := range []string{"r1", "r2", "r3"} {
		if err := s.CreateReport(ctx, &Report{ID: id, TargetType: TargetPost, TargetID: "p1", ReporterID: id, Status: ReportPending}); err != nil {
			t.Fatalf("create report: %v", err)
		}
	}
	r2, _ := s.GetReport(ctx, "r2")
	r2.Status = ReportResolved
	_ = s.SaveReport(ctx, &r2)

	all, _ := s.ListReports(ctx, "")
	if len(all) != 3 || all[0].ID != "r3" || all[2].ID != "r1" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	pending, _ := s.ListReports(ctx, ReportPending)
	if len(pending) != 2 {
		t.Fatalf("expected two pending, got %d", len(pending))
	}
	open, _ := s.CountOpenReports(ctx, TargetPost, "p1")
	if open != 2 {
		t.Fatalf("expected two open reports, got %d", open)
	}
	if has, _ := s.HasOpenReport(ctx, "r2", TargetPost, "p1"); has {
		t.Fatalf("resolved report should not count as open")
	}
}

func TestMemoryListAuthorsKeepsNewestSnapshot(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()
	if err := s.CreateTopic(ctx, &Topic{ID: "t1", CategoryID: "cat-books",
		Author: Author{ID: "u1", Name: "Ana", Handle: "ana", Tier: rbac.Tier(0)}}); err != nil {
		t.Fatalf("create topic: %v", err)
	}
	posts := []Post{
		{ID: "p1", TopicID: "t1", Author: Author{ID: "u2", Name: "Bea", Handle: "bea"}},
		{ID: "p2", TopicID: "t1", Author: Author{ID: "u1", Name: "Ana", Handle: "ana", Tier: rbac.Tier(2)}},
		{ID: "p3", TopicID: "t1", Author: Author{ID: "u3", Name: "No Handle"}},
	}
	for _, p := range posts {
		p := p
		if err := s.CreatePost(ctx, &p); err != nil {
			t.Fatalf("create post: %v", err)
		}
	}

	authors, err := s.ListAuthors(ctx)
	if err != nil {
		t.Fatalf("list authors: %v", err)
	}
	if len(authors) != 2 || authors[0].ID != "u1" || authors[1].ID != "u2" {
		t.Fatalf("expected u1 and u2 in id order, got %+v", authors)
	}
	if authors[0].Tier != 2 {
		t.Fatalf("expected the newest snapshot for u1, got tier %d", authors[0].Tier)
	}
}
