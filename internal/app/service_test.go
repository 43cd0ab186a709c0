package app

import (
	"context"
	"strings"
	"testing"

	"agora/api/internal/forum"
	"agora/api/internal/moderation"
	"agora/api/internal/store"
)

func TestFollowersHearAboutNewTopics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, c := range []forum.Caller{ana, sarah, joao} {
		if err := f.service.FollowCategory(ctx, c, "cat-books"); err != nil {
			t.Fatalf("follow as %s: %v", c.UserID, err)
		}
	}
	if err := f.service.UnfollowCategory(ctx, sarah, "cat-books"); err != nil {
		t.Fatalf("unfollow: %v", err)
	}

	topic, err := f.service.CreateTopic(ctx, joao, forum.CreateTopicInput{CategoryID: "cat-books", Title: "March pick", Body: "Ideas?"})
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}

	items := f.notifications(t, ana.UserID)
	if len(items) != 1 || items[0].Type != store.NotifyNewTopic || items[0].TopicID != topic.ID {
		t.Fatalf("expected one new_topic notification for ana, got %+v", items)
	}
	if !strings.HasSuffix(items[0].ActionURL, "/community/topics/"+topic.ID) {
		t.Fatalf("unexpected action url %q", items[0].ActionURL)
	}
	for _, id := range []string{sarah.UserID, joao.UserID} {
		if got := f.notifications(t, id); len(got) != 0 {
			t.Fatalf("expected no notifications for %s, got %+v", id, got)
		}
	}
}

func TestFollowingHiddenCategoryIsDenied(t *testing.T) {
	f := newFixture(t)
	err := f.service.FollowCategory(context.Background(), ana, "cat-vault")
	if !forumKind(err, forum.KindAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
}

func TestEditNotifiesOnlyNewMentions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	topic, err := f.service.CreateTopic(ctx, ana, forum.CreateTopicInput{CategoryID: "cat-books", Title: "Edits", Body: "b"})
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}
	if _, err := f.service.CreatePost(ctx, sarah, forum.CreatePostInput{TopicID: topic.ID, Body: "hello"}); err != nil {
		t.Fatalf("sarah post: %v", err)
	}
	if _, err := f.service.Authenticate(f.token(t, joao)); err != nil {
		t.Fatalf("authenticate joao: %v", err)
	}
	post, err := f.service.CreatePost(ctx, ana, forum.CreatePostInput{TopicID: topic.ID, Body: "cc @joao"})
	if err != nil {
		t.Fatalf("ana post: %v", err)
	}
	if _, err := f.service.EditPost(ctx, ana, post.ID, "cc @joao and @Sarah"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	joaoItems := f.notifications(t, joao.UserID)
	sarahItems := f.notifications(t, sarah.UserID)
	if len(joaoItems) != 1 || joaoItems[0].Type != store.NotifyMention {
		t.Fatalf("expected one mention for joao, got %+v", joaoItems)
	}
	if len(sarahItems) != 1 || sarahItems[0].PostID != post.ID {
		t.Fatalf("expected one mention for sarah on %s, got %+v", post.ID, sarahItems)
	}
}

func TestWarmDirectoryResolvesMentionsAfterRestart(t *testing.T) {
	repo := store.NewMemoryStore()
	before := newFixture(t, withRepo(repo))
	ctx := context.Background()
	topic, err := before.service.CreateTopic(ctx, ana, forum.CreateTopicInput{CategoryID: "cat-books", Title: "Restart", Body: "b"})
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}
	if _, err := before.service.CreatePost(ctx, sarah, forum.CreatePostInput{TopicID: topic.ID, Body: "hello"}); err != nil {
		t.Fatalf("sarah post: %v", err)
	}
	before.dispatcher.Close()

	after := newFixture(t, withRepo(repo))
	if err := after.service.WarmDirectory(ctx); err != nil {
		t.Fatalf("warm: %v", err)
	}
	post, err := after.service.CreatePost(ctx, ana, forum.CreatePostInput{TopicID: topic.ID, Body: "welcome back @sarah"})
	if err != nil {
		t.Fatalf("ana post: %v", err)
	}
	items := after.notifications(t, sarah.UserID)
	if len(items) != 1 || items[0].Type != store.NotifyMention || items[0].PostID != post.ID {
		t.Fatalf("expected one mention for sarah after restart, got %+v", items)
	}
}

func TestResolvingReportNotifiesReporter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	topic, err := f.service.CreateTopic(ctx, ana, forum.CreateTopicInput{CategoryID: "cat-books", Title: "Spam?", Body: "b"})
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}
	post, err := f.service.CreatePost(ctx, ana, forum.CreatePostInput{TopicID: topic.ID, Body: "buy now"})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	report, err := f.service.ReportContent(ctx, sarah, moderation.ReportInput{TargetType: store.TargetPost, TargetID: post.ID, Reason: "spam"})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	pending, err := f.service.ListReports(ctx, mod, store.ReportPending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending report, got %d (%v)", len(pending), err)
	}
	if _, err := f.service.ResolveReport(ctx, mod, report.ID, moderation.ResolveInput{Action: "post removed"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	items := f.notifications(t, sarah.UserID)
	if len(items) != 1 {
		t.Fatalf("expected one notification, got %+v", items)
	}
	n := items[0]
	if n.Type != store.NotifyModeration || n.Message != "Your report was resolved: post removed" || n.PostID != post.ID {
		t.Fatalf("unexpected notification %+v", n)
	}
}

func TestPostMilestoneNotifiesPostAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	topic, err := f.service.CreateTopic(ctx, ana, forum.CreateTopicInput{CategoryID: "cat-books", Title: "Votes", Body: "b"})
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}
	post, err := f.service.CreatePost(ctx, sarah, forum.CreatePostInput{TopicID: topic.ID, Body: "good answer"})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	for _, voter := range []forum.Caller{ana, joao} {
		if _, err := f.service.VotePost(ctx, voter, post.ID, "up"); err != nil {
			t.Fatalf("vote as %s: %v", voter.UserID, err)
		}
	}
	items := f.notifications(t, sarah.UserID)
	if len(items) != 1 || items[0].Type != store.NotifyUpvote || items[0].PostID != post.ID {
		t.Fatalf("expected one post milestone, got %+v", items)
	}
}

func TestAuthenticateAnonymousAndInvalid(t *testing.T) {
	f := newFixture(t)
	caller, err := f.service.Authenticate("")
	if err != nil || caller.Authenticated() {
		t.Fatalf("expected anonymous caller, got %+v (%v)", caller, err)
	}
	if _, err := f.service.Authenticate("garbage"); err == nil {
		t.Fatalf("expected error for a malformed token")
	}
	caller, err = f.service.Authenticate(f.token(t, sarah))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if caller.UserID != sarah.UserID || caller.Tier != sarah.Tier {
		t.Fatalf("unexpected caller %+v", caller)
	}
}

func TestMapErrorFallsBackToServerError(t *testing.T) {
	status, code, _, _ := mapError(context.DeadlineExceeded)
	if status != 500 || code != "SERVER_ERROR" {
		t.Fatalf("expected 500 SERVER_ERROR, got %d %s", status, code)
	}
}

func forumKind(err error, kind forum.Kind) bool {
	fe, ok := err.(*forum.Error)
	return ok && fe.Kind == kind
}
