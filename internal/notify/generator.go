package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"agora/api/internal/log"
	"agora/api/internal/rbac"
	"agora/api/internal/store"
	"agora/api/internal/util"
)

// Enqueuer accepts notifications without blocking.
type Enqueuer interface {
	Enqueue(n store.Notification) bool
}

// Generator decides which notifications a mutation produces. It never returns errors:
// the mutation that triggered it has already succeeded.
type Generator struct {
	follows   store.FollowRepository
	directory *Directory
	out       Enqueuer
	baseURL   string
	clock     func() time.Time
}

func NewGenerator(follows store.FollowRepository, directory *Directory, out Enqueuer, baseURL string) *Generator {
	return &Generator{
		follows:   follows,
		directory: directory,
		out:       out,
		baseURL:   strings.TrimRight(baseURL, "/"),
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

func (g *Generator) Directory() *Directory { return g.directory }

// ActionURL links to a topic, or to a post anchor inside it.
func (g *Generator) ActionURL(topicID, postID string) string {
	url := g.baseURL + "/community/topics/" + topicID
	if postID != "" {
		url += "#post-" + postID
	}
	return url
}

func (g *Generator) emit(actorID, recipientID, kind, title, message, topicID, postID string) {
	if recipientID == "" || recipientID == actorID {
		return
	}
	g.out.Enqueue(store.Notification{
		ID:          util.NewID("ntf"),
		RecipientID: recipientID,
		Type:        kind,
		Title:       title,
		Message:     message,
		TopicID:     topicID,
		PostID:      postID,
		ActionURL:   g.ActionURL(topicID, postID),
		CreatedAt:   g.clock(),
	})
}

// TopicCreated tells followers of the category, other than the author, who can see the topic.
func (g *Generator) TopicCreated(ctx context.Context, topic store.Topic) {
	g.directory.Learn(topic.Author)
	followers, err := g.follows.ListFollowers(ctx, topic.CategoryID)
	if err != nil {
		log.L.Error("list category followers", zap.String("category", topic.CategoryID), zap.Error(err))
		return
	}
	message := fmt.Sprintf("%s started %q", topic.Author.Name, topic.Title)
	for _, f := range followers {
		if !rbac.CanView(f.Tier, topic.RequiredTier) {
			continue
		}
		g.emit(topic.Author.ID, f.UserID, store.NotifyNewTopic, "New topic", message, topic.ID, "")
	}
}

// PostCreated notifies the parent post's author of a reply and every resolvable mention.
func (g *Generator) PostCreated(ctx context.Context, topic store.Topic, post store.Post, parent *store.Post) {
	g.directory.Learn(post.Author)
	if parent != nil {
		g.directory.Learn(parent.Author)
		g.emit(post.Author.ID, parent.Author.ID, store.NotifyReply, "New reply",
			fmt.Sprintf("%s replied to your post in %q", post.Author.Name, topic.Title), topic.ID, post.ID)
	}
	g.mentions(topic, post, post.Mentions)
}

// PostEdited notifies only handles the edit added.
func (g *Generator) PostEdited(ctx context.Context, topic store.Topic, post store.Post, added []string) {
	g.mentions(topic, post, added)
}

func (g *Generator) mentions(topic store.Topic, post store.Post, handles []string) {
	seen := map[string]bool{}
	for _, handle := range handles {
		member, ok := g.directory.Resolve(handle)
		if !ok || seen[member.UserID] {
			continue
		}
		seen[member.UserID] = true
		if !rbac.CanView(member.Tier, topic.RequiredTier) {
			continue
		}
		g.emit(post.Author.ID, member.UserID, store.NotifyMention, "You were mentioned",
			fmt.Sprintf("%s mentioned you in %q", post.Author.Name, topic.Title), topic.ID, post.ID)
	}
}

// UpvoteMilestones tells the author of a topic, or of post when it is set, about each milestone reached.
func (g *Generator) UpvoteMilestones(ctx context.Context, topic store.Topic, post *store.Post, reached []int) {
	author, postID, what := topic.Author, "", "topic"
	if post != nil {
		author, postID, what = post.Author, post.ID, "post"
	}
	for _, m := range reached {
		g.emit("", author.ID, store.NotifyUpvote, "Upvote milestone",
			fmt.Sprintf("Your %s in %q reached %d upvotes", what, topic.Title, m), topic.ID, postID)
	}
}

// ReportResolved tells the reporter how their report ended.
func (g *Generator) ReportResolved(ctx context.Context, report store.Report, resolverID string) {
	message := fmt.Sprintf("Your report was %s", report.Status)
	if report.Action != "" {
		message += ": " + report.Action
	}
	postID := ""
	if report.TargetType == store.TargetPost {
		postID = report.TargetID
	}
	g.emit(resolverID, report.ReporterID, store.NotifyModeration, "Report update", message, report.TopicID, postID)
}
