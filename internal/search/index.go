package search

import (
	"context"
	"html"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"agora/api/internal/forum"
	"agora/api/internal/rbac"
	"agora/api/internal/store"
)

const (
	snippetBefore = 40
	snippetAfter  = 100
)

var plainText = bluemonday.StrictPolicy()

// Query describes a search request. Tier is the caller's membership tier.
type Query struct {
	Text       string
	Scope      Scope
	CategoryID string
	Tier       rbac.Tier
	Limit      int
	Offset     int
}

type repository interface {
	store.TopicRepository
	store.PostRepository
}

// Index runs case-insensitive substring search over the stores. Hits come back in
// creation order; there is no relevance ranking.
type Index struct {
	repo repository
}

func NewIndex(repo repository) *Index {
	return &Index{repo: repo}
}

// MatchTopics serves the text part of topic listings.
func (ix *Index) MatchTopics(ctx context.Context, q store.TopicQuery) ([]store.Topic, error) {
	return ix.repo.ListTopics(ctx, q)
}

func (ix *Index) Search(ctx context.Context, q Query) (Response, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return Response{}, forum.Invalid("q", "query is required")
	}
	if q.Scope == "" {
		q.Scope = ScopeBoth
	}

	results := []Result{}
	if q.Scope != ScopePosts {
		topics, err := ix.repo.ListTopics(ctx, store.TopicQuery{CategoryID: q.CategoryID, MaxTier: q.Tier, Text: text})
		if err != nil {
			return Response{}, err
		}
		for _, t := range topics {
			results = append(results, Result{
				Type:       ResultTopic,
				ID:         t.ID,
				TopicID:    t.ID,
				CategoryID: t.CategoryID,
				Title:      t.Title,
				Snippet:    Snippet(t.Body, text),
				CreatedAt:  t.CreatedAt,
			})
		}
	}
	if q.Scope != ScopeTopics {
		posts, err := ix.repo.SearchPosts(ctx, store.PostQuery{CategoryID: q.CategoryID, MaxTier: q.Tier, Text: text})
		if err != nil {
			return Response{}, err
		}
		titles := map[string]store.Topic{}
		for _, p := range posts {
			topic, ok := titles[p.TopicID]
			if !ok {
				if topic, err = ix.repo.GetTopic(ctx, p.TopicID); err != nil {
					return Response{}, err
				}
				titles[p.TopicID] = topic
			}
			results = append(results, Result{
				Type:       ResultPost,
				ID:         p.ID,
				TopicID:    p.TopicID,
				CategoryID: topic.CategoryID,
				Title:      topic.Title,
				Snippet:    Snippet(p.Body, text),
				CreatedAt:  p.CreatedAt,
			})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].CreatedAt.Before(results[j].CreatedAt) })

	total := len(results)
	limit, offset := q.Limit, q.Offset
	if limit <= 0 {
		limit = forum.DefaultPageSize
	}
	if limit > forum.MaxPageSize {
		limit = forum.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return Response{Results: results[offset:end], Total: total, Query: text}, nil
}

// Snippet returns the plain text of body around the first match of needle.
func Snippet(body, needle string) string {
	text := strings.Join(strings.Fields(html.UnescapeString(plainText.Sanitize(body))), " ")
	runes := []rune(text)
	at := strings.Index(strings.ToLower(text), strings.ToLower(needle))
	if at < 0 {
		at = 0
	}
	start := utf8.RuneCountInString(strings.ToLower(text)[:at]) - snippetBefore
	if start < 0 {
		start = 0
	}
	end := start + snippetBefore + snippetAfter
	if end > len(runes) {
		end = len(runes)
	}
	out := string(runes[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}
