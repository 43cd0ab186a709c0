package search

import (
	"strings"
	"time"

	"agora/api/internal/forum"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultTopic ResultType = "topic"
	ResultPost  ResultType = "post"
)

// Scope selects which entities a query runs over.
type Scope string

const (
	ScopeBoth   Scope = "both"
	ScopeTopics Scope = "topics"
	ScopePosts  Scope = "posts"
)

func ParseScope(value string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "both", "all":
		return ScopeBoth, nil
	case "topics", "topic":
		return ScopeTopics, nil
	case "posts", "post":
		return ScopePosts, nil
	default:
		return "", forum.Invalid("type", "type must be topics, posts or both")
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	TopicID    string     `json:"topicId"`
	CategoryID string     `json:"categoryId"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}
