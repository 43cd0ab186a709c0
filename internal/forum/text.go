package forum

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	MaxMentions   = 20
	previewLength = 140
)

// Limits bound user supplied text.
type Limits struct {
	MaxTitle int
	MaxBody  int
	MaxTags  int
}

func DefaultLimits() Limits {
	return Limits{MaxTitle: 200, MaxBody: 20000, MaxTags: 10}
}

var (
	mentionPattern = regexp.MustCompile(`@(\w+)`)
	tagPattern     = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)
	whitespace     = regexp.MustCompile(`\s+`)
	plainText      = bluemonday.StrictPolicy()
)

// NormalizeTags trims, lower-cases and dedupes tags, keeping first-seen order.
func NormalizeTags(tags []string, limits Limits) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, raw := range tags {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if tag == "" || seen[tag] {
			continue
		}
		if !tagPattern.MatchString(tag) {
			return nil, Invalid("tags", "malformed tag: "+tag)
		}
		seen[tag] = true
		out = append(out, tag)
	}
	if limits.MaxTags > 0 && len(out) > limits.MaxTags {
		return nil, Invalid("tags", "too many tags")
	}
	return out, nil
}

// ExtractMentions returns the distinct @handles in body, in order of appearance.
// Handles are captured case-sensitively.
func ExtractMentions(body string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, match := range mentionPattern.FindAllStringSubmatch(body, -1) {
		handle := match[1]
		if seen[handle] {
			continue
		}
		seen[handle] = true
		out = append(out, handle)
		if len(out) == MaxMentions {
			break
		}
	}
	return out
}

// addedMentions lists handles present in next but not in prev.
func addedMentions(prev, next []string) []string {
	had := map[string]bool{}
	for _, h := range prev {
		had[h] = true
	}
	out := []string{}
	for _, h := range next {
		if !had[h] {
			out = append(out, h)
		}
	}
	return out
}

// Preview strips markup and shortens body for last-reply summaries and search snippets.
func Preview(body string) string {
	text := whitespace.ReplaceAllString(strings.TrimSpace(html.UnescapeString(plainText.Sanitize(body))), " ")
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:previewLength])) + "…"
}

func validateTitle(title string, limits Limits) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", Invalid("title", "title is required")
	}
	if utf8.RuneCountInString(title) > limits.MaxTitle {
		return "", Invalid("title", "title is too long")
	}
	return title, nil
}

func validateBody(body string, limits Limits) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", Invalid("body", "body is required")
	}
	if utf8.RuneCountInString(body) > limits.MaxBody {
		return "", Invalid("body", "body is too long")
	}
	return body, nil
}
