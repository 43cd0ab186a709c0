package forum

import (
	"errors"
	"fmt"

	"agora/api/internal/store"
)

type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindAccessDenied      Kind = "ACCESS_DENIED"
	KindTopicLocked       Kind = "TOPIC_LOCKED"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindValidation        Kind = "VALIDATION_ERROR"
)

// Error is the typed failure every forum operation returns.
type Error struct {
	Kind    Kind
	Message string
	Details any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so errors.Is(err, forum.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrAccessDenied      = &Error{Kind: KindAccessDenied}
	ErrTopicLocked       = &Error{Kind: KindTopicLocked}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrValidation        = &Error{Kind: KindValidation}
)

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func AccessDenied(format string, args ...any) *Error {
	return &Error{Kind: KindAccessDenied, Message: fmt.Sprintf(format, args...)}
}

func TopicLocked(topicID string) *Error {
	return &Error{Kind: KindTopicLocked, Message: "topic is locked", Details: map[string]any{"topicId": topicID}}
}

func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("cannot move report from %s to %s", from, to),
		Details: map[string]any{"from": from, "to": to},
	}
}

func Invalid(field, message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: map[string]any{"field": field}}
}

// lookup turns a repository miss into a NotFound naming the entity.
func lookup(err error, entity, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return NotFound("%s %s not found", entity, id)
	}
	return err
}
