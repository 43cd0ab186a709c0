package app

import (
	"errors"
	"fmt"
	"net/http"

	"agora/api/internal/auth"
	"agora/api/internal/forum"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var kindStatus = map[forum.Kind]int{
	forum.KindNotFound:          http.StatusNotFound,
	forum.KindAccessDenied:      http.StatusForbidden,
	forum.KindTopicLocked:       http.StatusLocked,
	forum.KindInvalidTransition: http.StatusConflict,
	forum.KindValidation:        http.StatusUnprocessableEntity,
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var forumErr *forum.Error
	if errors.As(err, &forumErr) {
		if status, ok := kindStatus[forumErr.Kind]; ok {
			return status, string(forumErr.Kind), forumErr.Message, forumErr.Details
		}
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
