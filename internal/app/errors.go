package app

import (
	"errors"
	"fmt"
	"net/http"

	"clinchem/api/internal/auth"
	"clinchem/api/internal/moderation"
	"clinchem/api/internal/store"
	"clinchem/api/internal/vote"
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

const (
	CodeNotFound           = "NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidState       = "INVALID_STATE"
	CodeDepthLimitExceeded = "DEPTH_LIMIT_EXCEEDED"
	CodeAlreadyReported    = "ALREADY_REPORTED"
	CodeServerError        = "SERVER_ERROR"
)

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, message, nil)
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, CodeForbidden, message, nil)
}

func unauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, CodeValidation, message, details)
}

func invalidState(message string) *DomainError {
	return domainError(http.StatusBadRequest, CodeInvalidState, message, nil)
}

// translate turns package sentinels into domain errors. Anything it does not
// recognise is returned unchanged and surfaces as a server error.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	switch {
	case errors.As(err, &domainErr):
		return domainErr
	case errors.Is(err, store.ErrNotFound):
		return notFound("comment not found")
	case errors.Is(err, vote.ErrDeletedComment), errors.Is(err, moderation.ErrCommentDeleted):
		return invalidState("comment is deleted")
	case errors.Is(err, moderation.ErrIllegalTransition):
		return invalidState("status transition not allowed")
	case errors.Is(err, moderation.ErrAlreadyReported):
		return domainError(http.StatusBadRequest, CodeAlreadyReported, "you already reported this comment", nil)
	case errors.Is(err, moderation.ErrInvalidReason):
		return validationError(fmt.Sprintf("reason must be 1-%d characters", moderation.MaxReasonLength), nil)
	case errors.Is(err, vote.ErrInvalidDirection):
		return validationError("direction must be 'up' or 'down'", nil)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return unauthorized()
	default:
		return err
	}
}
