package apperrors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrGuardrailReject ErrorType = "GUARDRAIL_REJECT"
	ErrRateLimited     ErrorType = "RATE_LIMITED"
	ErrAuthFailed      ErrorType = "AUTH_FAILED"
	ErrInvalidRequest  ErrorType = "INVALID_REQUEST"
	ErrInfraFailure    ErrorType = "INFRA_FAILURE"
	ErrInternal        ErrorType = "INTERNAL_ERROR"
	ErrNotFound        ErrorType = "NOT_FOUND"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewGuardrailReject(msg string) *AppError {
	return New(ErrGuardrailReject, msg, nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func NewNotFound(msg string) *AppError {
	return New(ErrNotFound, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrGuardrailReject, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrInfraFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrGuardrailReject:
		return "Inspect the bot's guardrail events for the rejection reason."
	case ErrRateLimited:
		return "Reduce the alert rate for this bot instance."
	case ErrAuthFailed:
		return "Check the admin API key or the bot's webhook secret."
	case ErrInfraFailure:
		return "Check storage connectivity; the event itself was not rejected by policy."
	default:
		return ""
	}
}
