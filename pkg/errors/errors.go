package errors

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrValidation     = errors.New("validation failed")
	ErrConflict       = errors.New("conflict")
	ErrInternalServer = errors.New("internal server error")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")

	ErrUserNotFound             = errors.New("user not found")
	ErrConversationNotFound     = errors.New("conversation not found")
	ErrMessageNotFound          = errors.New("message not found")
	ErrNotAParticipant          = errors.New("not a participant of this conversation")
	ErrDirectConversationExists = errors.New("direct conversation already exists between these users")
	ErrDeliveryNotFound         = errors.New("webhook delivery not found")
	ErrWebhookNotConfigured     = errors.New("webhook not configured")
)

type APIError struct {
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(message string, code int) *APIError {
	return &APIError{
		Message: message,
		Code:    code,
	}
}

func HTTPStatusFromError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrConversationNotFound),
		errors.Is(err, ErrMessageNotFound),
		errors.Is(err, ErrDeliveryNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden),
		errors.Is(err, ErrNotAParticipant):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrDirectConversationExists):
		return http.StatusConflict
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrWebhookNotConfigured):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
