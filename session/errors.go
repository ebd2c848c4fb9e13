package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrSessionExpired indicates that the session cannot be recovered: the
// refresh token is missing, rejected, or the refresh call itself failed.
var ErrSessionExpired = errors.New("session expired or invalid")

// Kind classifies a failed API call.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork      // no response received (connect error or timeout)
	KindAuthExpired  // 401 that can be recovered with the refresh token
	KindAuthInvalid  // 401 that is terminal; forces logout
	KindValidation   // other 4xx carrying a backend message
	KindServer       // 5xx
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuthExpired:
		return "auth_expired"
	case KindAuthInvalid:
		return "auth_invalid"
	case KindValidation:
		return "validation"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// genericErrorMessage is shown when the backend payload carries nothing
// usable. The UI layer localizes it.
const genericErrorMessage = "Something went wrong. Please try again."

// Error is a classified API failure. Message is safe to show to the user;
// Err carries the underlying cause for errors.Is/As matching.
type Error struct {
	Kind    Kind
	Status  int // HTTP status, 0 when no response was received
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func networkError(err error) *Error {
	return &Error{
		Kind:    KindNetwork,
		Message: "Could not reach the server. Check your connection.",
		Err:     err,
	}
}

func authExpiredError() *Error {
	return &Error{
		Kind:    KindAuthExpired,
		Status:  http.StatusUnauthorized,
		Message: genericErrorMessage,
	}
}

func authInvalidError() *Error {
	return &Error{
		Kind:    KindAuthInvalid,
		Status:  http.StatusUnauthorized,
		Message: "Your session has expired. Please sign in again.",
		Err:     ErrSessionExpired,
	}
}

// statusError classifies a non-401 error status, attaching the best
// user-facing message the payload offers.
func statusError(status int, body []byte) *Error {
	kind := KindUnknown
	switch {
	case status >= 500:
		kind = KindServer
	case status >= 400:
		kind = KindValidation
	}

	message := userMessage(body)
	if message == "" {
		message = genericErrorMessage
	}

	return &Error{Kind: kind, Status: status, Message: message}
}

// UserMessage returns the message to show the user for a failed operation,
// falling back to the generic string for unclassified failures.
func UserMessage(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return genericErrorMessage
}

// userMessage pulls a display message out of a backend error payload. The
// backend is not consistent about where it puts the message, so several
// positions are tried in order.
func userMessage(body []byte) string {
	var payload struct {
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
		ErrorField       any    `json:"error"`
		Data             struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	if payload.Message != "" {
		return payload.Message
	}
	if payload.Data.Message != "" {
		return payload.Data.Message
	}
	if payload.ErrorDescription != "" {
		return payload.ErrorDescription
	}
	// "error" is sometimes a string, sometimes an object; only strings are
	// usable as-is.
	if s, ok := payload.ErrorField.(string); ok {
		return s
	}
	return ""
}
