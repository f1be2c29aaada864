package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Machine-readable reasons carried by Error.
const (
	ReasonInvalidRequest        = "invalid_request"
	ReasonInvalidTransition     = "invalid_status_transition"
	ReasonNotFound              = "not_found"
	ReasonDownstreamUnavailable = "downstream_unavailable"
	ReasonInternal              = "internal_error"
	ReasonUnauthorized          = "unauthorized"
	ReasonForbidden             = "forbidden"
	ReasonRateLimited           = "rate_limited"
)

// Error represents an application error
type Error struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error
func New(code int, reason, message string, err error) *Error {
	return &Error{
		Code:    code,
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// Validation is returned for malformed input. Nothing has been written when
// a validation error is returned.
func Validation(reason, message string) *Error {
	if reason == "" {
		reason = ReasonInvalidRequest
	}
	return New(http.StatusBadRequest, reason, message, nil)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, ReasonNotFound, message, nil)
}

func Conflict(reason, message string, err error) *Error {
	return New(http.StatusConflict, reason, message, err)
}

// Downstream wraps a failed call to a collaborator service, naming it.
func Downstream(collaborator string, err error) *Error {
	return New(http.StatusBadGateway, ReasonDownstreamUnavailable, collaborator+" unavailable", err)
}

func Internal(message string, err error) *Error {
	return New(http.StatusInternalServerError, ReasonInternal, message, err)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasReason reports whether err carries an *Error with the given reason.
func HasReason(err error, reason string) bool {
	appErr, ok := As(err)
	return ok && appErr.Reason == reason
}

// Error middleware for Gin
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		appErr, ok := As(err)
		if !ok {
			appErr = Internal("Internal server error", err)
		}

		c.AbortWithStatusJSON(appErr.Code, gin.H{
			"error":  appErr.Message,
			"reason": appErr.Reason,
		})
	}
}
