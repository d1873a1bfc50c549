// Package httperr defines the error shape every endpoint returns: an HTTP
// status, a machine-readable code, and a human message. Handlers and
// middleware return *Error values; Render writes them as structured JSON so no
// internal detail leaks to callers.
package httperr

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error is an HTTP-mappable error. Code is a stable machine-readable
// identifier (e.g. "ACCESS-RESTRICTION-IP"); Message is for humans.
// Headers, when set, are written on the response (e.g. WWW-Authenticate).
type Error struct {
	Status  int
	Code    string
	Message string
	Headers map[string]string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// New returns an Error with the given status, code, and message.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// BadRequest returns a 400 error.
func BadRequest(code, message string) *Error {
	return New(http.StatusBadRequest, code, message)
}

// Unauthorized returns a 401 error.
func Unauthorized(code, message string) *Error {
	return New(http.StatusUnauthorized, code, message)
}

// Forbidden returns a 403 error.
func Forbidden(code, message string) *Error {
	return New(http.StatusForbidden, code, message)
}

// TooManyRequests returns a 429 error.
func TooManyRequests(code, message string) *Error {
	return New(http.StatusTooManyRequests, code, message)
}

// NotImplemented returns a 501 error.
func NotImplemented(code, message string) *Error {
	return New(http.StatusNotImplemented, code, message)
}

// ServiceUnavailable returns a 503 error.
func ServiceUnavailable(code, message string) *Error {
	return New(http.StatusServiceUnavailable, code, message)
}

// Internal returns a 500 error. The message should be safe to show callers;
// the underlying cause belongs in the log, not the response.
func Internal(message string) *Error {
	return New(http.StatusInternalServerError, "INTERNAL-ERROR", message)
}

// From normalizes any error to *Error. Unknown errors become opaque 500s.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("An internal error occurred. Please try again later.")
}

// Render writes err as a JSON response and aborts the gin chain. Errors that
// are not *Error are logged at error level and rendered as opaque 500s.
func Render(c *gin.Context, err error) {
	e := From(err)
	if e.Status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	}
	for k, v := range e.Headers {
		c.Header(k, v)
	}
	c.AbortWithStatusJSON(e.Status, gin.H{
		"error": gin.H{
			"status":  e.Status,
			"code":    e.Code,
			"message": e.Message,
		},
	})
}
