// Package apperr defines the error taxonomy shared by the relay components.
// Every error that reaches a client is an *Error carrying a Code; the handler
// layer turns it into a response record in one place.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

type Code string

const (
	CodeUnknown         Code = "UNKNOWN"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodePermission      Code = "PERMISSION_DENIED"
	CodeNotFound        Code = "NOT_FOUND"
	CodeAlreadyExists   Code = "ALREADY_EXISTS"
	CodeConflict        Code = "FAILED_PRECONDITION"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodePersistence     Code = "INTERNAL"
)

// Error is a classified, client-presentable error. Cause is never shown to
// the client.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`

	// RetryAfter is set on CodeRateLimited errors.
	RetryAfter time.Duration `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by code and message, so package-level sentinels
// can be compared with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Validation(msg string) error      { return New(CodeInvalidArgument, msg) }
func Unauthenticated(msg string) error { return New(CodeUnauthenticated, msg) }
func Forbidden(msg string) error       { return New(CodePermission, msg) }
func NotFound(msg string) error        { return New(CodeNotFound, msg) }
func AlreadyExists(msg string) error   { return New(CodeAlreadyExists, msg) }
func Conflict(msg string) error        { return New(CodeConflict, msg) }

// RateLimited reports a throttled request that may be retried after d.
func RateLimited(msg string, d time.Duration) error {
	return &Error{Code: CodeRateLimited, Message: msg, RetryAfter: d}
}

// Persistence wraps a store failure. The message is generic; the cause is for
// server-side logs only.
func Persistence(msg string, cause error) error {
	return Wrap(CodePersistence, msg, cause)
}

// As returns the *Error in err's chain, or nil.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// CodeOf returns the code of the first *Error in err's chain. Unclassified
// errors report CodeUnknown.
func CodeOf(err error) Code {
	if ae := As(err); ae != nil {
		return ae.Code
	}
	return CodeUnknown
}

var (
	ErrInvalidSession     = Unauthenticated("invalid session")
	ErrNotLoggedIn        = Unauthenticated("not logged in")
	ErrInvalidCredentials = Unauthenticated("invalid credentials")
	ErrNotModerator       = Forbidden("moderator privileges required")
	ErrUserNotFound       = NotFound("user not found")
	ErrUserOffline        = NotFound("user is not online")
	ErrUsernameTaken      = AlreadyExists("username already exists")
)
