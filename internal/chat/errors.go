package chat

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	InvalidArgument
	Forbidden
	NotFound
	Unauthorized
	Conflict
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not found"
	case Unauthorized:
		return "unauthorized"
	case Conflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is returned by every chat operation. Message is safe to show to
// clients, Err carries the underlying cause and never leaves the process.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	ErrMatchNotFound      = &Error{Kind: NotFound, Message: "match not found"}
	ErrMessageNotFound    = &Error{Kind: NotFound, Message: "message not found"}
	ErrNotParticipant     = &Error{Kind: Forbidden, Message: "not allowed"}
	ErrNotSender          = &Error{Kind: Forbidden, Message: "not authorized to delete this message"}
	ErrEmptyContent       = &Error{Kind: InvalidArgument, Message: "content is required"}
	ErrContentTooLong     = &Error{Kind: InvalidArgument, Message: fmt.Sprintf("content exceeds %d characters", MaxContentLength)}
	ErrInvalidMatchId     = &Error{Kind: InvalidArgument, Message: "invalid match id"}
	ErrInvalidMessageId   = &Error{Kind: InvalidArgument, Message: "invalid message id"}
	ErrTemporaryMessageId = &Error{Kind: InvalidArgument, Message: "cannot delete temporary message"}
)

func internalError(msg string, err error) *Error {
	return &Error{Kind: Internal, Message: msg, Err: err}
}

// KindOf reports the kind of err. Errors that did not come from this
// package are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return Internal
}

// Message returns the client safe text for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Message
	}

	return "internal server error"
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case InvalidArgument:
		return http.StatusBadRequest
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Unauthorized:
		return http.StatusUnauthorized
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
