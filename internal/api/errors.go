package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/campus-connect/internal/chat"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func (e *ApiError) WithMessage(msg string) *ApiError {
	e.Message = msg
	return e
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewRequestTooLargeError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusRequestEntityTooLarge,
		Message:    lower(http.StatusText(http.StatusRequestEntityTooLarge)),
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
	}
}

// errorFromChat maps a chat error to its response. Internal causes stay in
// Err and are only logged.
func errorFromChat(err error) *ApiError {
	if chat.KindOf(err) == chat.Internal {
		return NewInternalServerError(err)
	}

	return &ApiError{
		StatusCode: chat.HTTPStatus(err),
		Message:    chat.Message(err),
		Err:        err,
	}
}
