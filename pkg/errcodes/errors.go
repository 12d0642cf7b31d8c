package errcodes

import (
	"fmt"
	"net/http"
)

type Error struct {
	HTTPCode int
	Message  string
	Code     string
}

func (err *Error) Error() string {
	return err.Message
}

func (err *Error) As(target interface{}) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	te.HTTPCode = err.HTTPCode
	te.Message = err.Message
	te.Code = err.Code
	return true
}

func (err *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.HTTPCode == err.HTTPCode &&
		te.Message == err.Message &&
		te.Code == err.Code
}

// NotFound returns a 404 error with a message indicating the given resource.
func NotFound(resource string) error {
	return &Error{
		http.StatusNotFound,
		resource + " not found.",
		"not_found",
	}
}

// InvalidState returns a 409 error for an operation attempted against an
// entity that isn't in the state the operation requires. The caller should
// refresh its view and retry.
func InvalidState(msg string) error {
	return &Error{
		http.StatusConflict,
		msg,
		"invalid_state",
	}
}

// OrderMismatch returns a 409 error for a reorder request whose gallery set
// doesn't exactly match the current series membership.
func OrderMismatch(msg string) error {
	return &Error{
		http.StatusConflict,
		msg,
		"order_mismatch",
	}
}

// OutOfRange returns a 422 error for a page index outside the gallery's
// valid page range.
func OutOfRange(msg string) error {
	return &Error{
		http.StatusUnprocessableEntity,
		msg,
		"out_of_range",
	}
}

// IOFailure returns a 500 error for a filesystem-level failure (move, read,
// or thumbnail generation). File integrity is preserved on either side.
func IOFailure(msg string) error {
	return &Error{
		http.StatusInternalServerError,
		msg,
		"io_failure",
	}
}

// ConsistencyError returns a 409 error for a detected invariant violation,
// e.g. a snapshot with duplicate library paths. It is reported, never
// auto-resolved by deleting data.
func ConsistencyError(msg string) error {
	return &Error{
		http.StatusConflict,
		msg,
		"consistency_error",
	}
}

func UnsupportedMediaType() error {
	return &Error{
		http.StatusUnsupportedMediaType,
		"Unsupported Media Type",
		"unsupported_media_type",
	}
}

func UnknownParameter(param string) error {
	return &Error{
		http.StatusUnprocessableEntity,
		fmt.Sprintf("Unknown Parameter %q", param),
		"unknown_parameter",
	}
}

func ValidationTypeError(msg string) error {
	return &Error{
		http.StatusUnprocessableEntity,
		msg,
		"validation_type_error",
	}
}

func ValidationError(msg string) error {
	return &Error{
		http.StatusUnprocessableEntity,
		msg,
		"validation_error",
	}
}

func MalformedPayload() error {
	return &Error{
		http.StatusBadRequest,
		"Malformed Payload",
		"malformed_payload",
	}
}

func EmptyRequestBody() error {
	return &Error{
		http.StatusBadRequest,
		"Request body can't be empty.",
		"empty_request_body",
	}
}
