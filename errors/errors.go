package errors

import (
	"errors"
	"net/http"
	"strings"
)

type ErrCode string

const (
	ErrCodeNotImplemented    ErrCode = "NotImplemented"
	ErrCodeNotFound          ErrCode = "NotFound"
	ErrCodeServiceFailure    ErrCode = "ServiceFailure"
	ErrCodeAPIBadRequest     ErrCode = "BadRequest"
	ErrCodeDependencyFailure ErrCode = "DependencyFailure"
	ErrCodeUnauthorized      ErrCode = "Unauthorized"
	ErrCodeNotConfigured     ErrCode = "NotConfigured"
)

// PinErr is the error type shared by plakat components. Its message is safe to show to users; details
// of the underlying failure only live in the cause chain, which is meant for logs.
type PinErr struct {
	Code  ErrCode
	msg   string
	cause error
}

func (e *PinErr) Error() string {
	return e.msg
}

// Trace returns the message of e followed by the messages of its causes, one per line
func (e *PinErr) Trace() string {
	b := &strings.Builder{}
	b.WriteString(e.msg)
	depth := 1
	for err := errors.Unwrap(e); err != nil; err = errors.Unwrap(err) {
		b.WriteString("\n")
		b.WriteString(strings.Repeat("\t", depth))
		b.WriteString("Caused by: ")
		b.WriteString(err.Error())
		depth++
	}
	return b.String()
}

func (e *PinErr) Unwrap() error {
	return e.cause
}

func (e *PinErr) WithCause(c error) *PinErr {
	e.cause = c
	return e
}

// prefer appSpecificErr(msg) over appSpecificErr(msg, cause) since the latter's method signature has less
// readability - user needs to look up docs to know the 2nd param is for cause, while the first one can use
// WithCause() to be explicit
func ErrServiceFailure(m string) *PinErr {
	return &PinErr{
		Code: ErrCodeServiceFailure,
		msg:  m,
	}
}

func ErrNotFound(m string) *PinErr {
	return &PinErr{
		Code: ErrCodeNotFound,
		msg:  m,
	}
}

func ErrBadInput(m string) *PinErr {
	return &PinErr{
		Code: ErrCodeAPIBadRequest,
		msg:  m,
	}
}

func ErrDependencyFailure(m string) *PinErr {
	return &PinErr{
		Code: ErrCodeDependencyFailure,
		msg:  m,
	}
}

func ErrUnauthorized(m string) *PinErr {
	return &PinErr{
		Code: ErrCodeUnauthorized,
		msg:  m,
	}
}

// ErrNotConfigured reports a component that cannot work because its configuration is missing. It is
// surfaced as a persistent banner instead of failing the process.
func ErrNotConfigured(m string) *PinErr {
	return &PinErr{
		Code: ErrCodeNotConfigured,
		msg:  m,
	}
}

func ErrNotImplemented() *PinErr {
	return &PinErr{
		Code: ErrCodeNotImplemented,
		msg:  "Not implemented",
	}
}

// Is reports whether err is a *PinErr carrying code c
func Is(err error, c ErrCode) bool {
	var pe *PinErr
	if errors.As(err, &pe) {
		return pe.Code == c
	}
	return false
}

// StatusCode returns the http response status code associated with the PinErr value
func (e *PinErr) StatusCode() int {
	switch e.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeAPIBadRequest:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeNotImplemented:
		return http.StatusNotImplemented
	case ErrCodeDependencyFailure:
		return http.StatusBadGateway
	case ErrCodeNotConfigured:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
