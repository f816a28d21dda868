// Package apperr defines the error kinds surfaced by the ingestion service and
// their mapping to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for the HTTP layer.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindStalePrompt       Kind = "stale_prompt"
	KindDecode            Kind = "decode"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindAuth              Kind = "auth"
	KindConflict          Kind = "conflict"
	KindStorage           Kind = "storage"
	KindPartialSuccess    Kind = "partial_success"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
)

// KeyValue is a piece of diagnostic context attached to an error.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Error is a classified error.
type Error struct {
	Kind    Kind       `json:"kind"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
	Context []KeyValue `json:"context,omitempty"`
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKind lets other error types take part in classification.
func (e *Error) ErrorKind() Kind {
	return e.Kind
}

// WithContext returns a copy of e with an extra key/value.
func (e *Error) WithContext(key, value string) *Error {
	if e == nil {
		return nil
	}
	ctx := make([]KeyValue, len(e.Context), len(e.Context)+1)
	copy(ctx, e.Context)

	return &Error{
		Kind:    e.Kind,
		Message: e.Message,
		Err:     e.Err,
		Context: append(ctx, KeyValue{Key: key, Value: value}),
	}
}

// New creates a classified error
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrapf classifies err with a formatted message. A nil err yields nil.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

type kinded interface {
	ErrorKind() Kind
}

// KindOf returns the kind of the outermost classified error in the chain,
// or KindInternal when nothing in the chain is classified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to the status code returned to API clients.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindDecode:
		return http.StatusBadRequest
	case KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case KindStalePrompt, KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindAuth, KindStorage:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
