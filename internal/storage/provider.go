package storage

import (
	"context"
	"errors"
	"net"

	"voicecollect/pkg/model"
)

// Sentinel outcomes every provider maps its native errors onto
var (
	ErrUnauthorized = errors.New("storage credentials rejected")
	ErrConflict     = errors.New("object already exists")
	ErrNotFound     = errors.New("object not found")
)

// TransientError marks a failure worth retrying: timeouts, throttling, 5xx.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable. A nil err yields nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Page is one slice of a namespace listing. An empty Next means the listing
// is complete.
type Page struct {
	Objects []model.StoredObject
	Next    string
}

// Provider is one backing object store. Keys are full object paths,
// namespace included. Implementations report ErrUnauthorized, ErrConflict,
// ErrNotFound or a TransientError where those apply.
type Provider interface {
	Name() string
	Put(ctx context.Context, key string, data []byte, policy model.CollisionPolicy) (model.StoredObject, error)
	// PublicURL returns the object's public link, creating it if needed.
	PublicURL(ctx context.Context, key string) (string, error)
	ListPage(ctx context.Context, namespace, cursor string) (Page, error)
}

// TokenInvalidator drops a cached credential so the next call fetches a new one
type TokenInvalidator interface {
	Invalidate()
}
