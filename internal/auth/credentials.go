// Package auth caches the storage provider's access token and refreshes it
// through a refresh-token exchange when it is missing, about to expire, or
// rejected by the provider.
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"voicecollect/pkg/apperr"
	"voicecollect/pkg/logger"
	"voicecollect/pkg/resilience"
)

// ErrRejected marks a refresh the provider refused (revoked or invalid
// refresh credential). It is never retried.
var ErrRejected = errors.New("refresh credential rejected")

// AccessToken is a bearer token with its expiry
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Refresher performs one refresh-token exchange against the provider
type Refresher interface {
	Refresh(ctx context.Context) (AccessToken, error)
}

type Manager struct {
	refresher Refresher
	margin    time.Duration
	timeout   time.Duration
	retry     *resilience.RetryConfig
	now       func() time.Time
	observe   func(result string)

	mu    sync.RWMutex
	token AccessToken
	group singleflight.Group
}

type Option func(*Manager)

// WithSafetyMargin treats a token as expired this long before its real expiry
func WithSafetyMargin(d time.Duration) Option {
	return func(m *Manager) { m.margin = d }
}

// WithTimeout bounds a single refresh exchange
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

func WithRetry(cfg *resilience.RetryConfig) Option {
	return func(m *Manager) { m.retry = cfg }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithObserver is called with "success" or "failure" after every exchange
func WithObserver(fn func(result string)) Option {
	return func(m *Manager) { m.observe = fn }
}

func NewManager(refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		refresher: refresher,
		margin:    5 * time.Minute,
		timeout:   15 * time.Second,
		retry:     resilience.DefaultRetryConfig(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token returns a valid access token value, refreshing it if needed.
// Concurrent callers share one in-flight exchange.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}

	ch := m.group.DoChan("refresh", func() (interface{}, error) {
		if tok, ok := m.cached(); ok {
			return tok, nil
		}
		// The exchange outlives any single caller so a cancelled request
		// does not fail the others waiting on it.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout*time.Duration(max(m.retry.MaxAttempts, 1)))
		defer cancel()
		return m.refresh(rctx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token so the next Token call refreshes
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.token = AccessToken{}
	m.mu.Unlock()

	logger.Debug("Access token invalidated")
}

func (m *Manager) cached() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.token.Value == "" || !m.now().Before(m.token.ExpiresAt.Add(-m.margin)) {
		return "", false
	}
	return m.token.Value, true
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	retry := *m.retry
	retry.Retryable = func(err error) bool {
		return !errors.Is(err, ErrRejected)
	}
	retry.OnRetry = func(attempt int, err error) {
		logger.Warn("Token refresh failed, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	var tok AccessToken
	err := resilience.RetryWithExponentialBackoff(ctx, &retry, func() error {
		actx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		var err error
		tok, err = m.refresher.Refresh(actx)
		return err
	})
	if err != nil {
		m.report("failure")
		logger.Error("Token refresh failed", zap.Error(err))
		return "", apperr.Wrap(apperr.KindAuth, err, "failed to refresh storage access token")
	}

	if tok.Value == "" {
		m.report("failure")
		return "", apperr.New(apperr.KindAuth, "provider returned an empty access token")
	}

	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()

	m.report("success")
	logger.Info("Access token refreshed", zap.Time("expires_at", tok.ExpiresAt))

	return tok.Value, nil
}

func (m *Manager) report(result string) {
	if m.observe != nil {
		m.observe(result)
	}
}
