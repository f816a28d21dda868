// Package storage writes recordings to a remote object store and resolves
// public playback links for them. Gateway adds credential refresh, retries,
// a circuit breaker and link caching on top of a single Provider.
package storage

import (
	"context"
	"errors"
	"iter"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"voicecollect/pkg/apperr"
	"voicecollect/pkg/cache"
	"voicecollect/pkg/logger"
	"voicecollect/pkg/model"
	"voicecollect/pkg/resilience"
)

type Gateway struct {
	provider  Provider
	tokens    TokenInvalidator
	namespace string
	timeout   time.Duration
	retry     *resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
	links     cache.Cache
	linkTTL   time.Duration
	observe   func(op, result string)
}

type Option func(*Gateway)

// WithTokenInvalidator enables the refresh-and-retry-once path for providers
// that authenticate with a refreshable token.
func WithTokenInvalidator(t TokenInvalidator) Option {
	return func(g *Gateway) { g.tokens = t }
}

// WithRequestTimeout bounds every individual provider call
func WithRequestTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithRetry(cfg *resilience.RetryConfig) Option {
	return func(g *Gateway) { g.retry = cfg }
}

func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(g *Gateway) { g.breaker = cb }
}

// WithLinkCache stores resolved public URLs so repeated lookups skip the provider
func WithLinkCache(c cache.Cache, ttl time.Duration) Option {
	return func(g *Gateway) {
		g.links = c
		g.linkTTL = ttl
	}
}

// WithObserver is called after every provider attempt with the operation
// name and "ok", "retry" or "error".
func WithObserver(fn func(op, result string)) Option {
	return func(g *Gateway) { g.observe = fn }
}

func NewGateway(provider Provider, namespace string, opts ...Option) *Gateway {
	g := &Gateway{
		provider:  provider,
		namespace: strings.Trim(namespace, "/"),
		timeout:   30 * time.Second,
		retry: &resilience.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2.0,
		},
		breaker: resilience.NewCircuitBreaker(5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.breaker.CountOnly(IsTransient)
	return g
}

// Namespace is the folder recordings are written to
func (g *Gateway) Namespace() string {
	return g.namespace
}

// ProviderName identifies the backing store in logs and health output
func (g *Gateway) ProviderName() string {
	return g.provider.Name()
}

// Upload writes data under key in the gateway namespace. With CollisionReject
// an existing object fails the call with a conflict error.
func (g *Gateway) Upload(ctx context.Context, key string, data []byte, policy model.CollisionPolicy) (model.StoredObject, error) {
	if !policy.Valid() {
		return model.StoredObject{}, apperr.Newf(apperr.KindValidation, "unknown collision policy %q", policy)
	}
	if err := validateKey(key); err != nil {
		return model.StoredObject{}, err
	}

	full := g.objectKey(g.namespace, key)

	var obj model.StoredObject
	err := g.call(ctx, "upload", func(ctx context.Context) error {
		var err error
		obj, err = g.provider.Put(ctx, full, data, policy)
		return err
	})
	if err != nil {
		return model.StoredObject{}, g.classify(err, "upload", full)
	}

	if policy == model.CollisionOverwrite && g.links != nil {
		if err := g.links.Delete(ctx, cache.LinkCacheKey(full)); err != nil {
			logger.Warn("Failed to drop cached public link", zap.String("key", full), zap.Error(err))
		}
	}

	logger.Info("Object uploaded",
		zap.String("provider", g.provider.Name()),
		zap.String("key", full),
		zap.Int("size", len(data)),
		zap.String("policy", string(policy)))

	return obj, nil
}

// ResolvePublicURL returns the object's public link, reusing an existing one
// when present. Repeated calls for the same key return the same URL.
func (g *Gateway) ResolvePublicURL(ctx context.Context, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return g.resolve(ctx, g.objectKey(g.namespace, key))
}

func (g *Gateway) resolve(ctx context.Context, full string) (string, error) {
	cacheKey := cache.LinkCacheKey(full)

	if g.links != nil {
		var url string
		if err := g.links.Get(ctx, cacheKey, &url); err == nil && url != "" {
			return url, nil
		}
	}

	var url string
	err := g.call(ctx, "link", func(ctx context.Context) error {
		var err error
		url, err = g.provider.PublicURL(ctx, full)
		return err
	})
	if err != nil {
		return "", g.classify(err, "link", full)
	}

	if g.links != nil {
		if err := g.links.SetWithTTL(ctx, cacheKey, url, g.linkTTL); err != nil {
			logger.Warn("Failed to cache public link", zap.String("key", full), zap.Error(err))
		}
	}

	return url, nil
}

// List yields every object in namespace with its public URL. An empty
// namespace means the gateway's own. Pages are fetched as the sequence is
// consumed and every range starts a fresh listing. A failure is yielded once
// as the final element.
func (g *Gateway) List(ctx context.Context, namespace string) iter.Seq2[model.StoredObject, error] {
	ns := strings.Trim(namespace, "/")
	if ns == "" {
		ns = g.namespace
	}

	return func(yield func(model.StoredObject, error) bool) {
		cursor := ""
		for {
			var page Page
			err := g.call(ctx, "list", func(ctx context.Context) error {
				var err error
				page, err = g.provider.ListPage(ctx, ns, cursor)
				return err
			})
			if err != nil {
				yield(model.StoredObject{}, g.classify(err, "list", ns))
				return
			}

			for _, obj := range page.Objects {
				if obj.PublicURL == "" {
					url, err := g.resolve(ctx, obj.Key)
					if err != nil {
						yield(model.StoredObject{}, err)
						return
					}
					obj.PublicURL = url
				}
				if !yield(obj, nil) {
					return
				}
			}

			if page.Next == "" {
				return
			}
			cursor = page.Next
		}
	}
}

// call runs fn with a per-attempt timeout, bounded backoff on transient
// errors, and one token refresh on an authorization failure.
func (g *Gateway) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := func() error {
		actx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return fn(actx)
	}

	refreshed := false

	retry := *g.retry
	retry.Retryable = func(err error) bool {
		return IsTransient(err)
	}
	retry.OnRetry = func(n int, err error) {
		g.report(op, "retry")
		logger.Warn("Storage call failed, retrying",
			zap.String("provider", g.provider.Name()),
			zap.String("op", op),
			zap.Int("attempt", n),
			zap.Error(err))
	}

	err := resilience.RetryWithExponentialBackoff(ctx, &retry, func() error {
		return g.breaker.Execute(func() error {
			err := attempt()
			if errors.Is(err, ErrUnauthorized) && g.tokens != nil && !refreshed {
				refreshed = true
				logger.Info("Storage rejected access token, refreshing",
					zap.String("provider", g.provider.Name()),
					zap.String("op", op))
				g.tokens.Invalidate()
				err = attempt()
			}
			return err
		})
	})

	if err != nil {
		g.report(op, "error")
	} else {
		g.report(op, "ok")
	}
	return err
}

func (g *Gateway) classify(err error, op, key string) error {
	switch {
	case errors.Is(err, ErrConflict):
		return apperr.Wrapf(apperr.KindConflict, err, "object %s already exists", key)
	case errors.Is(err, ErrNotFound):
		return apperr.Wrapf(apperr.KindNotFound, err, "object %s not found", key)
	case apperr.Is(err, apperr.KindAuth):
		return err
	case errors.Is(err, ErrUnauthorized):
		return apperr.Wrapf(apperr.KindStorage, err, "%s %s: authorization failed after token refresh", op, key)
	case errors.Is(err, resilience.ErrCircuitOpen):
		return apperr.Wrapf(apperr.KindStorage, err, "%s %s: storage provider unavailable", op, key)
	}

	logger.Error("Storage call failed",
		zap.String("provider", g.provider.Name()),
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err))

	return apperr.Wrapf(apperr.KindStorage, err, "%s %s failed", op, key)
}

func (g *Gateway) report(op, result string) {
	if g.observe != nil {
		g.observe(op, result)
	}
}

func (g *Gateway) objectKey(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return path.Join(namespace, key)
}

func validateKey(key string) error {
	if key == "" || strings.ContainsAny(key, "\\") || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return apperr.Newf(apperr.KindValidation, "invalid object key %q", key)
	}
	return nil
}
