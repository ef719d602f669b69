package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/technosupport/ts-monitor/internal/data"
)

// ErrUnknownRecipient means the mail local-part matches no registered
// camera alias. Surfaced to the sender as a permanent SMTP failure.
var ErrUnknownRecipient = errors.New("no camera registered for recipient")

type CameraStore interface {
	GetByAlias(ctx context.Context, alias string) (*data.Camera, error)
}

type cachedCamera struct {
	camera   data.Camera
	cachedAt time.Time
}

// Resolver maps mail aliases to cameras with a TTL'd LRU in front of
// the database. Cameras report frequently from the same alias, so the
// cache absorbs most lookups. Unknown aliases are not cached; a
// just-registered camera must work on its next report.
type Resolver struct {
	store CameraStore
	cache *lru.Cache[string, cachedCamera]
	ttl   time.Duration
}

func NewResolver(store CameraStore, cacheSize int, ttl time.Duration) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, cachedCamera](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("alias cache: %w", err)
	}
	return &Resolver{store: store, cache: cache, ttl: ttl}, nil
}

// Resolve maps the local-part of a recipient address to its camera.
func (r *Resolver) Resolve(ctx context.Context, recipient string) (*data.Camera, error) {
	alias := localPart(recipient)
	if alias == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecipient, recipient)
	}

	if entry, ok := r.cache.Get(alias); ok {
		if time.Since(entry.cachedAt) < r.ttl {
			cam := entry.camera
			return &cam, nil
		}
		r.cache.Remove(alias)
	}

	cam, err := r.store.GetByAlias(ctx, alias)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRecipient, recipient)
		}
		return nil, err
	}

	r.cache.Add(alias, cachedCamera{camera: *cam, cachedAt: time.Now()})
	return cam, nil
}

// Invalidate drops a cached alias, for callers that mutate cameras.
func (r *Resolver) Invalidate(alias string) {
	r.cache.Remove(strings.ToLower(alias))
}

func localPart(addr string) string {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return strings.ToLower(addr)
	}
	return strings.ToLower(addr[:at])
}
