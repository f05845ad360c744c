package tableview

import (
	"context"
	"errors"
	"time"

	ttlcache "github.com/jellydator/ttlcache/v3"
)

// ErrSessionNotFound is returned for an unknown or expired session id.
var ErrSessionNotFound = errors.New("session not found")

// Registry holds live sessions with a sliding TTL. A session untouched for
// the full TTL is treated as abandoned and dropped; operations arriving
// afterwards fail with ErrSessionNotFound and otherwise do nothing, the
// same as a client that navigated away mid-operation.
type Registry struct {
	cache   *ttlcache.Cache[string, *Session]
	metrics *Metrics
}

// NewRegistry creates a registry whose sessions expire after ttl of
// inactivity. Call Stop when done.
func NewRegistry(ttl time.Duration, metrics *Metrics) *Registry {
	r := &Registry{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, *Session](ttl),
		),
		metrics: metrics,
	}
	r.cache.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, _ *ttlcache.Item[string, *Session]) {
		r.metrics.decSessions()
	})
	go r.cache.Start()
	return r
}

// Create registers a new session.
func (r *Registry) Create(filter string, pageSize int) *Session {
	s := NewSession(filter, pageSize)
	r.cache.Set(s.ID, s, ttlcache.DefaultTTL)
	r.metrics.incSessions()
	return s
}

// Get returns a live session and slides its TTL.
func (r *Registry) Get(id string) (*Session, error) {
	item := r.cache.Get(id)
	if item == nil {
		return nil, ErrSessionNotFound
	}
	return item.Value(), nil
}

// Close drops a session immediately.
func (r *Registry) Close(id string) {
	r.cache.Delete(id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Stop halts the background expiry loop.
func (r *Registry) Stop() {
	r.cache.Stop()
}
