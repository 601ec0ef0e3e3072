// Package guard keeps at most one transfer attempt in flight per sender.
package guard

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInFlight is returned by Acquire while another attempt holds the key.
var ErrInFlight = errors.New("transfer already in flight")

// Release gives up a held key. It is safe to call more than once.
type Release func(ctx context.Context) error

// Guard hands out exclusive, TTL-bounded holds on a key.
type Guard interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// LocalGuard is an in-process Guard, used when no Redis is configured.
type LocalGuard struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	gen  uint64
	held map[string]localHold
}

type localHold struct {
	gen     uint64
	expires time.Time
}

// NewLocalGuard creates a guard whose holds expire after ttl.
func NewLocalGuard(ttl time.Duration) *LocalGuard {
	return &LocalGuard{
		ttl:  ttl,
		now:  time.Now,
		held: make(map[string]localHold),
	}
}

// Acquire takes the key or returns ErrInFlight.
func (g *LocalGuard) Acquire(ctx context.Context, key string) (Release, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if h, ok := g.held[key]; ok && now.Before(h.expires) {
		return nil, ErrInFlight
	}

	g.gen++
	gen := g.gen
	g.held[key] = localHold{gen: gen, expires: now.Add(g.ttl)}

	return func(context.Context) error {
		g.mu.Lock()
		defer g.mu.Unlock()
		// a hold that expired and was re-acquired belongs to someone else
		if h, ok := g.held[key]; ok && h.gen == gen {
			delete(g.held, key)
		}
		return nil
	}, nil
}
