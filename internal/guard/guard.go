// Package guard throttles authentication attempts per (identity, origin)
// pair using a sliding window of recorded failures. Admit only gates; the
// outcome of the credential check is recorded separately, so a flood of
// denied attempts never re-enters the success path and never amplifies the
// log. The window is a soft defense: a double-admit under a racing pair is
// tolerated, an incorrect denial is not.
package guard

import (
	"context"
	"errors"
	"time"

	"github.com/mskhalsa/EZPostgres-service/internal/obs"
)

// ErrRateLimited is returned by Admit when the pair is currently throttled.
var ErrRateLimited = errors.New("guard: too many failed attempts")

const (
	defaultWindow      = 5 * time.Minute
	defaultMaxFailures = 5
)

// Attempt is one recorded credential-verification outcome.
type Attempt struct {
	Identity string
	Origin   string
	At       time.Time
	Success  bool
}

// Store persists attempts. FailedAttempts counts failures strictly after
// since; an attempt exactly at the boundary is excluded.
type Store interface {
	FailedAttempts(ctx context.Context, identity, origin string, since time.Time) (int, error)
	RecordAttempt(ctx context.Context, attempt Attempt) error
}

// Guard is the connection throttle.
type Guard struct {
	store       Store
	window      time.Duration
	maxFailures int
	now         func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithWindow overrides the sliding window length.
func WithWindow(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.window = d
		}
	}
}

// WithMaxFailures overrides the failure threshold.
func WithMaxFailures(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.maxFailures = n
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) Option {
	return func(g *Guard) {
		if fn != nil {
			g.now = fn
		}
	}
}

// New constructs a Guard with the default 5-minute window and threshold of 5.
func New(store Store, opts ...Option) *Guard {
	g := &Guard{
		store:       store,
		window:      defaultWindow,
		maxFailures: defaultMaxFailures,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit reports whether the pair may proceed to credential verification.
// A denial writes nothing: no attempt row, no activity entry.
func (g *Guard) Admit(ctx context.Context, identity, origin string) error {
	since := g.now().Add(-g.window)
	failures, err := g.store.FailedAttempts(ctx, identity, origin, since)
	if err != nil {
		return err
	}
	if failures > g.maxFailures {
		obs.ThrottledConnections.Inc()
		return ErrRateLimited
	}
	return nil
}

// Record appends the outcome of a credential verification.
func (g *Guard) Record(ctx context.Context, identity, origin string, success bool) error {
	return g.store.RecordAttempt(ctx, Attempt{
		Identity: identity,
		Origin:   origin,
		At:       g.now().UTC(),
		Success:  success,
	})
}
