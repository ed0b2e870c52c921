// Package ratelimit throttles requests per client identity within a
// sliding time window.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultLimit is the number of requests admitted per identity per window.
	DefaultLimit = 50
	// DefaultWindow is the length of one throttling window.
	DefaultWindow = 24 * time.Hour
	// DefaultPrefix namespaces limiter keys in a shared store.
	DefaultPrefix = "novel_ratelimit"
)

// Window names the two counters a sliding window is estimated from.
type Window struct {
	// Current and Previous are the counter keys of this bucket and the one
	// before it.
	Current  string
	Previous string
	// Weight is the share of the previous bucket still inside the window,
	// in (0, 1].
	Weight float64
	// TTL bounds the lifetime of the current counter.
	TTL time.Duration
}

// Store keeps per-key counters.
type Store interface {
	// Take admits one request if floor(Weight*previous)+current is below
	// limit, incrementing the current counter, and returns that sum after
	// the call. The check and the increment must be atomic per identity.
	Take(ctx context.Context, w Window, limit int) (used int, admitted bool, err error)
}

// weighted is the part of the previous bucket that still counts.
func weighted(previous int, weight float64) int {
	return int(math.Floor(weight * float64(previous)))
}

// Result describes the outcome of one Allow call.
type Result struct {
	Permitted bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter gates requests per identity. A Limiter without a store admits
// everything.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
	log    *logrus.Entry
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLimit sets the per-window ceiling.
func WithLimit(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.limit = n
		}
	}
}

// WithWindow sets the window length.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithPrefix sets the key namespace.
func WithPrefix(p string) Option {
	return func(l *Limiter) {
		if p != "" {
			l.prefix = p
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger used for store failures.
func WithLogger(log *logrus.Entry) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

// New creates a limiter backed by store. store may be nil, in which case
// the limiter is disabled.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		limit:  DefaultLimit,
		window: DefaultWindow,
		prefix: DefaultPrefix,
		now:    time.Now,
		log:    logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.WithField("component", "ratelimit")
	return l
}

// Enabled reports whether a backing store is configured.
func (l *Limiter) Enabled() bool {
	return l != nil && l.store != nil
}

// Limit returns the per-window ceiling.
func (l *Limiter) Limit() int {
	return l.limit
}

// Window returns the window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Allow records one request for identity and reports whether it may
// proceed. When no store is configured, or the store fails, the request is
// permitted.
func (l *Limiter) Allow(ctx context.Context, identity string) Result {
	if !l.Enabled() {
		return Result{Permitted: true}
	}

	now := l.now()
	start := now.Truncate(l.window)
	reset := start.Add(l.window)
	w := Window{
		Current:  l.key(identity, start),
		Previous: l.key(identity, start.Add(-l.window)),
		Weight:   1 - float64(now.Sub(start))/float64(l.window),
		TTL:      2*l.window + time.Second,
	}

	used, admitted, err := l.store.Take(ctx, w, l.limit)
	if err != nil {
		l.log.WithError(err).WithField("identity", identity).Warn("rate limit store unavailable, admitting request")
		return Result{Permitted: true, Limit: l.limit, Remaining: l.limit, Reset: reset}
	}

	remaining := l.limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Permitted: admitted,
		Limit:     l.limit,
		Remaining: remaining,
		Reset:     reset,
	}
}

func (l *Limiter) key(identity string, bucket time.Time) string {
	return fmt.Sprintf("%s:%s:%d", l.prefix, identity, bucket.Unix())
}
