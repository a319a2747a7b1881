// Package ratelimit implements a fixed-window counter keyed by arbitrary
// strings. The window for a key starts at the first call observed for it;
// every call counts toward the limit, whether or not it is allowed.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Namespaces keep independent flows from sharing quota.
const (
	NamespaceIssuance   = "issuance"
	NamespaceRedemption = "redemption"
	NamespaceLogin      = "login"
	NamespaceSignup     = "signup"
)

// Policy decides what Check answers when the store fails.
type Policy int

const (
	// FailClosed denies on store errors. Required for anything that gates a
	// uniqueness or consistency guarantee.
	FailClosed Policy = iota
	// FailOpen allows on store errors. Acceptable for pure throttling.
	FailOpen
)

// String returns the config name of the policy.
func (p Policy) String() string {
	if p == FailOpen {
		return "fail-open"
	}
	return "fail-closed"
}

// ParsePolicy maps "fail-open" / "fail-closed" to a Policy.
// Anything unrecognised is FailClosed.
func ParsePolicy(s string) Policy {
	if strings.EqualFold(strings.TrimSpace(s), "fail-open") {
		return FailOpen
	}
	return FailClosed
}

// Key builds a namespaced counter key, e.g. "issuance:<subject id>".
func Key(namespace, id string) string {
	return namespace + ":" + id
}

// Counter is the state of a key after one increment.
type Counter struct {
	Count       int
	WindowStart time.Time
}

// Store atomically counts one call for key and returns the resulting counter.
// If the key's window has elapsed relative to now, the store starts a new
// window at now with a count of 1.
type Store interface {
	Increment(ctx context.Context, key string, now time.Time, window time.Duration) (Counter, error)
}

// Observer receives one notification per Check.
type Observer interface {
	ObserveRateLimit(namespace, outcome string)
}

// Result is the answer to a Check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	// Degraded is set when the store failed and the policy decided the answer.
	Degraded bool
}

// Limiter applies limits over a Store with a fixed failure policy.
type Limiter struct {
	store    Store
	policy   Policy
	now      func() time.Time
	observer Observer
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithObserver attaches metrics.
func WithObserver(o Observer) Option {
	return func(l *Limiter) {
		l.observer = o
	}
}

// New returns a Limiter over store using policy on failure.
func New(store Store, policy Policy, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		policy: policy,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Policy returns the limiter's failure policy.
func (l *Limiter) Policy() Policy {
	return l.policy
}

// Check counts one call for key and reports whether it fits within limit
// calls per window.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) Result {
	ns := namespaceOf(key)
	if limit < 1 || window <= 0 {
		l.observe(ns, "denied")
		return Result{Allowed: false, Remaining: 0}
	}

	now := l.now()
	counter, err := l.store.Increment(ctx, key, now, window)
	if err != nil {
		log.Error().
			Err(err).
			Str("rate_limit_key", key).
			Str("policy", l.policy.String()).
			Msg("rate limit store failed")
		l.observe(ns, "degraded")
		return Result{
			Allowed:   l.policy == FailOpen,
			Remaining: 0,
			Degraded:  true,
		}
	}

	remaining := limit - counter.Count
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:   counter.Count <= limit,
		Remaining: remaining,
		ResetAt:   counter.WindowStart.Add(window),
	}
	if res.Allowed {
		l.observe(ns, "allowed")
	} else {
		l.observe(ns, "denied")
	}
	return res
}

func (l *Limiter) observe(namespace, outcome string) {
	if l.observer != nil {
		l.observer.ObserveRateLimit(namespace, outcome)
	}
}

func namespaceOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "default"
}
