// Package clock provides an injectable time source so that time-dependent
// behavior (route time-of-day conditions, nonce expiry, brute-force backoff)
// can be tested without sleeping or racing the wall clock.
package clock

import "time"

// Clock returns the current time. System wraps time.Now; tests supply
// Fixed or any function matching this signature via Func.
type Clock interface {
	Now() time.Time
}

// Func adapts a plain function to the Clock interface.
type Func func() time.Time

// Now implements Clock.
func (f Func) Now() time.Time { return f() }

// System is the default Clock, backed by time.Now.
var System Clock = Func(time.Now)

// Fixed returns a Clock that always reports t, for deterministic tests.
func Fixed(t time.Time) Clock {
	return Func(func() time.Time { return t })
}
