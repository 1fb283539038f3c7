// Package clock abstracts the time operations the dashboard scheduler
// depends on. Production code uses Real(); tests use Fake() and move
// time forward explicitly with Advance.
package clock

import "time"

type Clock interface {
	Now() time.Time

	// AfterFunc calls f once after d elapses. The real clock calls f
	// on its own goroutine; the fake clock calls it synchronously from
	// Advance.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the pending call. It reports false if the call has
// already fired or was stopped before.
func (t *Timer) Stop() bool { return t.stopFunc() }
