package engine

import "time"

// Clock abstracts wall time so evaluation and scheduling are testable.
// Production code uses SystemClock; tests use testutil.ManualClock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
