package registry

import "time"

// Clock supplies the current time. Time-window arbitration (hook grace,
// stop suppression, notify debounce) compares against an injected clock so
// tests can advance time without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall-clock implementation.
func SystemClock() Clock { return systemClock{} }
