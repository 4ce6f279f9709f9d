package security

import "time"

// KeyRotationWindow bounds when a retired key may still open sealed codes.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

// RetireAfter keeps a previous key readable until now plus grace. The grace
// should cover the longest challenge TTL.
func RetireAfter(now time.Time, grace time.Duration) KeyRotationWindow {
	return KeyRotationWindow{NotAfter: now.UTC().Add(grace)}
}
