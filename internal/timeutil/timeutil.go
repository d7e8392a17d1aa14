// Package timeutil provides small time helpers shared across the peer
// manager's pulses.
package timeutil

import "time"

// Clamp restricts d to the inclusive range [min, max].
func Clamp(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
