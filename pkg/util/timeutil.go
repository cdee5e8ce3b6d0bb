package util

import "time"

// NowUTC exposes time.Now for deterministic testing.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// MillisSince reports elapsed wall time in whole milliseconds.
func MillisSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
