package licensing

import "time"

// DeviceDecision is the outcome of checking one presented value against a
// license's occupied-slot set.
type DeviceDecision struct {
	OK bool

	// AlreadySeen is true when the value is already in the occupied set;
	// re-use is idempotent and never consumes a second slot.
	AlreadySeen bool
}

// EvaluateDeviceLimit enforces a per-license ceiling over the set of
// currently occupied values. The set must contain only non-forgotten,
// in-window records; a nil limit means unlimited.
func EvaluateDeviceLimit(occupied []string, value string, limit *int) DeviceDecision {
	for _, v := range occupied {
		if v == value {
			return DeviceDecision{OK: true, AlreadySeen: true}
		}
	}
	if limit != nil && len(occupied) >= *limit {
		return DeviceDecision{OK: false}
	}
	return DeviceDecision{OK: true}
}

// SeenWindowStart returns the lower bound on LastSeenAt for a record to
// still occupy a slot. A nil timeout means records never age out and the
// returned bound is nil.
func SeenWindowStart(timeoutMinutes *int, now time.Time) *time.Time {
	if timeoutMinutes == nil {
		return nil
	}
	start := now.Add(-time.Duration(*timeoutMinutes) * time.Minute)
	return &start
}
