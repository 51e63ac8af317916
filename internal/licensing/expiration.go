package licensing

import (
	"time"

	"keygate/internal/domain"
)

// ExpirationResult is the outcome of evaluating a license's lifetime.
type ExpirationResult struct {
	OK bool

	// NewExpirationDate is set when a DURATION license activated on this
	// request. The caller must persist it with the request's commit unit
	// and use it for the remainder of the request instead of re-reading
	// storage.
	NewExpirationDate *time.Time

	// ExpiredAt is the deadline that has passed when OK is false.
	ExpiredAt *time.Time
}

// EvaluateExpiration is a pure state-transition function over a license's
// expiration fields. DURATION licenses start lazily: the first successful
// verification fixes the deadline at now + ExpirationDays.
func EvaluateExpiration(license *domain.License, now time.Time) ExpirationResult {
	switch license.ExpirationType {
	case domain.ExpirationNever:
		return ExpirationResult{OK: true}

	case domain.ExpirationDate:
		if license.ExpirationDate == nil || !now.After(*license.ExpirationDate) {
			return ExpirationResult{OK: true}
		}
		return ExpirationResult{OK: false, ExpiredAt: license.ExpirationDate}

	case domain.ExpirationDuration:
		if license.ExpirationDate == nil {
			days := 0
			if license.ExpirationDays != nil {
				days = *license.ExpirationDays
			}
			deadline := now.Add(time.Duration(days) * 24 * time.Hour)
			return ExpirationResult{OK: true, NewExpirationDate: &deadline}
		}
		if !now.After(*license.ExpirationDate) {
			return ExpirationResult{OK: true}
		}
		return ExpirationResult{OK: false, ExpiredAt: license.ExpirationDate}

	default:
		// Unknown types never grant access.
		return ExpirationResult{OK: false, ExpiredAt: &now}
	}
}
