// Package licensing implements the license verification engine: key lookup
// hashing, blacklist enforcement, entitlement matching, expiration
// evaluation, device ceilings and the verification state machine.
package licensing

import (
	"net/http"
	"time"

	"keygate/internal/domain"
)

// Status is the terminal state of a verification or download request. The
// pipeline walks a fixed order of checks; the first failing check produces
// the terminal status and nothing after it runs.
type Status string

const (
	StatusBadRequest       Status = "BAD_REQUEST"
	StatusRateLimited      Status = "RATE_LIMITED"
	StatusTeamNotFound     Status = "TEAM_NOT_FOUND"
	StatusLicenseNotFound  Status = "LICENSE_NOT_FOUND"
	StatusIPBlacklisted    Status = "IP_BLACKLISTED"
	StatusCountryBlacklist Status = "COUNTRY_BLACKLISTED"
	StatusHWIDBlacklisted  Status = "HWID_BLACKLISTED"
	StatusCustomerNotFound Status = "CUSTOMER_NOT_FOUND"
	StatusProductNotFound  Status = "PRODUCT_NOT_FOUND"
	StatusReleaseNotFound  Status = "RELEASE_NOT_FOUND"
	StatusLicenseSuspended Status = "LICENSE_SUSPENDED"
	StatusLicenseExpired   Status = "LICENSE_EXPIRED"
	StatusIPLimitReached   Status = "IP_LIMIT_REACHED"
	StatusHWIDLimitReached Status = "HWID_LIMIT_REACHED"
	StatusValid            Status = "VALID"

	// Download-only terminal states.
	StatusInvalidSessionKey   Status = "INVALID_SESSION_KEY"
	StatusClassloaderDisabled Status = "CLASSLOADER_DISABLED"
	StatusReleaseDraft        Status = "RELEASE_DRAFT"
	StatusReleaseArchived     Status = "RELEASE_ARCHIVED"
	StatusNoReleaseAccess     Status = "NO_RELEASE_ACCESS"
	StatusInternalError       Status = "INTERNAL_ERROR"
)

// Valid reports whether the status is the successful terminal state.
func (s Status) Valid() bool { return s == StatusValid }

// HTTPStatus maps the terminal state to an HTTP status code.
func (s Status) HTTPStatus() int {
	switch s {
	case StatusValid:
		return http.StatusOK
	case StatusBadRequest:
		return http.StatusBadRequest
	case StatusRateLimited:
		return http.StatusTooManyRequests
	case StatusTeamNotFound, StatusLicenseNotFound, StatusCustomerNotFound,
		StatusProductNotFound, StatusReleaseNotFound, StatusReleaseDraft,
		StatusReleaseArchived:
		return http.StatusNotFound
	case StatusInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusForbidden
	}
}

// Details returns the client-facing description of the terminal state.
// Deliberately coarse: customer, product and release mismatches all read the
// same so callers cannot probe which entity exists.
func (s Status) Details() string {
	switch s {
	case StatusValid:
		return "License is valid"
	case StatusBadRequest:
		return "Invalid request"
	case StatusRateLimited:
		return "Too many requests, try again later"
	case StatusTeamNotFound:
		return "Team not found"
	case StatusLicenseNotFound, StatusCustomerNotFound, StatusProductNotFound,
		StatusReleaseNotFound, StatusNoReleaseAccess:
		return "License not found"
	case StatusReleaseDraft, StatusReleaseArchived:
		return "Release not available"
	case StatusInvalidSessionKey:
		return "Invalid session key"
	case StatusInternalError:
		return "Internal server error"
	default:
		return "License not valid"
	}
}

// Retryable reports whether the caller may retry without changing the
// request. Only rate limiting and infrastructure faults qualify.
func (s Status) Retryable() bool {
	return s == StatusRateLimited || s == StatusInternalError
}

// Outcome is the single tagged result carried through the whole pipeline.
// It is constructed exactly once per terminal state; fields beyond Status
// are populated only on the paths that reached them.
type Outcome struct {
	Status            Status
	Team              *domain.Team
	License           *domain.License
	Release           *domain.Release
	LatestVersion     string
	ExpirationDate    *time.Time
	ChallengeResponse string

	// Err holds the infrastructure fault behind StatusInternalError.
	Err error
}

// reject builds a terminal failure outcome.
func reject(status Status) Outcome {
	return Outcome{Status: status}
}

// fail builds an infrastructure-fault outcome preserving the cause for logs.
func fail(err error) Outcome {
	return Outcome{Status: StatusInternalError, Err: err}
}
