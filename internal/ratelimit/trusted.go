package ratelimit

import (
	"github.com/google/uuid"
)

// TrustedSources allow-lists (license, team) pairs that skip rate limiting.
// It is an operational escape hatch only; it never bypasses authorization.
type TrustedSources struct {
	licenses map[string]struct{}
	teams    map[string]struct{}
}

// NewTrustedSources builds the classifier from two independent lists: both
// the license key and the team id must appear in their respective lists.
func NewTrustedSources(licenses, teams []string) *TrustedSources {
	t := &TrustedSources{
		licenses: make(map[string]struct{}, len(licenses)),
		teams:    make(map[string]struct{}, len(teams)),
	}
	for _, l := range licenses {
		t.licenses[l] = struct{}{}
	}
	for _, id := range teams {
		t.teams[id] = struct{}{}
	}
	return t
}

// IsTrusted reports whether the pair bypasses rate limiting.
func (t *TrustedSources) IsTrusted(licenseKey string, teamID uuid.UUID) bool {
	if _, ok := t.licenses[licenseKey]; !ok {
		return false
	}
	_, ok := t.teams[teamID.String()]
	return ok
}
