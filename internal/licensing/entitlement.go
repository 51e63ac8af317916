package licensing

import (
	"strings"

	"github.com/google/uuid"

	"keygate/internal/domain"
)

// MatchCustomer resolves whether the presented customer id is permitted
// under the license. Shared policy for all entity kinds:
//   - a license with zero associated entities is vacuously satisfied;
//   - strict mode with associated entities and no id presented rejects;
//   - a presented id that matches no associated entity rejects regardless
//     of strict mode;
//   - otherwise the check passes (non-strict mode silently permits an
//     omitted id even when the license has associations).
func MatchCustomer(license *domain.License, requested *uuid.UUID, strict bool) bool {
	if len(license.Customers) == 0 {
		return true
	}
	if requested == nil {
		return !strict
	}
	for _, c := range license.Customers {
		if c.ID == *requested {
			return true
		}
	}
	return false
}

// MatchProduct applies the same policy to the license's linked products and
// returns the matched product when one was presented.
func MatchProduct(license *domain.License, requested *uuid.UUID, strict bool) (*domain.Product, bool) {
	if len(license.Products) == 0 {
		return nil, true
	}
	if requested == nil {
		return nil, !strict
	}
	for i := range license.Products {
		if license.Products[i].ID == *requested {
			return &license.Products[i], true
		}
	}
	return nil, false
}

// ReleaseResolution is the result of resolving the concrete release for a
// request. Release may be nil on a passing resolution when no version was
// requested and the license is non-strict.
type ReleaseResolution struct {
	Status  Status // StatusValid, StatusReleaseNotFound or StatusNoReleaseAccess
	Release *domain.Release
	Latest  *domain.Release
}

// ResolveRelease filters a product's releases by the requested branch,
// matches the requested version and enforces the release allow-list. The
// branch name, when supplied, must resolve to an existing branch of the
// product; an unknown branch is indistinguishable from an unknown release.
func ResolveRelease(releases []domain.Release, branches []domain.ReleaseBranch, branchName, version string, strict bool, licenseID uuid.UUID) ReleaseResolution {
	candidates := releases

	if branchName != "" {
		var branch *domain.ReleaseBranch
		for i := range branches {
			if strings.EqualFold(branches[i].Name, branchName) {
				branch = &branches[i]
				break
			}
		}
		if branch == nil {
			return ReleaseResolution{Status: StatusReleaseNotFound}
		}
		filtered := make([]domain.Release, 0, len(candidates))
		for _, r := range candidates {
			if r.BranchID != nil && *r.BranchID == branch.ID {
				filtered = append(filtered, r)
			}
		}
		candidates = filtered
	}

	latest := latestRelease(candidates)

	var chosen *domain.Release
	switch {
	case version != "":
		for i := range candidates {
			if candidates[i].Version == version {
				chosen = &candidates[i]
				break
			}
		}
		if chosen == nil {
			return ReleaseResolution{Status: StatusReleaseNotFound, Latest: latest}
		}
	case len(candidates) == 0:
		// Nothing published for this product: vacuously satisfied.
		return ReleaseResolution{Status: StatusValid}
	case strict:
		return ReleaseResolution{Status: StatusReleaseNotFound, Latest: latest}
	default:
		chosen = latest
	}

	if chosen != nil && len(chosen.AllowedLicenses) > 0 {
		allowed := false
		for _, l := range chosen.AllowedLicenses {
			if l.ID == licenseID {
				allowed = true
				break
			}
		}
		if !allowed {
			return ReleaseResolution{Status: StatusNoReleaseAccess, Latest: latest}
		}
	}

	return ReleaseResolution{Status: StatusValid, Release: chosen, Latest: latest}
}

// latestRelease prefers the release explicitly flagged Latest, falling back
// to the most recently created one.
func latestRelease(releases []domain.Release) *domain.Release {
	var latest *domain.Release
	for i := range releases {
		r := &releases[i]
		if r.Latest {
			return r
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest
}
