package licensing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"keygate/internal/domain"
)

// Store is the persistence surface the verification pipeline depends on.
// Lookups are tenant-scoped; CommitVerification is the single transactional
// write unit executed once a request reaches VALID.
type Store interface {
	BlacklistHitRecorder

	TeamByID(ctx context.Context, id uuid.UUID) (*domain.Team, error)
	LicenseByLookup(ctx context.Context, teamID uuid.UUID, lookup string) (*domain.License, error)
	ProductReleases(ctx context.Context, productID uuid.UUID) ([]domain.Release, error)
	ProductBranches(ctx context.Context, productID uuid.UUID) ([]domain.ReleaseBranch, error)
	OccupiedHardware(ctx context.Context, licenseID uuid.UUID, since *time.Time) ([]string, error)
	OccupiedIPs(ctx context.Context, licenseID uuid.UUID, since *time.Time) ([]string, error)
	CommitVerification(ctx context.Context, commit Commit) error
}

// Commit bundles every write a VALID request produces. The store executes
// it inside one transaction so a request is atomically fully counted or not
// counted at all.
type Commit struct {
	TeamID    uuid.UUID
	LicenseID uuid.UUID

	// HardwareID/IP are upserted as seen records when non-empty. An upsert
	// revives forgotten rows: forgotten=false, forgotten_at=NULL.
	HardwareID string
	IP         string

	// ReleaseID gets its last_seen_at bumped when set.
	ReleaseID *uuid.UUID

	// NewExpirationDate persists a DURATION license's lazy activation.
	NewExpirationDate *time.Time

	Now time.Time
}

// RateLimiter is the fixed-window limiter over a shared store.
type RateLimiter interface {
	// Limited reports whether key has exhausted max requests within window.
	Limited(ctx context.Context, key string, max int, window time.Duration) bool
}

// TrustSource allow-lists (license, team) pairs that bypass rate limiting.
type TrustSource interface {
	IsTrusted(licenseKey string, teamID uuid.UUID) bool
}

// ChallengeSigner signs the client-supplied nonce with the team's private
// key, proving to the caller that the response came from the tenant.
type ChallengeSigner interface {
	SignChallenge(keyPair *domain.KeyPair, challenge string) (string, error)
}

// EventRecorder is the fire-and-forget hook into the webhook subsystem.
type EventRecorder interface {
	RecordEvent(ctx context.Context, teamID uuid.UUID, eventType string, payload any)
}

// OutcomeObserver receives terminal states for metrics.
type OutcomeObserver interface {
	ObserveVerification(teamID string, status Status)
}

// VerifyRequest is the resolved input to the verification pipeline. The
// transport layer has already bound and schema-validated the payload;
// semantic validation happens here.
type VerifyRequest struct {
	TeamID        uuid.UUID
	LicenseKey    string
	CustomerID    *uuid.UUID
	ProductID     *uuid.UUID
	Challenge     string
	Version       string
	Branch        string
	HardwareID    string
	IPAddress     string
	CountryAlpha2 string
}

// VerifierConfig carries the tunables of the verification pipeline.
type VerifierConfig struct {
	RateLimitEnabled bool
	RateLimitMax     int
	RateLimitWindow  time.Duration
}

// Verifier runs the verification state machine. Check order is fixed and
// load-bearing: rate limiting and tenant resolution precede license checks,
// blacklist precedes entitlement, entitlement precedes suspension and
// expiration, and expiration precedes device ceilings so an expired license
// never consumes a device slot.
type Verifier struct {
	cfg       VerifierConfig
	store     Store
	limiter   RateLimiter
	trusted   TrustSource
	blacklist *BlacklistChecker
	signer    ChallengeSigner
	hasher    *LookupHasher
	events    EventRecorder
	observer  OutcomeObserver
	logger    *slog.Logger
	now       func() time.Time
}

// NewVerifier wires the verification pipeline.
func NewVerifier(cfg VerifierConfig, store Store, limiter RateLimiter, trusted TrustSource, signer ChallengeSigner, hasher *LookupHasher, events EventRecorder, observer OutcomeObserver, logger *slog.Logger) *Verifier {
	return &Verifier{
		cfg:       cfg,
		store:     store,
		limiter:   limiter,
		trusted:   trusted,
		blacklist: NewBlacklistChecker(store, logger),
		signer:    signer,
		hasher:    hasher,
		events:    events,
		observer:  observer,
		logger:    logger.With(slog.String("component", "verifier")),
		now:       time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify runs the full state machine and returns the terminal outcome.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) Outcome {
	outcome := v.verify(ctx, req)
	v.observe(ctx, req, outcome)
	return outcome
}

func (v *Verifier) verify(ctx context.Context, req VerifyRequest) Outcome {
	if !ValidKeyFormat(req.LicenseKey) {
		return reject(StatusBadRequest)
	}

	if v.rateLimited(ctx, verifyRateKey(req.TeamID, req.LicenseKey), req) {
		return reject(StatusRateLimited)
	}

	team, err := v.store.TeamByID(ctx, req.TeamID)
	if errors.Is(err, domain.ErrNotFound) {
		return reject(StatusTeamNotFound)
	}
	if err != nil {
		return fail(fmt.Errorf("load team: %w", err))
	}

	license, err := v.store.LicenseByLookup(ctx, team.ID, v.hasher.Hash(req.LicenseKey, team.ID))
	if errors.Is(err, domain.ErrNotFound) {
		return reject(StatusLicenseNotFound)
	}
	if err != nil {
		return fail(fmt.Errorf("load license: %w", err))
	}

	if status := v.blacklist.Check(ctx, team, req.IPAddress, req.CountryAlpha2, req.HardwareID); status != nil {
		return Outcome{Status: *status, Team: team, License: license}
	}

	settings := team.Settings
	if settings == nil {
		settings = &domain.TeamSettings{}
	}

	if !MatchCustomer(license, req.CustomerID, settings.StrictCustomers) {
		return Outcome{Status: StatusCustomerNotFound, Team: team, License: license}
	}

	product, ok := MatchProduct(license, req.ProductID, settings.StrictProducts)
	if !ok {
		return Outcome{Status: StatusProductNotFound, Team: team, License: license}
	}

	var release *domain.Release
	var latestVersion string
	if product != nil {
		resolution, err := v.resolveRelease(ctx, product.ID, req, settings.StrictReleases, license.ID)
		if err != nil {
			return fail(err)
		}
		if resolution.Status != StatusValid {
			return Outcome{Status: resolution.Status, Team: team, License: license}
		}
		release = resolution.Release
		if resolution.Latest != nil {
			latestVersion = resolution.Latest.Version
		}
	}

	if license.Suspended {
		return Outcome{Status: StatusLicenseSuspended, Team: team, License: license}
	}

	now := v.now()
	expiration := EvaluateExpiration(license, now)
	if !expiration.OK {
		return Outcome{Status: StatusLicenseExpired, Team: team, License: license, ExpirationDate: expiration.ExpiredAt}
	}
	effectiveExpiration := license.ExpirationDate
	if expiration.NewExpirationDate != nil {
		effectiveExpiration = expiration.NewExpirationDate
	}

	if req.IPAddress != "" {
		occupied, err := v.store.OccupiedIPs(ctx, license.ID, SeenWindowStart(settings.IPAddressTimeoutMin, now))
		if err != nil {
			return fail(fmt.Errorf("load seen ips: %w", err))
		}
		if !EvaluateDeviceLimit(occupied, req.IPAddress, license.IPLimit).OK {
			return Outcome{Status: StatusIPLimitReached, Team: team, License: license}
		}
	}

	if req.HardwareID != "" {
		occupied, err := v.store.OccupiedHardware(ctx, license.ID, SeenWindowStart(settings.HardwareTimeoutMin, now))
		if err != nil {
			return fail(fmt.Errorf("load seen hardware: %w", err))
		}
		if !EvaluateDeviceLimit(occupied, req.HardwareID, license.HWIDLimit).OK {
			return Outcome{Status: StatusHWIDLimitReached, Team: team, License: license}
		}
	}

	var challengeResponse string
	if req.Challenge != "" {
		if team.KeyPair == nil {
			return fail(fmt.Errorf("team %s has no key pair", team.ID))
		}
		challengeResponse, err = v.signer.SignChallenge(team.KeyPair, req.Challenge)
		if err != nil {
			return fail(fmt.Errorf("sign challenge: %w", err))
		}
	}

	commit := Commit{
		TeamID:            team.ID,
		LicenseID:         license.ID,
		HardwareID:        req.HardwareID,
		IP:                req.IPAddress,
		NewExpirationDate: expiration.NewExpirationDate,
		Now:               now,
	}
	if release != nil {
		commit.ReleaseID = &release.ID
	}
	if err := v.store.CommitVerification(ctx, commit); err != nil {
		return fail(fmt.Errorf("commit verification: %w", err))
	}

	return Outcome{
		Status:            StatusValid,
		Team:              team,
		License:           license,
		Release:           release,
		LatestVersion:     latestVersion,
		ExpirationDate:    effectiveExpiration,
		ChallengeResponse: challengeResponse,
	}
}

func (v *Verifier) resolveRelease(ctx context.Context, productID uuid.UUID, req VerifyRequest, strict bool, licenseID uuid.UUID) (ReleaseResolution, error) {
	releases, err := v.store.ProductReleases(ctx, productID)
	if err != nil {
		return ReleaseResolution{}, fmt.Errorf("load releases: %w", err)
	}
	branches, err := v.store.ProductBranches(ctx, productID)
	if err != nil {
		return ReleaseResolution{}, fmt.Errorf("load branches: %w", err)
	}
	return ResolveRelease(releases, branches, req.Branch, req.Version, strict, licenseID), nil
}

func (v *Verifier) rateLimited(ctx context.Context, key string, req VerifyRequest) bool {
	if !v.cfg.RateLimitEnabled {
		return false
	}
	if v.trusted != nil && v.trusted.IsTrusted(req.LicenseKey, req.TeamID) {
		return false
	}
	return v.limiter.Limited(ctx, key, v.cfg.RateLimitMax, v.cfg.RateLimitWindow)
}

func (v *Verifier) observe(ctx context.Context, req VerifyRequest, outcome Outcome) {
	if v.observer != nil {
		v.observer.ObserveVerification(req.TeamID.String(), outcome.Status)
	}
	if outcome.Status == StatusInternalError {
		v.logger.ErrorContext(ctx, "verification failed",
			"team_id", req.TeamID.String(),
			"error", outcome.Err.Error(),
		)
		return
	}
	v.logger.InfoContext(ctx, "verification completed",
		"team_id", req.TeamID.String(),
		"status", string(outcome.Status),
	)
	if outcome.Status == StatusValid && v.events != nil {
		v.events.RecordEvent(ctx, req.TeamID, "license.verified", map[string]string{
			"license_id": outcome.License.ID.String(),
		})
	}
}

func verifyRateKey(teamID uuid.UUID, licenseKey string) string {
	return fmt.Sprintf("ratelimit:verify:%s:%s", teamID, RateKeyFragment(licenseKey))
}
