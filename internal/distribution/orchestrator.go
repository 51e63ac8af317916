// Package distribution implements the secure download (classloader) flow:
// every verification check, plus session-key unwrapping, release status
// gating and the confidentially-protected artifact pipeline.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"keygate/internal/domain"
	"keygate/internal/licensing"
	"keygate/internal/security"
)

// ProductResolver extends the licensing store with the product lookup the
// download flow needs for headers and release scoping.
type ProductResolver interface {
	ProductByID(ctx context.Context, teamID, productID uuid.UUID) (*domain.Product, error)
}

// Store is the persistence surface of the download flow.
type Store interface {
	licensing.Store
	ProductResolver
}

// DownloadRequest is the resolved classloader request. ProductID, the
// session key blob and the hardware id are mandatory; the transport layer
// enforces shape before the orchestrator runs.
type DownloadRequest struct {
	TeamID         uuid.UUID
	LicenseKey     string
	ProductID      uuid.UUID
	SessionKeyBlob string
	HardwareID     string
	Version        string
	Branch         string
	CustomerID     *uuid.UUID
	IPAddress      string
	CountryAlpha2  string
}

// Download is the successful result: an encrypted artifact stream plus the
// diagnostic metadata surfaced as response headers.
type Download struct {
	Outcome       licensing.Outcome
	Body          *security.EncryptingReader
	FileSize      int64
	ProductName   string
	ReleaseStatus domain.ReleaseStatus
	Version       string
	LatestVersion string
	MainClass     string
}

// Config carries the download flow tunables. SessionMax/SessionWindow form
// the strict per-session-key window (reference: 1 request per 15 minutes).
type Config struct {
	RateLimitEnabled bool
	RateLimitMax     int
	RateLimitWindow  time.Duration
	SessionMax       int
	SessionWindow    time.Duration
}

// DownloadObserver receives download terminal states for metrics.
type DownloadObserver interface {
	ObserveDownload(teamID string, status licensing.Status)
}

// Orchestrator runs the download state machine and delegates artifact
// preparation to the Pipeline.
type Orchestrator struct {
	cfg       Config
	store     Store
	limiter   licensing.RateLimiter
	trusted   licensing.TrustSource
	blacklist *licensing.BlacklistChecker
	unwrapper *security.SessionKeyUnwrapper
	hasher    *licensing.LookupHasher
	pipeline  *Pipeline
	events    licensing.EventRecorder
	observer  DownloadObserver
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator wires the download flow.
func NewOrchestrator(cfg Config, store Store, limiter licensing.RateLimiter, trusted licensing.TrustSource, unwrapper *security.SessionKeyUnwrapper, hasher *licensing.LookupHasher, pipeline *Pipeline, events licensing.EventRecorder, observer DownloadObserver, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		limiter:   limiter,
		trusted:   trusted,
		blacklist: licensing.NewBlacklistChecker(store, logger),
		unwrapper: unwrapper,
		hasher:    hasher,
		pipeline:  pipeline,
		events:    events,
		observer:  observer,
		logger:    logger.With(slog.String("component", "download")),
		now:       time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Download runs the state machine. On any non-VALID outcome the returned
// Download carries only the Outcome.
func (o *Orchestrator) Download(ctx context.Context, req DownloadRequest) Download {
	dl := o.download(ctx, req)
	o.observe(ctx, req, dl.Outcome)
	return dl
}

func (o *Orchestrator) download(ctx context.Context, req DownloadRequest) Download {
	if !licensing.ValidKeyFormat(req.LicenseKey) || req.SessionKeyBlob == "" || req.HardwareID == "" {
		return terminal(licensing.StatusBadRequest)
	}

	if o.cfg.RateLimitEnabled && !o.isTrusted(req) {
		key := fmt.Sprintf("ratelimit:download:%s:%s", req.TeamID, licensing.RateKeyFragment(req.LicenseKey))
		if o.limiter.Limited(ctx, key, o.cfg.RateLimitMax, o.cfg.RateLimitWindow) {
			return terminal(licensing.StatusRateLimited)
		}
	}

	team, err := o.store.TeamByID(ctx, req.TeamID)
	if errors.Is(err, domain.ErrNotFound) {
		return terminal(licensing.StatusTeamNotFound)
	}
	if err != nil {
		return failure(fmt.Errorf("load team: %w", err))
	}
	if team.KeyPair == nil {
		return failure(fmt.Errorf("team %s has no key pair", team.ID))
	}

	// The session key is unwrapped before any license lookup so a broken
	// blob cannot be used to probe license existence.
	sessionKey, err := o.unwrapper.Unwrap(team.KeyPair, req.SessionKeyBlob)
	if err != nil {
		return terminal(licensing.StatusInvalidSessionKey)
	}

	if o.cfg.RateLimitEnabled {
		sessionRateKey := "ratelimit:session:" + licensing.RateKeyFragment(string(sessionKey))
		if o.limiter.Limited(ctx, sessionRateKey, o.cfg.SessionMax, o.cfg.SessionWindow) {
			return terminal(licensing.StatusRateLimited)
		}
	}

	license, err := o.store.LicenseByLookup(ctx, team.ID, o.hasher.Hash(req.LicenseKey, team.ID))
	if errors.Is(err, domain.ErrNotFound) {
		return terminal(licensing.StatusLicenseNotFound)
	}
	if err != nil {
		return failure(fmt.Errorf("load license: %w", err))
	}

	if status := o.blacklist.Check(ctx, team, req.IPAddress, req.CountryAlpha2, req.HardwareID); status != nil {
		return terminal(*status)
	}

	settings := team.Settings
	if settings == nil {
		settings = &domain.TeamSettings{}
	}

	if !licensing.MatchCustomer(license, req.CustomerID, settings.StrictCustomers) {
		return terminal(licensing.StatusCustomerNotFound)
	}
	if _, ok := licensing.MatchProduct(license, &req.ProductID, settings.StrictProducts); !ok {
		return terminal(licensing.StatusProductNotFound)
	}

	product, err := o.store.ProductByID(ctx, team.ID, req.ProductID)
	if errors.Is(err, domain.ErrNotFound) {
		return terminal(licensing.StatusProductNotFound)
	}
	if err != nil {
		return failure(fmt.Errorf("load product: %w", err))
	}

	if team.Limits == nil || !team.Limits.AllowClassloader {
		return terminal(licensing.StatusClassloaderDisabled)
	}

	releases, err := o.store.ProductReleases(ctx, product.ID)
	if err != nil {
		return failure(fmt.Errorf("load releases: %w", err))
	}
	branches, err := o.store.ProductBranches(ctx, product.ID)
	if err != nil {
		return failure(fmt.Errorf("load branches: %w", err))
	}
	resolution := licensing.ResolveRelease(releases, branches, req.Branch, req.Version, settings.StrictReleases, license.ID)
	if resolution.Status != licensing.StatusValid {
		return terminal(resolution.Status)
	}
	release := resolution.Release
	if release == nil {
		// A download always needs a concrete artifact.
		return terminal(licensing.StatusReleaseNotFound)
	}
	switch release.Status {
	case domain.ReleaseDraft:
		return terminal(licensing.StatusReleaseDraft)
	case domain.ReleaseArchived:
		return terminal(licensing.StatusReleaseArchived)
	}
	if release.File == nil {
		return terminal(licensing.StatusReleaseNotFound)
	}

	if license.Suspended {
		return terminal(licensing.StatusLicenseSuspended)
	}

	now := o.now()
	expiration := licensing.EvaluateExpiration(license, now)
	if !expiration.OK {
		return terminal(licensing.StatusLicenseExpired)
	}

	if req.IPAddress != "" {
		occupied, err := o.store.OccupiedIPs(ctx, license.ID, licensing.SeenWindowStart(settings.IPAddressTimeoutMin, now))
		if err != nil {
			return failure(fmt.Errorf("load seen ips: %w", err))
		}
		if !licensing.EvaluateDeviceLimit(occupied, req.IPAddress, license.IPLimit).OK {
			return terminal(licensing.StatusIPLimitReached)
		}
	}

	occupied, err := o.store.OccupiedHardware(ctx, license.ID, licensing.SeenWindowStart(settings.HardwareTimeoutMin, now))
	if err != nil {
		return failure(fmt.Errorf("load seen hardware: %w", err))
	}
	if !licensing.EvaluateDeviceLimit(occupied, req.HardwareID, license.HWIDLimit).OK {
		return terminal(licensing.StatusHWIDLimitReached)
	}

	commit := licensing.Commit{
		TeamID:            team.ID,
		LicenseID:         license.ID,
		HardwareID:        req.HardwareID,
		IP:                req.IPAddress,
		ReleaseID:         &release.ID,
		NewExpirationDate: expiration.NewExpirationDate,
		Now:               now,
	}
	if err := o.store.CommitVerification(ctx, commit); err != nil {
		return failure(fmt.Errorf("commit download: %w", err))
	}

	body, size, err := o.pipeline.Prepare(ctx, team, license, release, sessionKey)
	if err != nil {
		return failure(err)
	}

	if o.events != nil {
		o.events.RecordEvent(ctx, team.ID, "release.downloaded", map[string]string{
			"license_id": license.ID.String(),
			"release_id": release.ID.String(),
		})
	}

	dl := Download{
		Outcome: licensing.Outcome{
			Status:  licensing.StatusValid,
			Team:    team,
			License: license,
			Release: release,
		},
		Body:          body,
		FileSize:      size,
		ProductName:   product.Name,
		ReleaseStatus: release.Status,
		Version:       release.Version,
	}
	if resolution.Latest != nil {
		dl.LatestVersion = resolution.Latest.Version
	}
	if release.File.MainClassName != nil {
		dl.MainClass = *release.File.MainClassName
	}
	return dl
}

func (o *Orchestrator) isTrusted(req DownloadRequest) bool {
	return o.trusted != nil && o.trusted.IsTrusted(req.LicenseKey, req.TeamID)
}

func (o *Orchestrator) observe(ctx context.Context, req DownloadRequest, outcome licensing.Outcome) {
	if o.observer != nil {
		o.observer.ObserveDownload(req.TeamID.String(), outcome.Status)
	}
	if outcome.Status == licensing.StatusInternalError {
		o.logger.ErrorContext(ctx, "download failed",
			"team_id", req.TeamID.String(),
			"error", outcome.Err.Error(),
		)
		return
	}
	o.logger.InfoContext(ctx, "download completed",
		"team_id", req.TeamID.String(),
		"status", string(outcome.Status),
	)
}

func terminal(status licensing.Status) Download {
	return Download{Outcome: licensing.Outcome{Status: status}}
}

func failure(err error) Download {
	return Download{Outcome: licensing.Outcome{Status: licensing.StatusInternalError, Err: err}}
}
