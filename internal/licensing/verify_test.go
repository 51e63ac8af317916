package licensing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/domain"
)

const testLicenseKey = "ABCDE-ABCDE-ABCDE-ABCDE-ABCDE"

// fakeStore is an in-memory Store for exercising the verification pipeline
// without a database. Commits mutate the same maps the lookups read so
// multi-request scenarios behave like the real store.
type fakeStore struct {
	teams    map[uuid.UUID]*domain.Team
	licenses []*domain.License
	releases map[uuid.UUID][]domain.Release
	branches map[uuid.UUID][]domain.ReleaseBranch
	hardware map[uuid.UUID]map[string]time.Time
	ips      map[uuid.UUID]map[string]time.Time

	commits       []Commit
	blacklistHits map[uuid.UUID]int
	licenseCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		teams:         map[uuid.UUID]*domain.Team{},
		releases:      map[uuid.UUID][]domain.Release{},
		branches:      map[uuid.UUID][]domain.ReleaseBranch{},
		hardware:      map[uuid.UUID]map[string]time.Time{},
		ips:           map[uuid.UUID]map[string]time.Time{},
		blacklistHits: map[uuid.UUID]int{},
	}
}

func (s *fakeStore) TeamByID(_ context.Context, id uuid.UUID) (*domain.Team, error) {
	team, ok := s.teams[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return team, nil
}

func (s *fakeStore) LicenseByLookup(_ context.Context, teamID uuid.UUID, lookup string) (*domain.License, error) {
	s.licenseCalls++
	for _, l := range s.licenses {
		if l.TeamID == teamID && l.KeyLookup == lookup {
			return l, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) ProductReleases(_ context.Context, productID uuid.UUID) ([]domain.Release, error) {
	return s.releases[productID], nil
}

func (s *fakeStore) ProductBranches(_ context.Context, productID uuid.UUID) ([]domain.ReleaseBranch, error) {
	return s.branches[productID], nil
}

func (s *fakeStore) OccupiedHardware(_ context.Context, licenseID uuid.UUID, since *time.Time) ([]string, error) {
	return occupiedValues(s.hardware[licenseID], since), nil
}

func (s *fakeStore) OccupiedIPs(_ context.Context, licenseID uuid.UUID, since *time.Time) ([]string, error) {
	return occupiedValues(s.ips[licenseID], since), nil
}

func occupiedValues(seen map[string]time.Time, since *time.Time) []string {
	var out []string
	for value, lastSeen := range seen {
		if since != nil && lastSeen.Before(*since) {
			continue
		}
		out = append(out, value)
	}
	return out
}

func (s *fakeStore) CommitVerification(_ context.Context, commit Commit) error {
	s.commits = append(s.commits, commit)
	if commit.HardwareID != "" {
		if s.hardware[commit.LicenseID] == nil {
			s.hardware[commit.LicenseID] = map[string]time.Time{}
		}
		s.hardware[commit.LicenseID][commit.HardwareID] = commit.Now
	}
	if commit.IP != "" {
		if s.ips[commit.LicenseID] == nil {
			s.ips[commit.LicenseID] = map[string]time.Time{}
		}
		s.ips[commit.LicenseID][commit.IP] = commit.Now
	}
	if commit.NewExpirationDate != nil {
		for _, l := range s.licenses {
			if l.ID == commit.LicenseID && l.ExpirationDate == nil {
				l.ExpirationDate = commit.NewExpirationDate
			}
		}
	}
	return nil
}

func (s *fakeStore) IncrementBlacklistHits(_ context.Context, entryID uuid.UUID) error {
	s.blacklistHits[entryID]++
	return nil
}

type stubLimiter struct{ limited bool }

func (l stubLimiter) Limited(context.Context, string, int, time.Duration) bool { return l.limited }

type stubTrust struct{ trusted bool }

func (t stubTrust) IsTrusted(string, uuid.UUID) bool { return t.trusted }

type stubSigner struct{}

func (stubSigner) SignChallenge(_ *domain.KeyPair, challenge string) (string, error) {
	return "signed:" + challenge, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store    *fakeStore
	verifier *Verifier
	hasher   *LookupHasher
	team     *domain.Team
	license  *domain.License
}

func newFixture(t *testing.T, mutate func(*domain.Team, *domain.License)) *fixture {
	t.Helper()

	store := newFakeStore()
	hasher := NewLookupHasher("test-secret")

	team := &domain.Team{
		ID:       uuid.New(),
		Name:     "acme",
		Settings: &domain.TeamSettings{},
		Limits:   &domain.TeamLimits{},
	}
	license := &domain.License{
		ID:             uuid.New(),
		TeamID:         team.ID,
		ExpirationType: domain.ExpirationNever,
	}
	if mutate != nil {
		mutate(team, license)
	}
	license.KeyLookup = hasher.Hash(testLicenseKey, team.ID)

	store.teams[team.ID] = team
	store.licenses = append(store.licenses, license)

	cfg := VerifierConfig{RateLimitEnabled: true, RateLimitMax: 20, RateLimitWindow: time.Minute}
	verifier := NewVerifier(cfg, store, stubLimiter{}, stubTrust{}, stubSigner{}, hasher, nil, nil, testLogger())

	return &fixture{store: store, verifier: verifier, hasher: hasher, team: team, license: license}
}

func (f *fixture) request() VerifyRequest {
	return VerifyRequest{
		TeamID:     f.team.ID,
		LicenseKey: testLicenseKey,
	}
}

func intPtr(n int) *int { return &n }

func TestVerifyHardwareLimitLifecycle(t *testing.T) {
	f := newFixture(t, func(_ *domain.Team, l *domain.License) {
		l.HWIDLimit = intPtr(1)
	})
	ctx := context.Background()

	req := f.request()
	req.HardwareID = "AAAAAAAAAA"
	outcome := f.verifier.Verify(ctx, req)
	require.Equal(t, StatusValid, outcome.Status)
	require.Len(t, f.store.commits, 1)

	// A second device is over the ceiling and must not be recorded.
	req.HardwareID = "BBBBBBBBBB"
	outcome = f.verifier.Verify(ctx, req)
	assert.Equal(t, StatusHWIDLimitReached, outcome.Status)
	assert.Len(t, f.store.commits, 1)
	assert.NotContains(t, f.store.hardware[f.license.ID], "BBBBBBBBBB")

	// Re-presenting the occupying device stays valid.
	req.HardwareID = "AAAAAAAAAA"
	outcome = f.verifier.Verify(ctx, req)
	assert.Equal(t, StatusValid, outcome.Status)
	assert.Len(t, f.store.commits, 2)
}

func TestVerifyHardwareTimeoutFreesSlot(t *testing.T) {
	f := newFixture(t, func(team *domain.Team, l *domain.License) {
		l.HWIDLimit = intPtr(1)
		team.Settings.HardwareTimeoutMin = intPtr(30)
	})
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	f.verifier.WithClock(func() time.Time { return now })

	req := f.request()
	req.HardwareID = "AAAAAAAAAA"
	require.Equal(t, StatusValid, f.verifier.Verify(ctx, req).Status)

	// Inside the window a second device is rejected.
	now = t0.Add(10 * time.Minute)
	req.HardwareID = "BBBBBBBBBB"
	assert.Equal(t, StatusHWIDLimitReached, f.verifier.Verify(ctx, req).Status)

	// Once the first device ages out its slot frees up.
	now = t0.Add(45 * time.Minute)
	assert.Equal(t, StatusValid, f.verifier.Verify(ctx, req).Status)
}

func TestVerifyDurationActivatesLazily(t *testing.T) {
	f := newFixture(t, func(_ *domain.Team, l *domain.License) {
		l.ExpirationType = domain.ExpirationDuration
		l.ExpirationDays = intPtr(30)
	})
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	f.verifier.WithClock(func() time.Time { return now })

	outcome := f.verifier.Verify(ctx, f.request())
	require.Equal(t, StatusValid, outcome.Status)
	require.NotNil(t, outcome.ExpirationDate)
	assert.Equal(t, t0.Add(30*24*time.Hour), *outcome.ExpirationDate)
	require.Len(t, f.store.commits, 1)
	require.NotNil(t, f.store.commits[0].NewExpirationDate)

	// The deadline is fixed at first activation; later requests do not move it.
	now = t0.Add(time.Hour)
	outcome = f.verifier.Verify(ctx, f.request())
	require.Equal(t, StatusValid, outcome.Status)
	assert.Equal(t, t0.Add(30*24*time.Hour), *outcome.ExpirationDate)
	assert.Nil(t, f.store.commits[1].NewExpirationDate)

	now = t0.Add(31 * 24 * time.Hour)
	outcome = f.verifier.Verify(ctx, f.request())
	assert.Equal(t, StatusLicenseExpired, outcome.Status)
	assert.Len(t, f.store.commits, 2)
}

func TestVerifyExpiredConsumesNoDeviceSlot(t *testing.T) {
	past := time.Now().Add(-24 * time.Hour)
	f := newFixture(t, func(_ *domain.Team, l *domain.License) {
		l.ExpirationType = domain.ExpirationDate
		l.ExpirationDate = &past
	})

	req := f.request()
	req.HardwareID = "AAAAAAAAAA"
	outcome := f.verifier.Verify(context.Background(), req)

	assert.Equal(t, StatusLicenseExpired, outcome.Status)
	assert.Empty(t, f.store.commits)
	assert.Empty(t, f.store.hardware[f.license.ID])
}

func TestVerifySuspended(t *testing.T) {
	f := newFixture(t, func(_ *domain.Team, l *domain.License) {
		l.Suspended = true
	})

	outcome := f.verifier.Verify(context.Background(), f.request())
	assert.Equal(t, StatusLicenseSuspended, outcome.Status)
	assert.Empty(t, f.store.commits)
}

func TestVerifyBlacklistIPCheckedFirst(t *testing.T) {
	ipEntry := domain.BlacklistEntry{ID: uuid.New(), Type: domain.BlacklistIPAddress, Value: "203.0.113.7"}
	hwidEntry := domain.BlacklistEntry{ID: uuid.New(), Type: domain.BlacklistHardwareIdentifier, Value: "AAAAAAAAAA"}
	f := newFixture(t, func(team *domain.Team, _ *domain.License) {
		team.Blacklist = []domain.BlacklistEntry{hwidEntry, ipEntry}
	})

	req := f.request()
	req.IPAddress = "203.0.113.7"
	req.HardwareID = "AAAAAAAAAA"
	outcome := f.verifier.Verify(context.Background(), req)

	assert.Equal(t, StatusIPBlacklisted, outcome.Status)
	assert.Equal(t, 1, f.store.blacklistHits[ipEntry.ID])
	assert.Zero(t, f.store.blacklistHits[hwidEntry.ID])
}

func TestVerifyCountryBlacklist(t *testing.T) {
	entry := domain.BlacklistEntry{ID: uuid.New(), Type: domain.BlacklistCountry, Value: "DEU"}
	f := newFixture(t, func(team *domain.Team, _ *domain.License) {
		team.Blacklist = []domain.BlacklistEntry{entry}
	})

	req := f.request()
	req.CountryAlpha2 = "DE"
	outcome := f.verifier.Verify(context.Background(), req)

	assert.Equal(t, StatusCountryBlacklist, outcome.Status)
	assert.Equal(t, 1, f.store.blacklistHits[entry.ID])
}

func TestVerifyStrictCustomers(t *testing.T) {
	customer := domain.Customer{ID: uuid.New()}
	stranger := uuid.New()

	tests := []struct {
		name       string
		strict     bool
		customerID *uuid.UUID
		want       Status
	}{
		{"strict omitted rejects", true, nil, StatusCustomerNotFound},
		{"strict matching passes", true, &customer.ID, StatusValid},
		{"strict mismatching rejects", true, &stranger, StatusCustomerNotFound},
		{"lenient omitted passes", false, nil, StatusValid},
		{"lenient mismatching rejects", false, &stranger, StatusCustomerNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(team *domain.Team, l *domain.License) {
				team.Settings.StrictCustomers = tt.strict
				l.Customers = []domain.Customer{customer}
			})
			req := f.request()
			req.CustomerID = tt.customerID
			assert.Equal(t, tt.want, f.verifier.Verify(context.Background(), req).Status)
		})
	}
}

func TestVerifyRateLimited(t *testing.T) {
	f := newFixture(t, nil)
	cfg := VerifierConfig{RateLimitEnabled: true, RateLimitMax: 20, RateLimitWindow: time.Minute}
	f.verifier = NewVerifier(cfg, f.store, stubLimiter{limited: true}, stubTrust{}, stubSigner{}, f.hasher, nil, nil, testLogger())

	outcome := f.verifier.Verify(context.Background(), f.request())
	assert.Equal(t, StatusRateLimited, outcome.Status)

	// Trusted pairs bypass the limiter entirely.
	f.verifier = NewVerifier(cfg, f.store, stubLimiter{limited: true}, stubTrust{trusted: true}, stubSigner{}, f.hasher, nil, nil, testLogger())
	outcome = f.verifier.Verify(context.Background(), f.request())
	assert.Equal(t, StatusValid, outcome.Status)
}

func TestVerifyMalformedKeySkipsStorage(t *testing.T) {
	f := newFixture(t, nil)

	req := f.request()
	req.LicenseKey = "not-a-key"
	outcome := f.verifier.Verify(context.Background(), req)

	assert.Equal(t, StatusBadRequest, outcome.Status)
	assert.Zero(t, f.store.licenseCalls)
}

func TestVerifyUnknownTeam(t *testing.T) {
	f := newFixture(t, nil)

	req := f.request()
	req.TeamID = uuid.New()
	outcome := f.verifier.Verify(context.Background(), req)

	assert.Equal(t, StatusTeamNotFound, outcome.Status)
}

func TestVerifyUnknownLicense(t *testing.T) {
	f := newFixture(t, nil)

	req := f.request()
	req.LicenseKey = "ZZZZZ-ZZZZZ-ZZZZZ-ZZZZZ-ZZZZZ"
	outcome := f.verifier.Verify(context.Background(), req)

	assert.Equal(t, StatusLicenseNotFound, outcome.Status)
	// The coarse client-facing description matches entitlement mismatches.
	assert.Equal(t, "License not found", outcome.Status.Details())
}

func TestVerifyChallengeSignedOnlyWhenValid(t *testing.T) {
	f := newFixture(t, func(team *domain.Team, _ *domain.License) {
		team.KeyPair = &domain.KeyPair{TeamID: team.ID, PrivateKeyPEM: []byte("pem")}
	})

	req := f.request()
	req.Challenge = "nonce-123"
	outcome := f.verifier.Verify(context.Background(), req)

	require.Equal(t, StatusValid, outcome.Status)
	assert.Equal(t, "signed:nonce-123", outcome.ChallengeResponse)

	// Rejections carry no challenge response.
	f2 := newFixture(t, func(team *domain.Team, l *domain.License) {
		team.KeyPair = &domain.KeyPair{TeamID: team.ID, PrivateKeyPEM: []byte("pem")}
		l.Suspended = true
	})
	req = f2.request()
	req.Challenge = "nonce-123"
	outcome = f2.verifier.Verify(context.Background(), req)
	assert.Equal(t, StatusLicenseSuspended, outcome.Status)
	assert.Empty(t, outcome.ChallengeResponse)
}

func TestVerifyReleaseResolution(t *testing.T) {
	product := domain.Product{ID: uuid.New(), Name: "launcher"}
	branch := domain.ReleaseBranch{ID: uuid.New(), ProductID: product.ID, Name: "stable"}

	release := func(version string, latest bool, created time.Time) domain.Release {
		return domain.Release{
			ID:        uuid.New(),
			ProductID: product.ID,
			BranchID:  &branch.ID,
			Version:   version,
			Status:    domain.ReleasePublished,
			Latest:    latest,
			CreatedAt: created,
		}
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r1 := release("1.0.0", false, base)
	r2 := release("1.1.0", true, base.Add(time.Hour))

	f := newFixture(t, func(_ *domain.Team, l *domain.License) {
		l.Products = []domain.Product{product}
	})
	f.store.releases[product.ID] = []domain.Release{r1, r2}
	f.store.branches[product.ID] = []domain.ReleaseBranch{branch}

	req := f.request()
	req.ProductID = &product.ID
	req.Version = "1.0.0"
	outcome := f.verifier.Verify(context.Background(), req)
	require.Equal(t, StatusValid, outcome.Status)
	require.NotNil(t, outcome.Release)
	assert.Equal(t, "1.0.0", outcome.Release.Version)
	assert.Equal(t, "1.1.0", outcome.LatestVersion)

	// The matched release's last-seen bump travels with the commit.
	require.Len(t, f.store.commits, 1)
	require.NotNil(t, f.store.commits[0].ReleaseID)
	assert.Equal(t, r1.ID, *f.store.commits[0].ReleaseID)

	req.Version = "9.9.9"
	outcome = f.verifier.Verify(context.Background(), req)
	assert.Equal(t, StatusReleaseNotFound, outcome.Status)
}

func TestVerifyIPLimit(t *testing.T) {
	f := newFixture(t, func(_ *domain.Team, l *domain.License) {
		l.IPLimit = intPtr(2)
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		req := f.request()
		req.IPAddress = fmt.Sprintf("198.51.100.%d", i+1)
		require.Equal(t, StatusValid, f.verifier.Verify(ctx, req).Status)
	}

	req := f.request()
	req.IPAddress = "198.51.100.3"
	assert.Equal(t, StatusIPLimitReached, f.verifier.Verify(ctx, req).Status)
}
