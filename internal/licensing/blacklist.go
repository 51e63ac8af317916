package licensing

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"keygate/internal/domain"
)

// BlacklistHitRecorder persists hit counters for matched entries.
type BlacklistHitRecorder interface {
	IncrementBlacklistHits(ctx context.Context, entryID uuid.UUID) error
}

// BlacklistChecker rejects requests matching a team's deny-list. Evaluation
// order is fixed: IP, then country, then hardware identifier; the first
// match wins and increments that entry's hit counter.
type BlacklistChecker struct {
	hits   BlacklistHitRecorder
	logger *slog.Logger
}

// NewBlacklistChecker creates a checker recording hits through the store.
func NewBlacklistChecker(hits BlacklistHitRecorder, logger *slog.Logger) *BlacklistChecker {
	return &BlacklistChecker{hits: hits, logger: logger.With(slog.String("component", "blacklist"))}
}

// Check returns the first matching rejection status, or nil when the
// request is clean. The country code arrives as ISO alpha-2 from the edge
// and is converted to alpha-3 before comparison, matching stored entries.
func (c *BlacklistChecker) Check(ctx context.Context, team *domain.Team, ip, countryAlpha2, hwid string) *Status {
	country := CountryAlpha3(countryAlpha2)

	if entry := match(team.Blacklist, domain.BlacklistIPAddress, ip); entry != nil {
		c.recordHit(ctx, entry)
		return statusPtr(StatusIPBlacklisted)
	}
	if entry := match(team.Blacklist, domain.BlacklistCountry, country); entry != nil {
		c.recordHit(ctx, entry)
		return statusPtr(StatusCountryBlacklist)
	}
	if entry := match(team.Blacklist, domain.BlacklistHardwareIdentifier, hwid); entry != nil {
		c.recordHit(ctx, entry)
		return statusPtr(StatusHWIDBlacklisted)
	}
	return nil
}

func match(entries []domain.BlacklistEntry, kind domain.BlacklistType, value string) *domain.BlacklistEntry {
	if value == "" {
		return nil
	}
	for i := range entries {
		if entries[i].Type == kind && strings.EqualFold(entries[i].Value, value) {
			return &entries[i]
		}
	}
	return nil
}

// recordHit is best-effort: a failed counter update never fails the request.
func (c *BlacklistChecker) recordHit(ctx context.Context, entry *domain.BlacklistEntry) {
	if err := c.hits.IncrementBlacklistHits(ctx, entry.ID); err != nil {
		c.logger.WarnContext(ctx, "blacklist hit increment failed",
			"entry_id", entry.ID.String(),
			"error", err.Error(),
		)
	}
}

func statusPtr(s Status) *Status { return &s }
