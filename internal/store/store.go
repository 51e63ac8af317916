package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"keygate/internal/domain"
	"keygate/internal/licensing"
)

// Store implements licensing.Store on top of GORM.
type Store struct {
	db *gorm.DB
}

// New creates the store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// TeamByID loads a team with its settings, limits, key pair and blacklist.
func (s *Store) TeamByID(ctx context.Context, id uuid.UUID) (*domain.Team, error) {
	var team domain.Team
	err := s.db.WithContext(ctx).
		Preload("Settings").
		Preload("Limits").
		Preload("KeyPair").
		Preload("Blacklist").
		Where("id = ?", id).
		Take(&team).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &team, nil
}

// LicenseByLookup resolves a license by the keyed hash of its plaintext
// key. This is the only query path into license storage.
func (s *Store) LicenseByLookup(ctx context.Context, teamID uuid.UUID, lookup string) (*domain.License, error) {
	var license domain.License
	err := s.db.WithContext(ctx).
		Preload("Customers").
		Preload("Products").
		Where("team_id = ? AND key_lookup = ?", teamID, lookup).
		Take(&license).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &license, nil
}

// ProductByID loads a product scoped to a team.
func (s *Store) ProductByID(ctx context.Context, teamID, productID uuid.UUID) (*domain.Product, error) {
	var product domain.Product
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND id = ?", teamID, productID).
		Take(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ProductReleases loads a product's releases with branch, file and
// allow-list associations.
func (s *Store) ProductReleases(ctx context.Context, productID uuid.UUID) ([]domain.Release, error) {
	var releases []domain.Release
	err := s.db.WithContext(ctx).
		Preload("Branch").
		Preload("File").
		Preload("AllowedLicenses").
		Where("product_id = ?", productID).
		Find(&releases).Error
	return releases, err
}

// ProductBranches loads all branches of a product.
func (s *Store) ProductBranches(ctx context.Context, productID uuid.UUID) ([]domain.ReleaseBranch, error) {
	var branches []domain.ReleaseBranch
	err := s.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Find(&branches).Error
	return branches, err
}

// OccupiedHardware returns the non-forgotten hardware values currently
// occupying slots for the license. A nil since means records never expire.
func (s *Store) OccupiedHardware(ctx context.Context, licenseID uuid.UUID, since *time.Time) ([]string, error) {
	return s.occupied(ctx, &domain.HardwareIdentifier{}, licenseID, since)
}

// OccupiedIPs mirrors OccupiedHardware for IP records.
func (s *Store) OccupiedIPs(ctx context.Context, licenseID uuid.UUID, since *time.Time) ([]string, error) {
	return s.occupied(ctx, &domain.IPAddress{}, licenseID, since)
}

func (s *Store) occupied(ctx context.Context, model any, licenseID uuid.UUID, since *time.Time) ([]string, error) {
	q := s.db.WithContext(ctx).
		Model(model).
		Where("license_id = ? AND forgotten = ?", licenseID, false)
	if since != nil {
		q = q.Where("last_seen_at >= ?", *since)
	}
	var values []string
	if err := q.Pluck("value", &values).Error; err != nil {
		return nil, err
	}
	return values, nil
}

// IncrementBlacklistHits bumps a matched entry's hit counter.
func (s *Store) IncrementBlacklistHits(ctx context.Context, entryID uuid.UUID) error {
	return s.db.WithContext(ctx).
		Model(&domain.BlacklistEntry{}).
		Where("id = ?", entryID).
		UpdateColumn("hits", gorm.Expr("hits + 1")).Error
}

// CommitVerification executes the request's write unit in one transaction:
// hardware and IP seen upserts, the release last-seen bump and the lazy
// expiration date, all or nothing. Row upserts rely on the unique
// (license_id, value) index so two concurrent requests for the same value
// collapse into one row.
func (s *Store) CommitVerification(ctx context.Context, commit licensing.Commit) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if commit.HardwareID != "" {
			row := domain.HardwareIdentifier{
				ID:         uuid.New(),
				TeamID:     commit.TeamID,
				LicenseID:  commit.LicenseID,
				Value:      commit.HardwareID,
				LastSeenAt: commit.Now,
			}
			if err := tx.Clauses(seenUpsert()).Create(&row).Error; err != nil {
				return fmt.Errorf("upsert hardware: %w", err)
			}
		}

		if commit.IP != "" {
			row := domain.IPAddress{
				ID:         uuid.New(),
				TeamID:     commit.TeamID,
				LicenseID:  commit.LicenseID,
				Value:      commit.IP,
				LastSeenAt: commit.Now,
			}
			if err := tx.Clauses(seenUpsert()).Create(&row).Error; err != nil {
				return fmt.Errorf("upsert ip: %w", err)
			}
		}

		if commit.ReleaseID != nil {
			if err := tx.Model(&domain.Release{}).
				Where("id = ?", *commit.ReleaseID).
				UpdateColumn("last_seen_at", commit.Now).Error; err != nil {
				return fmt.Errorf("bump release last seen: %w", err)
			}
		}

		if commit.NewExpirationDate != nil {
			if err := tx.Model(&domain.License{}).
				Where("id = ? AND expiration_date IS NULL", commit.LicenseID).
				UpdateColumn("expiration_date", *commit.NewExpirationDate).Error; err != nil {
				return fmt.Errorf("persist expiration date: %w", err)
			}
		}

		return nil
	})
}

// seenUpsert revives a row on conflict: the record becomes current again
// and any operator "forget" flag is cleared on next use.
func seenUpsert() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "license_id"}, {Name: "value"}},
		DoUpdates: clause.Assignments(map[string]any{
			"last_seen_at": gorm.Expr("excluded.last_seen_at"),
			"forgotten":    false,
			"forgotten_at": nil,
		}),
	}
}

// GenerateUniqueKey produces a license key whose lookup hash is unused in
// the team, retrying on collision. Exhaustion is an infrastructure fault.
func (s *Store) GenerateUniqueKey(ctx context.Context, hasher *licensing.LookupHasher, teamID uuid.UUID) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		key, err := licensing.GenerateKey()
		if err != nil {
			return "", err
		}
		var count int64
		err = s.db.WithContext(ctx).
			Model(&domain.License{}).
			Where("team_id = ? AND key_lookup = ?", teamID, hasher.Hash(key, teamID)).
			Count(&count).Error
		if err != nil {
			return "", err
		}
		if count == 0 {
			return key, nil
		}
	}
	return "", fmt.Errorf("license key space exhausted for team %s", teamID)
}
