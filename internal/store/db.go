// Package store is the Postgres persistence layer. All reads are tenant
// scoped; the only writes this core performs are device/IP seen upserts,
// release last-seen bumps and lazy license expiration dates.
package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"keygate/internal/domain"
)

// Connect opens and validates a Postgres-backed GORM connection pool.
func Connect(ctx context.Context, databaseURL string, maxConns int32) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(int(maxConns))
		sqlDB.SetMaxIdleConns(int(maxConns) / 2)
	}
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies the schema for every entity this core touches.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Team{},
		&domain.TeamSettings{},
		&domain.TeamLimits{},
		&domain.KeyPair{},
		&domain.BlacklistEntry{},
		&domain.License{},
		&domain.Customer{},
		&domain.Product{},
		&domain.ReleaseBranch{},
		&domain.Release{},
		&domain.ReleaseFile{},
		&domain.HardwareIdentifier{},
		&domain.IPAddress{},
		&domain.WebhookEvent{},
	)
}
