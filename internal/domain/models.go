// Package domain defines the persistent entities shared by the verification
// and distribution pipelines. All entities are tenant-scoped through TeamID.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExpirationType controls how a license's lifetime is computed.
type ExpirationType string

const (
	ExpirationNever    ExpirationType = "NEVER"
	ExpirationDate     ExpirationType = "DATE"
	ExpirationDuration ExpirationType = "DURATION"
)

// ExpirationStart selects the anchor for DURATION licenses.
type ExpirationStart string

const (
	ExpirationStartCreation   ExpirationStart = "CREATION"
	ExpirationStartActivation ExpirationStart = "ACTIVATION"
)

// ReleaseStatus is the publication state of a release.
type ReleaseStatus string

const (
	ReleaseDraft     ReleaseStatus = "DRAFT"
	ReleasePublished ReleaseStatus = "PUBLISHED"
	ReleaseArchived  ReleaseStatus = "ARCHIVED"
)

// BlacklistType discriminates blacklist entry values.
type BlacklistType string

const (
	BlacklistIPAddress          BlacklistType = "IP_ADDRESS"
	BlacklistCountry            BlacklistType = "COUNTRY"
	BlacklistHardwareIdentifier BlacklistType = "HARDWARE_IDENTIFIER"
)

// Team is the tenant boundary. Verification never crosses teams: every
// lookup is scoped by the team id extracted from the request path.
type Team struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"size:255;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Settings  *TeamSettings    `gorm:"foreignKey:TeamID"`
	Limits    *TeamLimits      `gorm:"foreignKey:TeamID"`
	KeyPair   *KeyPair         `gorm:"foreignKey:TeamID"`
	Blacklist []BlacklistEntry `gorm:"foreignKey:TeamID"`
}

// TeamSettings holds per-tenant verification policy. Timeout values are in
// minutes; nil means devices never age out of the occupied-slot count.
type TeamSettings struct {
	TeamID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	StrictCustomers        bool      `gorm:"not null;default:false"`
	StrictProducts         bool      `gorm:"not null;default:false"`
	StrictReleases         bool      `gorm:"not null;default:false"`
	IPAddressTimeoutMin    *int
	HardwareTimeoutMin     *int
	WatermarkingMethods    int `gorm:"not null;default:0"`
	WatermarkStaticDensity int `gorm:"not null;default:10"`
	UpdatedAt              time.Time
}

// TeamLimits carries plan-level feature gates.
type TeamLimits struct {
	TeamID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	AllowClassloader  bool      `gorm:"not null;default:false"`
	AllowWatermarking bool      `gorm:"not null;default:false"`
	UpdatedAt         time.Time
}

// KeyPair is the team's asymmetric key material. The private key decrypts
// download session keys and signs verification challenges.
type KeyPair struct {
	TeamID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	PrivateKeyPEM []byte    `gorm:"not null"`
	PublicKeyPEM  []byte    `gorm:"not null"`
	CreatedAt     time.Time
}

// BlacklistEntry denies a single IP, ISO 3166-1 alpha-3 country code, or
// hardware identifier for the whole team. Hits counts matched requests.
type BlacklistEntry struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey"`
	TeamID    uuid.UUID     `gorm:"type:uuid;not null;index"`
	Type      BlacklistType `gorm:"size:32;not null"`
	Value     string        `gorm:"size:1024;not null"`
	Hits      int64         `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// License is never queried by its plaintext key. KeyLookup is a keyed hash of
// `key:teamID`; the plaintext travels only inside requests.
type License struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	TeamID          uuid.UUID `gorm:"type:uuid;not null;index"`
	KeyCiphertext   []byte    `gorm:"not null"`
	KeyLookup       string    `gorm:"size:64;not null;uniqueIndex:idx_license_lookup,composite:team_id"`
	Suspended       bool      `gorm:"not null;default:false"`
	ExpirationType  ExpirationType  `gorm:"size:16;not null;default:NEVER"`
	ExpirationStart ExpirationStart `gorm:"size:16;not null;default:CREATION"`
	ExpirationDate  *time.Time
	ExpirationDays  *int
	IPLimit         *int
	HWIDLimit       *int
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Customers []Customer `gorm:"many2many:license_customers"`
	Products  []Product  `gorm:"many2many:license_products"`
}

// Customer is an optional end-user identity linked to licenses.
type Customer struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TeamID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Email     *string   `gorm:"size:255"`
	FullName  *string   `gorm:"size:255"`
	Username  *string   `gorm:"size:255"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Product groups releases under a team.
type Product struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TeamID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Name      string    `gorm:"size:255;not null"`
	URL       *string   `gorm:"size:1024"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Releases []Release `gorm:"foreignKey:ProductID"`
}

// ReleaseBranch partitions a product's releases (e.g. "stable", "beta").
type ReleaseBranch struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProductID uuid.UUID `gorm:"type:uuid;not null;index"`
	Name      string    `gorm:"size:255;not null"`
	CreatedAt time.Time
}

// Release is a distributable version of a product. When AllowedLicenses is
// non-empty only those licenses may download it. Latest marks the release
// served when no version is requested.
type Release struct {
	ID         uuid.UUID     `gorm:"type:uuid;primaryKey"`
	TeamID     uuid.UUID     `gorm:"type:uuid;not null;index"`
	ProductID  uuid.UUID     `gorm:"type:uuid;not null;index"`
	BranchID   *uuid.UUID    `gorm:"type:uuid;index"`
	Version    string        `gorm:"size:255;not null"`
	Status     ReleaseStatus `gorm:"size:16;not null;default:DRAFT"`
	Latest     bool          `gorm:"not null;default:false"`
	LastSeenAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Branch          *ReleaseBranch `gorm:"foreignKey:BranchID"`
	File            *ReleaseFile   `gorm:"foreignKey:ReleaseID"`
	AllowedLicenses []License      `gorm:"many2many:release_allowed_licenses"`
}

// ReleaseFile is the stored artifact behind a release. A non-nil
// MainClassName marks the artifact as a runnable JAR, which is the only
// shape the watermarker accepts.
type ReleaseFile struct {
	ReleaseID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	StorageKey    string    `gorm:"size:1024;not null"`
	Size          int64     `gorm:"not null"`
	Checksum      string    `gorm:"size:128"`
	MainClassName *string   `gorm:"size:512"`
	CreatedAt     time.Time
}

// HardwareIdentifier is a per-(team, license) seen record for one device.
// A record outside the configured timeout window stops occupying a slot but
// is kept; Forgotten is an explicit operator reset revived on next use.
type HardwareIdentifier struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	TeamID      uuid.UUID `gorm:"type:uuid;not null;index"`
	LicenseID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_hwid_license_value"`
	Value       string    `gorm:"size:1024;not null;uniqueIndex:idx_hwid_license_value"`
	LastSeenAt  time.Time `gorm:"not null"`
	Forgotten   bool      `gorm:"not null;default:false"`
	ForgottenAt *time.Time
	CreatedAt   time.Time
}

// IPAddress mirrors HardwareIdentifier for client IPs.
type IPAddress struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	TeamID      uuid.UUID `gorm:"type:uuid;not null;index"`
	LicenseID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_ip_license_value"`
	Value       string    `gorm:"size:64;not null;uniqueIndex:idx_ip_license_value"`
	LastSeenAt  time.Time `gorm:"not null"`
	Forgotten   bool      `gorm:"not null;default:false"`
	ForgottenAt *time.Time
	CreatedAt   time.Time
}

// WebhookEvent is the fire-and-forget record consumed by the delivery
// subsystem. This core only inserts rows; delivery and retry live elsewhere.
type WebhookEvent struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TeamID    uuid.UUID `gorm:"type:uuid;not null;index"`
	EventType string    `gorm:"size:64;not null"`
	Payload   []byte    `gorm:"type:jsonb"`
	Status    string    `gorm:"size:32;not null;default:PENDING"`
	CreatedAt time.Time
}
