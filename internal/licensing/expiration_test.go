package licensing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/domain"
)

func TestEvaluateExpiration(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	thirty := 30

	tests := []struct {
		name       string
		license    domain.License
		wantOK     bool
		wantNewExp bool
	}{
		{
			name:    "never expires",
			license: domain.License{ExpirationType: domain.ExpirationNever},
			wantOK:  true,
		},
		{
			name:    "date in future",
			license: domain.License{ExpirationType: domain.ExpirationDate, ExpirationDate: &future},
			wantOK:  true,
		},
		{
			name:    "date in past",
			license: domain.License{ExpirationType: domain.ExpirationDate, ExpirationDate: &past},
			wantOK:  false,
		},
		{
			name:       "duration not yet started",
			license:    domain.License{ExpirationType: domain.ExpirationDuration, ExpirationDays: &thirty},
			wantOK:     true,
			wantNewExp: true,
		},
		{
			name:    "duration started and running",
			license: domain.License{ExpirationType: domain.ExpirationDuration, ExpirationDays: &thirty, ExpirationDate: &future},
			wantOK:  true,
		},
		{
			name:    "duration started and elapsed",
			license: domain.License{ExpirationType: domain.ExpirationDuration, ExpirationDays: &thirty, ExpirationDate: &past},
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EvaluateExpiration(&tt.license, now)
			assert.Equal(t, tt.wantOK, result.OK)
			if tt.wantNewExp {
				require.NotNil(t, result.NewExpirationDate)
				assert.Equal(t, now.Add(30*24*time.Hour), *result.NewExpirationDate)
			} else {
				assert.Nil(t, result.NewExpirationDate)
			}
			if !tt.wantOK {
				assert.NotNil(t, result.ExpiredAt)
			}
		})
	}
}

func TestEvaluateExpirationBoundary(t *testing.T) {
	// Exactly at the deadline the license is still valid; only strictly
	// after does it expire.
	deadline := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	license := domain.License{ExpirationType: domain.ExpirationDate, ExpirationDate: &deadline}

	assert.True(t, EvaluateExpiration(&license, deadline).OK)
	assert.False(t, EvaluateExpiration(&license, deadline.Add(time.Nanosecond)).OK)
}

func TestEvaluateExpirationUnknownTypeRejects(t *testing.T) {
	license := domain.License{ExpirationType: domain.ExpirationType("BOGUS")}
	assert.False(t, EvaluateExpiration(&license, time.Now()).OK)
}
