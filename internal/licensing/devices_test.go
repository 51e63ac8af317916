package licensing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateDeviceLimit(t *testing.T) {
	one := 1
	two := 2

	tests := []struct {
		name     string
		occupied []string
		value    string
		limit    *int
		wantOK   bool
		wantSeen bool
	}{
		{"first device under limit", nil, "hwid-a", &one, true, false},
		{"known device at limit is idempotent", []string{"hwid-a"}, "hwid-a", &one, true, true},
		{"new device at limit rejects", []string{"hwid-a"}, "hwid-b", &one, false, false},
		{"new device under higher limit", []string{"hwid-a"}, "hwid-b", &two, true, false},
		{"nil limit never rejects", []string{"a", "b", "c"}, "d", nil, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := EvaluateDeviceLimit(tt.occupied, tt.value, tt.limit)
			assert.Equal(t, tt.wantOK, decision.OK)
			assert.Equal(t, tt.wantSeen, decision.AlreadySeen)
		})
	}
}

func TestSeenWindowStart(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Nil(t, SeenWindowStart(nil, now))

	minutes := 30
	start := SeenWindowStart(&minutes, now)
	require.NotNil(t, start)
	assert.Equal(t, now.Add(-30*time.Minute), *start)
}
