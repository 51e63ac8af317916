package licensing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	keyGroupCount  = 5
	keyGroupLength = 5
	keyCharset     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// maxKeyGenerationAttempts bounds collision retries before the
	// generator gives up. Exhaustion is an infrastructure fault, not a
	// policy outcome.
	maxKeyGenerationAttempts = 10
)

var keyPattern = regexp.MustCompile(`^[A-Z0-9]{5}(-[A-Z0-9]{5}){4}$`)

// ValidKeyFormat reports whether s looks like a license key
// (XXXXX-XXXXX-XXXXX-XXXXX-XXXXX, uppercase alphanumeric).
func ValidKeyFormat(s string) bool {
	return keyPattern.MatchString(s)
}

// GenerateKey produces a random license key.
func GenerateKey() (string, error) {
	groups := make([]string, keyGroupCount)
	buf := make([]byte, keyGroupLength)
	for i := range groups {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		var sb strings.Builder
		for _, b := range buf {
			sb.WriteByte(keyCharset[int(b)%len(keyCharset)])
		}
		groups[i] = sb.String()
	}
	return strings.Join(groups, "-"), nil
}

// LookupHasher computes the keyed hash used as the only query path into
// license storage. The plaintext key is never indexed or logged.
type LookupHasher struct {
	secret []byte
}

// NewLookupHasher creates a hasher with the server-side HMAC secret.
func NewLookupHasher(secret string) *LookupHasher {
	return &LookupHasher{secret: []byte(secret)}
}

// Hash returns hex(HMAC-SHA256(key + ":" + teamID)).
func (h *LookupHasher) Hash(licenseKey string, teamID uuid.UUID) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(licenseKey))
	mac.Write([]byte(":"))
	mac.Write([]byte(teamID.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// WatermarkKey derives the per-team key handed to the watermarking codec.
func (h *LookupHasher) WatermarkKey(teamID uuid.UUID) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(teamID.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// RateKeyFragment returns a stable non-reversible fragment of the license
// key for use inside rate-limit store keys.
func RateKeyFragment(licenseKey string) string {
	sum := sha256.Sum256([]byte(licenseKey))
	return hex.EncodeToString(sum[:16])
}
