package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"keygate/internal/domain"
)

// Signer signs client challenges with a team's private key. The signature
// binds a verification response to the tenant: only the holder of the
// private key could have produced it.
type Signer struct{}

// NewSigner creates a challenge signer.
func NewSigner() *Signer {
	return &Signer{}
}

// SignChallenge returns hex(RSASSA-PKCS1-v1_5-SHA256(challenge)). The
// challenge is opaque client-supplied bytes; absence of a challenge is
// handled by the caller, never here.
func (s *Signer) SignChallenge(keyPair *domain.KeyPair, challenge string) (string, error) {
	key, err := ParsePrivateKey(keyPair.PrivateKeyPEM)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256([]byte(challenge))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign challenge: %w", err)
	}
	return hex.EncodeToString(sig), nil
}
