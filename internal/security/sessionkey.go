package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"keygate/internal/domain"
)

// ErrInvalidSessionKey is returned for any malformed or undecryptable
// session key blob. The cause is deliberately not distinguished: callers
// get no retry hint and no oracle.
var ErrInvalidSessionKey = errors.New("invalid session key")

// SessionKeyUnwrapper recovers the symmetric download session key from the
// caller-supplied blob, which is base64(RSA-OAEP-SHA256(sessionKey)) under
// the team's public key.
type SessionKeyUnwrapper struct{}

// NewSessionKeyUnwrapper creates an unwrapper.
func NewSessionKeyUnwrapper() *SessionKeyUnwrapper {
	return &SessionKeyUnwrapper{}
}

// Unwrap decrypts the blob with the team's private key. Every failure mode
// collapses into ErrInvalidSessionKey.
func (u *SessionKeyUnwrapper) Unwrap(keyPair *domain.KeyPair, blob string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, ErrInvalidSessionKey
	}
	key, err := ParsePrivateKey(keyPair.PrivateKeyPEM)
	if err != nil {
		return nil, ErrInvalidSessionKey
	}
	sessionKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, ciphertext, nil)
	if err != nil || len(sessionKey) == 0 {
		return nil, ErrInvalidSessionKey
	}
	return sessionKey, nil
}

// WrapSessionKey encrypts a session key under the team's public key. The
// client SDK performs this on its side; the server implementation exists
// for tests and tooling.
func WrapSessionKey(publicPEM []byte, sessionKey []byte) (string, error) {
	key, err := ParsePublicKey(publicPEM)
	if err != nil {
		return "", err
	}
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, key, sessionKey, nil)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}
