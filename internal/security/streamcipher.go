package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const streamKeyInfo = "keygate/download/v1"

// deriveStreamKey expands the session key into a 256-bit AES key. Clients
// perform the same HKDF expansion to decrypt the stream.
func deriveStreamKey(sessionKey []byte) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, sessionKey, nil, []byte(streamKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive stream key: %w", err)
	}
	return key, nil
}

// EncryptingReader wraps an artifact stream in AES-256-CTR keyed from the
// download session key. The random IV is emitted as the first 16 bytes of
// the stream. Reads observe context cancellation so a disconnected caller
// stops pulling from storage.
type EncryptingReader struct {
	ctx    context.Context
	src    io.ReadCloser
	stream cipher.Stream
	iv     []byte
	ivSent int
}

// NewEncryptingReader builds the transform over src. src is closed by
// Close, never by a read error.
func NewEncryptingReader(ctx context.Context, sessionKey []byte, src io.ReadCloser) (*EncryptingReader, error) {
	key, err := deriveStreamKey(sessionKey)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}
	return &EncryptingReader{
		ctx:    ctx,
		src:    src,
		stream: cipher.NewCTR(block, iv),
		iv:     iv,
	}, nil
}

func (r *EncryptingReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	if r.ivSent < len(r.iv) {
		n := copy(p, r.iv[r.ivSent:])
		r.ivSent += n
		return n, nil
	}
	n, err := r.src.Read(p)
	if n > 0 {
		r.stream.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}

// Close releases the underlying storage stream.
func (r *EncryptingReader) Close() error {
	return r.src.Close()
}

// DecryptStream reverses the transform given the full encrypted payload.
// Used by tests and client-side tooling.
func DecryptStream(sessionKey, payload []byte) ([]byte, error) {
	if len(payload) < aes.BlockSize {
		return nil, fmt.Errorf("payload shorter than iv")
	}
	key, err := deriveStreamKey(sessionKey)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(payload)-aes.BlockSize)
	cipher.NewCTR(block, payload[:aes.BlockSize]).XORKeyStream(out, payload[aes.BlockSize:])
	return out, nil
}
