package cryptoutils

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/nubster/egide/interfaces"
	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands ikm into length bytes with HKDF-SHA256.
func DeriveKey(ikm, salt, info []byte, length int) ([]byte, error) {
	if length <= 0 || length > 255*sha256.Size {
		return nil, fmt.Errorf("%w: invalid HKDF output length %d", interfaces.ErrCryptoBackend, length)
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, info), out); err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrCryptoBackend, err)
	}
	return out, nil
}

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrCryptoBackend, err)
	}
	return b, nil
}

// ConstantTimeEqual compares a and b without leaking where they differ.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Wipe zeroes every byte of each buffer.
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		for i := range b {
			b[i] = 0
		}
	}
}
