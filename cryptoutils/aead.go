package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"

	"github.com/nubster/egide/interfaces"
)

const (
	// AES256KeySize is the size of an AES-256-GCM key.
	AES256KeySize = 32
	// NonceSize is the GCM nonce size (96 bits).
	NonceSize = 12
	// TagSize is the GCM authentication tag size.
	TagSize = 16
	// AEADOverhead is the number of bytes SealAEAD adds to a plaintext.
	AEADOverhead = NonceSize + TagSize
)

const convergentInfo = "egide-convergent-v1"

// Sealed is the output of an AEAD encryption.
type Sealed struct {
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

// Bytes returns nonce||ciphertext||tag.
func (s Sealed) Bytes() []byte {
	out := make([]byte, 0, len(s.Nonce)+len(s.Ciphertext)+len(s.Tag))
	out = append(out, s.Nonce...)
	out = append(out, s.Ciphertext...)
	return append(out, s.Tag...)
}

// SplitSealed splits nonce||ciphertext||tag. It only checks lengths.
func SplitSealed(b []byte) (Sealed, error) {
	if len(b) < AEADOverhead {
		return Sealed{}, interfaces.ErrInvalidCiphertext
	}
	return Sealed{
		Nonce:      b[:NonceSize],
		Ciphertext: b[NonceSize : len(b)-TagSize],
		Tag:        b[len(b)-TagSize:],
	}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AES256KeySize {
		return nil, fmt.Errorf("%w: invalid AES key size %d", interfaces.ErrCryptoBackend, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrCryptoBackend, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrCryptoBackend, err)
	}
	return gcm, nil
}

// SealAEAD encrypts plaintext with AES-256-GCM under a fresh random nonce.
func SealAEAD(key, plaintext, aad []byte) (Sealed, error) {
	nonce, err := RandomBytes(NonceSize)
	if err != nil {
		return Sealed{}, err
	}
	return sealWithNonce(key, nonce, plaintext, aad)
}

// SealConvergent encrypts plaintext with a nonce derived from the key, the
// context and the plaintext hash, so equal (plaintext, context) pairs produce
// equal output. The context is also bound as associated data.
func SealConvergent(key, plaintext, context []byte) (Sealed, error) {
	nonce, err := ConvergentNonce(key, plaintext, context)
	if err != nil {
		return Sealed{}, err
	}
	return sealWithNonce(key, nonce, plaintext, context)
}

// ConvergentNonce derives the 96-bit nonce used by SealConvergent.
func ConvergentNonce(key, plaintext, context []byte) ([]byte, error) {
	digest := sha256.Sum256(plaintext)
	info := make([]byte, 0, len(convergentInfo)+len(context)+len(digest))
	info = append(info, convergentInfo...)
	info = append(info, context...)
	info = append(info, digest[:]...)
	return DeriveKey(key, nil, info, NonceSize)
}

func sealWithNonce(key, nonce, plaintext, aad []byte) (Sealed, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return Sealed{}, err
	}
	out := gcm.Seal(nil, nonce, plaintext, aad)
	return Sealed{
		Nonce:      nonce,
		Ciphertext: out[:len(out)-TagSize],
		Tag:        out[len(out)-TagSize:],
	}, nil
}

// OpenAEAD decrypts and authenticates. Every authentication failure is
// reported as the bare ErrDecryptionFailed.
func OpenAEAD(key []byte, sealed Sealed, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed.Nonce) != NonceSize || len(sealed.Tag) != TagSize {
		return nil, interfaces.ErrDecryptionFailed
	}
	buf := make([]byte, 0, len(sealed.Ciphertext)+TagSize)
	buf = append(buf, sealed.Ciphertext...)
	buf = append(buf, sealed.Tag...)
	plaintext, err := gcm.Open(nil, sealed.Nonce, buf, aad)
	if err != nil {
		return nil, interfaces.ErrDecryptionFailed
	}
	return plaintext, nil
}
