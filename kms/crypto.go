package kms

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/nubster/egide/ciphertext"
	"github.com/nubster/egide/cryptoutils"
	"github.com/nubster/egide/interfaces"
)

type convergentEncrypter interface {
	EncryptConvergent(plaintext, context []byte) ([]byte, error)
}

// bodyLayout returns the ciphertext body rules of an encryption key type.
func bodyLayout(kt cryptoutils.KeyType) ciphertext.Layout {
	switch kt {
	case cryptoutils.KeyTypeRSA2048:
		return ciphertext.Layout{Exact: 2048 / 8}
	case cryptoutils.KeyTypeRSA4096:
		return ciphertext.Layout{Exact: 4096 / 8}
	default:
		return ciphertext.AEADLayout
	}
}

func checkEncryptable(meta *keyMeta) error {
	if !meta.Type.CanEncrypt() {
		return fmt.Errorf("%w: %s keys cannot encrypt", interfaces.ErrOperationNotAllowed, meta.Type)
	}
	if meta.Disabled {
		return fmt.Errorf("%w: key %q", interfaces.ErrKeyDisabled, meta.Name)
	}
	return nil
}

// Encrypt seals plaintext under the current version of name. The optional
// context is bound as associated data and is mandatory for convergent keys.
func (s *Store) Encrypt(ctx context.Context, name string, plaintext, encContext []byte) (EncryptResult, error) {
	if err := s.checkUnsealed(); err != nil {
		return EncryptResult{}, err
	}
	meta, err := s.liveMeta(ctx, name)
	if err != nil {
		return EncryptResult{}, err
	}
	if err := checkEncryptable(meta); err != nil {
		return EncryptResult{}, err
	}
	return s.encrypt(ctx, meta, plaintext, encContext)
}

func (s *Store) encrypt(ctx context.Context, meta *keyMeta, plaintext, encContext []byte) (EncryptResult, error) {
	if meta.Convergent && len(encContext) == 0 {
		return EncryptResult{}, fmt.Errorf("%w: convergent key %q requires a context", interfaces.ErrInvalidArgument, meta.Name)
	}

	version := meta.CurrentVersion
	var body []byte
	err := s.withVersion(ctx, meta, version, func(km cryptoutils.KeyMaterial) error {
		if meta.Convergent {
			ce, ok := km.(convergentEncrypter)
			if !ok {
				return fmt.Errorf("%w: %s keys cannot encrypt convergently", interfaces.ErrOperationNotAllowed, meta.Type)
			}
			out, err := ce.EncryptConvergent(plaintext, encContext)
			body = out
			return err
		}

		enc, err := cryptoutils.AsEncrypter(km)
		if err != nil {
			return err
		}
		body, err = enc.Encrypt(plaintext, encContext)
		return err
	})
	if err != nil {
		return EncryptResult{}, err
	}

	encoded, err := ciphertext.Encode(meta.Name, version, body)
	if err != nil {
		return EncryptResult{}, err
	}
	return EncryptResult{Ciphertext: encoded, KeyVersion: version}, nil
}

// Decrypt opens a ciphertext produced by Encrypt with the same key name and
// context. Disabled keys can still decrypt.
func (s *Store) Decrypt(ctx context.Context, name, encoded string, encContext []byte) ([]byte, error) {
	if err := s.checkUnsealed(); err != nil {
		return nil, err
	}
	meta, err := s.liveMeta(ctx, name)
	if err != nil {
		return nil, err
	}
	if !meta.Type.CanEncrypt() {
		return nil, fmt.Errorf("%w: %s keys cannot decrypt", interfaces.ErrOperationNotAllowed, meta.Type)
	}
	plaintext, _, err := s.decrypt(ctx, meta, encoded, encContext)
	return plaintext, err
}

func (s *Store) decrypt(ctx context.Context, meta *keyMeta, encoded string, encContext []byte) ([]byte, int, error) {
	ct, err := ciphertext.Parse(encoded)
	if err != nil {
		return nil, 0, err
	}
	if ct.KeyName != meta.Name {
		return nil, 0, interfaces.ErrInvalidCiphertext
	}
	if err := ct.CheckLayout(bodyLayout(meta.Type)); err != nil {
		return nil, 0, err
	}
	if ct.KeyVersion < meta.MinDecryptionVersion {
		return nil, 0, fmt.Errorf("%w: version %d is below the minimum decryption version %d of %q",
			interfaces.ErrVersionNotAllowed, ct.KeyVersion, meta.MinDecryptionVersion, meta.Name)
	}
	if ct.KeyVersion > meta.CurrentVersion {
		return nil, 0, interfaces.ErrDecryptionFailed
	}

	rec, err := readVersion(s.ctxGetter(ctx), meta.Name, ct.KeyVersion)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, 0, interfaces.ErrDecryptionFailed
	}
	if err != nil {
		return nil, 0, err
	}
	if rec.destroyed() {
		return nil, 0, interfaces.ErrDecryptionFailed
	}

	material, err := s.unwrap(ctx, meta, rec)
	if err != nil {
		return nil, 0, err
	}
	defer material.Wipe()

	enc, err := cryptoutils.AsEncrypter(material)
	if err != nil {
		return nil, 0, err
	}
	plaintext, err := enc.Decrypt(ct.Body, encContext)
	if err != nil {
		return nil, 0, interfaces.ErrDecryptionFailed
	}
	return plaintext, ct.KeyVersion, nil
}

// Rewrap decrypts a ciphertext and encrypts the plaintext again under the
// current version. The plaintext never leaves the store.
func (s *Store) Rewrap(ctx context.Context, name, encoded string, encContext []byte) (EncryptResult, error) {
	if err := s.checkUnsealed(); err != nil {
		return EncryptResult{}, err
	}
	meta, err := s.liveMeta(ctx, name)
	if err != nil {
		return EncryptResult{}, err
	}
	if err := checkEncryptable(meta); err != nil {
		return EncryptResult{}, err
	}

	plaintext, _, err := s.decrypt(ctx, meta, encoded, encContext)
	if err != nil {
		return EncryptResult{}, err
	}
	defer cryptoutils.Wipe(plaintext)

	return s.encrypt(ctx, meta, plaintext, encContext)
}

// Sign signs data with the current version and returns the signature in wire
// form.
func (s *Store) Sign(ctx context.Context, name string, data []byte, alg cryptoutils.SignatureAlgorithm) (SignResult, error) {
	if err := s.checkUnsealed(); err != nil {
		return SignResult{}, err
	}
	meta, err := s.liveMeta(ctx, name)
	if err != nil {
		return SignResult{}, err
	}
	if !meta.Type.CanSign() {
		return SignResult{}, fmt.Errorf("%w: %s keys cannot sign", interfaces.ErrOperationNotAllowed, meta.Type)
	}
	if meta.Disabled {
		return SignResult{}, fmt.Errorf("%w: key %q", interfaces.ErrKeyDisabled, name)
	}

	version := meta.CurrentVersion
	var sig []byte
	err = s.withVersion(ctx, meta, version, func(km cryptoutils.KeyMaterial) error {
		signer, err := cryptoutils.AsSigner(km)
		if err != nil {
			return err
		}
		sig, err = signer.Sign(data, alg)
		return err
	})
	if err != nil {
		return SignResult{}, err
	}

	encoded, err := ciphertext.Encode(name, version, sig)
	if err != nil {
		return SignResult{}, err
	}
	return SignResult{Signature: encoded, KeyVersion: version}, nil
}

// Verify checks a signature produced by Sign. A wire-form signature is
// checked against its embedded version only. A bare base64 signature is tried
// against every usable version, newest first.
func (s *Store) Verify(ctx context.Context, name string, data []byte, signature string, alg cryptoutils.SignatureAlgorithm) (bool, error) {
	if err := s.checkUnsealed(); err != nil {
		return false, err
	}
	meta, err := s.liveMeta(ctx, name)
	if err != nil {
		return false, err
	}
	if !meta.Type.CanSign() {
		return false, fmt.Errorf("%w: %s keys cannot verify", interfaces.ErrOperationNotAllowed, meta.Type)
	}

	if strings.HasPrefix(signature, ciphertext.Prefix+ciphertext.Separator) {
		parsed, err := ciphertext.Parse(signature)
		if err != nil {
			return false, err
		}
		if parsed.KeyName != name {
			return false, interfaces.ErrInvalidCiphertext
		}
		if parsed.KeyVersion < meta.MinDecryptionVersion {
			return false, fmt.Errorf("%w: version %d is below the minimum decryption version %d of %q",
				interfaces.ErrVersionNotAllowed, parsed.KeyVersion, meta.MinDecryptionVersion, name)
		}
		if parsed.KeyVersion > meta.CurrentVersion {
			return false, nil
		}
		return s.verifyVersion(ctx, meta, parsed.KeyVersion, data, parsed.Body, alg)
	}

	raw, err := base64.StdEncoding.Strict().DecodeString(signature)
	if err != nil || len(raw) == 0 {
		return false, interfaces.ErrInvalidCiphertext
	}
	for v := meta.CurrentVersion; v >= meta.MinDecryptionVersion; v-- {
		ok, err := s.verifyVersion(ctx, meta, v, data, raw, alg)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// verifyVersion reports false for versions that no longer hold material.
func (s *Store) verifyVersion(ctx context.Context, meta *keyMeta, version int, data, sig []byte, alg cryptoutils.SignatureAlgorithm) (bool, error) {
	rec, err := readVersion(s.ctxGetter(ctx), meta.Name, version)
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.destroyed() {
		return false, nil
	}

	material, err := s.unwrap(ctx, meta, rec)
	if err != nil {
		return false, err
	}
	defer material.Wipe()

	signer, err := cryptoutils.AsSigner(material)
	if err != nil {
		return false, err
	}
	return signer.Verify(data, sig, alg)
}

// GenerateDatakey creates a random data key of bits length and returns it
// encrypted under name. With wrappedOnly the plaintext is discarded.
func (s *Store) GenerateDatakey(ctx context.Context, name string, bits int, wrappedOnly bool, encContext []byte) (DatakeyResult, error) {
	if err := s.checkUnsealed(); err != nil {
		return DatakeyResult{}, err
	}
	switch bits {
	case 128, 256, 512:
	default:
		return DatakeyResult{}, fmt.Errorf("%w: data key bits must be 128, 256 or 512", interfaces.ErrInvalidArgument)
	}

	meta, err := s.liveMeta(ctx, name)
	if err != nil {
		return DatakeyResult{}, err
	}
	if err := checkEncryptable(meta); err != nil {
		return DatakeyResult{}, err
	}

	plaintext, err := cryptoutils.RandomBytes(bits / 8)
	if err != nil {
		return DatakeyResult{}, err
	}
	res, err := s.encrypt(ctx, meta, plaintext, encContext)
	if err != nil {
		cryptoutils.Wipe(plaintext)
		return DatakeyResult{}, err
	}

	out := DatakeyResult{Ciphertext: res.Ciphertext, KeyVersion: res.KeyVersion}
	if wrappedOnly {
		cryptoutils.Wipe(plaintext)
	} else {
		out.Plaintext = plaintext
	}
	return out, nil
}
