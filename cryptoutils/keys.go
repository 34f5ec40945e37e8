package cryptoutils

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"errors"
	"fmt"
	"hash"
	"math/big"
	"strings"

	"github.com/nubster/egide/interfaces"
)

// KeyType is the closed set of key algorithms the engine supports.
type KeyType string

const (
	KeyTypeAES256    KeyType = "aes256"
	KeyTypeRSA2048   KeyType = "rsa-2048"
	KeyTypeRSA4096   KeyType = "rsa-4096"
	KeyTypeECDSAP256 KeyType = "ecdsa-p256"
	KeyTypeECDSAP384 KeyType = "ecdsa-p384"
	KeyTypeEd25519   KeyType = "ed25519"
)

var keyTypeAliases = map[string]KeyType{
	"aes256":       KeyTypeAES256,
	"aes-256":      KeyTypeAES256,
	"aes256-gcm":   KeyTypeAES256,
	"aes256-gcm96": KeyTypeAES256,
	"rsa-2048":     KeyTypeRSA2048,
	"rsa2048":      KeyTypeRSA2048,
	"rsa-4096":     KeyTypeRSA4096,
	"rsa4096":      KeyTypeRSA4096,
	"ecdsa-p256":   KeyTypeECDSAP256,
	"ecdsa-p384":   KeyTypeECDSAP384,
	"ed25519":      KeyTypeEd25519,
}

// ParseKeyType accepts the canonical names and a few common aliases.
func ParseKeyType(s string) (KeyType, error) {
	kt, ok := keyTypeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unsupported key type %q", interfaces.ErrInvalidArgument, s)
	}
	return kt, nil
}

// CanEncrypt reports whether keys of this type support Encrypt/Decrypt.
func (t KeyType) CanEncrypt() bool {
	switch t {
	case KeyTypeAES256, KeyTypeRSA2048, KeyTypeRSA4096:
		return true
	}
	return false
}

// CanSign reports whether keys of this type support Sign/Verify.
func (t KeyType) CanSign() bool {
	switch t {
	case KeyTypeRSA2048, KeyTypeRSA4096, KeyTypeECDSAP256, KeyTypeECDSAP384, KeyTypeEd25519:
		return true
	}
	return false
}

// Symmetric reports whether the type is a secret-key algorithm.
func (t KeyType) Symmetric() bool {
	return t == KeyTypeAES256
}

// SignatureAlgorithm selects the hash used for signing. The empty value picks
// the key type's default.
type SignatureAlgorithm string

const (
	SignatureDefault SignatureAlgorithm = ""
	SignatureSHA256  SignatureAlgorithm = "sha2-256"
	SignatureSHA384  SignatureAlgorithm = "sha2-384"
	SignatureSHA512  SignatureAlgorithm = "sha2-512"
	SignatureEd25519 SignatureAlgorithm = "ed25519"
)

// KeyMaterial is one key version's secret material.
type KeyMaterial interface {
	Type() KeyType
	// Marshal returns the serialized private material. The caller owns the
	// returned buffer and must wipe it.
	Marshal() ([]byte, error)
	// PublicKey returns the PKIX DER public key, or nil for symmetric keys.
	PublicKey() ([]byte, error)
	// Wipe zeroes the material. The key is unusable afterwards.
	Wipe()
}

// Encrypter is implemented by key types that support encryption.
type Encrypter interface {
	KeyMaterial
	Encrypt(plaintext, aad []byte) ([]byte, error)
	Decrypt(ciphertext, aad []byte) ([]byte, error)
}

// Signer is implemented by key types that support signatures.
type Signer interface {
	KeyMaterial
	Sign(data []byte, alg SignatureAlgorithm) ([]byte, error)
	// Verify returns false for a well-formed request whose signature does not match.
	Verify(data, signature []byte, alg SignatureAlgorithm) (bool, error)
}

// AsEncrypter returns the encryption capability of k.
func AsEncrypter(k KeyMaterial) (Encrypter, error) {
	e, ok := k.(Encrypter)
	if !ok {
		return nil, fmt.Errorf("%w: %s keys cannot encrypt", interfaces.ErrOperationNotAllowed, k.Type())
	}
	return e, nil
}

// AsSigner returns the signing capability of k.
func AsSigner(k KeyMaterial) (Signer, error) {
	s, ok := k.(Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %s keys cannot sign", interfaces.ErrOperationNotAllowed, k.Type())
	}
	return s, nil
}

// GenerateKey creates fresh material of the given type.
func GenerateKey(t KeyType) (KeyMaterial, error) {
	switch t {
	case KeyTypeAES256:
		key, err := RandomBytes(AES256KeySize)
		if err != nil {
			return nil, err
		}
		return &AESKey{key: key}, nil
	case KeyTypeRSA2048, KeyTypeRSA4096:
		bits := 2048
		if t == KeyTypeRSA4096 {
			bits = 4096
		}
		priv, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", interfaces.ErrCryptoBackend, err)
		}
		return &RSAKey{keyType: t, priv: priv}, nil
	case KeyTypeECDSAP256, KeyTypeECDSAP384:
		curve := elliptic.P256()
		if t == KeyTypeECDSAP384 {
			curve = elliptic.P384()
		}
		priv, err := ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", interfaces.ErrCryptoBackend, err)
		}
		return &ECDSAKey{keyType: t, priv: priv}, nil
	case KeyTypeEd25519:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", interfaces.ErrCryptoBackend, err)
		}
		return &Ed25519Key{priv: priv}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported key type %q", interfaces.ErrInvalidArgument, t)
	}
}

// ParseKeyMaterial restores material produced by KeyMaterial.Marshal. The
// input buffer is not retained for asymmetric keys.
func ParseKeyMaterial(t KeyType, raw []byte) (KeyMaterial, error) {
	if t == KeyTypeAES256 {
		if len(raw) != AES256KeySize {
			return nil, fmt.Errorf("%w: invalid AES key size %d", interfaces.ErrCryptoBackend, len(raw))
		}
		return &AESKey{key: append([]byte(nil), raw...)}, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrCryptoBackend, err)
	}

	switch priv := parsed.(type) {
	case *rsa.PrivateKey:
		if (t == KeyTypeRSA2048 && priv.N.BitLen() == 2048) || (t == KeyTypeRSA4096 && priv.N.BitLen() == 4096) {
			return &RSAKey{keyType: t, priv: priv}, nil
		}
	case *ecdsa.PrivateKey:
		if (t == KeyTypeECDSAP256 && priv.Curve == elliptic.P256()) || (t == KeyTypeECDSAP384 && priv.Curve == elliptic.P384()) {
			return &ECDSAKey{keyType: t, priv: priv}, nil
		}
	case ed25519.PrivateKey:
		if t == KeyTypeEd25519 {
			return &Ed25519Key{priv: priv}, nil
		}
	}
	return nil, fmt.Errorf("%w: material does not match key type %s", interfaces.ErrCryptoBackend, t)
}

// AESKey is AES-256-GCM material.
type AESKey struct {
	key []byte
}

// Type returns KeyTypeAES256.
func (k *AESKey) Type() KeyType { return KeyTypeAES256 }

// Marshal returns a copy of the raw 32-byte key.
func (k *AESKey) Marshal() ([]byte, error) {
	return append([]byte(nil), k.key...), nil
}

// PublicKey returns nil; symmetric keys have no public part.
func (k *AESKey) PublicKey() ([]byte, error) { return nil, nil }

// Wipe zeroes the key bytes.
func (k *AESKey) Wipe() { Wipe(k.key) }

// Encrypt returns nonce||ciphertext||tag under a random nonce.
func (k *AESKey) Encrypt(plaintext, aad []byte) ([]byte, error) {
	sealed, err := SealAEAD(k.key, plaintext, aad)
	if err != nil {
		return nil, err
	}
	return sealed.Bytes(), nil
}

// EncryptConvergent returns nonce||ciphertext||tag under a derived nonce.
func (k *AESKey) EncryptConvergent(plaintext, context []byte) ([]byte, error) {
	sealed, err := SealConvergent(k.key, plaintext, context)
	if err != nil {
		return nil, err
	}
	return sealed.Bytes(), nil
}

// Decrypt opens nonce||ciphertext||tag. Every failure is ErrDecryptionFailed.
func (k *AESKey) Decrypt(ciphertext, aad []byte) ([]byte, error) {
	sealed, err := SplitSealed(ciphertext)
	if err != nil {
		return nil, interfaces.ErrDecryptionFailed
	}
	return OpenAEAD(k.key, sealed, aad)
}

// RSAKey is RSA material used with OAEP-SHA256 and PSS.
type RSAKey struct {
	keyType KeyType
	priv    *rsa.PrivateKey
}

// Type returns KeyTypeRSA2048 or KeyTypeRSA4096.
func (k *RSAKey) Type() KeyType { return k.keyType }

// Marshal encodes the private key as PKCS#8 DER.
func (k *RSAKey) Marshal() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrCryptoBackend, err)
	}
	return der, nil
}

// PublicKey returns the PKIX DER public key.
func (k *RSAKey) PublicKey() ([]byte, error) {
	return marshalPublic(&k.priv.PublicKey)
}

// Size returns the modulus size in bytes, which is also the ciphertext size.
func (k *RSAKey) Size() int { return k.priv.Size() }

// Wipe zeroes the private exponent, the primes and the CRT values.
func (k *RSAKey) Wipe() {
	wipeBig(k.priv.D)
	for _, p := range k.priv.Primes {
		wipeBig(p)
	}
	wipeBig(k.priv.Precomputed.Dp)
	wipeBig(k.priv.Precomputed.Dq)
	wipeBig(k.priv.Precomputed.Qinv)
}

// Encrypt uses RSA-OAEP with SHA-256 and aad as the OAEP label.
func (k *RSAKey) Encrypt(plaintext, aad []byte) ([]byte, error) {
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &k.priv.PublicKey, plaintext, aad)
	if err != nil {
		if errors.Is(err, rsa.ErrMessageTooLong) {
			return nil, fmt.Errorf("%w: plaintext too long for %s", interfaces.ErrInvalidArgument, k.keyType)
		}
		return nil, fmt.Errorf("%w: %w", interfaces.ErrCryptoBackend, err)
	}
	return out, nil
}

// Decrypt reverses Encrypt. Every failure is ErrDecryptionFailed.
func (k *RSAKey) Decrypt(ciphertext, aad []byte) ([]byte, error) {
	out, err := rsa.DecryptOAEP(sha256.New(), nil, k.priv, ciphertext, aad)
	if err != nil {
		return nil, interfaces.ErrDecryptionFailed
	}
	return out, nil
}

// Sign produces an RSA-PSS signature, SHA-256 by default.
func (k *RSAKey) Sign(data []byte, alg SignatureAlgorithm) ([]byte, error) {
	h, digest, err := hashFor(alg, SignatureSHA256, data)
	if err != nil {
		return nil, err
	}
	sig, err := rsa.SignPSS(rand.Reader, k.priv, h, digest, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrCryptoBackend, err)
	}
	return sig, nil
}

// Verify checks an RSA-PSS signature with any salt length.
func (k *RSAKey) Verify(data, signature []byte, alg SignatureAlgorithm) (bool, error) {
	h, digest, err := hashFor(alg, SignatureSHA256, data)
	if err != nil {
		return false, err
	}
	err = rsa.VerifyPSS(&k.priv.PublicKey, h, digest, signature, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto})
	return err == nil, nil
}

// ECDSAKey is ECDSA material on P-256 or P-384. Signatures are ASN.1 DER.
type ECDSAKey struct {
	keyType KeyType
	priv    *ecdsa.PrivateKey
}

// Type returns KeyTypeECDSAP256 or KeyTypeECDSAP384.
func (k *ECDSAKey) Type() KeyType { return k.keyType }

// Marshal encodes the private key as PKCS#8 DER.
func (k *ECDSAKey) Marshal() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrCryptoBackend, err)
	}
	return der, nil
}

// PublicKey returns the PKIX DER public key.
func (k *ECDSAKey) PublicKey() ([]byte, error) {
	return marshalPublic(&k.priv.PublicKey)
}

// Wipe zeroes the private scalar.
func (k *ECDSAKey) Wipe() { wipeBig(k.priv.D) }

func (k *ECDSAKey) defaultAlg() SignatureAlgorithm {
	if k.keyType == KeyTypeECDSAP384 {
		return SignatureSHA384
	}
	return SignatureSHA256
}

// Sign hashes data with the curve's default hash unless alg overrides it.
func (k *ECDSAKey) Sign(data []byte, alg SignatureAlgorithm) ([]byte, error) {
	_, digest, err := hashFor(alg, k.defaultAlg(), data)
	if err != nil {
		return nil, err
	}
	sig, err := ecdsa.SignASN1(rand.Reader, k.priv, digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrCryptoBackend, err)
	}
	return sig, nil
}

// Verify checks an ASN.1 DER signature made by Sign.
func (k *ECDSAKey) Verify(data, signature []byte, alg SignatureAlgorithm) (bool, error) {
	_, digest, err := hashFor(alg, k.defaultAlg(), data)
	if err != nil {
		return false, err
	}
	return ecdsa.VerifyASN1(&k.priv.PublicKey, digest, signature), nil
}

// Ed25519Key is Ed25519 material. It signs the message directly.
type Ed25519Key struct {
	priv ed25519.PrivateKey
}

// Type returns KeyTypeEd25519.
func (k *Ed25519Key) Type() KeyType { return KeyTypeEd25519 }

// Marshal encodes the private key as PKCS#8 DER.
func (k *Ed25519Key) Marshal() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrCryptoBackend, err)
	}
	return der, nil
}

// PublicKey returns the PKIX DER public key.
func (k *Ed25519Key) PublicKey() ([]byte, error) {
	return marshalPublic(k.priv.Public())
}

// Wipe zeroes the private key.
func (k *Ed25519Key) Wipe() { Wipe(k.priv) }

func checkEd25519Alg(alg SignatureAlgorithm) error {
	if alg != SignatureDefault && alg != SignatureEd25519 {
		return fmt.Errorf("%w: ed25519 does not support %q", interfaces.ErrInvalidArgument, alg)
	}
	return nil
}

// Sign signs data. Only the default and ed25519 algorithms are accepted.
func (k *Ed25519Key) Sign(data []byte, alg SignatureAlgorithm) ([]byte, error) {
	if err := checkEd25519Alg(alg); err != nil {
		return nil, err
	}
	return ed25519.Sign(k.priv, data), nil
}

// Verify reports false for signatures of the wrong length.
func (k *Ed25519Key) Verify(data, signature []byte, alg SignatureAlgorithm) (bool, error) {
	if err := checkEd25519Alg(alg); err != nil {
		return false, err
	}
	if len(signature) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(k.priv.Public().(ed25519.PublicKey), data, signature), nil
}

func hashFor(alg, def SignatureAlgorithm, data []byte) (crypto.Hash, []byte, error) {
	if alg == SignatureDefault {
		alg = def
	}
	var (
		h  crypto.Hash
		fn func() hash.Hash
	)
	switch alg {
	case SignatureSHA256:
		h, fn = crypto.SHA256, sha256.New
	case SignatureSHA384:
		h, fn = crypto.SHA384, sha512.New384
	case SignatureSHA512:
		h, fn = crypto.SHA512, sha512.New
	default:
		return 0, nil, fmt.Errorf("%w: unsupported signature algorithm %q", interfaces.ErrInvalidArgument, alg)
	}
	d := fn()
	d.Write(data)
	return h, d.Sum(nil), nil
}

func marshalPublic(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrCryptoBackend, err)
	}
	return der, nil
}

func wipeBig(n *big.Int) {
	if n == nil {
		return
	}
	words := n.Bits()
	for i := range words {
		words[i] = 0
	}
	n.SetInt64(0)
}
