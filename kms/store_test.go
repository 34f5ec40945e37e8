package kms

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/nubster/egide/ciphertext"
	"github.com/nubster/egide/cryptoutils"
	"github.com/nubster/egide/interfaces"
	"github.com/nubster/egide/seal"
	"github.com/nubster/egide/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	store     *Store
	seal      *seal.Manager
	backend   *storage.MemoryBackend
	share     []byte
	rootToken string
}

// newTestEnv returns a store over an unsealed 1-of-1 seal manager.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	backend := storage.NewMemoryBackend(testLogger())
	m, err := seal.NewManager(ctx, backend, testLogger())
	require.NoError(t, err)
	res, err := m.Initialize(ctx, 1, 1)
	require.NoError(t, err)
	_, err = m.Unseal(ctx, res.Shares[0])
	require.NoError(t, err)
	require.False(t, m.Sealed())

	return &testEnv{
		store:     NewStore(m, backend, testLogger()),
		seal:      m,
		backend:   backend,
		share:     res.Shares[0],
		rootToken: res.RootToken,
	}
}

func TestStore_ConcreteScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestEnv(t).store

	info, err := s.CreateKey(ctx, "k1", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, info.CurrentVersion)

	res1, err := s.Encrypt(ctx, "k1", []byte("hello"), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res1.Ciphertext, "egide:1:k1:1:"), res1.Ciphertext)

	info, err = s.RotateKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 2, info.CurrentVersion)

	res2, err := s.Encrypt(ctx, "k1", []byte("hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res2.KeyVersion)
	assert.True(t, strings.HasPrefix(res2.Ciphertext, "egide:1:k1:2:"))
	assert.NotEqual(t, res1.Ciphertext, res2.Ciphertext)

	pt, err := s.Decrypt(ctx, "k1", res1.Ciphertext, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(pt))

	res3, err := s.Rewrap(ctx, "k1", res1.Ciphertext, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res3.KeyVersion)
	assert.True(t, strings.HasPrefix(res3.Ciphertext, "egide:1:k1:2:"))

	pt, err = s.Decrypt(ctx, "k1", res3.Ciphertext, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(pt))
}

func TestStore_RoundTripAllKeyTypes(t *testing.T) {
	ctx := context.Background()
	s := newTestEnv(t).store

	keyTypes := []cryptoutils.KeyType{
		cryptoutils.KeyTypeAES256,
		cryptoutils.KeyTypeRSA2048,
		cryptoutils.KeyTypeRSA4096,
		cryptoutils.KeyTypeECDSAP256,
		cryptoutils.KeyTypeECDSAP384,
		cryptoutils.KeyTypeEd25519,
	}

	for _, kt := range keyTypes {
		t.Run(string(kt), func(t *testing.T) {
			name := "key-" + string(kt)
			info, err := s.CreateKey(ctx, name, kt, CreateKeyOptions{})
			require.NoError(t, err)
			assert.Equal(t, kt.CanEncrypt(), info.SupportsEncryption)
			assert.Equal(t, kt.CanSign(), info.SupportsSigning)
			if !kt.Symmetric() {
				require.Len(t, info.Versions, 1)
				assert.NotEmpty(t, info.Versions[0].PublicKey)
			}

			if kt.CanEncrypt() {
				res, err := s.Encrypt(ctx, name, []byte("secret data"), []byte("ctx"))
				require.NoError(t, err)
				pt, err := s.Decrypt(ctx, name, res.Ciphertext, []byte("ctx"))
				require.NoError(t, err)
				assert.Equal(t, "secret data", string(pt))

				_, err = s.Decrypt(ctx, name, res.Ciphertext, []byte("other"))
				assert.Equal(t, interfaces.ErrDecryptionFailed, err)
			} else {
				_, err := s.Encrypt(ctx, name, []byte("secret data"), nil)
				assert.ErrorIs(t, err, interfaces.ErrOperationNotAllowed)
			}

			if kt.CanSign() {
				sig, err := s.Sign(ctx, name, []byte("message"), cryptoutils.SignatureDefault)
				require.NoError(t, err)
				assert.True(t, strings.HasPrefix(sig.Signature, "egide:1:"+name+":1:"))

				ok, err := s.Verify(ctx, name, []byte("message"), sig.Signature, cryptoutils.SignatureDefault)
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = s.Verify(ctx, name, []byte("tampered"), sig.Signature, cryptoutils.SignatureDefault)
				require.NoError(t, err)
				assert.False(t, ok)
			} else {
				_, err := s.Sign(ctx, name, []byte("message"), cryptoutils.SignatureDefault)
				assert.ErrorIs(t, err, interfaces.ErrOperationNotAllowed)
			}
		})
	}
}

func TestStore_DurabilityAcrossRotations(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	s := env.store

	_, err := s.CreateKey(ctx, "rotating", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	require.NoError(t, err)

	var cts []string
	for i := 0; i <= 5; i++ {
		res, err := s.Encrypt(ctx, "rotating", []byte(fmt.Sprintf("payload-%d", i)), nil)
		require.NoError(t, err)
		assert.Equal(t, i+1, res.KeyVersion)
		cts = append(cts, res.Ciphertext)
		if i < 5 {
			_, err = s.RotateKey(ctx, "rotating")
			require.NoError(t, err)
		}
	}

	// A fresh store over the same storage reads everything back.
	reopened := NewStore(env.seal, env.backend, testLogger())
	for i, ct := range cts {
		pt, err := reopened.Decrypt(ctx, "rotating", ct, nil)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("payload-%d", i), string(pt))
	}

	info, err := reopened.GetKeyInfo(ctx, "rotating")
	require.NoError(t, err)
	assert.Equal(t, 6, info.CurrentVersion)
	require.Len(t, info.Versions, 6)
	for i, v := range info.Versions {
		assert.Equal(t, i+1, v.Version)
	}
}

func TestStore_DecryptChecks(t *testing.T) {
	ctx := context.Background()
	s := newTestEnv(t).store

	_, err := s.CreateKey(ctx, "a", cryptoutils.KeyTypeAES256, CreateKeyOptions{DeletionAllowed: true})
	require.NoError(t, err)
	_, err = s.CreateKey(ctx, "b", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	require.NoError(t, err)

	res, err := s.Encrypt(ctx, "a", []byte("hello"), nil)
	require.NoError(t, err)
	parsed, err := ciphertext.Parse(res.Ciphertext)
	require.NoError(t, err)

	// Ciphertext naming another key.
	_, err = s.Decrypt(ctx, "b", res.Ciphertext, nil)
	assert.Equal(t, interfaces.ErrInvalidCiphertext, err)

	// Malformed strings fail before any crypto.
	for _, bad := range []string{"", "egide:1:a:1", "egide:2:a:1:AAAA", "egide:1:a:01:" + strings.Repeat("A", 40), "egide:1:a:1:AAAA"} {
		_, err = s.Decrypt(ctx, "a", bad, nil)
		assert.ErrorIs(t, err, interfaces.ErrInvalidCiphertext, bad)
	}

	// Version above current.
	future, err := ciphertext.Encode("a", 7, parsed.Body)
	require.NoError(t, err)
	_, err = s.Decrypt(ctx, "a", future, nil)
	assert.Equal(t, interfaces.ErrDecryptionFailed, err)

	// Version below the minimum.
	_, err = s.RotateKey(ctx, "a")
	require.NoError(t, err)
	two := 2
	_, err = s.UpdateKeyConfig(ctx, "a", KeyConfigUpdate{MinDecryptionVersion: &two})
	require.NoError(t, err)
	_, err = s.Decrypt(ctx, "a", res.Ciphertext, nil)
	assert.ErrorIs(t, err, interfaces.ErrVersionNotAllowed)

	// Destroyed version.
	one := 1
	_, err = s.UpdateKeyConfig(ctx, "a", KeyConfigUpdate{MinDecryptionVersion: &one})
	require.NoError(t, err)
	require.NoError(t, s.DestroyVersion(ctx, "a", 1))
	_, err = s.Decrypt(ctx, "a", res.Ciphertext, nil)
	assert.Equal(t, interfaces.ErrDecryptionFailed, err)

	err = s.DestroyVersion(ctx, "a", 2)
	assert.ErrorIs(t, err, interfaces.ErrOperationNotAllowed, "The current version cannot be destroyed")
}

func TestStore_TamperDetection(t *testing.T) {
	ctx := context.Background()
	s := newTestEnv(t).store

	_, err := s.CreateKey(ctx, "tamper", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	require.NoError(t, err)
	res, err := s.Encrypt(ctx, "tamper", []byte("hello"), nil)
	require.NoError(t, err)
	parsed, err := ciphertext.Parse(res.Ciphertext)
	require.NoError(t, err)

	for i := range parsed.Body {
		for bit := 0; bit < 8; bit++ {
			body := append([]byte(nil), parsed.Body...)
			body[i] ^= 1 << bit
			tampered, err := ciphertext.Encode("tamper", 1, body)
			require.NoError(t, err)

			pt, err := s.Decrypt(ctx, "tamper", tampered, nil)
			require.Equal(t, interfaces.ErrDecryptionFailed, err, "byte %d bit %d", i, bit)
			require.Nil(t, pt)
		}
	}
}

func TestStore_Convergent(t *testing.T) {
	ctx := context.Background()
	s := newTestEnv(t).store

	_, err := s.CreateKey(ctx, "conv-rsa", cryptoutils.KeyTypeRSA2048, CreateKeyOptions{Convergent: true})
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = s.CreateKey(ctx, "conv", cryptoutils.KeyTypeAES256, CreateKeyOptions{Convergent: true})
	require.NoError(t, err)

	_, err = s.Encrypt(ctx, "conv", []byte("hello"), nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument, "Convergent keys require a context")

	a, err := s.Encrypt(ctx, "conv", []byte("hello"), []byte("tenant-a"))
	require.NoError(t, err)
	again, err := s.Encrypt(ctx, "conv", []byte("hello"), []byte("tenant-a"))
	require.NoError(t, err)
	b, err := s.Encrypt(ctx, "conv", []byte("hello"), []byte("tenant-b"))
	require.NoError(t, err)

	assert.Equal(t, a.Ciphertext, again.Ciphertext)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)

	pt, err := s.Decrypt(ctx, "conv", b.Ciphertext, []byte("tenant-b"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(pt))
}

func TestStore_HardDeleteIsIrreversible(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	s := env.store

	_, err := s.CreateKey(ctx, "locked", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	require.NoError(t, err)
	err = s.DeleteKey(ctx, "locked", true)
	assert.ErrorIs(t, err, interfaces.ErrDeletionDisabled)

	_, err = s.CreateKey(ctx, "doomed", cryptoutils.KeyTypeAES256, CreateKeyOptions{DeletionAllowed: true})
	require.NoError(t, err)
	res, err := s.Encrypt(ctx, "doomed", []byte("hello"), nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteKey(ctx, "doomed", true))

	keys, err := env.backend.List(ctx, "kms/keys/doomed/")
	require.NoError(t, err)
	assert.Empty(t, keys, "Every record of the key is removed")

	_, err = s.Decrypt(ctx, "doomed", res.Ciphertext, nil)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	// Recreating the name yields unrelated material.
	_, err = s.CreateKey(ctx, "doomed", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	require.NoError(t, err)
	_, err = s.Decrypt(ctx, "doomed", res.Ciphertext, nil)
	assert.Equal(t, interfaces.ErrDecryptionFailed, err)
}

func TestStore_SoftDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestEnv(t).store

	_, err := s.CreateKey(ctx, "soft", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	require.NoError(t, err)
	res, err := s.Encrypt(ctx, "soft", []byte("hello"), nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteKey(ctx, "soft", false))

	_, err = s.Encrypt(ctx, "soft", []byte("hello"), nil)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = s.Decrypt(ctx, "soft", res.Ciphertext, nil)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = s.RotateKey(ctx, "soft")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	info, err := s.GetKeyInfo(ctx, "soft")
	require.NoError(t, err)
	assert.NotNil(t, info.DeletedAt)

	keys, err := s.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].DeletedAt)

	_, err = s.CreateKey(ctx, "soft", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	assert.ErrorIs(t, err, interfaces.ErrAlreadyExists)

	info, err = s.UndeleteKey(ctx, "soft")
	require.NoError(t, err)
	assert.Nil(t, info.DeletedAt)

	pt, err := s.Decrypt(ctx, "soft", res.Ciphertext, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(pt))
}

func TestStore_DisabledKey(t *testing.T) {
	ctx := context.Background()
	s := newTestEnv(t).store

	_, err := s.CreateKey(ctx, "enc", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	require.NoError(t, err)
	_, err = s.CreateKey(ctx, "sig", cryptoutils.KeyTypeEd25519, CreateKeyOptions{})
	require.NoError(t, err)

	ct, err := s.Encrypt(ctx, "enc", []byte("hello"), nil)
	require.NoError(t, err)
	sig, err := s.Sign(ctx, "sig", []byte("msg"), cryptoutils.SignatureDefault)
	require.NoError(t, err)

	disabled := true
	for _, name := range []string{"enc", "sig"} {
		info, err := s.UpdateKeyConfig(ctx, name, KeyConfigUpdate{Disabled: &disabled})
		require.NoError(t, err)
		assert.True(t, info.Disabled)
	}

	_, err = s.Encrypt(ctx, "enc", []byte("hello"), nil)
	assert.ErrorIs(t, err, interfaces.ErrKeyDisabled)
	_, err = s.Rewrap(ctx, "enc", ct.Ciphertext, nil)
	assert.ErrorIs(t, err, interfaces.ErrKeyDisabled)
	_, err = s.GenerateDatakey(ctx, "enc", 256, false, nil)
	assert.ErrorIs(t, err, interfaces.ErrKeyDisabled)
	_, err = s.Sign(ctx, "sig", []byte("msg"), cryptoutils.SignatureDefault)
	assert.ErrorIs(t, err, interfaces.ErrKeyDisabled)

	pt, err := s.Decrypt(ctx, "enc", ct.Ciphertext, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(pt))
	ok, err := s.Verify(ctx, "sig", []byte("msg"), sig.Signature, cryptoutils.SignatureDefault)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_VerifyBareSignatureTriesVersions(t *testing.T) {
	ctx := context.Background()
	s := newTestEnv(t).store

	_, err := s.CreateKey(ctx, "signer", cryptoutils.KeyTypeECDSAP256, CreateKeyOptions{})
	require.NoError(t, err)
	sig, err := s.Sign(ctx, "signer", []byte("msg"), cryptoutils.SignatureDefault)
	require.NoError(t, err)

	_, err = s.RotateKey(ctx, "signer")
	require.NoError(t, err)
	_, err = s.RotateKey(ctx, "signer")
	require.NoError(t, err)

	parsed, err := ciphertext.Parse(sig.Signature)
	require.NoError(t, err)
	bare := strings.TrimPrefix(sig.Signature, "egide:1:signer:1:")

	ok, err := s.Verify(ctx, "signer", []byte("msg"), bare, cryptoutils.SignatureDefault)
	require.NoError(t, err)
	assert.True(t, ok, "A bare signature matches an older version")

	// The embedded version is authoritative for wire-form signatures.
	wrongVersion, err := ciphertext.Encode("signer", 3, parsed.Body)
	require.NoError(t, err)
	ok, err = s.Verify(ctx, "signer", []byte("msg"), wrongVersion, cryptoutils.SignatureDefault)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Verify(ctx, "signer", []byte("msg"), "%%%", cryptoutils.SignatureDefault)
	assert.ErrorIs(t, err, interfaces.ErrInvalidCiphertext)
}

func TestStore_ConcurrentRotations(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	s := env.store

	_, err := s.CreateKey(ctx, "busy", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	require.NoError(t, err)

	const rotations = 16
	var wg sync.WaitGroup
	errs := make(chan error, rotations)
	for i := 0; i < rotations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RotateKey(ctx, "busy")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	info, err := s.GetKeyInfo(ctx, "busy")
	require.NoError(t, err)
	assert.Equal(t, rotations+1, info.CurrentVersion)
	require.Len(t, info.Versions, rotations+1)
	for i, v := range info.Versions {
		assert.Equal(t, i+1, v.Version, "Version numbers are assigned once")
	}
}

func TestStore_Export(t *testing.T) {
	ctx := context.Background()
	s := newTestEnv(t).store

	_, err := s.CreateKey(ctx, "private", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	require.NoError(t, err)
	_, err = s.Export(ctx, "private", 0)
	assert.ErrorIs(t, err, interfaces.ErrExportDisabled)

	_, err = s.CreateKey(ctx, "open", cryptoutils.KeyTypeAES256, CreateKeyOptions{Exportable: true})
	require.NoError(t, err)
	_, err = s.RotateKey(ctx, "open")
	require.NoError(t, err)

	current, err := s.Export(ctx, "open", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)
	assert.Len(t, current.Material, cryptoutils.AES256KeySize)

	first, err := s.Export(ctx, "open", 1)
	require.NoError(t, err)
	assert.NotEqual(t, current.Material, first.Material)

	_, err = s.Export(ctx, "open", 3)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	no := false
	_, err = s.UpdateKeyConfig(ctx, "open", KeyConfigUpdate{Exportable: &no})
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument, "Exportability cannot be revoked")
}

func TestStore_GenerateDatakey(t *testing.T) {
	ctx := context.Background()
	s := newTestEnv(t).store

	_, err := s.CreateKey(ctx, "dk", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	require.NoError(t, err)

	_, err = s.GenerateDatakey(ctx, "dk", 100, false, nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	for _, bits := range []int{128, 256, 512} {
		res, err := s.GenerateDatakey(ctx, "dk", bits, false, nil)
		require.NoError(t, err)
		assert.Len(t, res.Plaintext, bits/8)

		pt, err := s.Decrypt(ctx, "dk", res.Ciphertext, nil)
		require.NoError(t, err)
		assert.Equal(t, res.Plaintext, pt)
	}

	wrapped, err := s.GenerateDatakey(ctx, "dk", 256, true, nil)
	require.NoError(t, err)
	assert.Nil(t, wrapped.Plaintext)
	assert.NotEmpty(t, wrapped.Ciphertext)
}

func TestStore_UpdateKeyConfigBounds(t *testing.T) {
	ctx := context.Background()
	s := newTestEnv(t).store

	_, err := s.CreateKey(ctx, "cfg", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	require.NoError(t, err)

	for _, v := range []int{0, 2} {
		bad := v
		_, err = s.UpdateKeyConfig(ctx, "cfg", KeyConfigUpdate{MinDecryptionVersion: &bad})
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
		_, err = s.UpdateKeyConfig(ctx, "cfg", KeyConfigUpdate{MinEncryptionVersion: &bad})
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
	}

	allow := true
	info, err := s.UpdateKeyConfig(ctx, "cfg", KeyConfigUpdate{DeletionAllowed: &allow})
	require.NoError(t, err)
	assert.True(t, info.DeletionAllowed)
}

func TestStore_KeyNames(t *testing.T) {
	ctx := context.Background()
	s := newTestEnv(t).store

	for _, name := range []string{"", "a:b", "a/b", ".", "..", strings.Repeat("x", 129), "spaced name"} {
		_, err := s.CreateKey(ctx, name, cryptoutils.KeyTypeAES256, CreateKeyOptions{})
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument, name)
	}

	_, err := s.CreateKey(ctx, "ok_name-1.v2", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	assert.NoError(t, err)
	_, err = s.CreateKey(ctx, "ok_name-1.v2", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	assert.ErrorIs(t, err, interfaces.ErrAlreadyExists)

	_, err = s.CreateKey(ctx, "weird", cryptoutils.KeyType("des"), CreateKeyOptions{})
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}

func TestStore_Sealed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	s := env.store

	_, err := s.CreateKey(ctx, "k", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	require.NoError(t, err)
	res, err := s.Encrypt(ctx, "k", []byte("hello"), nil)
	require.NoError(t, err)

	require.NoError(t, env.seal.Seal(ctx, env.rootToken))

	_, err = s.Encrypt(ctx, "k", []byte("hello"), nil)
	assert.ErrorIs(t, err, interfaces.ErrSealed)
	_, err = s.Decrypt(ctx, "k", res.Ciphertext, nil)
	assert.ErrorIs(t, err, interfaces.ErrSealed)
	_, err = s.RotateKey(ctx, "k")
	assert.ErrorIs(t, err, interfaces.ErrSealed)

	// Nothing about keys or ciphertexts is revealed while sealed.
	_, err = s.Decrypt(ctx, "k", "garbage", nil)
	assert.ErrorIs(t, err, interfaces.ErrSealed)
	assert.Equal(t, "sealed", interfaces.ErrorKind(err))
	_, err = s.Decrypt(ctx, "k", "egide:1:other:1:AAAA", nil)
	assert.ErrorIs(t, err, interfaces.ErrSealed)
	_, err = s.Encrypt(ctx, "missing", []byte("hello"), nil)
	assert.ErrorIs(t, err, interfaces.ErrSealed)
	_, err = s.Sign(ctx, "missing", []byte("hello"), cryptoutils.SignatureDefault)
	assert.ErrorIs(t, err, interfaces.ErrSealed)
	_, err = s.Verify(ctx, "k", []byte("hello"), "not-base64!", cryptoutils.SignatureDefault)
	assert.ErrorIs(t, err, interfaces.ErrSealed)
	_, err = s.Rewrap(ctx, "k", "garbage", nil)
	assert.ErrorIs(t, err, interfaces.ErrSealed)
	_, err = s.GenerateDatakey(ctx, "missing", 256, false, nil)
	assert.ErrorIs(t, err, interfaces.ErrSealed)
	_, err = s.Export(ctx, "missing", 0)
	assert.ErrorIs(t, err, interfaces.ErrSealed)
	_, err = s.CreateKey(ctx, "bad name!", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	assert.ErrorIs(t, err, interfaces.ErrSealed)

	// Metadata stays readable while sealed.
	info, err := s.GetKeyInfo(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, info.CurrentVersion)

	_, err = env.seal.Unseal(ctx, env.share)
	require.NoError(t, err)
	pt, err := s.Decrypt(ctx, "k", res.Ciphertext, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(pt))
}

func TestStore_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	acme, err := storage.NewTenantBackend(env.backend, "acme")
	require.NoError(t, err)
	globex, err := storage.NewTenantBackend(env.backend, "globex")
	require.NoError(t, err)

	a := NewStore(env.seal, acme, testLogger())
	g := NewStore(env.seal, globex, testLogger())

	_, err = a.CreateKey(ctx, "shared-name", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	require.NoError(t, err)
	_, err = g.CreateKey(ctx, "shared-name", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	require.NoError(t, err)

	res, err := a.Encrypt(ctx, "shared-name", []byte("hello"), nil)
	require.NoError(t, err)
	_, err = g.Decrypt(ctx, "shared-name", res.Ciphertext, nil)
	assert.Equal(t, interfaces.ErrDecryptionFailed, err)

	keys, err := g.ListKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestStore_SwappedVersionRecordFailsToUnwrap(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	s := env.store

	_, err := s.CreateKey(ctx, "victim", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	require.NoError(t, err)
	_, err = s.CreateKey(ctx, "attacker", cryptoutils.KeyTypeAES256, CreateKeyOptions{})
	require.NoError(t, err)

	raw, err := env.backend.Get(ctx, versionPath("attacker", 1))
	require.NoError(t, err)
	require.NoError(t, env.backend.Put(ctx, versionPath("victim", 1), raw))

	_, err = s.Encrypt(ctx, "victim", []byte("hello"), nil)
	assert.ErrorIs(t, err, interfaces.ErrCryptoBackend)
}
