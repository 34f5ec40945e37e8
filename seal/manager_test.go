package seal

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nubster/egide/interfaces"
	"github.com/nubster/egide/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newInitialized(t *testing.T, shares, threshold int) (*storage.MemoryBackend, *Manager, *InitResult) {
	t.Helper()
	backend := storage.NewMemoryBackend(testLogger())
	m, err := NewManager(context.Background(), backend, testLogger())
	require.NoError(t, err)

	res, err := m.Initialize(context.Background(), shares, threshold)
	require.NoError(t, err)
	require.Len(t, res.Shares, shares)
	require.NotEmpty(t, res.RootToken)
	return backend, m, res
}

func corrupt(share []byte) []byte {
	out := append([]byte(nil), share...)
	out[0] ^= 0x01
	return out
}

func TestManager_Initialize(t *testing.T) {
	ctx := context.Background()
	backend, m, res := newInitialized(t, 5, 3)

	status := m.Status()
	assert.True(t, status.Initialized)
	assert.True(t, status.Sealed, "Manager should stay sealed after Initialize")
	assert.Equal(t, 3, status.Threshold)
	assert.Equal(t, 5, status.Shares)

	for _, s := range res.Shares {
		assert.Len(t, s, ShareSize)
	}

	_, err := m.Initialize(ctx, 5, 3)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyInitialized)

	// A second process sharing the storage sees the configuration.
	other, err := NewManager(ctx, backend, testLogger())
	require.NoError(t, err)
	assert.True(t, other.Status().Initialized)
	_, err = other.Initialize(ctx, 5, 3)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyInitialized)

	// The master key is never persisted.
	keys, err := backend.List(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ConfigPath, RootTokenHashPath}, keys)
}

func TestManager_InitializeRejectsBadParameters(t *testing.T) {
	m, err := NewManager(context.Background(), storage.NewMemoryBackend(testLogger()), testLogger())
	require.NoError(t, err)

	for _, tc := range []struct{ shares, threshold int }{
		{0, 0}, {3, 0}, {2, 3}, {5, 1}, {256, 3},
	} {
		_, err := m.Initialize(context.Background(), tc.shares, tc.threshold)
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument, "shares=%d threshold=%d", tc.shares, tc.threshold)
	}

	_, err = m.Initialize(context.Background(), 1, 1)
	assert.NoError(t, err, "A single share with threshold 1 is allowed")
}

func TestManager_UnsealAnyThreeOfFive(t *testing.T) {
	ctx := context.Background()
	backend, _, res := newInitialized(t, 5, 3)

	for a := 0; a < 5; a++ {
		for b := a + 1; b < 5; b++ {
			for c := b + 1; c < 5; c++ {
				m, err := NewManager(ctx, backend, testLogger())
				require.NoError(t, err)

				status, err := m.Unseal(ctx, res.Shares[a])
				require.NoError(t, err)
				assert.Equal(t, 1, status.Progress)
				status, err = m.Unseal(ctx, res.Shares[b])
				require.NoError(t, err)
				assert.True(t, status.Sealed)
				assert.Equal(t, 2, status.Progress)

				status, err = m.Unseal(ctx, res.Shares[c])
				require.NoError(t, err, "shares %d,%d,%d", a, b, c)
				assert.False(t, status.Sealed)
				assert.Equal(t, 0, status.Progress)

				require.NoError(t, m.WithMasterKey(ctx, func(key []byte) error {
					assert.Len(t, key, MasterKeySize)
					return nil
				}))
			}
		}
	}
}

func TestManager_UnsealFailures(t *testing.T) {
	ctx := context.Background()
	_, m, res := newInitialized(t, 5, 3)

	t.Run("two shares are not enough", func(t *testing.T) {
		defer m.ResetUnseal()
		_, err := m.Unseal(ctx, res.Shares[0])
		require.NoError(t, err)
		status, err := m.Unseal(ctx, res.Shares[1])
		require.NoError(t, err)
		assert.True(t, status.Sealed)
		assert.ErrorIs(t, m.WithMasterKey(ctx, func([]byte) error { return nil }), interfaces.ErrSealed)
	})

	t.Run("duplicate index is ignored", func(t *testing.T) {
		defer m.ResetUnseal()
		_, err := m.Unseal(ctx, res.Shares[0])
		require.NoError(t, err)
		status, err := m.Unseal(ctx, res.Shares[0])
		require.NoError(t, err)
		assert.Equal(t, 1, status.Progress)
	})

	t.Run("one corrupted share fails verification", func(t *testing.T) {
		_, err := m.Unseal(ctx, res.Shares[0])
		require.NoError(t, err)
		_, err = m.Unseal(ctx, corrupt(res.Shares[1]))
		require.NoError(t, err)
		status, err := m.Unseal(ctx, res.Shares[2])
		assert.Equal(t, interfaces.ErrInvalidUnsealKey, err, "Error must not carry detail about the share")
		assert.True(t, status.Sealed)
		assert.Equal(t, 0, status.Progress, "Pending shares are discarded on failure")
	})

	t.Run("malformed shares are rejected", func(t *testing.T) {
		defer m.ResetUnseal()
		_, err := m.Unseal(ctx, []byte{1, 2, 3})
		assert.ErrorIs(t, err, interfaces.ErrInvalidUnsealKey)

		zeroIndex := append([]byte(nil), res.Shares[0]...)
		zeroIndex[len(zeroIndex)-1] = 0
		_, err = m.Unseal(ctx, zeroIndex)
		assert.ErrorIs(t, err, interfaces.ErrInvalidUnsealKey)
		assert.Equal(t, 0, m.Status().Progress)
	})

	t.Run("reset discards progress", func(t *testing.T) {
		_, err := m.Unseal(ctx, res.Shares[0])
		require.NoError(t, err)
		m.ResetUnseal()
		assert.Equal(t, 0, m.Status().Progress)
	})
}

func TestManager_UnsealNotInitialized(t *testing.T) {
	m, err := NewManager(context.Background(), storage.NewMemoryBackend(testLogger()), testLogger())
	require.NoError(t, err)

	_, err = m.Unseal(context.Background(), make([]byte, ShareSize))
	assert.ErrorIs(t, err, interfaces.ErrNotInitialized)
	assert.False(t, m.Status().Initialized)
	assert.True(t, m.Sealed())
}

func unsealAll(t *testing.T, m *Manager, shares [][]byte) {
	t.Helper()
	for _, s := range shares {
		_, err := m.Unseal(context.Background(), s)
		require.NoError(t, err)
	}
	require.False(t, m.Sealed())
}

func TestManager_Seal(t *testing.T) {
	ctx := context.Background()
	_, m, res := newInitialized(t, 3, 2)
	unsealAll(t, m, res.Shares[:2])

	// Unseal on an unsealed manager is a no-op.
	status, err := m.Unseal(ctx, res.Shares[2])
	require.NoError(t, err)
	assert.False(t, status.Sealed)

	assert.ErrorIs(t, m.Seal(ctx, "wrong"), interfaces.ErrUnauthorized)
	assert.ErrorIs(t, m.Seal(ctx, ""), interfaces.ErrUnauthorized)
	assert.False(t, m.Sealed())

	require.NoError(t, m.Seal(ctx, res.RootToken))
	assert.True(t, m.Sealed())
	assert.ErrorIs(t, m.WithMasterKey(ctx, func([]byte) error { return nil }), interfaces.ErrSealed)

	// The same shares unseal again.
	unsealAll(t, m, res.Shares[1:])
}

func TestManager_SealDrainsBeforeWipe(t *testing.T) {
	ctx := context.Background()
	_, m, res := newInitialized(t, 3, 2)
	unsealAll(t, m, res.Shares[:2])

	borrowed := make(chan []byte)
	release := make(chan struct{})
	borrowDone := make(chan error)
	go func() {
		borrowDone <- m.WithMasterKey(ctx, func(key []byte) error {
			borrowed <- key
			<-release
			// The key is intact for the whole borrow.
			if isZero(key) {
				return assert.AnError
			}
			return nil
		})
	}()
	key := <-borrowed

	sealDone := make(chan error)
	go func() {
		sealDone <- m.Seal(ctx, res.RootToken)
	}()

	require.Eventually(t, func() bool { return m.holder.sealing.Load() }, 5*time.Second, time.Millisecond)

	// New borrowers are turned away while the seal is pending.
	assert.ErrorIs(t, m.WithMasterKey(ctx, func([]byte) error { return nil }), interfaces.ErrSealed)

	select {
	case <-sealDone:
		t.Fatal("Seal returned before the in-flight operation finished")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, isZero(key))

	close(release)
	require.NoError(t, <-borrowDone)
	require.NoError(t, <-sealDone)
	assert.True(t, isZero(key), "Master key must be zeroized after Seal")
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func TestManager_WithMasterKeyHonorsContext(t *testing.T) {
	_, m, res := newInitialized(t, 3, 2)
	unsealAll(t, m, res.Shares[:2])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := m.WithMasterKey(ctx, func([]byte) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestManager_DevMode(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend(testLogger())
	m, err := NewManager(ctx, backend, testLogger())
	require.NoError(t, err)

	res, err := m.InitializeDev(ctx, "dev-root")
	require.NoError(t, err)
	assert.Equal(t, "dev-root", res.RootToken)
	assert.Empty(t, res.Shares)

	status := m.Status()
	assert.True(t, status.DevMode)
	assert.False(t, status.Sealed)

	err = m.Seal(ctx, "dev-root")
	assert.ErrorIs(t, err, interfaces.ErrOperationNotAllowed)

	// A restart auto-unseals with the stored key.
	var before []byte
	require.NoError(t, m.WithMasterKey(ctx, func(key []byte) error {
		before = append([]byte(nil), key...)
		return nil
	}))
	restarted, err := NewManager(ctx, backend, testLogger())
	require.NoError(t, err)
	assert.False(t, restarted.Sealed())
	require.NoError(t, restarted.WithMasterKey(ctx, func(key []byte) error {
		assert.Equal(t, before, key)
		return nil
	}))

	_, err = restarted.InitializeDev(ctx, "")
	assert.ErrorIs(t, err, interfaces.ErrAlreadyInitialized)
}

func TestManager_VerifyRootToken(t *testing.T) {
	ctx := context.Background()
	_, m, res := newInitialized(t, 1, 1)

	auth, err := m.VerifyRootToken(ctx, res.RootToken)
	require.NoError(t, err)
	assert.True(t, auth.IsRoot())

	// Second call is served from the verified digest.
	auth, err = m.Authenticate(ctx, res.RootToken)
	require.NoError(t, err)
	assert.True(t, auth.IsRoot())

	_, err = m.VerifyRootToken(ctx, strings.ToUpper(res.RootToken))
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	empty, err := NewManager(ctx, storage.NewMemoryBackend(testLogger()), testLogger())
	require.NoError(t, err)
	_, err = empty.VerifyRootToken(ctx, res.RootToken)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
}

func TestTokenHash(t *testing.T) {
	encoded, err := hashToken("s3cret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=19456,t=2,p=1$"))

	ok, err := verifyToken("s3cret", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyToken("other", encoded)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, bad := range []string{"", "plain", "$argon2i$v=19$m=1,t=1,p=1$AA$AA", "$argon2id$v=19$m=x$AA$AA", "$argon2id$v=19$m=8,t=1,p=1$!!$AA"} {
		_, err := verifyToken("s3cret", bad)
		assert.ErrorIs(t, err, errMalformedHash, bad)
	}
}
