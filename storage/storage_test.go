package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/nubster/egide/interfaces"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type backendCase struct {
	name string
	new  func(t *testing.T) interfaces.StorageBackend
}

func backendCases() []backendCase {
	return []backendCase{
		{
			name: "memory",
			new: func(t *testing.T) interfaces.StorageBackend {
				return NewMemoryBackend(testLogger())
			},
		},
		{
			name: "file",
			new: func(t *testing.T) interfaces.StorageBackend {
				b, err := NewFileBackend(t.TempDir(), testLogger())
				require.NoError(t, err)
				return b
			},
		},
		{
			name: "sqlite",
			new: func(t *testing.T) interfaces.StorageBackend {
				b, err := NewSQLiteBackend(":memory:", testLogger())
				require.NoError(t, err)
				return b
			},
		},
		{
			name: "redis",
			new: func(t *testing.T) interfaces.StorageBackend {
				mr := miniredis.RunT(t)
				client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				t.Cleanup(func() { client.Close() })
				return NewRedisBackendFromClient(client, "egide-test/", testLogger())
			},
		},
	}
}

func TestBackends_GetPutDelete(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			b := bc.new(t)

			_, err := b.Get(ctx, "sys/seal/config")
			assert.ErrorIs(t, err, interfaces.ErrNotFound)

			require.NoError(t, b.Put(ctx, "sys/seal/config", []byte("v1")))
			value, err := b.Get(ctx, "sys/seal/config")
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), value)

			require.NoError(t, b.Put(ctx, "sys/seal/config", []byte("v2")))
			value, err = b.Get(ctx, "sys/seal/config")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), value)

			require.NoError(t, b.Delete(ctx, "sys/seal/config"))
			_, err = b.Get(ctx, "sys/seal/config")
			assert.ErrorIs(t, err, interfaces.ErrNotFound)

			// Deleting a missing key is not an error.
			require.NoError(t, b.Delete(ctx, "sys/seal/config"))
			assert.True(t, b.Available(ctx))
		})
	}
}

func TestBackends_List(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			b := bc.new(t)

			for _, k := range []string{
				"kms/keys/b/meta",
				"kms/keys/a/versions/0000000002",
				"kms/keys/a/meta",
				"kms/keys/a/versions/0000000001",
				"sys/seal/config",
			} {
				require.NoError(t, b.Put(ctx, k, []byte(k)))
			}

			keys, err := b.List(ctx, "kms/keys/a/")
			require.NoError(t, err)
			assert.Equal(t, []string{
				"kms/keys/a/meta",
				"kms/keys/a/versions/0000000001",
				"kms/keys/a/versions/0000000002",
			}, keys)

			keys, err = b.List(ctx, "kms/")
			require.NoError(t, err)
			assert.Len(t, keys, 4)

			keys, err = b.List(ctx, "missing/")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestBackends_Txn(t *testing.T) {
	errAbort := errors.New("abort")

	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			b := bc.new(t)

			require.NoError(t, b.Put(ctx, "stale", []byte("x")))

			err := b.Txn(ctx, func(tx interfaces.Txn) error {
				if err := tx.Put("a", []byte("1")); err != nil {
					return err
				}
				value, err := tx.Get("a")
				if err != nil {
					return err
				}
				assert.Equal(t, []byte("1"), value)

				if err := tx.Put("b", []byte("2")); err != nil {
					return err
				}
				if err := tx.Delete("stale"); err != nil {
					return err
				}
				_, err = tx.Get("stale")
				assert.ErrorIs(t, err, interfaces.ErrNotFound)
				return nil
			})
			require.NoError(t, err)

			value, err := b.Get(ctx, "b")
			require.NoError(t, err)
			assert.Equal(t, []byte("2"), value)
			_, err = b.Get(ctx, "stale")
			assert.ErrorIs(t, err, interfaces.ErrNotFound)

			err = b.Txn(ctx, func(tx interfaces.Txn) error {
				if err := tx.Put("a", []byte("changed")); err != nil {
					return err
				}
				if err := tx.Put("c", []byte("3")); err != nil {
					return err
				}
				return errAbort
			})
			assert.ErrorIs(t, err, errAbort)

			value, err = b.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), value)
			_, err = b.Get(ctx, "c")
			assert.ErrorIs(t, err, interfaces.ErrNotFound)
		})
	}
}

func TestBackends_ConcurrentTxnIncrements(t *testing.T) {
	const workers, iterations = 4, 10

	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			b := bc.new(t)

			increment := func() error {
				return b.Txn(ctx, func(tx interfaces.Txn) error {
					n := 0
					value, err := tx.Get("counter")
					switch {
					case err == nil:
						n, err = strconv.Atoi(string(value))
						if err != nil {
							return err
						}
					case !errors.Is(err, interfaces.ErrNotFound):
						return err
					}
					return tx.Put("counter", []byte(strconv.Itoa(n+1)))
				})
			}

			var wg sync.WaitGroup
			errs := make(chan error, workers*iterations)
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < iterations; i++ {
						err := increment()
						for errors.Is(err, interfaces.ErrTxnConflict) {
							err = increment()
						}
						if err != nil {
							errs <- err
						}
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			value, err := b.Get(ctx, "counter")
			require.NoError(t, err)
			assert.Equal(t, strconv.Itoa(workers*iterations), string(value))
		})
	}
}

func TestFileBackend_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	b, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)

	for _, key := range []string{"", "../outside", "a/../../b", "a//b", "./a"} {
		err := b.Put(ctx, key, []byte("x"))
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument, "key %q", key)
	}

	// Odd characters inside a segment are escaped, not interpreted.
	require.NoError(t, b.Put(ctx, "kms/keys/we%ird name/meta", []byte("x")))
	keys, err := b.List(ctx, "kms/")
	require.NoError(t, err)
	assert.Equal(t, []string{"kms/keys/we%ird name/meta"}, keys)
}

func TestSQLiteBackend_History(t *testing.T) {
	ctx := context.Background()
	b, err := NewSQLiteBackend(":memory:", testLogger())
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, "k", []byte("1")))
	require.NoError(t, b.Put(ctx, "k", []byte("2")))
	require.NoError(t, b.Delete(ctx, "k"))

	history, err := b.History(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"put@1", "put@2", "delete@2"}, history)

	// Writes made on behalf of an authenticated caller record the account.
	rootCtx := interfaces.WithAuthContext(ctx, interfaces.RootAuthContext())
	require.NoError(t, b.Put(rootCtx, "owned", []byte("1")))
	require.NoError(t, b.Txn(rootCtx, func(tx interfaces.Txn) error {
		return tx.Delete("owned")
	}))

	history, err = b.History(ctx, "owned")
	require.NoError(t, err)
	assert.Equal(t, []string{"put@1 by root", "delete@1 by root"}, history)
}

func TestSQLiteBackend_ListEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	b, err := NewSQLiteBackend(":memory:", testLogger())
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, "a_b/1", []byte("x")))
	require.NoError(t, b.Put(ctx, "axb/1", []byte("x")))

	keys, err := b.List(ctx, "a_b/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a_b/1"}, keys)
}

func TestPrefixBackend(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryBackend(testLogger())

	acme, err := NewTenantBackend(inner, "acme")
	require.NoError(t, err)
	globex, err := NewTenantBackend(inner, "globex")
	require.NoError(t, err)

	require.NoError(t, acme.Put(ctx, "kms/keys/k1/meta", []byte("acme")))
	require.NoError(t, globex.Put(ctx, "kms/keys/k1/meta", []byte("globex")))

	value, err := acme.Get(ctx, "kms/keys/k1/meta")
	require.NoError(t, err)
	assert.Equal(t, []byte("acme"), value)

	keys, err := globex.List(ctx, "kms/")
	require.NoError(t, err)
	assert.Equal(t, []string{"kms/keys/k1/meta"}, keys)

	raw, err := inner.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"tenants/acme/kms/keys/k1/meta", "tenants/globex/kms/keys/k1/meta"}, raw)

	require.NoError(t, acme.Txn(ctx, func(tx interfaces.Txn) error {
		return tx.Delete("kms/keys/k1/meta")
	}))
	_, err = acme.Get(ctx, "kms/keys/k1/meta")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = globex.Get(ctx, "kms/keys/k1/meta")
	assert.NoError(t, err)
}

func TestValidateTenant(t *testing.T) {
	for _, tenant := range []string{"acme", "a", "team_1-prod"} {
		assert.NoError(t, ValidateTenant(tenant), tenant)
	}
	for _, tenant := range []string{"", "Acme", "a/b", "a b", fmt.Sprintf("%065d", 0)} {
		assert.ErrorIs(t, ValidateTenant(tenant), interfaces.ErrInvalidArgument, tenant)
	}
}

func TestStorageBackendFactory(t *testing.T) {
	factory := NewStorageBackendFactory(testLogger())

	b, err := factory.StorageBackendFor("memory://")
	require.NoError(t, err)
	assert.Equal(t, "memory", b.Name())

	dir := t.TempDir()
	b, err = factory.StorageBackendFor("file://" + dir)
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, b)

	b, err = factory.StorageBackendFor("sqlite://memory")
	require.NoError(t, err)
	assert.IsType(t, &SQLiteBackend{}, b)

	mr := miniredis.RunT(t)
	b, err = factory.StorageBackendFor("redis://" + mr.Addr() + "/0?namespace=test/")
	require.NoError(t, err)
	assert.True(t, b.Available(context.Background()))

	_, err = factory.StorageBackendFor("redis://" + mr.Addr() + "/notanumber")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = factory.StorageBackendFor("ipfs://localhost:5001")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = factory.StorageBackendFor("file://")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

func TestStorageBackendFactory_CreateMirrorBackend(t *testing.T) {
	factory := NewStorageBackendFactory(testLogger())

	b, err := factory.CreateMirrorBackend([]string{"memory://"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	b, err = factory.CreateMirrorBackend([]string{"memory://", "unknown://x", "file://" + t.TempDir()})
	require.NoError(t, err)
	mirror, ok := b.(*MirrorBackend)
	require.True(t, ok)
	assert.Len(t, mirror.mirrors, 1)

	_, err = factory.CreateMirrorBackend([]string{"unknown://x", "memory://"})
	assert.Error(t, err)

	_, err = factory.CreateMirrorBackend(nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}
