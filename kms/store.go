package kms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nubster/egide/cryptoutils"
	"github.com/nubster/egide/interfaces"
)

const (
	keysPrefix = "kms/keys/"
	wrapInfo   = "egide/kms/wrap/v1"
)

// MasterKeySource lends the master key for the duration of fn. It is
// implemented by seal.Manager.
type MasterKeySource interface {
	Sealed() bool
	WithMasterKey(ctx context.Context, fn func(key []byte) error) error
}

// Store persists named, versioned keys wrapped under the master key and runs
// cryptographic operations with them.
//
// Create, rotate and other metadata changes on the same key name are
// serialized in-process and committed through storage transactions. Encrypt,
// decrypt, sign and verify take no locks beyond the master key borrow.
type Store struct {
	master  MasterKeySource
	storage interfaces.StorageBackend
	log     *slog.Logger
	now     func() time.Time

	locksMu sync.Mutex
	locks   map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates a key store over storage. Tenant isolation is provided by
// handing each tenant its own prefixed storage.
func NewStore(master MasterKeySource, storage interfaces.StorageBackend, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		master:  master,
		storage: storage,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		locks:   map[string]*keyLock{},
	}
}

// checkUnsealed fails operations that need the master key before they touch
// storage or their input.
func (s *Store) checkUnsealed() error {
	if s.master.Sealed() {
		return interfaces.ErrSealed
	}
	return nil
}

func metaPath(name string) string {
	return keysPrefix + name + "/meta"
}

func versionsPrefix(name string) string {
	return keysPrefix + name + "/versions/"
}

func versionPath(name string, version int) string {
	return fmt.Sprintf("%s%010d", versionsPrefix(name), version)
}

// lockKey serializes metadata writers of one key name. The returned func
// releases the lock.
func (s *Store) lockKey(name string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &keyLock{}
		s.locks[name] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, name)
		}
		s.locksMu.Unlock()
	}
}

type getter func(key string) ([]byte, error)

func (s *Store) ctxGetter(ctx context.Context) getter {
	return func(key string) ([]byte, error) { return s.storage.Get(ctx, key) }
}

func readMeta(get getter, name string) (*keyMeta, error) {
	raw, err := get(metaPath(name))
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("%w: key %q", interfaces.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %q: %w", name, err)
	}
	var meta keyMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode key %q: %w", name, err)
	}
	return &meta, nil
}

func readVersion(get getter, name string, version int) (*versionRecord, error) {
	raw, err := get(versionPath(name, version))
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("%w: key %q version %d", interfaces.ErrNotFound, name, version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %q version %d: %w", name, version, err)
	}
	var rec versionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode key %q version %d: %w", name, version, err)
	}
	return &rec, nil
}

func putJSON(tx interfaces.Txn, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Put(key, raw)
}

// liveMeta loads a key that is not soft-deleted.
func (s *Store) liveMeta(ctx context.Context, name string) (*keyMeta, error) {
	if err := ValidateKeyName(name); err != nil {
		return nil, err
	}
	meta, err := readMeta(s.ctxGetter(ctx), name)
	if err != nil {
		return nil, err
	}
	if meta.DeletedAt != nil {
		return nil, fmt.Errorf("%w: key %q is deleted", interfaces.ErrNotFound, name)
	}
	return meta, nil
}

// listVersions returns the stored version numbers of name in ascending order.
func (s *Store) listVersions(ctx context.Context, name string) ([]int, error) {
	prefix := versionsPrefix(name)
	keys, err := s.storage.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of %q: %w", name, err)
	}
	versions := make([]int, 0, len(keys))
	for _, k := range keys {
		n, err := strconv.Atoi(strings.TrimPrefix(k, prefix))
		if err != nil || n < 1 {
			s.log.Warn("Ignoring unexpected entry under key versions", slog.String("key", k))
			continue
		}
		versions = append(versions, n)
	}
	sort.Ints(versions)
	return versions, nil
}

func wrapAAD(name string, version int) []byte {
	return []byte(name + "/" + strconv.Itoa(version))
}

// wrap seals serialized material under the key derived from the master key.
func (s *Store) wrap(ctx context.Context, name string, version int, material []byte) ([]byte, error) {
	var wrapped []byte
	err := s.master.WithMasterKey(ctx, func(master []byte) error {
		wrapKey, err := cryptoutils.DeriveKey(master, nil, []byte(wrapInfo), cryptoutils.AES256KeySize)
		if err != nil {
			return err
		}
		defer cryptoutils.Wipe(wrapKey)

		sealed, err := cryptoutils.SealAEAD(wrapKey, material, wrapAAD(name, version))
		if err != nil {
			return err
		}
		wrapped = sealed.Bytes()
		return nil
	})
	return wrapped, err
}

// unwrap restores the material of a version record. The caller must Wipe it.
func (s *Store) unwrap(ctx context.Context, meta *keyMeta, rec *versionRecord) (cryptoutils.KeyMaterial, error) {
	if rec.destroyed() {
		return nil, fmt.Errorf("%w: key %q version %d is destroyed", interfaces.ErrNotFound, meta.Name, rec.Version)
	}

	var material cryptoutils.KeyMaterial
	err := s.master.WithMasterKey(ctx, func(master []byte) error {
		wrapKey, err := cryptoutils.DeriveKey(master, nil, []byte(wrapInfo), cryptoutils.AES256KeySize)
		if err != nil {
			return err
		}
		defer cryptoutils.Wipe(wrapKey)

		sealed, err := cryptoutils.SplitSealed(rec.WrappedMaterial)
		if err != nil {
			return fmt.Errorf("%w: wrapped material of %q version %d is truncated", interfaces.ErrCryptoBackend, meta.Name, rec.Version)
		}
		raw, err := cryptoutils.OpenAEAD(wrapKey, sealed, wrapAAD(meta.Name, rec.Version))
		if err != nil {
			return fmt.Errorf("%w: failed to unwrap %q version %d", interfaces.ErrCryptoBackend, meta.Name, rec.Version)
		}
		defer cryptoutils.Wipe(raw)

		material, err = cryptoutils.ParseKeyMaterial(meta.Type, raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return material, nil
}

// withVersion resolves, unwraps and lends the material of one version.
func (s *Store) withVersion(ctx context.Context, meta *keyMeta, version int, fn func(cryptoutils.KeyMaterial) error) error {
	rec, err := readVersion(s.ctxGetter(ctx), meta.Name, version)
	if err != nil {
		return err
	}
	material, err := s.unwrap(ctx, meta, rec)
	if err != nil {
		return err
	}
	defer material.Wipe()
	return fn(material)
}

// freshMaterial is serialized material that has not been wrapped yet.
type freshMaterial struct {
	raw       []byte
	publicKey []byte
}

func generateMaterial(kt cryptoutils.KeyType) (*freshMaterial, error) {
	km, err := cryptoutils.GenerateKey(kt)
	if err != nil {
		return nil, err
	}
	defer km.Wipe()

	raw, err := km.Marshal()
	if err != nil {
		return nil, err
	}
	pub, err := km.PublicKey()
	if err != nil {
		cryptoutils.Wipe(raw)
		return nil, err
	}
	return &freshMaterial{raw: raw, publicKey: pub}, nil
}

func (f *freshMaterial) wipe() {
	cryptoutils.Wipe(f.raw)
}
