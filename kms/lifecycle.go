package kms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nubster/egide/cryptoutils"
	"github.com/nubster/egide/interfaces"
)

// CreateKey generates version 1 of a new key.
func (s *Store) CreateKey(ctx context.Context, name string, kt cryptoutils.KeyType, opts CreateKeyOptions) (KeyInfo, error) {
	if err := s.checkUnsealed(); err != nil {
		return KeyInfo{}, err
	}
	if err := ValidateKeyName(name); err != nil {
		return KeyInfo{}, err
	}
	if _, err := cryptoutils.ParseKeyType(string(kt)); err != nil {
		return KeyInfo{}, err
	}
	if opts.Convergent && kt != cryptoutils.KeyTypeAES256 {
		return KeyInfo{}, fmt.Errorf("%w: convergent encryption requires an aes256 key", interfaces.ErrInvalidArgument)
	}

	unlock := s.lockKey(name)
	defer unlock()

	if _, err := readMeta(s.ctxGetter(ctx), name); err == nil {
		return KeyInfo{}, fmt.Errorf("%w: key %q", interfaces.ErrAlreadyExists, name)
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return KeyInfo{}, err
	}

	fresh, err := generateMaterial(kt)
	if err != nil {
		return KeyInfo{}, err
	}
	defer fresh.wipe()

	wrapped, err := s.wrap(ctx, name, 1, fresh.raw)
	if err != nil {
		return KeyInfo{}, err
	}

	// Records left behind by an interrupted hard delete are cleared so the
	// new key starts from an empty history.
	stale, err := s.listVersions(ctx, name)
	if err != nil {
		return KeyInfo{}, err
	}

	now := s.now()
	meta := &keyMeta{
		Name:                 name,
		Type:                 kt,
		CurrentVersion:       1,
		MinEncryptionVersion: 1,
		MinDecryptionVersion: 1,
		DeletionAllowed:      opts.DeletionAllowed,
		Exportable:           opts.Exportable,
		Convergent:           opts.Convergent,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	rec := &versionRecord{
		Version:         1,
		WrappedMaterial: wrapped,
		PublicKey:       fresh.publicKey,
		CreatedAt:       now,
	}

	err = s.storage.Txn(ctx, func(tx interfaces.Txn) error {
		if _, err := tx.Get(metaPath(name)); err == nil {
			return fmt.Errorf("%w: key %q", interfaces.ErrAlreadyExists, name)
		} else if !errors.Is(err, interfaces.ErrNotFound) {
			return err
		}
		for _, v := range stale {
			if err := tx.Delete(versionPath(name, v)); err != nil {
				return err
			}
		}
		if err := putJSON(tx, versionPath(name, 1), rec); err != nil {
			return err
		}
		return putJSON(tx, metaPath(name), meta)
	})
	if err != nil {
		return KeyInfo{}, err
	}

	s.log.Info("Created key", slog.String("key", name), slog.String("type", string(kt)))
	info := meta.info()
	info.Versions = []VersionInfo{{Version: 1, CreatedAt: now, PublicKey: fresh.publicKey}}
	return info, nil
}

// RotateKey appends a new version and makes it current. The version number is
// allocated inside the storage transaction that writes it.
func (s *Store) RotateKey(ctx context.Context, name string) (KeyInfo, error) {
	if err := s.checkUnsealed(); err != nil {
		return KeyInfo{}, err
	}
	meta, err := s.liveMeta(ctx, name)
	if err != nil {
		return KeyInfo{}, err
	}

	unlock := s.lockKey(name)
	defer unlock()

	fresh, err := generateMaterial(meta.Type)
	if err != nil {
		return KeyInfo{}, err
	}
	defer fresh.wipe()

	var rotated *keyMeta
	err = s.storage.Txn(ctx, func(tx interfaces.Txn) error {
		current, err := readMeta(tx.Get, name)
		if err != nil {
			return err
		}
		if current.DeletedAt != nil {
			return fmt.Errorf("%w: key %q is deleted", interfaces.ErrNotFound, name)
		}

		next := current.CurrentVersion + 1
		if _, err := tx.Get(versionPath(name, next)); err == nil {
			return fmt.Errorf("%w: key %q version %d already written", interfaces.ErrTxnConflict, name, next)
		} else if !errors.Is(err, interfaces.ErrNotFound) {
			return err
		}

		wrapped, err := s.wrap(ctx, name, next, fresh.raw)
		if err != nil {
			return err
		}
		now := s.now()
		if err := putJSON(tx, versionPath(name, next), &versionRecord{
			Version:         next,
			WrappedMaterial: wrapped,
			PublicKey:       fresh.publicKey,
			CreatedAt:       now,
		}); err != nil {
			return err
		}

		current.CurrentVersion = next
		current.UpdatedAt = now
		rotated = current
		return putJSON(tx, metaPath(name), current)
	})
	if err != nil {
		return KeyInfo{}, err
	}

	s.log.Info("Rotated key", slog.String("key", name), slog.Int("version", rotated.CurrentVersion))
	return rotated.info(), nil
}

// UpdateKeyConfig applies a policy change. Minimum versions must lie in
// [1, current_version] and exportability cannot be revoked once granted.
func (s *Store) UpdateKeyConfig(ctx context.Context, name string, update KeyConfigUpdate) (KeyInfo, error) {
	if _, err := s.liveMeta(ctx, name); err != nil {
		return KeyInfo{}, err
	}

	unlock := s.lockKey(name)
	defer unlock()

	var updated *keyMeta
	err := s.storage.Txn(ctx, func(tx interfaces.Txn) error {
		meta, err := readMeta(tx.Get, name)
		if err != nil {
			return err
		}
		if meta.DeletedAt != nil {
			return fmt.Errorf("%w: key %q is deleted", interfaces.ErrNotFound, name)
		}

		if v := update.MinDecryptionVersion; v != nil {
			if *v < 1 || *v > meta.CurrentVersion {
				return fmt.Errorf("%w: min_decryption_version must be between 1 and %d", interfaces.ErrInvalidArgument, meta.CurrentVersion)
			}
			meta.MinDecryptionVersion = *v
		}
		if v := update.MinEncryptionVersion; v != nil {
			if *v < 1 || *v > meta.CurrentVersion {
				return fmt.Errorf("%w: min_encryption_version must be between 1 and %d", interfaces.ErrInvalidArgument, meta.CurrentVersion)
			}
			meta.MinEncryptionVersion = *v
		}
		if v := update.Exportable; v != nil {
			if meta.Exportable && !*v {
				return fmt.Errorf("%w: exportable cannot be disabled once enabled", interfaces.ErrInvalidArgument)
			}
			meta.Exportable = *v
		}
		if v := update.DeletionAllowed; v != nil {
			meta.DeletionAllowed = *v
		}
		if v := update.Disabled; v != nil {
			meta.Disabled = *v
		}

		meta.UpdatedAt = s.now()
		updated = meta
		return putJSON(tx, metaPath(name), meta)
	})
	if err != nil {
		return KeyInfo{}, err
	}
	return updated.info(), nil
}

// DeleteKey soft-deletes a key, or with hard removes the key and every
// version's material permanently. Hard deletion requires deletion_allowed
// and also applies to soft-deleted keys.
func (s *Store) DeleteKey(ctx context.Context, name string, hard bool) error {
	if err := ValidateKeyName(name); err != nil {
		return err
	}

	unlock := s.lockKey(name)
	defer unlock()

	meta, err := readMeta(s.ctxGetter(ctx), name)
	if err != nil {
		return err
	}

	if !hard {
		if meta.DeletedAt != nil {
			return nil
		}
		err := s.storage.Txn(ctx, func(tx interfaces.Txn) error {
			current, err := readMeta(tx.Get, name)
			if err != nil {
				return err
			}
			now := s.now()
			current.DeletedAt = &now
			current.UpdatedAt = now
			return putJSON(tx, metaPath(name), current)
		})
		if err != nil {
			return err
		}
		s.log.Info("Soft-deleted key", slog.String("key", name))
		return nil
	}

	if !meta.DeletionAllowed {
		return fmt.Errorf("%w: key %q", interfaces.ErrDeletionDisabled, name)
	}

	versions, err := s.listVersions(ctx, name)
	if err != nil {
		return err
	}

	// The metadata goes first so no reader can reach a half-removed key.
	err = s.storage.Txn(ctx, func(tx interfaces.Txn) error {
		if err := tx.Delete(metaPath(name)); err != nil {
			return err
		}
		for _, v := range versions {
			if err := tx.Delete(versionPath(name, v)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Warn("Destroyed key", slog.String("key", name), slog.Int("versions", len(versions)))
	return nil
}

// UndeleteKey reverses a soft delete.
func (s *Store) UndeleteKey(ctx context.Context, name string) (KeyInfo, error) {
	if err := ValidateKeyName(name); err != nil {
		return KeyInfo{}, err
	}

	unlock := s.lockKey(name)
	defer unlock()

	var restored *keyMeta
	err := s.storage.Txn(ctx, func(tx interfaces.Txn) error {
		meta, err := readMeta(tx.Get, name)
		if err != nil {
			return err
		}
		restored = meta
		if meta.DeletedAt == nil {
			return nil
		}
		meta.DeletedAt = nil
		meta.UpdatedAt = s.now()
		return putJSON(tx, metaPath(name), meta)
	})
	if err != nil {
		return KeyInfo{}, err
	}
	return restored.info(), nil
}

// DestroyVersion wipes the material of a single non-current version. The
// version number stays allocated.
func (s *Store) DestroyVersion(ctx context.Context, name string, version int) error {
	meta, err := s.liveMeta(ctx, name)
	if err != nil {
		return err
	}
	if !meta.DeletionAllowed {
		return fmt.Errorf("%w: key %q", interfaces.ErrDeletionDisabled, name)
	}

	unlock := s.lockKey(name)
	defer unlock()

	err = s.storage.Txn(ctx, func(tx interfaces.Txn) error {
		current, err := readMeta(tx.Get, name)
		if err != nil {
			return err
		}
		if version == current.CurrentVersion {
			return fmt.Errorf("%w: cannot destroy the current version", interfaces.ErrOperationNotAllowed)
		}
		rec, err := readVersion(tx.Get, name, version)
		if err != nil {
			return err
		}
		if rec.destroyed() {
			return nil
		}
		now := s.now()
		rec.WrappedMaterial = nil
		rec.DestroyedAt = &now
		return putJSON(tx, versionPath(name, version), rec)
	})
	if err != nil {
		return err
	}

	s.log.Warn("Destroyed key version", slog.String("key", name), slog.Int("version", version))
	return nil
}

// GetKeyInfo returns key metadata and version history. It also works on
// soft-deleted keys.
func (s *Store) GetKeyInfo(ctx context.Context, name string) (KeyInfo, error) {
	if err := ValidateKeyName(name); err != nil {
		return KeyInfo{}, err
	}
	get := s.ctxGetter(ctx)
	meta, err := readMeta(get, name)
	if err != nil {
		return KeyInfo{}, err
	}

	versions, err := s.listVersions(ctx, name)
	if err != nil {
		return KeyInfo{}, err
	}

	info := meta.info()
	for _, v := range versions {
		if v > meta.CurrentVersion {
			continue
		}
		rec, err := readVersion(get, name, v)
		if err != nil {
			return KeyInfo{}, err
		}
		info.Versions = append(info.Versions, VersionInfo{
			Version:     rec.Version,
			CreatedAt:   rec.CreatedAt,
			DestroyedAt: rec.DestroyedAt,
			PublicKey:   rec.PublicKey,
		})
	}
	return info, nil
}

// ListKeys returns every key sorted by name, soft-deleted ones included.
func (s *Store) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	entries, err := s.storage.List(ctx, keysPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	get := s.ctxGetter(ctx)
	keys := make([]KeyInfo, 0)
	for _, entry := range entries {
		name, ok := strings.CutSuffix(strings.TrimPrefix(entry, keysPrefix), "/meta")
		if !ok || strings.Contains(name, "/") {
			continue
		}
		meta, err := readMeta(get, name)
		if errors.Is(err, interfaces.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, meta.info())
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })
	return keys, nil
}

// Export returns the raw material of version, or of the current version when
// version is 0. Only exportable keys can be exported.
func (s *Store) Export(ctx context.Context, name string, version int) (ExportResult, error) {
	if err := s.checkUnsealed(); err != nil {
		return ExportResult{}, err
	}
	meta, err := s.liveMeta(ctx, name)
	if err != nil {
		return ExportResult{}, err
	}
	if !meta.Exportable {
		return ExportResult{}, fmt.Errorf("%w: key %q", interfaces.ErrExportDisabled, name)
	}
	if version == 0 {
		version = meta.CurrentVersion
	}
	if version < 1 || version > meta.CurrentVersion {
		return ExportResult{}, fmt.Errorf("%w: key %q version %d", interfaces.ErrNotFound, name, version)
	}

	res := ExportResult{Name: name, Type: meta.Type, Version: version}
	err = s.withVersion(ctx, meta, version, func(km cryptoutils.KeyMaterial) error {
		raw, err := km.Marshal()
		if err != nil {
			return err
		}
		pub, err := km.PublicKey()
		if err != nil {
			cryptoutils.Wipe(raw)
			return err
		}
		res.Material = raw
		res.PublicKey = pub
		return nil
	})
	if err != nil {
		return ExportResult{}, err
	}

	s.log.Warn("Exported key material", slog.String("key", name), slog.Int("version", version))
	return res, nil
}
