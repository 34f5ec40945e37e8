package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/nubster/egide/interfaces"
)

// FileBackend implements a storage backend using the local file system.
// Every key is a file; "/" separated key segments become directories.
type FileBackend struct {
	baseDir     string
	writeMu     sync.Mutex
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a new file storage backend using the specified base directory.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Get reads the file backing key. Returns ErrNotFound if the file doesn't exist.
func (b *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	filePath, err := b.getFilePath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	b.log.Debug("Fetched key from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return data, nil
}

func (b *FileBackend) Put(ctx context.Context, key string, value []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.apply(ctx, txnOp{key: key, value: value})
}

func (b *FileBackend) Delete(ctx context.Context, key string) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.apply(ctx, txnOp{key: key, delete: true})
}

// List walks the base directory and returns the keys under prefix.
func (b *FileBackend) List(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := filepath.WalkDir(b.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(b.baseDir, path)
		if err != nil {
			return err
		}
		key, err := keyFromPath(rel)
		if err != nil {
			b.log.Warn("Skipping unexpected file in storage directory", slog.String("path", path))
			return nil
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Txn serializes writers in-process and writes files in order. Each file is
// replaced atomically by rename.
func (b *FileBackend) Txn(ctx context.Context, fn func(tx interfaces.Txn) error) error {
	return runLockedTxn(ctx, &b.writeMu, b.Get, b.apply, fn)
}

func (b *FileBackend) apply(ctx context.Context, op txnOp) error {
	filePath, err := b.getFilePath(op.key)
	if err != nil {
		return err
	}

	if op.delete {
		if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete file: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, op.value, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	b.log.Debug("Stored key in file", slog.String("path", filePath))
	return nil
}

// Available checks if the file backend is accessible by verifying the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

// getFilePath maps a key onto a path below baseDir. Segments are escaped so
// no key can point outside the directory.
func (b *FileBackend) getFilePath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty key", interfaces.ErrInvalidArgument)
	}
	segments := strings.Split(key, "/")
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, b.baseDir)
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: invalid key %q", interfaces.ErrInvalidArgument, key)
		}
		parts = append(parts, url.PathEscape(seg))
	}
	return filepath.Join(parts...), nil
}

func keyFromPath(rel string) (string, error) {
	segments := strings.Split(filepath.ToSlash(rel), "/")
	for i, seg := range segments {
		unescaped, err := url.PathUnescape(seg)
		if err != nil {
			return "", err
		}
		segments[i] = unescaped
	}
	return strings.Join(segments, "/"), nil
}
