package storage

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/nubster/egide/interfaces"
)

// StorageBackendFactory creates storage backends from location URIs.
type StorageBackendFactory struct {
	log *slog.Logger
}

// NewStorageBackendFactory creates a new factory instance that can create storage backends.
func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &StorageBackendFactory{log: logger}
}

// StorageBackendFor parses uri and creates the matching backend.
func (sf *StorageBackendFactory) StorageBackendFor(uri string) (interfaces.StorageBackend, error) {
	location, err := interfaces.NewStorageBackendLocation(uri)
	if err != nil {
		return nil, err
	}
	return sf.StorageFor(location)
}

// StorageFor creates a storage backend from a location.
//
// Supported schemes:
//   - memory:// - process memory, lost on restart
//   - file:///var/lib/egide - one file per key
//   - sqlite:///var/lib/egide/egide.db or sqlite://memory - SQLite through gorm
//   - redis://[:password@]host:6379/0?namespace=egide/ - Redis with WATCH/MULTI transactions
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-west-2&endpoint=...
//   - vault://[:token@]vault.example.com:8200/mount/path?tls=true - Vault KV v2
func (sf *StorageBackendFactory) StorageFor(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating storage backend", slog.String("scheme", location.Scheme))

	switch location.Scheme {
	case "memory":
		return NewMemoryBackend(sf.log), nil
	case "file":
		return sf.createFileBackend(location)
	case "sqlite":
		return sf.createSQLiteBackend(location)
	case "redis":
		return sf.createRedisBackend(location)
	case "s3":
		return sf.createS3Backend(location)
	case "vault":
		return sf.createVaultBackend(location)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %q", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// CreateMirrorBackend uses the first URI as the primary and replicates writes
// to the rest. Mirrors that fail to initialize are skipped with a warning; a
// primary that fails to initialize is an error.
func (sf *StorageBackendFactory) CreateMirrorBackend(uris []string) (interfaces.StorageBackend, error) {
	if len(uris) == 0 {
		return nil, fmt.Errorf("%w: no storage locations", interfaces.ErrInvalidLocationURI)
	}

	primary, err := sf.StorageBackendFor(uris[0])
	if err != nil {
		return nil, fmt.Errorf("failed to create primary storage backend: %w", err)
	}
	if len(uris) == 1 {
		return primary, nil
	}

	mirrors := make([]interfaces.StorageBackend, 0, len(uris)-1)
	for _, uri := range uris[1:] {
		backend, err := sf.StorageBackendFor(uri)
		if err != nil {
			sf.log.Warn("Failed to create mirror storage backend", "err", err)
			continue
		}
		mirrors = append(mirrors, backend)
	}

	return NewMirrorBackend(primary, mirrors, sf.log), nil
}

func (sf *StorageBackendFactory) createFileBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI", interfaces.ErrInvalidLocationURI)
	}
	return NewFileBackend(path, sf.log)
}

func (sf *StorageBackendFactory) createSQLiteBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	if loc.Host == "memory" {
		return NewSQLiteBackend(":memory:", sf.log)
	}
	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in sqlite URI", interfaces.ErrInvalidLocationURI)
	}
	return NewSQLiteBackend(path, sf.log)
}

func (sf *StorageBackendFactory) createRedisBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing redis address", interfaces.ErrInvalidLocationURI)
	}

	db := 0
	if p := strings.Trim(loc.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: invalid redis database %q", interfaces.ErrInvalidLocationURI, p)
		}
		db = n
	}

	namespace := loc.GetParam("namespace")
	if namespace == "" {
		namespace = "egide/"
	}

	return NewRedisBackend(loc.Host, authSecret(loc.Auth), db, namespace, sf.log), nil
}

func (sf *StorageBackendFactory) createS3Backend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing bucket name", interfaces.ErrInvalidLocationURI)
	}

	region := loc.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if loc.Auth != "" {
		accessKey, secretKey, _ = strings.Cut(loc.Auth, ":")
	} else {
		sf.log.Debug("No credentials in S3 URI, using the default AWS credential chain")
	}

	return NewS3Backend(loc.Host, strings.TrimPrefix(loc.Path, "/"), region, loc.GetParam("endpoint"), accessKey, secretKey, sf.log)
}

func (sf *StorageBackendFactory) createVaultBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing vault address", interfaces.ErrInvalidLocationURI)
	}

	pathParts := strings.SplitN(strings.Trim(loc.Path, "/"), "/", 2)
	mountPath := pathParts[0]
	if mountPath == "" {
		mountPath = "secret"
	}
	dataPath := "egide"
	if len(pathParts) == 2 {
		dataPath = pathParts[1]
	}

	scheme := "http"
	if loc.GetParamBool("tls") {
		scheme = "https"
	}

	token := authSecret(loc.Auth)
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}

	return NewVaultBackend(scheme+"://"+loc.Host, token, mountPath, dataPath, sf.log)
}

// authSecret returns the password part of "user:password" user info.
func authSecret(auth string) string {
	_, secret, _ := strings.Cut(auth, ":")
	return secret
}
