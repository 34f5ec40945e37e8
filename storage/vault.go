package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/nubster/egide/interfaces"
)

// VaultBackend implements a storage backend on a HashiCorp Vault KV v2 mount.
// Values are base64 encoded into the "content" field of each secret.
//
// Txn serializes writers inside this process, so the backend must have a
// single writing process.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	writeMu     sync.Mutex
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a new Vault storage backend authenticated with token.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token with read/write access to the mount
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: Path within the mount (e.g. "egide")
//   - log: Structured logger for operational insights
func NewVaultBackend(address, token, mountPath, dataPath string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return NewVaultBackendFromClient(client, mountPath, dataPath, log), nil
}

// NewVaultBackendFromClient wraps an existing Vault client.
func NewVaultBackendFromClient(client *api.Client, mountPath, dataPath string, log *slog.Logger) *VaultBackend {
	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", client.Address(), mountPath, dataPath),
	}
}

// Get reads a secret through the KV v2 API.
func (b *VaultBackend) Get(ctx context.Context, key string) ([]byte, error) {
	path := b.secretPath("data", key)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		// Deleted versions come back with null data.
		return nil, interfaces.ErrNotFound
	}

	content, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content key not found in Vault data at %s", path)
	}

	value, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("invalid content encoding in Vault data at %s: %w", path, err)
	}
	return value, nil
}

func (b *VaultBackend) Put(ctx context.Context, key string, value []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.apply(ctx, txnOp{key: key, value: value})
}

func (b *VaultBackend) Delete(ctx context.Context, key string) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.apply(ctx, txnOp{key: key, delete: true})
}

// List walks the metadata tree below the directory containing prefix.
func (b *VaultBackend) List(ctx context.Context, prefix string) ([]string, error) {
	dir := ""
	if idx := strings.LastIndex(prefix, "/"); idx >= 0 {
		dir = prefix[:idx+1]
	}

	keys := make([]string, 0)
	if err := b.walk(ctx, dir, prefix, &keys); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *VaultBackend) walk(ctx context.Context, dir, prefix string, out *[]string) error {
	path := b.secretPath("metadata", dir)
	secret, err := b.client.Logical().ListWithContext(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil
	}

	entries, _ := secret.Data["keys"].([]interface{})
	for _, e := range entries {
		name, ok := e.(string)
		if !ok {
			continue
		}
		full := dir + name
		if strings.HasSuffix(name, "/") {
			if strings.HasPrefix(full, prefix) || strings.HasPrefix(prefix, full) {
				if err := b.walk(ctx, full, prefix, out); err != nil {
					return err
				}
			}
			continue
		}
		if strings.HasPrefix(full, prefix) {
			*out = append(*out, full)
		}
	}
	return nil
}

func (b *VaultBackend) Txn(ctx context.Context, fn func(tx interfaces.Txn) error) error {
	return runLockedTxn(ctx, &b.writeMu, b.Get, b.apply, fn)
}

func (b *VaultBackend) apply(ctx context.Context, op txnOp) error {
	if op.delete {
		path := b.secretPath("metadata", op.key)
		if _, err := b.client.Logical().DeleteWithContext(ctx, path); err != nil {
			b.log.Error("Failed to delete from Vault", slog.String("path", path), "err", err)
			return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
		}
		return nil
	}

	path := b.secretPath("data", op.key)
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"content": base64.StdEncoding.EncodeToString(op.value),
		},
	}
	if _, err := b.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		b.log.Error("Failed to write to Vault", slog.String("path", path), "err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// Available checks if the Vault backend is accessible.
// It uses the health endpoint to verify that Vault is initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

// Name returns a unique identifier for this storage backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

func (b *VaultBackend) secretPath(kind, key string) string {
	if b.dataPath == "" {
		return fmt.Sprintf("%s/%s/%s", b.mountPath, kind, key)
	}
	return fmt.Sprintf("%s/%s/%s/%s", b.mountPath, kind, b.dataPath, key)
}
