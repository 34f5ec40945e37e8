package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nubster/egide/interfaces"
)

var tenantPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateTenant checks a tenant identifier: lowercase letters, digits, "_"
// and "-", at most 64 characters.
func ValidateTenant(tenant string) error {
	if !tenantPattern.MatchString(tenant) {
		return fmt.Errorf("%w: invalid tenant %q", interfaces.ErrInvalidArgument, tenant)
	}
	return nil
}

// PrefixBackend confines every key to "tenants/<tenant>/" of an underlying backend.
type PrefixBackend struct {
	inner  interfaces.StorageBackend
	prefix string
}

// NewTenantBackend scopes inner to a tenant namespace.
func NewTenantBackend(inner interfaces.StorageBackend, tenant string) (*PrefixBackend, error) {
	if err := ValidateTenant(tenant); err != nil {
		return nil, err
	}
	return &PrefixBackend{inner: inner, prefix: "tenants/" + tenant + "/"}, nil
}

func (p *PrefixBackend) Get(ctx context.Context, key string) ([]byte, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

func (p *PrefixBackend) Put(ctx context.Context, key string, value []byte) error {
	return p.inner.Put(ctx, p.prefix+key, value)
}

func (p *PrefixBackend) Delete(ctx context.Context, key string) error {
	return p.inner.Delete(ctx, p.prefix+key)
}

func (p *PrefixBackend) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := p.inner.List(ctx, p.prefix+prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, p.prefix)
	}
	return keys, nil
}

func (p *PrefixBackend) Txn(ctx context.Context, fn func(tx interfaces.Txn) error) error {
	return p.inner.Txn(ctx, func(tx interfaces.Txn) error {
		return fn(&prefixTxn{inner: tx, prefix: p.prefix})
	})
}

func (p *PrefixBackend) Available(ctx context.Context) bool {
	return p.inner.Available(ctx)
}

func (p *PrefixBackend) Name() string {
	return p.inner.Name()
}

func (p *PrefixBackend) LocationURI() string {
	return p.inner.LocationURI()
}

type prefixTxn struct {
	inner  interfaces.Txn
	prefix string
}

func (t *prefixTxn) Get(key string) ([]byte, error) {
	return t.inner.Get(t.prefix + key)
}

func (t *prefixTxn) Put(key string, value []byte) error {
	return t.inner.Put(t.prefix+key, value)
}

func (t *prefixTxn) Delete(key string) error {
	return t.inner.Delete(t.prefix + key)
}
