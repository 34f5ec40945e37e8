package storage

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/nubster/egide/interfaces"
)

// MemoryBackend keeps everything in a map. It backs dev mode and tests.
type MemoryBackend struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	data    map[string][]byte
	log     *slog.Logger
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(log *slog.Logger) *MemoryBackend {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryBackend{
		data: map[string][]byte{},
		log:  log,
	}
}

// Get returns a copy of the value stored at key.
func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.data[key]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Put stores a copy of value at key.
func (b *MemoryBackend) Put(ctx context.Context, key string, value []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.apply(ctx, txnOp{key: key, value: value})
}

// Delete removes key. Missing keys are not an error.
func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.apply(ctx, txnOp{key: key, delete: true})
}

// List returns the keys starting with prefix in lexical order.
func (b *MemoryBackend) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0)
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Txn applies all writes under a single data lock, so readers never observe
// a partial commit.
func (b *MemoryBackend) Txn(ctx context.Context, fn func(tx interfaces.Txn) error) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	tx := newBufferedTxn(ctx, b.Get)
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, op := range tx.committed() {
		b.applyLocked(op)
	}
	return nil
}

func (b *MemoryBackend) apply(_ context.Context, op txnOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applyLocked(op)
	return nil
}

func (b *MemoryBackend) applyLocked(op txnOp) {
	if op.delete {
		delete(b.data, op.key)
		return
	}
	b.data[op.key] = append([]byte(nil), op.value...)
}

// Available always reports true.
func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

// Name returns "memory".
func (b *MemoryBackend) Name() string {
	return "memory"
}

// LocationURI returns "memory://".
func (b *MemoryBackend) LocationURI() string {
	return "memory://"
}
