package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/nubster/egide/interfaces"
)

type txnOp struct {
	key    string
	value  []byte
	delete bool
}

// bufferedTxn collects writes in call order and serves reads from them before
// falling back to the backing store. Backends without native transactions
// commit the ops in order under a process-local lock.
type bufferedTxn struct {
	ctx     context.Context
	read    func(ctx context.Context, key string) ([]byte, error)
	ops     []txnOp
	pending map[string]int
}

func newBufferedTxn(ctx context.Context, read func(ctx context.Context, key string) ([]byte, error)) *bufferedTxn {
	return &bufferedTxn{ctx: ctx, read: read, pending: map[string]int{}}
}

func (t *bufferedTxn) Get(key string) ([]byte, error) {
	if idx, ok := t.pending[key]; ok {
		op := t.ops[idx]
		if op.delete {
			return nil, interfaces.ErrNotFound
		}
		return append([]byte(nil), op.value...), nil
	}
	return t.read(t.ctx, key)
}

func (t *bufferedTxn) Put(key string, value []byte) error {
	t.record(txnOp{key: key, value: append([]byte(nil), value...)})
	return nil
}

func (t *bufferedTxn) Delete(key string) error {
	t.record(txnOp{key: key, delete: true})
	return nil
}

func (t *bufferedTxn) record(op txnOp) {
	t.pending[op.key] = len(t.ops)
	t.ops = append(t.ops, op)
}

// committed returns the surviving ops in first-write order. Later writes to a
// key replace earlier ones in place.
func (t *bufferedTxn) committed() []txnOp {
	out := make([]txnOp, 0, len(t.pending))
	seen := map[string]bool{}
	for _, op := range t.ops {
		if seen[op.key] {
			continue
		}
		seen[op.key] = true
		out = append(out, t.ops[t.pending[op.key]])
	}
	return out
}

// runLockedTxn serializes fn with every other transaction on the same lock
// and applies its writes in order once fn succeeds.
func runLockedTxn(ctx context.Context, mu *sync.Mutex, read func(context.Context, string) ([]byte, error), apply func(context.Context, txnOp) error, fn func(tx interfaces.Txn) error) error {
	mu.Lock()
	defer mu.Unlock()

	tx := newBufferedTxn(ctx, read)
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, op := range tx.committed() {
		if err := apply(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, interfaces.ErrNotFound)
}
