package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/nubster/egide/interfaces"
)

// MirrorBackend writes through a primary backend and replicates every write
// to mirror backends. The primary is authoritative: transactions and lists
// run on it, and reads only fall back to mirrors while it is unavailable.
// Mirror write failures are logged and do not fail the operation.
type MirrorBackend struct {
	primary interfaces.StorageBackend
	mirrors []interfaces.StorageBackend
	log     *slog.Logger
}

// NewMirrorBackend creates a mirrored backend.
func NewMirrorBackend(primary interfaces.StorageBackend, mirrors []interfaces.StorageBackend, logger *slog.Logger) *MirrorBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &MirrorBackend{
		primary: primary,
		mirrors: mirrors,
		log:     logger,
	}
}

func (m *MirrorBackend) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()

	data, err := m.primary.Get(ctx, key)
	if err == nil || isNotFound(err) || m.primary.Available(ctx) {
		return data, err
	}

	var errs *multierror.Error
	errs = multierror.Append(errs, fmt.Errorf("%s: %w", m.primary.Name(), err))

	for _, backend := range m.mirrors {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}
		data, err := backend.Get(ctx, key)
		if err == nil {
			m.log.Warn("Served read from mirror while primary is unavailable",
				slog.String("backend_name", backend.Name()),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}
		if isNotFound(err) {
			return nil, err
		}
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
	}

	m.log.Error("All backends failed to read key",
		slog.Int("failed_backends", errs.Len()),
		slog.Duration("duration", time.Since(start)))
	return nil, fmt.Errorf("%w: %w", interfaces.ErrBackendUnavailable, errs.ErrorOrNil())
}

func (m *MirrorBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := m.primary.Put(ctx, key, value); err != nil {
		return err
	}
	m.replicate(ctx, []txnOp{{key: key, value: value}})
	return nil
}

func (m *MirrorBackend) Delete(ctx context.Context, key string) error {
	if err := m.primary.Delete(ctx, key); err != nil {
		return err
	}
	m.replicate(ctx, []txnOp{{key: key, delete: true}})
	return nil
}

func (m *MirrorBackend) List(ctx context.Context, prefix string) ([]string, error) {
	return m.primary.List(ctx, prefix)
}

// Txn runs on the primary and replays the committed writes to the mirrors.
func (m *MirrorBackend) Txn(ctx context.Context, fn func(tx interfaces.Txn) error) error {
	var last *recordingTxn
	err := m.primary.Txn(ctx, func(tx interfaces.Txn) error {
		last = &recordingTxn{Txn: tx}
		return fn(last)
	})
	if err != nil {
		return err
	}
	if last != nil {
		m.replicate(ctx, last.ops)
	}
	return nil
}

func (m *MirrorBackend) replicate(ctx context.Context, ops []txnOp) {
	var errs *multierror.Error
	for _, backend := range m.mirrors {
		for _, op := range ops {
			var err error
			if op.delete {
				err = backend.Delete(ctx, op.key)
			} else {
				err = backend.Put(ctx, op.key, op.value)
			}
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
				break
			}
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		m.log.Warn("Failed to replicate writes to mirrors", "err", err)
	}
}

// Available reports the primary's availability.
func (m *MirrorBackend) Available(ctx context.Context) bool {
	return m.primary.Available(ctx)
}

func (m *MirrorBackend) Name() string {
	return "mirror-" + m.primary.Name()
}

func (m *MirrorBackend) LocationURI() string {
	locations := []string{m.primary.LocationURI()}
	for _, backend := range m.mirrors {
		locations = append(locations, backend.LocationURI())
	}
	return "mirror:[" + strings.Join(locations, ",") + "]"
}

type recordingTxn struct {
	interfaces.Txn
	ops []txnOp
}

func (r *recordingTxn) Put(key string, value []byte) error {
	if err := r.Txn.Put(key, value); err != nil {
		return err
	}
	r.ops = append(r.ops, txnOp{key: key, value: append([]byte(nil), value...)})
	return nil
}

func (r *recordingTxn) Delete(key string) error {
	if err := r.Txn.Delete(key); err != nil {
		return err
	}
	r.ops = append(r.ops, txnOp{key: key, delete: true})
	return nil
}
