package transit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nubster/egide/interfaces"
	"github.com/nubster/egide/kms"
	"github.com/nubster/egide/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/nubster/egide/transit"

// Service is the request-level facade over a key store. Every call is
// authorized, traced, counted and reported to the event sink.
type Service struct {
	store      *kms.Store
	log        *slog.Logger
	authorize  interfaces.Authorizer
	events     interfaces.EventSink
	operations *metrics.Operations
	tracer     trace.Tracer
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAuthorizer sets the hook consulted before every operation. Without
// one every call is allowed.
func WithAuthorizer(a interfaces.Authorizer) Option {
	return func(s *Service) { s.authorize = a }
}

// WithEventSink sets the receiver of one Event per finished operation.
func WithEventSink(sink interfaces.EventSink) Option {
	return func(s *Service) { s.events = sink }
}

// WithMetrics records operation counts and latencies on ops.
func WithMetrics(ops *metrics.Operations) Option {
	return func(s *Service) { s.operations = ops }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(tracerName) }
}

// NewService creates a Service over store.
func NewService(store *kms.Store, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		store:  store,
		log:    log,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) startSpan(ctx context.Context, op interfaces.Operation, keyName string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "transit."+string(op),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("egide.operation", string(op)),
			attribute.String("egide.key_name", keyName),
		),
	)
}

// checkAuthorized reports every denial as ErrUnauthorized, whatever the
// authorizer returned.
func (s *Service) checkAuthorized(ctx context.Context, op interfaces.Operation, keyName string) error {
	if s.authorize == nil {
		return nil
	}
	if err := s.authorize(ctx, op, keyName); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrUnauthorized, err)
	}
	return nil
}

// observe records the outcome of a finished operation.
func (s *Service) observe(ctx context.Context, op interfaces.Operation, keyName string, version int, err error, started time.Time) {
	kind := interfaces.ErrorKind(err)
	elapsed := s.now().Sub(started)

	if s.operations != nil {
		s.operations.Observe(string(op), kind, elapsed)
	}

	if err != nil {
		if kind == "internal" || kind == "crypto_backend" || kind == "backend_unavailable" {
			s.log.ErrorContext(ctx, "Key operation failed", "operation", op, "key", keyName, "err", err)
		} else {
			s.log.DebugContext(ctx, "Key operation rejected", "operation", op, "key", keyName, "kind", kind)
		}
	}

	if s.events == nil {
		return
	}
	ev := interfaces.Event{
		Operation:  op,
		KeyName:    keyName,
		KeyVersion: version,
		Outcome:    "success",
		Duration:   elapsed,
		Time:       started.UTC(),
	}
	if err != nil {
		ev.Outcome = "failure"
		ev.ErrorKind = kind
	}
	if auth, ok := interfaces.AuthContextFrom(ctx); ok {
		ev.AccountID = auth.AccountID
	}
	s.events(ctx, ev)
}

// run wraps a single-key operation. fn returns the key version it touched, or
// 0 when none applies.
func (s *Service) run(ctx context.Context, op interfaces.Operation, keyName string, fn func(ctx context.Context) (int, error)) error {
	started := s.now()
	ctx, span := s.startSpan(ctx, op, keyName)
	defer span.End()

	var version int
	err := s.checkAuthorized(ctx, op, keyName)
	if err == nil {
		version, err = fn(ctx)
	}

	if version > 0 {
		span.SetAttributes(attribute.Int("egide.key_version", version))
	}
	if err != nil {
		span.SetStatus(codes.Error, interfaces.ErrorKind(err))
		span.SetAttributes(attribute.String("egide.error_kind", interfaces.ErrorKind(err)))
	}
	s.observe(ctx, op, keyName, version, err, started)
	return err
}

// CreateKey creates a new named key.
func (s *Service) CreateKey(ctx context.Context, req CreateKeyRequest) (kms.KeyInfo, error) {
	var info kms.KeyInfo
	err := s.run(ctx, interfaces.OpCreateKey, req.KeyName, func(ctx context.Context) (int, error) {
		var err error
		info, err = s.store.CreateKey(ctx, req.KeyName, req.Type, req.Options)
		return info.CurrentVersion, err
	})
	return info, err
}

// RotateKey adds a new current version to a key.
func (s *Service) RotateKey(ctx context.Context, keyName string) (kms.KeyInfo, error) {
	var info kms.KeyInfo
	err := s.run(ctx, interfaces.OpRotateKey, keyName, func(ctx context.Context) (int, error) {
		var err error
		info, err = s.store.RotateKey(ctx, keyName)
		return info.CurrentVersion, err
	})
	return info, err
}

// UpdateKeyConfig changes the mutable settings of a key.
func (s *Service) UpdateKeyConfig(ctx context.Context, req UpdateKeyConfigRequest) (kms.KeyInfo, error) {
	var info kms.KeyInfo
	err := s.run(ctx, interfaces.OpUpdateKeyConfig, req.KeyName, func(ctx context.Context) (int, error) {
		var err error
		info, err = s.store.UpdateKeyConfig(ctx, req.KeyName, req.Update)
		return 0, err
	})
	return info, err
}

// DeleteKey soft-deletes a key, or removes it for good when req.Hard is set.
func (s *Service) DeleteKey(ctx context.Context, req DeleteKeyRequest) error {
	return s.run(ctx, interfaces.OpDeleteKey, req.KeyName, func(ctx context.Context) (int, error) {
		return 0, s.store.DeleteKey(ctx, req.KeyName, req.Hard)
	})
}

// UndeleteKey restores a soft-deleted key.
func (s *Service) UndeleteKey(ctx context.Context, keyName string) (kms.KeyInfo, error) {
	var info kms.KeyInfo
	err := s.run(ctx, interfaces.OpUndeleteKey, keyName, func(ctx context.Context) (int, error) {
		var err error
		info, err = s.store.UndeleteKey(ctx, keyName)
		return 0, err
	})
	return info, err
}

// DestroyVersion wipes the material of one key version.
func (s *Service) DestroyVersion(ctx context.Context, req DestroyVersionRequest) error {
	return s.run(ctx, interfaces.OpDestroyVersion, req.KeyName, func(ctx context.Context) (int, error) {
		return req.Version, s.store.DestroyVersion(ctx, req.KeyName, req.Version)
	})
}

// Export returns the raw material of an exportable key.
func (s *Service) Export(ctx context.Context, req ExportRequest) (kms.ExportResult, error) {
	var res kms.ExportResult
	err := s.run(ctx, interfaces.OpExport, req.KeyName, func(ctx context.Context) (int, error) {
		var err error
		res, err = s.store.Export(ctx, req.KeyName, req.Version)
		return res.Version, err
	})
	return res, err
}

// GetKeyInfo returns key metadata. It works while sealed.
func (s *Service) GetKeyInfo(ctx context.Context, keyName string) (kms.KeyInfo, error) {
	var info kms.KeyInfo
	err := s.run(ctx, interfaces.OpGetKeyInfo, keyName, func(ctx context.Context) (int, error) {
		var err error
		info, err = s.store.GetKeyInfo(ctx, keyName)
		return 0, err
	})
	return info, err
}

// ListKeys returns the metadata of every key, sorted by name.
func (s *Service) ListKeys(ctx context.Context) ([]kms.KeyInfo, error) {
	var keys []kms.KeyInfo
	err := s.run(ctx, interfaces.OpListKeys, "", func(ctx context.Context) (int, error) {
		var err error
		keys, err = s.store.ListKeys(ctx)
		return 0, err
	})
	return keys, err
}

// Encrypt encrypts req.Plaintext under the current key version.
func (s *Service) Encrypt(ctx context.Context, req EncryptRequest) (kms.EncryptResult, error) {
	var res kms.EncryptResult
	err := s.run(ctx, interfaces.OpEncrypt, req.KeyName, func(ctx context.Context) (int, error) {
		var err error
		res, err = s.store.Encrypt(ctx, req.KeyName, req.Plaintext, req.Context)
		return res.KeyVersion, err
	})
	return res, err
}

// Decrypt opens a ciphertext produced by Encrypt.
func (s *Service) Decrypt(ctx context.Context, req DecryptRequest) (DecryptResponse, error) {
	var res DecryptResponse
	err := s.run(ctx, interfaces.OpDecrypt, req.KeyName, func(ctx context.Context) (int, error) {
		var err error
		res.Plaintext, err = s.store.Decrypt(ctx, req.KeyName, req.Ciphertext, req.Context)
		return 0, err
	})
	return res, err
}

// Rewrap moves a ciphertext to the current key version.
func (s *Service) Rewrap(ctx context.Context, req RewrapRequest) (kms.EncryptResult, error) {
	var res kms.EncryptResult
	err := s.run(ctx, interfaces.OpRewrap, req.KeyName, func(ctx context.Context) (int, error) {
		var err error
		res, err = s.store.Rewrap(ctx, req.KeyName, req.Ciphertext, req.Context)
		return res.KeyVersion, err
	})
	return res, err
}

// Sign signs req.Input with the current key version.
func (s *Service) Sign(ctx context.Context, req SignRequest) (kms.SignResult, error) {
	var res kms.SignResult
	err := s.run(ctx, interfaces.OpSign, req.KeyName, func(ctx context.Context) (int, error) {
		var err error
		res, err = s.store.Sign(ctx, req.KeyName, req.Input, req.Algorithm)
		return res.KeyVersion, err
	})
	return res, err
}

// Verify checks a signature. An invalid signature is not an error.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (VerifyResponse, error) {
	var res VerifyResponse
	err := s.run(ctx, interfaces.OpVerify, req.KeyName, func(ctx context.Context) (int, error) {
		var err error
		res.Valid, err = s.store.Verify(ctx, req.KeyName, req.Input, req.Signature, req.Algorithm)
		return 0, err
	})
	return res, err
}

// GenerateDatakey returns a fresh data key wrapped under the named key.
func (s *Service) GenerateDatakey(ctx context.Context, req DatakeyRequest) (kms.DatakeyResult, error) {
	var res kms.DatakeyResult
	err := s.run(ctx, interfaces.OpGenerateDatakey, req.KeyName, func(ctx context.Context) (int, error) {
		var err error
		res, err = s.store.GenerateDatakey(ctx, req.KeyName, req.Bits, req.WrappedOnly, req.Context)
		return res.KeyVersion, err
	})
	return res, err
}
