package transit

import (
	"context"
	"fmt"

	"github.com/nubster/egide/interfaces"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// BatchEncrypt encrypts every item under req.KeyName. A failing item does not
// affect the others; results are returned in request order.
func (s *Service) BatchEncrypt(ctx context.Context, req BatchRequest) ([]BatchResult, error) {
	return s.batch(ctx, interfaces.OpEncrypt, req, func(ctx context.Context, item BatchItem) (BatchResult, error) {
		res, err := s.store.Encrypt(ctx, req.KeyName, item.Plaintext, item.Context)
		return BatchResult{Ciphertext: res.Ciphertext, KeyVersion: res.KeyVersion}, err
	})
}

func (s *Service) BatchDecrypt(ctx context.Context, req BatchRequest) ([]BatchResult, error) {
	return s.batch(ctx, interfaces.OpDecrypt, req, func(ctx context.Context, item BatchItem) (BatchResult, error) {
		pt, err := s.store.Decrypt(ctx, req.KeyName, item.Ciphertext, item.Context)
		return BatchResult{Plaintext: pt}, err
	})
}

func (s *Service) BatchRewrap(ctx context.Context, req BatchRequest) ([]BatchResult, error) {
	return s.batch(ctx, interfaces.OpRewrap, req, func(ctx context.Context, item BatchItem) (BatchResult, error) {
		res, err := s.store.Rewrap(ctx, req.KeyName, item.Ciphertext, item.Context)
		return BatchResult{Ciphertext: res.Ciphertext, KeyVersion: res.KeyVersion}, err
	})
}

// batch authorizes once for the whole request and then runs every item,
// recording each one as its own operation. Only request-level failures are
// returned as errors.
func (s *Service) batch(ctx context.Context, op interfaces.Operation, req BatchRequest, fn func(context.Context, BatchItem) (BatchResult, error)) ([]BatchResult, error) {
	ctx, span := s.startSpan(ctx, op, req.KeyName)
	defer span.End()
	span.SetAttributes(attribute.Int("egide.batch_size", len(req.Items)))

	fail := func(err error) ([]BatchResult, error) {
		span.SetStatus(codes.Error, interfaces.ErrorKind(err))
		s.observe(ctx, op, req.KeyName, 0, err, s.now())
		return nil, err
	}
	if len(req.Items) > MaxBatchItems {
		return fail(fmt.Errorf("%w: batch exceeds %d items", interfaces.ErrInvalidArgument, MaxBatchItems))
	}
	if err := s.checkAuthorized(ctx, op, req.KeyName); err != nil {
		return fail(err)
	}
	if s.operations != nil {
		s.operations.ObserveBatch(string(op), len(req.Items))
	}

	results := make([]BatchResult, len(req.Items))
	failed := 0
	for i, item := range req.Items {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		started := s.now()
		res, err := fn(ctx, item)
		if err != nil {
			failed++
			res = BatchResult{Error: err.Error(), ErrorKind: interfaces.ErrorKind(err)}
		}
		results[i] = res
		s.observe(ctx, op, req.KeyName, res.KeyVersion, err, started)
	}

	span.SetAttributes(attribute.Int("egide.batch_failed", failed))
	return results, nil
}
