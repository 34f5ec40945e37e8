package clients

import (
	"context"
	"net/http"

	"github.com/nubster/egide/api"
	"github.com/nubster/egide/cryptoutils"
	"github.com/nubster/egide/kms"
)

// Encrypt encrypts plaintext under name. encContext may be nil except for
// convergent keys.
func (c *Client) Encrypt(ctx context.Context, name string, plaintext, encContext []byte) (*kms.EncryptResult, error) {
	var resp api.EncryptResponse
	err := c.do(ctx, http.MethodPost, keyPath("/v1/transit/encrypt/%s", name), nil, api.EncryptRequest{
		Plaintext: plaintext,
		Context:   encContext,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &kms.EncryptResult{Ciphertext: resp.Ciphertext, KeyVersion: resp.KeyVersion}, nil
}

func (c *Client) Decrypt(ctx context.Context, name, ciphertext string, encContext []byte) ([]byte, error) {
	var resp api.DecryptResponse
	err := c.do(ctx, http.MethodPost, keyPath("/v1/transit/decrypt/%s", name), nil, api.DecryptRequest{
		Ciphertext: ciphertext,
		Context:    encContext,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Plaintext, nil
}

func (c *Client) Rewrap(ctx context.Context, name, ciphertext string, encContext []byte) (*kms.EncryptResult, error) {
	var resp api.RewrapResponse
	err := c.do(ctx, http.MethodPost, keyPath("/v1/transit/rewrap/%s", name), nil, api.RewrapRequest{
		Ciphertext: ciphertext,
		Context:    encContext,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &kms.EncryptResult{Ciphertext: resp.Ciphertext, KeyVersion: resp.KeyVersion}, nil
}

// BatchEncrypt encrypts every item. Per-item failures are returned in the
// results, not as an error.
func (c *Client) BatchEncrypt(ctx context.Context, name string, items []api.BatchItem) ([]api.BatchResult, error) {
	var resp api.EncryptResponse
	err := c.do(ctx, http.MethodPost, keyPath("/v1/transit/encrypt/%s", name), nil, api.EncryptRequest{BatchInput: items}, &resp)
	return resp.BatchResults, err
}

func (c *Client) BatchDecrypt(ctx context.Context, name string, items []api.BatchItem) ([]api.BatchResult, error) {
	var resp api.DecryptResponse
	err := c.do(ctx, http.MethodPost, keyPath("/v1/transit/decrypt/%s", name), nil, api.DecryptRequest{BatchInput: items}, &resp)
	return resp.BatchResults, err
}

func (c *Client) BatchRewrap(ctx context.Context, name string, items []api.BatchItem) ([]api.BatchResult, error) {
	var resp api.RewrapResponse
	err := c.do(ctx, http.MethodPost, keyPath("/v1/transit/rewrap/%s", name), nil, api.RewrapRequest{BatchInput: items}, &resp)
	return resp.BatchResults, err
}

// Sign returns the signature of input in wire form.
func (c *Client) Sign(ctx context.Context, name string, input []byte, alg cryptoutils.SignatureAlgorithm) (*kms.SignResult, error) {
	var res kms.SignResult
	err := c.do(ctx, http.MethodPost, keyPath("/v1/transit/sign/%s", name), nil, api.SignRequest{
		Input:     input,
		Algorithm: alg,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Verify(ctx context.Context, name string, input []byte, signature string, alg cryptoutils.SignatureAlgorithm) (bool, error) {
	var resp api.VerifyResponse
	err := c.do(ctx, http.MethodPost, keyPath("/v1/transit/verify/%s", name), nil, api.VerifyRequest{
		Input:     input,
		Signature: signature,
		Algorithm: alg,
	}, &resp)
	return resp.Valid, err
}

// GenerateDatakey returns a new data key of bits length wrapped under name,
// with its plaintext unless wrappedOnly is set.
func (c *Client) GenerateDatakey(ctx context.Context, name string, bits int, wrappedOnly bool, encContext []byte) (*kms.DatakeyResult, error) {
	var res kms.DatakeyResult
	err := c.do(ctx, http.MethodPost, keyPath("/v1/transit/datakey/%s", name), nil, api.DatakeyRequest{
		Bits:        bits,
		WrappedOnly: wrappedOnly,
		Context:     encContext,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
