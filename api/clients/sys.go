package clients

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/nubster/egide/api"
)

// InitStatus reports whether the server has been initialized.
func (c *Client) InitStatus(ctx context.Context) (bool, error) {
	var resp api.InitStatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/sys/init", nil, nil, &resp)
	return resp.Initialized, err
}

// Init initializes the server with shares shares of which threshold unseal it.
//
// Returns:
//   - the shares and the initial root token, which are never shown again
//   - error if the server is already initialized or the parameters are invalid
func (c *Client) Init(ctx context.Context, shares, threshold int) (*api.InitResponse, error) {
	var resp api.InitResponse
	err := c.do(ctx, http.MethodPost, "/v1/sys/init", nil, api.InitRequest{
		SecretShares:    shares,
		SecretThreshold: threshold,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SealStatus(ctx context.Context) (*api.SealStatusResponse, error) {
	var resp api.SealStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/sys/seal-status", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Unseal submits one share in hex or base64.
func (c *Client) Unseal(ctx context.Context, key string) (*api.SealStatusResponse, error) {
	return c.unseal(ctx, api.UnsealRequest{Key: key})
}

// ResetUnseal discards the shares submitted so far.
func (c *Client) ResetUnseal(ctx context.Context) (*api.SealStatusResponse, error) {
	return c.unseal(ctx, api.UnsealRequest{Reset: true})
}

func (c *Client) unseal(ctx context.Context, req api.UnsealRequest) (*api.SealStatusResponse, error) {
	var resp api.SealStatusResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sys/unseal", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Seal zeroizes the master key. It needs the root token.
func (c *Client) Seal(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/sys/seal", nil, nil, nil)
}

func (c *Client) GenerateRootStatus(ctx context.Context) (*api.GenerateRootStatusResponse, error) {
	var resp api.GenerateRootStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/sys/generate-root/attempt", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateRootInit opens a generate-root attempt bound to otp.
func (c *Client) GenerateRootInit(ctx context.Context, otp []byte) (*api.GenerateRootStatusResponse, error) {
	var resp api.GenerateRootStatusResponse
	err := c.do(ctx, http.MethodPost, "/v1/sys/generate-root/attempt", nil, api.GenerateRootInitRequest{
		OTP: base64.StdEncoding.EncodeToString(otp),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateRootUpdate submits one share to the attempt identified by nonce.
func (c *Client) GenerateRootUpdate(ctx context.Context, nonce, key string) (*api.GenerateRootStatusResponse, error) {
	var resp api.GenerateRootStatusResponse
	err := c.do(ctx, http.MethodPost, "/v1/sys/generate-root/update", nil, api.GenerateRootUpdateRequest{
		Nonce: nonce,
		Key:   key,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GenerateRootCancel(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/sys/generate-root/attempt", nil, nil, nil)
}
