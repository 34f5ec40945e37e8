package clients

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/nubster/egide/api"
	"github.com/nubster/egide/kms"
)

func (c *Client) ListKeys(ctx context.Context) ([]kms.KeyInfo, error) {
	var resp api.ListKeysResponse
	if err := c.do(ctx, http.MethodGet, "/v1/kms/keys", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// CreateKey creates name with type keyType (e.g. "aes256", "ed25519").
func (c *Client) CreateKey(ctx context.Context, name, keyType string, opts kms.CreateKeyOptions) (*kms.KeyInfo, error) {
	var info kms.KeyInfo
	err := c.do(ctx, http.MethodPost, "/v1/kms/keys", nil, api.CreateKeyRequest{
		Name:             name,
		Type:             keyType,
		CreateKeyOptions: opts,
	}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) GetKey(ctx context.Context, name string) (*kms.KeyInfo, error) {
	var info kms.KeyInfo
	if err := c.do(ctx, http.MethodGet, keyPath("/v1/kms/keys/%s", name), nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) UpdateKeyConfig(ctx context.Context, name string, update kms.KeyConfigUpdate) (*kms.KeyInfo, error) {
	var info kms.KeyInfo
	if err := c.do(ctx, http.MethodPatch, keyPath("/v1/kms/keys/%s", name), nil, update, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) RotateKey(ctx context.Context, name string) (*kms.KeyInfo, error) {
	var info kms.KeyInfo
	if err := c.do(ctx, http.MethodPost, keyPath("/v1/kms/keys/%s/rotate", name), nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteKey soft-deletes name, or removes it irreversibly when hard is set.
func (c *Client) DeleteKey(ctx context.Context, name string, hard bool) error {
	var query url.Values
	if hard {
		query = url.Values{"hard": []string{"true"}}
	}
	return c.do(ctx, http.MethodDelete, keyPath("/v1/kms/keys/%s", name), query, nil, nil)
}

func (c *Client) UndeleteKey(ctx context.Context, name string) (*kms.KeyInfo, error) {
	var info kms.KeyInfo
	if err := c.do(ctx, http.MethodPost, keyPath("/v1/kms/keys/%s/undelete", name), nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Export returns the raw material of version, or of the current version when
// version is 0.
func (c *Client) Export(ctx context.Context, name string, version int) (*kms.ExportResult, error) {
	var query url.Values
	if version > 0 {
		query = url.Values{"version": []string{strconv.Itoa(version)}}
	}
	var res kms.ExportResult
	if err := c.do(ctx, http.MethodGet, keyPath("/v1/kms/keys/%s/export", name), query, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) DestroyVersion(ctx context.Context, name string, version int) error {
	return c.do(ctx, http.MethodDelete, keyPath("/v1/kms/keys/%s/versions/%d", name, version), nil, nil, nil)
}
