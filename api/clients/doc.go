/*
Package clients provides the Go client for the egide HTTP API.

A single Client covers the three route groups:

  - sys: Init, InitStatus, SealStatus, Unseal, ResetUnseal, Seal and the
    GenerateRoot* calls
  - kms: ListKeys, CreateKey, GetKey, UpdateKeyConfig, RotateKey, DeleteKey,
    UndeleteKey, Export, DestroyVersion
  - transit: Encrypt, Decrypt, Rewrap, their Batch* variants, Sign, Verify,
    GenerateDatakey

# Errors

Non-2xx responses are returned as *APIError. It unwraps to the sentinel of
package interfaces named by the response kind, so

	_, err := c.Decrypt(ctx, "orders", ct, nil)
	if errors.Is(err, interfaces.ErrDecryptionFailed) {
		...
	}

works the same against the server as against an in-process kms.Store.

# Usage

	c := clients.NewClient(os.Getenv("EGIDE_ADDR"), os.Getenv("EGIDE_TOKEN"))
	res, err := c.Encrypt(ctx, "orders", []byte("4111 1111 1111 1111"), nil)
*/
package clients
