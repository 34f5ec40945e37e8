// Package kms stores named, versioned keys wrapped under the master key and
// performs every key lifecycle and cryptographic operation with them.
//
// # Storage layout
//
// Each key occupies two kinds of entries in the storage collaborator:
//
//	kms/keys/<name>/meta                 key metadata (JSON)
//	kms/keys/<name>/versions/0000000001  one record per version (JSON)
//
// Version records are append-only. Their material is sealed with AES-256-GCM
// under HKDF(master, "egide/kms/wrap/v1") and bound to "<name>/<version>" as
// associated data, so a record copied to another key or version fails to
// unwrap. Destroying a version drops its wrapped material but keeps the number
// allocated.
//
// New versions are written in a single storage transaction: the version record
// first, the metadata that advances current_version last.
//
// # Concurrency
//
// Writers on the same key name (create, rotate, config updates, delete) are
// serialized by a per-name mutex and re-read metadata inside the transaction.
// Encrypt, Decrypt, Sign and Verify take no store-level locks. They borrow the
// master key through MasterKeySource for the duration of one unwrap and never
// nest borrows, which keeps seal.Manager able to drain them before wiping.
//
// # Usage
//
//	store := kms.NewStore(sealManager, backend, logger)
//	info, err := store.CreateKey(ctx, "payments", cryptoutils.KeyTypeAES256, kms.CreateKeyOptions{})
//	res, err := store.Encrypt(ctx, "payments", []byte("4111 1111 1111 1111"), nil)
//	// res.Ciphertext == "egide:1:payments:1:..."
//	plaintext, err := store.Decrypt(ctx, "payments", res.Ciphertext, nil)
//
// Tenants are isolated by giving each one its own Store over a
// storage.NewTenantBackend prefix.
package kms
