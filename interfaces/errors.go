package interfaces

import (
	"errors"
)

// Error taxonomy shared by every package. Callers match with errors.Is; the
// packages wrap these with context using fmt.Errorf("%w: ...").
var (
	// ErrSealed is returned by any operation that needs the master key while
	// the seal manager is sealed or sealing.
	ErrSealed = errors.New("egide is sealed")

	// ErrNotFound is returned for missing keys, key versions and storage entries.
	// Soft-deleted keys are reported as not found for every operation except
	// metadata reads.
	ErrNotFound = errors.New("not found")

	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidCiphertext is returned for structurally invalid ciphertexts and
	// signatures, before any cryptographic work is done.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")

	// ErrDecryptionFailed is the single, cause-hiding decryption failure. It is
	// never wrapped with detail.
	ErrDecryptionFailed = errors.New("decryption failed")

	ErrVersionNotAllowed = errors.New("key version not allowed")
	ErrExportDisabled    = errors.New("key export disabled")
	ErrDeletionDisabled  = errors.New("key deletion disabled")

	// ErrInvalidUnsealKey is returned when reconstruction of the master key
	// fails verification. It never identifies the offending share.
	ErrInvalidUnsealKey = errors.New("invalid unseal key")

	// ErrCryptoBackend signals a fatal, unretryable failure of a primitive.
	ErrCryptoBackend = errors.New("crypto backend error")

	ErrOperationNotAllowed = errors.New("operation not allowed")
	ErrKeyDisabled         = errors.New("key disabled")
	ErrAlreadyInitialized  = errors.New("already initialized")
	ErrNotInitialized      = errors.New("not initialized")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrUnauthorized        = errors.New("unauthorized")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrSealed, "sealed"},
	{ErrNotFound, "not_found"},
	{ErrAlreadyExists, "already_exists"},
	{ErrInvalidCiphertext, "invalid_ciphertext"},
	{ErrDecryptionFailed, "decryption_failed"},
	{ErrVersionNotAllowed, "version_not_allowed"},
	{ErrExportDisabled, "export_disabled"},
	{ErrDeletionDisabled, "deletion_disabled"},
	{ErrInvalidUnsealKey, "invalid_unseal_key"},
	{ErrCryptoBackend, "crypto_backend"},
	{ErrOperationNotAllowed, "operation_not_allowed"},
	{ErrKeyDisabled, "key_disabled"},
	{ErrAlreadyInitialized, "already_initialized"},
	{ErrNotInitialized, "not_initialized"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrUnauthorized, "unauthorized"},
	{ErrBackendUnavailable, "backend_unavailable"},
	{ErrTxnConflict, "txn_conflict"},
}

// ErrorKind maps an error onto a stable identifier used in events, metrics
// labels and API responses. A nil error is "ok"; unknown errors are "internal".
func ErrorKind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// ErrorForKind is the inverse of ErrorKind. It returns nil for "ok" and for
// unknown kinds.
func ErrorForKind(kind string) error {
	for _, k := range errorKinds {
		if k.kind == kind {
			return k.err
		}
	}
	return nil
}
