package transit

import (
	"github.com/nubster/egide/cryptoutils"
	"github.com/nubster/egide/kms"
)

// MaxBatchItems bounds the number of items of one batch request.
const MaxBatchItems = 1000

type CreateKeyRequest struct {
	KeyName string
	Type    cryptoutils.KeyType
	Options kms.CreateKeyOptions
}

type UpdateKeyConfigRequest struct {
	KeyName string
	Update  kms.KeyConfigUpdate
}

type DeleteKeyRequest struct {
	KeyName string
	Hard    bool
}

type DestroyVersionRequest struct {
	KeyName string
	Version int
}

type ExportRequest struct {
	KeyName string
	// Version 0 exports the current version.
	Version int
}

type EncryptRequest struct {
	KeyName   string
	Plaintext []byte
	Context   []byte
}

type DecryptRequest struct {
	KeyName    string
	Ciphertext string
	Context    []byte
}

type DecryptResponse struct {
	Plaintext []byte
}

type RewrapRequest struct {
	KeyName    string
	Ciphertext string
	Context    []byte
}

type SignRequest struct {
	KeyName   string
	Input     []byte
	Algorithm cryptoutils.SignatureAlgorithm
}

type VerifyRequest struct {
	KeyName   string
	Input     []byte
	Signature string
	Algorithm cryptoutils.SignatureAlgorithm
}

type VerifyResponse struct {
	Valid bool
}

type DatakeyRequest struct {
	KeyName     string
	Bits        int
	WrappedOnly bool
	Context     []byte
}

// BatchItem is one entry of a batch request. Plaintext is used by encrypt,
// Ciphertext by decrypt and rewrap.
type BatchItem struct {
	Plaintext  []byte
	Ciphertext string
	Context    []byte
}

type BatchRequest struct {
	KeyName string
	Items   []BatchItem
}

// BatchResult is the outcome of one batch item. Exactly one of the payload
// fields or Error is set.
type BatchResult struct {
	Ciphertext string
	Plaintext  []byte
	KeyVersion int
	Error      string
	ErrorKind  string
}
