package api

import (
	"github.com/nubster/egide/cryptoutils"
	"github.com/nubster/egide/kms"
	"github.com/nubster/egide/seal"
)

// Request and response bodies of the HTTP API. Binary fields ([]byte) travel
// as standard base64 strings.

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	// Kind is the stable error identifier, see interfaces.ErrorKind.
	Kind string `json:"kind"`
}

// InitRequest starts threshold initialization.
type InitRequest struct {
	SecretShares    int `json:"secret_shares"`
	SecretThreshold int `json:"secret_threshold"`
}

// InitResponse carries the unseal shares and the root token. It is returned
// exactly once.
type InitResponse struct {
	// Keys are the shares in hex, KeysBase64 the same shares in base64.
	Keys       []string `json:"keys"`
	KeysBase64 []string `json:"keys_base64"`
	RootToken  string   `json:"root_token"`
}

type InitStatusResponse struct {
	Initialized bool `json:"initialized"`
}

// SealStatusResponse is seal.Status plus the server version.
type SealStatusResponse struct {
	seal.Status
	Version string `json:"version"`
}

// UnsealRequest submits one share, hex or base64 encoded. Reset discards the
// shares submitted so far; Key may then be empty.
type UnsealRequest struct {
	Key   string `json:"key"`
	Reset bool   `json:"reset"`
}

// GenerateRootInitRequest opens a generate-root attempt. OTP is the base64
// one-time pad the new token will be XORed with.
type GenerateRootInitRequest struct {
	OTP string `json:"otp"`
}

// GenerateRootUpdateRequest submits one share to the open attempt.
type GenerateRootUpdateRequest struct {
	Nonce string `json:"nonce"`
	Key   string `json:"key"`
}

// GenerateRootStatusResponse mirrors seal.GenerateRootStatus.
type GenerateRootStatusResponse = seal.GenerateRootStatus

// CreateKeyRequest creates a named key. Type accepts the aliases understood
// by cryptoutils.ParseKeyType.
type CreateKeyRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
	kms.CreateKeyOptions
}

type KeyResponse = kms.KeyInfo

type ListKeysResponse struct {
	Keys []kms.KeyInfo `json:"keys"`
}

type UpdateKeyConfigRequest = kms.KeyConfigUpdate

type ExportResponse = kms.ExportResult

// BatchItem is one entry of batch_input.
type BatchItem struct {
	Plaintext  []byte `json:"plaintext,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
	Context    []byte `json:"context,omitempty"`
}

// BatchResult is one entry of batch_results, in request order.
type BatchResult struct {
	Ciphertext string `json:"ciphertext,omitempty"`
	Plaintext  []byte `json:"plaintext,omitempty"`
	KeyVersion int    `json:"key_version,omitempty"`
	Error      string `json:"error,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

// EncryptRequest encrypts a single plaintext, or every item of BatchInput
// when it is non-empty.
type EncryptRequest struct {
	Plaintext  []byte      `json:"plaintext,omitempty"`
	Context    []byte      `json:"context,omitempty"`
	BatchInput []BatchItem `json:"batch_input,omitempty"`
}

type EncryptResponse struct {
	Ciphertext   string        `json:"ciphertext,omitempty"`
	KeyVersion   int           `json:"key_version,omitempty"`
	BatchResults []BatchResult `json:"batch_results,omitempty"`
}

type DecryptRequest struct {
	Ciphertext string      `json:"ciphertext,omitempty"`
	Context    []byte      `json:"context,omitempty"`
	BatchInput []BatchItem `json:"batch_input,omitempty"`
}

type DecryptResponse struct {
	Plaintext    []byte        `json:"plaintext,omitempty"`
	BatchResults []BatchResult `json:"batch_results,omitempty"`
}

type RewrapRequest = DecryptRequest

type RewrapResponse = EncryptResponse

type SignRequest struct {
	Input     []byte                         `json:"input"`
	Algorithm cryptoutils.SignatureAlgorithm `json:"algorithm,omitempty"`
}

type SignResponse = kms.SignResult

// VerifyRequest checks a signature in wire form or bare base64.
type VerifyRequest struct {
	Input     []byte                         `json:"input"`
	Signature string                         `json:"signature"`
	Algorithm cryptoutils.SignatureAlgorithm `json:"algorithm,omitempty"`
}

type VerifyResponse struct {
	Valid bool `json:"valid"`
}

// DatakeyRequest generates a data key. Bits defaults to 256.
type DatakeyRequest struct {
	Bits        int    `json:"bits,omitempty"`
	WrappedOnly bool   `json:"wrapped_only,omitempty"`
	Context     []byte `json:"context,omitempty"`
}

type DatakeyResponse = kms.DatakeyResult
