package kms

import (
	"fmt"
	"regexp"
	"time"

	"github.com/nubster/egide/cryptoutils"
	"github.com/nubster/egide/interfaces"
)

var keyNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// ValidateKeyName checks that name can be stored and embedded in ciphertexts.
func ValidateKeyName(name string) error {
	if !keyNamePattern.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: invalid key name %q", interfaces.ErrInvalidArgument, name)
	}
	return nil
}

// keyMeta is the persisted key record. Version records live next to it and
// are never rewritten except to mark them destroyed.
type keyMeta struct {
	Name                 string              `json:"name"`
	Type                 cryptoutils.KeyType `json:"type"`
	CurrentVersion       int                 `json:"current_version"`
	MinEncryptionVersion int                 `json:"min_encryption_version"`
	MinDecryptionVersion int                 `json:"min_decryption_version"`
	DeletionAllowed      bool                `json:"deletion_allowed"`
	Exportable           bool                `json:"exportable"`
	Convergent           bool                `json:"convergent"`
	Disabled             bool                `json:"disabled"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
	DeletedAt            *time.Time          `json:"deleted_at,omitempty"`
}

type versionRecord struct {
	Version         int        `json:"version"`
	WrappedMaterial []byte     `json:"wrapped_material,omitempty"`
	PublicKey       []byte     `json:"public_key,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	DestroyedAt     *time.Time `json:"destroyed_at,omitempty"`
}

func (v *versionRecord) destroyed() bool {
	return v.DestroyedAt != nil
}

// CreateKeyOptions are the policy flags fixed at key creation.
type CreateKeyOptions struct {
	Exportable      bool `json:"exportable"`
	DeletionAllowed bool `json:"deletion_allowed"`
	Convergent      bool `json:"convergent"`
}

// KeyConfigUpdate changes key policy. Nil fields are left untouched.
type KeyConfigUpdate struct {
	MinDecryptionVersion *int  `json:"min_decryption_version,omitempty"`
	MinEncryptionVersion *int  `json:"min_encryption_version,omitempty"`
	DeletionAllowed      *bool `json:"deletion_allowed,omitempty"`
	Exportable           *bool `json:"exportable,omitempty"`
	Disabled             *bool `json:"disabled,omitempty"`
}

// VersionInfo is the public view of a key version.
type VersionInfo struct {
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	DestroyedAt *time.Time `json:"destroyed_at,omitempty"`
	PublicKey   []byte     `json:"public_key,omitempty"`
}

// KeyInfo is the public view of a key. It never contains material.
type KeyInfo struct {
	Name                 string              `json:"name"`
	Type                 cryptoutils.KeyType `json:"type"`
	CurrentVersion       int                 `json:"current_version"`
	MinEncryptionVersion int                 `json:"min_encryption_version"`
	MinDecryptionVersion int                 `json:"min_decryption_version"`
	DeletionAllowed      bool                `json:"deletion_allowed"`
	Exportable           bool                `json:"exportable"`
	Convergent           bool                `json:"convergent"`
	Disabled             bool                `json:"disabled"`
	SupportsEncryption   bool                `json:"supports_encryption"`
	SupportsSigning      bool                `json:"supports_signing"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
	DeletedAt            *time.Time          `json:"deleted_at,omitempty"`
	Versions             []VersionInfo       `json:"versions,omitempty"`
}

func (m *keyMeta) info() KeyInfo {
	return KeyInfo{
		Name:                 m.Name,
		Type:                 m.Type,
		CurrentVersion:       m.CurrentVersion,
		MinEncryptionVersion: m.MinEncryptionVersion,
		MinDecryptionVersion: m.MinDecryptionVersion,
		DeletionAllowed:      m.DeletionAllowed,
		Exportable:           m.Exportable,
		Convergent:           m.Convergent,
		Disabled:             m.Disabled,
		SupportsEncryption:   m.Type.CanEncrypt(),
		SupportsSigning:      m.Type.CanSign(),
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
		DeletedAt:            m.DeletedAt,
	}
}

// EncryptResult is the output of Encrypt and Rewrap.
type EncryptResult struct {
	Ciphertext string `json:"ciphertext"`
	KeyVersion int    `json:"key_version"`
}

// SignResult is the output of Sign. Signature is in wire form.
type SignResult struct {
	Signature  string `json:"signature"`
	KeyVersion int    `json:"key_version"`
}

// DatakeyResult is the output of GenerateDatakey. Plaintext is nil when only
// the wrapped form was requested; the caller must wipe it after use.
type DatakeyResult struct {
	Plaintext  []byte `json:"plaintext,omitempty"`
	Ciphertext string `json:"ciphertext"`
	KeyVersion int    `json:"key_version"`
}

// ExportResult carries raw key material. Material must be wiped by the caller.
type ExportResult struct {
	Name      string              `json:"name"`
	Type      cryptoutils.KeyType `json:"type"`
	Version   int                 `json:"version"`
	Material  []byte              `json:"material"`
	PublicKey []byte              `json:"public_key,omitempty"`
}
