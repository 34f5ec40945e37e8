// Package interfaces defines the contracts shared by the Egide packages,
// separating them from their implementations.
//
// # Storage Interfaces
//
// StorageBackend: byte-oriented key-value storage with a transaction primitive.
// The seal manager keeps its configuration and root token hash there, and the
// key store keeps key metadata and wrapped version material.
//
// StorageBackendFactory: creates storage backends from URI strings.
//
// # Error Taxonomy
//
// All packages report failures through the sentinel errors in errors.go,
// wrapped with context. ErrorKind maps an error to a stable string.
//
// # Callbacks
//
// Authorization, authentication and audit are external to the core. The core
// accepts an Authorizer called before each operation and an EventSink called
// after it.
package interfaces
