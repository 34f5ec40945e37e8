// Package storage provides the key-value backends that persist sealed state
// and wrapped key material.
//
// Every backend implements interfaces.StorageBackend: byte values addressed
// by "/" separated keys, sorted prefix listing, and a Txn primitive that
// commits a group of writes atomically.
//
//   - MemoryBackend for dev mode and tests
//   - FileBackend storing one file per key
//   - SQLiteBackend on gorm, with a write history table
//   - RedisBackend using WATCH/MULTI/EXEC optimistic transactions
//   - S3Backend for S3-compatible object stores
//   - VaultBackend on a HashiCorp Vault KV v2 mount
//
// MirrorBackend replicates the writes of a primary backend to secondaries and
// PrefixBackend confines a caller to a tenant namespace.
//
// # Storage URI Format
//
// Backends are created by StorageBackendFactory from URIs:
//
//	memory://
//	file:///var/lib/egide
//	sqlite:///var/lib/egide/egide.db
//	redis://:password@localhost:6379/0?namespace=egide/
//	s3://bucket-name/prefix?region=us-west-2
//	vault://:token@vault.example.com:8200/secret/egide?tls=true
//
// # Transactions
//
// SQLite and Redis map Txn onto native transactions. Memory, file, S3 and
// Vault backends buffer the writes and apply them in order under a
// process-local lock, so they support a single writing process only. Callers
// that span several keys write dependent records first and the record that
// makes them reachable last.
package storage
