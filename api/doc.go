/*
Package api holds the HTTP surface shared by the egide route handlers.

Subpackages:

 1. syshandler - seal lifecycle under /v1/sys
 2. kmshandler - key management under /v1/kms/keys
 3. transithandler - encryption as a service under /v1/transit
 4. clients - the Go client used by the egide CLI

This package itself defines the JSON request and response types, the error
to status mapping, token authentication and the per-client rate limiter.

# Authentication

Callers send the root token in the X-Egide-Token header or as
"Authorization: Bearer <token>". Init, unseal, seal-status and generate-root
are unauthenticated; everything else goes through RequireToken.

# Errors

Every error response has the body {"error": "...", "kind": "..."} where kind
is interfaces.ErrorKind of the failure:

	sealed, backend_unavailable                         503
	not_found                                           404
	already_exists, already_initialized, txn_conflict   409
	invalid_ciphertext, invalid_argument,
	version_not_allowed, invalid_unseal_key,
	decryption_failed, not_initialized                  400
	unauthorized (missing token: 401)                   403
	export_disabled, deletion_disabled,
	operation_not_allowed, key_disabled                 403
	crypto_backend, internal                            500
	rate_limited                                        429

Internal errors are logged and reported without detail.
*/
package api
