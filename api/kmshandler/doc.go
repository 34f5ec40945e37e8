// Package kmshandler serves named key management over HTTP.
//
// Key components:
//   - Handler: chi routes under /v1/kms/keys backed by transit.Service, so every
//     request is authorized, traced, counted and emitted as an event
//
// Routes:
//
//	GET    /v1/kms/keys                           list keys
//	POST   /v1/kms/keys                           create {name, type, exportable, deletion_allowed, convergent}
//	GET    /v1/kms/keys/{name}                    key info with versions
//	PATCH  /v1/kms/keys/{name}                    update policy
//	DELETE /v1/kms/keys/{name}[?hard=true]        soft or hard delete
//	POST   /v1/kms/keys/{name}/rotate
//	POST   /v1/kms/keys/{name}/undelete
//	GET    /v1/kms/keys/{name}/export[?version=N]
//	DELETE /v1/kms/keys/{name}/versions/{version} destroy one version
package kmshandler
