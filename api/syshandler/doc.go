// Package syshandler serves the seal lifecycle over HTTP.
//
// # Endpoints
//
//   - GET  /v1/sys/init                  initialization status
//   - POST /v1/sys/init                  threshold initialization, returns shares and root token
//   - GET  /v1/sys/seal-status           seal state and unseal progress
//   - POST /v1/sys/unseal                submit one share, or reset progress
//   - POST /v1/sys/seal                  zeroize the master key (root token)
//   - GET|POST|DELETE /v1/sys/generate-root/attempt
//   - POST /v1/sys/generate-root/update  submit one share to the attempt
//
// Init, unseal, seal-status and generate-root are unauthenticated: holding
// shares is the credential. Unseal and generate-root are rate limited per
// client address.
//
// # Share Encoding
//
// Shares are returned in both hex and base64 and accepted in either form.
package syshandler
