package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nubster/egide/interfaces"
)

// MaxRequestBytes bounds every request body.
const MaxRequestBytes = 32 << 20

var statusByKind = map[string]int{
	"sealed":                http.StatusServiceUnavailable,
	"backend_unavailable":   http.StatusServiceUnavailable,
	"not_found":             http.StatusNotFound,
	"already_exists":        http.StatusConflict,
	"already_initialized":   http.StatusConflict,
	"txn_conflict":          http.StatusConflict,
	"invalid_ciphertext":    http.StatusBadRequest,
	"invalid_argument":      http.StatusBadRequest,
	"version_not_allowed":   http.StatusBadRequest,
	"invalid_unseal_key":    http.StatusBadRequest,
	"decryption_failed":     http.StatusBadRequest,
	"not_initialized":       http.StatusBadRequest,
	"unauthorized":          http.StatusForbidden,
	"export_disabled":       http.StatusForbidden,
	"deletion_disabled":     http.StatusForbidden,
	"operation_not_allowed": http.StatusForbidden,
	"key_disabled":          http.StatusForbidden,
	"crypto_backend":        http.StatusInternalServerError,
}

// StatusFor maps an error onto an HTTP status code.
func StatusFor(err error) int {
	if status, ok := statusByKind[interfaces.ErrorKind(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as an ErrorResponse. Internal errors are logged and
// replaced with a generic message.
func WriteError(w http.ResponseWriter, log *slog.Logger, err error) {
	kind := interfaces.ErrorKind(err)
	WriteJSON(w, StatusFor(err), ErrorResponse{Error: PublicMessage(log, kind, err.Error()), Kind: kind})
}

// PublicMessage returns the error text a client may see for an error of kind.
// Detail of internal and crypto backend failures is logged instead.
func PublicMessage(log *slog.Logger, kind, detail string) string {
	switch kind {
	case "internal":
		log.Error("Request failed", "err", detail)
		return "internal error"
	case "crypto_backend":
		log.Error("Crypto backend failure", "err", detail)
		return interfaces.ErrCryptoBackend.Error()
	}
	return detail
}

// DecodeJSON reads a JSON body into v, rejecting unknown fields and bodies
// larger than MaxRequestBytes. Decoding failures are ErrInvalidArgument.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: request body exceeds %d bytes", interfaces.ErrInvalidArgument, maxErr.Limit)
		}
		return fmt.Errorf("%w: failed to decode request: %w", interfaces.ErrInvalidArgument, err)
	}
	return nil
}
