package kmshandler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/nubster/egide/api"
	"github.com/nubster/egide/cryptoutils"
	"github.com/nubster/egide/interfaces"
	"github.com/nubster/egide/kms"
	"github.com/nubster/egide/transit"
)

// Handler serves key management under /v1/kms. Every route requires a token.
type Handler struct {
	svc  *transit.Service
	auth interfaces.Authenticator
	log  *slog.Logger
}

// NewHandler creates a key management handler.
func NewHandler(svc *transit.Service, auth interfaces.Authenticator, log *slog.Logger) *Handler {
	return &Handler{
		svc:  svc,
		auth: auth,
		log:  log,
	}
}

// RegisterRoutes registers the key management routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1/kms/keys", func(r chi.Router) {
		r.Use(api.RequireToken(h.auth, h.log))

		r.Get("/", h.HandleListKeys)
		r.Post("/", h.HandleCreateKey)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", h.HandleGetKey)
			r.Patch("/", h.HandleUpdateKeyConfig)
			r.Delete("/", h.HandleDeleteKey)
			r.Post("/rotate", h.HandleRotateKey)
			r.Post("/undelete", h.HandleUndeleteKey)
			r.Get("/export", h.HandleExport)
			r.Delete("/versions/{version}", h.HandleDestroyVersion)
		})
	})
}

// HandleListKeys lists every key, soft-deleted keys included.
//
// Endpoint: GET /v1/kms/keys
func (h *Handler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.svc.ListKeys(r.Context())
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	if keys == nil {
		keys = []kms.KeyInfo{}
	}
	api.WriteJSON(w, http.StatusOK, api.ListKeysResponse{Keys: keys})
}

// HandleCreateKey creates a key with its first version.
//
// Endpoint: POST /v1/kms/keys
func (h *Handler) HandleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req api.CreateKeyRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	kt, err := cryptoutils.ParseKeyType(req.Type)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	info, err := h.svc.CreateKey(r.Context(), transit.CreateKeyRequest{
		KeyName: req.Name,
		Type:    kt,
		Options: req.CreateKeyOptions,
	})
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, info)
}

// HandleGetKey returns key metadata and its versions.
//
// Endpoint: GET /v1/kms/keys/{name}
func (h *Handler) HandleGetKey(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.GetKeyInfo(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, info)
}

// HandleUpdateKeyConfig changes key policy. Absent fields are left untouched.
//
// Endpoint: PATCH /v1/kms/keys/{name}
func (h *Handler) HandleUpdateKeyConfig(w http.ResponseWriter, r *http.Request) {
	var update api.UpdateKeyConfigRequest
	if err := api.DecodeJSON(w, r, &update); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	info, err := h.svc.UpdateKeyConfig(r.Context(), transit.UpdateKeyConfigRequest{
		KeyName: chi.URLParam(r, "name"),
		Update:  update,
	})
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, info)
}

// HandleDeleteKey soft-deletes a key, or removes it with ?hard=true.
//
// Endpoint: DELETE /v1/kms/keys/{name}
func (h *Handler) HandleDeleteKey(w http.ResponseWriter, r *http.Request) {
	hard := false
	if raw := r.URL.Query().Get("hard"); raw != "" {
		var err error
		hard, err = strconv.ParseBool(raw)
		if err != nil {
			api.WriteError(w, h.log, fmt.Errorf("%w: hard must be a boolean", interfaces.ErrInvalidArgument))
			return
		}
	}

	err := h.svc.DeleteKey(r.Context(), transit.DeleteKeyRequest{
		KeyName: chi.URLParam(r, "name"),
		Hard:    hard,
	})
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRotateKey adds a version and makes it current.
//
// Endpoint: POST /v1/kms/keys/{name}/rotate
func (h *Handler) HandleRotateKey(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.RotateKey(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, info)
}

// HandleUndeleteKey restores a soft-deleted key.
//
// Endpoint: POST /v1/kms/keys/{name}/undelete
func (h *Handler) HandleUndeleteKey(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.UndeleteKey(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, info)
}

// HandleExport returns raw key material of an exportable key. The optional
// ?version selects a version, the current one by default.
//
// Endpoint: GET /v1/kms/keys/{name}/export
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	version, err := optionalInt(r.URL.Query().Get("version"))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	res, err := h.svc.Export(r.Context(), transit.ExportRequest{
		KeyName: chi.URLParam(r, "name"),
		Version: version,
	})
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	defer cryptoutils.Wipe(res.Material)
	w.Header().Set("Cache-Control", "no-store")
	api.WriteJSON(w, http.StatusOK, res)
}

// HandleDestroyVersion erases the material of one version.
//
// Endpoint: DELETE /v1/kms/keys/{name}/versions/{version}
func (h *Handler) HandleDestroyVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		api.WriteError(w, h.log, fmt.Errorf("%w: version must be a positive integer", interfaces.ErrInvalidArgument))
		return
	}

	err = h.svc.DestroyVersion(r.Context(), transit.DestroyVersionRequest{
		KeyName: chi.URLParam(r, "name"),
		Version: version,
	})
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func optionalInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a valid version", interfaces.ErrInvalidArgument, raw)
	}
	return n, nil
}
