package syshandler

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/nubster/egide/api"
	"github.com/nubster/egide/common"
	"github.com/nubster/egide/interfaces"
	"github.com/nubster/egide/seal"
)

// Handler serves the seal lifecycle endpoints under /v1/sys.
type Handler struct {
	seal    *seal.Manager
	limiter *api.ClientLimiter
	log     *slog.Logger
}

// NewHandler creates a sys handler. A nil limiter disables rate limiting of
// the share submission endpoints.
func NewHandler(m *seal.Manager, limiter *api.ClientLimiter, log *slog.Logger) *Handler {
	return &Handler{
		seal:    m,
		limiter: limiter,
		log:     log,
	}
}

// RegisterRoutes registers the sys routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1/sys", func(r chi.Router) {
		r.Get("/init", h.HandleInitStatus)
		r.Post("/init", h.HandleInit)
		r.Get("/seal-status", h.HandleSealStatus)
		r.With(h.limiter.Middleware).Post("/unseal", h.HandleUnseal)
		r.Post("/seal", h.HandleSeal)

		r.Route("/generate-root", func(r chi.Router) {
			r.Use(h.limiter.Middleware)
			r.Get("/attempt", h.HandleGenerateRootStatus)
			r.Post("/attempt", h.HandleGenerateRootInit)
			r.Delete("/attempt", h.HandleGenerateRootCancel)
			r.Post("/update", h.HandleGenerateRootUpdate)
		})
	})
}

// HandleInitStatus reports whether the server has been initialized.
//
// Endpoint: GET /v1/sys/init
func (h *Handler) HandleInitStatus(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, api.InitStatusResponse{Initialized: h.seal.Status().Initialized})
}

// HandleInit generates the master key and returns its shares and the root
// token. The response is the only place these values ever appear.
//
// Endpoint: POST /v1/sys/init
func (h *Handler) HandleInit(w http.ResponseWriter, r *http.Request) {
	var req api.InitRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	res, err := h.seal.Initialize(r.Context(), req.SecretShares, req.SecretThreshold)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	resp := api.InitResponse{RootToken: res.RootToken}
	for _, share := range res.Shares {
		resp.Keys = append(resp.Keys, hex.EncodeToString(share))
		resp.KeysBase64 = append(resp.KeysBase64, base64.StdEncoding.EncodeToString(share))
	}
	h.log.Info("Initialization requested", "shares", req.SecretShares, "threshold", req.SecretThreshold)
	api.WriteJSON(w, http.StatusOK, resp)
}

// HandleSealStatus returns the seal state and unseal progress.
//
// Endpoint: GET /v1/sys/seal-status
func (h *Handler) HandleSealStatus(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.sealStatus())
}

func (h *Handler) sealStatus() api.SealStatusResponse {
	return api.SealStatusResponse{Status: h.seal.Status(), Version: common.Version}
}

// HandleUnseal submits one unseal share, or discards the submitted shares
// when reset is set.
//
// Endpoint: POST /v1/sys/unseal
func (h *Handler) HandleUnseal(w http.ResponseWriter, r *http.Request) {
	var req api.UnsealRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	if req.Reset {
		h.seal.ResetUnseal()
		if req.Key == "" {
			api.WriteJSON(w, http.StatusOK, h.sealStatus())
			return
		}
	}

	share, err := DecodeShare(req.Key)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	status, err := h.seal.Unseal(r.Context(), share)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SealStatusResponse{Status: status, Version: common.Version})
}

// HandleSeal zeroizes the master key. It requires the root token.
//
// Endpoint: POST /v1/sys/seal
func (h *Handler) HandleSeal(w http.ResponseWriter, r *http.Request) {
	token := api.TokenFromRequest(r)
	if token == "" {
		api.WriteJSON(w, http.StatusUnauthorized, api.ErrorResponse{
			Error: "missing token",
			Kind:  interfaces.ErrorKind(interfaces.ErrUnauthorized),
		})
		return
	}

	if err := h.seal.Seal(r.Context(), token); err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGenerateRootStatus reports the generate-root attempt.
//
// Endpoint: GET /v1/sys/generate-root/attempt
func (h *Handler) HandleGenerateRootStatus(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.seal.GenerateRootStatus())
}

// HandleGenerateRootInit opens a generate-root attempt bound to the caller's
// one-time pad.
//
// Endpoint: POST /v1/sys/generate-root/attempt
func (h *Handler) HandleGenerateRootInit(w http.ResponseWriter, r *http.Request) {
	var req api.GenerateRootInitRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	otp, err := base64.StdEncoding.DecodeString(req.OTP)
	if err != nil {
		api.WriteError(w, h.log, fmt.Errorf("%w: otp is not valid base64", interfaces.ErrInvalidArgument))
		return
	}

	status, err := h.seal.GenerateRootInit(r.Context(), otp)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, status)
}

// HandleGenerateRootCancel discards the attempt.
//
// Endpoint: DELETE /v1/sys/generate-root/attempt
func (h *Handler) HandleGenerateRootCancel(w http.ResponseWriter, r *http.Request) {
	h.seal.GenerateRootCancel()
	w.WriteHeader(http.StatusNoContent)
}

// HandleGenerateRootUpdate submits one share to the attempt. The response of
// the final share carries the encoded root token.
//
// Endpoint: POST /v1/sys/generate-root/update
func (h *Handler) HandleGenerateRootUpdate(w http.ResponseWriter, r *http.Request) {
	var req api.GenerateRootUpdateRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	share, err := DecodeShare(req.Key)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	status, err := h.seal.GenerateRootUpdate(r.Context(), req.Nonce, share)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, status)
}

// DecodeShare accepts a share in hex or standard base64.
func DecodeShare(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: key is required", interfaces.ErrInvalidArgument)
	}
	fromHex, hexErr := hex.DecodeString(key)
	if hexErr == nil && len(fromHex) == seal.ShareSize {
		return fromHex, nil
	}
	if share, err := base64.StdEncoding.DecodeString(key); err == nil {
		return share, nil
	}
	if hexErr == nil {
		return fromHex, nil
	}
	return nil, fmt.Errorf("%w: key must be hex or base64", interfaces.ErrInvalidArgument)
}
