package transithandler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nubster/egide/api"
	"github.com/nubster/egide/cryptoutils"
	"github.com/nubster/egide/interfaces"
	"github.com/nubster/egide/transit"
)

// DefaultDatakeyBits is used when a datakey request does not set bits.
const DefaultDatakeyBits = 256

// Handler serves the envelope operations under /v1/transit. Every route
// requires a token.
type Handler struct {
	svc  *transit.Service
	auth interfaces.Authenticator
	log  *slog.Logger
}

// NewHandler creates a transit handler. auth resolves request tokens.
func NewHandler(svc *transit.Service, auth interfaces.Authenticator, log *slog.Logger) *Handler {
	return &Handler{
		svc:  svc,
		auth: auth,
		log:  log,
	}
}

// RegisterRoutes registers the transit routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1/transit", func(r chi.Router) {
		r.Use(api.RequireToken(h.auth, h.log))

		r.Post("/encrypt/{name}", h.HandleEncrypt)
		r.Post("/decrypt/{name}", h.HandleDecrypt)
		r.Post("/rewrap/{name}", h.HandleRewrap)
		r.Post("/sign/{name}", h.HandleSign)
		r.Post("/verify/{name}", h.HandleVerify)
		r.Post("/datakey/{name}", h.HandleDatakey)
	})
}

// HandleEncrypt encrypts plaintext, or every entry of batch_input.
//
// Endpoint: POST /v1/transit/encrypt/{name}
func (h *Handler) HandleEncrypt(w http.ResponseWriter, r *http.Request) {
	var req api.EncryptRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	name := chi.URLParam(r, "name")

	if len(req.BatchInput) > 0 {
		results, err := h.svc.BatchEncrypt(r.Context(), batchRequest(name, req.BatchInput))
		if err != nil {
			api.WriteError(w, h.log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, api.EncryptResponse{BatchResults: h.batchResults(results)})
		return
	}

	res, err := h.svc.Encrypt(r.Context(), transit.EncryptRequest{
		KeyName:   name,
		Plaintext: req.Plaintext,
		Context:   req.Context,
	})
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.EncryptResponse{Ciphertext: res.Ciphertext, KeyVersion: res.KeyVersion})
}

// HandleDecrypt decrypts a ciphertext, or every entry of batch_input.
//
// Endpoint: POST /v1/transit/decrypt/{name}
func (h *Handler) HandleDecrypt(w http.ResponseWriter, r *http.Request) {
	var req api.DecryptRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	name := chi.URLParam(r, "name")

	if len(req.BatchInput) > 0 {
		results, err := h.svc.BatchDecrypt(r.Context(), batchRequest(name, req.BatchInput))
		if err != nil {
			api.WriteError(w, h.log, err)
			return
		}
		out := h.batchResults(results)
		api.WriteJSON(w, http.StatusOK, api.DecryptResponse{BatchResults: out})
		for _, res := range results {
			cryptoutils.Wipe(res.Plaintext)
		}
		return
	}

	res, err := h.svc.Decrypt(r.Context(), transit.DecryptRequest{
		KeyName:    name,
		Ciphertext: req.Ciphertext,
		Context:    req.Context,
	})
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	defer cryptoutils.Wipe(res.Plaintext)
	api.WriteJSON(w, http.StatusOK, api.DecryptResponse{Plaintext: res.Plaintext})
}

// HandleRewrap re-encrypts a ciphertext, or every entry of batch_input, under
// the current key version.
//
// Endpoint: POST /v1/transit/rewrap/{name}
func (h *Handler) HandleRewrap(w http.ResponseWriter, r *http.Request) {
	var req api.RewrapRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	name := chi.URLParam(r, "name")

	if len(req.BatchInput) > 0 {
		results, err := h.svc.BatchRewrap(r.Context(), batchRequest(name, req.BatchInput))
		if err != nil {
			api.WriteError(w, h.log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, api.RewrapResponse{BatchResults: h.batchResults(results)})
		return
	}

	res, err := h.svc.Rewrap(r.Context(), transit.RewrapRequest{
		KeyName:    name,
		Ciphertext: req.Ciphertext,
		Context:    req.Context,
	})
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.RewrapResponse{Ciphertext: res.Ciphertext, KeyVersion: res.KeyVersion})
}

// HandleSign signs input with the current version of the named key.
//
// Endpoint: POST /v1/transit/sign/{name}
func (h *Handler) HandleSign(w http.ResponseWriter, r *http.Request) {
	var req api.SignRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	res, err := h.svc.Sign(r.Context(), transit.SignRequest{
		KeyName:   chi.URLParam(r, "name"),
		Input:     req.Input,
		Algorithm: req.Algorithm,
	})
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

// HandleVerify reports whether a signature is valid. An invalid signature is
// a successful request with valid=false.
//
// Endpoint: POST /v1/transit/verify/{name}
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req api.VerifyRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	res, err := h.svc.Verify(r.Context(), transit.VerifyRequest{
		KeyName:   chi.URLParam(r, "name"),
		Input:     req.Input,
		Signature: req.Signature,
		Algorithm: req.Algorithm,
	})
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.VerifyResponse{Valid: res.Valid})
}

// HandleDatakey generates a data key encrypted under the named key. The
// plaintext is omitted when wrapped_only is set.
//
// Endpoint: POST /v1/transit/datakey/{name}
func (h *Handler) HandleDatakey(w http.ResponseWriter, r *http.Request) {
	var req api.DatakeyRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	if req.Bits == 0 {
		req.Bits = DefaultDatakeyBits
	}

	res, err := h.svc.GenerateDatakey(r.Context(), transit.DatakeyRequest{
		KeyName:     chi.URLParam(r, "name"),
		Bits:        req.Bits,
		WrappedOnly: req.WrappedOnly,
		Context:     req.Context,
	})
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	defer cryptoutils.Wipe(res.Plaintext)
	w.Header().Set("Cache-Control", "no-store")
	api.WriteJSON(w, http.StatusOK, res)
}

func batchRequest(name string, items []api.BatchItem) transit.BatchRequest {
	req := transit.BatchRequest{KeyName: name, Items: make([]transit.BatchItem, len(items))}
	for i, item := range items {
		req.Items[i] = transit.BatchItem{
			Plaintext:  item.Plaintext,
			Ciphertext: item.Ciphertext,
			Context:    item.Context,
		}
	}
	return req
}

// batchResults converts service results. Item errors are sanitized the same
// way api.WriteError sanitizes request errors.
func (h *Handler) batchResults(results []transit.BatchResult) []api.BatchResult {
	out := make([]api.BatchResult, len(results))
	for i, res := range results {
		msg := res.Error
		if res.ErrorKind != "" {
			msg = api.PublicMessage(h.log.With("index", i), res.ErrorKind, res.Error)
		}
		out[i] = api.BatchResult{
			Ciphertext: res.Ciphertext,
			Plaintext:  res.Plaintext,
			KeyVersion: res.KeyVersion,
			Error:      msg,
			Kind:       res.ErrorKind,
		}
	}
	return out
}
