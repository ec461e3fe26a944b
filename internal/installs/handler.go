package installs

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sundayezeilo/deeplink/errx"
	"github.com/sundayezeilo/deeplink/internal/httpx"
	"github.com/sundayezeilo/deeplink/link"
)

// HTTPDeferredRequest is the JSON body of a deferred resolution.
type HTTPDeferredRequest struct {
	Referrer   string `json:"referrer"`
	IsEmulator bool   `json:"is_emulator"`
}

// HTTPDirectRequest is the JSON body of a direct resolution.
type HTTPDirectRequest struct {
	URL string `json:"url"`
}

// StateResponse is the JSON form of an install's check state.
type StateResponse struct {
	HasChecked   bool         `json:"has_checked"`
	CachedResult *link.Result `json:"cached_result"`
}

// Handler provides the HTTP endpoints of the resolution service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Service Service
	Logger  *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: cfg.Service, logger: logger}
}

// Deferred handles POST /v1/installs/{installID}/deferred.
func (h *Handler) Deferred(w http.ResponseWriter, r *http.Request) {
	const op = "installs.Handler.Deferred"

	ctx := r.Context()
	installID := r.PathValue("installID")

	req, err := httpx.DecodeJSON[HTTPDeferredRequest](r)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to decode request",
			"request_id", httpx.GetRequestID(ctx),
			"install_id", installID,
			"error", err.Error(),
		)
		httpx.WriteKindError(w, r, h.logger, errx.E(op, errx.Invalid, err))
		return
	}

	res, err := h.service.Deferred(ctx, installID, DeferredRequest{
		Referrer:   req.Referrer,
		IsEmulator: req.IsEmulator,
	})
	if err != nil {
		httpx.WriteKindError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, res)
}

// Direct handles POST /v1/installs/{installID}/direct.
func (h *Handler) Direct(w http.ResponseWriter, r *http.Request) {
	const op = "installs.Handler.Direct"

	ctx := r.Context()
	installID := r.PathValue("installID")

	req, err := httpx.DecodeJSON[HTTPDirectRequest](r)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to decode request",
			"request_id", httpx.GetRequestID(ctx),
			"install_id", installID,
			"error", err.Error(),
		)
		httpx.WriteKindError(w, r, h.logger, errx.E(op, errx.Invalid, err))
		return
	}

	res, err := h.service.Direct(ctx, installID, strings.TrimSpace(req.URL))
	if err != nil {
		httpx.WriteKindError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, res)
}

// State handles GET /v1/installs/{installID}/state.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.State(r.Context(), r.PathValue("installID"))
	if err != nil {
		httpx.WriteKindError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, StateResponse{
		HasChecked:   st.HasCheckedForDeferredDeepLink,
		CachedResult: st.CachedResult,
	})
}

// Link handles GET /v1/installs/{installID}/link.
func (h *Handler) Link(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Link(r.Context(), r.PathValue("installID"))
	if err != nil {
		httpx.WriteKindError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, res)
}

// Reset handles DELETE /v1/installs/{installID}/state.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	installID := r.PathValue("installID")

	if err := h.service.Reset(ctx, installID); err != nil {
		httpx.WriteKindError(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(ctx, "install state reset",
		"request_id", httpx.GetRequestID(ctx),
		"install_id", installID,
	)
	w.WriteHeader(http.StatusNoContent)
}
