// Package httpapi exposes the gatekeeper over HTTP: the generation
// endpoint consumed by the storefront UI and a read-only monitoring
// endpoint.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ineyio/imagegate"
)

// Handler serves the generation and monitoring endpoints.
type Handler struct {
	gateway       *imagegate.Gateway
	logger        *slog.Logger
	metricsSecret string
	devMode       bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithMetricsSecret gates the monitoring endpoint behind a shared secret
// header.
func WithMetricsSecret(secret string) Option {
	return func(h *Handler) { h.metricsSecret = secret }
}

// WithDevMode disables the monitoring secret check.
func WithDevMode(dev bool) Option {
	return func(h *Handler) { h.devMode = dev }
}

// New creates a Handler. If logger is nil, slog.Default() is used.
func New(gateway *imagegate.Gateway, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{gateway: gateway, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register attaches the routes to a mux router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/generate-image", h.GenerateImage).Methods(http.MethodPost)
	r.HandleFunc("/api/health/perf", h.Perf).Methods(http.MethodGet)
}

type generateRequest struct {
	Prompt             string `json:"prompt"`
	SourceImageDataURL string `json:"sourceImageDataUrl,omitempty"`
}

type generateResponse struct {
	ImageDataURL string `json:"imageDataUrl"`
	Cached       bool   `json:"cached,omitempty"`
	Deduped      bool   `json:"deduped,omitempty"`
	Edited       bool   `json:"edited,omitempty"`
	LatencyMs    int64  `json:"latencyMs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GenerateImage handles POST /api/generate-image.
func (h *Handler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body."})
		return
	}

	req := imagegate.GenerateRequest{
		RequestID: uuid.New().String(),
		ClientKey: ClientKey(r),
		TierHint:  imagegate.ParseTier(r.Header.Get(headerUserTier)),
		Prompt:    body.Prompt,
	}

	if body.SourceImageDataURL != "" {
		source, err := imagegate.DecodeImageDataURL(body.SourceImageDataURL)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Source image must be a PNG or JPEG data URL."})
			return
		}
		req.SourceImage = source
	}

	res, err := h.gateway.Generate(r.Context(), req)
	if err != nil {
		status, msg := statusForError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("generation failed", "request_id", req.RequestID, "error", err)
		}
		writeJSON(w, status, errorResponse{Error: msg})
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{
		ImageDataURL: imagegate.EncodeImageDataURL(res.Image),
		Cached:       res.Cached,
		Deduped:      res.Deduped,
		Edited:       res.Edited,
		LatencyMs:    res.Latency.Milliseconds(),
	})
}

type perfResponse struct {
	OK             bool               `json:"ok"`
	Timestamp      string             `json:"timestamp"`
	Generation     imagegate.Snapshot `json:"generation"`
	UpstreamHealth string             `json:"upstreamHealth"`
}

// Perf handles GET /api/health/perf: a read-only metrics snapshot,
// optionally gated by a shared secret outside dev mode.
func (h *Handler) Perf(w http.ResponseWriter, r *http.Request) {
	if !h.devMode && h.metricsSecret != "" && r.Header.Get(headerMetricsSecret) != h.metricsSecret {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized."})
		return
	}

	writeJSON(w, http.StatusOK, perfResponse{
		OK:             true,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Generation:     h.gateway.Metrics().Snapshot(),
		UpstreamHealth: h.gateway.Health().State().String(),
	})
}

// statusForError maps gatekeeper errors to a status code and a short,
// non-technical message. Internal detail never reaches the response body.
func statusForError(err error) (int, string) {
	var throttle *imagegate.ThrottleError

	switch {
	case errors.Is(err, imagegate.ErrEmptyPrompt):
		return http.StatusBadRequest, "Prompt cannot be empty."
	case errors.Is(err, imagegate.ErrBlockedContent):
		return http.StatusBadRequest, "Prompt contains blocked content. Please keep it family-friendly."
	case errors.Is(err, imagegate.ErrInvalidImage):
		return http.StatusBadRequest, "Source image must be a PNG or JPEG data URL."
	case errors.As(err, &throttle):
		if errors.Is(err, imagegate.ErrDailyLimit) {
			return http.StatusTooManyRequests, fmt.Sprintf("Daily generation limit reached (%d).", throttle.Cap)
		}
		return http.StatusTooManyRequests, fmt.Sprintf("Please wait %ds before generating again.", throttle.WaitSeconds())
	case errors.Is(err, imagegate.ErrBusy):
		return http.StatusServiceUnavailable, "The image generator is busy. Please try again in a moment."
	case errors.Is(err, imagegate.ErrContentRejected):
		return http.StatusBadRequest, "The image service rejected this prompt. Try different wording."
	case errors.Is(err, imagegate.ErrNoProvider):
		return http.StatusInternalServerError, "Image generation is not configured."
	default:
		return http.StatusInternalServerError, "Image generation failed. Please try again."
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
