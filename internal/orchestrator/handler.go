package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"vod-packager/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const (
	// multipartOverhead is allowed on top of the file ceiling for boundaries
	// and part headers.
	multipartOverhead = 1 << 20

	// multipartMemory is how much of a parsed form is kept in memory; the
	// rest spills to temporary files.
	multipartMemory = 32 << 20

	uploadField = "file"
)

// Handler exposes the packaging endpoints using go-chi.
type Handler struct {
	svc     *Service
	streams *StreamServer
	catalog *Catalog
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler. Metrics may be nil to disable metric
// recording (e.g. in tests).
func NewHandler(svc *Service, streams *StreamServer, catalog *Catalog, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, streams: streams, catalog: catalog, log: log, metrics: m}
}

// Register mounts every endpoint on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/upload", h.Upload)
	r.Get("/stream/{assetId}/{formatType}/*", h.Stream)
	r.Get("/videos", h.ListVideos)
	r.Get("/healthz", h.Health)
}

type uploadResponse struct {
	ID        AssetID `json:"id"`
	Status    string  `json:"status"`
	HLSURL    string  `json:"hls_url"`
	DASHURL   string  `json:"dash_url"`
	PlayerURL string  `json:"player_url"`
}

type errorResponse struct {
	Error string `json:"error"`

	// Set only for transcode failures, so the surviving format is discoverable.
	ID        AssetID  `json:"id,omitempty"`
	Failed    []Format `json:"failed,omitempty"`
	HLSURL    string   `json:"hls_url,omitempty"`
	DASHURL   string   `json:"dash_url,omitempty"`
	PlayerURL string   `json:"player_url,omitempty"`
}

// Upload handles POST /upload with a multipart field "file".
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	limit := h.svc.MaxUploadBytes() + multipartOverhead
	if r.ContentLength > limit {
		h.rejectUpload(w, fmt.Errorf("%w: limit %d bytes", ErrPayloadTooLarge, h.svc.MaxUploadBytes()))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = fmt.Errorf("%w: limit %d bytes", ErrPayloadTooLarge, h.svc.MaxUploadBytes())
		} else {
			err = fmt.Errorf("%w: %v", ErrNoFile, err)
		}
		h.rejectUpload(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		h.rejectUpload(w, fmt.Errorf("%w: %v", ErrNoFile, err))
		return
	}
	defer file.Close()

	res, err := h.svc.Ingest(r.Context(), header.Filename, header.Size, file)
	if err != nil {
		var te *TranscodeError
		if errors.As(err, &te) {
			writeJSON(w, http.StatusInternalServerError, errorResponse{
				Error:     err.Error(),
				ID:        res.ID,
				Failed:    res.Outcome.Failed(),
				HLSURL:    res.HLSURL,
				DASHURL:   res.DASHURL,
				PlayerURL: res.PlayerURL,
			})
			return
		}
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		ID:        res.ID,
		Status:    "success",
		HLSURL:    res.HLSURL,
		DASHURL:   res.DASHURL,
		PlayerURL: res.PlayerURL,
	})
}

// rejectUpload answers a request rejected before it reached the service.
func (h *Handler) rejectUpload(w http.ResponseWriter, err error) {
	h.log.Info("upload rejected", slog.String("error", err.Error()))
	if h.metrics != nil {
		h.metrics.IncUploadsRejected(rejectionReason(err))
	}
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

// Stream handles GET /stream/{assetId}/{formatType}/*.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "assetId")
	format := chi.URLParam(r, "formatType")
	rel := chi.URLParam(r, "*")

	if err := h.streams.Serve(w, r, id, format, rel); err != nil {
		status := statusFor(err)
		if status == http.StatusForbidden {
			h.log.Warn("stream path rejected",
				slog.String("asset_id", id),
				slog.String("format", format),
				slog.String("path", rel))
		}
		writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
	}
}

// ListVideos handles GET /videos.
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := h.catalog.List()
	if err != nil {
		h.log.Error("list videos failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list videos"})
		return
	}
	writeJSON(w, http.StatusOK, videos)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		// StorageError, TranscodeError and anything unexpected.
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
