package scribe

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/mediascribe/internal/inference"
	"github.com/your-org/mediascribe/internal/resolver"
	"github.com/your-org/mediascribe/pkg/ndjson"
)

// Stable machine codes carried alongside error messages.
const (
	codeResolution      = "resolution"
	codeFetch           = "fetch"
	codeInference       = "inference"
	codeToolUnavailable = "tool_unavailable"
	codeInternal        = "internal"
)

// HTTPHandler exposes REST and streaming endpoints for the pipeline.
type HTTPHandler struct {
	service *Service
	logger  *zap.Logger
	router  chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(service *Service, logger *zap.Logger) *HTTPHandler {
	h := &HTTPHandler{
		service: service,
		logger:  logger,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(2 * time.Minute))
		r.Get("/api/resolve", h.handleResolve)
	})

	// Downloads and transcription streams run until the pipeline's own
	// deadlines cut them off, so no timeout middleware here.
	r.Get("/api/download", h.handleDownload)
	r.Post("/api/transcribe", h.handleTranscribe)

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type resolveResponse struct {
	Type        string  `json:"type"`
	CanPreview  bool    `json:"can_preview"`
	PreviewURL  string  `json:"preview_url"`
	DownloadURL string  `json:"download_url"`
	Title       string  `json:"title"`
	Username    string  `json:"username,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
}

func (h *HTTPHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}

	media, err := h.service.ResolveURL(r.Context(), target)
	if err != nil {
		h.writePipelineError(w, r, err)
		return
	}

	mediaType := "video"
	if !media.CanPreview {
		mediaType = "image"
	}

	writeJSON(w, http.StatusOK, resolveResponse{
		Type:        mediaType,
		CanPreview:  media.CanPreview,
		PreviewURL:  media.DirectURL,
		DownloadURL: "/api/download?url=" + url.QueryEscape(target),
		Title:       media.Title,
		Username:    media.Uploader,
		Duration:    media.DurationSec,
	})
}

func (h *HTTPHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}

	data, media, err := h.service.Download(r.Context(), target)
	if err != nil {
		h.writePipelineError(w, r, err)
		return
	}

	filename := sanitizeFilename(media.Title) + ".mp4"
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Debug("client disconnected mid download", zap.Error(err))
	}
}

type transcribeRequest struct {
	URL            string `json:"url"`
	TargetLanguage string `json:"targetLanguage"`
}

func (h *HTTPHandler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if strings.TrimSpace(req.TargetLanguage) == "" {
		req.TargetLanguage = "en"
	}

	// Validation is done, commit to the stream. Failures past this point
	// arrive as error-typed records, never as a late status rewrite.
	w.Header().Set("Content-Type", ndjson.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	stream := ndjson.NewWriter(w)
	emit := func(ev Event) {
		if err := stream.Write(ev); err != nil {
			h.logger.Debug("event dropped, client gone", zap.Error(err))
		}
	}

	result, err := h.service.Transcribe(r.Context(), req.URL, req.TargetLanguage,
		func(pct float64) { emit(ProgressEvent(pct)) },
		func(status string) { emit(StatusEvent(status)) },
	)
	if err != nil {
		_, message, details, code := classifyError(err)
		h.logger.Warn("transcription stream failed",
			zap.String("url", req.URL),
			zap.String("code", code),
			zap.Error(err))
		emit(ErrorEvent(streamErrorMessage(message, details), code))
		return
	}

	emit(ResultEvent(result))
}

// classifyError maps pipeline errors onto an HTTP status, a user-facing
// message, diagnostic detail, and a stable machine code.
func classifyError(err error) (status int, message, details, code string) {
	var (
		subErr *resolver.SubprocessError
		resErr *resolver.ResolutionError
		fetErr *resolver.FetchError
		infErr *inference.InferenceError
	)
	switch {
	case errors.As(err, &subErr):
		return http.StatusServiceUnavailable, "media resolver tool is unavailable", subErr.Err.Error(), codeToolUnavailable
	case errors.As(err, &resErr):
		return http.StatusInternalServerError, "could not resolve playable media", resErr.Diagnostic, codeResolution
	case errors.As(err, &fetErr):
		return http.StatusInternalServerError, "could not download media", fetErr.Diagnostic, codeFetch
	case errors.As(err, &infErr):
		return http.StatusInternalServerError, "transcription failed", infErr.Message, codeInference
	default:
		return http.StatusInternalServerError, "request failed", err.Error(), codeInternal
	}
}

func (h *HTTPHandler) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	status, message, details, code := classifyError(err)
	h.logger.Error("pipeline request failed",
		zap.String("path", r.URL.Path),
		zap.String("code", code),
		zap.Error(err))

	payload := map[string]any{
		"error": message,
		"code":  code,
	}
	if details != "" {
		payload["details"] = details
	}
	writeJSON(w, status, payload)
}

// streamErrorMessage folds the first diagnostic line into the user-facing
// message so stream consumers see the cause without a separate field.
func streamErrorMessage(message, details string) string {
	first := firstNonEmptyLine(details)
	if first == "" {
		return message
	}
	return message + ": " + first
}

func firstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

var unsafeFilenameRe = regexp.MustCompile(`[^\w \-.]+`)

// sanitizeFilename reduces a media title to a safe attachment filename.
func sanitizeFilename(title string) string {
	cleaned := unsafeFilenameRe.ReplaceAllString(title, "_")
	cleaned = strings.Trim(cleaned, "_ ")
	if cleaned == "" {
		return "video"
	}
	if len(cleaned) > 120 {
		cleaned = strings.Trim(cleaned[:120], "_ ")
	}
	return cleaned
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
