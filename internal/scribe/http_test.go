package scribe

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/mediascribe/internal/inference"
	"github.com/your-org/mediascribe/internal/resolver"
	"github.com/your-org/mediascribe/pkg/ndjson"
)

func newTestHandler(res MediaResolver, fetch MediaFetcher, tr Transcriber) *HTTPHandler {
	return NewHTTPHandler(newTestService(res, fetch, tr, nil), zap.NewNop())
}

func decodeStream(t *testing.T, body *bytes.Buffer) []Event {
	t.Helper()
	var events []Event
	for _, line := range strings.Split(strings.TrimSpace(body.String()), "\n") {
		if line == "" {
			continue
		}
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(line), &ev), "line %q", line)
		events = append(events, ev)
	}
	return events
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(&stubResolver{}, &stubFetcher{}, &stubTranscriber{})

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestResolveReturnsPlayableMedia(t *testing.T) {
	res := &stubResolver{media: resolver.ResolvedMedia{
		DirectURL:   "https://cdn.example.com/v.mp4",
		Title:       "Morning Show",
		CanPreview:  true,
		Uploader:    "newsroom",
		DurationSec: 93.5,
	}}
	h := newTestHandler(res, &stubFetcher{}, &stubTranscriber{})

	target := "https://example.com/watch?v=abc&t=10"
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/resolve?url="+url.QueryEscape(target), nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp resolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "video", resp.Type)
	assert.True(t, resp.CanPreview)
	assert.Equal(t, "https://cdn.example.com/v.mp4", resp.PreviewURL)
	assert.Equal(t, "/api/download?url="+url.QueryEscape(target), resp.DownloadURL)
	assert.Equal(t, "Morning Show", resp.Title)
	assert.Equal(t, "newsroom", resp.Username)
	assert.Equal(t, 93.5, resp.Duration)
	assert.Equal(t, target, res.gotURL)
}

func TestResolveFallsBackToImage(t *testing.T) {
	res := &stubResolver{media: resolver.ResolvedMedia{
		DirectURL:  "https://cdn.example.com/thumb.jpg",
		Title:      "Photo Dump",
		CanPreview: false,
	}}
	h := newTestHandler(res, &stubFetcher{}, &stubTranscriber{})

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/resolve?url=https%3A%2F%2Fexample.com%2Fpost", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp resolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "image", resp.Type)
	assert.False(t, resp.CanPreview)
	assert.Equal(t, "https://cdn.example.com/thumb.jpg", resp.PreviewURL)
}

func TestResolveRequiresURL(t *testing.T) {
	h := newTestHandler(&stubResolver{}, &stubFetcher{}, &stubTranscriber{})

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/resolve", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "url query parameter is required")
}

func TestResolveToolUnavailable(t *testing.T) {
	res := &stubResolver{err: &resolver.SubprocessError{Tool: "yt-dlp", Err: errors.New(`executable "yt-dlp" not found`)}}
	h := newTestHandler(res, &stubFetcher{}, &stubTranscriber{})

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/resolve?url=https%3A%2F%2Fexample.com", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, codeToolUnavailable, body["code"])
	assert.NotEmpty(t, body["error"])
}

func TestResolveSurfacesDiagnostic(t *testing.T) {
	res := &stubResolver{err: &resolver.ResolutionError{
		URL:        "https://example.com/gone",
		Diagnostic: "ERROR: [generic] Unsupported URL",
	}}
	h := newTestHandler(res, &stubFetcher{}, &stubTranscriber{})

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/resolve?url=https%3A%2F%2Fexample.com%2Fgone", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, codeResolution, body["code"])
	assert.Contains(t, body["details"], "Unsupported URL")
}

func TestDownloadStreamsAttachment(t *testing.T) {
	res := &stubResolver{media: resolver.ResolvedMedia{DirectURL: "d", Title: "My Great Clip! (final)", CanPreview: true}}
	fetch := &stubFetcher{data: []byte("movie-bytes")}
	h := newTestHandler(res, fetch, &stubTranscriber{})

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/download?url=https%3A%2F%2Fexample.com%2Fwatch", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="My Great Clip_ _final.mp4"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, strconv.Itoa(len("movie-bytes")), rec.Header().Get("Content-Length"))
	assert.Equal(t, "movie-bytes", rec.Body.String())
	assert.Equal(t, resolver.FormatCombined, fetch.gotOpts.Format)
}

func TestDownloadRequiresURL(t *testing.T) {
	h := newTestHandler(&stubResolver{}, &stubFetcher{}, &stubTranscriber{})

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/download", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTranscribeStreamsProgressThenResult(t *testing.T) {
	res := &stubResolver{media: resolver.ResolvedMedia{DirectURL: "d", Title: "Clip", CanPreview: true}}
	fetch := &stubFetcher{data: []byte("audio"), progress: []float64{3.2, 57.1, 100}}
	tr := &stubTranscriber{result: inference.Result{
		Title:          "Clip",
		OriginalText:   "hola mundo",
		TranslatedText: "hello world",
		Language:       "es",
	}}
	h := newTestHandler(res, fetch, tr)

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", strings.NewReader(`{"url":"https://example.com/watch","targetLanguage":"en"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ndjson.ContentType, rec.Header().Get("Content-Type"))

	events := decodeStream(t, rec.Body)
	require.Len(t, events, 5)

	require.Equal(t, EventProgress, events[0].Type)
	require.NotNil(t, events[0].Value)
	assert.Equal(t, 3.2, *events[0].Value)
	assert.Equal(t, EventProgress, events[1].Type)
	assert.Equal(t, EventProgress, events[2].Type)

	assert.Equal(t, EventStatus, events[3].Type)
	assert.NotEmpty(t, events[3].Message)

	last := events[4]
	require.Equal(t, EventResult, last.Type)
	var result inference.Result
	require.NoError(t, json.Unmarshal(last.Data, &result))
	assert.Equal(t, "hello world", result.TranslatedText)
	assert.Equal(t, "es", result.Language)

	assert.Equal(t, "en", tr.gotLang)
}

func TestTranscribeStreamEndsWithTypedError(t *testing.T) {
	res := &stubResolver{media: resolver.ResolvedMedia{DirectURL: "d", Title: "Clip", CanPreview: true}}
	fetch := &stubFetcher{
		progress: []float64{10},
		err:      &resolver.FetchError{URL: "https://example.com/watch", Diagnostic: "ERROR: HTTP Error 403: Forbidden"},
	}
	h := newTestHandler(res, fetch, &stubTranscriber{})

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", strings.NewReader(`{"url":"https://example.com/watch"}`))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	events := decodeStream(t, rec.Body)
	require.Len(t, events, 2)
	assert.Equal(t, EventProgress, events[0].Type)

	last := events[1]
	require.Equal(t, EventError, last.Type)
	var payload struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(last.Data, &payload))
	assert.Contains(t, payload.Message, "403")
	assert.Equal(t, codeFetch, payload.Code)
}

func TestTranscribeResolutionFailureIsSingleErrorLine(t *testing.T) {
	res := &stubResolver{err: &resolver.ResolutionError{URL: "https://example.com/watch", Diagnostic: "ERROR: Unsupported URL"}}
	h := newTestHandler(res, &stubFetcher{}, &stubTranscriber{})

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", strings.NewReader(`{"url":"https://example.com/watch"}`))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	events := decodeStream(t, rec.Body)
	require.Len(t, events, 1, "nothing may precede the terminal error")
	require.Equal(t, EventError, events[0].Type)

	var payload struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(events[0].Data, &payload))
	assert.Equal(t, codeResolution, payload.Code)
	assert.Contains(t, payload.Message, "Unsupported URL")
}

func TestTranscribeRejectsBadRequestsBeforeStreaming(t *testing.T) {
	h := newTestHandler(&stubResolver{}, &stubFetcher{}, &stubTranscriber{})

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing url", `{}`},
		{"blank url", `{"url":"   "}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/transcribe", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Router().ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestTranscribeDefaultsTargetLanguage(t *testing.T) {
	res := &stubResolver{media: resolver.ResolvedMedia{DirectURL: "d", Title: "Clip", CanPreview: true}}
	fetch := &stubFetcher{data: []byte("audio")}
	tr := &stubTranscriber{result: inference.Result{Title: "t", OriginalText: "o", TranslatedText: "x"}}
	h := newTestHandler(res, fetch, tr)

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", strings.NewReader(`{"url":"https://example.com/watch"}`))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "en", tr.gotLang)
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Morning Show", "Morning Show"},
		{"a/b\\c:d", "a_b_c_d"},
		{"  spaced  ", "spaced"},
		{"", "video"},
		{"???", "video"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sanitizeFilename(tc.in), "input %q", tc.in)
	}
}
