package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func candidateResponse(t *testing.T, resultDoc any) map[string]any {
	t.Helper()
	text, err := json.Marshal(resultDoc)
	require.NoError(t, err)
	return map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"parts": []map[string]any{{"text": string(text)}}},
			"finishReason": "STOP",
		}},
	}
}

func newTestTranscriber(t *testing.T, handler http.HandlerFunc) *Transcriber {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "test-model"})
	return NewTranscriber(client, zap.NewNop())
}

func TestTranscribeHappyPath(t *testing.T) {
	media := []byte("fake-audio-bytes")
	var gotReq generateRequest

	tr := newTestTranscriber(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		resp := candidateResponse(t, map[string]string{
			"title":          "Street Interview",
			"originalText":   "Hello there, this is a simple test of the transcription pipeline.",
			"translatedText": "Merhaba, bu transkripsiyon hattinin basit bir testi.",
		})
		_ = json.NewEncoder(w).Encode(resp)
	})

	result, err := tr.Transcribe(context.Background(), media, "audio/mp4", "tr")
	require.NoError(t, err)
	assert.Equal(t, "Street Interview", result.Title)
	assert.Equal(t, "en", result.Language, "language is detected from the original text")

	require.Len(t, gotReq.Contents, 1)
	require.Len(t, gotReq.Contents[0].Parts, 2)
	assert.Contains(t, gotReq.Contents[0].Parts[0].Text, "Turkish")
	require.NotNil(t, gotReq.Contents[0].Parts[1].InlineData)
	assert.Equal(t, "audio/mp4", gotReq.Contents[0].Parts[1].InlineData.MIMEType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(media), gotReq.Contents[0].Parts[1].InlineData.Data)

	require.NotNil(t, gotReq.GenerationConfig)
	assert.Equal(t, "application/json", gotReq.GenerationConfig.ResponseMIMEType)
	require.NotNil(t, gotReq.GenerationConfig.ResponseSchema)
	assert.ElementsMatch(t, []string{"title", "originalText", "translatedText"}, gotReq.GenerationConfig.ResponseSchema.Required)
}

func TestTranscribeAcceptsFencedJSON(t *testing.T) {
	tr := newTestTranscriber(t, func(w http.ResponseWriter, r *http.Request) {
		fenced := "```json\n{\"title\":\"T\",\"originalText\":\"hello world out there\",\"translatedText\":\"x\"}\n```"
		resp := map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{"parts": []map[string]any{{"text": fenced}}},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	result, err := tr.Transcribe(context.Background(), []byte("a"), "audio/mp4", "en")
	require.NoError(t, err)
	assert.Equal(t, "T", result.Title)
}

func TestTranscribeRejectsInvalidResultDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  any
	}{
		{"missing field", map[string]string{"title": "T", "originalText": "x"}},
		{"extra field", map[string]string{"title": "T", "originalText": "x", "translatedText": "y", "confidence": "high"}},
		{"non-string field", map[string]any{"title": 7, "originalText": "x", "translatedText": "y"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := newTestTranscriber(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(candidateResponse(t, tc.doc))
			})

			_, err := tr.Transcribe(context.Background(), []byte("a"), "audio/mp4", "en")
			var infErr *InferenceError
			assert.ErrorAs(t, err, &infErr)
		})
	}
}

func TestTranscribeSurfacesBlockReason(t *testing.T) {
	tr := newTestTranscriber(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"promptFeedback": map[string]any{"blockReason": "SAFETY"},
		})
	})

	_, err := tr.Transcribe(context.Background(), []byte("a"), "audio/mp4", "en")
	var infErr *InferenceError
	require.ErrorAs(t, err, &infErr)
	assert.Contains(t, infErr.Message, "SAFETY")
}

func TestTranscribeSurfacesServiceError(t *testing.T) {
	tr := newTestTranscriber(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 429, "message": "quota exceeded", "status": "RESOURCE_EXHAUSTED"},
		})
	})

	_, err := tr.Transcribe(context.Background(), []byte("a"), "audio/mp4", "en")
	var infErr *InferenceError
	require.ErrorAs(t, err, &infErr)
	assert.Contains(t, infErr.Message, "quota exceeded")
}

func TestTranscribeWithoutAPIKey(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://localhost:0"})
	tr := NewTranscriber(client, zap.NewNop())

	_, err := tr.Transcribe(context.Background(), []byte("a"), "audio/mp4", "en")
	var infErr *InferenceError
	require.ErrorAs(t, err, &infErr)
	assert.Contains(t, infErr.Message, "api key")
}

func TestLanguageName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"tr", "Turkish"},
		{"es", "Spanish"},
		{"de", "German"},
		{"", "English"},
		{"not a tag!!", "not a tag!!"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, languageName(tc.in), tc.in)
	}
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "en", detectLanguage("The quick brown fox jumps over the lazy dog near the quiet river bank."))
	assert.Empty(t, detectLanguage(""))
	assert.Empty(t, detectLanguage("   "))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
}
