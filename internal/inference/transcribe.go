package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/abadojack/whatlanggo"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// taskPrompt is the fixed instruction sent alongside the media bytes. The
// %s is the display name of the requested translation language.
const taskPrompt = `Listen to the attached media and respond with JSON containing exactly these fields:
1. "originalText": a verbatim transcription of all speech in its original spoken language. If there is no speech, describe the ambient sound instead.
2. "translatedText": the transcription (or ambient sound description) translated into %s.
3. "title": a short descriptive title for the content.`

// Result is the validated terminal artifact of a transcription run.
// Language is derived locally from the transcription, not reported by the
// service, and is an ISO 639-1 code or "" when detection is unreliable.
type Result struct {
	Title          string `json:"title"`
	OriginalText   string `json:"originalText"`
	TranslatedText string `json:"translatedText"`
	Language       string `json:"language,omitempty"`
}

// Transcriber turns captured media bytes into a transcription plus
// translation via the inference service.
type Transcriber struct {
	client *Client
	logger *zap.Logger
}

// NewTranscriber constructs a Transcriber.
func NewTranscriber(client *Client, logger *zap.Logger) *Transcriber {
	return &Transcriber{client: client, logger: logger}
}

// Transcribe sends media with the task prompt and a strict response schema,
// then validates the returned document. All failures surface as
// *InferenceError with the underlying reason preserved.
func (t *Transcriber) Transcribe(ctx context.Context, media []byte, mimeType, targetLanguage string) (Result, error) {
	req := generateRequest{
		Contents: []content{{
			Parts: []part{
				{Text: fmt.Sprintf(taskPrompt, languageName(targetLanguage))},
				{InlineData: &inlineData{
					MIMEType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(media),
				}},
			},
		}},
		GenerationConfig: &generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   resultSchema(),
		},
	}

	resp, err := t.client.generateContent(ctx, req)
	if err != nil {
		return Result{}, &InferenceError{Message: err.Error()}
	}

	text := resp.text()
	if text == "" {
		if reason := resp.blockReason(); reason != "" {
			return Result{}, &InferenceError{Message: reason}
		}
		return Result{}, &InferenceError{Message: "service returned an empty response"}
	}

	result, err := parseResult(text)
	if err != nil {
		return Result{}, &InferenceError{Message: err.Error()}
	}
	result.Language = detectLanguage(result.OriginalText)

	t.logger.Info("transcription complete",
		zap.String("title", result.Title),
		zap.String("language", result.Language),
		zap.Int("original_chars", len(result.OriginalText)))
	return result, nil
}

// resultSchema is the strict response contract: exactly three string
// fields, all required.
func resultSchema() *schema {
	return &schema{
		Type: "OBJECT",
		Properties: map[string]*schema{
			"title":          {Type: "STRING"},
			"originalText":   {Type: "STRING"},
			"translatedText": {Type: "STRING"},
		},
		Required: []string{"title", "originalText", "translatedText"},
	}
}

// parseResult decodes and validates the model's JSON document. Responses
// from schema-constrained models still get checked: a missing field, a
// non-string value, or any extra field is rejected rather than papered
// over.
func parseResult(text string) (Result, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(stripFences(text)), &raw); err != nil {
		return Result{}, fmt.Errorf("malformed result document: %v", err)
	}

	var result Result
	fields := map[string]*string{
		"title":          &result.Title,
		"originalText":   &result.OriginalText,
		"translatedText": &result.TranslatedText,
	}
	for key, dst := range fields {
		v, ok := raw[key]
		if !ok {
			return Result{}, fmt.Errorf("result document is missing %q", key)
		}
		s, ok := v.(string)
		if !ok {
			return Result{}, fmt.Errorf("result field %q is not a string", key)
		}
		*dst = s
	}
	for key := range raw {
		if _, expected := fields[key]; !expected {
			return Result{}, fmt.Errorf("result document has unexpected field %q", key)
		}
	}
	return result, nil
}

// stripFences removes a Markdown code fence wrapper if the model added one
// despite the JSON response mime type.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// languageName renders a BCP 47 tag (or plain language name) for the
// prompt: "tr" becomes "Turkish". Unparseable input passes through as-is.
func languageName(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return "English"
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return lang
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return lang
}

// detectLanguage classifies the transcription's language, returning "" when
// the text is too short or ambiguous to call.
func detectLanguage(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
