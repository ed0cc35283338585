package scribe

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/your-org/mediascribe/internal/inference"
	"github.com/your-org/mediascribe/pkg/ndjson"
)

// EventType discriminates the records of a transcription progress stream.
type EventType string

const (
	EventProgress EventType = "progress"
	EventStatus   EventType = "status"
	EventResult   EventType = "result"
	EventError    EventType = "error"
)

// Event is one line of the progress stream. Every stream ends with exactly
// one terminal event: result on success, error otherwise.
type Event struct {
	Type    EventType       `json:"type"`
	Value   *float64        `json:"value,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ProgressEvent reports a download percentage.
func ProgressEvent(pct float64) Event {
	return Event{Type: EventProgress, Value: &pct}
}

// StatusEvent reports a stage transition.
func StatusEvent(message string) Event {
	return Event{Type: EventStatus, Message: message}
}

// ResultEvent carries the terminal transcription artifact.
func ResultEvent(result inference.Result) Event {
	data, _ := json.Marshal(result)
	return Event{Type: EventResult, Data: data}
}

// ErrorEvent is the terminal failure record.
func ErrorEvent(message, code string) Event {
	data, _ := json.Marshal(errorPayload{Message: message, Code: code})
	return Event{Type: EventError, Data: data}
}

// DecodeEvents consumes an NDJSON event stream, invoking onEvent per
// decoded record. Lines that do not decode into an event are handed to
// onSkip and skipped rather than aborting the stream. An error-typed record
// terminates the read immediately, returning its carried message; a clean
// end of stream returns nil.
func DecodeEvents(r io.Reader, onEvent func(Event), onSkip func(line []byte, err error)) error {
	lines := ndjson.NewReader(r)
	for {
		line, err := lines.NextLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var ev Event
		decodeErr := json.Unmarshal(line, &ev)
		if decodeErr == nil && ev.Type == "" {
			decodeErr = errors.New("event record has no type")
		}
		if decodeErr != nil {
			if onSkip != nil {
				onSkip(line, decodeErr)
			}
			continue
		}

		if ev.Type == EventError {
			var payload errorPayload
			_ = json.Unmarshal(ev.Data, &payload)
			if payload.Message == "" {
				payload.Message = "stream reported an unspecified error"
			}
			return errors.New(payload.Message)
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}
}
