// Package ndjson implements newline-delimited JSON streaming: a writer that
// flushes one record per line as it is produced, and a reader that reassembles
// records across arbitrary chunk boundaries.
package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

// ContentType is the media type for newline-delimited JSON responses.
const ContentType = "application/x-ndjson"

// Writer emits one JSON value per line. When the underlying writer supports
// flushing, every record is pushed downstream immediately so consumers see
// events as they happen rather than when the response completes.
type Writer struct {
	enc     *json.Encoder
	flusher http.Flusher
}

// NewWriter wraps w. If w is an http.ResponseWriter that implements
// http.Flusher, records are flushed line by line.
func NewWriter(w io.Writer) *Writer {
	nw := &Writer{enc: json.NewEncoder(w)}
	if f, ok := w.(http.Flusher); ok {
		nw.flusher = f
	}
	return nw
}

// Write encodes v as a single newline-terminated record.
func (w *Writer) Write(v any) error {
	if err := w.enc.Encode(v); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Reader yields complete records from a byte stream. Partial lines are
// retained until the rest arrives, so callers never observe a record split
// across reads.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// NextLine returns the next non-empty record without its trailing newline.
// It returns io.EOF once the stream is exhausted. A final record lacking a
// newline terminator is still returned before EOF.
func (r *Reader) NextLine() ([]byte, error) {
	for {
		line, err := r.br.ReadBytes('\n')
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			return trimmed, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
