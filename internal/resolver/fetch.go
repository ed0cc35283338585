package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Format selectors handed to the resolver tool when streaming.
const (
	// FormatAudio prefers the best audio-only rendition, falling back to the
	// best combined one. Transcription does not need the video track.
	FormatAudio = "ba/b"
	// FormatCombined is a single file with both tracks, capped at 720p.
	FormatCombined = defaultDirectFormat + "/b"
)

// FetchError reports that a streaming fetch captured no bytes at all.
type FetchError struct {
	URL        string
	Diagnostic string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("media fetch for %s produced no bytes", e.URL)
}

// errPayloadLimit aborts the stream once the byte ceiling is reached.
var errPayloadLimit = errors.New("payload size ceiling reached")

// FetchOptions bound a single streaming fetch.
type FetchOptions struct {
	Format   string
	MaxBytes int64
	// Timeout caps the whole fetch wall-clock; zero means the parent
	// context is the only bound.
	Timeout time.Duration
}

// Fetcher buffers a media stream produced by the resolver tool.
type Fetcher struct {
	runner Runner
	logger *zap.Logger
}

// NewFetcher constructs a Fetcher.
func NewFetcher(runner Runner, logger *zap.Logger) *Fetcher {
	return &Fetcher{runner: runner, logger: logger}
}

// Fetch streams the target's bytes into memory. Download percentages parsed
// from the tool's diagnostic stream are reported through onProgress, in
// order. The returned buffer is complete when the tool exited cleanly below
// the ceiling, and truncated otherwise; only a completely empty capture is
// an error.
func (f *Fetcher) Fetch(ctx context.Context, target, credentialFile string, opts FetchOptions, onProgress func(float64)) ([]byte, error) {
	if opts.Format == "" {
		opts.Format = FormatAudio
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var (
		buf       bytes.Buffer
		diag      diagnosticTail
		truncated bool
	)
	handlers := StreamHandlers{
		OnChunk: func(p []byte) error {
			if opts.MaxBytes > 0 {
				remaining := opts.MaxBytes - int64(buf.Len())
				if remaining < int64(len(p)) {
					buf.Write(p[:remaining])
					truncated = true
					return errPayloadLimit
				}
			}
			buf.Write(p)
			return nil
		},
		OnDiagnostic: func(line string) {
			diag.add(line)
			if pct, ok := parseProgress(line); ok && onProgress != nil {
				onProgress(pct)
			}
		},
	}

	err := f.runner.StreamBytes(ctx, target, credentialFile, opts.Format, handlers)
	switch {
	case errors.Is(err, errPayloadLimit):
		f.logger.Warn("byte ceiling reached, stream truncated",
			zap.String("url", target),
			zap.String("ceiling", humanize.IBytes(uint64(opts.MaxBytes))))
	case err != nil:
		var subErr *SubprocessError
		if errors.As(err, &subErr) {
			return nil, err
		}
		// A dirty exit still counts when bytes made it out; the buffer is
		// simply not guaranteed complete.
		f.logger.Warn("resolver tool stream ended abnormally",
			zap.String("url", target), zap.Error(err))
	}

	if buf.Len() == 0 {
		return nil, &FetchError{URL: target, Diagnostic: diag.withContext(ctx, err)}
	}

	f.logger.Info("media captured",
		zap.String("url", target),
		zap.String("size", humanize.IBytes(uint64(buf.Len()))),
		zap.Bool("truncated", truncated))
	return buf.Bytes(), nil
}

var progressRe = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)%`)

// parseProgress extracts a download percentage from one diagnostic line.
func parseProgress(line string) (float64, bool) {
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil || pct > 100 {
		return 0, false
	}
	return pct, true
}

const diagnosticTailLines = 40

// diagnosticTail retains the most recent diagnostic lines for error reports.
type diagnosticTail struct {
	lines []string
}

func (d *diagnosticTail) add(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	d.lines = append(d.lines, line)
	if len(d.lines) > diagnosticTailLines {
		d.lines = d.lines[len(d.lines)-diagnosticTailLines:]
	}
}

func (d *diagnosticTail) String() string {
	return strings.Join(d.lines, "\n")
}

// withContext folds the stream error and context state into the tail so an
// empty capture always reports why it was empty.
func (d *diagnosticTail) withContext(ctx context.Context, err error) string {
	out := d.String()
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		out = appendLine(out, "fetch timed out")
	case err != nil && !errors.Is(err, errPayloadLimit):
		out = appendLine(out, err.Error())
	}
	return out
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	return s + "\n" + line
}
