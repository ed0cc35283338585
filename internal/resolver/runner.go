// Package resolver turns page URLs into playable media via an external
// yt-dlp compatible tool, and streams the resulting bytes into memory.
package resolver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBinary       = "yt-dlp"
	defaultDirectFormat = "best[height<=720][vcodec!=none][acodec!=none]"
	defaultTimeout      = 30 * time.Second
	defaultDirectMax    = 10 << 20
	defaultMetadataMax  = 50 << 20
	diagnosticMaxBytes  = 1 << 20
)

// SubprocessError reports that the resolver tool itself could not be
// launched. Retrying cannot help until the host installation is fixed.
type SubprocessError struct {
	Tool string
	Err  error
}

func (e *SubprocessError) Error() string {
	return fmt.Sprintf("resolver tool %q unavailable: %v", e.Tool, e.Err)
}

func (e *SubprocessError) Unwrap() error { return e.Err }

// StreamHandlers receive the raw output of a streaming invocation as it
// arrives. OnChunk returning an error terminates the producer process.
// Neither handler is called again once StreamBytes has returned.
type StreamHandlers struct {
	OnChunk      func(p []byte) error
	OnDiagnostic func(line string)
}

// Runner abstracts the three invocation modes of the external resolver tool
// so parsing and cleanup logic can be exercised against canned output.
type Runner interface {
	// ResolveDirectURL asks the tool for a single direct media URL.
	ResolveDirectURL(ctx context.Context, target, credentialFile string) (stdout, diagnostics string, err error)
	// ResolveMetadata asks the tool for its full JSON metadata document.
	ResolveMetadata(ctx context.Context, target, credentialFile string) (doc []byte, diagnostics string, err error)
	// StreamBytes pipes the selected rendition through h until the stream
	// ends, the context expires, or OnChunk aborts it.
	StreamBytes(ctx context.Context, target, credentialFile, format string, h StreamHandlers) error
}

// CLIConfig configures the external resolver binary.
type CLIConfig struct {
	Binary           string
	UserAgent        string
	Timeout          time.Duration // bounds the direct and metadata modes
	DirectFormat     string
	DirectMaxBytes   int64
	MetadataMaxBytes int64
}

// CLIRunner invokes the resolver binary through os/exec.
type CLIRunner struct {
	cfg    CLIConfig
	logger *zap.Logger
}

// NewCLIRunner constructs a CLIRunner, filling in defaults for unset fields.
func NewCLIRunner(cfg CLIConfig, logger *zap.Logger) *CLIRunner {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.DirectFormat == "" {
		cfg.DirectFormat = defaultDirectFormat
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.DirectMaxBytes <= 0 {
		cfg.DirectMaxBytes = defaultDirectMax
	}
	if cfg.MetadataMaxBytes <= 0 {
		cfg.MetadataMaxBytes = defaultMetadataMax
	}
	return &CLIRunner{cfg: cfg, logger: logger}
}

func (r *CLIRunner) baseArgs(credentialFile string) []string {
	args := []string{"--no-warnings", "--no-playlist", "--user-agent", r.cfg.UserAgent}
	if credentialFile != "" {
		args = append(args, "--cookies", credentialFile)
	}
	return args
}

// ResolveDirectURL implements Runner.
func (r *CLIRunner) ResolveDirectURL(ctx context.Context, target, credentialFile string) (string, string, error) {
	args := append(r.baseArgs(credentialFile), "-f", r.cfg.DirectFormat, "-g", target)
	return r.invoke(ctx, args, r.cfg.DirectMaxBytes)
}

// ResolveMetadata implements Runner.
func (r *CLIRunner) ResolveMetadata(ctx context.Context, target, credentialFile string) ([]byte, string, error) {
	args := append(r.baseArgs(credentialFile), "--dump-single-json", target)
	stdout, diag, err := r.invoke(ctx, args, r.cfg.MetadataMaxBytes)
	return []byte(stdout), diag, err
}

func (r *CLIRunner) invoke(ctx context.Context, args []string, maxOutput int64) (string, string, error) {
	bin, err := exec.LookPath(r.cfg.Binary)
	if err != nil {
		return "", "", &SubprocessError{Tool: r.cfg.Binary, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	stdout := &limitedBuffer{max: maxOutput}
	diag := &limitedBuffer{max: diagnosticMaxBytes}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = stdout
	cmd.Stderr = diag

	start := time.Now()
	runErr := cmd.Run()
	r.logger.Debug("resolver tool finished",
		zap.Strings("args", args),
		zap.Duration("took", time.Since(start)),
		zap.Bool("output_truncated", stdout.truncated),
		zap.Error(runErr))

	var execErr *exec.Error
	if errors.As(runErr, &execErr) {
		return "", "", &SubprocessError{Tool: r.cfg.Binary, Err: runErr}
	}
	if runErr != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		runErr = fmt.Errorf("timed out after %s: %w", r.cfg.Timeout, runErr)
	}
	return stdout.String(), diag.String(), runErr
}

// StreamBytes implements Runner. Stdout chunks and stderr lines are pumped
// concurrently; the streaming mode has no fixed deadline of its own, so the
// caller bounds it through ctx.
func (r *CLIRunner) StreamBytes(ctx context.Context, target, credentialFile, format string, h StreamHandlers) error {
	bin, err := exec.LookPath(r.cfg.Binary)
	if err != nil {
		return &SubprocessError{Tool: r.cfg.Binary, Err: err}
	}

	args := append(r.baseArgs(credentialFile), "-f", format, "-o", "-", target)
	cmd := exec.CommandContext(ctx, bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("open stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return &SubprocessError{Tool: r.cfg.Binary, Err: err}
		}
		return fmt.Errorf("start resolver tool: %w", err)
	}

	var killOnce sync.Once
	kill := func() {
		killOnce.Do(func() {
			_ = cmd.Process.Kill()
		})
	}

	var g errgroup.Group
	g.Go(func() error {
		buf := make([]byte, 64*1024)
		for {
			n, readErr := stdout.Read(buf)
			if n > 0 && h.OnChunk != nil {
				if chunkErr := h.OnChunk(buf[:n]); chunkErr != nil {
					kill()
					return chunkErr
				}
			}
			if readErr != nil {
				// EOF, or the pipe closing after a kill. Either way the
				// stream is over.
				return nil
			}
		}
	})
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), diagnosticMaxBytes)
		scanner.Split(scanDiagnosticLines)
		for scanner.Scan() {
			if h.OnDiagnostic != nil {
				h.OnDiagnostic(scanner.Text())
			}
		}
		// Keep draining so the process never blocks on a full stderr pipe.
		_, _ = io.Copy(io.Discard, stderr)
		return nil
	})

	pumpErr := g.Wait()
	waitErr := cmd.Wait()
	if pumpErr != nil {
		return pumpErr
	}
	if waitErr != nil {
		return fmt.Errorf("resolver tool exited: %w", waitErr)
	}
	return nil
}

// scanDiagnosticLines splits on both LF and CR so the tool's in-place
// progress updates surface as individual lines.
func scanDiagnosticLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// limitedBuffer retains at most max bytes and discards the rest, so a
// runaway producer can neither exhaust memory nor block on a full pipe.
type limitedBuffer struct {
	max       int64
	truncated bool
	buf       bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - int64(b.buf.Len())
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string { return b.buf.String() }
