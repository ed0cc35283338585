package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// ResolvedMedia describes the playable (or at least previewable) rendition
// the tool found for a target URL.
type ResolvedMedia struct {
	DirectURL   string  `json:"direct_url"`
	Title       string  `json:"title"`
	CanPreview  bool    `json:"can_preview"`
	Uploader    string  `json:"uploader,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

// MetadataCache memoizes resolutions keyed by target URL. Implementations
// drop entries after a short TTL; a miss simply re-runs the tool.
type MetadataCache interface {
	Get(ctx context.Context, key string) (ResolvedMedia, bool)
	Put(ctx context.Context, key string, media ResolvedMedia)
}

// ResolutionError means the tool ran but produced no usable media. The raw
// diagnostic text of the final attempt is kept for debugging.
type ResolutionError struct {
	URL        string
	Diagnostic string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("no playable media resolved for %s", e.URL)
}

// Resolver coordinates resolution strategies, retries, and the metadata
// cache.
type Resolver struct {
	runner     Runner
	cache      MetadataCache
	logger     *zap.Logger
	maxTries   uint
	maxElapsed time.Duration
}

// Params collects the dependencies for New.
type Params struct {
	Runner     Runner
	Cache      MetadataCache
	Logger     *zap.Logger
	MaxTries   uint          // attempts per resolution, including the first
	MaxElapsed time.Duration // wall-clock budget across attempts
}

// New constructs a Resolver.
func New(p Params) *Resolver {
	if p.MaxTries == 0 {
		p.MaxTries = 2
	}
	if p.MaxElapsed <= 0 {
		p.MaxElapsed = 45 * time.Second
	}
	return &Resolver{
		runner:     p.Runner,
		cache:      p.Cache,
		logger:     p.Logger,
		maxTries:   p.MaxTries,
		maxElapsed: p.MaxElapsed,
	}
}

// resolutionStrategy is one way of turning a page URL into media. Strategies
// run in order; the first success wins and the last failure is reported.
type resolutionStrategy struct {
	name string
	run  func(ctx context.Context, target, credentialFile string) (ResolvedMedia, error)
}

// Resolve returns the media behind target, consulting the cache first. A
// fresh resolution is retried with exponential backoff, except when the tool
// itself cannot be launched.
func (r *Resolver) Resolve(ctx context.Context, target, credentialFile string) (ResolvedMedia, error) {
	key := strings.TrimSpace(target)
	if media, ok := r.cache.Get(ctx, key); ok {
		r.logger.Debug("resolution cache hit", zap.String("url", key))
		return media, nil
	}

	media, err := backoff.Retry(ctx,
		func() (ResolvedMedia, error) { return r.resolveOnce(ctx, key, credentialFile) },
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithMaxElapsedTime(r.maxElapsed),
	)
	if err != nil {
		return ResolvedMedia{}, err
	}

	r.cache.Put(ctx, key, media)
	return media, nil
}

func (r *Resolver) resolveOnce(ctx context.Context, target, credentialFile string) (ResolvedMedia, error) {
	strategies := []resolutionStrategy{
		{name: "direct", run: r.resolveDirect},
		{name: "metadata", run: r.resolveViaMetadata},
	}

	var lastErr error
	for _, s := range strategies {
		media, err := s.run(ctx, target, credentialFile)
		if err == nil {
			r.logger.Info("media resolved",
				zap.String("url", target),
				zap.String("strategy", s.name),
				zap.Bool("can_preview", media.CanPreview))
			return media, nil
		}

		var subErr *SubprocessError
		if errors.As(err, &subErr) {
			return ResolvedMedia{}, backoff.Permanent(err)
		}
		r.logger.Warn("resolution strategy failed",
			zap.String("url", target),
			zap.String("strategy", s.name),
			zap.Error(err))
		lastErr = err
	}
	return ResolvedMedia{}, lastErr
}

// resolveDirect asks the tool for a single direct URL. The tool may chatter
// on its diagnostic stream even on success; only a process failure or empty
// stdout counts as a miss.
func (r *Resolver) resolveDirect(ctx context.Context, target, credentialFile string) (ResolvedMedia, error) {
	stdout, diag, err := r.runner.ResolveDirectURL(ctx, target, credentialFile)
	if err != nil {
		return ResolvedMedia{}, fmt.Errorf("direct resolution: %w", err)
	}
	direct := firstLine(stdout)
	if direct == "" {
		return ResolvedMedia{}, fmt.Errorf("direct resolution: tool returned no URL: %s", lastLine(diag))
	}
	return ResolvedMedia{DirectURL: direct, Title: defaultTitle, CanPreview: true}, nil
}

func (r *Resolver) resolveViaMetadata(ctx context.Context, target, credentialFile string) (ResolvedMedia, error) {
	doc, diag, err := r.runner.ResolveMetadata(ctx, target, credentialFile)
	if err != nil {
		var subErr *SubprocessError
		if errors.As(err, &subErr) {
			return ResolvedMedia{}, err
		}
		return ResolvedMedia{}, &ResolutionError{URL: target, Diagnostic: joinDiagnostic(diag, err)}
	}
	media, err := parseMetadata(doc)
	if err != nil {
		return ResolvedMedia{}, &ResolutionError{URL: target, Diagnostic: joinDiagnostic(diag, err)}
	}
	return media, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func joinDiagnostic(diag string, err error) string {
	diag = strings.TrimSpace(diag)
	if diag == "" {
		return err.Error()
	}
	return diag
}
