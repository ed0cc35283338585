package scribe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/mediascribe/internal/inference"
	"github.com/your-org/mediascribe/internal/resolver"
)

// audioMIMEType labels the buffered audio rendition for inference. The
// audio-first format selector lands on an MP4/M4A container on every major
// site the resolver tool supports.
const audioMIMEType = "audio/mp4"

// MediaResolver turns a page URL into a playable media description.
type MediaResolver interface {
	Resolve(ctx context.Context, target, credentialFile string) (resolver.ResolvedMedia, error)
}

// MediaFetcher buffers the bytes of one media rendition.
type MediaFetcher interface {
	Fetch(ctx context.Context, target, credentialFile string, opts resolver.FetchOptions, onProgress func(float64)) ([]byte, error)
}

// Transcriber produces the transcription artifact from buffered media.
type Transcriber interface {
	Transcribe(ctx context.Context, media []byte, mimeType, targetLanguage string) (inference.Result, error)
}

// CredentialProvider yields a cookie file path for the resolver tool, or ""
// when no credentials are configured.
type CredentialProvider interface {
	CredentialFile() string
}

// Service coordinates resolution, fetching, and transcription for one
// request at a time. Stage callbacks fire before the methods return; the
// caller owns emitting terminal records.
type Service struct {
	resolver     MediaResolver
	fetcher      MediaFetcher
	transcriber  Transcriber
	creds        CredentialProvider
	logger       *zap.Logger
	tracer       trace.Tracer
	audioMax     int64
	fileMax      int64
	fetchTimeout time.Duration
}

// Params carries the dependencies for NewService.
type Params struct {
	Resolver      MediaResolver
	Fetcher       MediaFetcher
	Transcriber   Transcriber
	Credentials   CredentialProvider
	Logger        *zap.Logger
	AudioMaxBytes int64
	FileMaxBytes  int64
	FetchTimeout  time.Duration
}

func NewService(p Params) *Service {
	return &Service{
		resolver:     p.Resolver,
		fetcher:      p.Fetcher,
		transcriber:  p.Transcriber,
		creds:        p.Credentials,
		logger:       p.Logger,
		tracer:       otel.Tracer("mediascribe/scribe"),
		audioMax:     p.AudioMaxBytes,
		fileMax:      p.FileMaxBytes,
		fetchTimeout: p.FetchTimeout,
	}
}

// stage runs fn inside a named child span, recording its error.
func (s *Service) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// ResolveURL resolves target into preview metadata.
func (s *Service) ResolveURL(ctx context.Context, target string) (resolver.ResolvedMedia, error) {
	credentialFile := s.creds.CredentialFile()

	var media resolver.ResolvedMedia
	err := s.stage(ctx, "pipeline.resolve", func(ctx context.Context) error {
		var err error
		media, err = s.resolver.Resolve(ctx, target, credentialFile)
		return err
	})
	if err != nil {
		return resolver.ResolvedMedia{}, err
	}
	return media, nil
}

// Download resolves target and buffers a combined audio+video rendition.
func (s *Service) Download(ctx context.Context, target string) ([]byte, resolver.ResolvedMedia, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.download")
	defer span.End()

	credentialFile := s.creds.CredentialFile()

	var media resolver.ResolvedMedia
	err := s.stage(ctx, "pipeline.resolve", func(ctx context.Context) error {
		var err error
		media, err = s.resolver.Resolve(ctx, target, credentialFile)
		return err
	})
	if err != nil {
		return nil, resolver.ResolvedMedia{}, err
	}

	var data []byte
	err = s.stage(ctx, "pipeline.fetch", func(ctx context.Context) error {
		var err error
		data, err = s.fetcher.Fetch(ctx, target, credentialFile, resolver.FetchOptions{
			Format:   resolver.FormatCombined,
			MaxBytes: s.fileMax,
			Timeout:  s.fetchTimeout,
		}, nil)
		return err
	})
	if err != nil {
		return nil, resolver.ResolvedMedia{}, err
	}

	s.logger.Info("download complete",
		zap.String("url", target),
		zap.Int("bytes", len(data)))
	return data, media, nil
}

// Transcribe runs the full pipeline against target. Download percentages
// reach onProgress and stage changes reach onStatus while the pipeline runs.
func (s *Service) Transcribe(ctx context.Context, target, targetLanguage string, onProgress func(float64), onStatus func(string)) (inference.Result, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.transcribe")
	defer span.End()

	credentialFile := s.creds.CredentialFile()

	// Resolution confirms the URL yields playable media before any bytes
	// move, and warms the metadata cache for a subsequent preview call.
	err := s.stage(ctx, "pipeline.resolve", func(ctx context.Context) error {
		_, err := s.resolver.Resolve(ctx, target, credentialFile)
		return err
	})
	if err != nil {
		return inference.Result{}, err
	}

	var audio []byte
	err = s.stage(ctx, "pipeline.fetch", func(ctx context.Context) error {
		var err error
		audio, err = s.fetcher.Fetch(ctx, target, credentialFile, resolver.FetchOptions{
			Format:   resolver.FormatAudio,
			MaxBytes: s.audioMax,
			Timeout:  s.fetchTimeout,
		}, onProgress)
		return err
	})
	if err != nil {
		return inference.Result{}, err
	}

	if onStatus != nil {
		onStatus("transcribing audio")
	}

	var result inference.Result
	err = s.stage(ctx, "pipeline.inference", func(ctx context.Context) error {
		var err error
		result, err = s.transcriber.Transcribe(ctx, audio, audioMIMEType, targetLanguage)
		return err
	})
	if err != nil {
		return inference.Result{}, err
	}
	return result, nil
}
