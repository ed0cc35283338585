package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration for the mediascribe service.
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Resolver  ResolverConfig
	Fetch     FetchConfig
	Inference InferenceConfig
	Cache     CacheConfig
	Cookies   CookiesConfig
	Tracing   TracingConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"mediascribe"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Addr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	// WriteTimeout defaults to 0: the transcription endpoint streams progress
	// for as long as the pipeline runs and must not be cut off mid-stream.
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

type ResolverConfig struct {
	Binary           string        `env:"RESOLVER_BINARY" envDefault:"yt-dlp"`
	UserAgent        string        `env:"RESOLVER_USER_AGENT" envDefault:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"`
	Timeout          time.Duration `env:"RESOLVER_TIMEOUT" envDefault:"30s"`
	DirectMaxBytes   int64         `env:"RESOLVER_DIRECT_MAX_BYTES" envDefault:"10485760"`
	MetadataMaxBytes int64         `env:"RESOLVER_METADATA_MAX_BYTES" envDefault:"52428800"`
	MaxAttempts      uint          `env:"RESOLVER_MAX_ATTEMPTS" envDefault:"2"`
	AttemptWindow    time.Duration `env:"RESOLVER_ATTEMPT_WINDOW" envDefault:"45s"`
}

type FetchConfig struct {
	AudioMaxBytes int64         `env:"FETCH_AUDIO_MAX_BYTES" envDefault:"20971520"`
	FileMaxBytes  int64         `env:"FETCH_FILE_MAX_BYTES" envDefault:"52428800"`
	Timeout       time.Duration `env:"FETCH_TIMEOUT" envDefault:"10m"`
}

type InferenceConfig struct {
	APIKey  string        `env:"INFERENCE_API_KEY"`
	BaseURL string        `env:"INFERENCE_BASE_URL" envDefault:"https://generativelanguage.googleapis.com"`
	Model   string        `env:"INFERENCE_MODEL" envDefault:"gemini-2.5-flash"`
	Timeout time.Duration `env:"INFERENCE_TIMEOUT" envDefault:"2m"`
}

type CacheConfig struct {
	Backend    string        `env:"CACHE_BACKEND" envDefault:"memory"`
	TTL        time.Duration `env:"CACHE_TTL" envDefault:"10m"`
	SQLitePath string        `env:"CACHE_SQLITE_PATH" envDefault:"data/mediascribe.db"`
}

type CookiesConfig struct {
	SecretPath    string        `env:"COOKIES_SECRET_PATH" envDefault:"/run/secrets/media_cookies"`
	EnvVar        string        `env:"COOKIES_ENV_VAR" envDefault:"MEDIA_COOKIES"`
	ProjectFile   string        `env:"COOKIES_FILE" envDefault:"cookies.txt"`
	ScratchDir    string        `env:"COOKIES_SCRATCH_DIR"`
	SweepSchedule string        `env:"COOKIES_SWEEP_SCHEDULE" envDefault:"@every 30m"`
	SweepMaxAge   time.Duration `env:"COOKIES_SWEEP_MAX_AGE" envDefault:"1h"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=mediascribe"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
