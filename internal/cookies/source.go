package cookies

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Source locates the raw credential blob across the configured providers.
// Precedence: secret file, then environment variable, then project file.
// The project file may hold the blob directly or wrap it .env-style under
// the same key as EnvVar.
type Source struct {
	SecretPath  string
	EnvVar      string
	ProjectFile string
}

// Raw returns the first non-empty credential blob found, or "".
func (s Source) Raw() string {
	if blob := readFileTrimmed(s.SecretPath); blob != "" {
		return blob
	}
	if v := strings.TrimSpace(os.Getenv(s.EnvVar)); v != "" {
		return v
	}
	if blob := readFileTrimmed(s.ProjectFile); blob != "" {
		return unwrapDotenv(blob, s.EnvVar)
	}
	return ""
}

func readFileTrimmed(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// unwrapDotenv unpacks a `KEY="..."` wrapper around the blob. Content that
// is not a dotenv assignment for key passes through untouched.
func unwrapDotenv(content, key string) string {
	if key == "" || !strings.HasPrefix(content, key+"=") {
		return content
	}
	values, err := godotenv.Unmarshal(content)
	if err != nil {
		return content
	}
	if v := strings.TrimSpace(values[key]); v != "" {
		return v
	}
	return content
}

// Provider ties a Source to a Normalizer, yielding a fresh credential file
// per request. The source is re-read every time because secret files and
// project files may be rotated while the service runs.
type Provider struct {
	source Source
	norm   *Normalizer
}

// NewProvider constructs a Provider.
func NewProvider(source Source, norm *Normalizer) *Provider {
	return &Provider{source: source, norm: norm}
}

// CredentialFile materializes the current credentials and returns the
// scratch file path, or "" when none are configured or usable.
func (p *Provider) CredentialFile() string {
	return p.norm.Materialize(p.source.Raw())
}
