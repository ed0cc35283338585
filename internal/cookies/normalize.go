// Package cookies turns credential blobs of wildly varying provenance into
// the tab-separated Netscape flat file the external resolver tool consumes.
package cookies

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	headerLine     = "# Netscape HTTP Cookie File"
	httpOnlyPrefix = "#HttpOnly_"
)

// Normalizer materializes normalized cookie files into a scratch directory.
type Normalizer struct {
	scratchDir string
	logger     *zap.Logger
}

// NewNormalizer constructs a Normalizer writing under scratchDir.
func NewNormalizer(scratchDir string, logger *zap.Logger) *Normalizer {
	return &Normalizer{scratchDir: scratchDir, logger: logger}
}

// Materialize normalizes raw and writes the result to a scratch file the
// resolver tool can consume through its cookie flag. It returns the file
// path, or "" when no usable credentials exist. Any normalization or write
// failure is logged and treated as "no credentials" so the pipeline proceeds
// anonymously instead of failing the request.
func (n *Normalizer) Materialize(raw string) string {
	content, suspect, err := normalize(raw)
	if err != nil {
		n.logger.Warn("cookie normalization failed, proceeding without credentials", zap.Error(err))
		return ""
	}
	if content == "" {
		return ""
	}
	for _, line := range suspect {
		n.logger.Warn("unclassifiable cookie line kept verbatim", zap.String("line", truncate(line, 120)))
	}

	if err := os.MkdirAll(n.scratchDir, 0o700); err != nil {
		n.logger.Warn("create cookie scratch dir", zap.Error(err))
		return ""
	}
	path := filepath.Join(n.scratchDir, scratchPrefix+uuid.NewString()+".txt")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		n.logger.Warn("write cookie scratch file", zap.Error(err))
		return ""
	}
	return path
}

// Normalize converts a raw credential blob into canonical flat-file content.
// Empty input yields empty output and no error.
func Normalize(raw string) (string, error) {
	content, _, err := normalize(raw)
	return content, err
}

func normalize(raw string) (content string, suspect []string, err error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil, nil
	}
	if isFlatFile(trimmed) {
		return ensureHeader(trimmed), nil, nil
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		content, err = normalizeJSON(trimmed)
		return content, nil, err
	}
	content, suspect = normalizeLoose(trimmed)
	return content, suspect, nil
}

// isFlatFile detects content already in Netscape form: the canonical header
// comment, or a tab-separated include-subdomains flag somewhere in the body.
func isFlatFile(trimmed string) bool {
	return strings.HasPrefix(trimmed, headerLine) || strings.Contains(trimmed, "\tTRUE")
}

func ensureHeader(content string) string {
	if !strings.HasPrefix(content, headerLine) {
		content = headerLine + "\n" + content
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content
}

// jsonCookie is a browser-extension cookie export record.
type jsonCookie struct {
	Domain         string  `json:"domain"`
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Path           string  `json:"path"`
	Secure         bool    `json:"secure"`
	HTTPOnly       bool    `json:"httpOnly"`
	HostOnly       bool    `json:"hostOnly"`
	ExpirationDate float64 `json:"expirationDate"`
}

// flatLine renders the record as one tab-separated Netscape line. HttpOnly
// cookies use the #HttpOnly_ domain prefix convention; domains gain a leading
// dot unless the cookie is host-only or http-only or the dot is already there.
func (c jsonCookie) flatLine() string {
	domain := c.Domain
	if !c.HTTPOnly && !c.HostOnly && !strings.HasPrefix(domain, ".") {
		domain = "." + domain
	}
	includeSub := "FALSE"
	if strings.HasPrefix(domain, ".") {
		includeSub = "TRUE"
	}
	secure := "FALSE"
	if c.Secure {
		secure = "TRUE"
	}
	path := c.Path
	if path == "" {
		path = "/"
	}
	var expiry int64
	if c.ExpirationDate > 0 {
		expiry = int64(math.Floor(c.ExpirationDate))
	}
	prefix := ""
	if c.HTTPOnly {
		prefix = httpOnlyPrefix
	}
	return prefix + domain + "\t" + includeSub + "\t" + path + "\t" + secure + "\t" +
		strconv.FormatInt(expiry, 10) + "\t" + c.Name + "\t" + c.Value
}

func normalizeJSON(trimmed string) (string, error) {
	var records []jsonCookie
	for _, block := range splitTopLevelJSON(trimmed) {
		records = append(records, decodeCookieBlock(block)...)
	}

	var b strings.Builder
	b.WriteString(headerLine)
	b.WriteByte('\n')
	count := 0
	for _, rec := range records {
		if rec.Name == "" && rec.Domain == "" {
			continue
		}
		b.WriteString(rec.flatLine())
		b.WriteByte('\n')
		count++
	}
	if count == 0 {
		return "", errors.New("no cookie records found in JSON input")
	}
	return b.String(), nil
}

// decodeCookieBlock extracts cookie records from one JSON value: a bare
// array, an object carrying a "cookies" property, or a single cookie object.
func decodeCookieBlock(block string) []jsonCookie {
	data := []byte(block)

	var arr []jsonCookie
	if err := json.Unmarshal(data, &arr); err == nil {
		return arr
	}

	var wrapped struct {
		Cookies []jsonCookie `json:"cookies"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Cookies) > 0 {
		return wrapped.Cookies
	}

	var single jsonCookie
	if err := json.Unmarshal(data, &single); err == nil && single.Name != "" && single.Domain != "" {
		return []jsonCookie{single}
	}
	return nil
}

// splitTopLevelJSON slices concatenated JSON values out of s by tracking
// brace depth, ignoring brackets inside strings. Text between values is
// discarded.
func splitTopLevelJSON(s string) []string {
	var blocks []string
	depth := 0
	inString := false
	escaped := false
	start := -1

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{', '[':
			if depth == 0 {
				start = i
			}
			depth++
		case '}', ']':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				blocks = append(blocks, s[start:i+1])
				start = -1
			}
		}
	}
	return blocks
}

var (
	numberedPrefixRe = regexp.MustCompile(`^\s*\d{1,5}(?:\t| {2,}|\s*[│┃║|])\s?`)
	boxPrefixRe      = regexp.MustCompile(`^[│┃║|]+ ?`)
)

// normalizeLoose salvages flat-file content mangled in transit: terminal
// copy artifacts are stripped, hard-wrapped records are reassembled, and
// records whose tabs collapsed to spaces are re-tabbed. Lines that still do
// not look like cookie records are kept verbatim and reported as suspect so
// the caller can log them.
func normalizeLoose(trimmed string) (string, []string) {
	var merged []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimRight(line, "\r")
		line = stripCopyArtifacts(line)
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(merged) > 0 && isContinuation(line) {
			merged[len(merged)-1] += line
			continue
		}
		merged = append(merged, line)
	}

	out := []string{headerLine}
	var suspect []string
	for _, line := range merged {
		line = retab(line)
		if !strings.HasPrefix(line, "#") && strings.Count(line, "\t") < 6 {
			suspect = append(suspect, line)
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n") + "\n", suspect
}

func stripCopyArtifacts(line string) string {
	line = numberedPrefixRe.ReplaceAllString(line, "")
	return boxPrefixRe.ReplaceAllString(line, "")
}

// isContinuation reports whether line is the tail of a hard-wrapped record
// rather than the start of a new one: it neither opens a comment or domain
// field nor already holds a full set of tab-separated fields.
func isContinuation(line string) bool {
	if strings.HasPrefix(line, "#") || strings.HasPrefix(line, ".") {
		return false
	}
	return strings.Count(line, "\t") < 6
}

// retab rebuilds tab separation for records pasted with tabs collapsed to
// spaces. The first six tokens are fixed fields; the remainder is the value,
// which may itself contain spaces.
func retab(line string) string {
	if strings.Contains(line, "\t") {
		return line
	}
	fields := strings.Fields(line)
	if len(fields) < 7 {
		return line
	}
	return strings.Join(fields[:6], "\t") + "\t" + strings.Join(fields[6:], " ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
