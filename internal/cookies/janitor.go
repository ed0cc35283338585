package cookies

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// scratchPrefix marks files this package owns inside the scratch directory.
// The janitor only ever touches files carrying it.
const scratchPrefix = "cookies-"

// Janitor removes scratch cookie files left behind by finished requests.
// It runs on a cron schedule wired up in main.
type Janitor struct {
	dir    string
	maxAge time.Duration
	logger *zap.Logger
}

// NewJanitor constructs a Janitor sweeping dir for files older than maxAge.
func NewJanitor(dir string, maxAge time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{dir: dir, maxAge: maxAge, logger: logger}
}

// Sweep deletes expired scratch files. Best-effort: individual failures are
// logged and skipped.
func (j *Janitor) Sweep() {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Warn("read cookie scratch dir", zap.Error(err))
		}
		return
	}

	cutoff := time.Now().Add(-j.maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), scratchPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			j.logger.Warn("remove stale cookie file", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		j.logger.Info("swept stale cookie files", zap.Int("removed", removed))
	}
}
