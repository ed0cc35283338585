package cookies

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestJanitorSweepRemovesOnlyStaleScratchFiles(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "cookies-stale.txt")
	fresh := filepath.Join(dir, "cookies-fresh.txt")
	unrelated := filepath.Join(dir, "notes.txt")
	for _, path := range []string{stale, fresh, unrelated} {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	}
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(unrelated, old, old))

	NewJanitor(dir, time.Hour, zap.NewNop()).Sweep()

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, unrelated)
}

func TestJanitorSweepMissingDir(t *testing.T) {
	j := NewJanitor(filepath.Join(t.TempDir(), "gone"), time.Hour, zap.NewNop())
	assert.NotPanics(t, j.Sweep)
}
