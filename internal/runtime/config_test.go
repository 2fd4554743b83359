package runtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gc_threshold: 512
timeout_ms: 1000
max_call_depth: 256
log_level: debug
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.GCThreshold)
	assert.Equal(t, 1000, cfg.TimeoutMs)
	assert.Equal(t, 256, cfg.MaxCallDepth)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigMissingFileErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestNewLoggerFallsBackToInfoOnBadLevel(t *testing.T) {
	l := NewLogger("not-a-real-level")
	assert.Equal(t, "info", l.GetLevel().String())
}
