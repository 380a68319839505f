package segdex

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segdex/index"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segdex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
backend: memory
codec: compact
commitInterval: 5s
writer:
  openMode: create
  ramBufferSizeMB: 32
  maxBufferedDocs: 500
  keepAllCommits: true
  mergePolicy:
    type: logdoc
    mergeFactor: 4
  mergeScheduler:
    type: serial
logging:
  level: debug
  format: json
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, "compact", cfg.Codec)
	assert.Equal(t, 5*time.Second, cfg.CommitInterval)
	assert.Equal(t, "create", cfg.Writer.OpenMode)
	assert.InDelta(t, 32, cfg.Writer.RAMBufferSizeMB, 0)
	assert.Equal(t, 500, cfg.Writer.MaxBufferedDocs)
	assert.True(t, cfg.Writer.KeepAllCommits)
	assert.True(t, cfg.Writer.CommitOnClose, "unset fields keep their defaults")

	p, ok := cfg.mergePolicy().(*index.LogDocMergePolicy)
	require.True(t, ok)
	assert.Equal(t, 4, p.MergeFactor)
	assert.IsType(t, index.NewSerialMergeScheduler(), cfg.mergeScheduler())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, "backend: local\npath: /from/file\n")
	t.Setenv("SEGDEX_PATH", "/from/env")
	t.Setenv("SEGDEX_MAX_BUFFERED_DOCS", "42")
	t.Setenv("SEGDEX_COMMIT_INTERVAL", "250ms")
	t.Setenv("SEGDEX_MERGE_POLICY", "none")
	t.Setenv("SEGDEX_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/from/env", cfg.Path)
	assert.Equal(t, 42, cfg.Writer.MaxBufferedDocs)
	assert.Equal(t, 250*time.Millisecond, cfg.CommitInterval)
	assert.Equal(t, index.NoMergePolicy{}, cfg.mergePolicy())
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfigBadEnv(t *testing.T) {
	t.Setenv("SEGDEX_MMAP", "sometimes")
	_, err := LoadConfig("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend = "tape" }},
		{"local without path", func(c *Config) { c.Path = "" }},
		{"unknown codec", func(c *Config) { c.Codec = "nope" }},
		{"unknown open mode", func(c *Config) { c.Writer.OpenMode = "sometimes" }},
		{"no flush trigger", func(c *Config) { c.Writer.RAMBufferSizeMB = 0 }},
		{"negative ram buffer", func(c *Config) { c.Writer.RAMBufferSizeMB = -1 }},
		{"unknown merge policy", func(c *Config) { c.Writer.MergePolicy.Type = "random" }},
		{"unknown merge scheduler", func(c *Config) { c.Writer.MergeScheduler.Type = "eager" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "chatty" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"negative commit interval", func(c *Config) { c.CommitInterval = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfigTieredPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Writer.MergePolicy = MergePolicyConfig{
		Type:               "tiered",
		SegmentsPerTier:    4,
		MaxMergeAtOnce:     3,
		FloorSegmentMB:     1,
		MaxMergedSegmentMB: 64,
		DeletesPctAllowed:  20,
	}
	p, ok := cfg.mergePolicy().(*index.TieredMergePolicy)
	require.True(t, ok)
	assert.InDelta(t, 4, p.SegmentsPerTier, 0)
	assert.Equal(t, 3, p.MaxMergeAtOnce)
	assert.Equal(t, int64(1<<20), p.FloorSegmentBytes)
	assert.Equal(t, int64(64<<20), p.MaxMergedSegmentBytes)
	assert.InDelta(t, 20, p.ForceMergeDeletesPctAllowed, 0)
}

func TestConfigScheduler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Writer.MergeScheduler = MergeSchedulerConfig{Type: "concurrent", MaxConcurrentMerges: 2, MaxMergeCount: 5}
	s, ok := cfg.mergeScheduler().(*index.ConcurrentMergeScheduler)
	require.True(t, ok)
	assert.Equal(t, 2, s.MaxConcurrentMerges)
	assert.Equal(t, 5, s.MaxMergeCount)

	cfg.Writer.MergeScheduler.Type = "none"
	assert.Equal(t, index.NoMergeScheduler{}, cfg.mergeScheduler())
}

func TestConfigIndexOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Writer.MaxTermLength = 100
	cfg.Resources.MaxBackgroundWorkers = 2

	opts, err := cfg.IndexOptions()
	require.NoError(t, err)

	ic := index.DefaultConfig()
	ic.CommitOnClose = false
	for _, opt := range opts {
		opt(&ic)
	}
	assert.Equal(t, index.CreateOrAppend, ic.OpenMode)
	assert.Equal(t, 100, ic.MaxTermLength)
	assert.NotNil(t, ic.Resources)
	assert.True(t, ic.CommitOnClose)
}
