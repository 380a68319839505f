package segdex

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/index"
	"github.com/hupe1980/segdex/internal/resource"
	"github.com/hupe1980/segdex/store"
)

// Config is the file form of the writer configuration.
//
//	backend: local
//	path: ./data
//	codec: standard
//	writer:
//	  ramBufferSizeMB: 64
//	  mergePolicy:
//	    type: tiered
//	    segmentsPerTier: 10
//	logging:
//	  level: info
//	  format: json
type Config struct {
	// Backend is "local" or "memory". Remote backends are built in code.
	Backend string `yaml:"backend"`
	// Path is the index directory of the local backend.
	Path string `yaml:"path"`
	// MMap maps local index files instead of reading them.
	MMap bool `yaml:"mmap"`
	// Codec names the registered codec new segments are written with.
	Codec string `yaml:"codec"`
	// CommitInterval commits periodically in the background when positive.
	CommitInterval time.Duration `yaml:"commitInterval"`

	Writer    WriterConfig   `yaml:"writer"`
	Resources ResourceConfig `yaml:"resources"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// WriterConfig holds the flush and merge settings of the writer.
type WriterConfig struct {
	OpenMode               string  `yaml:"openMode"`
	RAMBufferSizeMB        float64 `yaml:"ramBufferSizeMB"`
	MaxBufferedDocs        int     `yaml:"maxBufferedDocs"`
	MaxBufferedDeleteTerms int     `yaml:"maxBufferedDeleteTerms"`
	MaxTermLength          int     `yaml:"maxTermLength"`
	IngestionSlots         int     `yaml:"ingestionSlots"`
	CommitOnClose          bool    `yaml:"commitOnClose"`
	KeepAllCommits         bool    `yaml:"keepAllCommits"`

	MergePolicy    MergePolicyConfig    `yaml:"mergePolicy"`
	MergeScheduler MergeSchedulerConfig `yaml:"mergeScheduler"`
}

// MergePolicyConfig selects and tunes the merge policy.
type MergePolicyConfig struct {
	// Type is "tiered", "logdoc" or "none".
	Type string `yaml:"type"`

	SegmentsPerTier    float64 `yaml:"segmentsPerTier"`
	MaxMergeAtOnce     int     `yaml:"maxMergeAtOnce"`
	FloorSegmentMB     float64 `yaml:"floorSegmentMB"`
	MaxMergedSegmentMB float64 `yaml:"maxMergedSegmentMB"`
	DeletesPctAllowed  float64 `yaml:"deletesPctAllowed"`
	MergeFactor        int     `yaml:"mergeFactor"`
	MinMergeDocs       int     `yaml:"minMergeDocs"`
	MaxMergeDocs       int     `yaml:"maxMergeDocs"`
}

// MergeSchedulerConfig selects and tunes the merge scheduler.
type MergeSchedulerConfig struct {
	// Type is "concurrent", "serial" or "none".
	Type                string `yaml:"type"`
	MaxConcurrentMerges int    `yaml:"maxConcurrentMerges"`
	MaxMergeCount       int    `yaml:"maxMergeCount"`
}

// ResourceConfig bounds background work.
type ResourceConfig struct {
	MaxBackgroundWorkers int64 `yaml:"maxBackgroundWorkers"`
	MergeIOLimitMBPerSec int64 `yaml:"mergeIOLimitMBPerSec"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration LoadConfig starts from.
func DefaultConfig() *Config {
	return &Config{
		Backend: "local",
		Path:    "./data",
		Codec:   "standard",
		Writer: WriterConfig{
			OpenMode:        "create_or_append",
			RAMBufferSizeMB: index.DefaultRAMBufferSizeMB,
			CommitOnClose:   true,
			MergePolicy:     MergePolicyConfig{Type: "tiered"},
			MergeScheduler:  MergeSchedulerConfig{Type: "concurrent"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads a YAML config file (if path is not empty) and applies
// SEGDEX_* environment overrides to the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides reads SEGDEX_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SEGDEX_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("SEGDEX_PATH"); v != "" {
		cfg.Path = v
	}
	if v := os.Getenv("SEGDEX_CODEC"); v != "" {
		cfg.Codec = v
	}
	if v := os.Getenv("SEGDEX_MMAP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return invalidConfigf("SEGDEX_MMAP: %v", err)
		}
		cfg.MMap = b
	}
	if v := os.Getenv("SEGDEX_COMMIT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return invalidConfigf("SEGDEX_COMMIT_INTERVAL: %v", err)
		}
		cfg.CommitInterval = d
	}
	if v := os.Getenv("SEGDEX_RAM_BUFFER_MB"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return invalidConfigf("SEGDEX_RAM_BUFFER_MB: %v", err)
		}
		cfg.Writer.RAMBufferSizeMB = f
	}
	if v := os.Getenv("SEGDEX_MAX_BUFFERED_DOCS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return invalidConfigf("SEGDEX_MAX_BUFFERED_DOCS: %v", err)
		}
		cfg.Writer.MaxBufferedDocs = n
	}
	if v := os.Getenv("SEGDEX_MERGE_POLICY"); v != "" {
		cfg.Writer.MergePolicy.Type = v
	}
	if v := os.Getenv("SEGDEX_MERGE_SCHEDULER"); v != "" {
		cfg.Writer.MergeScheduler.Type = v
	}
	if v := os.Getenv("SEGDEX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SEGDEX_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	return nil
}

// Validate checks the config without opening anything.
func (c *Config) Validate() error {
	switch c.Backend {
	case "local":
		if c.Path == "" {
			return invalidConfigf("local backend needs a path")
		}
	case "memory":
	default:
		return invalidConfigf("unknown backend %q", c.Backend)
	}
	if _, err := codec.Lookup(c.Codec); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := parseOpenMode(c.Writer.OpenMode); err != nil {
		return err
	}
	if c.Writer.RAMBufferSizeMB < 0 || c.Writer.MaxBufferedDocs < 0 {
		return invalidConfigf("negative flush trigger")
	}
	if c.Writer.RAMBufferSizeMB == 0 && c.Writer.MaxBufferedDocs == 0 {
		return invalidConfigf("one of ramBufferSizeMB and maxBufferedDocs must be set")
	}
	switch c.Writer.MergePolicy.Type {
	case "", "tiered", "logdoc", "none":
	default:
		return invalidConfigf("unknown merge policy %q", c.Writer.MergePolicy.Type)
	}
	switch c.Writer.MergeScheduler.Type {
	case "", "concurrent", "serial", "none":
	default:
		return invalidConfigf("unknown merge scheduler %q", c.Writer.MergeScheduler.Type)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return invalidConfigf("logging level: %v", err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return invalidConfigf("unknown logging format %q", c.Logging.Format)
	}
	if c.CommitInterval < 0 {
		return invalidConfigf("negative commit interval")
	}
	return nil
}

func parseOpenMode(s string) (index.OpenMode, error) {
	switch s {
	case "", "create_or_append":
		return index.CreateOrAppend, nil
	case "create":
		return index.Create, nil
	case "append":
		return index.Append, nil
	}
	return 0, invalidConfigf("unknown open mode %q", s)
}

// NewLogger builds the logger described by the logging section.
func (c *Config) NewLogger() *Logger {
	level, err := ParseLevel(c.Logging.Level)
	if err != nil {
		level = 0
	}
	return newLogger(os.Stderr, strings.ToLower(c.Logging.Format), level)
}

// NewBackend returns the backend the config describes.
func (c *Config) NewBackend() (Backend, error) {
	switch c.Backend {
	case "local":
		return Local(c.Path, store.WithMMap(c.MMap)), nil
	case "memory":
		return Memory(), nil
	}
	return nil, invalidConfigf("unknown backend %q", c.Backend)
}

// IndexOptions converts the config into writer options.
func (c *Config) IndexOptions() ([]index.Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	cd, err := codec.Lookup(c.Codec)
	if err != nil {
		return nil, err
	}
	mode, _ := parseOpenMode(c.Writer.OpenMode)
	w := c.Writer

	opts := []index.Option{
		index.WithCodec(cd),
		index.WithOpenMode(mode),
		index.WithRAMBufferSizeMB(w.RAMBufferSizeMB),
		index.WithMaxBufferedDocs(w.MaxBufferedDocs),
		index.WithMaxBufferedDeleteTerms(w.MaxBufferedDeleteTerms),
		index.WithCommitOnClose(w.CommitOnClose),
		index.WithMergePolicy(c.mergePolicy()),
		index.WithMergeScheduler(c.mergeScheduler()),
	}
	if w.MaxTermLength > 0 {
		opts = append(opts, index.WithMaxTermLength(w.MaxTermLength))
	}
	if w.IngestionSlots > 0 {
		opts = append(opts, index.WithIngestionSlots(w.IngestionSlots))
	}
	if w.KeepAllCommits {
		opts = append(opts, index.WithDeletionPolicy(index.KeepAllCommits{}))
	}
	if r := c.Resources; r.MaxBackgroundWorkers > 0 || r.MergeIOLimitMBPerSec > 0 {
		opts = append(opts, index.WithResourceController(resource.NewController(resource.Config{
			MaxBackgroundWorkers: r.MaxBackgroundWorkers,
			IOLimitBytesPerSec:   r.MergeIOLimitMBPerSec << 20,
		})))
	}
	return opts, nil
}

func (c *Config) mergePolicy() index.MergePolicy {
	mp := c.Writer.MergePolicy
	switch mp.Type {
	case "none":
		return index.NoMergePolicy{}
	case "logdoc":
		p := index.NewLogDocMergePolicy()
		if mp.MergeFactor > 0 {
			p.MergeFactor = mp.MergeFactor
		}
		if mp.MinMergeDocs > 0 {
			p.MinMergeDocs = mp.MinMergeDocs
		}
		p.MaxMergeDocs = mp.MaxMergeDocs
		p.ForceMergeDeletesPctAllowed = mp.DeletesPctAllowed
		return p
	}
	p := index.NewTieredMergePolicy()
	if mp.SegmentsPerTier > 0 {
		p.SegmentsPerTier = mp.SegmentsPerTier
	}
	if mp.MaxMergeAtOnce > 0 {
		p.MaxMergeAtOnce = mp.MaxMergeAtOnce
	}
	if mp.FloorSegmentMB > 0 {
		p.FloorSegmentBytes = int64(mp.FloorSegmentMB * (1 << 20))
	}
	if mp.MaxMergedSegmentMB > 0 {
		p.MaxMergedSegmentBytes = int64(mp.MaxMergedSegmentMB * (1 << 20))
	}
	if mp.DeletesPctAllowed > 0 {
		p.ForceMergeDeletesPctAllowed = mp.DeletesPctAllowed
	}
	return p
}

func (c *Config) mergeScheduler() index.MergeScheduler {
	ms := c.Writer.MergeScheduler
	switch ms.Type {
	case "none":
		return index.NoMergeScheduler{}
	case "serial":
		return index.NewSerialMergeScheduler()
	}
	s := index.NewConcurrentMergeScheduler()
	if ms.MaxConcurrentMerges > 0 {
		s.MaxConcurrentMerges = ms.MaxConcurrentMerges
	}
	if ms.MaxMergeCount > 0 {
		s.MaxMergeCount = ms.MaxMergeCount
	}
	return s
}
