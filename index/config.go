package index

import (
	"log/slog"
	"runtime"

	"github.com/hupe1980/segdex/analysis"
	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/codec/standard"
	"github.com/hupe1980/segdex/internal/resource"
	"github.com/hupe1980/segdex/internal/termhash"
)

// OpenMode selects how OpenWriter treats an existing index.
type OpenMode uint8

const (
	// CreateOrAppend appends to an existing index or creates a new one.
	CreateOrAppend OpenMode = iota
	// Create starts a new index. An existing index is replaced by the first
	// commit; readers on older commits keep working.
	Create
	// Append requires an existing index.
	Append
)

func (m OpenMode) String() string {
	switch m {
	case Create:
		return "create"
	case Append:
		return "append"
	default:
		return "create_or_append"
	}
}

const (
	// DefaultRAMBufferSizeMB is the default flush trigger.
	DefaultRAMBufferSizeMB = 16.0
	// DefaultMaxTermLength is the longest indexable term, in bytes. It is
	// also the hard limit.
	DefaultMaxTermLength = termhash.MaxTermLength
	// MaxDocs is the largest number of documents an index can hold.
	MaxDocs = 1<<31 - 1 - 128

	// WriteLockName is the name of the writer's lock file.
	WriteLockName = "write.lock"
)

// Config holds the writer configuration. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	OpenMode OpenMode

	// Analyzer tokenizes string values of tokenized fields.
	Analyzer analysis.Analyzer

	// Codec writes new segments. Segments written by other registered codecs
	// remain readable and are rewritten by merges.
	Codec *codec.Codec

	MergePolicy    MergePolicy
	MergeScheduler MergeScheduler
	DeletionPolicy DeletionPolicy

	// MaxBufferedDocs flushes a segment builder once it holds this many
	// documents. Zero disables the trigger.
	MaxBufferedDocs int

	// RAMBufferSizeMB flushes the largest builder once all builders together
	// use this much memory. Zero disables the trigger. At least one of the
	// two triggers must be enabled.
	RAMBufferSizeMB float64

	// MaxBufferedDeleteTerms flushes all builders once this many delete
	// terms are buffered. Zero disables the trigger.
	MaxBufferedDeleteTerms int

	// MaxTermLength rejects documents with longer terms. It cannot exceed
	// DefaultMaxTermLength.
	MaxTermLength int

	// IngestionSlots bounds the number of segment builders, and therefore
	// the number of documents indexed concurrently.
	IngestionSlots int

	// CommitOnClose commits pending changes in Close.
	CommitOnClose bool

	// OverrideStaleLock breaks an existing write lock. Use it only when the
	// previous owner is known to be dead.
	OverrideStaleLock bool

	Logger    *slog.Logger
	Metrics   MetricsObserver
	Resources *resource.Controller
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		OpenMode:        CreateOrAppend,
		Analyzer:        analysis.NewStandardAnalyzer(),
		Codec:           standard.Default(),
		MergePolicy:     NewTieredMergePolicy(),
		MergeScheduler:  NewConcurrentMergeScheduler(),
		DeletionPolicy:  KeepOnlyLastCommit{},
		RAMBufferSizeMB: DefaultRAMBufferSizeMB,
		MaxTermLength:   DefaultMaxTermLength,
		IngestionSlots:  runtime.GOMAXPROCS(0),
		CommitOnClose:   true,
		Metrics:         &NoopMetricsObserver{},
	}
}

func (c *Config) validate() error {
	if c.MaxBufferedDocs < 0 || c.RAMBufferSizeMB < 0 || c.MaxBufferedDeleteTerms < 0 {
		return invalidf("negative flush trigger")
	}
	if c.MaxBufferedDocs == 0 && c.RAMBufferSizeMB == 0 {
		return invalidf("at least one of MaxBufferedDocs and RAMBufferSizeMB must be set")
	}
	if c.MaxTermLength <= 0 || c.MaxTermLength > DefaultMaxTermLength {
		return invalidf("max term length %d outside [1,%d]", c.MaxTermLength, DefaultMaxTermLength)
	}
	if c.IngestionSlots <= 0 {
		return invalidf("ingestion slots must be positive")
	}
	if c.Codec == nil || c.Analyzer == nil || c.MergePolicy == nil || c.MergeScheduler == nil || c.DeletionPolicy == nil {
		return invalidf("codec, analyzer, merge policy, merge scheduler and deletion policy are required")
	}
	return nil
}

func (c *Config) ramBufferBytes() int64 {
	return int64(c.RAMBufferSizeMB * 1024 * 1024)
}

// Option configures a writer.
type Option func(*Config)

// WithOpenMode sets the open mode.
func WithOpenMode(m OpenMode) Option {
	return func(c *Config) { c.OpenMode = m }
}

// WithAnalyzer sets the analyzer.
func WithAnalyzer(a analysis.Analyzer) Option {
	return func(c *Config) {
		if a != nil {
			c.Analyzer = a
		}
	}
}

// WithCodec sets the codec used for new segments.
func WithCodec(cd *codec.Codec) Option {
	return func(c *Config) {
		if cd != nil {
			c.Codec = cd
		}
	}
}

// WithMergePolicy sets the merge policy.
func WithMergePolicy(p MergePolicy) Option {
	return func(c *Config) {
		if p != nil {
			c.MergePolicy = p
		}
	}
}

// WithMergeScheduler sets the merge scheduler.
func WithMergeScheduler(s MergeScheduler) Option {
	return func(c *Config) {
		if s != nil {
			c.MergeScheduler = s
		}
	}
}

// WithDeletionPolicy sets the commit deletion policy.
func WithDeletionPolicy(p DeletionPolicy) Option {
	return func(c *Config) {
		if p != nil {
			c.DeletionPolicy = p
		}
	}
}

// WithMaxBufferedDocs sets the document count flush trigger.
func WithMaxBufferedDocs(n int) Option {
	return func(c *Config) { c.MaxBufferedDocs = n }
}

// WithRAMBufferSizeMB sets the memory flush trigger.
func WithRAMBufferSizeMB(mb float64) Option {
	return func(c *Config) { c.RAMBufferSizeMB = mb }
}

// WithMaxBufferedDeleteTerms sets the delete term flush trigger.
func WithMaxBufferedDeleteTerms(n int) Option {
	return func(c *Config) { c.MaxBufferedDeleteTerms = n }
}

// WithMaxTermLength lowers the maximum term length.
func WithMaxTermLength(n int) Option {
	return func(c *Config) { c.MaxTermLength = n }
}

// WithIngestionSlots sets the number of concurrent segment builders.
func WithIngestionSlots(n int) Option {
	return func(c *Config) { c.IngestionSlots = n }
}

// WithCommitOnClose controls whether Close commits.
func WithCommitOnClose(enabled bool) Option {
	return func(c *Config) { c.CommitOnClose = enabled }
}

// WithOverrideStaleLock breaks a leftover write lock on open.
func WithOverrideStaleLock() Option {
	return func(c *Config) { c.OverrideStaleLock = true }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithMetricsObserver sets the metrics observer.
func WithMetricsObserver(o MetricsObserver) Option {
	return func(c *Config) {
		if o != nil {
			c.Metrics = o
		}
	}
}

// WithResourceController shares merge slots and IO limits with other
// writers.
func WithResourceController(rc *resource.Controller) Option {
	return func(c *Config) { c.Resources = rc }
}
