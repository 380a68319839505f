package segdex

import (
	"time"

	"github.com/hupe1980/segdex/index"
)

type options struct {
	logger         *Logger
	observers      []index.MetricsObserver
	config         *Config
	indexOptions   []index.Option
	commitInterval time.Duration
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger. Writer events and commits are logged through
// it. The default discards everything.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics adds an observer for flush, merge, commit and stall events.
// It may be given more than once.
func WithMetrics(m MetricsObserver) Option {
	return func(o *options) {
		if m != nil {
			o.observers = append(o.observers, m)
		}
	}
}

// WithConfig applies a loaded Config. Options given after it take
// precedence.
func WithConfig(cfg *Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithIndexOptions passes writer options through unchanged.
//
//	ix, err := segdex.Open(ctx, segdex.Local("./data"),
//	    segdex.WithIndexOptions(index.WithMaxBufferedDocs(1000)))
func WithIndexOptions(opts ...index.Option) Option {
	return func(o *options) {
		o.indexOptions = append(o.indexOptions, opts...)
	}
}

// WithCommitInterval commits uncommitted changes in the background every d.
// Zero disables the loop.
func WithCommitInterval(d time.Duration) Option {
	return func(o *options) {
		o.commitInterval = d
	}
}
