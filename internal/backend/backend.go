// Package backend turns operating system notifications into raw path events.
//
// Backends make no promise about ordering across directories or about
// duplicates; they only report that something may have happened to a path.
// Consumers stat the path to find out what.
package backend

import (
	"io/fs"
	"time"

	"github.com/benbjohnson/clock"

	"pathwatch/internal/logging"
	"pathwatch/internal/metrics"
)

const (
	defaultEventBuffer    = 256
	defaultErrorBuffer    = 16
	defaultInterval       = 100 * time.Millisecond
	defaultBinaryInterval = 300 * time.Millisecond
)

type Kind int

const (
	KindUnknown Kind = iota
	KindCreate
	KindModify
	KindDelete
)

func (kind Kind) String() string {
	switch kind {
	case KindCreate:
		return "create"
	case KindModify:
		return "modify"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// RawEvent is a hint that path changed. Info is set when the backend already
// had fresh stats; Op carries the backend's own label for diagnostics.
type RawEvent struct {
	Path string
	Kind Kind
	Info fs.FileInfo
	Op   string
}

type Backend interface {
	// Watch registers interest in path. Directories are watched for changes
	// to their direct children. A missing path is watched through its
	// nearest existing ancestor.
	Watch(path string) error
	Unwatch(path string) error
	Events() <-chan RawEvent
	Errors() <-chan error
	Close() error
}

// Options configure both backends. Zero values select defaults.
type Options struct {
	Logger   *logging.Logger
	Registry *metrics.Registry
	// MaxWatches caps native directory watches. Zero means no cap.
	MaxWatches int
	// Interval is the poller's stat interval.
	Interval time.Duration
	// BinaryInterval is the poller's interval for files with binary
	// extensions.
	BinaryInterval time.Duration
	Clock          clock.Clock
	EventBuffer    int
}

func (options Options) withDefaults(name string) Options {
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}
	options.Logger = options.Logger.With(map[string]string{
		logging.FieldCategory: "backend",
		"backend":             name,
	})
	if options.Interval <= 0 {
		options.Interval = defaultInterval
	}
	if options.BinaryInterval <= 0 {
		options.BinaryInterval = defaultBinaryInterval
	}
	if options.Clock == nil {
		options.Clock = clock.New()
	}
	if options.EventBuffer <= 0 {
		options.EventBuffer = defaultEventBuffer
	}
	return options
}
