package hintdb

import (
	"fmt"

	"github.com/ananthvk/hintdb/internal/hintfile"
	"github.com/rs/zerolog"
)

const (
	defaultMaxSegmentSize = 100 * 1000 * 1000 // In bytes (100 MB)
	defaultFlushThreshold = 4 * 1024          // In bytes (4 KB)
)

// FlushDisabled turns off size triggered flushes of hint files, they are then only synced when a segment is sealed
const FlushDisabled = hintfile.FlushDisabled

// Options configures a datastore. MaxSegmentSize and FlushThreshold are persisted when the datastore is
// created, and the persisted values are used when it's opened again
type Options struct {
	// MaxSegmentSize is the size in bytes after which the active data file is sealed and a new segment is started
	MaxSegmentSize int64
	// FlushThreshold is the number of unflushed bytes after which a hint file is synced, or FlushDisabled
	FlushThreshold int64
	Logger         zerolog.Logger
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() Options {
	return Options{
		MaxSegmentSize: defaultMaxSegmentSize,
		FlushThreshold: defaultFlushThreshold,
		Logger:         zerolog.Nop(),
	}
}

// Validate checks if the options are valid
func (o *Options) Validate() error {
	if o.MaxSegmentSize <= 0 {
		return fmt.Errorf("%w: max segment size must be positive", ErrInvalidOptions)
	}
	if o.FlushThreshold < 0 && o.FlushThreshold != FlushDisabled {
		return fmt.Errorf("%w: flush threshold must be non negative or FlushDisabled", ErrInvalidOptions)
	}
	return nil
}
