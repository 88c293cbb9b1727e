package hintfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ananthvk/hintdb/internal/utils"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// FlushDisabled turns off the size based flush policy, the hint file is then only synced on Sync or Close
const FlushDisabled int64 = -1

type Options struct {
	// FlushThreshold is the number of unflushed bytes after which Write forces the file to stable storage.
	// Set it to FlushDisabled to never force a flush from Write.
	FlushThreshold int64
	Logger         zerolog.Logger
}

// HintFile owns the hint file of a single data segment. It is written by exactly one owner, there are
// no locks in this implementation, so it's unsafe to call HintFile methods concurrently
type HintFile struct {
	fs             afero.Fs
	path           string
	segmentID      int
	flushThreshold int64
	logger         zerolog.Logger

	file           afero.File
	readOnly       bool
	unflushedBytes int64
}

// New returns a HintFile for the segment with the given id, stored at <dir>/<segmentID>.hint.
// The file is not touched until Open is called.
func New(fs afero.Fs, dir string, segmentID int, opts Options) *HintFile {
	path := filepath.Join(dir, utils.GetHintFileName(segmentID))
	return &HintFile{
		fs:             fs,
		path:           path,
		segmentID:      segmentID,
		flushThreshold: opts.FlushThreshold,
		logger:         opts.Logger.With().Str("component", "hintfile").Int("segment", segmentID).Logger(),
	}
}

func (h *HintFile) Path() string {
	return h.path
}

func (h *HintFile) SegmentID() int {
	return h.segmentID
}

// UnflushedBytes returns the number of bytes written since the last forced flush
func (h *HintFile) UnflushedBytes() int64 {
	return h.unflushedBytes
}

func (h *HintFile) IsOpen() bool {
	return h.file != nil
}

// Open creates the hint file if it does not exist, and opens it for reading and appending.
// If the file is already open, the previous handle is closed and replaced.
func (h *HintFile) Open() error {
	if h.file != nil {
		if err := h.closeFile(); err != nil {
			return err
		}
	}
	file, err := h.fs.OpenFile(h.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrIOFailure, h.path, err)
	}
	h.file = file
	h.readOnly = false
	h.unflushedBytes = 0
	h.logger.Debug().Str("path", h.path).Msg("hint file opened")
	return nil
}

// OpenReadOnly opens an existing hint file for iteration only. The file is not created if it is missing,
// and Write fails with ErrNotOpen until the file is opened again with Open.
func (h *HintFile) OpenReadOnly() error {
	if h.file != nil {
		if err := h.closeFile(); err != nil {
			return err
		}
	}
	file, err := h.fs.OpenFile(h.path, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrIOFailure, h.path, err)
	}
	h.file = file
	h.readOnly = true
	h.unflushedBytes = 0
	h.logger.Debug().Str("path", h.path).Msg("hint file opened read only")
	return nil
}

// Write appends the entry to the hint file. The header and the key are written back to back, short
// writes are retried until every byte has been written. If the number of unflushed bytes exceeds the
// flush threshold, the file is synced before Write returns.
func (h *HintFile) Write(e *Entry) error {
	if e == nil {
		return fmt.Errorf("%w: entry cannot be nil", ErrInvalidArgument)
	}
	if h.file == nil {
		return ErrNotOpen
	}
	if h.readOnly {
		return fmt.Errorf("%w: %s is open read only", ErrNotOpen, h.path)
	}
	spans, err := Encode(e)
	if err != nil {
		return err
	}

	var written int64
	for _, span := range spans {
		n, err := writeFull(h.file, span)
		written += int64(n)
		if err != nil {
			h.unflushedBytes += written
			return fmt.Errorf("%w: append to %s: %w", ErrIOFailure, h.path, err)
		}
	}
	h.unflushedBytes += written

	if h.flushThreshold != FlushDisabled && h.unflushedBytes > h.flushThreshold {
		h.logger.Debug().Int64("unflushed", h.unflushedBytes).Int64("threshold", h.flushThreshold).Msg("flush threshold crossed, forcing sync")
		return h.Sync()
	}
	return nil
}

// writeFull writes all of p to w, looping over short writes. A write that makes no progress
// without reporting an error results in io.ErrShortWrite.
func writeFull(w io.Writer, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := w.Write(p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// Sync forces the written entries to stable storage and resets the unflushed byte count
func (h *HintFile) Sync() error {
	if h.file == nil {
		return ErrNotOpen
	}
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", ErrIOFailure, h.path, err)
	}
	h.unflushedBytes = 0
	return nil
}

// Close syncs any unflushed entries and closes the file. It is a no-op if the file is not open
func (h *HintFile) Close() error {
	if h.file == nil {
		return nil
	}
	if h.unflushedBytes > 0 {
		if err := h.Sync(); err != nil {
			return errors.Join(err, h.closeFile())
		}
	}
	return h.closeFile()
}

func (h *HintFile) closeFile() error {
	file := h.file
	h.file = nil
	h.readOnly = false
	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIOFailure, h.path, err)
	}
	h.logger.Debug().Str("path", h.path).Msg("hint file closed")
	return nil
}

// Delete closes the file if it is open and removes it. Deleting a file that does not exist is not an error
func (h *HintFile) Delete() error {
	if h.file != nil {
		if err := h.closeFile(); err != nil {
			return err
		}
	}
	if err := h.fs.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", ErrIOFailure, h.path, err)
	}
	h.unflushedBytes = 0
	h.logger.Debug().Str("path", h.path).Msg("hint file deleted")
	return nil
}

// NewIterator returns an iterator over the entries present in the file right now. Entries
// written after this call are not seen by the iterator.
func (h *HintFile) NewIterator() (*Iterator, error) {
	if h.file == nil {
		return nil, ErrNotOpen
	}
	info, err := h.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", ErrIOFailure, h.path, err)
	}
	return newIterator(h.file, info.Size()), nil
}
