package filemanager

import (
	"path/filepath"
	"time"

	"github.com/ananthvk/hintdb/internal/datafile"
	"github.com/ananthvk/hintdb/internal/hintfile"
	"github.com/ananthvk/hintdb/internal/record"
	"github.com/ananthvk/hintdb/internal/utils"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// RotateWriter writes records to a sequence of segments, every segment being a data file and its hint file.
// It changes the segment to be written if the size of the current data file exceeds the set limit. This struct
// and it's associated methods are not safe for concurrent use, and does not implement any locking
type RotateWriter struct {
	fs             afero.Fs
	dataDir        string
	writer         *record.Writer
	hint           *hintfile.HintFile
	hintOptions    hintfile.Options
	maxSegmentSize int64
	segmentID      int
	shouldRotate   bool
	logger         zerolog.Logger

	// Callback function to get the id of the next segment
	// This function is called when the writer wants to rotate to the next segment
	getNextSegmentID func() int
}

// NewRotateWriter creates a new instance of RotateWriter with the specified parameters. No file is
// created until the first Write
func NewRotateWriter(fs afero.Fs, dataDir string, maxSegmentSize int64, hintOptions hintfile.Options, getNextSegmentID func() int) *RotateWriter {
	return &RotateWriter{
		fs:               fs,
		dataDir:          dataDir,
		maxSegmentSize:   maxSegmentSize,
		hintOptions:      hintOptions,
		getNextSegmentID: getNextSegmentID,
		logger:           hintOptions.Logger.With().Str("component", "rotatewriter").Logger(),
	}
}

// Write appends the record to the active data file, followed by its hint entry. It returns the
// segment id, the offset of the record from the start of the data file, and the size of the record
func (r *RotateWriter) Write(key []byte, value []byte, sequence uint64) (int, int64, uint32, error) {
	if r.shouldRotate || r.writer == nil {
		if err := r.getNewWriter(); err != nil {
			return r.segmentID, 0, 0, err
		}
	}
	r.shouldRotate = false

	offset, size, err := r.writer.WriteKeyValue(key, value, sequence)
	if err != nil {
		if r.writer.Err() != nil {
			// The data file may end in a partial record
			r.abandonSegment(err, "data write failed")
		}
		return r.segmentID, 0, 0, err
	}

	entry := &hintfile.Entry{Key: key, RecordOffset: offset, RecordSize: size, Sequence: sequence}
	if err := r.hint.Write(entry); err != nil {
		r.abandonSegment(err, "hint write failed")
		return r.segmentID, 0, 0, err
	}

	if r.writer.Offset() > r.maxSegmentSize {
		r.shouldRotate = true
	}
	return r.segmentID, offset, size, nil
}

// abandonSegment deletes the hint file of the active segment, so that the segment is rebuilt from its
// data file when the keydir is read, and makes the next Write start a new segment
func (r *RotateWriter) abandonSegment(cause error, msg string) {
	r.logger.Error().Err(cause).Int("segment", r.segmentID).Msg(msg + ", discarding hint file")
	if err := r.hint.Delete(); err != nil {
		r.logger.Error().Err(err).Str("path", r.hint.Path()).Msg("could not delete hint file")
	}
	r.shouldRotate = true
}

// SegmentID returns the id of the segment being written, 0 if no segment has been created yet
func (r *RotateWriter) SegmentID() int {
	return r.segmentID
}

func (r *RotateWriter) Sync() error {
	if r.writer == nil {
		return nil
	}
	if err := r.writer.Sync(); err != nil {
		return err
	}
	if r.hint.IsOpen() {
		return r.hint.Sync()
	}
	return nil
}

func (r *RotateWriter) Close() error {
	return r.seal()
}

// seal syncs and closes the data file and the hint file of the active segment
func (r *RotateWriter) seal() error {
	if r.writer == nil {
		return nil
	}
	err := r.writer.Close()
	r.writer = nil
	if hintErr := r.hint.Close(); err == nil {
		err = hintErr
	}
	if err == nil {
		r.logger.Debug().Int("segment", r.segmentID).Msg("segment sealed")
	}
	return err
}

func (r *RotateWriter) getNewWriter() error {
	if err := r.seal(); err != nil {
		return err
	}
	r.segmentID = r.getNextSegmentID()
	path := filepath.Join(r.dataDir, utils.GetDataFileName(r.segmentID))
	if err := datafile.WriteFileHeader(r.fs, path, datafile.NewFileHeader(time.Now())); err != nil {
		return err
	}
	writer, err := record.NewWriter(r.fs, path)
	if err != nil {
		return err
	}
	hint := hintfile.New(r.fs, r.dataDir, r.segmentID, r.hintOptions)
	if err := hint.Open(); err != nil {
		writer.Close()
		return err
	}
	r.writer = writer
	r.hint = hint
	r.logger.Debug().Int("segment", r.segmentID).Str("path", path).Msg("segment created")
	return nil
}
