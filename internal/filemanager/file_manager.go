package filemanager

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ananthvk/hintdb/internal/datafile"
	"github.com/ananthvk/hintdb/internal/hintfile"
	"github.com/ananthvk/hintdb/internal/keydir"
	"github.com/ananthvk/hintdb/internal/record"
	"github.com/ananthvk/hintdb/internal/utils"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const DataDirName = "data"

var (
	ErrActiveSegment = errors.New("cannot remove the active segment")
	ErrHintMismatch  = errors.New("hint file does not match data file")
)

type Options struct {
	MaxSegmentSize int64
	// FlushThreshold is passed on to the hint file of every segment
	FlushThreshold int64
	Logger         zerolog.Logger
}

// KeydirSource tells where the entries of a segment were loaded from while rebuilding the keydir
type KeydirSource string

const (
	SourceHintFile KeydirSource = "hint"
	SourceDataFile KeydirSource = "data"
	SourceSkipped  KeydirSource = "skipped"
)

type FileManager struct {
	mu                sync.RWMutex
	fs                afero.Fs
	dataStoreRootPath string
	dataDir           string
	opts              Options
	logger            zerolog.Logger
	readers           map[int]*record.Reader
	rotateWriter      *RotateWriter
	nextSegmentID     int
}

// NewFileManager finds the segment with the numerically largest id in ${root}/data. Every new segment
// gets an id larger than that, so segments written before a restart are never appended to again
func NewFileManager(fs afero.Fs, path string, opts Options) (*FileManager, error) {
	dataDir := filepath.Join(path, DataDirName)
	ids, err := listSegmentIDs(fs, dataDir, utils.DataFileExt)
	if err != nil {
		return nil, err
	}
	maxSegmentID := 0
	if len(ids) > 0 {
		maxSegmentID = ids[len(ids)-1]
	}

	fileManager := &FileManager{
		fs:                fs,
		dataStoreRootPath: path,
		dataDir:           dataDir,
		opts:              opts,
		logger:            opts.Logger.With().Str("component", "filemanager").Logger(),
		readers:           map[int]*record.Reader{},
		nextSegmentID:     maxSegmentID + 1,
	}
	hintOptions := hintfile.Options{FlushThreshold: opts.FlushThreshold, Logger: opts.Logger}
	fileManager.rotateWriter = NewRotateWriter(fs, dataDir, opts.MaxSegmentSize, hintOptions, func() int {
		// Called with f.mu held, from Write
		id := fileManager.nextSegmentID
		fileManager.nextSegmentID++
		return id
	})

	return fileManager, nil
}

// Write appends the key value pair to the active segment and returns its location
func (f *FileManager) Write(key []byte, value []byte, sequence uint64) (keydir.KeydirRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	segmentID, offset, size, err := f.rotateWriter.Write(key, value, sequence)
	if err != nil {
		return keydir.KeydirRecord{}, err
	}
	return keydir.KeydirRecord{SegmentID: segmentID, Offset: offset, Size: size, Sequence: sequence}, nil
}

// ReadValueAt reads the value of the record at a specific offset in the data file of the segment.
// It caches the reader in the map for future use.
func (f *FileManager) ReadValueAt(segmentID int, offset int64) (*record.Record, error) {
	reader, err := f.GetReader(segmentID)
	if err != nil {
		return nil, err
	}
	return reader.ReadValueAt(offset)
}

// ReadRecordAtStrict reads and verifies the record at a specific offset in the data file of the segment.
func (f *FileManager) ReadRecordAtStrict(segmentID int, offset int64) (*record.Record, error) {
	reader, err := f.GetReader(segmentID)
	if err != nil {
		return nil, err
	}
	return reader.ReadRecordAtStrict(offset)
}

// Use Double-Checked locking to create / return cached reader
func (f *FileManager) GetReader(segmentID int) (*record.Reader, error) {
	// Check if reader already exists
	f.mu.RLock()
	reader, exists := f.readers[segmentID]
	f.mu.RUnlock()
	if exists {
		return reader, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// Reader does not exist, update cache by creating a reader
	if reader, exists := f.readers[segmentID]; exists {
		// Some other goroutine has created a reader before this thread acquired the lock
		return reader, nil
	}

	reader, err := record.NewReader(f.fs, f.dataFilePath(segmentID))
	if err != nil {
		return nil, err
	}
	f.readers[segmentID] = reader
	return reader, nil
}

// ReadKeydir builds the keydir from every segment in the data directory, in ascending segment order.
// A segment is loaded from its hint file when one exists. If the hint file is missing or cannot be read,
// the data file is scanned instead and a new hint file is written for it. Hint files without a data file are deleted.
func (f *FileManager) ReadKeydir() (*keydir.Keydir, map[int]KeydirSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kd := keydir.NewKeydir()
	sources := map[int]KeydirSource{}

	dataIDs, err := listSegmentIDs(f.fs, f.dataDir, utils.DataFileExt)
	if err != nil {
		return nil, nil, err
	}
	if err := f.removeOrphanHints(dataIDs); err != nil {
		return nil, nil, err
	}

	for _, id := range dataIDs {
		if id == f.rotateWriter.SegmentID() {
			continue
		}
		segmentKeydir, source := f.loadSegment(id)
		sources[id] = source
		if segmentKeydir != nil {
			kd.Merge(segmentKeydir)
		}
	}
	return kd, sources, nil
}

func (f *FileManager) loadSegment(id int) (*keydir.Keydir, KeydirSource) {
	logger := f.logger.With().Int("segment", id).Logger()

	// Check if it's a datafile
	if _, err := datafile.ReadFileHeader(f.fs, f.dataFilePath(id)); err != nil {
		logger.Warn().Err(err).Msg("build keydir, skipping segment")
		return nil, SourceSkipped
	}

	hint := hintfile.New(f.fs, f.dataDir, id, f.hintOptions())
	exists, err := afero.Exists(f.fs, hint.Path())
	if err != nil {
		logger.Warn().Err(err).Msg("build keydir, could not check for hint file")
	}
	if exists {
		kd, err := f.loadFromHint(hint, id)
		if err == nil {
			return kd, SourceHintFile
		}
		// Hint files are only an optimization, the data file is the source of truth
		logger.Warn().Err(err).Str("path", hint.Path()).Msg("build keydir, hint file unusable, scanning data file")
	}

	kd, entries, err := f.loadFromDataFile(id)
	if err != nil {
		// Records up to the failure are kept, a torn write at the end of a segment is expected after a crash
		logger.Warn().Err(err).Int("records", len(entries)).Msg("build keydir, data file scan stopped early")
	}
	if err := f.rewriteHint(hint, entries); err != nil {
		logger.Warn().Err(err).Msg("build keydir, could not rewrite hint file")
	}
	return kd, SourceDataFile
}

// loadFromHint reads the keydir of a segment from its hint file. The entries must describe the data file
// exactly: they start after the file header, none of them goes past the end of the data file, and the last
// one ends where the data file ends. Otherwise ErrHintMismatch is returned
func (f *FileManager) loadFromHint(hint *hintfile.HintFile, id int) (*keydir.Keydir, error) {
	info, err := f.fs.Stat(f.dataFilePath(id))
	if err != nil {
		return nil, err
	}
	dataSize := info.Size()

	if err := hint.OpenReadOnly(); err != nil {
		return nil, err
	}
	defer hint.Close()
	it, err := hint.NewIterator()
	if err != nil {
		return nil, err
	}
	kd := keydir.NewKeydir()
	var end int64 = datafile.FileHeaderSize
	for it.HasNext() {
		entry, err := it.Next()
		if err != nil {
			return nil, err
		}
		recordEnd := entry.RecordOffset + int64(entry.RecordSize)
		if entry.RecordOffset < datafile.FileHeaderSize || recordEnd > dataSize {
			return nil, fmt.Errorf("%w: record [%d, %d) is outside the data file of %d bytes", ErrHintMismatch, entry.RecordOffset, recordEnd, dataSize)
		}
		end = recordEnd
		kd.Apply(id, entry)
	}
	if end != dataSize {
		return nil, fmt.Errorf("%w: last record ends at %d, data file has %d bytes", ErrHintMismatch, end, dataSize)
	}
	return kd, nil
}

// loadFromDataFile scans the data file of the segment. It returns the hint entries of every record
// read before an error (if any), so that a hint file can be written for them
func (f *FileManager) loadFromDataFile(id int) (*keydir.Keydir, []hintfile.Entry, error) {
	kd := keydir.NewKeydir()
	scanner, err := record.NewScanner(f.fs, f.dataFilePath(id))
	if err != nil {
		return kd, nil, err
	}
	defer scanner.Close()

	var entries []hintfile.Entry
	for {
		rec, offset, err := scanner.Scan()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return kd, entries, nil
			}
			return kd, entries, err
		}
		entry := hintfile.Entry{
			Key:          append([]byte(nil), rec.Key...),
			RecordOffset: offset,
			RecordSize:   rec.Size,
			Sequence:     rec.Header.Sequence,
		}
		entries = append(entries, entry)
		kd.Apply(id, entry)
	}
}

// rewriteHint replaces the hint file with one generated from the given entries
func (f *FileManager) rewriteHint(hint *hintfile.HintFile, entries []hintfile.Entry) error {
	if err := hint.Delete(); err != nil {
		return err
	}
	if err := hint.Open(); err != nil {
		return err
	}
	for i := range entries {
		if err := hint.Write(&entries[i]); err != nil {
			hint.Delete()
			return err
		}
	}
	f.logger.Info().Int("segment", hint.SegmentID()).Int("entries", len(entries)).Msg("hint file regenerated from data file")
	return hint.Close()
}

// removeOrphanHints deletes hint files that do not have a matching data file
func (f *FileManager) removeOrphanHints(dataIDs []int) error {
	hintIDs, err := listSegmentIDs(f.fs, f.dataDir, utils.HintFileExt)
	if err != nil {
		return err
	}
	hasData := make(map[int]bool, len(dataIDs))
	for _, id := range dataIDs {
		hasData[id] = true
	}
	for _, id := range hintIDs {
		if hasData[id] {
			continue
		}
		hint := hintfile.New(f.fs, f.dataDir, id, f.hintOptions())
		if err := hint.Delete(); err != nil {
			return err
		}
		f.logger.Info().Int("segment", id).Msg("removed hint file without data file")
	}
	return nil
}

// RemoveSegment deletes the data file and the hint file of an immutable segment
func (f *FileManager) RemoveSegment(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == f.rotateWriter.SegmentID() {
		return fmt.Errorf("%w: %d", ErrActiveSegment, id)
	}
	if reader, exists := f.readers[id]; exists {
		reader.Close()
		delete(f.readers, id)
	}
	if err := hintfile.New(f.fs, f.dataDir, id, f.hintOptions()).Delete(); err != nil {
		return err
	}
	if err := f.fs.Remove(f.dataFilePath(id)); err != nil && !errors.Is(err, afero.ErrFileNotFound) {
		return err
	}
	return nil
}

// ImmutableSegments returns the ids of all segments that are no longer written to, in ascending order
func (f *FileManager) ImmutableSegments() ([]int, error) {
	f.mu.RLock()
	activeID := f.rotateWriter.SegmentID()
	f.mu.RUnlock()
	ids, err := listSegmentIDs(f.fs, f.dataDir, utils.DataFileExt)
	if err != nil {
		return nil, err
	}
	immutableIDs := make([]int, 0, len(ids))
	for _, id := range ids {
		if id != activeID {
			immutableIDs = append(immutableIDs, id)
		}
	}
	return immutableIDs, nil
}

// ActiveSegment returns the id of the segment being written, 0 if nothing has been written since the start
func (f *FileManager) ActiveSegment() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.rotateWriter.SegmentID()
}

// DataDir returns the directory holding the data and hint files
func (f *FileManager) DataDir() string {
	return f.dataDir
}

func (f *FileManager) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotateWriter.Sync()
}

func (f *FileManager) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.rotateWriter.Close()
	for id, reader := range f.readers {
		reader.Close()
		delete(f.readers, id)
	}
	return err
}

func (f *FileManager) hintOptions() hintfile.Options {
	return hintfile.Options{FlushThreshold: f.opts.FlushThreshold, Logger: f.opts.Logger}
}

func (f *FileManager) dataFilePath(id int) string {
	return filepath.Join(f.dataDir, utils.GetDataFileName(id))
}

// listSegmentIDs returns the sorted ids of the files in dir with the given extension
func listSegmentIDs(fs afero.Fs, dir string, ext string) ([]int, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}

	var ids []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, fileExt, ok := utils.ParseFileName(entry.Name())
		if !ok || fileExt != ext {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}
