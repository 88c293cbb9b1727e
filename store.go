package hintdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ananthvk/hintdb/internal/filemanager"
	"github.com/ananthvk/hintdb/internal/keydir"
	"github.com/ananthvk/hintdb/internal/metafile"
	"github.com/ananthvk/hintdb/internal/utils"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const (
	datastoreType = "hintdb" // Type of store
	version       = "1.0.0"  // Version of the application
	lockFileName  = "LOCK"
)

// DataStore is a key value store backed by append only data files. Every data file has a hint file that lists the
// location of each record, so that the in-memory index can be rebuilt without reading the values. A DataStore is
// safe for concurrent use, but only one DataStore may have a directory open at a time
type DataStore struct {
	mu          sync.RWMutex
	fs          afero.Fs
	path        string
	metaInfo    *metafile.MetaData
	keydir      *keydir.Keydir
	fileManager *filemanager.FileManager
	lock        *flock.Flock
	logger      zerolog.Logger
	sequence    uint64
	closed      bool
	stats       Stats
}

// Stats describes the state of a datastore
type Stats struct {
	Keys          int
	Sequence      uint64
	ActiveSegment int
	// Number of segments whose keys were loaded from the hint file, from the data file, or not loaded at all when the datastore was opened
	HintSegments    int
	ScannedSegments int
	SkippedSegments int
}

// Create creates a datastore at the given path, if the path exists and an existing key store
// is found, it returns an error. If the path is a file, or is a non empty directory, an error
// is returned. Otherwise, the directory is created (along with all it's parents), and the datastore
// is initialized
func Create(fs afero.Fs, path string, opts Options) (*DataStore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	// Check if it's a valid path to create a datastore
	if valid, reason, err := metafile.IsValidPath(fs, path); err != nil || !valid {
		if err != nil {
			return nil, err
		} else {
			return nil, errors.New(reason)
		}
	}

	if err := fs.MkdirAll(path, os.ModePerm); err != nil {
		return nil, err
	}

	metainfo := &metafile.MetaData{
		Type:           datastoreType,
		Version:        version,
		ID:             uuid.NewString(),
		Created:        time.Now().UTC().Format(time.RFC3339),
		MaxSegmentSize: opts.MaxSegmentSize,
		FlushThreshold: opts.FlushThreshold,
	}
	// Make the data/ folder
	if err := fs.Mkdir(filepath.Join(path, filemanager.DataDirName), os.ModePerm); err != nil {
		return nil, err
	}
	// Write the metafile last, the directory is a datastore only once it exists
	if err := metafile.WriteMetaFile(fs, path, metainfo); err != nil {
		return nil, err
	}
	opts.Logger.Info().Str("path", path).Str("id", metainfo.ID).Msg("datastore created")

	return open(fs, path, metainfo, opts.Logger)
}

// Open opens the datastore at the specified location. If the datastore does not exist, an error is returned.
// The segment size and flush threshold are read from the datastore, only the logger of opts is used
func Open(fs afero.Fs, path string, opts Options) (*DataStore, error) {
	exists, err := metafile.IsDatastore(fs, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotExist
	}

	// Read the metafile
	metainfo, err := metafile.ReadMetaFile(fs, path)
	if err != nil {
		return nil, err
	}
	if metainfo.Type != datastoreType {
		return nil, fmt.Errorf("%w: not a %s datastore", metafile.ErrMalformedMetaFile, datastoreType)
	}
	persisted := Options{MaxSegmentSize: metainfo.MaxSegmentSize, FlushThreshold: metainfo.FlushThreshold}
	if err := persisted.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", metafile.ErrMalformedMetaFile, err)
	}

	return open(fs, path, metainfo, opts.Logger)
}

func open(fs afero.Fs, path string, metainfo *metafile.MetaData, logger zerolog.Logger) (*DataStore, error) {
	logger = logger.With().Str("datastore", metainfo.ID).Logger()

	// File locks only make sense on the OS filesystem
	var lock *flock.Flock
	if _, ok := fs.(*afero.OsFs); ok {
		lock = flock.New(filepath.Join(path, lockFileName))
		locked, err := lock.TryLock()
		if err != nil {
			return nil, err
		}
		if !locked {
			return nil, ErrLocked
		}
	}

	fileManager, err := filemanager.NewFileManager(fs, path, filemanager.Options{
		MaxSegmentSize: metainfo.MaxSegmentSize,
		FlushThreshold: metainfo.FlushThreshold,
		Logger:         logger,
	})
	if err != nil {
		unlock(lock)
		return nil, err
	}

	// Rebuild the keydir
	start := time.Now()
	kd, sources, err := fileManager.ReadKeydir()
	if err != nil {
		fileManager.Close()
		unlock(lock)
		return nil, err
	}

	dataStore := &DataStore{
		fs:          fs,
		path:        path,
		metaInfo:    metainfo,
		keydir:      kd,
		fileManager: fileManager,
		lock:        lock,
		logger:      logger,
		sequence:    kd.MaxSequence(),
	}
	for _, source := range sources {
		switch source {
		case filemanager.SourceHintFile:
			dataStore.stats.HintSegments++
		case filemanager.SourceDataFile:
			dataStore.stats.ScannedSegments++
		case filemanager.SourceSkipped:
			dataStore.stats.SkippedSegments++
		}
	}
	logger.Info().
		Int("keys", kd.Size()).
		Int("segments", len(sources)).
		Int("scanned", dataStore.stats.ScannedSegments).
		Dur("took", time.Since(start)).
		Msg("keydir rebuilt")
	return dataStore, nil
}

func unlock(lock *flock.Flock) error {
	if lock == nil {
		return nil
	}
	return lock.Unlock()
}

// Get returns the value associated with the key. If the key does not exist, `ErrKeyNotFound` is returned, in case of any
// other errors, the error is returned
func (dataStore *DataStore) Get(key []byte) ([]byte, error) {
	dataStore.mu.RLock()
	defer dataStore.mu.RUnlock()
	if dataStore.closed {
		return nil, ErrClosed
	}
	rec, ok := dataStore.keydir.GetKeydirRecord(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	record, err := dataStore.fileManager.ReadValueAt(rec.SegmentID, rec.Offset)
	if err != nil {
		return nil, err
	}
	return record.Value, nil
}

// Put sets the value for the specified key. It returns an error if the operation was not successful
func (dataStore *DataStore) Put(key []byte, value []byte) error {
	dataStore.mu.Lock()
	defer dataStore.mu.Unlock()
	if dataStore.closed {
		return ErrClosed
	}
	// The sequence is used up even if the write fails, a record with it may already be on disk
	dataStore.sequence++
	rec, err := dataStore.fileManager.Write(key, value, dataStore.sequence)
	if err != nil {
		return err
	}
	dataStore.keydir.AddKeydirRecord(key, rec)
	return nil
}

// ListKeys returns a list of all keys in the datastore. Note: This is intended to be
// used for debug or inspection.
func (dataStore *DataStore) ListKeys() ([]string, error) {
	dataStore.mu.RLock()
	defer dataStore.mu.RUnlock()
	if dataStore.closed {
		return nil, ErrClosed
	}
	return dataStore.keydir.GetAllKeys(), nil
}

// Sync writes the active data file and hint file to stable storage
func (dataStore *DataStore) Sync() error {
	dataStore.mu.Lock()
	defer dataStore.mu.Unlock()
	if dataStore.closed {
		return ErrClosed
	}
	return dataStore.fileManager.Sync()
}

// Size returns the number of keys present in the datastore
func (dataStore *DataStore) Size() int {
	dataStore.mu.RLock()
	defer dataStore.mu.RUnlock()
	return dataStore.keydir.Size()
}

// Stats returns the number of keys, the last sequence number, the active segment and how the keydir was loaded
func (dataStore *DataStore) Stats() Stats {
	dataStore.mu.RLock()
	defer dataStore.mu.RUnlock()
	stats := dataStore.stats
	stats.Keys = dataStore.keydir.Size()
	stats.Sequence = dataStore.sequence
	stats.ActiveSegment = dataStore.fileManager.ActiveSegment()
	return stats
}

// ID returns the identifier assigned to the datastore when it was created
func (dataStore *DataStore) ID() string {
	return dataStore.metaInfo.ID
}

// HintFilePath returns the path of the hint file of the given segment
func (dataStore *DataStore) HintFilePath(segmentID int) string {
	return filepath.Join(dataStore.fileManager.DataDir(), utils.GetHintFileName(segmentID))
}

// Close closes the datastore, writes pending changes (if any), and frees resources
func (dataStore *DataStore) Close() error {
	dataStore.mu.Lock()
	defer dataStore.mu.Unlock()
	if dataStore.closed {
		return nil
	}
	dataStore.closed = true
	err1 := dataStore.fileManager.Close()
	err2 := unlock(dataStore.lock)
	if err1 != nil {
		return err1
	}
	if err2 != nil {
		return err2
	}
	dataStore.logger.Debug().Str("path", dataStore.path).Msg("datastore closed")
	return nil
}
