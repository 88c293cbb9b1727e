package filemanager

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ananthvk/hintdb/internal/datafile"
	"github.com/ananthvk/hintdb/internal/hintfile"
	"github.com/ananthvk/hintdb/internal/utils"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRoot = "/db"

func testFileManagerOptions(maxSegmentSize int64) Options {
	return Options{MaxSegmentSize: maxSegmentSize, FlushThreshold: hintfile.FlushDisabled, Logger: zerolog.Nop()}
}

func newTestFileManager(t *testing.T, fs afero.Fs, maxSegmentSize int64) *FileManager {
	t.Helper()
	require.NoError(t, fs.MkdirAll(testDataDir, os.ModePerm))
	manager, err := NewFileManager(fs, testRoot, testFileManagerOptions(maxSegmentSize))
	require.NoError(t, err)
	return manager
}

// fillSegments writes count keys key0..key{count-1} with values val0..val{count-1}, starting at the given sequence
func fillSegments(t *testing.T, manager *FileManager, count int, firstSequence uint64) {
	t.Helper()
	for i := range count {
		key := []byte("key" + strconv.Itoa(i))
		value := []byte("val" + strconv.Itoa(i))
		_, err := manager.Write(key, value, firstSequence+uint64(i))
		require.NoError(t, err)
	}
}

func hintPath(id int) string {
	return filepath.Join(testDataDir, utils.GetHintFileName(id))
}

func dataPath(id int) string {
	return filepath.Join(testDataDir, utils.GetDataFileName(id))
}

func TestNewFileManager_EmptyDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	manager := newTestFileManager(t, fs, 1024)
	defer manager.Close()

	assert.Equal(t, 0, manager.ActiveSegment())
	entries, err := afero.ReadDir(fs, testDataDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no segment should be created before the first write")
}

func TestNewFileManager_MissingDataDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := NewFileManager(fs, testRoot, testFileManagerOptions(1024))
	assert.Error(t, err)
}

func TestNewFileManager_ExistingDataFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(testDataDir, os.ModePerm))
	require.NoError(t, datafile.WriteFileHeader(fs, dataPath(7), datafile.NewFileHeader(time.Now())))

	manager := newTestFileManager(t, fs, 1024)
	defer manager.Close()
	rec, err := manager.Write([]byte("key"), []byte("value"), 1)
	require.NoError(t, err)
	assert.Equal(t, 8, rec.SegmentID, "new segments are numbered after the existing ones")
}

func TestFileManager_WriteAndReadValue(t *testing.T) {
	fs := afero.NewMemMapFs()
	manager := newTestFileManager(t, fs, 1024)
	defer manager.Close()

	rec, err := manager.Write([]byte("key1"), []byte("val1"), 42)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.SegmentID)
	assert.Equal(t, int64(datafile.FileHeaderSize), rec.Offset)
	assert.Equal(t, uint32(36), rec.Size)
	assert.Equal(t, uint64(42), rec.Sequence)

	value, err := manager.ReadValueAt(rec.SegmentID, rec.Offset)
	require.NoError(t, err)
	assert.Equal(t, "val1", string(value.Value))

	strict, err := manager.ReadRecordAtStrict(rec.SegmentID, rec.Offset)
	require.NoError(t, err)
	assert.Equal(t, "key1", string(strict.Key))
	assert.Equal(t, uint64(42), strict.Header.Sequence)
}

func TestFileManager_GetReaderIsCached(t *testing.T) {
	fs := afero.NewMemMapFs()
	manager := newTestFileManager(t, fs, 1024)
	defer manager.Close()

	rec, err := manager.Write([]byte("key1"), []byte("val1"), 1)
	require.NoError(t, err)
	first, err := manager.GetReader(rec.SegmentID)
	require.NoError(t, err)
	second, err := manager.GetReader(rec.SegmentID)
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = manager.GetReader(99)
	assert.Error(t, err)
}

func TestFileManager_Write_ExceedingMaxSize(t *testing.T) {
	fs := afero.NewMemMapFs()
	manager := newTestFileManager(t, fs, 50)
	defer manager.Close()

	fillSegments(t, manager, 5, 1)
	largeValue := []byte(strings.Repeat("A", 60))
	rec, err := manager.Write([]byte("largeKey"), largeValue, 6)
	require.NoError(t, err)
	// Every small record fills a segment on its own
	assert.Equal(t, 6, rec.SegmentID)

	for id := 1; id <= 6; id++ {
		exists, err := afero.Exists(fs, dataPath(id))
		require.NoError(t, err)
		assert.True(t, exists, "expected data file of segment %d", id)
		exists, err = afero.Exists(fs, hintPath(id))
		require.NoError(t, err)
		assert.True(t, exists, "expected hint file of segment %d", id)
	}
}

func TestFileManager_ReadKeydirFromHints(t *testing.T) {
	fs := afero.NewMemMapFs()
	manager := newTestFileManager(t, fs, 200)
	fillSegments(t, manager, 50, 1)
	require.NoError(t, manager.Close())

	reopened := newTestFileManager(t, fs, 200)
	defer reopened.Close()
	kd, sources, err := reopened.ReadKeydir()
	require.NoError(t, err)
	require.Equal(t, 50, kd.Size())
	assert.Equal(t, uint64(50), kd.MaxSequence())
	assert.Greater(t, len(sources), 1)
	for id, source := range sources {
		assert.Equal(t, SourceHintFile, source, "segment %d", id)
	}

	for i := range 50 {
		rec, ok := kd.GetKeydirRecord([]byte("key" + strconv.Itoa(i)))
		require.True(t, ok)
		value, err := reopened.ReadValueAt(rec.SegmentID, rec.Offset)
		require.NoError(t, err)
		assert.Equal(t, "val"+strconv.Itoa(i), string(value.Value))
	}
}

func TestFileManager_ReadKeydirLastSequenceWins(t *testing.T) {
	fs := afero.NewMemMapFs()
	manager := newTestFileManager(t, fs, 60)
	_, err := manager.Write([]byte("key"), []byte("old"), 1)
	require.NoError(t, err)
	_, err = manager.Write([]byte("other"), []byte("x"), 2)
	require.NoError(t, err)
	latest, err := manager.Write([]byte("key"), []byte("new"), 3)
	require.NoError(t, err)
	require.NoError(t, manager.Close())

	reopened := newTestFileManager(t, fs, 60)
	defer reopened.Close()
	kd, _, err := reopened.ReadKeydir()
	require.NoError(t, err)
	rec, ok := kd.GetKeydirRecord([]byte("key"))
	require.True(t, ok)
	assert.Equal(t, latest, rec)
}

func TestFileManager_ReadKeydirCorruptHintFallsBack(t *testing.T) {
	fs := afero.NewMemMapFs()
	manager := newTestFileManager(t, fs, 1024)
	fillSegments(t, manager, 10, 1)
	require.NoError(t, manager.Close())

	// Partial header at the end of the hint file
	f, err := fs.OpenFile(hintPath(1), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened := newTestFileManager(t, fs, 1024)
	defer reopened.Close()
	kd, sources, err := reopened.ReadKeydir()
	require.NoError(t, err)
	assert.Equal(t, SourceDataFile, sources[1])
	assert.Equal(t, 10, kd.Size())

	// The hint file is regenerated from the data file
	entries := readHintEntries(t, fs, 1)
	assert.Len(t, entries, 10)

	kd, sources, err = reopened.ReadKeydir()
	require.NoError(t, err)
	assert.Equal(t, SourceHintFile, sources[1])
	assert.Equal(t, 10, kd.Size())
}

func TestFileManager_ReadKeydirMissingHint(t *testing.T) {
	fs := afero.NewMemMapFs()
	manager := newTestFileManager(t, fs, 1024)
	fillSegments(t, manager, 10, 1)
	require.NoError(t, manager.Close())
	require.NoError(t, fs.Remove(hintPath(1)))

	reopened := newTestFileManager(t, fs, 1024)
	defer reopened.Close()
	kd, sources, err := reopened.ReadKeydir()
	require.NoError(t, err)
	assert.Equal(t, SourceDataFile, sources[1])
	assert.Equal(t, 10, kd.Size())

	exists, err := afero.Exists(fs, hintPath(1))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFileManager_ReadKeydirTornDataTail(t *testing.T) {
	fs := afero.NewMemMapFs()
	manager := newTestFileManager(t, fs, 1024)
	fillSegments(t, manager, 10, 1)
	require.NoError(t, manager.Close())
	require.NoError(t, fs.Remove(hintPath(1)))

	info, err := fs.Stat(dataPath(1))
	require.NoError(t, err)
	truncateFile(t, fs, dataPath(1), info.Size()-5)

	reopened := newTestFileManager(t, fs, 1024)
	defer reopened.Close()
	kd, sources, err := reopened.ReadKeydir()
	require.NoError(t, err)
	assert.Equal(t, SourceDataFile, sources[1])
	assert.Equal(t, 9, kd.Size())
	_, ok := kd.GetKeydirRecord([]byte("key9"))
	assert.False(t, ok)
	assert.Len(t, readHintEntries(t, fs, 1), 9)
}

func truncateFile(t *testing.T, fs afero.Fs, path string, size int64) {
	t.Helper()
	f, err := fs.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
}

func TestFileManager_ReadKeydirHintMissingEntries(t *testing.T) {
	fs := afero.NewMemMapFs()
	manager := newTestFileManager(t, fs, 1024)
	fillSegments(t, manager, 10, 1)
	require.NoError(t, manager.Close())

	// The hint file ends cleanly after 9 entries, the data file still holds 10 records
	entries := readHintEntries(t, fs, 1)
	var size int64
	for _, entry := range entries[:9] {
		size += int64(entry.EncodedSize())
	}
	truncateFile(t, fs, hintPath(1), size)
	require.Len(t, readHintEntries(t, fs, 1), 9)

	reopened := newTestFileManager(t, fs, 1024)
	defer reopened.Close()
	kd, sources, err := reopened.ReadKeydir()
	require.NoError(t, err)
	assert.Equal(t, SourceDataFile, sources[1])
	assert.Equal(t, 10, kd.Size())
	rec, ok := kd.GetKeydirRecord([]byte("key9"))
	require.True(t, ok)
	value, err := reopened.ReadValueAt(rec.SegmentID, rec.Offset)
	require.NoError(t, err)
	assert.Equal(t, "val9", string(value.Value))
	assert.Len(t, readHintEntries(t, fs, 1), 10)
}

func TestFileManager_ReadKeydirHintBeyondDataFile(t *testing.T) {
	for _, cut := range []int64{5, 15} {
		fs := afero.NewMemMapFs()
		manager := newTestFileManager(t, fs, 1024)
		fillSegments(t, manager, 10, 1)
		require.NoError(t, manager.Close())

		// The hint file still lists the last record, which is torn in the data file
		info, err := fs.Stat(dataPath(1))
		require.NoError(t, err)
		truncateFile(t, fs, dataPath(1), info.Size()-cut)

		reopened := newTestFileManager(t, fs, 1024)
		kd, sources, err := reopened.ReadKeydir()
		require.NoError(t, err)
		assert.Equal(t, SourceDataFile, sources[1], "cut %d", cut)
		assert.Equal(t, 9, kd.Size(), "cut %d", cut)
		_, ok := kd.GetKeydirRecord([]byte("key9"))
		assert.False(t, ok, "cut %d", cut)
		for i := range 9 {
			key := "key" + strconv.Itoa(i)
			rec, ok := kd.GetKeydirRecord([]byte(key))
			require.True(t, ok, key)
			value, err := reopened.ReadValueAt(rec.SegmentID, rec.Offset)
			require.NoError(t, err, key)
			assert.Equal(t, "val"+strconv.Itoa(i), string(value.Value))
		}
		assert.Len(t, readHintEntries(t, fs, 1), 9, "cut %d", cut)
		require.NoError(t, reopened.Close())
	}
}

func TestFileManager_ReadKeydirAfterDataWriteFailure(t *testing.T) {
	fs := newSegmentFaultFs()
	manager := newTestFileManager(t, fs, 1024)
	fillSegments(t, manager, 5, 1)

	fs.dataWritesLeft = 1
	_, err := manager.Write([]byte("torn"), []byte("value"), 6)
	require.Error(t, err)
	fs.dataWritesLeft = -1
	rec, err := manager.Write([]byte("after"), []byte("value"), 7)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.SegmentID)
	require.NoError(t, manager.Close())

	reopened := newTestFileManager(t, fs, 1024)
	defer reopened.Close()
	kd, sources, err := reopened.ReadKeydir()
	require.NoError(t, err)
	assert.Equal(t, SourceDataFile, sources[1])
	assert.Equal(t, SourceHintFile, sources[2])
	assert.Equal(t, 6, kd.Size())
	_, ok := kd.GetKeydirRecord([]byte("torn"))
	assert.False(t, ok)
	after, ok := kd.GetKeydirRecord([]byte("after"))
	require.True(t, ok)
	value, err := reopened.ReadValueAt(after.SegmentID, after.Offset)
	require.NoError(t, err)
	assert.Equal(t, "value", string(value.Value))
}

func TestFileManager_ReadKeydirSkipsInvalidDataFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(testDataDir, os.ModePerm))
	require.NoError(t, afero.WriteFile(fs, dataPath(3), []byte("not a data file"), 0644))

	manager := newTestFileManager(t, fs, 1024)
	defer manager.Close()
	kd, sources, err := manager.ReadKeydir()
	require.NoError(t, err)
	assert.Equal(t, SourceSkipped, sources[3])
	assert.Equal(t, 0, kd.Size())
}

func TestFileManager_ReadKeydirRemovesOrphanHints(t *testing.T) {
	fs := afero.NewMemMapFs()
	manager := newTestFileManager(t, fs, 1024)
	fillSegments(t, manager, 3, 1)
	require.NoError(t, manager.Close())
	require.NoError(t, afero.WriteFile(fs, hintPath(12), []byte{}, 0644))

	reopened := newTestFileManager(t, fs, 1024)
	defer reopened.Close()
	_, sources, err := reopened.ReadKeydir()
	require.NoError(t, err)
	assert.NotContains(t, sources, 12)

	exists, err := afero.Exists(fs, hintPath(12))
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = afero.Exists(fs, hintPath(1))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFileManager_RemoveSegment(t *testing.T) {
	fs := afero.NewMemMapFs()
	manager := newTestFileManager(t, fs, 50)
	defer manager.Close()
	fillSegments(t, manager, 3, 1)

	immutable, err := manager.ImmutableSegments()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, immutable)
	assert.Equal(t, 3, manager.ActiveSegment())

	err = manager.RemoveSegment(3)
	assert.ErrorIs(t, err, ErrActiveSegment)

	_, err = manager.ReadValueAt(1, datafile.FileHeaderSize)
	require.NoError(t, err)
	require.NoError(t, manager.RemoveSegment(1))
	for _, path := range []string{dataPath(1), hintPath(1)} {
		exists, err := afero.Exists(fs, path)
		require.NoError(t, err)
		assert.False(t, exists, path)
	}
	_, err = manager.ReadValueAt(1, datafile.FileHeaderSize)
	assert.Error(t, err)

	immutable, err = manager.ImmutableSegments()
	require.NoError(t, err)
	assert.Equal(t, []int{2}, immutable)
}

func TestFileManager_Write_LargeNumberOfKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	manager := newTestFileManager(t, fs, 4096)
	numKeys := 2000
	records := make(map[string]int64, numKeys)
	for i := range numKeys {
		key := "key" + strconv.Itoa(i)
		rec, err := manager.Write([]byte(key), []byte("value"+strconv.Itoa(i)), uint64(i+1))
		require.NoError(t, err)
		records[key] = rec.Offset
	}
	require.NoError(t, manager.Close())

	reopened := newTestFileManager(t, fs, 4096)
	defer reopened.Close()
	kd, _, err := reopened.ReadKeydir()
	require.NoError(t, err)
	require.Equal(t, numKeys, kd.Size())
	for key, offset := range records {
		rec, ok := kd.GetKeydirRecord([]byte(key))
		require.True(t, ok)
		assert.Equal(t, offset, rec.Offset)
	}
}
