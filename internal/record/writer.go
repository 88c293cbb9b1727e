package record

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/ananthvk/hintdb/internal/constants"
	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

// Writer is responsible for writing log records to the file. There are no locks in this implementation, so it's
// unsafe to call Writer methods concurrently
type Writer struct {
	fs   afero.Fs
	file afero.File
	// Internal buffer used to temporarily hold record header
	buf        [recordHeaderSize]byte
	currentPos int64
	// err is set when a record was only partially written
	err error
}

// NewWriter creates a new Record Writer that opens a file at the specified path for appending logs
func NewWriter(fs afero.Fs, path string) (*Writer, error) {
	file, err := fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	// Seek to end to find the size of the file (position for the next record)
	pos, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Writer{
		fs:         fs,
		file:       file,
		currentPos: pos,
	}, nil
}

// writeRecord writes the key-value record to the file. It writes the record header, followed by the key & value, then the checksum
func (w *Writer) writeRecord(r *Record) error {
	h := xxhash.New()
	encodeHeader(w.buf[:], &r.Header)

	// Update checksum with header info
	h.Write(w.buf[:])
	if _, err := w.file.Write(w.buf[:]); err != nil {
		return err
	}

	// Update checksum with key & value
	h.Write(r.Key)
	if _, err := w.file.Write(r.Key); err != nil {
		return err
	}
	h.Write(r.Value)
	if _, err := w.file.Write(r.Value); err != nil {
		return err
	}

	// Write the checksum of the record at the end
	if err := binary.Write(w.file, binary.LittleEndian, h.Sum64()); err != nil {
		return err
	}
	w.currentPos += int64(r.Size)
	return nil
}

// WriteKeyValue writes the key-value pair as a new log entry to the file. It does not call sync(), so there
// is a chance that data might get lost if the system crashes. If you need durability, call Sync() after writing.
// This function returns the offset of the record measured from the start of the file, and the size of the record
func (w *Writer) WriteKeyValue(key []byte, value []byte, sequence uint64) (int64, uint32, error) {
	if len(key) > constants.MaxKeySize {
		return 0, 0, ErrKeyTooLarge
	}
	if len(value) > constants.MaxValueSize {
		return 0, 0, ErrValueTooLarge
	}
	if w.err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrWriterFailed, w.err)
	}
	start := w.currentPos
	rec := newRecord(key, value, sequence)
	if err := w.writeRecord(rec); err != nil {
		w.err = err
		return 0, 0, err
	}
	return start, rec.Size, nil
}

// Err returns the error that stopped the writer, nil if every record has been written completely
func (w *Writer) Err() error {
	return w.err
}

// Offset returns the position at which the next record will be written
func (w *Writer) Offset() int64 {
	return w.currentPos
}

// Sync flushes any buffered data to the underlying file. It calls sync() on the file
func (w *Writer) Sync() error {
	return w.file.Sync()
}

// Close closes the underlying file, it also writes any pending changes and syncs the changes to the disk
func (w *Writer) Close() error {
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
