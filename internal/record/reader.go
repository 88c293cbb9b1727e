package record

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

// Reader reads log records at given offsets. It only uses ReadAt on the underlying file, so it's
// safe to call Reader methods from multiple goroutines
type Reader struct {
	fs   afero.Fs
	file afero.File
}

// NewReader creates a new Record Reader that opens a file at the specified path for reading log records.
// Offsets passed to the Read methods are measured from the start of the file.
func NewReader(fs afero.Fs, path string) (*Reader, error) {
	file, err := fs.OpenFile(path, os.O_RDONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Reader{
		fs:   fs,
		file: file,
	}, nil
}

// ReadValueAt reads a record at the given offset and verifies its checksum. Only the value is populated in the
// returned record, Key is left empty.
func (r *Reader) ReadValueAt(offset int64) (*Record, error) {
	record, err := r.readVerified(offset)
	if err != nil {
		return nil, err
	}
	record.Key = nil
	return record, nil
}

// ReadRecordAtStrict reads a record at the given offset.
// It reads both the key and value from the file, and both the Key and Value in the returned record are valid.
// It also verifies if the record is valid by computing the checksum
func (r *Reader) ReadRecordAtStrict(offset int64) (*Record, error) {
	return r.readVerified(offset)
}

func (r *Reader) readVerified(offset int64) (*Record, error) {
	header, err := r.readHeader(offset)
	if err != nil {
		return nil, err
	}
	size := Size(int(header.KeySize), int(header.ValueSize))

	// Read the header, the key, the value, and the checksum in one go
	buf := make([]byte, size)
	if _, err := r.file.ReadAt(buf, offset); err != nil {
		return nil, unexpected(err)
	}
	body := buf[:size-recordChecksumSize]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(buf[size-recordChecksumSize:]) {
		return nil, ErrChecksumMismatch
	}
	keyEnd := recordHeaderSize + header.KeySize
	return &Record{
		Header: header,
		Key:    body[recordHeaderSize:keyEnd],
		Value:  body[keyEnd:],
		Size:   size,
	}, nil
}

// Close closes the underlying file
func (r *Reader) Close() error {
	return r.file.Close()
}

// readHeader reads a record header at the given offset in the file
func (r *Reader) readHeader(offset int64) (Header, error) {
	var buf [recordHeaderSize]byte
	if _, err := r.file.ReadAt(buf[:], offset); err != nil {
		return Header{}, err
	}
	return decodeHeader(buf[:])
}

// unexpected converts io.EOF in the middle of a record to io.ErrUnexpectedEOF
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
