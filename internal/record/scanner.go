package record

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/ananthvk/hintdb/internal/datafile"
	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

const readerBufferSize = 4 * 1000 * 1000 // 4 MB

// Scanner sequentially reads records from the given data file. It internally uses
// a buffered reader to improve performance. This is not meant to be used in Get operation, and is
// intended to be used to rebuild the keydir when a segment has no usable hint file
type Scanner struct {
	fs     afero.Fs
	file   afero.File
	offset int64
	reader *bufio.Reader

	headerBuf    [recordHeaderSize]byte
	checksumBuf  [recordChecksumSize]byte
	digest       *xxhash.Digest
	sharedBuffer []byte
}

// NewScanner opens the data file at path and positions the scanner after the data file header
func NewScanner(fs afero.Fs, path string) (*Scanner, error) {
	file, err := fs.OpenFile(path, os.O_RDONLY, 0644)
	if err != nil {
		return nil, err
	}
	reader := bufio.NewReaderSize(file, readerBufferSize)
	// Skip the file header
	if _, err = reader.Discard(datafile.FileHeaderSize); err != nil {
		file.Close()
		return nil, err
	}

	return &Scanner{
		fs:     fs,
		file:   file,
		offset: datafile.FileHeaderSize,
		reader: reader,
		digest: xxhash.New(),
	}, nil
}

// Scan returns the next record, and the offset of the record from the start of the file. io.EOF is
// returned once all records have been read, a record cut short returns io.ErrUnexpectedEOF
// Note: The Key & Value inside record are backed by a shared buffer, and hence it'll be overwritten the next time
// Scan is called. If you need the record key / value later, make a copy
func (scanner *Scanner) Scan() (Record, int64, error) {
	scanner.digest.Reset()
	recordOffset := scanner.offset

	if _, err := io.ReadFull(scanner.reader, scanner.headerBuf[:]); err != nil {
		return Record{}, 0, err
	}
	header, err := decodeHeader(scanner.headerBuf[:])
	if err != nil {
		return Record{}, 0, err
	}
	scanner.digest.Write(scanner.headerBuf[:])

	bodySize := int(header.KeySize + header.ValueSize)
	if cap(scanner.sharedBuffer) < bodySize {
		scanner.sharedBuffer = make([]byte, bodySize)
	}
	body := scanner.sharedBuffer[:bodySize]
	if _, err := io.ReadFull(scanner.reader, body); err != nil {
		return Record{}, 0, unexpected(err)
	}
	scanner.digest.Write(body)

	if _, err := io.ReadFull(scanner.reader, scanner.checksumBuf[:]); err != nil {
		return Record{}, 0, unexpected(err)
	}
	if binary.LittleEndian.Uint64(scanner.checksumBuf[:]) != scanner.digest.Sum64() {
		return Record{}, 0, ErrChecksumMismatch
	}

	record := Record{
		Header: header,
		Key:    body[:header.KeySize],
		Value:  body[header.KeySize:],
		Size:   Size(int(header.KeySize), int(header.ValueSize)),
	}
	scanner.offset += int64(record.Size)
	return record, recordOffset, nil
}

func (scanner *Scanner) Close() error {
	return scanner.file.Close()
}
