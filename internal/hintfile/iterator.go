package hintfile

import (
	"bufio"
	"fmt"
	"io"
)

const readerBufferSize = 64 * 1024 // 64 KB

// Iterator sequentially decodes the entries of a hint file. It reads a fixed byte range [0, size)
// that is decided when the iterator is created, so entries appended afterwards are not returned.
// An Iterator cannot be restarted, create a new one to read the file again.
type Iterator struct {
	reader *bufio.Reader
	size   int64
	offset int64
	header [HeaderSize]byte
	err    error
}

func newIterator(r io.ReaderAt, size int64) *Iterator {
	bufSize := readerBufferSize
	if size < int64(bufSize) {
		bufSize = max(int(size), 16)
	}
	return &Iterator{
		reader: bufio.NewReaderSize(io.NewSectionReader(r, 0, size), bufSize),
		size:   size,
	}
}

// HasNext returns true if there are unread bytes left, and no error has occurred so far
func (it *Iterator) HasNext() bool {
	return it.err == nil && it.offset < it.size
}

// Next decodes the next entry. When there are no more entries it returns io.EOF, it does not panic.
// If the bytes at the current position do not form a valid entry, ErrCorruptRecord is returned and
// every later call to Next returns the same error.
func (it *Iterator) Next() (Entry, error) {
	if it.err != nil {
		return Entry{}, it.err
	}
	if it.offset >= it.size {
		return Entry{}, io.EOF
	}
	entry, n, err := it.decode()
	if err != nil {
		it.err = err
		return Entry{}, err
	}
	it.offset += int64(n)
	return entry, nil
}

func (it *Iterator) decode() (Entry, int, error) {
	remaining := it.size - it.offset
	if remaining < HeaderSize {
		return Entry{}, 0, fmt.Errorf("%w: truncated header at offset %d, %d bytes left", ErrCorruptRecord, it.offset, remaining)
	}
	if _, err := io.ReadFull(it.reader, it.header[:]); err != nil {
		return Entry{}, 0, fmt.Errorf("%w: read header at offset %d: %w", ErrIOFailure, it.offset, err)
	}
	keySize, err := keySizeOf(it.header[:])
	if err != nil {
		return Entry{}, 0, fmt.Errorf("entry at offset %d: %w", it.offset, err)
	}
	if int64(keySize) > remaining-HeaderSize {
		return Entry{}, 0, fmt.Errorf("%w: key of %d bytes at offset %d runs past the end of the file", ErrCorruptRecord, keySize, it.offset)
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(it.reader, key); err != nil {
		return Entry{}, 0, fmt.Errorf("%w: read key at offset %d: %w", ErrIOFailure, it.offset, err)
	}
	entry, err := decodeHeader(it.header[:], key)
	if err != nil {
		return Entry{}, 0, fmt.Errorf("entry at offset %d: %w", it.offset, err)
	}
	return entry, HeaderSize + keySize, nil
}

// Err returns the error that stopped the iteration, if any
func (it *Iterator) Err() error {
	return it.err
}

// Offset returns the position of the next entry in the file
func (it *Iterator) Offset() int64 {
	return it.offset
}

// Size returns the number of bytes visible to the iterator
func (it *Iterator) Size() int64 {
	return it.size
}
