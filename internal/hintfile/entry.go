package hintfile

import (
	"encoding/binary"
	"fmt"

	"github.com/ananthvk/hintdb/internal/constants"
	"github.com/cespare/xxhash/v2"
)

/*
Hint files let the keydir be rebuilt on startup without reading values from the data segments.

Every data record appended to segment N has a matching entry appended to N.hint, in the same order.
The hint file has no file header, it is just a sequence of entries. Each entry is laid out as follows
(all integers are little endian):

	+-------------+----------------+--------------+--------------+--------------+-----------+
	| key size 4B | record pos 8B  | record sz 4B | sequence 8B  | checksum 8B  | key bytes |
	+-------------+----------------+--------------+--------------+--------------+-----------+

The checksum is the xxhash64 of the first 24 bytes of the header followed by the key.
*/

// HeaderSize is the size of the fixed part of a hint entry
const HeaderSize = 32

const checksumOffset = 24

// Entry describes where a data record lives inside its data segment
type Entry struct {
	Key []byte
	// RecordOffset is the offset of the data record from the start of the data segment
	RecordOffset int64
	// RecordSize is the total size of the data record (header + key + value + checksum)
	RecordSize uint32
	// Sequence orders versions of the same key across segments, the highest one wins
	Sequence uint64
}

// EncodedSize returns the number of bytes the entry occupies in a hint file
func (e *Entry) EncodedSize() int {
	return HeaderSize + len(e.Key)
}

// Encode serializes the entry into a header span and a key span. The key span
// aliases e.Key, so the key must not be modified until the spans are written.
func Encode(e *Entry) ([][]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: entry cannot be nil", ErrInvalidArgument)
	}
	if len(e.Key) > constants.MaxKeySize {
		return nil, fmt.Errorf("%w: key of %d bytes exceeds the maximum of %d bytes", ErrInvalidArgument, len(e.Key), constants.MaxKeySize)
	}
	if e.RecordOffset < 0 {
		return nil, fmt.Errorf("%w: negative record offset %d", ErrInvalidArgument, e.RecordOffset)
	}

	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header[0:], uint32(len(e.Key)))
	binary.LittleEndian.PutUint64(header[4:], uint64(e.RecordOffset))
	binary.LittleEndian.PutUint32(header[12:], e.RecordSize)
	binary.LittleEndian.PutUint64(header[16:], e.Sequence)
	binary.LittleEndian.PutUint64(header[checksumOffset:], checksum(header, e.Key))

	return [][]byte{header, e.Key}, nil
}

// Decode decodes the entry at the start of buf, it returns the entry and the number of bytes it
// occupied. The returned key is a copy and does not alias buf.
func Decode(buf []byte) (Entry, int, error) {
	if len(buf) < HeaderSize {
		return Entry{}, 0, fmt.Errorf("%w: need %d header bytes, have %d", ErrCorruptRecord, HeaderSize, len(buf))
	}
	keySize, err := keySizeOf(buf[:HeaderSize])
	if err != nil {
		return Entry{}, 0, err
	}
	size := HeaderSize + keySize
	if len(buf) < size {
		return Entry{}, 0, fmt.Errorf("%w: key of %d bytes runs past the end of the buffer", ErrCorruptRecord, keySize)
	}
	key := make([]byte, keySize)
	copy(key, buf[HeaderSize:size])
	entry, err := decodeHeader(buf[:HeaderSize], key)
	if err != nil {
		return Entry{}, 0, err
	}
	return entry, size, nil
}

// keySizeOf returns the key size stored in the header, after checking it against the maximum key size.
// This is to detect a corrupted size field before allocating or reading that many bytes.
func keySizeOf(header []byte) (int, error) {
	keySize := binary.LittleEndian.Uint32(header[0:])
	if keySize > constants.MaxKeySize {
		return 0, fmt.Errorf("%w: key size %d exceeds the maximum of %d bytes", ErrCorruptRecord, keySize, constants.MaxKeySize)
	}
	return int(keySize), nil
}

// decodeHeader builds the entry from a full header and the key that follows it, verifying the checksum
func decodeHeader(header []byte, key []byte) (Entry, error) {
	stored := binary.LittleEndian.Uint64(header[checksumOffset:])
	if computed := checksum(header, key); computed != stored {
		return Entry{}, fmt.Errorf("%w: checksum mismatch, stored %x, computed %x", ErrCorruptRecord, stored, computed)
	}
	return Entry{
		Key:          key,
		RecordOffset: int64(binary.LittleEndian.Uint64(header[4:])),
		RecordSize:   binary.LittleEndian.Uint32(header[12:]),
		Sequence:     binary.LittleEndian.Uint64(header[16:]),
	}, nil
}

func checksum(header []byte, key []byte) uint64 {
	d := xxhash.New()
	d.Write(header[:checksumOffset])
	d.Write(key)
	return d.Sum64()
}
