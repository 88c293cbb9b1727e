package record

import (
	"encoding/binary"

	"github.com/ananthvk/hintdb/internal/constants"
)

func encodeHeader(buf []byte, h *Header) {
	binary.LittleEndian.PutUint64(buf[0:], h.Sequence)   // Sequence number of the write
	binary.LittleEndian.PutUint32(buf[8:], h.KeySize)    // Length of key
	binary.LittleEndian.PutUint32(buf[12:], h.ValueSize) // Length of value
	buf[16] = h.RecordType                               // Type of record, 0x50 for PUT
	buf[17] = h.ValueType                                // Currently value type is unused
	buf[18] = 0x0                                        // Reserved
	buf[19] = 0x0                                        // Reserved
}

// decodeHeader decodes a record header, and checks if key / value size are within the set maximum values.
// This is to detect corruption to header (i.e. if the size gets corrupted and it becomes a very huge value)
func decodeHeader(buf []byte) (Header, error) {
	header := Header{
		Sequence:   binary.LittleEndian.Uint64(buf[0:]),
		KeySize:    binary.LittleEndian.Uint32(buf[8:]),
		ValueSize:  binary.LittleEndian.Uint32(buf[12:]),
		RecordType: buf[16],
		ValueType:  buf[17],
	}
	if header.KeySize > constants.MaxKeySize {
		return Header{}, ErrKeyTooLarge
	}
	if header.ValueSize > constants.MaxValueSize {
		return Header{}, ErrValueTooLarge
	}
	return header, nil
}
