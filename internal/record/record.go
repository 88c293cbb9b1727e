package record

const (
	recordHeaderSize   = 20
	recordChecksumSize = 8
	recordTypePut      = 0x50
)

// Header contains metadata information about a log record
//
// Sequence is the sequence number assigned to the write by the store, the record with the highest sequence wins.
// KeySize specifies the size in bytes of the record's key.
// ValueSize specifies the size in bytes of the record's value.
// RecordType indicates the type of operation, only puts (0x50) are written.
// ValueType indicates the data type of the value (e.g., string, integer, blob). Currently it's set to 0x0
type Header struct {
	Sequence   uint64
	KeySize    uint32
	ValueSize  uint32
	RecordType uint8
	ValueType  uint8
}

// Record represents a single key-value pair in the data file. `Key` and `Value` can be empty depending upon the mode through which
// the record was read. Size represents the total size of the record (header + key + value + checksum), it's useful for determining the start
// of the next record
type Record struct {
	Header Header
	Key    []byte
	Value  []byte
	Size   uint32
}

// Size returns the number of bytes a record with the given key and value occupies on disk
func Size(keySize int, valueSize int) uint32 {
	return uint32(recordHeaderSize + keySize + valueSize + recordChecksumSize)
}

// newRecord returns a put Record given the key, value and sequence number
func newRecord(key []byte, value []byte, sequence uint64) *Record {
	return &Record{
		Header: Header{
			Sequence:   sequence,
			KeySize:    uint32(len(key)),
			ValueSize:  uint32(len(value)),
			RecordType: recordTypePut,
			ValueType:  0x0,
		},
		Key:   key,
		Value: value,
		Size:  Size(len(key), len(value)),
	}
}
