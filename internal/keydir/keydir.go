package keydir

import (
	"github.com/ananthvk/hintdb/internal/hintfile"
)

type KeydirRecord struct {
	SegmentID int
	// Offset is the offset to the start of the record (and not to the start of the value), from the start of the data file
	Offset int64
	// Size is the total size of the record on disk
	Size     uint32
	Sequence uint64
}

// Keydir maps every live key to the location of its latest record. It is not safe for concurrent use
type Keydir struct {
	mp          map[string]KeydirRecord
	maxSequence uint64
}

// NewKeydir initializes a new Keydir
func NewKeydir() *Keydir {
	return &Keydir{
		mp: make(map[string]KeydirRecord),
	}
}

// AddKeydirRecord adds a new KeydirRecord. If the sequence is lower than the sequence of an existing key, the update is ignored.
// It returns true if the record was stored
func (k *Keydir) AddKeydirRecord(key []byte, rec KeydirRecord) bool {
	k.maxSequence = max(k.maxSequence, rec.Sequence)
	// Ignore stale updates
	keyStr := string(key)
	if existing, ok := k.mp[keyStr]; ok && rec.Sequence < existing.Sequence {
		return false
	}
	k.mp[keyStr] = rec
	return true
}

// Apply adds the location described by a hint entry of the given segment
func (k *Keydir) Apply(segmentID int, e hintfile.Entry) bool {
	return k.AddKeydirRecord(e.Key, KeydirRecord{
		SegmentID: segmentID,
		Offset:    e.RecordOffset,
		Size:      e.RecordSize,
		Sequence:  e.Sequence,
	})
}

// Merge adds every record of other into k, keeping the record with the higher sequence for keys present in both
func (k *Keydir) Merge(other *Keydir) {
	for key, rec := range other.mp {
		k.AddKeydirRecord([]byte(key), rec)
	}
	k.maxSequence = max(k.maxSequence, other.maxSequence)
}

// GetKeydirRecord retrieves a KeydirRecord by key
func (k *Keydir) GetKeydirRecord(key []byte) (KeydirRecord, bool) {
	record, exists := k.mp[string(key)]
	return record, exists
}

// GetAllKeys retrieves all keys in the Keydir as a slice
func (k *Keydir) GetAllKeys() []string {
	keys := make([]string, 0, len(k.mp))
	for key := range k.mp {
		keys = append(keys, key)
	}
	return keys
}

// MaxSequence returns the highest sequence number seen, including those of stale updates
func (k *Keydir) MaxSequence() uint64 {
	return k.maxSequence
}

func (k *Keydir) Size() int {
	return len(k.mp)
}
