package record

import "errors"

var ErrChecksumMismatch = errors.New("checksum does not match stored value")

var ErrKeyTooLarge = errors.New("key too large")

var ErrValueTooLarge = errors.New("value too large")

// ErrWriterFailed is returned by a Writer after a record could not be written completely. The file may end
// in a partial record, so nothing more is appended to it
var ErrWriterFailed = errors.New("data file writer failed")
