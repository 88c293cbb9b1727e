package hintfile

import "errors"

var (
	// ErrInvalidArgument is returned when a nil or oversized entry is passed to the codec or to Write
	ErrInvalidArgument = errors.New("invalid hint entry")

	// ErrIOFailure wraps any error returned by the underlying file system
	ErrIOFailure = errors.New("hint file i/o failure")

	// ErrCorruptRecord is returned when the bytes in a hint file do not decode to a valid entry
	ErrCorruptRecord = errors.New("corrupt hint record")

	// ErrNotOpen is returned when Write or NewIterator is called before Open
	ErrNotOpen = errors.New("hint file is not open")
)
