package hintdb

import "errors"

var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrNotExist       = errors.New("datastore does not exist")
	ErrInvalidOptions = errors.New("invalid options")
	ErrClosed         = errors.New("datastore is closed")
	ErrLocked         = errors.New("datastore is locked by another process")
)
