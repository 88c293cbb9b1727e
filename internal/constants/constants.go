package constants

const (
	MaxKeySize   = 64 * 1024        // In bytes (64 KB)
	MaxValueSize = 16 * 1024 * 1024 // In bytes (16 MB)
)
