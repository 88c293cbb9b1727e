package datafile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"
)

const fileHeaderVersionMajor = 3
const fileHeaderVersionMinor = 0
const fileHeaderVersionPatch = 0

var fileHeaderMagicBytes = [...]byte{0x00, 0x68, 0x69, 0x6E, 0x74, 0x44, 0x41, 0x54}

const FileHeaderSize = 19 // In bytes

var (
	ErrNotDataFile                  = errors.New("not a hintdb data file")
	ErrDataFileVersionNotCompatible = errors.New("datafile not supported by reader")
)

// FileHeader is written at the start of every data segment. Hint files do not have a header,
// so offsets stored in hint entries count these bytes
type FileHeader struct {
	VersionMajor byte
	VersionMinor byte
	VersionPatch byte
	Timestamp    time.Time
}

// NewFileHeader creates a new file header
func NewFileHeader(ts time.Time) *FileHeader {
	return &FileHeader{
		VersionMajor: fileHeaderVersionMajor,
		VersionMinor: fileHeaderVersionMinor,
		VersionPatch: fileHeaderVersionPatch,
		Timestamp:    ts,
	}
}

func isFileVersionCompatible(fileMajor, fileMinor, filePatch byte) error {
	// Major version mismatch - incompatible
	if fileMajor != fileHeaderVersionMajor {
		return fmt.Errorf(
			"%w - data file has major version %d, reader has major version %d",
			ErrDataFileVersionNotCompatible,
			fileMajor,
			fileHeaderVersionMajor,
		)
	}
	// File is newer (minor) than reader - incompatible
	if fileMinor > fileHeaderVersionMinor {
		return fmt.Errorf(
			"%w - file was created by newer version (%d.%d.%d) of the application",
			ErrDataFileVersionNotCompatible,
			fileMajor,
			fileMinor,
			filePatch,
		)
	}
	return nil
}

// ReadFileHeader reads the data file header at the start of the file at the given path. This function returns
// an error if the file is not a data file, or if the file version is not compatible
func ReadFileHeader(fs afero.Fs, path string) (*FileHeader, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var buf [FileHeaderSize]byte
	if _, err = io.ReadFull(file, buf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w - file is shorter than the header", ErrNotDataFile)
		}
		return nil, err
	}
	// Check magic bytes to see if we are reading a data file
	for i, b := range fileHeaderMagicBytes {
		if buf[i] != b {
			return nil, ErrNotDataFile
		}
	}
	fileHeader := &FileHeader{
		VersionMajor: buf[8],
		VersionMinor: buf[9],
		VersionPatch: buf[10],
	}
	if err := isFileVersionCompatible(fileHeader.VersionMajor, fileHeader.VersionMinor, fileHeader.VersionPatch); err != nil {
		return nil, err
	}

	fileHeader.Timestamp = time.UnixMicro(int64(binary.LittleEndian.Uint64(buf[11:])))
	return fileHeader, nil
}

// WriteFileHeader creates the data file at the given path and writes the header into it. It also calls `file.Sync()`
// after writing the header to ensure that the header was written completely.
// If the file already exists, it results in an error
func WriteFileHeader(fs afero.Fs, path string, header *FileHeader) error {
	file, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	var buf [FileHeaderSize]byte

	// Copy magic bytes into buf
	copy(buf[:], fileHeaderMagicBytes[:])

	buf[8] = header.VersionMajor
	buf[9] = header.VersionMinor
	buf[10] = header.VersionPatch

	binary.LittleEndian.PutUint64(buf[11:], uint64(header.Timestamp.UnixMicro()))

	if _, err := file.Write(buf[:]); err != nil {
		return err
	}

	return file.Sync()
}
