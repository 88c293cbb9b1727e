package utils

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DataFileExt = ".dat"
	HintFileExt = ".hint"
)

func GetDataFileName(identifier int) string {
	return fmt.Sprintf("%d%s", identifier, DataFileExt)
}

func GetHintFileName(identifier int) string {
	return fmt.Sprintf("%d%s", identifier, HintFileExt)
}

// ParseFileName splits a segment file name such as 12.dat into its identifier and extension.
// ok is false if the name does not start with a non-negative integer identifier
func ParseFileName(name string) (identifier int, ext string, ok bool) {
	ext = filepath.Ext(name)
	id, err := strconv.ParseInt(strings.TrimSuffix(name, ext), 10, 32)
	if err != nil || id < 0 {
		return 0, "", false
	}
	return int(id), ext, true
}
