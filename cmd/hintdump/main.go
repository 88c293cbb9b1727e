package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ananthvk/hintdb/internal/hintfile"
	"github.com/ananthvk/hintdb/internal/record"
	"github.com/ananthvk/hintdb/internal/utils"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

func main() {
	os.Exit(run())
}

func run() int {
	check := flag.Bool("check", false, "Only validate the hint file, do not print the entries")
	verifyData := flag.Bool("data", false, "Also check every entry against the record in the data file of the segment")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: hintdump [-check] [-data] <path/to/N.hint>")
		return 2
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	path := flag.Arg(0)
	dir, name := filepath.Split(path)
	segmentID, ext, ok := utils.ParseFileName(name)
	if !ok || ext != utils.HintFileExt {
		logger.Error().Str("path", path).Msg("not a hint file name, expected <segment id>.hint")
		return 2
	}

	// Read only, the file is never created or modified
	fs := afero.NewReadOnlyFs(afero.NewOsFs())
	hint := hintfile.New(fs, dir, segmentID, hintfile.Options{FlushThreshold: hintfile.FlushDisabled, Logger: logger})
	if err := hint.OpenReadOnly(); err != nil {
		logger.Error().Err(err).Msg("open failed")
		return 1
	}
	defer hint.Close()
	it, err := hint.NewIterator()
	if err != nil {
		logger.Error().Err(err).Msg("could not create iterator")
		return 1
	}

	var reader *record.Reader
	if *verifyData {
		reader, err = record.NewReader(fs, filepath.Join(dir, utils.GetDataFileName(segmentID)))
		if err != nil {
			logger.Error().Err(err).Msg("could not open data file")
			return 1
		}
		defer reader.Close()
	}

	count, mismatches := 0, 0
	for it.HasNext() {
		offset := it.Offset()
		entry, err := it.Next()
		if err != nil {
			break
		}
		count++
		if !*check {
			fmt.Printf("%d\tkey=%q\toffset=%d\tsize=%d\tseq=%d\n", offset, entry.Key, entry.RecordOffset, entry.RecordSize, entry.Sequence)
		}
		if reader != nil {
			if err := verifyEntry(reader, entry); err != nil {
				logger.Error().Err(err).Int64("hint_offset", offset).Str("key", string(entry.Key)).Msg("entry does not match the data file")
				mismatches++
			}
		}
	}

	if err := it.Err(); err != nil {
		logger.Error().Err(err).Int64("offset", it.Offset()).Int("entries", count).Msg("hint file is corrupt")
		return 1
	}
	if mismatches > 0 {
		logger.Error().Int("mismatches", mismatches).Int("entries", count).Msg("hint file does not match the data file")
		return 1
	}
	logger.Info().Int("segment", segmentID).Int("entries", count).Int64("bytes", it.Size()).Msg("hint file ok")
	return 0
}

func verifyEntry(reader *record.Reader, entry hintfile.Entry) error {
	rec, err := reader.ReadRecordAtStrict(entry.RecordOffset)
	if err != nil {
		return err
	}
	switch {
	case !bytes.Equal(rec.Key, entry.Key):
		return fmt.Errorf("key %q in data file", rec.Key)
	case rec.Size != entry.RecordSize:
		return fmt.Errorf("record size %d in data file", rec.Size)
	case rec.Header.Sequence != entry.Sequence:
		return fmt.Errorf("sequence %d in data file", rec.Header.Sequence)
	}
	return nil
}
