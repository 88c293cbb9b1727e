package main

import (
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/ananthvk/hintdb"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

func randomBytes(length int) []byte {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = chars[rand.Intn(len(chars))]
	}
	return b
}

func main() {
	num := flag.Int("n", 10000, "Total number of operations")
	segmentSize := flag.Int64("segment-size", 0, "Max segment size in bytes for a new datastore (0 for the default)")
	flushThreshold := flag.Int64("flush", 0, "Hint file flush threshold in bytes for a new datastore, -1 to disable (0 for the default)")
	verbose := flag.Bool("v", false, "Enable debug logs")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: kvmake [flags] <path>")
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	opts := hintdb.DefaultOptions()
	opts.Logger = logger
	if *segmentSize != 0 {
		opts.MaxSegmentSize = *segmentSize
	}
	if *flushThreshold != 0 {
		opts.FlushThreshold = *flushThreshold
	}

	fs := afero.NewOsFs()
	path := flag.Arg(0)
	store, err := hintdb.Open(fs, path, opts)
	if errors.Is(err, hintdb.ErrNotExist) {
		logger.Info().Str("path", path).Msg("datastore not found, creating it")
		store, err = hintdb.Create(fs, path, opts)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("could not open datastore")
	}
	defer store.Close()

	start := time.Now()
	failed := 0
	for i := 0; i < *num; i++ {
		key := randomBytes(rand.Intn(30) + 15)
		value := randomBytes(rand.Intn(20) + 10)
		if err := store.Put(key, value); err != nil {
			logger.Error().Err(err).Msg("write error")
			failed++
		}
	}
	stats := store.Stats()
	logger.Info().
		Int("ops", *num).
		Int("failed", failed).
		Int("keys", stats.Keys).
		Int("active_segment", stats.ActiveSegment).
		Dur("took", time.Since(start)).
		Msg("done")
}
