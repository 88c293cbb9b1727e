package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ananthvk/hintdb"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

func main() {
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: kvcli <path>")
		os.Exit(1)
	}

	opts := hintdb.DefaultOptions()
	opts.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

	fs := afero.NewOsFs()
	path := flag.Arg(0)
	store, err := hintdb.Open(fs, path, opts)
	if errors.Is(err, hintdb.ErrNotExist) {
		store, err = hintdb.Create(fs, path, opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "(error) OPEN: %s\n", err)
		os.Exit(1)
	}
	defer store.Close()

	fmt.Println("Welcome to hintdb cli, type \"exit\" to quit")
	// TODO: NOTE: Cannot set/get a key called \key, introduce escape sequence or quotes "" to avoid this
	fmt.Println("To set a value, use <key>=<value>, to retrieve a value just type <key>, to get all keys type \\keys")
	fmt.Println("\\size prints the number of keys, \\stats prints datastore stats, \\sync syncs the active segment")
	fmt.Println("Note: Spaces matter, so key =value is different from key=value")
	fmt.Print("> ")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		query := scanner.Text()
		if query == "exit" {
			break
		}
		var output string
		switch query {
		case "":
			fmt.Print("> ")
			continue
		case "\\keys":
			op, err := store.ListKeys()
			if err != nil {
				output = fmt.Sprintf("(error) \\keys: %s", err)
			} else {
				output = "[" + strings.Join(op, ",") + "]"
			}
		case "\\size":
			output = fmt.Sprintf("%d", store.Size())
		case "\\stats":
			stats := store.Stats()
			output = fmt.Sprintf("keys=%d sequence=%d active_segment=%d hint_segments=%d scanned_segments=%d skipped_segments=%d",
				stats.Keys, stats.Sequence, stats.ActiveSegment, stats.HintSegments, stats.ScannedSegments, stats.SkippedSegments)
		case "\\sync":
			if err := store.Sync(); err != nil {
				output = fmt.Sprintf("(error) \\sync: %s", err)
			} else {
				output = "OK"
			}
		default:
			before, after, found := strings.Cut(query, "=")
			if found {
				// A SET operation
				err := store.Put([]byte(before), []byte(after))
				if err != nil {
					output = fmt.Sprintf("(error) SET: %s", err)
				} else {
					output = "OK"
				}
			} else {
				// A GET operation
				op, err := store.Get([]byte(before))
				if err != nil {
					output = fmt.Sprintf("(error) GET: %s", err)
				} else {
					output = string(op)
				}
			}
		}
		fmt.Println(output)
		fmt.Print("> ")
	}
}
