package main

import (
	"encoding/json"
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

// UserProfile mimics a real-world document
type UserProfile struct {
	ID       string            `json:"id"`
	Username string            `json:"username"`
	Email    string            `json:"email"`
	IsActive bool              `json:"is_active"`
	Age      int               `json:"age"`
	Tags     []string          `json:"tags"`
	Metadata map[string]string `json:"metadata"`
	// Payload is used to pad the record to a specific size
	Payload string `json:"payload,omitempty"`
}

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomString(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}

func generateJSON(targetSize int) ([]byte, string) {
	// 1. Generate a Key
	key := fmt.Sprintf("user:%s", randomString(16))

	// 2. Build the Object
	user := UserProfile{
		ID:       key,
		Username: randomString(8),
		Email:    fmt.Sprintf("%s@example.com", randomString(8)),
		IsActive: rand.Intn(2) == 1,
		Age:      rand.Intn(60) + 18,
		Tags:     []string{"developer", "golang", "db-engine", "benchmark"},
		Metadata: map[string]string{
			"login_ip": "192.168.1.1",
			"device":   "MacBook Pro",
		},
	}

	// 3. Calculate Padding needed
	// Marshal once to see base size
	baseBytes, _ := json.Marshal(user)
	baseSize := len(baseBytes)

	if targetSize > baseSize {
		paddingNeeded := targetSize - baseSize
		user.Payload = randomString(paddingNeeded)
	}

	// 4. Final Marshal
	finalBytes, _ := json.Marshal(user)
	return finalBytes, key
}

func main() {
	numOps := flag.Int("n", 10000, "Total number of records to write")
	targetSize := flag.Int("size", 1024, "Target size of JSON value in bytes (default 1KB)")
	dbPath := flag.String("db", "./mydb", "Path to the datastore")
	verify := flag.Int("verify", 100, "Number of written records to read back after reopening the datastore")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	logger.Info().Int("records", *numOps).Int("size", *targetSize).Msg("generating JSON records")

	fs := afero.NewOsFs()
	opts := hintdb.DefaultOptions()
	opts.Logger = logger

	// Open or Create DB
	store, err := hintdb.Open(fs, *dbPath, opts)
	if errors.Is(err, hintdb.ErrNotExist) {
		logger.Info().Str("path", *dbPath).Msg("datastore not found, creating new one")
		store, err = hintdb.Create(fs, *dbPath, opts)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("could not open datastore")
	}

	start := time.Now()
	written := make([]string, 0, *verify)
	for i := 0; i < *numOps; i++ {
		valBytes, keyStr := generateJSON(*targetSize)

		if err := store.Put([]byte(keyStr), valBytes); err != nil {
			logger.Error().Err(err).Msg("write error")
			continue
		}
		if len(written) < *verify {
			written = append(written, keyStr)
		}

		if i%1000 == 0 && i > 0 {
			fmt.Printf("\rWrote %d/%d records...", i, *numOps)
		}
	}
	if err := store.Close(); err != nil {
		logger.Fatal().Err(err).Msg("close failed")
	}

	elapsed := time.Since(start)
	fmt.Printf("\nDone! Wrote %d records in %s\n", *numOps, elapsed)
	fmt.Printf("Throughput: %.2f records/sec\n", float64(*numOps)/elapsed.Seconds())

	// Reopen, the keydir is rebuilt from the hint files
	start = time.Now()
	store, err = hintdb.Open(fs, *dbPath, opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("reopen failed")
	}
	defer store.Close()
	stats := store.Stats()
	fmt.Printf("Reopened in %s: %d keys, %d segments from hint files, %d scanned\n",
		time.Since(start), stats.Keys, stats.HintSegments, stats.ScannedSegments)

	for _, key := range written {
		value, err := store.Get([]byte(key))
		if err != nil {
			logger.Fatal().Err(err).Str("key", key).Msg("read back failed")
		}
		var user UserProfile
		if err := json.Unmarshal(value, &user); err != nil || user.ID != key {
			logger.Fatal().Err(err).Str("key", key).Msg("read back returned a different document")
		}
	}
	fmt.Printf("Verified %d records\n", len(written))
}
