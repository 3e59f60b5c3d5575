// Command gen-targets generates the addresses a vulnerable BitcoinJS wallet
// would have created at the given timestamps. Private keys are never
// written. The output is a target file for randstorm.
package main

import (
	"bufio"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/wille/randstorm/internal/derive"
	"github.com/wille/randstorm/internal/keygen"
	"github.com/wille/randstorm/internal/prng"
)

var netParams = &chaincfg.MainNetParams

var header = []string{"Timestamp", "Engine", "Path", "Address"}

func main() {
	var filename string
	flag.StringVar(&filename, "f", "", "The file containing the timestamps (unix ms or RFC 3339), one per line")

	var outputFile string
	flag.StringVar(&outputFile, "o", "targets.csv", "The file to save the generated addresses to")

	var chain string
	flag.StringVar(&chain, "chain", "mainnet", "The chain to generate addresses for")

	var engine string
	flag.StringVar(&engine, "engine", "v8", "The PRNG engine the wallets were generated with")

	var paths string
	flag.StringVar(&paths, "paths", "direct", "The derivation path families to generate")

	var hdCount uint
	flag.UintVar(&hdCount, "hd-count", 1, "The number of receive addresses per HD path family")

	var numWorkers int
	flag.IntVar(&numWorkers, "workers", runtime.NumCPU(), "The number of workers to use")

	flag.Parse()

	if filename == "" {
		log.Println("Error: -f is required")
		flag.Usage()
		os.Exit(1)
	}

	switch chain {
	case "mainnet":
		netParams = &chaincfg.MainNetParams
	case "testnet3":
		netParams = &chaincfg.TestNet3Params
	case "signet":
		netParams = &chaincfg.SigNetParams
	case "regtest":
		netParams = &chaincfg.RegressionNetParams
	default:
		log.Println("Error: -chain must be either 'mainnet', 'testnet3', 'signet' or 'regtest'")
		flag.Usage()
		os.Exit(1)
	}

	kind, err := prng.ParseKind(engine)
	if err != nil {
		log.Println("Error:", err)
		os.Exit(1)
	}
	families, err := derive.ParseFamilies(paths)
	if err != nil {
		log.Println("Error:", err)
		os.Exit(1)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	timestamps, err := readTimestampsFromFile(filename)
	if err != nil {
		log.Println("Error reading timestamp file:", err)
		os.Exit(1)
	}
	log.Printf("Found %d timestamps", len(timestamps))

	file, err := os.Create(outputFile)
	if err != nil {
		log.Println("Error creating file:", err)
		os.Exit(1)
	}
	defer file.Close()

	n, err := generate(file, timestamps, kind, derive.NewDeriver(netParams, families, uint32(hdCount)), numWorkers)
	if err != nil {
		log.Println("Error generating addresses:", err)
		os.Exit(1)
	}
	log.Printf("Successfully generated %d addresses and saved to %s\n", n, outputFile)
}

// generate derives the addresses of every timestamp on numWorkers workers
// and writes them as CSV. Rows appear in completion order.
func generate(out io.Writer, timestamps []uint64, kind prng.Kind, d *derive.Deriver, numWorkers int) (int, error) {
	writer := csv.NewWriter(out)
	if err := writer.Write(header); err != nil {
		return 0, fmt.Errorf("error writing CSV header: %w", err)
	}

	results := make(chan [][]string, 1000)
	var written int
	var writeErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		for rows := range results {
			if writeErr != nil {
				continue
			}
			if err := writer.WriteAll(rows); err != nil {
				writeErr = err
				continue
			}
			written += len(rows)
		}
	}()

	var counter int64
	var wg sync.WaitGroup
	for _, chunk := range chunkTimestamps(timestamps, numWorkers) {
		wg.Add(1)
		go func(chunk []uint64) {
			defer wg.Done()
			for _, ts := range chunk {
				rows, err := deriveRows(ts, kind, d)
				if err != nil {
					log.Printf("Skipping %d: %v", ts, err)
					continue
				}
				results <- rows

				currentCount := atomic.AddInt64(&counter, 1)
				if currentCount%1000 == 0 {
					log.Printf("Progress: Generated %d/%d timestamps (%.2f%%)\n",
						currentCount, len(timestamps), float64(currentCount)/float64(len(timestamps))*100)
				}
			}
		}(chunk)
	}

	wg.Wait()
	close(results)
	<-done

	if writeErr != nil {
		return written, fmt.Errorf("error writing to CSV: %w", writeErr)
	}
	writer.Flush()
	return written, writer.Error()
}

// deriveRows returns one CSV row per address generated at ts.
func deriveRows(ts uint64, kind prng.Kind, d *derive.Deriver) ([][]string, error) {
	var key [keygen.KeySize]byte
	keygen.Generate(kind, prng.SeedMaterial{Primary: ts}, ts, &key)

	cands, err := d.Derive(&key, nil)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(cands))
	for i := range cands {
		addr, err := cands[i].Address(d.Net())
		if err != nil {
			return nil, err
		}
		rows = append(rows, []string{
			strconv.FormatUint(ts, 10),
			kind.String(),
			cands[i].Path,
			addr.EncodeAddress(),
		})
	}
	return rows, nil
}

// Helper function to divide timestamps into chunks for workers
func chunkTimestamps(timestamps []uint64, numChunks int) [][]uint64 {
	chunks := make([][]uint64, 0, numChunks)
	chunkSize := (len(timestamps) + numChunks - 1) / numChunks
	for start := 0; start < len(timestamps); start += chunkSize {
		end := min(start+chunkSize, len(timestamps))
		chunks = append(chunks, timestamps[start:end])
	}
	return chunks
}

func readTimestampsFromFile(filename string) ([]uint64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var timestamps []uint64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ts, err := parseTimestamp(line)
		if err != nil {
			return nil, err
		}
		timestamps = append(timestamps, ts)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return timestamps, nil
}

func parseTimestamp(s string) (uint64, error) {
	if ms, err := strconv.ParseUint(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	return uint64(t.UnixMilli()), nil
}
