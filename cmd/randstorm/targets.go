package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/wille/randstorm/internal/derive"
)

// loadTargets loads the target addresses from a file. The file is either a
// plain list with one address per line or a CSV file whose header names an
// address column, such as the output of gen-targets.
func loadTargets(filename string, targets *derive.TargetSet) error {
	log.Printf("Loading target addresses from %s", filename)
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("error opening targets file: %w", err)
	}
	defer file.Close()

	skipped, err := readTargets(file, targets)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", filename, err)
	}
	if skipped > 0 {
		log.Print(color.YellowString("Skipped %d unsupported or malformed addresses in %s", skipped, filename))
	}

	log.Printf("Loaded %d target addresses from %s", targets.Len(), filename)
	return nil
}

func readTargets(r io.Reader, targets *derive.TargetSet) (skipped int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	column := 0
	first := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return skipped, nil
		}
		if err != nil {
			return skipped, err
		}

		if first {
			first = false
			if col := addressColumn(record); col >= 0 {
				column = col
				continue
			}
		}

		if column >= len(record) {
			skipped++
			continue
		}
		address := strings.TrimSpace(record[column])
		if address == "" {
			continue
		}
		if err := targets.Add(address); err != nil {
			log.Printf("Warning: Skipping target %q: %v", address, err)
			skipped++
		}
	}
}

// addressColumn returns the index of the address column of a header row, or
// -1 if record is not a header.
func addressColumn(record []string) int {
	for i, name := range record {
		if strings.EqualFold(strings.TrimSpace(name), "address") {
			return i
		}
	}
	return -1
}
