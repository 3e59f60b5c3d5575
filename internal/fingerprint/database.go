package fingerprint

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

// ErrNoFingerprints is returned when a database yields no usable entries.
var ErrNoFingerprints = errors.New("fingerprint database is empty")

// Phase limits how much of a database is scanned.
type Phase int

const (
	PhaseOne   Phase = 1 // top 100
	PhaseTwo   Phase = 2 // top 500
	PhaseThree Phase = 3 // everything
)

// Limit returns the number of entries the phase covers, or -1 for all.
func (p Phase) Limit() int {
	switch p {
	case PhaseOne:
		return 100
	case PhaseTwo:
		return 500
	}
	return -1
}

// ParsePhase parses "1", "2", "3" or "one", "two", "three".
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "one":
		return PhaseOne, nil
	case "2", "two":
		return PhaseTwo, nil
	case "3", "three", "all":
		return PhaseThree, nil
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// Database is an ordered, read-only list of fingerprints.
type Database struct {
	list []BrowserFingerprint
}

// NewDatabase copies list and orders it by priority, then by market share.
func NewDatabase(list []BrowserFingerprint) *Database {
	db := &Database{list: append([]BrowserFingerprint(nil), list...)}
	sort.SliceStable(db.list, func(i, j int) bool {
		a, b := &db.list[i], &db.list[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.MarketShare > b.MarketShare
	})
	return db
}

// DefaultDatabase holds only the built-in fingerprint.
func DefaultDatabase() *Database {
	return NewDatabase([]BrowserFingerprint{Default()})
}

// Load reads a database from a .csv, .yaml or .yml file.
func Load(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var list []BrowserFingerprint
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		list, err = ReadYAML(f)
	default:
		list, err = ReadCSV(f)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoFingerprints)
	}
	return NewDatabase(list), nil
}

// ReadYAML decodes a YAML sequence of fingerprints.
func ReadYAML(r io.Reader) ([]BrowserFingerprint, error) {
	var list []BrowserFingerprint
	if err := yaml.NewDecoder(r).Decode(&list); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return list, nil
}

var csvColumns = []string{
	"priority", "user_agent", "screen_width", "screen_height", "color_depth",
	"timezone_offset", "language", "platform", "market_share_estimate",
	"year_min", "year_max",
}

// ReadCSV decodes a CSV file with a header row naming the columns. Every
// column except engine is required.
func ReadCSV(r io.Reader) ([]BrowserFingerprint, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range csvColumns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("missing column %q", c)
		}
	}
	engineCol, hasEngine := idx["engine"]

	var list []BrowserFingerprint
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)

		var fp BrowserFingerprint
		ints := []struct {
			col string
			dst *int
		}{
			{"priority", &fp.Priority},
			{"screen_width", &fp.ScreenWidth},
			{"screen_height", &fp.ScreenHeight},
			{"color_depth", &fp.ColorDepth},
			{"timezone_offset", &fp.TimezoneOffset},
			{"year_min", &fp.YearMin},
			{"year_max", &fp.YearMax},
		}
		for _, c := range ints {
			v, err := strconv.Atoi(strings.TrimSpace(rec[idx[c.col]]))
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %v", line, c.col, err)
			}
			*c.dst = v
		}
		fp.MarketShare, err = strconv.ParseFloat(strings.TrimSpace(rec[idx["market_share_estimate"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: market_share_estimate: %v", line, err)
		}
		fp.UserAgent = rec[idx["user_agent"]]
		fp.Language = strings.TrimSpace(rec[idx["language"]])
		fp.Platform = strings.TrimSpace(rec[idx["platform"]])
		if hasEngine {
			fp.Engine = strings.TrimSpace(rec[engineCol])
		}
		list = append(list, fp)
	}
	return list, nil
}

// Len returns the number of fingerprints.
func (db *Database) Len() int { return len(db.list) }

// All returns the full ordered list. Callers must not modify it.
func (db *Database) All() []BrowserFingerprint { return db.list }

// ForPhase returns the prefix of the database the phase covers.
func (db *Database) ForPhase(p Phase) []BrowserFingerprint {
	n := p.Limit()
	if n < 0 || n > len(db.list) {
		return db.list
	}
	return db.list[:n]
}

// CumulativeShare sums the market share of the first n entries.
func (db *Database) CumulativeShare(n int) float64 {
	var total float64
	for i := 0; i < n && i < len(db.list); i++ {
		total += db.list[i].MarketShare
	}
	return total
}

// Digest identifies an ordered fingerprint list. Checkpoints record it so a
// resumed scan can detect that the list changed underneath it.
func Digest(list []BrowserFingerprint) string {
	d := xxhash.New()
	for i := range list {
		d.WriteString(list[i].canonical())
		d.WriteString(strconv.Itoa(list[i].YearMin))
		d.WriteString(strconv.Itoa(list[i].YearMax))
		d.WriteString(list[i].Engine)
		d.Write([]byte{0xff})
	}
	return fmt.Sprintf("%016x", d.Sum64())
}
