package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Writer receives findings one at a time.
type Writer interface {
	Write(f Finding) error
	Close() error
}

var csvHeader = []string{
	"Address", "Status", "Confidence", "BrowserConfig", "Timestamp", "DerivationPath", "Engine",
}

// CSVWriter writes findings as CSV rows, flushing after each one.
type CSVWriter struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
}

// NewCSVWriter wraps w. The header is written unless skipHeader is set.
func NewCSVWriter(w io.Writer, skipHeader bool) (*CSVWriter, error) {
	cw := &CSVWriter{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		cw.closer = c
	}
	if !skipHeader {
		if err := cw.w.Write(csvHeader); err != nil {
			return nil, err
		}
		cw.w.Flush()
		if err := cw.w.Error(); err != nil {
			return nil, err
		}
	}
	return cw, nil
}

func (cw *CSVWriter) Write(f Finding) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	err := cw.w.Write([]string{
		f.Address,
		"VULNERABLE",
		strings.ToUpper(f.Confidence.String()),
		f.Fingerprint,
		strconv.FormatUint(f.TimestampMs, 10),
		f.Path,
		f.Engine,
	})
	if err != nil {
		return err
	}
	cw.w.Flush()
	return cw.w.Error()
}

func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.w.Flush()
	err := cw.w.Error()
	if cw.closer != nil {
		if cerr := cw.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// JSONWriter writes one JSON object per line.
type JSONWriter struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

func NewJSONWriter(w io.Writer) *JSONWriter {
	jw := &JSONWriter{enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		jw.closer = c
	}
	return jw
}

func (jw *JSONWriter) Write(f Finding) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.enc.Encode(f)
}

func (jw *JSONWriter) Close() error {
	if jw.closer != nil {
		return jw.closer.Close()
	}
	return nil
}

// Create opens path for findings in the given format ("csv" or "jsonl").
// With appendTo set an existing file is extended rather than truncated, which
// is what a resumed scan wants.
func Create(path, format string, appendTo bool) (Writer, error) {
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendTo {
		flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flag, 0o600)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(format) {
	case "", "csv":
		st, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, err
		}
		w, err := NewCSVWriter(file, st.Size() > 0)
		if err != nil {
			file.Close()
			return nil, err
		}
		return w, nil
	case "json", "jsonl":
		return NewJSONWriter(file), nil
	}
	file.Close()
	return nil, fmt.Errorf("unknown output format %q", format)
}

// Recorded returns the OutputKey of every finding already in the output file
// at path. A missing file yields an empty set.
func Recorded(path, format string) (map[string]bool, error) {
	keys := make(map[string]bool)
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return keys, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	switch strings.ToLower(format) {
	case "", "csv":
		r := csv.NewReader(file)
		r.FieldsPerRecord = -1
		for line := 1; ; line++ {
			row, err := r.Read()
			if err == io.EOF {
				return keys, nil
			}
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			if line == 1 && len(row) > 0 && row[0] == csvHeader[0] {
				continue
			}
			if len(row) < 6 {
				return nil, fmt.Errorf("%s:%d: expected %d columns, got %d", path, line, len(csvHeader), len(row))
			}
			ts, err := strconv.ParseUint(row[4], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: bad timestamp %q", path, line, row[4])
			}
			f := Finding{Address: row[0], Fingerprint: row[3], TimestampMs: ts, Path: row[5]}
			keys[f.OutputKey()] = true
		}
	case "json", "jsonl":
		sc := bufio.NewScanner(file)
		for line := 1; sc.Scan(); line++ {
			if len(strings.TrimSpace(sc.Text())) == 0 {
				continue
			}
			var f Finding
			if err := json.Unmarshal(sc.Bytes(), &f); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, err)
			}
			keys[f.OutputKey()] = true
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return keys, nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

// Memory collects findings in memory.
type Memory struct {
	mu       sync.Mutex
	Findings []Finding
}

func (m *Memory) Write(f Finding) error {
	m.mu.Lock()
	m.Findings = append(m.Findings, f)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
