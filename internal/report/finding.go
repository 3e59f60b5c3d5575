// Package report defines verified findings and the sinks they are written to.
package report

import (
	"fmt"
	"strings"
	"time"
)

// Confidence grades how much a finding can be trusted.
type Confidence uint8

const (
	Low Confidence = iota
	Medium
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	}
	return fmt.Sprintf("Confidence(%d)", uint8(c))
}

func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Confidence) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "low":
		*c = Low
	case "medium":
		*c = Medium
	case "high":
		*c = High
	default:
		return fmt.Errorf("unknown confidence %q", b)
	}
	return nil
}

// Finding is a target address whose key was reproduced and cross-verified.
// It never carries key material.
type Finding struct {
	ScanID           string     `json:"scan_id,omitempty"`
	Address          string     `json:"address"`
	Confidence       Confidence `json:"confidence"`
	Fingerprint      string     `json:"fingerprint"`
	FingerprintIndex int        `json:"fingerprint_index"`
	TimestampMs      uint64     `json:"timestamp_ms"`
	Engine           string     `json:"engine"`
	Path             string     `json:"derivation_path"`
	BatchID          uint64     `json:"batch_id"`
}

// Time returns the candidate timestamp as a time.Time.
func (f *Finding) Time() time.Time {
	return time.UnixMilli(int64(f.TimestampMs)).UTC()
}

// Key identifies a finding for de-duplication.
func (f *Finding) Key() string {
	return fmt.Sprintf("%s|%s|%d|%d", f.Address, f.Path, f.FingerprintIndex, f.TimestampMs)
}

// OutputKey identifies a finding by the fields every output format carries.
func (f *Finding) OutputKey() string {
	return fmt.Sprintf("%s|%s|%s|%d", f.Address, f.Path, f.Fingerprint, f.TimestampMs)
}
