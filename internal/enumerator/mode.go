// Package enumerator walks the fingerprint x timestamp search space in a
// fixed, resumable order.
package enumerator

import (
	"fmt"
	"strings"
	"time"
)

// ScanMode selects the timestamp sampling density.
type ScanMode uint8

const (
	Quick ScanMode = iota
	Standard
	Deep
	Exhaustive
)

// Sampling intervals in milliseconds. Each divides the one above it, so a
// denser mode visits every timestamp of a sparser one.
var intervals = [...]uint64{
	Quick:      126_000_000,
	Standard:   3_600_000,
	Deep:       60_000,
	Exhaustive: 1_000,
}

var modeNames = [...]string{
	Quick:      "quick",
	Standard:   "standard",
	Deep:       "deep",
	Exhaustive: "exhaustive",
}

// Modes returns every scan mode from coarsest to finest.
func Modes() []ScanMode {
	return []ScanMode{Quick, Standard, Deep, Exhaustive}
}

// Interval returns the step between sampled timestamps in milliseconds.
func (m ScanMode) Interval() uint64 {
	if int(m) >= len(intervals) {
		return 0
	}
	return intervals[m]
}

func (m ScanMode) String() string {
	if int(m) >= len(modeNames) {
		return fmt.Sprintf("ScanMode(%d)", uint8(m))
	}
	return modeNames[m]
}

// ParseScanMode parses a mode name, case-insensitively.
func ParseScanMode(s string) (ScanMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range modeNames {
		if s == name {
			return ScanMode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown scan mode %q", s)
}

func (m ScanMode) MarshalText() ([]byte, error) {
	if m.Interval() == 0 {
		return nil, fmt.Errorf("invalid scan mode %d", uint8(m))
	}
	return []byte(m.String()), nil
}

func (m *ScanMode) UnmarshalText(b []byte) error {
	v, err := ParseScanMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Window is a half-open millisecond range [Start, End).
type Window struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// DefaultWindow covers June 2011 through June 2015, when the vulnerable
// library versions were in circulation.
func DefaultWindow() Window {
	return Window{
		Start: 1306886400000, // 2011-06-01 00:00:00 UTC
		End:   1435708799000, // 2015-06-30 23:59:59 UTC
	}
}

// Around builds a window of the given radius on both sides of center. The
// lower bound saturates at zero.
func Around(centerMs uint64, radius time.Duration) Window {
	r := uint64(radius.Milliseconds())
	w := Window{End: centerMs + r}
	if centerMs > r {
		w.Start = centerMs - r
	}
	return w
}

// Validate checks that the window is non-empty.
func (w Window) Validate() error {
	if w.End <= w.Start {
		return fmt.Errorf("window end %d must be after start %d", w.End, w.Start)
	}
	return nil
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return time.Duration(w.End-w.Start) * time.Millisecond
}

func (w Window) String() string {
	return fmt.Sprintf("%s .. %s",
		time.UnixMilli(int64(w.Start)).UTC().Format(time.DateTime),
		time.UnixMilli(int64(w.End)).UTC().Format(time.DateTime))
}
