package telemetry

import (
	"fmt"
	"strconv"
	"time"
)

// FormatCount renders n with thousands separators.
func FormatCount(n uint64) string {
	s := strconv.FormatUint(n, 10)
	if len(s) <= 3 {
		return s
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// FormatDuration renders d as "1h 1m 1s", dropping leading zero units.
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	h, m, s := secs/3600, secs%3600/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	return fmt.Sprintf("%dm %ds", m, s)
}

// String is the one-line console form.
func (s Snapshot) String() string {
	eta := "n/a"
	if s.ETA > 0 {
		eta = FormatDuration(s.ETA)
	}
	return fmt.Sprintf("Progress: %.2f%% | Processed: %s | Matches: %d | Rate: %s keys/s | ETA: %s",
		s.Percent(), FormatCount(s.Processed), s.Matched, FormatCount(uint64(s.Rate)), eta)
}
