// Package fingerprint holds the browser environments a vulnerable wallet may
// have been generated in, and turns them into PRNG seed material.
package fingerprint

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/wille/randstorm/internal/prng"
)

// BrowserFingerprint describes a browser environment at wallet creation time.
// Values are treated as immutable once loaded.
type BrowserFingerprint struct {
	Priority       int     `yaml:"priority" json:"priority"`
	UserAgent      string  `yaml:"user_agent" json:"user_agent"`
	ScreenWidth    int     `yaml:"screen_width" json:"screen_width"`
	ScreenHeight   int     `yaml:"screen_height" json:"screen_height"`
	ColorDepth     int     `yaml:"color_depth" json:"color_depth"`
	TimezoneOffset int     `yaml:"timezone_offset" json:"timezone_offset"`
	Language       string  `yaml:"language" json:"language"`
	Platform       string  `yaml:"platform" json:"platform"`
	MarketShare    float64 `yaml:"market_share_estimate" json:"market_share_estimate"`
	YearMin        int     `yaml:"year_min" json:"year_min"`
	YearMax        int     `yaml:"year_max" json:"year_max"`

	// Engine pins the JavaScript engine. When empty it is inferred from the
	// user agent.
	Engine string `yaml:"engine,omitempty" json:"engine,omitempty"`
}

// Default returns the environment used when no database is configured.
func Default() BrowserFingerprint {
	return BrowserFingerprint{
		Priority:       1,
		UserAgent:      "Mozilla/5.0",
		ScreenWidth:    1920,
		ScreenHeight:   1080,
		ColorDepth:     24,
		TimezoneOffset: -420,
		Language:       "en-US",
		Platform:       "Win32",
		MarketShare:    1,
		YearMin:        2011,
		YearMax:        2015,
	}
}

// EngineKind returns the PRNG engine the browser would have used.
func (f *BrowserFingerprint) EngineKind() prng.Kind {
	if f.Engine != "" {
		if k, err := prng.ParseKind(f.Engine); err == nil {
			return k
		}
	}

	ua := f.UserAgent
	switch {
	case strings.Contains(ua, "MSIE"), strings.Contains(ua, "Trident/"), strings.Contains(ua, "Edge/"):
		return prng.ChakraMT
	case strings.Contains(ua, "Firefox/"):
		return prng.SpiderMonkeyLCG
	case strings.Contains(ua, "Chrome/"), strings.Contains(ua, "Chromium/"), strings.Contains(ua, "OPR/"):
		return prng.V8MWC1616
	case strings.Contains(ua, "Safari/"), strings.Contains(ua, "AppleWebKit/"):
		return prng.JSCXorshift128Plus
	}
	return prng.V8MWC1616
}

// Validity returns the half-open millisecond range [start, end) in which the
// fingerprint is plausible. A zero year leaves that side unbounded.
func (f *BrowserFingerprint) Validity() (start, end uint64) {
	end = ^uint64(0)
	if f.YearMin > 1970 {
		start = uint64(time.Date(f.YearMin, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli())
	}
	if f.YearMax >= 1970 && f.YearMax >= f.YearMin {
		end = uint64(time.Date(f.YearMax+1, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli())
	}
	return start, end
}

// Covers reports whether timestampMs falls in the validity range.
func (f *BrowserFingerprint) Covers(timestampMs uint64) bool {
	start, end := f.Validity()
	return timestampMs >= start && timestampMs < end
}

// canonical is the attribute encoding that feeds IDs, digests and mixing.
func (f *BrowserFingerprint) canonical() string {
	var b strings.Builder
	b.WriteString(f.UserAgent)
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(f.ScreenWidth))
	b.WriteByte('x')
	b.WriteString(strconv.Itoa(f.ScreenHeight))
	b.WriteByte('x')
	b.WriteString(strconv.Itoa(f.ColorDepth))
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(f.TimezoneOffset))
	b.WriteByte(0)
	b.WriteString(f.Language)
	b.WriteByte(0)
	b.WriteString(f.Platform)
	return b.String()
}

// ID is a short stable identifier for the fingerprint.
func (f *BrowserFingerprint) ID() string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(f.canonical()))
}

// Summary is the human readable form stored with findings.
func (f *BrowserFingerprint) Summary() string {
	return fmt.Sprintf("%s %dx%d/%d tz=%d %s %s [%s]",
		browserFamily(f.UserAgent), f.ScreenWidth, f.ScreenHeight, f.ColorDepth,
		f.TimezoneOffset, f.Language, f.Platform, f.ID()[:8])
}

func browserFamily(ua string) string {
	for _, token := range []string{"Edge/", "OPR/", "Chrome/", "Firefox/", "MSIE ", "Trident/", "Version/"} {
		i := strings.Index(ua, token)
		if i < 0 {
			continue
		}
		rest := ua[i+len(token):]
		if j := strings.IndexAny(rest, " ;)"); j >= 0 {
			rest = rest[:j]
		}
		name := strings.TrimRight(token, "/ ")
		if name == "Version" {
			name = "Safari"
		}
		return name + "/" + rest
	}
	if ua == "" {
		return "unknown"
	}
	if len(ua) > 24 {
		return ua[:24]
	}
	return ua
}
