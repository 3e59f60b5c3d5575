package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/wille/randstorm/internal/telemetry"
)

func TestRenderPublishedSnapshot(t *testing.T) {
	color.NoColor = true

	body, err := json.Marshal(telemetry.Snapshot{
		Processed: 1234567,
		Matched:   1,
		Total:     2469134,
		Rate:      1000,
		ETA:       time.Hour + time.Minute + time.Second,
		Backend:   "accel:soft",
	})
	if err != nil {
		t.Fatal(err)
	}
	s, err := telemetry.Decode(body)
	if err != nil {
		t.Fatal(err)
	}

	line := render(s)
	for _, want := range []string{"50.00%", "1,234,567", "Matches: 1", "1h 1m 1s", "accel:soft"} {
		if !strings.Contains(line, want) {
			t.Errorf("%q does not contain %q", line, want)
		}
	}
}
