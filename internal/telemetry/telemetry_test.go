package telemetry

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSnapshotRateAndETA(t *testing.T) {
	c := NewCounters(1000)
	start := c.started
	c.AddBatch(100, 5, 1)
	c.AddBatch(400, 20, 0)

	s := c.Snapshot(start.Add(10 * time.Second))
	if s.Processed != 500 || s.Matched != 25 || s.Invalid != 1 || s.Batches != 2 {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.Percent() != 50 {
		t.Fatalf("percent = %v", s.Percent())
	}
	if s.Rate != 50 {
		t.Fatalf("rate = %v", s.Rate)
	}
	if s.ETA != 10*time.Second {
		t.Fatalf("eta = %v", s.ETA)
	}
}

func TestSnapshotWithoutProgress(t *testing.T) {
	c := NewCounters(1000)
	s := c.Snapshot(c.started)
	if s.Rate != 0 || s.ETA != 0 {
		t.Fatalf("rate %v eta %v", s.Rate, s.ETA)
	}
	if !strings.Contains(s.String(), "ETA: n/a") {
		t.Fatalf("line = %s", s.String())
	}
}

func TestResumeRateExcludesEarlierWork(t *testing.T) {
	c := NewCounters(10_000)
	c.Resume(5_000, 2)
	c.AddBatch(100, 0, 0)
	s := c.Snapshot(c.started.Add(time.Second))
	if s.Processed != 5_100 || s.Matched != 2 {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.Rate != 100 {
		t.Fatalf("rate = %v", s.Rate)
	}
}

func TestConcurrentAdds(t *testing.T) {
	c := NewCounters(0)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				c.AddBatch(1, 0, 0)
			}
		}()
	}
	wg.Wait()
	if c.Processed() != 8000 {
		t.Fatalf("processed = %d", c.Processed())
	}
}

func TestFormat(t *testing.T) {
	counts := map[uint64]string{
		0:          "0",
		999:        "999",
		1000:       "1,000",
		1234567:    "1,234,567",
		1000000000: "1,000,000,000",
	}
	for n, want := range counts {
		if got := FormatCount(n); got != want {
			t.Errorf("FormatCount(%d) = %s, want %s", n, got, want)
		}
	}

	durations := map[time.Duration]string{
		59 * time.Second:   "59s",
		61 * time.Second:   "1m 1s",
		3661 * time.Second: "1h 1m 1s",
		50 * time.Hour:     "50h 0m 0s",
	}
	for d, want := range durations {
		if got := FormatDuration(d); got != want {
			t.Errorf("FormatDuration(%v) = %s, want %s", d, got, want)
		}
	}
}

type recordSink struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recordSink) Report(s Snapshot) error {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
	return nil
}

func TestRunEmitsFinalSnapshot(t *testing.T) {
	c := NewCounters(10)
	c.AddBatch(10, 1, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sink recordSink
	Run(ctx, c, time.Hour, &sink)
	if len(sink.snaps) != 1 || sink.snaps[0].Processed != 10 {
		t.Fatalf("snapshots = %+v", sink.snaps)
	}

	body := []byte(`{"processed":10,"matched":1,"total":10,"rate":2.5,"backend":"cpu","future_field":true}`)
	s, err := Decode(body)
	if err != nil || s.Processed != 10 || s.Backend != "cpu" {
		t.Fatalf("decode = %+v, %v", s, err)
	}
}
