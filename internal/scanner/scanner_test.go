package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/wille/randstorm/internal/checkpoint"
	"github.com/wille/randstorm/internal/compute"
	"github.com/wille/randstorm/internal/compute/softdev"
	"github.com/wille/randstorm/internal/derive"
	"github.com/wille/randstorm/internal/enumerator"
	"github.com/wille/randstorm/internal/fingerprint"
	"github.com/wille/randstorm/internal/report"
	"github.com/wille/randstorm/internal/telemetry"
)

const (
	knownTimestamp  = 1389781850000
	knownAddress    = "1PkbELkUwFRiZ4DgoU7aEMnobt6NQeSXyJ"
	knownCompressed = "1Q9Njxv7ioE2HM7Zijbe68xFgbmcbrPbyR"
	keyOneAddress   = "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH"
)

var network = &chaincfg.MainNetParams

// config scans 100 one-second steps around the known vector in batches of
// 16. The vector is candidate 50, in the fourth batch.
func config(t *testing.T, addrs ...string) Config {
	t.Helper()
	targets := derive.NewTargetSet(network)
	for _, a := range addrs {
		if err := targets.Add(a); err != nil {
			t.Fatal(err)
		}
	}
	return Config{
		Fingerprints: []fingerprint.BrowserFingerprint{fingerprint.Default()},
		Engine:       "v8",
		Mode:         enumerator.Exhaustive,
		Window:       enumerator.Around(knownTimestamp, 50*time.Second),
		Mixing:       fingerprint.MixTimestamp,
		Deriver:      derive.NewDeriver(network, []derive.Family{derive.Direct}, 1),
		Targets:      targets,
		Dispatch:     compute.Options{Select: compute.SelectCPU, Workers: 2, BatchSize: 16},
	}
}

func run(t *testing.T, cfg Config, sink report.Writer, ctx context.Context, hook func(*compute.Result)) *Summary {
	t.Helper()
	s, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.afterBatch = hook
	sum, err := s.Run(ctx, sink)
	if err != nil {
		t.Fatal(err)
	}
	return sum
}

func TestScanFindsKnownVector(t *testing.T) {
	cfg := config(t, knownAddress, knownCompressed)
	sink := &report.Memory{}
	sum := run(t, cfg, sink, context.Background(), nil)

	if sum.Interrupted || sum.Processed != 100 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(sink.Findings) != 2 {
		t.Fatalf("findings = %+v", sink.Findings)
	}
	f := sink.Findings[0]
	if f.Address != knownAddress || f.TimestampMs != knownTimestamp || f.Path != "direct/uncompressed" {
		t.Fatalf("finding = %+v", f)
	}
	if f.Confidence != report.High || f.Engine != "v8-mwc1616" || f.BatchID != 3 || f.ScanID != sum.ScanID {
		t.Fatalf("finding = %+v", f)
	}
	if sink.Findings[1].Address != knownCompressed {
		t.Fatalf("second finding = %+v", sink.Findings[1])
	}
}

func TestAutoEngineFollowsUserAgent(t *testing.T) {
	cfg := config(t, knownAddress)
	cfg.Engine = EngineAuto

	chrome := fingerprint.Default()
	chrome.UserAgent = "Mozilla/5.0 (Windows NT 6.1) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/32.0.1700.76 Safari/537.36"
	firefox := fingerprint.Default()
	firefox.UserAgent = "Mozilla/5.0 (Windows NT 6.1; rv:26.0) Gecko/20100101 Firefox/26.0"
	cfg.Fingerprints = []fingerprint.BrowserFingerprint{firefox, chrome}

	sink := &report.Memory{}
	run(t, cfg, sink, context.Background(), nil)

	// only the V8 fingerprint reproduces the key
	if len(sink.Findings) != 1 || sink.Findings[0].FingerprintIndex != 1 {
		t.Fatalf("findings = %+v", sink.Findings)
	}
}

func TestProvisionalMixingLowersConfidence(t *testing.T) {
	cfg := config(t, knownAddress)
	cfg.Mixing = fingerprint.MixFingerprint

	sink := &report.Memory{}
	sum := run(t, cfg, sink, context.Background(), nil)

	// the auxiliary seed changes the stream, so the vector is not reproduced
	if len(sink.Findings) != 0 || sum.Processed != 100 {
		t.Fatalf("summary = %+v, findings = %+v", sum, sink.Findings)
	}
	if got := derive.Confidence(derive.Direct, cfg.Mixing.Provisional()); got != report.Low {
		t.Fatalf("confidence = %s", got)
	}
}

func TestResumeMatchesUninterruptedScan(t *testing.T) {
	full := &report.Memory{}
	run(t, config(t, knownAddress), full, context.Background(), nil)

	for _, stopAfter := range []uint64{1, 3, 4, 6} {
		cfg := config(t, knownAddress)
		cfg.CheckpointPath = filepath.Join(t.TempDir(), "scan.checkpoint")
		cfg.CheckpointInterval = time.Hour
		cfg.Resume = true

		first := &report.Memory{}
		ctx, cancel := context.WithCancel(context.Background())
		var batches uint64
		sum := run(t, cfg, first, ctx, func(*compute.Result) {
			if batches++; batches == stopAfter {
				cancel()
			}
		})
		cancel()
		if !sum.Interrupted || sum.Processed != 16*stopAfter {
			t.Fatalf("stop after %d: summary = %+v", stopAfter, sum)
		}

		st, err := checkpoint.Load(cfg.CheckpointPath)
		if err != nil {
			t.Fatal(err)
		}
		if st.Position.Processed != 16*stopAfter || st.Batches != stopAfter {
			t.Fatalf("stop after %d: checkpoint position = %+v", stopAfter, st.Position)
		}

		second := &report.Memory{}
		sum2 := run(t, cfg, second, context.Background(), nil)
		if !sum2.Resumed || sum2.Interrupted || sum2.Processed != 100 || sum2.ScanID != sum.ScanID {
			t.Fatalf("stop after %d: resumed summary = %+v", stopAfter, sum2)
		}

		got := append(first.Findings, second.Findings...)
		if len(got) != len(full.Findings) {
			t.Fatalf("stop after %d: %d findings, want %d", stopAfter, len(got), len(full.Findings))
		}
		for i := range got {
			if got[i].Key() != full.Findings[i].Key() {
				t.Fatalf("stop after %d: finding %d = %+v, want %+v", stopAfter, i, got[i], full.Findings[i])
			}
		}
		if len(sum2.Findings) != len(full.Findings) {
			t.Fatalf("stop after %d: summary carries %d findings", stopAfter, len(sum2.Findings))
		}
	}
}

func TestResumeSkipsFindingsAlreadyWritten(t *testing.T) {
	full := &report.Memory{}
	run(t, config(t, knownAddress), full, context.Background(), nil)
	if len(full.Findings) != 1 {
		t.Fatalf("findings = %+v", full.Findings)
	}

	cfg := config(t, knownAddress)
	cfg.CheckpointPath = filepath.Join(t.TempDir(), "scan.checkpoint")
	cfg.CheckpointInterval = time.Hour
	cfg.Resume = true

	// the checkpoint stops short of the batch holding the vector, while the
	// output already has the finding
	ctx, cancel := context.WithCancel(context.Background())
	var batches int
	run(t, cfg, &report.Memory{}, ctx, func(*compute.Result) {
		if batches++; batches == 3 {
			cancel()
		}
	})
	cancel()

	s, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if !s.Resumed() {
		t.Fatal("checkpoint not restored")
	}
	s.SkipWritten(map[string]bool{full.Findings[0].OutputKey(): true})

	sink := &report.Memory{}
	sum, err := s.Run(context.Background(), sink)
	if err != nil {
		t.Fatal(err)
	}
	if len(sink.Findings) != 0 {
		t.Fatalf("finding written twice: %+v", sink.Findings)
	}
	if len(sum.Findings) != 1 || sum.Findings[0].Key() != full.Findings[0].Key() {
		t.Fatalf("summary findings = %+v", sum.Findings)
	}
}

func TestMatchedCountMatchesPosition(t *testing.T) {
	counters := telemetry.NewCounters(0)
	s, err := New(config(t, knownAddress, knownCompressed), counters)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	sink := &report.Memory{}
	if _, err := s.Run(context.Background(), sink); err != nil {
		t.Fatal(err)
	}
	snap := counters.Snapshot(time.Now())
	if len(sink.Findings) != 2 || s.Position().Matched != 2 || snap.Matched != 2 {
		t.Fatalf("findings %d, position %d, counters %d", len(sink.Findings), s.Position().Matched, snap.Matched)
	}
}

func TestCancelledBeforeStart(t *testing.T) {
	cfg := config(t, knownAddress)
	cfg.CheckpointPath = filepath.Join(t.TempDir(), "scan.checkpoint")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum := run(t, cfg, &report.Memory{}, ctx, nil)
	if !sum.Interrupted || sum.Processed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	st, err := checkpoint.Load(cfg.CheckpointPath)
	if err != nil {
		t.Fatal(err)
	}
	if st.Position.Processed != 0 || st.Engine != "v8-mwc1616" || st.Families != "direct" {
		t.Fatalf("checkpoint = %+v", st)
	}
}

func TestResumeIgnoresMismatchedCheckpoint(t *testing.T) {
	cfg := config(t, knownAddress)
	cfg.CheckpointPath = filepath.Join(t.TempDir(), "scan.checkpoint")
	cfg.Resume = true

	ctx, cancel := context.WithCancel(context.Background())
	run(t, cfg, &report.Memory{}, ctx, func(*compute.Result) { cancel() })
	cancel()

	cfg.Mode = enumerator.Deep
	s, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Resumed() || s.Position().Processed != 0 {
		t.Fatalf("resumed from a checkpoint of another mode: %+v", s.Position())
	}
}

func TestResumeIgnoresCorruptCheckpoint(t *testing.T) {
	cfg := config(t, knownAddress)
	cfg.CheckpointPath = filepath.Join(t.TempDir(), "scan.checkpoint")
	cfg.Resume = true
	if err := os.WriteFile(cfg.CheckpointPath, []byte("{\"format\": \"randstorm-checkpoint\", \"vers"), 0o600); err != nil {
		t.Fatal(err)
	}

	sink := &report.Memory{}
	sum := run(t, cfg, sink, context.Background(), nil)
	if sum.Resumed || sum.Processed != 100 || len(sink.Findings) != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestAcceleratedDrainsInFlightBatch(t *testing.T) {
	cfg := config(t, knownAddress)
	cfg.Dispatch = compute.Options{
		Select:      compute.SelectAccel,
		Drivers:     []compute.Driver{softdev.Driver{Config: softdev.Config{ComputeUnits: 2, MaxWorkGroupSize: 4}}},
		Workers:     2,
		BatchSize:   16,
		ParityEvery: 1,
	}
	cfg.CheckpointPath = filepath.Join(t.TempDir(), "scan.checkpoint")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Backend() != "accel:soft" {
		t.Fatalf("backend = %s", s.Backend())
	}
	s.afterBatch = func(*compute.Result) { cancel() }

	sum, err := s.Run(ctx, &report.Memory{})
	if err != nil {
		t.Fatal(err)
	}
	// the second batch was already on the device and is finished
	if !sum.Interrupted || sum.Processed != 32 {
		t.Fatalf("summary = %+v", sum)
	}
	st, err := checkpoint.Load(cfg.CheckpointPath)
	if err != nil {
		t.Fatal(err)
	}
	if st.Position.Processed != 32 {
		t.Fatalf("checkpoint position = %+v", st.Position)
	}
}

func TestAcceleratedScanMatchesCPU(t *testing.T) {
	cpu := &report.Memory{}
	run(t, config(t, knownAddress), cpu, context.Background(), nil)

	cfg := config(t, knownAddress)
	cfg.Dispatch = compute.Options{
		Select:    compute.SelectAccel,
		Drivers:   []compute.Driver{softdev.Driver{Config: softdev.Config{ComputeUnits: 2, MaxWorkGroupSize: 4}}},
		Workers:   2,
		BatchSize: 16,
	}
	accel := &report.Memory{}
	run(t, cfg, accel, context.Background(), nil)

	if len(accel.Findings) != len(cpu.Findings) || accel.Findings[0].Key() != cpu.Findings[0].Key() {
		t.Fatalf("accel findings %+v, cpu findings %+v", accel.Findings, cpu.Findings)
	}
}

// lyingDevice reports private key 1 for one item of every batch.
type lyingDevice struct {
	compute.Device
}

func (d *lyingDevice) Download(dst []uint32, src compute.Buffer) error {
	if err := d.Device.Download(dst, src); err != nil {
		return err
	}
	w := dst[2*compute.KeyWords : 3*compute.KeyWords]
	clear(w)
	w[compute.KeyWords-1] = 1
	return nil
}

type lyingDriver struct{}

func (lyingDriver) Name() string { return "lying" }

func (lyingDriver) Devices() ([]compute.Device, error) {
	return []compute.Device{&lyingDevice{Device: softdev.New(softdev.Config{})}}, nil
}

func TestParityViolationStopsScan(t *testing.T) {
	cfg := config(t, keyOneAddress)
	cfg.Dispatch = compute.Options{
		Select:    compute.SelectAccel,
		Drivers:   []compute.Driver{lyingDriver{}},
		Workers:   2,
		BatchSize: 16,
	}
	cfg.CheckpointPath = filepath.Join(t.TempDir(), "scan.checkpoint")

	sink := &report.Memory{}
	s, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	sum, err := s.Run(context.Background(), sink)
	var pv *compute.ParityViolationError
	if !errors.As(err, &pv) || pv.BatchID != 0 || pv.CandidateIndex != 2 {
		t.Fatalf("expected parity violation in batch 0, got %v", err)
	}
	if len(sink.Findings) != 0 || sum.Processed != 0 {
		t.Fatalf("findings = %+v, summary = %+v", sink.Findings, sum)
	}
	st, err := checkpoint.Load(cfg.CheckpointPath)
	if err != nil {
		t.Fatal(err)
	}
	if st.Position.Processed != 0 || len(st.Findings) != 0 {
		t.Fatalf("checkpoint = %+v", st)
	}
}

type failingWriter struct{}

func (failingWriter) Write(report.Finding) error { return errors.New("disk full") }
func (failingWriter) Close() error               { return nil }

func TestOutputFailureIsFatal(t *testing.T) {
	s, err := New(config(t, knownAddress), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Run(context.Background(), failingWriter{}); !errors.Is(err, ErrOutput) {
		t.Fatalf("expected output error, got %v", err)
	}
}

func TestNewRejectsEmptyInputs(t *testing.T) {
	cfg := config(t)
	if _, err := New(cfg, nil); !errors.Is(err, ErrEmptyTargets) {
		t.Fatalf("empty targets: %v", err)
	}
	cfg = config(t, knownAddress)
	cfg.Fingerprints = nil
	if _, err := New(cfg, nil); !errors.Is(err, fingerprint.ErrNoFingerprints) {
		t.Fatalf("no fingerprints: %v", err)
	}
	cfg = config(t, knownAddress)
	cfg.Engine = "netscape"
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("unknown engine accepted")
	}
}
