package enumerator

import (
	"errors"
	"testing"
	"time"

	"github.com/wille/randstorm/internal/fingerprint"
)

func twoFingerprints() []fingerprint.BrowserFingerprint {
	a := fingerprint.Default()
	b := fingerprint.Default()
	b.Platform = "MacIntel"
	return []fingerprint.BrowserFingerprint{a, b}
}

func TestOrdering(t *testing.T) {
	start := uint64(1389781850000)
	e, err := New(twoFingerprints(), Window{Start: start, End: start + 10*60_000}, Deep)
	if err != nil {
		t.Fatal(err)
	}
	if e.Total() != 20 {
		t.Fatalf("total = %d, want 20", e.Total())
	}

	var got []Candidate
	for _, want := range []int{7, 7, 6, 0} {
		b := e.NextBatch(7)
		if len(b) != want {
			t.Fatalf("batch len = %d, want %d", len(b), want)
		}
		got = append(got, b...)
	}
	if !e.Done() {
		t.Fatal("enumerator not done")
	}

	for i, c := range got {
		wantFP := i / 10
		wantTS := start + uint64(i%10)*60_000
		if c.FingerprintIndex != wantFP || c.TimestampMs != wantTS {
			t.Fatalf("candidate %d = (%d, %d), want (%d, %d)", i, c.FingerprintIndex, c.TimestampMs, wantFP, wantTS)
		}
		if c.Fingerprint == nil {
			t.Fatalf("candidate %d has no fingerprint", i)
		}
	}
	if p := e.Position(); p.Processed != 20 {
		t.Fatalf("processed = %d", p.Processed)
	}
}

func TestRestoreResumesExactly(t *testing.T) {
	start := uint64(1389781850000)
	w := Window{Start: start, End: start + 10*60_000}

	e1, _ := New(twoFingerprints(), w, Deep)
	e1.NextBatch(13)
	pos := e1.Position()
	if rem := e1.Remaining(); rem != 7 {
		t.Fatalf("remaining = %d, want 7", rem)
	}

	e2, _ := New(twoFingerprints(), w, Deep)
	if err := e2.Restore(pos); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if e2.Position() != pos {
		t.Fatalf("position = %+v, want %+v", e2.Position(), pos)
	}

	a, b := e1.NextBatch(100), e2.NextBatch(100)
	if len(a) != len(b) || len(a) != 7 {
		t.Fatalf("lens %d %d", len(a), len(b))
	}
	for i := range a {
		if a[i].FingerprintIndex != b[i].FingerprintIndex || a[i].TimestampMs != b[i].TimestampMs {
			t.Fatalf("divergence at %d", i)
		}
	}
}

func TestRestoreMismatch(t *testing.T) {
	w := Window{Start: 1389781850000, End: 1389781850000 + 3_600_000}
	e1, _ := New(twoFingerprints(), w, Deep)
	e1.NextBatch(3)

	e2, _ := New(twoFingerprints(), w, Standard)
	if err := e2.Restore(e1.Position()); !errors.Is(err, ErrPositionMismatch) {
		t.Fatalf("expected ErrPositionMismatch, got %v", err)
	}

	bad := e1.Position()
	bad.Cursor.Current += 1
	e3, _ := New(twoFingerprints(), w, Deep)
	if err := e3.Restore(bad); !errors.Is(err, ErrPositionMismatch) {
		t.Fatalf("expected misaligned cursor to be rejected, got %v", err)
	}
}

func TestModesAreNested(t *testing.T) {
	fps := twoFingerprints()[:1]
	w := Window{Start: 1389781850000, End: 1389781850000 + 3*24*3_600_000}

	var prev map[uint64]bool
	var prevCount uint64
	for _, m := range Modes()[:3] {
		e, err := New(fps, w, m)
		if err != nil {
			t.Fatal(err)
		}
		set := make(map[uint64]bool)
		for {
			b := e.NextBatch(4096)
			if len(b) == 0 {
				break
			}
			for _, c := range b {
				set[c.TimestampMs] = true
			}
		}
		if uint64(len(set)) != e.Total() {
			t.Fatalf("%s: yielded %d, total %d", m, len(set), e.Total())
		}
		if uint64(len(set)) <= prevCount {
			t.Fatalf("%s: %d candidates, not more than %d", m, len(set), prevCount)
		}
		for ts := range prev {
			if !set[ts] {
				t.Fatalf("%s misses timestamp %d of the sparser mode", m, ts)
			}
		}
		prev, prevCount = set, uint64(len(set))
	}
}

func TestEstimateMonotonic(t *testing.T) {
	est, err := EstimateAll(twoFingerprints(), DefaultWindow())
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(est); i++ {
		if est[i].Candidates <= est[i-1].Candidates {
			t.Fatalf("%s (%d) <= %s (%d)", est[i].Mode, est[i].Candidates, est[i-1].Mode, est[i-1].Candidates)
		}
	}
	// 128822399000 ms window, both fingerprints cover all of it
	if est[0].Candidates != 2*1023 {
		t.Fatalf("quick = %d", est[0].Candidates)
	}
	if d := est[0].ETA(1023); d != 2*time.Second {
		t.Fatalf("eta = %v", d)
	}
}

func TestValiditySkipsKeepGrid(t *testing.T) {
	fp := fingerprint.Default()
	fp.YearMin, fp.YearMax = 2013, 2013

	start := uint64(1356994800000) // 2012-12-31 23:00 UTC
	e, _ := New([]fingerprint.BrowserFingerprint{fp}, Window{Start: start, End: start + 3*3_600_000}, Standard)
	b := e.NextBatch(10)
	if len(b) != 2 || b[0].TimestampMs != start+3_600_000 || b[1].TimestampMs != start+2*3_600_000 {
		t.Fatalf("standard batch = %+v", b)
	}

	q, _ := New([]fingerprint.BrowserFingerprint{fp}, Window{Start: start, End: start + 3*126_000_000}, Quick)
	b = q.NextBatch(10)
	if len(b) != 2 || b[0].TimestampMs != start+126_000_000 {
		t.Fatalf("quick batch = %+v", b)
	}
}

func TestEmptyFingerprintRangeSkipped(t *testing.T) {
	old := fingerprint.Default()
	old.YearMin, old.YearMax = 2009, 2009
	fps := []fingerprint.BrowserFingerprint{old, fingerprint.Default()}

	start := uint64(1389781850000)
	e, _ := New(fps, Window{Start: start, End: start + 5_000}, Exhaustive)
	b := e.NextBatch(10)
	if len(b) != 5 || b[0].FingerprintIndex != 1 {
		t.Fatalf("batch = %+v", b)
	}
}

func TestNoFingerprintCap(t *testing.T) {
	fps := make([]fingerprint.BrowserFingerprint, 20_000)
	for i := range fps {
		fps[i] = fingerprint.Default()
		fps[i].Priority = i
	}
	start := uint64(1389781850000)
	e, _ := New(fps, Window{Start: start, End: start + 1}, Exhaustive)

	var n int
	for b := e.NextBatch(3000); len(b) > 0; b = e.NextBatch(3000) {
		n += len(b)
	}
	if n != len(fps) {
		t.Fatalf("yielded %d of %d", n, len(fps))
	}
}

func TestWindowHelpers(t *testing.T) {
	w := Around(1389781850000, time.Hour)
	if w.Start != 1389781850000-3_600_000 || w.End != 1389781850000+3_600_000 {
		t.Fatalf("around = %+v", w)
	}
	if Around(10, time.Second).Start != 0 {
		t.Fatal("start must saturate")
	}
	if err := (Window{Start: 5, End: 5}).Validate(); err == nil {
		t.Fatal("empty window accepted")
	}
	if _, err := New(twoFingerprints(), Window{Start: 5, End: 1}, Quick); err == nil {
		t.Fatal("New accepted empty window")
	}
	if m, err := ParseScanMode("Deep"); err != nil || m != Deep {
		t.Fatalf("ParseScanMode = %v, %v", m, err)
	}
}
