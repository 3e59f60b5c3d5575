package main

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/wille/randstorm/internal/derive"
	"github.com/wille/randstorm/internal/prng"
)

func TestDeriveRowsKnownTimestamp(t *testing.T) {
	d := derive.NewDeriver(&chaincfg.MainNetParams, []derive.Family{derive.Direct, derive.BIP84, derive.BIP86}, 2)
	rows, err := deriveRows(1389781850000, prng.V8MWC1616, d)
	if err != nil {
		t.Fatalf("error deriving addresses: %v", err)
	}

	want := [][2]string{
		{"direct/uncompressed", "1PkbELkUwFRiZ4DgoU7aEMnobt6NQeSXyJ"},
		{"direct/compressed", "1Q9Njxv7ioE2HM7Zijbe68xFgbmcbrPbyR"},
		{"m/84'/0'/0'/0/0", "bc1qj0l78glkuk0l6dn3apvzfjdfzqgh0lrkpts3rl"},
		{"m/84'/0'/0'/0/1", "bc1qej9vav375trlgyay8pepgw5wxxnzds98kdn09s"},
		{"m/86'/0'/0'/0/0", "bc1ptwd8znd3ukug6e0rzcta9m33zj9g56cugn7nru8n58m25mkldk2q2x4u2e"},
		{"m/86'/0'/0'/0/1", "bc1p4u63kksf223zav8k3gyq752x64e3q6560g5cxw5eqw5m5h4vjcwss3fpz9"},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d", len(rows), len(want))
	}
	for i, w := range want {
		if rows[i][0] != "1389781850000" || rows[i][1] != "v8-mwc1616" {
			t.Errorf("row %d = %v", i, rows[i])
		}
		if rows[i][2] != w[0] || rows[i][3] != w[1] {
			t.Errorf("row %d: %s %s, want %s %s", i, rows[i][2], rows[i][3], w[0], w[1])
		}
	}
}

func TestGenerateWritesEveryAddress(t *testing.T) {
	d := derive.NewDeriver(&chaincfg.MainNetParams, []derive.Family{derive.Direct}, 1)
	timestamps := []uint64{1389781850000, 1365000000000, 1400000000000, 1300000000000, 1420000000000}

	var buf bytes.Buffer
	n, err := generate(&buf, timestamps, prng.V8MWC1616, d, 3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2*len(timestamps) {
		t.Fatalf("wrote %d addresses", n)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != n+1 || records[0][3] != "Address" {
		t.Fatalf("records = %v", records)
	}
	var found bool
	for _, r := range records[1:] {
		if r[3] == "1PkbELkUwFRiZ4DgoU7aEMnobt6NQeSXyJ" {
			found = true
		}
	}
	if !found {
		t.Fatal("known vector address missing")
	}
}

func TestChunkTimestamps(t *testing.T) {
	ts := []uint64{1, 2, 3, 4, 5}
	chunks := chunkTimestamps(ts, 2)
	if len(chunks) != 2 || len(chunks[0]) != 3 || len(chunks[1]) != 2 {
		t.Fatalf("chunks = %v", chunks)
	}
	if len(chunkTimestamps(nil, 4)) != 0 {
		t.Fatal("chunks for no timestamps")
	}
}

func TestParseTimestamp(t *testing.T) {
	for in, want := range map[string]uint64{
		"1389781850000":            1389781850000,
		"2014-01-15T10:30:50Z":     1389781850000,
		"2014-01-15T10:30:50.000Z": 1389781850000,
	} {
		got, err := parseTimestamp(in)
		if err != nil || got != want {
			t.Errorf("parseTimestamp(%q) = %d, %v", in, got, err)
		}
	}
	if _, err := parseTimestamp("soon"); err == nil {
		t.Error("accepted garbage")
	}
}
