package main

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/wille/randstorm/internal/derive"
)

func TestReadTargetsPlainList(t *testing.T) {
	in := strings.Join([]string{
		"# known vector",
		"1PkbELkUwFRiZ4DgoU7aEMnobt6NQeSXyJ",
		"",
		"bc1qj0l78glkuk0l6dn3apvzfjdfzqgh0lrkpts3rl",
		"mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn",
		"not an address",
	}, "\n")

	targets := derive.NewTargetSet(&chaincfg.MainNetParams)
	skipped, err := readTargets(strings.NewReader(in), targets)
	if err != nil {
		t.Fatal(err)
	}
	if targets.Len() != 2 || skipped != 2 {
		t.Fatalf("loaded %d, skipped %d", targets.Len(), skipped)
	}
}

func TestReadTargetsCSV(t *testing.T) {
	in := "Timestamp,Engine,Path,Address\n" +
		"1389781850000,v8-mwc1616,direct/uncompressed,1PkbELkUwFRiZ4DgoU7aEMnobt6NQeSXyJ\n" +
		"1389781850000,v8-mwc1616,direct/compressed,1Q9Njxv7ioE2HM7Zijbe68xFgbmcbrPbyR\n" +
		"1389781850000,v8-mwc1616,direct/compressed\n"

	targets := derive.NewTargetSet(&chaincfg.MainNetParams)
	skipped, err := readTargets(strings.NewReader(in), targets)
	if err != nil {
		t.Fatal(err)
	}
	if targets.Len() != 2 || skipped != 1 {
		t.Fatalf("loaded %d, skipped %d", targets.Len(), skipped)
	}
}
