// Package checkpoint persists scan progress so a scan can resume where it
// stopped. Files are replaced atomically and verified on load.
package checkpoint

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/wille/randstorm/internal/enumerator"
	"github.com/wille/randstorm/internal/fingerprint"
	"github.com/wille/randstorm/internal/report"
)

const (
	// Format tags checkpoint files.
	Format = "randstorm-checkpoint"
	// Version is the newest file version this build writes and reads.
	Version = 1
)

// State is everything a resumed scan needs.
type State struct {
	ScanID            string              `json:"scan_id"`
	CreatedAt         time.Time           `json:"created_at"`
	Engine            string              `json:"engine"`
	Mode              enumerator.ScanMode `json:"mode"`
	Window            enumerator.Window   `json:"window"`
	Mixing            fingerprint.Mixing  `json:"mixing"`
	Families          string              `json:"families"`
	FingerprintDigest string              `json:"fingerprint_digest"`
	Position          enumerator.Position `json:"position"`
	Invalid           uint64              `json:"invalid"`
	Batches           uint64              `json:"batches"`
	Findings          []report.Finding    `json:"findings"`
}

type envelope struct {
	Format   string          `json:"format"`
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	State    json.RawMessage `json:"state"`
}

// Kind classifies load failures.
type Kind int

const (
	NotFound Kind = iota + 1
	Truncated
	Corrupt
	Checksum
	UnsupportedVersion
	Mismatch
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case Truncated:
		return "truncated"
	case Corrupt:
		return "corrupt"
	case Checksum:
		return "checksum mismatch"
	case UnsupportedVersion:
		return "unsupported version"
	case Mismatch:
		return "different scan"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is returned for every checkpoint that cannot be used.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("checkpoint %s: %s: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("checkpoint %s: %s", e.Path, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a checkpoint error of kind k.
func IsKind(err error, k Kind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == k
}

func checksum(state []byte) (string, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, state); err != nil {
		return "", err
	}
	return hex.EncodeToString(chainhash.DoubleHashB(compact.Bytes())), nil
}

// Save writes st to path. The previous file, if any, stays intact until the
// new one is fully on disk.
func Save(path string, st *State) error {
	body, err := json.Marshal(st)
	if err != nil {
		return err
	}
	sum, err := checksum(body)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(envelope{
		Format:   Format,
		Version:  Version,
		Checksum: sum,
		State:    body,
	}, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	// best effort: make the rename itself durable
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

// Load reads and verifies the checkpoint at path. Every failure is an
// *Error.
func Load(path string) (*State, error) {
	fail := func(k Kind, err error) (*State, error) {
		return nil, &Error{Kind: k, Path: path, Err: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fail(NotFound, nil)
		}
		return fail(Corrupt, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fail(Truncated, errors.New("empty file"))
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) && int(syntax.Offset) >= len(bytes.TrimRight(data, " \t\r\n")) {
			return fail(Truncated, err)
		}
		return fail(Corrupt, err)
	}
	if env.Format != Format {
		return fail(Corrupt, fmt.Errorf("format %q", env.Format))
	}
	if env.Version < 1 || env.Version > Version {
		return fail(UnsupportedVersion, fmt.Errorf("version %d, this build reads up to %d", env.Version, Version))
	}
	if len(env.State) == 0 {
		return fail(Corrupt, errors.New("missing state"))
	}
	sum, err := checksum(env.State)
	if err != nil {
		return fail(Corrupt, err)
	}
	if sum != env.Checksum {
		return fail(Checksum, fmt.Errorf("recorded %s, computed %s", env.Checksum, sum))
	}

	var st State
	if err := json.Unmarshal(env.State, &st); err != nil {
		return fail(Corrupt, err)
	}
	return &st, nil
}

// Compatible checks that st was written by a scan over the same search
// space as want.
func Compatible(path string, st, want *State) error {
	var diffs []string
	if st.Engine != want.Engine {
		diffs = append(diffs, fmt.Sprintf("engine %s != %s", st.Engine, want.Engine))
	}
	if st.Mode != want.Mode {
		diffs = append(diffs, fmt.Sprintf("mode %s != %s", st.Mode, want.Mode))
	}
	if st.Window != want.Window {
		diffs = append(diffs, fmt.Sprintf("window %s != %s", st.Window, want.Window))
	}
	if st.Mixing != want.Mixing {
		diffs = append(diffs, fmt.Sprintf("mixing %s != %s", st.Mixing, want.Mixing))
	}
	if st.Families != want.Families {
		diffs = append(diffs, fmt.Sprintf("families %s != %s", st.Families, want.Families))
	}
	if st.FingerprintDigest != want.FingerprintDigest {
		diffs = append(diffs, "fingerprint database changed")
	}
	if len(diffs) > 0 {
		return &Error{Kind: Mismatch, Path: path, Err: fmt.Errorf("%v", diffs)}
	}
	return nil
}
