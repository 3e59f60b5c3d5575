// Package scanner drives a scan: it pulls batches from the enumerator, runs
// them through the dispatcher, records verified findings and checkpoints
// progress.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/wille/randstorm/internal/checkpoint"
	"github.com/wille/randstorm/internal/compute"
	"github.com/wille/randstorm/internal/derive"
	"github.com/wille/randstorm/internal/enumerator"
	"github.com/wille/randstorm/internal/fingerprint"
	"github.com/wille/randstorm/internal/prng"
	"github.com/wille/randstorm/internal/report"
	"github.com/wille/randstorm/internal/telemetry"
)

// EngineAuto selects the engine from each fingerprint's user agent.
const EngineAuto = "auto"

var (
	ErrEmptyTargets = errors.New("target list is empty")
	ErrOutput       = errors.New("writing finding failed")
)

// Config describes one scan.
type Config struct {
	Fingerprints []fingerprint.BrowserFingerprint
	Engine       string
	Mode         enumerator.ScanMode
	Window       enumerator.Window
	Mixing       fingerprint.Mixing

	Deriver  *derive.Deriver
	Targets  *derive.TargetSet
	Dispatch compute.Options

	CheckpointPath     string
	CheckpointInterval time.Duration
	Resume             bool
}

// Summary describes how a scan ended.
type Summary struct {
	ScanID      string
	Backend     string
	Processed   uint64
	Invalid     uint64
	Findings    []report.Finding
	Resumed     bool
	Interrupted bool
	Elapsed     time.Duration
}

// Scanner runs a single scan. It is not safe for concurrent use.
type Scanner struct {
	cfg      Config
	kind     prng.Kind
	auto     bool
	digest   string
	enum     *enumerator.Enumerator
	disp     *compute.Dispatcher
	counters *telemetry.Counters
	sink     report.Writer
	saver    *checkpoint.Saver
	written  map[string]bool

	scanID    string
	createdAt time.Time
	resumed   bool
	committed enumerator.Position
	findings  []report.Finding
	seen      map[string]bool
	nextBatch uint64
	invalid   uint64
	batches   uint64

	// afterBatch runs after each batch is committed.
	afterBatch func(*compute.Result)
}

// New prepares a scan. With cfg.Resume set, a usable checkpoint restores
// the position; an unusable one is reported and the scan starts fresh.
// Callers check Resumed before opening the output.
func New(cfg Config, counters *telemetry.Counters) (*Scanner, error) {
	if cfg.Targets == nil || cfg.Targets.Len() == 0 {
		return nil, ErrEmptyTargets
	}
	if cfg.Deriver == nil {
		return nil, errors.New("no deriver configured")
	}
	if len(cfg.Fingerprints) == 0 {
		return nil, fingerprint.ErrNoFingerprints
	}

	s := &Scanner{
		cfg:       cfg,
		digest:    fingerprint.Digest(cfg.Fingerprints),
		saver:     checkpoint.NewSaver(cfg.CheckpointPath, cfg.CheckpointInterval),
		scanID:    uuid.NewString(),
		createdAt: time.Now().UTC(),
		seen:      make(map[string]bool),
	}

	if cfg.Engine == "" || strings.EqualFold(cfg.Engine, EngineAuto) {
		s.auto = true
		s.cfg.Engine = EngineAuto
	} else {
		k, err := prng.ParseKind(cfg.Engine)
		if err != nil {
			return nil, err
		}
		s.kind = k
		s.cfg.Engine = k.String()
	}

	var err error
	s.enum, err = enumerator.New(cfg.Fingerprints, cfg.Window, cfg.Mode)
	if err != nil {
		return nil, err
	}
	s.committed = s.enum.Position()

	if counters == nil {
		counters = telemetry.NewCounters(0)
	}
	s.counters = counters

	if cfg.Resume && cfg.CheckpointPath != "" {
		s.resume()
	}
	counters.SetTotal(s.enum.Total())

	s.disp, err = compute.NewDispatcher(cfg.Dispatch, cfg.Deriver, cfg.Targets, counters)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scanner) resume() {
	path := s.cfg.CheckpointPath
	st, err := checkpoint.Load(path)
	if err == nil {
		err = checkpoint.Compatible(path, st, s.state())
	}
	if err == nil {
		err = s.enum.Restore(st.Position)
	}
	if err != nil {
		if checkpoint.IsKind(err, checkpoint.NotFound) {
			log.Printf("No checkpoint at %s, starting a new scan", path)
		} else {
			log.Print(color.YellowString("Ignoring checkpoint: %v. Starting a new scan", err))
		}
		return
	}

	s.resumed = true
	s.scanID = st.ScanID
	s.createdAt = st.CreatedAt
	s.committed = st.Position
	s.findings = st.Findings
	for i := range s.findings {
		s.seen[s.findings[i].Key()] = true
	}
	s.invalid = st.Invalid
	s.batches = st.Batches
	s.nextBatch = st.Batches
	s.counters.Resume(st.Position.Processed, st.Position.Matched)
	log.Print(color.GreenString("Resuming scan %s at fingerprint %d, %s, %s candidates done",
		s.scanID, st.Position.FingerprintIndex,
		time.UnixMilli(int64(st.Position.Cursor.Current)).UTC().Format(time.DateTime),
		telemetry.FormatCount(st.Position.Processed)))
}

// state snapshots the committed progress.
func (s *Scanner) state() *checkpoint.State {
	return &checkpoint.State{
		ScanID:            s.scanID,
		CreatedAt:         s.createdAt,
		Engine:            s.cfg.Engine,
		Mode:              s.cfg.Mode,
		Window:            s.cfg.Window,
		Mixing:            s.cfg.Mixing,
		Families:          derive.FormatFamilies(s.cfg.Deriver.Families()),
		FingerprintDigest: s.digest,
		Position:          s.committed,
		Invalid:           s.invalid,
		Batches:           s.batches,
		Findings:          s.findings,
	}
}

// ScanID identifies the scan across resumes.
func (s *Scanner) ScanID() string { return s.scanID }

// Backend returns the name of the backend in use.
func (s *Scanner) Backend() string { return s.disp.Name() }

// Total is the size of the search space.
func (s *Scanner) Total() uint64 { return s.enum.Total() }

// Resumed reports whether New restored a checkpoint.
func (s *Scanner) Resumed() bool { return s.resumed }

// SkipWritten marks findings, by report.Finding.OutputKey, that are already in
// the output. A resumed scan re-verifies them but does not write them again.
func (s *Scanner) SkipWritten(keys map[string]bool) { s.written = keys }

// Position returns the last committed position.
func (s *Scanner) Position() enumerator.Position { return s.committed }

// Close releases the compute backend.
func (s *Scanner) Close() error { return s.disp.Close() }

func (s *Scanner) jobs(cands []enumerator.Candidate) []compute.Job {
	jobs := make([]compute.Job, len(cands))
	for i := range cands {
		c := &cands[i]
		kind := s.kind
		if s.auto {
			kind = c.Fingerprint.EngineKind()
		}
		jobs[i] = compute.Job{
			Kind:        kind,
			Seed:        fingerprint.DeriveSeed(c.Fingerprint, c.TimestampMs, kind, s.cfg.Mixing),
			TimestampMs: c.TimestampMs,
		}
	}
	return jobs
}

type inflight struct {
	batch *compute.Batch
	cands []enumerator.Candidate
	end   enumerator.Position
}

// Run scans until the search space is exhausted, ctx is cancelled or a
// fatal error occurs, writing each new finding to sink. On cancellation the
// batches already submitted are finished and committed, then a checkpoint is
// written.
func (s *Scanner) Run(ctx context.Context, sink report.Writer) (*Summary, error) {
	started := time.Now()
	s.sink = sink
	// in-flight work is drained even after ctx is cancelled
	work := context.WithoutCancel(ctx)

	var queue []inflight
	var runErr error
	for {
		stopping := ctx.Err() != nil
		for !stopping && len(queue) < s.disp.Depth() && !s.enum.Done() {
			cands := s.enum.NextBatch(s.disp.BatchSize())
			b := &compute.Batch{ID: s.nextBatch, Jobs: s.jobs(cands)}
			s.nextBatch++
			if err := s.disp.Submit(work, b); err != nil {
				runErr = err
				break
			}
			queue = append(queue, inflight{batch: b, cands: cands, end: s.enum.Position()})
		}
		if runErr != nil || len(queue) == 0 {
			break
		}

		res, err := s.disp.Next(work)
		if err != nil {
			runErr = err
			break
		}
		q := queue[0]
		queue = queue[1:]
		if err := s.commit(q, res); err != nil {
			runErr = err
			break
		}
		if s.afterBatch != nil {
			s.afterBatch(res)
		}

		if now := time.Now(); s.saver.Due(now) {
			if err := s.saver.Save(s.state(), now); err != nil {
				runErr = fmt.Errorf("write checkpoint: %w", err)
				break
			}
			slog.Debug("checkpoint written", "path", s.saver.Path, "processed", s.committed.Processed)
		}
	}

	if s.cfg.CheckpointPath != "" {
		if err := s.saver.Save(s.state(), time.Now()); err != nil {
			log.Print(color.RedString("Failed to write checkpoint %s: %v", s.cfg.CheckpointPath, err))
			if runErr == nil {
				runErr = fmt.Errorf("write checkpoint: %w", err)
			}
		}
	}

	sum := &Summary{
		ScanID:      s.scanID,
		Backend:     s.disp.Name(),
		Processed:   s.committed.Processed,
		Invalid:     s.invalid,
		Findings:    s.findings,
		Resumed:     s.resumed,
		Interrupted: runErr == nil && !s.enum.Done(),
		Elapsed:     time.Since(started),
	}
	if runErr != nil {
		return sum, runErr
	}

	if !sum.Interrupted && len(s.findings) == 0 && s.cfg.Mixing.Provisional() {
		log.Print(color.YellowString("No findings under %s seed mixing. That mixing rule has not been validated "+
			"against a known vulnerable wallet, so an empty result does not rule these wallets out.", s.cfg.Mixing))
	}
	return sum, nil
}

// commit turns the hits of a verified batch into findings and advances the
// committed position past it.
func (s *Scanner) commit(q inflight, res *compute.Result) error {
	for _, h := range res.Hits {
		c := &q.cands[h.Index]
		job := &q.batch.Jobs[h.Index]
		for _, m := range h.Matches {
			f := report.Finding{
				ScanID:           s.scanID,
				Address:          m.Address,
				Confidence:       derive.Confidence(m.Family, s.cfg.Mixing.Provisional()),
				Fingerprint:      c.Fingerprint.Summary(),
				FingerprintIndex: c.FingerprintIndex,
				TimestampMs:      c.TimestampMs,
				Engine:           job.Kind.String(),
				Path:             m.Path,
				BatchID:          res.BatchID,
			}
			if s.seen[f.Key()] {
				continue
			}
			// a finding written before an unclean exit is rediscovered
			// after resuming from the previous checkpoint
			if !s.written[f.OutputKey()] {
				if err := s.sink.Write(f); err != nil {
					return fmt.Errorf("%w: %v", ErrOutput, err)
				}
			}
			s.seen[f.Key()] = true
			s.findings = append(s.findings, f)
			log.Print(color.GreenString("FOUND %s via %s at %s (%s, confidence %s)",
				f.Address, f.Path, f.Time().Format(time.RFC3339Nano), f.Fingerprint, f.Confidence))
		}
	}

	s.committed = q.end
	s.committed.Matched = uint64(len(s.findings))
	s.invalid += uint64(res.Invalid)
	s.batches++
	return nil
}
