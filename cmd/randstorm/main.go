package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/wille/randstorm/internal/compute"
	"github.com/wille/randstorm/internal/compute/softdev"
	"github.com/wille/randstorm/internal/derive"
	"github.com/wille/randstorm/internal/enumerator"
	"github.com/wille/randstorm/internal/fingerprint"
	"github.com/wille/randstorm/internal/report"
	"github.com/wille/randstorm/internal/scanner"
	"github.com/wille/randstorm/internal/telemetry"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}

func main() {
	config, err := LoadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if config.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	fps, err := loadFingerprints(config)
	if err != nil {
		log.Fatalf("Error loading fingerprints: %v", err)
	}

	if config.Estimate {
		printEstimate(config, fps)
		return
	}

	if err := run(config, fps); err != nil {
		var pv *compute.ParityViolationError
		if errors.As(err, &pv) {
			log.Print(color.RedString("Scan aborted: the accelerated backend disagrees with the CPU reference. "+
				"Rerun with --backend cpu. %v", err))
			os.Exit(2)
		}
		log.Fatal(color.RedString("Scan failed: %v", err))
	}
}

// loadFingerprints returns the fingerprints of the configured phase, or the
// default fingerprint when no database is configured.
func loadFingerprints(config *Config) ([]fingerprint.BrowserFingerprint, error) {
	if config.FingerprintFile == "" {
		log.Printf("No fingerprint database configured, using the default fingerprint")
		return fingerprint.DefaultDatabase().All(), nil
	}

	db, err := fingerprint.Load(config.FingerprintFile)
	if err != nil {
		return nil, err
	}
	fps := db.ForPhase(config.phase)
	log.Printf("Loaded %d fingerprints from %s, using %d for phase %d (cumulative market share %.3f)",
		db.Len(), config.FingerprintFile, len(fps), config.phase, db.CumulativeShare(len(fps)))
	return fps, nil
}

func printEstimate(config *Config, fps []fingerprint.BrowserFingerprint) {
	estimates, err := enumerator.EstimateAll(fps, config.window)
	if err != nil {
		log.Fatalf("Error estimating: %v", err)
	}
	log.Printf("Window %s (%s), %d fingerprints, %s candidates/s",
		config.window, telemetry.FormatDuration(config.window.Duration()), len(fps),
		telemetry.FormatCount(uint64(config.EstimateRate)))
	for _, e := range estimates {
		log.Printf("\t%-10s %20s candidates\tETA %s",
			e.Mode, telemetry.FormatCount(e.Candidates), telemetry.FormatDuration(e.ETA(config.EstimateRate)))
	}
}

func run(config *Config, fps []fingerprint.BrowserFingerprint) error {
	targets := derive.NewTargetSet(config.network)
	if err := loadTargets(config.TargetFile, targets); err != nil {
		return err
	}
	if targets.Len() == 0 {
		return &ConfigError{"targets", scanner.ErrEmptyTargets}
	}
	if config.Bloom {
		targets.EnablePrefilter(config.BloomRate)
	}

	if config.SoftDevice {
		compute.RegisterDriver(softdev.Driver{Config: softdev.DefaultConfig()})
	}

	counters := telemetry.NewCounters(0)
	s, err := scanner.New(scanner.Config{
		Fingerprints: fps,
		Engine:       config.Engine,
		Mode:         config.mode,
		Window:       config.window,
		Mixing:       config.mixing,
		Deriver:      derive.NewDeriver(config.network, config.families, config.HDCount),
		Targets:      targets,
		Dispatch: compute.Options{
			Select:      config.Backend,
			Drivers:     compute.Drivers(),
			Workers:     config.Workers,
			BatchSize:   config.BatchSize,
			ParityEvery: config.ParityEvery,
		},
		CheckpointPath:     config.Checkpoint,
		CheckpointInterval: config.CheckpointInterval,
		Resume:             config.Resume,
	}, counters)
	if err != nil {
		return err
	}
	defer s.Close()

	sink, written, err := openOutput(config, s.Resumed())
	if err != nil {
		return err
	}
	defer sink.Close()
	s.SkipWritten(written)

	log.Printf("Scan %s: %s mode over %s, %d fingerprints, engine %s, %s mixing, paths %s, backend %s",
		s.ScanID(), config.mode, config.window, len(fps), config.Engine, config.mixing,
		derive.FormatFamilies(config.families), s.Backend())
	log.Printf("%s candidates to check against %d targets",
		telemetry.FormatCount(s.Total()), targets.Len())

	sinks, closeSinks := telemetrySinks(config, s.Total())
	defer closeSinks()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reportCtx, stopReporting := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		telemetry.Run(reportCtx, counters, config.ReportInterval, sinks...)
	}()

	summary, err := s.Run(ctx, sink)
	stopReporting()
	wg.Wait()
	if err != nil {
		return err
	}

	switch {
	case summary.Interrupted:
		log.Print(color.YellowString("Interrupted after %s candidates. Run again with --resume to continue",
			telemetry.FormatCount(summary.Processed)))
	case len(summary.Findings) > 0:
		log.Print(color.GreenString("Scan complete: %d vulnerable addresses written to %s",
			len(summary.Findings), config.Output))
	default:
		log.Printf("Scan complete: no vulnerable addresses found")
	}
	log.Printf("Checked %s candidates (%s invalid keys) in %s",
		telemetry.FormatCount(summary.Processed), telemetry.FormatCount(summary.Invalid),
		telemetry.FormatDuration(summary.Elapsed))
	return nil
}

// openOutput opens the findings file. A resumed scan appends to it and
// returns the findings it already holds; any other scan truncates it.
func openOutput(config *Config, resumed bool) (report.Writer, map[string]bool, error) {
	if !resumed {
		if config.Resume {
			if st, err := os.Stat(config.Output); err == nil && st.Size() > 0 {
				log.Print(color.YellowString("Warning: starting a new scan, overwriting %s", config.Output))
			}
		}
		sink, err := report.Create(config.Output, config.Format, false)
		return sink, nil, err
	}

	written, err := report.Recorded(config.Output, config.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("read existing output: %w", err)
	}
	sink, err := report.Create(config.Output, config.Format, true)
	if err != nil {
		return nil, nil, err
	}
	if len(written) > 0 {
		log.Printf("%d findings already in %s", len(written), config.Output)
	}
	return sink, written, nil
}

// telemetrySinks builds the configured progress sinks. ZMQ problems only
// disable publishing.
func telemetrySinks(config *Config, total uint64) ([]telemetry.Sink, func()) {
	sinks := []telemetry.Sink{telemetry.Console{}}
	var closers []func() error

	if config.ProgressBar {
		bar := telemetry.NewBar(total, os.Stderr)
		sinks = append(sinks, bar)
		closers = append(closers, bar.Close)
	}
	if config.ZMQ != "" {
		pub, err := telemetry.NewPublisher(config.ZMQ)
		if err != nil {
			log.Print(color.YellowString("Warning: progress publishing disabled: %v", err))
		} else {
			log.Printf("Publishing progress on %s", config.ZMQ)
			sinks = append(sinks, pub)
			closers = append(closers, pub.Close)
		}
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}
