package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jessevdk/go-flags"

	"github.com/wille/randstorm/internal/compute"
	"github.com/wille/randstorm/internal/derive"
	"github.com/wille/randstorm/internal/enumerator"
	"github.com/wille/randstorm/internal/fingerprint"
	"github.com/wille/randstorm/internal/prng"
	"github.com/wille/randstorm/internal/scanner"
)

const defaultConfigFile = "randstorm.conf"

// Config holds the application configuration
type Config struct {
	ConfigFile string `short:"f" long:"config" description:"The path to the configuration file" default:"randstorm.conf"`

	TargetFile string `short:"t" long:"targets" description:"File with the target addresses, one per line or CSV with an address column"`
	Chain      string `short:"c" long:"chain" description:"The chain the targets belong to (mainnet, testnet3, signet, regtest)" default:"mainnet"`

	// Search space
	FingerprintFile string        `long:"fingerprints" description:"Fingerprint database (CSV or YAML). A single default fingerprint is used when empty"`
	Phase           string        `long:"phase" description:"Fingerprint phase (1 = top 100, 2 = top 500, 3 = all)" default:"1"`
	Engine          string        `short:"e" long:"engine" description:"PRNG engine (v8, spidermonkey, jsc, chakra) or auto to follow each fingerprint" default:"auto"`
	Mode            string        `short:"m" long:"mode" description:"Scan mode (quick, standard, deep, exhaustive)" default:"standard"`
	Start           string        `long:"start" description:"Window start as a date, RFC 3339 time or unix milliseconds" default:"2011-06-01"`
	End             string        `long:"end" description:"Window end (exclusive) as a date, RFC 3339 time or unix milliseconds" default:"2015-06-30T23:59:59Z"`
	Around          uint64        `long:"around" description:"Scan a window centred on this unix millisecond timestamp instead of start/end"`
	Radius          time.Duration `long:"radius" description:"Half width of the --around window" default:"24h"`
	Mixing          string        `long:"mixing" description:"Seed mixing (timestamp, fingerprint)" default:"timestamp"`
	Paths           string        `short:"p" long:"paths" description:"Derivation path families (direct, bip32, bip44, bip49, bip84, bip86 or all)" default:"direct"`
	HDCount         uint32        `long:"hd-count" description:"Receive indexes tried per HD path family" default:"1"`

	// Compute
	Backend     string  `short:"b" long:"backend" description:"Compute backend (auto, cpu, accel)" default:"auto"`
	SoftDevice  bool    `long:"soft-device" description:"Register the software compute device for the accelerated backend"`
	BatchSize   int     `long:"batch-size" description:"Candidates per batch. 0 picks a size for the backend"`
	Workers     int     `short:"w" long:"workers" description:"Worker goroutines. 0 uses every CPU"`
	ParityEvery int     `long:"parity-every" description:"Compare every k-th accelerated key with the CPU reference. 0 checks the first key of each batch"`
	Bloom       bool    `long:"bloom" description:"Put a Bloom prefilter in front of the target lookup"`
	BloomRate   float64 `long:"bloom-rate" description:"False positive rate of the Bloom prefilter" default:"0.001"`

	// Checkpointing and output
	Checkpoint         string        `long:"checkpoint" description:"Checkpoint file. Empty disables checkpointing" default:"randstorm.checkpoint"`
	CheckpointInterval time.Duration `long:"checkpoint-interval" description:"Minimum time between periodic checkpoints" default:"1m"`
	Resume             bool          `short:"r" long:"resume" description:"Resume from the checkpoint file"`
	Output             string        `short:"o" long:"output" description:"File the findings are written to" default:"findings.csv"`
	Format             string        `long:"format" description:"Output format (csv, jsonl). Inferred from the output file name when empty"`

	// Telemetry
	ZMQ            string        `short:"z" long:"zmq" description:"ZMQ endpoint to publish progress snapshots on, e.g. tcp://127.0.0.1:18504"`
	ProgressBar    bool          `long:"progress" description:"Draw a progress bar"`
	ReportInterval time.Duration `long:"report-interval" description:"Time between progress lines" default:"10s"`
	Debug          bool          `short:"v" long:"debug" description:"Log per batch diagnostics"`

	Estimate     bool    `long:"estimate" description:"Print the candidate count and ETA of every scan mode and exit"`
	EstimateRate float64 `long:"rate" description:"Candidates per second assumed by --estimate" default:"1000000"`

	network  *chaincfg.Params
	phase    fingerprint.Phase
	mode     enumerator.ScanMode
	window   enumerator.Window
	mixing   fingerprint.Mixing
	families []derive.Family
}

// ConfigError is an invalid option. The scan never starts when one is
// returned.
type ConfigError struct {
	Option string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Option, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// LoadConfig loads the configuration from the configuration file and the
// command line
func LoadConfig() (*Config, error) {
	configFile := defaultConfigFile
	if f := os.Getenv("CONFIG"); f != "" {
		configFile = f
	}

	cfg, err := parseConfig(configFile, os.Args[1:])
	var ferr *flags.Error
	if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
		os.Exit(0)
	}
	return cfg, err
}

func parseConfig(configFile string, args []string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default)

	// -f on the command line names another configuration file
	for i, a := range args {
		switch {
		case (a == "-f" || a == "--config") && i+1 < len(args):
			configFile = args[i+1]
		case strings.HasPrefix(a, "--config="):
			configFile = strings.TrimPrefix(a, "--config=")
		}
	}

	err := flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			parser.WriteHelp(os.Stderr)
			return nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate decodes every option and checks they fit together
func (c *Config) validate() error {
	switch c.Chain {
	case "", "mainnet":
		c.network = &chaincfg.MainNetParams
	case "testnet3":
		c.network = &chaincfg.TestNet3Params
	case "signet":
		c.network = &chaincfg.SigNetParams
	case "regtest":
		c.network = &chaincfg.RegressionNetParams
	default:
		return &ConfigError{"chain", fmt.Errorf("unknown chain %q", c.Chain)}
	}

	var err error
	if c.phase, err = fingerprint.ParsePhase(c.Phase); err != nil {
		return &ConfigError{"phase", err}
	}
	if !strings.EqualFold(c.Engine, scanner.EngineAuto) {
		if _, err := prng.ParseKind(c.Engine); err != nil {
			return &ConfigError{"engine", err}
		}
	}
	if c.mode, err = enumerator.ParseScanMode(c.Mode); err != nil {
		return &ConfigError{"mode", err}
	}
	if c.mixing, err = fingerprint.ParseMixing(c.Mixing); err != nil {
		return &ConfigError{"mixing", err}
	}
	if c.families, err = derive.ParseFamilies(c.Paths); err != nil {
		return &ConfigError{"paths", err}
	}

	if c.Around > 0 {
		if c.Radius <= 0 {
			return &ConfigError{"radius", fmt.Errorf("must be positive, got %s", c.Radius)}
		}
		c.window = enumerator.Around(c.Around, c.Radius)
	} else {
		if c.window.Start, err = parseTime(c.Start); err != nil {
			return &ConfigError{"start", err}
		}
		if c.window.End, err = parseTime(c.End); err != nil {
			return &ConfigError{"end", err}
		}
	}
	if err := c.window.Validate(); err != nil {
		return &ConfigError{"window", err}
	}

	switch strings.ToLower(c.Backend) {
	case "", compute.SelectAuto, compute.SelectAccel:
	case compute.SelectCPU:
		if c.SoftDevice {
			return &ConfigError{"backend", errors.New("--soft-device cannot be used with the cpu backend")}
		}
	default:
		return &ConfigError{"backend", fmt.Errorf("unknown backend %q", c.Backend)}
	}
	if c.BatchSize < 0 || c.Workers < 0 || c.ParityEvery < 0 {
		return &ConfigError{"compute options", errors.New("batch size, workers and parity rate must not be negative")}
	}
	if c.Bloom && (c.BloomRate <= 0 || c.BloomRate >= 1) {
		return &ConfigError{"bloom-rate", fmt.Errorf("%v is not in (0, 1)", c.BloomRate)}
	}

	if c.Format == "" {
		c.Format = formatFor(c.Output)
	}
	switch strings.ToLower(c.Format) {
	case "csv", "json", "jsonl":
	default:
		return &ConfigError{"format", fmt.Errorf("unknown output format %q", c.Format)}
	}

	if c.ReportInterval <= 0 {
		c.ReportInterval = 10 * time.Second
	}

	if !c.Estimate && c.TargetFile == "" {
		return &ConfigError{"targets", errors.New("a target file is required")}
	}
	c.TargetFile = expandPath(c.TargetFile)
	c.FingerprintFile = expandPath(c.FingerprintFile)
	c.Checkpoint = expandPath(c.Checkpoint)
	c.Output = expandPath(c.Output)
	return nil
}

// parseTime accepts unix milliseconds, a date or an RFC 3339 time.
func parseTime(s string) (uint64, error) {
	if ms, err := strconv.ParseUint(s, 10, 64); err == nil {
		return ms, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Before(time.Unix(0, 0)) {
				return 0, fmt.Errorf("%s is before 1970", s)
			}
			return uint64(t.UnixMilli()), nil
		}
	}
	return 0, fmt.Errorf("cannot parse time %q", s)
}

func formatFor(path string) string {
	if strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".jsonl") {
		return "jsonl"
	}
	return "csv"
}

// expandPath expands the ~ character to the user's home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return strings.Replace(path, "~", homeDir, 1)
	}
	return path
}
