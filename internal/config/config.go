// Package config holds the decoder's command line configuration and turns it
// into validated run settings.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Altius/stampipes/programs/decode_index/internal/barcode"
	"github.com/Altius/stampipes/programs/decode_index/internal/decode"
	"github.com/Altius/stampipes/programs/decode_index/internal/demux"
	"github.com/Altius/stampipes/programs/decode_index/internal/errdefs"
	"github.com/Altius/stampipes/programs/decode_index/internal/match"
	"github.com/Altius/stampipes/programs/decode_index/internal/metrics"
	"github.com/Altius/stampipes/programs/decode_index/internal/quality"
)

// OutputConfig selects the output mode: either Path (merged) or all of Dir,
// Prefix and Format (split).
type OutputConfig struct {
	Path   string
	Dir    string
	Prefix string
	Format string
}

type MatchConfig struct {
	MaxMismatches    int
	MinMismatchDelta int
	MaxNoCalls       int
}

type TagConfig struct {
	Barcode string
	Quality string
}

type ReadGroupConfig struct {
	ID               string
	SampleAlias      string
	LibraryName      string
	StudyName        string
	PlatformUnit     string
	Platform         string
	SequencingCenter string
}

type MetricsConfig struct {
	// File is where the report is written. Required.
	File   string
	Format string

	// PromTextfile, if set, receives the counters in the node exporter
	// textfile format.
	PromTextfile string

	// DB, if set, is a SQLite database the run is recorded in.
	DB string
}

type LogConfig struct {
	// Format is text or json.
	Format string

	// Level is none, debug, info, warn or error.
	Level string
}

type ProfileConfig struct {
	CPU    string
	Memory string
}

type Config struct {
	FastQ1        string
	FastQ2        string
	QualityFormat string

	Barcodes    []string
	BarcodeFile string

	Output    OutputConfig
	Match     MatchConfig
	Tags      TagConfig
	ReadGroup ReadGroupConfig
	Metrics   MetricsConfig

	Threads     int
	CacheSize   int64
	StrictMates bool

	Log     LogConfig
	Profile ProfileConfig
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Match: MatchConfig{
			MaxMismatches:    1,
			MinMismatchDelta: 1,
			MaxNoCalls:       2,
		},
		Tags: TagConfig{
			Barcode: "BC",
			Quality: "QT",
		},
		ReadGroup: ReadGroupConfig{
			ID:               "1",
			LibraryName:      "unknown",
			Platform:         "ILLUMINA",
			SequencingCenter: "SC",
		},
		Threads: 1,
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Mode returns the output mode described by c.Output.
func (c *Config) Mode() (demux.Mode, error) {
	o := c.Output
	split := o.Dir != "" || o.Prefix != "" || o.Format != ""
	switch {
	case o.Path != "" && split:
		return nil, errdefs.Configf("--output cannot be combined with --output-dir, --output-prefix or --output-format")
	case o.Path != "":
		return demux.Merged{Path: o.Path}, nil
	case !split:
		return nil, errdefs.Configf("either --output or --output-dir, --output-prefix and --output-format are required")
	case o.Dir == "" || o.Prefix == "" || o.Format == "":
		return nil, errdefs.Configf("--output-dir, --output-prefix and --output-format must be given together")
	}
	return demux.Split{Dir: o.Dir, Prefix: o.Prefix, Format: o.Format}, nil
}

func (c *Config) matchParams() match.Params {
	return match.Params{
		MaxMismatches:    c.Match.MaxMismatches,
		MinMismatchDelta: c.Match.MinMismatchDelta,
		MaxNoCalls:       c.Match.MaxNoCalls,
	}
}

// Verify checks that c describes a runnable configuration. Every problem is
// reported as a *errdefs.ConfigError.
func (c *Config) Verify() error {
	if c.FastQ1 == "" {
		return errdefs.Configf("--fastq1 is required")
	}
	if c.QualityFormat == "" {
		return errdefs.Configf("--quality-format is required")
	}
	if _, err := quality.ParseEncoding(c.QualityFormat); err != nil {
		return errdefs.Config("invalid --quality-format", err)
	}

	switch {
	case len(c.Barcodes) > 0 && c.BarcodeFile != "":
		return errdefs.Configf("--barcode and --barcode-file are mutually exclusive")
	case len(c.Barcodes) == 0 && c.BarcodeFile == "":
		return errdefs.Configf("one of --barcode or --barcode-file is required")
	}

	mode, err := c.Mode()
	if err != nil {
		return err
	}
	if _, err := demux.ModeFormat(mode); err != nil {
		return err
	}

	if err := c.matchParams().Validate(); err != nil {
		return err
	}

	if c.Tags.Barcode == "" || c.Tags.Quality == "" {
		return errdefs.Configf("tag names cannot be empty")
	}
	for _, tag := range []string{c.Tags.Barcode, c.Tags.Quality} {
		if len(tag) != 2 {
			return errdefs.Configf("tag name %q must be two characters", tag)
		}
	}
	if c.ReadGroup.ID == "" {
		return errdefs.Configf("--read-group-id cannot be empty")
	}

	if c.Metrics.File == "" {
		return errdefs.Configf("--metrics-file is required")
	}
	if _, err := metrics.ParseFormat(c.Metrics.Format, c.Metrics.File); err != nil {
		return err
	}
	if err := checkWritable("--metrics-file", c.Metrics.File); err != nil {
		return err
	}
	if c.Metrics.PromTextfile != "" {
		if err := checkWritable("--prom-textfile", c.Metrics.PromTextfile); err != nil {
			return err
		}
	}

	if c.Threads < 1 {
		return errdefs.Configf("--threads must be at least 1, got %d", c.Threads)
	}
	if c.CacheSize < 0 {
		return errdefs.Configf("--cache-size must not be negative, got %d", c.CacheSize)
	}
	if c.StrictMates && c.FastQ2 == "" {
		return errdefs.Configf("--strict-mates requires --fastq2")
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return errdefs.Configf("config 'log.format' must be one of ['text', 'json'], got %q", c.Log.Format)
	}
	switch c.Log.Level {
	case "none", "debug", "info", "warn", "error":
	default:
		return errdefs.Configf("config 'log.level' must be one of ['none', 'debug', 'info', 'warn', 'error'], got %q", c.Log.Level)
	}
	return nil
}

// checkWritable fails unless path can be created or replaced: its directory
// must exist and path itself must not be a directory.
func checkWritable(flag, path string) error {
	dir := filepath.Dir(path)
	fi, err := os.Stat(dir)
	if err != nil {
		return errdefs.Config(flag+" "+path, err)
	}
	if !fi.IsDir() {
		return errdefs.Configf("%s %s: %s is not a directory", flag, path, dir)
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return errdefs.Configf("%s %s is a directory", flag, path)
	}
	return nil
}

// Settings converts a verified configuration into run settings.
func (c *Config) Settings() (decode.Settings, error) {
	enc, err := quality.ParseEncoding(c.QualityFormat)
	if err != nil {
		return decode.Settings{}, errdefs.Config("invalid --quality-format", err)
	}
	mode, err := c.Mode()
	if err != nil {
		return decode.Settings{}, err
	}

	barcodes := make([]string, 0, len(c.Barcodes))
	for _, b := range c.Barcodes {
		if b = strings.TrimSpace(b); b != "" {
			barcodes = append(barcodes, b)
		}
	}

	s := decode.DefaultSettings()
	s.Barcodes = barcode.Source{Sequences: barcodes, File: c.BarcodeFile}
	s.Match = c.matchParams()
	s.Quality = enc
	s.Output = mode
	s.Paired = c.FastQ2 != ""
	s.StrictMates = c.StrictMates
	s.BarcodeTag = c.Tags.Barcode
	s.QualityTag = c.Tags.Quality
	s.ReadGroup = demux.ReadGroup{
		ID:               c.ReadGroup.ID,
		Sample:           c.ReadGroup.SampleAlias,
		Library:          c.ReadGroup.LibraryName,
		PlatformUnit:     c.ReadGroup.PlatformUnit,
		Platform:         c.ReadGroup.Platform,
		SequencingCenter: c.ReadGroup.SequencingCenter,
	}
	if s.ReadGroup.Sample == "" {
		s.ReadGroup.Sample = c.ReadGroup.LibraryName
	}
	if c.ReadGroup.StudyName != "" {
		s.ReadGroup.Description = "Study " + c.ReadGroup.StudyName
	}
	s.Threads = c.Threads
	s.CacheSize = c.CacheSize
	return s, nil
}
