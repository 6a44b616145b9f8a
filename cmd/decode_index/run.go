package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Altius/stampipes/programs/decode_index/internal/config"
	"github.com/Altius/stampipes/programs/decode_index/internal/decode"
	"github.com/Altius/stampipes/programs/decode_index/internal/fastq"
	"github.com/Altius/stampipes/programs/decode_index/internal/logger"
	"github.com/Altius/stampipes/programs/decode_index/internal/metrics"
	"github.com/Altius/stampipes/programs/decode_index/internal/metricsdb"
)

// ReadConfig merges config.yaml, the environment and flags into a Config.
func ReadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := ReadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Verify(); err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.Profile.CPU != "" {
		f, err := os.Create(cfg.Profile.CPU)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	if err := decodeIndex(cmd.Context(), cfg, log); err != nil {
		log.Error("decode failed", zap.Error(err))
		return err
	}

	if cfg.Profile.Memory != "" {
		f, err := os.Create(cfg.Profile.Memory)
		if err != nil {
			return fmt.Errorf("could not create memory profile: %w", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.WriteHeapProfile(f); err != nil {
			return fmt.Errorf("could not write memory profile: %w", err)
		}
	}
	return nil
}

// decodeIndex runs one decode and writes its reports. The Prometheus
// textfile and the run history are written even when the run fails.
func decodeIndex(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	settings, err := cfg.Settings()
	if err != nil {
		return err
	}
	settings.Program.CommandLine = strings.Join(os.Args, " ")

	src, err := fastq.Open(cfg.FastQ1, cfg.FastQ2)
	if err != nil {
		return err
	}
	defer src.Close()

	var collector *metrics.Collector
	if cfg.Metrics.PromTextfile != "" {
		collector = metrics.NewCollector()
	}

	log.Info("reading", zap.String("fastq1", cfg.FastQ1), zap.String("fastq2", cfg.FastQ2))
	engine := decode.New(settings, decode.WithLogger(log), decode.WithCollector(collector))
	started := time.Now()
	summary, runErr := engine.Run(ctx, src)
	finished := time.Now()

	errs := []error{runErr}
	if runErr == nil {
		errs = append(errs, metrics.WriteFile(cfg.Metrics.File, cfg.Metrics.Format, summary))
		log.Info("wrote metrics", zap.String("path", cfg.Metrics.File))
	}
	if collector != nil {
		errs = append(errs, collector.WriteTextfile(cfg.Metrics.PromTextfile))
	}
	if cfg.Metrics.DB != "" {
		errs = append(errs, recordRun(cfg, engine.State(), summary, started, finished, log))
	}
	return errors.Join(errs...)
}

func recordRun(cfg *config.Config, state decode.State, summary metrics.Summary, started, finished time.Time, log logger.Logger) error {
	store, err := metricsdb.Open(cfg.Metrics.DB)
	if err != nil {
		return err
	}
	defer store.Close()

	output := cfg.Output.Path
	if output == "" {
		output = cfg.Output.Dir + "/" + cfg.Output.Prefix + "#*." + cfg.Output.Format
	}
	id, err := store.SaveRun(metricsdb.RunInfo{
		FastQ1:     cfg.FastQ1,
		FastQ2:     cfg.FastQ2,
		Output:     output,
		State:      state.String(),
		StartedAt:  started,
		FinishedAt: finished,
	}, summary)
	if err != nil {
		return err
	}
	log.Info("recorded run", zap.String("id", id), zap.String("db", cfg.Metrics.DB))
	return nil
}
