package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Altius/stampipes/programs/decode_index/internal/config"
)

// mustBindPFlag attempts to bind a specific key to a pflag (as used by cobra) and panics
// if the binding fails with a non-nil error.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

func mustBindEnv(input ...string) {
	if err := viper.BindEnv(input...); err != nil {
		panic("failed to bind env key: " + err.Error())
	}
}

// bind registers a flag's config key and environment variable.
func bind(flags *pflag.FlagSet, name, key, env string) {
	mustBindPFlag(key, flags.Lookup(name))
	mustBindEnv(key, envPrefix+"_"+env)
}

// bindFlags binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindFlags(command *cobra.Command) {
	defaultConfig := config.DefaultConfig()
	flags := command.Flags()

	flags.String("fastq1", "", "input FASTQ; the index is read from the first bases of each read")
	bind(flags, "fastq1", "fastq1", "FASTQ1")

	flags.String("fastq2", "", "mate FASTQ for paired-end input")
	bind(flags, "fastq2", "fastq2", "FASTQ2")

	flags.String("quality-format", "", "quality encoding of the input: standard, illumina or solexa")
	bind(flags, "quality-format", "qualityFormat", "QUALITY_FORMAT")

	flags.StringSlice("barcode", nil, "barcode sequence; may be repeated or comma separated")
	bind(flags, "barcode", "barcodes", "BARCODE")

	flags.String("barcode-file", "", "tab separated barcode file with a barcode_sequence column")
	bind(flags, "barcode-file", "barcodeFile", "BARCODE_FILE")

	command.MarkFlagsMutuallyExclusive("barcode", "barcode-file")

	flags.String("output", "", "write every read to this single SAM, BAM or FASTQ file")
	bind(flags, "output", "output.path", "OUTPUT")

	flags.String("output-dir", "", "directory for one output file per barcode")
	bind(flags, "output-dir", "output.dir", "OUTPUT_DIR")

	flags.String("output-prefix", "", "file name prefix for per barcode output")
	bind(flags, "output-prefix", "output.prefix", "OUTPUT_PREFIX")

	flags.String("output-format", "", "per barcode output format: fastq, fq or sam, optionally with .gz, or bam")
	bind(flags, "output-format", "output.format", "OUTPUT_FORMAT")

	flags.Int("max-mismatches", defaultConfig.Match.MaxMismatches, "maximum mismatches for an index read to match a barcode")
	bind(flags, "max-mismatches", "match.maxMismatches", "MAX_MISMATCHES")

	flags.Int("min-mismatch-delta", defaultConfig.Match.MinMismatchDelta, "minimum difference in mismatches between the best and second best barcode")
	bind(flags, "min-mismatch-delta", "match.minMismatchDelta", "MIN_MISMATCH_DELTA")

	flags.Int("max-no-calls", defaultConfig.Match.MaxNoCalls, "maximum no-calls in an index read before it is rejected")
	bind(flags, "max-no-calls", "match.maxNoCalls", "MAX_NO_CALLS")

	flags.String("barcode-tag-name", defaultConfig.Tags.Barcode, "tag holding the index bases of matched reads")
	bind(flags, "barcode-tag-name", "tags.barcode", "BARCODE_TAG_NAME")

	flags.String("quality-tag-name", defaultConfig.Tags.Quality, "tag holding the index qualities of matched reads")
	bind(flags, "quality-tag-name", "tags.quality", "QUALITY_TAG_NAME")

	flags.String("read-group-id", defaultConfig.ReadGroup.ID, "read group ID; each barcode gets <id>#<barcode name>")
	bind(flags, "read-group-id", "readGroup.id", "READ_GROUP_ID")

	flags.String("sample-alias", defaultConfig.ReadGroup.SampleAlias, "read group sample")
	bind(flags, "sample-alias", "readGroup.sampleAlias", "SAMPLE_ALIAS")

	flags.String("library-name", defaultConfig.ReadGroup.LibraryName, "read group library")
	bind(flags, "library-name", "readGroup.libraryName", "LIBRARY_NAME")

	flags.String("study-name", defaultConfig.ReadGroup.StudyName, "read group description")
	bind(flags, "study-name", "readGroup.studyName", "STUDY_NAME")

	flags.String("platform-unit", defaultConfig.ReadGroup.PlatformUnit, "read group platform unit")
	bind(flags, "platform-unit", "readGroup.platformUnit", "PLATFORM_UNIT")

	flags.String("platform", defaultConfig.ReadGroup.Platform, "read group platform")
	bind(flags, "platform", "readGroup.platform", "PLATFORM")

	flags.String("sequencing-center", defaultConfig.ReadGroup.SequencingCenter, "read group sequencing center")
	bind(flags, "sequencing-center", "readGroup.sequencingCenter", "SEQUENCING_CENTER")

	flags.String("metrics-file", "", "where to write the per barcode metrics")
	bind(flags, "metrics-file", "metrics.file", "METRICS_FILE")

	flags.String("metrics-format", "", "metrics format: tsv, json or yaml (default from the file extension, else tsv)")
	bind(flags, "metrics-format", "metrics.format", "METRICS_FORMAT")

	flags.String("prom-textfile", "", "also write Prometheus counters to this node exporter textfile")
	bind(flags, "prom-textfile", "metrics.promTextfile", "PROM_TEXTFILE")

	flags.String("metrics-db", "", "record the run in this SQLite database")
	bind(flags, "metrics-db", "metrics.db", "METRICS_DB")

	flags.Int("threads", defaultConfig.Threads, "number of goroutines classifying reads; output order is unchanged")
	bind(flags, "threads", "threads", "THREADS")

	flags.Int64("cache-size", defaultConfig.CacheSize, "number of distinct index reads to memoize (0 disables)")
	bind(flags, "cache-size", "cacheSize", "CACHE_SIZE")

	flags.Bool("strict-mates", defaultConfig.StrictMates, "require mates to share a read name and index bases")
	bind(flags, "strict-mates", "strictMates", "STRICT_MATES")

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in: text or json")
	bind(flags, "log-format", "log.format", "LOG_FORMAT")

	flags.String("log-level", defaultConfig.Log.Level, "the log level to use: none, debug, info, warn or error")
	bind(flags, "log-level", "log.level", "LOG_LEVEL")

	flags.String("cpuprofile", "", "write cpu profile to `file`")
	bind(flags, "cpuprofile", "profile.cpu", "CPUPROFILE")

	flags.String("memprofile", "", "write memory profile to `file`")
	bind(flags, "memprofile", "profile.memory", "MEMPROFILE")
}
