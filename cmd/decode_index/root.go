package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "DECODE_INDEX"

// NewRootCommand reads flags from the command line, environment variables prefixed with
// DECODE_INDEX, or config.yaml (in that order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/decode_index", "$HOME/.decode_index", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	cmd := &cobra.Command{
		Use:   "decode_index",
		Short: "Assign sequencing reads to samples by their index barcode",
		Long: `Assign sequencing reads to samples by their index barcode.

The first bases of every read are compared with a table of known barcodes. Reads that
match one barcode closely enough are trimmed, tagged with the index bases and qualities
and written to that barcode's destination. All other reads are written untrimmed to the
unmatched destination. Per barcode metrics are written at the end of the run.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	bindFlags(cmd)
	return cmd
}
