// Package commands implements the CLI commands for the blkcp copy tool.
package commands

import (
	"fmt"

	configcmd "github.com/blkcp/blkcp/cmd/blkcp/commands/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile  string
	logLevel string

	// Copy flags.
	inputFile           string
	outputFile          string
	blockSizeFlag       string
	queueDepth          int
	withoutDirectInput  bool
	withoutDirectOutput bool
	metricsListen       string
)

// rootCmd performs the copy itself; subcommands cover the tooling around it.
var rootCmd = &cobra.Command{
	Use:   "blkcp",
	Short: "blkcp - Asynchronous block copy",
	Long: `blkcp copies a byte stream between files, block devices, pipes and the
standard streams, keeping a bounded queue of reads and writes in flight
on each side instead of alternating a single read with a single write.

Seekable endpoints (regular files and block devices) are driven with
positioned I/O across independent descriptors and direct I/O by default;
pipes and other streams fall back to sequential access automatically.

Examples:
  # Image a device into a file
  blkcp -i /dev/sdb -o sdb.img

  # Restore it, bypassing the page cache on both sides (the default)
  blkcp -i sdb.img -o /dev/sdb

  # Filter roles: read from stdin, write to stdout
  gzip -dc disk.img.gz | blkcp -o /dev/sdb
  blkcp -i /dev/sdb | gzip -c > disk.img.gz

  # Tune the transfer
  blkcp -i /dev/sdb -o sdb.img -b 4Mi -q 16

  # Watch it from Prometheus while it runs
  blkcp -i /dev/sdb -o sdb.img --metrics-listen localhost:9090

Use "blkcp [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return Usagef("unexpected argument %q (the source and destination are given with -i and -o)", args[0])
		}
		return nil
	},
	RunE: runCopy,
}

// UsageError marks an error caused by an invalid invocation, as opposed
// to a runtime copy failure. main exits with a distinct status for it.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

// Usagef builds a UsageError from a format string.
func Usagef(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// normalizeFlags maps the older one-word flag spellings onto their
// canonical names, so scripts written against either keep working.
func normalizeFlags(f *pflag.FlagSet, name string) pflag.NormalizedName {
	switch name {
	case "blocksize":
		name = "block-size"
	case "maxqsize":
		name = "queue-depth"
	}
	return pflag.NormalizedName(name)
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/blkcp/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")

	// Copy flags on the root command
	rootCmd.Flags().StringVarP(&inputFile, "input-file", "i", "", "Source file or device (default: standard input)")
	rootCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "Destination file or device, created and truncated (default: standard output)")
	rootCmd.Flags().StringVarP(&blockSizeFlag, "block-size", "b", "", "Bytes per block, a multiple of 512 up to 16Mi, with dd-style suffixes like 512K or 4Mi (default: 1Mi)")
	rootCmd.Flags().IntVarP(&queueDepth, "queue-depth", "q", 0, "Blocks in flight per queue, 1 to 32 (default: 8)")
	rootCmd.Flags().BoolVar(&withoutDirectInput, "without-directio-input", false, "Read through the page cache instead of direct I/O")
	rootCmd.Flags().BoolVar(&withoutDirectOutput, "without-directio-output", false, "Write through the page cache instead of direct I/O")
	rootCmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Expose Prometheus metrics on this address while the copy runs")

	rootCmd.SetGlobalNormalizationFunc(normalizeFlags)

	// Flag parse failures are usage errors, not runtime ones.
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(configcmd.Cmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
