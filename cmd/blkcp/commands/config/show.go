package config

import (
	"os"

	"github.com/blkcp/blkcp/internal/cli/output"
	"github.com/blkcp/blkcp/pkg/config"
	"github.com/spf13/cobra"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration a copy would run with, after defaults and
environment overrides are applied.

By default outputs YAML format. Use --output to change format.

Examples:
  # Show effective config as YAML
  blkcp config show

  # Show as JSON
  blkcp config show --output json

  # Show a specific config file
  blkcp config show --config /etc/blkcp/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	return output.NewPrinter(os.Stdout, format, false).Print(cfg)
}
