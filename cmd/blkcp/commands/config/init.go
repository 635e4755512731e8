package config

import (
	"fmt"

	"github.com/blkcp/blkcp/internal/cli/output"
	"github.com/blkcp/blkcp/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a blkcp configuration file populated with the defaults.

By default, the configuration file is created at $XDG_CONFIG_HOME/blkcp/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  blkcp config init

  # Initialize with custom path
  blkcp config init --config /etc/blkcp/config.yaml

  # Force overwrite existing config
  blkcp config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")

	var configPath string
	var err error

	if configFile != "" {
		// Use custom path
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		// Use default path
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	p := output.DefaultPrinter()
	p.Success(fmt.Sprintf("Configuration file created at: %s", configPath))
	p.Println("\nEdit it to change the defaults, or override them per run:")
	p.Printf("  blkcp --config %s -i /dev/sdb -o sdb.img\n", configPath)
	p.Println("  BLKCP_COPY_QUEUE_DEPTH=16 blkcp -i /dev/sdb -o sdb.img")
	return nil
}
