// Package config implements configuration management subcommands.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is the config subcommand.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Manage blkcp configuration files.

A configuration file is optional: without one, blkcp runs on its
defaults and the command-line flags. The file supplies different
defaults for the same knobs.

Subcommands:
  init  Write a default configuration file
  show  Display the effective configuration`,
}

func init() {
	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(showCmd)
}
