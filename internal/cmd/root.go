// Package cmd holds the swapbytes command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/rudransh-shrivastava/swapbytes/internal/config"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:  `swapbytes`,
	Long: `swapbytes is a serverless chat and file sharing application for the local network`,
	// no subcommand means chat
	RunE:          runChat,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.FileName, "path to the TOML config file")
	addChatFlags(rootCmd)

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(idCmd)
	rootCmd.AddCommand(transfersCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(o config.Overrides) (*config.Config, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Merge(o)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
