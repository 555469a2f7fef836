package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/fetcharr/internal/config"
	"github.com/NamanBalaji/fetcharr/internal/logger"
)

var Version = "dev"

var (
	configPath string
	debug      bool
	appConfig  *config.Config
)

var rootCmd = &cobra.Command{
	Use:          "fetcharr",
	Short:        "Resumable HTTP and IPFS download scheduler",
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var (
			cfg *config.Config
			err error
		)

		if configPath == "" {
			cfg, err = config.GetConfig()
		} else {
			cfg, err = config.Load(configPath)
		}

		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := cfg.Validate(); err != nil {
			return err
		}

		level := cfg.Log.Level
		if debug {
			level = "debug"
		}

		if err := logger.InitLogging(logger.Options{Level: level, Format: cfg.Log.Format, Path: cfg.Log.File}); err != nil {
			return err
		}

		appConfig = cfg

		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		logger.Close()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/fetcharr.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newServeCmd(), newGetCmd(), newQueueCmd())
}
