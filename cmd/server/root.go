package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"voicecollect/internal/config"
	"voicecollect/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "voicecollect",
	Short:         "Collect spoken recordings against a queue of text prompts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the YAML config file")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config and initializes the global logger
func setup() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	err = logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	return cfg, nil
}
