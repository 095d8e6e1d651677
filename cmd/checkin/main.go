package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dreamup/checkin-agent/internal/config"
	"github.com/dreamup/checkin-agent/internal/logging"
)

var (
	// Version information
	version = "0.1.0"
)

var (
	v          = config.New()
	cfg        *config.Config
	configFile string
	logCleanup = func() {}
)

func main() {
	defer func() { logCleanup() }()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logCleanup()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "checkin",
	Short: "Daily check-in agent with an icon-captcha solver",
	Long: `checkin logs into the reward site for each configured account, solves the
click-the-matching-icons captcha when it appears, clicks the daily earn link
and reports the resulting point balance.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ./config.yaml or $HOME/.checkin/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-file", "", "Also write JSON logs to this file (rotated)")
	rootCmd.PersistentFlags().String("work-dir", "./checkin-data", "Directory for reports, screenshots and the run database")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(solveImageCmd)
	rootCmd.AddCommand(historyCmd)
}

// loadConfig binds the flags of the command being run, reads the config and
// installs logging.
func loadConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	err := config.BindFlags(v, cmd.Flags(), map[string]string{
		"log-level": "log.level",
		"log-file":  "log.file",
		"work-dir":  "work_dir",
		"headless":  "headless",
		"detector":  "detector",
		"model":     "model_path",
		"base-url":  "base_url",
		"max-tries": "captcha.max_attempts",
		"db":        "db_path",
	})
	if err != nil {
		return err
	}

	if cfg, err = config.Load(v); err != nil {
		return err
	}

	cleanup, err := logging.Init(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return err
	}
	logCleanup = cleanup
	return nil
}

// EnsureDir creates the directory if it doesn't exist
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
