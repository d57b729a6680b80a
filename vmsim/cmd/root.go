// Package cmd provides the command-line interface for vmsim.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/vmsim/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmsim",
	Short: "vmsim runs processes on a simulated paged virtual memory system.",
	Long: `vmsim runs synthetic processes on a simulated paged virtual ` +
		`memory system with demand paging, swapping, and memory-mapped ` +
		`files, and reports what the memory managers did.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "",
		"TOML file to read the settings from")
	rootCmd.PersistentFlags().String("env", ".env",
		"dotenv file with VMSIM_* overrides")
	rootCmd.PersistentFlags().String("log-level", "",
		"log level (debug, info, warn, error)")
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Panics from the kernel end the program through atexit so
// that recorded data is flushed.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			atexit.Fatalf("vmsim: %v", r)
		}
	}()

	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

// loadConfig reads the configuration and applies the flags that were set on
// the command line.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	envPath, _ := cmd.Flags().GetString("env")

	cfg, err := config.Load(path, envPath)
	if err != nil {
		return cfg, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}

	return cfg, nil
}

func setupLogging(cfg config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}

	return nil
}
