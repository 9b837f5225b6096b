package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gosh-fetch/internal/config"
)

var (
	cfgFile  string
	logLevel string

	cfg    config.Config
	logger = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:               "gosh-fetch",
	Short:             "HTTP and BitTorrent download manager",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file path (default ./config.* or the user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Logging level (trace, debug, info, warn, error); overrides config")

	rootCmd.AddCommand(serveCmd, historyCmd, trackersCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = loaded

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)
	return nil
}
