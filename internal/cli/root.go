package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/icysupport/bridgewatch/internal/config"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
	cfgErr   error
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bridgewatch",
	Short: "Bridge event log analysis and fleet health reports",
	Long: `bridgewatch reads the communication logs and bridge metadata of every
customer schema, flags bridges that restart too often or go quiet for too
long, ranks poll failures and exports the results as CSV, xlsx or JSON.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgErr != nil {
			return &ArgumentError{Err: fmt.Errorf("load config: %w", cfgErr)}
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger = newLogger(cfg.LogLevel, os.Stderr)
		return nil
	},
}

// Execute runs the command tree. main maps the error through ExitCode.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml or $HOME/.bridgewatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides log_level)")
}

func initConfig() {
	cfg, cfgErr = config.Load(cfgFile)
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}
