package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/registry-crawler/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfg      *config.Config
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:     "registry-crawler",
	Short:   "German company registry aggregator",
	Long:    "Crawls Handelsregister, Northdata, Unternehmensregister and LinkedIn for a company and reconciles the results into one record.",
	Version: version,
	// Crawl failures are reported through the logger; usage only helps for
	// flag errors.
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

// setup loads configuration and installs the global logger before any
// subcommand runs.
func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "load config")
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	cfg = c

	if err := config.InitLogger(cfg.Log); err != nil {
		return eris.Wrap(err, "init logger")
	}
	zap.L().Debug("config loaded", zap.String("command", cmd.Name()), zap.String("version", version))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
