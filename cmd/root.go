package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BoweryJG/clearverify-patient/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfg      *config.Config
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:     "clearverify",
	Short:   "Insurance eligibility verification through insurer portals",
	Long:    "Learns insurer member portals, drives them with a headless browser under patient consent, and normalizes the eligibility and benefits data they show.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		zap.L().Debug("config loaded", zap.String("store", cfg.Store.Driver), zap.String("version", version))

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
