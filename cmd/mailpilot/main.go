package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mailpilot/mailpilot/internal/app"
	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/logger"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "mailpilot",
	Short:         "Personalized bulk outreach over SMTP",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	// Progress goes to stdout, so logs are kept on stderr in console form
	log := logger.NewWithWriter(os.Stderr, level, "text")
	return cfg, log, nil
}

// buildApp wires the local pipeline without Redis
func buildApp(ctx context.Context) (*app.App, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log, app.Options{})
}
