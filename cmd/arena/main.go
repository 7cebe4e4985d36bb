package main

import (
	"context"
	"fmt"
	"os"

	"github.com/newthinker/arena/internal/app"
	"github.com/newthinker/arena/internal/config"
	"github.com/newthinker/arena/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile  string
	debug    bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "arena",
	Short: "ARENA - strategy backtesting and live signal engine",
	Long: `ARENA evaluates parameterized trading strategies over OHLCV history,
runs them across watchlists, and tracks them live with optional paper-broker relay.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	return logger.Must(logger.Options{Development: debug, Level: logLevel})
}

// loadConfig reads --config, falling back to defaults plus ARENA_* env.
func loadConfig(log *zap.Logger) (*config.Config, error) {
	if cfgFile == "" {
		log.Debug("no config file specified, using defaults")
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// withApp builds the application for one-shot commands and closes it after fn.
func withApp(fn func(a *app.App, log *zap.Logger) error) error {
	log := newLogger()
	defer log.Sync()

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	a, err := app.New(cfg, log, app.WithVersion(Version))
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(a, log)
}
