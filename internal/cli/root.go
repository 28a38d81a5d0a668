// Package cli implements the opcall command.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aponysus/opcall/internal/config"
	"github.com/aponysus/opcall/internal/logging"
)

const envPrefix = "OPCALL"

var envKeyReplacer = strings.NewReplacer("-", "_")

var rootCommand = &cobra.Command{
	Use:   "opcall",
	Short: "Call and serve RPC operations with retries and redacted logging",
	Long: `opcall drives operations through the retry engine as a client, and serves
demo operations with per-operation instrumentation as a server.

Flags can also be set through OPCALL_* environment variables, e.g.
OPCALL_LOG_LEVEL=debug.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCommand.Execute()
}

func init() {
	rootCommand.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	rootCommand.PersistentFlags().String("log-level", "", "Logging level (debug, info, warn, error)")
	rootCommand.PersistentFlags().String("log-format", "", "Log format (text, json)")

	_ = viper.BindPFlag("config", rootCommand.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", rootCommand.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCommand.PersistentFlags().Lookup("log-format"))

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()
}

// loadConfig reads the configuration file, if any, and overlays flag and
// environment values on top of it.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := config.Default()
	if path := v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if lvl := v.GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if format := v.GetString("log-format"); format != "" {
		cfg.Log.Format = format
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setup(v *viper.Viper) (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
