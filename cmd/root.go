// File: cmd/root.go

// Package cmd implements the deskrover command line interface.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/averell-dev/deskrover/internal/config"
	"github.com/averell-dev/deskrover/internal/observability"
	"github.com/averell-dev/deskrover/internal/rover"
)

var (
	cfgFile  string
	mockMode bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "deskrover",
	Short: "LLM-driven desktop automation agent",
	Long: `deskrover drives a desktop through a local vision model: it captures the
screen, asks the model for the next action, and performs it through a hybrid
of native UI-element operations and raw input injection.`,
	PersistentPreRunE: initApp,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	err := rootCmd.Execute()
	observability.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.deskrover/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&mockMode, "mock", false, "simulate the desktop instead of driving the real one")
}

// initApp loads configuration and initializes the global logger before any
// subcommand runs.
func initApp(cmd *cobra.Command, args []string) error {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".deskrover"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DESKROVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing default file means defaults apply; an explicitly named
		// or malformed file is a hard error.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		v.Set("logger.level", level)
	}

	loaded, err := config.NewConfigFromViper(v)
	if err != nil {
		return err
	}
	cfg = loaded

	observability.InitializeLogger(cfg.Logger)
	logger = observability.GetLogger()

	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("Config file loaded", zap.String("path", used))
	}
	if mockMode {
		logger.Info("Mock mode: the desktop is simulated")
	}
	return nil
}

// newRover assembles the stack honoring the --mock flag.
func newRover() (*rover.Rover, error) {
	if mockMode {
		return rover.NewMock(cfg, logger)
	}
	return rover.New(cfg, logger)
}
