package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/gitmesh/gitmesh/internal/config"
	"github.com/gitmesh/gitmesh/internal/utils"
	"github.com/gitmesh/gitmesh/internal/version"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
)

var rootCmd = &cobra.Command{
	Use:     "gitmesh",
	Short:   "GitMesh keeps git repositories synchronized across peer hosts",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "GitMesh config file")
	rootCmd.PersistentFlags().String("host", "", "Override this host's identifier")
	rootCmd.PersistentFlags().StringP("datadir", "d", "", "GitMesh data directory")
}

func main() {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})

	logFile := filepath.Join(config.DefaultDataDir, "logs", "gitmesh.log")
	if err := utils.EnsureParent(logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		slog.SetDefault(slog.New(stdoutHandler))
		return
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		slog.SetDefault(slog.New(stdoutHandler))
		return
	}

	fileHandler := slog.NewTextHandler(utils.NewTimestampedWriter(file), &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// The timestamped writer already stamps each line.
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewFanoutLogHandler(stdoutHandler, fileHandler)))
}

// loadConfig reads the config file, binds flags and environment and returns
// the validated daemon configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".gitmesh"))
		viper.AddConfigPath(filepath.Join(home, ".config/gitmesh"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return nil, fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("data_dir", cmd.Flags().Lookup("datadir"))

	viper.SetEnvPrefix("GITMESH")
	viper.AutomaticEnv()

	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config parse '%s': %w", viper.ConfigFileUsed(), err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config '%s': %w", viper.ConfigFileUsed(), err)
	}
	return &cfg, nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Printf("GitMesh %s\n", version.Short())
}
