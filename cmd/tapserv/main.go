package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/siohaza/tapserv/internal/metrics"
	"github.com/siohaza/tapserv/internal/server"
	"github.com/siohaza/tapserv/pkg/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	configPath string
	logLevel   string
	version    = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "tapserv",
	Short: "tapserv - bomb arena game server",
	Long: `tapserv runs a real-time bomb arena over UDP with its own reliable
chunked transport, round timer and Lua event hooks.`,
	Version: version,
	Run:     runServer,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tapserv server",
	Long:  "Start the tapserv game server with the specified configuration",
	Run:   runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tapserv v%s\n", version)
		fmt.Println("Built with Go")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.toml", "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, level slog.Level) (*slog.Logger, io.Closer, error) {
	var logWriter io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(nil)

	if cfg.Server.LogToFile {
		if err := os.MkdirAll(filepath.Dir(cfg.Server.LogPath), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		rotating := &lumberjack.Logger{
			Filename:   cfg.Server.LogPath,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		}
		closer = rotating
		logWriter = io.MultiWriter(os.Stdout, rotating)
	}

	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: level,
	}))
	return logger, closer, nil
}

func runServer(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, closer, err := newLogger(cfg, parseLevel(logLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	logger.Info("starting tapserv", "version", version)

	var debug *metrics.DebugServer
	if cfg.Metrics.Enabled {
		debug, err = metrics.StartDebugServer(cfg.Metrics.ListenAddr, logger)
		if err != nil {
			logger.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
	}

	srv, err := server.New(cfg, version, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	logger.Info("server running",
		"name", cfg.Server.Name,
		"address", srv.Addr().String(),
		"query", cfg.Server.QueryEnabled,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("shutting down server")

	srv.Stop()

	if debug != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := debug.Stop(ctx); err != nil {
			logger.Warn("failed to stop metrics server", "error", err)
		}
		cancel()
	}

	logger.Info("server stopped successfully")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
