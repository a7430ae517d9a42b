package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/lingo/internal/control"
	"github.com/vietddude/lingo/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "lingo",
	Short: "Credential-pooled translation dispatcher",
	Long:  "Lingo splits documents into units and translates them through a pool of rate-limited provider credentials.",
	Run:   runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, job runner and distributed workers",
	Run:   runServe,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads the config file and installs the default logger.
// It exits the process on failure, as every command needs a config.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging.Level)
	return cfg
}

func setupLogging(level string) {
	slogLevel := slog.LevelInfo
	switch {
	case isDebug || level == "debug":
		slogLevel = slog.LevelDebug
	case level == "warn":
		slogLevel = slog.LevelWarn
	case level == "error":
		slogLevel = slog.LevelError
	}
	fd := os.Stderr.Fd()
	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
		NoColor:    !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd),
	})
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, stop := signalContext()
	defer stop()

	app, err := control.New(ctx, cfg, control.Options{})
	if err != nil {
		slog.Error("Failed to create app", "error", err)
		os.Exit(1)
	}

	slog.Info("Lingo started", "port", cfg.Server.Port, "credentials", len(cfg.Credentials))
	if err := app.Run(ctx); err != nil {
		slog.Error("Shutdown finished with errors", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}
