package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"pi_guard/internal/config"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const appName = "pi_guard"

var (
	cfgFile string
	version = "dev"
	v       = viper.New()
	cfg     *config.Config
	rootCmd = &cobra.Command{
		Use:   "guard",
		Short: "PI transaction compliance contract",
		Long: `guard gates PI transfers by declared source, pinned unit value and content,
freezing accounts that repeatedly break the rules.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./piguard.yaml or /etc/piguard/piguard.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (console, json)")
	rootCmd.PersistentFlags().String("storage", "memory", "storage driver (memory, sqlite, postgres, redis)")
	rootCmd.PersistentFlags().String("dsn", "", "storage DSN for sqlite or postgres")
	rootCmd.PersistentFlags().String("genesis", "", "genesis YAML file used when the contract is not initialized")

	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = v.BindPFlag("storage.driver", rootCmd.PersistentFlags().Lookup("storage"))
	_ = v.BindPFlag("storage.dsn", rootCmd.PersistentFlags().Lookup("dsn"))
	_ = v.BindPFlag("genesis_file", rootCmd.PersistentFlags().Lookup("genesis"))

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(filterCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(complianceCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Shutdown signal received")
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	config.LoadDotEnv()

	loaded, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	if err := setupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	return nil
}

func setupLogging(level, format string) error {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return fmt.Errorf("invalid log level: %s", level)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}

	switch format {
	case "console":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format: %s", format)
	}

	slog.SetDefault(slog.New(handler).With(slog.String("app", appName)))
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "guard %s\n", version)
		},
	}
}
