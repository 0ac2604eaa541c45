// Command regiond hosts a region registry: it loads region definitions,
// ticks occupancy, streams events over websocket and journals them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/udisondev/regionsys/internal/config"
	"github.com/udisondev/regionsys/internal/region"
	"github.com/udisondev/regionsys/internal/tag"
)

const ConfigPath = "config/regiond.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:           "regiond",
		Short:         "Region registry and occupancy tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", ConfigPath, "path to regiond.yaml")

	load := func() (config.RegionD, error) {
		return loadConfig(configPath(cfgPath, cmd.PersistentFlags().Changed("config")))
	}

	cmd.AddCommand(serveCmd(load))
	cmd.AddCommand(validateCmd())
	cmd.AddCommand(importCmd(load))
	cmd.AddCommand(exportCmd(load))
	return cmd
}

// configPath resolves the config file: an explicit --config wins, then
// REGIOND_CONFIG, then the flag default.
func configPath(flagValue string, explicit bool) string {
	if explicit {
		return flagValue
	}
	if p := os.Getenv("REGIOND_CONFIG"); p != "" {
		return p
	}
	return flagValue
}

// loadConfig reads the config and installs the default logger.
func loadConfig(path string) (config.RegionD, error) {
	cfg, err := config.LoadRegionD(path)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	return cfg, nil
}

func registryOptions(cfg config.Registry) (region.Options, error) {
	opts := region.DefaultOptions()
	opts.CellSize = cfg.CellSize
	opts.MaxCellsPerRegion = cfg.MaxCellsPerRegion
	if cfg.AreaRoot != "" {
		root, err := tag.New(cfg.AreaRoot)
		if err != nil {
			return opts, fmt.Errorf("registry.area_root: %w", err)
		}
		opts.AreaRoot = root
	}
	return opts, nil
}

// parseLogLevel converts string log level to slog.Level.
// Defaults to Info if invalid or empty.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
