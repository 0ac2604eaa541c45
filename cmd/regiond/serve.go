package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/regionsys/internal/config"
	"github.com/udisondev/regionsys/internal/db"
	"github.com/udisondev/regionsys/internal/feed"
	"github.com/udisondev/regionsys/internal/journal"
	"github.com/udisondev/regionsys/internal/region"
	"github.com/udisondev/regionsys/internal/regiondata"
	"github.com/udisondev/regionsys/internal/tag"
)

func serveCmd(load func() (config.RegionD, error)) *cobra.Command {
	var regionsFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tick loop, websocket feed and event journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, regionsFile)
		},
	}
	cmd.Flags().StringVarP(&regionsFile, "regions", "r", "", "region document to load instead of the snapshot or database")
	return cmd
}

func serve(ctx context.Context, cfg config.RegionD, regionsFile string) error {
	slog.Info("regiond starting", "log_level", cfg.LogLevel)

	opts, err := registryOptions(cfg.Registry)
	if err != nil {
		return err
	}

	var store db.Store
	if cfg.Database.Driver != "" {
		store, err = db.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("opening region store: %w", err)
		}
		defer store.Close()
		slog.Info("region store opened", "driver", cfg.Database.Driver)
	}

	doc, source, err := initialRegions(ctx, cfg, store, regionsFile)
	if err != nil {
		return err
	}
	if opts.AreaRoot, err = documentAreaRoot(opts.AreaRoot, doc); err != nil {
		return fmt.Errorf("regions from %s: %w", source, err)
	}
	positions := region.NewPositionTable()
	reg := region.New(positions, opts)
	if _, err := regiondata.Apply(reg, doc); err != nil {
		return fmt.Errorf("applying regions from %s: %w", source, err)
	}
	report := reg.Tick()
	slog.Info("regions loaded", "source", source, "regions", len(doc.Regions), "generation", report.Generation)

	runner := region.NewRunner(reg, cfg.Registry.TickInterval)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting region tick loop", "interval", cfg.Registry.TickInterval)
		if err := runner.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("region tick loop: %w", err)
		}
		return nil
	})

	if cfg.Journal.Dir != "" {
		j := journal.New(cfg.Journal.Dir, cfg.Journal.Prefix, 0)
		detach := j.Attach(reg)
		g.Go(func() error {
			defer detach()
			if err := j.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("event journal: %w", err)
			}
			return nil
		})
	}

	if cfg.Feed.Enabled {
		srv := feed.NewServer(reg, positions, cfg.Feed)
		detach := srv.Attach(runner)
		g.Go(func() error {
			defer detach()
			slog.Info("starting feed server", "address", cfg.Feed.Addr())
			if err := srv.Serve(gctx, cfg.Feed.Addr()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("feed server: %w", err)
			}
			return nil
		})
	}

	runErr := g.Wait()

	// The context is gone by now; persistence gets its own deadline.
	saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := persist(saveCtx, cfg, store, reg.Query()); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr != nil {
		return fmt.Errorf("server error: %w", runErr)
	}
	slog.Info("regiond stopped")
	return nil
}

// initialRegions picks the region source: an explicit file, then the
// snapshot, then the database.
func initialRegions(ctx context.Context, cfg config.RegionD, store db.Store, regionsFile string) (regiondata.Document, string, error) {
	if regionsFile != "" {
		doc, err := regiondata.LoadFile(regionsFile)
		return doc, regionsFile, err
	}

	if cfg.Snapshot.Path != "" {
		h, doc, err := regiondata.LoadSnapshot(cfg.Snapshot.Path)
		switch {
		case err == nil:
			slog.Info("snapshot loaded", "path", cfg.Snapshot.Path, "generation", h.Generation, "digest", h.Digest)
			return doc, cfg.Snapshot.Path, nil
		case errors.Is(err, os.ErrNotExist):
		case errors.Is(err, regiondata.ErrCorrupt):
			slog.Warn("ignoring corrupt snapshot", "path", cfg.Snapshot.Path, "err", err)
		default:
			return regiondata.Document{}, "", fmt.Errorf("loading snapshot: %w", err)
		}
	}

	if store != nil {
		doc, err := store.LoadAll(ctx)
		if err != nil {
			return regiondata.Document{}, "", fmt.Errorf("loading regions from store: %w", err)
		}
		return doc, "database", nil
	}
	return regiondata.Document{Version: regiondata.Version}, "empty", nil
}

// documentAreaRoot returns the area root the document was written under, so
// region types survive a reload with a different configured root.
func documentAreaRoot(configured tag.Tag, doc regiondata.Document) (tag.Tag, error) {
	if doc.AreaRoot == "" {
		return configured, nil
	}
	root, err := tag.New(doc.AreaRoot)
	if err != nil {
		return configured, fmt.Errorf("area_root: %w", err)
	}
	if !root.MatchesExact(configured) {
		slog.Warn("region document overrides configured area root",
			"configured", configured.String(), "document", root.String())
	}
	return root, nil
}

func persist(ctx context.Context, cfg config.RegionD, store db.Store, snap *region.Snapshot) error {
	var errs []error
	if cfg.Snapshot.Path != "" {
		h, err := regiondata.SaveSnapshot(cfg.Snapshot.Path, snap)
		if err != nil {
			errs = append(errs, fmt.Errorf("saving snapshot: %w", err))
		} else {
			slog.Info("snapshot saved", "path", cfg.Snapshot.Path, "regions", h.Regions, "digest", h.Digest)
		}
	}
	if store != nil {
		doc, err := regiondata.Export(snap)
		if err == nil {
			err = store.SaveAll(ctx, doc)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("saving regions to store: %w", err))
		} else {
			slog.Info("regions saved to store", "regions", len(doc.Regions))
		}
	}
	return errors.Join(errs...)
}
