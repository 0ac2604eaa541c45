package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/udisondev/regionsys/internal/config"
	"github.com/udisondev/regionsys/internal/db"
	"github.com/udisondev/regionsys/internal/region"
	"github.com/udisondev/regionsys/internal/regiondata"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a region document and build every volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := regiondata.LoadFile(args[0])
			if err != nil {
				return err
			}
			// Create performs the same checks the daemon would on load.
			if _, err := regiondata.Apply(region.New(nil, region.DefaultOptions()), doc); err != nil {
				return err
			}
			digest, err := regiondata.Digest(doc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d regions, digest %s\n", args[0], len(doc.Regions), digest)
			return nil
		},
	}
}

func importCmd(load func() (config.RegionD, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Replace the stored regions with a region document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			doc, err := regiondata.LoadFile(args[0])
			if err != nil {
				return err
			}
			if _, err := regiondata.Apply(region.New(nil, region.DefaultOptions()), doc); err != nil {
				return err
			}

			store, err := db.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return fmt.Errorf("opening region store: %w", err)
			}
			defer store.Close()

			if err := store.SaveAll(cmd.Context(), doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d regions\n", len(doc.Regions))
			return nil
		},
	}
}

func exportCmd(load func() (config.RegionD, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write the stored regions to a YAML or JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			store, err := db.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return fmt.Errorf("opening region store: %w", err)
			}
			defer store.Close()

			doc, err := store.LoadAll(cmd.Context())
			if err != nil {
				return err
			}
			if err := regiondata.WriteFile(args[0], doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d regions to %s\n", len(doc.Regions), args[0])
			return nil
		},
	}
}
