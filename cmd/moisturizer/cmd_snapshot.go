package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/moisturizer/moisturizer/internal/app"
	"github.com/moisturizer/moisturizer/internal/snapshot"
)

func newSnapshotCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export and import type descriptors",
	}

	withManager := func(cmd *cobra.Command, fn func(ctx context.Context, m *snapshot.Manager) error) error {
		return flags.withApp(cmd, func(ctx context.Context, a *app.App) error {
			m, err := a.Snapshots(ctx)
			if err != nil {
				return err
			}
			return fn(ctx, m)
		})
	}

	export := &cobra.Command{
		Use:   "export",
		Short: "Write every descriptor to a new snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *snapshot.Manager) error {
				res, err := m.Export(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{"path": res.Path, "types": res.Types})
			})
		},
	}

	imp := &cobra.Command{
		Use:   "import [path]",
		Short: "Apply a snapshot, the latest one when no path is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *snapshot.Manager) error {
				var res *snapshot.ImportResult
				var err error
				if len(args) == 1 {
					res, err = m.Import(ctx, args[0])
				} else {
					res, err = m.ImportLatest(ctx)
				}
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"path":      res.Path,
					"created":   res.Created,
					"updated":   res.Updated,
					"unchanged": res.Unchanged,
				})
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *snapshot.Manager) error {
				paths, err := m.List(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), paths)
			})
		},
	}

	cmd.AddCommand(export, imp, list)
	return cmd
}
