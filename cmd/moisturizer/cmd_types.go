package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/moisturizer/moisturizer/internal/app"
	"github.com/moisturizer/moisturizer/internal/descriptor"
	"github.com/moisturizer/moisturizer/internal/schema"
)

type descriptorView struct {
	ID           string                            `json:"id"`
	LastModified time.Time                         `json:"last_modified"`
	Fields       map[string]schema.FieldDescriptor `json:"fields"`
}

func viewOf(d *descriptor.TypeDescriptor) descriptorView {
	return descriptorView{ID: d.ID, LastModified: d.LastModified, Fields: d.Fields}
}

func parseFields(decls []string) (map[string]schema.FieldDescriptor, error) {
	fields := make(map[string]schema.FieldDescriptor, len(decls))
	for _, decl := range decls {
		name, f, err := schema.ParseField(decl)
		if err != nil {
			return nil, err
		}
		fields[name] = f
	}
	return fields, nil
}

func newTypesCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "Manage type descriptors",
	}

	var createFields []string
	create := &cobra.Command{
		Use:   "create <type-id>",
		Short: "Create a type, optionally declaring fields",
		Example: `  moisturizer types create widget
  moisturizer types create event --field at=string:date-time --field ref=string:uuid`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(createFields)
			if err != nil {
				return err
			}
			return flags.withApp(cmd, func(ctx context.Context, a *app.App) error {
				d, err := a.Registry().Create(ctx, args[0], fields)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), viewOf(d))
			})
		},
	}
	create.Flags().StringArrayVar(&createFields, "field", nil, "field declaration name=kind[:format] (repeatable)")

	var declareFields []string
	declare := &cobra.Command{
		Use:   "declare <type-id>",
		Short: "Add explicitly declared fields to a type, creating it if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(declareFields)
			if err != nil {
				return err
			}
			return flags.withApp(cmd, func(ctx context.Context, a *app.App) error {
				d := a.Registry().New(args[0], fields)
				if err := d.Save(ctx); err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), viewOf(d))
			})
		},
	}
	declare.Flags().StringArrayVar(&declareFields, "field", nil, "field declaration name=kind[:format] (repeatable)")
	_ = declare.MarkFlagRequired("field")

	get := &cobra.Command{
		Use:   "get <type-id>",
		Short: "Show a type descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withApp(cmd, func(ctx context.Context, a *app.App) error {
				d, err := a.Registry().Get(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), viewOf(d))
			})
		},
	}

	schemaCmd := &cobra.Command{
		Use:   "schema <type-id>",
		Short: "Show the resolved column of every field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withApp(cmd, func(ctx context.Context, a *app.App) error {
				d, err := a.Registry().Get(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), d.Schema())
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List type descriptors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withApp(cmd, func(ctx context.Context, a *app.App) error {
				descs, err := a.Registry().List(ctx)
				if err != nil {
					return err
				}
				views := make([]descriptorView, len(descs))
				for i, d := range descs {
					views[i] = viewOf(d)
				}
				return writeJSON(cmd.OutOrStdout(), views)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <type-id>",
		Short: "Delete a type and all of its objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Registry().Delete(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(create, declare, get, schemaCmd, list, del)
	return cmd
}

func newReconcileCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Bring every table in line with its descriptor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Registry().Reconcile(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"tables":    len(report.Results),
					"created":   report.Created,
					"altered":   report.Altered,
					"unchanged": report.Unchanged,
					"duration":  report.Duration.String(),
				})
			})
		},
	}
}
