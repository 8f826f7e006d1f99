package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moisturizer/moisturizer/internal/app"
	"github.com/moisturizer/moisturizer/internal/objects"
)

func newObjectsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "objects",
		Short: "Read and write objects",
	}

	var putID, putFile string
	put := &cobra.Command{
		Use:   "put <type-id>",
		Short: "Store a JSON object read from --file or stdin",
		Example: `  echo '{"foo": "bar", "number": 42}' | moisturizer objects put my_type
  moisturizer objects put my_type --id 42 --file obj.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if putFile != "" && putFile != "-" {
				f, err := os.Open(putFile)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			obj, err := objects.DecodeJSON(in)
			if err != nil {
				return err
			}
			return flags.withApp(cmd, func(ctx context.Context, a *app.App) error {
				var err error
				var out any
				if putID != "" {
					out, err = a.Objects().Upsert(ctx, args[0], putID, obj)
				} else {
					out, err = a.Objects().Put(ctx, args[0], obj)
				}
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	put.Flags().StringVar(&putID, "id", "", "store under this id, replacing any existing object")
	put.Flags().StringVarP(&putFile, "file", "f", "", "read the object from a file instead of stdin")

	get := &cobra.Command{
		Use:   "get <type-id> <id>",
		Short: "Show one object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withApp(cmd, func(ctx context.Context, a *app.App) error {
				rec, err := a.Objects().Get(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rec)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list <type-id>",
		Short: "List the objects of a type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withApp(cmd, func(ctx context.Context, a *app.App) error {
				recs, err := a.Objects().List(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), recs)
			})
		},
	}

	var deleteAll bool
	del := &cobra.Command{
		Use:   "delete <type-id> [id]",
		Short: "Delete one object, or every object of a type with --all",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if deleteAll == (len(args) == 2) {
				return fmt.Errorf("give either an object id or --all")
			}
			return flags.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if deleteAll {
					recs, err := a.Objects().DeleteAll(ctx, args[0])
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), recs)
				}
				return a.Objects().Delete(ctx, args[0], args[1])
			})
		},
	}
	del.Flags().BoolVar(&deleteAll, "all", false, "delete every object of the type")

	cmd.AddCommand(put, get, list, del)
	return cmd
}
