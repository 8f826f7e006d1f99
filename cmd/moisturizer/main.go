// Command moisturizer stores schemaless JSON objects in typed tables whose
// schema is inferred from the objects written to them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moisturizer/moisturizer/internal/app"
	"github.com/moisturizer/moisturizer/internal/config"
	merrors "github.com/moisturizer/moisturizer/internal/errors"
)

var (
	version = "dev"
	commit  = "unknown"
)

// globalFlags are the persistent flags shared by every command. Flags win
// over the environment and the config file.
type globalFlags struct {
	configFile string
	dataDir    string
	backend    string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if code := merrors.GetCode(err); code != "" {
			fmt.Fprintln(os.Stderr, "code:", code)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "moisturizer",
		Short: "Schema-inferring object store",
		Long: `moisturizer stores schemaless JSON objects in typed tables.

Every object type has a descriptor recording the kind of each field seen so
far. New fields are added to the descriptor and to the type's table as they
appear; existing fields never change kind.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "path to configuration file (YAML or JSON)")
	pf.StringVar(&flags.dataDir, "data-dir", "", "base directory for all data files")
	pf.StringVar(&flags.backend, "backend", "", "storage backend: sqlite or bolt")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newTypesCmd(flags),
		newObjectsCmd(flags),
		newReconcileCmd(flags),
		newSnapshotCmd(flags),
		newVersionCmd(),
	)
	return root
}

// loadConfig layers the persistent flags over the file and environment.
func (f *globalFlags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	pf := cmd.Flags()
	if pf.Changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if pf.Changed("backend") {
		cfg.Backend.Type = f.backend
	}
	if pf.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	return cfg, nil
}

// withApp opens the application for the duration of fn.
func (f *globalFlags) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := f.loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "moisturizer version %s (commit: %s)\n", version, commit)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
