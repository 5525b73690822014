// Package main provides the adperf command line.
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
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/radiusdt/adperf/internal/app"
	"github.com/radiusdt/adperf/internal/config"
	"github.com/radiusdt/adperf/internal/export"
	"github.com/radiusdt/adperf/internal/filter"
	"github.com/radiusdt/adperf/internal/middleware"
	"github.com/radiusdt/adperf/internal/views"
)

var (
	viewFilterFile string
	viewClientID   string
	viewFormat     string
	viewOut        string
	viewVersion    int64
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "adperf",
		Short:        "Ad performance KPI dashboard backend",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newViewCmd())
	rootCmd.AddCommand(newBumpCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// setup loads configuration and builds the application. The caller must
// close the returned app.
func setup(ctx context.Context) (*app.App, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	a, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		return nil, nil, err
	}
	return a, logger, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, logger, err := setup(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close()
			return a.Serve(ctx)
		},
	}
}

func newViewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "view <view-id>",
		Short:     "Assemble a view and print it as JSON or write an export",
		Args:      cobra.ExactArgs(1),
		ValidArgs: viewIDs(),
		RunE:      runViewCmd,
	}
	cmd.Flags().StringVar(&viewFilterFile, "filter", "", "YAML or JSON filter file")
	cmd.Flags().StringVar(&viewClientID, "client-id", "", "narrow the view to one client")
	cmd.Flags().StringVar(&viewFormat, "format", "json", "json, csv or xlsx")
	cmd.Flags().StringVarP(&viewOut, "out", "o", "", "output file (default stdout)")
	cmd.Flags().Int64Var(&viewVersion, "version", 0, "snapshot version (default current)")
	return cmd
}

func runViewCmd(cmd *cobra.Command, args []string) error {
	v, err := views.ParseView(args[0])
	if err != nil {
		return err
	}
	spec, err := readFilter(viewFilterFile)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer a.Close()

	version := viewVersion
	if version == 0 {
		if version, err = a.Versions.Current(ctx); err != nil {
			return err
		}
	}
	out, err := a.Assembler.Run(ctx, views.Request{View: v, Filter: spec, ClientID: viewClientID, Version: version})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if viewOut != "" {
		f, err := os.Create(viewOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return writeOutput(w, viewFormat, out)
}

func writeOutput(w io.Writer, format string, out views.Output) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	return export.Write(w, f, out)
}

// readFilter parses a filter file. JSON files are valid YAML.
func readFilter(path string) (filter.Spec, error) {
	var spec filter.Spec
	if path == "" {
		return spec, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("read filter: %w", err)
	}
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return spec, fmt.Errorf("parse filter %s: %w", path, err)
	}
	return spec, nil
}

func newBumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bump",
		Short: "Advance the snapshot version after a warehouse refresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, logger, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close()

			v, err := a.Versions.Bump(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot version %d\n", v)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), app.Version)
		},
	}
}

func viewIDs() []string {
	ids := make([]string, len(views.All))
	for i, v := range views.All {
		ids[i] = string(v)
	}
	return ids
}
