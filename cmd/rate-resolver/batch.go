package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"freightaudit/internal/config"
	"freightaudit/internal/logger"
	"freightaudit/internal/reconcile"
	"freightaudit/pkg/bootstrap"
	"freightaudit/pkg/logging"
)

func batchCmd() *cobra.Command {
	var (
		input      string
		output     string
		catalogDir string
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Resolve a file of shipments and cost lines and write the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			if catalogDir != "" {
				cfg.Catalog.Source = "file"
				cfg.Catalog.AccessorialSource = "file"
				cfg.Catalog.FileDir = catalogDir
			}

			ctx, cancel := signalContext()
			defer cancel()

			return runBatch(ctx, cfg, log, input, output)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON file with shipments and lines")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Report file (default stdout)")
	cmd.Flags().StringVar(&catalogDir, "catalog-dir", "", "Read agreements from <dir>/<agreement>.json instead of the configured stores")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runBatch(ctx context.Context, cfg *config.Config, log logger.Logger, input, output string) error {
	in, err := readInput(input)
	if err != nil {
		return err
	}

	dbc := bootstrap.NewDatabaseConnector(cfg, log)
	st, err := openStores(ctx, cfg, dbc, log)
	if err != nil {
		return err
	}
	defer st.close(context.WithoutCancel(ctx), dbc)

	src, err := catalogSource(cfg, st, log)
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg.Resolver, log)
	if err != nil {
		return err
	}

	run := reconcile.NewRun(src)
	report, err := eng.runner.Reconcile(logging.WithServiceName(ctx, "batch"), run, in)
	if err != nil {
		return fmt.Errorf("reconciliation interrupted: %w", err)
	}

	return writeReport(output, report)
}

func readInput(path string) (reconcile.Input, error) {
	var in reconcile.Input
	f, err := os.Open(path)
	if err != nil {
		return in, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&in); err != nil {
		return in, fmt.Errorf("failed to decode input %s: %w", path, err)
	}
	return in, nil
}

func writeReport(path string, report *reconcile.Report) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
