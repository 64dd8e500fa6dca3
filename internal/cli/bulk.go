package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/icysupport/bridgewatch/internal/bulk"
	"github.com/icysupport/bridgewatch/internal/config"
	"github.com/icysupport/bridgewatch/internal/fleet"
	"github.com/icysupport/bridgewatch/internal/ui"
)

var bulkFlags struct {
	customersFile string
	workers       int
	dir           string
	allSchemas    bool
}

var exportCustomersCmd = &cobra.Command{
	Use:   "export-customers [customer...]",
	Short: "Export the standard report queries into one workbook per customer",
	Long: `Runs the configured report queries for every customer schema, at most
bulk.workers customers at a time, and writes <customer>_<YYYY-MM-DD>.xlsx
with a sheet per query. Customers come from the arguments, --all-schemas or
the customers file (one schema per line).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bc := cfg.Bulk
		if cmd.Flags().Changed("workers") {
			bc.Workers = bulkFlags.workers
		}
		if bc.Workers < 0 || bc.Workers > bulk.MaxWorkers {
			return argErr(fmt.Errorf("--workers must be between 1 and %d", bulk.MaxWorkers))
		}
		if cmd.Flags().Changed("dir") {
			bc.Dir = bulkFlags.dir
		}
		if cmd.Flags().Changed("customers") {
			bc.CustomersFile = bulkFlags.customersFile
		}
		return runExportCustomers(cmd.Context(), newApp(cmd), bc, args, bulkFlags.allSchemas)
	},
}

func init() {
	exportCustomersCmd.Flags().StringVar(&bulkFlags.customersFile, "customers", "", "file with one customer schema per line (config bulk.customers_file)")
	exportCustomersCmd.Flags().IntVar(&bulkFlags.workers, "workers", 0, fmt.Sprintf("concurrent customers, at most %d", bulk.MaxWorkers))
	exportCustomersCmd.Flags().StringVar(&bulkFlags.dir, "dir", "", "output directory for the workbooks")
	exportCustomersCmd.Flags().BoolVar(&bulkFlags.allSchemas, "all-schemas", false, "export every non-system schema instead of the customers file")
	rootCmd.AddCommand(exportCustomersCmd)
}

func runExportCustomers(ctx context.Context, a *app, bc config.BulkConfig, customers []string, allSchemas bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m, err := a.connector()
	if err != nil {
		return err
	}

	switch {
	case len(customers) > 0:
	case allSchemas:
		sources, err := fleet.ListSources(ctx, m)
		if err != nil {
			return fmt.Errorf("enumerate schemas: %w", err)
		}
		for _, s := range sources {
			customers = append(customers, s.Schema)
		}
	default:
		if bc.CustomersFile == "" {
			return argErr(errors.New("no customers given: pass them as arguments, use --all-schemas or set bulk.customers_file"))
		}
		customers, err = bulk.ReadCustomers(bc.CustomersFile)
		if err != nil {
			return argErr(err)
		}
	}
	if len(customers) == 0 {
		ui.Info(a.out, "no customers to export")
		return nil
	}

	exp := a.exporter()
	runner, err := bulk.NewRunner(bc.Runner(), m, exp, a.log)
	if err != nil {
		return err
	}
	runner.WithClock(a.now)

	rec, closeJournal := a.openJournal(ctx)
	defer closeJournal()
	run := rec.Begin(ctx, "export-customers", map[string]any{
		"customers": len(customers),
		"workers":   bc.Workers,
		"dir":       bc.Dir,
	})

	results := runner.Run(ctx, customers)

	summary := bulk.SummaryTable(results)
	ui.PrintTable(a.out, "Customer exports", summary)

	dir := bc.Dir
	if dir == "" {
		dir = "."
	}
	name := fmt.Sprintf("export_summary_%s.csv", a.now().Format("2006-01-02"))
	path, err := exp.WriteCSV(filepath.Join(dir, name), summary)
	if err == nil {
		a.printWritten([]string{path})
	}

	rows := 0
	for _, r := range results {
		rows += r.Rows
	}
	run.Finish(ctx, bulkOutcomes(results), rows, err)
	return err
}
