package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tablesync/internal/core"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	bold   = color.New(color.Bold)
)

func (a *app) tablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables with primary keys and row estimates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				tables, err := svc.ListTables(ctx)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				bold.Fprintln(tw, "TABLE\tPRIMARY KEY\tCOLUMNS\tROWS (EST.)")
				for _, t := range tables {
					pk := strings.Join(t.PrimaryKeyColumns, ",")
					if pk == "" {
						pk = "-"
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", t.TableName, pk, len(t.Columns), t.RowCountEstimate)
				}
				return tw.Flush()
			})
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var (
		table  string
		all    bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one table as CSV or every table as a zip",
		Long: `
Export one table as CSV, ordered by primary key, or every table as a zip
archive with one {table}.csv entry each.

Examples:
  tablesync export --table customers              # CSV to stdout
  tablesync export --table customers -o out.csv
  tablesync export --all -o tables.zip`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (table != "") {
				return errors.New("specify exactly one of --table or --all")
			}
			if all && output == "" {
				return errors.New("--all writes a zip archive and needs -o")
			}

			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				return writeOutput(cmd.OutOrStdout(), output, func(w io.Writer) error {
					if !all {
						return svc.ExportTable(ctx, table, w)
					}
					summary, err := svc.ExportAll(ctx, w)
					if err != nil {
						return err
					}
					green.Fprintf(cmd.ErrOrStderr(), "✓ exported %d tables (%d bytes) to %s\n", summary.Tables, summary.Bytes, output)
					if len(summary.Skipped) > 0 {
						yellow.Fprintf(cmd.ErrOrStderr(), "- skipped: %s\n", strings.Join(summary.Skipped, ", "))
					}
					return nil
				})
			})
		},
	}

	cmd.Flags().StringVarP(&table, "table", "t", "", "table to export")
	cmd.Flags().BoolVar(&all, "all", false, "export every table as a zip archive")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func (a *app) templateCmd() *cobra.Command {
	var (
		table  string
		output string
	)

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write the header-only CSV for a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				csv, err := svc.TemplateCSV(ctx, table)
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), output, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, csv)
					return err
				})
			})
		},
	}

	cmd.Flags().StringVarP(&table, "table", "t", "", "table name")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func (a *app) importCmd() *cobra.Command {
	var (
		table   string
		archive bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Upsert a CSV into a table, or every table from a zip archive",
		Long: `
Import a CSV into one table, or a zip archive of {table}.csv entries into
their matching tables. Each table is imported in its own transaction; a
failing table does not stop the others in an archive.

Examples:
  tablesync import --table customers customers.csv
  tablesync import --archive tables.zip`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if archive == (table != "") {
				return errors.New("specify exactly one of --table or --archive")
			}

			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				out := cmd.OutOrStdout()
				if archive {
					f, err := os.Open(args[0])
					if err != nil {
						return err
					}
					defer f.Close()

					outcome, err := svc.ImportArchive(ctx, f)
					if err != nil {
						return err
					}
					printBulk(out, outcome)
					if outcome.FailedTables > 0 {
						return fmt.Errorf("%d of %d tables failed", outcome.FailedTables, outcome.ProcessedTables)
					}
					return nil
				}

				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				outcome, err := svc.ImportTable(ctx, table, data)
				if err != nil {
					if rejected := core.OutcomeOf(err); rejected != nil {
						printRowErrors(out, rejected)
					}
					return err
				}
				printOutcome(out, table, outcome)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&table, "table", "t", "", "target table for a CSV file")
	cmd.Flags().BoolVar(&archive, "archive", false, "treat the file as a zip of {table}.csv entries")
	return cmd
}

func (a *app) snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Store the all-tables archive in the snapshot store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				result, err := svc.Snapshot(ctx)
				if err != nil {
					return err
				}
				green.Fprintf(cmd.OutOrStdout(), "✓ snapshot %s (%d tables, %d bytes)\n", result.Key, result.Tables, result.Bytes)
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				objects, err := svc.ListSnapshots(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				bold.Fprintln(tw, "KEY\tBYTES\tCREATED")
				for _, o := range objects {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", o.Key, o.Size, o.LastModified.Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <key>",
		Short: "Import a stored snapshot into its tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				outcome, err := svc.RestoreSnapshot(ctx, args[0])
				if err != nil {
					return err
				}
				printBulk(cmd.OutOrStdout(), outcome)
				if outcome.FailedTables > 0 {
					return fmt.Errorf("%d of %d tables failed", outcome.FailedTables, outcome.ProcessedTables)
				}
				return nil
			})
		},
	})

	return cmd
}

// writeOutput sends fn's output to path, or to stdout when path is empty.
// A partially written file is removed on failure.
func writeOutput(stdout io.Writer, path string, fn func(w io.Writer) error) error {
	if path == "" {
		return fn(stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func printOutcome(w io.Writer, table string, o *core.ImportOutcome) {
	green.Fprintf(w, "✓ %s: ", table)
	fmt.Fprintf(w, "%d rows, %d inserted, %d updated, %d skipped\n", o.Total, o.Inserted, o.Updated, o.Skipped)
}

func printRowErrors(w io.Writer, o *core.ImportOutcome) {
	for _, e := range o.Errors {
		red.Fprintf(w, "  row %d: ", e.Row)
		fmt.Fprintln(w, e.Message)
	}
}

func printBulk(w io.Writer, o *core.BulkImportOutcome) {
	for _, r := range o.Results {
		switch r.Status {
		case core.EntrySuccess:
			printOutcome(w, r.TableName, r.Outcome)
		case core.EntryFailed:
			red.Fprintf(w, "✗ %s: ", r.FileName)
			fmt.Fprintln(w, r.Message)
			if r.Outcome != nil {
				printRowErrors(w, r.Outcome)
			}
		case core.EntryIgnored:
			yellow.Fprintf(w, "- %s: ", r.FileName)
			fmt.Fprintf(w, "ignored (%s)\n", r.Reason)
		}
	}

	bold.Fprintf(w, "%d files: %d succeeded, %d failed, %d ignored; ", o.TotalFiles, o.SucceededTables, o.FailedTables, o.SkippedFiles)
	fmt.Fprintf(w, "%d inserted, %d updated, %d skipped\n", o.Totals.Inserted, o.Totals.Updated, o.Totals.Skipped)
}
