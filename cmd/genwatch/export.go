package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"genwatch/internal/export"
	"genwatch/internal/stats"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		format string
		month  string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a month of sessions as CSV or XLSX, or the monthly report as PDF",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			e, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer e.ledger.Close()

			loc := e.clock.Location()
			start := time.Date(e.clock.Now().Year(), e.clock.Now().Month(), 1, 0, 0, 0, 0, loc)
			if month != "" {
				if start, err = time.ParseInLocation("2006-01", month, loc); err != nil {
					return fmt.Errorf("invalid --month %q: want YYYY-MM", month)
				}
			}

			ctx := cmdContext(cmd)
			sessions, err := e.ledger.SessionsBetween(ctx, start, start.AddDate(0, 1, 0))
			if err != nil {
				return err
			}
			fuel, err := e.ledger.FuelConfig(ctx)
			if err != nil {
				return err
			}
			ms := stats.Monthly(start.Year(), start.Month(), sessions, fuel.PricePerLiter)

			var buf bytes.Buffer
			switch f {
			case export.FormatCSV:
				err = export.SessionsCSV(&buf, sessions, loc, fuel.PricePerLiter)
			case export.FormatXLSX:
				var data []byte
				data, err = export.MonthXLSX(ms, sessions, loc, fuel.PricePerLiter, e.cfg.Currency)
				buf.Write(data)
			case export.FormatPDF:
				var data []byte
				data, err = export.MonthPDF(ms, e.cfg.Currency, e.clock.Now())
				buf.Write(data)
			}
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				_, err = io.Copy(cmd.OutOrStdout(), &buf)
				return err
			}
			if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d sessions to %s\n", len(sessions), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "csv, xlsx or pdf")
	cmd.Flags().StringVarP(&month, "month", "m", "", "month as YYYY-MM (default current)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}
