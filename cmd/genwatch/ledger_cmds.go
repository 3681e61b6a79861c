package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"genwatch/internal/ledger"
)

const listTimeLayout = "2006-01-02 15:04"

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent generator sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer e.ledger.Close()

			sessions, err := e.ledger.Sessions(cmdContext(cmd), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions recorded.")
				return nil
			}
			return printSessions(out, sessions, e.clock.Location())
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printSessions(w io.Writer, sessions []*ledger.Session, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTART\tEND\tHOURS\tFUEL (L)\tNOTES")
	for _, s := range sessions {
		end, hours, fuel := "running", "-", "-"
		if !s.IsOpen() {
			end = s.EndTime.In(loc).Format(listTimeLayout)
			hours = fmt.Sprintf("%.2f", s.Hours())
			fuel = fmt.Sprintf("%.2f", s.Fuel())
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.StartTime.In(loc).Format(listTimeLayout), end, hours, fuel, s.Notes)
	}
	return tw.Flush()
}

func newEventsCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		typ    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent ON/OFF/ERROR events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			etype := ledger.EventType(strings.ToUpper(typ))
			if etype != "" && !etype.Valid() {
				return fmt.Errorf("%w: %q", ledger.ErrInvalidEventType, typ)
			}

			e, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer e.ledger.Close()

			events, err := e.ledger.Events(cmdContext(cmd), limit, etype)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, events)
			}
			if len(events) == 0 {
				fmt.Fprintln(out, "No events recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIME\tTYPE\tCONFIDENCE\tMESSAGE")
			for _, ev := range events {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
					ev.ID, ev.Timestamp.In(e.clock.Location()).Format(time.DateTime), ev.Type, ev.Confidence, ev.Message)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of events to show")
	cmd.Flags().StringVarP(&typ, "type", "t", "", "only show ON, OFF or ERROR events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newFuelCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fuel",
		Short: "Show or change fuel consumption and price",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the fuel settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer e.ledger.Close()

			cfg, err := e.ledger.FuelConfig(cmdContext(cmd))
			if err != nil {
				return err
			}
			printFuel(cmd.OutOrStdout(), cfg, e.cfg.Currency)
			return nil
		},
	}

	var rate, tank, price float64
	set := &cobra.Command{
		Use:   "set",
		Short: "Change fuel settings; omitted flags keep their value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("rate") && !flags.Changed("tank") && !flags.Changed("price") {
				return fmt.Errorf("nothing to change: pass --rate, --tank or --price")
			}

			e, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer e.ledger.Close()

			ctx := cmdContext(cmd)
			cfg, err := e.ledger.FuelConfig(ctx)
			if err != nil {
				return err
			}
			if flags.Changed("rate") {
				cfg.RatePerHour = rate
			}
			if flags.Changed("tank") {
				cfg.TankCapacity = tank
			}
			if flags.Changed("price") {
				cfg.PricePerLiter = price
			}
			if cfg, err = e.ledger.UpdateFuelConfig(ctx, cfg); err != nil {
				return err
			}
			printFuel(cmd.OutOrStdout(), cfg, e.cfg.Currency)
			return nil
		},
	}
	set.Flags().Float64Var(&rate, "rate", 0, "consumption in liters per hour")
	set.Flags().Float64Var(&tank, "tank", 0, "tank capacity in liters")
	set.Flags().Float64Var(&price, "price", 0, "price per liter")

	cmd.AddCommand(show, set)
	return cmd
}

func printFuel(w io.Writer, cfg ledger.FuelConfig, currency string) {
	fmt.Fprintf(w, "Consumption: %.2f l/h\n", cfg.RatePerHour)
	fmt.Fprintf(w, "Tank:        %.1f l\n", cfg.TankCapacity)
	fmt.Fprintf(w, "Price:       %.2f %s/l\n", cfg.PricePerLiter, currency)
	fmt.Fprintf(w, "Updated:     %s\n", cfg.UpdatedAt.Format(time.DateTime))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
