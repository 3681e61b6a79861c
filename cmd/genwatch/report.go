package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"genwatch/internal/stats"
	"genwatch/internal/telegram"
)

func newReportCmd(opts *rootOptions) *cobra.Command {
	var send bool
	cmd := &cobra.Command{
		Use:       "report [today|yesterday|week|month]",
		Short:     "Print a runtime and fuel report",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"today", "yesterday", "week", "month"},
		RunE: func(cmd *cobra.Command, args []string) error {
			period := stats.PeriodToday
			if len(args) == 1 {
				p, err := stats.ParsePeriod(args[0])
				if err != nil {
					return err
				}
				period = p
			}

			e, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer e.ledger.Close()

			text, err := e.stats.Report(cmdContext(cmd), period)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)

			if !send {
				return nil
			}
			bot, err := telegram.NewBot(telegram.Config{
				BotToken: e.cfg.Telegram.BotToken,
				ChatID:   e.cfg.Telegram.ChatID,
				Enabled:  true,
				APIBase:  e.cfg.Telegram.APIBase,
				Logger:   e.logger,
			})
			if err != nil {
				return err
			}
			return bot.SendMessage(cmdContext(cmd), text)
		},
	}
	cmd.Flags().BoolVar(&send, "send", false, "also send the report to the Telegram chat")
	return cmd
}
