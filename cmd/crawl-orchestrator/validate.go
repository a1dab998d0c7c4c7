package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/crawl-orchestrator/internal/entity"
	"github.com/user/crawl-orchestrator/internal/schedule"
	"github.com/user/crawl-orchestrator/internal/sqlgen"
)

func newValidateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config, schedule and column mapping, then print the schedule.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			entries, err := schedule.ParseFile(cfg.ScheduleFile)
			if err != nil {
				return err
			}
			if _, err := sqlgen.New(cfg.SQL.Table, cfg.SQL.Columns); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LINE\tURL\tFREQUENCY\tTIME")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.Line, e.URL, describeFrequency(e), e.TimeOfDay)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d targets OK\n", len(entries))
			return nil
		},
	}
}

func describeFrequency(e entity.ScheduleEntry) string {
	switch e.Frequency {
	case entity.FrequencyMonthly:
		if e.DayOfMonth > 1 {
			return fmt.Sprintf("monthly:%d", e.DayOfMonth)
		}
	case entity.FrequencyInterval:
		return "every " + e.Interval.String()
	}
	return string(e.Frequency)
}
