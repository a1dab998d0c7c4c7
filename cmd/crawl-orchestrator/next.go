package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/crawl-orchestrator/internal/entity"
	"github.com/user/crawl-orchestrator/internal/schedule"
)

func newNextCommand(opts *options) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Print when every target is next due, using the persisted run state.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			entries, err := schedule.ParseFile(cfg.ScheduleFile)
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return &entity.ConfigError{Source: "timezone", Err: err}
			}

			now := time.Now()
			if at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}
			now = now.In(loc)

			res := newResources()
			defer res.Close()
			state, err := openRunState(cmd.Context(), cfg, log, res)
			if err != nil {
				return err
			}
			records, err := state.Load(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "URL\tFREQUENCY\tLAST RUN\tSTATUS\tNEXT DUE\tDUE")
			for _, e := range entries {
				rec, ok := records[e.URL]
				if !ok {
					rec = entity.NewRunRecord(e.URL)
				}
				lastRun := "-"
				if rec.LastRunAt != nil {
					lastRun = rec.LastRunAt.In(loc).Format(time.RFC3339)
				}
				status := string(rec.LastStatus)
				if rec.InProgress {
					status = "running"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
					e.URL,
					describeFrequency(e),
					lastRun,
					status,
					schedule.NextDue(e, rec, now).Format(time.RFC3339),
					schedule.IsDue(e, rec, now),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate at this RFC3339 time instead of now")
	return cmd
}
