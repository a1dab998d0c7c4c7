package main

import (
	"bufio"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/crawl-orchestrator/internal/entity"
	"github.com/user/crawl-orchestrator/internal/ingest"
	"github.com/user/crawl-orchestrator/internal/sqlgen"
	"github.com/user/crawl-orchestrator/internal/usecase"
)

func newSQLCommand(opts *options) *cobra.Command {
	var (
		targetURL string
		runID     string
		withDDL   bool
	)

	cmd := &cobra.Command{
		Use:   "sql <export-dir>",
		Short: "Convert an existing crawl export directory to INSERT statements on stdout.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			gen, err := sqlgen.New(cfg.SQL.Table, cfg.SQL.Columns)
			if err != nil {
				return err
			}

			meta := entity.RunMeta{
				URL:       targetURL,
				RunID:     runID,
				OutputDir: args[0],
				StartedAt: time.Now(),
			}
			conv, err := usecase.NewExportConverter(ingest.New(cfg.Crawler.ExportPatterns), gen).Convert(meta)
			if err != nil {
				return err
			}
			if conv.RowErrors != nil {
				log.Warn("Skipped rows that could not be converted",
					zap.Int("invalid_rows", conv.Invalid),
					zap.Error(conv.RowErrors),
				)
			}

			w := bufio.NewWriter(cmd.OutOrStdout())
			if withDDL {
				fmt.Fprintln(w, gen.CreateTable())
			}
			for _, st := range conv.Statements {
				if st.Valid {
					fmt.Fprintln(w, st.Text)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&targetURL, "url", "", "target url recorded in the _target_url field")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id recorded in the _run_id field")
	cmd.Flags().BoolVar(&withDDL, "ddl", false, "print CREATE TABLE before the inserts")
	return cmd
}
