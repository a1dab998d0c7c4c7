package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/crawl-orchestrator/internal/adapter/process"
	"github.com/user/crawl-orchestrator/internal/delivery/http/handler"
	"github.com/user/crawl-orchestrator/internal/delivery/http/router"
	"github.com/user/crawl-orchestrator/internal/entity"
	"github.com/user/crawl-orchestrator/internal/ingest"
	"github.com/user/crawl-orchestrator/internal/schedule"
	"github.com/user/crawl-orchestrator/internal/sqlgen"
	"github.com/user/crawl-orchestrator/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduling loop until SIGINT or SIGTERM. SIGHUP reloads the schedule file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrchestrator(cmd.Context(), opts)
		},
	}
}

func runOrchestrator(parent context.Context, opts *options) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	defer log.Sync()

	entries, err := schedule.ParseFile(cfg.ScheduleFile)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return &entity.ConfigError{Source: "timezone", Err: err}
	}
	gen, err := sqlgen.New(cfg.SQL.Table, cfg.SQL.Columns)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := newResources()
	defer res.Close()

	state, err := openRunState(ctx, cfg, log, res)
	if err != nil {
		return err
	}
	sink, err := openSink(ctx, cfg, gen, log, res)
	if err != nil {
		return err
	}

	dispatcher := usecase.NewDispatcher(
		log.Named("dispatcher"),
		state,
		process.NewExecRunner(log.Named("crawler")),
		usecase.NewExportConverter(ingest.New(cfg.Crawler.ExportPatterns), gen),
		sink,
		entries,
		usecase.WithTickInterval(cfg.TickInterval),
		usecase.WithMaxConcurrent(cfg.MaxConcurrent),
		usecase.WithRunTimeout(cfg.RunTimeout),
		usecase.WithOutputDir(cfg.OutputDir),
		usecase.WithCrawler(cfg.Crawler.Path, cfg.Crawler.Args),
		usecase.WithLocation(loc),
	)
	if err := dispatcher.Start(ctx); err != nil {
		return err
	}

	var server *http.Server
	if cfg.HTTP.Addr != "" {
		h := handler.NewHandler(usecase.NewTargetStatusQuery(dispatcher), res.checks, log.Named("http"))
		server = &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      router.New(h, log.Named("http")),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			log.Info("Starting status server", zap.String("addr", cfg.HTTP.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Status server failed", zap.Error(err))
			}
		}()
	}

	go watchReload(ctx, log, cfg.ScheduleFile, dispatcher)

	if err := dispatcher.Run(ctx); err != nil {
		return err
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Status server forced to shutdown", zap.Error(err))
		}
	}

	log.Info("Orchestrator exiting")
	return nil
}

// watchReload re-reads the schedule file on SIGHUP. A malformed file leaves the running
// schedule in place.
func watchReload(ctx context.Context, log *zap.Logger, path string, d *usecase.Dispatcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			entries, err := schedule.ParseFile(path)
			if err != nil {
				log.Error("Schedule reload rejected, keeping current schedule", zap.Error(err))
				continue
			}
			if err := d.ReloadSchedule(ctx, entries); err != nil {
				log.Error("Schedule reload failed", zap.Error(err))
			}
		}
	}
}
