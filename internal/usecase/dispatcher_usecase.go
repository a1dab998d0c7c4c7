package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/crawl-orchestrator/internal/entity"
	"github.com/user/crawl-orchestrator/internal/repository"
	"github.com/user/crawl-orchestrator/internal/schedule"
	"github.com/user/crawl-orchestrator/pkg/metrics"
	"github.com/user/crawl-orchestrator/pkg/utils"
)

const (
	defaultTickInterval  = time.Minute
	defaultMaxConcurrent = 1
	defaultRunTimeout    = 6 * time.Hour

	// Placeholders substituted in crawler arguments.
	placeholderURL    = "{url}"
	placeholderOutput = "{output}"
)

// activeRun is a launched crawler that has not been reaped yet.
type activeRun struct {
	meta    entity.RunMeta
	process repository.Process
	logger  *zap.Logger
}

// finishedRun is a reaped crawler waiting for its outcome to be recorded.
type finishedRun struct {
	run *activeRun
	err error
}

// Dispatcher drives the per-target state machine. Each Tick reaps finished or timed-out
// crawler processes, records their outcome and launches targets that are due.
type Dispatcher struct {
	logger    *zap.Logger
	state     repository.RunStateRepository
	runner    repository.ProcessRunner
	converter *ExportConverter
	sink      repository.StatementSink

	// tickMu serializes ticks and shutdown. mu guards the fields below it.
	tickMu  sync.Mutex
	mu      sync.Mutex
	entries []entity.ScheduleEntry
	records map[string]entity.RunRecord
	states  map[string]entity.TargetState
	running map[string]*activeRun
	stopped bool

	tickInterval  time.Duration
	maxConcurrent int
	runTimeout    time.Duration
	outputDir     string
	crawlerPath   string
	crawlerArgs   []string
	location      *time.Location
	now           func() time.Time
	newRunID      func() string
}

// NewDispatcher creates a dispatcher for entries. Start must be called before the first Tick.
func NewDispatcher(
	log *zap.Logger,
	state repository.RunStateRepository,
	runner repository.ProcessRunner,
	converter *ExportConverter,
	sink repository.StatementSink,
	entries []entity.ScheduleEntry,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		logger:        log,
		state:         state,
		runner:        runner,
		converter:     converter,
		sink:          sink,
		entries:       entries,
		records:       make(map[string]entity.RunRecord),
		states:        make(map[string]entity.TargetState),
		running:       make(map[string]*activeRun),
		tickInterval:  defaultTickInterval,
		maxConcurrent: defaultMaxConcurrent,
		runTimeout:    defaultRunTimeout,
		outputDir:     "crawls",
		location:      time.Local,
		now:           time.Now,
		newRunID:      func() string { return uuid.New().String() },
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Dispatcher) clock() time.Time {
	return d.now().In(d.location)
}

// Start loads persisted run state. Records left in progress by a previous process are
// closed as interrupted failures, since their crawler is no longer supervised.
func (d *Dispatcher) Start(ctx context.Context) error {
	stored, err := d.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("load run state: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, entry := range d.entries {
		rec, ok := stored[entry.URL]
		if !ok {
			rec = entity.NewRunRecord(entry.URL)
		}

		if rec.InProgress {
			if rec, err = d.closeInterrupted(ctx, rec); err != nil {
				return err
			}
		}

		d.records[entry.URL] = rec
		d.states[entry.URL] = entity.StateIdle
	}

	metrics.TargetsScheduled.Set(float64(len(d.entries)))
	d.logger.Info("Dispatcher started",
		zap.Int("targets", len(d.entries)),
		zap.Int("max_concurrent", d.maxConcurrent),
		zap.Duration("run_timeout", d.runTimeout),
	)
	return nil
}

// closeInterrupted records a persisted in-progress run, left behind by a previous process, as
// failed. LastRunAt is kept so the frequency window stays consumed.
func (d *Dispatcher) closeInterrupted(ctx context.Context, rec entity.RunRecord) (entity.RunRecord, error) {
	d.logger.Warn("Closing run interrupted by previous shutdown",
		zap.String("url", rec.URL),
		zap.String("run_id", rec.RunID),
	)
	rec.InProgress = false
	rec.LastStatus = entity.RunStatusFailure
	rec.LastError = entity.ErrInterrupted.Error()
	if err := d.state.Save(ctx, rec); err != nil {
		return rec, fmt.Errorf("save interrupted run of %s: %w", rec.URL, err)
	}
	metrics.RunsTotal.WithLabelValues(string(entity.RunStatusFailure), entity.ErrorType(entity.ErrInterrupted)).Inc()
	return rec, nil
}

// Run ticks at the configured interval until ctx is cancelled, then kills crawlers still
// in flight and records them as interrupted.
func (d *Dispatcher) Run(ctx context.Context) error {
	cron := gocron.NewScheduler(d.location)
	cron.SingletonModeAll()

	if _, err := cron.Every(d.tickInterval).StartImmediately().Do(d.Tick, ctx); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}

	d.logger.Info("Dispatcher loop running", zap.Duration("tick_interval", d.tickInterval))
	cron.StartAsync()

	<-ctx.Done()
	cron.Stop()
	d.Shutdown()
	return nil
}

// Tick performs one scheduling pass.
func (d *Dispatcher) Tick(ctx context.Context) {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	finished := d.reap(d.clock())
	d.mu.Unlock()

	for i := range finished {
		if finished[i].err == nil {
			finished[i].err = d.collect(ctx, finished[i].run)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock()
	for _, f := range finished {
		d.complete(ctx, f.run, f.err, now)
	}
	d.launchDue(ctx, now)
	metrics.RunningCrawls.Set(float64(len(d.running)))
}

// reap removes finished and timed-out runs from the running set. Timed-out crawlers are killed.
func (d *Dispatcher) reap(now time.Time) []finishedRun {
	var finished []finishedRun

	// Iterate in declaration order so outcomes are recorded deterministically.
	for _, url := range d.runningURLs() {
		run := d.running[url]

		if status, done := run.process.Poll(); done {
			f := finishedRun{run: run}
			if !status.Success() {
				f.err = &entity.ExitError{URL: url, Status: status}
			}
			finished = append(finished, f)
			delete(d.running, url)
			continue
		}

		if now.Sub(run.meta.StartedAt) > d.runTimeout {
			run.logger.Warn("Crawler exceeded run timeout, killing",
				zap.Duration("timeout", d.runTimeout),
				zap.Int("pid", run.process.PID()),
			)
			if err := run.process.Kill(); err != nil {
				run.logger.Error("Failed to kill crawler", zap.Error(err))
			}
			finished = append(finished, finishedRun{
				run: run,
				err: &entity.RunTimeoutError{URL: url, Timeout: d.runTimeout},
			})
			delete(d.running, url)
		}
	}

	return finished
}

// runningURLs lists running targets in schedule order, followed by targets that were removed
// from the schedule while still running.
func (d *Dispatcher) runningURLs() []string {
	urls := make([]string, 0, len(d.running))
	seen := make(map[string]bool, len(d.running))
	for _, e := range d.entries {
		if _, ok := d.running[e.URL]; ok {
			urls = append(urls, e.URL)
			seen[e.URL] = true
		}
	}
	for url := range d.running {
		if !seen[url] {
			urls = append(urls, url)
		}
	}
	return urls
}

// collect converts the export of a successful run and hands the statements to the sink.
// Nothing reaches the sink unless the whole export was read.
func (d *Dispatcher) collect(ctx context.Context, run *activeRun) error {
	conv, err := d.converter.Convert(run.meta)
	if err != nil {
		return err
	}

	if conv.RowErrors != nil {
		run.logger.Warn("Some export rows could not be converted",
			zap.Int("invalid_rows", conv.Invalid),
			zap.Error(conv.RowErrors),
		)
	}

	if conv.Rows > conv.Invalid {
		if err := d.sink.Write(ctx, run.meta, conv.Statements); err != nil {
			return &entity.SinkError{RunID: run.meta.RunID, Err: err}
		}
	}

	run.logger.Info("Crawl export converted",
		zap.Int("rows", conv.Rows),
		zap.Int("statements", conv.Rows-conv.Invalid),
	)
	return nil
}

// complete records the outcome of a run and returns the target to idle.
func (d *Dispatcher) complete(ctx context.Context, run *activeRun, runErr error, now time.Time) {
	url := run.meta.URL
	rec, ok := d.records[url]
	if !ok {
		rec = entity.NewRunRecord(url)
	}

	rec.InProgress = false
	rec.LastDuration = now.Sub(run.meta.StartedAt)
	status := entity.RunStatusSuccess
	rec.LastError = ""
	if runErr != nil {
		status = entity.RunStatusFailure
		rec.LastError = runErr.Error()
	}
	rec.LastStatus = status

	if status == entity.RunStatusSuccess {
		d.transition(url, entity.StateSucceeded)
		run.logger.Info("Crawl run succeeded", zap.Duration("duration", rec.LastDuration))
	} else {
		d.transition(url, entity.StateFailed)
		run.logger.Error("Crawl run failed",
			zap.String("error_type", entity.ErrorType(runErr)),
			zap.Duration("duration", rec.LastDuration),
			zap.Error(runErr),
		)
	}

	metrics.RunsTotal.WithLabelValues(string(status), entity.ErrorType(runErr)).Inc()
	metrics.RunDuration.WithLabelValues(string(status)).Observe(rec.LastDuration.Seconds())

	if err := d.state.Save(ctx, rec); err != nil {
		run.logger.Error("Failed to save run state", zap.Error(err))
	}

	if d.scheduled(url) {
		d.records[url] = rec
		d.transition(url, entity.StateIdle)
	} else {
		delete(d.records, url)
		delete(d.states, url)
	}
}

// launchDue starts due targets in declaration order until the concurrency ceiling is reached.
func (d *Dispatcher) launchDue(ctx context.Context, now time.Time) {
	waiting := 0
	for _, entry := range d.entries {
		if _, ok := d.running[entry.URL]; ok {
			continue
		}

		rec := d.records[entry.URL]
		if !schedule.IsDue(entry, rec, now) {
			continue
		}

		if d.states[entry.URL] == entity.StateIdle {
			d.transition(entry.URL, entity.StateDue)
		}

		if len(d.running) >= d.maxConcurrent {
			waiting++
			continue
		}

		d.launch(ctx, entry, rec, now)
	}

	if waiting > 0 {
		d.logger.Debug("Concurrency ceiling reached, due targets wait for a free slot",
			zap.Int("waiting", waiting),
			zap.Int("max_concurrent", d.maxConcurrent),
		)
	}
}

func (d *Dispatcher) launch(ctx context.Context, entry entity.ScheduleEntry, rec entity.RunRecord, now time.Time) {
	runID := d.newRunID()
	meta := entity.RunMeta{
		URL:       entry.URL,
		RunID:     runID,
		OutputDir: filepath.Join(d.outputDir, utils.HashURL(entry.URL), runID),
		StartedAt: now,
	}
	log := d.logger.With(zap.String("url", entry.URL), zap.String("run_id", runID))

	startedAt := now
	rec.LastRunAt = &startedAt
	rec.InProgress = true
	rec.RunID = runID
	if err := d.state.Save(ctx, rec); err != nil {
		// Without a durable in-progress marker the run is not started; the target stays due.
		log.Error("Failed to save run state before launch", zap.Error(err))
		return
	}
	d.records[entry.URL] = rec
	d.transition(entry.URL, entity.StateRunning)

	run := &activeRun{meta: meta, logger: log}

	if err := os.MkdirAll(meta.OutputDir, 0o755); err != nil {
		d.complete(ctx, run, &entity.RunLaunchError{URL: entry.URL, Err: err}, now)
		return
	}

	cmd := entity.CrawlCommand{
		Path: d.crawlerPath,
		Args: expandArgs(d.crawlerArgs, entry.URL, meta.OutputDir),
		Dir:  meta.OutputDir,
	}
	process, err := d.runner.Start(ctx, cmd)
	if err != nil {
		d.complete(ctx, run, &entity.RunLaunchError{URL: entry.URL, Err: err}, now)
		return
	}

	run.process = process
	d.running[entry.URL] = run
	log.Info("Crawler launched",
		zap.Int("pid", process.PID()),
		zap.String("output_dir", meta.OutputDir),
	)
}

func (d *Dispatcher) transition(url string, to entity.TargetState) {
	from := d.states[url]
	if err := entity.ValidateTransition(from, to); err != nil {
		d.logger.Error("Unexpected target state transition", zap.String("url", url), zap.Error(err))
	}
	d.states[url] = to
}

func (d *Dispatcher) scheduled(url string) bool {
	for _, e := range d.entries {
		if e.URL == url {
			return true
		}
	}
	return false
}

// Shutdown kills every running crawler and records the runs as interrupted. Ticks after
// Shutdown are no-ops.
func (d *Dispatcher) Shutdown() {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true

	// The caller's context is usually cancelled by now; state must still be written.
	ctx := context.Background()
	now := d.clock()
	for _, url := range d.runningURLs() {
		run := d.running[url]
		if err := run.process.Kill(); err != nil {
			run.logger.Error("Failed to kill crawler on shutdown", zap.Error(err))
		}
		delete(d.running, url)
		d.complete(ctx, run, entity.ErrInterrupted, now)
	}
	metrics.RunningCrawls.Set(0)
	d.logger.Info("Dispatcher stopped")
}

// Snapshot returns the current status of every scheduled target in declaration order.
func (d *Dispatcher) Snapshot() []entity.TargetStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock()
	out := make([]entity.TargetStatus, 0, len(d.entries))
	for _, e := range d.entries {
		rec := d.records[e.URL]
		out = append(out, entity.TargetStatus{
			URL:        e.URL,
			Frequency:  e.Frequency,
			State:      d.states[e.URL],
			NextDueAt:  schedule.NextDue(e, rec, now),
			LastRunAt:  rec.LastRunAt,
			LastStatus: rec.LastStatus,
			LastError:  rec.LastError,
			RunID:      rec.RunID,
		})
	}
	return out
}

// ReloadSchedule replaces the schedule. Targets that keep their url keep their run state;
// new targets pick up any state persisted for them. Crawlers of removed targets run to
// completion and are recorded, but are not launched again.
func (d *Dispatcher) ReloadSchedule(ctx context.Context, entries []entity.ScheduleEntry) error {
	stored, err := d.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("load run state: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	records := make(map[string]entity.RunRecord, len(entries))
	states := make(map[string]entity.TargetState, len(entries))
	for _, e := range entries {
		rec, ok := d.records[e.URL]
		if !ok {
			rec, ok = stored[e.URL]
			if !ok {
				rec = entity.NewRunRecord(e.URL)
			} else if rec.InProgress {
				if rec, err = d.closeInterrupted(ctx, rec); err != nil {
					return err
				}
			}
		}
		records[e.URL] = rec

		state, ok := d.states[e.URL]
		if !ok || state == entity.StateDue {
			state = entity.StateIdle
		}
		states[e.URL] = state
	}
	for url := range d.running {
		if _, ok := records[url]; !ok {
			records[url] = d.records[url]
			states[url] = d.states[url]
		}
	}

	d.entries = entries
	d.records = records
	d.states = states
	metrics.TargetsScheduled.Set(float64(len(entries)))
	d.logger.Info("Schedule reloaded", zap.Int("targets", len(entries)))
	return nil
}

func expandArgs(args []string, url, output string) []string {
	out := make([]string, len(args))
	r := strings.NewReplacer(placeholderURL, url, placeholderOutput, output)
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}
