package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/user/crawl-orchestrator/internal/entity"
	"github.com/user/crawl-orchestrator/internal/ingest"
	"github.com/user/crawl-orchestrator/internal/repository"
	"github.com/user/crawl-orchestrator/internal/repository/mocks"
	"github.com/user/crawl-orchestrator/internal/sqlgen"
	"github.com/user/crawl-orchestrator/pkg/metrics"
)

const threeRowExport = "Address,Status Code,Title 1\n" +
	"https://example.com/,200,Home\n" +
	"https://example.com/about,200,About O'Brien\n" +
	"https://example.com/missing,404,\n"

// fakeProcess is a crawler whose exit the test controls.
type fakeProcess struct {
	mu     sync.Mutex
	pid    int
	exit   *entity.ExitStatus
	killed bool
}

func (p *fakeProcess) Poll() (entity.ExitStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit == nil {
		return entity.ExitStatus{}, false
	}
	return *p.exit, true
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	if p.exit == nil {
		p.exit = &entity.ExitStatus{Code: -1, Err: errors.New("signal: killed")}
	}
	return nil
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) finish(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exit = &entity.ExitStatus{Code: code}
}

// fakeRunner records launches. The target url is the second crawler argument.
type fakeRunner struct {
	mu       sync.Mutex
	started  []entity.CrawlCommand
	procs    map[string]*fakeProcess
	startErr error
	// export, when non-empty, is written into the run directory at launch.
	export string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{procs: make(map[string]*fakeProcess)}
}

func (r *fakeRunner) Start(ctx context.Context, cmd entity.CrawlCommand) (repository.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return nil, r.startErr
	}
	r.started = append(r.started, cmd)
	if r.export != "" {
		if err := os.WriteFile(filepath.Join(cmd.Dir, "internal_all.csv"), []byte(r.export), 0o644); err != nil {
			return nil, err
		}
	}
	p := &fakeProcess{pid: 1000 + len(r.started)}
	r.procs[cmd.Args[1]] = p
	return p, nil
}

func (r *fakeRunner) launches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started)
}

func (r *fakeRunner) process(url string) *fakeProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.procs[url]
}

// memStore is an in-memory RunStateRepository.
type memStore struct {
	mu      sync.Mutex
	records map[string]entity.RunRecord
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]entity.RunRecord)}
}

func (s *memStore) Load(ctx context.Context) (map[string]entity.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]entity.RunRecord, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) Save(ctx context.Context, record entity.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.records[record.URL] = record
	return nil
}

func (s *memStore) get(url string) entity.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[url]
}

type harness struct {
	d      *Dispatcher
	runner *fakeRunner
	store  *memStore
	sink   *mocks.MockStatementSink
	now    time.Time
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *harness) tick() { h.d.Tick(context.Background()) }

func daily(url string, hour, minute int) entity.ScheduleEntry {
	return entity.ScheduleEntry{
		URL:       url,
		Frequency: entity.FrequencyDaily,
		TimeOfDay: entity.TimeOfDay{Hour: hour, Minute: minute},
	}
}

func newHarness(t *testing.T, store *memStore, entries []entity.ScheduleEntry, opts ...DispatcherOption) *harness {
	t.Helper()

	gen, err := sqlgen.New("pages", []entity.ColumnMapping{
		{Column: "target_url", SourceField: entity.FieldTargetURL, Type: entity.ColumnText},
		{Column: "run_id", SourceField: entity.FieldRunID, Type: entity.ColumnText},
		{Column: "crawled_at", SourceField: entity.FieldCrawledAt, Type: entity.ColumnTimestamp},
		{Column: "address", SourceField: "Address", Type: entity.ColumnText},
		{Column: "status_code", SourceField: "Status Code", Type: entity.ColumnInteger},
		{Column: "title", SourceField: "Title 1", Type: entity.ColumnText},
	})
	require.NoError(t, err)

	if store == nil {
		store = newMemStore()
	}

	h := &harness{
		runner: newFakeRunner(),
		store:  store,
		sink:   mocks.NewMockStatementSink(gomock.NewController(t)),
		now:    time.Date(2024, 3, 1, 1, 5, 0, 0, time.UTC),
	}
	h.runner.export = threeRowExport

	runIDs := 0
	base := []DispatcherOption{
		WithLocation(time.UTC),
		WithClock(func() time.Time { return h.now }),
		WithOutputDir(t.TempDir()),
		WithCrawler("/opt/crawler", []string{"--crawl", "{url}", "--output-folder", "{output}"}),
		WithRunIDGenerator(func() string {
			runIDs++
			return fmt.Sprintf("run-%d", runIDs)
		}),
	}

	h.d = NewDispatcher(zap.NewNop(), h.store, h.runner,
		NewExportConverter(ingest.New(nil), gen), h.sink, entries, append(base, opts...)...)
	require.NoError(t, h.d.Start(context.Background()))
	return h
}

func stateOf(t *testing.T, d *Dispatcher, url string) entity.TargetStatus {
	t.Helper()
	for _, s := range d.Snapshot() {
		if s.URL == url {
			return s
		}
	}
	t.Fatalf("target %s not in snapshot", url)
	return entity.TargetStatus{}
}

func TestDispatcher_DailyRunEndToEnd(t *testing.T) {
	const url = "https://example.com"
	h := newHarness(t, nil, []entity.ScheduleEntry{daily(url, 1, 0)})

	// Never run, ticked at 01:05: due and launched.
	h.tick()
	require.Equal(t, 1, h.runner.launches())

	cmd := h.runner.started[0]
	assert.Equal(t, "/opt/crawler", cmd.Path)
	assert.Equal(t, []string{"--crawl", url, "--output-folder", cmd.Dir}, cmd.Args)
	assert.True(t, strings.HasSuffix(cmd.Dir, filepath.Join("run-1")))

	rec := h.store.get(url)
	assert.True(t, rec.InProgress)
	assert.Equal(t, "run-1", rec.RunID)
	require.NotNil(t, rec.LastRunAt)
	assert.Equal(t, h.now, *rec.LastRunAt)
	assert.Equal(t, entity.StateRunning, stateOf(t, h.d, url).State)

	// Still running on the next tick: nothing changes.
	h.advance(time.Minute)
	h.tick()
	assert.True(t, h.store.get(url).InProgress)

	var written []entity.SQLStatement
	h.sink.EXPECT().
		Write(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, meta entity.RunMeta, statements []entity.SQLStatement) error {
			assert.Equal(t, url, meta.URL)
			assert.Equal(t, "run-1", meta.RunID)
			written = statements
			return nil
		}).
		Times(1)

	h.runner.process(url).finish(0)
	h.advance(time.Minute)
	h.tick()

	require.Len(t, written, 3)
	for _, st := range written {
		assert.True(t, st.Valid)
		assert.Contains(t, st.Text, `INSERT INTO "pages"`)
		assert.Contains(t, st.Text, "'https://example.com'")
		assert.Contains(t, st.Text, "'run-1'")
	}
	assert.Contains(t, written[1].Text, "'About O''Brien'")
	assert.Contains(t, written[2].Text, "404")

	rec = h.store.get(url)
	assert.False(t, rec.InProgress)
	assert.Equal(t, entity.RunStatusSuccess, rec.LastStatus)
	assert.Empty(t, rec.LastError)
	assert.Equal(t, time.Date(2024, 3, 1, 1, 5, 0, 0, time.UTC), *rec.LastRunAt)
	assert.Equal(t, 2*time.Minute, rec.LastDuration)

	status := stateOf(t, h.d, url)
	assert.Equal(t, entity.StateIdle, status.State)
	assert.Equal(t, time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC), status.NextDueAt)

	// Not due again until tomorrow's 01:00.
	h.advance(20 * time.Hour)
	h.tick()
	assert.Equal(t, 1, h.runner.launches())
}

func TestDispatcher_TimeoutKillsAndWaitsForNextSlot(t *testing.T) {
	const url = "https://example.com"
	h := newHarness(t, nil, []entity.ScheduleEntry{daily(url, 1, 0)}, WithRunTimeout(time.Hour))

	h.tick()
	require.Equal(t, 1, h.runner.launches())

	h.advance(59 * time.Minute)
	h.tick()
	assert.False(t, h.runner.process(url).killed)

	h.advance(2 * time.Minute)
	h.tick()
	assert.True(t, h.runner.process(url).killed)

	rec := h.store.get(url)
	assert.False(t, rec.InProgress)
	assert.Equal(t, entity.RunStatusFailure, rec.LastStatus)
	assert.Contains(t, rec.LastError, "exceeded timeout")

	// No re-attempt before the next scheduled time.
	for _, step := range []time.Duration{time.Minute, time.Hour, 20 * time.Hour} {
		h.advance(step)
		h.tick()
	}
	assert.Equal(t, 1, h.runner.launches())

	h.now = time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC)
	h.tick()
	assert.Equal(t, 2, h.runner.launches())
}

func TestDispatcher_FailedRunsNeverReachSink(t *testing.T) {
	const url = "https://example.com"

	tests := []struct {
		name      string
		export    string
		exitCode  int
		wantError string
	}{
		{name: "non-zero exit", export: threeRowExport, exitCode: 2, wantError: "exited with code 2"},
		{name: "missing export", export: "", exitCode: 0, wantError: "no crawl export found"},
		{name: "malformed export", export: "Address,Status Code\nhttps://example.com/,200,extra\n", exitCode: 0, wantError: "ingest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, []entity.ScheduleEntry{daily(url, 1, 0)})
			h.runner.export = tt.export
			// No sink expectation: any Write fails the test.

			h.tick()
			h.runner.process(url).finish(tt.exitCode)
			h.advance(time.Minute)
			h.tick()

			rec := h.store.get(url)
			assert.False(t, rec.InProgress)
			assert.Equal(t, entity.RunStatusFailure, rec.LastStatus)
			assert.Contains(t, rec.LastError, tt.wantError)
		})
	}
}

func TestDispatcher_SinkFailureIsRunFailure(t *testing.T) {
	const url = "https://example.com"
	h := newHarness(t, nil, []entity.ScheduleEntry{daily(url, 1, 0)})
	h.sink.EXPECT().Write(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))
	sinkFailures := metrics.RunsTotal.WithLabelValues(string(entity.RunStatusFailure), "sink")
	before := testutil.ToFloat64(sinkFailures)

	h.tick()
	h.runner.process(url).finish(0)
	h.tick()

	rec := h.store.get(url)
	assert.Equal(t, entity.RunStatusFailure, rec.LastStatus)
	assert.Contains(t, rec.LastError, "connection reset")
	assert.Equal(t, entity.StateIdle, stateOf(t, h.d, url).State)
	assert.Equal(t, before+1, testutil.ToFloat64(sinkFailures))
}

func TestDispatcher_UnreadableExportIsCountedAsIngestFailure(t *testing.T) {
	const url = "https://example.com"
	h := newHarness(t, nil, []entity.ScheduleEntry{daily(url, 1, 0)})
	h.runner.export = ""

	ingestFailures := metrics.RunsTotal.WithLabelValues(string(entity.RunStatusFailure), "ingest")
	successes := metrics.RunsTotal.WithLabelValues(string(entity.RunStatusSuccess), "")
	failuresBefore := testutil.ToFloat64(ingestFailures)
	successesBefore := testutil.ToFloat64(successes)

	h.tick()
	h.runner.process(url).finish(0)
	h.advance(time.Minute)
	h.tick()

	rec := h.store.get(url)
	assert.False(t, rec.InProgress)
	assert.Equal(t, entity.RunStatusFailure, rec.LastStatus)
	assert.Contains(t, rec.LastError, entity.ErrNoExport.Error())

	status := stateOf(t, h.d, url)
	assert.Equal(t, entity.RunStatusFailure, status.LastStatus)
	assert.Equal(t, time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC), status.NextDueAt)

	assert.Equal(t, failuresBefore+1, testutil.ToFloat64(ingestFailures))
	assert.Equal(t, successesBefore, testutil.ToFloat64(successes))
}

func TestDispatcher_InvalidRowsDoNotFailRun(t *testing.T) {
	const url = "https://example.com"
	h := newHarness(t, nil, []entity.ScheduleEntry{daily(url, 1, 0)})
	h.runner.export = "Address,Status Code\nhttps://example.com/,200\nhttps://example.com/x,abc\nhttps://example.com/y,301\n"

	var written []entity.SQLStatement
	h.sink.EXPECT().Write(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ entity.RunMeta, statements []entity.SQLStatement) error {
			written = statements
			return nil
		})

	h.tick()
	h.runner.process(url).finish(0)
	h.tick()

	require.Len(t, written, 3)
	assert.True(t, written[0].Valid)
	assert.False(t, written[1].Valid)
	var convErr *entity.RowConversionError
	assert.ErrorAs(t, written[1].Err, &convErr)
	assert.True(t, written[2].Valid)
	assert.Equal(t, entity.RunStatusSuccess, h.store.get(url).LastStatus)
}

func TestDispatcher_LaunchErrorRecordedAsFailure(t *testing.T) {
	const url = "https://example.com"
	h := newHarness(t, nil, []entity.ScheduleEntry{daily(url, 1, 0)})
	h.runner.startErr = errors.New("exec: \"/opt/crawler\": file does not exist")

	h.tick()

	rec := h.store.get(url)
	assert.False(t, rec.InProgress)
	assert.Equal(t, entity.RunStatusFailure, rec.LastStatus)
	assert.Contains(t, rec.LastError, "launch crawler")
	assert.Equal(t, entity.StateIdle, stateOf(t, h.d, url).State)

	// The failure waits for the next natural occurrence.
	h.runner.startErr = nil
	h.advance(time.Hour)
	h.tick()
	assert.Equal(t, 0, h.runner.launches())
}

func TestDispatcher_ConcurrencyCeiling(t *testing.T) {
	entries := []entity.ScheduleEntry{
		daily("https://a.example", 1, 0),
		daily("https://b.example", 1, 0),
		daily("https://c.example", 1, 0),
	}
	h := newHarness(t, nil, entries, WithMaxConcurrent(2))
	h.sink.EXPECT().Write(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	h.tick()
	require.Equal(t, 2, h.runner.launches())
	assert.Equal(t, "https://a.example", h.runner.started[0].Args[1])
	assert.Equal(t, "https://b.example", h.runner.started[1].Args[1])
	assert.Equal(t, entity.StateDue, stateOf(t, h.d, "https://c.example").State)
	assert.False(t, h.store.get("https://c.example").InProgress)

	// Still full: c keeps waiting.
	h.advance(time.Minute)
	h.tick()
	assert.Equal(t, 2, h.runner.launches())

	h.runner.process("https://b.example").finish(0)
	h.advance(time.Minute)
	h.tick()
	require.Equal(t, 3, h.runner.launches())
	assert.Equal(t, "https://c.example", h.runner.started[2].Args[1])
	assert.Equal(t, entity.StateRunning, stateOf(t, h.d, "https://c.example").State)
}

func TestDispatcher_NoOverlappingRuns(t *testing.T) {
	const url = "https://example.com"
	entry := entity.ScheduleEntry{URL: url, Frequency: entity.FrequencyInterval, Interval: time.Minute}
	h := newHarness(t, nil, []entity.ScheduleEntry{entry}, WithMaxConcurrent(5), WithRunTimeout(24*time.Hour))

	for i := 0; i < 10; i++ {
		h.tick()
		h.advance(5 * time.Minute)
		assert.True(t, h.store.get(url).InProgress)
	}
	assert.Equal(t, 1, h.runner.launches())
}

func TestDispatcher_StartClosesInterruptedRuns(t *testing.T) {
	const url = "https://example.com"
	lastRun := time.Date(2024, 2, 29, 1, 5, 0, 0, time.UTC)
	store := newMemStore()
	store.records[url] = entity.RunRecord{
		URL:        url,
		LastRunAt:  &lastRun,
		LastStatus: entity.RunStatusSuccess,
		InProgress: true,
		RunID:      "old-run",
	}

	h := newHarness(t, store, []entity.ScheduleEntry{daily(url, 1, 0)})

	rec := store.get(url)
	assert.False(t, rec.InProgress)
	assert.Equal(t, entity.RunStatusFailure, rec.LastStatus)
	assert.Equal(t, entity.ErrInterrupted.Error(), rec.LastError)

	// The interrupted run still counts against the window.
	h.now = time.Date(2024, 3, 1, 0, 30, 0, 0, time.UTC)
	h.tick()
	assert.Equal(t, 0, h.runner.launches())

	h.now = time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)
	h.tick()
	assert.Equal(t, 1, h.runner.launches())
}

func TestDispatcher_StateSaveFailureDefersLaunch(t *testing.T) {
	const url = "https://example.com"
	store := newMemStore()
	h := newHarness(t, store, []entity.ScheduleEntry{daily(url, 1, 0)})

	store.saveErr = errors.New("disk full")
	h.tick()
	assert.Equal(t, 0, h.runner.launches())

	store.saveErr = nil
	h.advance(time.Minute)
	h.tick()
	assert.Equal(t, 1, h.runner.launches())
}

func TestDispatcher_ShutdownKillsRunningCrawlers(t *testing.T) {
	const url = "https://example.com"
	h := newHarness(t, nil, []entity.ScheduleEntry{daily(url, 1, 0)})

	h.tick()
	require.Equal(t, 1, h.runner.launches())

	h.d.Shutdown()
	assert.True(t, h.runner.process(url).killed)

	rec := h.store.get(url)
	assert.False(t, rec.InProgress)
	assert.Equal(t, entity.RunStatusFailure, rec.LastStatus)
	assert.Equal(t, entity.ErrInterrupted.Error(), rec.LastError)

	// Ticks after shutdown do nothing.
	h.advance(48 * time.Hour)
	h.tick()
	assert.Equal(t, 1, h.runner.launches())
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	const url = "https://example.com"
	h := newHarness(t, nil, []entity.ScheduleEntry{daily(url, 1, 0)}, WithTickInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx) }()

	// The first tick runs immediately.
	require.Eventually(t, func() bool { return h.runner.launches() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.True(t, h.runner.process(url).killed)
	assert.False(t, h.store.get(url).InProgress)
}

func TestDispatcher_ReloadSchedule(t *testing.T) {
	const (
		kept    = "https://kept.example"
		removed = "https://removed.example"
		added   = "https://added.example"
	)
	h := newHarness(t, nil, []entity.ScheduleEntry{daily(kept, 1, 0), daily(removed, 1, 0)}, WithMaxConcurrent(3))
	h.sink.EXPECT().Write(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	h.tick()
	require.Equal(t, 2, h.runner.launches())
	h.runner.process(kept).finish(0)
	h.tick()

	require.NoError(t, h.d.ReloadSchedule(context.Background(), []entity.ScheduleEntry{daily(kept, 1, 0), daily(added, 1, 0)}))

	snap := h.d.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, kept, snap[0].URL)
	assert.Equal(t, entity.RunStatusSuccess, snap[0].LastStatus)
	assert.Equal(t, added, snap[1].URL)

	// The removed target's crawler runs to completion and is recorded, the added one launches.
	h.runner.process(removed).finish(0)
	h.advance(time.Minute)
	h.tick()
	assert.Equal(t, entity.RunStatusSuccess, h.store.get(removed).LastStatus)
	require.Equal(t, 3, h.runner.launches())
	assert.Equal(t, added, h.runner.started[2].Args[1])

	// And is never launched again.
	h.advance(48 * time.Hour)
	h.runner.process(added).finish(0)
	h.tick()
	h.tick()
	for _, cmd := range h.runner.started[3:] {
		assert.NotEqual(t, removed, cmd.Args[1])
	}
}

func TestDispatcher_ReloadClosesInterruptedRunOfAddedTarget(t *testing.T) {
	const (
		kept  = "https://kept.example"
		added = "https://added.example"
	)
	lastRun := time.Date(2024, 3, 1, 1, 2, 0, 0, time.UTC)
	store := newMemStore()
	h := newHarness(t, store, []entity.ScheduleEntry{daily(kept, 3, 0)})

	// A previous process left the added target's run open.
	store.records[added] = entity.RunRecord{
		URL:        added,
		LastRunAt:  &lastRun,
		LastStatus: entity.RunStatusSuccess,
		InProgress: true,
		RunID:      "old-run",
	}

	require.NoError(t, h.d.ReloadSchedule(context.Background(), []entity.ScheduleEntry{daily(kept, 3, 0), daily(added, 1, 0)}))

	rec := store.get(added)
	assert.False(t, rec.InProgress)
	assert.Equal(t, entity.RunStatusFailure, rec.LastStatus)
	assert.Equal(t, entity.ErrInterrupted.Error(), rec.LastError)
	require.NotNil(t, rec.LastRunAt)
	assert.Equal(t, lastRun, *rec.LastRunAt)

	status := stateOf(t, h.d, added)
	assert.Equal(t, entity.StateIdle, status.State)
	assert.Equal(t, time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC), status.NextDueAt)

	// Today's window was consumed by the interrupted run.
	h.tick()
	assert.Nil(t, h.runner.process(added))
	assert.NotNil(t, h.runner.process(kept))
}
