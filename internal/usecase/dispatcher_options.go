package usecase

import "time"

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTickInterval sets how often Run ticks.
func WithTickInterval(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.tickInterval = d
		}
	}
}

// WithMaxConcurrent sets the ceiling on crawlers running at once.
func WithMaxConcurrent(n int) DispatcherOption {
	return func(disp *Dispatcher) {
		if n > 0 {
			disp.maxConcurrent = n
		}
	}
}

// WithRunTimeout sets how long a crawler may run before it is killed.
func WithRunTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.runTimeout = d
		}
	}
}

// WithOutputDir sets the root directory for per-run crawler output.
func WithOutputDir(dir string) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.outputDir = dir
	}
}

// WithCrawler sets the crawler executable and its argument template.
func WithCrawler(path string, args []string) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.crawlerPath = path
		disp.crawlerArgs = args
	}
}

// WithLocation sets the zone schedule times of day are evaluated in.
func WithLocation(loc *time.Location) DispatcherOption {
	return func(disp *Dispatcher) {
		if loc != nil {
			disp.location = loc
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.now = now
	}
}

// WithRunIDGenerator replaces the UUID run id generator, for tests.
func WithRunIDGenerator(gen func() string) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.newRunID = gen
	}
}
