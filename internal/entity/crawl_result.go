package entity

import "time"

// CrawlResultRow maps export column names to raw string values.
type CrawlResultRow map[string]string

// Reserved row keys added by the dispatcher before SQL generation.
const (
	FieldTargetURL = "_target_url"
	FieldRunID     = "_run_id"
	FieldCrawledAt = "_crawled_at"
)

// RunMeta identifies the run that produced a batch of rows.
type RunMeta struct {
	URL       string
	RunID     string
	OutputDir string
	StartedAt time.Time
}

// CrawlCommand is a fully resolved crawler invocation.
type CrawlCommand struct {
	Path string
	Args []string
	Dir  string
}

// ExitStatus is the terminal status of a crawler process.
type ExitStatus struct {
	Code int
	Err  error
}

// Success reports whether the process exited cleanly with code 0.
func (s ExitStatus) Success() bool {
	return s.Err == nil && s.Code == 0
}
