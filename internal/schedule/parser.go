// Package schedule parses schedule files and computes when targets are next due.
package schedule

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/user/crawl-orchestrator/internal/entity"
)

const (
	commentMarker  = "#"
	fieldSeparator = ","
	fieldCount     = 3
	minInterval    = time.Minute
	defaultAnchor  = 1
	intervalPrefix = "every "
)

// ParseError identifies the schedule line that aborted a load.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("schedule line %d %q: %s", e.Line, e.Text, e.Reason)
}

// Result is the outcome of parsing a single line: an entry, a skipped line, or an error.
type Result struct {
	Entry entity.ScheduleEntry
	Skip  bool
	Err   *ParseError
}

// ParseLine parses one schedule line. lineNo is 1-based.
func ParseLine(lineNo int, text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.HasPrefix(trimmed, commentMarker) {
		return Result{Skip: true}
	}

	fail := func(format string, args ...any) Result {
		return Result{Err: &ParseError{Line: lineNo, Text: trimmed, Reason: fmt.Sprintf(format, args...)}}
	}

	fields := strings.Split(trimmed, fieldSeparator)
	if len(fields) != fieldCount {
		return fail("expected %d comma-separated fields (URL, frequency, HH:MM), got %d", fieldCount, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	rawURL, rawFreq, rawTime := fields[0], fields[1], fields[2]
	if rawURL == "" {
		return fail("missing URL")
	}
	if err := validateURL(rawURL); err != nil {
		return fail("invalid URL: %v", err)
	}

	entry := entity.ScheduleEntry{URL: rawURL, Line: lineNo}
	if err := parseFrequency(rawFreq, &entry); err != nil {
		return fail("%v", err)
	}

	tod, err := entity.ParseTimeOfDay(rawTime)
	if err != nil {
		return fail("%v", err)
	}
	entry.TimeOfDay = tod

	return Result{Entry: entry}
}

// Parse reads a whole schedule. Any malformed line aborts the load; no partial schedule is returned.
func Parse(r io.Reader) ([]entity.ScheduleEntry, error) {
	var (
		entries []entity.ScheduleEntry
		seen    = make(map[string]int)
		lineNo  int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		res := ParseLine(lineNo, scanner.Text())
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Skip {
			continue
		}
		if first, dup := seen[res.Entry.URL]; dup {
			return nil, &ParseError{
				Line:   lineNo,
				Text:   strings.TrimSpace(scanner.Text()),
				Reason: fmt.Sprintf("duplicate URL, already scheduled on line %d", first),
			}
		}
		seen[res.Entry.URL] = lineNo
		entries = append(entries, res.Entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}

	return entries, nil
}

// ParseFile loads the schedule at path. Failures are returned as *entity.ConfigError.
func ParseFile(path string) ([]entity.ScheduleEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &entity.ConfigError{Source: path, Err: err}
	}
	defer f.Close()

	entries, err := Parse(f)
	if err != nil {
		return nil, &entity.ConfigError{Source: path, Err: err}
	}
	return entries, nil
}

func validateURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func parseFrequency(raw string, entry *entity.ScheduleEntry) error {
	token := strings.ToLower(strings.TrimSpace(raw))

	switch {
	case token == string(entity.FrequencyDaily):
		entry.Frequency = entity.FrequencyDaily
	case token == string(entity.FrequencyWeekly):
		entry.Frequency = entity.FrequencyWeekly
	case token == string(entity.FrequencyMonthly):
		entry.Frequency = entity.FrequencyMonthly
		entry.DayOfMonth = defaultAnchor
	case strings.HasPrefix(token, string(entity.FrequencyMonthly)+":"):
		day, err := strconv.Atoi(strings.TrimPrefix(token, string(entity.FrequencyMonthly)+":"))
		if err != nil || day < 1 || day > 31 {
			return fmt.Errorf("invalid monthly anchor day in %q, want monthly:1..31", raw)
		}
		entry.Frequency = entity.FrequencyMonthly
		entry.DayOfMonth = day
	case strings.HasPrefix(token, intervalPrefix):
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(token, intervalPrefix)))
		if err != nil {
			return fmt.Errorf("invalid interval in %q: %v", raw, err)
		}
		if d < minInterval {
			return fmt.Errorf("interval %s is shorter than %s", d, minInterval)
		}
		entry.Frequency = entity.FrequencyInterval
		entry.Interval = d
	default:
		return fmt.Errorf("unrecognized frequency %q", raw)
	}
	return nil
}
