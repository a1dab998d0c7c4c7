package schedule

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/crawl-orchestrator/internal/entity"
)

func TestParse(t *testing.T) {
	input := `
# targets crawled by the orchestrator
https://example.com, daily, 01:00
  https://shop.example.com/ ,  WEEKLY , 23:59

https://blog.example.com, Monthly:31, 00:00
https://news.example.com, every 6h, 12:30
https://docs.example.com, monthly, 02:15
`
	entries, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 5)

	assert.Equal(t, entity.ScheduleEntry{
		URL:       "https://example.com",
		Frequency: entity.FrequencyDaily,
		TimeOfDay: entity.TimeOfDay{Hour: 1},
		Line:      3,
	}, entries[0])

	assert.Equal(t, "https://shop.example.com/", entries[1].URL)
	assert.Equal(t, entity.FrequencyWeekly, entries[1].Frequency)
	assert.Equal(t, entity.TimeOfDay{Hour: 23, Minute: 59}, entries[1].TimeOfDay)

	assert.Equal(t, entity.FrequencyMonthly, entries[2].Frequency)
	assert.Equal(t, 31, entries[2].DayOfMonth)

	assert.Equal(t, entity.FrequencyInterval, entries[3].Frequency)
	assert.Equal(t, 6*time.Hour, entries[3].Interval)

	assert.Equal(t, 1, entries[4].DayOfMonth)
}

func TestParse_RejectsWholeSchedule(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantLine int
		reason   string
	}{
		{
			name:     "unknown frequency and malformed time",
			input:    "https://ok.com, daily, 01:00\nhttps://x.com, fortnightly, 1am\n",
			wantLine: 2,
			reason:   "unrecognized frequency",
		},
		{
			name:     "malformed time",
			input:    "https://x.com, daily, 1am",
			wantLine: 1,
			reason:   "malformed time",
		},
		{
			name:     "hour out of range",
			input:    "https://x.com, daily, 24:00",
			wantLine: 1,
			reason:   "malformed time",
		},
		{
			name:     "single digit hour",
			input:    "https://x.com, daily, 1:00",
			wantLine: 1,
			reason:   "malformed time",
		},
		{
			name:     "single digit minute",
			input:    "https://x.com, daily, 01:5",
			wantLine: 1,
			reason:   "malformed time",
		},
		{
			name:     "missing field",
			input:    "https://x.com, daily",
			wantLine: 1,
			reason:   "expected 3",
		},
		{
			name:     "extra field",
			input:    "https://x.com, daily, 01:00, extra",
			wantLine: 1,
			reason:   "expected 3",
		},
		{
			name:     "empty url",
			input:    "# header\n , daily, 01:00",
			wantLine: 2,
			reason:   "missing URL",
		},
		{
			name:     "relative url",
			input:    "example.com, daily, 01:00",
			wantLine: 1,
			reason:   "invalid URL",
		},
		{
			name:     "unsupported scheme",
			input:    "ftp://example.com, daily, 01:00",
			wantLine: 1,
			reason:   "invalid URL",
		},
		{
			name:     "duplicate url",
			input:    "https://x.com, daily, 01:00\nhttps://y.com, daily, 01:00\nhttps://x.com, weekly, 02:00",
			wantLine: 3,
			reason:   "duplicate URL, already scheduled on line 1",
		},
		{
			name:     "monthly anchor out of range",
			input:    "https://x.com, monthly:32, 01:00",
			wantLine: 1,
			reason:   "invalid monthly anchor",
		},
		{
			name:     "interval too short",
			input:    "https://x.com, every 30s, 01:00",
			wantLine: 1,
			reason:   "shorter than",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := Parse(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Nil(t, entries)

			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, tt.wantLine, parseErr.Line)
			assert.Contains(t, parseErr.Reason, tt.reason)
		})
	}
}

func TestParseLine_TaggedResult(t *testing.T) {
	assert.True(t, ParseLine(1, "   ").Skip)
	assert.True(t, ParseLine(1, "# https://x.com, daily, 01:00").Skip)

	res := ParseLine(7, "https://x.com, DAILY, 07:30")
	assert.Nil(t, res.Err)
	assert.False(t, res.Skip)
	assert.Equal(t, 7, res.Entry.Line)

	res = ParseLine(4, "https://x.com, hourly, 07:30")
	require.NotNil(t, res.Err)
	assert.Equal(t, 4, res.Err.Line)
	assert.Contains(t, res.Err.Error(), "schedule line 4")
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "schedule.txt")
	require.NoError(t, os.WriteFile(good, []byte("https://example.com, daily, 01:00\n"), 0o644))
	entries, err := ParseFile(good)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("https://x.com, fortnightly, 1am\n"), 0o644))
	_, err = ParseFile(bad)

	var cfgErr *entity.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, bad, cfgErr.Source)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 1, parseErr.Line)

	_, err = ParseFile(filepath.Join(dir, "missing.txt"))
	require.ErrorAs(t, err, &cfgErr)
}
