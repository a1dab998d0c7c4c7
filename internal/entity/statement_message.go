package entity

import "time"

// StatementMessage is the wire form of a statement published to a queue-backed sink.
type StatementMessage struct {
	RunID     string    `json:"run_id"`
	URL       string    `json:"url"`
	Seq       int       `json:"seq"`
	SQL       string    `json:"sql"`
	CrawledAt time.Time `json:"crawled_at"`
}

// NewStatementMessages wraps the valid statements of a run for publishing.
func NewStatementMessages(meta RunMeta, statements []SQLStatement) []StatementMessage {
	out := make([]StatementMessage, 0, len(statements))
	for _, st := range statements {
		if !st.Valid {
			continue
		}
		out = append(out, StatementMessage{
			RunID:     meta.RunID,
			URL:       meta.URL,
			Seq:       len(out) + 1,
			SQL:       st.Text,
			CrawledAt: meta.StartedAt,
		})
	}
	return out
}
