package usecase

import (
	"time"

	"github.com/user/crawl-orchestrator/internal/entity"
	"github.com/user/crawl-orchestrator/internal/ingest"
	"github.com/user/crawl-orchestrator/internal/sqlgen"
	"github.com/user/crawl-orchestrator/pkg/metrics"
)

// Conversion is the SQL produced from one crawl export.
type Conversion struct {
	Statements []entity.SQLStatement
	Rows       int
	Invalid    int
	// RowErrors aggregates the conversion errors of invalid rows, nil when every row converted.
	RowErrors error
}

// ExportConverter turns a crawl export directory into INSERT statements.
type ExportConverter struct {
	ingestor  *ingest.Ingestor
	generator *sqlgen.Generator
}

// NewExportConverter creates a new ExportConverter.
func NewExportConverter(ingestor *ingest.Ingestor, generator *sqlgen.Generator) *ExportConverter {
	return &ExportConverter{ingestor: ingestor, generator: generator}
}

// Convert reads every export row of meta.OutputDir, tags it with the run's provenance fields
// and generates one statement per row. Rows are fully read before any statement is returned,
// so an ingest failure yields no statements at all.
func (c *ExportConverter) Convert(meta entity.RunMeta) (*Conversion, error) {
	rows, err := c.ingestor.Open(meta.OutputDir)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []entity.CrawlResultRow
	for rows.Next() {
		row := rows.Row()
		if meta.URL != "" {
			row[entity.FieldTargetURL] = meta.URL
		}
		if meta.RunID != "" {
			row[entity.FieldRunID] = meta.RunID
		}
		if !meta.StartedAt.IsZero() {
			row[entity.FieldCrawledAt] = meta.StartedAt.Format(time.RFC3339Nano)
		}
		batch = append(batch, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	metrics.RowsIngestedTotal.Add(float64(len(batch)))

	statements, rowErrs := c.generator.GenerateAll(batch)
	conv := &Conversion{Statements: statements, Rows: len(batch), RowErrors: rowErrs}
	for _, st := range statements {
		if !st.Valid {
			conv.Invalid++
		}
	}

	metrics.StatementsTotal.WithLabelValues("true").Add(float64(conv.Rows - conv.Invalid))
	metrics.StatementsTotal.WithLabelValues("false").Add(float64(conv.Invalid))
	return conv, nil
}
