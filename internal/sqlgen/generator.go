// Package sqlgen turns crawl result rows into escaped INSERT statements.
package sqlgen

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/user/crawl-orchestrator/internal/entity"
)

const nullLiteral = "NULL"

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// timestampLayouts are tried in order when coercing timestamp columns.
// Values without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"2006-01-02",
}

var sqlTypes = map[entity.ColumnType]string{
	entity.ColumnText:      "TEXT",
	entity.ColumnInteger:   "BIGINT",
	entity.ColumnTimestamp: "TIMESTAMPTZ",
	entity.ColumnBoolean:   "BOOLEAN",
}

// Generator builds INSERT statements for one destination table.
type Generator struct {
	table   string
	columns []entity.ColumnMapping
	prefix  string
}

// New validates the mapping and returns a Generator. Invalid mappings yield *entity.ConfigError.
func New(table string, columns []entity.ColumnMapping) (*Generator, error) {
	var result *multierror.Error

	if err := validateTable(table); err != nil {
		result = multierror.Append(result, err)
	}
	if len(columns) == 0 {
		result = multierror.Append(result, errors.New("at least one column mapping is required"))
	}

	seen := make(map[string]struct{}, len(columns))
	for i, c := range columns {
		if !identifierRe.MatchString(c.Column) {
			result = multierror.Append(result, fmt.Errorf("column %d: invalid column name %q", i+1, c.Column))
		}
		if _, dup := seen[strings.ToLower(c.Column)]; dup {
			result = multierror.Append(result, fmt.Errorf("column %d: duplicate column %q", i+1, c.Column))
		}
		seen[strings.ToLower(c.Column)] = struct{}{}
		if strings.TrimSpace(c.SourceField) == "" {
			result = multierror.Append(result, fmt.Errorf("column %d (%s): source_field is required", i+1, c.Column))
		}
		if _, err := entity.ParseColumnType(string(c.Type)); err != nil {
			result = multierror.Append(result, fmt.Errorf("column %d (%s): %w", i+1, c.Column, err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, &entity.ConfigError{Source: "sql mapping", Err: err}
	}

	g := &Generator{table: table, columns: append([]entity.ColumnMapping(nil), columns...)}
	g.prefix = g.insertPrefix()
	return g, nil
}

// Table returns the destination table name.
func (g *Generator) Table() string { return g.table }

// Generate builds the INSERT for one row. A value that cannot be coerced yields an
// invalid statement carrying a *entity.RowConversionError instead of a panic or error return.
func (g *Generator) Generate(row entity.CrawlResultRow) entity.SQLStatement {
	literals := make([]string, len(g.columns))
	placeholders := make([]string, len(g.columns))
	args := make([]any, len(g.columns))

	for i, c := range g.columns {
		raw, present := row[c.SourceField]
		value, literal, err := convert(c.Type, raw, present)
		if err != nil {
			return entity.SQLStatement{
				Valid: false,
				Err: &entity.RowConversionError{
					Column: c.Column,
					Field:  c.SourceField,
					Value:  raw,
					Type:   c.Type,
					Err:    err,
				},
			}
		}
		literals[i] = literal
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = value
	}

	return entity.SQLStatement{
		Text:  g.prefix + "(" + strings.Join(literals, ", ") + ");",
		Query: g.prefix + "(" + strings.Join(placeholders, ", ") + ")",
		Args:  args,
		Valid: true,
	}
}

// GenerateAll builds one statement per row. Invalid rows do not stop the batch; their
// errors are aggregated and returned alongside the full statement list.
func (g *Generator) GenerateAll(rows []entity.CrawlResultRow) ([]entity.SQLStatement, error) {
	var result *multierror.Error
	statements := make([]entity.SQLStatement, 0, len(rows))
	for i, row := range rows {
		st := g.Generate(row)
		if !st.Valid {
			result = multierror.Append(result, fmt.Errorf("row %d: %w", i+1, st.Err))
		}
		statements = append(statements, st)
	}
	return statements, result.ErrorOrNil()
}

// CreateTable returns DDL creating the destination table if it does not exist.
func (g *Generator) CreateTable() string {
	defs := make([]string, len(g.columns))
	for i, c := range g.columns {
		defs[i] = "  " + quoteIdent(c.Column) + " " + sqlTypes[c.Type]
	}
	return "CREATE TABLE IF NOT EXISTS " + quoteTable(g.table) + " (\n" + strings.Join(defs, ",\n") + "\n);"
}

func (g *Generator) insertPrefix() string {
	cols := make([]string, len(g.columns))
	for i, c := range g.columns {
		cols[i] = quoteIdent(c.Column)
	}
	return "INSERT INTO " + quoteTable(g.table) + " (" + strings.Join(cols, ", ") + ") VALUES "
}

func convert(typ entity.ColumnType, raw string, present bool) (any, string, error) {
	if !present {
		return nil, nullLiteral, nil
	}

	if typ == entity.ColumnText {
		if strings.ContainsRune(raw, 0) {
			return nil, "", errors.New("text contains NUL byte")
		}
		return raw, QuoteString(raw), nil
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nullLiteral, nil
	}

	switch typ {
	case entity.ColumnInteger:
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, "", err
		}
		return n, strconv.FormatInt(n, 10), nil
	case entity.ColumnBoolean:
		b, err := parseBool(trimmed)
		if err != nil {
			return nil, "", err
		}
		if b {
			return true, "TRUE", nil
		}
		return false, "FALSE", nil
	case entity.ColumnTimestamp:
		ts, err := parseTimestamp(trimmed)
		if err != nil {
			return nil, "", err
		}
		return ts, QuoteString(ts.Format(time.RFC3339Nano)), nil
	}
	return nil, "", fmt.Errorf("unsupported column type %q", typ)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "t", "true", "y", "yes":
		return true, nil
	case "0", "f", "false", "n", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// QuoteString renders s as a single-quoted SQL string literal, doubling embedded quotes.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}

func quoteTable(table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = quoteIdent(p)
	}
	return strings.Join(parts, ".")
}

func validateTable(table string) error {
	parts := strings.Split(table, ".")
	if len(parts) > 2 {
		return fmt.Errorf("invalid table name %q", table)
	}
	for _, p := range parts {
		if !identifierRe.MatchString(p) {
			return fmt.Errorf("invalid table name %q", table)
		}
	}
	return nil
}
