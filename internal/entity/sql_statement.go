package entity

import "fmt"

// ColumnType is the SQL destination type of a mapped column.
type ColumnType string

const (
	ColumnText      ColumnType = "text"
	ColumnInteger   ColumnType = "integer"
	ColumnTimestamp ColumnType = "timestamp"
	ColumnBoolean   ColumnType = "boolean"
)

// ParseColumnType validates a configured column type.
func ParseColumnType(s string) (ColumnType, error) {
	switch t := ColumnType(s); t {
	case ColumnText, ColumnInteger, ColumnTimestamp, ColumnBoolean:
		return t, nil
	}
	return "", fmt.Errorf("unknown column type %q", s)
}

// ColumnMapping maps a crawl export field onto a destination column.
type ColumnMapping struct {
	Column      string     `mapstructure:"column_name" json:"column_name"`
	SourceField string     `mapstructure:"source_field" json:"source_field"`
	Type        ColumnType `mapstructure:"type" json:"type"`
}

// SQLStatement is a generated INSERT. Text carries escaped inline literals,
// Query and Args the parameterized form of the same statement.
type SQLStatement struct {
	Text  string
	Query string
	Args  []any
	Valid bool
	Err   error
}
