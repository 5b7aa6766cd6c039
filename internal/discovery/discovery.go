package discovery

import (
	"context"
	"fmt"
	"strings"
)

// Column is the typed column metadata supplied by an introspection driver.
type Column struct {
	Name         string `json:"name"`
	DataType     string `json:"dataType"`
	NativeType   string `json:"nativeType,omitempty"`
	IsNullable   bool   `json:"isNullable"`
	IsPrimaryKey bool   `json:"isPrimaryKey"`
	MaxLength    *int   `json:"maxLength,omitempty"`
}

// sampleMaxTextLength caps the declared width of columns considered for
// value sampling.
const sampleMaxTextLength = 50

// sampleEligibleTypes are the declared types treated as short, low-cardinality
// shaped text. Everything else (unbounded text, numerics, booleans, temporal,
// binary, identifiers) never gets sample values.
var sampleEligibleTypes = map[string]bool{
	"varchar":           true,
	"character varying": true,
	"nvarchar":          true,
	"char":              true,
}

// SampleEligible reports whether the column's values may be sampled and
// shown to prompts: a bounded varchar-family column shorter than 50.
func (c Column) SampleEligible() bool {
	if !sampleEligibleTypes[strings.ToLower(strings.TrimSpace(c.DataType))] {
		return false
	}
	return c.MaxLength != nil && *c.MaxLength < sampleMaxTextLength
}

// ForeignKey describes one FK constraint between two tables.
type ForeignKey struct {
	ConstraintName string   `json:"constraintName"`
	FromSchema     string   `json:"fromSchema"`
	FromTable      string   `json:"fromTable"`
	FromColumns    []string `json:"fromColumns"`
	ToSchema       string   `json:"toSchema"`
	ToTable        string   `json:"toTable"`
	ToColumns      []string `json:"toColumns"`
}

// TableRef identifies a table as "schema.table".
type TableRef struct {
	Schema string
	Table  string
}

// ParseTableRef splits a "schema.table" selection entry.
func ParseTableRef(s string) (TableRef, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return TableRef{}, fmt.Errorf("discovery: invalid table reference %q (want schema.table)", s)
	}
	return TableRef{Schema: parts[0], Table: parts[1]}, nil
}

func (r TableRef) String() string { return r.Schema + "." + r.Table }

// Introspector is the discovery collaborator. The agent never queries the
// source database directly; PostgresIntrospector is the shipped driver.
type Introspector interface {
	// Columns returns column metadata for one table.
	Columns(ctx context.Context, table TableRef) ([]Column, error)
	// ForeignKeys returns FK constraints whose endpoints are within the
	// given schemas.
	ForeignKeys(ctx context.Context, schemas []string) ([]ForeignKey, error)
	// SampleValues returns up to limit distinct values per column for one
	// table, keyed by column name.
	SampleValues(ctx context.Context, table TableRef, limit int) (map[string][]string, error)
}
