// Package schema defines the column and table schema data model shared by
// the catalog, storage engines, and executor.
package schema

import (
	"fmt"
	"strings"

	"github.com/minisql/minisql/internal/value"
)

// DataType is the declared SQL type of a column. Only the types named in
// spec.md §1 ("Non-goals: full MySQL type coverage") are supported.
type DataType int

const (
	TypeInteger DataType = iota
	TypeFloat
	TypeText
	TypeJSON
)

func (t DataType) String() string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "FLOAT"
	case TypeText:
		return "TEXT"
	case TypeJSON:
		return "JSON"
	default:
		return "UNKNOWN"
	}
}

// ParseDataType maps a parser type name onto a DataType. Unrecognized
// names default to TEXT, mirroring MySQL's lenient type resolution for
// the subset of types this engine cares about.
func ParseDataType(name string) DataType {
	switch strings.ToUpper(name) {
	case "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT":
		return TypeInteger
	case "FLOAT", "DOUBLE", "DECIMAL", "REAL":
		return TypeFloat
	case "JSON":
		return TypeJSON
	default:
		return TypeText
	}
}

// Column is a single column definition (spec.md §3).
type Column struct {
	Name          string
	Type          DataType
	NotNull       bool
	Default       *value.Value // nil means no default
	PrimaryKey    bool
	Unique        bool
	AutoIncrement bool
}

// Index is a named, ordered set of column positions (spec.md §3).
type Index struct {
	Name      string
	Columns   []int // ordinal positions into Schema.Columns
	Unique    bool
	IsPrimary bool
}

// Schema is the full definition of one table (spec.md §3).
type Schema struct {
	Table         string
	Columns       []Column
	Engine        string // "GRANITE" or "SANDSTONE"
	Indexes       []Index
	AutoIncrement int64 // monotonic counter, never decreases
}

// PrimaryIndexName is the mandatory implicit unique index name for a
// table's PRIMARY KEY column set (spec.md §3).
func PrimaryIndexName(table string) string {
	return "PRIMARY_" + table
}

// ColumnIndex returns the ordinal position of a column by case-insensitive
// name, or -1 if absent. Column names are unique within a table and
// case-insensitive but case-preserving (spec.md §3).
func (s *Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// AutoIncrementColumn returns the ordinal of the table's AUTO_INCREMENT
// column, or -1 if none is defined.
func (s *Schema) AutoIncrementColumn() int {
	for i, c := range s.Columns {
		if c.AutoIncrement {
			return i
		}
	}
	return -1
}

// PrimaryKeyColumns returns the ordinals of the PRIMARY KEY column set, in
// declaration order.
func (s *Schema) PrimaryKeyColumns() []int {
	var cols []int
	for i, c := range s.Columns {
		if c.PrimaryKey {
			cols = append(cols, i)
		}
	}
	return cols
}

// Validate enforces the schema-level invariants from spec.md §3:
//   - at most one AUTO_INCREMENT column, and it must be INTEGER and part
//     of a unique key;
//   - column names unique case-insensitively.
func (s *Schema) Validate() error {
	seen := map[string]bool{}
	autoIncCount := 0
	for _, c := range s.Columns {
		lower := strings.ToLower(c.Name)
		if seen[lower] {
			return fmt.Errorf("duplicate column name %q", c.Name)
		}
		seen[lower] = true
		if c.AutoIncrement {
			autoIncCount++
			if c.Type != TypeInteger {
				return fmt.Errorf("AUTO_INCREMENT column %q must be INTEGER", c.Name)
			}
			if !c.PrimaryKey && !c.Unique {
				return fmt.Errorf("AUTO_INCREMENT column %q must be part of a unique key", c.Name)
			}
		}
	}
	if autoIncCount > 1 {
		return fmt.Errorf("table %q may have at most one AUTO_INCREMENT column", s.Table)
	}
	return nil
}

// EnsurePrimaryIndex prepends the mandatory PRIMARY_<table> index to
// s.Indexes, in place, when the schema declares a primary key and no
// index is already marked primary.
func (s *Schema) EnsurePrimaryIndex() {
	pk := s.PrimaryKeyColumns()
	if len(pk) == 0 {
		return
	}
	name := PrimaryIndexName(s.Table)
	for _, idx := range s.Indexes {
		if idx.IsPrimary {
			return
		}
	}
	s.Indexes = append([]Index{{Name: name, Columns: pk, Unique: true, IsPrimary: true}}, s.Indexes...)
}

// Clone returns a deep-enough copy for safe concurrent use across
// transactions (columns/indexes are value-copied; nested slices reallocated).
func (s *Schema) Clone() *Schema {
	cp := &Schema{Table: s.Table, Engine: s.Engine, AutoIncrement: s.AutoIncrement}
	cp.Columns = append([]Column(nil), s.Columns...)
	cp.Indexes = make([]Index, len(s.Indexes))
	for i, idx := range s.Indexes {
		cp.Indexes[i] = Index{Name: idx.Name, Unique: idx.Unique, IsPrimary: idx.IsPrimary}
		cp.Indexes[i].Columns = append([]int(nil), idx.Columns...)
	}
	return cp
}
