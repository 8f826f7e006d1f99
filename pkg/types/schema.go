package types

import "strings"

// Kind is the abstract schema kind of a field, using JSON-schema type names.
type Kind string

const (
	KindBoolean Kind = "boolean"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindString  Kind = "string"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindNull    Kind = "null"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindBoolean, KindInteger, KindNumber, KindString, KindObject, KindArray, KindNull:
		return true
	}
	return false
}

// ColumnType is a backend-neutral storage column type.
type ColumnType string

const (
	ColumnText          ColumnType = "text"
	ColumnDecimal       ColumnType = "decimal"
	ColumnBigInt        ColumnType = "bigint"
	ColumnBoolean       ColumnType = "boolean"
	ColumnTimestamp     ColumnType = "timestamp"
	ColumnUUID          ColumnType = "uuid"
	ColumnFloat         ColumnType = "float"
	ColumnDouble        ColumnType = "double"
	ColumnDescriptorMap ColumnType = "map<text, field>"
)

// ColumnSpec defines a single column of a record type.
// Column specs never carry a default value; defaults are applied by the
// writer, not by storage.
type ColumnSpec struct {
	// Name is the column name
	Name string `json:"name" msgpack:"n"`

	// Type is the storage column type
	Type ColumnType `json:"type" msgpack:"t"`

	// Kind and Format are the schema kind the column was resolved from.
	// Backends use them to restore JSON shapes stored in text columns.
	Kind   Kind   `json:"kind" msgpack:"k"`
	Format string `json:"format,omitempty" msgpack:"f,omitempty"`

	PrimaryKey   bool `json:"primary_key" msgpack:"pk,omitempty"`
	PartitionKey bool `json:"partition_key" msgpack:"pt,omitempty"`
	Indexed      bool `json:"indexed" msgpack:"ix,omitempty"`
	Required     bool `json:"required" msgpack:"rq,omitempty"`
}

// RecordType is the schema description of one stored object type: a table
// name and its columns. Record types are built fresh from a descriptor and
// never mutated after construction.
type RecordType struct {
	// Name is the logical type id
	Name string `json:"name"`

	// Table is the physical table name
	Table string `json:"table"`

	// Columns lists the columns, key columns first
	Columns []ColumnSpec `json:"columns"`
}

// Column returns the column with the given name.
func (rt *RecordType) Column(name string) (ColumnSpec, bool) {
	for _, c := range rt.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// ColumnNames returns the column names in declaration order.
func (rt *RecordType) ColumnNames() []string {
	names := make([]string, len(rt.Columns))
	for i, c := range rt.Columns {
		names[i] = c.Name
	}
	return names
}

// KeyColumn returns the first primary key column.
func (rt *RecordType) KeyColumn() (ColumnSpec, bool) {
	for _, c := range rt.Columns {
		if c.PrimaryKey {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// MissingColumns returns the columns of rt whose names are not in existing.
// Names are compared case-insensitively, matching SQL identifier rules.
func (rt *RecordType) MissingColumns(existing []string) []ColumnSpec {
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[strings.ToLower(name)] = true
	}
	var missing []ColumnSpec
	for _, c := range rt.Columns {
		if !have[strings.ToLower(c.Name)] {
			missing = append(missing, c)
		}
	}
	return missing
}
