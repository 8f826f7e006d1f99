package schema

import (
	"sort"

	"github.com/moisturizer/moisturizer/pkg/types"
)

// TablePrefix prefixes the physical table of every object type.
const TablePrefix = "obj_"

// RecordFactory builds record types from field descriptors. Fields declared
// statically on the factory's base always win over same-named descriptor
// fields.
type RecordFactory struct {
	base  map[string]FieldDescriptor
	order []string
}

// DefaultFactory declares id and last_modified, the base of every object type.
var DefaultFactory = NewRecordFactory(DefaultFields())

// NewRecordFactory creates a factory with the given statically declared fields.
func NewRecordFactory(base map[string]FieldDescriptor) *RecordFactory {
	order := make([]string, 0, len(base))
	for name := range base {
		order = append(order, name)
	}
	// Key columns first, then by name.
	sort.Slice(order, func(i, j int) bool {
		pi, pj := base[order[i]].PrimaryKey, base[order[j]].PrimaryKey
		if pi != pj {
			return pi
		}
		return order[i] < order[j]
	})
	return &RecordFactory{base: CloneFields(base), order: order}
}

// Declares reports whether name is statically declared by the factory.
func (f *RecordFactory) Declares(name string) bool {
	_, ok := f.base[name]
	return ok
}

// Build synthesizes a record type for the given fields. Every call returns an
// independent value; nothing is cached or shared between record types.
func (f *RecordFactory) Build(name, table string, fields map[string]FieldDescriptor) *types.RecordType {
	rt := &types.RecordType{
		Name:    name,
		Table:   table,
		Columns: make([]types.ColumnSpec, 0, len(f.base)+len(fields)),
	}
	for _, fname := range f.order {
		if col, ok := f.base[fname].ResolveToColumn(fname); ok {
			rt.Columns = append(rt.Columns, col)
		}
	}

	names := make([]string, 0, len(fields))
	for fname := range fields {
		if !f.Declares(fname) {
			names = append(names, fname)
		}
	}
	sort.Strings(names)
	for _, fname := range names {
		if col, ok := fields[fname].ResolveToColumn(fname); ok {
			rt.Columns = append(rt.Columns, col)
		}
	}
	return rt
}

// TableName returns the physical table name for a type id.
func TableName(typeID string) string {
	return TablePrefix + typeID
}

// BuildRecordType builds the record type of an object type with the default
// factory.
func BuildRecordType(typeID string, fields map[string]FieldDescriptor) *types.RecordType {
	return DefaultFactory.Build(typeID, TableName(typeID), fields)
}

// ResolveSchema maps every field with a column to its column spec.
func ResolveSchema(fields map[string]FieldDescriptor) map[string]types.ColumnSpec {
	out := make(map[string]types.ColumnSpec, len(fields))
	for name, f := range fields {
		if col, ok := f.ResolveToColumn(name); ok {
			out[name] = col
		}
	}
	return out
}
