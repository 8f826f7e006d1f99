// Package schema implements schema inference for schemaless objects: the
// mapping between native values, (kind, format) schema kinds and storage
// column types, field descriptors, and the record factory that turns a set
// of field descriptors into a storage record type.
package schema

import (
	"encoding/json"
	"reflect"
	"strconv"

	"github.com/moisturizer/moisturizer/pkg/types"
)

// Formats recognised by the mapping tables.
const (
	FormatNone     = ""
	FormatDateTime = "date-time"
	FormatUUID     = "uuid"
	FormatFloat    = "float"
	FormatDouble   = "double"

	// FormatDescriptor marks the catalog's map of field descriptors. It is
	// never produced by value inference.
	FormatDescriptor = "descriptor"
)

// SchemaKind is an abstract (type, format) pair.
type SchemaKind struct {
	Kind   types.Kind
	Format string
}

// FallbackColumnType is the column used for any schema kind without a
// specialised mapping, so every kind stays representable.
const FallbackColumnType = types.ColumnText

// nativeKinds is checked in order; the first match wins. Booleans come
// before integers so they are never classified as numbers.
var nativeKinds = []struct {
	kind  types.Kind
	match func(v any) bool
}{
	{types.KindBoolean, isBoolean},
	{types.KindInteger, isInteger},
	{types.KindNumber, isNumber},
	{types.KindString, isString},
	{types.KindObject, isObject},
	{types.KindArray, isArray},
}

var columnTypes = map[SchemaKind]types.ColumnType{
	{types.KindString, FormatNone}:       types.ColumnText,
	{types.KindNumber, FormatNone}:       types.ColumnDecimal,
	{types.KindInteger, FormatNone}:      types.ColumnBigInt,
	{types.KindBoolean, FormatNone}:      types.ColumnBoolean,
	{types.KindString, FormatDateTime}:   types.ColumnTimestamp,
	{types.KindString, FormatUUID}:       types.ColumnUUID,
	{types.KindNumber, FormatFloat}:      types.ColumnFloat,
	{types.KindNumber, FormatDouble}:     types.ColumnDouble,
	{types.KindObject, FormatDescriptor}: types.ColumnDescriptorMap,
}

// Classify returns the schema kind of a native value. It reports false for
// values outside the supported set, including nil.
func Classify(v any) (SchemaKind, bool) {
	if v == nil {
		return SchemaKind{}, false
	}
	for _, nk := range nativeKinds {
		if nk.match(v) {
			return SchemaKind{Kind: nk.kind}, true
		}
	}
	return SchemaKind{}, false
}

// ColumnTypeFor resolves a schema kind to its column type. The null kind has
// no column and reports false; unmapped kinds get FallbackColumnType.
func ColumnTypeFor(sk SchemaKind) (types.ColumnType, bool) {
	if sk.Kind == types.KindNull {
		return "", false
	}
	if ct, ok := columnTypes[sk]; ok {
		return ct, true
	}
	return FallbackColumnType, true
}

// IsFallback reports whether sk resolves through the fallback policy rather
// than an exact mapping.
func IsFallback(sk SchemaKind) bool {
	if sk.Kind == types.KindNull {
		return false
	}
	_, ok := columnTypes[sk]
	return !ok
}

func isBoolean(v any) bool {
	_, ok := v.(bool)
	return ok
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		_, err := strconv.ParseInt(string(n), 10, 64)
		return err == nil
	}
	return false
}

func isNumber(v any) bool {
	switch n := v.(type) {
	case float32, float64:
		return true
	case json.Number:
		_, err := n.Float64()
		return err == nil
	}
	return false
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func isObject(v any) bool {
	if _, ok := v.(map[string]any); ok {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String
}

func isArray(v any) bool {
	if _, ok := v.([]any); ok {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		// []byte is a blob, not a JSON array
		return rv.Type().Elem().Kind() != reflect.Uint8
	case reflect.Array:
		return true
	}
	return false
}
