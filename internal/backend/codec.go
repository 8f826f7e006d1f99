package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/moisturizer/moisturizer/pkg/types"
)

// Values cross the backend boundary as storage-neutral scalars: string,
// int64, float64, bool or nil. encodeValue produces them from record values
// and decodeValue turns what a store hands back into JSON-friendly values.

func encodeValue(col types.ColumnSpec, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch col.Type {
	case types.ColumnBigInt:
		return toInt64(v)
	case types.ColumnDecimal, types.ColumnFloat, types.ColumnDouble:
		return toFloat64(v)
	case types.ColumnBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("column %q: want bool, got %T", col.Name, v)
		}
		return b, nil
	case types.ColumnTimestamp:
		switch t := v.(type) {
		case time.Time:
			return t.UTC().Format(time.RFC3339Nano), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", col.Name, err)
			}
			return parsed.UTC().Format(time.RFC3339Nano), nil
		}
		return nil, fmt.Errorf("column %q: want timestamp, got %T", col.Name, v)
	case types.ColumnUUID:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("column %q: want uuid string, got %T", col.Name, v)
		}
		return s, nil
	case types.ColumnDescriptorMap:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		return string(b), nil
	}

	// Text columns. Strings are stored as-is only for string-kind fields;
	// everything that landed in a fallback column is kept as JSON so it can
	// be restored to its shape.
	if s, ok := v.(string); ok && col.Kind == types.KindString {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", col.Name, err)
	}
	return string(b), nil
}

func decodeValue(col types.ColumnSpec, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	switch col.Type {
	case types.ColumnBigInt:
		return toInt64(raw)
	case types.ColumnDecimal, types.ColumnFloat, types.ColumnDouble:
		return toFloat64(raw)
	case types.ColumnBoolean:
		switch b := raw.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(b)
		}
		n, err := toInt64(raw)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		return n != 0, nil
	case types.ColumnTimestamp:
		switch t := raw.(type) {
		case time.Time:
			return t.UTC().Format(time.RFC3339Nano), nil
		case string:
			return t, nil
		}
		return nil, fmt.Errorf("column %q: unexpected timestamp %T", col.Name, raw)
	case types.ColumnDescriptorMap:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("column %q: unexpected descriptor map %T", col.Name, raw)
		}
		return json.RawMessage(s), nil
	}

	s, ok := raw.(string)
	if !ok {
		return raw, nil
	}
	if col.Type != types.ColumnText || col.Kind == types.KindString {
		return s, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("column %q: %w", col.Name, err)
	}
	return normalizeJSON(out), nil
}

// normalizeJSON replaces integral json.Numbers with int64 and the rest with
// float64, so decoded documents hold the same scalars as typed columns.
func normalizeJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeJSON(e)
		}
	case []any:
		for i, e := range t {
			t[i] = normalizeJSON(e)
		}
	}
	return v
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return uintToInt64(uint64(n))
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return uintToInt64(n)
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("want integer, got %T", v)
}

func uintToInt64(n uint64) (int64, error) {
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%d overflows int64", n)
	}
	return int64(n), nil
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("want number, got %T", v)
	}
	return float64(i), nil
}

// encodeRecord maps rec onto the columns of rt, in column order.
func encodeRecord(rt *types.RecordType, rec types.Record) ([]any, error) {
	out := make([]any, len(rt.Columns))
	for i, col := range rt.Columns {
		v, err := encodeValue(col, rec[col.Name])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// decodeRecord builds a record from raw column values. Null columns are
// left out.
func decodeRecord(rt *types.RecordType, raw func(col types.ColumnSpec) any) (types.Record, error) {
	rec := make(types.Record, len(rt.Columns))
	for _, col := range rt.Columns {
		v, err := decodeValue(col, raw(col))
		if err != nil {
			return nil, err
		}
		if v != nil {
			rec[col.Name] = v
		}
	}
	return rec, nil
}
