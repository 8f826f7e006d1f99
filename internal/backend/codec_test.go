package backend

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/moisturizer/moisturizer/pkg/types"
)

func TestEncodeValue(t *testing.T) {
	ts := time.Date(2026, 10, 16, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	tests := []struct {
		name string
		col  types.ColumnSpec
		in   any
		want any
	}{
		{"nil", countCol, nil, nil},
		{"int into bigint", countCol, 7, int64(7)},
		{"json number into bigint", countCol, json.Number("42"), int64(42)},
		{"int into decimal", ratioCol, 3, float64(3)},
		{"json number into decimal", ratioCol, json.Number("0.5"), 0.5},
		{"bool", activeCol, false, false},
		{"time into timestamp", widgetType().Columns[1], ts, "2026-10-16T12:00:00Z"},
		{"offset string into timestamp", widgetType().Columns[1], "2026-10-16T14:00:00+02:00", "2026-10-16T12:00:00Z"},
		{"string into text", fooCol, "bar", "bar"},
		{"object into text", payloadCol, map[string]any{"a": 1}, `{"a":1}`},
		{"string into object text", payloadCol, "flat", `"flat"`},
		{"array into text", tagsCol, []any{"x"}, `["x"]`},
	}

	for _, tt := range tests {
		got, err := encodeValue(tt.col, tt.in)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %#v, want %#v", tt.name, got, tt.want)
		}
	}
}

func TestEncodeValue_Errors(t *testing.T) {
	tests := []struct {
		name string
		col  types.ColumnSpec
		in   any
	}{
		{"string into bigint", countCol, "seven"},
		{"fraction into bigint", countCol, 1.5},
		{"huge uint into bigint", countCol, uint64(1 << 63)},
		{"string into boolean", activeCol, "yes"},
		{"bad timestamp", widgetType().Columns[1], "yesterday"},
		{"int into uuid", refCol, 7},
	}
	for _, tt := range tests {
		if _, err := encodeValue(tt.col, tt.in); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestDecodeValue(t *testing.T) {
	ts := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	descCol := types.ColumnSpec{Name: "fields", Type: types.ColumnDescriptorMap, Kind: types.KindObject, Format: "descriptor"}

	tests := []struct {
		name string
		col  types.ColumnSpec
		raw  any
		want any
	}{
		{"int64 bigint", countCol, int64(7), int64(7)},
		{"int8 bigint", countCol, int8(7), int64(7)},
		{"uint16 bigint", countCol, uint16(7), int64(7)},
		{"integral decimal", ratioCol, int64(3), float64(3)},
		{"bool", activeCol, true, true},
		{"integer bool", activeCol, int64(1), true},
		{"zero bool", activeCol, int64(0), false},
		{"time timestamp", widgetType().Columns[1], ts, "2026-10-16T12:00:00Z"},
		{"string timestamp", widgetType().Columns[1], "2026-10-16T12:00:00Z", "2026-10-16T12:00:00Z"},
		{"bytes text", fooCol, []byte("bar"), "bar"},
		{"json string in object column", payloadCol, `"flat"`, "flat"},
		{"uuid", refCol, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
	}
	for _, tt := range tests {
		got, err := decodeValue(tt.col, tt.raw)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %#v, want %#v", tt.name, got, tt.want)
		}
	}

	got, err := decodeValue(descCol, `{"id":{"type":"string"}}`)
	if err != nil {
		t.Fatal(err)
	}
	if raw, ok := got.(json.RawMessage); !ok || string(raw) != `{"id":{"type":"string"}}` {
		t.Errorf("descriptor map: got %#v", got)
	}

	if _, err := decodeValue(payloadCol, "{not json"); err == nil {
		t.Error("expected error for corrupt JSON in object column")
	}
}

func TestNormalizeJSON(t *testing.T) {
	got := normalizeJSON(map[string]any{
		"i": json.Number("3"),
		"f": json.Number("3.5"),
		"a": []any{json.Number("1"), "x"},
	}).(map[string]any)

	if got["i"] != int64(3) || got["f"] != 3.5 {
		t.Errorf("scalars not normalized: %#v", got)
	}
	if arr := got["a"].([]any); arr[0] != int64(1) || arr[1] != "x" {
		t.Errorf("array not normalized: %#v", arr)
	}
}
