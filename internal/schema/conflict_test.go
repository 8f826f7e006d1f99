package schema

import (
	"encoding/json"
	"testing"
	"time"

	merrors "github.com/moisturizer/moisturizer/internal/errors"
	"github.com/moisturizer/moisturizer/pkg/types"
)

func TestParseConflictPolicy(t *testing.T) {
	for in, want := range map[string]ConflictPolicy{
		"":        ConflictReject,
		"reject":  ConflictReject,
		" Widen ": ConflictWiden,
	} {
		got, err := ParseConflictPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseConflictPolicy(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseConflictPolicy("version"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestConform_Matching(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name  string
		field FieldDescriptor
		value any
	}{
		{"string", NewField(types.KindString, ""), "bar"},
		{"integer", NewField(types.KindInteger, ""), 7},
		{"json integer", NewField(types.KindInteger, ""), json.Number("7")},
		{"number", NewField(types.KindNumber, ""), 1.5},
		{"integer into number", NewField(types.KindNumber, ""), 7},
		{"json integer into double", NewField(types.KindNumber, FormatDouble), json.Number("2")},
		{"boolean", NewField(types.KindBoolean, ""), false},
		{"object", NewField(types.KindObject, ""), map[string]any{"a": 1}},
		{"array", NewField(types.KindArray, ""), []any{1}},
		{"date-time string", NewField(types.KindString, FormatDateTime), now.Format(time.RFC3339Nano)},
		{"date-time value", NewField(types.KindString, FormatDateTime), now},
		{"uuid", NewField(types.KindString, FormatUUID), "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
	}

	for _, tt := range tests {
		for _, policy := range []ConflictPolicy{ConflictReject, ConflictWiden} {
			got, err := Conform(tt.name, tt.field, tt.value, policy)
			if err != nil {
				t.Errorf("%s/%s: unexpected error %v", tt.name, policy, err)
				continue
			}
			if _, isMap := tt.value.(map[string]any); isMap {
				continue
			}
			if _, isSlice := tt.value.([]any); isSlice {
				continue
			}
			if got != tt.value {
				t.Errorf("%s/%s: got %v, want value unchanged", tt.name, policy, got)
			}
		}
	}
}

func TestConform_NilAndNull(t *testing.T) {
	got, err := Conform("count", NewField(types.KindInteger, ""), nil, ConflictReject)
	if err != nil || got != nil {
		t.Errorf("nil value: got %v, %v", got, err)
	}
	got, err = Conform("gone", NewField(types.KindNull, ""), "anything", ConflictReject)
	if err != nil || got != nil {
		t.Errorf("null field: got %v, %v", got, err)
	}
}

func TestConform_Reject(t *testing.T) {
	tests := []struct {
		name  string
		field FieldDescriptor
		value any
	}{
		{"string into integer", NewField(types.KindInteger, ""), "seven"},
		{"integer into string", NewField(types.KindString, ""), 7},
		{"number into integer", NewField(types.KindInteger, ""), 1.5},
		{"bad date-time", NewField(types.KindString, FormatDateTime), "yesterday"},
		{"bad uuid", NewField(types.KindString, FormatUUID), "not-a-uuid"},
		{"unsupported", NewField(types.KindString, ""), struct{}{}},
	}

	for _, tt := range tests {
		_, err := Conform("f", tt.field, tt.value, ConflictReject)
		if merrors.GetCode(err) != merrors.CodeTypeConflict {
			t.Errorf("%s: got %v, want TYPE_CONFLICT", tt.name, err)
		}
	}
}

func TestConform_Widen(t *testing.T) {
	got, err := Conform("label", NewField(types.KindString, ""), 7, ConflictWiden)
	if err != nil || got != "7" {
		t.Errorf("integer into text: got %v, %v", got, err)
	}

	got, err = Conform("label", NewField(types.KindString, ""), map[string]any{"a": true}, ConflictWiden)
	if err != nil || got != `{"a":true}` {
		t.Errorf("object into text: got %v, %v", got, err)
	}

	// Objects live in fallback text columns, so a string is widened too.
	got, err = Conform("payload", NewField(types.KindObject, ""), "flat", ConflictWiden)
	if err != nil || got != "flat" {
		t.Errorf("string into object column: got %v, %v", got, err)
	}

	// Typed columns still reject.
	if _, err := Conform("count", NewField(types.KindInteger, ""), "seven", ConflictWiden); err == nil {
		t.Error("string into bigint should be rejected even when widening")
	}
	if _, err := Conform("seen", NewField(types.KindString, FormatDateTime), "yesterday", ConflictWiden); err == nil {
		t.Error("invalid date-time should be rejected even when widening")
	}
}

// Fields stored before formats were checked against kinds may carry a string
// format on a non-string kind. They resolve to fallback text columns, so a
// write is rejected or widened but never panics.
func TestConform_FormatOnNonStringKind(t *testing.T) {
	for _, f := range []FieldDescriptor{
		{Type: types.KindInteger, Format: FormatUUID, Index: true},
		{Type: types.KindNumber, Format: FormatDateTime, Index: true},
	} {
		_, err := Conform("n", f, json.Number("5"), ConflictReject)
		if merrors.GetCode(err) != merrors.CodeTypeConflict {
			t.Errorf("%s/%s: got %v, want TYPE_CONFLICT", f.Type, f.Format, err)
		}

		got, err := Conform("n", f, json.Number("5"), ConflictWiden)
		if err != nil || got != "5" {
			t.Errorf("%s/%s widened: got %v, %v; want \"5\"", f.Type, f.Format, got, err)
		}
	}
}

func TestConform_ErrorDetails(t *testing.T) {
	_, err := Conform("count", NewField(types.KindInteger, ""), "seven", ConflictReject)
	me, ok := err.(*merrors.MoisturizerError)
	if !ok {
		t.Fatalf("expected *MoisturizerError, got %T", err)
	}
	if me.Details["field"] != "count" || me.Details["expected"] != "integer" || me.Details["actual"] != "string" {
		t.Errorf("details = %v", me.Details)
	}
}
