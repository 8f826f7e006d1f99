package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	merrors "github.com/moisturizer/moisturizer/internal/errors"
	"github.com/moisturizer/moisturizer/pkg/types"
)

// ConflictPolicy decides what happens when a value does not match the kind
// already recorded for its field. The recorded kind never changes.
type ConflictPolicy string

const (
	// ConflictReject fails the write with TYPE_CONFLICT.
	ConflictReject ConflictPolicy = "reject"

	// ConflictWiden stores any value in a text column as its JSON encoding.
	ConflictWiden ConflictPolicy = "widen"
)

// ParseConflictPolicy parses a policy name. The empty string selects
// ConflictReject.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ConflictReject, nil
	case ConflictReject, ConflictWiden:
		return p, nil
	}
	return "", fmt.Errorf("unknown conflict policy %q (want reject or widen)", s)
}

// Conform checks v against the recorded field f and returns the value to
// store. nil always conforms. Null-kind fields have no column and yield nil.
func Conform(name string, f FieldDescriptor, v any, policy ConflictPolicy) (any, error) {
	if v == nil || f.Type == types.KindNull {
		return nil, nil
	}
	if matches(f, v) {
		return v, nil
	}

	if policy == ConflictWiden {
		ct, _ := ColumnTypeFor(f.SchemaKind())
		switch {
		case ct == types.ColumnText:
			if s, ok := v.(string); ok {
				return s, nil
			}
			b, err := json.Marshal(v)
			if err == nil {
				return string(b), nil
			}
		}
	}

	got := "unsupported"
	if sk, ok := Classify(v); ok {
		got = string(sk.Kind)
	}
	return nil, merrors.NewValidationError(merrors.CodeTypeConflict,
		fmt.Sprintf("field %q: value of kind %s does not match recorded kind %s", name, got, describe(f))).
		WithDetails(map[string]interface{}{
			"field":    name,
			"expected": describe(f),
			"actual":   got,
		})
}

func matches(f FieldDescriptor, v any) bool {
	sk, ok := Classify(v)
	if !ok {
		// time.Time is not inferred but is a valid date-time value.
		_, isTime := v.(time.Time)
		return isTime && f.Type == types.KindString && f.Format == FormatDateTime
	}
	// Every integer is also a number.
	if sk.Kind != f.Type && !(sk.Kind == types.KindInteger && f.Type == types.KindNumber) {
		return false
	}
	switch f.Format {
	case FormatDateTime:
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := time.Parse(time.RFC3339Nano, s)
		return err == nil
	case FormatUUID:
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := uuid.Parse(s)
		return err == nil
	}
	return true
}

func describe(f FieldDescriptor) string {
	if f.Format == FormatNone {
		return string(f.Type)
	}
	return string(f.Type) + "/" + f.Format
}
