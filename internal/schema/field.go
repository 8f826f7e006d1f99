package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	merrors "github.com/moisturizer/moisturizer/internal/errors"
	"github.com/moisturizer/moisturizer/pkg/types"
)

// DefaultIndexed is the indexing policy for fields that do not say otherwise.
const DefaultIndexed = true

// Names of the fields every type carries.
const (
	FieldID           = "id"
	FieldLastModified = "last_modified"
)

// FieldDescriptor is the schema metadata of a single field.
type FieldDescriptor struct {
	Type         types.Kind `json:"type"`
	Format       string     `json:"format"`
	PrimaryKey   bool       `json:"primary_key"`
	PartitionKey bool       `json:"partition_key"`
	Required     bool       `json:"required"`
	Index        bool       `json:"index"`
}

// NewField returns a plain field of the given kind with default flags.
func NewField(kind types.Kind, format string) FieldDescriptor {
	return FieldDescriptor{Type: kind, Format: format, Index: DefaultIndexed}
}

// DefaultFields returns the id and last_modified fields injected into every
// type descriptor.
func DefaultFields() map[string]FieldDescriptor {
	return map[string]FieldDescriptor{
		FieldID: {
			Type:         types.KindString,
			PrimaryKey:   true,
			PartitionKey: true,
			Index:        DefaultIndexed,
		},
		FieldLastModified: {
			Type:   types.KindString,
			Format: FormatDateTime,
			Index:  true,
		},
	}
}

// DeriveFrom infers a field descriptor from a sample value. It reports false
// when the value's native type is not supported.
func DeriveFrom(v any) (FieldDescriptor, bool) {
	sk, ok := Classify(v)
	if !ok {
		return FieldDescriptor{}, false
	}
	return NewField(sk.Kind, sk.Format), true
}

// SchemaKind returns the (kind, format) pair of the field.
func (f FieldDescriptor) SchemaKind() SchemaKind {
	return SchemaKind{Kind: f.Type, Format: f.Format}
}

// ResolveToColumn resolves the field to a column spec named name. It reports
// false for null-kind fields, which have no column.
func (f FieldDescriptor) ResolveToColumn(name string) (types.ColumnSpec, bool) {
	ct, ok := ColumnTypeFor(f.SchemaKind())
	if !ok {
		return types.ColumnSpec{}, false
	}
	return types.ColumnSpec{
		Name:         name,
		Type:         ct,
		Kind:         f.Type,
		Format:       f.Format,
		PrimaryKey:   f.PrimaryKey,
		PartitionKey: f.PartitionKey,
		Indexed:      f.Index,
		Required:     f.Required,
	}, true
}

// SameShape reports whether two descriptors share kind and format.
func (f FieldDescriptor) SameShape(other FieldDescriptor) bool {
	return f.Type == other.Type && f.Format == other.Format
}

// Validate checks a caller-declared field. The descriptor format is reserved
// for the catalog.
func (f FieldDescriptor) Validate(name string) error {
	if err := ValidateFieldName(name); err != nil {
		return err
	}
	if !f.Type.Valid() {
		return merrors.NewValidationError(merrors.CodeInvalidField,
			fmt.Sprintf("field %q: unknown type %q", name, f.Type))
	}
	if f.Format == FormatDescriptor {
		return merrors.NewValidationError(merrors.CodeInvalidField,
			fmt.Sprintf("field %q: format %q is reserved", name, FormatDescriptor))
	}
	if want, ok := formatKinds[f.Format]; ok && want != f.Type {
		return merrors.NewValidationError(merrors.CodeInvalidField,
			fmt.Sprintf("field %q: format %q requires type %s, got %s", name, f.Format, want, f.Type))
	}
	return nil
}

// formatKinds is the kind each known format applies to. Unknown formats are
// kept and fall back to a text column.
var formatKinds = map[string]types.Kind{
	FormatDateTime: types.KindString,
	FormatUUID:     types.KindString,
	FormatFloat:    types.KindNumber,
	FormatDouble:   types.KindNumber,
}

// UnmarshalJSON decodes a field descriptor, applying DefaultIndexed when the
// index flag is absent.
func (f *FieldDescriptor) UnmarshalJSON(data []byte) error {
	type plain FieldDescriptor
	aux := struct {
		*plain
		Index *bool `json:"index"`
	}{plain: (*plain)(f)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	f.Index = DefaultIndexed
	if aux.Index != nil {
		f.Index = *aux.Index
	}
	return nil
}

// ParseField parses a "name=kind[:format]" declaration, as used on the
// command line.
func ParseField(decl string) (string, FieldDescriptor, error) {
	name, spec, ok := strings.Cut(decl, "=")
	if !ok || name == "" || spec == "" {
		return "", FieldDescriptor{}, merrors.NewValidationError(merrors.CodeInvalidField,
			fmt.Sprintf("invalid field declaration %q (want name=kind[:format])", decl))
	}
	kind, format, _ := strings.Cut(spec, ":")
	f := NewField(types.Kind(kind), format)
	if err := f.Validate(name); err != nil {
		return "", FieldDescriptor{}, err
	}
	return name, f, nil
}

// CaseVariant returns the field of fields whose name equals name ignoring
// case but is spelled differently. Column names are case-insensitive, so the
// two would share one column.
func CaseVariant(fields map[string]FieldDescriptor, name string) (string, bool) {
	for other := range fields {
		if other != name && strings.EqualFold(other, name) {
			return other, true
		}
	}
	return "", false
}

// CloneFields returns a copy of a field map.
func CloneFields(fields map[string]FieldDescriptor) map[string]FieldDescriptor {
	out := make(map[string]FieldDescriptor, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
