package descriptor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/moisturizer/moisturizer/internal/catalog"
	merrors "github.com/moisturizer/moisturizer/internal/errors"
	"github.com/moisturizer/moisturizer/internal/schema"
	"github.com/moisturizer/moisturizer/pkg/types"
)

// TypeDescriptor is the inferred schema of one object type. Fields always
// holds the id and last_modified fields. A TypeDescriptor is a snapshot
// owned by one caller and is not safe for concurrent use; the Registry is.
type TypeDescriptor struct {
	ID           string
	LastModified time.Time
	Fields       map[string]schema.FieldDescriptor

	registry *Registry
}

// Schema maps every field with a column to its resolved column spec.
func (d *TypeDescriptor) Schema() map[string]types.ColumnSpec {
	return schema.ResolveSchema(d.Fields)
}

// Model builds the record type of the descriptor. It is rebuilt on every
// call and reflects the current fields.
func (d *TypeDescriptor) Model() *types.RecordType {
	return schema.BuildRecordType(d.ID, d.Fields)
}

// FieldNames returns the field names in sorted order.
func (d *TypeDescriptor) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *TypeDescriptor) entry() *catalog.Entry {
	return &catalog.Entry{
		ID:           d.ID,
		LastModified: d.LastModified,
		Fields:       schema.CloneFields(d.Fields),
	}
}

// InferSchemaChange derives fields for the keys of object that the type does
// not have yet, adds them and migrates the table. It returns the added
// fields, or nil when there is no drift; in that case nothing is written and
// no migration is issued. Values whose kind cannot be inferred are skipped.
func (d *TypeDescriptor) InferSchemaChange(ctx context.Context, object map[string]any) (map[string]schema.FieldDescriptor, error) {
	if len(d.unknownKeys(object)) == 0 {
		return nil, nil
	}

	r := d.registry
	unlock := r.lock(d.ID)
	defer unlock()

	current, err := r.catalog.Get(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	merged := withDefaults(current.Fields)

	added := make(map[string]schema.FieldDescriptor)
	for name, v := range object {
		if _, ok := merged[name]; ok {
			continue
		}
		if err := schema.ValidateFieldName(name); err != nil {
			return nil, err
		}
		if other, ok := schema.CaseVariant(merged, name); ok {
			return nil, caseConflict(d.ID, name, other)
		}
		if other, ok := schema.CaseVariant(added, name); ok {
			return nil, caseConflict(d.ID, name, other)
		}
		f, ok := schema.DeriveFrom(v)
		if !ok {
			r.logger.Debug("skipping unclassifiable value",
				zap.String("type_id", d.ID), zap.String("field", name), zap.String("go_type", fmt.Sprintf("%T", v)))
			continue
		}
		added[name] = f
	}
	if len(added) == 0 {
		d.Fields, d.LastModified = merged, current.LastModified
		return nil, nil
	}
	for name, f := range added {
		merged[name] = f
	}

	next := &TypeDescriptor{ID: d.ID, LastModified: r.timestamp(), Fields: merged, registry: r}
	if _, err := r.coord.Sync(ctx, next.Model()); err != nil {
		return nil, err
	}
	if err := r.catalog.Put(ctx, next.entry()); err != nil {
		return nil, err
	}
	d.Fields, d.LastModified = next.Fields, next.LastModified

	r.logger.Info("mutating schema", zap.String("type_id", d.ID), zap.Strings("added", sortedNames(added)))
	return added, nil
}

// unknownKeys returns the keys of object without a field, judged against the
// in-memory fields only.
func (d *TypeDescriptor) unknownKeys(object map[string]any) []string {
	var keys []string
	for name := range object {
		if _, ok := d.Fields[name]; !ok {
			keys = append(keys, name)
		}
	}
	return keys
}

// Save persists the descriptor. The table is always re-synchronized first,
// as any write may change the schema. Save merges into the catalogued
// fields: fields are only ever added, and redefining the kind or format of
// an existing field fails with FIELD_CONFLICT.
func (d *TypeDescriptor) Save(ctx context.Context) error {
	if err := schema.ValidateTypeID(d.ID); err != nil {
		return err
	}
	r := d.registry
	unlock := r.lock(d.ID)
	defer unlock()

	merged := schema.DefaultFields()
	current, err := r.catalog.Get(ctx, d.ID)
	switch {
	case err == nil:
		merged = withDefaults(current.Fields)
	case !merrors.IsNotFound(err):
		return err
	}

	for name, f := range d.Fields {
		if name == schema.FieldID || name == schema.FieldLastModified {
			continue
		}
		existing, ok := merged[name]
		if ok && !existing.SameShape(f) {
			return merrors.NewValidationError(merrors.CodeFieldConflict,
				fmt.Sprintf("field %q is %s, cannot redefine it as %s", name, shape(existing), shape(f))).
				WithDetails(map[string]interface{}{"type_id": d.ID, "field": name})
		}
		if !ok {
			if err := f.Validate(name); err != nil {
				return err
			}
			if other, found := schema.CaseVariant(merged, name); found {
				return caseConflict(d.ID, name, other)
			}
		}
		merged[name] = f
	}

	next := &TypeDescriptor{ID: d.ID, LastModified: r.timestamp(), Fields: merged, registry: r}
	if _, err := r.coord.Resync(ctx, next.Model()); err != nil {
		return err
	}
	if err := r.catalog.Put(ctx, next.entry()); err != nil {
		return err
	}
	d.Fields, d.LastModified = next.Fields, next.LastModified

	r.logger.Info("updating schema", zap.String("type_id", d.ID), zap.Int("fields", len(d.Fields)))
	return nil
}

// Delete drops the type's table and removes the descriptor.
func (d *TypeDescriptor) Delete(ctx context.Context) error {
	return d.registry.Delete(ctx, d.ID)
}

func caseConflict(typeID, name, other string) error {
	return merrors.NewValidationError(merrors.CodeFieldConflict,
		fmt.Sprintf("field %q differs from existing field %q only in case", name, other)).
		WithDetails(map[string]interface{}{"type_id": typeID, "field": name, "existing": other})
}

func shape(f schema.FieldDescriptor) string {
	if f.Format == "" {
		return string(f.Type)
	}
	return string(f.Type) + ":" + f.Format
}

func sortedNames(fields map[string]schema.FieldDescriptor) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
