// Package objects stores schemaless objects. Every write checks the values of
// known fields against their recorded kind, lets the type descriptor absorb
// new fields and then persists the object in the type's table.
package objects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moisturizer/moisturizer/internal/backend"
	"github.com/moisturizer/moisturizer/internal/descriptor"
	merrors "github.com/moisturizer/moisturizer/internal/errors"
	"github.com/moisturizer/moisturizer/internal/schema"
	"github.com/moisturizer/moisturizer/pkg/types"
)

// Options configures a Service.
type Options struct {
	// ConflictPolicy handles values that do not match their field's kind.
	ConflictPolicy schema.ConflictPolicy

	// AutoCreateTypes creates unknown types on first write.
	AutoCreateTypes bool

	// Now stamps last_modified. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		ConflictPolicy:  schema.ConflictReject,
		AutoCreateTypes: true,
	}
}

// Service reads and writes objects of registered types.
type Service struct {
	registry *descriptor.Registry
	backend  backend.Backend
	logger   *zap.Logger
	opts     Options
}

// NewService creates an object service.
func NewService(reg *descriptor.Registry, b backend.Backend, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ConflictPolicy == "" {
		opts.ConflictPolicy = schema.ConflictReject
	}
	return &Service{
		registry: reg,
		backend:  b,
		logger:   logger.Named("objects"),
		opts:     opts,
	}
}

// NewID returns a fresh object id: a time-based uuid in hex without dashes.
func NewID() string {
	return strings.ReplaceAll(uuid.Must(uuid.NewUUID()).String(), "-", "")
}

// Put stores obj under typeID and returns the stored object. The id is taken
// from the object's "id" key or generated; last_modified is always set.
func (s *Service) Put(ctx context.Context, typeID string, obj map[string]any) (types.Record, error) {
	id := ""
	if v, ok := obj[schema.FieldID]; ok && v != nil {
		str, ok := v.(string)
		if !ok || str == "" {
			return nil, merrors.NewValidationError(merrors.CodeInvalidPayload,
				fmt.Sprintf("id must be a non-empty string, got %T", v))
		}
		id = str
	}
	if id == "" {
		id = NewID()
	}
	return s.put(ctx, typeID, id, obj)
}

// Upsert stores obj under an explicit id, replacing any object with that id.
func (s *Service) Upsert(ctx context.Context, typeID, id string, obj map[string]any) (types.Record, error) {
	if id == "" {
		return nil, merrors.NewValidationError(merrors.CodeInvalidPayload, "id must not be empty")
	}
	return s.put(ctx, typeID, id, obj)
}

func (s *Service) put(ctx context.Context, typeID, id string, obj map[string]any) (types.Record, error) {
	d, err := s.descriptor(ctx, typeID)
	if err != nil {
		return nil, err
	}

	// Known fields are checked before the schema may grow, so a rejected
	// write leaves the descriptor untouched.
	rec := make(types.Record, len(obj)+2)
	unknown := make(map[string]any)
	for name, v := range obj {
		if name == schema.FieldID || name == schema.FieldLastModified {
			continue
		}
		f, ok := d.Fields[name]
		if !ok {
			unknown[name] = v
			continue
		}
		cv, err := schema.Conform(name, f, v, s.opts.ConflictPolicy)
		if err != nil {
			return nil, err
		}
		rec[name] = cv
	}

	if len(unknown) > 0 {
		if _, err := d.InferSchemaChange(ctx, unknown); err != nil {
			return nil, err
		}
		for name, v := range unknown {
			f, ok := d.Fields[name]
			if !ok {
				continue
			}
			// Another writer may have recorded the field with another kind.
			cv, err := schema.Conform(name, f, v, s.opts.ConflictPolicy)
			if err != nil {
				return nil, err
			}
			rec[name] = cv
		}
	}

	for name, f := range d.Fields {
		if f.Required && rec[name] == nil && name != schema.FieldID && name != schema.FieldLastModified {
			return nil, merrors.NewValidationError(merrors.CodeInvalidPayload,
				fmt.Sprintf("field %q is required", name)).
				WithDetails(map[string]interface{}{"type_id": typeID, "field": name})
		}
	}

	rec[schema.FieldID] = id
	rec[schema.FieldLastModified] = s.opts.Now().UTC()

	rt := d.Model()
	if err := s.backend.Put(ctx, rt, rec); err != nil {
		s.logger.Error("object write failed", zap.String("type_id", typeID), zap.String("id", id), zap.Error(err))
		return nil, merrors.NewStorageError(merrors.CodeWriteFailed,
			fmt.Sprintf("failed to write object %s/%s", typeID, id), err)
	}
	s.logger.Debug("stored object", zap.String("type_id", typeID), zap.String("id", id), zap.Int("fields", len(rec)))

	return s.read(ctx, rt, typeID, id)
}

// Get returns one object.
func (s *Service) Get(ctx context.Context, typeID, id string) (types.Record, error) {
	d, err := s.registry.Get(ctx, typeID)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, d.Model(), typeID, id)
}

// List returns every object of a type ordered by id.
func (s *Service) List(ctx context.Context, typeID string) ([]types.Record, error) {
	d, err := s.registry.Get(ctx, typeID)
	if err != nil {
		return nil, err
	}
	recs, err := s.backend.List(ctx, d.Model())
	if err != nil {
		return nil, merrors.NewStorageError(merrors.CodeReadFailed,
			fmt.Sprintf("failed to list objects of %s", typeID), err)
	}
	return recs, nil
}

// Delete removes one object.
func (s *Service) Delete(ctx context.Context, typeID, id string) error {
	d, err := s.registry.Get(ctx, typeID)
	if err != nil {
		return err
	}
	return s.delete(ctx, d.Model(), typeID, id)
}

// DeleteAll removes every object of a type and returns the removed objects.
// The type itself is kept.
func (s *Service) DeleteAll(ctx context.Context, typeID string) ([]types.Record, error) {
	d, err := s.registry.Get(ctx, typeID)
	if err != nil {
		return nil, err
	}
	rt := d.Model()
	recs, err := s.backend.List(ctx, rt)
	if err != nil {
		return nil, merrors.NewStorageError(merrors.CodeReadFailed,
			fmt.Sprintf("failed to list objects of %s", typeID), err)
	}
	for _, rec := range recs {
		key, err := rec.Key(rt)
		if err != nil {
			return nil, merrors.NewInternalError("stored object without id", err)
		}
		if err := s.delete(ctx, rt, typeID, key); err != nil && !merrors.IsNotFound(err) {
			return nil, err
		}
	}
	s.logger.Info("deleted objects", zap.String("type_id", typeID), zap.Int("count", len(recs)))
	return recs, nil
}

func (s *Service) descriptor(ctx context.Context, typeID string) (*descriptor.TypeDescriptor, error) {
	if s.opts.AutoCreateTypes {
		return s.registry.GetOrCreate(ctx, typeID)
	}
	return s.registry.Get(ctx, typeID)
}

func (s *Service) read(ctx context.Context, rt *types.RecordType, typeID, id string) (types.Record, error) {
	rec, err := s.backend.Get(ctx, rt, id)
	switch {
	case errors.Is(err, backend.ErrRecordNotFound):
		return nil, objectNotFound(typeID, id)
	case err != nil:
		return nil, merrors.NewStorageError(merrors.CodeReadFailed,
			fmt.Sprintf("failed to read object %s/%s", typeID, id), err)
	}
	return rec, nil
}

func (s *Service) delete(ctx context.Context, rt *types.RecordType, typeID, id string) error {
	err := s.backend.Delete(ctx, rt, id)
	switch {
	case errors.Is(err, backend.ErrRecordNotFound):
		return objectNotFound(typeID, id)
	case err != nil:
		return merrors.NewStorageError(merrors.CodeWriteFailed,
			fmt.Sprintf("failed to delete object %s/%s", typeID, id), err)
	}
	return nil
}

func objectNotFound(typeID, id string) *merrors.MoisturizerError {
	return merrors.New(merrors.ErrCategoryStorage, merrors.CodeObjectNotFound,
		fmt.Sprintf("object %s/%s not found", typeID, id)).
		WithDetails(map[string]interface{}{"type_id": typeID, "id": id})
}

// DecodeJSON decodes one JSON object. Numbers are kept as json.Number so
// integers are inferred as integers.
func DecodeJSON(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, merrors.Wrap(merrors.ErrCategoryValidation, merrors.CodeInvalidPayload,
			"payload is not a JSON object", err)
	}
	if obj == nil {
		return nil, merrors.NewValidationError(merrors.CodeInvalidPayload, "payload is not a JSON object")
	}
	return obj, nil
}
