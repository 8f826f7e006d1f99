// Package descriptor manages type descriptors: the inferred schema of each
// object type, persisted in the catalog and mirrored by a physical table.
//
// Schema-changing operations on one type are serialized through a striped
// lock and always re-read the catalogued descriptor under that lock, so
// concurrent writers in one process see each other's additions. Migration
// runs before the catalog write: when it fails nothing is committed.
package descriptor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"github.com/moisturizer/moisturizer/internal/catalog"
	merrors "github.com/moisturizer/moisturizer/internal/errors"
	"github.com/moisturizer/moisturizer/internal/migrate"
	"github.com/moisturizer/moisturizer/internal/schema"
	"github.com/moisturizer/moisturizer/pkg/types"
)

// DefaultLockStripes is the number of per-type lock stripes.
const DefaultLockStripes = 64

// Registry creates, loads and deletes type descriptors.
type Registry struct {
	catalog catalog.Catalog
	coord   *migrate.Coordinator
	logger  *zap.Logger
	now     func() time.Time
	stripes []sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the audit logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithLockStripes sets the number of lock stripes.
func WithLockStripes(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.stripes = make([]sync.Mutex, n)
		}
	}
}

// WithClock sets the source of last_modified timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a registry over a catalog and migration coordinator.
func NewRegistry(cat catalog.Catalog, coord *migrate.Coordinator, opts ...Option) *Registry {
	r := &Registry{
		catalog: cat,
		coord:   coord,
		logger:  zap.NewNop(),
		now:     time.Now,
		stripes: make([]sync.Mutex, DefaultLockStripes),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("registry")
	return r
}

// lock acquires the stripe of id and returns its unlock func.
func (r *Registry) lock(id string) func() {
	mu := &r.stripes[murmur3.Sum32([]byte(id))%uint32(len(r.stripes))]
	mu.Lock()
	return mu.Unlock
}

func (r *Registry) timestamp() time.Time {
	return r.now().UTC()
}

// Create registers a new type with the given fields. The id and
// last_modified fields are always injected, replacing caller definitions of
// the same names. The table is created before the descriptor is catalogued.
func (r *Registry) Create(ctx context.Context, id string, fields map[string]schema.FieldDescriptor) (*TypeDescriptor, error) {
	if err := schema.ValidateTypeID(id); err != nil {
		return nil, err
	}
	for name, f := range fields {
		if name == schema.FieldID || name == schema.FieldLastModified {
			continue
		}
		if err := f.Validate(name); err != nil {
			return nil, err
		}
	}
	all := withDefaults(fields)
	for name := range all {
		if other, ok := schema.CaseVariant(all, name); ok {
			return nil, caseConflict(id, name, other)
		}
	}

	unlock := r.lock(id)
	defer unlock()

	_, err := r.catalog.Get(ctx, id)
	switch {
	case err == nil:
		return nil, merrors.New(merrors.ErrCategoryCatalog, merrors.CodeTypeExists,
			fmt.Sprintf("type %q already exists", id)).
			WithDetails(map[string]interface{}{"type_id": id})
	case !merrors.IsNotFound(err):
		return nil, err
	}

	d := &TypeDescriptor{
		ID:           id,
		LastModified: r.timestamp(),
		Fields:       all,
		registry:     r,
	}
	if _, err := r.coord.Sync(ctx, d.Model()); err != nil {
		return nil, err
	}
	if err := r.catalog.Put(ctx, d.entry()); err != nil {
		return nil, err
	}

	r.logger.Info("creating schema", zap.String("type_id", id), zap.Int("fields", len(d.Fields)))
	return d, nil
}

// New returns an unsaved descriptor bound to the registry. Save persists it,
// merging into the catalogued descriptor if the type already exists.
func (r *Registry) New(id string, fields map[string]schema.FieldDescriptor) *TypeDescriptor {
	return &TypeDescriptor{ID: id, Fields: withDefaults(fields), registry: r}
}

// Get loads the descriptor of a type, or returns TYPE_NOT_FOUND.
func (r *Registry) Get(ctx context.Context, id string) (*TypeDescriptor, error) {
	if err := schema.ValidateTypeID(id); err != nil {
		return nil, err
	}
	e, err := r.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.fromEntry(e), nil
}

// GetOrCreate loads the descriptor of a type, creating it with only the
// default fields when it does not exist yet.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (*TypeDescriptor, error) {
	d, err := r.Get(ctx, id)
	if !merrors.IsNotFound(err) {
		return d, err
	}
	d, err = r.Create(ctx, id, nil)
	if merrors.GetCode(err) == merrors.CodeTypeExists {
		return r.Get(ctx, id)
	}
	return d, err
}

// List loads every descriptor, ordered by id.
func (r *Registry) List(ctx context.Context) ([]*TypeDescriptor, error) {
	entries, err := r.catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*TypeDescriptor, len(entries))
	for i, e := range entries {
		out[i] = r.fromEntry(e)
	}
	return out, nil
}

// Delete drops the table of a type and then removes its descriptor.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := schema.ValidateTypeID(id); err != nil {
		return err
	}
	unlock := r.lock(id)
	defer unlock()

	e, err := r.catalog.Get(ctx, id)
	if err != nil {
		return err
	}
	d := r.fromEntry(e)
	if err := r.coord.Drop(ctx, d.Model()); err != nil {
		return err
	}
	if err := r.catalog.Delete(ctx, id); err != nil {
		return err
	}

	r.logger.Info("deleting schema", zap.String("type_id", id))
	return nil
}

// Reconcile re-syncs the table of every catalogued type.
func (r *Registry) Reconcile(ctx context.Context) (*migrate.ReconcileReport, error) {
	descs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	models := make([]*types.RecordType, len(descs))
	for i, d := range descs {
		models[i] = d.Model()
	}
	return r.coord.ReconcileAll(ctx, models)
}

func (r *Registry) fromEntry(e *catalog.Entry) *TypeDescriptor {
	return &TypeDescriptor{
		ID:           e.ID,
		LastModified: e.LastModified,
		Fields:       withDefaults(e.Fields),
		registry:     r,
	}
}

// withDefaults copies fields and injects the default fields over them.
func withDefaults(fields map[string]schema.FieldDescriptor) map[string]schema.FieldDescriptor {
	out := schema.CloneFields(fields)
	for name, f := range schema.DefaultFields() {
		out[name] = f
	}
	return out
}
