// Package catalog persists type descriptors. The catalog is itself a table
// in the object backend, described by the same record factory as every
// object type, with an extra map column holding the field descriptors.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/moisturizer/moisturizer/internal/backend"
	merrors "github.com/moisturizer/moisturizer/internal/errors"
	"github.com/moisturizer/moisturizer/internal/schema"
	"github.com/moisturizer/moisturizer/pkg/types"
)

const (
	// Table is the physical table of the catalog.
	Table = "_descriptors"

	fieldsColumn = "fields"
)

// Entry is the persisted form of one type descriptor.
type Entry struct {
	ID           string                            `json:"id"`
	LastModified time.Time                         `json:"last_modified"`
	Fields       map[string]schema.FieldDescriptor `json:"fields"`
}

// Catalog stores descriptor entries keyed by type id.
type Catalog interface {
	// Get returns the entry for id, or a TYPE_NOT_FOUND error.
	Get(ctx context.Context, id string) (*Entry, error)

	// Put inserts or replaces an entry.
	Put(ctx context.Context, e *Entry) error

	// Delete removes the entry for id, or returns TYPE_NOT_FOUND.
	Delete(ctx context.Context, id string) error

	// List returns all entries ordered by id.
	List(ctx context.Context) ([]*Entry, error)
}

var factory = func() *schema.RecordFactory {
	base := schema.DefaultFields()
	base[fieldsColumn] = schema.NewField(types.KindObject, schema.FormatDescriptor)
	return schema.NewRecordFactory(base)
}()

// RecordType returns the record type of the catalog table.
func RecordType() *types.RecordType {
	return factory.Build("descriptor", Table, nil)
}

// BackendCatalog is a Catalog stored through a backend.Backend.
type BackendCatalog struct {
	backend backend.Backend
	rt      *types.RecordType
}

// New ensures the catalog table exists and returns the catalog.
func New(ctx context.Context, b backend.Backend) (*BackendCatalog, error) {
	rt := RecordType()
	if err := b.CreateTable(ctx, rt); err != nil {
		return nil, merrors.NewCatalogError(merrors.CodeCatalogWriteFailed, "failed to create catalog table", err)
	}
	return &BackendCatalog{backend: b, rt: rt}, nil
}

// Get loads one entry.
func (c *BackendCatalog) Get(ctx context.Context, id string) (*Entry, error) {
	rec, err := c.backend.Get(ctx, c.rt, id)
	if errors.Is(err, backend.ErrRecordNotFound) {
		return nil, merrors.TypeNotFound(id)
	}
	if err != nil {
		return nil, merrors.NewCatalogError(merrors.CodeCatalogReadFailed, fmt.Sprintf("failed to read descriptor %q", id), err)
	}
	return fromRecord(rec)
}

// Put writes one entry.
func (c *BackendCatalog) Put(ctx context.Context, e *Entry) error {
	if err := c.backend.Put(ctx, c.rt, toRecord(e)); err != nil {
		return merrors.NewCatalogError(merrors.CodeCatalogWriteFailed, fmt.Sprintf("failed to write descriptor %q", e.ID), err)
	}
	return nil
}

// Delete removes one entry.
func (c *BackendCatalog) Delete(ctx context.Context, id string) error {
	err := c.backend.Delete(ctx, c.rt, id)
	if errors.Is(err, backend.ErrRecordNotFound) {
		return merrors.TypeNotFound(id)
	}
	if err != nil {
		return merrors.NewCatalogError(merrors.CodeCatalogWriteFailed, fmt.Sprintf("failed to delete descriptor %q", id), err)
	}
	return nil
}

// List loads every entry.
func (c *BackendCatalog) List(ctx context.Context) ([]*Entry, error) {
	recs, err := c.backend.List(ctx, c.rt)
	if err != nil {
		return nil, merrors.NewCatalogError(merrors.CodeCatalogReadFailed, "failed to list descriptors", err)
	}
	out := make([]*Entry, 0, len(recs))
	for _, rec := range recs {
		e, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func toRecord(e *Entry) types.Record {
	return types.Record{
		schema.FieldID:           e.ID,
		schema.FieldLastModified: e.LastModified,
		fieldsColumn:             e.Fields,
	}
}

func fromRecord(rec types.Record) (*Entry, error) {
	id, _ := rec[schema.FieldID].(string)
	e := &Entry{ID: id, Fields: map[string]schema.FieldDescriptor{}}

	if s, ok := rec[schema.FieldLastModified].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, merrors.NewCatalogError(merrors.CodeCatalogReadFailed,
				fmt.Sprintf("descriptor %q: bad last_modified", id), err)
		}
		e.LastModified = t
	}
	if raw, ok := rec[fieldsColumn].(json.RawMessage); ok {
		if err := json.Unmarshal(raw, &e.Fields); err != nil {
			return nil, merrors.NewCatalogError(merrors.CodeCatalogReadFailed,
				fmt.Sprintf("descriptor %q: corrupt field map", id), err)
		}
	}
	return e, nil
}
