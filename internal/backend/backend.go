// Package backend provides the physical stores behind object types. A backend
// knows nothing about inference: it creates, alters and drops tables shaped
// by a types.RecordType and reads and writes records in them.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/moisturizer/moisturizer/pkg/types"
)

var (
	// ErrTableNotFound is returned when a table does not exist.
	ErrTableNotFound = errors.New("backend: table not found")

	// ErrRecordNotFound is returned when no record has the requested key.
	ErrRecordNotFound = errors.New("backend: record not found")
)

// Backend is the storage engine contract. Schema operations must be
// idempotent: creating an existing table, adding columns that already exist
// or dropping a missing table succeed without effect.
type Backend interface {
	// CreateTable creates the table for rt with all of its columns.
	CreateTable(ctx context.Context, rt *types.RecordType) error

	// AlterTable adds the columns of rt missing from its table. Existing
	// columns are never removed or retyped.
	AlterTable(ctx context.Context, rt *types.RecordType) error

	// DropTable removes the table for rt and all of its records.
	DropTable(ctx context.Context, rt *types.RecordType) error

	// TableColumns returns the column names of a table, or ErrTableNotFound.
	TableColumns(ctx context.Context, table string) ([]string, error)

	// Put inserts or replaces a record. Values for names that are not columns
	// of rt are ignored.
	Put(ctx context.Context, rt *types.RecordType, rec types.Record) error

	// Get returns the record with the given key, or ErrRecordNotFound.
	Get(ctx context.Context, rt *types.RecordType, key string) (types.Record, error)

	// List returns every record of the table ordered by key.
	List(ctx context.Context, rt *types.RecordType) ([]types.Record, error)

	// Delete removes the record with the given key, or returns ErrRecordNotFound.
	Delete(ctx context.Context, rt *types.RecordType, key string) error

	// Close releases the backend's resources.
	Close() error
}

// Backend types.
const (
	TypeSQLite = "sqlite"
	TypeBolt   = "bolt"
)

// Options configures Open.
type Options struct {
	// Type selects the backend: "sqlite" (default) or "bolt".
	Type string

	// Driver is the database/sql driver for the sqlite backend: "sqlite3"
	// (cgo, default) or "sqlite" (pure Go).
	Driver string

	// Path is the database file.
	Path string
}

// Open opens the backend described by opts.
func Open(opts Options) (Backend, error) {
	switch opts.Type {
	case "", TypeSQLite:
		return NewSQLiteBackend(opts.Path, opts.Driver)
	case TypeBolt:
		return NewBoltBackend(opts.Path)
	default:
		return nil, fmt.Errorf("backend: unknown type %q", opts.Type)
	}
}
