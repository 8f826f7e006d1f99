// Package backendtest provides backend helpers for tests: a temporary bolt
// backend and a Recorder that counts schema calls and injects failures.
package backendtest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/moisturizer/moisturizer/internal/backend"
	"github.com/moisturizer/moisturizer/pkg/types"
)

// Operation names used by Recorder.
const (
	OpCreate = "create"
	OpAlter  = "alter"
	OpDrop   = "drop"
	OpPut    = "put"
)

// ErrInjected is returned by operations set to fail.
var ErrInjected = errors.New("backendtest: injected failure")

// Recorder wraps a backend, records schema calls per table and fails
// operations on demand.
type Recorder struct {
	backend.Backend

	mu    sync.Mutex
	calls map[string][]string // op -> tables
	fail  map[string]error
}

// Open returns a Recorder over a bolt backend in a temporary directory,
// closed when the test ends.
func Open(t testing.TB) *Recorder {
	t.Helper()
	b, err := backend.NewBoltBackend(filepath.Join(t.TempDir(), "objects.bolt"))
	if err != nil {
		t.Fatalf("backendtest: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return Wrap(b)
}

// Wrap returns a Recorder over b.
func Wrap(b backend.Backend) *Recorder {
	return &Recorder{
		Backend: b,
		calls:   make(map[string][]string),
		fail:    make(map[string]error),
	}
}

// Fail sets whether later calls of op fail with ErrInjected.
func (r *Recorder) Fail(op string, fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fail {
		r.fail[op] = ErrInjected
	} else {
		delete(r.fail, op)
	}
}

// Calls returns the tables op was called for, in call order.
func (r *Recorder) Calls(op string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls[op]...)
}

// SchemaCalls returns the number of create, alter and drop calls for table.
func (r *Recorder) SchemaCalls(table string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, op := range []string{OpCreate, OpAlter, OpDrop} {
		for _, t := range r.calls[op] {
			if t == table {
				n++
			}
		}
	}
	return n
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = make(map[string][]string)
}

func (r *Recorder) record(op, table string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[op] = append(r.calls[op], table)
	return r.fail[op]
}

func (r *Recorder) CreateTable(ctx context.Context, rt *types.RecordType) error {
	if err := r.record(OpCreate, rt.Table); err != nil {
		return err
	}
	return r.Backend.CreateTable(ctx, rt)
}

func (r *Recorder) AlterTable(ctx context.Context, rt *types.RecordType) error {
	if err := r.record(OpAlter, rt.Table); err != nil {
		return err
	}
	return r.Backend.AlterTable(ctx, rt)
}

func (r *Recorder) DropTable(ctx context.Context, rt *types.RecordType) error {
	if err := r.record(OpDrop, rt.Table); err != nil {
		return err
	}
	return r.Backend.DropTable(ctx, rt)
}

func (r *Recorder) Put(ctx context.Context, rt *types.RecordType, rec types.Record) error {
	if err := r.record(OpPut, rt.Table); err != nil {
		return err
	}
	return r.Backend.Put(ctx, rt, rec)
}
