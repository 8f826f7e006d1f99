// Package snapshot exports type descriptors to object storage and imports
// them back. Snapshots are JSON documents named by a time-ordered uuid, so
// the lexicographically greatest name under the prefix is the latest one.
// Imports are additive: missing types are created and missing fields added,
// nothing is removed.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moisturizer/moisturizer/internal/descriptor"
	merrors "github.com/moisturizer/moisturizer/internal/errors"
	"github.com/moisturizer/moisturizer/internal/schema"
	"github.com/moisturizer/moisturizer/internal/storage"
)

// FormatVersion is the version written into new snapshots.
const FormatVersion = 1

// DefaultPrefix is the object path prefix snapshots are stored under.
const DefaultPrefix = "snapshots"

const ext = ".json"

// Document is the serialized form of a snapshot.
type Document struct {
	Version     int                `json:"version"`
	CreatedAt   time.Time          `json:"created_at"`
	Descriptors []DescriptorRecord `json:"descriptors"`
}

// DescriptorRecord is one type descriptor in a snapshot.
type DescriptorRecord struct {
	ID           string                            `json:"id"`
	LastModified time.Time                         `json:"last_modified"`
	Fields       map[string]schema.FieldDescriptor `json:"fields"`
}

// ExportResult describes a written snapshot.
type ExportResult struct {
	Path  string
	Types int
}

// ImportResult describes an applied snapshot.
type ImportResult struct {
	Path      string
	Created   []string
	Updated   []string
	Unchanged []string
}

// Options configures a Manager.
type Options struct {
	// Prefix is the object path prefix. Defaults to DefaultPrefix.
	Prefix string

	// StagingDir holds snapshot files while they are uploaded or read.
	// Defaults to the system temp directory.
	StagingDir string

	Logger *zap.Logger
}

// Manager writes and applies snapshots.
type Manager struct {
	registry *descriptor.Registry
	store    storage.ObjectStorage
	prefix   string
	staging  string
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager creates a snapshot manager.
func NewManager(reg *descriptor.Registry, store storage.ObjectStorage, opts Options) *Manager {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		registry: reg,
		store:    store,
		prefix:   strings.Trim(opts.Prefix, "/"),
		staging:  opts.StagingDir,
		logger:   opts.Logger.Named("snapshot"),
		now:      time.Now,
	}
}

// Export writes every catalogued descriptor to a new snapshot.
func (m *Manager) Export(ctx context.Context) (*ExportResult, error) {
	descs, err := m.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Version:     FormatVersion,
		CreatedAt:   m.now().UTC(),
		Descriptors: make([]DescriptorRecord, len(descs)),
	}
	for i, d := range descs {
		doc.Descriptors[i] = DescriptorRecord{ID: d.ID, LastModified: d.LastModified, Fields: d.Fields}
	}

	name, err := uuid.NewV7()
	if err != nil {
		return nil, merrors.NewInternalError("failed to generate snapshot name", err)
	}
	objectPath := storage.JoinPath(m.prefix, name.String()+ext)

	dir, err := os.MkdirTemp(m.staging, "snapshot-")
	if err != nil {
		return nil, merrors.NewInternalError("failed to create staging directory", err)
	}
	defer os.RemoveAll(dir)

	localPath := filepath.Join(dir, name.String()+ext)
	if err := writeDocument(localPath, doc); err != nil {
		return nil, merrors.NewInternalError("failed to write snapshot", err)
	}
	if err := m.store.Upload(ctx, localPath, objectPath); err != nil {
		return nil, merrors.NewStorageError(merrors.CodeUploadFailed,
			fmt.Sprintf("failed to upload snapshot %s", objectPath), err)
	}

	m.logger.Info("exported snapshot", zap.String("path", objectPath), zap.Int("types", len(descs)))
	return &ExportResult{Path: objectPath, Types: len(descs)}, nil
}

// List returns the snapshot paths under the prefix, oldest first.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	objects, err := m.store.ListObjects(ctx, m.prefix)
	if err != nil {
		return nil, merrors.NewStorageError(merrors.CodeDownloadFailed, "failed to list snapshots", err)
	}
	dir := m.prefix
	if dir == "" {
		dir = "."
	}
	var out []string
	for _, p := range objects {
		if path.Dir(p) == dir && strings.HasSuffix(p, ext) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Latest returns the path of the newest snapshot, or SNAPSHOT_NOT_FOUND.
func (m *Manager) Latest(ctx context.Context) (string, error) {
	paths, err := m.List(ctx)
	if err != nil {
		return "", err
	}
	latest := ""
	for _, p := range paths {
		if p > latest {
			latest = p
		}
	}
	if latest == "" {
		return "", merrors.New(merrors.ErrCategorySnapshot, merrors.CodeSnapshotNotFound,
			fmt.Sprintf("no snapshot under %q", m.prefix))
	}
	return latest, nil
}

// ImportLatest applies the newest snapshot.
func (m *Manager) ImportLatest(ctx context.Context) (*ImportResult, error) {
	latest, err := m.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return m.Import(ctx, latest)
}

// Import applies the snapshot at objectPath. Descriptors are applied in
// order; on failure the ones already applied stay applied.
func (m *Manager) Import(ctx context.Context, objectPath string) (*ImportResult, error) {
	doc, err := m.load(ctx, objectPath)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Path: objectPath}
	for _, rec := range doc.Descriptors {
		if err := schema.ValidateTypeID(rec.ID); err != nil {
			return result, merrors.NewSnapshotError(merrors.CodeSnapshotCorrupt,
				fmt.Sprintf("snapshot %s holds an invalid type id", objectPath), err)
		}

		current, err := m.registry.Get(ctx, rec.ID)
		switch {
		case merrors.IsNotFound(err):
			if err := m.registry.New(rec.ID, rec.Fields).Save(ctx); err != nil {
				return result, err
			}
			result.Created = append(result.Created, rec.ID)
			continue
		case err != nil:
			return result, err
		}

		if !missingFields(current, rec.Fields) {
			result.Unchanged = append(result.Unchanged, rec.ID)
			continue
		}
		if err := m.registry.New(rec.ID, rec.Fields).Save(ctx); err != nil {
			return result, err
		}
		result.Updated = append(result.Updated, rec.ID)
	}

	m.logger.Info("imported snapshot",
		zap.String("path", objectPath),
		zap.Int("created", len(result.Created)),
		zap.Int("updated", len(result.Updated)),
		zap.Int("unchanged", len(result.Unchanged)))
	return result, nil
}

func (m *Manager) load(ctx context.Context, objectPath string) (*Document, error) {
	dir, err := os.MkdirTemp(m.staging, "snapshot-")
	if err != nil {
		return nil, merrors.NewInternalError("failed to create staging directory", err)
	}
	defer os.RemoveAll(dir)

	localPath := filepath.Join(dir, path.Base(objectPath))
	err = m.store.Download(ctx, objectPath, localPath)
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		return nil, merrors.New(merrors.ErrCategorySnapshot, merrors.CodeSnapshotNotFound,
			fmt.Sprintf("snapshot %s not found", objectPath))
	case err != nil:
		return nil, merrors.NewStorageError(merrors.CodeDownloadFailed,
			fmt.Sprintf("failed to download snapshot %s", objectPath), err)
	}

	doc, err := readDocument(localPath)
	if err != nil {
		return nil, merrors.NewSnapshotError(merrors.CodeSnapshotCorrupt,
			fmt.Sprintf("snapshot %s is not readable", objectPath), err)
	}
	return doc, nil
}

// missingFields reports whether fields holds a name d does not have.
func missingFields(d *descriptor.TypeDescriptor, fields map[string]schema.FieldDescriptor) bool {
	for name := range fields {
		if _, ok := d.Fields[name]; !ok {
			return true
		}
	}
	return false
}

func writeDocument(localPath string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0644)
}

func readDocument(localPath string) (*Document, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Version < 1 || doc.Version > FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}
	return &doc, nil
}
