package backend

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/moisturizer/moisturizer/pkg/types"
)

var (
	tableMetaKey = []byte("_meta")
	dataBucket   = []byte("data")
)

// tableMeta is the column set of a bolt table, kept next to its data.
type tableMeta struct {
	Columns  []types.ColumnSpec `msgpack:"c"`
	Created  time.Time          `msgpack:"t"`
	Modified time.Time          `msgpack:"m"`
}

// BoltBackend stores each table as a top-level bbolt bucket holding the
// table's metadata and a nested data bucket of snappy-compressed msgpack
// records keyed by record key. Indexes are recorded but not maintained:
// lookups are by key and listings are full scans in key order.
type BoltBackend struct {
	bdb *bbolt.DB
}

// NewBoltBackend opens (creating if needed) the bolt file at path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	bdb, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("backend: failed to open bolt database: %w", err)
	}
	return &BoltBackend{bdb: bdb}, nil
}

// CreateTable creates the table buckets, merging columns into an existing
// table's metadata.
func (b *BoltBackend) CreateTable(ctx context.Context, rt *types.RecordType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.bdb.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(rt.Table))
		if err != nil {
			return fmt.Errorf("backend: failed to create table %s: %w", rt.Table, err)
		}
		if _, err := root.CreateBucketIfNotExists(dataBucket); err != nil {
			return fmt.Errorf("backend: failed to create table %s: %w", rt.Table, err)
		}
		return mergeColumns(root, rt)
	})
}

// AlterTable adds the columns of rt missing from the table's metadata.
func (b *BoltBackend) AlterTable(ctx context.Context, rt *types.RecordType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.bdb.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(rt.Table))
		if root == nil {
			return ErrTableNotFound
		}
		return mergeColumns(root, rt)
	})
}

func mergeColumns(root *bbolt.Bucket, rt *types.RecordType) error {
	meta, err := readMeta(root)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if meta == nil {
		meta = &tableMeta{Created: now}
	}
	missing := rt.MissingColumns(columnNames(meta.Columns))
	if len(missing) == 0 && !meta.Modified.IsZero() {
		return nil
	}
	meta.Columns = append(meta.Columns, missing...)
	meta.Modified = now

	data, err := msgpack.Marshal(meta)
	if err != nil {
		return fmt.Errorf("backend: failed to encode metadata of %s: %w", rt.Table, err)
	}
	return root.Put(tableMetaKey, data)
}

func readMeta(root *bbolt.Bucket) (*tableMeta, error) {
	raw := root.Get(tableMetaKey)
	if raw == nil {
		return nil, nil
	}
	var meta tableMeta
	if err := msgpack.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("backend: corrupt table metadata: %w", err)
	}
	return &meta, nil
}

func columnNames(cols []types.ColumnSpec) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// DropTable deletes the table bucket.
func (b *BoltBackend) DropTable(ctx context.Context, rt *types.RecordType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.bdb.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket([]byte(rt.Table))
		if err != nil && err != bbolt.ErrBucketNotFound {
			return fmt.Errorf("backend: failed to drop table %s: %w", rt.Table, err)
		}
		return nil
	})
}

// TableColumns returns the column names recorded for the table.
func (b *BoltBackend) TableColumns(ctx context.Context, table string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var names []string
	err := b.bdb.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(table))
		if root == nil {
			return ErrTableNotFound
		}
		meta, err := readMeta(root)
		if err != nil {
			return err
		}
		if meta == nil {
			return ErrTableNotFound
		}
		names = columnNames(meta.Columns)
		return nil
	})
	return names, err
}

func dataOf(tx *bbolt.Tx, table string) (*bbolt.Bucket, error) {
	root := tx.Bucket([]byte(table))
	if root == nil {
		return nil, ErrTableNotFound
	}
	data := root.Bucket(dataBucket)
	if data == nil {
		return nil, ErrTableNotFound
	}
	return data, nil
}

// Put encodes the record's columns and stores them under its key.
func (b *BoltBackend) Put(ctx context.Context, rt *types.RecordType, rec types.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := rec.Key(rt)
	if err != nil {
		return err
	}
	row := make(map[string]any, len(rt.Columns))
	for _, col := range rt.Columns {
		v, err := encodeValue(col, rec[col.Name])
		if err != nil {
			return fmt.Errorf("backend: %s: %w", rt.Table, err)
		}
		if v != nil {
			row[col.Name] = v
		}
	}
	value, err := encodeRow(row)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", rt.Table, err)
	}

	return b.bdb.Update(func(tx *bbolt.Tx) error {
		data, err := dataOf(tx, rt.Table)
		if err != nil {
			return err
		}
		return data.Put([]byte(key), value)
	})
}

// Get decodes the record stored under key.
func (b *BoltBackend) Get(ctx context.Context, rt *types.RecordType, key string) (types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec types.Record
	err := b.bdb.View(func(tx *bbolt.Tx) error {
		data, err := dataOf(tx, rt.Table)
		if err != nil {
			return err
		}
		raw := data.Get([]byte(key))
		if raw == nil {
			return ErrRecordNotFound
		}
		rec, err = decodeRow(rt, raw)
		return err
	})
	return rec, err
}

// List decodes every record in key order.
func (b *BoltBackend) List(ctx context.Context, rt *types.RecordType) ([]types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []types.Record
	err := b.bdb.View(func(tx *bbolt.Tx) error {
		data, err := dataOf(tx, rt.Table)
		if err != nil {
			return err
		}
		return data.ForEach(func(_, raw []byte) error {
			rec, err := decodeRow(rt, raw)
			if err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// Delete removes the record stored under key.
func (b *BoltBackend) Delete(ctx context.Context, rt *types.RecordType, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.bdb.Update(func(tx *bbolt.Tx) error {
		data, err := dataOf(tx, rt.Table)
		if err != nil {
			return err
		}
		if data.Get([]byte(key)) == nil {
			return ErrRecordNotFound
		}
		return data.Delete([]byte(key))
	})
}

// Close closes the bolt file.
func (b *BoltBackend) Close() error {
	return b.bdb.Close()
}

func encodeRow(row map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(row)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, buf.Bytes()), nil
}

func decodeRow(rt *types.RecordType, raw []byte) (types.Record, error) {
	plain, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: corrupt record: %w", rt.Table, err)
	}
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(plain))
	dec.UseLooseInterfaceDecoding(true)
	var row map[string]any
	err = dec.Decode(&row)
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: corrupt record: %w", rt.Table, err)
	}
	rec, err := decodeRecord(rt, func(col types.ColumnSpec) any { return row[col.Name] })
	if err != nil {
		return nil, fmt.Errorf("backend: %s: %w", rt.Table, err)
	}
	return rec, nil
}
