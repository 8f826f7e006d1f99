package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/moisturizer/moisturizer/pkg/types"
)

// SQLite driver names.
const (
	DriverCGo  = "sqlite3"
	DriverPure = "sqlite"
)

// sqlTypes gives each column type its declared SQLite type. The declared
// names keep their SQLite affinity: BIGINT is INTEGER, FLOAT and DOUBLE are
// REAL, DECIMAL, BOOLEAN and TIMESTAMP are NUMERIC.
var sqlTypes = map[types.ColumnType]string{
	types.ColumnText:          "TEXT",
	types.ColumnDecimal:       "DECIMAL",
	types.ColumnBigInt:        "BIGINT",
	types.ColumnBoolean:       "BOOLEAN",
	types.ColumnTimestamp:     "TIMESTAMP",
	types.ColumnUUID:          "TEXT",
	types.ColumnFloat:         "FLOAT",
	types.ColumnDouble:        "DOUBLE",
	types.ColumnDescriptorMap: "TEXT",
}

// SQLiteBackend stores every object type in its own SQLite table.
type SQLiteBackend struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	path   string
	mu     sync.Mutex // Write-only lock (reads don't need this)
}

// NewSQLiteBackend opens (creating if needed) the database at path with the
// given database/sql driver.
func NewSQLiteBackend(path, driver string) (*SQLiteBackend, error) {
	if driver == "" {
		driver = DriverCGo
	}
	writeDSN, readDSN, err := sqliteDSNs(path, driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, writeDSN)
	if err != nil {
		return nil, fmt.Errorf("backend: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	// Creates the file and switches it to WAL before readers attach.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("backend: failed to open database: %w", err)
	}

	readDB, err := sql.Open(driver, readDSN)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("backend: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	return &SQLiteBackend{db: db, readDB: readDB, path: path}, nil
}

func sqliteDSNs(path, driver string) (write, read string, err error) {
	switch driver {
	case DriverCGo:
		write = path + "?_journal_mode=WAL&_busy_timeout=5000"
		return write, write + "&_query_only=1", nil
	case DriverPure:
		write = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		return write, write + "&_pragma=query_only(1)", nil
	}
	return "", "", fmt.Errorf("backend: unsupported sqlite driver %q", driver)
}

// CreateTable creates the table and its indexes.
func (b *SQLiteBackend) CreateTable(ctx context.Context, rt *types.RecordType) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	defs := make([]string, 0, len(rt.Columns)+1)
	var keys []string
	for _, col := range rt.Columns {
		def := quoteIdent(col.Name) + " " + sqlType(col)
		if col.PrimaryKey {
			def += " NOT NULL"
			keys = append(keys, quoteIdent(col.Name))
		}
		defs = append(defs, def)
	}
	if len(keys) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("backend: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(rt.Table), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("backend: failed to create table %s: %w", rt.Table, err)
	}
	// The table may predate rt; bring it up to date in the same transaction.
	if err := addMissingColumns(ctx, tx, rt); err != nil {
		return err
	}
	if err := createIndexes(ctx, tx, rt, rt.Columns); err != nil {
		return err
	}
	return tx.Commit()
}

// AlterTable adds the columns of rt that the table lacks, with their indexes.
func (b *SQLiteBackend) AlterTable(ctx context.Context, rt *types.RecordType) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("backend: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := addMissingColumns(ctx, tx, rt); err != nil {
		return err
	}
	if err := createIndexes(ctx, tx, rt, rt.Columns); err != nil {
		return err
	}
	return tx.Commit()
}

// DropTable drops the table; its indexes go with it.
func (b *SQLiteBackend) DropTable(ctx context.Context, rt *types.RecordType) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(rt.Table)); err != nil {
		return fmt.Errorf("backend: failed to drop table %s: %w", rt.Table, err)
	}
	return nil
}

// TableColumns lists the table's columns using PRAGMA table_info.
func (b *SQLiteBackend) TableColumns(ctx context.Context, table string) ([]string, error) {
	return tableColumns(ctx, b.db, table)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func tableColumns(ctx context.Context, q queryer, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("backend: failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("backend: failed to scan column of %s: %w", table, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrTableNotFound
	}
	return names, nil
}

func addMissingColumns(ctx context.Context, tx *sql.Tx, rt *types.RecordType) error {
	existing, err := tableColumns(ctx, tx, rt.Table)
	if err != nil {
		return err
	}
	for _, col := range rt.MissingColumns(existing) {
		// SQLite cannot add key or NOT NULL columns without a default, so
		// added columns are always plain and nullable.
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(rt.Table), quoteIdent(col.Name), sqlType(col))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("backend: failed to add column %s.%s: %w", rt.Table, col.Name, err)
		}
	}
	return nil
}

func createIndexes(ctx context.Context, tx *sql.Tx, rt *types.RecordType, cols []types.ColumnSpec) error {
	for _, col := range cols {
		if !col.Indexed || col.PrimaryKey {
			continue
		}
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdent(indexName(rt.Table, col.Name)), quoteIdent(rt.Table), quoteIdent(col.Name))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("backend: failed to index %s.%s: %w", rt.Table, col.Name, err)
		}
	}
	return nil
}

// Put inserts or replaces the record.
func (b *SQLiteBackend) Put(ctx context.Context, rt *types.RecordType, rec types.Record) error {
	if _, err := rec.Key(rt); err != nil {
		return err
	}
	values, err := encodeRecord(rt, rec)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", rt.Table, err)
	}
	cols := make([]string, len(rt.Columns))
	marks := make([]string, len(rt.Columns))
	for i, col := range rt.Columns {
		cols[i] = quoteIdent(col.Name)
		marks[i] = "?"
	}
	stmt := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		quoteIdent(rt.Table), strings.Join(cols, ", "), strings.Join(marks, ", "))

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.db.ExecContext(ctx, stmt, values...); err != nil {
		return wrapTableErr(rt.Table, "write", err)
	}
	return nil
}

// Get returns the record whose key column equals key.
func (b *SQLiteBackend) Get(ctx context.Context, rt *types.RecordType, key string) (types.Record, error) {
	keyCol, ok := rt.KeyColumn()
	if !ok {
		return nil, types.ErrNoKeyColumn
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", selectList(rt), quoteIdent(rt.Table), quoteIdent(keyCol.Name))
	rows, err := b.readDB.QueryContext(ctx, query, key)
	if err != nil {
		return nil, wrapTableErr(rt.Table, "read", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rt, rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrRecordNotFound
	}
	return recs[0], nil
}

// List returns all records ordered by key.
func (b *SQLiteBackend) List(ctx context.Context, rt *types.RecordType) ([]types.Record, error) {
	keyCol, ok := rt.KeyColumn()
	if !ok {
		return nil, types.ErrNoKeyColumn
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", selectList(rt), quoteIdent(rt.Table), quoteIdent(keyCol.Name))
	rows, err := b.readDB.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapTableErr(rt.Table, "read", err)
	}
	defer rows.Close()
	return scanRecords(rt, rows)
}

// Delete removes the record whose key column equals key.
func (b *SQLiteBackend) Delete(ctx context.Context, rt *types.RecordType, key string) error {
	keyCol, ok := rt.KeyColumn()
	if !ok {
		return types.ErrNoKeyColumn
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(rt.Table), quoteIdent(keyCol.Name))

	b.mu.Lock()
	defer b.mu.Unlock()
	res, err := b.db.ExecContext(ctx, stmt, key)
	if err != nil {
		return wrapTableErr(rt.Table, "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("backend: %s: %w", rt.Table, err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Close closes both connection pools.
func (b *SQLiteBackend) Close() error {
	var firstErr error
	if err := b.readDB.Close(); err != nil {
		firstErr = err
	}
	if err := b.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func scanRecords(rt *types.RecordType, rows *sql.Rows) ([]types.Record, error) {
	var out []types.Record
	raw := make([]any, len(rt.Columns))
	ptrs := make([]any, len(rt.Columns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	index := make(map[string]int, len(rt.Columns))
	for i, col := range rt.Columns {
		index[col.Name] = i
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("backend: failed to scan %s: %w", rt.Table, err)
		}
		rec, err := decodeRecord(rt, func(col types.ColumnSpec) any { return raw[index[col.Name]] })
		if err != nil {
			return nil, fmt.Errorf("backend: %s: %w", rt.Table, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapTableErr(rt.Table, "read", err)
	}
	return out, nil
}

func selectList(rt *types.RecordType) string {
	cols := make([]string, len(rt.Columns))
	for i, col := range rt.Columns {
		cols[i] = quoteIdent(col.Name)
	}
	return strings.Join(cols, ", ")
}

func sqlType(col types.ColumnSpec) string {
	if t, ok := sqlTypes[col.Type]; ok {
		return t
	}
	return "TEXT"
}

// indexName names the index of one column. The table length is part of the
// name so that a table/column split cannot be read two ways.
func indexName(table, column string) string {
	return fmt.Sprintf("idx_%d_%s_%s", len(table), table, column)
}

// quoteIdent quotes an SQL identifier, doubling embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// wrapTableErr maps SQLite's missing-table error to ErrTableNotFound.
func wrapTableErr(table, op string, err error) error {
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("backend: %s %s: %w", op, table, ErrTableNotFound)
	}
	return fmt.Errorf("backend: failed to %s %s: %w", op, table, err)
}
