package descriptor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/moisturizer/moisturizer/internal/backend/backendtest"
	"github.com/moisturizer/moisturizer/internal/catalog"
	merrors "github.com/moisturizer/moisturizer/internal/errors"
	"github.com/moisturizer/moisturizer/internal/migrate"
	"github.com/moisturizer/moisturizer/internal/schema"
	"github.com/moisturizer/moisturizer/pkg/types"
)

type fixture struct {
	reg     *Registry
	rec     *backendtest.Recorder
	catalog *catalog.BackendCatalog
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	rec := backendtest.Open(t)
	cat, err := catalog.New(context.Background(), rec)
	require.NoError(t, err)
	rec.Reset()

	var mu sync.Mutex
	clock := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	reg := NewRegistry(cat, migrate.NewCoordinator(rec, zap.NewNop()),
		WithLogger(zap.NewNop()),
		WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		}),
	)
	return &fixture{reg: reg, rec: rec, catalog: cat}
}

func (f *fixture) tableColumns(t testing.TB, id string) []string {
	t.Helper()
	cols, err := f.rec.TableColumns(context.Background(), schema.TableName(id))
	require.NoError(t, err)
	return cols
}

// Scenario A: a new type has exactly the default fields and a matching table.
func TestCreate_DefaultsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.reg.Create(ctx, "widget", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "last_modified"}, d.FieldNames())
	assert.ElementsMatch(t, []string{"id", "last_modified"}, f.tableColumns(t, "widget"))

	id := d.Fields[schema.FieldID]
	assert.True(t, id.PrimaryKey)
	assert.True(t, id.PartitionKey)
	assert.True(t, d.Fields[schema.FieldLastModified].Index)
}

// Scenario B: new keys are inferred, added, and reflected in the schema.
func TestInferSchemaChange_NewFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.reg.Create(ctx, "widget", nil)
	require.NoError(t, err)

	added, err := d.InferSchemaChange(ctx, map[string]any{"foo": "bar", "count": 7})
	require.NoError(t, err)
	assert.Equal(t, map[string]schema.FieldDescriptor{
		"foo":   schema.NewField(types.KindString, ""),
		"count": schema.NewField(types.KindInteger, ""),
	}, added)

	s := d.Schema()
	assert.Equal(t, types.ColumnText, s["foo"].Type)
	assert.Equal(t, types.ColumnBigInt, s["count"].Type)
	assert.ElementsMatch(t, []string{"id", "last_modified", "foo", "count"}, f.tableColumns(t, "widget"))
}

// Scenario C: the same object again is no drift and issues no migration.
func TestInferSchemaChange_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.reg.Create(ctx, "widget", nil)
	require.NoError(t, err)

	obj := map[string]any{"foo": "bar", "count": 7}
	first, err := d.InferSchemaChange(ctx, obj)
	require.NoError(t, err)
	require.Len(t, first, 2)
	f.rec.Reset()
	before := d.LastModified

	second, err := d.InferSchemaChange(ctx, obj)
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Zero(t, f.rec.SchemaCalls("obj_widget"))
	assert.Empty(t, f.rec.Calls(backendtest.OpPut), "no catalog write without drift")
	assert.Equal(t, before, d.LastModified)

	// A freshly loaded descriptor agrees.
	reloaded, err := f.reg.Get(ctx, "widget")
	require.NoError(t, err)
	third, err := reloaded.InferSchemaChange(ctx, obj)
	require.NoError(t, err)
	assert.Nil(t, third)
}

// Scenario D: deleting drops the table and the descriptor.
func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.reg.Create(ctx, "widget", nil)
	require.NoError(t, err)

	require.NoError(t, d.Delete(ctx))

	_, err = f.rec.TableColumns(ctx, "obj_widget")
	assert.Error(t, err)
	_, err = f.reg.Get(ctx, "widget")
	assert.Equal(t, merrors.CodeTypeNotFound, merrors.GetCode(err))

	err = f.reg.Delete(ctx, "widget")
	assert.True(t, merrors.IsNotFound(err))
}

func TestCreate_OverridesCallerDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.reg.Create(ctx, "widget", map[string]schema.FieldDescriptor{
		"id":            schema.NewField(types.KindInteger, ""),
		"last_modified": {Type: types.KindBoolean},
		"color":         schema.NewField(types.KindString, ""),
	})
	require.NoError(t, err)
	assert.Equal(t, schema.DefaultFields()[schema.FieldID], d.Fields["id"])
	assert.Equal(t, schema.DefaultFields()[schema.FieldLastModified], d.Fields["last_modified"])
	assert.Contains(t, d.Fields, "color")
	assert.ElementsMatch(t, []string{"id", "last_modified", "color"}, f.tableColumns(t, "widget"))
}

func TestCreate_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reg.Create(ctx, "Bad-Id", nil)
	assert.Equal(t, merrors.CodeInvalidTypeID, merrors.GetCode(err))

	_, err = f.reg.Create(ctx, "widget", map[string]schema.FieldDescriptor{"x": {Type: "decimal"}})
	assert.Equal(t, merrors.CodeInvalidField, merrors.GetCode(err))

	_, err = f.reg.Create(ctx, "widget", nil)
	require.NoError(t, err)
	_, err = f.reg.Create(ctx, "widget", nil)
	assert.Equal(t, merrors.CodeTypeExists, merrors.GetCode(err))
}

func TestCreate_MigrationFailureCommitsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rec.Fail(backendtest.OpCreate, true)
	_, err := f.reg.Create(ctx, "widget", nil)
	assert.Equal(t, merrors.CodeTableCreateFailed, merrors.GetCode(err))
	f.rec.Fail(backendtest.OpCreate, false)

	_, err = f.reg.Get(ctx, "widget")
	assert.True(t, merrors.IsNotFound(err), "descriptor must not be catalogued")

	_, err = f.reg.Create(ctx, "widget", nil)
	assert.NoError(t, err, "a failed create can be retried")
}

func TestInferSchemaChange_MigrationFailureKeepsLastGoodState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.reg.Create(ctx, "widget", nil)
	require.NoError(t, err)

	f.rec.Fail(backendtest.OpAlter, true)
	_, err = d.InferSchemaChange(ctx, map[string]any{"foo": "bar"})
	assert.Equal(t, merrors.CodeTableAlterFailed, merrors.GetCode(err))
	assert.NotContains(t, d.Fields, "foo", "in-memory descriptor keeps its committed fields")

	reloaded, err := f.reg.Get(ctx, "widget")
	require.NoError(t, err)
	assert.NotContains(t, reloaded.Fields, "foo")
	assert.ElementsMatch(t, []string{"id", "last_modified"}, f.tableColumns(t, "widget"))

	f.rec.Fail(backendtest.OpAlter, false)
	added, err := d.InferSchemaChange(ctx, map[string]any{"foo": "bar"})
	require.NoError(t, err)
	assert.Contains(t, added, "foo")
}

func TestInferSchemaChange_CatalogFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.reg.Create(ctx, "widget", nil)
	require.NoError(t, err)

	f.rec.Fail(backendtest.OpPut, true)
	_, err = d.InferSchemaChange(ctx, map[string]any{"foo": "bar"})
	assert.Equal(t, merrors.CodeCatalogWriteFailed, merrors.GetCode(err))
	assert.NotContains(t, d.Fields, "foo")
}

func TestInferSchemaChange_SkipsUnclassifiable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.reg.Create(ctx, "widget", nil)
	require.NoError(t, err)

	added, err := d.InferSchemaChange(ctx, map[string]any{
		"nothing": nil,
		"blob":    complex(1, 2),
		"ok":      true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, sortedNames(added))
	assert.NotContains(t, d.Fields, "nothing")

	added, err = d.InferSchemaChange(ctx, map[string]any{"nothing": nil})
	require.NoError(t, err)
	assert.Nil(t, added)
}

func TestInferSchemaChange_InvalidFieldName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.reg.Create(ctx, "widget", nil)
	require.NoError(t, err)

	_, err = d.InferSchemaChange(ctx, map[string]any{"bad\nname": 1})
	assert.Equal(t, merrors.CodeInvalidField, merrors.GetCode(err))
}

func TestInferSchemaChange_DeletedType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.reg.Create(ctx, "widget", nil)
	require.NoError(t, err)
	require.NoError(t, f.reg.Delete(ctx, "widget"))

	_, err = d.InferSchemaChange(ctx, map[string]any{"foo": "bar"})
	assert.True(t, merrors.IsNotFound(err))
}

func TestInferSchemaChange_SeesOtherWriters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reg.Create(ctx, "widget", nil)
	require.NoError(t, err)

	a, err := f.reg.Get(ctx, "widget")
	require.NoError(t, err)
	b, err := f.reg.Get(ctx, "widget")
	require.NoError(t, err)

	_, err = a.InferSchemaChange(ctx, map[string]any{"foo": "x"})
	require.NoError(t, err)

	// b is stale but must not re-add foo nor lose it.
	added, err := b.InferSchemaChange(ctx, map[string]any{"foo": "y", "bar": 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"bar"}, sortedNames(added))
	assert.Contains(t, b.Fields, "foo")
}

func TestConcurrentInferSchemaChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reg.Create(ctx, "widget", nil)
	require.NoError(t, err)

	const writers = 8
	results := make([]map[string]schema.FieldDescriptor, writers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < writers; i++ {
		i := i
		g.Go(func() error {
			d, err := f.reg.Get(gctx, "widget")
			if err != nil {
				return err
			}
			added, err := d.InferSchemaChange(gctx, map[string]any{
				"shared":                   "x",
				fmt.Sprintf("own_%d", i): i,
			})
			results[i] = added
			return err
		})
	}
	require.NoError(t, g.Wait())

	sharedAdds := 0
	for i, added := range results {
		assert.Contains(t, added, fmt.Sprintf("own_%d", i))
		if _, ok := added["shared"]; ok {
			sharedAdds++
		}
	}
	assert.Equal(t, 1, sharedAdds, "exactly one writer adds the shared field")

	d, err := f.reg.Get(ctx, "widget")
	require.NoError(t, err)
	assert.Len(t, d.Fields, 2+1+writers)
	assert.ElementsMatch(t, d.FieldNames(), f.tableColumns(t, "widget"))
}

func TestSave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.reg.Create(ctx, "widget", nil)
	require.NoError(t, err)
	f.rec.Reset()

	d.Fields["seen"] = schema.NewField(types.KindString, schema.FormatDateTime)
	require.NoError(t, d.Save(ctx))
	assert.Equal(t, []string{"obj_widget"}, f.rec.Calls(backendtest.OpAlter))
	assert.Contains(t, f.tableColumns(t, "widget"), "seen")

	// Saving without changes still re-synchronizes the table.
	f.rec.Reset()
	require.NoError(t, d.Save(ctx))
	assert.Equal(t, []string{"obj_widget"}, f.rec.Calls(backendtest.OpAlter))

	reloaded, err := f.reg.Get(ctx, "widget")
	require.NoError(t, err)
	assert.Equal(t, types.ColumnTimestamp, reloaded.Schema()["seen"].Type)
}

func TestSave_Conflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.reg.Create(ctx, "widget", map[string]schema.FieldDescriptor{
		"count": schema.NewField(types.KindInteger, ""),
	})
	require.NoError(t, err)

	d.Fields["count"] = schema.NewField(types.KindString, "")
	err = d.Save(ctx)
	assert.Equal(t, merrors.CodeFieldConflict, merrors.GetCode(err))

	// Flags may change as long as the shape holds.
	d.Fields["count"] = schema.FieldDescriptor{Type: types.KindInteger, Required: true}
	require.NoError(t, d.Save(ctx))
	reloaded, err := f.reg.Get(ctx, "widget")
	require.NoError(t, err)
	assert.True(t, reloaded.Fields["count"].Required)
}

func TestSave_NewDescriptorCreates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.reg.New("gadget", map[string]schema.FieldDescriptor{"size": schema.NewField(types.KindNumber, "")})
	require.NoError(t, d.Save(ctx))

	reloaded, err := f.reg.Get(ctx, "gadget")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "last_modified", "size"}, reloaded.FieldNames())
	assert.ElementsMatch(t, reloaded.FieldNames(), f.tableColumns(t, "gadget"))
}

func TestSave_NeverRemovesFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reg.Create(ctx, "widget", map[string]schema.FieldDescriptor{
		"count": schema.NewField(types.KindInteger, ""),
	})
	require.NoError(t, err)

	d := f.reg.New("widget", nil)
	require.NoError(t, d.Save(ctx))
	assert.Contains(t, d.Fields, "count")
}

// Column names are case-insensitive, so field names that differ only in case
// would share a column.
func TestFieldNames_CaseVariantsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.reg.Create(ctx, "widget", nil)
	require.NoError(t, err)
	_, err = d.InferSchemaChange(ctx, map[string]any{"foo": 1})
	require.NoError(t, err)
	f.rec.Reset()

	_, err = d.InferSchemaChange(ctx, map[string]any{"Foo": "hello"})
	assert.Equal(t, merrors.CodeFieldConflict, merrors.GetCode(err))
	assert.Empty(t, f.rec.Calls(backendtest.OpAlter))
	assert.NotContains(t, d.Fields, "Foo")

	_, err = d.InferSchemaChange(ctx, map[string]any{"x": 1, "X": 2})
	assert.Equal(t, merrors.CodeFieldConflict, merrors.GetCode(err))

	_, err = d.InferSchemaChange(ctx, map[string]any{"ID": "other"})
	assert.Equal(t, merrors.CodeFieldConflict, merrors.GetCode(err))

	d.Fields["FOO"] = schema.NewField(types.KindInteger, "")
	err = d.Save(ctx)
	assert.Equal(t, merrors.CodeFieldConflict, merrors.GetCode(err))

	_, err = f.reg.Create(ctx, "gadget", map[string]schema.FieldDescriptor{
		"size": schema.NewField(types.KindInteger, ""),
		"Size": schema.NewField(types.KindString, ""),
	})
	assert.Equal(t, merrors.CodeFieldConflict, merrors.GetCode(err))
	_, err = f.reg.Get(ctx, "gadget")
	assert.True(t, merrors.IsNotFound(err))

	reloaded, err := f.reg.Get(ctx, "widget")
	require.NoError(t, err)
	assert.Equal(t, []string{"foo", "id", "last_modified"}, reloaded.FieldNames())
}

func TestDescriptorRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.reg.Create(ctx, "widget", map[string]schema.FieldDescriptor{
		"ref":   {Type: types.KindString, Format: schema.FormatUUID, Required: true},
		"ratio": schema.NewField(types.KindNumber, schema.FormatDouble),
	})
	require.NoError(t, err)
	_, err = d.InferSchemaChange(ctx, map[string]any{"tags": []any{"a"}, "meta": map[string]any{}})
	require.NoError(t, err)

	reloaded, err := f.reg.Get(ctx, "widget")
	require.NoError(t, err)
	if diff := cmp.Diff(d.Fields, reloaded.Fields); diff != "" {
		t.Errorf("fields mismatch after reload (-saved +loaded):\n%s", diff)
	}
	assert.True(t, d.LastModified.Equal(reloaded.LastModified))
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"widget", "gadget", "order"} {
		_, err := f.reg.Create(ctx, id, nil)
		require.NoError(t, err)
	}
	descs, err := f.reg.List(ctx)
	require.NoError(t, err)
	var ids []string
	for _, d := range descs {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"gadget", "order", "widget"}, ids)
}

func TestGetOrCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.reg.GetOrCreate(ctx, "widget")
	require.NoError(t, err)
	_, err = d.InferSchemaChange(ctx, map[string]any{"foo": "bar"})
	require.NoError(t, err)

	again, err := f.reg.GetOrCreate(ctx, "widget")
	require.NoError(t, err)
	assert.Contains(t, again.Fields, "foo")
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.reg.Create(ctx, "widget", map[string]schema.FieldDescriptor{
		"foo": schema.NewField(types.KindString, ""),
	})
	require.NoError(t, err)

	// Lose the table behind the registry's back.
	require.NoError(t, f.rec.DropTable(ctx, d.Model()))

	report, err := f.reg.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.ElementsMatch(t, []string{"id", "last_modified", "foo"}, f.tableColumns(t, "widget"))
}

func TestProperty_DefaultFieldsAlwaysPresent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kinds := []types.Kind{types.KindBoolean, types.KindInteger, types.KindNumber, types.KindString, types.KindObject, types.KindArray}
	n := 0

	properties := gopter.NewProperties(nil)
	properties.Property("created descriptors carry id and last_modified", prop.ForAll(
		func(idKind, lmKind int, extra string) bool {
			n++
			fields := map[string]schema.FieldDescriptor{
				"id":            {Type: kinds[idKind], Required: true},
				"last_modified": {Type: kinds[lmKind]},
				"x" + extra:     schema.NewField(types.KindString, ""),
			}
			d, err := f.reg.Create(ctx, fmt.Sprintf("prop_%d", n), fields)
			if err != nil {
				return false
			}
			defaults := schema.DefaultFields()
			return d.Fields["id"] == defaults["id"] &&
				d.Fields["last_modified"] == defaults["last_modified"] &&
				d.Fields["id"].PrimaryKey && d.Fields["id"].PartitionKey &&
				d.Fields["last_modified"].Index
		},
		gen.IntRange(0, len(kinds)-1),
		gen.IntRange(0, len(kinds)-1),
		gen.AlphaString(),
	))
	properties.TestingRun(t)
}

func TestProperty_MigrationConvergence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.reg.Create(ctx, "widget", nil)
	require.NoError(t, err)

	properties := gopter.NewProperties(nil)
	properties.Property("table columns match the descriptor after inference", prop.ForAll(
		func(keys []string, n int64) bool {
			obj := map[string]any{}
			for _, k := range keys {
				obj[k] = n
			}
			if _, err := d.InferSchemaChange(ctx, obj); err != nil {
				return false
			}
			cols, err := f.rec.TableColumns(ctx, "obj_widget")
			if err != nil {
				return false
			}
			want := d.Model().ColumnNames()
			return cmp.Diff(want, cols, cmpopts.SortSlices(func(a, b string) bool { return a < b })) == ""
		},
		gen.SliceOfN(3, gen.Identifier()),
		gen.Int64(),
	))
	properties.TestingRun(t)
}
