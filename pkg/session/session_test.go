package session

import (
	"context"
	"testing"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/grafana/traceql-engine/pkg/config"
	"github.com/grafana/traceql-engine/pkg/engine"
	"github.com/grafana/traceql-engine/pkg/util/test"
	"github.com/grafana/traceql-engine/tempodb/backend"
	"github.com/grafana/traceql-engine/tempodb/backend/local"
)

// fakeEngine records registrations in order to verify the bootstrap
// sequence, and the files partitioned into its parquet scan.
type fakeEngine struct {
	order    []string
	options  map[string]any
	tables   map[string]engine.TableProvider
	views    map[string]string
	executed []string
	files    []engine.PartitionedFile
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		options: map[string]any{},
		tables:  map[string]engine.TableProvider{},
		views:   map[string]string{},
	}
}

func (f *fakeEngine) SetOption(key string, value any) {
	f.options[key] = value
}

func (f *fakeEngine) RegisterUDF(udf engine.ScalarUDF) error {
	f.order = append(f.order, "udf:"+udf.Name)
	return nil
}

func (f *fakeEngine) RegisterObjectStore(scheme string, _ any) error {
	f.order = append(f.order, "store:"+scheme)
	return nil
}

func (f *fakeEngine) RegisterTable(name string, provider engine.TableProvider) error {
	f.order = append(f.order, "table:"+name)
	f.tables[name] = provider
	return nil
}

func (f *fakeEngine) RegisterView(name, sql string) error {
	f.order = append(f.order, "view:"+name)
	f.views[name] = sql
	return nil
}

func (f *fakeEngine) ExecuteSQL(_ context.Context, sql string) (engine.BatchStream, error) {
	f.executed = append(f.executed, sql)
	return nil, nil
}

func (f *fakeEngine) CreateFileScanPlan(_ context.Context, _ *engine.Schema, files []engine.PartitionedFile, _ []int, _ int) (engine.ExecutionPlan, error) {
	f.files = files
	return nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		S3: config.S3{
			Endpoint:        "http://localhost:9000",
			Bucket:          "tempo",
			Prefix:          "single-tenant",
			AccessKeyID:     "k",
			SecretAccessKey: "s",
			CutoffHours:     0, // 0 selects the default cutoff; the test block's meta times are recent
		},
		DataFusion: config.DataFusion{ParquetPruning: true},
	}
}

func testSession(t *testing.T) (*Session, *fakeEngine) {
	t.Helper()

	root := t.TempDir()
	_, err := test.MakeTestBlock(root, "single-tenant")
	require.NoError(t, err)

	reader, err := local.New(&local.Config{Path: root})
	require.NoError(t, err)

	eng := newFakeEngine()
	s, err := New(context.Background(), testConfig(), eng, reader, log.NewNopLogger())
	require.NoError(t, err)
	return s, eng
}

func TestSessionBootstrapOrder(t *testing.T) {
	_, eng := testSession(t)

	// UDFs before the object store, the store before the providers, the
	// view last
	require.Equal(t, []string{
		"udf:attrs_to_map",
		"store:s3",
		"table:traces",
		"view:spans",
	}, eng.order)

	require.Contains(t, eng.views["spans"], "attrs_to_map")
	require.NotNil(t, eng.tables["traces"])
}

func TestSessionOptions(t *testing.T) {
	_, eng := testSession(t)

	require.Equal(t, true, eng.options["repartition_file_scans"])
	require.Equal(t, true, eng.options["repartition_joins"])
	require.Equal(t, true, eng.options["repartition_aggregations"])
	require.Equal(t, true, eng.options["parquet_pruning"])
	require.Equal(t, false, eng.options["enable_ident_normalization"])
	require.Greater(t, eng.options["target_partitions"].(int), 0)
}

func TestSessionQueryFrontDoor(t *testing.T) {
	s, eng := testSession(t)
	ctx := context.Background()

	// TraceQL expression
	_, err := s.Query(ctx, `{ name = "http.get" }`)
	require.NoError(t, err)
	require.Contains(t, eng.executed[0], "WITH unnest_resources")
	require.Contains(t, eng.executed[0], `span."Name" = 'http.get'`)

	// pipeline-prefixed TraceQL
	_, err = s.Query(ctx, `| { } | count()`)
	require.NoError(t, err)
	require.Contains(t, eng.executed[1], "COUNT(*) as count")

	// SQL passes through unchanged
	_, err = s.Query(ctx, "SELECT * FROM spans LIMIT 10")
	require.NoError(t, err)
	require.Equal(t, "SELECT * FROM spans LIMIT 10", eng.executed[2])

	// broken TraceQL fails the query without reaching the engine
	_, err = s.Query(ctx, "{ name = }")
	require.Error(t, err)
	require.Len(t, eng.executed, 3)
}

func TestSessionValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.S3.Bucket = ""

	reader, err := local.New(&local.Config{Path: t.TempDir()})
	require.NoError(t, err)

	_, err = New(context.Background(), cfg, newFakeEngine(), reader, log.NewNopLogger())
	require.Error(t, err)
}

func TestSessionRequiresBlocks(t *testing.T) {
	reader, err := local.New(&local.Config{Path: t.TempDir()})
	require.NoError(t, err)

	_, err = New(context.Background(), testConfig(), newFakeEngine(), reader, log.NewNopLogger())
	require.Error(t, err)
}

func TestNewBlockSession(t *testing.T) {
	root := t.TempDir()
	blockID, err := test.MakeTestBlock(root, "single-tenant")
	require.NoError(t, err)

	reader, err := local.New(&local.Config{Path: root})
	require.NoError(t, err)

	eng := newFakeEngine()
	s, err := NewBlockSession(context.Background(), eng, reader, "single-tenant", blockID, log.NewNopLogger())
	require.NoError(t, err)

	// same registration shape as the full-bucket session: the block file
	// becomes `traces`, the identical view derives `spans`
	require.Equal(t, []string{
		"udf:attrs_to_map",
		"store:s3",
		"table:traces",
		"view:spans",
	}, eng.order)
	require.Equal(t, engine.SpansViewSQL, eng.views["spans"])

	// the traces provider holds exactly this block's data.parquet
	_, err = eng.tables["traces"].Scan(context.Background(), nil, nil, 0)
	require.NoError(t, err)

	// compiled TraceQL goes through the same front door
	_, err = s.Query(context.Background(), `{ name = "http.get" }`)
	require.NoError(t, err)
	require.Contains(t, eng.executed[0], `span."Name" = 'http.get'`)
}

func TestNewBlockSessionScanUsesBlockFile(t *testing.T) {
	root := t.TempDir()
	blockID, err := test.MakeTestBlock(root, "single-tenant")
	require.NoError(t, err)

	reader, err := local.New(&local.Config{Path: root})
	require.NoError(t, err)

	eng := newFakeEngine()
	_, err = NewBlockSession(context.Background(), eng, reader, "single-tenant", blockID, log.NewNopLogger())
	require.NoError(t, err)

	_, err = eng.tables["traces"].Scan(context.Background(), nil, nil, 0)
	require.NoError(t, err)

	require.Len(t, eng.files, 1)
	require.Equal(t, "single-tenant/"+blockID.String()+"/data.parquet", eng.files[0].Path)
	require.Greater(t, eng.files[0].Size, int64(0))
}

func TestNewBlockSessionMissingBlock(t *testing.T) {
	reader, err := local.New(&local.Config{Path: t.TempDir()})
	require.NoError(t, err)

	_, err = NewBlockSession(context.Background(), newFakeEngine(), reader, "single-tenant", uuid.New(), log.NewNopLogger())
	require.Error(t, err)
	require.ErrorIs(t, err, backend.ErrDoesNotExist)
}

func TestToSQLFrontDoor(t *testing.T) {
	sql, err := ToSQL(`  { duration > 100ms }`)
	require.NoError(t, err)
	require.Contains(t, sql, `span."DurationNano" > 100000000`)

	sql, err = ToSQL(`|{ } | rate()`)
	require.NoError(t, err)
	require.Contains(t, sql, "date_bin")

	sql, err = ToSQL("SELECT 1")
	require.NoError(t, err)
	require.Equal(t, "SELECT 1", sql)
}
