// Package session wires the engine together at boot: options, UDFs, the
// object store, the table providers, and the spans view, in that order.
// The session is created once and shared immutably afterwards.
package session

import (
	"context"
	"fmt"
	"path"
	"runtime"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/grafana/traceql-engine/pkg/config"
	"github.com/grafana/traceql-engine/pkg/engine"
	"github.com/grafana/traceql-engine/pkg/provider"
	"github.com/grafana/traceql-engine/pkg/traceql"
	"github.com/grafana/traceql-engine/tempodb"
	"github.com/grafana/traceql-engine/tempodb/backend"
	"github.com/grafana/traceql-engine/tempodb/backend/s3"
)

// Session is the process-wide query context: one-shot init, many
// queries, shutdown.
type Session struct {
	cfg    *config.Config
	eng    engine.SQLEngine
	reader backend.Reader
	logger log.Logger
}

// New bootstraps a session against the given backend. The engine must
// also provide the generic parquet file-scan machinery the traces
// provider partitions its files into.
func New(ctx context.Context, cfg *config.Config, eng engine.SQLEngine, reader backend.Reader, logger log.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	planner, ok := eng.(engine.ParquetScanPlanner)
	if !ok {
		return nil, fmt.Errorf("engine does not provide a parquet scan planner")
	}

	// engine options before anything is registered
	eng.SetOption("target_partitions", runtime.GOMAXPROCS(0))
	eng.SetOption("repartition_file_scans", true)
	eng.SetOption("repartition_joins", true)
	eng.SetOption("repartition_aggregations", true)
	eng.SetOption("parquet_pruning", cfg.DataFusion.ParquetPruning)
	// column names are case-sensitive
	eng.SetOption("enable_ident_normalization", false)

	// UDFs must exist before providers and views referencing them
	if err := eng.RegisterUDF(engine.NewAttrsToMapUDF()); err != nil {
		return nil, fmt.Errorf("registering attrs_to_map: %w", err)
	}

	if err := eng.RegisterObjectStore("s3", reader); err != nil {
		return nil, fmt.Errorf("registering object store: %w", err)
	}

	discovery := tempodb.NewDiscovery(reader, cfg.S3.CutoffHours, logger)
	blocks, err := discovery.DiscoverBlocks(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("discovering blocks: %w", err)
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no blocks found")
	}

	if err := eng.RegisterTable("traces", provider.NewTracesProvider(blocks, planner, logger)); err != nil {
		return nil, fmt.Errorf("registering traces table: %w", err)
	}

	if err := eng.RegisterView("spans", engine.SpansViewSQL); err != nil {
		return nil, fmt.Errorf("creating spans view: %w", err)
	}

	level.Info(logger).Log("msg", "session ready", "blocks", len(blocks))

	return &Session{cfg: cfg, eng: eng, reader: reader, logger: logger}, nil
}

// NewBackend creates the object-store backend described by the
// configuration.
func NewBackend(cfg *config.Config, logger log.Logger) (backend.Reader, error) {
	return s3.New(cfg.S3BackendConfig(), logger)
}

// NewBlockSession bootstraps a session scoped to a single block: the
// block's data.parquet is registered as the `traces` table and the same
// `spans` view is derived from it, so queries against a block session
// see the exact table shapes of a full-bucket session.
func NewBlockSession(ctx context.Context, eng engine.SQLEngine, reader backend.Reader, tenantID string, blockID uuid.UUID, logger log.Logger) (*Session, error) {
	planner, ok := eng.(engine.ParquetScanPlanner)
	if !ok {
		return nil, fmt.Errorf("engine does not provide a parquet scan planner")
	}

	if err := eng.RegisterUDF(engine.NewAttrsToMapUDF()); err != nil {
		return nil, fmt.Errorf("registering attrs_to_map: %w", err)
	}

	if err := eng.RegisterObjectStore("s3", reader); err != nil {
		return nil, fmt.Errorf("registering object store: %w", err)
	}

	block, err := discoverBlock(ctx, reader, tenantID, blockID)
	if err != nil {
		return nil, err
	}

	if err := eng.RegisterTable("traces", provider.NewTracesProvider([]tempodb.DiscoveredBlock{block}, planner, logger)); err != nil {
		return nil, fmt.Errorf("registering traces table: %w", err)
	}

	if err := eng.RegisterView("spans", engine.SpansViewSQL); err != nil {
		return nil, fmt.Errorf("creating spans view: %w", err)
	}

	level.Info(logger).Log("msg", "block session ready", "tenant", tenantID, "block", blockID)

	return &Session{eng: eng, reader: reader, logger: logger}, nil
}

// discoverBlock locates one block's data.parquet and, when the block
// meta is readable, its time bounds. A missing or unreadable meta only
// costs time-range pruning.
func discoverBlock(ctx context.Context, reader backend.Reader, tenantID string, blockID uuid.UUID) (tempodb.DiscoveredBlock, error) {
	dataFile := backend.DataFileNameForBlock(tenantID, blockID)

	objects, err := reader.List(ctx, path.Join(tenantID, blockID.String()))
	if err != nil {
		return tempodb.DiscoveredBlock{}, fmt.Errorf("listing block %s/%s: %w", tenantID, blockID, err)
	}

	block := tempodb.DiscoveredBlock{Path: dataFile}
	found := false
	for _, obj := range objects {
		if obj.Name == dataFile {
			block.Size = obj.Size
			found = true
			break
		}
	}
	if !found {
		return tempodb.DiscoveredBlock{}, fmt.Errorf("block %s/%s: %w", tenantID, blockID, backend.ErrDoesNotExist)
	}

	for _, metaName := range []string{backend.MetaFileName(tenantID, blockID), backend.CompactedMetaFileName(tenantID, blockID)} {
		metaBytes, err := reader.Read(ctx, metaName)
		if err != nil {
			continue
		}
		if meta, err := backend.ParseBlockMeta(metaBytes); err == nil {
			block.StartTime = meta.StartTime.UTC().Format(time.RFC3339)
			block.EndTime = meta.EndTime.UTC().Format(time.RFC3339)
		}
		break
	}

	return block, nil
}

// ToSQL resolves the front-door syntax: a leading `|` marks a
// pipeline-prefixed TraceQL query, a leading `{` a TraceQL expression,
// anything else passes through as SQL.
func ToSQL(query string) (string, error) {
	trimmed := strings.TrimSpace(query)

	switch {
	case strings.HasPrefix(trimmed, "|"):
		return traceql.ToSQL(strings.TrimSpace(strings.TrimPrefix(trimmed, "|")))
	case strings.HasPrefix(trimmed, "{"):
		return traceql.ToSQL(trimmed)
	default:
		return trimmed, nil
	}
}

// Query compiles TraceQL when needed and executes the resulting SQL.
func (s *Session) Query(ctx context.Context, query string) (engine.BatchStream, error) {
	sql, err := ToSQL(query)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}

	level.Debug(s.logger).Log("msg", "executing query", "sql", sql)
	return s.eng.ExecuteSQL(ctx, sql)
}

// Shutdown releases the backend.
func (s *Session) Shutdown() {
	s.reader.Shutdown()
}
