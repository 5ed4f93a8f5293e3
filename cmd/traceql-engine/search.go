package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/grafana/traceql-engine/pkg/engine"
	"github.com/grafana/traceql-engine/pkg/provider"
	"github.com/grafana/traceql-engine/tempodb"
	"github.com/grafana/traceql-engine/tempodb/backend"
)

func runListBlocks(ctx context.Context, reader backend.Reader, logger log.Logger) error {
	discovery := tempodb.NewDiscovery(reader, 0, logger)
	blocks, err := discovery.DiscoverBlocks(ctx, tenantID)
	if err != nil {
		return err
	}

	w := table.NewWriter()
	w.SetOutputMirror(os.Stdout)
	w.AppendHeader(table.Row{"path", "size", "start", "end"})
	for _, b := range blocks {
		w.AppendRow(table.Row{b.Path, humanize.Bytes(uint64(b.Size)), b.StartTime, b.EndTime})
	}
	w.Render()

	return nil
}

// runSearch scans every discovered block for spans with the given name,
// pushing the filter down into the vParquet4 reader through the spans
// provider, and prints the matches.
func runSearch(ctx context.Context, reader backend.Reader, name string, limit int, logger log.Logger) error {
	discovery := tempodb.NewDiscovery(reader, 0, logger)
	blocks, err := discovery.DiscoverBlocks(ctx, tenantID)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		return fmt.Errorf("no blocks found for tenant %s", tenantID)
	}

	filters := []engine.Expr{
		engine.Eq(engine.Col("name"), engine.Lit(name)),
	}

	w := table.NewWriter()
	w.SetOutputMirror(os.Stdout)
	w.AppendHeader(table.Row{"trace id", "span id", "name", "start", "duration", "status"})

	total := 0
	for _, block := range blocks {
		p := provider.NewSpansProvider(reader, block.Path, block.Size, logger)

		remaining := 0
		if limit > 0 {
			remaining = limit - total
			if remaining <= 0 {
				break
			}
		}

		plan, err := p.Scan(ctx, nil, filters, remaining)
		if err != nil {
			return fmt.Errorf("planning scan of %s: %w", block.Path, err)
		}

		stream, err := plan.Execute(ctx, 0)
		if err != nil {
			return fmt.Errorf("scanning %s: %w", block.Path, err)
		}

		n, err := appendBatches(ctx, w, stream)
		stream.Close()
		if err != nil {
			return fmt.Errorf("reading %s: %w", block.Path, err)
		}
		total += n
	}

	w.Render()
	fmt.Printf("%d spans\n", total)
	return nil
}

func appendBatches(ctx context.Context, w table.Writer, stream engine.BatchStream) (int, error) {
	schema := provider.FlatSpanSchema()
	traceIDCol := schema.FieldIndex("trace_id")
	spanIDCol := schema.FieldIndex("span_id")
	nameCol := schema.FieldIndex("name")
	startCol := schema.FieldIndex("start_time_unix_nano")
	durationCol := schema.FieldIndex("duration_nano")
	statusCol := schema.FieldIndex("status_code")

	rows := 0
	for {
		batch, err := stream.Next(ctx)
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}

		traceIDs := batch.Columns[traceIDCol].(engine.BinaryColumn)
		spanIDs := batch.Columns[spanIDCol].(engine.BinaryColumn)
		names := batch.Columns[nameCol].(engine.StringColumn)
		starts := batch.Columns[startCol].(engine.Uint64Column)
		durations := batch.Columns[durationCol].(engine.Uint64Column)
		statuses := batch.Columns[statusCol].(engine.Int32Column)

		for i := 0; i < batch.NumRows(); i++ {
			w.AppendRow(table.Row{
				hex.EncodeToString(traceIDs[i]),
				hex.EncodeToString(spanIDs[i]),
				names[i],
				time.Unix(0, int64(starts[i])).UTC().Format(time.RFC3339Nano),
				time.Duration(durations[i]).String(),
				statuses[i],
			})
			rows++
		}
	}
}
