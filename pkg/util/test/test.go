// Package test builds synthetic vParquet4 blocks for tests.
package test

import (
	"encoding/hex"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/parquet-go/parquet-go"

	"github.com/grafana/traceql-engine/tempodb/backend"
	"github.com/grafana/traceql-engine/tempodb/encoding/vparquet4"
)

// ValidTraceID returns id padded to 16 bytes, or a random 16-byte ID.
func ValidTraceID(id []byte) []byte {
	out := make([]byte, 16)
	if id == nil {
		rand.Read(out)
		return out
	}
	copy(out, id)
	return out
}

func randomSpanID() []byte {
	id := make([]byte, 8)
	rand.Read(id)
	return id
}

// MakeSpan builds one span with sequential nested-set indices left to the
// caller.
func MakeSpan(name string, statusCode int32, startTime time.Time, duration time.Duration) vparquet4.Span {
	return vparquet4.Span{
		SpanID:            randomSpanID(),
		ParentSpanID:      make([]byte, 8),
		ParentID:          -1,
		Name:              name,
		Kind:              int32(1),
		StartTimeUnixNano: uint64(startTime.UnixNano()),
		DurationNano:      uint64(duration.Nanoseconds()),
		StatusCode:        statusCode,
	}
}

// MakeTrace wraps spans into a single-resource single-scope trace and
// fills the trace header from them.
func MakeTrace(traceID []byte, serviceName string, spans []vparquet4.Span) vparquet4.Trace {
	traceID = ValidTraceID(traceID)

	var start, end uint64
	errors := uint64(0)
	for i := range spans {
		s := &spans[i]
		if s.NestedSetLeft == 0 {
			s.NestedSetLeft = int32(2*i + 1)
			s.NestedSetRight = int32(2*i + 2)
		}
		if start == 0 || s.StartTimeUnixNano < start {
			start = s.StartTimeUnixNano
		}
		if e := s.StartTimeUnixNano + s.DurationNano; e > end {
			end = e
		}
		if s.StatusCode == int32(2) {
			errors++
		}
	}

	rootName := ""
	if len(spans) > 0 {
		rootName = spans[0].Name
	}

	return vparquet4.Trace{
		TraceID:           traceID,
		TraceIDText:       hex.EncodeToString(traceID),
		StartTimeUnixNano: start,
		EndTimeUnixNano:   end,
		DurationNano:      end - start,
		RootServiceName:   serviceName,
		RootSpanName:      rootName,
		ServiceStats: []vparquet4.ServiceStats{
			{Key: serviceName, SpanCount: uint64(len(spans)), ErrorCount: errors},
		},
		ResourceSpans: []vparquet4.ResourceSpans{
			{
				Resource: vparquet4.Resource{ServiceName: serviceName},
				ScopeSpans: []vparquet4.ScopeSpans{
					{Spans: spans},
				},
			},
		},
	}
}

// WriteParquet writes traces to path, one row group per inner slice.
func WriteParquet(path string, rowGroups [][]vparquet4.Trace) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := parquet.NewGenericWriter[vparquet4.Trace](f, vparquet4.TraceSchema())
	for _, rg := range rowGroups {
		if _, err := w.Write(rg); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return w.Close()
}

// WriteBlock lays a block directory out under root exactly as a backend
// would store it: {tenant}/{block}/data.parquet plus meta.json, and
// returns the block ID.
func WriteBlock(root, tenantID string, rowGroups [][]vparquet4.Trace, startTime, endTime time.Time) (uuid.UUID, error) {
	blockID := uuid.New()
	dir := filepath.Join(root, tenantID, blockID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return blockID, err
	}

	if err := WriteParquet(filepath.Join(dir, backend.DataFileName), rowGroups); err != nil {
		return blockID, err
	}

	meta := backend.NewBlockMeta(tenantID, blockID)
	meta.StartTime = startTime
	meta.EndTime = endTime
	for _, rg := range rowGroups {
		meta.TotalObjects += len(rg)
	}

	metaBytes, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(meta)
	if err != nil {
		return blockID, err
	}
	return blockID, os.WriteFile(filepath.Join(dir, backend.MetaName), metaBytes, 0o644)
}

// MakeTestBlock writes the canonical three-trace block used across the
// read-path tests:
//
//	T1 0xAA..: http.get (OK, 50ms), db.query (OK, 20ms)
//	T2 0xBB..: http.get (ERROR, 200ms)
//	T3 0xCC..: cron.tick (OK, 5ms)
func MakeTestBlock(root, tenantID string) (uuid.UUID, error) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t1 := MakeTrace(ValidTraceID([]byte{0xAA}), "svc-a", []vparquet4.Span{
		MakeSpan("http.get", 1, base, 50*time.Millisecond),
		MakeSpan("db.query", 1, base.Add(time.Millisecond), 20*time.Millisecond),
	})
	t2 := MakeTrace(ValidTraceID([]byte{0xBB}), "svc-b", []vparquet4.Span{
		MakeSpan("http.get", 2, base.Add(time.Second), 200*time.Millisecond),
	})
	t3 := MakeTrace(ValidTraceID([]byte{0xCC}), "svc-c", []vparquet4.Span{
		MakeSpan("cron.tick", 1, base.Add(2*time.Second), 5*time.Millisecond),
	})

	// meta times are recent so the block survives the discovery cutoff
	now := time.Now().UTC()
	return WriteBlock(root, tenantID, [][]vparquet4.Trace{{t1, t2, t3}}, now.Add(-time.Hour), now)
}
