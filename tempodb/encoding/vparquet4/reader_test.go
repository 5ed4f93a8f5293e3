package vparquet4

import (
	"context"
	"encoding/hex"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var testLogger = log.NewNopLogger()

func testSpan(name string, statusCode int32, start time.Time, duration time.Duration) Span {
	spanID := make([]byte, 8)
	rand.Read(spanID)
	return Span{
		SpanID:            spanID,
		ParentSpanID:      make([]byte, 8),
		ParentID:          -1,
		Name:              name,
		Kind:              1,
		StartTimeUnixNano: uint64(start.UnixNano()),
		DurationNano:      uint64(duration.Nanoseconds()),
		StatusCode:        statusCode,
	}
}

func testTraceWithSpans(id []byte, spans []Span) Trace {
	traceID := make([]byte, 16)
	copy(traceID, id)

	var start, end uint64
	for i := range spans {
		s := &spans[i]
		s.NestedSetLeft = int32(2*i + 1)
		s.NestedSetRight = int32(2*i + 2)
		if start == 0 || s.StartTimeUnixNano < start {
			start = s.StartTimeUnixNano
		}
		if e := s.StartTimeUnixNano + s.DurationNano; e > end {
			end = e
		}
	}

	return Trace{
		TraceID:           traceID,
		TraceIDText:       hex.EncodeToString(traceID),
		StartTimeUnixNano: start,
		EndTimeUnixNano:   end,
		DurationNano:      end - start,
		RootServiceName:   "test-service",
		RootSpanName:      "root",
		ServiceStats:      []ServiceStats{{Key: "test-service", SpanCount: uint64(len(spans))}},
		ResourceSpans: []ResourceSpans{{
			Resource:   Resource{ServiceName: "test-service"},
			ScopeSpans: []ScopeSpans{{Spans: spans}},
		}},
	}
}

func testTrace(id []byte) Trace {
	return testTraceWithSpans(id, []Span{
		testSpan("span-a", 1, time.Unix(0, 1_000_000_000), time.Millisecond),
	})
}

var testBase = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// threeTraceRowGroups is the block from the end-to-end scenarios: T1 with
// http.get and db.query, T2 with a failed http.get, T3 with cron.tick.
func threeTraceRowGroups() [][]Trace {
	t1 := testTraceWithSpans([]byte{0xAA}, []Span{
		testSpan("http.get", 1, testBase, 50*time.Millisecond),
		testSpan("db.query", 1, testBase.Add(time.Millisecond), 20*time.Millisecond),
	})
	t2 := testTraceWithSpans([]byte{0xBB}, []Span{
		testSpan("http.get", 2, testBase.Add(time.Second), 200*time.Millisecond),
	})
	t3 := testTraceWithSpans([]byte{0xCC}, []Span{
		testSpan("cron.tick", 1, testBase.Add(2*time.Second), 5*time.Millisecond),
	})
	return [][]Trace{{t1, t2, t3}}
}

func writeTraces(t testing.TB, path string, traces []Trace) {
	t.Helper()
	writeRowGroups(t, path, [][]Trace{traces})
}

func writeRowGroups(t testing.TB, path string, rowGroups [][]Trace) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)

	w := parquet.NewGenericWriter[Trace](f, TraceSchema())
	for _, rg := range rowGroups {
		_, err = w.Write(rg)
		require.NoError(t, err)
		require.NoError(t, w.Flush())
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func openFile(t testing.TB, path string) *parquet.File {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	info, err := f.Stat()
	require.NoError(t, err)

	pf, err := parquet.OpenFile(f, info.Size())
	require.NoError(t, err)
	return pf
}

func openReader(t testing.TB, path string, opts ReadOptions) *Reader {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	info, err := f.Stat()
	require.NoError(t, err)

	r, err := OpenReader(f, info.Size(), opts, testLogger)
	require.NoError(t, err)
	return r
}

func collectSpansets(t testing.TB, r *Reader) []*Spanset {
	t.Helper()

	var out []*Spanset
	for res := range r.ReadSpansets(context.Background()) {
		require.NoError(t, res.Err)
		out = append(out, res.Spanset)
	}
	// no cross-row-group ordering is guaranteed, sort for comparisons
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].TraceID) < string(out[j].TraceID)
	})
	return out
}

func TestReaderNoFilterReturnsAllTraces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.parquet")
	writeRowGroups(t, path, threeTraceRowGroups())

	r := openReader(t, path, ReadOptions{})
	spansets := collectSpansets(t, r)

	require.Len(t, spansets, 3)
	total := 0
	for _, ss := range spansets {
		total += len(ss.Spans)
	}
	require.Equal(t, 4, total)
}

func TestReaderNameFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.parquet")
	writeRowGroups(t, path, threeTraceRowGroups())

	// S1: two spansets, T1 reduced to its matching span
	r := openReader(t, path, ReadOptions{Filter: NewNameEqualsFilter("http.get")})
	spansets := collectSpansets(t, r)

	require.Len(t, spansets, 2)
	require.Equal(t, byte(0xAA), spansets[0].TraceID[0])
	require.Len(t, spansets[0].Spans, 1)
	require.Equal(t, "http.get", spansets[0].Spans[0].Name)
	require.Equal(t, byte(0xBB), spansets[1].TraceID[0])
	require.Len(t, spansets[1].Spans, 1)
}

func TestReaderFilterSoundness(t *testing.T) {
	// every span returned with a filter satisfies the filter, and the
	// filtered count never exceeds the unfiltered count
	path := filepath.Join(t.TempDir(), "data.parquet")
	writeRowGroups(t, path, threeTraceRowGroups())

	unfiltered := collectSpansets(t, openReader(t, path, ReadOptions{}))
	unfilteredSpans := 0
	for _, ss := range unfiltered {
		unfilteredSpans += len(ss.Spans)
	}

	for _, name := range []string{"http.get", "db.query", "cron.tick", "nope"} {
		filtered := collectSpansets(t, openReader(t, path, ReadOptions{Filter: NewNameEqualsFilter(name)}))
		spans := 0
		for _, ss := range filtered {
			for _, s := range ss.Spans {
				require.Equal(t, name, s.Name)
				spans++
			}
			require.NotEmpty(t, ss.Spans)
		}
		require.LessOrEqual(t, spans, unfilteredSpans)
	}
}

func TestReaderDictionaryPruning(t *testing.T) {
	// S6: a filter for a name absent from the dictionary drops every row
	// group before any data page is decoded
	path := filepath.Join(t.TempDir(), "data.parquet")
	writeRowGroups(t, path, threeTraceRowGroups())

	r := openReader(t, path, ReadOptions{Filter: NewNameEqualsFilter("does.not.exist")})
	require.Empty(t, r.CandidateRowGroups())
	require.Empty(t, collectSpansets(t, r))
}

func TestReaderStatisticsPruningByTimeRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.parquet")
	writeRowGroups(t, path, threeTraceRowGroups())

	// a range far in the future excludes the whole block
	farFuture := uint64(testBase.Add(24 * time.Hour).UnixNano())
	r := openReader(t, path, ReadOptions{MinStartTime: farFuture})
	require.Empty(t, collectSpansets(t, r))

	// a range covering the data keeps it
	r = openReader(t, path, ReadOptions{
		MinStartTime: uint64(testBase.Add(-time.Hour).UnixNano()),
		MaxStartTime: uint64(testBase.Add(time.Hour).UnixNano()),
	})
	require.Len(t, collectSpansets(t, r), 3)
}

func TestReaderTraceIDPrefixPruning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.parquet")
	writeRowGroups(t, path, threeTraceRowGroups())

	// prefix outside [0xAA.., 0xCC..] prunes the row group
	r := openReader(t, path, ReadOptions{TraceIDPrefix: []byte{0xEE}})
	require.Empty(t, r.CandidateRowGroups())

	r = openReader(t, path, ReadOptions{TraceIDPrefix: []byte{0xBB}})
	require.NotEmpty(t, r.CandidateRowGroups())
}

func TestReaderRowGroupRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.parquet")

	rg1 := []Trace{testTraceWithSpans([]byte{0x01}, []Span{testSpan("a", 1, testBase, time.Millisecond)})}
	rg2 := []Trace{testTraceWithSpans([]byte{0x02}, []Span{testSpan("b", 1, testBase, time.Millisecond)})}
	writeRowGroups(t, path, [][]Trace{rg1, rg2})

	r := openReader(t, path, ReadOptions{StartRowGroup: 1})
	spansets := collectSpansets(t, r)
	require.Len(t, spansets, 1)
	require.Equal(t, byte(0x02), spansets[0].TraceID[0])

	r = openReader(t, path, ReadOptions{StartRowGroup: 0, TotalRowGroups: 1})
	spansets = collectSpansets(t, r)
	require.Len(t, spansets, 1)
	require.Equal(t, byte(0x01), spansets[0].TraceID[0])
}

func TestReaderInvalidRowGroupRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.parquet")
	writeRowGroups(t, path, threeTraceRowGroups())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)

	_, err = OpenReader(f, info.Size(), ReadOptions{StartRowGroup: 99}, testLogger)
	require.Error(t, err)

	var rgErr *ErrInvalidRowGroup
	require.ErrorAs(t, err, &rgErr)
}

func TestReaderSpanOrderWithinTrace(t *testing.T) {
	// spans of one trace keep file order
	spans := make([]Span, 10)
	for i := range spans {
		spans[i] = testSpan("same.name", 1, testBase.Add(time.Duration(i)*time.Millisecond), time.Millisecond)
	}
	trace := testTraceWithSpans([]byte{0x07}, spans)

	path := filepath.Join(t.TempDir(), "data.parquet")
	writeTraces(t, path, []Trace{trace})

	spansets := collectSpansets(t, openReader(t, path, ReadOptions{}))
	require.Len(t, spansets, 1)
	require.Len(t, spansets[0].Spans, 10)
	for i, s := range spansets[0].Spans {
		require.Equal(t, spans[i].SpanID, s.SpanID)
		require.Equal(t, spans[i].StartTimeUnixNano, s.StartTimeUnixNano)
	}
}

func TestReaderPruningEquivalence(t *testing.T) {
	// run random corpora with pushdown filtering vs. filtering after an
	// unfiltered read; result multisets must match
	names := []string{"a", "b", "c", "d"}
	dir := t.TempDir()

	for run := 0; run < 5; run++ {
		var traces []Trace
		for i := 0; i < 20; i++ {
			n := rand.Intn(4) + 1
			spans := make([]Span, n)
			for j := range spans {
				spans[j] = testSpan(names[rand.Intn(len(names))], 1, testBase.Add(time.Duration(i)*time.Second), time.Millisecond)
			}
			traces = append(traces, testTraceWithSpans([]byte{byte(run), byte(i)}, spans))
		}

		path := filepath.Join(dir, "data.parquet")
		writeRowGroups(t, path, [][]Trace{traces[:10], traces[10:]})

		for _, name := range names {
			filtered := collectSpansets(t, openReader(t, path, ReadOptions{Filter: NewNameEqualsFilter(name)}))

			// reference: no pushdown, filter applied after the fact
			all := collectSpansets(t, openReader(t, path, ReadOptions{}))
			var reference []*Spanset
			for _, ss := range all {
				var matching []SpansetSpan
				for _, s := range ss.Spans {
					if s.Name == name {
						matching = append(matching, s)
					}
				}
				if len(matching) > 0 {
					reference = append(reference, &Spanset{TraceID: ss.TraceID, Spans: matching})
				}
			}

			require.Equal(t, reference, filtered, "filter %q run %d", name, run)
		}
	}
}

func TestReaderCancellation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	// enough traces that workers cannot finish before cancellation
	var traces []Trace
	for i := 0; i < 200; i++ {
		traces = append(traces, testTraceWithSpans([]byte{byte(i), byte(i >> 8)}, []Span{
			testSpan("busy", 1, testBase, time.Millisecond),
		}))
	}
	path := filepath.Join(t.TempDir(), "data.parquet")
	writeRowGroups(t, path, [][]Trace{traces[:50], traces[50:100], traces[100:150], traces[150:]})

	r := openReader(t, path, ReadOptions{Parallelism: 2, BatchSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	results := r.ReadSpansets(ctx)

	// consume one result, then drop the stream
	res, ok := <-results
	require.True(t, ok)
	require.NoError(t, res.Err)
	cancel()

	// the channel must close; drain whatever was already in flight
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-results:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after cancellation")
		}
	}
}

func TestReaderSchemaMismatch(t *testing.T) {
	type notATrace struct {
		Foo string `parquet:",snappy"`
	}

	path := filepath.Join(t.TempDir(), "bad.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[notATrace](f)
	_, err = w.Write([]notATrace{{Foo: "bar"}})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	rf, err := os.Open(path)
	require.NoError(t, err)
	defer rf.Close()
	info, err := rf.Stat()
	require.NoError(t, err)

	_, err = OpenReader(rf, info.Size(), ReadOptions{}, testLogger)
	require.Error(t, err)

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}
