package vparquet4

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/parquet-go/parquet-go/format"
)

// SpanFilterType tags the SpanFilter variant. The design leaves room for
// conjunction and disjunction variants later; today only exact name
// matching is pushed down.
type SpanFilterType int

const (
	SpanFilterNameEquals SpanFilterType = iota
)

// SpanFilter is a predicate on individual spans that the reader can apply
// during the scan.
type SpanFilter struct {
	Type SpanFilterType
	Name string
}

func NewNameEqualsFilter(name string) *SpanFilter {
	return &SpanFilter{Type: SpanFilterNameEquals, Name: name}
}

// Matches evaluates the filter against a decoded span name.
func (f *SpanFilter) Matches(name string) bool {
	switch f.Type {
	case SpanFilterNameEquals:
		return name == f.Name
	}
	return true
}

func (f *SpanFilter) String() string {
	switch f.Type {
	case SpanFilterNameEquals:
		return fmt.Sprintf("name = '%s'", f.Name)
	}
	return "unknown"
}

// rowGroupStats is what stage-1 pruning extracts from the footer for one
// row group. Absent statistics stay nil and never prune.
type rowGroupStats struct {
	minStartTime *uint64
	maxEndTime   *uint64
	minTraceID   []byte
	maxTraceID   []byte
	minSpanName  []byte
	maxSpanName  []byte
	numRows      int64
	nameAllNull  bool
}

// statsForRowGroup pulls column-chunk statistics out of the parquet
// footer. Anything it cannot parse is simply left unset: pruning must
// stay conservative.
func statsForRowGroup(rg *format.RowGroup, cols *columnIndexes) rowGroupStats {
	stats := rowGroupStats{numRows: rg.NumRows}

	if min, _, ok := int64Stats(rg, cols.startTime); ok {
		u := uint64(min)
		stats.minStartTime = &u
	}
	if _, max, ok := int64Stats(rg, cols.endTime); ok {
		u := uint64(max)
		stats.maxEndTime = &u
	}
	stats.minTraceID, stats.maxTraceID, _ = byteStats(rg, cols.traceID)

	var ok bool
	stats.minSpanName, stats.maxSpanName, ok = byteStats(rg, cols.name)
	if ok {
		s := columnStats(rg, cols.name)
		stats.nameAllNull = s != nil && s.NullCount > 0 && s.NullCount == rg.Columns[cols.name].MetaData.NumValues
	}

	return stats
}

func columnStats(rg *format.RowGroup, col int) *format.Statistics {
	if col < 0 || col >= len(rg.Columns) {
		return nil
	}
	return &rg.Columns[col].MetaData.Statistics
}

func int64Stats(rg *format.RowGroup, col int) (min, max int64, ok bool) {
	s := columnStats(rg, col)
	if s == nil || len(s.MinValue) != 8 || len(s.MaxValue) != 8 {
		return 0, 0, false
	}
	min = int64(binary.LittleEndian.Uint64(s.MinValue))
	max = int64(binary.LittleEndian.Uint64(s.MaxValue))
	return min, max, true
}

func byteStats(rg *format.RowGroup, col int) (min, max []byte, ok bool) {
	s := columnStats(rg, col)
	if s == nil || len(s.MinValue) == 0 || len(s.MaxValue) == 0 {
		return nil, nil, false
	}
	return s.MinValue, s.MaxValue, true
}

// keepByStatistics is stage 1 of the pruning pipeline: decide from footer
// statistics alone whether a row group can contain a match. true means
// "cannot prove it does not".
func keepByStatistics(stats rowGroupStats, opts ReadOptions) bool {
	if opts.Filter != nil && opts.Filter.Type == SpanFilterNameEquals {
		if stats.nameAllNull {
			return false
		}
		if stats.minSpanName != nil && stats.maxSpanName != nil {
			lit := []byte(opts.Filter.Name)
			if bytes.Compare(lit, stats.minSpanName) < 0 || bytes.Compare(lit, stats.maxSpanName) > 0 {
				return false
			}
		}
	}

	if opts.MinStartTime > 0 || opts.MaxStartTime > 0 {
		if !overlapsTimeRange(stats, opts.MinStartTime, opts.MaxStartTime) {
			return false
		}
	}

	if len(opts.TraceIDPrefix) > 0 {
		if !matchesTraceIDPrefix(stats, opts.TraceIDPrefix) {
			return false
		}
	}

	return true
}

// overlapsTimeRange checks [minStart, maxEnd] of the row group against
// the query range. Zero query bounds are unbounded.
func overlapsTimeRange(stats rowGroupStats, queryMin, queryMax uint64) bool {
	if stats.minStartTime == nil || stats.maxEndTime == nil {
		return true
	}
	if queryMax > 0 && *stats.minStartTime > queryMax {
		return false
	}
	if queryMin > 0 && *stats.maxEndTime < queryMin {
		return false
	}
	return true
}

// matchesTraceIDPrefix keeps the row group when the prefix range can
// lexicographically intersect [min, max].
func matchesTraceIDPrefix(stats rowGroupStats, prefix []byte) bool {
	if stats.minTraceID == nil || stats.maxTraceID == nil {
		return true
	}

	if bytes.HasPrefix(stats.minTraceID, prefix) || bytes.HasPrefix(stats.maxTraceID, prefix) {
		return true
	}
	if bytes.Compare(stats.minTraceID, prefix) <= 0 && bytes.Compare(prefix, stats.maxTraceID) <= 0 {
		return true
	}

	n := len(prefix)
	minPrefix := stats.minTraceID
	if len(minPrefix) > n {
		minPrefix = minPrefix[:n]
	}
	maxPrefix := stats.maxTraceID
	if len(maxPrefix) > n {
		maxPrefix = maxPrefix[:n]
	}
	return bytes.Compare(minPrefix, prefix) <= 0 && bytes.Compare(prefix, maxPrefix) <= 0
}
