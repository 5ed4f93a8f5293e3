// Package parquetquery contains low-level helpers for predicate pushdown
// against parquet-go column chunks: dictionary probing, page pruning, and
// per-value filtering, plus utilities for navigating leaf columns of a
// deeply nested schema.
package parquetquery

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// Predicate is a pushdown predicate evaluated at decreasing granularity:
// whole column chunks, then pages, then individual values. KeepColumnChunk
// and KeepPage must be conservative: when a level cannot decide it returns
// true and the next, more expensive level decides.
type Predicate interface {
	fmt.Stringer

	KeepColumnChunk(c *ColumnChunkHelper) bool
	KeepPage(page parquet.Page) bool
	KeepValue(parquet.Value) bool
}

// StringInPredicate checks for any of multiple exact string values.
type StringInPredicate struct {
	ss [][]byte
}

var _ Predicate = (*StringInPredicate)(nil)

func NewStringInPredicate(ss []string) Predicate {
	p := &StringInPredicate{
		ss: make([][]byte, len(ss)),
	}
	for i := range ss {
		p.ss[i] = []byte(ss[i])
	}
	return p
}

func (p *StringInPredicate) String() string {
	var ss []string
	for _, v := range p.ss {
		ss = append(ss, string(v))
	}
	return fmt.Sprintf("StringInPredicate{%s}", strings.Join(ss, ","))
}

func (p *StringInPredicate) KeepColumnChunk(c *ColumnChunkHelper) bool {
	if d := c.Dictionary(); d != nil {
		return keepDictionary(d, p.KeepValue)
	}

	if min, max, ok := c.Bounds(); ok {
		for _, subs := range p.ss {
			v := parquet.ByteArrayValue(subs)
			if bytes.Compare(min.ByteArray(), v.ByteArray()) <= 0 &&
				bytes.Compare(max.ByteArray(), v.ByteArray()) >= 0 {
				return true
			}
		}
		return false
	}

	return true
}

func (p *StringInPredicate) KeepPage(page parquet.Page) bool {
	if d := page.Dictionary(); d != nil {
		return keepDictionary(d, p.KeepValue)
	}
	return true
}

func (p *StringInPredicate) KeepValue(v parquet.Value) bool {
	ba := v.ByteArray()
	for _, ss := range p.ss {
		if bytes.Equal(ba, ss) {
			return true
		}
	}
	return false
}

// keepDictionary scans every distinct value of a dictionary-encoded
// column. A miss proves no value in the chunk or page can match.
func keepDictionary(dict parquet.Dictionary, keepValue func(parquet.Value) bool) bool {
	l := dict.Len()
	for i := 0; i < l; i++ {
		if keepValue(dict.Index(int32(i))) {
			return true
		}
	}
	return false
}
