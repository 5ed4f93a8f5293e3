package parquetquery

import (
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// ColumnChunkHelper wraps a column chunk and lazily loads the pieces
// predicates want: the dictionary page and the chunk value bounds. The
// dictionary read touches only the first page of the chunk.
type ColumnChunkHelper struct {
	parquet.ColumnChunk

	pages    parquet.Pages
	dictRead bool
	dict     parquet.Dictionary
}

func NewColumnChunkHelper(chunk parquet.ColumnChunk) *ColumnChunkHelper {
	return &ColumnChunkHelper{ColumnChunk: chunk}
}

// Dictionary returns the chunk's dictionary, or nil when the chunk is not
// dictionary-encoded or the dictionary cannot be read. Errors are
// swallowed on purpose: an unreadable dictionary must not prune.
func (c *ColumnChunkHelper) Dictionary() parquet.Dictionary {
	if c.dictRead {
		return c.dict
	}
	c.dictRead = true

	c.pages = c.ColumnChunk.Pages()
	page, err := c.pages.ReadPage()
	if err != nil || page == nil {
		return nil
	}
	c.dict = page.Dictionary()
	return c.dict
}

// Bounds returns the chunk-level min/max values when the writer recorded
// them.
func (c *ColumnChunkHelper) Bounds() (min, max parquet.Value, ok bool) {
	ci, err := c.ColumnChunk.ColumnIndex()
	if err != nil || ci == nil || ci.NumPages() == 0 {
		return min, max, false
	}

	min = ci.MinValue(0)
	max = ci.MaxValue(0)
	for i := 1; i < ci.NumPages(); i++ {
		if parquet.ByteArrayType.Compare(ci.MinValue(i), min) < 0 {
			min = ci.MinValue(i)
		}
		if parquet.ByteArrayType.Compare(ci.MaxValue(i), max) > 0 {
			max = ci.MaxValue(i)
		}
	}
	return min, max, true
}

// Close releases the page reader if Dictionary opened one.
func (c *ColumnChunkHelper) Close() error {
	if c.pages == nil {
		return nil
	}
	err := c.pages.Close()
	c.pages = nil
	return err
}

// GetColumnIndexByPath returns the leaf column index for a dotted column
// path like "rs.list.element.ss.list.element.Spans.list.element.Name", or
// -1 when the schema has no such leaf.
func GetColumnIndexByPath(pf *parquet.File, path string) (index, maxDef int) {
	colSelector := strings.Split(path, ".")
	n, maxDef := findLeaf(pf.Root(), colSelector)
	if n == nil {
		return -1, -1
	}
	return n.Index(), maxDef
}

func findLeaf(col *parquet.Column, selector []string) (*parquet.Column, int) {
	if len(selector) == 0 {
		if col.Leaf() {
			return col, int(col.MaxDefinitionLevel())
		}
		return nil, -1
	}
	for _, child := range col.Columns() {
		if child.Name() == selector[0] {
			return findLeaf(child, selector[1:])
		}
	}
	return nil, -1
}

// ReadColumnRows reads every value of one leaf column of a row group and
// groups them by top-level row (values whose repetition level is zero
// start a new row). Null placeholder values for rows whose nesting stops
// above the leaf are kept so every slice index maps to exactly one row.
func ReadColumnRows(rg parquet.RowGroup, columnIndex int) ([][]parquet.Value, error) {
	chunk := rg.ColumnChunks()[columnIndex]
	pages := chunk.Pages()
	defer pages.Close()

	rows := make([][]parquet.Value, 0, rg.NumRows())
	var cur []parquet.Value

	buf := make([]parquet.Value, 1024)
	for {
		page, err := pages.ReadPage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		values := page.Values()
		for {
			n, err := values.ReadValues(buf)
			for _, v := range buf[:n] {
				if v.RepetitionLevel() == 0 {
					if cur != nil {
						rows = append(rows, cur)
					}
					cur = nil
				}
				// Clone: the value may reference page buffers that are
				// recycled after the page is released.
				cur = append(cur, v.Clone())
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
		}
	}
	if cur != nil {
		rows = append(rows, cur)
	}

	return rows, nil
}
