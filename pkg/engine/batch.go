package engine

import "fmt"

// DataType is the physical type of a record batch column.
type DataType int

const (
	TypeBinary DataType = iota
	TypeString
	TypeInt32
	TypeInt64
	TypeUint64
	TypeFloat64
	TypeBool
	TypeList
	TypeStruct
)

func (t DataType) String() string {
	switch t {
	case TypeBinary:
		return "binary"
	case TypeString:
		return "utf8"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeUint64:
		return "uint64"
	case TypeFloat64:
		return "float64"
	case TypeBool:
		return "bool"
	case TypeList:
		return "list"
	case TypeStruct:
		return "struct"
	}
	return "unknown"
}

// Field describes one column. List and struct fields carry their nested
// fields in Children; a list has exactly one child, the element.
type Field struct {
	Name     string
	Type     DataType
	Nullable bool
	Children []Field
}

type Schema struct {
	Fields []Field
}

func NewSchema(fields ...Field) *Schema {
	return &Schema{Fields: fields}
}

// FieldIndex returns the position of the named field, or -1.
func (s *Schema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Project returns a schema holding only the selected field indexes.
func (s *Schema) Project(indices []int) *Schema {
	if indices == nil {
		return s
	}
	fields := make([]Field, 0, len(indices))
	for _, i := range indices {
		fields = append(fields, s.Fields[i])
	}
	return &Schema{Fields: fields}
}

// Column is one materialized column of a record batch.
type Column interface {
	Len() int
	Slice(start, end int) Column
}

type BinaryColumn [][]byte
type StringColumn []string
type Int32Column []int32
type Int64Column []int64
type Uint64Column []uint64
type Float64Column []float64
type BoolColumn []bool

func (c BinaryColumn) Len() int  { return len(c) }
func (c StringColumn) Len() int  { return len(c) }
func (c Int32Column) Len() int   { return len(c) }
func (c Int64Column) Len() int   { return len(c) }
func (c Uint64Column) Len() int  { return len(c) }
func (c Float64Column) Len() int { return len(c) }
func (c BoolColumn) Len() int    { return len(c) }

func (c BinaryColumn) Slice(start, end int) Column  { return c[start:end] }
func (c StringColumn) Slice(start, end int) Column  { return c[start:end] }
func (c Int32Column) Slice(start, end int) Column   { return c[start:end] }
func (c Int64Column) Slice(start, end int) Column   { return c[start:end] }
func (c Uint64Column) Slice(start, end int) Column  { return c[start:end] }
func (c Float64Column) Slice(start, end int) Column { return c[start:end] }
func (c BoolColumn) Slice(start, end int) Column    { return c[start:end] }

// RecordBatch is a set of equal-length columns with a schema.
type RecordBatch struct {
	Schema  *Schema
	Columns []Column
}

func NewRecordBatch(schema *Schema, columns []Column) (*RecordBatch, error) {
	if len(schema.Fields) != len(columns) {
		return nil, fmt.Errorf("record batch has %d columns for %d schema fields", len(columns), len(schema.Fields))
	}
	rows := -1
	for i, col := range columns {
		if rows == -1 {
			rows = col.Len()
		} else if col.Len() != rows {
			return nil, fmt.Errorf("column %s has %d rows, expected %d", schema.Fields[i].Name, col.Len(), rows)
		}
	}
	return &RecordBatch{Schema: schema, Columns: columns}, nil
}

func (b *RecordBatch) NumRows() int {
	if len(b.Columns) == 0 {
		return 0
	}
	return b.Columns[0].Len()
}

func (b *RecordBatch) NumColumns() int { return len(b.Columns) }

// Project keeps only the selected columns, in the given order.
func (b *RecordBatch) Project(indices []int) *RecordBatch {
	if indices == nil {
		return b
	}
	cols := make([]Column, 0, len(indices))
	for _, i := range indices {
		cols = append(cols, b.Columns[i])
	}
	return &RecordBatch{Schema: b.Schema.Project(indices), Columns: cols}
}

// Truncate returns the first n rows of the batch.
func (b *RecordBatch) Truncate(n int) *RecordBatch {
	if n >= b.NumRows() {
		return b
	}
	cols := make([]Column, len(b.Columns))
	for i, c := range b.Columns {
		cols[i] = c.Slice(0, n)
	}
	return &RecordBatch{Schema: b.Schema, Columns: cols}
}
