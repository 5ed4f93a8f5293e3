package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testBatch(t *testing.T) *RecordBatch {
	t.Helper()
	schema := NewSchema(
		Field{Name: "id", Type: TypeInt64},
		Field{Name: "name", Type: TypeString},
	)
	batch, err := NewRecordBatch(schema, []Column{
		Int64Column{1, 2, 3},
		StringColumn{"a", "b", "c"},
	})
	require.NoError(t, err)
	return batch
}

func TestRecordBatchShape(t *testing.T) {
	batch := testBatch(t)
	require.Equal(t, 3, batch.NumRows())
	require.Equal(t, 2, batch.NumColumns())
}

func TestRecordBatchMismatch(t *testing.T) {
	schema := NewSchema(Field{Name: "id", Type: TypeInt64})

	_, err := NewRecordBatch(schema, []Column{Int64Column{1}, StringColumn{"a"}})
	require.Error(t, err)

	schema = NewSchema(Field{Name: "id", Type: TypeInt64}, Field{Name: "name", Type: TypeString})
	_, err = NewRecordBatch(schema, []Column{Int64Column{1, 2}, StringColumn{"a"}})
	require.Error(t, err)
}

func TestRecordBatchProject(t *testing.T) {
	batch := testBatch(t)

	projected := batch.Project([]int{1})
	require.Equal(t, 1, projected.NumColumns())
	require.Equal(t, "name", projected.Schema.Fields[0].Name)
	require.Equal(t, StringColumn{"a", "b", "c"}, projected.Columns[0])

	// nil projection is identity
	require.Equal(t, batch, batch.Project(nil))
}

func TestRecordBatchTruncate(t *testing.T) {
	batch := testBatch(t)

	truncated := batch.Truncate(2)
	require.Equal(t, 2, truncated.NumRows())
	require.Equal(t, Int64Column{1, 2}, truncated.Columns[0])

	// truncating past the end is identity
	require.Equal(t, batch, batch.Truncate(10))
}
