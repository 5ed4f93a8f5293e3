package parquetquery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
)

type testDictString struct {
	S string `parquet:",dict"`
}

type testNested struct {
	ID    int64 `parquet:",delta"`
	Inner []struct {
		Name string `parquet:",dict,list"`
	} `parquet:",list"`
}

func writeTestFile[T any](t *testing.T, rows []T) *parquet.File {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)

	w := parquet.NewGenericWriter[T](f)
	_, err = w.Write(rows)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	rf, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { rf.Close() })

	info, err := rf.Stat()
	require.NoError(t, err)

	pf, err := parquet.OpenFile(rf, info.Size())
	require.NoError(t, err)
	return pf
}

func TestStringInPredicateKeepValue(t *testing.T) {
	p := NewStringInPredicate([]string{"abc", "xyz"})

	require.True(t, p.KeepValue(parquet.ByteArrayValue([]byte("abc"))))
	require.True(t, p.KeepValue(parquet.ByteArrayValue([]byte("xyz"))))
	require.False(t, p.KeepValue(parquet.ByteArrayValue([]byte("nope"))))
}

func TestStringInPredicateDictionaryPruning(t *testing.T) {
	pf := writeTestFile(t, []testDictString{{"abc"}, {"bcd"}, {"cde"}})
	chunk := pf.RowGroups()[0].ColumnChunks()[0]

	// present value keeps the chunk
	helper := NewColumnChunkHelper(chunk)
	require.True(t, NewStringInPredicate([]string{"bcd"}).KeepColumnChunk(helper))
	require.NoError(t, helper.Close())

	// the dictionary proves an absent value cannot match
	helper = NewColumnChunkHelper(chunk)
	require.False(t, NewStringInPredicate([]string{"zzz"}).KeepColumnChunk(helper))
	require.NoError(t, helper.Close())
}

func TestGetColumnIndexByPath(t *testing.T) {
	pf := writeTestFile(t, []testNested{{ID: 1}})

	idx, maxDef := GetColumnIndexByPath(pf, "ID")
	require.GreaterOrEqual(t, idx, 0)
	require.Equal(t, 0, maxDef)

	idx, _ = GetColumnIndexByPath(pf, "Inner.list.element.Name")
	require.GreaterOrEqual(t, idx, 0)

	idx, _ = GetColumnIndexByPath(pf, "Missing")
	require.Equal(t, -1, idx)

	idx, _ = GetColumnIndexByPath(pf, "Inner.list.element.Missing")
	require.Equal(t, -1, idx)
}

func TestReadColumnRows(t *testing.T) {
	rows := []testNested{
		{ID: 1, Inner: []struct {
			Name string `parquet:",dict,list"`
		}{{Name: "a"}, {Name: "b"}}},
		{ID: 2},
		{ID: 3, Inner: []struct {
			Name string `parquet:",dict,list"`
		}{{Name: "c"}}},
	}
	pf := writeTestFile(t, rows)
	rg := pf.RowGroups()[0]

	idIdx, _ := GetColumnIndexByPath(pf, "ID")
	ids, err := ReadColumnRows(rg, idIdx)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	require.Equal(t, int64(1), ids[0][0].Int64())
	require.Equal(t, int64(3), ids[2][0].Int64())

	nameIdx, _ := GetColumnIndexByPath(pf, "Inner.list.element.Name")
	names, err := ReadColumnRows(rg, nameIdx)
	require.NoError(t, err)
	require.Len(t, names, 3)

	require.Len(t, names[0], 2)
	require.Equal(t, "a", string(names[0][0].ByteArray()))
	require.Equal(t, "b", string(names[0][1].ByteArray()))

	// row without inner values still occupies one (null) slot
	require.Len(t, names[1], 1)
	require.True(t, names[1][0].IsNull())

	require.Len(t, names[2], 1)
	require.Equal(t, "c", string(names[2][0].ByteArray()))
}
