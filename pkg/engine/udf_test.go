package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/traceql-engine/tempodb/encoding/vparquet4"
)

func TestAttrsToMapStringifiesEveryType(t *testing.T) {
	attrs := []vparquet4.Attribute{
		{Key: "string", Value: []string{"hello"}},
		{Key: "int", ValueInt: []int64{42}},
		{Key: "double", ValueDouble: []float64{1.5}},
		{Key: "bool", ValueBool: []bool{true}},
	}

	m := AttrsToMap(attrs)
	require.Equal(t, []string{"hello"}, m["string"])
	require.Equal(t, []string{"42"}, m["int"])
	require.Equal(t, []string{"1.5"}, m["double"])
	require.Equal(t, []string{"true"}, m["bool"])
}

func TestAttrsToMapArraysAndDuplicates(t *testing.T) {
	attrs := []vparquet4.Attribute{
		{Key: "arr", IsArray: true, Value: []string{"a", "b", "c"}},
		{Key: "dup", Value: []string{"first"}},
		{Key: "dup", ValueInt: []int64{2}},
	}

	m := AttrsToMap(attrs)
	require.Equal(t, []string{"a", "b", "c"}, m["arr"])
	require.Equal(t, []string{"first", "2"}, m["dup"])
}

func TestAttrsToMapScalarCount(t *testing.T) {
	// k scalar entries under one key produce a list of length k
	for k := 1; k <= 5; k++ {
		attrs := make([]vparquet4.Attribute, k)
		for i := range attrs {
			attrs[i] = vparquet4.Attribute{Key: "k", ValueInt: []int64{int64(i)}}
		}
		m := AttrsToMap(attrs)
		require.Len(t, m["k"], k)
	}
}

func TestAttrsToMapEmpty(t *testing.T) {
	require.Empty(t, AttrsToMap(nil))
	// attributes without a key are dropped
	require.Empty(t, AttrsToMap([]vparquet4.Attribute{{Value: []string{"x"}}}))
}

func TestAttrsToMapDeterministic(t *testing.T) {
	attrs := []vparquet4.Attribute{
		{Key: "a", Value: []string{"1"}},
		{Key: "b", ValueDouble: []float64{2.25}},
	}
	first := AttrsToMap(attrs)
	second := AttrsToMap(attrs)
	require.Equal(t, first, second)
}

func TestAttrsToMapUDF(t *testing.T) {
	udf := NewAttrsToMapUDF()
	require.Equal(t, "attrs_to_map", udf.Name)
	require.Equal(t, VolatilityImmutable, udf.Volatility)

	rows := [][]vparquet4.Attribute{
		{{Key: "x", Value: []string{"1"}}},
		nil,
	}
	out, err := udf.Fn([]any{rows})
	require.NoError(t, err)

	maps := out.([]map[string][]string)
	require.Len(t, maps, 2)
	require.Equal(t, []string{"1"}, maps[0]["x"])
	require.Empty(t, maps[1])

	_, err = udf.Fn([]any{})
	require.Error(t, err)

	_, err = udf.Fn([]any{"not a column"})
	require.Error(t, err)
}
