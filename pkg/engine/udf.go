package engine

import (
	"fmt"
	"strconv"

	"github.com/grafana/traceql-engine/tempodb/encoding/vparquet4"
)

// AttrsToMap coalesces one attribute list into a map from key to the
// stringified values under that key. Every typed value is rendered in its
// canonical string form; duplicate keys append. The function is pure, so
// the engine may cache its results.
func AttrsToMap(attrs []vparquet4.Attribute) map[string][]string {
	out := make(map[string][]string, len(attrs))

	for _, attr := range attrs {
		if attr.Key == "" {
			continue
		}

		total := len(attr.Value) + len(attr.ValueInt) + len(attr.ValueDouble) + len(attr.ValueBool)
		values, ok := out[attr.Key]
		if !ok {
			values = make([]string, 0, total)
		}

		values = append(values, attr.Value...)
		for _, v := range attr.ValueInt {
			values = append(values, strconv.FormatInt(v, 10))
		}
		for _, v := range attr.ValueDouble {
			values = append(values, strconv.FormatFloat(v, 'f', -1, 64))
		}
		for _, v := range attr.ValueBool {
			values = append(values, strconv.FormatBool(v))
		}

		out[attr.Key] = values
	}

	return out
}

// NewAttrsToMapUDF wraps AttrsToMap as the engine-facing attrs_to_map
// scalar function: one attribute list in, one map out, per row.
func NewAttrsToMapUDF() ScalarUDF {
	return ScalarUDF{
		Name:       "attrs_to_map",
		Volatility: VolatilityImmutable,
		Fn: func(args []any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("attrs_to_map requires 1 argument, got %d", len(args))
			}
			rows, ok := args[0].([][]vparquet4.Attribute)
			if !ok {
				return nil, fmt.Errorf("attrs_to_map expects an attribute list column")
			}

			out := make([]map[string][]string, len(rows))
			for i, attrs := range rows {
				out[i] = AttrsToMap(attrs)
			}
			return out, nil
		},
	}
}
