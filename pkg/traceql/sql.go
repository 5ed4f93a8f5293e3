package traceql

import (
	"fmt"
	"strings"
)

// ErrUnsupported is returned when a query parses but cannot be expressed
// in the target SQL dialect. The engine must fail such queries rather than
// silently mis-answer them.
type ErrUnsupported struct {
	Msg string
}

func (e *ErrUnsupported) Error() string { return "unsupported: " + e.Msg }

func unsupported(format string, args ...any) error {
	return &ErrUnsupported{Msg: fmt.Sprintf(format, args...)}
}

// ToSQL parses a TraceQL query string and compiles it to SQL over the
// traces table.
func ToSQL(query string) (string, error) {
	ast, err := Parse(query)
	if err != nil {
		return "", err
	}
	return GenerateSQL(ast)
}

// filterLevel is the level of the trace hierarchy at which a predicate can
// first be evaluated. The CTE chain applies each filter at its level so
// the engine prunes as early as possible.
type filterLevel int

const (
	levelTrace filterLevel = iota
	levelResource
	levelSpan
)

// classifiedFilters holds the SQL fragments accumulated per level.
type classifiedFilters struct {
	trace    []string
	resource []string
	span     []string
}

func (c *classifiedFilters) add(level filterLevel, sql string) {
	switch level {
	case levelTrace:
		c.trace = append(c.trace, sql)
	case levelResource:
		c.resource = append(c.resource, sql)
	case levelSpan:
		c.span = append(c.span, sql)
	}
}

func leastSpecific(a, b filterLevel) filterLevel {
	if a < b {
		return a
	}
	return b
}

func mostSpecific(a, b filterLevel) filterLevel {
	if a > b {
		return a
	}
	return b
}

// GenerateSQL compiles a parsed query to SQL.
func GenerateSQL(q *Query) (string, error) {
	var selectFields []FieldRef
	for _, op := range q.Pipeline {
		if op.Type == OpSelect {
			selectFields = op.Fields
		}
	}

	var sb strings.Builder
	var err error

	switch expr := q.Expr.(type) {
	case SpanFilterExpr:
		err = writeSpanFilterQuery(&sb, expr.Filter, selectFields)
	case StructuralExpr:
		err = writeStructuralQuery(&sb, expr.Parent, expr.Child)
	case UnionExpr:
		err = writeUnionQuery(&sb, expr.Filters)
	default:
		err = unsupported("unknown query expression")
	}
	if err != nil {
		return "", err
	}

	var aggOps []PipelineOp
	for _, op := range q.Pipeline {
		if op.Type != OpSelect {
			aggOps = append(aggOps, op)
		}
	}

	if len(aggOps) == 0 {
		if q.Having != nil {
			return "", unsupported("trailing comparison requires an aggregation pipeline")
		}
		return sb.String(), nil
	}
	if len(aggOps) > 1 {
		return "", unsupported("multiple pipeline operations")
	}

	// Wrap the base query in a CTE and append the aggregation.
	base := sb.String()
	sb.Reset()
	sb.WriteString("WITH base_spans AS (\n")
	sb.WriteString(base)
	sb.WriteString("\n)\n")

	if err := writePipelineOp(&sb, aggOps[0], "base_spans"); err != nil {
		return "", err
	}

	if q.Having != nil {
		sb.WriteString(" HAVING ")
		sb.WriteString(aggColumnName(aggOps[0].Type))
		sb.WriteString(" ")
		sb.WriteString(q.Having.Op.String())
		sb.WriteString(" ")
		writeValue(&sb, q.Having.Value)
	}

	return sb.String(), nil
}

func aggColumnName(t PipelineOpType) string {
	switch t {
	case OpRate:
		return "rate"
	case OpCount:
		return "count"
	case OpAvg:
		return "avg"
	case OpSum:
		return "sum"
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	}
	return ""
}

// classifyExpr walks the expression tree and assigns every leaf predicate
// to a level. Conjunctions may split children across levels. Disjunctions
// are forced to the least specific common level and emitted whole there,
// because only that level has every operand available. Negations inherit
// the level of the inner expression.
func classifyExpr(expr Expr, out *classifiedFilters) (filterLevel, error) {
	switch e := expr.(type) {
	case *BinaryExpr:
		if e.Op == OpAnd {
			left, err := classifyExpr(e.Left, out)
			if err != nil {
				return 0, err
			}
			right, err := classifyExpr(e.Right, out)
			if err != nil {
				return 0, err
			}
			return mostSpecific(left, right), nil
		}

		// OR: classify children to find the common level, then emit the
		// whole disjunction there.
		scratch := &classifiedFilters{}
		left, err := classifyExpr(e.Left, scratch)
		if err != nil {
			return 0, err
		}
		right, err := classifyExpr(e.Right, scratch)
		if err != nil {
			return 0, err
		}
		level := leastSpecific(left, right)

		var sb strings.Builder
		if err := writeFilterExpr(&sb, expr, level); err != nil {
			return 0, err
		}
		out.add(level, sb.String())
		return level, nil

	case *UnaryExpr:
		scratch := &classifiedFilters{}
		level, err := classifyExpr(e.Expr, scratch)
		if err != nil {
			return 0, err
		}

		var sb strings.Builder
		if err := writeFilterExpr(&sb, expr, level); err != nil {
			return 0, err
		}
		out.add(level, sb.String())
		return level, nil

	case *ComparisonExpr:
		level, err := fieldLevel(e.Field)
		if err != nil {
			return 0, err
		}

		var sb strings.Builder
		if err := writeComparison(&sb, e.Field, e.Op, e.Value, level); err != nil {
			return 0, err
		}
		out.add(level, sb.String())
		return level, nil
	}
	return 0, unsupported("unknown expression type")
}

func classifyFilter(f SpanFilter) (*classifiedFilters, error) {
	out := &classifiedFilters{}
	if f.Expr == nil {
		return out, nil
	}
	if _, err := classifyExpr(f.Expr, out); err != nil {
		return nil, err
	}
	return out, nil
}

func fieldLevel(f FieldRef) (filterLevel, error) {
	switch f.Scope {
	case ScopeResource:
		return levelResource, nil
	case ScopeSpan, ScopeUnscoped:
		return levelSpan, nil
	case ScopeIntrinsic:
		switch f.Name {
		case "rootServiceName", "rootName", "traceDuration":
			return levelTrace, nil
		}
		return levelSpan, nil
	}
	return levelSpan, nil
}

// writeFilterExpr renders an expression subtree with field paths resolved
// for the given level.
func writeFilterExpr(sb *strings.Builder, expr Expr, level filterLevel) error {
	switch e := expr.(type) {
	case *BinaryExpr:
		sb.WriteString("(")
		if err := writeFilterExpr(sb, e.Left, level); err != nil {
			return err
		}
		if e.Op == OpAnd {
			sb.WriteString(" AND ")
		} else {
			sb.WriteString(" OR ")
		}
		if err := writeFilterExpr(sb, e.Right, level); err != nil {
			return err
		}
		sb.WriteString(")")
		return nil

	case *UnaryExpr:
		sb.WriteString("NOT (")
		if err := writeFilterExpr(sb, e.Expr, level); err != nil {
			return err
		}
		sb.WriteString(")")
		return nil

	case *ComparisonExpr:
		return writeComparison(sb, e.Field, e.Op, e.Value, level)
	}
	return unsupported("unknown expression type")
}

// Dedicated columns. Everything else goes through the attrs_to_map UDF.
var dedicatedResourceColumns = map[string]string{
	"service.name":       `resource."Resource"."ServiceName"`,
	"cluster":            `resource."Resource"."Cluster"`,
	"namespace":          `resource."Resource"."Namespace"`,
	"pod":                `resource."Resource"."Pod"`,
	"container":          `resource."Resource"."Container"`,
	"k8s.cluster.name":   `resource."Resource"."K8sClusterName"`,
	"k8s.namespace.name": `resource."Resource"."K8sNamespaceName"`,
	"k8s.pod.name":       `resource."Resource"."K8sPodName"`,
	"k8s.container.name": `resource."Resource"."K8sContainerName"`,
}

var dedicatedSpanColumns = map[string]string{
	"http.method":        `span."HttpMethod"`,
	"http.url":           `span."HttpUrl"`,
	"http.status_code":   `span."HttpStatusCode"`,
	"http.response_code": `span."HttpStatusCode"`,
}

func writeResourceFieldPath(sb *strings.Builder, name string) {
	if col, ok := dedicatedResourceColumns[name]; ok {
		sb.WriteString(col)
		return
	}
	sb.WriteString(`flatten(map_extract(attrs_to_map(resource."Resource"."Attrs"), '`)
	sb.WriteString(name)
	sb.WriteString(`'))`)
}

func writeSpanFieldPath(sb *strings.Builder, name string) {
	if col, ok := dedicatedSpanColumns[name]; ok {
		sb.WriteString(col)
		return
	}
	sb.WriteString(`flatten(map_extract(attrs_to_map(span."Attrs"), '`)
	sb.WriteString(name)
	sb.WriteString(`'))`)
}

func writeSpanIntrinsicPath(sb *strings.Builder, name string) error {
	switch name {
	case "name":
		sb.WriteString(`span."Name"`)
	case "duration":
		sb.WriteString(`span."DurationNano"`)
	case "status":
		sb.WriteString(`span."StatusCode"`)
	case "kind":
		sb.WriteString(`span."Kind"`)
	case "spanID":
		sb.WriteString(`span."SpanID"`)
	case "parentSpanID":
		sb.WriteString(`span."ParentSpanID"`)
	case "nestedSetLeft":
		sb.WriteString(`span."NestedSetLeft"`)
	case "nestedSetRight":
		sb.WriteString(`span."NestedSetRight"`)
	case "traceID":
		sb.WriteString(`"TraceID"`)
	default:
		return unsupported("span intrinsic %s", name)
	}
	return nil
}

func writeTraceFieldPath(sb *strings.Builder, name string) error {
	switch name {
	case "traceID":
		sb.WriteString(`t."TraceID"`)
	case "startTime":
		sb.WriteString(`t."StartTimeUnixNano"`)
	case "endTime":
		sb.WriteString(`t."EndTimeUnixNano"`)
	case "duration", "traceDuration":
		sb.WriteString(`t."DurationNano"`)
	case "rootServiceName":
		sb.WriteString(`t."RootServiceName"`)
	case "rootName":
		sb.WriteString(`t."RootSpanName"`)
	default:
		return unsupported("trace intrinsic %s", name)
	}
	return nil
}

// isListAttribute reports whether the field resolves to the list-valued
// output of the attrs_to_map UDF rather than a scalar column.
func isListAttribute(f FieldRef) bool {
	switch f.Scope {
	case ScopeSpan:
		_, dedicated := dedicatedSpanColumns[f.Name]
		return !dedicated
	case ScopeResource:
		_, dedicated := dedicatedResourceColumns[f.Name]
		return !dedicated
	case ScopeUnscoped:
		return true
	}
	return false
}

func writeComparison(sb *strings.Builder, field FieldRef, op Operator, value Value, level filterLevel) error {
	var path strings.Builder
	switch field.Scope {
	case ScopeResource:
		writeResourceFieldPath(&path, field.Name)
	case ScopeSpan, ScopeUnscoped:
		writeSpanFieldPath(&path, field.Name)
	case ScopeIntrinsic:
		if field.Name == "nestedSetParent" {
			return unsupported("nestedSetParent intrinsic")
		}
		if level == levelTrace {
			if err := writeTraceFieldPath(&path, field.Name); err != nil {
				return err
			}
		} else {
			if err := writeSpanIntrinsicPath(&path, field.Name); err != nil {
				return err
			}
		}
	}

	if isListAttribute(field) {
		switch op {
		case OpEqual:
			sb.WriteString("list_contains(")
			sb.WriteString(path.String())
			sb.WriteString(", ")
			writeValue(sb, value)
			sb.WriteString(")")
			return nil
		case OpNotEqual:
			sb.WriteString("NOT list_contains(")
			sb.WriteString(path.String())
			sb.WriteString(", ")
			writeValue(sb, value)
			sb.WriteString(")")
			return nil
		case OpRegex:
			sb.WriteString("array_to_string(")
			sb.WriteString(path.String())
			sb.WriteString(", ',') ~ ")
			writeValue(sb, value)
			return nil
		case OpNotRegex:
			sb.WriteString("array_to_string(")
			sb.WriteString(path.String())
			sb.WriteString(", ',') !~ ")
			writeValue(sb, value)
			return nil
		}
	}

	sb.WriteString(path.String())
	switch op {
	case OpRegex:
		sb.WriteString(" ~ ")
	case OpNotRegex:
		sb.WriteString(" !~ ")
	default:
		sb.WriteString(" ")
		sb.WriteString(op.String())
		sb.WriteString(" ")
	}
	writeValue(sb, value)
	return nil
}

// writeValue renders a literal. Durations become integer nanoseconds,
// status and kind their wire codes.
func writeValue(sb *strings.Builder, v Value) {
	switch v.Type {
	case ValueString:
		sb.WriteString("'")
		sb.WriteString(strings.ReplaceAll(v.S, "'", "''"))
		sb.WriteString("'")
	case ValueInteger:
		fmt.Fprintf(sb, "%d", v.I)
	case ValueFloat:
		fmt.Fprintf(sb, "%g", v.F)
	case ValueBool:
		fmt.Fprintf(sb, "%t", v.B)
	case ValueDuration:
		fmt.Fprintf(sb, "%d", v.D.Nanoseconds())
	case ValueStatus:
		fmt.Fprintf(sb, "%d", int(v.Status))
	case ValueKind:
		fmt.Fprintf(sb, "%d", int(v.SpanKind))
	}
}

// writeUnnestChain emits the CTE chain that unnests the trace tree,
// attaching each filter bucket at the first CTE where its operands are
// available. cteBase prefixes CTE names so two chains can coexist in one
// statement. Returns the name of the last CTE.
func writeUnnestChain(sb *strings.Builder, filters *classifiedFilters, cteBase string, withKeyword bool) string {
	if withKeyword {
		sb.WriteString("WITH ")
	} else {
		sb.WriteString(", ")
	}

	sb.WriteString(cteBase + "unnest_resources AS (\n")
	sb.WriteString("  SELECT t.\"TraceID\", UNNEST(t.rs) as resource\n")
	sb.WriteString("  FROM traces t\n")
	if len(filters.trace) > 0 {
		sb.WriteString("  WHERE ")
		sb.WriteString(strings.Join(filters.trace, " AND "))
		sb.WriteString("\n")
	}
	sb.WriteString(")")

	resourceSource := cteBase + "unnest_resources"
	if len(filters.resource) > 0 {
		sb.WriteString(",\n" + cteBase + "filtered_resources AS (\n")
		sb.WriteString("  SELECT * FROM " + cteBase + "unnest_resources\n")
		sb.WriteString("  WHERE ")
		sb.WriteString(strings.Join(filters.resource, " AND "))
		sb.WriteString("\n)")
		resourceSource = cteBase + "filtered_resources"
	}

	sb.WriteString(",\n" + cteBase + "unnest_scopespans AS (\n")
	sb.WriteString("  SELECT \"TraceID\", resource, UNNEST(resource.ss) as scopespans\n")
	sb.WriteString("  FROM " + resourceSource + "\n")
	sb.WriteString(")")

	sb.WriteString(",\n" + cteBase + "unnest_spans AS (\n")
	sb.WriteString("  SELECT \"TraceID\", resource, UNNEST(scopespans.\"Spans\") as span\n")
	sb.WriteString("  FROM " + cteBase + "unnest_scopespans\n")
	sb.WriteString(")")

	source := cteBase + "unnest_spans"
	if len(filters.span) > 0 {
		sb.WriteString(",\n" + cteBase + "filtered_spans AS (\n")
		sb.WriteString("  SELECT * FROM " + cteBase + "unnest_spans\n")
		sb.WriteString("  WHERE ")
		sb.WriteString(strings.Join(filters.span, " AND "))
		sb.WriteString("\n)")
		source = cteBase + "filtered_spans"
	}

	return source
}

func writeFinalProjection(sb *strings.Builder, selectFields []FieldRef, source string) error {
	sb.WriteString("\nSELECT ")

	if len(selectFields) > 0 {
		for i, f := range selectFields {
			if i > 0 {
				sb.WriteString(", ")
			}
			switch f.Scope {
			case ScopeResource:
				writeResourceFieldPath(sb, f.Name)
			case ScopeSpan, ScopeUnscoped:
				writeSpanFieldPath(sb, f.Name)
			case ScopeIntrinsic:
				if err := writeSpanIntrinsicPath(sb, f.Name); err != nil {
					return err
				}
			}
		}
	} else {
		sb.WriteString(`"TraceID" AS "TraceID", `)
		sb.WriteString(`span."SpanID" AS "SpanID", `)
		sb.WriteString(`span."Name" AS "Name", `)
		sb.WriteString(`span."Kind" AS "Kind", `)
		sb.WriteString(`span."ParentSpanID" AS "ParentSpanID", `)
		sb.WriteString(`span."StartTimeUnixNano" AS "StartTimeUnixNano", `)
		sb.WriteString(`span."DurationNano" AS "DurationNano", `)
		sb.WriteString(`span."StatusCode" AS "StatusCode", `)
		sb.WriteString(`span."HttpMethod" AS "HttpMethod", `)
		sb.WriteString(`span."HttpUrl" AS "HttpUrl", `)
		sb.WriteString(`span."HttpStatusCode" AS "HttpStatusCode"`)
	}

	sb.WriteString("\nFROM " + source)
	return nil
}

func writeSpanFilterQuery(sb *strings.Builder, filter SpanFilter, selectFields []FieldRef) error {
	classified, err := classifyFilter(filter)
	if err != nil {
		return err
	}
	source := writeUnnestChain(sb, classified, "", true)
	return writeFinalProjection(sb, selectFields, source)
}

// writeStructuralQuery compiles `{ parent } >> { child }` as two unnest
// chains joined on nested-set interval containment. Child CTE names are
// prefixed to avoid collisions with the parent chain.
func writeStructuralQuery(sb *strings.Builder, parent, child SpanFilter) error {
	parentClassified, err := classifyFilter(parent)
	if err != nil {
		return err
	}
	childClassified, err := classifyFilter(child)
	if err != nil {
		return err
	}

	parentSource := writeUnnestChain(sb, parentClassified, "", true)
	sb.WriteString(",\nparent_spans AS (\n")
	sb.WriteString("  SELECT \"TraceID\", span.\"NestedSetLeft\", span.\"NestedSetRight\" FROM " + parentSource + "\n")
	sb.WriteString(")")

	childSource := writeUnnestChain(sb, childClassified, "child_", false)
	sb.WriteString(",\nchild_spans AS (\n")
	sb.WriteString("  SELECT \"TraceID\", ")
	sb.WriteString(`span."SpanID", `)
	sb.WriteString(`span."Name", `)
	sb.WriteString(`span."NestedSetLeft", `)
	sb.WriteString(`span."NestedSetRight" `)
	sb.WriteString("FROM " + childSource + "\n")
	sb.WriteString(")\n")

	sb.WriteString("SELECT child_spans.* FROM parent_spans\n")
	sb.WriteString("INNER JOIN child_spans\n")
	sb.WriteString("  ON child_spans.\"TraceID\" = parent_spans.\"TraceID\"\n")
	sb.WriteString("  AND child_spans.\"NestedSetLeft\" > parent_spans.\"NestedSetLeft\"\n")
	sb.WriteString("  AND child_spans.\"NestedSetRight\" < parent_spans.\"NestedSetRight\"\n")
	return nil
}

func writeUnionQuery(sb *strings.Builder, filters []SpanFilter) error {
	for i, filter := range filters {
		if i > 0 {
			sb.WriteString("\nUNION\n")
		}
		classified, err := classifyFilter(filter)
		if err != nil {
			return err
		}
		source := writeUnnestChain(sb, classified, "", true)
		if err := writeFinalProjection(sb, nil, source); err != nil {
			return err
		}
	}
	return nil
}

// groupByColumn maps TraceQL field names in group-by clauses to the
// projected column names of the base span selection.
func groupByColumn(field string) string {
	switch field {
	case "status":
		return `"StatusCode"`
	case "name":
		return `"Name"`
	case "duration":
		return `"DurationNano"`
	case "kind":
		return `"Kind"`
	}
	return field
}

func writePipelineOp(sb *strings.Builder, op PipelineOp, source string) error {
	switch op.Type {
	case OpRate:
		// spans per 5-minute bucket
		sb.WriteString("SELECT ")
		sb.WriteString(`date_bin(INTERVAL '5 minutes', to_timestamp_nanos(CAST("StartTimeUnixNano" AS BIGINT)), TIMESTAMP '1970-01-01 00:00:00') as time_bucket`)
		for _, f := range op.GroupBy {
			sb.WriteString(", " + groupByColumn(f))
		}
		sb.WriteString(", COUNT(*) as rate")
		sb.WriteString(" FROM " + source + "\n")
		sb.WriteString("GROUP BY time_bucket")
		for _, f := range op.GroupBy {
			sb.WriteString(", " + groupByColumn(f))
		}
		sb.WriteString("\nORDER BY time_bucket")
		for _, f := range op.GroupBy {
			sb.WriteString(", " + groupByColumn(f))
		}
		return nil

	case OpCount:
		sb.WriteString("SELECT ")
		for _, f := range op.GroupBy {
			sb.WriteString(groupByColumn(f) + ", ")
		}
		sb.WriteString("COUNT(*) as count FROM " + source)
		writeGroupByClause(sb, op.GroupBy)
		return nil

	case OpAvg, OpSum, OpMin, OpMax:
		agg := strings.ToUpper(aggColumnName(op.Type))
		sb.WriteString("SELECT ")
		for _, f := range op.GroupBy {
			sb.WriteString(groupByColumn(f) + ", ")
		}
		fmt.Fprintf(sb, "%s(%s) as %s FROM %s", agg, groupByColumn(op.Field), aggColumnName(op.Type), source)
		writeGroupByClause(sb, op.GroupBy)
		return nil
	}

	return unsupported("pipeline operation %s", op.Type)
}

func writeGroupByClause(sb *strings.Builder, groupBy []string) {
	if len(groupBy) == 0 {
		return
	}
	sb.WriteString("\nGROUP BY ")
	for i, f := range groupBy {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(groupByColumn(f))
	}
}
