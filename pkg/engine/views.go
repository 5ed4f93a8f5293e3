package engine

// SpansViewSQL defines the flattened `spans` view over the `traces`
// table: one row per span, with generic attributes exposed through
// attrs_to_map for ad-hoc SQL. The TraceQL compiler emits its own inline
// CTEs instead of selecting from this view; the view exists for
// human-issued queries.
const SpansViewSQL = `CREATE VIEW spans AS
WITH unnest_resources AS (
  SELECT t."TraceID", UNNEST(t.rs) as resource
  FROM traces t
),
unnest_scopespans AS (
  SELECT "TraceID", resource, UNNEST(resource.ss) as scopespans
  FROM unnest_resources
),
unnest_spans AS (
  SELECT "TraceID", resource, UNNEST(scopespans."Spans") as span
  FROM unnest_scopespans
)
SELECT
  "TraceID" AS "TraceID",
  span."SpanID" AS "SpanID",
  span."ParentSpanID" AS "ParentSpanID",
  span."Name" AS "Name",
  span."Kind" AS "Kind",
  span."StartTimeUnixNano" AS "StartTimeUnixNano",
  span."DurationNano" AS "DurationNano",
  span."StatusCode" AS "StatusCode",
  span."HttpMethod" AS "HttpMethod",
  span."HttpUrl" AS "HttpUrl",
  span."HttpStatusCode" AS "HttpStatusCode",
  resource."Resource"."ServiceName" AS "ServiceName",
  attrs_to_map(span."Attrs") AS "SpanAttrs",
  attrs_to_map(resource."Resource"."Attrs") AS "ResourceAttrs"
FROM unnest_spans`
