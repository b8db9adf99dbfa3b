// Package document converts between domain records and the wire shape stored
// in the cluster. Conversions are pure: no I/O, no errors, malformed values
// pass through for the caller to deal with.
package document

import (
	"sort"
	"time"

	"github.com/ledgerkit/searchd/internal/engine"
	"github.com/ledgerkit/searchd/internal/schema"
)

// dateLayout is the on-wire encoding for date fields. Time of day is
// discarded on write; reads come back at midnight UTC.
const dateLayout = "2006-01-02"

// IntoIndex shapes a domain record for indexing: stamps the tenant marker,
// encodes configured date fields from Unix seconds to YYYY-MM-DD, and
// flattens metadata to its string-typed values.
func IntoIndex(tenant, indexName string, doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out[schema.TenantField] = tenant

	for _, f := range schema.DateFields(indexName) {
		if ts, ok := asUnix(out[f]); ok {
			out[f] = time.Unix(ts, 0).UTC().Format(dateLayout)
		}
	}

	if md, ok := out["metadata"].(map[string]any); ok {
		out["metadata"] = flattenMetadata(md)
	}

	return out
}

// FromIndex shapes a search hit back into a domain record: adds the
// normalized object type and engine document id, removes the tenant marker,
// and decodes date strings back to Unix seconds. Values that do not parse in
// the expected format are left as-is.
func FromIndex(hit engine.Hit) map[string]any {
	out := make(map[string]any, len(hit.Source)+2)
	for k, v := range hit.Source {
		out[k] = v
	}

	object := schema.Normalize(hit.Index)
	out["object"] = object
	out["id"] = hit.ID
	delete(out, schema.TenantField)

	for _, f := range schema.DateFields(object) {
		s, ok := out[f].(string)
		if !ok {
			continue
		}
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			continue
		}
		out[f] = t.Unix()
	}

	return out
}

// flattenMetadata keeps only the string-typed values. The cluster's flattened
// object type is unavailable, so numeric and boolean metadata is dropped from
// the index (never from the source record). Values are emitted in ascending
// key order, not the source record's order: the metadata object arrives as a
// map, which carries no insertion order, and sorting the keys is what keeps
// the wire document deterministic across encodes.
func flattenMetadata(md map[string]any) []string {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(md))
	for _, k := range keys {
		if s, ok := md[k].(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// asUnix coerces the numeric encodings a record may carry for a timestamp.
func asUnix(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
