// Package search holds the tenant-facing search layer: the query builder,
// the per-tenant index view with its buffered write queues, the driver that
// owns the cluster connection and index lifecycle, and the orphan cleaner.
package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ledgerkit/searchd/internal/engine"
	"github.com/ledgerkit/searchd/internal/schema"
)

// searchTimeout is the engine-side cap on a single search call.
const searchTimeout = 30 * time.Second

// customerIndexBoost biases ranking toward customers when they are part of
// the selection: a name hit on the customer itself should outrank the same
// name embedded in one of its invoices.
const customerIndexBoost = 1.5

// TypeRegistry supplies the object types searchable for a tenant. The
// object-type registry itself lives outside this subsystem.
type TypeRegistry interface {
	SearchableTypes(ctx context.Context, tenant string) ([]string, error)
}

// StaticTypes is the TypeRegistry used when every tenant searches the full
// static type set.
type StaticTypes struct{}

// SearchableTypes returns every known object type.
func (StaticTypes) SearchableTypes(context.Context, string) ([]string, error) {
	return schema.AllTypes(), nil
}

// Restrictor resolves access restrictions to a set of allowed customer ids.
// ok=false means the principal is unrestricted; that is distinct from an
// empty allowed set and must stay distinct.
type Restrictor interface {
	AllowedCustomerIDs(ctx context.Context, tenant string) (ids []string, restricted bool, err error)
}

// BuildOptions are the inputs to one query construction.
type BuildOptions struct {
	Tenant     string
	Text       string
	Index      string // explicit target index, or "" to search all
	Limit      int
	RichSyntax bool
}

// QueryBuilder turns free text into a structured search request.
type QueryBuilder struct {
	types    TypeRegistry
	restrict Restrictor // nil means no restriction evaluation
}

// NewQueryBuilder creates a query builder. restrict may be nil.
func NewQueryBuilder(types TypeRegistry, restrict Restrictor) *QueryBuilder {
	if types == nil {
		types = StaticTypes{}
	}
	return &QueryBuilder{types: types, restrict: restrict}
}

// isTypeModifier matches an is:<type> modifier standing alone between word
// boundaries; "analysis:foo" or "parisis:x" must not match.
var isTypeModifier = regexp.MustCompile(`(^|\s)is:([a-z_]+)($|\s)`)

// reservedSingles are the engine's reserved query-syntax characters, minus
// the two doubled operators checked separately.
const reservedSingles = "+-=><!(){}[]^\"~*?:\\/"

// Build assembles a search request per the resolution rules: indices first,
// then match fields, then text cleanup, then filters.
func (b *QueryBuilder) Build(ctx context.Context, opts BuildOptions) (*engine.SearchRequest, error) {
	text := strings.TrimSpace(opts.Text)

	indices, text, err := b.resolveIndices(ctx, opts.Tenant, opts.Index, text)
	if err != nil {
		return nil, fmt.Errorf("resolve indices: %w", err)
	}

	fields := resolveFields(indices, text, opts.RichSyntax)
	text = cleanText(text, opts.RichSyntax)

	var match engine.Query
	if opts.RichSyntax {
		match = engine.Query{"query_string": map[string]any{
			"query":            text,
			"fields":           fields,
			"default_operator": "AND",
			"lenient":          true,
		}}
	} else {
		match = engine.Query{"multi_match": map[string]any{
			"query":     text,
			"fields":    fields,
			"fuzziness": "AUTO",
			"lenient":   true,
		}}
	}

	filters := []engine.Query{
		{"term": map[string]any{schema.TenantField: opts.Tenant}},
	}
	if b.restrict != nil {
		allowed, restricted, err := b.restrict.AllowedCustomerIDs(ctx, opts.Tenant)
		if err != nil {
			return nil, fmt.Errorf("resolve restrictions: %w", err)
		}
		// An absent or empty restriction result means unrestricted, never
		// "match nothing".
		if restricted && len(allowed) > 0 {
			filters = append(filters, engine.Query{
				"terms": map[string]any{schema.CustomerField: allowed},
			})
		}
	}

	req := &engine.SearchRequest{
		Indices: indices,
		Routing: opts.Tenant,
		Size:    opts.Limit,
		Timeout: searchTimeout,
		Query: engine.Query{"bool": map[string]any{
			"must":   []engine.Query{match},
			"filter": filters,
		}},
	}
	for _, idx := range indices {
		if idx == schema.TypeCustomer {
			req.IndicesBoost = []map[string]float64{{schema.TypeCustomer: customerIndexBoost}}
			break
		}
	}
	return req, nil
}

// resolveIndices picks the target indices and strips a recognized is:<type>
// modifier from the text.
func (b *QueryBuilder) resolveIndices(ctx context.Context, tenant, explicit, text string) ([]string, string, error) {
	if explicit != "" {
		return []string{explicit}, text, nil
	}

	all, err := b.types.SearchableTypes(ctx, tenant)
	if err != nil {
		return nil, "", err
	}
	candidates := make([]string, 0, len(all))
	for _, t := range all {
		if !schema.ExcludedFromSearchAll(t) {
			candidates = append(candidates, t)
		}
	}

	// The modifier matches against the full type list, not the search-all
	// candidates: excluded types are exactly the ones that need is:<type>
	// to be reachable.
	m := isTypeModifier.FindStringSubmatch(text)
	if m == nil {
		return candidates, text, nil
	}
	for _, c := range all {
		if c != m[2] {
			continue
		}
		text = strings.TrimSpace(strings.Replace(text, m[0], " ", 1))
		return []string{c}, text, nil
	}
	// Modifier names something unknown: leave it as literal query text.
	return candidates, text, nil
}

// resolveFields picks the match-field list. A colon in rich-syntax text is a
// hand-written field qualifier, so the field list widens to everything and
// the author's qualifiers take over.
func resolveFields(indices []string, text string, rich bool) []string {
	if rich && strings.Contains(text, ":") {
		return []string{"*"}
	}

	seen := make(map[string]bool)
	var fields []string
	for _, idx := range indices {
		for _, f := range schema.MatchFields(idx) {
			if seen[f] {
				continue
			}
			seen[f] = true
			fields = append(fields, boosted(f, indices))
		}
	}
	return fields
}

// boosted appends the boost suffix for a field; the first index in selection
// order that defines a boost wins.
func boosted(field string, indices []string) string {
	for _, idx := range indices {
		if w, ok := schema.Boost(idx, field); ok {
			return fmt.Sprintf("%s^%g", field, w)
		}
	}
	return field
}

// cleanText widens a plain literal term for recall: "foo" becomes
// "*foo* OR foo*". Text that already uses reserved engine syntax passes
// through untouched so hand-authored queries are not corrupted.
func cleanText(text string, rich bool) string {
	text = strings.TrimSpace(text)
	if !rich || text == "" || hasReservedSyntax(text) {
		return text
	}
	return fmt.Sprintf("*%s* OR %s*", text, text)
}

func hasReservedSyntax(text string) bool {
	return strings.ContainsAny(text, reservedSingles) ||
		strings.Contains(text, "&&") ||
		strings.Contains(text, "||")
}
