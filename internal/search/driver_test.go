package search

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerkit/searchd/internal/engine"
	"github.com/ledgerkit/searchd/internal/schema"
)

func badRequestErr() error {
	return &engine.Error{Op: engine.OpSearch, Kind: engine.KindBadRequest, Err: errors.New("parse failure")}
}

func TestDriverDialsOnce(t *testing.T) {
	me := &mockEngine{}
	dials := 0
	d := NewDriver(func() (engine.Engine, error) {
		dials++
		return me, nil
	}, nil, nil, zap.NewNop())

	_ = d.Ping(context.Background())
	_ = d.Search(context.Background(), "acme", "foo", "", 10)
	d.Index(context.Background(), "acme", "invoice")

	if dials != 1 {
		t.Errorf("dials = %d, want 1", dials)
	}
}

func TestDriverDialFailureDegrades(t *testing.T) {
	d := NewDriver(func() (engine.Engine, error) {
		return nil, errors.New("no cluster")
	}, nil, nil, zap.NewNop())

	if got := d.Search(context.Background(), "acme", "foo", "", 10); got != nil {
		t.Errorf("Search = %v, want nil on dial failure", got)
	}

	// The handle stays usable; flushing it just logs.
	ti := d.Index(context.Background(), "acme", "invoice")
	ti.Insert(context.Background(), "inv-1", map[string]any{"number": 1})
	ti.Close(context.Background())
}

func TestIndexProvisionsMissingIndex(t *testing.T) {
	d, me := newTestDriver(t)

	me.indexExistsFn = func(_ context.Context, name string) (bool, error) { return false, nil }
	var created string
	var settings engine.Settings
	me.createIndexFn = func(_ context.Context, name string, s engine.Settings, m engine.Mapping) error {
		created = name
		settings = s
		if m == nil {
			t.Error("invoice must be created with an explicit mapping")
		}
		return nil
	}

	ti := d.Index(context.Background(), "acme", "invoice")
	if created != "invoice" {
		t.Errorf("created = %q", created)
	}
	if settings != schema.SettingsFor("invoice") {
		t.Errorf("settings = %+v", settings)
	}
	if ti == nil || ti.Tenant() != "acme" {
		t.Fatalf("handle = %+v", ti)
	}
}

func TestIndexReturnsHandleDespiteProvisioningError(t *testing.T) {
	d, me := newTestDriver(t)

	me.indexExistsFn = func(_ context.Context, _ string) (bool, error) {
		return false, errors.New("cluster down")
	}
	if ti := d.Index(context.Background(), "acme", "invoice"); ti == nil {
		t.Fatal("handle must be returned regardless of provisioning outcome")
	}
}

func TestSearchMapsHits(t *testing.T) {
	d, me := newTestDriver(t)

	me.searchFn = func(_ context.Context, req *engine.SearchRequest) (*engine.SearchResult, error) {
		return &engine.SearchResult{Total: 1, Hits: []engine.Hit{{
			Index:  "invoice-3f2a91",
			ID:     "inv-1",
			Score:  2.5,
			Source: map[string]any{"number": "INV-42", schema.TenantField: "acme"},
		}}}, nil
	}

	docs := d.Search(context.Background(), "acme", "INV", "", 10)
	if len(docs) != 1 {
		t.Fatalf("docs = %v", docs)
	}
	if docs[0]["object"] != "invoice" || docs[0]["id"] != "inv-1" {
		t.Errorf("doc = %v, want object and id stamped", docs[0])
	}
	if _, leaked := docs[0][schema.TenantField]; leaked {
		t.Errorf("doc = %v, tenant field must not leak", docs[0])
	}
}

func TestSearchRetriesOnceOnBadRequest(t *testing.T) {
	d, me := newTestDriver(t)

	var requests []*engine.SearchRequest
	me.searchFn = func(_ context.Context, req *engine.SearchRequest) (*engine.SearchResult, error) {
		requests = append(requests, req)
		if len(requests) == 1 {
			return nil, badRequestErr()
		}
		return &engine.SearchResult{Hits: []engine.Hit{{Index: "customer", ID: "c1", Source: map[string]any{}}}}, nil
	}

	docs := d.Search(context.Background(), "acme", "foo", "", 10)
	if len(docs) != 1 {
		t.Fatalf("docs = %v, want result from the exact retry", docs)
	}
	if len(requests) != 2 {
		t.Fatalf("search calls = %d, want exactly one retry", len(requests))
	}
	mustUseQueryString(t, requests[0], true)
	mustUseQueryString(t, requests[1], false)

	// The downgrade sticks: the next search goes straight to exact mode.
	requests = nil
	me.searchFn = func(_ context.Context, req *engine.SearchRequest) (*engine.SearchResult, error) {
		requests = append(requests, req)
		return &engine.SearchResult{}, nil
	}
	d.Search(context.Background(), "acme", "bar", "", 10)
	if len(requests) != 1 {
		t.Fatalf("search calls = %d after downgrade, want 1", len(requests))
	}
	mustUseQueryString(t, requests[0], false)
}

func TestSearchRetriesOnceOnZeroRichHits(t *testing.T) {
	d, me := newTestDriver(t)

	calls := 0
	me.searchFn = func(_ context.Context, req *engine.SearchRequest) (*engine.SearchResult, error) {
		calls++
		return &engine.SearchResult{}, nil
	}

	if docs := d.Search(context.Background(), "acme", "foo", "", 10); len(docs) != 0 {
		t.Errorf("docs = %v", docs)
	}
	if calls != 2 {
		t.Errorf("search calls = %d, want rich attempt + exact retry", calls)
	}
	if d.richSyntax {
		t.Error("zero rich hits must disable rich syntax")
	}
}

func TestSearchDegradesSilentlyOnComplexityAndAbsence(t *testing.T) {
	for _, kind := range []engine.Kind{engine.KindTooComplex, engine.KindNotFound} {
		d, me := newTestDriver(t)

		calls := 0
		me.searchFn = func(_ context.Context, _ *engine.SearchRequest) (*engine.SearchResult, error) {
			calls++
			return nil, &engine.Error{Op: engine.OpSearch, Kind: kind, Err: errors.New("x")}
		}

		if docs := d.Search(context.Background(), "acme", "foo", "", 10); docs != nil {
			t.Errorf("kind %v: docs = %v, want nil", kind, docs)
		}
		if calls != 1 {
			t.Errorf("kind %v: search calls = %d, want no retry", kind, calls)
		}
		if !d.richSyntax {
			t.Errorf("kind %v: rich syntax must survive", kind)
		}
	}
}

func TestUpdateSettingsCreatesMissingIndex(t *testing.T) {
	d, me := newTestDriver(t)

	me.indexExistsFn = func(_ context.Context, _ string) (bool, error) { return false, nil }
	created := false
	me.createIndexFn = func(_ context.Context, name string, _ engine.Settings, _ engine.Mapping) error {
		created = name == "customer"
		return nil
	}
	me.putMappingFn = func(_ context.Context, _ string, _ engine.Mapping) error {
		t.Error("put mapping must not run for a missing index")
		return nil
	}

	if err := d.UpdateSettings(context.Background(), "customer"); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if !created {
		t.Error("missing index must be created")
	}
}

func TestUpdateSettingsRebuildsOnIncompatibleMapping(t *testing.T) {
	d, me := newTestDriver(t)

	me.putMappingFn = func(_ context.Context, _ string, _ engine.Mapping) error {
		return badRequestErr()
	}
	reindexed := false
	me.reindexFn = func(_ context.Context, source, dest string) error {
		reindexed = source == "customer" && strings.HasPrefix(dest, "customer-")
		return nil
	}

	if err := d.UpdateSettings(context.Background(), "customer"); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if !reindexed {
		t.Error("incompatible mapping must trigger a rebuild")
	}
}

func TestRebuildIndexFirstMigration(t *testing.T) {
	d, me := newTestDriver(t)

	var ops []string
	var fresh string
	me.createIndexFn = func(_ context.Context, name string, _ engine.Settings, _ engine.Mapping) error {
		fresh = name
		ops = append(ops, "create")
		return nil
	}
	me.reindexFn = func(_ context.Context, source, dest string) error {
		if source != "invoice" || dest != fresh {
			t.Errorf("reindex %s -> %s", source, dest)
		}
		ops = append(ops, "reindex")
		return nil
	}
	me.resolveAliasFn = func(_ context.Context, _ string) (string, error) {
		return "", &engine.Error{Op: engine.OpGetAlias, Kind: engine.KindNotFound, Err: errors.New("no alias")}
	}
	me.deleteIndexFn = func(_ context.Context, name string) error {
		if name != "invoice" {
			t.Errorf("deleted %q, want the bare physical index", name)
		}
		ops = append(ops, "delete")
		return nil
	}
	me.addAliasFn = func(_ context.Context, index, alias string) error {
		if index != fresh || alias != "invoice" {
			t.Errorf("alias %s -> %s", alias, index)
		}
		ops = append(ops, "alias")
		return nil
	}

	if err := d.RebuildIndex(context.Background(), "invoice"); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	want := "create reindex delete alias"
	if got := strings.Join(ops, " "); got != want {
		t.Errorf("ops = %q, want %q", got, want)
	}
	if !strings.HasPrefix(fresh, "invoice-") || fresh == "invoice" {
		t.Errorf("fresh index = %q, want generated suffix", fresh)
	}
}

func TestRebuildIndexRetiresPreviousGeneration(t *testing.T) {
	d, me := newTestDriver(t)

	var freed, deleted string
	me.resolveAliasFn = func(_ context.Context, alias string) (string, error) {
		return "invoice-old", nil
	}
	me.deleteAliasFn = func(_ context.Context, index, alias string) error {
		freed = index
		return nil
	}
	me.deleteIndexFn = func(_ context.Context, name string) error {
		deleted = name
		return nil
	}

	if err := d.RebuildIndex(context.Background(), "invoice"); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	if freed != "invoice-old" || deleted != "invoice-old" {
		t.Errorf("freed %q, deleted %q; want the previous physical index", freed, deleted)
	}
}

func TestTenantsScrollsPresenceIndex(t *testing.T) {
	d, me := newTestDriver(t)

	me.openScrollFn = func(_ context.Context, req *engine.ScrollRequest) (*engine.ScrollPage, error) {
		if req.Index != schema.TenantsIndex {
			t.Errorf("index = %q", req.Index)
		}
		return &engine.ScrollPage{ScrollID: "s1", Hits: []engine.Hit{{ID: "acme"}, {ID: "globex"}}}, nil
	}
	me.nextScrollFn = func(_ context.Context, _ string, _ time.Duration) (*engine.ScrollPage, error) {
		return &engine.ScrollPage{ScrollID: "s1"}, nil
	}

	tenants, err := d.Tenants(context.Background())
	if err != nil {
		t.Fatalf("Tenants: %v", err)
	}
	if len(tenants) != 2 || tenants[0] != "acme" || tenants[1] != "globex" {
		t.Errorf("tenants = %v", tenants)
	}
}

func TestTenantsMissingPresenceIndex(t *testing.T) {
	d, me := newTestDriver(t)

	me.openScrollFn = func(_ context.Context, _ *engine.ScrollRequest) (*engine.ScrollPage, error) {
		return nil, &engine.Error{Op: engine.OpScroll, Kind: engine.KindNotFound, Err: errors.New("no index")}
	}

	tenants, err := d.Tenants(context.Background())
	if err != nil || tenants != nil {
		t.Errorf("Tenants = %v, %v; want empty without error", tenants, err)
	}
}

func TestRemoveTenantsHitsEveryTypeAndPresence(t *testing.T) {
	d, me := newTestDriver(t)

	var hit []string
	me.deleteByQueryFn = func(_ context.Context, index string, query engine.Query) error {
		hit = append(hit, index)
		terms := query["terms"].(map[string]any)[schema.TenantField].([]string)
		if len(terms) != 2 {
			t.Errorf("terms = %v", terms)
		}
		return nil
	}

	if err := d.RemoveTenants(context.Background(), []string{"acme", "globex"}); err != nil {
		t.Fatalf("RemoveTenants: %v", err)
	}
	want := append(schema.AllTypes(), schema.TenantsIndex)
	if len(hit) != len(want) {
		t.Fatalf("hit = %v, want every type plus %s", hit, schema.TenantsIndex)
	}
	for i, idx := range want {
		if hit[i] != idx {
			t.Errorf("hit[%d] = %q, want %q", i, hit[i], idx)
		}
	}
}

func TestRemoveTenantsContinuesPastFailures(t *testing.T) {
	d, me := newTestDriver(t)

	var hit []string
	me.deleteByQueryFn = func(_ context.Context, index string, _ engine.Query) error {
		hit = append(hit, index)
		switch index {
		case schema.TypeInvoice:
			return &engine.Error{Op: engine.OpDeleteByQuery, Kind: engine.KindConflict, Err: errors.New("busy")}
		case schema.TypePayment:
			return &engine.Error{Op: engine.OpDeleteByQuery, Kind: engine.KindOther, Err: errors.New("down")}
		}
		return nil
	}

	if err := d.RemoveTenants(context.Background(), []string{"acme"}); err != nil {
		t.Fatalf("RemoveTenants: %v", err)
	}
	if len(hit) != len(schema.AllTypes())+1 {
		t.Errorf("hit = %v, a failing type must not stop the rest", hit)
	}
}

func TestRemoveTenantsEmptyIsNoop(t *testing.T) {
	d, me := newTestDriver(t)

	me.deleteByQueryFn = func(_ context.Context, _ string, _ engine.Query) error {
		t.Error("no delete must run for an empty tenant list")
		return nil
	}
	if err := d.RemoveTenants(context.Background(), nil); err != nil {
		t.Fatalf("RemoveTenants: %v", err)
	}
}

func mustUseQueryString(t *testing.T, req *engine.SearchRequest, rich bool) {
	t.Helper()
	must := req.Query["bool"].(map[string]any)["must"].([]engine.Query)
	_, hasQS := must[0]["query_string"]
	if hasQS != rich {
		t.Errorf("query_string present = %v, want %v (query %v)", hasQS, rich, must[0])
	}
}
