package search

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerkit/searchd/internal/engine"
)

// mockEngine implements engine.Engine for tests.
type mockEngine struct {
	pingFn          func(ctx context.Context) error
	indexExistsFn   func(ctx context.Context, name string) (bool, error)
	createIndexFn   func(ctx context.Context, name string, settings engine.Settings, mapping engine.Mapping) error
	putMappingFn    func(ctx context.Context, name string, mapping engine.Mapping) error
	deleteIndexFn   func(ctx context.Context, name string) error
	reindexFn       func(ctx context.Context, source, dest string) error
	resolveAliasFn  func(ctx context.Context, alias string) (string, error)
	deleteAliasFn   func(ctx context.Context, index, alias string) error
	addAliasFn      func(ctx context.Context, index, alias string) error
	bulkFn          func(ctx context.Context, actions []engine.BulkAction) error
	deleteByQueryFn func(ctx context.Context, index string, query engine.Query) error
	searchFn        func(ctx context.Context, req *engine.SearchRequest) (*engine.SearchResult, error)
	countFn         func(ctx context.Context, index string, query engine.Query) (int64, error)
	openScrollFn    func(ctx context.Context, req *engine.ScrollRequest) (*engine.ScrollPage, error)
	nextScrollFn    func(ctx context.Context, scrollID string, keepAlive time.Duration) (*engine.ScrollPage, error)
	clearScrollFn   func(ctx context.Context, scrollID string) error
}

var _ engine.Engine = (*mockEngine)(nil)

func (m *mockEngine) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func (m *mockEngine) IndexExists(ctx context.Context, name string) (bool, error) {
	if m.indexExistsFn != nil {
		return m.indexExistsFn(ctx, name)
	}
	return true, nil
}

func (m *mockEngine) CreateIndex(ctx context.Context, name string, settings engine.Settings, mapping engine.Mapping) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, name, settings, mapping)
	}
	return nil
}

func (m *mockEngine) PutMapping(ctx context.Context, name string, mapping engine.Mapping) error {
	if m.putMappingFn != nil {
		return m.putMappingFn(ctx, name, mapping)
	}
	return nil
}

func (m *mockEngine) DeleteIndex(ctx context.Context, name string) error {
	if m.deleteIndexFn != nil {
		return m.deleteIndexFn(ctx, name)
	}
	return nil
}

func (m *mockEngine) Reindex(ctx context.Context, source, dest string) error {
	if m.reindexFn != nil {
		return m.reindexFn(ctx, source, dest)
	}
	return nil
}

func (m *mockEngine) ResolveAlias(ctx context.Context, alias string) (string, error) {
	if m.resolveAliasFn != nil {
		return m.resolveAliasFn(ctx, alias)
	}
	return "", &engine.Error{Op: engine.OpGetAlias, Kind: engine.KindNotFound, Err: nil}
}

func (m *mockEngine) DeleteAlias(ctx context.Context, index, alias string) error {
	if m.deleteAliasFn != nil {
		return m.deleteAliasFn(ctx, index, alias)
	}
	return nil
}

func (m *mockEngine) AddAlias(ctx context.Context, index, alias string) error {
	if m.addAliasFn != nil {
		return m.addAliasFn(ctx, index, alias)
	}
	return nil
}

func (m *mockEngine) Bulk(ctx context.Context, actions []engine.BulkAction) error {
	if m.bulkFn != nil {
		return m.bulkFn(ctx, actions)
	}
	return nil
}

func (m *mockEngine) DeleteByQuery(ctx context.Context, index string, query engine.Query) error {
	if m.deleteByQueryFn != nil {
		return m.deleteByQueryFn(ctx, index, query)
	}
	return nil
}

func (m *mockEngine) Search(ctx context.Context, req *engine.SearchRequest) (*engine.SearchResult, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, req)
	}
	return &engine.SearchResult{}, nil
}

func (m *mockEngine) Count(ctx context.Context, index string, query engine.Query) (int64, error) {
	if m.countFn != nil {
		return m.countFn(ctx, index, query)
	}
	return 0, nil
}

func (m *mockEngine) OpenScroll(ctx context.Context, req *engine.ScrollRequest) (*engine.ScrollPage, error) {
	if m.openScrollFn != nil {
		return m.openScrollFn(ctx, req)
	}
	return &engine.ScrollPage{}, nil
}

func (m *mockEngine) NextScroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*engine.ScrollPage, error) {
	if m.nextScrollFn != nil {
		return m.nextScrollFn(ctx, scrollID, keepAlive)
	}
	return &engine.ScrollPage{}, nil
}

func (m *mockEngine) ClearScroll(ctx context.Context, scrollID string) error {
	if m.clearScrollFn != nil {
		return m.clearScrollFn(ctx, scrollID)
	}
	return nil
}

func (m *mockEngine) Close() {}

// fixedRestrictor implements Restrictor with canned values.
type fixedRestrictor struct {
	ids        []string
	restricted bool
	err        error
}

func (f fixedRestrictor) AllowedCustomerIDs(context.Context, string) ([]string, bool, error) {
	return f.ids, f.restricted, f.err
}

func newTestDriver(t *testing.T) (*Driver, *mockEngine) {
	t.Helper()
	me := &mockEngine{}
	d := NewDriver(func() (engine.Engine, error) { return me, nil }, nil, nil, zap.NewNop())
	return d, me
}

func newTestIndex(t *testing.T, tenant, name string) (*TenantIndex, *mockEngine) {
	t.Helper()
	me := &mockEngine{}
	return newTenantIndex(tenant, name, me, zap.NewNop()), me
}

func mustBuild(t *testing.T, b *QueryBuilder, opts BuildOptions) *engine.SearchRequest {
	t.Helper()
	req, err := b.Build(context.Background(), opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return req
}
