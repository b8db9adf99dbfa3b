package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerkit/searchd/internal/document"
	"github.com/ledgerkit/searchd/internal/engine"
	"github.com/ledgerkit/searchd/internal/metrics"
	"github.com/ledgerkit/searchd/internal/schema"
)

// Driver owns the cluster connection and the index lifecycle. One driver
// instance shares one lazily constructed engine client.
//
// The rich-syntax flag is unsynchronized instance state: concurrent searches
// may race on the downgrade, which at worst repeats one fallback. The flag
// only moves from rich to exact, never back.
type Driver struct {
	dial    func() (engine.Engine, error)
	once    sync.Once
	eng     engine.Engine
	dialErr error

	builder *QueryBuilder
	log     *zap.Logger

	richSyntax bool
}

// NewDriver creates a driver. dial runs at most once, on first use; types
// and restrict may be nil for the static full-type, unrestricted defaults.
func NewDriver(dial func() (engine.Engine, error), types TypeRegistry, restrict Restrictor, log *zap.Logger) *Driver {
	return &Driver{
		dial:       dial,
		builder:    NewQueryBuilder(types, restrict),
		log:        log,
		richSyntax: true,
	}
}

// engine returns the shared client, constructing it on first call.
func (d *Driver) engine() (engine.Engine, error) {
	d.once.Do(func() {
		d.eng, d.dialErr = d.dial()
	})
	return d.eng, d.dialErr
}

// Close releases the engine client if one was ever constructed.
func (d *Driver) Close() {
	d.once.Do(func() {
		d.dialErr = errors.New("search: driver closed")
	})
	if d.eng != nil {
		d.eng.Close()
	}
}

// Ping checks cluster connectivity.
func (d *Driver) Ping(ctx context.Context) error {
	eng, err := d.engine()
	if err != nil {
		return err
	}
	return eng.Ping(ctx)
}

// Index returns the tenant view for an object type, provisioning the backing
// physical index when missing. Provisioning failures are logged, never
// raised: the caller gets a usable handle either way, because a search
// outage must not block the surrounding application transaction.
func (d *Driver) Index(ctx context.Context, tenant, objectType string) *TenantIndex {
	name := schema.Normalize(objectType)

	eng, err := d.engine()
	if err != nil {
		d.log.Error("engine unavailable, returning unbacked index handle",
			zap.String("index", name), zap.Error(err))
		return newTenantIndex(tenant, name, unavailableStore{err: err}, d.log)
	}

	if err := d.ensureIndex(ctx, eng, name); err != nil {
		d.log.Error("index provisioning failed",
			zap.String("index", name), zap.Error(err))
	}
	return newTenantIndex(tenant, name, eng, d.log)
}

// ensureIndex creates the physical index if it does not exist yet.
func (d *Driver) ensureIndex(ctx context.Context, eng engine.Engine, name string) error {
	exists, err := eng.IndexExists(ctx, name)
	if err != nil || exists {
		return err
	}
	mapping, _ := schema.MappingFor(name)
	return eng.CreateIndex(ctx, name, schema.SettingsFor(name), mapping)
}

// Search runs a free-text search and returns ranked documents. Failures
// degrade to an empty result, never an error: the platform stays usable when
// the cluster is down or a query cannot be parsed.
//
// Fallback policy: a bad-request response or an empty rich-syntax result
// disables rich syntax for this driver instance and retries exactly once in
// exact-match mode. The downgrade is sticky for the instance's lifetime.
func (d *Driver) Search(ctx context.Context, tenant, text, objectType string, limit int) []map[string]any {
	eng, err := d.engine()
	if err != nil {
		d.log.Error("engine unavailable for search", zap.Error(err))
		return nil
	}

	rich := d.richSyntax
	res, err := d.runSearch(ctx, eng, tenant, text, objectType, limit, rich)
	if err != nil {
		switch {
		case engine.IsBadRequest(err) && rich:
			// The engine rejected user text as malformed syntax once;
			// assume it will again and stop offering rich syntax.
			d.richSyntax = false
			metrics.SearchFallbacks.WithLabelValues("bad_request").Inc()
			res, err = d.runSearch(ctx, eng, tenant, text, objectType, limit, false)
			if err != nil {
				d.logSearchError(err)
				return nil
			}
		default:
			d.logSearchError(err)
			return nil
		}
	}

	if len(res.Hits) == 0 && rich && d.richSyntax {
		// Zero hits on rich syntax usually means the literal text was
		// mis-parsed as operators. Retry once in exact mode.
		d.richSyntax = false
		metrics.SearchFallbacks.WithLabelValues("zero_hits").Inc()
		retry, err := d.runSearch(ctx, eng, tenant, text, objectType, limit, false)
		if err != nil {
			d.logSearchError(err)
			return nil
		}
		res = retry
	}

	docs := make([]map[string]any, 0, len(res.Hits))
	for _, hit := range res.Hits {
		docs = append(docs, document.FromIndex(hit))
	}
	return docs
}

func (d *Driver) runSearch(ctx context.Context, eng engine.Engine, tenant, text, objectType string, limit int, rich bool) (*engine.SearchResult, error) {
	req, err := d.builder.Build(ctx, BuildOptions{
		Tenant:     tenant,
		Text:       text,
		Index:      objectType,
		Limit:      limit,
		RichSyntax: rich,
	})
	if err != nil {
		return nil, err
	}

	label := "exact"
	if rich {
		label = "rich"
	}
	start := time.Now()
	res, err := eng.Search(ctx, req)
	metrics.SearchDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		metrics.SearchTimeouts.Inc()
	}
	return res, nil
}

// logSearchError applies the degrade-to-empty policy: complexity and absence
// are quiet non-results, everything else is logged for operators.
func (d *Driver) logSearchError(err error) {
	kind := engine.KindOf(err)
	metrics.EngineErrors.WithLabelValues(engine.OpSearch, metrics.KindLabel(kind)).Inc()
	switch kind {
	case engine.KindNotFound, engine.KindTooComplex:
		d.log.Debug("search returned no results", zap.Error(err))
	default:
		d.log.Error("search failed, returning empty results", zap.Error(err))
	}
}

// UpdateSettings brings a physical index to the current mapping. A missing
// index is created fresh; an incompatible in-place mapping update falls back
// to a full rebuild behind an alias.
func (d *Driver) UpdateSettings(ctx context.Context, name string) error {
	eng, err := d.engine()
	if err != nil {
		return err
	}

	exists, err := eng.IndexExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check index %s: %w", name, err)
	}

	mapping, hasMapping := schema.MappingFor(name)
	if !exists {
		return eng.CreateIndex(ctx, name, schema.SettingsFor(name), mapping)
	}
	if !hasMapping {
		return nil
	}

	if err := eng.PutMapping(ctx, name, mapping); err != nil {
		if engine.IsBadRequest(err) {
			// Field-type changes cannot apply in place.
			d.log.Info("incompatible mapping change, rebuilding index",
				zap.String("index", name), zap.Error(err))
			return d.RebuildIndex(ctx, name)
		}
		return fmt.Errorf("put mapping %s: %w", name, err)
	}
	return nil
}

// RebuildIndex migrates an index to the current mapping by copying into a
// fresh physical index and swapping the canonical name onto it as an alias.
//
// The sequence is not atomic: between deleting the old physical index and
// adding the alias, the canonical name resolves to nothing. Searches in that
// window come back empty.
func (d *Driver) RebuildIndex(ctx context.Context, name string) error {
	eng, err := d.engine()
	if err != nil {
		return err
	}

	fresh := fmt.Sprintf("%s-%s", schema.Normalize(name), uuid.NewString())
	mapping, _ := schema.MappingFor(name)
	if err := eng.CreateIndex(ctx, fresh, schema.SettingsFor(name), mapping); err != nil {
		return fmt.Errorf("create rebuild index %s: %w", fresh, err)
	}

	if err := eng.Reindex(ctx, name, fresh); err != nil {
		return fmt.Errorf("reindex %s into %s: %w", name, fresh, err)
	}

	// Whatever answers to the canonical name now is the previous
	// generation: an alias from an earlier rebuild, or the original bare
	// physical index on the first migration.
	old := name
	if physical, err := eng.ResolveAlias(ctx, name); err == nil {
		if err := eng.DeleteAlias(ctx, physical, name); err != nil {
			return fmt.Errorf("delete alias %s: %w", name, err)
		}
		old = physical
	} else if !engine.IsNotFound(err) {
		return fmt.Errorf("resolve alias %s: %w", name, err)
	}

	if err := eng.DeleteIndex(ctx, old); err != nil {
		return fmt.Errorf("delete old index %s: %w", old, err)
	}

	if err := eng.AddAlias(ctx, fresh, name); err != nil {
		return fmt.Errorf("alias %s onto %s: %w", name, fresh, err)
	}

	d.log.Info("index rebuilt", zap.String("index", name), zap.String("physical", fresh))
	return nil
}

// Tenants enumerates every tenant with any search representation, by
// scrolling the presence index.
func (d *Driver) Tenants(ctx context.Context) ([]string, error) {
	eng, err := d.engine()
	if err != nil {
		return nil, err
	}

	page, err := eng.OpenScroll(ctx, &engine.ScrollRequest{
		Index:     schema.TenantsIndex,
		Query:     engine.Query{"match_all": map[string]any{}},
		Size:      scrollPageSize,
		KeepAlive: scrollKeepAlive,
	})
	if err != nil {
		if engine.IsNotFound(err) {
			// No presence index means no tenant ever flushed a write.
			return nil, nil
		}
		return nil, err
	}

	scrollID := page.ScrollID
	defer func() {
		if scrollID == "" {
			return
		}
		if err := eng.ClearScroll(ctx, scrollID); err != nil {
			d.log.Warn("clear scroll failed", zap.Error(err))
		}
	}()

	var tenants []string
	for len(page.Hits) > 0 {
		for _, hit := range page.Hits {
			tenants = append(tenants, hit.ID)
		}
		page, err = eng.NextScroll(ctx, scrollID, scrollKeepAlive)
		if err != nil {
			return nil, err
		}
		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
	}
	return tenants, nil
}

// RemoveTenants evicts the given tenants from every object type and from the
// presence index. A failure on one type never stops the others: partial
// eviction now beats full eviction never.
func (d *Driver) RemoveTenants(ctx context.Context, tenants []string) error {
	if len(tenants) == 0 {
		return nil
	}
	eng, err := d.engine()
	if err != nil {
		return err
	}

	query := engine.Query{"terms": map[string]any{schema.TenantField: tenants}}
	targets := append(schema.AllTypes(), schema.TenantsIndex)
	for _, typ := range targets {
		err := eng.DeleteByQuery(ctx, typ, query)
		switch {
		case err == nil:
		case engine.IsConflict(err):
			metrics.EngineErrors.WithLabelValues(engine.OpDeleteByQuery,
				metrics.KindLabel(engine.KindConflict)).Inc()
		case engine.IsNotFound(err):
			// Type never got an index. Nothing to evict.
		default:
			metrics.EngineErrors.WithLabelValues(engine.OpDeleteByQuery,
				metrics.KindLabel(engine.KindOf(err))).Inc()
			d.log.Error("tenant eviction failed for type",
				zap.String("index", typ), zap.Error(err))
		}
	}

	metrics.TenantsEvicted.Add(float64(len(tenants)))
	return nil
}

// unavailableStore backs index handles handed out while the engine client
// cannot be constructed. Every operation fails with the dial error, which
// the flush paths swallow and log.
type unavailableStore struct{ err error }

func (u unavailableStore) Bulk(context.Context, []engine.BulkAction) error { return u.wrap() }
func (u unavailableStore) DeleteByQuery(context.Context, string, engine.Query) error {
	return u.wrap()
}
func (u unavailableStore) Count(context.Context, string, engine.Query) (int64, error) {
	return 0, u.wrap()
}
func (u unavailableStore) OpenScroll(context.Context, *engine.ScrollRequest) (*engine.ScrollPage, error) {
	return nil, u.wrap()
}
func (u unavailableStore) NextScroll(context.Context, string, time.Duration) (*engine.ScrollPage, error) {
	return nil, u.wrap()
}
func (u unavailableStore) ClearScroll(context.Context, string) error { return u.wrap() }

func (u unavailableStore) wrap() error {
	return &engine.Error{Op: engine.OpPing, Kind: engine.KindOther, Err: u.err}
}
