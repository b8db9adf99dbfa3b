package search

import (
	"container/heap"
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerkit/searchd/internal/document"
	"github.com/ledgerkit/searchd/internal/engine"
	"github.com/ledgerkit/searchd/internal/logger"
	"github.com/ledgerkit/searchd/internal/metrics"
	"github.com/ledgerkit/searchd/internal/schema"
)

const (
	// maxSaveQueue bounds the upsert queue; reaching it forces a flush.
	maxSaveQueue = 999
	// maxDeleteQueue bounds the delete queue.
	maxDeleteQueue = 1000

	scrollPageSize  = 1000
	scrollKeepAlive = 10 * time.Second
)

// indexStore is the consumer interface a tenant index needs from the engine.
type indexStore interface {
	Bulk(ctx context.Context, actions []engine.BulkAction) error
	DeleteByQuery(ctx context.Context, index string, query engine.Query) error
	Count(ctx context.Context, index string, query engine.Query) (int64, error)
	OpenScroll(ctx context.Context, req *engine.ScrollRequest) (*engine.ScrollPage, error)
	NextScroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*engine.ScrollPage, error)
	ClearScroll(ctx context.Context, scrollID string) error
}

// TenantIndex is the tenant-and-type scoped view over a shared physical
// index. It buffers upserts and deletes and flushes them in bulk.
//
// A TenantIndex is not safe for concurrent use: one instance belongs to one
// logical unit of work. Callers needing concurrency serialize externally.
type TenantIndex struct {
	tenant string
	name   string // canonical object type / physical index name
	store  indexStore
	log    *zap.Logger
	now    func() time.Time

	saveOrder []string
	saves     map[string]map[string]any
	saveAt    map[string]time.Time

	deletes  []string
	deleteAt []time.Time
}

func newTenantIndex(tenant, name string, store indexStore, log *zap.Logger) *TenantIndex {
	return &TenantIndex{
		tenant: tenant,
		name:   schema.Normalize(name),
		store:  store,
		log:    logger.WithTenant(log, tenant).With(zap.String("index", schema.Normalize(name))),
		now:    time.Now,
		saves:  make(map[string]map[string]any),
		saveAt: make(map[string]time.Time),
	}
}

// Name returns the canonical object type this view covers.
func (ti *TenantIndex) Name() string { return ti.name }

// Tenant returns the owning tenant.
func (ti *TenantIndex) Tenant() string { return ti.tenant }

// Insert enqueues a document upsert. Insert and Update are the same
// operation: the last write for an id before a flush wins.
func (ti *TenantIndex) Insert(ctx context.Context, id string, doc map[string]any) {
	ti.upsert(ctx, id, doc)
}

// Update enqueues a document upsert, identical to Insert.
func (ti *TenantIndex) Update(ctx context.Context, id string, doc map[string]any) {
	ti.upsert(ctx, id, doc)
}

func (ti *TenantIndex) upsert(ctx context.Context, id string, doc map[string]any) {
	if _, queued := ti.saves[id]; !queued {
		ti.saveOrder = append(ti.saveOrder, id)
		ti.saveAt[id] = ti.now()
	}
	ti.saves[id] = document.IntoIndex(ti.tenant, ti.name, doc)

	if len(ti.saveOrder) >= maxSaveQueue {
		ti.FlushSave(ctx)
	}
}

// Delete enqueues a document deletion. A pending upsert for the same id is
// left in place: the save flush and delete flush run independently, so the
// document may surface briefly between the two.
func (ti *TenantIndex) Delete(ctx context.Context, id string) {
	ti.deletes = append(ti.deletes, id)
	ti.deleteAt = append(ti.deleteAt, ti.now())

	if len(ti.deletes) >= maxDeleteQueue {
		ti.FlushDelete(ctx)
	}
}

// FlushSave sends the queued upserts as one bulk request, plus the tenant
// presence upsert that refreshes liveness on every save flush. The queue is
// cleared whether or not the request succeeded; failed writes are logged and
// counted, never retried or raised.
func (ti *TenantIndex) FlushSave(ctx context.Context) {
	if len(ti.saveOrder) == 0 {
		return
	}

	actions := make([]engine.BulkAction, 0, len(ti.saveOrder)+1)
	for _, id := range ti.saveOrder {
		actions = append(actions, engine.BulkAction{
			Op:    engine.BulkIndex,
			Index: ti.name,
			ID:    id,
			Doc:   ti.saves[id],
		})
	}
	actions = append(actions, engine.BulkAction{
		Op:          engine.BulkUpdate,
		Index:       schema.TenantsIndex,
		ID:          ti.tenant,
		DocAsUpsert: true,
		Doc: map[string]any{
			schema.TenantField: ti.tenant,
			"last_indexed":     ti.now().Unix(),
		},
	})

	err := ti.store.Bulk(ctx, actions)

	flushedAt := ti.now()
	for _, id := range ti.saveOrder {
		metrics.FlushItemLatency.WithLabelValues(ti.name, "save").
			Observe(flushedAt.Sub(ti.saveAt[id]).Seconds())
	}
	metrics.FlushBatchSize.WithLabelValues(ti.name, "save").Observe(float64(len(ti.saveOrder)))

	switch {
	case err == nil:
	case engine.IsConflict(err):
		// A concurrent delete raced the write. Benign.
		metrics.EngineErrors.WithLabelValues(engine.OpBulk, metrics.KindLabel(engine.KindConflict)).Inc()
	default:
		metrics.EngineErrors.WithLabelValues(engine.OpBulk, metrics.KindLabel(engine.KindOf(err))).Inc()
		ti.log.Error("bulk save flush failed, batch dropped",
			zap.Int("batch_size", len(ti.saveOrder)), zap.Error(err))
	}

	ti.saveOrder = nil
	ti.saves = make(map[string]map[string]any)
	ti.saveAt = make(map[string]time.Time)
}

// FlushDelete removes the queued ids by query. Deleting customers cascades
// over every dependent type: the cluster enforces no foreign keys, so the
// fan-out a relational database would do is reproduced here.
func (ti *TenantIndex) FlushDelete(ctx context.Context) {
	if len(ti.deletes) == 0 {
		return
	}

	query := engine.Query{"bool": map[string]any{
		"filter": []engine.Query{
			{"term": map[string]any{schema.TenantField: ti.tenant}},
			{"ids": map[string]any{"values": ti.deletes}},
		},
	}}
	ti.reportDelete(ti.store.DeleteByQuery(ctx, ti.name, query))

	if ti.name == schema.TypeCustomer {
		cascade := engine.Query{"bool": map[string]any{
			"filter": []engine.Query{
				{"term": map[string]any{schema.TenantField: ti.tenant}},
				{"terms": map[string]any{schema.CustomerField: ti.deletes}},
			},
		}}
		ti.reportDelete(ti.store.DeleteByQuery(ctx, strings.Join(schema.DependentTypes(), ","), cascade))
	}

	flushedAt := ti.now()
	for _, at := range ti.deleteAt {
		metrics.FlushItemLatency.WithLabelValues(ti.name, "delete").
			Observe(flushedAt.Sub(at).Seconds())
	}
	metrics.FlushBatchSize.WithLabelValues(ti.name, "delete").Observe(float64(len(ti.deletes)))

	ti.deletes = nil
	ti.deleteAt = nil
}

func (ti *TenantIndex) reportDelete(err error) {
	switch {
	case err == nil:
	case engine.IsConflict(err):
		metrics.EngineErrors.WithLabelValues(engine.OpDeleteByQuery, metrics.KindLabel(engine.KindConflict)).Inc()
	case engine.IsNotFound(err):
		// A target index was never provisioned. Nothing to delete.
	default:
		metrics.EngineErrors.WithLabelValues(engine.OpDeleteByQuery, metrics.KindLabel(engine.KindOf(err))).Inc()
		ti.log.Error("delete flush failed", zap.Int("batch_size", len(ti.deletes)), zap.Error(err))
	}
}

// Close flushes both queues. Every acquisition path must pair with Close so
// buffered writes cannot be dropped; flushing empty queues is a no-op, so
// double-flush via threshold plus Close is safe.
func (ti *TenantIndex) Close(ctx context.Context) {
	ti.FlushSave(ctx)
	ti.FlushDelete(ctx)
}

// IDs returns every document id belonging to the tenant in this index, in
// ascending order. Pages arrive unsorted from the cluster; ids accumulate in
// a min-heap and materialize sorted, so the cluster never pays for a
// server-side sort.
func (ti *TenantIndex) IDs(ctx context.Context) ([]string, error) {
	page, err := ti.store.OpenScroll(ctx, &engine.ScrollRequest{
		Index:     ti.name,
		Routing:   ti.tenant,
		Query:     engine.Query{"term": map[string]any{schema.TenantField: ti.tenant}},
		Size:      scrollPageSize,
		KeepAlive: scrollKeepAlive,
	})
	if err != nil {
		return nil, err
	}

	scrollID := page.ScrollID
	defer func() {
		if scrollID == "" {
			return
		}
		if err := ti.store.ClearScroll(ctx, scrollID); err != nil {
			ti.log.Warn("clear scroll failed", zap.Error(err))
		}
	}()

	h := &idHeap{}
	heap.Init(h)
	for len(page.Hits) > 0 {
		for _, hit := range page.Hits {
			heap.Push(h, hit.ID)
		}
		page, err = ti.store.NextScroll(ctx, scrollID, scrollKeepAlive)
		if err != nil {
			return nil, err
		}
		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
	}

	ids := make([]string, 0, h.Len())
	for h.Len() > 0 {
		ids = append(ids, heap.Pop(h).(string))
	}
	return ids, nil
}

// Exists reports whether the tenant has at least one document here. The
// physical index is shared, so presence is a query, not a flag.
func (ti *TenantIndex) Exists(ctx context.Context) (bool, error) {
	n, err := ti.store.Count(ctx, ti.name,
		engine.Query{"term": map[string]any{schema.TenantField: ti.tenant}})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteAll removes every document of this tenant from the logical index.
// The physical index always survives: other tenants share it.
func (ti *TenantIndex) DeleteAll(ctx context.Context) error {
	err := ti.store.DeleteByQuery(ctx, ti.name,
		engine.Query{"term": map[string]any{schema.TenantField: ti.tenant}})
	if err != nil && (engine.IsConflict(err) || engine.IsNotFound(err)) {
		return nil
	}
	return err
}

// Rename is unsupported: a logical index has no own identity inside the
// shared physical index. Calling it is a caller-side logic defect.
func (ti *TenantIndex) Rename(string) {
	panic("search: tenant index rename is not supported")
}

// idHeap is a binary min-heap over document ids.
type idHeap []string

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
