package engine

import (
	"context"
	"time"
)

// Engine is the full contract a search cluster driver fulfils.
//
//nolint:interfacebloat // facade by design -- consumers use narrow sub-interfaces (ISP)
type Engine interface {
	Pinger
	IndexAdmin
	AliasAdmin
	Writer
	Searcher
	Close()
}

// Pinger checks cluster connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Query is a query DSL fragment sent verbatim as JSON.
type Query map[string]any

// Settings holds the physical index settings applied at creation time.
type Settings struct {
	Shards   int
	Replicas int
}

// Mapping is a field-type mapping body for an index. A nil Mapping means the
// cluster's dynamic field inference is relied upon.
type Mapping map[string]any

// IndexAdmin provides physical index lifecycle operations.
type IndexAdmin interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	CreateIndex(ctx context.Context, name string, settings Settings, mapping Mapping) error
	PutMapping(ctx context.Context, name string, mapping Mapping) error
	DeleteIndex(ctx context.Context, name string) error
	Reindex(ctx context.Context, source, dest string) error
}

// AliasAdmin manages the alias indirection used by zero-downtime rebuilds.
type AliasAdmin interface {
	// ResolveAlias returns the physical index an alias points at. A
	// not-found-kind error means the name is not an alias.
	ResolveAlias(ctx context.Context, alias string) (string, error)
	DeleteAlias(ctx context.Context, index, alias string) error
	AddAlias(ctx context.Context, index, alias string) error
}

// BulkOp selects the action type of a single bulk line.
type BulkOp string

const (
	// BulkIndex creates or fully replaces a document.
	BulkIndex BulkOp = "index"
	// BulkUpdate applies a partial update, optionally as an upsert.
	BulkUpdate BulkOp = "update"
)

// BulkAction is one action/document pair in a bulk request.
type BulkAction struct {
	Op    BulkOp
	Index string
	ID    string
	Doc   map[string]any

	// DocAsUpsert makes a BulkUpdate insert the document when absent.
	DocAsUpsert bool
}

// Writer provides batched write and server-side delete operations.
type Writer interface {
	Bulk(ctx context.Context, actions []BulkAction) error
	DeleteByQuery(ctx context.Context, index string, query Query) error
}

// SearchRequest is a fully assembled search call.
type SearchRequest struct {
	Indices []string
	Routing string
	Size    int
	Query   Query
	// IndicesBoost biases ranking per index, e.g. {"customer": 1.5}.
	IndicesBoost []map[string]float64
	Timeout      time.Duration
}

// Hit is a single document returned by a search or scroll page.
type Hit struct {
	Index  string
	ID     string
	Score  float64
	Source map[string]any
}

// SearchResult is the outcome of a search call.
type SearchResult struct {
	Total    int64
	TimedOut bool
	Hits     []Hit
}

// ScrollRequest opens a cursor over an unbounded result set.
type ScrollRequest struct {
	Index     string
	Routing   string
	Query     Query
	Size      int
	KeepAlive time.Duration
}

// ScrollPage is one page of a scroll cursor. An empty Hits slice means the
// cursor is exhausted; ScrollID must still be cleared by the caller.
type ScrollPage struct {
	ScrollID string
	Hits     []Hit
}

// Searcher provides query and cursor operations.
type Searcher interface {
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	Count(ctx context.Context, index string, query Query) (int64, error)
	OpenScroll(ctx context.Context, req *ScrollRequest) (*ScrollPage, error)
	NextScroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*ScrollPage, error)
	ClearScroll(ctx context.Context, scrollID string) error
}
