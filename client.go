// Package searchd is the embedded entry point for the search layer: the
// surrounding application links it directly and gets the same driver the
// standalone server runs.
package searchd

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ledgerkit/searchd/internal/engine"
	"github.com/ledgerkit/searchd/internal/engine/elastic"
	"github.com/ledgerkit/searchd/internal/search"
)

// Client is the searchd library entry point.
type Client struct {
	driver *search.Driver
}

// New creates a Client. The cluster connection is dialed lazily on first
// use, so New never fails on an unreachable cluster.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{logger: zap.NewNop()}
	for _, o := range opts {
		o(cfg)
	}

	if len(cfg.addresses) == 0 {
		return nil, errors.New("searchd: cluster address required (use WithAddresses)")
	}

	ecfg := elastic.Config{
		Addresses: cfg.addresses,
		Username:  cfg.username,
		Password:  cfg.password,
	}
	driver := search.NewDriver(func() (engine.Engine, error) {
		c, err := elastic.NewClient(ecfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	}, cfg.types, cfg.restrict, cfg.logger)

	return &Client{driver: driver}, nil
}

// Close releases the cluster connection.
func (c *Client) Close() {
	c.driver.Close()
}

// Ping checks cluster connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.driver.Ping(ctx)
}

// Index returns the tenant-scoped write view for an object type. Documents
// queue in memory and flush in batches; call Close on the returned index
// when the surrounding unit of work commits.
func (c *Client) Index(ctx context.Context, tenant, objectType string) *search.TenantIndex {
	return c.driver.Index(ctx, tenant, objectType)
}

// SearchOptions configures a search query.
type SearchOptions struct {
	// Type restricts the search to one object type. Empty searches all.
	Type string
	// Limit caps the result count. Zero lets the cluster default apply.
	Limit int
}

// Search runs a free-text search for a tenant. Failures degrade to an empty
// result set.
func (c *Client) Search(ctx context.Context, tenant, query string, opts *SearchOptions) []map[string]any {
	if opts == nil {
		opts = &SearchOptions{}
	}
	return c.driver.Search(ctx, tenant, query, opts.Type, opts.Limit)
}

// UpdateSettings brings an index to the current mapping, rebuilding it when
// the change cannot apply in place.
func (c *Client) UpdateSettings(ctx context.Context, objectType string) error {
	return c.driver.UpdateSettings(ctx, objectType)
}

// RebuildIndex forces a full rebuild of an index behind an alias swap.
func (c *Client) RebuildIndex(ctx context.Context, objectType string) error {
	return c.driver.RebuildIndex(ctx, objectType)
}

// Tenants lists every tenant with indexed data.
func (c *Client) Tenants(ctx context.Context) ([]string, error) {
	return c.driver.Tenants(ctx)
}

// RemoveTenants evicts the given tenants from every index.
func (c *Client) RemoveTenants(ctx context.Context, tenants []string) error {
	return c.driver.RemoveTenants(ctx, tenants)
}
