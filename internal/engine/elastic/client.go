// Package elastic implements engine.Engine against an Elasticsearch-compatible
// cluster over HTTP/JSON.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"

	"github.com/ledgerkit/searchd/internal/engine"
)

// Compile-time check: Client implements engine.Engine.
var _ engine.Engine = (*Client)(nil)

// Config holds connection parameters for the cluster.
type Config struct {
	Addresses []string
	Username  string
	Password  string
}

// Client implements engine.Engine via the official low-level HTTP client.
type Client struct {
	es *elasticsearch.Client
}

// NewClient creates a cluster client.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("addresses is required")
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Client{es: es}, nil
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return &engine.Error{Op: engine.OpPing, Kind: engine.KindOther, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return decodeError(engine.OpPing, res)
	}
	return nil
}

// Close releases client resources. The HTTP transport holds no state
// beyond idle connections.
func (c *Client) Close() {}

// IndexExists reports whether a physical index (or alias) answers to name.
func (c *Client) IndexExists(ctx context.Context, name string) (bool, error) {
	res, err := c.es.Indices.Exists([]string{name}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, &engine.Error{Op: engine.OpIndexExists, Kind: engine.KindOther, Err: err}
	}
	defer res.Body.Close()
	switch {
	case res.StatusCode == 404:
		return false, nil
	case res.IsError():
		return false, decodeError(engine.OpIndexExists, res)
	}
	return true, nil
}

// CreateIndex creates a physical index with the given settings and mapping.
// A nil mapping leaves field types to the cluster's dynamic inference.
func (c *Client) CreateIndex(ctx context.Context, name string, settings engine.Settings, mapping engine.Mapping) error {
	body := map[string]any{
		"settings": map[string]any{
			"number_of_shards":   settings.Shards,
			"number_of_replicas": settings.Replicas,
		},
	}
	if mapping != nil {
		body["mappings"] = map[string]any(mapping)
	}

	buf, err := encodeBody(body)
	if err != nil {
		return &engine.Error{Op: engine.OpCreateIndex, Kind: engine.KindOther, Err: err}
	}

	res, err := c.es.Indices.Create(name,
		c.es.Indices.Create.WithBody(buf),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return &engine.Error{Op: engine.OpCreateIndex, Kind: engine.KindOther, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return decodeError(engine.OpCreateIndex, res)
	}
	return nil
}

// PutMapping applies a mapping update in place. Incompatible field-type
// changes come back as a bad-request-kind error.
func (c *Client) PutMapping(ctx context.Context, name string, mapping engine.Mapping) error {
	buf, err := encodeBody(map[string]any(mapping))
	if err != nil {
		return &engine.Error{Op: engine.OpPutMapping, Kind: engine.KindOther, Err: err}
	}

	res, err := c.es.Indices.PutMapping([]string{name}, buf,
		c.es.Indices.PutMapping.WithContext(ctx),
	)
	if err != nil {
		return &engine.Error{Op: engine.OpPutMapping, Kind: engine.KindOther, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return decodeError(engine.OpPutMapping, res)
	}
	return nil
}

// DeleteIndex removes a physical index.
func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	res, err := c.es.Indices.Delete([]string{name}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return &engine.Error{Op: engine.OpDeleteIndex, Kind: engine.KindOther, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return decodeError(engine.OpDeleteIndex, res)
	}
	return nil
}

// Reindex copies every document from source into dest server-side and waits
// for completion.
func (c *Client) Reindex(ctx context.Context, source, dest string) error {
	buf, err := encodeBody(map[string]any{
		"source": map[string]any{"index": source},
		"dest":   map[string]any{"index": dest},
	})
	if err != nil {
		return &engine.Error{Op: engine.OpReindex, Kind: engine.KindOther, Err: err}
	}

	res, err := c.es.Reindex(buf,
		c.es.Reindex.WithContext(ctx),
		c.es.Reindex.WithWaitForCompletion(true),
	)
	if err != nil {
		return &engine.Error{Op: engine.OpReindex, Kind: engine.KindOther, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return decodeError(engine.OpReindex, res)
	}
	return nil
}

// ResolveAlias returns the physical index behind an alias. A name that is not
// an alias yields a not-found-kind error.
func (c *Client) ResolveAlias(ctx context.Context, alias string) (string, error) {
	res, err := c.es.Indices.GetAlias(
		c.es.Indices.GetAlias.WithName(alias),
		c.es.Indices.GetAlias.WithContext(ctx),
	)
	if err != nil {
		return "", &engine.Error{Op: engine.OpGetAlias, Kind: engine.KindOther, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return "", decodeError(engine.OpGetAlias, res)
	}

	// Body shape: {"<physical>": {"aliases": {"<alias>": {}}}}
	var payload map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", &engine.Error{Op: engine.OpGetAlias, Kind: engine.KindOther, Err: err}
	}
	for physical := range payload {
		return physical, nil
	}
	return "", &engine.Error{
		Op: engine.OpGetAlias, Kind: engine.KindNotFound,
		Err: fmt.Errorf("no index behind alias %q", alias),
	}
}

// DeleteAlias removes the alias pointer without touching the index behind it.
func (c *Client) DeleteAlias(ctx context.Context, index, alias string) error {
	res, err := c.es.Indices.DeleteAlias([]string{index}, []string{alias},
		c.es.Indices.DeleteAlias.WithContext(ctx),
	)
	if err != nil {
		return &engine.Error{Op: engine.OpDeleteAlias, Kind: engine.KindOther, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return decodeError(engine.OpDeleteAlias, res)
	}
	return nil
}

// AddAlias binds alias to a physical index.
func (c *Client) AddAlias(ctx context.Context, index, alias string) error {
	res, err := c.es.Indices.PutAlias([]string{index}, alias,
		c.es.Indices.PutAlias.WithContext(ctx),
	)
	if err != nil {
		return &engine.Error{Op: engine.OpAddAlias, Kind: engine.KindOther, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return decodeError(engine.OpAddAlias, res)
	}
	return nil
}

func encodeBody(v any) (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return buf, nil
}
