package elastic

import (
	"context"
	"encoding/json"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/ledgerkit/searchd/internal/engine"
)

// searchResponse covers the subset of the search/scroll envelope we consume.
type searchResponse struct {
	TimedOut bool   `json:"timed_out"`
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Index  string         `json:"_index"`
			ID     string         `json:"_id"`
			Score  *float64       `json:"_score"`
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (r *searchResponse) hits() []engine.Hit {
	out := make([]engine.Hit, 0, len(r.Hits.Hits))
	for _, h := range r.Hits.Hits {
		hit := engine.Hit{Index: h.Index, ID: h.ID, Source: h.Source}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		out = append(out, hit)
	}
	return out
}

// Search executes an assembled search request.
func (c *Client) Search(ctx context.Context, req *engine.SearchRequest) (*engine.SearchResult, error) {
	body := map[string]any{"query": map[string]any(req.Query)}
	if len(req.IndicesBoost) > 0 {
		body["indices_boost"] = req.IndicesBoost
	}
	buf, err := encodeBody(body)
	if err != nil {
		return nil, &engine.Error{Op: engine.OpSearch, Kind: engine.KindOther, Err: err}
	}

	opts := []func(*esapi.SearchRequest){
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(req.Indices...),
		c.es.Search.WithBody(buf),
	}
	if req.Size > 0 {
		opts = append(opts, c.es.Search.WithSize(req.Size))
	}
	if req.Routing != "" {
		opts = append(opts, c.es.Search.WithRouting(req.Routing))
	}
	if req.Timeout > 0 {
		opts = append(opts, c.es.Search.WithTimeout(req.Timeout))
	}

	res, err := c.es.Search(opts...)
	if err != nil {
		return nil, &engine.Error{Op: engine.OpSearch, Kind: engine.KindOther, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, decodeError(engine.OpSearch, res)
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, &engine.Error{Op: engine.OpSearch, Kind: engine.KindOther, Err: err}
	}
	return &engine.SearchResult{
		Total:    sr.Hits.Total.Value,
		TimedOut: sr.TimedOut,
		Hits:     sr.hits(),
	}, nil
}

// Count returns the number of documents matching query in index.
func (c *Client) Count(ctx context.Context, index string, query engine.Query) (int64, error) {
	buf, err := encodeBody(map[string]any{"query": map[string]any(query)})
	if err != nil {
		return 0, &engine.Error{Op: engine.OpCount, Kind: engine.KindOther, Err: err}
	}

	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(index),
		c.es.Count.WithBody(buf),
	)
	if err != nil {
		return 0, &engine.Error{Op: engine.OpCount, Kind: engine.KindOther, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, decodeError(engine.OpCount, res)
	}

	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, &engine.Error{Op: engine.OpCount, Kind: engine.KindOther, Err: err}
	}
	return out.Count, nil
}

// OpenScroll starts a cursor over the matching documents. Results are
// intentionally unscored and in index order; sorting is the caller's concern.
func (c *Client) OpenScroll(ctx context.Context, req *engine.ScrollRequest) (*engine.ScrollPage, error) {
	body := map[string]any{
		"query": map[string]any(req.Query),
		"sort":  []string{"_doc"},
	}
	buf, err := encodeBody(body)
	if err != nil {
		return nil, &engine.Error{Op: engine.OpScroll, Kind: engine.KindOther, Err: err}
	}

	opts := []func(*esapi.SearchRequest){
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(req.Index),
		c.es.Search.WithBody(buf),
		c.es.Search.WithScroll(req.KeepAlive),
	}
	if req.Size > 0 {
		opts = append(opts, c.es.Search.WithSize(req.Size))
	}
	if req.Routing != "" {
		opts = append(opts, c.es.Search.WithRouting(req.Routing))
	}

	res, err := c.es.Search(opts...)
	if err != nil {
		return nil, &engine.Error{Op: engine.OpScroll, Kind: engine.KindOther, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, decodeError(engine.OpScroll, res)
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, &engine.Error{Op: engine.OpScroll, Kind: engine.KindOther, Err: err}
	}
	return &engine.ScrollPage{ScrollID: sr.ScrollID, Hits: sr.hits()}, nil
}

// NextScroll fetches the next page for an open cursor.
func (c *Client) NextScroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*engine.ScrollPage, error) {
	res, err := c.es.Scroll(
		c.es.Scroll.WithContext(ctx),
		c.es.Scroll.WithScrollID(scrollID),
		c.es.Scroll.WithScroll(keepAlive),
	)
	if err != nil {
		return nil, &engine.Error{Op: engine.OpScroll, Kind: engine.KindOther, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, decodeError(engine.OpScroll, res)
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, &engine.Error{Op: engine.OpScroll, Kind: engine.KindOther, Err: err}
	}
	return &engine.ScrollPage{ScrollID: sr.ScrollID, Hits: sr.hits()}, nil
}

// ClearScroll releases the server-side cursor state.
func (c *Client) ClearScroll(ctx context.Context, scrollID string) error {
	res, err := c.es.ClearScroll(
		c.es.ClearScroll.WithContext(ctx),
		c.es.ClearScroll.WithScrollID(scrollID),
	)
	if err != nil {
		return &engine.Error{Op: engine.OpClearScroll, Kind: engine.KindOther, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return decodeError(engine.OpClearScroll, res)
	}
	return nil
}
