package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ledgerkit/searchd/internal/engine"
)

// Bulk sends actions as one newline-delimited request. Item failures are
// folded into a single error: a batch whose only failures are version
// conflicts comes back conflict-kind so callers can treat it as benign.
func (c *Client) Bulk(ctx context.Context, actions []engine.BulkAction) error {
	if len(actions) == 0 {
		return nil
	}

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	for _, a := range actions {
		meta := map[string]any{
			string(a.Op): map[string]any{"_index": a.Index, "_id": a.ID},
		}
		if err := enc.Encode(meta); err != nil {
			return &engine.Error{Op: engine.OpBulk, Kind: engine.KindOther, Err: err}
		}

		var line any
		switch a.Op {
		case engine.BulkUpdate:
			line = map[string]any{"doc": a.Doc, "doc_as_upsert": a.DocAsUpsert}
		default:
			line = a.Doc
		}
		if err := enc.Encode(line); err != nil {
			return &engine.Error{Op: engine.OpBulk, Kind: engine.KindOther, Err: err}
		}
	}

	res, err := c.es.Bulk(buf, c.es.Bulk.WithContext(ctx))
	if err != nil {
		return &engine.Error{Op: engine.OpBulk, Kind: engine.KindOther, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return decodeError(engine.OpBulk, res)
	}

	var out bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return &engine.Error{Op: engine.OpBulk, Kind: engine.KindOther, Err: err}
	}
	return out.itemError()
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// itemError reduces per-item failures to one engine.Error. Non-conflict
// failures win over conflicts when both are present.
func (r *bulkResponse) itemError() error {
	if !r.Errors {
		return nil
	}

	failed := 0
	conflicts := 0
	var sample string
	for _, item := range r.Items {
		for _, st := range item {
			if st.Error == nil {
				continue
			}
			failed++
			if st.Error.Type == "version_conflict_engine_exception" {
				conflicts++
				continue
			}
			if sample == "" {
				sample = st.Error.Type + ": " + st.Error.Reason
			}
		}
	}
	if failed == 0 {
		return nil
	}
	if conflicts == failed {
		return &engine.Error{
			Op: engine.OpBulk, Kind: engine.KindConflict,
			Err: fmt.Errorf("%d version conflicts in batch", conflicts),
		}
	}
	return &engine.Error{
		Op: engine.OpBulk, Kind: engine.KindOther,
		Err: fmt.Errorf("%d of %d items failed, first: %s", failed, len(r.Items), sample),
	}
}

// DeleteByQuery removes every document in index matching query server-side.
func (c *Client) DeleteByQuery(ctx context.Context, index string, query engine.Query) error {
	buf, err := encodeBody(map[string]any{"query": map[string]any(query)})
	if err != nil {
		return &engine.Error{Op: engine.OpDeleteByQuery, Kind: engine.KindOther, Err: err}
	}

	res, err := c.es.DeleteByQuery([]string{index}, buf,
		c.es.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return &engine.Error{Op: engine.OpDeleteByQuery, Kind: engine.KindOther, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return decodeError(engine.OpDeleteByQuery, res)
	}
	return nil
}
