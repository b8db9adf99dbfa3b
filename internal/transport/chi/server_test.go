package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	chirouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// mockSearcher implements Searcher for tests.
type mockSearcher struct {
	searchFn func(ctx context.Context, tenant, text, objectType string, limit int) []map[string]any
	pingFn   func(ctx context.Context) error
}

func (m *mockSearcher) Search(ctx context.Context, tenant, text, objectType string, limit int) []map[string]any {
	if m.searchFn != nil {
		return m.searchFn(ctx, tenant, text, objectType, limit)
	}
	return nil
}

func (m *mockSearcher) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func newTestServer(t *testing.T) (*mockSearcher, http.Handler) {
	t.Helper()
	ms := &mockSearcher{}
	s := NewServer(ms, zap.NewNop())
	r := chirouter.NewRouter()
	s.Routes(r)
	return ms, r
}

func TestSearch_RequiresTenantHeader(t *testing.T) {
	_, handler := newTestServer(t)

	req := httptest.NewRequest("GET", "/search?q=foo", http.NoBody)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing tenant: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestSearch_RequiresQuery(t *testing.T) {
	_, handler := newTestServer(t)

	req := httptest.NewRequest("GET", "/search", http.NoBody)
	req.Header.Set(tenantHeader, "acme")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing q: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestSearch_PassesParams(t *testing.T) {
	ms, handler := newTestServer(t)

	var gotTenant, gotText, gotType string
	var gotLimit int
	ms.searchFn = func(_ context.Context, tenant, text, objectType string, limit int) []map[string]any {
		gotTenant, gotText, gotType, gotLimit = tenant, text, objectType, limit
		return []map[string]any{{"object": "invoice", "id": "inv-1"}}
	}

	req := httptest.NewRequest("GET", "/search?q=widgets&type=invoice&limit=5", http.NoBody)
	req.Header.Set(tenantHeader, "acme")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusOK)
	}
	if gotTenant != "acme" || gotText != "widgets" || gotType != "invoice" || gotLimit != 5 {
		t.Errorf("params = %q %q %q %d", gotTenant, gotText, gotType, gotLimit)
	}

	var resp searchResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 1 || len(resp.Items) != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSearch_DefaultAndInvalidLimit(t *testing.T) {
	ms, handler := newTestServer(t)

	var gotLimit int
	ms.searchFn = func(_ context.Context, _, _, _ string, limit int) []map[string]any {
		gotLimit = limit
		return nil
	}

	req := httptest.NewRequest("GET", "/search?q=foo", http.NoBody)
	req.Header.Set(tenantHeader, "acme")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if gotLimit != defaultLimit {
		t.Errorf("limit = %d, want default %d", gotLimit, defaultLimit)
	}

	for _, raw := range []string{"0", "-1", "101", "abc"} {
		req := httptest.NewRequest("GET", "/search?q=foo&limit="+raw, http.NoBody)
		req.Header.Set(tenantHeader, "acme")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("limit %q: got %d, want %d", raw, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestSearch_EmptyResultIsOK(t *testing.T) {
	// The driver degrades cluster failures to nil; the HTTP layer must turn
	// that into an empty list, not a null or an error status.
	_, handler := newTestServer(t)

	req := httptest.NewRequest("GET", "/search?q=foo", http.NoBody)
	req.Header.Set(tenantHeader, "acme")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusOK)
	}
	var resp struct {
		Items json.RawMessage `json:"items"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if string(resp.Items) != "[]" {
		t.Errorf("items = %s, want []", resp.Items)
	}
}

func TestHealth(t *testing.T) {
	ms, handler := newTestServer(t)

	req := httptest.NewRequest("GET", "/healthz", http.NoBody)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("healthy: got %d, want %d", rr.Code, http.StatusOK)
	}

	ms.pingFn = func(context.Context) error { return errors.New("cluster down") }
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded: got %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, handler := newTestServer(t)

	req := httptest.NewRequest("GET", "/metrics", http.NoBody)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("got %d, want %d", rr.Code, http.StatusOK)
	}
}
