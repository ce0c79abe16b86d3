package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebSearchTool_RequiresAPIKey(t *testing.T) {
	t.Setenv("WEB_SEARCH_API_KEY", "")
	tool := NewWebSearchTool()
	res, err := tool.Execute(context.Background(), map[string]interface{}{"query": "golang"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected error without API key, got %s", res.Status)
	}
}

func TestWebSearchTool_ParsesAndTruncatesResults(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Subscription-Token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"web": {
				"results": [
					{"title": "A", "url": "https://a.example", "description": "first"},
					{"title": "B", "url": "https://b.example", "description": "second"},
					{"title": "C", "url": "https://c.example", "description": "third"}
				]
			}
		}`))
	}))
	defer srv.Close()

	t.Setenv("WEB_SEARCH_API_KEY", "test-key")
	t.Setenv("WEB_SEARCH_ENDPOINT", srv.URL)

	tool := NewWebSearchTool()
	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"query":       "golang",
		"max_results": 2,
	})
	if err != nil || res.Status != "success" {
		t.Fatalf("search failed: err=%v res=%+v", err, res)
	}
	if gotToken != "test-key" {
		t.Fatalf("expected API key forwarded, got %q", gotToken)
	}
	if !strings.Contains(res.Content, "A") || !strings.Contains(res.Content, "B") {
		t.Fatalf("expected first two results in output, got %q", res.Content)
	}
	if strings.Contains(res.Content, "https://c.example") {
		t.Fatalf("expected result list truncated to max_results, got %q", res.Content)
	}
}

func TestWebSearchTool_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web": {"results": []}}`))
	}))
	defer srv.Close()

	t.Setenv("WEB_SEARCH_API_KEY", "test-key")
	t.Setenv("WEB_SEARCH_ENDPOINT", srv.URL)

	tool := NewWebSearchTool()
	res, err := tool.Execute(context.Background(), map[string]interface{}{"query": "no matches expected here"})
	if err != nil || res.Status != "success" {
		t.Fatalf("search failed: err=%v res=%+v", err, res)
	}
	if !strings.Contains(res.Content, "no results") {
		t.Fatalf("expected no-results message, got %q", res.Content)
	}
}

func TestWebSearchTool_SurfacesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid token"))
	}))
	defer srv.Close()

	t.Setenv("WEB_SEARCH_API_KEY", "bad-key")
	t.Setenv("WEB_SEARCH_ENDPOINT", srv.URL)

	tool := NewWebSearchTool()
	res, err := tool.Execute(context.Background(), map[string]interface{}{"query": "golang"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected upstream 401 to surface as tool error, got %s", res.Status)
	}
}
