package tools

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPRequestTool_GetWithQueryAndHeaders(t *testing.T) {
	var gotQuery, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotHeader = r.Header.Get("X-Test")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tool := NewHTTPRequestTool()
	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"method":  "GET",
		"url":     srv.URL,
		"query":   map[string]any{"q": "hello"},
		"headers": map[string]any{"X-Test": "present"},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "success" {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.Error)
	}
	if gotQuery != "hello" {
		t.Fatalf("expected query param forwarded, got %q", gotQuery)
	}
	if gotHeader != "present" {
		t.Fatalf("expected header forwarded, got %q", gotHeader)
	}
}

func TestHTTPRequestTool_PostBodyOnlyAllowedForWriteMethods(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tool := NewHTTPRequestTool()
	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"method": "POST",
		"url":    srv.URL,
		"body":   `{"k":"v"}`,
	})
	if err != nil || res.Status != "success" {
		t.Fatalf("POST failed: err=%v res=%+v", err, res)
	}
	if gotBody != `{"k":"v"}` {
		t.Fatalf("expected body forwarded, got %q", gotBody)
	}

	rejected, err := tool.Execute(context.Background(), map[string]interface{}{
		"method": "GET",
		"url":    srv.URL,
		"body":   "not allowed",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if rejected.Status != "error" {
		t.Fatalf("expected GET with body to be rejected, got %s", rejected.Status)
	}
}

func TestHTTPRequestTool_RejectsNonHTTPScheme(t *testing.T) {
	tool := NewHTTPRequestTool()
	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"method": "GET",
		"url":    "ftp://example.com/file",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected error for ftp scheme, got %s", res.Status)
	}
}

func TestHTTPRequestTool_SurfacesServerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	tool := NewHTTPRequestTool()
	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"method": "GET",
		"url":    srv.URL,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected 500 to surface as tool error, got %s", res.Status)
	}
	if !strings.Contains(res.Content, "boom") {
		t.Fatalf("expected body in content, got %q", res.Content)
	}
}

func TestHTTPRequestTool_TruncatesLargeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("x", httpResponseBodyCap*2)))
	}))
	defer srv.Close()

	tool := NewHTTPRequestTool()
	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"method": "GET",
		"url":    srv.URL,
	})
	if err != nil || res.Status != "success" {
		t.Fatalf("unexpected failure: err=%v res=%+v", err, res)
	}
	if !strings.Contains(res.Content, "truncated") {
		t.Fatalf("expected truncation marker in content")
	}
}
