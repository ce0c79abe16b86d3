package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"crustly/pkg/engine/api"
)

const webSearchTimeout = 20 * time.Second

// braveSearchResult mirrors the subset of the Brave Search API response
// this tool cares about: title, url, description per web result.
type braveSearchResult struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// WebSearchTool queries a web search API and returns a short list of
// results. The endpoint and API key are read from WEB_SEARCH_API_KEY /
// WEB_SEARCH_ENDPOINT so the tool works against Brave Search by default
// but can point at any compatible provider.
type WebSearchTool struct {
	BaseTool
	client *http.Client
}

// NewWebSearchTool creates a new web_search tool.
func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{
		BaseTool: NewBaseTool(
			"web_search",
			"Search the web and return a short list of titles, URLs, and snippets.",
			[]ParameterDef{
				{Name: "query", Type: "string", Description: "Search query", Required: true},
				{Name: "max_results", Type: "integer", Description: "Number of results to return, 1-10 (default 5)", Required: false},
			},
			api.RiskLow,
		),
		client: &http.Client{Timeout: webSearchTimeout},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	query := strings.TrimSpace(GetStringArg(args, "query", ""))
	if query == "" {
		return toolErrorf("query is required"), nil
	}

	maxResults := GetIntArg(args, "max_results", 5)
	if maxResults < 1 {
		maxResults = 1
	}
	if maxResults > 10 {
		maxResults = 10
	}

	apiKey := os.Getenv("WEB_SEARCH_API_KEY")
	if apiKey == "" {
		return toolErrorf("WEB_SEARCH_API_KEY is not configured; web_search requires a search provider API key"), nil
	}
	endpoint := os.Getenv("WEB_SEARCH_ENDPOINT")
	if endpoint == "" {
		endpoint = "https://api.search.brave.com/res/v1/web/search"
	}

	reqCtx, cancel := context.WithTimeout(ctx, webSearchTimeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s?q=%s&count=%d", endpoint, url.QueryEscape(query), maxResults)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return toolError(err), nil
	}
	req.Header.Set("X-Subscription-Token", apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return toolErrorf("search request failed: %v", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return api.ToolResult{Status: "error", Error: resp.Status, Content: string(body)}, nil
	}

	var parsed braveSearchResult
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return toolErrorf("failed to parse search response: %v", err), nil
	}

	results := parsed.Web.Results
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	if len(results) == 0 {
		return successText(fmt.Sprintf("no results for %q", query)), nil
	}

	var out strings.Builder
	for i, r := range results {
		fmt.Fprintf(&out, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Description)
	}
	return successText(out.String()), nil
}

func (t *WebSearchTool) Preview(ctx context.Context, args api.Args) (*api.Preview, error) {
	return &api.Preview{
		Kind:     api.PreviewCommand,
		Summary:  fmt.Sprintf("Web search: %s", GetStringArg(args, "query", "")),
		RiskHint: "sends the query to an external search provider",
	}, nil
}
