package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crustly/pkg/engine/api"
)

const httpResponseBodyCap = 10 * 1024 // truncate displayed response body to ~10KiB

var httpMethodsWithBody = map[string]bool{
	"POST":  true,
	"PUT":   true,
	"PATCH": true,
}

// HTTPRequestTool issues a single outbound HTTP request and returns the
// status, headers, and a truncated body. Network access only; it never
// touches the workspace.
type HTTPRequestTool struct {
	BaseTool
	client *http.Client
}

// NewHTTPRequestTool creates a new http_request tool.
func NewHTTPRequestTool() *HTTPRequestTool {
	return &HTTPRequestTool{
		BaseTool: NewBaseTool(
			"http_request",
			"Issue an HTTP or HTTPS request and return status, headers, and a truncated body.",
			[]ParameterDef{
				{Name: "method", Type: "string", Description: "GET, POST, PUT, PATCH, DELETE, HEAD, OPTIONS", Required: true},
				{Name: "url", Type: "string", Description: "Target URL (http or https only)", Required: true},
				{Name: "headers", Type: "object", Description: "Request headers as key/value pairs", Required: false},
				{Name: "body", Type: "string", Description: "Request body (POST/PUT/PATCH only)", Required: false},
				{Name: "query", Type: "object", Description: "Query string parameters as key/value pairs", Required: false},
				{Name: "timeout", Type: "integer", Description: "Timeout in seconds, 1-120 (default 30)", Required: false},
				{Name: "follow_redirects", Type: "boolean", Description: "Follow HTTP redirects (default true)", Required: false},
			},
			api.RiskHigh,
		),
		client: &http.Client{},
	}
}

func (t *HTTPRequestTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	method := strings.ToUpper(strings.TrimSpace(GetStringArg(args, "method", "")))
	if method == "" {
		return toolErrorf("method is required"), nil
	}

	rawURL := GetStringArg(args, "url", "")
	if rawURL == "" {
		return toolErrorf("url is required"), nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return toolErrorf("invalid url: %v", err), nil
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return toolErrorf("unsupported scheme %q; only http and https are allowed", parsed.Scheme), nil
	}

	if query, ok := args["query"].(map[string]any); ok {
		q := parsed.Query()
		for k, v := range query {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		parsed.RawQuery = q.Encode()
	}

	var bodyReader io.Reader
	body := GetStringArg(args, "body", "")
	if body != "" {
		if !httpMethodsWithBody[method] {
			return toolErrorf("body is only allowed with POST, PUT, or PATCH (got %s)", method), nil
		}
		bodyReader = strings.NewReader(body)
	}

	timeoutSecs := GetIntArg(args, "timeout", 30)
	if timeoutSecs < 1 {
		timeoutSecs = 1
	}
	if timeoutSecs > 120 {
		timeoutSecs = 120
	}
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, parsed.String(), bodyReader)
	if err != nil {
		return toolError(err), nil
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	client := t.client
	if !GetBoolArg(args, "follow_redirects", true) {
		client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return toolErrorf("request failed: %v", err), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, httpResponseBodyCap+1))
	if err != nil {
		return toolError(err), nil
	}
	truncated := ""
	if len(respBody) > httpResponseBodyCap {
		respBody = respBody[:httpResponseBodyCap]
		truncated = "\n... (response truncated)"
	}

	var headerLines strings.Builder
	for k, v := range resp.Header {
		fmt.Fprintf(&headerLines, "%s: %s\n", k, strings.Join(v, ", "))
	}

	content := fmt.Sprintf("status: %s\nheaders:\n%sbody:\n%s%s", resp.Status, headerLines.String(), string(respBody), truncated)
	if resp.StatusCode >= 400 {
		return api.ToolResult{Status: "error", Error: resp.Status, Content: content}, nil
	}
	return successText(content), nil
}

func (t *HTTPRequestTool) Preview(ctx context.Context, args api.Args) (*api.Preview, error) {
	return &api.Preview{
		Kind:     api.PreviewCommand,
		Summary:  fmt.Sprintf("%s %s", strings.ToUpper(GetStringArg(args, "method", "")), GetStringArg(args, "url", "")),
		RiskHint: "makes an outbound network request",
	}, nil
}
