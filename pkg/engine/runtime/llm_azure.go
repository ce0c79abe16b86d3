package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"crustly/pkg/logger"
)

// azureOpenAILLM adapts OpenAILLM for Azure's deployment-scoped endpoint
// shape and api-key auth header. Azure's chat/completions wire format is
// otherwise identical to OpenAI's, so this only overrides request
// construction, not response parsing.
type azureOpenAILLM struct {
	OpenAILLM
	apiVersion string
}

func (c *azureOpenAILLM) Stream(ctx context.Context, req LLMRequest) (LLMStream, error) {
	payload := openAIChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(req.Messages),
		Stream:      true,
		Temperature: 0.1,
	}
	if req.MaxTokens > 0 {
		payload.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		payload.Tools = toOpenAITools(req.Tools)
		payload.ToolChoice = "auto"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions?api-version=%s", c.baseURL, c.apiVersion)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		logger.Error("LLM", "Azure OpenAI API returned error", map[string]interface{}{
			"status_code": resp.StatusCode,
			"error":       strings.TrimSpace(string(raw)),
		})
		return nil, fmt.Errorf("azure OpenAI API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	return newOpenAIStream(resp.Body), nil
}
