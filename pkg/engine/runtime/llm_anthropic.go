package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"crustly/pkg/engine/api"
	"crustly/pkg/logger"
)

// AnthropicLLM implements the runtime LLM interface against the Anthropic
// Messages API. Kept as the final fallback in the provider precedence
// chain, since it is the one provider in that chain whose wire format
// (event-typed SSE, top-level system prompt, content blocks) isn't
// OpenAI-compatible and so can't share OpenAILLM's request/response types.
type AnthropicLLM struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropicLLMFromEnv builds an Anthropic client from ANTHROPIC_API_KEY
// and ANTHROPIC_MODEL (default: claude-sonnet-4-5).
func NewAnthropicLLMFromEnv() (*AnthropicLLM, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is required")
	}
	model := os.Getenv("ANTHROPIC_MODEL")
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	return &AnthropicLLM{
		apiKey:     apiKey,
		model:      model,
		baseURL:    "https://api.anthropic.com/v1",
		httpClient: &http.Client{Timeout: 24 * time.Hour},
	}, nil
}

func (c *AnthropicLLM) Stream(ctx context.Context, req LLMRequest) (LLMStream, error) {
	system, messages := splitAnthropicSystem(req.Messages)

	payload := anthropicRequest{
		Model:     c.model,
		Messages:  messages,
		System:    system,
		Stream:    true,
		MaxTokens: req.MaxTokens,
	}
	if payload.MaxTokens == 0 {
		payload.MaxTokens = 4096
	}
	if len(req.Tools) > 0 {
		payload.Tools = toAnthropicTools(req.Tools)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		logger.Error("LLM", "Anthropic API returned error", map[string]interface{}{
			"status_code": resp.StatusCode,
			"error":       strings.TrimSpace(string(raw)),
		})
		return nil, fmt.Errorf("anthropic API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	return newAnthropicStream(resp.Body), nil
}

// splitAnthropicSystem pulls leading "system" role messages into the
// top-level system field, since Anthropic has no system role in the
// message array itself.
func splitAnthropicSystem(messages []api.LLMMessage) (string, []anthropicMsg) {
	var system strings.Builder
	out := make([]anthropicMsg, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
			continue
		}
		role := m.Role
		if role == "tool" {
			// Anthropic represents tool results as a user message containing
			// a tool_result content block.
			out = append(out, anthropicMsg{
				Role: "user",
				Content: []anthropicContentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
			continue
		}
		block := anthropicContentBlock{Type: "text", Text: m.Content}
		msg := anthropicMsg{Role: role, Content: []anthropicContentBlock{block}}
		for _, tc := range m.ToolCalls {
			var input json.RawMessage
			if tc.Args != "" {
				input = json.RawMessage(tc.Args)
			} else {
				input = json.RawMessage("{}")
			}
			msg.Content = append(msg.Content, anthropicContentBlock{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: input,
			})
		}
		out = append(out, msg)
	}
	return system.String(), out
}

func toAnthropicTools(tools []api.ToolSchema) []anthropicTool {
	out := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return out
}

type anthropicRequest struct {
	Model     string          `json:"model"`
	Messages  []anthropicMsg  `json:"messages"`
	System    string          `json:"system,omitempty"`
	MaxTokens int             `json:"max_tokens"`
	Stream    bool            `json:"stream"`
	Tools     []anthropicTool `json:"tools,omitempty"`
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema,omitempty"`
}

type anthropicMsg struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	ContentBlock struct {
		Type  string `json:"type"`
		ID    string `json:"id"`
		Name  string `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content_block"`
	Index int `json:"index"`
}

type anthropicStream struct {
	body   io.ReadCloser
	reader *bufio.Reader

	queue        []LLMChunk
	toolBuilders map[int]*anthropicToolBuilder
	done         bool
}

type anthropicToolBuilder struct {
	id   string
	name string
	args strings.Builder
}

func newAnthropicStream(body io.ReadCloser) *anthropicStream {
	return &anthropicStream{
		body:         body,
		reader:       bufio.NewReader(body),
		toolBuilders: make(map[int]*anthropicToolBuilder),
	}
}

func (s *anthropicStream) Recv(ctx context.Context) (LLMChunk, error) {
	if len(s.queue) > 0 {
		ch := s.queue[0]
		s.queue = s.queue[1:]
		return ch, nil
	}
	if s.done {
		return LLMChunk{}, io.EOF
	}

	for {
		select {
		case <-ctx.Done():
			return LLMChunk{}, ctx.Err()
		default:
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.done = true
			if err == io.EOF {
				return LLMChunk{}, io.EOF
			}
			return LLMChunk{}, err
		}
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				s.toolBuilders[ev.Index] = &anthropicToolBuilder{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
			}
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				return LLMChunk{Delta: ev.Delta.Text}, nil
			}
			if ev.Delta.Type == "input_json_delta" {
				if b, ok := s.toolBuilders[ev.Index]; ok {
					b.args.WriteString(ev.Delta.PartialJSON)
					if ev.Delta.PartialJSON != "" {
						return LLMChunk{ToolArgDelta: ev.Delta.PartialJSON}, nil
					}
				}
			}
		case "content_block_stop":
			if b, ok := s.toolBuilders[ev.Index]; ok && b.name != "" {
				delete(s.toolBuilders, ev.Index)
				return LLMChunk{ToolCall: &api.LLMToolCall{ID: b.id, Name: b.name, Args: b.args.String()}}, nil
			}
		case "message_stop":
			s.done = true
			return LLMChunk{FinishReason: "stop"}, nil
		}
	}
}

func (s *anthropicStream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.body.Close()
}
