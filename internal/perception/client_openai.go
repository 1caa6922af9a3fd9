package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aide/internal/logging"
)

// OpenAIClient implements ChatClient for the OpenAI chat completions API
// and every compatible provider (set BaseURL for ZAI, xAI, OpenRouter, a
// local server).
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:      apiKey,
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o",
		MaxTokens:   4096,
		Temperature: 0.1,
		Timeout:     2 * time.Minute,
	}
}

// NewOpenAIClient creates a client with custom config.
func NewOpenAIClient(config OpenAIConfig) *OpenAIClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}
	return &OpenAIClient{
		apiKey:      config.APIKey,
		baseURL:     strings.TrimSuffix(config.BaseURL, "/"),
		model:       config.Model,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		httpClient:  &http.Client{Timeout: config.Timeout},
	}
}

// Model returns the configured model identifier.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Wire types for the chat completions endpoint.

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Chat sends the conversation and returns the model's next turn.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	// Auto-apply timeout if context has no deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.ModelDebug("[OpenAI] Chat: model=%s messages=%d tools=%d",
		c.model, len(req.Messages), len(req.Tools))

	if c.apiKey == "" {
		return nil, modelErr("openai", "request", fmt.Errorf("API key not configured"))
	}

	body := openAIRequest{
		Model:       c.model,
		Messages:    c.buildMessages(req),
		Tools:       c.buildTools(req.Tools),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, modelErr("openai", "request", fmt.Errorf("failed to marshal request: %w", err))
	}

	// Retry loop for rate limits and transient transport errors.
	maxRetries := 3
	var lastErr error
	var respBody []byte
	var status int

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return nil, modelErr("openai", "request", ctx.Err())
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return nil, modelErr("openai", "request", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		status = resp.StatusCode

		if status == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		lastErr = nil
		break
	}

	if lastErr != nil {
		logging.ModelErrorf("[OpenAI] Chat: max retries exceeded after %v: %v", time.Since(startTime), lastErr)
		return nil, modelErr("openai", "request", fmt.Errorf("max retries exceeded: %w", lastErr))
	}

	if status != http.StatusOK {
		logging.ModelErrorf("[OpenAI] Chat: API returned status %d: %s", status, respBody)
		return nil, modelStatusErr("openai", "request", status, fmt.Errorf("%s", strings.TrimSpace(string(respBody))))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, modelErr("openai", "decode", err)
	}
	if parsed.Error != nil {
		return nil, modelErr("openai", "decode", fmt.Errorf("API error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return nil, modelErr("openai", "parse", fmt.Errorf("no choices returned"))
	}

	choice := parsed.Choices[0]
	result := &ChatResponse{
		Text:       strings.TrimSpace(choice.Message.Content),
		StopReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]any)
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, modelErr("openai", "parse",
					fmt.Errorf("malformed tool call arguments for %s: %w", tc.Function.Name, err))
			}
		}
		if tc.Function.Name == "" {
			return nil, modelErr("openai", "parse", fmt.Errorf("tool call missing function name"))
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	logging.Model("[OpenAI] Chat: completed in %v text_len=%d tool_calls=%d stop=%s",
		time.Since(startTime), len(result.Text), len(result.ToolCalls), result.StopReason)

	return result, nil
}

// buildMessages renders the neutral history in wire form, with the system
// prompt as the leading message.
func (c *OpenAIClient) buildMessages(req ChatRequest) []openAIMessage {
	messages := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: RoleSystem, Content: req.System})
	}

	for _, m := range req.Messages {
		msg := openAIMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wire := openAIToolCall{ID: tc.ID, Type: "function"}
			wire.Function.Name = tc.Name
			if data, err := json.Marshal(tc.Args); err == nil {
				wire.Function.Arguments = string(data)
			} else {
				wire.Function.Arguments = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, wire)
		}
		messages = append(messages, msg)
	}
	return messages
}

func (c *OpenAIClient) buildTools(defs []ToolDefinition) []openAITool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openAITool, len(defs))
	for i, d := range defs {
		t := openAITool{Type: "function"}
		t.Function.Name = d.Name
		t.Function.Description = d.Description
		t.Function.Parameters = schemaParameters(d.Schema)
		out[i] = t
	}
	return out
}
