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

// GeminiClient implements ChatClient against the Gemini REST API
// (generateContent with function declarations).
type GeminiClient struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:      apiKey,
		BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
		Model:       "gemini-2.0-flash",
		MaxTokens:   4096,
		Temperature: 0.1,
		Timeout:     2 * time.Minute,
	}
}

// NewGeminiClient creates a client with custom config.
func NewGeminiClient(config GeminiConfig) *GeminiClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}
	return &GeminiClient{
		apiKey:      config.APIKey,
		baseURL:     strings.TrimSuffix(config.BaseURL, "/"),
		model:       config.Model,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		httpClient:  &http.Client{Timeout: config.Timeout},
	}
}

// Model returns the configured model identifier.
func (c *GeminiClient) Model() string {
	return c.model
}

// Wire types for generateContent.

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []struct {
		FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
	} `json:"tools,omitempty"`
	GenerationConfig struct {
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
		Temperature     float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Chat sends the conversation and returns the model's next turn.
func (c *GeminiClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	// Auto-apply timeout if context has no deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.ModelDebug("[Gemini] Chat: model=%s messages=%d tools=%d",
		c.model, len(req.Messages), len(req.Tools))

	if c.apiKey == "" {
		return nil, modelErr("gemini", "request", fmt.Errorf("API key not configured"))
	}

	body := geminiRequest{Contents: c.buildContents(req.Messages)}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDeclaration, len(req.Tools))
		for i, d := range req.Tools {
			decls[i] = geminiFunctionDeclaration{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  schemaParameters(d.Schema),
			}
		}
		body.Tools = append(body.Tools, struct {
			FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
		}{FunctionDeclarations: decls})
	}
	body.GenerationConfig.MaxOutputTokens = c.maxTokens
	body.GenerationConfig.Temperature = c.temperature

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, modelErr("gemini", "request", fmt.Errorf("failed to marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)

	maxRetries := 3
	var lastErr error
	var respBody []byte
	var status int

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return nil, modelErr("gemini", "request", ctx.Err())
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
		if err != nil {
			return nil, modelErr("gemini", "request", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)

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
		logging.ModelErrorf("[Gemini] Chat: max retries exceeded after %v: %v", time.Since(startTime), lastErr)
		return nil, modelErr("gemini", "request", fmt.Errorf("max retries exceeded: %w", lastErr))
	}

	if status != http.StatusOK {
		logging.ModelErrorf("[Gemini] Chat: API returned status %d: %s", status, respBody)
		return nil, modelStatusErr("gemini", "request", status, fmt.Errorf("%s", strings.TrimSpace(string(respBody))))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, modelErr("gemini", "decode", err)
	}
	if parsed.Error != nil {
		return nil, modelErr("gemini", "decode", fmt.Errorf("API error %s: %s", parsed.Error.Status, parsed.Error.Message))
	}
	if len(parsed.Candidates) == 0 {
		return nil, modelErr("gemini", "parse", fmt.Errorf("no candidates returned"))
	}

	candidate := parsed.Candidates[0]
	result := &ChatResponse{
		StopReason: candidate.FinishReason,
		Usage: Usage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		},
	}

	var textBuilder strings.Builder
	for _, part := range candidate.Content.Parts {
		switch {
		case part.Text != "":
			textBuilder.WriteString(part.Text)
		case part.FunctionCall != nil:
			if part.FunctionCall.Name == "" {
				return nil, modelErr("gemini", "parse", fmt.Errorf("function call missing name"))
			}
			args := part.FunctionCall.Args
			if args == nil {
				args = make(map[string]any)
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				// Gemini has no call IDs; the name links the response.
				ID:   part.FunctionCall.Name,
				Name: part.FunctionCall.Name,
				Args: args,
			})
		}
	}
	result.Text = strings.TrimSpace(textBuilder.String())

	logging.Model("[Gemini] Chat: completed in %v text_len=%d tool_calls=%d stop=%s",
		time.Since(startTime), len(result.Text), len(result.ToolCalls), result.StopReason)

	return result, nil
}

// buildContents renders the neutral history as Gemini contents. Assistant
// turns map to role "model"; tool turns become functionResponse parts.
func (c *GeminiClient) buildContents(messages []ChatMessage) []geminiContent {
	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleAssistant:
			content := geminiContent{Role: "model"}
			if m.Content != "" {
				content.Parts = append(content.Parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				content.Parts = append(content.Parts, geminiPart{
					FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: tc.Args},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}

		case RoleTool:
			// Outcomes are JSON; Gemini wants an object payload.
			response := make(map[string]any)
			if err := json.Unmarshal([]byte(m.Content), &response); err != nil {
				response = map[string]any{"content": m.Content}
			}
			contents = append(contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFunctionResponse{
						Name:     m.ToolCallID,
						Response: response,
					},
				}},
			})

		default:
			contents = append(contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: m.Content}},
			})
		}
	}
	return contents
}
