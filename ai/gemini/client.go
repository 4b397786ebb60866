// Package gemini implements core.AIClient against Google's native
// GenerateContent REST API. No SDK: the surface we need is one endpoint
// and a stable JSON shape.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/polyfed/federator/core"
)

const (
	// DefaultBaseURL is the default Gemini API endpoint
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultModel is used when options carry no model
	DefaultModel = "gemini-2.5-flash"

	defaultTimeout   = 30 * time.Second
	defaultMaxTokens = 2000
)

// Client implements core.AIClient for Google Gemini.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client

	logger    core.Logger
	telemetry core.Telemetry
}

// NewClient creates a Gemini client. Empty model and baseURL fall back
// to the package defaults.
func NewClient(apiKey, model, baseURL string) *Client {
	if model == "" {
		model = DefaultModel
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     &core.NoOpLogger{},
		telemetry:  &core.NoOpTelemetry{},
	}
}

// SetLogger sets the logger provider
func (c *Client) SetLogger(logger core.Logger) {
	if logger == nil {
		c.logger = &core.NoOpLogger{}
	} else {
		c.logger = logger
	}
}

// SetTelemetry sets the telemetry provider
func (c *Client) SetTelemetry(telemetry core.Telemetry) {
	if telemetry == nil {
		c.telemetry = &core.NoOpTelemetry{}
	} else {
		c.telemetry = telemetry
	}
}

// GenerateResponse generates a response using Gemini's native
// GenerateContent API.
func (c *Client) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "ai.generate_response")
	defer span.End()

	span.SetAttribute("ai.provider", "gemini")
	span.SetAttribute("ai.prompt_length", len(prompt))

	if c.apiKey == "" {
		err := fmt.Errorf("gemini API key not configured: %w", core.ErrMissingConfiguration)
		span.RecordError(err)
		return nil, err
	}

	if options == nil {
		options = &core.AIOptions{}
	}
	model := options.Model
	if model == "" {
		model = c.model
	}
	maxTokens := options.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	span.SetAttribute("ai.model", model)

	reqBody := GenerateRequest{
		Contents: []Content{
			{Role: "user", Parts: []Part{{Text: prompt}}},
		},
		GenerationConfig: &GenerationConfig{
			Temperature:     options.Temperature,
			MaxOutputTokens: maxTokens,
		},
	}
	if options.SystemPrompt != "" {
		reqBody.SystemInstruction = &SystemInstruction{
			Parts: []Part{{Text: options.SystemPrompt}},
		}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// Endpoint format: /models/{model}:generateContent?key={api_key}
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Gemini request failed", map[string]interface{}{
			"operation": "ai_request_error",
			"provider":  "gemini",
			"error":     err.Error(),
			"phase":     "request_execution",
		})
		span.RecordError(err)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		span.SetAttribute("http.status_code", resp.StatusCode)
		apiErr := c.apiError(resp.StatusCode, body)
		c.logger.Error("Gemini API error", map[string]interface{}{
			"operation":   "ai_request_error",
			"provider":    "gemini",
			"status_code": resp.StatusCode,
			"error":       apiErr.Error(),
		})
		span.RecordError(apiErr)
		return nil, apiErr
	}

	var geminiResp GenerateResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(geminiResp.Candidates) == 0 {
		err := fmt.Errorf("no candidates in Gemini response")
		span.RecordError(err)
		return nil, err
	}

	var content string
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		content += part.Text
	}
	if content == "" {
		err := fmt.Errorf("no text content in Gemini response")
		span.RecordError(err)
		return nil, err
	}

	result := &core.AIResponse{
		Content: content,
		Model:   model,
		Usage: core.TokenUsage{
			PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      geminiResp.UsageMetadata.TotalTokenCount,
		},
	}

	span.SetAttribute("ai.prompt_tokens", result.Usage.PromptTokens)
	span.SetAttribute("ai.completion_tokens", result.Usage.CompletionTokens)
	span.SetAttribute("ai.total_tokens", result.Usage.TotalTokens)

	c.logger.Debug("Gemini response received", map[string]interface{}{
		"operation":       "ai_response",
		"provider":        "gemini",
		"model":           model,
		"total_tokens":    result.Usage.TotalTokens,
		"duration_ms":     time.Since(start).Milliseconds(),
		"response_length": len(result.Content),
	})

	return result, nil
}

func (c *Client) apiError(status int, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Errorf("gemini API error (status %d): %s", status, errResp.Error.Message)
	}
	return fmt.Errorf("gemini API error (status %d): %w", status, core.ErrRequestFailed)
}
