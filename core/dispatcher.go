package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultToolTimeout bounds a single tool dispatch.
const DefaultToolTimeout = 20 * time.Second

// ToolDispatcher performs the uniform JSON-in/JSON-out call to a backend
// tool. It resolves the source host from the registry and posts the
// payload to <host>/<tool>. The dispatcher never retries; retry is a
// policy decision left to callers.
type ToolDispatcher struct {
	registry   SourceRegistry
	httpClient *http.Client
	logger     Logger
}

// NewToolDispatcher creates a dispatcher with the default 20 second timeout.
func NewToolDispatcher(registry SourceRegistry) *ToolDispatcher {
	return &ToolDispatcher{
		registry: registry,
		httpClient: &http.Client{
			Timeout: DefaultToolTimeout,
		},
		logger: &NoOpLogger{},
	}
}

// SetLogger sets the logger provider
func (d *ToolDispatcher) SetLogger(logger Logger) {
	if logger == nil {
		d.logger = &NoOpLogger{}
	} else {
		d.logger = logger
	}
}

// SetHTTPClient replaces the HTTP client, primarily for tests and for
// callers that need a traced transport.
func (d *ToolDispatcher) SetHTTPClient(client *http.Client) {
	if client != nil {
		d.httpClient = client
	}
}

// Call posts payload as JSON to <host>/<tool> on the given source and
// decodes the JSON response. The response may be any JSON value: object
// responses are the common case, but adapters are allowed to answer
// with a bare list.
func (d *ToolDispatcher) Call(ctx context.Context, sourceID, tool string, payload map[string]interface{}) (interface{}, error) {
	manifest, ok := d.registry.Get(ctx, sourceID)
	if !ok {
		return nil, &FederationError{Op: "dispatcher.Call", Kind: "transport", ID: sourceID, Err: ErrSourceNotFound}
	}

	if payload == nil {
		payload = map[string]interface{}{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := strings.TrimRight(manifest.Host, "/") + "/" + strings.TrimLeft(tool, "/")

	d.logger.Debug("Dispatching tool call", map[string]interface{}{
		"operation": "tool_dispatch",
		"source_id": sourceID,
		"tool":      tool,
		"url":       url,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Error("Tool call transport failure", map[string]interface{}{
			"operation": "tool_dispatch",
			"source_id": sourceID,
			"tool":      tool,
			"error":     err.Error(),
		})
		return nil, &FederationError{Op: "dispatcher.Call", Kind: "transport", ID: sourceID, Err: fmt.Errorf("%w: %v", ErrRequestFailed, err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FederationError{Op: "dispatcher.Call", Kind: "transport", ID: sourceID, Err: fmt.Errorf("%w: %v", ErrRequestFailed, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.logger.Warn("Tool call rejected by adapter", map[string]interface{}{
			"operation":   "tool_dispatch",
			"source_id":   sourceID,
			"tool":        tool,
			"status_code": resp.StatusCode,
		})
		return nil, &ToolError{
			SourceID: sourceID,
			Tool:     tool,
			Status:   resp.StatusCode,
			Body:     string(respBody),
		}
	}

	var decoded interface{}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, &ProtocolError{SourceID: sourceID, Tool: tool, Err: err}
	}

	d.logger.Debug("Tool call completed", map[string]interface{}{
		"operation":   "tool_dispatch",
		"source_id":   sourceID,
		"tool":        tool,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return decoded, nil
}
