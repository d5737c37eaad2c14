package bedrock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/nugget/ember-agent/internal/httpkit"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Client is the backend capability the agent loop consumes. The
// production implementation is HTTPClient; tests substitute fakes.
type Client interface {
	Converse(ctx context.Context, req *ConverseRequest) (*ConverseResponse, error)
}

// HTTPClient calls the Bedrock runtime Converse REST endpoint,
// authenticating with a Bedrock API key as a bearer token.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates a Converse client for the given runtime
// endpoint (e.g. https://bedrock-runtime.us-east-1.amazonaws.com).
func NewHTTPClient(endpoint, apiKey string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	// Model responses can take a long time before headers arrive
	// (large prompts, busy models). Use a generous response header
	// timeout and no overall client timeout; callers bound the request
	// with ctx deadlines.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		logger:   logger.With("provider", "bedrock"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// Converse sends one Converse request and decodes the reply. Transport
// and API errors are returned as-is; the agent loop owns wrapping them
// into a user-facing error.
func (c *HTTPClient) Converse(ctx context.Context, req *ConverseRequest) (*ConverseResponse, error) {
	if req.ModelID == "" {
		return nil, fmt.Errorf("model id is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("preparing request",
		"model", req.ModelID,
		"messages", len(req.Messages),
		"has_tools", req.ToolConfig != nil,
		"system_blocks", len(req.System),
	)
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(body))

	endpoint := c.endpoint + "/model/" + url.PathEscape(req.ModelID) + "/converse"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 4096)
		c.logger.Error("API error", "status", httpResp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("bedrock API error %d: %s", httpResp.StatusCode, errBody)
	}

	var resp ConverseResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.logger.Debug("response received",
		"model", req.ModelID,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"content_blocks", len(resp.Output.Message.Content),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "message", resp.Output.Message)

	return &resp, nil
}

// Ping verifies the endpoint and API key with a minimal request.
func (c *HTTPClient) Ping(ctx context.Context, modelID string) error {
	req := &ConverseRequest{
		ModelID: modelID,
		Messages: []Message{
			{Role: "user", Content: []ContentBlock{{Text: "ping"}}},
		},
		InferenceConfig: &InferenceConfig{MaxTokens: 1},
	}
	_, err := c.Converse(ctx, req)
	return err
}
