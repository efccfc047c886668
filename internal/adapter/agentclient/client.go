// Package agentclient provides the HTTP client for the LinkBox streaming
// and preview endpoints.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/linkbox/internal/config"
	"github.com/xiaot623/gogo/linkbox/internal/domain"
	"github.com/xiaot623/gogo/linkbox/internal/logger"
	"github.com/xiaot623/gogo/linkbox/internal/sse"
)

// ErrUnexpectedStatus is returned when the server answers with a non-200 status.
var ErrUnexpectedStatus = errors.New("unexpected status")

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token() (string, error)
}

// Paths are the endpoint paths relative to the base URL.
type Paths struct {
	Agent   string
	Chat    string
	Preview string
}

// Client talks to the LinkBox API.
type Client struct {
	baseURL    string
	paths      Paths
	tokens     TokenSource
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a client from the API configuration. Streaming
// requests carry no client timeout; they end through their context.
func NewClient(cfg config.APIConfig, tokens TokenSource, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		paths: Paths{
			Agent:   cfg.AgentPath,
			Chat:    cfg.ChatPath,
			Preview: cfg.PreviewPath,
		},
		tokens:     tokens,
		httpClient: &http.Client{},
		logger:     log.WithComponent("agent-client"),
	}
}

// StreamAgent opens the agent protocol stream for history.
func (c *Client) StreamAgent(ctx context.Context, history []domain.Turn) (*sse.Decoder[domain.StreamEvent], error) {
	body, err := c.openStream(ctx, c.paths.Agent, history)
	if err != nil {
		return nil, err
	}
	return sse.NewDecoder[domain.StreamEvent](body, c.logger), nil
}

// StreamChat opens the simple chat protocol stream for history.
func (c *Client) StreamChat(ctx context.Context, history []domain.Turn) (*sse.Decoder[domain.ChatEvent], error) {
	body, err := c.openStream(ctx, c.paths.Chat, history)
	if err != nil {
		return nil, err
	}
	return sse.NewDecoder[domain.ChatEvent](body, c.logger), nil
}

func (c *Client) openStream(ctx context.Context, path string, history []domain.Turn) (io.ReadCloser, error) {
	if history == nil {
		history = []domain.Turn{}
	}
	req, err := c.newRequest(ctx, path, domain.StreamRequest{Messages: history})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	c.logger.Debug("opening stream", zap.String("path", path), zap.Int("messages", len(history)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

// Preview asks the server to draft a resource for url.
func (c *Client) Preview(ctx context.Context, url, note string) (*domain.ResourcePreview, error) {
	req, err := c.newRequest(ctx, c.paths.Preview, domain.PreviewRequest{URL: url, Note: note})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var preview domain.ResourcePreview
	if err := json.NewDecoder(resp.Body).Decode(&preview); err != nil {
		return nil, fmt.Errorf("failed to decode preview: %w", err)
	}
	return &preview, nil
}

// newRequest builds an authenticated JSON POST. Token failures return
// before anything touches the network.
func (c *Client) newRequest(ctx context.Context, path string, payload any) (*http.Request, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

// errorBody is the error shape returned by the LinkBox API.
type errorBody struct {
	Message any `json:"message"`
	Detail  any `json:"detail"`
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body errorBody
	if json.Unmarshal(raw, &body) == nil {
		for _, v := range []any{body.Message, body.Detail} {
			if s, ok := v.(string); ok && s != "" {
				return fmt.Errorf("%w [%d]: %s", ErrUnexpectedStatus, resp.StatusCode, s)
			}
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return fmt.Errorf("%w [%d]: %s", ErrUnexpectedStatus, resp.StatusCode, text)
	}
	return fmt.Errorf("%w [%d]", ErrUnexpectedStatus, resp.StatusCode)
}
