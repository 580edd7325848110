// File: internal/driver/client.go
package driver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/averell-dev/deskrover/api/schemas"
	"github.com/averell-dev/deskrover/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Element identifier keys on the wire. WinAppDriver still answers with the
// legacy JsonWireProtocol key; newer servers use the W3C one.
const (
	legacyElementKey = "ELEMENT"
	w3cElementKey    = "element-6066-11e4-a52e-4f735466cecf"
)

// Client is a thin HTTP client for the automation server's WebDriver-style
// REST protocol. It holds no session state; the Manager owns that.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a client for the configured server address. Every call is
// bounded by the resolver timeout.
func NewClient(cfg config.DriverConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL(),
		httpClient: &http.Client{
			Timeout: cfg.ResolverTimeout,
		},
		logger: logger.Named("driver_client"),
	}
}

// -- Wire Structures --

type sessionRequest struct {
	Capabilities struct {
		AlwaysMatch map[string]string `json:"alwaysMatch"`
	} `json:"capabilities"`
}

type sessionResponse struct {
	Value struct {
		SessionID string `json:"sessionId"`
	} `json:"value"`
	// Legacy servers put the id at the top level.
	SessionID string `json:"sessionId"`
}

type elementQuery struct {
	Using string `json:"using"`
	Value string `json:"value"`
}

type elementResponse struct {
	Value map[string]any `json:"value"`
}

// Status probes the server's health endpoint.
func (c *Client) Status(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return fmt.Errorf("failed to create status request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("status probe failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status probe returned %d", resp.StatusCode)
	}
	return nil
}

// CreateSession negotiates a Root desktop session for desktop-wide element
// discovery and returns its identifier.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var payload sessionRequest
	payload.Capabilities.AlwaysMatch = map[string]string{
		"platformName":      "Windows",
		"appium:app":        "Root",
		"appium:deviceName": "WindowsPC",
	}

	var result sessionResponse
	if err := c.post(ctx, "/session", payload, &result); err != nil {
		return "", &schemas.SessionError{Err: err}
	}

	id := result.Value.SessionID
	if id == "" {
		id = result.SessionID
	}
	if id == "" {
		return "", &schemas.SessionError{Err: fmt.Errorf("server response carried no session id")}
	}

	c.logger.Info("Automation session created", zap.String("session_id", id))
	return id, nil
}

// DeleteSession tears the session down. A missing session on the server side
// is not an error; teardown is best effort by design.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/session/%s", c.baseURL, sessionID), nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("session delete failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("session delete returned %d", resp.StatusCode)
	}
	c.logger.Info("Automation session closed", zap.String("session_id", sessionID))
	return nil
}

// ElementFromPoint asks the UI-Automation tree which element occupies the
// given screen coordinate. Returns (nil, nil) when nothing is reported there;
// errors are transport or timeout failures only.
func (c *Client) ElementFromPoint(ctx context.Context, sessionID string, x, y int) (*schemas.Element, error) {
	query := elementQuery{
		Using: "xpath",
		Value: fmt.Sprintf("//*[contains(@BoundingRectangle, '%d') and contains(@BoundingRectangle, '%d')]", x, y),
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, &schemas.ElementResolutionError{X: x, Y: y, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/session/%s/element", c.baseURL, sessionID), bytes.NewReader(body))
	if err != nil {
		return nil, &schemas.ElementResolutionError{X: x, Y: y, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &schemas.ElementResolutionError{X: x, Y: y, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &schemas.ElementResolutionError{X: x, Y: y, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		// The server answers 404 when no element occupies the point. That is
		// a negative result, not a failure.
		c.logger.Debug("No element found at point",
			zap.Int("x", x), zap.Int("y", y), zap.Int("status", resp.StatusCode))
		return nil, nil
	}

	var result elementResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &schemas.ElementResolutionError{X: x, Y: y, Err: err}
	}

	id := elementID(result.Value)
	if id == "" {
		return nil, nil
	}

	c.logger.Debug("Element resolved at point",
		zap.Int("x", x), zap.Int("y", y), zap.String("element_id", id))
	return &schemas.Element{ID: id}, nil
}

// ClickElement invokes the element's native click operation.
func (c *Client) ClickElement(ctx context.Context, sessionID string, el *schemas.Element) error {
	path := fmt.Sprintf("/session/%s/element/%s/click", sessionID, el.ID)
	if err := c.post(ctx, path, struct{}{}, nil); err != nil {
		return fmt.Errorf("element click failed: %w", err)
	}
	return nil
}

// DoubleClickElement dispatches a W3C Actions double-click targeting the
// element's own origin, so the server computes the physical point.
func (c *Client) DoubleClickElement(ctx context.Context, sessionID string, el *schemas.Element) error {
	actions := map[string]any{
		"actions": []any{
			map[string]any{
				"type": "pointer",
				"id":   "mouse",
				"actions": []any{
					map[string]any{"type": "pointerMove", "origin": map[string]string{w3cElementKey: el.ID}},
					map[string]any{"type": "pointerDown", "button": 0},
					map[string]any{"type": "pointerUp", "button": 0},
					map[string]any{"type": "pause", "duration": 50},
					map[string]any{"type": "pointerDown", "button": 0},
					map[string]any{"type": "pointerUp", "button": 0},
				},
			},
		},
	}

	path := fmt.Sprintf("/session/%s/actions", sessionID)
	if err := c.post(ctx, path, actions, nil); err != nil {
		return fmt.Errorf("element double-click failed: %w", err)
	}
	return nil
}

// post issues a JSON POST and optionally decodes the response into out.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, truncate(respBody, 256))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// elementID extracts the element identifier from a response value under
// either protocol key.
func elementID(value map[string]any) string {
	for _, key := range []string{legacyElementKey, w3cElementKey} {
		if id, ok := value[key].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
