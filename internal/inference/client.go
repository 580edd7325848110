// File: internal/inference/client.go

// Package inference talks to a local OpenAI-compatible vision endpoint and
// turns screenshots plus task context into structured actions.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/averell-dev/deskrover/api/schemas"
	"github.com/averell-dev/deskrover/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonBlockRegex pulls a JSON object out of a markdown fence when the model
// ignores the no-markdown instruction.
var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Client implements schemas.Decider against a chat-completions endpoint.
type Client struct {
	cfg        config.InferenceConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an inference client for the configured endpoint.
func NewClient(cfg config.InferenceConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.Named("inference"),
	}
}

// -- Wire Structures --

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Decide asks the model for the next action given the current frame. A
// malformed reply earns exactly one corrective re-prompt; a second malformed
// reply is a typed ParseError, never a silent retry loop.
func (c *Client) Decide(ctx context.Context, frame *schemas.Frame, instruction string, history []schemas.Step) (schemas.Action, error) {
	messages := []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: []contentPart{
			{Type: "text", Text: buildUserPrompt(instruction, history)},
			{Type: "image_url", ImageURL: &imageURL{URL: frameDataURL(frame)}},
		}},
	}

	raw, err := c.complete(ctx, messages)
	if err != nil {
		return schemas.Action{}, err
	}

	action, parseErr := parseAction(raw)
	if parseErr == nil {
		c.logger.Debug("Action decided", zap.String("action", action.String()))
		return action, nil
	}

	c.logger.Warn("Malformed model reply, issuing corrective re-prompt",
		zap.Error(parseErr), zap.String("raw", truncate(raw, 256)))

	messages = append(messages,
		chatMessage{Role: "assistant", Content: raw},
		chatMessage{Role: "user", Content: correctionPrompt},
	)
	raw, err = c.complete(ctx, messages)
	if err != nil {
		return schemas.Action{}, err
	}

	action, parseErr = parseAction(raw)
	if parseErr != nil {
		return schemas.Action{}, &schemas.ParseError{Raw: truncate(raw, 512), Err: parseErr}
	}
	c.logger.Debug("Action decided after re-prompt", zap.String("action", action.String()))
	return action, nil
}

// Judge asks the model whether the after frame is consistent with the action
// having taken effect. Implements the model-backed half of verification.
func (c *Client) Judge(ctx context.Context, before, after *schemas.Frame, action schemas.Action) (bool, error) {
	messages := []chatMessage{
		{Role: "user", Content: []contentPart{
			{Type: "text", Text: fmt.Sprintf(judgePrompt, action.String())},
			{Type: "image_url", ImageURL: &imageURL{URL: frameDataURL(before)}},
			{Type: "image_url", ImageURL: &imageURL{URL: frameDataURL(after)}},
		}},
	}

	raw, err := c.complete(ctx, messages)
	if err != nil {
		return false, err
	}

	var verdict struct {
		Changed bool `json:"changed"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &verdict); err != nil {
		return false, &schemas.ParseError{Raw: truncate(raw, 512), Err: err}
	}
	return verdict.Changed, nil
}

// complete issues one chat request with transient-failure retry. Rate limits
// and server errors back off; anything else fails immediately.
func (c *Client) complete(ctx context.Context, messages []chatMessage) (string, error) {
	payload := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &schemas.InferenceError{Endpoint: c.cfg.Endpoint, Err: err}
	}

	var content string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Transport errors are worth retrying; the local server may
			// still be loading the model.
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, truncate(string(respBody), 256))
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, truncate(string(respBody), 256)))
		}

		var parsed chatResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("malformed endpoint response: %w", err))
		}
		if parsed.Error != nil {
			return backoff.Permanent(fmt.Errorf("endpoint error: %s", parsed.Error.Message))
		}
		if len(parsed.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("endpoint response carried no choices"))
		}
		content = parsed.Choices[0].Message.Content
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return "", &schemas.InferenceError{Endpoint: c.cfg.Endpoint, Err: err}
	}
	return content, nil
}

// parseAction extracts and structurally validates an action from raw model
// output.
func parseAction(raw string) (schemas.Action, error) {
	var action schemas.Action
	if err := json.Unmarshal([]byte(extractJSON(raw)), &action); err != nil {
		return schemas.Action{}, fmt.Errorf("reply is not a JSON action: %w", err)
	}
	if err := action.Validate(); err != nil {
		return schemas.Action{}, err
	}
	return action, nil
}

// extractJSON returns the JSON object embedded in the reply: a fenced block
// when present, otherwise the outermost brace span, otherwise the raw text.
func extractJSON(raw string) string {
	if m := jsonBlockRegex.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

// frameDataURL encodes a frame's PNG payload as an inline data URL.
func frameDataURL(frame *schemas.Frame) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(frame.PNG)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
