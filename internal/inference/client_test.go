package inference

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/averell-dev/deskrover/api/schemas"
	"github.com/averell-dev/deskrover/internal/config"
)

// -- Test Setup Helpers --

func testFrame() *schemas.Frame {
	return &schemas.Frame{ID: "frame-1", Width: 10, Height: 10, PNG: []byte("fakepng")}
}

// chatReply wraps a content string in the chat-completions response shape.
func chatReply(content string) string {
	type message struct {
		Content string `json:"content"`
	}
	type choice struct {
		Message message `json:"message"`
	}
	body, _ := json.Marshal(map[string]any{"choices": []choice{{Message: message{Content: content}}}})
	return string(body)
}

// scriptedEndpoint replies with each canned content string in turn and keeps
// every request body for inspection.
type scriptedEndpoint struct {
	replies  []string
	requests []string
	calls    atomic.Int32
	server   *httptest.Server
}

func newScriptedEndpoint(t *testing.T, replies ...string) *scriptedEndpoint {
	t.Helper()
	s := &scriptedEndpoint{replies: replies}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.requests = append(s.requests, string(body))
		n := int(s.calls.Add(1)) - 1
		require.Less(t, n, len(s.replies), "endpoint called more times than scripted")
		w.Write([]byte(chatReply(s.replies[n])))
	}))
	t.Cleanup(s.server.Close)
	return s
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	return NewClient(config.InferenceConfig{
		Endpoint:    endpoint,
		Model:       "test-vision",
		Timeout:     5 * time.Second,
		Temperature: 0.2,
		MaxTokens:   256,
	}, zaptest.NewLogger(t))
}

// -- Test Cases: Decide --

// Verifies a clean JSON reply becomes a validated action, and that the
// request carries the model, prompt, and screenshot.
func TestDecide_CleanReply(t *testing.T) {
	endpoint := newScriptedEndpoint(t, `{"action":"click","params":{"x":120,"y":340,"button":"left"}}`)
	client := newTestClient(t, endpoint.server.URL)

	action, err := client.Decide(context.Background(), testFrame(), "open the settings menu", nil)
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionClick, action.Kind)
	assert.Equal(t, 120, action.Params.X)
	assert.Equal(t, 340, action.Params.Y)

	require.Len(t, endpoint.requests, 1)
	request := endpoint.requests[0]
	assert.Contains(t, request, `"model":"test-vision"`)
	assert.Contains(t, request, "open the settings menu")
	assert.Contains(t, request, "data:image/png;base64,")
}

// Verifies a reply wrapped in a markdown fence still parses.
func TestDecide_FencedReply(t *testing.T) {
	content := "Here is my decision:\n```json\n{\"action\":\"press_key\",\"params\":{\"key\":\"enter\"}}\n```"
	endpoint := newScriptedEndpoint(t, content)
	client := newTestClient(t, endpoint.server.URL)

	action, err := client.Decide(context.Background(), testFrame(), "confirm the dialog", nil)
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionPressKey, action.Kind)
	assert.Equal(t, "enter", action.Params.Key)
}

// Verifies one corrective re-prompt is issued on a malformed reply and the
// corrected reply is used.
func TestDecide_RepromptOnceThenSucceed(t *testing.T) {
	endpoint := newScriptedEndpoint(t,
		"I think you should click the button in the corner.",
		`{"action":"done","params":{"result":"settings opened"}}`,
	)
	client := newTestClient(t, endpoint.server.URL)

	action, err := client.Decide(context.Background(), testFrame(), "open settings", nil)
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionDone, action.Kind)

	require.Len(t, endpoint.requests, 2)
	assert.Contains(t, endpoint.requests[1], "could not be parsed")
	// The re-prompt must carry the malformed reply back as assistant context.
	assert.Contains(t, endpoint.requests[1], "corner")
}

// Verifies two malformed replies end in a single typed ParseError, with no
// third attempt.
func TestDecide_TwoMalformedRepliesIsParseError(t *testing.T) {
	endpoint := newScriptedEndpoint(t, "still prose", "more prose")
	client := newTestClient(t, endpoint.server.URL)

	_, err := client.Decide(context.Background(), testFrame(), "open settings", nil)
	require.Error(t, err)
	var parseErr *schemas.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, int32(2), endpoint.calls.Load())
}

// Verifies a structurally invalid action counts as malformed: valid JSON
// with a bogus kind triggers the re-prompt path.
func TestDecide_InvalidActionTriggersReprompt(t *testing.T) {
	endpoint := newScriptedEndpoint(t,
		`{"action":"teleport","params":{}}`,
		`{"action":"wait","params":{"duration_ms":500}}`,
	)
	client := newTestClient(t, endpoint.server.URL)

	action, err := client.Decide(context.Background(), testFrame(), "wait for load", nil)
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionWait, action.Kind)
}

// Verifies recent history is rendered into the prompt.
func TestDecide_HistoryInPrompt(t *testing.T) {
	endpoint := newScriptedEndpoint(t, `{"action":"done","params":{}}`)
	client := newTestClient(t, endpoint.server.URL)

	history := []schemas.Step{
		{
			Number:   1,
			Action:   schemas.Action{Kind: schemas.ActionLaunch, Params: schemas.ActionParams{App: "notepad"}},
			Result:   schemas.ActionResult{Success: true, Tier: schemas.TierDirect},
			Verified: true,
		},
		{
			Number: 2,
			Action: schemas.Action{Kind: schemas.ActionClick, Params: schemas.ActionParams{X: 5, Y: 5}},
			Result: schemas.ActionResult{Success: false, Tier: schemas.TierFallback, Error: "injection blocked"},
		},
	}

	_, err := client.Decide(context.Background(), testFrame(), "write a note", history)
	require.NoError(t, err)

	request := endpoint.requests[0]
	assert.Contains(t, request, "launch(notepad)")
	assert.Contains(t, request, "FAILED: injection blocked")
}

// Verifies transient server errors are retried before succeeding.
func TestDecide_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(chatReply(`{"action":"done","params":{}}`)))
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	action, err := client.Decide(context.Background(), testFrame(), "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionDone, action.Kind)
	assert.Equal(t, int32(2), calls.Load())
}

// Verifies a client-side rejection is not retried and surfaces as a typed
// InferenceError.
func TestDecide_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	_, err := client.Decide(context.Background(), testFrame(), "anything", nil)
	require.Error(t, err)
	var infErr *schemas.InferenceError
	require.ErrorAs(t, err, &infErr)
	assert.Equal(t, int32(1), calls.Load())
}

// -- Test Cases: Judge --

// Verifies the verdict parse for both outcomes.
func TestJudge(t *testing.T) {
	for _, tc := range []struct {
		reply string
		want  bool
	}{
		{`{"changed": true}`, true},
		{`{"changed": false}`, false},
	} {
		endpoint := newScriptedEndpoint(t, tc.reply)
		client := newTestClient(t, endpoint.server.URL)

		action := schemas.Action{Kind: schemas.ActionClick, Params: schemas.ActionParams{X: 1, Y: 1}}
		changed, err := client.Judge(context.Background(), testFrame(), testFrame(), action)
		require.NoError(t, err)
		assert.Equal(t, tc.want, changed)

		// Both frames must be attached.
		assert.Equal(t, 2, strings.Count(endpoint.requests[0], "data:image/png;base64,"))
	}
}

// -- Test Cases: JSON Extraction --

// Verifies the extraction ladder: fence, brace span, passthrough.
func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no lang", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around braces", `Sure! {"a":1} Hope that helps.`, `{"a":1}`},
		{"no json at all", "nothing here", "nothing here"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractJSON(tc.in))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
