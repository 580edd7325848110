package driver

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/averell-dev/deskrover/api/schemas"
	"github.com/averell-dev/deskrover/internal/config"
)

// -- Test Setup Helpers --

// driverConfigFor points a DriverConfig at a test server.
func driverConfigFor(t *testing.T, serverURL string) config.DriverConfig {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return config.DriverConfig{
		Host:            host,
		Port:            port,
		ConnectTimeout:  2 * time.Second,
		ResolverTimeout: 2 * time.Second,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(driverConfigFor(t, server.URL), zaptest.NewLogger(t))
	return client, server
}

// -- Test Cases: Session Protocol --

// Verifies capability negotiation and session id extraction from the W3C
// response shape.
func TestCreateSession_Success(t *testing.T) {
	var gotBody []byte
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/session", r.URL.Path)
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"value":{"sessionId":"sess-42"}}`))
	}))

	id, err := client.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-42", id)

	body := string(gotBody)
	assert.Contains(t, body, `"platformName":"Windows"`)
	assert.Contains(t, body, `"appium:app":"Root"`)
}

// Verifies the legacy top-level sessionId is also accepted.
func TestCreateSession_LegacyResponseShape(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sessionId":"legacy-1","value":{}}`))
	}))

	id, err := client.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "legacy-1", id)
}

// Verifies a rejected session surfaces as a typed SessionError.
func TestCreateSession_Rejected(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"value":{"error":"session not created"}}`, http.StatusInternalServerError)
	}))

	_, err := client.CreateSession(context.Background())
	require.Error(t, err)
	var sessErr *schemas.SessionError
	assert.ErrorAs(t, err, &sessErr)
}

// Verifies DeleteSession treats a server-side 404 as success: the session is
// simply already gone.
func TestDeleteSession_AlreadyGone(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/session/sess-42", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))

	assert.NoError(t, client.DeleteSession(context.Background(), "sess-42"))
}

// -- Test Cases: Element Resolution --

// Verifies the point query and legacy ELEMENT key extraction.
func TestElementFromPoint_FoundLegacyKey(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session/s1/element", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "xpath")
		assert.Contains(t, string(body), "500")
		assert.Contains(t, string(body), "300")
		w.Write([]byte(`{"value":{"ELEMENT":"el1"}}`))
	}))

	el, err := client.ElementFromPoint(context.Background(), "s1", 500, 300)
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.Equal(t, "el1", el.ID)
}

// Verifies the W3C element key is also recognized.
func TestElementFromPoint_FoundW3CKey(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":{"element-6066-11e4-a52e-4f735466cecf":"el2"}}`))
	}))

	el, err := client.ElementFromPoint(context.Background(), "s1", 10, 10)
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.Equal(t, "el2", el.ID)
}

// Verifies "nothing at that point" is a nil element, not an error.
func TestElementFromPoint_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"value":{"error":"no such element"}}`, http.StatusNotFound)
	}))

	el, err := client.ElementFromPoint(context.Background(), "s1", 5, 5)
	assert.NoError(t, err)
	assert.Nil(t, el)
}

// Verifies an empty value object is treated as not found.
func TestElementFromPoint_EmptyValue(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":{}}`))
	}))

	el, err := client.ElementFromPoint(context.Background(), "s1", 5, 5)
	assert.NoError(t, err)
	assert.Nil(t, el)
}

// Verifies a transport failure is a typed ElementResolutionError.
func TestElementFromPoint_TransportError(t *testing.T) {
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	_, err := client.ElementFromPoint(context.Background(), "s1", 5, 5)
	require.Error(t, err)
	var resErr *schemas.ElementResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, 5, resErr.X)
}

// Verifies the lookup is bounded by the resolver timeout.
func TestElementFromPoint_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte(`{"value":{"ELEMENT":"late"}}`))
	}))
	t.Cleanup(server.Close)

	cfg := driverConfigFor(t, server.URL)
	cfg.ResolverTimeout = 50 * time.Millisecond
	client := NewClient(cfg, zaptest.NewLogger(t))

	start := time.Now()
	_, err := client.ElementFromPoint(context.Background(), "s1", 1, 1)
	elapsed := time.Since(start)

	require.Error(t, err)
	var resErr *schemas.ElementResolutionError
	assert.ErrorAs(t, err, &resErr)
	assert.Less(t, elapsed, 400*time.Millisecond, "lookup must be cut off by the resolver timeout")
}

// -- Test Cases: Element Operations --

// Verifies the native click endpoint path.
func TestClickElement(t *testing.T) {
	var path string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Write([]byte(`{"value":null}`))
	}))

	err := client.ClickElement(context.Background(), "s1", &schemas.Element{ID: "el1"})
	require.NoError(t, err)
	assert.Equal(t, "/session/s1/element/el1/click", path)
}

// Verifies the double-click W3C actions payload targets the element origin.
func TestDoubleClickElement(t *testing.T) {
	var body []byte
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session/s1/actions", r.URL.Path)
		body, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"value":null}`))
	}))

	err := client.DoubleClickElement(context.Background(), "s1", &schemas.Element{ID: "el9"})
	require.NoError(t, err)

	payload := string(body)
	assert.Contains(t, payload, `"pointerDown"`)
	assert.Contains(t, payload, w3cElementKey)
	assert.Contains(t, payload, "el9")
}
