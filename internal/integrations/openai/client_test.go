package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tire-assistant/internal/domain"
)

// ---------------------------------------------------------------------------
// chatURL helper
// ---------------------------------------------------------------------------

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_NilGetter(t *testing.T) {
	_, err := NewClient(nil, "/tire-assistant")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_Valid(t *testing.T) {
	g := &fakeGetter{}
	c, err := NewClient(g, "/tire-assistant")
	require.NoError(t, err)
	require.Equal(t, "https://api.openai.com/v1", c.baseURL)
	require.Equal(t, "gpt-4", c.model)
	require.NotNil(t, c.getter)
}

// ---------------------------------------------------------------------------
// resolveAPIKey: SSM caching
// ---------------------------------------------------------------------------

func TestResolveAPIKey_FetchedOnFirstCall(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/tire-assistant")
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)
	require.Equal(t, 1, calls)

	// subsequent calls must never hit SSM again
	_, _ = c.resolveAPIKey(context.Background())
	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 1, calls, "SSM must only be called once per process lifetime")
}

// ---------------------------------------------------------------------------
// fetchAPIKeyFromParamStore
// ---------------------------------------------------------------------------

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func() // optional; called on each GetParameter invocation
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestFetchAPIKey_JSONToken(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-json"}`}
	key, err := fetchAPIKeyFromParamStore(context.Background(), g, "/tire-assistant/open-ai-token")
	require.NoError(t, err)
	require.Equal(t, "sk-from-json", key)
}

func TestFetchAPIKey_JSONMissingTokenField(t *testing.T) {
	g := &fakeGetter{val: `{"other":"value"}`}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "/tire-assistant/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "API token is empty")
}

func TestFetchAPIKey_RawToken(t *testing.T) {
	g := &fakeGetter{val: " sk-raw \n"}
	key, err := fetchAPIKeyFromParamStore(context.Background(), g, "/tire-assistant/open-ai-token")
	require.NoError(t, err)
	require.Equal(t, "sk-raw", key)
}

func TestFetchAPIKey_MalformedJSON(t *testing.T) {
	g := &fakeGetter{val: `{"broken`}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "/tire-assistant/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal")
}

func TestFetchAPIKey_GetterError(t *testing.T) {
	g := &fakeGetter{err: errors.New("ssm unavailable")}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "/tire-assistant/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ssm unavailable")
}

func TestFetchAPIKey_NilGetter(t *testing.T) {
	_, err := fetchAPIKeyFromParamStore(context.Background(), nil, "/tire-assistant/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestFetchAPIKey_EmptyName(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-json"}`}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty")
}

// ---------------------------------------------------------------------------
// Client.Chat
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		&fakeGetter{val: `{"token":"sk-test"}`},
		"/tire-assistant",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
		WithModel("gpt-mock"),
		WithTemperature(0.7),
	)
	require.NoError(t, err)
	return c
}

func TestClient_Chat_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		reqBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(reqBody), `"model":"gpt-mock"`)
		require.Contains(t, string(reqBody), `"temperature":0.7`)
		require.Contains(t, string(reqBody), `"content":"¿Tienen 205/55R16?"`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"Déjame revisar el inventario."}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Chat(context.Background(), "gpt-mock", []domain.ChatMessage{{Role: domain.ChatRoleUser, Content: "¿Tienen 205/55R16?"}})
	require.NoError(t, err)
	require.Equal(t, "Déjame revisar el inventario.", resp)
}

func TestClient_Chat_Failures(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		wantErr    string
		wantStatus int
	}{
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"bad request"}`, wantErr: "unexpected status", wantStatus: 400},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":"rate limited"}`, wantErr: "429", wantStatus: 429},
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`, wantErr: "500", wantStatus: 500},
		{name: "invalid json", status: http.StatusOK, body: `not-a-json`, wantErr: "decode response"},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, wantErr: "no choices"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv)
			_, err := c.Chat(context.Background(), "gpt-mock", []domain.ChatMessage{{Role: domain.ChatRoleUser, Content: "hola"}})
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)

			var statusErr *HTTPStatusError
			if tc.wantStatus == 0 {
				require.False(t, errors.As(err, &statusErr))
				return
			}
			require.True(t, errors.As(err, &statusErr))
			require.Equal(t, tc.wantStatus, statusErr.HTTPStatusCode())
		})
	}
}

func TestClient_Timeouts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"choices":[],"results":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}

	_, err := c.Chat(context.Background(), "gpt-mock", nil)
	require.Error(t, err)
	_, err = c.Moderate(context.Background(), "hola")
	require.Error(t, err)
}

func TestClient_Chat_EmptyModel(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/tire-assistant")
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}

func TestClient_Moderate_NetworkError(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/tire-assistant")
	require.NoError(t, err)
	c.baseURL = "http://127.0.0.1:1"
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	_, err = c.Moderate(context.Background(), "hola")
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

// ---------------------------------------------------------------------------
// moderationURL helper
// ---------------------------------------------------------------------------

func TestModerationURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/moderations"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/moderations"},
		{"http://localhost:8080", "http://localhost:8080/v1/moderations"},
		{"", "https://api.openai.com/v1/moderations"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, moderationURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// Client.Moderate
// ---------------------------------------------------------------------------

func TestClient_Moderate(t *testing.T) {
	cases := []struct {
		name        string
		status      int
		body        string
		wantFlagged bool
		wantErr     string
	}{
		{name: "clean", status: http.StatusOK, body: `{"results":[{"flagged":false}]}`},
		{name: "flagged", status: http.StatusOK, body: `{"results":[{"flagged":true}]}`, wantFlagged: true},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":"rate limited"}`, wantErr: "429"},
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`, wantErr: "500"},
		{name: "malformed", status: http.StatusOK, body: `not-json`, wantErr: "decode moderation response"},
		{name: "empty results", status: http.StatusOK, body: `{"results":[]}`, wantErr: "no results"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/v1/moderations", r.URL.Path)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv)
			flagged, err := c.Moderate(context.Background(), "eres un inútil")
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantFlagged, flagged)
		})
	}
}

// ---------------------------------------------------------------------------
// Client.Complete: bracketed marker convention
// ---------------------------------------------------------------------------

func completionServer(t *testing.T, content string, inspect func(body string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if inspect != nil {
			inspect(string(body))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":` + content + `}}]}`))
	}))
}

func TestClient_Complete_DetectsMarker(t *testing.T) {
	srv := completionServer(t, `"Déjame revisar. [buscarInventarioCliente({\"medida\":\"205/55R16\"})]"`, nil)
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.Complete(context.Background(), domain.CompletionRequest{
		Messages: []domain.ChatMessage{{Role: domain.ChatRoleUser, Content: "tienen 205/55R16?"}},
	})
	require.NoError(t, err)
	require.True(t, out.IsToolCall())
	require.Equal(t, "buscarInventarioCliente", out.ToolCall.Name)
	require.Equal(t, `{"medida":"205/55R16"}`, out.ToolCall.Arguments)
	require.Contains(t, out.Text, "Déjame revisar.")
}

func TestClient_Complete_PlainText(t *testing.T) {
	srv := completionServer(t, `"¡Hola! ¿Qué medida buscas?"`, nil)
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.Complete(context.Background(), domain.CompletionRequest{})
	require.NoError(t, err)
	require.False(t, out.IsToolCall())
	require.Equal(t, "¡Hola! ¿Qué medida buscas?", out.Text)
}

func TestClient_Complete_NullContentFallsBackToEllipsis(t *testing.T) {
	srv := completionServer(t, `null`, nil)
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.Complete(context.Background(), domain.CompletionRequest{})
	require.NoError(t, err)
	require.Equal(t, "...", out.Text)
}

func TestClient_Complete_SendsToolTurnAsFunctionRole(t *testing.T) {
	var body string
	srv := completionServer(t, `"Tenemos Michelin a 1800 pesos."`, func(b string) { body = b })
	defer srv.Close()

	call := &domain.ToolInvocation{Name: "buscarInventarioCliente", Arguments: `{"medida":"205/55R16"}`}
	c := newTestClient(t, srv)
	_, err := c.Complete(context.Background(), domain.CompletionRequest{
		Messages: []domain.ChatMessage{
			{Role: domain.ChatRoleUser, Content: "tienen 205/55R16?"},
			{Role: domain.ChatRoleAssistant, ToolCall: call},
			{Role: domain.ChatRoleTool, Content: "• Michelin 205/55R16 – nueva – 1800 pesos", ToolCall: call},
		},
	})
	require.NoError(t, err)
	require.Contains(t, body, `"role":"function","content":"• Michelin 205/55R16 – nueva – 1800 pesos","name":"buscarInventarioCliente"`)
	require.True(t, strings.Contains(body, `[buscarInventarioCliente(`), "assistant turn should carry the marker")
}
