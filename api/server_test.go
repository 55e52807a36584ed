package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/mcp-training/userdirectory/core/engine"
	"github.com/wricardo/mcp-training/userdirectory/core/session"
)

const (
	initBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"t","version":"1"}}}`
	pingBody = `{"jsonrpc":"2.0","id":2,"method":"ping"}`
)

// testServer wires a router over a registry whose engines carry a counter
// tool and a tool that blocks until its context ends.
type testServer struct {
	*Server
	registry *session.Registry
	metrics  *Metrics
	engines  sync.Map // id -> *engine.Engine
}

func newTestServer(t *testing.T, mutate ...func(*Config)) *testServer {
	t.Helper()
	ts := &testServer{metrics: NewMetrics()}

	factory := func(id string, opts ...engine.Option) (*engine.Engine, error) {
		srv := server.NewMCPServer("test", "0.1", server.WithToolCapabilities(false))
		calls := 0
		srv.AddTool(mcp.NewTool("count"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			calls++
			return mcp.NewToolResultText(strings.Repeat("x", calls)), nil
		})
		srv.AddTool(mcp.NewTool("block"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		eng := engine.New(id, srv, opts...)
		ts.engines.Store(id, eng)
		return eng, nil
	}
	ts.registry = session.NewRegistry(factory, session.WithObserver(ts.metrics))

	cfg := DefaultConfig()
	cfg.KeepAlive = 20 * time.Millisecond
	for _, fn := range mutate {
		fn(&cfg)
	}
	ts.Server = NewServer(ts.registry, cfg, WithMetrics(ts.metrics))
	t.Cleanup(func() { ts.registry.CloseAll(engine.ReasonShutdown) })
	return ts
}

func (ts *testServer) do(method, sid, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/rpc", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sid != "" {
		req.Header.Set(HeaderSessionID, sid)
	}
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) initSession(t *testing.T) string {
	t.Helper()
	rec := ts.do(http.MethodPost, "", initBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sid := rec.Header().Get(HeaderSessionID)
	require.NotEmpty(t, sid)
	return sid
}

func toolCall(id int, name string) string {
	return `{"jsonrpc":"2.0","id":` + strconv.Itoa(id) + `,"method":"tools/call","params":{"name":"` + name + `","arguments":{}}}`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) rpcErrorBody {
	t.Helper()
	var body rpcErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func assertNoSession(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "2.0", body.JSONRPC)
	assert.Equal(t, CodeNoValidSession, body.Error.Code)
	assert.Equal(t, msgNoValidSession, body.Error.Message)
	assert.Nil(t, body.ID)
}

func TestRouter_FullConversation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "", initBody)
	require.Equal(t, http.StatusOK, rec.Code)
	sid := rec.Header().Get(HeaderSessionID)
	require.NotEmpty(t, sid)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var initResp struct {
		ID     int `json:"id"`
		Result struct {
			ProtocolVersion string `json:"protocolVersion"`
			ServerInfo      struct {
				Name string `json:"name"`
			} `json:"serverInfo"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &initResp))
	assert.Equal(t, 1, initResp.ID)
	assert.Equal(t, "2025-03-26", initResp.Result.ProtocolVersion)
	assert.Equal(t, "test", initResp.Result.ServerInfo.Name)

	rec = ts.do(http.MethodPost, sid, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = ts.do(http.MethodPost, sid, pingBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"result":{}}`, rec.Body.String())

	rec = ts.do(http.MethodDelete, sid, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, 0, ts.registry.Count())

	assertNoSession(t, ts.do(http.MethodPost, sid, pingBody))
}

func TestRouter_SameEngineAcrossCalls(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.initSession(t)
	first, ok := ts.engines.Load(sid)
	require.True(t, ok)

	for i := 1; i <= 5; i++ {
		rec := ts.do(http.MethodPost, sid, toolCall(10+i, "count"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Result struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"result"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Result.Content, 1)
		assert.Equal(t, strings.Repeat("x", i), resp.Result.Content[0].Text, "call %d", i)

		got, err := ts.registry.Lookup(sid)
		require.NoError(t, err)
		assert.Same(t, first, got.Engine)
	}

	// The handshake is not requested again.
	rec := ts.do(http.MethodPost, sid, initBody)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "session already initialized", decodeError(t, rec).Error.Message)
}

func TestRouter_UnknownSessionLeavesRegistryUntouched(t *testing.T) {
	ts := newTestServer(t)
	existing := ts.initSession(t)

	for _, method := range []string{http.MethodPost, http.MethodGet, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			assertNoSession(t, ts.do(method, "never-created", pingBody))
			assert.Equal(t, 1, ts.registry.Count())
			_, err := ts.registry.Lookup(existing)
			assert.NoError(t, err)
		})
	}
}

func TestRouter_MissingSession(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
	}{
		{"post non-init request", http.MethodPost, pingBody},
		{"post notification", http.MethodPost, `{"jsonrpc":"2.0","method":"notifications/initialized"}`},
		{"post garbage", http.MethodPost, `{not json`},
		{"post batch", http.MethodPost, `[` + initBody + `]`},
		{"get", http.MethodGet, ""},
		{"delete", http.MethodDelete, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			assertNoSession(t, ts.do(tt.method, "", tt.body))
			assert.Equal(t, 0, ts.registry.Count())
		})
	}
}

func TestRouter_ProtocolErrorsKeepSession(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.initSession(t)

	rec := ts.do(http.MethodPost, sid, `[`+pingBody+`]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, mcp.INVALID_REQUEST, decodeError(t, rec).Error.Code)

	rec = ts.do(http.MethodPost, sid, `{"jsonrpc":"1.0","id":3,"method":"ping"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, sid, pingBody)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_InitFailureEvicts(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderSessionID))
	assert.Equal(t, 0, ts.registry.Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.sessionsEvicted.WithLabelValues(string(engine.ReasonInitFailed))))
}

func TestRouter_UninitializedSessionIsNotAddressable(t *testing.T) {
	ts := newTestServer(t)
	sess, err := ts.registry.Create()
	require.NoError(t, err)

	assertNoSession(t, ts.do(http.MethodPost, sess.ID, pingBody))
	assertNoSession(t, ts.do(http.MethodDelete, sess.ID, ""))
}

func TestRouter_BodyLimit(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.MaxBodyBytes = 64 })

	rec := ts.do(http.MethodPost, "", initBody)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, mcp.INVALID_REQUEST, decodeError(t, rec).Error.Code)
	assert.Equal(t, 0, ts.registry.Count())
}

func TestRouter_InitRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *Config) {
		c.InitRate = 0.001
		c.InitBurst = 2
	})

	ts.initSession(t)
	ts.initSession(t)
	rec := ts.do(http.MethodPost, "", initBody)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeNoValidSession, decodeError(t, rec).Error.Code)
	assert.Equal(t, 2, ts.registry.Count())
}

func TestRouter_ConcurrentInitializationsGetDistinctSessions(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.InitRate = 0 })

	const n = 50
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := ts.do(http.MethodPost, "", initBody)
			if assert.Equal(t, http.StatusOK, rec.Code) {
				ids <- rec.Header().Get(HeaderSessionID)
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestRouter_DisconnectEvicts(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.initSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(toolCall(5, "block"))).WithContext(ctx)
	req.Header.Set(HeaderSessionID, sid)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		ts.ServeHTTP(rec, req)
		close(done)
	}()

	eng, _ := ts.engines.Load(sid)
	require.Eventually(t, func() bool { return eng.(*engine.Engine).InFlight() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after disconnect")
	}
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, 0, ts.registry.Count())
	assert.Equal(t, engine.ReasonTransportClosed, eng.(*engine.Engine).CloseReason())
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.requests.WithLabelValues("POST", "499")))
}

func TestRouter_DisconnectWithoutEviction(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.EvictOnDisconnect = false })
	sid := ts.initSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(toolCall(5, "block"))).WithContext(ctx)
	req.Header.Set(HeaderSessionID, sid)
	ts.ServeHTTP(httptest.NewRecorder(), req)

	_, err := ts.registry.Lookup(sid)
	assert.NoError(t, err)
}

func TestRouter_BlockedSessionDoesNotStallOthers(t *testing.T) {
	ts := newTestServer(t)
	sidA := ts.initSession(t)
	sidB := ts.initSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(toolCall(5, "block"))).WithContext(ctx)
	req.Header.Set(HeaderSessionID, sidA)
	done := make(chan struct{})
	go func() {
		ts.ServeHTTP(httptest.NewRecorder(), req)
		close(done)
	}()

	engA, _ := ts.engines.Load(sidA)
	require.Eventually(t, func() bool { return engA.(*engine.Engine).InFlight() == 1 }, time.Second, 5*time.Millisecond)

	within := func(method, sid, body string) *httptest.ResponseRecorder {
		t.Helper()
		out := make(chan *httptest.ResponseRecorder, 1)
		go func() { out <- ts.do(method, sid, body) }()
		select {
		case rec := <-out:
			return rec
		case <-time.After(time.Second):
			t.Fatalf("%s on session %q stalled behind a busy session", method, sid)
			return nil
		}
	}

	rec := within(http.MethodPost, sidB, toolCall(6, "count"))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"x"`)

	rec = within(http.MethodPost, "", initBody)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(HeaderSessionID))
	assert.Equal(t, 1, engA.(*engine.Engine).InFlight(), "session A is still busy")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked call did not return after cancel")
	}
}

func TestRouter_DeleteRacingPost(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.initSession(t)

	var wg sync.WaitGroup
	var deleted sync.Map
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			rec := ts.do(http.MethodPost, sid, pingBody)
			assert.Contains(t, []int{http.StatusOK, http.StatusBadRequest}, rec.Code)
		}(i)
		go func(i int) {
			defer wg.Done()
			rec := ts.do(http.MethodDelete, sid, "")
			if rec.Code == http.StatusOK {
				deleted.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	count := 0
	deleted.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, 1, count)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.sessionsEvicted.WithLabelValues(string(engine.ReasonClientTerminated))))
	assert.Equal(t, 0.0, testutil.ToFloat64(ts.metrics.sessionsActive))
}

func TestRouter_SSEStream(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.initSession(t)
	httpSrv := httptest.NewServer(ts)
	defer httpSrv.Close()

	req, err := http.NewRequest(http.MethodGet, httpSrv.URL+"/rpc", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderSessionID, sid)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// A second stream for the same session is refused.
	rec := ts.do(http.MethodGet, sid, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	eng, _ := ts.engines.Load(sid)
	eng.(*engine.Engine).NotificationChannel() <- mcp.JSONRPCNotification{
		JSONRPC:      mcp.JSONRPC_VERSION,
		Notification: mcp.Notification{Method: "notifications/tools/list_changed"},
	}

	reader := bufio.NewReader(resp.Body)
	var sawKeepAlive, sawEvent bool
	deadline := time.Now().Add(2 * time.Second)
	for !(sawKeepAlive && sawEvent) && time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, ": keep-alive"):
			sawKeepAlive = true
		case strings.HasPrefix(line, "event: message"):
			data, err := reader.ReadString('\n')
			require.NoError(t, err)
			assert.Contains(t, data, `"method":"notifications/tools/list_changed"`)
			sawEvent = true
		}
	}
	assert.True(t, sawEvent)
	assert.True(t, sawKeepAlive)

	// Terminating the session ends the stream.
	assert.Equal(t, http.StatusOK, ts.do(http.MethodDelete, sid, "").Code)
	_, err = io.ReadAll(reader)
	assert.NoError(t, err)
}

func TestRouter_SSEDisconnectEvicts(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.initSession(t)
	httpSrv := httptest.NewServer(ts)
	defer httpSrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpSrv.URL+"/rpc", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderSessionID, sid)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	resp.Body.Close()

	assert.Eventually(t, func() bool { return ts.registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRouter_Diagnostics(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.initSession(t)

	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","sessions":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), sid)
	var listing struct {
		Count  int            `json:"count"`
		States map[string]int `json:"states"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Count)
	assert.Equal(t, map[string]int{"active": 1}, listing.States)

	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "userdirectory_sessions_active 1")
	assert.Contains(t, rec.Body.String(), `userdirectory_rpc_requests_total{status="200",verb="POST"} 1`)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPut, "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
