package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/piston-go/internal/observability"
	"github.com/michaelbrown/piston-go/internal/sandbox"
	"github.com/michaelbrown/piston-go/internal/storage"
	"github.com/michaelbrown/piston-go/internal/storage/sqlite"
	"github.com/michaelbrown/piston-go/piston"
)

type fakeAPI struct {
	execute  func(ctx context.Context, req piston.ExecuteRequest) (*piston.ExecuteResponse, error)
	runtimes []piston.RuntimeInfo
	err      error
}

func (f *fakeAPI) Execute(ctx context.Context, req piston.ExecuteRequest, _ ...piston.CallOption) (*piston.ExecuteResponse, error) {
	return f.execute(ctx, req)
}

func (f *fakeAPI) Runtimes(context.Context, ...piston.CallOption) ([]piston.RuntimeInfo, error) {
	return f.runtimes, f.err
}

func echoAPI() *fakeAPI {
	return &fakeAPI{execute: func(_ context.Context, req piston.ExecuteRequest) (*piston.ExecuteResponse, error) {
		stdin := req.Stdin.Or("")
		return &piston.ExecuteResponse{
			Language: "python",
			Version:  "3.12.0",
			Run:      piston.StageResult{Stdout: stdin, Output: stdin, Code: piston.Some(0)},
		}, nil
	}}
}

func testServer(t *testing.T, api API, policy sandbox.Policy) (*Server, storage.Store) {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := New(Options{
		API:    api,
		Policy: policy,
		Store:  store,
		Obs:    &observability.Observability{Metrics: observability.NewMetrics()},
	})
	return s, store
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rr
}

const helloJob = `{"language":"py","version":"3.x","files":[{"content":"print(input())"}],"stdin":"Alice"}`

func TestExecute_RecordsRun(t *testing.T) {
	s, store := testServer(t, echoAPI(), sandbox.DefaultPolicy())

	rr := do(t, s, http.MethodPost, "/api/execute", helloJob)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp piston.ExecuteResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Alice", resp.Run.Stdout)
	assert.Equal(t, piston.Some(0), resp.Run.Code)

	runID := rr.Header().Get("X-Run-ID")
	require.NotEmpty(t, runID)
	run, err := store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, storage.OutcomeSuccess, run.Outcome)
	assert.Equal(t, storage.SourceServer, run.Source)
}

func TestExecute_PolicyApplied(t *testing.T) {
	var got piston.ExecuteRequest
	api := echoAPI()
	inner := api.execute
	api.execute = func(ctx context.Context, req piston.ExecuteRequest) (*piston.ExecuteResponse, error) {
		got = req
		return inner(ctx, req)
	}

	policy := sandbox.DefaultPolicy()
	policy.Languages = []string{"py"}
	policy.Limits.RunTimeout = piston.Some[int64](1000)
	s, _ := testServer(t, api, policy)

	rr := do(t, s, http.MethodPost, "/api/execute", helloJob)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, piston.Some[int64](1000), got.RunTimeout)

	rr = do(t, s, http.MethodPost, "/api/execute", `{"language":"go","version":"*","files":[{"content":"package main"}]}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.JSONEq(t, `{"error":"language not in allowlist: \"go\"","kind":"policy"}`, rr.Body.String())
}

func TestExecute_ErrorStatuses(t *testing.T) {
	tests := []struct {
		err  error
		want int
		kind string
	}{
		{&piston.Error{Kind: piston.KindValidation, Message: "language is required as a string"}, http.StatusBadRequest, "validation"},
		{&piston.Error{Kind: piston.KindContentType, Message: "requests must be of type application/json"}, http.StatusUnsupportedMediaType, "content_type"},
		{&piston.Error{Kind: piston.KindServer, Message: "Internal server error"}, http.StatusBadGateway, "server"},
		{&piston.Error{Kind: piston.KindNetwork, Message: "Failed to connect to Piston API: refused"}, http.StatusServiceUnavailable, "network"},
		{&piston.Error{Kind: piston.KindUnexpected, Message: "Unexpected error: HTTP 418: I'm a teapot"}, http.StatusBadGateway, "unexpected"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			api := &fakeAPI{execute: func(context.Context, piston.ExecuteRequest) (*piston.ExecuteResponse, error) {
				return nil, tt.err
			}}
			s, store := testServer(t, api, sandbox.DefaultPolicy())

			rr := do(t, s, http.MethodPost, "/api/execute", helloJob)
			assert.Equal(t, tt.want, rr.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.kind, body.Kind)
			assert.Equal(t, tt.err.Error(), body.Error)

			run, err := store.GetRun(context.Background(), rr.Header().Get("X-Run-ID"))
			require.NoError(t, err)
			assert.Equal(t, storage.OutcomeError, run.Outcome)
			assert.Equal(t, tt.kind, run.ErrorKind)
		})
	}
}

func TestExecute_BadRequests(t *testing.T) {
	s, _ := testServer(t, echoAPI(), sandbox.DefaultPolicy())

	rr := do(t, s, http.MethodPost, "/api/execute", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, http.MethodPost, "/api/execute", `{"language":"py","version":"*","files":[]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "no code or files")
}

func TestRuntimes(t *testing.T) {
	api := &fakeAPI{runtimes: []piston.RuntimeInfo{
		{Language: "python", Version: "3.12.0", Aliases: []string{"py", "python3"}},
		{Language: "javascript", Version: "20.11.1", Aliases: []string{"node-javascript", "js"}, Runtime: "node"},
	}}
	s, _ := testServer(t, api, sandbox.DefaultPolicy())

	rr := do(t, s, http.MethodGet, "/api/runtimes", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var all []piston.RuntimeInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	rr = do(t, s, http.MethodGet, "/api/runtimes?language=JS", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var filtered []piston.RuntimeInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &filtered))
	require.Len(t, filtered, 1)
	assert.Equal(t, "node", filtered[0].Runtime)

	api.err = &piston.Error{Kind: piston.KindServer, Message: "Internal server error"}
	rr = do(t, s, http.MethodGet, "/api/runtimes", "")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestRuns(t *testing.T) {
	s, _ := testServer(t, echoAPI(), sandbox.DefaultPolicy())

	first := do(t, s, http.MethodPost, "/api/execute", helloJob).Header().Get("X-Run-ID")
	do(t, s, http.MethodPost, "/api/execute", helloJob)

	rr := do(t, s, http.MethodGet, "/api/runs?limit=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []storage.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)

	rr = do(t, s, http.MethodGet, "/api/runs?outcome=error", "")
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = do(t, s, http.MethodGet, "/api/runs/"+first[:8], "")
	require.Equal(t, http.StatusOK, rr.Code)
	var run storage.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
	assert.Equal(t, first, run.ID)

	rr = do(t, s, http.MethodDelete, "/api/runs/"+first, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, s, http.MethodGet, "/api/runs/"+first, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := testServer(t, echoAPI(), sandbox.DefaultPolicy())
	do(t, s, http.MethodPost, "/api/execute", helloJob)

	rr := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `piston_gateway_executions_total{language="python",outcome="success"} 1`)
}

func TestNoHistoryRoutesWithoutStore(t *testing.T) {
	s := New(Options{API: echoAPI(), Policy: sandbox.DefaultPolicy()})

	rr := do(t, s, http.MethodPost, "/api/execute", helloJob)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("X-Run-ID"))

	rr = do(t, s, http.MethodGet, "/api/runs", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// --- WebSocket ---

func dialWS(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) wsOutgoing {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var out wsOutgoing
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func TestWebSocket_Execute(t *testing.T) {
	s, _ := testServer(t, echoAPI(), sandbox.DefaultPolicy())
	conn := dialWS(t, s)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"execute","id":"c1","request":`+helloJob+`}`)))

	out := readWS(t, conn)
	assert.Equal(t, "result", out.Type)
	assert.Equal(t, "c1", out.ID)
	assert.NotEmpty(t, out.RunID)
	require.NotNil(t, out.Result)
	assert.Equal(t, "Alice", out.Result.Run.Stdout)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "bogus"}))
	out = readWS(t, conn)
	assert.Equal(t, "error", out.Type)
	assert.Equal(t, "invalid message", out.Error)
}

func TestWebSocket_ErrorKind(t *testing.T) {
	api := &fakeAPI{execute: func(context.Context, piston.ExecuteRequest) (*piston.ExecuteResponse, error) {
		return nil, &piston.Error{Kind: piston.KindValidation, Message: "cobol-* runtime is unknown"}
	}}
	s, _ := testServer(t, api, sandbox.DefaultPolicy())
	conn := dialWS(t, s)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"execute","id":"c2","request":`+helloJob+`}`)))

	out := readWS(t, conn)
	assert.Equal(t, "error", out.Type)
	assert.Equal(t, "c2", out.ID)
	assert.Equal(t, "validation", out.Kind)
	assert.Equal(t, "cobol-* runtime is unknown", out.Error)
}

// blockingAPI blocks every execution until its context ends.
func blockingAPI(started chan<- struct{}) *fakeAPI {
	return &fakeAPI{execute: func(ctx context.Context, _ piston.ExecuteRequest) (*piston.ExecuteResponse, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, &piston.Error{Kind: piston.KindNetwork, Message: "Failed to connect to Piston API: " + ctx.Err().Error(), Cause: ctx.Err()}
	}}
}

func TestWebSocket_Cancel(t *testing.T) {
	started := make(chan struct{}, 1)
	s, _ := testServer(t, blockingAPI(started), sandbox.DefaultPolicy())
	conn := dialWS(t, s)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"execute","id":"slow","request":`+helloJob+`}`)))
	<-started

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "cancel", "id": "slow"}))

	out := readWS(t, conn)
	assert.Equal(t, "error", out.Type)
	assert.Equal(t, "slow", out.ID)
	assert.Equal(t, "cancelled", out.Error)
}

func TestWebSocket_DuplicateIDRejected(t *testing.T) {
	started := make(chan struct{}, 2)
	s, _ := testServer(t, blockingAPI(started), sandbox.DefaultPolicy())
	conn := dialWS(t, s)

	msg := []byte(`{"type":"execute","id":"dup","request":` + helloJob + `}`)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))

	out := readWS(t, conn)
	assert.Equal(t, "error", out.Type)
	assert.Equal(t, "dup", out.ID)
	assert.Equal(t, "execution id already in use", out.Error)

	<-started
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "cancel", "id": "dup"}))
	out = readWS(t, conn)
	assert.Equal(t, "cancelled", out.Error)
	assert.Len(t, started, 0, "the rejected message must not start an execution")
}

func TestShutdown_CancelsInFlight(t *testing.T) {
	started := make(chan struct{}, 1)
	s, _ := testServer(t, blockingAPI(started), sandbox.DefaultPolicy())

	errc := make(chan error, 1)
	go func() {
		_, err := s.execute(context.Background(), "in-flight", storage.SourceServer, piston.ExecuteRequest{
			Language: "py", Version: "*", Files: []piston.ExecuteFile{{Content: "while True: pass"}},
		})
		errc <- err
	}()
	<-started

	require.NoError(t, s.Shutdown(context.Background()))

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, context.Canceled), "err = %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("execution was not cancelled")
	}
}
