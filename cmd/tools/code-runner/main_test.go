package main

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/michaelbrown/piston-go/internal/sandbox"
	"github.com/michaelbrown/piston-go/internal/storage"
	"github.com/michaelbrown/piston-go/internal/storage/sqlite"
	"github.com/michaelbrown/piston-go/piston"
)

type fakeService struct {
	got      piston.ExecuteRequest
	resp     *piston.ExecuteResponse
	err      error
	runtimes []piston.RuntimeInfo
}

func (f *fakeService) Execute(_ context.Context, req piston.ExecuteRequest, _ ...piston.CallOption) (*piston.ExecuteResponse, error) {
	f.got = req
	return f.resp, f.err
}

func (f *fakeService) Runtimes(context.Context, ...piston.CallOption) ([]piston.RuntimeInfo, error) {
	return f.runtimes, f.err
}

func newTestTools(t *testing.T, svc *fakeService, store storage.Store) *tools {
	t.Helper()
	rec := &recorder{exec: svc, store: store, logger: zap.NewNop()}
	return &tools{client: svc, sandbox: sandbox.NewRemoteSandbox(rec, sandbox.DefaultPolicy())}
}

func callTool(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestCodeRun(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	svc := &fakeService{resp: &piston.ExecuteResponse{
		Language: "python",
		Version:  "3.12.0",
		Run:      piston.StageResult{Stdout: "hi bob\n", Code: piston.Some(0)},
	}}
	tl := newTestTools(t, svc, store)

	res, err := tl.handleCodeRun(context.Background(), callTool(map[string]any{
		"language": "py",
		"code":     "import sys; print('hi', sys.argv[1])",
		"args":     []any{"bob"},
		"stdin":    "",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "[python 3.12.0]\nhi bob\n", resultText(t, res))

	assert.Equal(t, "py", svc.got.Language)
	assert.Equal(t, "*", svc.got.Version)
	assert.Equal(t, piston.Some([]string{"bob"}), svc.got.Args)
	assert.Equal(t, piston.Some(""), svc.got.Stdin)

	runs, err := store.ListRuns(context.Background(), storage.RunListOptions{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.SourceMCP, runs[0].Source)
	assert.Equal(t, storage.OutcomeSuccess, runs[0].Outcome)
}

func TestCodeRun_NonZeroExitIsToolError(t *testing.T) {
	svc := &fakeService{resp: &piston.ExecuteResponse{
		Language: "python",
		Version:  "3.12.0",
		Run: piston.StageResult{
			Stderr: "boom\n",
			Code:   piston.Some(1),
			Status: piston.Some(piston.StatusRuntimeError),
		},
	}}
	res, err := newTestTools(t, svc, nil).handleCodeRun(context.Background(),
		callTool(map[string]any{"language": "python", "code": "raise SystemExit(1)"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "exit code: 1")
}

func TestCodeRun_ErrorNamesKind(t *testing.T) {
	svc := &fakeService{err: &piston.Error{Kind: piston.KindValidation, Message: "python-9.9.9 runtime is unknown", StatusCode: 400}}
	res, err := newTestTools(t, svc, nil).handleCodeRun(context.Background(),
		callTool(map[string]any{"language": "python", "version": "9.9.9", "code": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "validation error:")
	assert.Contains(t, resultText(t, res), "runtime is unknown")
}

func TestCodeRun_InvalidArguments(t *testing.T) {
	tl := newTestTools(t, &fakeService{}, nil)

	res, err := tl.handleCodeRun(context.Background(), callTool(map[string]any{"language": "python"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = tl.handleCodeRun(context.Background(), callTool(map[string]any{
		"language": "python", "code": "x", "args": []any{1},
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "array of strings")
}

func TestListRuntimes(t *testing.T) {
	svc := &fakeService{runtimes: []piston.RuntimeInfo{
		{Language: "python", Version: "3.12.0", Aliases: []string{"py"}},
		{Language: "bash", Version: "5.2.0"},
	}}
	res, err := newTestTools(t, svc, nil).handleListRuntimes(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "bash-5.2.0\npython-3.12.0 (py)\n", resultText(t, res))
}

func TestServer_InProcess(t *testing.T) {
	svc := &fakeService{resp: &piston.ExecuteResponse{
		Language: "bash",
		Version:  "5.2.0",
		Run:      piston.StageResult{Stdout: "ok\n", Code: piston.Some(0)},
	}}
	s := server.NewMCPServer("piston-code-runner", "test")
	newTestTools(t, svc, nil).register(s)

	ctx := context.Background()
	c, err := client.NewInProcessClient(s)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Start(ctx))

	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ClientInfo: mcp.Implementation{Name: "test", Version: "0.1.0"},
		},
	})
	require.NoError(t, err)

	list, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	require.NoError(t, err)
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"code_run", "list_runtimes"}, names)

	res, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "code_run",
			Arguments: map[string]any{"language": "bash", "code": "echo ok"},
		},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "[bash 5.2.0]\nok\n", resultText(t, res))
}
