package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/michaelbrown/piston-go/internal/config"
	"github.com/michaelbrown/piston-go/internal/logging"
	"github.com/michaelbrown/piston-go/internal/sandbox"
	"github.com/michaelbrown/piston-go/internal/storage"
	"github.com/michaelbrown/piston-go/internal/storage/sqlite"
	"github.com/michaelbrown/piston-go/piston"
)

func main() {
	cfg, err := config.Load(os.Getenv("PISTON_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	// stdout carries the MCP stream; logs go to stderr.
	logger, _, err := logging.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	client := piston.New(cfg.BaseURL,
		piston.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		piston.WithHeaders(cfg.Headers),
		piston.WithLogger(logger),
	)

	var store storage.Store
	if os.Getenv("PISTON_NO_HISTORY") == "" {
		if store, err = sqlite.Open(cfg.Storage.DBPath); err != nil {
			logger.Warn("history disabled", zap.Error(err))
			store = nil
		} else {
			defer store.Close()
		}
	}

	t := &tools{
		client:  client,
		sandbox: sandbox.NewRemoteSandbox(&recorder{exec: client, store: store, logger: logger}, sandbox.PolicyFromConfig(cfg)),
	}

	s := server.NewMCPServer("piston-code-runner", "0.1.0")
	t.register(s)

	if err := server.ServeStdio(s); err != nil {
		logger.Error("server error", zap.Error(err))
	}
}

// runtimeLister is satisfied by *piston.Client.
type runtimeLister interface {
	Runtimes(ctx context.Context, opts ...piston.CallOption) ([]piston.RuntimeInfo, error)
}

type tools struct {
	client  runtimeLister
	sandbox sandbox.Sandbox
}

func (t *tools) register(s *server.MCPServer) {
	s.AddTool(mcp.Tool{
		Name:        "code_run",
		Description: "Execute code on a Piston service. Use list_runtimes to see the available languages.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"language": map[string]any{
					"type":        "string",
					"description": "Language name or alias, e.g. python or py",
				},
				"version": map[string]any{
					"type":        "string",
					"description": "SemVer version selector (default: *)",
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Source code to execute",
				},
				"stdin": map[string]any{
					"type":        "string",
					"description": "Standard input to provide to the program (optional)",
				},
				"args": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Command-line arguments for the program (optional)",
				},
			},
			Required: []string{"language", "code"},
		},
	}, t.handleCodeRun)

	s.AddTool(mcp.Tool{
		Name:        "list_runtimes",
		Description: "List the languages and versions the Piston service can run.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}, t.handleListRuntimes)
}

func (t *tools) handleCodeRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	language, _ := args["language"].(string)
	version, _ := args["version"].(string)
	code, _ := args["code"].(string)
	if language == "" || code == "" {
		return errResult("error: 'language' and 'code' are required"), nil
	}

	opts := sandbox.ExecOpts{Language: language, Version: version, Code: code}
	if stdin, ok := args["stdin"].(string); ok {
		opts.Stdin = piston.Some(stdin)
	}
	if raw, ok := args["args"].([]any); ok {
		argv := make([]string, 0, len(raw))
		for _, a := range raw {
			s, ok := a.(string)
			if !ok {
				return errResult("error: 'args' must be an array of strings"), nil
			}
			argv = append(argv, s)
		}
		opts.Args = piston.Some(argv)
	}

	result, err := t.sandbox.Exec(ctx, opts)
	if err != nil {
		if kind, ok := piston.KindOf(err); ok {
			return errResult(fmt.Sprintf("%s error: %v", kind, err)), nil
		}
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	text := fmt.Sprintf("[%s %s]\n%s", result.Language, result.Version, sandbox.Format(result, 0))
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: !result.OK(),
	}, nil
}

func (t *tools) handleListRuntimes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runtimes, err := t.client.Runtimes(ctx)
	if err != nil {
		if kind, ok := piston.KindOf(err); ok {
			return errResult(fmt.Sprintf("%s error: %v", kind, err)), nil
		}
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	sort.Slice(runtimes, func(i, j int) bool {
		if runtimes[i].Language != runtimes[j].Language {
			return runtimes[i].Language < runtimes[j].Language
		}
		return runtimes[i].Version < runtimes[j].Version
	})

	var b strings.Builder
	for _, r := range runtimes {
		b.WriteString(r.String())
		if len(r.Aliases) > 0 {
			b.WriteString(" (" + strings.Join(r.Aliases, ", ") + ")")
		}
		b.WriteString("\n")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: b.String()}},
	}, nil
}

// recorder records every execution that reaches the service.
type recorder struct {
	exec   sandbox.Executor
	store  storage.Store
	logger *zap.Logger
}

func (r *recorder) Execute(ctx context.Context, req piston.ExecuteRequest, opts ...piston.CallOption) (*piston.ExecuteResponse, error) {
	started := time.Now()
	resp, execErr := r.exec.Execute(ctx, req, opts...)
	if r.store == nil {
		return resp, execErr
	}

	run, err := storage.NewRun(storage.SourceMCP, req, resp, execErr, started)
	if err == nil {
		err = r.store.Record(context.WithoutCancel(ctx), run)
	}
	if err != nil {
		r.logger.Warn("recording run failed", zap.Error(err))
	}
	return resp, execErr
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
