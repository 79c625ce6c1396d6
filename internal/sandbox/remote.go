package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/michaelbrown/piston-go/piston"
)

var (
	ErrLanguageRequired   = errors.New("language is required")
	ErrNoCode             = errors.New("no code or files to execute")
	ErrLanguageNotAllowed = errors.New("language not in allowlist")
)

// Executor submits execution jobs. *piston.Client satisfies it.
type Executor interface {
	Execute(ctx context.Context, req piston.ExecuteRequest, opts ...piston.CallOption) (*piston.ExecuteResponse, error)
}

// RemoteSandbox runs code on a Piston service.
type RemoteSandbox struct {
	Policy Policy
	exec   Executor
}

// NewRemoteSandbox creates a sandbox with the given policy.
func NewRemoteSandbox(exec Executor, policy Policy) *RemoteSandbox {
	return &RemoteSandbox{Policy: policy, exec: exec}
}

// Request builds the execution request for opts under the sandbox policy.
func (r *RemoteSandbox) Request(opts ExecOpts) (piston.ExecuteRequest, error) {
	language := opts.Language
	if language == "" {
		language = r.Policy.DefaultLanguage
	}
	if language == "" {
		return piston.ExecuteRequest{}, ErrLanguageRequired
	}
	if !r.Policy.IsLanguageAllowed(language) {
		return piston.ExecuteRequest{}, fmt.Errorf("%w: %q", ErrLanguageNotAllowed, language)
	}

	version := opts.Version
	if version == "" {
		version = r.Policy.DefaultVersion
	}

	files := opts.Files
	if len(files) == 0 {
		if opts.Code == "" {
			return piston.ExecuteRequest{}, ErrNoCode
		}
		files = []piston.ExecuteFile{{Content: opts.Code}}
	}

	req := piston.ExecuteRequest{
		Language: language,
		Version:  version,
		Files:    files,
		Stdin:    opts.Stdin,
		Args:     opts.Args,
	}
	r.Policy.Limits.Merge(opts.Limits).Apply(&req)
	return req, nil
}

func (r *RemoteSandbox) Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error) {
	req, err := r.Request(opts)
	if err != nil {
		return nil, err
	}

	resp, err := r.exec.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("executing %s: %w", req.Language, err)
	}
	return NewResult(resp), nil
}

// NewResult flattens a response into an ExecResult.
func NewResult(resp *piston.ExecuteResponse) *ExecResult {
	res := &ExecResult{
		Language: resp.Language,
		Version:  resp.Version,
		Response: resp,
	}

	stage := resp.Run
	if c := resp.Compile; c != nil {
		res.CompileOutput = c.Output
		if !c.Succeeded() {
			res.CompileFailed = true
			stage = *c
		}
	}

	res.Stdout = stage.Stdout
	res.Stderr = stage.Stderr
	res.Output = stage.Output
	res.ExitCode = stage.ExitCode()
	res.Signal = stage.Signal.Or("")
	res.Status = stage.Status.Or("")
	res.Message = stage.Message.Or("")
	return res
}
