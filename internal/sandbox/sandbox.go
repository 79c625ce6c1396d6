package sandbox

import (
	"context"

	"github.com/michaelbrown/piston-go/piston"
)

// ExecOpts describes a code execution request.
type ExecOpts struct {
	Language string // name or alias, e.g. "python" or "py"
	Version  string // SemVer selector; the policy default when empty
	Code     string // single-file source, used when Files is empty
	Files    []piston.ExecuteFile
	Stdin    piston.Optional[string]
	Args     piston.Optional[[]string]
	Limits   Limits // overrides the policy limits field by field
}

// ExecResult is the output of a sandboxed execution. When compilation fails
// the output fields describe the compile stage and the run stage never happened.
type ExecResult struct {
	Language string // resolved by the service
	Version  string

	Stdout   string
	Stderr   string
	Output   string
	ExitCode int // -1 when the process was signalled
	Signal   piston.Signal
	Status   piston.ExecutionStatus
	Message  string

	CompileOutput string
	CompileFailed bool

	Response *piston.ExecuteResponse
}

// OK reports whether the program ran and exited normally with code zero.
func (r *ExecResult) OK() bool {
	return !r.CompileFailed && r.Status == "" && r.ExitCode == 0
}

// Sandbox runs code in an isolated environment.
type Sandbox interface {
	Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error)
}

// OptsFromRequest turns a complete request into options, so that a request
// received from elsewhere can be run under a policy.
func OptsFromRequest(req piston.ExecuteRequest) ExecOpts {
	return ExecOpts{
		Language: req.Language,
		Version:  req.Version,
		Files:    req.Files,
		Stdin:    req.Stdin,
		Args:     req.Args,
		Limits: Limits{
			CompileTimeout:     req.CompileTimeout,
			CompileCPUTime:     req.CompileCPUTime,
			CompileMemoryLimit: req.CompileMemoryLimit,
			RunTimeout:         req.RunTimeout,
			RunCPUTime:         req.RunCPUTime,
			RunMemoryLimit:     req.RunMemoryLimit,
		},
	}
}
