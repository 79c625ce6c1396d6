package piston

import (
	"encoding/json"
	"fmt"
)

// FileEncoding is the encoding of an ExecuteFile's content.
type FileEncoding string

const (
	EncodingUTF8   FileEncoding = "utf8"
	EncodingBase64 FileEncoding = "base64"
	EncodingHex    FileEncoding = "hex"
)

// ExecutionStatus is the two-letter code the service reports for an abnormal
// stage termination. An absent status means the stage succeeded.
type ExecutionStatus string

const (
	StatusRuntimeError  ExecutionStatus = "RE" // non-zero exit code
	StatusSignal        ExecutionStatus = "SG" // killed by a signal
	StatusTimeout       ExecutionStatus = "TO" // wall-time or CPU-time limit exceeded
	StatusOutputLength  ExecutionStatus = "OL" // stdout exceeded the output limit
	StatusErrorLength   ExecutionStatus = "EL" // stderr exceeded the output limit
	StatusInternalError ExecutionStatus = "XX" // sandbox internal error
)

// Description returns a short human-readable meaning of the status.
func (s ExecutionStatus) Description() string {
	switch s {
	case StatusRuntimeError:
		return "runtime error"
	case StatusSignal:
		return "killed by signal"
	case StatusTimeout:
		return "time limit exceeded"
	case StatusOutputLength:
		return "stdout limit exceeded"
	case StatusErrorLength:
		return "stderr limit exceeded"
	case StatusInternalError:
		return "internal error"
	default:
		return string(s)
	}
}

// Signal is the name of a signal that terminated a process. Names the service
// reports outside the constants below are passed through unchanged.
type Signal string

const (
	SIGHUP  Signal = "SIGHUP"
	SIGINT  Signal = "SIGINT"
	SIGQUIT Signal = "SIGQUIT"
	SIGILL  Signal = "SIGILL"
	SIGTRAP Signal = "SIGTRAP"
	SIGABRT Signal = "SIGABRT"
	SIGFPE  Signal = "SIGFPE"
	SIGKILL Signal = "SIGKILL"
	SIGSEGV Signal = "SIGSEGV"
	SIGALRM Signal = "SIGALRM"
	SIGTERM Signal = "SIGTERM"
	SIGXCPU Signal = "SIGXCPU"
	SIGXFSZ Signal = "SIGXFSZ"
)

// ExecuteFile is one source file of an execution request.
type ExecuteFile struct {
	// Content is the file body, encoded per Encoding.
	Content string `json:"content" yaml:"content"`
	// Name is optional; the service generates one when empty. Directory
	// traversal sequences are rejected by the service.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Encoding defaults to utf8 on the service side when empty.
	Encoding FileEncoding `json:"encoding,omitempty" yaml:"encoding,omitempty"`
}

// ExecuteRequest describes one execution job.
//
// Every Optional field left unset is omitted from the request sent to the
// service, which then applies its own defaults. Values are forwarded as-is;
// out-of-range limits are rejected by the service, not by the client.
type ExecuteRequest struct {
	// Language is a language name or alias, e.g. "python" or "py".
	Language string `json:"language"`
	// Version is a SemVer selector such as "3.10.0", "3.x" or ">=3.9.0".
	Version string `json:"version"`
	// Files must be non-empty; the first file is the entry point.
	Files []ExecuteFile `json:"files"`

	Stdin Optional[string]   `json:"stdin,omitzero"`
	Args  Optional[[]string] `json:"args,omitzero"`

	// Compile stage limits: milliseconds for time, bytes for memory (-1 = unlimited).
	CompileTimeout     Optional[int64] `json:"compileTimeout,omitzero"`
	CompileCPUTime     Optional[int64] `json:"compileCpuTime,omitzero"`
	CompileMemoryLimit Optional[int64] `json:"compileMemoryLimit,omitzero"`

	// Run stage limits: milliseconds for time, bytes for memory (-1 = unlimited).
	RunTimeout     Optional[int64] `json:"runTimeout,omitzero"`
	RunCPUTime     Optional[int64] `json:"runCpuTime,omitzero"`
	RunMemoryLimit Optional[int64] `json:"runMemoryLimit,omitzero"`
}

// StageResult is the outcome of a compile or run stage.
type StageResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	// Output interleaves stdout and stderr in the order they were produced.
	Output string `json:"output"`

	// Code is absent when the process was killed by a signal.
	Code    Optional[int]             `json:"code"`
	Signal  Optional[Signal]          `json:"signal"`
	Message Optional[string]          `json:"message"`
	Status  Optional[ExecutionStatus] `json:"status"`

	CPUTime  Optional[int64] `json:"cpuTime"`  // milliseconds
	WallTime Optional[int64] `json:"wallTime"` // milliseconds
	Memory   Optional[int64] `json:"memory"`   // bytes
}

// Succeeded reports whether the stage terminated normally.
func (s StageResult) Succeeded() bool {
	return !s.Status.IsSet()
}

// ExitCode returns the exit code, or -1 when the process was signalled.
func (s StageResult) ExitCode() int {
	return s.Code.Or(-1)
}

// ExecuteResponse is the result of an execution.
type ExecuteResponse struct {
	// Language and Version are the runtime the service resolved, never the
	// alias or selector from the request.
	Language string `json:"language"`
	Version  string `json:"version"`
	// Compile is nil for languages without a compile step.
	Compile *StageResult `json:"compile,omitempty"`
	Run     StageResult  `json:"run"`
}

// RuntimeInfo is one entry of the service's runtime catalog.
type RuntimeInfo struct {
	Language string   `json:"language"`
	Version  string   `json:"version"`
	Aliases  []string `json:"aliases"`
	// Runtime names the engine shared by several languages, e.g. "node" or "gcc".
	Runtime string `json:"runtime,omitempty"`

	// Extra keeps catalog fields this package does not know about.
	Extra map[string]json.RawMessage `json:"-"`
}

var runtimeInfoKnown = []string{"language", "version", "aliases", "runtime"}

func (r *RuntimeInfo) UnmarshalJSON(data []byte) error {
	type plain RuntimeInfo
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for _, k := range runtimeInfoKnown {
		delete(fields, k)
	}
	if len(fields) > 0 {
		p.Extra = fields
	}

	*r = RuntimeInfo(p)
	return nil
}

func (r RuntimeInfo) MarshalJSON() ([]byte, error) {
	type plain RuntimeInfo
	base, err := json.Marshal(plain(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, known := merged[k]; !known {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// String renders the runtime as "language-version".
func (r RuntimeInfo) String() string {
	return fmt.Sprintf("%s-%s", r.Language, r.Version)
}
