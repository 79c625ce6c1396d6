package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/michaelbrown/piston-go/piston"
)

// Outcome summarizes how an execution ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success" // ran to completion with exit code 0
	OutcomeFailed  Outcome = "failed"  // compile failure, non-zero exit, signal or limit
	OutcomeError   Outcome = "error"   // the service returned no result
)

// Where a run was submitted from.
const (
	SourceCLI    = "cli"
	SourceREPL   = "repl"
	SourceServer = "server"
	SourceWS     = "ws"
	SourceMCP    = "mcp"
)

var (
	ErrNotFound  = errors.New("run not found")
	ErrAmbiguous = errors.New("ambiguous run prefix")
)

// Run is the history record of one execution. History is an audit trail:
// it is never read back to answer an execution.
type Run struct {
	ID       string  `json:"id"`
	Source   string  `json:"source"`
	Language string  `json:"language"`
	Version  string  `json:"version"`
	Outcome  Outcome `json:"outcome"`
	// ExitCode of the last stage that ran; nil when there was no result or
	// the process was signalled.
	ExitCode *int `json:"exit_code,omitempty"`

	Request  json.RawMessage `json:"request"`
	Response json.RawMessage `json:"response,omitempty"`

	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is the wall time the client spent on the run.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// NewRun builds a record from a finished execution. Exactly one of resp and
// execErr is expected to be non-nil.
func NewRun(source string, req piston.ExecuteRequest, resp *piston.ExecuteResponse, execErr error, startedAt time.Time) (*Run, error) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	run := &Run{
		ID:         uuid.New().String(),
		Source:     source,
		Language:   req.Language,
		Version:    req.Version,
		Request:    reqJSON,
		StartedAt:  startedAt.UTC(),
		FinishedAt: time.Now().UTC(),
	}

	if execErr != nil {
		run.Outcome = OutcomeError
		run.ErrorMessage = execErr.Error()
		if kind, ok := piston.KindOf(execErr); ok {
			run.ErrorKind = kind.String()
		}
		return run, nil
	}

	if run.Response, err = json.Marshal(resp); err != nil {
		return nil, fmt.Errorf("marshaling response: %w", err)
	}
	run.Language = resp.Language
	run.Version = resp.Version

	stage := resp.Run
	if resp.Compile != nil && !resp.Compile.Succeeded() {
		stage = *resp.Compile
	}
	if code, ok := stage.Code.Get(); ok {
		run.ExitCode = &code
	}
	run.Outcome = OutcomeSuccess
	if stage.Status.IsSet() || stage.ExitCode() != 0 {
		run.Outcome = OutcomeFailed
	}
	return run, nil
}

// DecodeResponse returns the stored response, or nil when the run has none.
func (r *Run) DecodeResponse() (*piston.ExecuteResponse, error) {
	if len(r.Response) == 0 {
		return nil, nil
	}
	var resp piston.ExecuteResponse
	if err := json.Unmarshal(r.Response, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling response: %w", err)
	}
	return &resp, nil
}

// RunListOptions controls filtering and pagination for ListRuns.
type RunListOptions struct {
	Outcome Outcome
	Limit   int
	Offset  int
}

// Store is the persistence interface for execution history.
type Store interface {
	// Record inserts a run. The ID field must be set by the caller.
	Record(ctx context.Context, r *Run) error

	// GetRun returns a run by ID or unique ID prefix.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs ordered by started_at descending.
	ListRuns(ctx context.Context, opts RunListOptions) ([]Run, error)

	// DeleteRun removes a run by ID or unique ID prefix.
	DeleteRun(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}
