package storage

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/michaelbrown/piston-go/piston"
)

var started = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewRunOutcomes(t *testing.T) {
	req := piston.ExecuteRequest{Language: "c", Version: "*", Files: []piston.ExecuteFile{{Content: "int main(){}"}}}

	tests := []struct {
		name     string
		resp     *piston.ExecuteResponse
		want     Outcome
		wantCode *int
	}{
		{
			name: "clean exit",
			resp: &piston.ExecuteResponse{Run: piston.StageResult{Code: piston.Some(0)}},
			want: OutcomeSuccess, wantCode: ptr(0),
		},
		{
			name: "non-zero exit",
			resp: &piston.ExecuteResponse{Run: piston.StageResult{Code: piston.Some(2), Status: piston.Some(piston.StatusRuntimeError)}},
			want: OutcomeFailed, wantCode: ptr(2),
		},
		{
			name: "killed",
			resp: &piston.ExecuteResponse{Run: piston.StageResult{Signal: piston.Some(piston.SIGKILL), Status: piston.Some(piston.StatusTimeout)}},
			want: OutcomeFailed,
		},
		{
			name: "compile failure",
			resp: &piston.ExecuteResponse{Compile: &piston.StageResult{Code: piston.Some(1), Status: piston.Some(piston.StatusRuntimeError)}},
			want: OutcomeFailed, wantCode: ptr(1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := NewRun(SourceCLI, req, tt.resp, nil, started)
			if err != nil {
				t.Fatalf("NewRun: %v", err)
			}
			if run.Outcome != tt.want {
				t.Errorf("outcome = %q, want %q", run.Outcome, tt.want)
			}
			switch {
			case tt.wantCode == nil && run.ExitCode != nil:
				t.Errorf("exit code = %d, want nil", *run.ExitCode)
			case tt.wantCode != nil && (run.ExitCode == nil || *run.ExitCode != *tt.wantCode):
				t.Errorf("exit code = %v, want %d", run.ExitCode, *tt.wantCode)
			}
			if len(run.ID) != 36 {
				t.Errorf("id = %q, want a uuid", run.ID)
			}
		})
	}
}

func TestNewRunKeepsRequestAsSent(t *testing.T) {
	req := piston.ExecuteRequest{
		Language:   "python",
		Version:    "3.x",
		Files:      []piston.ExecuteFile{{Content: "print(1)"}},
		RunTimeout: piston.Some[int64](100),
	}
	run, err := NewRun(SourceREPL, req, nil, &piston.Error{Kind: piston.KindServer, Message: "boom"}, started)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}

	var got piston.ExecuteRequest
	if err := json.Unmarshal(run.Request, &got); err != nil {
		t.Fatalf("unmarshaling stored request: %v", err)
	}
	if v, _ := got.RunTimeout.Get(); v != 100 {
		t.Errorf("runTimeout = %d, want 100", v)
	}
	if got.Stdin.IsSet() {
		t.Error("stdin should stay unset")
	}
	if run.ErrorKind != "server" || run.ErrorMessage != "boom" {
		t.Errorf("error = %s/%s, want server/boom", run.ErrorKind, run.ErrorMessage)
	}
}

func TestExportMarkdown(t *testing.T) {
	req := piston.ExecuteRequest{
		Language: "python",
		Version:  "3.x",
		Files:    []piston.ExecuteFile{{Name: "main.py", Content: "print(input())"}},
		Stdin:    piston.Some("hi"),
	}
	resp := &piston.ExecuteResponse{
		Language: "python",
		Version:  "3.12.0",
		Run: piston.StageResult{
			Output:  "",
			Signal:  piston.Some(piston.SIGKILL),
			Status:  piston.Some(piston.StatusTimeout),
			Message: piston.Some("Timeout exceeded"),
		},
	}
	run, err := NewRun(SourceCLI, req, resp, nil, started)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}

	md := ExportMarkdown(run)
	for _, want := range []string{
		"# python 3.12.0",
		"- **Outcome:** failed",
		"## main.py\n\n```python\nprint(input())\n```",
		"## Stdin\n\n```\nhi\n```",
		"**Status:** TO (Timeout exceeded)",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestExportMarkdownError(t *testing.T) {
	run, err := NewRun(SourceCLI, piston.ExecuteRequest{Language: "go", Version: "*"}, nil,
		&piston.Error{Kind: piston.KindValidation, Message: "go-* runtime is unknown"}, started)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}

	md := ExportMarkdown(run)
	if !strings.Contains(md, "**validation:** go-* runtime is unknown") {
		t.Errorf("markdown missing error line:\n%s", md)
	}
}

func TestExportJSON(t *testing.T) {
	data, err := ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	if string(data) != "{\n  \"runs\": []\n}" {
		t.Errorf("empty export = %s", data)
	}

	run := &Run{ID: "r1", Outcome: OutcomeSuccess, Request: json.RawMessage(`{}`)}
	data, err = ExportJSON(run)
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	var back struct {
		Runs []Run `json:"runs"`
	}
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back.Runs) != 1 || back.Runs[0].ID != "r1" {
		t.Errorf("runs = %+v", back.Runs)
	}
}

func ptr(v int) *int { return &v }
