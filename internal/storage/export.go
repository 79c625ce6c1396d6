package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportMarkdown renders a run as a markdown document.
func ExportMarkdown(run *Run) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# %s %s\n\n", run.Language, run.Version))
	b.WriteString(fmt.Sprintf("- **Run:** %s\n", run.ID))
	b.WriteString(fmt.Sprintf("- **Source:** %s\n", run.Source))
	b.WriteString(fmt.Sprintf("- **Started:** %s\n", run.StartedAt.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("- **Duration:** %s\n", run.Duration()))
	b.WriteString(fmt.Sprintf("- **Outcome:** %s\n", run.Outcome))
	if run.ExitCode != nil {
		b.WriteString(fmt.Sprintf("- **Exit code:** %d\n", *run.ExitCode))
	}
	b.WriteString("\n---\n\n")

	var req struct {
		Files []struct {
			Name    string `json:"name"`
			Content string `json:"content"`
		} `json:"files"`
		Stdin *string `json:"stdin"`
	}
	if err := json.Unmarshal(run.Request, &req); err == nil {
		for i, f := range req.Files {
			name := f.Name
			if name == "" {
				name = fmt.Sprintf("file %d", i+1)
			}
			b.WriteString(fmt.Sprintf("## %s\n\n```%s\n%s\n```\n\n", name, run.Language, f.Content))
		}
		if req.Stdin != nil {
			b.WriteString(fmt.Sprintf("## Stdin\n\n```\n%s\n```\n\n", *req.Stdin))
		}
	}

	if run.Outcome == OutcomeError {
		b.WriteString(fmt.Sprintf("## Error\n\n**%s:** %s\n", run.ErrorKind, run.ErrorMessage))
		return b.String()
	}

	resp, err := run.DecodeResponse()
	if err != nil || resp == nil {
		return b.String()
	}
	if resp.Compile != nil && resp.Compile.Output != "" {
		b.WriteString(fmt.Sprintf("## Compile output\n\n```\n%s\n```\n\n", resp.Compile.Output))
	}
	b.WriteString(fmt.Sprintf("## Output\n\n```\n%s\n```\n", resp.Run.Output))
	if status, ok := resp.Run.Status.Get(); ok {
		b.WriteString(fmt.Sprintf("\n**Status:** %s", status))
		if msg, ok := resp.Run.Message.Get(); ok {
			b.WriteString(" (" + msg + ")")
		}
		b.WriteString("\n")
	}

	return b.String()
}

// ExportJSON renders runs as formatted JSON.
func ExportJSON(runs ...*Run) ([]byte, error) {
	export := struct {
		Runs []*Run `json:"runs"`
	}{
		Runs: runs,
	}
	if export.Runs == nil {
		export.Runs = []*Run{}
	}
	return json.MarshalIndent(export, "", "  ")
}
