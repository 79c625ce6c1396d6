package sandbox

import (
	"fmt"
	"strings"
)

// DefaultMaxOutput is the report length Format truncates to when max is zero.
const DefaultMaxOutput = 4000

// Format renders a plain-text report of res: stdout, then stderr, then the
// abnormal termination details. The report is cut to max bytes.
func Format(res *ExecResult, max int) string {
	if max <= 0 {
		max = DefaultMaxOutput
	}

	var output strings.Builder
	if res.CompileFailed {
		output.WriteString("COMPILE FAILED:\n")
	}
	if res.Stdout != "" {
		output.WriteString(res.Stdout)
	}
	if res.Stderr != "" {
		if output.Len() > 0 && !strings.HasSuffix(output.String(), "\n") {
			output.WriteString("\n")
		}
		output.WriteString("STDERR:\n" + res.Stderr)
	}
	if res.Signal != "" {
		output.WriteString(fmt.Sprintf("\nsignal: %s", res.Signal))
	} else if res.ExitCode != 0 {
		output.WriteString(fmt.Sprintf("\nexit code: %d", res.ExitCode))
	}
	if res.Status != "" {
		output.WriteString(fmt.Sprintf("\nstatus: %s", res.Status))
		if res.Message != "" {
			output.WriteString(" (" + res.Message + ")")
		}
	}

	text := strings.TrimPrefix(output.String(), "\n")
	if len(text) > max {
		text = text[:max] + "\n... (output truncated)"
	}
	return text
}
