package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/michaelbrown/piston-go/internal/jobfile"
	"github.com/michaelbrown/piston-go/internal/storage"
	"github.com/michaelbrown/piston-go/piston"
)

var (
	languageFlag  string
	versionFlag   string
	stdinFlag     string
	stdinFileFlag string
	argFlags      []string
	jobFlag       string
	jsonFlag      bool

	compileTimeoutFlag     int64
	compileCPUTimeFlag     int64
	compileMemoryLimitFlag int64
	runTimeoutFlag         int64
	runCPUTimeFlag         int64
	runMemoryLimitFlag     int64
)

var runCmd = &cobra.Command{
	Use:   "run [files...]",
	Short: "Execute source files",
	Long: `Execute one or more source files. The first file is the entry point.

Limits and stdin are only sent when given; the service applies its own
defaults otherwise. The exit status mirrors the program's exit code.

Examples:
  piston run hello.py
  piston run -l python --version 3.x --stdin Alice greet.py
  piston run main.c util.h --run-timeout 1000 --run-memory-limit -1
  piston run -f job.yaml --json`,
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(f *pflag.FlagSet) {
	f.StringVarP(&languageFlag, "language", "l", "", "Language or alias (default: file extension, then config)")
	f.StringVar(&versionFlag, "version", "", "SemVer version selector (default: config, then *)")
	f.StringVar(&stdinFlag, "stdin", "", "Standard input for the program")
	f.StringVar(&stdinFileFlag, "stdin-file", "", "Read standard input from a file (- for this process's stdin)")
	f.StringArrayVarP(&argFlags, "arg", "a", nil, "Command-line argument for the program (repeatable)")
	f.StringVarP(&jobFlag, "file", "f", "", "YAML job file")
	f.BoolVar(&jsonFlag, "json", false, "Print the full response as JSON")

	f.Int64Var(&compileTimeoutFlag, "compile-timeout", 0, "Compile wall-time limit in ms")
	f.Int64Var(&compileCPUTimeFlag, "compile-cpu-time", 0, "Compile CPU-time limit in ms")
	f.Int64Var(&compileMemoryLimitFlag, "compile-memory-limit", 0, "Compile memory limit in bytes (-1 for unlimited)")
	f.Int64Var(&runTimeoutFlag, "run-timeout", 0, "Run wall-time limit in ms")
	f.Int64Var(&runCPUTimeFlag, "run-cpu-time", 0, "Run CPU-time limit in ms")
	f.Int64Var(&runMemoryLimitFlag, "run-memory-limit", 0, "Run memory limit in bytes (-1 for unlimited)")
}

func runRun(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(cmd.Flags(), args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	r, err := newRunner(storage.SourceCLI)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resp, run, err := r.execute(ctx, req)
	if err != nil {
		if kind, ok := piston.KindOf(err); ok {
			return fmt.Errorf("%s error: %w", kind, err)
		}
		return err
	}
	if run != nil {
		logger.Debug("run recorded", zap.String("id", run.ID))
	}

	if jsonFlag {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else {
		printResponse(cmd.OutOrStdout(), cmd.ErrOrStderr(), resp)
	}

	if code := responseExitCode(resp); code != 0 {
		return exitError{code: code}
	}
	return nil
}

// buildRequest assembles the request from a job file, positional files and
// flags. Flags override the job file, and only flags that were given become
// set optional fields.
func buildRequest(flags *pflag.FlagSet, args []string, stdin io.Reader) (piston.ExecuteRequest, error) {
	var req piston.ExecuteRequest
	if jobFlag != "" {
		j, err := jobfile.Load(jobFlag)
		if err != nil {
			return req, err
		}
		req = j.Request()
	}

	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return req, fmt.Errorf("reading %s: %w", path, err)
		}
		req.Files = append(req.Files, piston.ExecuteFile{Name: filepath.Base(path), Content: string(content)})
	}
	if len(req.Files) == 0 {
		return req, errors.New("no source files: pass files or -f job.yaml")
	}

	if flags.Changed("language") {
		req.Language = languageFlag
	}
	if req.Language == "" {
		req.Language = languageForFile(req.Files[0].Name)
	}
	if flags.Changed("version") {
		req.Version = versionFlag
	}

	switch {
	case flags.Changed("stdin") && flags.Changed("stdin-file"):
		return req, errors.New("--stdin and --stdin-file are mutually exclusive")
	case flags.Changed("stdin"):
		req.Stdin = piston.Some(stdinFlag)
	case flags.Changed("stdin-file"):
		var data []byte
		var err error
		if stdinFileFlag == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(stdinFileFlag)
		}
		if err != nil {
			return req, fmt.Errorf("reading stdin: %w", err)
		}
		req.Stdin = piston.Some(string(data))
	}

	if flags.Changed("arg") {
		req.Args = piston.Some(append([]string{}, argFlags...))
	}

	limits := []struct {
		flag  string
		value int64
		field *piston.Optional[int64]
	}{
		{"compile-timeout", compileTimeoutFlag, &req.CompileTimeout},
		{"compile-cpu-time", compileCPUTimeFlag, &req.CompileCPUTime},
		{"compile-memory-limit", compileMemoryLimitFlag, &req.CompileMemoryLimit},
		{"run-timeout", runTimeoutFlag, &req.RunTimeout},
		{"run-cpu-time", runCPUTimeFlag, &req.RunCPUTime},
		{"run-memory-limit", runMemoryLimitFlag, &req.RunMemoryLimit},
	}
	for _, l := range limits {
		if flags.Changed(l.flag) {
			*l.field = piston.Some(l.value)
		}
	}

	return req, nil
}

var extensionLanguages = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".ts":    "typescript",
	".go":    "go",
	".rb":    "ruby",
	".rs":    "rust",
	".c":     "c",
	".cpp":   "c++",
	".cc":    "c++",
	".java":  "java",
	".kt":    "kotlin",
	".cs":    "csharp",
	".php":   "php",
	".lua":   "lua",
	".sh":    "bash",
	".pl":    "perl",
	".swift": "swift",
	".hs":    "haskell",
}

func languageForFile(name string) string {
	return extensionLanguages[strings.ToLower(filepath.Ext(name))]
}

// printResponse writes program output the way a local run would look:
// stdout to stdout, everything else to stderr.
func printResponse(stdout, stderr io.Writer, resp *piston.ExecuteResponse) {
	if c := resp.Compile; c != nil && !c.Succeeded() {
		fmt.Fprint(stderr, c.Output)
		printStatus(stderr, "compile", *c)
		return
	}

	fmt.Fprint(stdout, resp.Run.Stdout)
	fmt.Fprint(stderr, resp.Run.Stderr)
	printStatus(stderr, "run", resp.Run)
}

func printStatus(w io.Writer, stage string, s piston.StageResult) {
	status, ok := s.Status.Get()
	if !ok {
		return
	}
	line := fmt.Sprintf("piston: %s stage: %s", stage, status.Description())
	if sig, ok := s.Signal.Get(); ok {
		line += fmt.Sprintf(" (%s)", sig)
	}
	if msg, ok := s.Message.Get(); ok {
		line += ": " + msg
	}
	fmt.Fprintln(w, line)
}

var signalNumbers = map[piston.Signal]int{
	piston.SIGHUP:  1,
	piston.SIGINT:  2,
	piston.SIGQUIT: 3,
	piston.SIGILL:  4,
	piston.SIGTRAP: 5,
	piston.SIGABRT: 6,
	piston.SIGFPE:  8,
	piston.SIGKILL: 9,
	piston.SIGSEGV: 11,
	piston.SIGALRM: 14,
	piston.SIGTERM: 15,
	piston.SIGXCPU: 24,
	piston.SIGXFSZ: 25,
}

// responseExitCode is the status a shell would report for the program:
// the exit code, or 128+n when killed by signal n.
func responseExitCode(resp *piston.ExecuteResponse) int {
	stage := resp.Run
	if c := resp.Compile; c != nil && !c.Succeeded() {
		stage = *c
	}
	if code, ok := stage.Code.Get(); ok {
		return code
	}
	if sig, ok := stage.Signal.Get(); ok {
		if n, known := signalNumbers[sig]; known {
			return 128 + n
		}
	}
	if stage.Status.IsSet() {
		return 1
	}
	return 0
}
