package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/piston-go/internal/sandbox"
	"github.com/michaelbrown/piston-go/internal/storage"
	"github.com/michaelbrown/piston-go/piston"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Write and run programs interactively",
	Long: `Start an interactive session. Lines you type are collected into a
program; /run executes it on the service.

Examples:
  piston repl
  piston repl -l python --version 3.x`,
	RunE: runREPL,
}

func init() {
	replCmd.Flags().StringVarP(&languageFlag, "language", "l", "", "Language or alias")
	replCmd.Flags().StringVar(&versionFlag, "version", "", "SemVer version selector")
	rootCmd.AddCommand(replCmd)
}

// replSession is the program being edited and how to run it.
type replSession struct {
	language string
	version  string
	stdin    piston.Optional[string]
	lines    []string
}

func (s *replSession) request() piston.ExecuteRequest {
	return piston.ExecuteRequest{
		Language: s.language,
		Version:  s.version,
		Files:    []piston.ExecuteFile{{Content: strings.Join(s.lines, "\n") + "\n"}},
		Stdin:    s.stdin,
	}
}

func runREPL(cmd *cobra.Command, args []string) error {
	r, err := newRunner(storage.SourceREPL)
	if err != nil {
		return err
	}
	defer r.Close()

	sess := &replSession{language: languageFlag, version: versionFlag}
	if sess.language == "" {
		sess.language = cfg.Defaults.Language
	}

	fmt.Printf("piston - interactive runner\n")
	fmt.Printf("Service: %s\n", r.client.BaseURL())
	if sess.language != "" {
		fmt.Printf("Language: %s %s\n", sess.language, sess.version)
	}
	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36m... \033[0m",
		HistoryFile:     filepath.Join(filepath.Dir(cfg.Storage.DBPath), "repl_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Per-request cancellation: Ctrl+C cancels the running execution,
	// not the whole session. Ctrl+C while idle exits.
	var (
		mu        sync.Mutex
		reqCancel context.CancelFunc
	)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			mu.Lock()
			if reqCancel != nil {
				reqCancel()
			}
			mu.Unlock()
		}
	}()

	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		if !isREPLCommand(input) {
			sess.lines = append(sess.lines, input)
			continue
		}

		switch handleREPLCommand(input, sess, r) {
		case replQuit:
			fmt.Println("Goodbye!")
			return nil
		case replContinue:
			continue
		}

		if sess.language == "" {
			fmt.Printf("\033[31mno language set (try /lang python)\033[0m\n\n")
			continue
		}
		if len(sess.lines) == 0 {
			fmt.Printf("nothing to run\n\n")
			continue
		}

		reqCtx, cancel := context.WithCancel(context.Background())
		mu.Lock()
		reqCancel = cancel
		mu.Unlock()

		resp, _, err := r.execute(reqCtx, sess.request())
		wasInterrupted := reqCtx.Err() != nil

		mu.Lock()
		reqCancel = nil
		mu.Unlock()
		cancel()

		if err != nil {
			if wasInterrupted {
				fmt.Println("(interrupted)")
				continue
			}
			fmt.Printf("\033[31merror: %s\033[0m\n\n", err)
			continue
		}

		res := sandbox.NewResult(resp)
		fmt.Printf("\033[32m%s %s>\033[0m\n%s\n\n", res.Language, res.Version, sandbox.Format(res, 0))
	}
}

// isREPLCommand reports whether input is a slash command rather than a
// program line such as a "//" comment.
func isREPLCommand(input string) bool {
	return len(input) > 1 && input[0] == '/' && input[1] >= 'a' && input[1] <= 'z'
}

type replAction int

const (
	replContinue replAction = iota
	replRun
	replQuit
)

func handleREPLCommand(input string, sess *replSession, r *runner) replAction {
	fields := strings.Fields(input)
	rest := strings.TrimSpace(strings.TrimPrefix(input, fields[0]))

	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit", "/q":
		return replQuit
	case "/run", "/r":
		return replRun
	case "/lang":
		if len(fields) < 2 {
			fmt.Printf("usage: /lang <language> [version]\n\n")
			return replContinue
		}
		sess.language = fields[1]
		sess.version = ""
		if len(fields) > 2 {
			sess.version = fields[2]
		}
		fmt.Printf("Language: %s %s\n\n", sess.language, sess.version)
	case "/stdin":
		if rest == "" {
			sess.stdin = piston.None[string]()
			fmt.Printf("stdin cleared\n\n")
		} else {
			sess.stdin = piston.Some(strings.ReplaceAll(rest, `\n`, "\n"))
		}
	case "/clear", "/reset":
		sess.lines = nil
		fmt.Printf("Program cleared.\n\n")
	case "/undo":
		if n := len(sess.lines); n > 0 {
			sess.lines = sess.lines[:n-1]
		}
	case "/show":
		for i, line := range sess.lines {
			fmt.Printf("\033[90m%3d│\033[0m %s\n", i+1, line)
		}
		fmt.Println()
	case "/runtimes":
		runtimes, err := r.client.Runtimes(context.Background())
		if err != nil {
			fmt.Printf("\033[31merror: %s\033[0m\n\n", err)
			return replContinue
		}
		for _, rt := range runtimes {
			fmt.Printf("  %s\n", rt)
		}
		fmt.Println()
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /lang <language> [version] - Choose the runtime")
		fmt.Println("  /run                       - Execute the program")
		fmt.Println("  /stdin [text]              - Set stdin (\\n for newlines); empty clears")
		fmt.Println("  /show                      - Show the program")
		fmt.Println("  /undo                      - Drop the last line")
		fmt.Println("  /clear                     - Start a new program")
		fmt.Println("  /runtimes                  - List installed runtimes")
		fmt.Println("  /quit                      - Exit")
		fmt.Println()
	default:
		fmt.Printf("Unknown command: %s (try /help)\n\n", input)
	}
	return replContinue
}
