package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFlag   string
	urlFlag      string
	logLevelFlag string
	headerFlags  []string
	noHistory    bool
)

var rootCmd = &cobra.Command{
	Use:   "piston",
	Short: "piston - run code on a Piston execution service",
	Long: `piston runs source code on a Piston code execution service and shows
the result of each compile and run stage.

It reads piston.yaml from the current directory or ~/.piston, and PISTON_*
environment variables override the file.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./piston.yaml or ~/.piston/piston.yaml)")
	rootCmd.PersistentFlags().StringVar(&urlFlag, "url", "", "Piston API base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringArrayVarP(&headerFlags, "header", "H", nil, "Extra request header as Key: Value (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&noHistory, "no-history", false, "Do not record executions in the history database")
}

func main() {
	err := rootCmd.Execute()
	syncLogger()
	if err == nil {
		return
	}

	var exit exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// exitError ends the process with a status code and no message.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}
