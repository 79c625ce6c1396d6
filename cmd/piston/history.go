package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/piston-go/internal/sandbox"
	"github.com/michaelbrown/piston-go/internal/storage"
	"github.com/michaelbrown/piston-go/internal/storage/sqlite"
)

var (
	outcomeFilter string
	limitFlag     int
	offsetFlag    int
	exportFormat  string
	exportOutput  string
	forceFlag     bool
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"runs", "h"},
	Short:   "Browse recorded executions",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run's request and result",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var historyExportCmd = &cobra.Command{
	Use:   "export [run-id]",
	Short: "Export a run as markdown, or runs as JSON",
	Long: `Export one run as markdown or JSON. Without a run ID, the runs
selected by --outcome and --limit are exported as JSON.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistoryExport,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd, historyExportCmd)

	for _, c := range []*cobra.Command{historyListCmd, historyExportCmd} {
		c.Flags().StringVar(&outcomeFilter, "outcome", "", "Filter by outcome (success, failed, error)")
		c.Flags().IntVar(&limitFlag, "limit", 20, "Max runs")
	}
	historyListCmd.Flags().IntVar(&offsetFlag, "offset", 0, "Skip this many runs")

	historyExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	historyExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	historyDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func openHistory() (storage.Store, error) {
	return sqlite.Open(cfg.Storage.DBPath)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), storage.RunListOptions{
		Outcome: storage.Outcome(outcomeFilter),
		Limit:   limitFlag,
		Offset:  offsetFlag,
	})
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	// Header
	fmt.Printf("%-10s %-8s %-24s %-6s %-7s %-10s %s\n", "ID", "OUTCOME", "LANGUAGE", "EXIT", "SOURCE", "DURATION", "STARTED")
	fmt.Println(strings.Repeat("─", 85))

	for _, r := range runs {
		lang := r.Language + " " + r.Version
		if len(lang) > 22 {
			lang = lang[:22] + ".."
		}

		exit := "-"
		if r.ExitCode != nil {
			exit = fmt.Sprint(*r.ExitCode)
		}

		fmt.Printf("%-10s %-8s %-24s %-6s %-7s %-10s %s\n",
			shortID(r.ID), r.Outcome, lang, exit, r.Source,
			r.Duration().Round(time.Millisecond), timeAgo(r.StartedAt))
	}

	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Run:      %s\n", run.ID)
	fmt.Printf("Language: %s %s\n", run.Language, run.Version)
	fmt.Printf("Source:   %s\n", run.Source)
	fmt.Printf("Outcome:  %s\n", run.Outcome)
	fmt.Printf("Started:  %s\n", run.StartedAt.Local().Format(time.RFC3339))
	fmt.Printf("Duration: %s\n", run.Duration().Round(time.Millisecond))

	if run.Outcome == storage.OutcomeError {
		fmt.Printf("\n\033[31m%s error: %s\033[0m\n", run.ErrorKind, run.ErrorMessage)
		return nil
	}

	resp, err := run.DecodeResponse()
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}

	fmt.Println(strings.Repeat("─", 60))
	fmt.Println(sandbox.Format(sandbox.NewResult(resp), 0))
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	run, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}

	if !forceFlag {
		fmt.Printf("Delete run %s - %s %s (%s)? [y/N] ", shortID(run.ID), run.Language, run.Version, timeAgo(run.StartedAt))
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := store.DeleteRun(ctx, run.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted run %s\n", shortID(run.ID))
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	var runs []*storage.Run
	if len(args) == 1 {
		run, err := store.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		runs = append(runs, run)
	} else {
		if exportFormat != "json" {
			return errors.New("exporting several runs requires --format json")
		}
		list, err := store.ListRuns(ctx, storage.RunListOptions{
			Outcome: storage.Outcome(outcomeFilter),
			Limit:   limitFlag,
		})
		if err != nil {
			return err
		}
		for i := range list {
			runs = append(runs, &list[i])
		}
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(runs...)
		if err != nil {
			return err
		}
		output = string(data) + "\n"
	default:
		output = storage.ExportMarkdown(runs[0])
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Print(output)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
