package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var runtimesLanguageFlag string

var runtimesCmd = &cobra.Command{
	Use:   "runtimes",
	Short: "List the languages and versions the service has installed",
	RunE:  runRuntimes,
}

func init() {
	runtimesCmd.Flags().StringVarP(&runtimesLanguageFlag, "language", "l", "", "Only show runtimes for this language or alias")
	runtimesCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the catalog as JSON")
	rootCmd.AddCommand(runtimesCmd)
}

func runRuntimes(cmd *cobra.Command, args []string) error {
	client := newClient(nil)

	runtimes, err := client.Runtimes(context.Background())
	if err != nil {
		return err
	}

	sort.SliceStable(runtimes, func(i, j int) bool {
		return runtimes[i].Language < runtimes[j].Language
	})

	out := cmd.OutOrStdout()
	if jsonFlag {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runtimes)
	}

	fmt.Fprintf(out, "%-16s %-12s %-12s %s\n", "LANGUAGE", "VERSION", "RUNTIME", "ALIASES")
	fmt.Fprintln(out, strings.Repeat("─", 70))

	shown := 0
	for _, rt := range runtimes {
		if runtimesLanguageFlag != "" && !matchesLanguage(rt.Language, rt.Aliases, runtimesLanguageFlag) {
			continue
		}
		fmt.Fprintf(out, "%-16s %-12s %-12s %s\n", rt.Language, rt.Version, rt.Runtime, strings.Join(rt.Aliases, ", "))
		shown++
	}
	if shown == 0 {
		fmt.Fprintln(out, "No runtimes found.")
	}
	return nil
}

func matchesLanguage(language string, aliases []string, want string) bool {
	if strings.EqualFold(language, want) {
		return true
	}
	for _, a := range aliases {
		if strings.EqualFold(a, want) {
			return true
		}
	}
	return false
}
