package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/clipnimbus/internal/observability"
	"github.com/3leaps/clipnimbus/pkg/history"
	"github.com/3leaps/clipnimbus/pkg/timerange"
)

var (
	historyLimit int
	historyMatch string
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List completed jobs, most recent first",
	Long: `List completed jobs from the history file, most recent first.

--match filters with a glob (doublestar syntax) tested against the source
URL, the output name and the local file name.

Examples:
  clipnimbus history
  clipnimbus history --limit 5
  clipnimbus history --match '*intro*'
  clipnimbus history --match 'https://youtu.be/**' --json`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum entries to show (0 for all)")
	historyCmd.Flags().StringVar(&historyMatch, "match", "", "Glob filter on URL, name or file name")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Emit JSONL instead of a table")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if historyMatch != "" && !doublestar.ValidatePattern(historyMatch) {
		return exitError(foundry.ExitInvalidArgument, "Invalid --match pattern",
			fmt.Errorf("bad pattern %q", historyMatch))
	}

	entries, skipped, err := collectEntries(openHistory(), historyLimit, historyMatch)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Cannot read history", err)
	}
	if skipped > 0 {
		observability.CLILogger.Warn("Skipped unreadable history lines", zap.Int("count", skipped))
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		return writeEntriesJSON(out, entries)
	}
	if len(entries) == 0 {
		observability.CLILogger.Info("No history yet")
		return nil
	}
	return writeEntriesTable(out, entries)
}

// collectEntries reads up to limit entries matching pattern. Unreadable lines
// are counted and skipped.
func collectEntries(store *history.Store, limit int, pattern string) ([]history.Entry, int, error) {
	var (
		entries []history.Entry
		skipped int
	)
	for e, err := range store.List(0) {
		if err != nil {
			var de *history.DecodeError
			if errors.As(err, &de) {
				skipped++
				continue
			}
			return nil, skipped, err
		}
		if pattern != "" && !matchEntry(pattern, e) {
			continue
		}
		entries = append(entries, e)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	return entries, skipped, nil
}

func matchEntry(pattern string, e history.Entry) bool {
	for _, candidate := range []string{e.URL, e.Name, filepath.Base(e.LocalPath)} {
		if candidate == "" {
			continue
		}
		if ok, _ := doublestar.Match(pattern, candidate); ok {
			return true
		}
	}
	return false
}

func writeEntriesJSON(w io.Writer, entries []history.Entry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return exitError(foundry.ExitFileWriteError, "Cannot write history", err)
		}
	}
	return nil
}

func writeEntriesTable(w io.Writer, entries []history.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCREATED\tRANGE\tFILE\tUPLOADED")
	for _, e := range entries {
		uploaded := "no"
		if e.RemoteLocator != "" {
			uploaded = "yes"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			timerange.FromSeconds(e.StartSeconds, e.EndSeconds).String(),
			filepath.Base(e.LocalPath),
			uploaded,
		)
	}
	if err := tw.Flush(); err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot write history", err)
	}
	return nil
}
