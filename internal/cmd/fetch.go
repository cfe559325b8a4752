package cmd

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/clipnimbus/internal/observability"
	"github.com/3leaps/clipnimbus/pkg/job"
)

var fetchJob jobFlags

var fetchCmd = &cobra.Command{
	Use:   "fetch [url]",
	Short: "Download a video or clip and upload it",
	Long: `Download a video, or the range between --start and --end, then upload it
to the configured container unless --no-upload is given.

The local path is printed on the first line of standard output and the
remote locator, when uploaded, on the second.

Examples:
  clipnimbus fetch https://youtu.be/abc123
  clipnimbus fetch https://youtu.be/abc123 --start 1:02 --end 1:30
  clipnimbus fetch --url https://youtu.be/abc123 --container clips --blob-folder 2026/10`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := fetchJob
		if len(args) == 1 {
			if flags.url != "" && flags.url != args[0] {
				return exitError(foundry.ExitInvalidArgument, "Conflicting URLs",
					fmt.Errorf("positional %q and --url %q", args[0], flags.url))
			}
			flags.url = args[0]
		}
		if strings.TrimSpace(flags.url) == "" {
			return exitError(foundry.ExitInvalidArgument, "Missing URL", fmt.Errorf("pass a URL or --url"))
		}
		return runJob(cmd, flags)
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchJob.register(fetchCmd.Flags())
}

// runJob executes one job in the foreground.
func runJob(cmd *cobra.Command, flags jobFlags) error {
	store, err := openSettings()
	if err != nil {
		return err
	}

	orch := newOrchestrator(store)
	res := orch.Run(cmd.Context(), flags.request())

	for _, w := range res.Warnings {
		observability.CLILogger.Warn(w, zap.String("job_id", res.JobID))
	}

	if !res.OK() {
		jerr := res.Err
		if jerr == nil {
			jerr = &job.Error{Kind: job.KindFetchFailed, State: res.FailedAt}
		}
		observability.CLILogger.Error(fmt.Sprintf("Job failed during %s", res.FailedAt),
			zap.String("job_id", res.JobID),
			zap.String("kind", string(jerr.Kind)))
		if jerr.Hint != "" {
			observability.CLILogger.Info("Hint: " + jerr.Hint)
		}
		if res.LocalPath != "" {
			observability.CLILogger.Info("Local file kept at " + res.LocalPath)
		}
		return exitError(exitCodeForKind(jerr), "Job failed", jerr)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, res.LocalPath)
	if res.RemoteLocator != "" {
		_, _ = fmt.Fprintln(out, res.RemoteLocator)
	}
	observability.CLILogger.Info("Job completed",
		zap.String("job_id", res.JobID),
		zap.String("range", res.Range.String()),
		zap.Int64("bytes", res.Size),
		zap.Duration("elapsed", res.Elapsed))
	return nil
}
