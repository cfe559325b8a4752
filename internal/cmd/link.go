package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/clipnimbus/internal/observability"
	"github.com/3leaps/clipnimbus/pkg/history"
	"github.com/3leaps/clipnimbus/pkg/provider"
	"github.com/3leaps/clipnimbus/pkg/provider/s3"
	"github.com/3leaps/clipnimbus/pkg/settings"
)

var linkTTL time.Duration

var linkCmd = &cobra.Command{
	Use:   "link [job-id]",
	Short: "Print a time-limited download link for an uploaded job",
	Long: `Create a presigned GET URL for the object uploaded by a job. Without a job
ID the most recent history entry is used.

Examples:
  clipnimbus link
  clipnimbus link 3f0c2a9e-6d0b-4c8e-9d55-0d3f1a2b7c11 --ttl 1h`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLink,
}

func init() {
	rootCmd.AddCommand(linkCmd)
	linkCmd.Flags().DurationVar(&linkTTL, "ttl", s3.DefaultPresignTTL, "Link lifetime (max 168h)")
}

func runLink(cmd *cobra.Command, args []string) error {
	if linkTTL <= 0 || linkTTL > s3.MaxPresignTTL {
		return exitError(foundry.ExitInvalidArgument, "Invalid --ttl",
			fmt.Errorf("ttl must be between 1s and %s", s3.MaxPresignTTL))
	}

	hist := openHistory()
	var (
		entry history.Entry
		err   error
	)
	if len(args) == 1 {
		entry, err = hist.Get(args[0])
	} else {
		entry, err = hist.Latest()
	}
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return exitError(foundry.ExitFileNotFound, "No matching history entry", err)
		}
		return exitError(foundry.ExitFileReadError, "Cannot read history", err)
	}

	if entry.RemoteContainer == "" || entry.RemoteKey == "" {
		return exitError(foundry.ExitInvalidArgument, "Job was not uploaded",
			fmt.Errorf("job %s has no remote object; local file: %s", entry.ID, entry.LocalPath))
	}

	store, err := openSettings()
	if err != nil {
		return err
	}
	resolved, err := store.Resolve(settings.Overrides{})
	if err != nil {
		return settingsError(err)
	}

	client, err := newCloudClient(cmd.Context(), resolved.Connection)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot create storage client", err)
	}
	url, err := client.PresignGet(cmd.Context(), entry.RemoteContainer, entry.RemoteKey, linkTTL)
	if err != nil {
		code := foundry.ExitExternalServiceUnavailable
		if provider.IsAccessDenied(err) || provider.IsNotFound(err) {
			code = foundry.ExitInvalidArgument
		}
		return exitError(code, "Cannot create link", err)
	}

	observability.CLILogger.Debug("Presigned link created",
		zap.String("job_id", entry.ID),
		zap.String("container", entry.RemoteContainer),
		zap.String("key", entry.RemoteKey),
		zap.Duration("ttl", linkTTL))
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), url)
	return nil
}
