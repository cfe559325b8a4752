package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/clipnimbus/internal/observability"
	"github.com/3leaps/clipnimbus/pkg/settings"
)

var configShowFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change persisted settings",
	Long: `Inspect and change the persisted settings document.

Keys:
  cloud.connection_string   S3 connection (Key=Value pairs separated by ';')
  cloud.container_name      Default upload bucket
  cloud.blob_folder         Default object key prefix
  download.output_path      Download directory (relative to the settings file)
  download.format           yt-dlp format selector
  ui.host, ui.port          Web UI listener

Environment variables CLIPNIMBUS_<SECTION>_<KEY> override the file for jobs
and for 'config show'.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings with the credential masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit settings interactively",
	Long: `Prompt for each setting. Press Enter to keep the current value; the stored
credential is shown masked and is only replaced when a new value is typed.
Enter "-" to clear a value.`,
	Args: cobra.NoArgs,
	RunE: runConfigEdit,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one setting",
	Example: `  clipnimbus config set cloud.container_name my-clips
  clipnimbus config set cloud.connection_string "Region=eu-west-1;Profile=media"
  clipnimbus config set ui.port 8080`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSettings()
		if err != nil {
			return err
		}
		if err := store.Set(args[0], args[1]); err != nil {
			return setError(err)
		}
		observability.CLILogger.Info("Setting saved: " + strings.ToLower(args[0]))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := resolveSettingsPath()
		if err != nil {
			return exitError(foundry.ExitFileNotFound, "Cannot determine settings location", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configEditCmd, configSetCmd, configPathCmd)
	configShowCmd.Flags().StringVar(&configShowFormat, "format", "json", "Output format (json|yaml)")
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	store, err := openSettings()
	if err != nil {
		return err
	}
	doc, err := store.Show()
	if err != nil {
		return settingsError(err)
	}
	return writeDocument(cmd.OutOrStdout(), doc.Masked(), configShowFormat)
}

func writeDocument(w io.Writer, doc settings.Document, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return exitError(foundry.ExitFileWriteError, "Cannot write settings", err)
		}
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return exitError(foundry.ExitFileWriteError, "Cannot write settings", err)
		}
		_ = enc.Close()
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --format value",
			fmt.Errorf("unsupported format %q (use json or yaml)", format))
	}
	return nil
}

func runConfigEdit(cmd *cobra.Command, _ []string) error {
	store, err := openSettings()
	if err != nil {
		return err
	}
	doc, err := store.Load()
	if err != nil {
		return settingsError(err)
	}

	changes, err := promptSettings(cmd.InOrStdin(), cmd.ErrOrStderr(), doc)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Settings edit aborted", err)
	}
	if len(changes) == 0 {
		observability.CLILogger.Info("No changes")
		return nil
	}

	// All answers are applied before anything is written.
	for _, c := range changes {
		if err := settings.Apply(&doc, c.key, c.value); err != nil {
			return setError(err)
		}
	}
	if err := store.Save(doc); err != nil {
		return settingsError(err)
	}
	observability.CLILogger.Info(fmt.Sprintf("Saved %d setting(s) to %s", len(changes), store.Path()))
	return nil
}

type settingChange struct {
	key   string
	value string
}

// promptSettings asks for every key in order. Input ends early on EOF, which
// keeps the remaining values.
func promptSettings(in io.Reader, out io.Writer, doc settings.Document) ([]settingChange, error) {
	reader := bufio.NewReader(in)
	var changes []settingChange

	for _, key := range settings.Keys {
		current := settingValue(doc, key)
		shown := current
		if key == "cloud.connection_string" {
			shown = settings.MaskSecret(current)
		}
		_, _ = fmt.Fprintf(out, "%s [%s]: ", key, shown)

		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		input := strings.TrimSpace(line)
		switch {
		case input == "":
		case input == "-":
			if current != "" {
				changes = append(changes, settingChange{key: key, value: ""})
			}
		case input != current:
			changes = append(changes, settingChange{key: key, value: input})
		}
		if err == io.EOF {
			_, _ = fmt.Fprintln(out)
			break
		}
	}
	return changes, nil
}

func settingValue(doc settings.Document, key string) string {
	switch key {
	case "cloud.connection_string":
		return doc.Cloud.ConnectionString
	case "cloud.container_name":
		return doc.Cloud.ContainerName
	case "cloud.blob_folder":
		return doc.Cloud.BlobFolder
	case "download.output_path":
		return doc.Download.OutputPath
	case "download.format":
		return doc.Download.Format
	case "ui.host":
		return doc.UI.Host
	case "ui.port":
		return strconv.Itoa(doc.UI.Port)
	}
	return ""
}

func setError(err error) error {
	switch {
	case errors.Is(err, settings.ErrUnknownKey):
		return exitError(foundry.ExitInvalidArgument, "Unknown setting", err)
	case errors.Is(err, settings.ErrInvalidValue):
		return exitError(foundry.ExitInvalidArgument, "Invalid setting value", err)
	}
	return settingsError(err)
}
