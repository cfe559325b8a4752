// Package cmd implements the clipnimbus command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/clipnimbus/internal/observability"
	"github.com/3leaps/clipnimbus/pkg/history"
	"github.com/3leaps/clipnimbus/pkg/settings"
)

const appName = "clipnimbus"

// VersionInfo describes the build.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

// SetVersionInfo is called from main with linker-injected values.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// AppIdentity names the binary, its environment prefix and its config
// directory.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var appIdentity *AppIdentity

// GetAppIdentity returns the identity set during command setup, or nil.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

var (
	configFile string
	dataDir    string
	logLevel   string
	verbose    bool
	noLogFile  bool

	rootJob    jobFlags
	showConfig bool
	editConfig bool
)

var rootCmd = &cobra.Command{
	Use:   "clipnimbus",
	Short: "Download videos or clips and upload them to object storage",
	Long: `clipnimbus downloads a video, or a time range of it, with yt-dlp and
optionally uploads the result to S3 or S3-compatible storage.

Without --url it starts the local web UI.

Examples:
  clipnimbus --url https://youtu.be/abc123
  clipnimbus -u https://youtu.be/abc123 -s 3:07 -e 3:21 --name intro
  clipnimbus -u https://youtu.be/abc123 --no-upload --output-dir ./clips
  clipnimbus --show-config
  clipnimbus                      # open the web UI on 127.0.0.1:7860`,
	Args:              cobra.NoArgs,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE:              runRoot,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config-file", "", "Settings file (default: <user config dir>/clipnimbus/config.json)")
	pf.StringVar(&dataDir, "data-dir", "", "Directory for history and logs (default: app data dir)")
	pf.StringVar(&logLevel, "log-level", "info", "Console log level (debug|info|warn|error)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Debug logging, including download progress")
	pf.BoolVar(&noLogFile, "no-log-file", false, "Do not append to the diagnostic log file")

	rootJob.register(rootCmd.Flags())
	rootCmd.Flags().BoolVar(&showConfig, "show-config", false, "Print the settings (secret masked) and exit")
	rootCmd.Flags().BoolVar(&editConfig, "edit-config", false, "Edit the settings interactively and exit")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func setup(cmd *cobra.Command, _ []string) error {
	appIdentity = &AppIdentity{
		BinaryName: appName,
		EnvPrefix:  settings.EnvPrefix,
		ConfigName: appName,
	}

	envErr := godotenv.Load()

	observability.InitCLILogger(appName, verbose)
	if !verbose {
		if err := observability.SetLevel(logLevel); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --log-level value", err)
		}
	}
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		observability.CLILogger.Warn("Ignoring unreadable .env file", zap.Error(envErr))
	}

	if !noLogFile {
		logPath := filepath.Join(resolveDataDir(), appName+".log")
		if err := observability.EnableFileLog(logPath); err != nil {
			observability.CLILogger.Warn("Log file disabled", zap.String("path", logPath), zap.Error(err))
		}
	}
	return nil
}

func runRoot(cmd *cobra.Command, args []string) error {
	switch {
	case showConfig:
		return runConfigShow(cmd, args)
	case editConfig:
		return runConfigEdit(cmd, args)
	case rootJob.url != "":
		return runJob(cmd, rootJob)
	default:
		return runServe(cmd, args)
	}
}

func resolveSettingsPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	return settings.DefaultPath()
}

func openSettings() (*settings.Store, error) {
	path, err := resolveSettingsPath()
	if err != nil {
		return nil, exitError(foundry.ExitFileNotFound, "Cannot determine settings location", err)
	}
	return settings.NewStore(path), nil
}

func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	return gfconfig.GetAppDataDir(appName)
}

func openHistory() *history.Store {
	return history.NewStore(filepath.Join(resolveDataDir(), history.FileName))
}

// settingsError maps a settings failure to an exit error.
func settingsError(err error) error {
	if errors.Is(err, settings.ErrCorrupt) {
		return exitError(foundry.ExitFileReadError, "Settings file is corrupt", err)
	}
	return exitError(foundry.ExitFileWriteError, "Settings could not be saved", err)
}

func versionString() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", appName, versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
}
