package cmd

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/clipnimbus/internal/observability"
	"github.com/3leaps/clipnimbus/internal/server"
	"github.com/3leaps/clipnimbus/internal/server/handlers"
	"github.com/3leaps/clipnimbus/pkg/fetch"
	"github.com/3leaps/clipnimbus/pkg/job"
	"github.com/3leaps/clipnimbus/pkg/settings"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web UI",
	Long: `Start the single-user web UI and JSON API. One job runs at a time; a second
submission while a job is running is rejected.

Host and port default to ui.host and ui.port from the settings.

Endpoints:
  GET  /                    Form, preview and history
  POST /api/jobs            Run a job (JSON)
  GET  /api/history         Recent jobs
  GET  /api/status          Current job state
  GET  /health              Health checks`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default: ui.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default: ui.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	store, err := openSettings()
	if err != nil {
		return err
	}
	doc, err := store.Show()
	if err != nil {
		return settingsError(err)
	}

	host := doc.UI.Host
	if strings.TrimSpace(serveHost) != "" {
		host = serveHost
	}
	port := doc.UI.Port
	if servePort != 0 {
		port = servePort
	}
	if port < 0 || port > 65535 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --port value", fmt.Errorf("port %d out of range", port))
	}

	logger := observability.CLILogger
	tracker := &job.Tracker{}
	orch := newOrchestrator(store, job.WithObserver(tracker.Observe))

	jobs := handlers.NewJobs(orch, openHistory(), tracker, logger).WithBaseContext(cmd.Context())
	ui, err := handlers.NewUI(jobs, store, versionInfo.Version)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Cannot load UI templates", err)
	}

	registerHealthChecks(store)

	srv := server.New(host, port,
		server.WithLogger(logger),
		server.WithVersion(handlers.VersionInfo(versionInfo)),
		server.WithJobs(jobs),
		server.WithUI(ui),
	)

	err = srv.ListenAndServe(cmd.Context(), func(addr string) {
		logger.Info(fmt.Sprintf("Web UI ready at http://%s", addr))
	})
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	return nil
}

func registerHealthChecks(store *settings.Store) {
	hm := handlers.InitHealthManager(versionInfo.Version)
	hm.RegisterChecker("settings", settingsHealthChecker{store: store})
	hm.RegisterChecker("yt-dlp", toolHealthChecker{binary: fetch.DefaultBinary})
	if id := GetAppIdentity(); id != nil {
		hm.RegisterChecker("identity", identityHealthChecker{
			binaryName: id.BinaryName,
			envPrefix:  id.EnvPrefix,
			configName: id.ConfigName,
		})
	}
}

// settingsHealthChecker reports a corrupt settings file.
type settingsHealthChecker struct {
	store interface {
		Show() (settings.Document, error)
	}
}

func (c settingsHealthChecker) CheckHealth(_ context.Context) error {
	if _, err := c.store.Show(); err != nil {
		return fmt.Errorf("settings unreadable: %w", err)
	}
	return nil
}

// toolHealthChecker reports a missing external binary.
type toolHealthChecker struct {
	binary string
}

func (c toolHealthChecker) CheckHealth(_ context.Context) error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return fmt.Errorf("%s not found on PATH: %w", c.binary, err)
	}
	return nil
}

type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(_ context.Context) error {
	switch {
	case c.binaryName == "":
		return fmt.Errorf("app identity missing binary name")
	case c.envPrefix == "":
		return fmt.Errorf("app identity missing env prefix")
	case c.configName == "":
		return fmt.Errorf("app identity missing config name")
	}
	return nil
}
