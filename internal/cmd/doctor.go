package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/clipnimbus/internal/observability"
	"github.com/3leaps/clipnimbus/pkg/fetch"
	"github.com/3leaps/clipnimbus/pkg/provider"
	"github.com/3leaps/clipnimbus/pkg/provider/s3"
	"github.com/3leaps/clipnimbus/pkg/settings"
)

const (
	toolCheckTimeout = 10 * time.Second
	imdsTimeout      = 2 * time.Second
)

var doctorSkipCloud bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  clipnimbus doctor               # Tools, settings and cloud access
  clipnimbus doctor --skip-cloud  # Local checks only`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorSkipCloud, "skip-cloud", false, "Skip credential and container checks")
}

// checkCounter numbers "[n/N]" lines.
type checkCounter struct {
	n, total int
}

func (c *checkCounter) prefix() string {
	c.n++
	return fmt.Sprintf("[%d/%d]", c.n, c.total)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := observability.CLILogger

	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	log.Info("=== " + bannerName + " ===")
	log.Info("")
	log.Info("Running diagnostic checks...")
	log.Info("")

	allChecks := true
	counter := &checkCounter{total: 5}
	if !doctorSkipCloud {
		counter.total = 8
	}

	// Check 1: Platform
	log.Info(fmt.Sprintf("%s Checking platform... ✅ %s %s/%s", counter.prefix(), runtime.Version(), runtime.GOOS, runtime.GOARCH),
		zap.String("go_version", runtime.Version()),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))

	// Check 2: yt-dlp
	if version, err := toolVersion(ctx, fetch.DefaultBinary, "--version"); err != nil {
		log.Error(fmt.Sprintf("%s Checking %s... ❌ %v", counter.prefix(), fetch.DefaultBinary, err))
		log.Info("  Install it with 'pipx install yt-dlp' or your package manager")
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("%s Checking %s... ✅ %s", counter.prefix(), fetch.DefaultBinary, version),
			zap.String("version", version))
	}

	// Check 3: ffmpeg, needed for ranges and merged formats
	if path, err := exec.LookPath("ffmpeg"); err != nil {
		log.Warn(fmt.Sprintf("%s Checking ffmpeg... ⚠️  not found (clips and merged formats will fail)", counter.prefix()))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("%s Checking ffmpeg... ✅ %s", counter.prefix(), path))
	}

	// Check 4: Settings
	var resolved settings.Resolved
	settingsOK := false
	store, err := openSettings()
	if err == nil {
		resolved, err = store.Resolve(settings.Overrides{})
	}
	if err != nil {
		log.Error(fmt.Sprintf("%s Checking settings... ❌ %v", counter.prefix(), err))
		if errors.Is(err, settings.ErrCorrupt) {
			log.Info("  Fix or remove the file, then run 'clipnimbus config edit'")
		}
		allChecks = false
	} else {
		settingsOK = true
		log.Info(fmt.Sprintf("%s Checking settings... ✅ %s", counter.prefix(), store.Path()),
			zap.String("output_path", resolved.OutputPath))
	}

	// Check 5: Data directory
	dir := resolveDataDir()
	if err := checkWritable(dir); err != nil {
		log.Error(fmt.Sprintf("%s Checking data directory... ❌ %v", counter.prefix(), err))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("%s Checking data directory... ✅ %s", counter.prefix(), dir))
	}

	if !doctorSkipCloud {
		if !runCloudChecks(ctx, counter, resolved, settingsOK) {
			allChecks = false
		}
	}

	log.Info("")
	if allChecks {
		log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	log.Info("")
	log.Info("=== End Diagnostics ===")

	if !allChecks {
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed", errors.New("one or more checks failed"))
	}
	return nil
}

// runCloudChecks verifies credentials, region discovery and the configured
// container.
func runCloudChecks(ctx context.Context, counter *checkCounter, resolved settings.Resolved, settingsOK bool) bool {
	log := observability.CLILogger
	log.Info("")
	log.Info("Cloud Checks:")

	ok := true

	if provider.DetectType(resolved.Connection) == provider.ProviderFile {
		log.Info(fmt.Sprintf("%s Checking AWS credentials... ✅ not needed (file provider)", counter.prefix()))
		log.Info(fmt.Sprintf("%s Checking region... ✅ not applicable", counter.prefix()))
		return checkContainerStep(ctx, counter, resolved, settingsOK)
	}

	// Check 6: Credentials
	awsCfg, err := loadDoctorAWSConfig(ctx, resolved.Connection)
	if err != nil {
		log.Error(fmt.Sprintf("%s Checking AWS credentials... ❌ Cannot load AWS config", counter.prefix()), zap.Error(err))
		printAWSCredentialsHelp()
		ok = false
	} else if creds, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		log.Error(fmt.Sprintf("%s Checking AWS credentials... ❌ Cannot retrieve credentials", counter.prefix()), zap.Error(err))
		printAWSCredentialsHelp()
		ok = false
	} else {
		source := creds.Source
		if source == "" {
			source = "unknown"
		}
		log.Info(fmt.Sprintf("%s Checking AWS credentials... ✅ Found credentials", counter.prefix()),
			zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
			zap.String("source", source))
	}

	// Check 7: Region. Instance metadata is informational only.
	region := ""
	if err == nil {
		region = awsCfg.Region
		if region == "" {
			if r, imdsErr := discoverIMDSRegion(ctx, awsCfg); imdsErr == nil && r != "" {
				region = r + " (instance metadata)"
			}
		}
	}
	if region == "" {
		log.Info(fmt.Sprintf("%s Checking region... ✅ none configured, using %s", counter.prefix(), s3.DefaultAWSRegion))
	} else {
		log.Info(fmt.Sprintf("%s Checking region... ✅ %s", counter.prefix(), region))
	}

	return checkContainerStep(ctx, counter, resolved, settingsOK) && ok
}

// checkContainerStep is the last cloud check.
func checkContainerStep(ctx context.Context, counter *checkCounter, resolved settings.Resolved, settingsOK bool) bool {
	log := observability.CLILogger
	switch {
	case !settingsOK:
		log.Warn(fmt.Sprintf("%s Checking container... ⚠️  skipped (settings unreadable)", counter.prefix()))
		return false
	case resolved.Container == "":
		log.Warn(fmt.Sprintf("%s Checking container... ⚠️  cloud.container_name is not set (uploads will fail)", counter.prefix()))
		log.Info("  Run 'clipnimbus config set cloud.container_name <bucket>' or pass --no-upload")
		return false
	}
	if err := checkContainer(ctx, resolved); err != nil {
		log.Error(fmt.Sprintf("%s Checking container... ❌ %s: %v", counter.prefix(), resolved.Container, err))
		if provider.IsInvalidCredentials(err) || provider.IsAccessDenied(err) {
			printAWSCredentialsHelp()
		}
		return false
	}
	log.Info(fmt.Sprintf("%s Checking container... ✅ %s", counter.prefix(), resolved.Container))
	return true
}

func checkContainer(ctx context.Context, resolved settings.Resolved) error {
	client, err := newCloudClient(ctx, resolved.Connection)
	if err != nil {
		return err
	}
	return client.CheckContainer(ctx, resolved.Container)
}

// loadDoctorAWSConfig loads the SDK configuration the uploader would use.
func loadDoctorAWSConfig(ctx context.Context, connection string) (aws.Config, error) {
	cfg, err := s3.ParseConnectionString(connection)
	if err != nil {
		return aws.Config{}, err
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}

func discoverIMDSRegion(ctx context.Context, awsCfg aws.Config) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, imdsTimeout)
	defer cancel()
	client := imds.NewFromConfig(awsCfg)
	out, err := client.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return "", err
	}
	return out.Region, nil
}

func toolVersion(ctx context.Context, binary string, args ...string) (string, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("not found on PATH")
	}
	ctx, cancel := context.WithTimeout(ctx, toolCheckTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", path, err)
	}
	version := strings.TrimSpace(string(out))
	if i := strings.IndexByte(version, '\n'); i >= 0 {
		version = version[:i]
	}
	return version, nil
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("cannot write to %s: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("")
	log.Info("To configure AWS credentials:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables (a .env file works), or")
	log.Info("  2. Run 'aws configure' and set Profile=<name> in cloud.connection_string, or")
	log.Info("  3. Put AccessKeyId=...;SecretAccessKey=... in cloud.connection_string")
	log.Info("")
	log.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	log.Info("  - Endpoint=<url> in cloud.connection_string")
	log.Info("")
}
