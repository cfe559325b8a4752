// Package s3 implements the upload capability for AWS S3 and S3-compatible storage.
package s3

import (
	"fmt"
	"strconv"
	"strings"
)

// Config configures an S3 uploader.
//
// Authentication priority (AWS SDK v2 default chain):
//  1. Explicit AccessKeyID/SecretAccessKey (if provided)
//  2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  3. Shared credentials file (~/.aws/credentials)
//  4. Shared config file (~/.aws/config) with profile
//  5. EC2 instance metadata / ECS task role / EKS IRSA
//
// For AWS S3 with no region from config or environment, us-east-1 is used.
// When Endpoint is set no default region is applied.
type Config struct {
	// Region is the AWS region.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	// Examples:
	//   - MinIO: http://localhost:9000
	//   - Wasabi: https://s3.wasabisys.com
	Endpoint string

	// Profile is the AWS profile name to use from shared config.
	Profile string

	// AccessKeyID is an explicit access key. If set, SecretAccessKey must also be set.
	AccessKeyID string

	// SecretAccessKey is an explicit secret key. Required if AccessKeyID is set.
	SecretAccessKey string

	// SessionToken is an optional token for temporary credentials.
	SessionToken string

	// ForcePathStyle forces path-style URLs (bucket in path, not subdomain).
	ForcePathStyle bool
}

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	if c.SessionToken != "" && c.AccessKeyID == "" {
		return &ConfigError{Field: "SessionToken", Message: "session token requires an access key ID"}
	}
	if c.Endpoint != "" && !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		return &ConfigError{Field: "Endpoint", Message: "endpoint must start with http:// or https://"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}

// ParseConnectionString parses semicolon separated Key=Value pairs:
//
//	Region=eu-west-1;Endpoint=http://localhost:9000;AccessKeyId=...;SecretAccessKey=...;ForcePathStyle=true
//
// Keys are case-insensitive. An empty string yields a zero Config, which
// uses the SDK default credential chain.
func ParseConnectionString(s string) (Config, error) {
	var cfg Config
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return Config{}, &ConfigError{Field: "ConnectionString", Message: fmt.Sprintf("segment %q is not Key=Value", redact(part))}
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "provider":
			if !strings.EqualFold(value, "s3") {
				return Config{}, &ConfigError{Field: "Provider", Message: fmt.Sprintf("not an s3 connection string (provider %q)", value)}
			}
		case "region":
			cfg.Region = value
		case "endpoint":
			cfg.Endpoint = strings.TrimRight(value, "/")
		case "profile":
			cfg.Profile = value
		case "accesskeyid":
			cfg.AccessKeyID = value
		case "secretaccesskey":
			cfg.SecretAccessKey = value
		case "sessiontoken":
			cfg.SessionToken = value
		case "forcepathstyle":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return Config{}, &ConfigError{Field: "ForcePathStyle", Message: fmt.Sprintf("invalid boolean %q", value)}
			}
			cfg.ForcePathStyle = b
		default:
			return Config{}, &ConfigError{Field: "ConnectionString", Message: fmt.Sprintf("unknown key %q", key)}
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// redact keeps the key name of a malformed segment and drops anything that
// may be a secret.
func redact(segment string) string {
	if len(segment) <= 4 {
		return "****"
	}
	return segment[:4] + "****"
}
