package s3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gabriel-vasile/mimetype"

	"github.com/3leaps/clipnimbus/pkg/provider"
)

// DefaultPresignTTL is used when PresignGet is called with a zero ttl.
const DefaultPresignTTL = 24 * time.Hour

// MaxPresignTTL is the longest expiry SigV4 allows.
const MaxPresignTTL = 7 * 24 * time.Hour

// Provider uploads to AWS S3 and S3-compatible storage.
type Provider struct {
	client  *s3.Client
	presign *s3.PresignClient
	cfg     Config
	region  string
}

// Ensure Provider implements the interfaces.
var (
	_ provider.Uploader         = (*Provider)(nil)
	_ provider.Presigner        = (*Provider)(nil)
	_ provider.ContainerChecker = (*Provider)(nil)
)

// New creates an S3 provider.
//
// The provider uses AWS SDK v2's default credential chain unless explicit
// credentials are provided in the config.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &provider.ProviderError{
			Op:       "New",
			Provider: provider.ProviderS3,
			Err:      err,
		}
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}

	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return &Provider{
		client:  client,
		presign: s3.NewPresignClient(client),
		cfg:     cfg,
		region:  awsCfg.Region,
	}, nil
}

// NewFromConnectionString parses conn and creates a provider.
func NewFromConnectionString(ctx context.Context, conn string) (*Provider, error) {
	cfg, err := ParseConnectionString(conn)
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg)
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Only apply explicit region if set; let the SDK resolve env/profile first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	awsCfg.Region = resolveRegion(cfg.Region, cfg.Endpoint, awsCfg.Region)

	return awsCfg, nil
}

// Region returns the resolved region.
func (p *Provider) Region() string {
	return p.region
}

// Upload stores localPath as <folder>/<blobName|base name> in container and
// returns the object URL. The local file is opened read-only.
func (p *Provider) Upload(ctx context.Context, localPath, container, folder, blobName string) (string, error) {
	container = strings.TrimSpace(container)
	if container == "" {
		return "", &provider.ProviderError{Op: "Upload", Provider: provider.ProviderS3, Err: provider.ErrMissingContainer}
	}
	key := provider.BlobKey(localPath, folder, blobName)

	f, err := os.Open(localPath)
	if err != nil {
		return "", &provider.ProviderError{Op: "Upload", Provider: provider.ProviderS3, Bucket: container, Key: key, Err: err}
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", &provider.ProviderError{Op: "Upload", Provider: provider.ProviderS3, Bucket: container, Key: key, Err: err}
	}

	contentType := "application/octet-stream"
	if m, err := mimetype.DetectFile(localPath); err == nil {
		contentType = m.String()
	}

	size := info.Size()
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(container),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: &size,
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", wrapError("Upload", container, key, err)
	}

	return p.ObjectURL(container, key), nil
}

// PresignGet returns a time-limited GET URL for key.
func (p *Provider) PresignGet(ctx context.Context, container, key string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(container) == "" {
		return "", &provider.ProviderError{Op: "PresignGet", Provider: provider.ProviderS3, Err: provider.ErrMissingContainer}
	}
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	if ttl > MaxPresignTTL {
		return "", fmt.Errorf("presign ttl %s exceeds maximum %s", ttl, MaxPresignTTL)
	}

	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", wrapError("PresignGet", container, key, err)
	}
	return req.URL, nil
}

// CheckContainer verifies the bucket exists and is accessible.
func (p *Provider) CheckContainer(ctx context.Context, container string) error {
	if strings.TrimSpace(container) == "" {
		return &provider.ProviderError{Op: "HeadBucket", Provider: provider.ProviderS3, Err: provider.ErrMissingContainer}
	}
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(container)})
	if err != nil {
		return wrapError("HeadBucket", container, "", err)
	}
	return nil
}

// ObjectURL returns the addressable URL for key in container.
//
//	endpoint, path style:    <endpoint>/<bucket>/<key>
//	endpoint, virtual host:  <scheme>://<bucket>.<host>/<key>
//	AWS, path style:         https://s3.<region>.amazonaws.com/<bucket>/<key>
//	AWS:                     https://<bucket>.s3.<region>.amazonaws.com/<key>
func (p *Provider) ObjectURL(container, key string) string {
	return objectURL(p.cfg.Endpoint, p.region, p.cfg.ForcePathStyle, container, key)
}

func objectURL(endpoint, region string, pathStyle bool, bucket, key string) string {
	escaped := escapeKey(key)

	if endpoint != "" {
		u, err := url.Parse(endpoint)
		if err == nil && u.Host != "" {
			if pathStyle {
				return strings.TrimRight(endpoint, "/") + "/" + bucket + "/" + escaped
			}
			return u.Scheme + "://" + bucket + "." + u.Host + "/" + escaped
		}
		return strings.TrimRight(endpoint, "/") + "/" + bucket + "/" + escaped
	}

	if region == "" {
		region = DefaultAWSRegion
	}
	if pathStyle {
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", region, bucket, escaped)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, escaped)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// wrapError converts S3 errors to provider errors with appropriate sentinel errors.
func wrapError(op, bucket, key string, err error) error {
	wrapped := &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderS3,
		Bucket:   bucket,
		Key:      key,
		Err:      err,
	}

	var noSuchBucket *types.NoSuchBucket
	var notFound *types.NotFound
	switch {
	case errors.As(err, &noSuchBucket):
		wrapped.Err = provider.ErrBucketNotFound
		return wrapped
	case errors.As(err, &notFound) && key == "":
		// HeadBucket reports a missing bucket as a bare 404.
		wrapped.Err = provider.ErrBucketNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		var sentinel error
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			sentinel = provider.ErrBucketNotFound
		case "NoSuchKey", "NotFound":
			if key == "" {
				sentinel = provider.ErrBucketNotFound
			} else {
				sentinel = provider.ErrNotFound
			}
		case "AccessDenied", "Forbidden", "AllAccessDisabled":
			sentinel = provider.ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
			sentinel = provider.ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			sentinel = provider.ErrThrottled
		case "ServiceUnavailable", "InternalError":
			sentinel = provider.ErrProviderUnavailable
		}
		if sentinel != nil {
			wrapped.Err = fmt.Errorf("%w: %s", sentinel, apiErr.ErrorMessage())
		}
		return wrapped
	}

	// Fallback: check error message for common cases
	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "NoSuchBucket"):
		wrapped.Err = provider.ErrBucketNotFound
	case strings.Contains(errMsg, "NoSuchKey") || strings.Contains(errMsg, "StatusCode: 404"):
		wrapped.Err = provider.ErrNotFound
	case strings.Contains(errMsg, "AccessDenied") || strings.Contains(errMsg, "Forbidden") || strings.Contains(errMsg, "StatusCode: 403"):
		wrapped.Err = provider.ErrAccessDenied
	case strings.Contains(errMsg, "InvalidAccessKeyId") || strings.Contains(errMsg, "SignatureDoesNotMatch"):
		wrapped.Err = provider.ErrInvalidCredentials
	case strings.Contains(errMsg, "SlowDown") || strings.Contains(errMsg, "Throttling") || strings.Contains(errMsg, "StatusCode: 429"):
		wrapped.Err = provider.ErrThrottled
	case strings.Contains(errMsg, "ServiceUnavailable") || strings.Contains(errMsg, "StatusCode: 503"):
		wrapped.Err = provider.ErrProviderUnavailable
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "dial tcp"):
		wrapped.Err = fmt.Errorf("%w: %v", provider.ErrProviderUnavailable, err)
	case strings.Contains(errMsg, "failed to retrieve credentials") || strings.Contains(errMsg, "no EC2 IMDS role found"):
		wrapped.Err = fmt.Errorf("%w: %v", provider.ErrInvalidCredentials, err)
	}

	return wrapped
}

// resolveRegion determines the final region to use after SDK config loading.
//
// The SDK has already applied, in order: explicit cfgRegion, AWS_REGION /
// AWS_DEFAULT_REGION, then the shared profile. This only applies the
// fallback: us-east-1 for AWS S3, nothing for custom endpoints.
func resolveRegion(cfgRegion, endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if cfgRegion != "" {
		return cfgRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
