// Package file implements the upload capability for a local or mounted
// directory. Containers are subdirectories of Root and must already exist;
// keys are slash-separated paths below them.
package file

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/3leaps/clipnimbus/pkg/provider"
)

// Provider copies files into a directory tree.
type Provider struct {
	root string
}

var (
	_ provider.Uploader         = (*Provider)(nil)
	_ provider.Presigner        = (*Provider)(nil)
	_ provider.ContainerChecker = (*Provider)(nil)
)

// Config configures a file provider.
type Config struct {
	Root string
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("root is required")
	}
	return nil
}

// ParseConnectionString parses
//
//	Provider=file;Root=/mnt/media
//
// Keys are case-insensitive.
func ParseConnectionString(s string) (Config, error) {
	var cfg Config
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return Config{}, fmt.Errorf("connection string segment %q is not Key=Value", part)
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "provider":
			if !strings.EqualFold(value, string(provider.ProviderFile)) {
				return Config{}, fmt.Errorf("not a file connection string (provider %q)", value)
			}
		case "root":
			cfg.Root = value
		default:
			return Config{}, fmt.Errorf("unknown connection string key %q", key)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// New returns a provider rooted at cfg.Root.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(filepath.Clean(cfg.Root))
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	return &Provider{root: root}, nil
}

// NewFromConnectionString parses conn and creates a provider.
func NewFromConnectionString(conn string) (*Provider, error) {
	cfg, err := ParseConnectionString(conn)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// Region is always empty for directories.
func (p *Provider) Region() string { return "" }

// Upload copies localPath to <root>/<container>/<key> and returns its file URL.
// The destination is written to a temp file and renamed into place.
func (p *Provider) Upload(ctx context.Context, localPath, container, folder, blobName string) (string, error) {
	container = strings.TrimSpace(container)
	if container == "" {
		return "", &provider.ProviderError{Op: "Upload", Provider: provider.ProviderFile, Err: provider.ErrMissingContainer}
	}
	key := provider.BlobKey(localPath, folder, blobName)

	if err := p.CheckContainer(ctx, container); err != nil {
		return "", err
	}
	full, err := p.fullPath(container, key)
	if err != nil {
		return "", p.wrapError("Upload", container, key, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", p.wrapError("Upload", container, key, err)
	}
	defer func() { _ = src.Close() }()

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", p.wrapError("Upload", container, key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".clipnimbus-put-*")
	if err != nil {
		return "", p.wrapError("Upload", container, key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: src}); err != nil {
		return "", p.wrapError("Upload", container, key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", p.wrapError("Upload", container, key, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return "", p.wrapError("Upload", container, key, err)
	}
	return fileURL(full), nil
}

// PresignGet returns the file URL of an existing object. Directories have no
// signed links, so ttl is ignored.
func (p *Provider) PresignGet(_ context.Context, container, key string, _ time.Duration) (string, error) {
	full, err := p.fullPath(container, key)
	if err != nil {
		return "", p.wrapError("PresignGet", container, key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		return "", p.wrapError("PresignGet", container, key, err)
	}
	if st.IsDir() {
		return "", &provider.ProviderError{Op: "PresignGet", Provider: provider.ProviderFile, Bucket: container, Key: key, Err: provider.ErrNotFound}
	}
	return fileURL(full), nil
}

// CheckContainer verifies <root>/<container> is an existing directory.
func (p *Provider) CheckContainer(ctx context.Context, container string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := p.fullPath(container, "")
	if err != nil {
		return p.wrapError("CheckContainer", container, "", err)
	}
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		if err == nil || os.IsNotExist(err) {
			return &provider.ProviderError{Op: "CheckContainer", Provider: provider.ProviderFile, Bucket: container, Err: provider.ErrBucketNotFound}
		}
		return p.wrapError("CheckContainer", container, "", err)
	}
	return nil
}

// fullPath joins container and key below root, rejecting traversal.
func (p *Provider) fullPath(container, key string) (string, error) {
	container = strings.TrimSpace(container)
	if container == "" || container == "." || container == ".." || strings.ContainsAny(container, `/\`) {
		return "", fmt.Errorf("invalid container name %q", container)
	}
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	clean := strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+key)), "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key path")
	}
	return filepath.Join(p.root, container, filepath.FromSlash(clean)), nil
}

func (p *Provider) wrapError(op, container, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Bucket: container, Key: key, Err: err}
	if err == nil {
		wrapped.Err = fmt.Errorf("unknown error")
	}
	// Normalize common filesystem errors to provider sentinels.
	if os.IsNotExist(err) {
		wrapped.Err = provider.ErrNotFound
	}
	if os.IsPermission(err) {
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}

func fileURL(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// ctxReader stops a copy when ctx is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
