// Package provider defines the upload capability for cloud object storage.
//
// Providers push one local file to a container and return a locator for
// it. Authentication uses SDK default credential chains unless explicit
// credentials are configured; providers do not implement retry beyond what
// the wrapped SDK client already does.
package provider

import (
	"context"
	"path/filepath"
	"strings"
	"time"
)

// Uploader pushes a local file to object storage.
//
// Implementations must not modify or delete the local file.
type Uploader interface {
	// Upload stores localPath in container under folder. blobName overrides
	// the object name; empty uses the local file's base name. It returns a
	// fully-qualified locator for the stored object.
	Upload(ctx context.Context, localPath, container, folder, blobName string) (string, error)
}

// Presigner creates time-limited read links for stored objects.
type Presigner interface {
	PresignGet(ctx context.Context, container, key string, ttl time.Duration) (string, error)
}

// ContainerChecker verifies a container exists and is reachable.
type ContainerChecker interface {
	CheckContainer(ctx context.Context, container string) error
}

// BlobKey builds the object key for a local file:
//
//	<folder trimmed of '/'>/<blobName or base name>
func BlobKey(localPath, folder, blobName string) string {
	name := strings.TrimSpace(blobName)
	if name == "" {
		name = filepath.Base(localPath)
	}
	name = strings.TrimLeft(name, "/")

	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		return name
	}
	return folder + "/" + name
}

// ProviderType identifies a cloud storage provider.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"

	// ProviderFile represents a local or mounted directory.
	ProviderFile ProviderType = "file"
)

// DetectType returns the provider named by a Provider=<type> segment of a
// connection string. Connection strings without one are S3.
func DetectType(conn string) ProviderType {
	for _, part := range strings.Split(conn, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.EqualFold(strings.TrimSpace(key), "provider") {
			return ProviderType(strings.ToLower(strings.TrimSpace(value)))
		}
	}
	return ProviderS3
}

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}
