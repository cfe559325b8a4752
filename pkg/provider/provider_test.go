package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlobKey(t *testing.T) {
	tests := []struct {
		name      string
		localPath string
		folder    string
		blobName  string
		want      string
	}{
		{name: "base name", localPath: "/tmp/out/clip.mp4", want: "clip.mp4"},
		{name: "folder", localPath: "/tmp/out/clip.mp4", folder: "videos/2024", want: "videos/2024/clip.mp4"},
		{name: "folder slashes trimmed", localPath: "/tmp/out/clip.mp4", folder: "/videos/", want: "videos/clip.mp4"},
		{name: "override name", localPath: "/tmp/out/clip.mp4", folder: "videos", blobName: "renamed.mp4", want: "videos/renamed.mp4"},
		{name: "override leading slash", localPath: "/tmp/out/clip.mp4", blobName: "/renamed.mp4", want: "renamed.mp4"},
		{name: "blank override", localPath: "/tmp/out/clip.mp4", blobName: "  ", want: "clip.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BlobKey(tt.localPath, tt.folder, tt.blobName))
		})
	}
}

func TestProviderError(t *testing.T) {
	err := &ProviderError{Op: "Upload", Provider: ProviderS3, Bucket: "media", Key: "a/b.mp4", Err: ErrAccessDenied}
	assert.Equal(t, "s3 Upload: media/a/b.mp4: access denied", err.Error())
	assert.True(t, IsAccessDenied(err))
	assert.False(t, IsBucketNotFound(err))

	err = &ProviderError{Op: "Upload", Provider: ProviderS3, Err: ErrMissingContainer}
	assert.Equal(t, "s3 Upload: no container configured", err.Error())
	assert.True(t, IsMissingContainer(err))
	assert.True(t, errors.Is(err, ErrMissingContainer))
}

func TestProviderType_String(t *testing.T) {
	assert.Equal(t, "s3", ProviderS3.String())
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		conn string
		want ProviderType
	}{
		{"", ProviderS3},
		{"Region=eu-west-1", ProviderS3},
		{"Provider=s3;Region=eu-west-1", ProviderS3},
		{"Region=x; provider = FILE ;Root=/mnt", ProviderFile},
		{"Provider=ftp", ProviderType("ftp")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectType(tt.conn), tt.conn)
	}
}
