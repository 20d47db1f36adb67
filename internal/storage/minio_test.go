package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"out/final.mp4":     "video/mp4",
		"out/FINAL.WEBM":    "video/webm",
		"out/loop.gif":      "image/gif",
		"frames/0.png":      "image/png",
		"frames/0.jpeg":     "image/jpeg",
		"out/manifest.json": "application/json",
		"out/unknown.bin":   "application/octet-stream",
		"no-extension":      "application/octet-stream",
	}
	for path, want := range tests {
		assert.Equal(t, want, ContentType(path), path)
	}
}

func TestNewMinIOUploader(t *testing.T) {
	_, err := NewMinIOUploader(Config{Endpoint: "localhost:9000"}, nil)
	assert.Error(t, err, "bucket is required")

	u, err := NewMinIOUploader(Config{Endpoint: "localhost:9000", Bucket: "videos", AccessKey: "a", SecretKey: "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultURLExpiry, u.expiry)
	assert.Equal(t, "videos", u.bucket)
}
