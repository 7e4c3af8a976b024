package artifact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		name     string
		keyOrURL string
		want     string
	}{
		{"plain key", "projects/p1/audit/t1.json", "projects/p1/audit/t1.json"},
		{"s3 url", "s3://artifacts/projects/p1/claude.md", "projects/p1/claude.md"},
		{"virtual-hosted url", "https://artifacts.s3.us-east-1.amazonaws.com/projects/p1/claude.md", "projects/p1/claude.md"},
		{"path-style url", "https://minio.local:9000/artifacts/projects/p1/claude.md", "projects/p1/claude.md"},
		{"bucket only", "s3://artifacts", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseKey("artifacts", tt.keyOrURL))
		})
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore("artifacts")
	ctx := context.Background()

	url, err := s.Put(ctx, "projects/p1/audit/t1.json", "application/json", []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, "s3://artifacts/projects/p1/audit/t1.json", url)

	// Readable by key and by the returned URL.
	data, err := s.Get(ctx, "projects/p1/audit/t1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	data, err = s.Get(ctx, url)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	_, err = s.Get(ctx, "projects/p1/missing.json")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreDeletePrefix(t *testing.T) {
	s := NewMemoryStore("artifacts")
	ctx := context.Background()

	for _, key := range []string{
		"projects/p1/audit/t1.json",
		"projects/p1/audit/t2.json",
		"projects/p1/claude.md",
		"projects/p2/audit/t3.json",
	} {
		_, err := s.Put(ctx, key, "application/octet-stream", []byte("x"))
		require.NoError(t, err)
	}

	n, err := s.DeletePrefix(ctx, "projects/p1/")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = s.Get(ctx, "projects/p1/claude.md")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "projects/p2/audit/t3.json")
	require.NoError(t, err)
}
