package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
		err  bool
	}{
		{"pictures/u1/a.png", "pictures/u1/a.png", false},
		{"pictures//u1/./a.png", "pictures/u1/a.png", false},
		{"", "", true},
		{"/etc/passwd", "", true},
		{"../secret", "", true},
		{"pictures/../../secret", "", true},
		{`kyc\..\x`, "", true},
		{".", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := CleanKey(tt.key)
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFSStoreLifecycle(t *testing.T) {
	root := t.TempDir()
	s, err := NewFSStore(filepath.Join(root, "uploads"), "http://localhost:8080/uploads/")
	require.NoError(t, err)
	ctx := context.Background()

	url, err := s.Put(ctx, "pictures/u1/avatar.png", strings.NewReader("png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/uploads/pictures/u1/avatar.png", url)

	// Overwrites replace the whole blob
	_, err = s.Put(ctx, "pictures/u1/avatar.png", strings.NewReader("v2"), "image/png")
	require.NoError(t, err)

	rc, err := s.Open(ctx, "pictures/u1/avatar.png")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	entries, err := os.ReadDir(filepath.Join(root, "uploads", "pictures", "u1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	require.NoError(t, s.Delete(ctx, "pictures/u1/avatar.png"))
	_, err = s.Open(ctx, "pictures/u1/avatar.png")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "pictures/u1/avatar.png"), ErrNotFound)

	_, err = s.Put(ctx, "../escape", strings.NewReader("x"), "text/plain")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestFSStorePutHonorsCancel(t *testing.T) {
	s, err := NewFSStore(t.TempDir(), "")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Put(ctx, "kyc/u1/doc.pdf", strings.NewReader("pdf"), "application/pdf")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Open(context.Background(), "kyc/u1/doc.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".jpg", ExtensionFor("image/jpeg"))
	assert.Equal(t, ".pdf", ExtensionFor("application/pdf"))
	assert.Equal(t, "", ExtensionFor("text/html"))
}
