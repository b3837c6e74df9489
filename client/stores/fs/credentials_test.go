package fs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dennislee928/carbontrade/client"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"https://api.example.com", "https://api.example.com", false},
		{"https://api.example.com/api/v1/auth", "https://api.example.com", false},
		{"http://localhost:8080/", "http://localhost:8080", false},
		{"api.example.com", "https://api.example.com", false},
		{"https://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := normalizeURL(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCredentialStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	store, err := NewFSCredentialStore(path, "")
	require.NoError(t, err)

	cred, err := store.GetCredential("https://api.example.com")
	require.NoError(t, err)
	assert.Nil(t, cred)

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, store.SetCredential("https://api.example.com/api/v1", &client.ServerCredential{
		AccessToken: "access", RefreshToken: "refresh", UserEmail: "a@example.com", ExpiresAt: expires,
	}))
	require.NoError(t, store.SetCredential("http://localhost:8080", &client.ServerCredential{AccessToken: "local"}))
	require.NoError(t, store.Save())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := NewFSCredentialStore(path, "")
	require.NoError(t, err)
	got, err := reopened.GetCredential("https://api.example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "refresh", got.RefreshToken)
	assert.True(t, expires.Equal(got.ExpiresAt))

	servers, err := reopened.ListServers()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:8080", "https://api.example.com"}, servers)

	require.NoError(t, reopened.RemoveCredential("https://api.example.com"))
	require.NoError(t, reopened.Save())
	again, err := NewFSCredentialStore(path, "")
	require.NoError(t, err)
	got, err = again.GetCredential("https://api.example.com")
	require.NoError(t, err)
	assert.Nil(t, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	_, err := NewFSCredentialStore(path, "")
	assert.Error(t, err)
}

func TestSaveWithoutChangesSkipsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := NewFSCredentialStore(path, "")
	require.NoError(t, err)
	require.NoError(t, store.Save())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, path, store.Path())
}
