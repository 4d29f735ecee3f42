package auth

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), DefaultDirName)
	store := NewFileStore(dir)

	got, err := store.Load(ctx, "svc-prod")
	require.NoError(t, err)
	assert.Nil(t, got)

	creds := &Credentials{Received: 10, Expiry: 20, AuthHeader: "Bearer x", TokenType: "Bearer"}
	require.NoError(t, store.Save(ctx, "svc-prod", creds))

	path, err := store.Path("svc-prod")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "svc-prod.json"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"auth_header":"Bearer x"`))
	assert.True(t, strings.Contains(string(data), `"expiry":20`))

	got, err = store.Load(ctx, "svc-prod")
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	require.NoError(t, store.Delete(ctx, "svc-prod"))
	require.NoError(t, store.Delete(ctx, "svc-prod"))
}

func TestFileStoreCorruptFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "svc-prod.json"), []byte("{not json"), 0o600))

	_, err := NewFileStore(dir).Load(ctx, "svc-prod")
	assert.Error(t, err)
}

func TestFileStoreRejectsPathKeys(t *testing.T) {
	store := NewFileStore(t.TempDir())
	for _, key := range []string{"", "..", "a/b", `a\b`} {
		_, err := store.Path(key)
		assert.Error(t, err, key)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Save(ctx, "k", &Credentials{AuthHeader: "a"}))
	got, err := store.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", got.AuthHeader)

	require.NoError(t, store.Delete(ctx, "k"))
	got, err = store.Load(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCredentialsExpired(t *testing.T) {
	now := time.Unix(100, 0)
	assert.False(t, (&Credentials{}).Expired(now))
	assert.False(t, (&Credentials{Expiry: 101}).Expired(now))
	assert.True(t, (&Credentials{Expiry: 100}).Expired(now))
	assert.True(t, (&Credentials{Expiry: 99}).Expired(now))
}
