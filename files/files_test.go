package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFS(t *testing.T, files map[string]string) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	for name, content := range files {
		require.NoError(t, util.WriteFile(fs, name, []byte(content), 0o644))
	}
	return fs
}

func TestList(t *testing.T) {
	fs := newFS(t, map[string]string{
		"/data/a.csv":       "a",
		"/data/b.csv":       "b",
		"/data/c.txt":       "c",
		"/data/sub/d.csv":   "d",
		"/other/single.zip": "z",
	})

	testCases := []struct {
		name    string
		pattern string
		want    []string
	}{
		{"single file", "/other/single.zip", []string{"/other/single.zip"}},
		{"directory skips subdirectories", "/data", []string{"/data/a.csv", "/data/b.csv", "/data/c.txt"}},
		{"glob", "/data/*.csv", []string{"/data/a.csv", "/data/b.csv"}},
		{"no match", "/data/*.pdf", nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := List(fs, tc.pattern)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIsGlob(t *testing.T) {
	assert.True(t, IsGlob("/data/*.csv"))
	assert.True(t, IsGlob("file?.txt"))
	assert.False(t, IsGlob("/data/*dir/file.txt"))
	assert.False(t, IsGlob("plain.txt"))
}

func TestReadCSV(t *testing.T) {
	fs := newFS(t, map[string]string{
		"/ids.csv":    "id\n1\n2,3\n4\n",
		"/nohead.csv": "a,b\nc\n",
	})

	got, err := ReadCSV(fs, "/ids.csv", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4"}, got)

	got, err = ReadCSV(fs, "/nohead.csv", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)

	got, err = ReadCSV(fs, "/missing.csv", false)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExists(t *testing.T) {
	fs := newFS(t, map[string]string{"/dir/file": "x"})
	assert.True(t, Exists(fs, "/dir", true))
	assert.False(t, Exists(fs, "/dir", false))
	assert.True(t, Exists(fs, "/dir/file", false))
	assert.False(t, Exists(fs, "/nope", true))
}

func TestOSUsesNativePaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("x,y\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	fs := OS()
	got, err := List(fs, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.csv")}, got)
	assert.True(t, Exists(fs, filepath.Join(dir, "sub"), true))

	cells, err := ReadCSV(fs, filepath.Join(dir, "a.csv"), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, cells)
}
