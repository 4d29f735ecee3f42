// Package files resolves local file arguments and reads simple CSV inputs.
// Every function takes a billy.Filesystem so callers and tests can swap the
// OS filesystem for an in-memory one.
package files

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// nativeFS is a billy.Filesystem that acts like the native filesystem:
// paths are used as given, relative paths resolve against the working
// directory.
type nativeFS struct {
	osfs.ChrootOS
}

func (n *nativeFS) Chroot(path string) (billy.Filesystem, error) {
	return osfs.New(path), nil
}

func (n *nativeFS) Root() string {
	return "/"
}

// OS returns the native filesystem.
func OS() billy.Filesystem {
	return &nativeFS{}
}

// List resolves pattern to regular files: a file yields itself, a directory
// yields the files directly inside it, anything else is treated as a glob.
// Directories are never returned. Results are sorted.
func List(fs billy.Filesystem, pattern string) ([]string, error) {
	info, err := fs.Stat(pattern)
	switch {
	case err == nil && info.IsDir():
		entries, err := fs.ReadDir(pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", pattern, err)
		}
		var out []string
		for _, e := range entries {
			if e.Mode().IsRegular() {
				out = append(out, fs.Join(pattern, e.Name()))
			}
		}
		sort.Strings(out)
		return out, nil
	case err == nil:
		return []string{pattern}, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to stat %s: %w", pattern, err)
	}

	matches, err := util.Glob(fs, pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob %s: %w", pattern, err)
	}
	var out []string
	for _, m := range matches {
		if info, err := fs.Stat(m); err == nil && info.Mode().IsRegular() {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

// IsGlob reports whether the last element of p contains glob characters.
func IsGlob(p string) bool {
	return strings.ContainsAny(path.Base(strings.ReplaceAll(p, `\`, "/")), "*?[")
}

// ReadCSV reads every cell of a CSV file into one flat list, row by row.
// When hasHeader is set the first row is dropped. A missing file yields an
// empty list.
func ReadCSV(fs billy.Filesystem, name string, hasHeader bool) ([]string, error) {
	f, err := fs.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	out := []string{}
	first := true
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		if first && hasHeader {
			first = false
			continue
		}
		first = false
		out = append(out, record...)
	}
	return out, nil
}

// Exists reports whether name exists and is a directory when wantDir is set.
func Exists(fs billy.Filesystem, name string, wantDir bool) bool {
	info, err := fs.Stat(name)
	if err != nil {
		return false
	}
	return info.IsDir() == wantDir
}
