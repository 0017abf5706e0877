// Package scan expands a source directory into the candidate file list of a
// batch task and infers volume/page metadata from file names.
package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ErrDirectoryNotFound 目录不存在
var ErrDirectoryNotFound = errors.New("directory not found")

// Enumerate expands directory into the deduplicated, lexicographically
// sorted list of absolute paths matching the glob patterns. A file matching
// several patterns is reported once. Re-running on an unchanged directory
// yields the identical list.
func Enumerate(directory string, recursive bool, patterns []string) ([]string, error) {
	info, err := os.Stat(directory)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, directory)
	}

	seen := make(map[string]struct{})

	collect := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return
		}
		seen[abs] = struct{}{}
	}

	for _, pattern := range patterns {
		if recursive {
			err = filepath.WalkDir(directory, func(path string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return err
				}
				ok, matchErr := filepath.Match(pattern, d.Name())
				if matchErr != nil {
					return matchErr
				}
				if ok {
					collect(path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("walk %s: %w", directory, err)
			}
		} else {
			matches, globErr := filepath.Glob(filepath.Join(directory, pattern))
			if globErr != nil {
				return nil, fmt.Errorf("glob %q: %w", pattern, globErr)
			}
			for _, m := range matches {
				if info, err := os.Stat(m); err == nil && !info.IsDir() {
					collect(m)
				}
			}
		}
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}
