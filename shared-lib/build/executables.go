package build

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// executeBits covers the owner, group and other execute permissions.
const executeBits fs.FileMode = 0o111

// IsCandidateBinary reports whether a directory entry qualifies as a build
// artifact: a regular file (symlinks and directories are rejected), with no
// file-name extension, carrying at least one execute permission bit.
//
// info must come from Lstat (or os.ReadDir) so symlinks are seen as such.
func IsCandidateBinary(info fs.FileInfo) bool {
	if !info.Mode().IsRegular() {
		return false
	}
	if hasExtension(info.Name()) {
		return false
	}
	return info.Mode().Perm()&executeBits != 0
}

// hasExtension treats a leading dot as part of the stem, so ".hidden" has no
// extension while "lib.so" and "trailing." do.
func hasExtension(name string) bool {
	return strings.LastIndexByte(name, '.') > 0
}

// ListCandidates returns the absolute paths of all top-level candidate
// binaries in dir, sorted by file name.
func ListCandidates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var candidates []string
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", filepath.Join(dir, entry.Name()), err)
		}
		if IsCandidateBinary(info) {
			candidates = append(candidates, filepath.Join(dir, entry.Name()))
		}
	}
	return candidates, nil
}

// PurgeCandidates deletes every candidate binary in dir so renamed or
// removed packages cannot be picked up again after the next build.
//
// A missing directory is not an error (nothing has been built yet).
func PurgeCandidates(dir string) (removed []string, err error) {
	candidates, err := ListCandidates(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var result *multierror.Error
	for _, candidate := range candidates {
		if err := os.Remove(candidate); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result = multierror.Append(result, fmt.Errorf("failed to remove stale artifact %s: %w", candidate, err))
			continue
		}
		removed = append(removed, filepath.Base(candidate))
	}
	return removed, result.ErrorOrNil()
}
