package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

const maxSymlinkHops = 255

// Canonicalize resolves an absolute path component by component: symbolic
// links are followed, ".." steps to the parent of the resolved prefix, and
// redundant separators and "." segments are dropped. Every component is
// looked up, including ones after a missing prefix, since a later ".." can
// bring the walk back onto an existing symlink. Components that do not exist
// are appended lexically.
func Canonicalize(p string) (string, error) {
	if !filepath.IsAbs(p) {
		return "", fmt.Errorf("path %q is not absolute", p)
	}

	vol := filepath.VolumeName(p)
	resolved := vol + string(filepath.Separator)
	pending := splitSegments(p[len(vol):])
	hops := 0

	for len(pending) > 0 {
		name := pending[0]
		pending = pending[1:]

		switch name {
		case ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}

		next := filepath.Join(resolved, name)
		fi, err := os.Lstat(next)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
				resolved = next
				continue
			}
			return "", fmt.Errorf("stat %q: %w", next, err)
		}
		if fi.Mode()&fs.ModeSymlink == 0 {
			resolved = next
			continue
		}

		hops++
		if hops > maxSymlinkHops {
			return "", fmt.Errorf("too many symbolic links resolving %q", p)
		}
		target, err := os.Readlink(next)
		if err != nil {
			return "", fmt.Errorf("read link %q: %w", next, err)
		}
		if filepath.IsAbs(target) {
			tvol := filepath.VolumeName(target)
			resolved = tvol + string(filepath.Separator)
			target = target[len(tvol):]
		}
		pending = append(splitSegments(target), pending...)
	}
	return resolved, nil
}

func splitSegments(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool {
		return r == '/' || r == filepath.Separator
	})
}
