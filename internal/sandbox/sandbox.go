// Package sandbox confines caller-supplied paths to a fixed directory root.
//
// A Root is canonicalized once at construction. Confine rejects input whose
// ".." segments climb above the root before touching the filesystem, then
// resolves the rest twice: once scoped to the root with securejoin and once
// unscoped. Both must agree and land under the root, so a symlink pointing
// outside is refused instead of being silently clamped back in. Containment
// compares path segments, so "/data2" is never mistaken for a child of "/data".
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/google/uuid"

	"github.com/mblsha/zipforge/internal/fault"
)

const maxUniquifyAttempts = 64

// Root is an absolute, canonical directory boundary. It is immutable.
type Root struct {
	path     string
	vol      string
	segments []string
	// aliases are the spellings of the root accepted as a prefix of absolute
	// input: the canonical path and, when the root sits behind a symlink, the
	// path it was configured with.
	aliases [][]string
}

// ConfinedPath is a canonical absolute path proven to lie under Root. The zero
// value is not valid; values are only produced by this package.
type ConfinedPath struct {
	root *Root
	path string
}

// NewRoot canonicalizes dir and returns it as a Root. With create set, missing
// directories are created first.
func NewRoot(dir string, create bool) (*Root, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("sandbox root is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root %q: %w", dir, err)
	}
	if create {
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create sandbox root %q: %w", abs, err)
		}
	}
	canon, err := Canonicalize(abs)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(canon)
	if err != nil {
		return nil, fmt.Errorf("sandbox root %q: %w", canon, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("sandbox root %q is not a directory", canon)
	}
	vol := filepath.VolumeName(canon)
	r := &Root{path: canon, vol: vol, segments: splitSegments(canon[len(vol):])}
	r.aliases = [][]string{r.segments}
	if abs != canon && filepath.VolumeName(abs) == vol {
		r.aliases = append(r.aliases, splitSegments(abs[len(vol):]))
	}
	return r, nil
}

func (r *Root) Path() string {
	return r.path
}

func (r *Root) String() string {
	return r.path
}

// Contains reports whether canonical equals the root or is a strict
// descendant of it. canonical must already be canonicalized.
func (r *Root) Contains(canonical string) bool {
	if canonical == r.path {
		return true
	}
	vol := filepath.VolumeName(canonical)
	if vol != r.vol {
		return false
	}
	segs := splitSegments(canonical[len(vol):])
	return len(segs) > len(r.segments) && hasPrefix(segs, r.segments)
}

// Confine resolves raw against the root. Relative input is taken from the
// root; absolute input must name the root as its prefix. Only the resolved
// path is returned.
func (r *Root) Confine(raw string) (ConfinedPath, error) {
	rel, ok := r.relative(raw)
	if !ok {
		lexical := filepath.Clean(raw)
		if !filepath.IsAbs(raw) {
			lexical = filepath.Join(r.path, raw)
		}
		return ConfinedPath{}, fault.OutOfBounds(r.path, raw, lexical)
	}

	// Joined without cleaning: Canonicalize must see the raw segments so that
	// ".." after a symlink steps out of the link target.
	canon, err := Canonicalize(r.path + string(filepath.Separator) + rel)
	if err != nil {
		return ConfinedPath{}, fault.InvalidArgument("cannot resolve path %q: %v", raw, err)
	}
	if !r.Contains(canon) {
		return ConfinedPath{}, fault.OutOfBounds(r.path, raw, canon)
	}

	scoped, err := securejoin.SecureJoin(r.path, rel)
	if err != nil {
		return ConfinedPath{}, fault.InvalidArgument("cannot resolve path %q: %v", raw, err)
	}
	// A difference means securejoin clamped a link that leaves the root, or
	// reinterpreted an absolute link target relative to it.
	if scoped != canon {
		return ConfinedPath{}, fault.OutOfBounds(r.path, raw, canon)
	}
	return ConfinedPath{root: r, path: canon}, nil
}

// relative returns raw as a path below the root with its segments intact. It
// reports false when raw is absolute and outside every root alias, or when its
// ".." segments climb above the root without looking at the filesystem.
func (r *Root) relative(raw string) (string, bool) {
	segs := splitSegments(raw)
	if filepath.IsAbs(raw) {
		vol := filepath.VolumeName(raw)
		if vol != r.vol {
			return "", false
		}
		segs = splitSegments(raw[len(vol):])
		trimmed := false
		for _, alias := range r.aliases {
			if hasPrefix(segs, alias) {
				segs, trimmed = segs[len(alias):], true
				break
			}
		}
		if !trimmed {
			return "", false
		}
	}

	depth := 0
	for _, s := range segs {
		switch s {
		case ".":
		case "..":
			depth--
			if depth < 0 {
				return "", false
			}
		default:
			depth++
		}
	}
	return strings.Join(segs, string(filepath.Separator)), true
}

func hasPrefix(segs, prefix []string) bool {
	if len(segs) < len(prefix) {
		return false
	}
	for i, s := range prefix {
		if segs[i] != s {
			return false
		}
	}
	return true
}

// Allocate confines name and creates any missing parent directories of the
// result, since names may embed subdirectories.
func (r *Root) Allocate(name string) (ConfinedPath, error) {
	p, err := r.Confine(name)
	if err != nil {
		return ConfinedPath{}, err
	}
	if p.IsRoot() {
		return p, nil
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return ConfinedPath{}, fault.Internal(err, "create output parent directory")
	}
	return p, nil
}

// Uniquify returns p unchanged when nothing exists there, otherwise a sibling
// whose final segment carries a short random suffix and which did not exist at
// call time. Concurrent callers must still handle a create race.
func (r *Root) Uniquify(p ConfinedPath) (ConfinedPath, error) {
	if p.root != r {
		return ConfinedPath{}, fault.InvalidArgument("path %s is not confined to %s", p.path, r.path)
	}
	if p.IsRoot() {
		return ConfinedPath{}, fault.InvalidArgument("cannot uniquify the sandbox root %s", r.path)
	}
	exists, err := pathExists(p.path)
	if err != nil {
		return ConfinedPath{}, fault.Internal(err, "stat destination")
	}
	if !exists {
		return p, nil
	}

	parent, base := filepath.Dir(p.path), filepath.Base(p.path)
	for attempt := 0; attempt < maxUniquifyAttempts; attempt++ {
		candidate, err := r.Confine(filepath.Join(parent, base+"-"+ShortID(6)))
		if err != nil {
			return ConfinedPath{}, err
		}
		taken, err := pathExists(candidate.path)
		if err != nil {
			return ConfinedPath{}, fault.Internal(err, "stat destination")
		}
		if !taken {
			return candidate, nil
		}
	}
	return ConfinedPath{}, fault.Internal(fs.ErrExist, "no unique name available for "+p.path)
}

// ShortID returns n lowercase hex characters from a random UUID (n <= 32).
func ShortID(n int) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(id) {
		n = len(id)
	}
	return id[:n]
}

func (p ConfinedPath) Path() string {
	return p.path
}

func (p ConfinedPath) String() string {
	return p.path
}

func (p ConfinedPath) Root() *Root {
	return p.root
}

func (p ConfinedPath) Base() string {
	return filepath.Base(p.path)
}

func (p ConfinedPath) IsZero() bool {
	return p.root == nil
}

func (p ConfinedPath) IsRoot() bool {
	return p.root != nil && p.path == p.root.path
}

// Join confines name relative to p against p's root.
func (p ConfinedPath) Join(name string) (ConfinedPath, error) {
	if p.root == nil {
		return ConfinedPath{}, errors.New("join on zero ConfinedPath")
	}
	if filepath.IsAbs(name) {
		return p.root.Confine(name)
	}
	return p.root.Confine(p.path + string(filepath.Separator) + name)
}

// Revalidate canonicalizes p again and checks it is still under its root, for
// callers that hold a path across filesystem changes.
func (p ConfinedPath) Revalidate() error {
	if p.root == nil {
		return errors.New("revalidate zero ConfinedPath")
	}
	_, err := p.root.Confine(p.path)
	return err
}

func pathExists(p string) (bool, error) {
	_, err := os.Lstat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
