package staticfileserver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"example.com/minihttpd/internal/http1"
)

// ResolvedPath is an absolute, symlink-free path proven to lie inside a
// canonical document root. Only ResolvePath and Child construct one.
type ResolvedPath struct {
	root string
	path string
}

// Path returns the absolute filesystem path.
func (rp ResolvedPath) Path() string { return rp.path }

// Root returns the canonical document root rp was checked against.
func (rp ResolvedPath) Root() string { return rp.root }

// IsZero reports whether rp was never resolved.
func (rp ResolvedPath) IsZero() bool { return rp.path == "" }

// ResolvePath maps a decoded request path onto documentRoot.
//
// Leading slashes are stripped and the remainder is resolved with every
// symlink followed. A path that does not exist yet is resolved through its
// deepest existing ancestor, so it is still checked for containment and
// later reported as not found. Any other resolution failure, and any result
// outside the root, is http1.ErrForbidden.
func ResolvePath(documentRoot, requestPath string) (ResolvedPath, error) {
	root, err := canonicalRoot(documentRoot)
	if err != nil {
		return ResolvedPath{}, fmt.Errorf("cannot canonicalize document root %q: %v: %w", documentRoot, err, http1.ErrForbidden)
	}
	return resolveUnder(root, root, strings.TrimLeft(requestPath, "/"))
}

// Child resolves name inside rp with the same containment guarantee.
func (rp ResolvedPath) Child(name string) (ResolvedPath, error) {
	return resolveUnder(rp.root, rp.path, name)
}

// ResolveAndStat resolves requestPath and stats the result. Stat failures
// are http1.ErrNotFound.
func ResolveAndStat(documentRoot, requestPath string) (ResolvedPath, os.FileInfo, error) {
	rp, err := ResolvePath(documentRoot, requestPath)
	if err != nil {
		return ResolvedPath{}, nil, err
	}
	fi, err := os.Stat(rp.path)
	if err != nil {
		return rp, nil, fmt.Errorf("stat %s: %v: %w", rp.path, err, http1.ErrNotFound)
	}
	return rp, fi, nil
}

func canonicalRoot(documentRoot string) (string, error) {
	abs, err := filepath.Abs(documentRoot)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func resolveUnder(root, base, rel string) (ResolvedPath, error) {
	if strings.IndexByte(rel, 0) >= 0 {
		return ResolvedPath{}, fmt.Errorf("path contains NUL byte: %w", http1.ErrForbidden)
	}

	joined := base
	if rel != "" {
		joined = base + string(filepath.Separator) + rel
	}
	candidate, err := canonicalize(joined)
	if err != nil {
		return ResolvedPath{}, fmt.Errorf("cannot canonicalize %q: %v: %w", joined, err, http1.ErrForbidden)
	}
	if !within(root, candidate) {
		return ResolvedPath{}, fmt.Errorf("path %q escapes document root %q: %w", candidate, root, http1.ErrForbidden)
	}
	return ResolvedPath{root: root, path: candidate}, nil
}

// canonicalize follows every symlink in p. When p does not exist, its
// deepest existing ancestor is canonicalized and the missing tail is
// re-attached.
func canonicalize(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	clean := filepath.Clean(p)
	if clean != p {
		// A ".." after a missing component collapses lexically; the result
		// may exist and must still have its symlinks followed.
		if resolved, cerr := filepath.EvalSymlinks(clean); cerr == nil {
			return resolved, nil
		}
	}
	parent := filepath.Dir(clean)
	if parent == clean {
		return "", err
	}
	resolvedParent, perr := canonicalize(parent)
	if perr != nil {
		return "", perr
	}
	return filepath.Join(resolvedParent, filepath.Base(clean)), nil
}

// within reports whether candidate equals root or lies beneath it, compared
// component by component.
func within(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
