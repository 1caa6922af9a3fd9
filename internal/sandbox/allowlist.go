// Package sandbox enforces the filesystem boundary every tool must pass
// before touching a path.
//
// An Allowlist holds canonical directory roots. A path is permitted iff its
// canonical form equals a root or sits strictly below one. Canonicalization
// (~/$VAR expansion, absolutization, symlink resolution) happens before the
// check, so traversal and symlink tricks are judged on the real target.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"aide/internal/logging"
)

// ErrPathDenied is returned when a path falls outside every allowed root.
// The wrapped message never names the configured roots.
var ErrPathDenied = errors.New("path is outside the allowed directories")

// Allowlist is an immutable set of canonical absolute directory roots.
// Derive a widened copy with WithRoots; the original never changes, so
// per-request elevation cannot leak into later requests.
type Allowlist struct {
	roots []string
}

// New builds an allowlist from raw root paths. Each root is canonicalized;
// roots that cannot be resolved are skipped with a warning. Duplicates keep
// their first-seen position.
func New(rawRoots ...string) *Allowlist {
	al := &Allowlist{}
	al.roots = appendRoots(nil, rawRoots)
	return al
}

// Default returns the conservative default allowlist: the user's home
// directory plus Desktop, Documents and Downloads, plus the current working
// directory, plus any colon-separated roots in AIDE_ALLOWED_PATHS.
func Default() *Allowlist {
	var raw []string

	if home, err := os.UserHomeDir(); err == nil {
		raw = append(raw,
			home,
			filepath.Join(home, "Desktop"),
			filepath.Join(home, "Documents"),
			filepath.Join(home, "Downloads"),
		)
	}

	if cwd, err := os.Getwd(); err == nil {
		raw = append(raw, cwd)
	}

	if extra := os.Getenv("AIDE_ALLOWED_PATHS"); extra != "" {
		for _, p := range strings.Split(extra, ":") {
			if p = strings.TrimSpace(p); p != "" {
				raw = append(raw, p)
			}
		}
	}

	return New(raw...)
}

// Permissive returns an allowlist rooted at the filesystem root. Opt-in via
// config only; it disables the boundary in everything but name.
func Permissive() *Allowlist {
	return New(string(filepath.Separator))
}

// WithRoots returns a new allowlist containing this list's roots plus the
// given extras. The receiver is not modified.
func (a *Allowlist) WithRoots(rawRoots ...string) *Allowlist {
	roots := make([]string, len(a.roots))
	copy(roots, a.roots)
	return &Allowlist{roots: appendRoots(roots, rawRoots)}
}

// Roots returns a copy of the canonical roots, in first-seen order.
func (a *Allowlist) Roots() []string {
	out := make([]string, len(a.roots))
	copy(out, a.roots)
	return out
}

// appendRoots canonicalizes and deduplicates raw roots onto dst.
func appendRoots(dst []string, raw []string) []string {
	seen := make(map[string]bool, len(dst)+len(raw))
	for _, r := range dst {
		seen[r] = true
	}
	for _, r := range raw {
		canonical, err := Resolve(r)
		if err != nil {
			logging.SandboxWarn("Skipping unresolvable allowlist root %q: %v", r, err)
			continue
		}
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		dst = append(dst, canonical)
	}
	return dst
}

// Resolve canonicalizes a raw path: expands a leading ~ and $VAR references,
// makes it absolute, and resolves symlinks. A path that does not exist yet
// is resolved through its deepest existing ancestor so that writes to new
// files remain checkable.
func Resolve(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty path")
	}

	p := raw
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot expand ~: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	p = os.ExpandEnv(p)

	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("cannot absolutize path: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("cannot resolve path: %w", err)
	}

	// Target does not exist. Resolve the deepest existing ancestor and
	// re-join the nonexistent remainder.
	dir := abs
	var tail []string
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			// Hit the filesystem root without finding anything.
			return abs, nil
		}
		tail = append([]string{filepath.Base(dir)}, tail...)
		dir = parent

		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("cannot resolve path: %w", err)
		}
	}
}

// IsAllowed reports whether a canonical path equals one of the roots or
// sits strictly below one. Comparison happens at separator boundaries, so
// /home/user-evil never matches a /home/user root.
func (a *Allowlist) IsAllowed(canonical string) bool {
	for _, root := range a.roots {
		if canonical == root {
			return true
		}
		prefix := root
		if !strings.HasSuffix(prefix, string(filepath.Separator)) {
			prefix += string(filepath.Separator)
		}
		if strings.HasPrefix(canonical, prefix) {
			return true
		}
	}
	return false
}

// EnsureAllowed resolves a raw path and checks it against the allowlist.
// On success it returns the canonical path for the caller to operate on.
// The denial error wraps ErrPathDenied and does not reveal the roots.
func (a *Allowlist) EnsureAllowed(raw string) (string, error) {
	canonical, err := Resolve(raw)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", raw, err)
	}

	if !a.IsAllowed(canonical) {
		logging.SandboxWarn("Denied access to %s (requested as %q)", canonical, raw)
		return "", fmt.Errorf("access to %q denied: %w", raw, ErrPathDenied)
	}

	logging.SandboxDebug("Allowed access to %s", canonical)
	return canonical, nil
}
