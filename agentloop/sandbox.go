package agentloop

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscapesSandbox is returned when a path resolves outside the
// sandbox root.
var ErrPathEscapesSandbox = errors.New("path escapes sandbox")

// Sandbox confines file paths to a canonical root directory.
type Sandbox struct {
	root string
}

// NewSandbox canonicalizes root (absolute, symlinks evaluated) and checks
// that it is an existing directory.
func NewSandbox(root string) (*Sandbox, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("sandbox: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox: %s is not a directory", canonical)
	}
	return &Sandbox{root: canonical}, nil
}

// Root returns the canonical sandbox root.
func (s *Sandbox) Root() string { return s.root }

// Resolve maps path to a canonical absolute path inside the root. Relative
// paths are joined to the root. Symlinks are evaluated on the longest
// existing prefix, so a link pointing outside the root is rejected even
// when the final component does not exist yet.
func (s *Sandbox) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}

	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)

	resolved, err := evalExistingPrefix(p)
	if err != nil {
		return "", err
	}
	if !s.contains(resolved) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesSandbox, path)
	}
	return resolved, nil
}

func (s *Sandbox) contains(p string) bool {
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// evalExistingPrefix evaluates symlinks on the deepest existing ancestor of
// p and re-appends the missing tail.
func evalExistingPrefix(p string) (string, error) {
	var tail []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}
