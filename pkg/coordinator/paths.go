package coordinator

import (
	"fmt"
	"path"
	"strings"
)

// Join joins path elements into a clean absolute coordinator path.
func Join(elem ...string) string {
	p := path.Join(elem...)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Parent returns the parent path of p ("/" for top-level nodes).
func Parent(p string) string {
	return path.Dir(p)
}

// Leaf returns the last element of p.
func Leaf(p string) string {
	return path.Base(p)
}

// ValidatePath rejects paths that are not clean absolute paths: relative
// paths, empty segments, trailing slashes, "." or ".." segments.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("path %q is not absolute", p)
	}
	if p != "/" && path.Clean(p) != p {
		return fmt.Errorf("path %q is not clean", p)
	}
	for _, seg := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		if seg == "." || seg == ".." {
			return fmt.Errorf("path %q contains a relative segment", p)
		}
	}
	return nil
}
