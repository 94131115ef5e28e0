// Package docpath canonicalizes and manipulates the slash-delimited paths
// that key every entry in the document namespace.
package docpath

import "strings"

// Root is the canonical path of the namespace root.
const Root = "/"

// Normalize converts a raw path into its canonical form: absolute, with runs
// of slashes collapsed and no trailing slash (except for the root itself).
// An empty path is the root.
func Normalize(raw string) string {
	if raw == "" {
		return Root
	}

	var b strings.Builder
	b.Grow(len(raw) + 1)
	if raw[0] != '/' {
		b.WriteByte('/')
	}
	prevSlash := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}

	p := b.String()
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

// ChildPrefix returns the literal prefix shared by every descendant of dir.
func ChildPrefix(dir string) string {
	if dir == Root {
		return Root
	}
	return dir + "/"
}

// Base returns the leaf segment of a canonical path. The root's leaf is "/".
func Base(p string) string {
	if p == Root {
		return Root
	}
	return p[strings.LastIndexByte(p, '/')+1:]
}

// Parent returns the directory part of a canonical path.
func Parent(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return Root
	}
	return p[:i]
}

// Join places name directly under dir.
func Join(dir, name string) string {
	if dir == Root {
		return Root + name
	}
	return dir + "/" + name
}

// IsDirectChild reports whether p sits exactly one level below the directory
// whose child prefix is prefix.
func IsDirectChild(p, prefix string) bool {
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	rest := p[len(prefix):]
	return rest != "" && !strings.Contains(rest, "/")
}

// IsWithin reports whether p is dir or one of its descendants.
func IsWithin(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, ChildPrefix(dir))
}

// Rebase replaces the leading from of p with to. Paths that do not start with
// from are returned unchanged.
func Rebase(p, from, to string) string {
	if !strings.HasPrefix(p, from) {
		return p
	}
	return to + p[len(from):]
}
