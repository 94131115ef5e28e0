package fs

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// GitFS implements FileSystem by reading from a git ref (branch, tag, or commit)
// without touching the working tree.
type GitFS struct {
	repoPath string
	ref      string
}

// NewGitFS creates a GitFS that reads files from the given ref in the repository at repoPath.
func NewGitFS(repoPath, ref string) *GitFS {
	return &GitFS{repoPath: repoPath, ref: ref}
}

// treeEntry is one parsed line of `git ls-tree` output.
type treeEntry struct {
	objType string
	size    int64
	name    string
}

func (g *GitFS) git(args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", g.repoPath}, args...)...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return string(out), nil
}

// lsTree lists entries at treeish with sizes. NUL-terminated output keeps
// unusual file names intact.
func (g *GitFS) lsTree(args ...string) ([]treeEntry, error) {
	out, err := g.git(append([]string{"ls-tree", "-z", "--long", g.ref}, args...)...)
	if err != nil {
		return nil, err
	}

	var entries []treeEntry
	for _, rec := range strings.Split(out, "\x00") {
		if rec == "" {
			continue
		}
		// Format: "<mode> <type> <hash> <size>\t<name>"
		tab := strings.IndexByte(rec, '\t')
		if tab < 0 {
			continue
		}
		fields := strings.Fields(rec[:tab])
		if len(fields) < 4 {
			continue
		}
		size, _ := strconv.ParseInt(fields[3], 10, 64)
		entries = append(entries, treeEntry{
			objType: fields[1],
			size:    size,
			name:    baseName(rec[tab+1:]),
		})
	}
	return entries, nil
}

// ReadFile reads the contents of the file at the given path from the git ref.
func (g *GitFS) ReadFile(path string) ([]byte, error) {
	if path == "" || path == "." {
		return nil, fmt.Errorf("cannot read directory as file")
	}
	out, err := g.git("show", g.ref+":"+path)
	if err != nil {
		if strings.Contains(err.Error(), "not exist") {
			return nil, ErrNotExist
		}
		return nil, err
	}
	return []byte(out), nil
}

// Stat returns metadata for the file or directory at the given path in the git ref.
func (g *GitFS) Stat(path string) (FileInfo, error) {
	path = strings.Trim(path, "/")
	if path == "" || path == "." {
		if _, err := g.git("rev-parse", "--verify", g.ref); err != nil {
			return FileInfo{}, ErrNotExist
		}
		return FileInfo{Name: g.ref, IsDir: true}, nil
	}

	entries, err := g.lsTree("--", path)
	if err != nil || len(entries) == 0 {
		return FileInfo{}, ErrNotExist
	}
	e := entries[0]
	return FileInfo{Name: e.name, IsDir: e.objType == "tree", Size: e.size}, nil
}

// ReadDir lists the immediate children of the directory at the given path in the git ref.
func (g *GitFS) ReadDir(path string) ([]DirEntry, error) {
	path = strings.Trim(path, "/")

	var (
		entries []treeEntry
		err     error
	)
	if path == "" || path == "." {
		entries, err = g.lsTree()
	} else {
		entries, err = g.lsTree("--", path+"/")
	}
	if err != nil {
		return nil, ErrNotExist
	}

	result := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		// submodules ("commit") have no content to import
		if e.objType != "tree" && e.objType != "blob" {
			continue
		}
		result = append(result, DirEntry{Name: e.name, IsDir: e.objType == "tree"})
	}
	return result, nil
}

func baseName(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
}
