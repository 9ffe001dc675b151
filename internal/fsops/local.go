// Package fsops is the local filesystem behind the bridge's file events.
package fsops

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/ehrlich-b/deskbridge/internal/config"
)

// maxEntries caps ls -r and tree so a request for / cannot run unbounded.
const maxEntries = 100_000

var ErrTooManyEntries = errors.New("too many entries")

// Entry is one item of an ls listing.
type Entry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"is_directory"`
}

// Node is one item of a tree; Children is set for directories.
type Node struct {
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	IsDirectory bool    `json:"is_directory"`
	Children    []*Node `json:"children,omitempty"`
}

// ListOptions narrows an ls listing.
type ListOptions struct {
	Recursive       bool
	FilesOnly       bool
	DirectoriesOnly bool
}

// Local serves file events from the machine's own filesystem.
type Local struct{}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(config.ExpandHome(path))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes content, decoding it first when encoding is "base64".
// Missing parent directories are created.
func (l *Local) WriteFile(path, content, encoding string) (bool, error) {
	path = config.ExpandHome(path)
	data := []byte(content)
	switch encoding {
	case "", "utf8", "utf-8":
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return false, fmt.Errorf("decode base64 content: %w", err)
		}
		data = decoded
	default:
		return false, fmt.Errorf("unsupported encoding %q", encoding)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Local) Exists(path string) bool {
	_, err := os.Stat(config.ExpandHome(path))
	return err == nil
}

// List returns the entries under dir sorted by path.
func (l *Local) List(dir string, opts ListOptions) ([]Entry, error) {
	dir = config.ExpandHome(dir)
	entries := []Entry{}
	keep := func(isDir bool) bool {
		if opts.FilesOnly && isDir {
			return false
		}
		if opts.DirectoriesOnly && !isDir {
			return false
		}
		return true
	}

	if !opts.Recursive {
		dirents, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, d := range dirents {
			if keep(d.IsDir()) {
				entries = append(entries, Entry{Name: d.Name(), Path: filepath.Join(dir, d.Name()), IsDirectory: d.IsDir()})
			}
		}
		return entries, nil
	}

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		if len(entries) >= maxEntries {
			return ErrTooManyEntries
		}
		if keep(d.IsDir()) {
			entries = append(entries, Entry{Name: d.Name(), Path: p, IsDirectory: d.IsDir()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Tree returns root and everything beneath it. Symlinks are reported but
// not followed.
func (l *Local) Tree(root string) (*Node, error) {
	root = config.ExpandHome(root)
	info, err := os.Lstat(root)
	if err != nil {
		return nil, err
	}
	count := 0
	return buildNode(root, info.Name(), info.IsDir(), &count)
}

func buildNode(path, name string, isDir bool, count *int) (*Node, error) {
	*count++
	if *count > maxEntries {
		return nil, ErrTooManyEntries
	}
	n := &Node{Name: name, Path: path, IsDirectory: isDir}
	if !isDir {
		return n, nil
	}
	dirents, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	n.Children = []*Node{}
	for _, d := range dirents {
		child, err := buildNode(filepath.Join(path, d.Name()), d.Name(), d.IsDir(), count)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	return n, nil
}
