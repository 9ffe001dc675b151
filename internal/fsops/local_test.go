package fsops

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func mkTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, p := range []string{"a.txt", "sub/b.txt", "sub/deeper/c.txt"} {
		full := filepath.Join(root, p)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(p), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestReadWriteExists(t *testing.T) {
	l := NewLocal()
	path := filepath.Join(t.TempDir(), "nested", "f.txt")

	if l.Exists(path) {
		t.Fatal("file exists before write")
	}
	ok, err := l.WriteFile(path, "hello", "")
	if err != nil || !ok {
		t.Fatalf("WriteFile = %v, %v", ok, err)
	}
	if !l.Exists(path) {
		t.Fatal("file missing after write")
	}
	got, err := l.ReadFile(path)
	if err != nil || got != "hello" {
		t.Fatalf("ReadFile = %q, %v", got, err)
	}

	ok, err = l.WriteFile(path, base64.StdEncoding.EncodeToString([]byte{0, 1, 2}), "base64")
	if err != nil || !ok {
		t.Fatalf("WriteFile base64 = %v, %v", ok, err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "\x00\x01\x02" {
		t.Errorf("base64 content = %q", raw)
	}

	if _, err := l.WriteFile(path, "x", "latin1"); err == nil {
		t.Error("expected error for unknown encoding")
	}
	if _, err := l.ReadFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error reading missing file")
	}
}

func TestListFlat(t *testing.T) {
	root := mkTree(t)
	l := NewLocal()

	entries, err := l.List(root, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v, want a.txt and sub", entries)
	}
	if entries[0].Name != "a.txt" || entries[0].IsDirectory {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Name != "sub" || !entries[1].IsDirectory {
		t.Errorf("entries[1] = %+v", entries[1])
	}
}

func TestListRecursiveFilters(t *testing.T) {
	root := mkTree(t)
	l := NewLocal()

	all, err := l.List(root, ListOptions{Recursive: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Errorf("recursive entries = %d, want 5: %+v", len(all), all)
	}

	files, _ := l.List(root, ListOptions{Recursive: true, FilesOnly: true})
	if len(files) != 3 {
		t.Errorf("files = %+v", files)
	}
	for _, e := range files {
		if e.IsDirectory {
			t.Errorf("directory in FilesOnly listing: %+v", e)
		}
	}

	dirs, _ := l.List(root, ListOptions{Recursive: true, DirectoriesOnly: true})
	if len(dirs) != 2 || dirs[0].Name != "sub" || dirs[1].Name != "deeper" {
		t.Errorf("dirs = %+v", dirs)
	}
}

func TestTree(t *testing.T) {
	root := mkTree(t)
	tree, err := NewLocal().Tree(root)
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if !tree.IsDirectory || len(tree.Children) != 2 {
		t.Fatalf("root = %+v", tree)
	}
	sub := tree.Children[1]
	if sub.Name != "sub" || len(sub.Children) != 2 {
		t.Fatalf("sub = %+v", sub)
	}
	deeper := sub.Children[1]
	if deeper.Name != "deeper" || len(deeper.Children) != 1 || deeper.Children[0].Name != "c.txt" {
		t.Errorf("deeper = %+v", deeper)
	}

	leaf, err := NewLocal().Tree(filepath.Join(root, "a.txt"))
	if err != nil || leaf.IsDirectory || leaf.Children != nil {
		t.Errorf("leaf = %+v, %v", leaf, err)
	}
}
