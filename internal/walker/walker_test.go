package walker

import (
	"os"
	"path/filepath"
	"testing"
)

func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("main.go", "package main")
	write("lib/util.go", "package lib")
	write("lib/deep/deeper/far.go", "package deeper")
	write("assets/logo.png", "binarybytes")
	write("big.txt", string(make([]byte, 4096)))
	write(".git/config", "[core]")
	return root
}

func names(files []WalkedFile) map[string]bool {
	set := map[string]bool{}
	for _, f := range files {
		set[f.FileName] = true
	}
	return set
}

func TestWalkSkipsVCSDirs(t *testing.T) {
	files, err := Walk(Config{Cwd: buildTree(t)})
	if err != nil {
		t.Fatal(err)
	}
	got := names(files)
	if got["config"] {
		t.Error(".git contents enumerated")
	}
	if !got["main.go"] || !got["far.go"] {
		t.Errorf("expected files missing: %v", got)
	}
}

func TestWalkMaxDepth(t *testing.T) {
	files, err := Walk(Config{Cwd: buildTree(t), MaxDepth: 2})
	if err != nil {
		t.Fatal(err)
	}
	got := names(files)
	if got["far.go"] {
		t.Error("file beyond max depth enumerated")
	}
	if !got["util.go"] {
		t.Error("file within depth missing")
	}
}

func TestWalkSkipBinaryAndSize(t *testing.T) {
	files, err := Walk(Config{Cwd: buildTree(t), SkipBinary: true, MaxFileSize: 1024})
	if err != nil {
		t.Fatal(err)
	}
	got := names(files)
	if got["logo.png"] {
		t.Error("binary file enumerated with SkipBinary")
	}
	if got["big.txt"] {
		t.Error("oversized file enumerated")
	}
}

func TestWalkGlobPattern(t *testing.T) {
	files, err := Walk(Config{Cwd: buildTree(t), Pattern: "**/*.go"})
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		if filepath.Ext(f.Path) != ".go" {
			t.Errorf("non-go file matched: %s", f.Path)
		}
	}
	if len(files) == 0 {
		t.Fatal("glob matched nothing")
	}
}

func TestWalkMaxBreadth(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	files, err := Walk(Config{Cwd: root, MaxBreadth: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Errorf("breadth cap ignored: %d files", len(files))
	}
}
