package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "app.js"), []byte("let a = 1;\n"), 0644); err != nil {
		t.Fatal(err)
	}

	files, err := LoadFiles(root, []string{"src/app.js", "missing.txt"})
	if err != nil {
		t.Fatalf("LoadFiles() error = %v", err)
	}
	want := map[string]string{"src/app.js": "let a = 1;\n"}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("LoadFiles() = %v, want %v", files, want)
	}
}

func TestLoadFilesBinary(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "image.png"), []byte{0x89, 'P', 'N', 'G', 0, 1}, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFiles(root, []string{"image.png"})
	if !errors.Is(err, ErrBinary) {
		t.Errorf("LoadFiles() error = %v, want ErrBinary", err)
	}
}

func TestCommit(t *testing.T) {
	root := t.TempDir()
	oldPath := filepath.Join(root, "old.txt")
	keptPath := filepath.Join(root, "script.sh")
	if err := os.WriteFile(oldPath, []byte("bye\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keptPath, []byte("echo 1\n"), 0755); err != nil {
		t.Fatal(err)
	}

	files := map[string]string{
		"nested/new.txt": "hello\n",
		"script.sh":      "echo 2\n",
	}
	if err := Commit(root, files, []string{"nested/new.txt", "script.sh"}, []string{"old.txt", "never-existed.txt"}); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "nested", "new.txt"))
	if err != nil || string(data) != "hello\n" {
		t.Errorf("new.txt = %q, %v", data, err)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Error("old.txt should be removed")
	}

	info, err := os.Stat(keptPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0755 {
		t.Errorf("script.sh mode = %v, want 0755", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(root)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestCommitUnknownPath(t *testing.T) {
	if err := Commit(t.TempDir(), map[string]string{}, []string{"ghost.txt"}, nil); err == nil {
		t.Error("Commit() with a path missing from the working set should fail")
	}
}
