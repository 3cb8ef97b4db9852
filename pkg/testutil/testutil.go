// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/spf13/afero"
)

// WriteFile writes content to a file in the given filesystem.
func WriteFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll(%s) error: %v", dir, err)
	}
	if err := afero.WriteFile(fs, path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile(%s) error: %v", path, err)
	}
}

// CreateFileTree creates multiple files from a map of path -> content.
func CreateFileTree(t *testing.T, fs afero.Fs, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		WriteFile(t, fs, filepath.Join(root, name), content)
	}
}

// ListFiles returns all files under root, sorted.
func ListFiles(t *testing.T, fs afero.Fs, root string) []string {
	t.Helper()
	var files []string
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk(%s) error: %v", root, err)
	}
	sort.Strings(files)
	return files
}
