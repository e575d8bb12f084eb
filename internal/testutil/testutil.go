// Package testutil provides shared test helpers for setting up vaults and databases.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/portal/internal/index"
	"github.com/starford/portal/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "portal-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestWorkspace creates one temporary directory per vault name, in order,
// and returns the workspace together with the directory of each vault.
func TestWorkspace(t *testing.T, names ...string) (*storage.Workspace, map[string]string) {
	t.Helper()
	root := t.TempDir()
	dirs := make(map[string]string, len(names))
	specs := make([]storage.VaultSpec, 0, len(names))
	for _, name := range names {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		dirs[name] = dir
		specs = append(specs, storage.VaultSpec{Name: name, Path: dir})
	}
	ws, err := storage.NewWorkspace(specs)
	if err != nil {
		t.Fatal(err)
	}
	return ws, dirs
}

// WriteNote writes content to rel inside dir, creating parent directories.
func WriteNote(t *testing.T, dir, rel, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
