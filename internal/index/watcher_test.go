package index

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/portal/internal/models"
	"github.com/starford/portal/internal/noteref"
	"github.com/starford/portal/internal/storage"
)

// watcherTestEnv sets up two vault dirs, a workspace, and a DB for watcher tests.
func watcherTestEnv(t *testing.T) (map[string]string, *storage.Workspace, *DB) {
	t.Helper()
	root := t.TempDir()
	dirs := map[string]string{
		"main":  filepath.Join(root, "main"),
		"other": filepath.Join(root, "other"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	ws, err := storage.NewWorkspace([]storage.VaultSpec{
		{Name: "main", Path: dirs["main"]},
		{Name: "other", Path: dirs["other"]},
	})
	if err != nil {
		t.Fatal(err)
	}
	db := testDB(t)
	if err := db.SetVaults(ws.Names()); err != nil {
		t.Fatal(err)
	}
	return dirs, ws, db
}

var watchOpts = noteref.ScanOptions{Legacy: true}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestWatcher_NewFileIndexed(t *testing.T) {
	dirs, ws, db := watcherTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string

	go Watch(ctx, db, ws, watchOpts, quietLogger(), func(kind string, key models.NoteKey) {
		mu.Lock()
		events = append(events, kind+":"+key.String())
		mu.Unlock()
	})

	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(dirs["other"], "new.md"), []byte("# New"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("other", "new.md")
		return cs != ""
	}, "new file not indexed by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e == "created:other/new" {
				return true
			}
		}
		return false
	}, "expected created:other/new callback")
}

func TestWatcher_NewDirWatched(t *testing.T) {
	dirs, ws, db := watcherTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, ws, watchOpts, quietLogger(), nil)

	time.Sleep(100 * time.Millisecond)

	subDir := filepath.Join(dirs["main"], "subdir")
	_ = os.MkdirAll(subDir, 0o755)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(subDir, "deep.md"), []byte("# Deep"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, err := db.GetNote(context.Background(), models.NoteKey{Vault: "main", Fname: "subdir.deep"})
		return err == nil
	}, "file in new subdir not indexed by watcher")
}

func TestWatcher_UpdateRefreshesLinks(t *testing.T) {
	dirs, ws, db := watcherTestEnv(t)
	p := filepath.Join(dirs["main"], "host.md")
	_ = os.WriteFile(p, []byte("![[first]]\n"), 0o644)
	if err := Sync(db, ws, watchOpts, quietLogger()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, ws, watchOpts, quietLogger(), nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(p, []byte("![[second]]\n"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		deps, _ := db.Dependents(context.Background(), models.NoteKey{Vault: "main", Fname: "second"})
		return len(deps) == 1
	}, "updated reference not reindexed")
}

func TestWatcher_DeleteRemovesFromIndex(t *testing.T) {
	dirs, ws, db := watcherTestEnv(t)

	_ = os.WriteFile(filepath.Join(dirs["main"], "del.md"), []byte("# Delete Me"), 0o644)
	if err := Sync(db, ws, watchOpts, quietLogger()); err != nil {
		t.Fatal(err)
	}

	cs, _ := db.GetChecksum("main", "del.md")
	if cs == "" {
		t.Fatal("precondition: file should be indexed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, ws, watchOpts, quietLogger(), nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Remove(filepath.Join(dirs["main"], "del.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("main", "del.md")
		return cs == ""
	}, "deleted file still in index")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	dirs, ws, db := watcherTestEnv(t)

	_ = os.WriteFile(filepath.Join(dirs["main"], "old.md"), []byte("# Rename"), 0o644)
	if err := Sync(db, ws, watchOpts, quietLogger()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, ws, watchOpts, quietLogger(), nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Rename(filepath.Join(dirs["main"], "old.md"), filepath.Join(dirs["main"], "renamed.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		oldCS, _ := db.GetChecksum("main", "old.md")
		newCS, _ := db.GetChecksum("main", "renamed.md")
		return oldCS == "" && newCS != ""
	}, "rename reconciliation failed: old path should be removed and new path indexed")
}

func TestHiddenPath(t *testing.T) {
	cases := map[string]bool{
		"note.md":               false,
		"dir/note.md":           false,
		".git/config":           true,
		"dir/.portal-tmp-123":   true,
		"dir/.hidden/inside.md": true,
	}
	for in, want := range cases {
		if got := hiddenPath(in); got != want {
			t.Errorf("hiddenPath(%q) = %v, want %v", in, got, want)
		}
	}
}
