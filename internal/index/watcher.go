package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/portal/internal/checksum"
	"github.com/starford/portal/internal/models"
	"github.com/starford/portal/internal/noteref"
	"github.com/starford/portal/internal/parser"
	"github.com/starford/portal/internal/storage"
)

// Event kinds passed to EventCallback.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// EventCallback is called after a watcher-driven index change.
// kind is one of EventCreated, EventUpdated, EventDeleted.
type EventCallback func(kind string, key models.NoteKey)

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on every vault root and processes file
// change events until ctx is cancelled. It calls cb (if non-nil) after
// each successful index mutation.
//
// New directories created at runtime are automatically added to the watch
// list. Rename events trigger a reconciliation pass over the affected vault
// that removes stale index entries whose files no longer exist on disk.
func Watch(ctx context.Context, db *DB, ws *storage.Workspace, opts noteref.ScanOptions, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, v := range ws.Vaults() {
		if err := addDirsRecursive(w, v.Store.Root()); err != nil {
			return err
		}
		logger.Info("watcher: started", slog.String("vault", v.Name), slog.String("root", v.Store.Root()))
	}

	// reconcileTimer is used to debounce rename reconciliation.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time
	pending := make(map[string]bool)

	scheduleReconcile := func(vault string) {
		pending[vault] = true
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			for _, v := range ws.Vaults() {
				if pending[v.Name] {
					reconcileVault(db, v, opts, logger, cb)
				}
			}
			clear(pending)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			vault, rel, inVault := ws.Locate(ev.Name)
			if !inVault || hiddenPath(rel) {
				continue
			}
			store, _ := ws.Vault(vault)

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					}
					indexNewDir(db, storage.Vault{Name: vault, Store: store}, ev.Name, opts, logger, cb)
					continue
				}
			}

			if !strings.HasSuffix(rel, ".md") {
				continue
			}
			key := models.NoteKey{Vault: vault, Fname: parser.FnameFromPath(rel)}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				data, readErr := store.Read(rel)
				if readErr != nil {
					logger.Warn("watcher: read failed", slog.String("note", key.String()), slog.String("error", readErr.Error()))
					continue
				}
				stored, csErr := db.GetChecksum(vault, rel)
				if csErr != nil {
					logger.Warn("watcher: checksum lookup failed", slog.String("note", key.String()), slog.String("error", csErr.Error()))
				}
				if !checksum.Changed(stored, data) {
					continue
				}
				if _, idxErr := indexFile(db, vault, models.SourceFile{Path: rel, Data: data}, opts); idxErr != nil {
					logger.Warn("watcher: index failed", slog.String("note", key.String()), slog.String("error", idxErr.Error()))
					continue
				}
				kind := EventUpdated
				if stored == "" {
					kind = EventCreated
				}
				logger.Debug("watcher: indexed", slog.String("note", key.String()), slog.String("op", kind))
				if cb != nil {
					cb(kind, key)
				}

			case ev.Op&fsnotify.Remove != 0:
				if delErr := db.DeleteNote(key); delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("note", key.String()), slog.String("error", delErr.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("note", key.String()))
				if cb != nil {
					cb(EventDeleted, key)
				}

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the old path only; the new path
				// arrives as a separate Create when it stays in a watched dir.
				if delErr := db.DeleteNote(key); delErr != nil {
					logger.Warn("watcher: rename delete failed", slog.String("note", key.String()), slog.String("error", delErr.Error()))
				} else {
					logger.Debug("watcher: rename old deleted", slog.String("note", key.String()))
					if cb != nil {
						cb(EventDeleted, key)
					}
				}
				scheduleReconcile(vault)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// reconcileVault removes index entries of v without a file on disk and
// indexes on-disk files that are missing or out of date.
func reconcileVault(db *DB, v storage.Vault, opts noteref.ScanOptions, logger *slog.Logger, cb EventCallback) {
	checksums, err := db.AllChecksums(v.Name)
	if err != nil {
		logger.Warn("reconcile: all checksums failed", slog.String("vault", v.Name), slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]struct{}, len(checksums))
	err = v.Store.Walk("", func(f models.SourceFile) error {
		disk[f.Path] = struct{}{}
		if checksums[f.Path] == f.Checksum {
			return nil
		}
		note, idxErr := indexFile(db, v.Name, f, opts)
		if idxErr != nil {
			return nil
		}
		logger.Debug("reconcile: indexed", slog.String("note", note.Key().String()))
		if cb != nil {
			kind := EventUpdated
			if checksums[f.Path] == "" {
				kind = EventCreated
			}
			cb(kind, note.Key())
		}
		return nil
	})
	if err != nil {
		logger.Warn("reconcile: walk failed", slog.String("vault", v.Name), slog.String("error", err.Error()))
		return
	}

	for p := range checksums {
		if _, ok := disk[p]; ok {
			continue
		}
		key := models.NoteKey{Vault: v.Name, Fname: parser.FnameFromPath(p)}
		if delErr := db.DeleteNote(key); delErr == nil {
			logger.Debug("reconcile: removed stale", slog.String("note", key.String()))
			if cb != nil {
				cb(EventDeleted, key)
			}
		}
	}
}

// indexNewDir indexes any .md files found in a newly created directory.
func indexNewDir(db *DB, v storage.Vault, dirPath string, opts noteref.ScanOptions, logger *slog.Logger, cb EventCallback) {
	rel, err := filepath.Rel(v.Store.Root(), dirPath)
	if err != nil {
		return
	}
	err = v.Store.Walk(filepath.ToSlash(rel), func(f models.SourceFile) error {
		if note, idxErr := indexFile(db, v.Name, f, opts); idxErr == nil {
			logger.Debug("watcher: indexed from new dir", slog.String("note", note.Key().String()))
			if cb != nil {
				cb(EventCreated, note.Key())
			}
		}
		return nil
	})
	if err != nil {
		logger.Warn("watcher: walk new dir failed", slog.String("path", dirPath), slog.String("error", err.Error()))
	}
}

// hiddenPath reports whether any element of a slash path starts with a dot,
// matching what storage.FS skips while walking.
func hiddenPath(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return w.Add(path)
		}
		return nil
	})
}
