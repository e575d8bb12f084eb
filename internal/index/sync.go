package index

import (
	"log/slog"
	"time"

	"github.com/starford/portal/internal/models"
	"github.com/starford/portal/internal/noteref"
	"github.com/starford/portal/internal/parser"
	"github.com/starford/portal/internal/storage"
)

// Sync walks every vault of the workspace and brings the index up to date:
//   - the declared vault order is recorded and undeclared vaults are dropped
//   - new/changed files are parsed and upserted
//   - files removed from disk are deleted from the index
func Sync(db *DB, ws *storage.Workspace, opts noteref.ScanOptions, logger *slog.Logger) error {
	if err := db.SetVaults(ws.Names()); err != nil {
		return err
	}
	for _, v := range ws.Vaults() {
		if err := syncVault(db, v, opts, logger); err != nil {
			return err
		}
	}
	return nil
}

func syncVault(db *DB, v storage.Vault, opts noteref.ScanOptions, logger *slog.Logger) error {
	checksums, err := db.AllChecksums(v.Name)
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(checksums))
	err = v.Store.Walk("", func(f models.SourceFile) error {
		disk[f.Path] = struct{}{}
		if checksums[f.Path] == f.Checksum {
			return nil
		}
		if _, err := indexFile(db, v.Name, f, opts); err != nil {
			logger.Warn("sync: index failed", slog.String("vault", v.Name), slog.String("path", f.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("vault", v.Name), slog.String("path", f.Path))
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			key := models.NoteKey{Vault: v.Name, Fname: parser.FnameFromPath(p)}
			if err := db.DeleteNote(key); err != nil {
				logger.Warn("sync: delete failed", slog.String("note", key.String()), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("note", key.String()))
			}
		}
	}

	return nil
}

// indexFile parses f and upserts it into the DB together with the
// references its body makes. A zero ModTime is stamped with the current time.
func indexFile(db *DB, vault string, f models.SourceFile, opts noteref.ScanOptions) (*models.Note, error) {
	note, err := parser.NewNote(vault, f.Path, f.Data)
	if err != nil {
		return nil, err
	}
	note.UpdatedAt = f.ModTime.UTC()
	if f.ModTime.IsZero() {
		note.UpdatedAt = time.Now().UTC()
	}
	if err := db.UpsertNote(note, refLinks(note, opts)); err != nil {
		return nil, err
	}
	return note, nil
}

func refLinks(note *models.Note, opts noteref.ScanOptions) []models.Link {
	refs := noteref.Targets([]byte(note.Body), opts)
	links := make([]models.Link, 0, len(refs))
	for _, r := range refs {
		links = append(links, models.Link{Target: r.Target, Vault: r.Vault, Type: models.LinkTypeRef})
	}
	return links
}
