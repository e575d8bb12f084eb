package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/starford/portal/internal/apperr"
	"github.com/starford/portal/internal/models"
)

// NoteRow is the listing view of a note, without its content.
type NoteRow struct {
	Vault     string    `json:"vault"`
	Fname     string    `json:"fname"`
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Title     string    `json:"title,omitempty"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

const noteColumns = `n.vault, n.fname, n.id, n.path, n.title, n.checksum, n.content, n.body_offset, n.updated_at`

// vaultOrder sorts notes of unknown vaults last.
const vaultOrder = `COALESCE(v.rank, 2147483647)`

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(s scanner) (*models.Note, error) {
	var n models.Note
	if err := s.Scan(&n.Vault, &n.Fname, &n.ID, &n.Path, &n.Title, &n.Checksum, &n.Content, &n.BodyOffset, &n.UpdatedAt); err != nil {
		return nil, err
	}
	if n.BodyOffset < 0 || n.BodyOffset > len(n.Content) {
		n.BodyOffset = 0
	}
	n.Body = string(n.Content[n.BodyOffset:])
	return &n, nil
}

// SetVaults records the declared vault order and drops notes of vaults that
// are no longer declared.
func (db *DB) SetVaults(names []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM vaults`); err != nil {
		return fmt.Errorf("index: reset vaults: %w", err)
	}
	for i, name := range names {
		if _, err := tx.Exec(`INSERT INTO vaults (name, rank) VALUES (?, ?)`, name, i); err != nil {
			return fmt.Errorf("index: insert vault: %w", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM links WHERE source_vault NOT IN (SELECT name FROM vaults)`); err != nil {
		return fmt.Errorf("index: prune links: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM notes WHERE vault NOT IN (SELECT name FROM vaults)`); err != nil {
		return fmt.Errorf("index: prune notes: %w", err)
	}
	return tx.Commit()
}

// UpsertNote inserts or replaces a note and its outgoing links within a transaction.
func (db *DB) UpsertNote(n *models.Note, links []models.Link) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	updated := n.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err = tx.Exec(`
		INSERT INTO notes (vault, fname, id, path, title, checksum, content, body_offset, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vault, fname) DO UPDATE SET
			id          = excluded.id,
			path        = excluded.path,
			title       = excluded.title,
			checksum    = excluded.checksum,
			content     = excluded.content,
			body_offset = excluded.body_offset,
			updated_at  = excluded.updated_at
	`, n.Vault, n.Fname, n.ID, n.Path, n.Title, n.Checksum, n.Content, n.BodyOffset, updated)
	if err != nil {
		return fmt.Errorf("index: upsert note: %w", err)
	}

	// Replace links: delete old then bulk insert.
	_, _ = tx.Exec(`DELETE FROM links WHERE source_vault = ? AND source_fname = ?`, n.Vault, n.Fname)
	if len(links) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO links (source_vault, source_fname, target, vault, type) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare link insert: %w", err)
		}
		defer stmt.Close()
		for _, l := range links {
			if _, err := stmt.Exec(n.Vault, n.Fname, l.Target, l.Vault, l.Type); err != nil {
				return fmt.Errorf("index: insert link: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteNote removes a note and its outgoing links.
func (db *DB) DeleteNote(key models.NoteKey) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.Exec(`DELETE FROM links WHERE source_vault = ? AND source_fname = ?`, key.Vault, key.Fname)
	_, _ = tx.Exec(`DELETE FROM notes WHERE vault = ? AND fname = ?`, key.Vault, key.Fname)

	return tx.Commit()
}

// GetChecksum returns the stored checksum for a note file, or empty string if not found.
func (db *DB) GetChecksum(vault, path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM notes WHERE vault = ? AND path = ?`, vault, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// AllChecksums maps every indexed path of vault to its checksum.
func (db *DB) AllChecksums(vault string) (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM notes WHERE vault = ?`, vault)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// LookupByName returns the notes named name, in declared vault order.
// An empty vault searches every vault.
func (db *DB) LookupByName(ctx context.Context, name, vault string) ([]*models.Note, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes n LEFT JOIN vaults v ON v.name = n.vault
		WHERE n.fname = ? AND (? = '' OR n.vault = ?)
		ORDER BY `+vaultOrder, name, vault, vault)
	if err != nil {
		return nil, fmt.Errorf("index: lookup by name: %w", err)
	}
	defer rows.Close()

	var out []*models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// LookupByID returns the note with the given front-matter id. When several
// notes share an id the one of the first declared vault wins.
func (db *DB) LookupByID(ctx context.Context, id string) (*models.Note, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes n LEFT JOIN vaults v ON v.name = n.vault
		WHERE n.id = ?
		ORDER BY `+vaultOrder+`
		LIMIT 1`, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: note %q: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: lookup by id: %w", err)
	}
	return n, nil
}

// Names lists note keys in declared vault order, then by name.
func (db *DB) Names(ctx context.Context, vault string) ([]models.NoteKey, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT n.vault, n.fname
		FROM notes n LEFT JOIN vaults v ON v.name = n.vault
		WHERE (? = '' OR n.vault = ?)
		ORDER BY `+vaultOrder+`, n.fname`, vault, vault)
	if err != nil {
		return nil, fmt.Errorf("index: names: %w", err)
	}
	defer rows.Close()

	var out []models.NoteKey
	for rows.Next() {
		var k models.NoteKey
		if err := rows.Scan(&k.Vault, &k.Fname); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// GetNote returns the note stored under key.
func (db *DB) GetNote(ctx context.Context, key models.NoteKey) (*models.Note, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes n
		WHERE n.vault = ? AND n.fname = ?`, key.Vault, key.Fname)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: note %s: %w", key, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get note: %w", err)
	}
	return n, nil
}

// ListNotes returns a page of notes and the total count. A non-positive
// limit returns every note.
func (db *DB) ListNotes(ctx context.Context, vault string, limit, offset int) ([]NoteRow, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM notes WHERE (? = '' OR vault = ?)`, vault, vault).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count notes: %w", err)
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT n.vault, n.fname, n.id, n.path, n.title, n.checksum, n.updated_at
		FROM notes n LEFT JOIN vaults v ON v.name = n.vault
		WHERE (? = '' OR n.vault = ?)
		ORDER BY `+vaultOrder+`, n.fname
		LIMIT ? OFFSET ?`, vault, vault, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list notes: %w", err)
	}
	defer rows.Close()

	var out []NoteRow
	for rows.Next() {
		var r NoteRow
		if err := rows.Scan(&r.Vault, &r.Fname, &r.ID, &r.Path, &r.Title, &r.Checksum, &r.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// Dependents returns the notes whose references may embed key: exact-name
// references that are unqualified or qualified with key's vault, and
// wildcard references whose pattern matches the name.
func (db *DB) Dependents(ctx context.Context, key models.NoteKey) ([]models.NoteKey, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT l.source_vault, l.source_fname, l.target
		FROM links l LEFT JOIN vaults v ON v.name = l.source_vault
		WHERE l.type = ? AND (l.vault = '' OR l.vault = ?)
			AND (l.target = ? OR instr(l.target, '*') > 0)
		ORDER BY `+vaultOrder+`, l.source_fname`, models.LinkTypeRef, key.Vault, key.Fname)
	if err != nil {
		return nil, fmt.Errorf("index: dependents: %w", err)
	}
	defer rows.Close()

	seen := make(map[models.NoteKey]bool)
	var out []models.NoteKey
	for rows.Next() {
		var src models.NoteKey
		var target string
		if err := rows.Scan(&src.Vault, &src.Fname, &target); err != nil {
			return nil, err
		}
		if strings.Contains(target, "*") {
			g, err := glob.Compile(target, '/')
			if err != nil || !g.Match(key.Fname) {
				continue
			}
		}
		if seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out, rows.Err()
}
