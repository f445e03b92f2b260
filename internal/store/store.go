// Package store provides the SQLite-backed novel repository. Novels,
// chapters and reference glossaries live in a single local database file
// and are read by the translation core through [novel.Reader].
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/novelt-go/internal/novel"
	"github.com/54b3r/novelt-go/internal/toolcalls"
)

// SQLiteStore is a [novel.Repository] backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ novel.Repository = (*SQLiteStore)(nil)

// DefaultDBPath returns ~/.novelt/novelt.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".novelt")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "novelt.db"), nil
}

// Open opens (or creates) a SQLiteStore at path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection: a single writer avoids SQLITE_BUSY and keeps
	// ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS novels (
    id              TEXT PRIMARY KEY,
    slug            TEXT NOT NULL UNIQUE,
    title           TEXT NOT NULL,
    source_language TEXT NOT NULL,
    target_language TEXT NOT NULL,
    overrides       TEXT NOT NULL DEFAULT '{}',
    updated_at      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS chapters (
    id                 TEXT PRIMARY KEY,
    novel_id           TEXT    NOT NULL REFERENCES novels(id) ON DELETE CASCADE,
    number             INTEGER NOT NULL,
    title              TEXT    NOT NULL DEFAULT '',
    source_content     TEXT    NOT NULL DEFAULT '',
    translated_content TEXT    NOT NULL DEFAULT '',
    quality_score      REAL,
    quality_feedback   TEXT    NOT NULL DEFAULT '',
    quality_good       INTEGER NOT NULL DEFAULT 0,
    updated_at         INTEGER NOT NULL,
    UNIQUE (novel_id, number)
);
CREATE TABLE IF NOT EXISTS novel_references (
    id         TEXT PRIMARY KEY,
    novel_id   TEXT    NOT NULL REFERENCES novels(id) ON DELETE CASCADE,
    title      TEXT    NOT NULL,
    content    TEXT    NOT NULL,
    position   INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_references_novel ON novel_references (novel_id, position);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable. It satisfies the server's
// readiness probe interface.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// GetNovel loads a novel by ID or slug with its references and the
// chapters inside rng, ordered by chapter number.
func (s *SQLiteStore) GetNovel(ctx context.Context, idOrSlug string, rng *novel.ChapterRange) (*novel.Novel, error) {
	const q = `SELECT id, slug, title, source_language, target_language, overrides
FROM novels WHERE id = ? OR slug = ? LIMIT 1`

	var n novel.Novel
	var overrides string
	err := s.db.QueryRowContext(ctx, q, idOrSlug, idOrSlug).
		Scan(&n.ID, &n.Slug, &n.Title, &n.SourceLanguage, &n.TargetLanguage, &overrides)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: novel %q: %w", idOrSlug, novel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get novel: %w", err)
	}
	if err := json.Unmarshal([]byte(overrides), &n.Overrides); err != nil {
		return nil, fmt.Errorf("store: decode overrides for %q: %w", n.ID, err)
	}

	if n.References, err = s.references(ctx, n.ID); err != nil {
		return nil, err
	}
	if n.Chapters, err = s.chapters(ctx, n.ID, rng); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *SQLiteStore) references(ctx context.Context, novelID string) ([]novel.Reference, error) {
	const q = `SELECT id, title, content FROM novel_references WHERE novel_id = ? ORDER BY position, id`
	rows, err := s.db.QueryContext(ctx, q, novelID)
	if err != nil {
		return nil, fmt.Errorf("store: references: %w", err)
	}
	defer rows.Close()

	var refs []novel.Reference
	for rows.Next() {
		var r novel.Reference
		if err := rows.Scan(&r.ID, &r.Title, &r.Content); err != nil {
			return nil, fmt.Errorf("store: references scan: %w", err)
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: references rows: %w", err)
	}
	return refs, nil
}

func (s *SQLiteStore) chapters(ctx context.Context, novelID string, rng *novel.ChapterRange) ([]novel.Chapter, error) {
	q := `SELECT id, number, title, source_content, translated_content, quality_score, quality_feedback, quality_good
FROM chapters WHERE novel_id = ?`
	args := []any{novelID}
	if rng != nil && rng.Start > 0 {
		q += ` AND number >= ?`
		args = append(args, rng.Start)
	}
	if rng != nil && rng.End > 0 {
		q += ` AND number <= ?`
		args = append(args, rng.End)
	}
	q += ` ORDER BY number`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: chapters: %w", err)
	}
	defer rows.Close()

	var chapters []novel.Chapter
	for rows.Next() {
		var c novel.Chapter
		var score sql.NullFloat64
		var feedback string
		var good bool
		if err := rows.Scan(&c.ID, &c.Number, &c.Title, &c.SourceContent, &c.TranslatedContent, &score, &feedback, &good); err != nil {
			return nil, fmt.Errorf("store: chapters scan: %w", err)
		}
		if score.Valid {
			c.QualityCheck = &novel.QualityCheck{Score: score.Float64, Feedback: feedback, IsGoodQuality: good}
		}
		chapters = append(chapters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: chapters rows: %w", err)
	}
	return chapters, nil
}

// ListSlugs returns every novel slug in alphabetical order.
func (s *SQLiteStore) ListSlugs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug FROM novels ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("store: list slugs: %w", err)
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("store: list slugs scan: %w", err)
		}
		slugs = append(slugs, slug)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list slugs rows: %w", err)
	}
	return slugs, nil
}

// UpsertNovel creates or replaces n. Chapters are matched by number and
// references are replaced wholesale. Missing IDs are generated and written
// back into n.
func (s *SQLiteStore) UpsertNovel(ctx context.Context, n *novel.Novel) error {
	if n.Slug == "" {
		return fmt.Errorf("store: upsert novel: slug is required")
	}
	if n.ID == "" {
		n.ID = s.existingNovelID(ctx, n.Slug)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	overrides, err := json.Marshal(n.Overrides)
	if err != nil {
		return fmt.Errorf("store: encode overrides: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: upsert begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	const upsertNovel = `
INSERT INTO novels (id, slug, title, source_language, target_language, overrides, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    slug = excluded.slug, title = excluded.title,
    source_language = excluded.source_language, target_language = excluded.target_language,
    overrides = excluded.overrides, updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, upsertNovel, n.ID, n.Slug, n.Title, n.SourceLanguage, n.TargetLanguage, string(overrides), now); err != nil {
		return fmt.Errorf("store: upsert novel %q: %w", n.Slug, err)
	}

	const upsertChapter = `
INSERT INTO chapters (id, novel_id, number, title, source_content, translated_content,
                      quality_score, quality_feedback, quality_good, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(novel_id, number) DO UPDATE SET
    title = excluded.title, source_content = excluded.source_content,
    translated_content = excluded.translated_content, quality_score = excluded.quality_score,
    quality_feedback = excluded.quality_feedback, quality_good = excluded.quality_good,
    updated_at = excluded.updated_at
RETURNING id`
	for i := range n.Chapters {
		c := &n.Chapters[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		score, feedback, good := qualityColumns(c.QualityCheck)
		// An existing row keeps its ID; read it back so callers see it.
		if err := tx.QueryRowContext(ctx, upsertChapter, c.ID, n.ID, c.Number, c.Title, c.SourceContent,
			c.TranslatedContent, score, feedback, good, now).Scan(&c.ID); err != nil {
			return fmt.Errorf("store: upsert chapter %d: %w", c.Number, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM novel_references WHERE novel_id = ?`, n.ID); err != nil {
		return fmt.Errorf("store: clear references: %w", err)
	}
	for i := range n.References {
		r := &n.References[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO novel_references (id, novel_id, title, content, position, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, n.ID, r.Title, r.Content, i, now); err != nil {
			return fmt.Errorf("store: insert reference %q: %w", r.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: upsert commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) existingNovelID(ctx context.Context, slug string) string {
	var id string
	_ = s.db.QueryRowContext(ctx, `SELECT id FROM novels WHERE slug = ?`, slug).Scan(&id)
	return id
}

// SaveTranslation stores translation and qc on the chapter. A nil qc clears
// any previous quality check.
func (s *SQLiteStore) SaveTranslation(ctx context.Context, chapterID, translation string, qc *novel.QualityCheck) error {
	score, feedback, good := qualityColumns(qc)
	const q = `UPDATE chapters SET translated_content = ?, quality_score = ?, quality_feedback = ?,
    quality_good = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, translation, score, feedback, good, time.Now().Unix(), chapterID)
	if err != nil {
		return fmt.Errorf("store: save translation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: chapter %q: %w", chapterID, novel.ErrNotFound)
	}
	return nil
}

// ApplyReferenceOps applies ops to the novel's glossary in one transaction.
// An add needs a title and content. An update matches by ID, then by
// case-insensitive title; unmatched or empty operations are skipped.
func (s *SQLiteStore) ApplyReferenceOps(ctx context.Context, novelID string, ops []toolcalls.ReferenceOp) (novel.ApplyStats, error) {
	var stats novel.ApplyStats
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("store: apply ops begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM novels WHERE id = ?`, novelID).Scan(&exists); err != nil {
		return stats, fmt.Errorf("store: apply ops: %w", err)
	}
	if exists == 0 {
		return stats, fmt.Errorf("store: novel %q: %w", novelID, novel.ErrNotFound)
	}

	now := time.Now().Unix()
	for _, op := range ops {
		switch op.Type {
		case toolcalls.OpAdd:
			title, content := deref(op.Title), deref(op.Content)
			if strings.TrimSpace(title) == "" || strings.TrimSpace(content) == "" {
				stats.Skipped++
				continue
			}
			const q = `INSERT INTO novel_references (id, novel_id, title, content, position, updated_at)
VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM novel_references WHERE novel_id = ?), ?)`
			if _, err := tx.ExecContext(ctx, q, uuid.NewString(), novelID, title, content, novelID, now); err != nil {
				return stats, fmt.Errorf("store: add reference %q: %w", title, err)
			}
			stats.Added++

		case toolcalls.OpUpdate:
			id, byTitle, err := matchReference(ctx, tx, novelID, op)
			if err != nil {
				return stats, err
			}
			title := op.Title
			if byTitle {
				// The title was the lookup key, not a rename.
				title = nil
			}
			if id == "" || (title == nil && op.Content == nil) {
				stats.Skipped++
				continue
			}
			const q = `UPDATE novel_references SET title = COALESCE(?, title), content = COALESCE(?, content),
    updated_at = ? WHERE id = ?`
			if _, err := tx.ExecContext(ctx, q, nullable(title), nullable(op.Content), now, id); err != nil {
				return stats, fmt.Errorf("store: update reference %q: %w", id, err)
			}
			stats.Updated++

		default:
			stats.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("store: apply ops commit: %w", err)
	}
	return stats, nil
}

// matchReference finds the entry an update targets: by ID first, then by
// case-insensitive title. byTitle reports that the title was the match key.
func matchReference(ctx context.Context, tx *sql.Tx, novelID string, op toolcalls.ReferenceOp) (id string, byTitle bool, err error) {
	if op.ID != nil && *op.ID != "" {
		id, err = queryID(ctx, tx, `SELECT id FROM novel_references WHERE novel_id = ? AND id = ?`, novelID, *op.ID)
		if err != nil || id != "" {
			return id, false, err
		}
	}
	if op.Title != nil && *op.Title != "" {
		id, err = queryID(ctx, tx,
			`SELECT id FROM novel_references WHERE novel_id = ? AND lower(title) = lower(?) ORDER BY position LIMIT 1`,
			novelID, *op.Title)
		return id, id != "", err
	}
	return "", false, nil
}

func queryID(ctx context.Context, tx *sql.Tx, q string, args ...any) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, q, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: match reference: %w", err)
	}
	return id, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

func qualityColumns(qc *novel.QualityCheck) (score any, feedback string, good bool) {
	if qc == nil {
		return nil, "", false
	}
	return qc.Score, qc.Feedback, qc.IsGoodQuality
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
