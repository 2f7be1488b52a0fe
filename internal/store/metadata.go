package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/flashgrep/flashgrep/internal/chunk"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS files (
	path         TEXT PRIMARY KEY,
	size         INTEGER NOT NULL,
	mod_time     INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	language     TEXT NOT NULL DEFAULT '',
	extension    TEXT NOT NULL DEFAULT '',
	indexed_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	path         TEXT NOT NULL,
	start_line   INTEGER NOT NULL,
	end_line     INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	content      TEXT NOT NULL,
	PRIMARY KEY (path, start_line, end_line),
	FOREIGN KEY (path) REFERENCES files(path) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);

CREATE TABLE IF NOT EXISTS symbols (
	path TEXT NOT NULL,
	line INTEGER NOT NULL,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	FOREIGN KEY (path) REFERENCES files(path) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_symbols_path ON symbols(path);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteMetadataStore is the relational metadata store (C6): files,
// chunks, and symbols, with the Indexer as sole writer.
type SQLiteMetadataStore struct {
	db *sql.DB
}

// OpenMetadataStore opens (creating if necessary) the SQLite-backed
// metadata store at path, in WAL mode for concurrent readers alongside
// the single writer (§5).
func OpenMetadataStore(path string) (*SQLiteMetadataStore, error) {
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for metadata store: %w", err)
		}
	}

	dsn := path
	if path == "" {
		dsn = ":memory:"
	}

	db, err := openSQLite(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer, serialized; readers share the connection too.

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply metadata schema: %w", err)
	}

	return &SQLiteMetadataStore{db: db}, nil
}

// UpsertFile implements MetadataStore.
func (s *SQLiteMetadataStore) UpsertFile(ctx context.Context, f *File) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (path, size, mod_time, content_hash, language, extension, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			mod_time = excluded.mod_time,
			content_hash = excluded.content_hash,
			language = excluded.language,
			extension = excluded.extension,
			indexed_at = excluded.indexed_at
	`, f.Path, f.Size, f.ModTime.Unix(), f.ContentHash, f.Language, f.Extension, f.IndexedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", f.Path, err)
	}
	return nil
}

// GetFile implements MetadataStore.
func (s *SQLiteMetadataStore) GetFile(ctx context.Context, path string) (*File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, size, mod_time, content_hash, language, extension, indexed_at
		FROM files WHERE path = ?
	`, path)
	return scanFile(row)
}

func scanFile(row *sql.Row) (*File, error) {
	var f File
	var modTime, indexedAt int64
	if err := row.Scan(&f.Path, &f.Size, &modTime, &f.ContentHash, &f.Language, &f.Extension, &indexedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan file: %w", err)
	}
	f.ModTime = time.Unix(modTime, 0)
	f.IndexedAt = time.Unix(indexedAt, 0)
	return &f, nil
}

// DeleteFile implements MetadataStore, cascading to chunks and symbols.
func (s *SQLiteMetadataStore) DeleteFile(ctx context.Context, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete symbols for %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete file %s: %w", path, err)
	}
	return tx.Commit()
}

// ListFiles implements MetadataStore with keyset pagination on path.
func (s *SQLiteMetadataStore) ListFiles(ctx context.Context, cursor string, limit int) ([]*File, string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, size, mod_time, content_hash, language, extension, indexed_at
		FROM files WHERE path > ? ORDER BY path ASC LIMIT ?
	`, cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		var f File
		var modTime, indexedAt int64
		if err := rows.Scan(&f.Path, &f.Size, &modTime, &f.ContentHash, &f.Language, &f.Extension, &indexedAt); err != nil {
			return nil, "", fmt.Errorf("scan file row: %w", err)
		}
		f.ModTime = time.Unix(modTime, 0)
		f.IndexedAt = time.Unix(indexedAt, 0)
		files = append(files, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(files) == limit {
		next = files[len(files)-1].Path
	}
	return files, next, nil
}

// AllFilePaths implements MetadataStore.
func (s *SQLiteMetadataStore) AllFilePaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM files`)
	if err != nil {
		return nil, fmt.Errorf("all file paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ReplaceChunks implements MetadataStore: the full chunk set for path is
// replaced atomically, matching index_file's per-file commit (§4.6).
func (s *SQLiteMetadataStore) ReplaceChunks(ctx context.Context, path string, chunks []*chunk.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return fmt.Errorf("clear chunks for %s: %w", path, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (path, start_line, end_line, content_hash, content)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.FilePath, c.StartLine, c.EndLine, c.ContentHash, c.Content); err != nil {
			return fmt.Errorf("insert chunk %s:%d-%d: %w", c.FilePath, c.StartLine, c.EndLine, err)
		}
	}
	return tx.Commit()
}

// GetChunksByFile implements MetadataStore.
func (s *SQLiteMetadataStore) GetChunksByFile(ctx context.Context, path string) ([]*chunk.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, start_line, end_line, content_hash, content
		FROM chunks WHERE path = ? ORDER BY start_line ASC
	`, path)
	if err != nil {
		return nil, fmt.Errorf("get chunks for %s: %w", path, err)
	}
	defer rows.Close()

	var chunks []*chunk.Chunk
	for rows.Next() {
		c := &chunk.Chunk{}
		if err := rows.Scan(&c.FilePath, &c.StartLine, &c.EndLine, &c.ContentHash, &c.Content); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunk implements MetadataStore, returning the chunk containing
// [startLine, endLine] if one exists at exactly those bounds.
func (s *SQLiteMetadataStore) GetChunk(ctx context.Context, path string, startLine, endLine int) (*chunk.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, start_line, end_line, content_hash, content
		FROM chunks WHERE path = ? AND start_line = ? AND end_line = ?
	`, path, startLine, endLine)

	c := &chunk.Chunk{}
	if err := row.Scan(&c.FilePath, &c.StartLine, &c.EndLine, &c.ContentHash, &c.Content); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get chunk %s:%d-%d: %w", path, startLine, endLine, err)
	}
	return c, nil
}

// ReplaceSymbols implements MetadataStore.
func (s *SQLiteMetadataStore) ReplaceSymbols(ctx context.Context, path string, symbols []*chunk.Symbol) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE path = ?`, path); err != nil {
		return fmt.Errorf("clear symbols for %s: %w", path, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO symbols (path, line, kind, name) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sym := range symbols {
		if _, err := stmt.ExecContext(ctx, sym.FilePath, sym.Line, string(sym.Kind), sym.Name); err != nil {
			return fmt.Errorf("insert symbol %s in %s: %w", sym.Name, path, err)
		}
	}
	return tx.Commit()
}

// SearchSymbols implements MetadataStore with a case-insensitive substring
// match over symbol names, exact matches first.
func (s *SQLiteMetadataStore) SearchSymbols(ctx context.Context, name string, limit int) ([]*chunk.Symbol, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, line, kind, name FROM symbols
		WHERE name LIKE ? ESCAPE '\'
		ORDER BY (name = ?) DESC, length(name) ASC
		LIMIT ?
	`, "%"+escapeLike(name)+"%", name, limit)
	if err != nil {
		return nil, fmt.Errorf("search symbols %q: %w", name, err)
	}
	defer rows.Close()

	var symbols []*chunk.Symbol
	for rows.Next() {
		sym := &chunk.Symbol{}
		var kind string
		if err := rows.Scan(&sym.FilePath, &sym.Line, &kind, &sym.Name); err != nil {
			return nil, err
		}
		sym.Kind = chunk.Kind(kind)
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// BulkPrune implements MetadataStore.
func (s *SQLiteMetadataStore) BulkPrune(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	sort.Strings(paths) // Deterministic lock ordering under WAL.

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range paths {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, p); err != nil {
			return fmt.Errorf("bulk prune chunks for %s: %w", p, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE path = ?`, p); err != nil {
			return fmt.Errorf("bulk prune symbols for %s: %w", p, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, p); err != nil {
			return fmt.Errorf("bulk prune file %s: %w", p, err)
		}
	}
	return tx.Commit()
}

// Stats implements MetadataStore.
func (s *SQLiteMetadataStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&st.FileCount); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&st.ChunkCount); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM symbols`).Scan(&st.SymbolCount); err != nil {
		return nil, err
	}
	return &st, nil
}

// GetState implements MetadataStore.
func (s *SQLiteMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

// SetState implements MetadataStore.
func (s *SQLiteMetadataStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// Close implements MetadataStore.
func (s *SQLiteMetadataStore) Close() error {
	return s.db.Close()
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)
