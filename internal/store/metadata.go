package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the Symbol Database: the single source of truth for
// symbols, relationships, file content, and the FTS5 keyword tier. All
// other indexes (HNSW, in-memory caches) are derived and must be
// reconstructible from this store alone.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	bulk   bool
	closed bool
}

var _ MetadataStore = (*SQLiteStore)(nil)

// StoreConfig configures a SQLiteStore.
type StoreConfig struct {
	CacheSizeMB int
}

// DefaultStoreConfig returns sensible defaults (64MB page cache).
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{CacheSizeMB: 64}
}

// NewSQLiteStore opens (creating if absent) the symbol database at path
// using default configuration.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(path, DefaultStoreConfig())
}

// NewSQLiteStoreWithConfig opens the symbol database with a custom cache
// size. WAL mode is set and confirmed before any migration or statement
// runs: concurrent processes reading the same file in DELETE mode during
// a migration can corrupt it.
func NewSQLiteStoreWithConfig(path string, cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.CacheSizeMB <= 0 {
		cfg.CacheSizeMB = DefaultStoreConfig().CacheSizeMB
	}

	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single-writer discipline: the symbol database is mutated through one
	// logical connection so the WAL pragma and busy_timeout apply uniformly.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode = WAL").Scan(&mode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") && path != "" {
		_ = db.Close()
		return nil, fmt.Errorf("journal_mode=WAL not confirmed (got %q)", mode)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA wal_autocheckpoint = 2000",
		fmt.Sprintf("PRAGMA cache_size = -%d", cfg.CacheSizeMB*1024),
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.Migrate(context.Background(), CurrentSchemaVersion); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return s, nil
}

// DB exposes the underlying connection for components (telemetry, daemon
// compaction) that share migrations on the same *sql.DB.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Migrate creates or upgrades the schema to targetVersion.
func (s *SQLiteStore) Migrate(ctx context.Context, targetVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

	CREATE TABLE IF NOT EXISTS files (
		path          TEXT PRIMARY KEY,
		language      TEXT NOT NULL,
		content_hash  TEXT NOT NULL,
		size_bytes    INTEGER NOT NULL DEFAULT 0,
		last_modified TIMESTAMP NOT NULL,
		symbol_count  INTEGER NOT NULL DEFAULT 0,
		content       TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS symbols (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		qualified_name TEXT NOT NULL,
		kind           TEXT NOT NULL,
		language       TEXT NOT NULL,
		file_path      TEXT NOT NULL,
		start_line     INTEGER NOT NULL,
		end_line       INTEGER NOT NULL,
		start_col      INTEGER NOT NULL DEFAULT 0,
		end_col        INTEGER NOT NULL DEFAULT 0,
		signature      TEXT NOT NULL DEFAULT '',
		doc_comment    TEXT NOT NULL DEFAULT '',
		visibility     TEXT NOT NULL DEFAULT '',
		parent_id      TEXT NOT NULL DEFAULT '',
		code_context   TEXT NOT NULL DEFAULT '',
		content_hash   TEXT NOT NULL DEFAULT '',
		last_indexed   TIMESTAMP NOT NULL,
		FOREIGN KEY (file_path) REFERENCES files(path) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
	CREATE INDEX IF NOT EXISTS idx_symbols_qualified_name ON symbols(qualified_name);
	CREATE INDEX IF NOT EXISTS idx_symbols_file_path ON symbols(file_path);
	CREATE INDEX IF NOT EXISTS idx_symbols_parent_id ON symbols(parent_id);

	CREATE TABLE IF NOT EXISTS relationships (
		id             TEXT PRIMARY KEY,
		from_symbol_id TEXT NOT NULL,
		to_symbol_id   TEXT NOT NULL DEFAULT '',
		to_name        TEXT NOT NULL DEFAULT '',
		kind           TEXT NOT NULL,
		file_path      TEXT NOT NULL,
		line           INTEGER NOT NULL,
		confidence     REAL NOT NULL DEFAULT 1.0
	);
	CREATE INDEX IF NOT EXISTS idx_rel_from ON relationships(from_symbol_id);
	CREATE INDEX IF NOT EXISTS idx_rel_to ON relationships(to_symbol_id);

	CREATE TABLE IF NOT EXISTS embeddings (
		symbol_id  TEXT NOT NULL,
		model_id   TEXT NOT NULL,
		vector     BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (symbol_id, model_id)
	);

	CREATE TABLE IF NOT EXISTS kv_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- FTS5 over file content. Kept unsynced from files via triggers
	-- deliberately: FTS5 virtual tables must not be foreign-keyed or
	-- trigger-joined to ordinary tables, so sync happens explicitly from
	-- Go (IncrementalUpdateAtomic / BulkStoreFiles), never via SQL triggers.
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_files USING fts5(
		path UNINDEXED,
		content,
		tokenize='unicode61'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// IntegrityCheck runs SQLite's built-in integrity check.
func (s *SQLiteStore) IntegrityCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// CheckpointWAL forces a WAL checkpoint, folding the write-ahead log back
// into the main database file.
func (s *SQLiteStore) CheckpointWAL(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Close checkpoints the WAL and closes the database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// BeginBulkInsert drops secondary indexes so large batch loads (initial
// workspace indexing) aren't paying per-row index maintenance cost.
func (s *SQLiteStore) BeginBulkInsert(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulk = true
	drops := []string{
		"DROP INDEX IF EXISTS idx_symbols_name",
		"DROP INDEX IF EXISTS idx_symbols_qualified_name",
		"DROP INDEX IF EXISTS idx_symbols_file_path",
		"DROP INDEX IF EXISTS idx_symbols_parent_id",
		"DROP INDEX IF EXISTS idx_rel_from",
		"DROP INDEX IF EXISTS idx_rel_to",
	}
	for _, d := range drops {
		if _, err := s.db.ExecContext(ctx, d); err != nil {
			return fmt.Errorf("begin bulk insert: %w", err)
		}
	}
	return nil
}

// EndBulkInsert recreates the secondary indexes dropped by BeginBulkInsert.
func (s *SQLiteStore) EndBulkInsert(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulk = false
	creates := []string{
		"CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name)",
		"CREATE INDEX IF NOT EXISTS idx_symbols_qualified_name ON symbols(qualified_name)",
		"CREATE INDEX IF NOT EXISTS idx_symbols_file_path ON symbols(file_path)",
		"CREATE INDEX IF NOT EXISTS idx_symbols_parent_id ON symbols(parent_id)",
		"CREATE INDEX IF NOT EXISTS idx_rel_from ON relationships(from_symbol_id)",
		"CREATE INDEX IF NOT EXISTS idx_rel_to ON relationships(to_symbol_id)",
	}
	for _, c := range creates {
		if _, err := s.db.ExecContext(ctx, c); err != nil {
			return fmt.Errorf("end bulk insert: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) BulkStoreFiles(ctx context.Context, files []*File) error {
	if len(files) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := storeFilesTx(ctx, tx, files); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) BulkStoreSymbols(ctx context.Context, symbols []*Symbol) error {
	if len(symbols) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := storeSymbolsTx(ctx, tx, symbols); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) BulkStoreRelationships(ctx context.Context, rels []*Relationship) error {
	if len(rels) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := storeRelationshipsTx(ctx, tx, rels); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) BulkStoreEmbeddings(ctx context.Context, vecs []*EmbeddingVector) error {
	if len(vecs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := storeEmbeddingsTx(ctx, tx, vecs); err != nil {
		return err
	}
	return tx.Commit()
}

// IncrementalUpdateAtomic performs, in a single transaction: delete rows for
// filesToClean, insert newFiles/newSymbols/newRelationships. All-or-nothing,
// so a crash mid-update never leaves the symbol database half-reconciled.
func (s *SQLiteStore) IncrementalUpdateAtomic(ctx context.Context, filesToClean []string, newFiles []*File, newSymbols []*Symbol, newRelationships []*Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, path := range filesToClean {
		if err := deleteFileTx(ctx, tx, path); err != nil {
			return err
		}
	}
	if err := storeFilesTx(ctx, tx, newFiles); err != nil {
		return err
	}
	if err := storeSymbolsTx(ctx, tx, newSymbols); err != nil {
		return err
	}
	if err := storeRelationshipsTx(ctx, tx, newRelationships); err != nil {
		return err
	}

	return tx.Commit()
}

func storeFilesTx(ctx context.Context, tx *sql.Tx, files []*File) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files(path, language, content_hash, size_bytes, last_modified, symbol_count, content)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			language=excluded.language, content_hash=excluded.content_hash,
			size_bytes=excluded.size_bytes, last_modified=excluded.last_modified,
			symbol_count=excluded.symbol_count, content=excluded.content
	`)
	if err != nil {
		return fmt.Errorf("prepare file upsert: %w", err)
	}
	defer stmt.Close()

	ftsDelete, err := tx.PrepareContext(ctx, `DELETE FROM fts_files WHERE path = ?`)
	if err != nil {
		return err
	}
	defer ftsDelete.Close()
	ftsInsert, err := tx.PrepareContext(ctx, `INSERT INTO fts_files(path, content) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer ftsInsert.Close()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, f.Path, f.Language, f.ContentHash, f.SizeBytes, f.LastModified, f.SymbolCount, f.Content); err != nil {
			return fmt.Errorf("upsert file %s: %w", f.Path, err)
		}
		if _, err := ftsDelete.ExecContext(ctx, f.Path); err != nil {
			return fmt.Errorf("fts delete %s: %w", f.Path, err)
		}
		if _, err := ftsInsert.ExecContext(ctx, f.Path, f.Content); err != nil {
			return fmt.Errorf("fts insert %s: %w", f.Path, err)
		}
	}
	return nil
}

func storeSymbolsTx(ctx context.Context, tx *sql.Tx, symbols []*Symbol) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO symbols(id, name, qualified_name, kind, language, file_path,
			start_line, end_line, start_col, end_col, signature, doc_comment,
			visibility, parent_id, code_context, content_hash, last_indexed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, qualified_name=excluded.qualified_name, kind=excluded.kind,
			language=excluded.language, file_path=excluded.file_path,
			start_line=excluded.start_line, end_line=excluded.end_line,
			start_col=excluded.start_col, end_col=excluded.end_col,
			signature=excluded.signature, doc_comment=excluded.doc_comment,
			visibility=excluded.visibility, parent_id=excluded.parent_id,
			code_context=excluded.code_context, content_hash=excluded.content_hash,
			last_indexed=excluded.last_indexed
	`)
	if err != nil {
		return fmt.Errorf("prepare symbol upsert: %w", err)
	}
	defer stmt.Close()

	for _, sym := range symbols {
		if _, err := stmt.ExecContext(ctx, sym.ID, sym.Name, sym.QualifiedName, string(sym.Kind),
			sym.Language, sym.FilePath, sym.StartLine, sym.EndLine, sym.StartCol, sym.EndCol,
			sym.Signature, sym.DocComment, string(sym.Visibility), sym.ParentID, sym.CodeContext,
			sym.ContentHash, sym.LastIndexed); err != nil {
			return fmt.Errorf("upsert symbol %s: %w", sym.ID, err)
		}
	}
	return nil
}

func storeRelationshipsTx(ctx context.Context, tx *sql.Tx, rels []*Relationship) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO relationships(id, from_symbol_id, to_symbol_id, to_name, kind, file_path, line, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			from_symbol_id=excluded.from_symbol_id, to_symbol_id=excluded.to_symbol_id,
			to_name=excluded.to_name, kind=excluded.kind, file_path=excluded.file_path,
			line=excluded.line, confidence=excluded.confidence
	`)
	if err != nil {
		return fmt.Errorf("prepare relationship upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rels {
		if _, err := stmt.ExecContext(ctx, r.ID, r.FromSymbolID, r.ToSymbolID, r.ToName,
			string(r.Kind), r.FilePath, r.Line, r.Confidence); err != nil {
			return fmt.Errorf("upsert relationship %s: %w", r.ID, err)
		}
	}
	return nil
}

func storeEmbeddingsTx(ctx context.Context, tx *sql.Tx, vecs []*EmbeddingVector) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings(symbol_id, model_id, vector, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol_id, model_id) DO UPDATE SET vector=excluded.vector, created_at=excluded.created_at
	`)
	if err != nil {
		return fmt.Errorf("prepare embedding upsert: %w", err)
	}
	defer stmt.Close()

	for _, v := range vecs {
		if _, err := stmt.ExecContext(ctx, v.SymbolID, v.ModelID, embeddingToBytes(v.Vector), v.CreatedAt); err != nil {
			return fmt.Errorf("upsert embedding %s: %w", v.SymbolID, err)
		}
	}
	return nil
}

func deleteFileTx(ctx context.Context, tx *sql.Tx, path string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE symbol_id IN (SELECT id FROM symbols WHERE file_path = ?)`, path); err != nil {
		return fmt.Errorf("delete embeddings for %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE file_path = ?`, path); err != nil {
		return fmt.Errorf("delete symbols for %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE file_path = ?`, path); err != nil {
		return fmt.Errorf("delete relationships for %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete file %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete fts for %s: %w", path, err)
	}
	return nil
}

func scanSymbol(row interface {
	Scan(dest ...any) error
}) (*Symbol, error) {
	var sym Symbol
	var kind, visibility string
	if err := row.Scan(&sym.ID, &sym.Name, &sym.QualifiedName, &kind, &sym.Language, &sym.FilePath,
		&sym.StartLine, &sym.EndLine, &sym.StartCol, &sym.EndCol, &sym.Signature, &sym.DocComment,
		&visibility, &sym.ParentID, &sym.CodeContext, &sym.ContentHash, &sym.LastIndexed); err != nil {
		return nil, err
	}
	sym.Kind = SymbolKind(kind)
	sym.Visibility = Visibility(visibility)
	return &sym, nil
}

const symbolColumns = `id, name, qualified_name, kind, language, file_path,
	start_line, end_line, start_col, end_col, signature, doc_comment,
	visibility, parent_id, code_context, content_hash, last_indexed`

func (s *SQLiteStore) FindSymbolsByName(ctx context.Context, name string, limit int) ([]*Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+symbolColumns+` FROM symbols WHERE name = ? ORDER BY file_path, start_line LIMIT ?`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("find symbols by name: %w", err)
	}
	defer rows.Close()
	return collectSymbols(rows)
}

func (s *SQLiteStore) FindSymbolsByPattern(ctx context.Context, pattern string, limit int) ([]*Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	like := "%" + strings.ReplaceAll(pattern, "*", "%") + "%"
	rows, err := s.db.QueryContext(ctx, `SELECT `+symbolColumns+` FROM symbols WHERE name LIKE ? OR qualified_name LIKE ? ORDER BY file_path, start_line LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("find symbols by pattern: %w", err)
	}
	defer rows.Close()
	return collectSymbols(rows)
}

func (s *SQLiteStore) GetSymbolsByIDs(ctx context.Context, ids []string) ([]*Symbol, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT ` + symbolColumns + ` FROM symbols WHERE id IN (` + strings.Join(placeholders, ",") + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get symbols by ids: %w", err)
	}
	defer rows.Close()
	return collectSymbols(rows)
}

func (s *SQLiteStore) GetSymbolsByFile(ctx context.Context, filePath string) ([]*Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+symbolColumns+` FROM symbols WHERE file_path = ? ORDER BY start_line`, filePath)
	if err != nil {
		return nil, fmt.Errorf("get symbols by file: %w", err)
	}
	defer rows.Close()
	return collectSymbols(rows)
}

func collectSymbols(rows *sql.Rows) ([]*Symbol, error) {
	var out []*Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetRelationshipsFromSymbol(ctx context.Context, id string) ([]*Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, from_symbol_id, to_symbol_id, to_name, kind, file_path, line, confidence FROM relationships WHERE from_symbol_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get relationships from symbol: %w", err)
	}
	defer rows.Close()
	return collectRelationships(rows)
}

func (s *SQLiteStore) GetRelationshipsToSymbol(ctx context.Context, id string) ([]*Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, from_symbol_id, to_symbol_id, to_name, kind, file_path, line, confidence FROM relationships WHERE to_symbol_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get relationships to symbol: %w", err)
	}
	defer rows.Close()
	return collectRelationships(rows)
}

func (s *SQLiteStore) GetRelationshipsToSymbols(ctx context.Context, ids []string) ([]*Relationship, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT id, from_symbol_id, to_symbol_id, to_name, kind, file_path, line, confidence FROM relationships WHERE to_symbol_id IN (` + strings.Join(placeholders, ",") + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get relationships to symbols: %w", err)
	}
	defer rows.Close()
	return collectRelationships(rows)
}

// GetRelationshipsToName returns edges whose target is recorded by name
// only (the symbol lives in another file and is resolved at query time).
func (s *SQLiteStore) GetRelationshipsToName(ctx context.Context, name string) ([]*Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, from_symbol_id, to_symbol_id, to_name, kind, file_path, line, confidence FROM relationships WHERE to_name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("get relationships to name: %w", err)
	}
	defer rows.Close()
	return collectRelationships(rows)
}

// CountSymbols returns the total number of symbol rows.
func (s *SQLiteStore) CountSymbols(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM symbols`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count symbols: %w", err)
	}
	return n, nil
}

func collectRelationships(rows *sql.Rows) ([]*Relationship, error) {
	var out []*Relationship
	for rows.Next() {
		var r Relationship
		var kind string
		if err := rows.Scan(&r.ID, &r.FromSymbolID, &r.ToSymbolID, &r.ToName, &kind, &r.FilePath, &r.Line, &r.Confidence); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		r.Kind = RelationshipKind(kind)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// SearchFileContentFTS queries the FTS5 keyword tier over raw file content.
func (s *SQLiteStore) SearchFileContentFTS(ctx context.Context, query string, limit int) ([]FTSResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// The FTS table stores raw file content under plain unicode61
	// tokenization; the code-aware splitting happens here, at query
	// time. An identifier query expands into its sub-terms, required
	// together first (precision), then any-term when nothing matched
	// (recall) - mirroring the symbol keyword tier's strategy.
	tokens := TokenizeCode(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	out, err := s.matchFileContent(ctx, tokens, " AND ", limit)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 && len(tokens) > 1 {
		out, err = s.matchFileContent(ctx, tokens, " OR ", limit)
	}
	return out, err
}

// matchFileContent runs one FTS5 MATCH pass over file content.
func (s *SQLiteStore) matchFileContent(ctx context.Context, tokens []string, connective string, limit int) ([]FTSResult, error) {
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
	}
	matchExpr := strings.Join(quoted, connective)

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, snippet(fts_files, 1, '[', ']', '...', 16), bm25(fts_files)
		FROM fts_files WHERE fts_files MATCH ? ORDER BY bm25(fts_files) LIMIT ?
	`, matchExpr, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, fmt.Errorf("search file content fts: %w", err)
	}
	defer rows.Close()

	var out []FTSResult
	for rows.Next() {
		var r FTSResult
		if err := rows.Scan(&r.Path, &r.Snippet, &r.Rank); err != nil {
			return nil, fmt.Errorf("scan fts result: %w", err)
		}
		r.Rank = -r.Rank
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetSymbolsWithoutEmbeddings returns symbols lacking a vector for modelID,
// excluding symbols whose composed embedding text would be empty (those
// must never be requeued, or they loop forever — see internal/chunk/embedtext.go).
func (s *SQLiteStore) GetSymbolsWithoutEmbeddings(ctx context.Context, modelID string, limit int) ([]*Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+symbolColumns+` FROM symbols s
		WHERE NOT EXISTS (
			SELECT 1 FROM embeddings e WHERE e.symbol_id = s.id AND e.model_id = ?
		)
		AND TRIM(COALESCE(s.name,'') || COALESCE(s.signature,'') || COALESCE(s.doc_comment,'') || COALESCE(s.code_context,'')) != ''
		AND NOT (s.kind = 'doc_section' AND s.file_path LIKE '%.memories/%' AND s.name != 'description')
		AND NOT (s.kind = 'doc_section' AND TRIM(COALESCE(s.doc_comment,'') || COALESCE(s.code_context,'')) = '')
		ORDER BY s.file_path, s.start_line
		LIMIT ?
	`, modelID, limit)
	if err != nil {
		return nil, fmt.Errorf("get symbols without embeddings: %w", err)
	}
	defer rows.Close()
	return collectSymbols(rows)
}

// GetAllEmbeddings returns every persisted vector for modelID, keyed by
// symbol ID. Used for on-demand full HNSW rebuilds from persisted state,
// since the HNSW tier is derived and disposable.
func (s *SQLiteStore) GetAllEmbeddings(ctx context.Context, modelID string) (map[string][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT symbol_id, vector FROM embeddings WHERE model_id = ?`, modelID)
	if err != nil {
		return nil, fmt.Errorf("get all embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		out[id] = bytesToEmbedding(raw)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetFileByPath(ctx context.Context, path string) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT path, language, content_hash, size_bytes, last_modified, symbol_count, content FROM files WHERE path = ?`, path)
	var f File
	if err := row.Scan(&f.Path, &f.Language, &f.ContentHash, &f.SizeBytes, &f.LastModified, &f.SymbolCount, &f.Content); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get file by path: %w", err)
	}
	return &f, nil
}

func (s *SQLiteStore) DeleteFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := deleteFileTx(ctx, tx, path); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListFilePaths(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT path FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list file paths: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_state(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// embeddingToBytes/bytesToEmbedding round-trip a float32 vector through a
// little-endian byte blob for SQLite BLOB storage.
func embeddingToBytes(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

func bytesToEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// cursorOffset decodes the base64 "offset:N" pagination cursor used by
// listing helpers elsewhere in the store package.
func cursorOffset(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor: %w", err)
	}
	var offset int
	if _, err := fmt.Sscanf(string(decoded), "offset:%d", &offset); err != nil {
		return 0, fmt.Errorf("invalid cursor format: %w", err)
	}
	if offset < 0 {
		return 0, fmt.Errorf("cursor encodes a non-negative offset, got %d", offset)
	}
	return offset, nil
}

func encodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("offset:%d", offset)))
}
