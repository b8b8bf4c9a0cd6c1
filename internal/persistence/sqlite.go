package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/vector"
)

// SQLiteBackend stores records and vectors in two tables of one SQLite database. The store
// is append-only, so Flush inserts only the rows past the persisted count, inside a single
// transaction.
type SQLiteBackend struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// SQLiteOption configures a SQLiteBackend.
type SQLiteOption func(*SQLiteBackend)

// WithSQLiteLogger sets the logger.
func WithSQLiteLogger(l *zap.Logger) SQLiteOption {
	return func(b *SQLiteBackend) {
		b.logger = l
	}
}

// NewSQLiteBackend opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteBackend(dbPath string, opts ...SQLiteOption) (*SQLiteBackend, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	b := &SQLiteBackend{db: db, path: dbPath, logger: zap.NewNop()}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS store_info (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY,
		doc_id TEXT NOT NULL UNIQUE,
		content_hash TEXT NOT NULL UNIQUE,
		text TEXT NOT NULL,
		language TEXT NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		ingested_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vectors (
		seq INTEGER PRIMARY KEY,
		embedding BLOB NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Name returns "sqlite".
func (b *SQLiteBackend) Name() string {
	return "sqlite"
}

// Load reads all rows ordered by sequence index.
func (b *SQLiteBackend) Load(ctx context.Context) (*Snapshot, error) {
	info, err := b.readInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read store info: %w", err)
	}
	snap := &Snapshot{StoreID: info["store_id"]}
	if v, ok := info["dimensions"]; ok {
		snap.Dimensions, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid dimensions %q", ErrCorruptStore, v)
		}
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT seq, doc_id, content_hash, text, language, filename, ingested_at
		 FROM documents ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	for rows.Next() {
		var rec models.DocumentRecord
		if err := rows.Scan(&rec.SequenceIndex, &rec.DocID, &rec.ContentHash, &rec.Text,
			&rec.Language, &rec.Filename, &rec.IngestedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scan document: %v", ErrCorruptStore, err)
		}
		snap.Records = append(snap.Records, &rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = b.db.QueryContext(ctx, `SELECT seq, embedding FROM vectors ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var seq int
		var blob []byte
		if err := rows.Scan(&seq, &blob); err != nil {
			return nil, fmt.Errorf("%w: scan vector: %v", ErrCorruptStore, err)
		}
		if seq != len(snap.Vectors) {
			return nil, fmt.Errorf("%w: vector sequence %d at position %d", ErrCorruptStore, seq, len(snap.Vectors))
		}
		vec, err := vector.DecodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: vector %d: %v", ErrCorruptStore, seq, err)
		}
		snap.Vectors = append(snap.Vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if snap.StoreID == "" {
		if len(snap.Records) > 0 || len(snap.Vectors) > 0 {
			return nil, fmt.Errorf("%w: rows present without store id", ErrCorruptStore)
		}
		snap.StoreID = uuid.NewString()
	}
	if err := Validate(snap); err != nil {
		return nil, err
	}
	b.logger.Info("loaded store", zap.String("path", b.path), zap.Int("documents", snap.Len()))
	return snap, nil
}

// Flush inserts the records and vectors of snap not yet in the database.
func (b *SQLiteBackend) Flush(ctx context.Context, snap *Snapshot) error {
	if err := b.flush(ctx, snap); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceWrite, err)
	}
	return nil
}

func (b *SQLiteBackend) flush(ctx context.Context, snap *Snapshot) error {
	if len(snap.Records) != len(snap.Vectors) {
		return fmt.Errorf("%d records but %d vectors", len(snap.Records), len(snap.Vectors))
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var persisted int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&persisted); err != nil {
		return err
	}
	if persisted > len(snap.Records) {
		return fmt.Errorf("database holds %d documents, snapshot only %d", persisted, len(snap.Records))
	}

	storeID := snap.StoreID
	if storeID == "" {
		storeID = uuid.NewString()
	}
	upsert := `INSERT INTO store_info (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO store_info (key, value) VALUES ('store_id', ?)`, storeID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsert, "dimensions", strconv.Itoa(snap.Dimensions)); err != nil {
		return err
	}

	docStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (seq, doc_id, content_hash, text, language, filename, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer docStmt.Close()
	vecStmt, err := tx.PrepareContext(ctx, `INSERT INTO vectors (seq, embedding) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer vecStmt.Close()

	for i := persisted; i < len(snap.Records); i++ {
		rec := snap.Records[i]
		if _, err := docStmt.ExecContext(ctx, rec.SequenceIndex, rec.DocID, rec.ContentHash, rec.Text,
			rec.Language, rec.Filename, rec.IngestedAt); err != nil {
			return fmt.Errorf("insert document %s: %w", rec.DocID, err)
		}
		if _, err := vecStmt.ExecContext(ctx, rec.SequenceIndex, vector.EncodeFloat32s(snap.Vectors[i])); err != nil {
			return fmt.Errorf("insert vector %d: %w", rec.SequenceIndex, err)
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) readInfo(ctx context.Context) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key, value FROM store_info`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	info := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		info[k] = v
	}
	return info, rows.Err()
}

// DiskUsage returns the size of the database file and its WAL files.
func (b *SQLiteBackend) DiskUsage() (int64, error) {
	return DiskUsageBytes(b.path, b.path+"-wal", b.path+"-shm")
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// DB returns the underlying database handle.
func (b *SQLiteBackend) DB() *sql.DB {
	return b.db
}
