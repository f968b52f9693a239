package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"taskboard/internal/docstore"
)

// nowExpr yields the current UTC time with millisecond precision in a layout
// the sqlite3 driver scans back into time.Time.
const nowExpr = `strftime('%Y-%m-%d %H:%M:%f', 'now')`

// Store keeps documents of every collection in a single SQLite table.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open initializes a new SQLite store and runs the required migrations.
func Open(dbPath string, logger *log.Logger) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("empty database path")
	}

	if logger == nil {
		logger = log.StandardLogger()
	}

	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=ON", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{db: conn, logger: logger}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.WithField("path", dbPath).Debug("sqlite document store ready")
	return s, nil
}

// Close releases the database resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
            collection TEXT NOT NULL,
            id TEXT NOT NULL,
            fields TEXT NOT NULL DEFAULT '{}',
            create_at DATETIME NOT NULL DEFAULT (` + nowExpr + `),
            update_at DATETIME NOT NULL DEFAULT (` + nowExpr + `),
            PRIMARY KEY (collection, id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection_created ON documents(collection, create_at);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Add inserts a new document; id and both timestamps are assigned here.
func (s *Store) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	body, err := encodeFields(fields)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO documents(collection, id, fields) VALUES(?, ?, ?)`, collection, id, body); err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

// Update merges fields into the stored document and refreshes update_at.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var body string
	err = tx.QueryRowContext(ctx, `SELECT fields FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	current, err := decodeFields(body)
	if err != nil {
		return err
	}
	for k, v := range docstore.CleanFields(fields) {
		current[k] = v
	}
	merged, err := encodeFields(current)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE documents SET fields = ?, update_at = `+nowExpr+` WHERE collection = ? AND id = ?`, merged, collection, id); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

// Delete removes a document by id.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

// Get retrieves a document by id.
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, fields, create_at, update_at FROM documents WHERE collection = ? AND id = ?`, collection, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// Query lists the documents of a collection matching filter ordered by
// creation time.
func (s *Store) Query(ctx context.Context, collection string, filter docstore.Filter) ([]docstore.Document, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	query := `SELECT id, fields, create_at, update_at FROM documents WHERE collection = ?`
	args := []any{collection}
	if !filter.IsZero() {
		query += ` AND json_extract(fields, ?) = ?`
		args = append(args, "$."+filter.Field, filter.Value)
	}
	query += ` ORDER BY create_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := []docstore.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (docstore.Document, error) {
	var (
		doc  docstore.Document
		body string
	)
	if err := row.Scan(&doc.ID, &body, &doc.CreateAt, &doc.UpdateAt); err != nil {
		return docstore.Document{}, err
	}
	fields, err := decodeFields(body)
	if err != nil {
		return docstore.Document{}, err
	}
	doc.Fields = fields
	doc.CreateAt = doc.CreateAt.UTC()
	doc.UpdateAt = doc.UpdateAt.UTC()
	return doc, nil
}

func encodeFields(fields map[string]any) (string, error) {
	body, err := sonic.MarshalString(docstore.CleanFields(fields))
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return body, nil
}

func decodeFields(body string) (map[string]any, error) {
	fields := map[string]any{}
	if err := sonic.UnmarshalString(body, &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}

var _ docstore.Backend = (*Store)(nil)
