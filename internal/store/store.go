package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/store/migrations"
)

var (
	// ErrNotFound is returned when no row matches the key.
	ErrNotFound = errors.New("document text not found")
	// ErrConflict is returned when an insert hits the (docId, docType, url) unique key.
	ErrConflict = errors.New("document text already exists")
)

// Entry is one document_text row. URL is empty for the per-record progress row
// and holds the file link for extracted text rows. Size is -1 when unknown.
type Entry struct {
	ID         int64
	DocID      string
	DocType    models.DocType
	URL        string
	Text       string
	Size       int64
	Status     models.Status
	ParsedJSON []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store is the local relational cache of extracted text and harvest progress.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the cache database at path and applies migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("cache path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, s.now().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

const entryColumns = `id, doc_id, doc_type, url, text, doc_size, status, parsed_json, created_at, updated_at`

// Get loads a row by its unique key.
func (s *Store) Get(ctx context.Context, docType models.DocType, docID, url string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+`
		FROM document_text WHERE doc_id = ? AND doc_type = ? AND url = ?`,
		docID, string(docType), url)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting document text: %w", err)
	}
	return e, nil
}

// Insert creates a row. A duplicate key returns ErrConflict.
func (s *Store) Insert(ctx context.Context, e *Entry) error {
	now := s.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO document_text (doc_id, doc_type, url, text, doc_size, status, parsed_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.DocID, string(e.DocType), e.URL, nullString(e.Text), nullSize(e.Size), string(e.Status),
		nullBytes(e.ParsedJSON), formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s/%s", ErrConflict, e.DocType, e.DocID)
		}
		return fmt.Errorf("inserting document text: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// Save inserts or updates the row identified by (docId, docType, url).
func (s *Store) Save(ctx context.Context, e *Entry) error {
	now := s.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_text (doc_id, doc_type, url, text, doc_size, status, parsed_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id, doc_type, url) DO UPDATE SET
			text = excluded.text,
			doc_size = excluded.doc_size,
			status = excluded.status,
			parsed_json = COALESCE(excluded.parsed_json, document_text.parsed_json),
			updated_at = excluded.updated_at
	`, e.DocID, string(e.DocType), e.URL, nullString(e.Text), nullSize(e.Size), string(e.Status),
		nullBytes(e.ParsedJSON), formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving document text: %w", err)
	}
	return nil
}

// SetStatus updates only the status of an existing row.
func (s *Store) SetStatus(ctx context.Context, docType models.DocType, docID, url string, status models.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE document_text SET status = ?, updated_at = ?
		WHERE doc_id = ? AND doc_type = ? AND url = ?
	`, string(status), formatTime(s.now()), docID, string(docType), url)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecords returns the per-record progress rows of a type in the given statuses.
func (s *Store) ListRecords(ctx context.Context, docType models.DocType, statuses ...models.Status) ([]Entry, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := []any{string(docType)}
	for _, st := range statuses {
		args = append(args, string(st))
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+`
		FROM document_text
		WHERE doc_type = ? AND url = '' AND status IN (`+placeholders+`)
		ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Counts returns row counts grouped by type and status.
func (s *Store) Counts(ctx context.Context) (map[models.DocType]map[models.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_type, status, COUNT(*) FROM document_text GROUP BY doc_type, status`)
	if err != nil {
		return nil, fmt.Errorf("counting rows: %w", err)
	}
	defer rows.Close()

	out := map[models.DocType]map[models.Status]int{}
	for rows.Next() {
		var docType, status string
		var n int
		if err := rows.Scan(&docType, &status, &n); err != nil {
			return nil, fmt.Errorf("scanning counts: %w", err)
		}
		t := models.DocType(docType)
		if out[t] == nil {
			out[t] = map[models.Status]int{}
		}
		out[t][models.Status(status)] = n
	}
	return out, rows.Err()
}

// Cursor returns the persisted paging cursor of a type, or "" if none.
func (s *Store) Cursor(ctx context.Context, docType models.DocType) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx, `SELECT cursor FROM harvest_cursor WHERE doc_type = ?`, string(docType)).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading cursor: %w", err)
	}
	return cursor, nil
}

// SaveCursor persists the paging cursor of a type.
func (s *Store) SaveCursor(ctx context.Context, docType models.DocType, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO harvest_cursor (doc_type, cursor, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(doc_type) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at
	`, string(docType), cursor, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                    Entry
		docType, status      string
		text, parsed         sql.NullString
		size                 sql.NullInt64
		createdAt, updatedAt string
	)
	if err := row.Scan(&e.ID, &e.DocID, &docType, &e.URL, &text, &size, &status, &parsed, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.DocType = models.DocType(docType)
	e.Status = models.Status(status)
	e.Text = text.String
	e.Size = -1
	if size.Valid {
		e.Size = size.Int64
	}
	if parsed.Valid {
		e.ParsedJSON = []byte(parsed.String)
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullSize(n int64) any {
	if n < 0 {
		return nil
	}
	return n
}
