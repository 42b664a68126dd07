package db

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/raphaelgruber/observer/internal/metrics"
	"github.com/raphaelgruber/observer/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS captures (
	id TEXT PRIMARY KEY,
	image_data TEXT NOT NULL,
	file_type TEXT NOT NULL DEFAULT 'png',
	filename TEXT,
	timestamp INTEGER NOT NULL,
	archived INTEGER
);
CREATE INDEX IF NOT EXISTS idx_captures_timestamp ON captures (timestamp);
CREATE INDEX IF NOT EXISTS idx_captures_archived ON captures (archived);

CREATE TABLE IF NOT EXISTS responses (
	id TEXT PRIMARY KEY,
	message TEXT NOT NULL,
	response_data TEXT NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_responses_timestamp ON responses (timestamp);

CREATE TABLE IF NOT EXISTS response_captures (
	response_id TEXT NOT NULL REFERENCES responses (id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	capture_id TEXT NOT NULL,
	PRIMARY KEY (response_id, position)
);
CREATE INDEX IF NOT EXISTS idx_response_captures_capture ON response_captures (capture_id);
`

// SQLiteStore is the embedded single-file Store. Timestamps are stored as
// Unix nanoseconds and response documents as JSON text.
type SQLiteStore struct {
	db      *sql.DB
	log     *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. ":memory:" gives a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string, log *slog.Logger, mc *metrics.Collector) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, err
	}
	// One connection: in-memory databases are per connection, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, log: log, metrics: mc, now: time.Now}
	if err := s.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("sqlite store ready", "path", path)
	return s, nil
}

// sqliteDSN appends the connection pragmas, so every pooled connection
// enforces foreign keys, not only the one that created the schema.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)"
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close(context.Context) error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveCapture stores a frame from the capture device as a recent capture.
func (s *SQLiteStore) SaveCapture(ctx context.Context, data []byte, fileType string) (string, error) {
	return s.insertCapture(ctx, CaptureFile{Data: data, FileType: fileType})
}

// SaveCaptureFile stores an image read from a file.
func (s *SQLiteStore) SaveCaptureFile(ctx context.Context, f CaptureFile) (string, error) {
	return s.insertCapture(ctx, f)
}

func (s *SQLiteStore) insertCapture(ctx context.Context, f CaptureFile) (id string, err error) {
	defer s.metrics.Since(metrics.OpDBWrite, time.Now(), &err)

	var filename sql.NullString
	if f.Name != "" {
		filename = sql.NullString{String: f.Name, Valid: true}
	}
	id = newID()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO captures (id, image_data, file_type, filename, timestamp, archived) VALUES (?, ?, ?, ?, ?, 0)`,
		id, base64.StdEncoding.EncodeToString(f.Data), captureFileType(f.FileType), filename, s.now().UnixNano(),
	)
	if err != nil {
		return "", storageError("save capture", err)
	}
	s.log.Info("saved capture", "capture_id", id, "bytes", len(f.Data))
	return id, nil
}

const captureColumns = `id, image_data, file_type, filename, timestamp, archived`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapture(r rowScanner) (models.Capture, error) {
	var (
		c        models.Capture
		filename sql.NullString
		ts       int64
		archived sql.NullInt64
	)
	if err := r.Scan(&c.ID, &c.ImageData, &c.FileType, &filename, &ts, &archived); err != nil {
		return c, err
	}
	c.Filename = filename.String
	c.Timestamp = time.Unix(0, ts).UTC()
	c.Archived = archived.Valid && archived.Int64 != 0
	return c, nil
}

// GetCapture returns one capture or ErrNotFound.
func (s *SQLiteStore) GetCapture(ctx context.Context, id string) (capture *models.Capture, err error) {
	id, err = canonicalID(id)
	if err != nil {
		return nil, err
	}
	defer s.metrics.Since(metrics.OpDBQuery, time.Now(), &err)

	row := s.db.QueryRowContext(ctx, `SELECT `+captureColumns+` FROM captures WHERE id = ?`, id)
	c, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("capture %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storageError("get capture", err)
	}
	return &c, nil
}

// ListRecentCaptures returns non-archived captures, newest first.
func (s *SQLiteStore) ListRecentCaptures(ctx context.Context, limit int) ([]models.Capture, error) {
	return s.listCaptures(ctx,
		`SELECT `+captureColumns+` FROM captures WHERE archived IS NULL OR archived = 0 ORDER BY timestamp DESC, rowid DESC LIMIT ?`,
		limitOrDefault(limit))
}

// ListArchivedCaptures returns every archived capture, newest first.
func (s *SQLiteStore) ListArchivedCaptures(ctx context.Context) ([]models.Capture, error) {
	return s.listCaptures(ctx,
		`SELECT `+captureColumns+` FROM captures WHERE archived = 1 ORDER BY timestamp DESC, rowid DESC`)
}

func (s *SQLiteStore) listCaptures(ctx context.Context, query string, args ...any) (captures []models.Capture, err error) {
	defer s.metrics.Since(metrics.OpDBQuery, time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("list captures", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	captures = []models.Capture{}
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, storageError("list captures", err)
		}
		captures = append(captures, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list captures", err)
	}
	return captures, nil
}

// ArchiveCapture marks a capture archived. It reports false when the
// capture does not exist or is already archived.
func (s *SQLiteStore) ArchiveCapture(ctx context.Context, id string) (bool, error) {
	return s.exec(ctx, "archive capture", id,
		`UPDATE captures SET archived = 1 WHERE id = ? AND (archived IS NULL OR archived = 0)`)
}

// UnarchiveCapture moves a capture back to recent. It reports false when
// the capture does not exist or is not archived.
func (s *SQLiteStore) UnarchiveCapture(ctx context.Context, id string) (bool, error) {
	return s.exec(ctx, "unarchive capture", id,
		`UPDATE captures SET archived = 0 WHERE id = ? AND archived = 1`)
}

// DeleteCapture removes a capture. It reports false when none existed.
func (s *SQLiteStore) DeleteCapture(ctx context.Context, id string) (bool, error) {
	return s.exec(ctx, "delete capture", id, `DELETE FROM captures WHERE id = ?`)
}

// DeleteResponse removes a response and its capture links. It reports
// false when none existed.
func (s *SQLiteStore) DeleteResponse(ctx context.Context, id string) (bool, error) {
	return s.exec(ctx, "delete response", id, `DELETE FROM responses WHERE id = ?`)
}

// exec runs a single-row statement keyed by id and reports whether a row changed.
func (s *SQLiteStore) exec(ctx context.Context, op, id, stmt string) (changed bool, err error) {
	id, err = canonicalID(id)
	if err != nil {
		return false, err
	}
	defer s.metrics.Since(metrics.OpDBWrite, time.Now(), &err)

	res, err := s.db.ExecContext(ctx, stmt, id)
	if err != nil {
		return false, storageError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageError(op, err)
	}
	return n > 0, nil
}

// SaveResponse stores an upstream reply with links to its captures.
func (s *SQLiteStore) SaveResponse(ctx context.Context, in models.ResponseInput) (id string, err error) {
	captureIDs, err := canonicalIDs(in.CaptureIDs)
	if err != nil {
		return "", err
	}
	defer s.metrics.Since(metrics.OpDBWrite, time.Now(), &err)

	data := in.ResponseData
	if data == nil {
		data = map[string]any{}
	}
	doc, err := json.Marshal(data)
	if err != nil {
		return "", storageError("encode response", err)
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageError("save response", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	id = newID()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO responses (id, message, response_data, timestamp) VALUES (?, ?, ?, ?)`,
		id, in.Message, string(doc), ts.UnixNano(),
	); err != nil {
		return "", storageError("save response", err)
	}
	for i, cid := range captureIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO response_captures (response_id, position, capture_id) VALUES (?, ?, ?)`,
			id, i, cid,
		); err != nil {
			return "", storageError("save response links", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", storageError("save response", err)
	}

	s.log.Info("saved response", "response_id", id, "captures", len(captureIDs))
	return id, nil
}

// GetResponse returns one response or ErrNotFound.
func (s *SQLiteStore) GetResponse(ctx context.Context, id string) (response *models.Response, err error) {
	id, err = canonicalID(id)
	if err != nil {
		return nil, err
	}
	responses, err := s.listResponses(ctx,
		`SELECT id, message, response_data, timestamp FROM responses WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(responses) == 0 {
		return nil, fmt.Errorf("response %s: %w", id, ErrNotFound)
	}
	return &responses[0], nil
}

// ListRecentResponses returns responses, newest first.
func (s *SQLiteStore) ListRecentResponses(ctx context.Context, limit int) ([]models.Response, error) {
	return s.listResponses(ctx,
		`SELECT id, message, response_data, timestamp FROM responses ORDER BY timestamp DESC, rowid DESC LIMIT ?`,
		limitOrDefault(limit))
}

func (s *SQLiteStore) listResponses(ctx context.Context, query string, args ...any) (responses []models.Response, err error) {
	defer s.metrics.Since(metrics.OpDBQuery, time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("list responses", err)
	}

	responses = []models.Response{}
	for rows.Next() {
		var (
			r   models.Response
			doc string
			ts  int64
		)
		if err := rows.Scan(&r.ID, &r.Message, &doc, &ts); err != nil {
			_ = rows.Close()
			return nil, storageError("list responses", err)
		}
		if err := json.Unmarshal([]byte(doc), &r.ResponseData); err != nil {
			_ = rows.Close()
			return nil, storageError("decode response", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, storageError("list responses", err)
	}
	// Release the single connection before loading links.
	_ = rows.Close()

	for i := range responses {
		ids, err := s.captureLinks(ctx, responses[i].ID)
		if err != nil {
			return nil, err
		}
		responses[i].CaptureIDs = ids
	}
	return responses, nil
}

func (s *SQLiteStore) captureLinks(ctx context.Context, responseID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT capture_id FROM response_captures WHERE response_id = ? ORDER BY position`, responseID)
	if err != nil {
		return nil, storageError("load capture links", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageError("load capture links", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("load capture links", err)
	}
	return ids, nil
}

// CountCaptures counts captures matching f.
func (s *SQLiteStore) CountCaptures(ctx context.Context, f CountFilter) (int, error) {
	return s.count(ctx, "captures", f)
}

// CountResponses counts responses matching f. The archived filter does
// not apply to responses and is ignored.
func (s *SQLiteStore) CountResponses(ctx context.Context, f CountFilter) (int, error) {
	f.Archived = nil
	return s.count(ctx, "responses", f)
}

func (s *SQLiteStore) count(ctx context.Context, table string, f CountFilter) (n int, err error) {
	defer s.metrics.Since(metrics.OpDBQuery, time.Now(), &err)

	var (
		conds []string
		args  []any
	)
	if f.Since != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if f.Until != nil {
		conds = append(conds, "timestamp < ?")
		args = append(args, f.Until.UnixNano())
	}
	if f.Archived != nil {
		if *f.Archived {
			conds = append(conds, "archived = 1")
		} else {
			conds = append(conds, "(archived IS NULL OR archived = 0)")
		}
	}
	query := "SELECT COUNT(*) FROM " + table
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storageError("count "+table, err)
	}
	return n, nil
}

// StorageUsage sums the stored payload sizes in bytes.
func (s *SQLiteStore) StorageUsage(ctx context.Context) (usage models.StorageUsage, err error) {
	defer s.metrics.Since(metrics.OpDBQuery, time.Now(), &err)

	row := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COALESCE(SUM(LENGTH(image_data)), 0) FROM captures),
		(SELECT COALESCE(SUM(LENGTH(response_data)), 0) FROM responses)`)
	if err := row.Scan(&usage.Captures, &usage.Responses); err != nil {
		return usage, storageError("storage usage", err)
	}
	usage.Total = usage.Captures + usage.Responses
	return usage, nil
}
