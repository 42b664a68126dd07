package db

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/observer/internal/metrics"
	"github.com/raphaelgruber/observer/internal/models"
)

type captureRow struct {
	ID        surrealmodels.RecordID `json:"id"`
	ImageData string                 `json:"image_data"`
	FileType  string                 `json:"file_type"`
	Filename  *string                `json:"filename,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Archived  *bool                  `json:"archived,omitempty"`
}

func (r captureRow) toModel() (models.Capture, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.Capture{}, err
	}
	c := models.Capture{
		ID:        id,
		ImageData: r.ImageData,
		FileType:  r.FileType,
		Timestamp: r.Timestamp,
		Archived:  r.Archived != nil && *r.Archived,
	}
	if r.Filename != nil {
		c.Filename = *r.Filename
	}
	return c, nil
}

type responseRow struct {
	ID           surrealmodels.RecordID   `json:"id"`
	Message      string                   `json:"message"`
	ResponseData map[string]any           `json:"response_data"`
	CaptureIDs   []surrealmodels.RecordID `json:"capture_ids"`
	Timestamp    time.Time                `json:"timestamp"`
}

func (r responseRow) toModel() (models.Response, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.Response{}, err
	}
	captureIDs, err := models.RecordIDStrings(r.CaptureIDs)
	if err != nil {
		return models.Response{}, err
	}
	data, _ := normalizeDocument(r.ResponseData).(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	return models.Response{
		ID:           id,
		Message:      r.Message,
		ResponseData: data,
		CaptureIDs:   captureIDs,
		Timestamp:    r.Timestamp,
	}, nil
}

type idRow struct {
	ID surrealmodels.RecordID `json:"id"`
}

type countRow struct {
	Count int `json:"count"`
}

// firstResult extracts the first statement's result from a query response.
func firstResult[T any](results *[]surrealdb.QueryResult[T]) (T, bool) {
	var zero T
	if results == nil || len(*results) == 0 {
		return zero, false
	}
	return (*results)[0].Result, true
}

func surrealTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// SaveCapture stores a frame from the capture device as a recent capture.
func (c *Client) SaveCapture(ctx context.Context, data []byte, fileType string) (id string, err error) {
	defer c.metrics.Since(metrics.OpDBWrite, time.Now(), &err)

	id = newID()
	content := map[string]any{
		"image_data": base64.StdEncoding.EncodeToString(data),
		"file_type":  captureFileType(fileType),
		"timestamp":  surrealTime(c.now()),
		"archived":   false,
	}
	if err := c.createCapture(ctx, id, content); err != nil {
		return "", err
	}
	c.log.Info("saved capture", "capture_id", id, "bytes", len(data))
	return id, nil
}

// SaveCaptureFile stores an image read from a file.
func (c *Client) SaveCaptureFile(ctx context.Context, f CaptureFile) (id string, err error) {
	defer c.metrics.Since(metrics.OpDBWrite, time.Now(), &err)

	id = newID()
	content := map[string]any{
		"image_data": base64.StdEncoding.EncodeToString(f.Data),
		"file_type":  captureFileType(f.FileType),
		"timestamp":  surrealTime(c.now()),
		"archived":   false,
	}
	if f.Name != "" {
		content["filename"] = f.Name
	}
	if err := c.createCapture(ctx, id, content); err != nil {
		return "", err
	}
	c.log.Info("saved capture file", "capture_id", id, "filename", f.Name, "bytes", len(f.Data))
	return id, nil
}

func (c *Client) createCapture(ctx context.Context, id string, content map[string]any) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("capture", $id) CONTENT {
			image_data: $content.image_data,
			file_type: $content.file_type,
			filename: $content.filename,
			timestamp: <datetime>$content.timestamp,
			archived: $content.archived
		} RETURN NONE
	`, map[string]any{"id": id, "content": content})
	if err != nil {
		return storageError("save capture", err)
	}
	return nil
}

// GetCapture returns one capture or ErrNotFound.
func (c *Client) GetCapture(ctx context.Context, id string) (capture *models.Capture, err error) {
	id, err = canonicalID(id)
	if err != nil {
		return nil, err
	}
	defer c.metrics.Since(metrics.OpDBQuery, time.Now(), &err)

	results, err := surrealdb.Query[[]captureRow](ctx, c.db, `
		SELECT * FROM type::record("capture", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, storageError("get capture", err)
	}
	rows, _ := firstResult(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("capture %s: %w", id, ErrNotFound)
	}
	m, err := rows[0].toModel()
	if err != nil {
		return nil, storageError("get capture", err)
	}
	return &m, nil
}

// ListRecentCaptures returns non-archived captures, newest first.
func (c *Client) ListRecentCaptures(ctx context.Context, limit int) ([]models.Capture, error) {
	return c.listCaptures(ctx, `
		SELECT * FROM capture WHERE archived != true ORDER BY timestamp DESC LIMIT $limit
	`, map[string]any{"limit": limitOrDefault(limit)})
}

// ListArchivedCaptures returns every archived capture, newest first.
func (c *Client) ListArchivedCaptures(ctx context.Context) ([]models.Capture, error) {
	return c.listCaptures(ctx, `
		SELECT * FROM capture WHERE archived = true ORDER BY timestamp DESC
	`, nil)
}

func (c *Client) listCaptures(ctx context.Context, sql string, vars map[string]any) (captures []models.Capture, err error) {
	defer c.metrics.Since(metrics.OpDBQuery, time.Now(), &err)

	results, err := surrealdb.Query[[]captureRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, storageError("list captures", err)
	}
	rows, _ := firstResult(results)
	captures = make([]models.Capture, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, storageError("list captures", err)
		}
		captures = append(captures, m)
	}
	return captures, nil
}

// ArchiveCapture marks a capture archived. It reports false when the
// capture does not exist or is already archived.
func (c *Client) ArchiveCapture(ctx context.Context, id string) (bool, error) {
	return c.setArchived(ctx, id, true)
}

// UnarchiveCapture moves a capture back to recent. It reports false when
// the capture does not exist or is not archived.
func (c *Client) UnarchiveCapture(ctx context.Context, id string) (bool, error) {
	return c.setArchived(ctx, id, false)
}

func (c *Client) setArchived(ctx context.Context, id string, archived bool) (modified bool, err error) {
	id, err = canonicalID(id)
	if err != nil {
		return false, err
	}
	defer c.metrics.Since(metrics.OpDBWrite, time.Now(), &err)

	sql := `UPDATE type::record("capture", $id) SET archived = true WHERE archived != true RETURN id`
	if !archived {
		sql = `UPDATE type::record("capture", $id) SET archived = false WHERE archived = true RETURN id`
	}
	results, err := surrealdb.Query[[]idRow](ctx, c.db, sql, map[string]any{"id": id})
	if err != nil {
		return false, storageError("set archived", err)
	}
	rows, _ := firstResult(results)
	return len(rows) > 0, nil
}

// DeleteCapture removes a capture. It reports false when none existed.
func (c *Client) DeleteCapture(ctx context.Context, id string) (bool, error) {
	return c.deleteRecord(ctx, "capture", id)
}

// DeleteResponse removes a response. It reports false when none existed.
func (c *Client) DeleteResponse(ctx context.Context, id string) (bool, error) {
	return c.deleteRecord(ctx, "response", id)
}

func (c *Client) deleteRecord(ctx context.Context, table, id string) (deleted bool, err error) {
	id, err = canonicalID(id)
	if err != nil {
		return false, err
	}
	defer c.metrics.Since(metrics.OpDBWrite, time.Now(), &err)

	results, err := surrealdb.Query[[]idRow](ctx, c.db, `
		DELETE type::record($table, $id) RETURN BEFORE
	`, map[string]any{"table": table, "id": id})
	if err != nil {
		return false, storageError("delete "+table, err)
	}
	rows, _ := firstResult(results)
	if len(rows) > 0 {
		c.log.Info("deleted record", "table", table, "id", id)
	}
	return len(rows) > 0, nil
}

// SaveResponse stores an upstream reply with links to its captures.
func (c *Client) SaveResponse(ctx context.Context, in models.ResponseInput) (id string, err error) {
	captureIDs, err := canonicalIDs(in.CaptureIDs)
	if err != nil {
		return "", err
	}
	defer c.metrics.Since(metrics.OpDBWrite, time.Now(), &err)

	links := make([]surrealmodels.RecordID, 0, len(captureIDs))
	for _, cid := range captureIDs {
		links = append(links, surrealmodels.NewRecordID("capture", cid))
	}
	data := in.ResponseData
	if data == nil {
		data = map[string]any{}
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}

	id = newID()
	_, err = surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("response", $id) CONTENT {
			message: $message,
			response_data: $response_data,
			capture_ids: $capture_ids,
			timestamp: <datetime>$timestamp
		} RETURN NONE
	`, map[string]any{
		"id":            id,
		"message":       in.Message,
		"response_data": data,
		"capture_ids":   links,
		"timestamp":     surrealTime(ts),
	})
	if err != nil {
		return "", storageError("save response", err)
	}
	c.log.Info("saved response", "response_id", id, "captures", len(links))
	return id, nil
}

// GetResponse returns one response or ErrNotFound.
func (c *Client) GetResponse(ctx context.Context, id string) (response *models.Response, err error) {
	id, err = canonicalID(id)
	if err != nil {
		return nil, err
	}
	defer c.metrics.Since(metrics.OpDBQuery, time.Now(), &err)

	results, err := surrealdb.Query[[]responseRow](ctx, c.db, `
		SELECT * FROM type::record("response", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, storageError("get response", err)
	}
	rows, _ := firstResult(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("response %s: %w", id, ErrNotFound)
	}
	m, err := rows[0].toModel()
	if err != nil {
		return nil, storageError("get response", err)
	}
	return &m, nil
}

// ListRecentResponses returns responses, newest first.
func (c *Client) ListRecentResponses(ctx context.Context, limit int) (responses []models.Response, err error) {
	defer c.metrics.Since(metrics.OpDBQuery, time.Now(), &err)

	results, err := surrealdb.Query[[]responseRow](ctx, c.db, `
		SELECT * FROM response ORDER BY timestamp DESC LIMIT $limit
	`, map[string]any{"limit": limitOrDefault(limit)})
	if err != nil {
		return nil, storageError("list responses", err)
	}
	rows, _ := firstResult(results)
	responses = make([]models.Response, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, storageError("list responses", err)
		}
		responses = append(responses, m)
	}
	return responses, nil
}

// CountCaptures counts captures matching f.
func (c *Client) CountCaptures(ctx context.Context, f CountFilter) (int, error) {
	return c.count(ctx, "capture", f)
}

// CountResponses counts responses matching f. The archived filter does
// not apply to responses and is ignored.
func (c *Client) CountResponses(ctx context.Context, f CountFilter) (int, error) {
	f.Archived = nil
	return c.count(ctx, "response", f)
}

func (c *Client) count(ctx context.Context, table string, f CountFilter) (n int, err error) {
	defer c.metrics.Since(metrics.OpDBQuery, time.Now(), &err)

	var conds []string
	vars := map[string]any{}
	if f.Since != nil {
		conds = append(conds, "timestamp >= <datetime>$since")
		vars["since"] = surrealTime(*f.Since)
	}
	if f.Until != nil {
		conds = append(conds, "timestamp < <datetime>$until")
		vars["until"] = surrealTime(*f.Until)
	}
	if f.Archived != nil {
		if *f.Archived {
			conds = append(conds, "archived = true")
		} else {
			conds = append(conds, "archived != true")
		}
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	sql := fmt.Sprintf("SELECT count() AS count FROM %s %s GROUP ALL", table, where)
	results, err := surrealdb.Query[[]countRow](ctx, c.db, sql, vars)
	if err != nil {
		return 0, storageError("count "+table, err)
	}
	rows, _ := firstResult(results)
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Count, nil
}

// StorageUsage sums the stored payload sizes. Responses are measured by
// their serialized length, so the figure is approximate.
func (c *Client) StorageUsage(ctx context.Context) (usage models.StorageUsage, err error) {
	defer c.metrics.Since(metrics.OpDBQuery, time.Now(), &err)

	captures, err := c.sumLengths(ctx, `SELECT VALUE string::len(image_data) FROM capture`)
	if err != nil {
		return usage, storageError("capture storage", err)
	}
	responses, err := c.sumLengths(ctx, `SELECT VALUE string::len(<string>response_data) FROM response`)
	if err != nil {
		return usage, storageError("response storage", err)
	}
	return models.StorageUsage{
		Captures:  captures,
		Responses: responses,
		Total:     captures + responses,
	}, nil
}

func (c *Client) sumLengths(ctx context.Context, sql string) (int64, error) {
	results, err := surrealdb.Query[[]int64](ctx, c.db, sql, nil)
	if err != nil {
		return 0, err
	}
	lengths, _ := firstResult(results)
	var total int64
	for _, n := range lengths {
		total += n
	}
	return total, nil
}

// normalizeDocument converts CBOR-decoded generic maps into JSON-friendly
// map[string]any so response documents serialize unchanged.
func normalizeDocument(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeDocument(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeDocument(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeDocument(val)
		}
		return out
	default:
		return v
	}
}
