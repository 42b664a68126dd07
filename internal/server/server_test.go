package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/observer/internal/camera"
	"github.com/raphaelgruber/observer/internal/config"
	"github.com/raphaelgruber/observer/internal/db"
	"github.com/raphaelgruber/observer/internal/llm"
	"github.com/raphaelgruber/observer/internal/metrics"
	"github.com/raphaelgruber/observer/internal/models"
	"github.com/raphaelgruber/observer/internal/service"
)

type fakeCamera struct {
	frame []byte
	err   error
}

func (f *fakeCamera) CaptureFrame(context.Context) ([]byte, error) { return f.frame, f.err }

type fakeModel struct {
	completion llm.Completion
	err        error
	calls      int
}

func (f *fakeModel) Infer(context.Context, string, []llm.ImageRef) (llm.Completion, error) {
	f.calls++
	return f.completion, f.err
}

type testEnv struct {
	e       *echo.Echo
	store   *db.SQLiteStore
	camera  *fakeCamera
	model   *fakeModel
	logFile string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := db.NewSQLiteStore(ctx, ":memory:", nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })

	env := &testEnv{
		store:   store,
		camera:  &fakeCamera{frame: pngImage(t, 40, 20)},
		model:   &fakeModel{completion: llm.Completion{"object": "chat.completion", "choices": []any{map[string]any{"message": map[string]any{"content": "a desk"}}}}},
		logFile: filepath.Join(t.TempDir(), "server.log"),
	}
	mc := metrics.NewCollector()
	cfg := config.Config{Host: "127.0.0.1", Port: 5001, DBType: config.DBTypeSQLite, LogFile: env.logFile}

	env.e = New(Deps{
		Store:     store,
		Captures:  service.NewCaptureService(store, env.camera),
		Inference: service.NewInferenceService(store, env.model),
		Dashboard: service.NewDashboardService(store, cfg, mc),
		LogFile:   env.logFile,
	})
	return env
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (env *testEnv) saveCaptures(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		id, err := env.store.SaveCapture(context.Background(), pngImage(t, 40, 20), "png")
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func TestCaptureEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/capture", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[captureResult](t, rec)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "Video frame captured and saved with ID: "+res.CaptureID, res.Message)

	got, err := env.store.GetCapture(context.Background(), res.CaptureID)
	require.NoError(t, err)
	assert.Equal(t, "png", got.FileType)
}

func TestCaptureEndpointDeviceFailure(t *testing.T) {
	env := newTestEnv(t)
	env.camera.err = fmt.Errorf("%w: open: no such device", camera.ErrDeviceUnavailable)

	rec := env.do(t, http.MethodPost, "/capture", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decode[map[string]string](t, rec)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["message"], "capture device unavailable")
}

func TestSendRequestEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ids := env.saveCaptures(t, 2)

	rec := env.do(t, http.MethodPost, "/send_request", map[string]string{"message": "what is this?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[sendResult](t, rec)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "a desk", models.CompletionContent(res.Response))
	assert.NotEmpty(t, res.ResponseID)

	rec = env.do(t, http.MethodGet, "/recent_captures", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.Capture](t, rec))

	rec = env.do(t, http.MethodGet, "/recent_responses", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	responses := decode[[]models.Response](t, rec)
	require.Len(t, responses, 1)
	assert.Equal(t, res.ResponseID, responses[0].ID)
	assert.Equal(t, []string{ids[1], ids[0]}, responses[0].CaptureIDs)

	rec = env.do(t, http.MethodGet, "/responses/"+res.ResponseID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "what is this?", decode[models.Response](t, rec).Message)
}

func TestSendRequestErrors(t *testing.T) {
	t.Run("missing message", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/send_request", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Missing 'message' in request body", decode[errorBody](t, rec).Error)
	})

	t.Run("no captures", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/send_request", map[string]string{"message": "hi"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode[errorBody](t, rec).Error, "no captures")
		assert.Zero(t, env.model.calls)
	})

	t.Run("upstream failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.saveCaptures(t, 1)
		env.model.err = fmt.Errorf("%w: connection refused", llm.ErrUpstream)

		rec := env.do(t, http.MethodPost, "/send_request", map[string]string{"message": "hi"})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		rec = env.do(t, http.MethodGet, "/recent_captures", nil)
		assert.Len(t, decode[[]models.Capture](t, rec), 1, "captures stay recent")
	})
}

func TestCaptureSendArchiveDeleteScenario(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/capture", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	captureID := decode[captureResult](t, rec).CaptureID

	rec = env.do(t, http.MethodPost, "/send_request", map[string]string{"message": "what is on the desk?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "a desk", models.CompletionContent(decode[sendResult](t, rec).Response))

	rec = env.do(t, http.MethodGet, "/recent_captures", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.Capture](t, rec))

	rec = env.do(t, http.MethodGet, "/archived_captures", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	archived := decode[[]models.Capture](t, rec)
	require.Len(t, archived, 1)
	assert.Equal(t, captureID, archived[0].ID)
	assert.True(t, archived[0].Archived)

	rec = env.do(t, http.MethodPost, "/delete_image", map[string]string{"image_id": captureID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "success", decode[statusResult](t, rec).Status)

	rec = env.do(t, http.MethodGet, "/archived_captures", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.Capture](t, rec))
}

func TestConcurrentRequestValidation(t *testing.T) {
	env := newTestEnv(t)

	const workers = 8
	codes := make([]int, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			req := httptest.NewRequest(http.MethodPost, "/send_request", strings.NewReader("{}"))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			env.e.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}()
	}
	close(start)
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, http.StatusBadRequest, code)
	}
	assert.Zero(t, env.model.calls)
}

func TestListEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ids := env.saveCaptures(t, 4)

	rec := env.do(t, http.MethodGet, "/recent_captures?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recent := decode[[]models.Capture](t, rec)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[3], recent[0].ID)

	rec = env.do(t, http.MethodGet, "/recent_captures?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/recent_captures/", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "trailing slash is removed")

	rec = env.do(t, http.MethodGet, "/archived_captures", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestMoveImageEndpoint(t *testing.T) {
	env := newTestEnv(t)
	id := env.saveCaptures(t, 1)[0]

	tests := []struct {
		name   string
		body   any
		status int
		msg    string
	}{
		{"archive", map[string]string{"image_id": id, "action": "archive"}, http.StatusOK, "Image archived"},
		{"archive again", map[string]string{"image_id": id, "action": "archive"}, http.StatusConflict, "image already archived"},
		{"unarchive", map[string]string{"image_id": id, "action": "unarchive"}, http.StatusOK, "Image unarchived"},
		{"unknown id", map[string]string{"image_id": uuid.NewString(), "action": "archive"}, http.StatusNotFound, "Image not found"},
		{"invalid id", map[string]string{"image_id": "not-an-id", "action": "archive"}, http.StatusBadRequest, "invalid id"},
		{"invalid action", map[string]string{"image_id": id, "action": "delete"}, http.StatusBadRequest, "Invalid action"},
		{"missing fields", map[string]string{"image_id": id}, http.StatusBadRequest, "Missing required fields"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/move_image", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode[map[string]string](t, rec)
			if tt.status == http.StatusOK {
				assert.Equal(t, "success", body["status"])
				assert.Equal(t, tt.msg, body["message"])
			} else {
				assert.Equal(t, "error", body["status"])
				assert.Contains(t, body["error"], tt.msg)
			}
		})
	}
}

func TestDeleteEndpoints(t *testing.T) {
	env := newTestEnv(t)
	id := env.saveCaptures(t, 1)[0]
	rid, err := env.store.SaveResponse(context.Background(), models.ResponseInput{Message: "m", ResponseData: map[string]any{}, CaptureIDs: []string{id}})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/delete_image", map[string]string{"image_id": id})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/delete_image", map[string]string{"image_id": id})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodPost, "/delete_image", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/delete_image", map[string]string{"image_id": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/delete_response", map[string]string{"response_id": rid})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/delete_response", map[string]string{"response_id": rid})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Response not found", decode[errorBody](t, rec).Error)
	rec = env.do(t, http.MethodPost, "/delete_response", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImageAndThumbnailEndpoints(t *testing.T) {
	env := newTestEnv(t)
	id := env.saveCaptures(t, 1)[0]

	rec := env.do(t, http.MethodGet, "/captures/"+id+"/image", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))

	rec = env.do(t, http.MethodGet, "/captures/"+id+"/thumbnail?width=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 5), img.Bounds())

	rec = env.do(t, http.MethodGet, "/captures/"+id+"/thumbnail?width=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/captures/"+uuid.NewString()+"/image", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadImageEndpoint(t *testing.T) {
	env := newTestEnv(t)

	upload := func(name string, data []byte) *httptest.ResponseRecorder {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		part, err := w.CreateFormFile("image", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		req := httptest.NewRequest(http.MethodPost, "/upload_image", &body)
		req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
		rec := httptest.NewRecorder()
		env.e.ServeHTTP(rec, req)
		return rec
	}

	rec := upload("desk.png", pngImage(t, 8, 8))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[captureResult](t, rec)
	got, err := env.store.GetCapture(context.Background(), res.CaptureID)
	require.NoError(t, err)
	assert.Equal(t, "desk.png", got.Filename)

	rec = upload("notes.txt", []byte("plain text"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/upload_image", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/server_logs", "/api/logs"} {
		rec := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "No logs available", rec.Body.String())
	}

	require.NoError(t, os.WriteFile(env.logFile, []byte("one\ntwo\nthree\n"), 0o644))

	for _, path := range []string{"/server_logs", "/api/logs"} {
		rec := env.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMETextPlain))
		assert.Equal(t, "one\ntwo\nthree", rec.Body.String())

		rec = env.do(t, http.MethodGet, path+"?order=newest", nil)
		assert.Equal(t, "three\ntwo\none", rec.Body.String())

		rec = env.do(t, http.MethodGet, path+"?order=sideways", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestDashboardEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ids := env.saveCaptures(t, 3)
	_, err := env.store.ArchiveCapture(context.Background(), ids[0])
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[models.Stats](t, rec)
	assert.Equal(t, 3, stats.TotalStats.Captures)
	assert.Len(t, stats.HourlyStats, service.HourlyBuckets)

	rec = env.do(t, http.MethodGet, "/api/system", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[service.SystemInfo](t, rec)
	assert.Equal(t, 2, info.Database.RecentCaptures)
	assert.Equal(t, 1, info.Database.ArchivedCaptures)
	assert.Equal(t, env.logFile, info.Folders.Logs)

	rec = env.do(t, http.MethodGet, "/api/routes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	routes := decode[[]RouteInfo](t, rec)
	byPath := map[string]RouteInfo{}
	for _, r := range routes {
		byPath[r.Path] = r
	}
	assert.Equal(t, CategoryAPI, byPath["/capture"].Category)
	assert.Equal(t, http.MethodPost, byPath["/capture"].Method)
	assert.Equal(t, CategoryDashboard, byPath["/api/stats"].Category)
	assert.Equal(t, CategoryLander, byPath["/"].Category)
	assert.NotContains(t, byPath, "/static/*")
	assert.Contains(t, byPath["/move_image"].Doc, "404")
	assert.Contains(t, byPath["/move_image"].Doc, "409")
}

func TestPages(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/", "/dashboard"} {
		rec := env.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), Title)
	}

	rec := env.do(t, http.MethodGet, "/static/js/main.js", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, "ok", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/no/such/route", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "error", decode[errorBody](t, rec).Status)
}
