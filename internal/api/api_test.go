package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pictora/pictora-go/internal/conf"
	"github.com/pictora/pictora-go/internal/datastore"
	"github.com/pictora/pictora-go/internal/orchestrator"
	"github.com/pictora/pictora-go/internal/pipeline"
	"github.com/pictora/pictora-go/internal/sources"
	"github.com/pictora/pictora-go/internal/tasks"
	"github.com/pictora/pictora-go/internal/vision"
)

type fixture struct {
	server *Server
	pipe   *pipeline.Pipeline
	store  datastore.Interface
}

// countingSource records how often it is searched, to observe caching.
type countingSource struct {
	calls      atomic.Int64
	candidates []sources.Candidate
}

func (s *countingSource) Name() string  { return "counting" }
func (s *countingSource) Enabled() bool { return true }
func (s *countingSource) Search(_ context.Context, _ string, _ int) ([]sources.Candidate, error) {
	s.calls.Add(1)
	return s.candidates, nil
}

func newFixture(t *testing.T, srcs []sources.Source) *fixture {
	t.Helper()

	settings := &conf.Settings{}
	settings.Storage = conf.StorageSettings{
		BaseDir:      t.TempDir(),
		OriginalsDir: "originals",
		ThumbsDir:    "thumbs",
		SQLitePath:   "pictora.db",
	}
	settings.Fetch = conf.FetchSettings{
		MaxConcurrent:    4,
		ThumbnailBytes:   3 * 1024 * 1024,
		ThumbnailSize:    300,
		ThumbnailQuality: 85,
		ThumbnailTimeout: 5,
		DownloadTimeout:  5,
		SearchTimeout:    5,
		BatchTimeout:     30,
	}
	settings.Vision = conf.VisionSettings{Strategy: "cpu_only", CPUInstances: 1, MaxTotal: 2}
	require.NoError(t, settings.Storage.EnsureDirectories())

	store := datastore.New(settings.Storage.DatabasePath())
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	pipe, err := pipeline.New(settings, store, srcs)
	require.NoError(t, err)
	t.Cleanup(pipe.Shutdown)

	client := &http.Client{Timeout: 5 * time.Second}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)
	pipe.SetHTTPClient(client)

	orch := orchestrator.New(settings, store, pipe, vision.NewRegistry(), tasks.NewTracker())
	return &fixture{server: New(settings, store, orch), pipe: pipe, store: store}
}

func (fx *fixture) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	fx.server.Echo.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func jpegBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func saveImage(t *testing.T, fx *fixture, url string) *datastore.ImageRecord {
	t.Helper()
	httpmock.RegisterResponder("GET", url,
		httpmock.NewBytesResponder(200, jpegBytes(t, 400, 300)))
	record, err := fx.pipe.FetchAndPersist(context.Background(), &pipeline.DownloadRequest{
		URL: url, Tags: []string{"test"}, Source: "Pixabay", Query: "test",
	})
	require.NoError(t, err)
	return record
}

func TestStatusEndpoint(t *testing.T) {
	fx := newFixture(t, nil)

	rec := fx.doJSON(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	visionInfo := body["vision"].(map[string]any)
	assert.EqualValues(t, 0, visionInfo["workers"])
}

func TestImageLifecycle(t *testing.T) {
	fx := newFixture(t, nil)
	record := saveImage(t, fx, "https://img.example.com/life.jpg")

	rec := fx.doJSON(t, http.MethodGet, "/api/v1/images", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["count"])

	rec = fx.doJSON(t, http.MethodGet, "/api/v1/images/"+record.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, record.ID, body["id"])
	assert.Equal(t, []any{"test"}, body["tags"])

	rec = fx.doJSON(t, http.MethodGet, "/api/v1/images/"+record.ID+"/thumb", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.Bytes())

	rec = fx.doJSON(t, http.MethodDelete, "/api/v1/images/"+record.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = fx.doJSON(t, http.MethodGet, "/api/v1/images/"+record.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = fx.doJSON(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.EqualValues(t, 0, body["images"])
	assert.EqualValues(t, 1, body["blocked_urls"], "deleted image leaves a tombstone")
}

func TestImageNotFound(t *testing.T) {
	fx := newFixture(t, nil)
	rec := fx.doJSON(t, http.MethodGet, "/api/v1/images/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreviewOnlyImageHasNoFile(t *testing.T) {
	fx := newFixture(t, nil)

	httpmock.RegisterResponder("GET", "https://img.example.com/preview.jpg",
		httpmock.NewBytesResponder(200, jpegBytes(t, 400, 300)))
	record, err := fx.pipe.FetchAndPersist(context.Background(), &pipeline.DownloadRequest{
		URL: "https://img.example.com/preview.jpg", Source: "Pixabay", Query: "q", PreviewOnly: true,
	})
	require.NoError(t, err)

	rec := fx.doJSON(t, http.MethodGet, "/api/v1/images/"+record.ID+"/file", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = fx.doJSON(t, http.MethodGet, "/api/v1/images/"+record.ID, nil)
	body := decodeBody(t, rec)
	assert.Empty(t, body["file_url"])
	assert.NotEmpty(t, body["thumb_url"])
}

func TestSearchUsesCache(t *testing.T) {
	src := &countingSource{candidates: []sources.Candidate{
		{URL: "https://img.example.com/c1.jpg", Source: "Counting", Query: "cats"},
	}}
	fx := newFixture(t, []sources.Source{src})

	payload := map[string]any{"query": "cats", "pages": map[string]int{"counting": 1}}

	rec := fx.doJSON(t, http.MethodPost, "/api/v1/search", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["count"])
	assert.EqualValues(t, 1, src.calls.Load())

	rec = fx.doJSON(t, http.MethodPost, "/api/v1/search", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, src.calls.Load(), "identical search served from cache")
}

func TestSearchRequiresQuery(t *testing.T) {
	fx := newFixture(t, nil)
	rec := fx.doJSON(t, http.MethodPost, "/api/v1/search", map[string]any{"pages": map[string]int{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadBatchTask(t *testing.T) {
	fx := newFixture(t, nil)

	httpmock.RegisterResponder("GET", "https://img.example.com/batch.jpg",
		httpmock.NewBytesResponder(200, jpegBytes(t, 400, 300)))

	rec := fx.doJSON(t, http.MethodPost, "/api/v1/download/batch", map[string]any{
		"items": []map[string]any{
			{"url": "https://img.example.com/batch.jpg", "source": "Pixabay", "query": "q"},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	taskID := decodeBody(t, rec)["task_id"].(string)
	require.NotEmpty(t, taskID)

	require.Eventually(t, func() bool {
		rec := fx.doJSON(t, http.MethodGet, "/api/v1/tasks/"+taskID, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		return decodeBody(t, rec)["status"] == string(tasks.StatusCompleted)
	}, 15*time.Second, 50*time.Millisecond)

	rec = fx.doJSON(t, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["tasks"], 1)
}

func TestDownloadRequiresURL(t *testing.T) {
	fx := newFixture(t, nil)
	rec := fx.doJSON(t, http.MethodPost, "/api/v1/download", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.doJSON(t, http.MethodPost, "/api/v1/download/batch", map[string]any{"items": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaskNotFound(t *testing.T) {
	fx := newFixture(t, nil)
	rec := fx.doJSON(t, http.MethodGet, "/api/v1/tasks/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVisionStatusAndValidation(t *testing.T) {
	fx := newFixture(t, nil)

	rec := fx.doJSON(t, http.MethodGet, "/api/v1/vision/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 0, body["workers"])
	assert.Equal(t, "cpu_only", body["strategy"])

	rec = fx.doJSON(t, http.MethodPost, "/api/v1/vision/analyze", map[string]any{"ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestComboEndpointsRequireQuery(t *testing.T) {
	fx := newFixture(t, nil)

	rec := fx.doJSON(t, http.MethodPost, "/api/v1/pipeline/search-download", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.doJSON(t, http.MethodPost, "/api/v1/pipeline/search-download-analyze", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	fx := newFixture(t, nil)

	// Generate one counted request first.
	fx.doJSON(t, http.MethodGet, "/api/v1/status", nil)

	rec := fx.doJSON(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pictora_http_requests_total")
	assert.Contains(t, rec.Body.String(), "pictora_images_total")
}

func TestDownloadSingleSynchronous(t *testing.T) {
	fx := newFixture(t, nil)

	httpmock.RegisterResponder("GET", "https://img.example.com/sync.jpg",
		httpmock.NewBytesResponder(200, jpegBytes(t, 400, 300)))

	payload := map[string]any{"url": "https://img.example.com/sync.jpg", "source": "Pixabay", "query": "q"}

	rec := fx.doJSON(t, http.MethodPost, "/api/v1/download", payload)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, "https://img.example.com/sync.jpg", body["url"])

	rec = fx.doJSON(t, http.MethodPost, "/api/v1/download", payload)
	assert.Equal(t, http.StatusConflict, rec.Code, "repeated url is a conflict, not a re-download")
}

func TestUpdateImage(t *testing.T) {
	fx := newFixture(t, nil)
	record := saveImage(t, fx, "https://img.example.com/edit.jpg")

	rec := fx.doJSON(t, http.MethodPatch, "/api/v1/images/"+record.ID, map[string]any{
		"caption": "hand written caption",
		"tags":    []string{"edited", "manual"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "hand written caption", body["caption"])
	assert.Equal(t, []any{"edited", "manual"}, body["tags"])

	rec = fx.doJSON(t, http.MethodPatch, "/api/v1/images/"+record.ID, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.doJSON(t, http.MethodPatch, "/api/v1/images/missing", map[string]any{"caption": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteBatch(t *testing.T) {
	fx := newFixture(t, nil)
	a := saveImage(t, fx, "https://img.example.com/del-a.jpg")
	b := saveImage(t, fx, "https://img.example.com/del-b.jpg")

	rec := fx.doJSON(t, http.MethodPost, "/api/v1/images/delete", map[string]any{
		"ids": []string{a.ID, b.ID, "missing"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["deleted"])
	assert.Len(t, body["failed"], 1)

	count, err := fx.store.CountRecords()
	require.NoError(t, err)
	assert.Zero(t, count)
}
