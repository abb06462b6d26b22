// handlers.go: route handlers for the JSON API.
package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pictora/pictora-go/internal/buildinfo"
	"github.com/pictora/pictora-go/internal/datastore"
	"github.com/pictora/pictora-go/internal/errors"
	"github.com/pictora/pictora-go/internal/pipeline"
)

func (s *Server) handleMetrics(c echo.Context) error {
	promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}).
		ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) handleStatus(c echo.Context) error {
	running, completed, failed := s.orch.Tracker().Counts()
	registry := s.orch.Registry()

	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": buildinfo.Version,
		"vision": map[string]any{
			"workers": registry.Count(),
			"loaded":  registry.LoadedCount(),
			"devices": registry.Devices(),
		},
		"tasks": map[string]any{
			"running":   running,
			"completed": completed,
			"failed":    failed,
		},
	})
}

func (s *Server) handleStats(c echo.Context) error {
	count, err := s.DS.CountRecords()
	if err != nil {
		return s.jsonError(c, http.StatusInternalServerError, "failed to count records")
	}
	blocked, err := s.DS.AllBlocked()
	if err != nil {
		return s.jsonError(c, http.StatusInternalServerError, "failed to list blocked urls")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"images":       count,
		"known_urls":   s.orch.Pipeline().KnownURLs(),
		"blocked_urls": len(blocked),
	})
}

func (s *Server) handleHardware(c echo.Context) error {
	strategy := c.QueryParam("strategy")
	plan, inventory, err := s.orch.PlanVision(c.Request().Context(), strategy)
	if err != nil {
		return s.jsonError(c, http.StatusInternalServerError, "hardware snapshot failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"inventory": inventory,
		"plan":      plan,
	})
}

// imageDTO is the wire shape of one image record.
type imageDTO struct {
	ID              string    `json:"id"`
	Filename        string    `json:"filename,omitempty"`
	URL             string    `json:"url"`
	Source          string    `json:"source"`
	Query           string    `json:"query"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	Caption         string    `json:"caption,omitempty"`
	Tags            []string  `json:"tags"`
	PreviewOnly     bool      `json:"preview_only"`
	VisionProcessed bool      `json:"vision_processed"`
	CreatedAt       time.Time `json:"created_at"`
	FileURL         string    `json:"file_url,omitempty"`
	ThumbURL        string    `json:"thumb_url"`
}

func toImageDTO(r *datastore.ImageRecord) imageDTO {
	dto := imageDTO{
		ID:              r.ID,
		Filename:        r.Filename,
		URL:             r.URL,
		Source:          r.Source,
		Query:           r.Query,
		Width:           r.Width,
		Height:          r.Height,
		Caption:         r.Caption,
		Tags:            r.TagList(),
		PreviewOnly:     r.PreviewOnly,
		VisionProcessed: r.VisionProcessed,
		CreatedAt:       r.CreatedAt,
		ThumbURL:        fmt.Sprintf("/api/v1/images/%s/thumb", r.ID),
	}
	if !r.PreviewOnly {
		dto.FileURL = fmt.Sprintf("/api/v1/images/%s/file", r.ID)
	}
	return dto
}

func (s *Server) handleListImages(c echo.Context) error {
	records, err := s.DS.GetAll()
	if err != nil {
		return s.jsonError(c, http.StatusInternalServerError, "failed to list images")
	}
	out := make([]imageDTO, 0, len(records))
	for i := range records {
		out = append(out, toImageDTO(&records[i]))
	}
	return c.JSON(http.StatusOK, map[string]any{"images": out, "count": len(out)})
}

func (s *Server) handleGetImage(c echo.Context) error {
	record, err := s.DS.Get(c.Param("id"))
	if err != nil {
		if errors.IsNotFound(err) {
			return s.jsonError(c, http.StatusNotFound, "image not found")
		}
		return s.jsonError(c, http.StatusInternalServerError, "failed to load image")
	}
	return c.JSON(http.StatusOK, toImageDTO(&record))
}

func (s *Server) handleDeleteImage(c echo.Context) error {
	record, err := s.orch.DeleteImage(c.Param("id"))
	if err != nil {
		if errors.IsNotFound(err) {
			return s.jsonError(c, http.StatusNotFound, "image not found")
		}
		return s.jsonError(c, http.StatusInternalServerError, "failed to delete image")
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": record.ID, "url": record.URL})
}

type updateImageRequest struct {
	Caption *string   `json:"caption"`
	Tags    *[]string `json:"tags"`
}

func (s *Server) handleUpdateImage(c echo.Context) error {
	var req updateImageRequest
	if err := c.Bind(&req); err != nil || (req.Caption == nil && req.Tags == nil) {
		return s.jsonError(c, http.StatusBadRequest, "caption or tags required")
	}

	id := c.Param("id")
	if _, err := s.DS.Get(id); err != nil {
		if errors.IsNotFound(err) {
			return s.jsonError(c, http.StatusNotFound, "image not found")
		}
		return s.jsonError(c, http.StatusInternalServerError, "failed to load image")
	}

	if req.Caption != nil {
		if err := s.DS.UpdateCaption(id, *req.Caption); err != nil {
			return s.jsonError(c, http.StatusInternalServerError, "failed to update caption")
		}
	}
	if req.Tags != nil {
		if err := s.DS.UpdateTags(id, *req.Tags); err != nil {
			return s.jsonError(c, http.StatusInternalServerError, "failed to update tags")
		}
	}

	record, err := s.DS.Get(id)
	if err != nil {
		return s.jsonError(c, http.StatusInternalServerError, "failed to load image")
	}
	return c.JSON(http.StatusOK, toImageDTO(&record))
}

type deleteBatchRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleDeleteBatch(c echo.Context) error {
	var req deleteBatchRequest
	if err := c.Bind(&req); err != nil || len(req.IDs) == 0 {
		return s.jsonError(c, http.StatusBadRequest, "ids are required")
	}

	deleted := 0
	var failed []string
	for _, id := range req.IDs {
		if _, err := s.orch.DeleteImage(id); err != nil {
			failed = append(failed, id)
			continue
		}
		deleted++
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": deleted, "failed": failed})
}

func (s *Server) serveAsset(c echo.Context, relPath string) error {
	if relPath == "" {
		return s.jsonError(c, http.StatusNotFound, "no file for this image")
	}
	return c.File(filepath.Join(s.Settings.Storage.BaseDir, relPath))
}

func (s *Server) handleImageFile(c echo.Context) error {
	record, err := s.DS.Get(c.Param("id"))
	if err != nil {
		return s.jsonError(c, http.StatusNotFound, "image not found")
	}
	return s.serveAsset(c, record.Path)
}

func (s *Server) handleImageThumb(c echo.Context) error {
	record, err := s.DS.Get(c.Param("id"))
	if err != nil {
		return s.jsonError(c, http.StatusNotFound, "image not found")
	}
	return s.serveAsset(c, record.ThumbPath)
}

type searchRequest struct {
	Query string         `json:"query"`
	Pages map[string]int `json:"pages"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil || req.Query == "" {
		return s.jsonError(c, http.StatusBadRequest, "query is required")
	}
	if len(req.Pages) == 0 {
		req.Pages = map[string]int{"pixabay": 1, "pexels": 1, "unsplash": 1}
	}

	key := fmt.Sprintf("%s|%v", req.Query, req.Pages)
	if cached, ok := s.searchCache.Get(key); ok {
		s.metrics.searchHits.Inc()
		return c.JSON(http.StatusOK, cached)
	}
	s.metrics.searchMisses.Inc()

	candidates := s.orch.Pipeline().Search(c.Request().Context(), req.Query, req.Pages)
	response := map[string]any{"query": req.Query, "count": len(candidates), "results": candidates}
	s.searchCache.SetDefault(key, response)
	return c.JSON(http.StatusOK, response)
}

// handleDownload fetches one image synchronously through the scheduling
// bridge and returns the persisted record.
func (s *Server) handleDownload(c echo.Context) error {
	var req pipeline.DownloadRequest
	if err := c.Bind(&req); err != nil || req.URL == "" {
		return s.jsonError(c, http.StatusBadRequest, "url is required")
	}

	pipe := s.orch.Pipeline()
	handle := pipe.Bridge().Submit(func(ctx context.Context) (any, error) {
		return pipe.FetchAndPersist(ctx, &req)
	})
	if handle == nil {
		return s.jsonError(c, http.StatusServiceUnavailable, "pipeline is shutting down")
	}

	timeout := time.Duration(s.Settings.Fetch.ThumbnailTimeout+s.Settings.Fetch.DownloadTimeout) * time.Second
	value, err := handle.Result(timeout)
	if err != nil {
		if stderrors.Is(err, pipeline.ErrDuplicateURL) {
			return s.jsonError(c, http.StatusConflict, "url already known")
		}
		getLogger().Warn("download failed", "url", req.URL, "error", err)
		return s.jsonError(c, http.StatusBadGateway, "download failed")
	}

	record := value.(*datastore.ImageRecord)
	return c.JSON(http.StatusCreated, toImageDTO(record))
}

type downloadBatchRequest struct {
	Items []pipeline.DownloadRequest `json:"items"`
}

func (s *Server) handleDownloadBatch(c echo.Context) error {
	var req downloadBatchRequest
	if err := c.Bind(&req); err != nil || len(req.Items) == 0 {
		return s.jsonError(c, http.StatusBadRequest, "items are required")
	}

	taskID := s.orch.DownloadBatch(req.Items)
	s.metrics.TaskStarted("download_batch")
	return c.JSON(http.StatusAccepted, map[string]any{"task_id": taskID, "count": len(req.Items)})
}

func (s *Server) handleListTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"tasks": s.orch.Tracker().List()})
}

func (s *Server) handleGetTask(c echo.Context) error {
	task, ok := s.orch.Tracker().Get(c.Param("id"))
	if !ok {
		return s.jsonError(c, http.StatusNotFound, "task not found")
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) handleVisionStatus(c echo.Context) error {
	registry := s.orch.Registry()
	return c.JSON(http.StatusOK, map[string]any{
		"workers":     registry.Count(),
		"loaded":      registry.LoadedCount(),
		"devices":     registry.Devices(),
		"strategy":    s.Settings.Vision.Strategy,
		"auto_load":   s.Settings.Vision.AutoLoad,
		"auto_unload": s.Settings.Vision.AutoUnload,
	})
}

type visionLoadRequest struct {
	Strategy string `json:"strategy"`
}

func (s *Server) handleVisionLoad(c echo.Context) error {
	var req visionLoadRequest
	_ = c.Bind(&req)

	taskID := s.orch.AutoLoadVision(req.Strategy)
	s.metrics.TaskStarted("load_vision")
	return c.JSON(http.StatusAccepted, map[string]any{"task_id": taskID})
}

func (s *Server) handleVisionUnload(c echo.Context) error {
	taskID := s.orch.UnloadAllVision()
	s.metrics.TaskStarted("unload_vision")
	return c.JSON(http.StatusAccepted, map[string]any{"task_id": taskID})
}

type analyzeRequest struct {
	IDs         []string `json:"ids"`
	NeedObjects bool     `json:"need_objects"`
}

func (s *Server) handleAnalyze(c echo.Context) error {
	var req analyzeRequest
	if err := c.Bind(&req); err != nil || len(req.IDs) == 0 {
		return s.jsonError(c, http.StatusBadRequest, "ids are required")
	}

	taskID := s.orch.AnalyzeBatch(req.IDs, req.NeedObjects)
	s.metrics.TaskStarted("analyze_batch")
	return c.JSON(http.StatusAccepted, map[string]any{"task_id": taskID})
}

type comboRequest struct {
	Query       string         `json:"query"`
	Pages       map[string]int `json:"pages"`
	PreviewOnly bool           `json:"preview_only"`
	NeedObjects bool           `json:"need_objects"`
}

func (s *Server) handleSearchDownload(c echo.Context) error {
	var req comboRequest
	if err := c.Bind(&req); err != nil || req.Query == "" {
		return s.jsonError(c, http.StatusBadRequest, "query is required")
	}
	if len(req.Pages) == 0 {
		req.Pages = map[string]int{"pixabay": 1, "pexels": 1, "unsplash": 1}
	}

	taskID := s.orch.SearchDownload(req.Query, req.Pages, req.PreviewOnly)
	s.metrics.TaskStarted("search_download")
	return c.JSON(http.StatusAccepted, map[string]any{"task_id": taskID})
}

func (s *Server) handleSearchDownloadAnalyze(c echo.Context) error {
	var req comboRequest
	if err := c.Bind(&req); err != nil || req.Query == "" {
		return s.jsonError(c, http.StatusBadRequest, "query is required")
	}
	if len(req.Pages) == 0 {
		req.Pages = map[string]int{"pixabay": 1, "pexels": 1, "unsplash": 1}
	}

	taskID := s.orch.SearchDownloadAnalyze(req.Query, req.Pages, req.NeedObjects)
	s.metrics.TaskStarted("search_download_analyze")
	return c.JSON(http.StatusAccepted, map[string]any{"task_id": taskID})
}

func (s *Server) jsonError(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"error": message})
}
