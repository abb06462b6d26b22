// Package api exposes the HTTP JSON API: image library access, source
// search, download and analysis tasks and vision fleet control.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	gocache "github.com/patrickmn/go-cache"

	"github.com/pictora/pictora-go/internal/conf"
	"github.com/pictora/pictora-go/internal/datastore"
	"github.com/pictora/pictora-go/internal/logging"
	"github.com/pictora/pictora-go/internal/orchestrator"
)

var (
	apiLogger     *slog.Logger
	apiLoggerOnce sync.Once
)

func getLogger() *slog.Logger {
	apiLoggerOnce.Do(func() {
		apiLogger = logging.ForService("api")
		if apiLogger == nil {
			apiLogger = slog.Default().With("service", "api")
		}
	})
	return apiLogger
}

// Search responses are cached briefly so paging a UI does not hammer the
// upstream source APIs.
const (
	searchCacheTTL     = 5 * time.Minute
	searchCacheCleanup = 10 * time.Minute
)

// Server encapsulates the Echo server and its collaborators.
type Server struct {
	Echo     *echo.Echo
	Settings *conf.Settings
	DS       datastore.Interface

	orch        *orchestrator.Orchestrator
	metrics     *Metrics
	searchCache *gocache.Cache
}

// New builds the HTTP server and registers all routes.
func New(settings *conf.Settings, ds datastore.Interface, orch *orchestrator.Orchestrator) *Server {
	s := &Server{
		Echo:        echo.New(),
		Settings:    settings,
		DS:          ds,
		orch:        orch,
		metrics:     NewMetrics(ds, orch.Registry(), orch.Tracker()),
		searchCache: gocache.New(searchCacheTTL, searchCacheCleanup),
	}

	s.Echo.HideBanner = true
	s.Echo.IPExtractor = echo.ExtractIPFromXFFHeader()
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(s.metrics.Middleware())

	s.initRoutes()
	return s
}

// Start begins listening and blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Settings.HTTP.Host, s.Settings.HTTP.Port)
	getLogger().Info("http server starting", "addr", addr)
	return s.Echo.Start(addr)
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	getLogger().Info("http server shutting down")
	return s.Echo.Shutdown(ctx)
}

// initRoutes registers the API routes.
func (s *Server) initRoutes() {
	s.Echo.GET("/metrics", s.handleMetrics)

	v1 := s.Echo.Group("/api/v1")

	v1.GET("/status", s.handleStatus)
	v1.GET("/stats", s.handleStats)
	v1.GET("/hardware", s.handleHardware)

	v1.GET("/images", s.handleListImages)
	v1.GET("/images/:id", s.handleGetImage)
	v1.PATCH("/images/:id", s.handleUpdateImage)
	v1.DELETE("/images/:id", s.handleDeleteImage)
	v1.POST("/images/delete", s.handleDeleteBatch)
	v1.GET("/images/:id/file", s.handleImageFile)
	v1.GET("/images/:id/thumb", s.handleImageThumb)

	v1.POST("/search", s.handleSearch)
	v1.POST("/download", s.handleDownload)
	v1.POST("/download/batch", s.handleDownloadBatch)

	v1.GET("/tasks", s.handleListTasks)
	v1.GET("/tasks/:id", s.handleGetTask)

	v1.GET("/vision/status", s.handleVisionStatus)
	v1.POST("/vision/load", s.handleVisionLoad)
	v1.POST("/vision/unload", s.handleVisionUnload)
	v1.POST("/vision/analyze", s.handleAnalyze)

	v1.POST("/pipeline/search-download", s.handleSearchDownload)
	v1.POST("/pipeline/search-download-analyze", s.handleSearchDownloadAnalyze)
}
