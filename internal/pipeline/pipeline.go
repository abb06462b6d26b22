// Package pipeline implements the image acquisition pipeline: a scheduling
// bridge feeding a single background consumer, a deduplicating download path
// and concurrent multi-source search. The storage layer's URL uniqueness
// remains the final dedup authority; the in-memory index only avoids
// needless network work.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/pictora/pictora-go/internal/conf"
	"github.com/pictora/pictora-go/internal/datastore"
	"github.com/pictora/pictora-go/internal/errors"
	"github.com/pictora/pictora-go/internal/logging"
	"github.com/pictora/pictora-go/internal/sources"
)

var (
	pipelineLogger     *slog.Logger
	pipelineLoggerOnce sync.Once
)

func getLogger() *slog.Logger {
	pipelineLoggerOnce.Do(func() {
		pipelineLogger = logging.ForService("pipeline")
		if pipelineLogger == nil {
			pipelineLogger = slog.Default().With("service", "pipeline")
		}
	})
	return pipelineLogger
}

// ErrDuplicateURL is returned when a download is skipped because the URL is
// already known, live or tombstoned.
var ErrDuplicateURL = errors.NewStd("url already known")

// DownloadRequest describes one image to fetch and persist.
type DownloadRequest struct {
	URL         string   `json:"url"`
	Tags        []string `json:"tags"`
	Source      string   `json:"source"`
	Query       string   `json:"query"`
	Alt         string   `json:"alt"`
	PreviewOnly bool     `json:"preview_only"`
}

// Pipeline coordinates search, download and persistence of images.
type Pipeline struct {
	settings *conf.Settings
	store    datastore.Interface
	srcs     []sources.Source
	bridge   *Bridge
	client   *http.Client
	sem      *semaphore.Weighted

	mu       sync.RWMutex
	urlIndex map[string]struct{}

	shutdown atomic.Bool
}

// New creates a pipeline and seeds the dedup index from the store, so URLs
// already saved or tombstoned are skipped before any network traffic.
func New(settings *conf.Settings, store datastore.Interface, srcs []sources.Source) (*Pipeline, error) {
	urls, err := store.AllURLs()
	if err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryDatabase).
			Build()
	}

	index := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		index[u] = struct{}{}
	}
	getLogger().Info("dedup index seeded", "known_urls", len(index))

	maxConcurrent := settings.Fetch.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	return &Pipeline{
		settings: settings,
		store:    store,
		srcs:     srcs,
		bridge:   NewBridge(),
		client:   &http.Client{},
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		urlIndex: index,
	}, nil
}

// Bridge exposes the scheduling bridge for callers that submit their own
// units of work.
func (p *Pipeline) Bridge() *Bridge { return p.bridge }

// SetHTTPClient replaces the download client. Used by tests.
func (p *Pipeline) SetHTTPClient(client *http.Client) { p.client = client }

// IsURLKnown reports whether a URL is in the dedup index.
func (p *Pipeline) IsURLKnown(url string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.urlIndex[url]
	return ok
}

// MarkKnown adds a URL to the dedup index. Deleted images stay in the index
// so their URLs are never re-fetched.
func (p *Pipeline) MarkKnown(url string) {
	p.mu.Lock()
	p.urlIndex[url] = struct{}{}
	p.mu.Unlock()
}

// KnownURLs returns the current size of the dedup index.
func (p *Pipeline) KnownURLs() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.urlIndex)
}

// Acquire claims one download permit, blocking until one is free or the
// context ends. Batch operations use this to bound fan-out.
func (p *Pipeline) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

// Release returns a download permit.
func (p *Pipeline) Release() { p.sem.Release(1) }

// FetchAndPersist downloads one image and saves its record. Duplicate URLs
// return ErrDuplicateURL without touching the network. A preview-only
// request stores the thumbnail and no original file.
func (p *Pipeline) FetchAndPersist(ctx context.Context, req *DownloadRequest) (*datastore.ImageRecord, error) {
	if p.shutdown.Load() {
		return nil, ErrShuttingDown
	}
	if req.URL == "" {
		return nil, errors.Newf("empty url").
			Component("pipeline").
			Category(errors.CategoryValidation).
			Build()
	}
	if p.IsURLKnown(req.URL) {
		return nil, ErrDuplicateURL
	}

	thumb, err := p.FetchThumbnail(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	// The index can lag behind a racing insert; the store's uniqueness
	// constraint is the final authority.
	exists, err := p.store.URLExists(req.URL)
	if err != nil {
		p.removeFile(thumb.ThumbPath)
		return nil, err
	}
	if exists {
		p.MarkKnown(req.URL)
		p.removeFile(thumb.ThumbPath)
		return nil, ErrDuplicateURL
	}

	record := &datastore.ImageRecord{
		ID:          uuid.New().String(),
		ThumbPath:   thumb.ThumbPath,
		URL:         req.URL,
		Source:      req.Source,
		Query:       req.Query,
		Width:       thumb.Width,
		Height:      thumb.Height,
		Caption:     req.Alt,
		PreviewOnly: req.PreviewOnly,
		CreatedAt:   time.Now(),
	}
	record.SetTags(req.Tags)

	if !req.PreviewOnly {
		filename, path, err := p.downloadOriginal(ctx, req, thumb.Width, thumb.Height)
		if err != nil {
			p.removeFile(thumb.ThumbPath)
			return nil, err
		}
		record.Filename = filename
		record.Path = path
	}

	if p.shutdown.Load() {
		// Never leave half-persisted work behind on shutdown.
		p.removeFile(thumb.ThumbPath)
		p.removeFile(record.Path)
		return nil, ErrShuttingDown
	}

	if err := p.store.Save(record); err != nil {
		p.removeFile(thumb.ThumbPath)
		p.removeFile(record.Path)
		return nil, err
	}
	p.MarkKnown(req.URL)

	getLogger().Info("image saved",
		"id", record.ID,
		"source", record.Source,
		"preview_only", record.PreviewOnly)
	return record, nil
}

// downloadOriginal fetches the full-resolution file and writes it under the
// originals directory, named after the tags and the natural dimensions.
// Returns the generated filename and its path relative to the storage base
// directory.
func (p *Pipeline) downloadOriginal(ctx context.Context, req *DownloadRequest, width, height int) (filename, relPath string, err error) {
	timeout := time.Duration(p.settings.Fetch.DownloadTimeout) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, http.NoBody)
	if err != nil {
		return "", "", fetchError(err, req.URL)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", "", fetchError(err, req.URL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", "", fetchError(fmt.Errorf("unexpected status %d", resp.StatusCode), req.URL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fetchError(err, req.URL)
	}

	ext := extensionFor(resp.Header.Get("Content-Type"), req.URL)
	filename = GenerateFilename(req.Tags, width, height, ext)
	fullPath := filepath.Join(p.settings.Storage.OriginalsPath(), filename)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", "", errors.New(err).
			Component("pipeline").
			Category(errors.CategoryFileIO).
			Context("path", fullPath).
			Build()
	}
	return filename, filepath.Join(p.settings.Storage.OriginalsDir, filename), nil
}

// removeFile deletes a stored asset by its path relative to the storage
// base directory, ignoring empty paths and missing files.
func (p *Pipeline) removeFile(relPath string) {
	if relPath == "" {
		return
	}
	full := filepath.Join(p.settings.Storage.BaseDir, relPath)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		getLogger().Warn("failed to remove file", "path", full, "error", err)
	}
}

// RemoveAssets deletes the original and thumbnail files of a record. Used
// after the store has tombstoned the URL.
func (p *Pipeline) RemoveAssets(record *datastore.ImageRecord) {
	p.removeFile(record.Path)
	p.removeFile(record.ThumbPath)
	p.MarkKnown(record.URL)
}

// Shutdown stops accepting new work and cancels scheduled work.
func (p *Pipeline) Shutdown() {
	p.shutdown.Store(true)
	p.bridge.Shutdown()
}

// GenerateFilename builds a descriptive filename from up to three tags, the
// image dimensions and a short random suffix, e.g. sunset_sea_300x200_1a2b3c4d.jpg.
func GenerateFilename(tags []string, width, height int, ext string) string {
	parts := make([]string, 0, 3)
	for _, tag := range tags {
		if len(parts) == 3 {
			break
		}
		tag = strings.ToLower(strings.TrimSpace(tag))
		tag = strings.ReplaceAll(tag, " ", "_")
		if len(tag) > 15 {
			tag = tag[:15]
		}
		if tag != "" {
			parts = append(parts, tag)
		}
	}
	base := strings.Join(parts, "_")
	if base == "" {
		base = "image"
	}
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	if width > 0 && height > 0 {
		return fmt.Sprintf("%s_%dx%d_%s%s", base, width, height, suffix, ext)
	}
	return fmt.Sprintf("%s_%s%s", base, suffix, ext)
}

// extensionFor picks a file extension from the response content type,
// falling back to the URL path, then to .jpg.
func extensionFor(contentType, rawURL string) string {
	if contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			switch mediaType {
			case "image/jpeg":
				return ".jpg"
			case "image/png":
				return ".png"
			case "image/gif":
				return ".gif"
			case "image/webp":
				return ".webp"
			}
		}
	}
	if idx := strings.Index(rawURL, "?"); idx >= 0 {
		rawURL = rawURL[:idx]
	}
	switch ext := strings.ToLower(filepath.Ext(rawURL)); ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		if ext == ".jpeg" {
			return ".jpg"
		}
		return ext
	}
	return ".jpg"
}

func fetchError(err error, url string) error {
	return errors.New(err).
		Component("pipeline").
		Category(errors.CategoryImageFetch).
		Context("url", url).
		Build()
}

// readLimited reads at most limit bytes from r, reporting whether the limit
// was reached, which means the body was truncated.
func readLimited(r io.Reader, limit int64) (data []byte, truncated bool, err error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit))
	if err != nil {
		return nil, false, err
	}
	return buf.Bytes(), n == limit, nil
}
