// Package orchestrator coordinates the long-running operations exposed by
// the API: batch downloads, batch analysis, combined search pipelines and
// vision fleet management. Every operation runs as a tracked background
// task; callers poll the tracker for progress.
package orchestrator

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/pictora/pictora-go/internal/conf"
	"github.com/pictora/pictora-go/internal/datastore"
	"github.com/pictora/pictora-go/internal/logging"
	"github.com/pictora/pictora-go/internal/pipeline"
	"github.com/pictora/pictora-go/internal/tasks"
	"github.com/pictora/pictora-go/internal/vision"
)

var (
	orchLogger     *slog.Logger
	orchLoggerOnce sync.Once
)

func getLogger() *slog.Logger {
	orchLoggerOnce.Do(func() {
		orchLogger = logging.ForService("orchestrator")
		if orchLogger == nil {
			orchLogger = slog.Default().With("service", "orchestrator")
		}
	})
	return orchLogger
}

// Phase labels reported by multi-phase tasks.
const (
	PhaseSearching     = "searching"
	PhaseDownloading   = "downloading"
	PhaseLoadingVision = "loading_vision"
	PhaseAnalyzing     = "analyzing"
)

// Orchestrator wires the pipeline, the vision fleet and the task tracker.
type Orchestrator struct {
	settings *conf.Settings
	store    datastore.Interface
	pipe     *pipeline.Pipeline
	registry *vision.Registry
	tracker  *tasks.Tracker

	// Serializes fleet loading so concurrent tasks cannot double-load.
	loadMu sync.Mutex
}

// New creates an orchestrator.
func New(settings *conf.Settings, store datastore.Interface, pipe *pipeline.Pipeline, registry *vision.Registry, tracker *tasks.Tracker) *Orchestrator {
	return &Orchestrator{
		settings: settings,
		store:    store,
		pipe:     pipe,
		registry: registry,
		tracker:  tracker,
	}
}

// Tracker returns the task tracker.
func (o *Orchestrator) Tracker() *tasks.Tracker { return o.tracker }

// Registry returns the vision worker registry.
func (o *Orchestrator) Registry() *vision.Registry { return o.registry }

// Pipeline returns the download pipeline.
func (o *Orchestrator) Pipeline() *pipeline.Pipeline { return o.pipe }

// launch schedules a task body through the pipeline's bridge so shutdown
// cancels it. The body runs concurrently with other tasks; the bridge only
// admits it and provides the cancellation context.
func (o *Orchestrator) launch(taskID string, run func(ctx context.Context)) {
	timeout := time.Duration(o.settings.Fetch.BatchTimeout) * time.Second

	handle := o.pipe.Bridge().Submit(func(ctx context.Context) (any, error) {
		go func() {
			taskCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			run(taskCtx)
		}()
		return nil, nil
	})
	if handle == nil {
		o.tracker.Fail(taskID, "pipeline is shutting down")
	}
}

// DeleteImage removes a record, tombstones its URL and deletes its files.
// The URL stays in the dedup index so it is never downloaded again.
func (o *Orchestrator) DeleteImage(id string) (datastore.ImageRecord, error) {
	record, err := o.store.Delete(id)
	if err != nil {
		return datastore.ImageRecord{}, err
	}
	o.pipe.RemoveAssets(&record)
	getLogger().Info("image deleted", "id", id, "url", record.URL)
	return record, nil
}

// analysisPath resolves the on-disk file to feed the model, preferring the
// full-resolution original over the thumbnail.
func (o *Orchestrator) analysisPath(record *datastore.ImageRecord) string {
	rel := record.Path
	if rel == "" {
		rel = record.ThumbPath
	}
	if rel == "" {
		return ""
	}
	return filepath.Join(o.settings.Storage.BaseDir, rel)
}

// mergeTags unions two tag lists preserving first-seen order.
func mergeTags(existing, detected []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(detected))
	out := make([]string, 0, len(existing)+len(detected))
	for _, list := range [][]string{existing, detected} {
		for _, tag := range list {
			if _, ok := seen[tag]; ok || tag == "" {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}
