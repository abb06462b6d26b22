// batches.go: tracked batch operations. Batches complete even when some
// sub-units fail; per-unit failures accumulate on the task's error list.
package orchestrator

import (
	"context"
	"sync"

	"github.com/pictora/pictora-go/internal/datastore"
	"github.com/pictora/pictora-go/internal/pipeline"
	"github.com/pictora/pictora-go/internal/sources"
	"github.com/pictora/pictora-go/internal/vision"
)

// DownloadBatch starts a background task downloading the given images.
// Returns the task id immediately.
func (o *Orchestrator) DownloadBatch(reqs []pipeline.DownloadRequest) string {
	taskID := o.tracker.Create("download_batch", len(reqs))
	o.launch(taskID, func(ctx context.Context) {
		records := o.downloadAll(ctx, taskID, reqs)
		o.tracker.Complete(taskID, map[string]any{"downloaded": len(records)})
		getLogger().Info("download batch finished",
			"task_id", taskID, "requested", len(reqs), "downloaded", len(records))
	})
	return taskID
}

// downloadAll fans the requests out under the pipeline's concurrency gate
// and returns the successfully persisted records.
func (o *Orchestrator) downloadAll(ctx context.Context, taskID string, reqs []pipeline.DownloadRequest) []*datastore.ImageRecord {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		records   []*datastore.ImageRecord
		completed int
	)

	for i := range reqs {
		req := reqs[i]
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := o.pipe.Acquire(ctx); err != nil {
				o.tracker.AppendError(taskID, "Failed: "+req.URL)
				return
			}
			defer o.pipe.Release()

			record, err := o.pipe.FetchAndPersist(ctx, &req)
			if err != nil {
				getLogger().Debug("download failed", "url", req.URL, "error", err)
				o.tracker.AppendError(taskID, "Failed: "+req.URL)
				return
			}

			mu.Lock()
			records = append(records, record)
			completed++
			o.tracker.Progress(taskID, completed)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return records
}

// AnalyzeBatch starts a background task running the given images through
// the vision fleet. Workers are auto-loaded when configured.
func (o *Orchestrator) AnalyzeBatch(ids []string, needObjects bool) string {
	taskID := o.tracker.Create("analyze_batch", len(ids))
	o.launch(taskID, func(ctx context.Context) {
		workers, err := o.ensureWorkers(ctx, taskID)
		if err != nil {
			o.tracker.Fail(taskID, err.Error())
			return
		}

		o.tracker.SetPhase(taskID, PhaseAnalyzing)
		analyzed := o.analyzeAll(ctx, taskID, ids, needObjects, workers)
		o.tracker.Complete(taskID, map[string]any{"analyzed": analyzed})
		getLogger().Info("analyze batch finished",
			"task_id", taskID, "requested", len(ids), "analyzed", analyzed)
	})
	return taskID
}

// analyzeAll distributes images round-robin across the loaded workers and
// persists the results. Returns the number of successful analyses.
func (o *Orchestrator) analyzeAll(ctx context.Context, taskID string, ids []string, needObjects bool, workers []*vision.Manager) int {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		analyzed  int
		completed int
	)

	for i, id := range ids {
		worker := workers[i%len(workers)]
		wg.Add(1)
		go func(id string, worker *vision.Manager) {
			defer wg.Done()

			finish := func(ok bool) {
				mu.Lock()
				if ok {
					analyzed++
				}
				completed++
				o.tracker.Progress(taskID, completed)
				mu.Unlock()
			}

			record, err := o.store.Get(id)
			if err != nil {
				o.tracker.AppendError(taskID, "Not found: "+id)
				finish(false)
				return
			}

			path := o.analysisPath(&record)
			if path == "" {
				o.tracker.AppendError(taskID, "No file: "+id)
				finish(false)
				return
			}

			result, err := worker.Analyze(ctx, path, needObjects)
			if err != nil {
				getLogger().Debug("analysis failed", "id", id, "device", worker.Device(), "error", err)
				o.tracker.AppendError(taskID, "Analysis failed: "+id)
				finish(false)
				return
			}

			tags := mergeTags(record.TagList(), result.Objects)
			if err := o.store.UpdateAnalysis(id, result.Caption, tags); err != nil {
				o.tracker.AppendError(taskID, "Save failed: "+id)
				finish(false)
				return
			}
			finish(true)
		}(id, worker)
	}
	wg.Wait()
	return analyzed
}

// SearchDownload starts a combined search-then-download task.
func (o *Orchestrator) SearchDownload(query string, pages map[string]int, previewOnly bool) string {
	taskID := o.tracker.Create("search_download", 0)
	o.launch(taskID, func(ctx context.Context) {
		candidates := o.searchPhase(ctx, taskID, query, pages)
		records := o.downloadPhase(ctx, taskID, candidates, previewOnly)
		o.tracker.Complete(taskID, map[string]any{
			"found":      len(candidates),
			"downloaded": len(records),
		})
		getLogger().Info("search download finished",
			"task_id", taskID, "query", query, "found", len(candidates), "downloaded", len(records))
	})
	return taskID
}

// SearchDownloadAnalyze starts the full pipeline: search, download, load the
// vision fleet if needed, analyze. When auto-unload is configured the fleet
// is released afterwards.
func (o *Orchestrator) SearchDownloadAnalyze(query string, pages map[string]int, needObjects bool) string {
	taskID := o.tracker.Create("search_download_analyze", 0)
	o.launch(taskID, func(ctx context.Context) {
		candidates := o.searchPhase(ctx, taskID, query, pages)
		records := o.downloadPhase(ctx, taskID, candidates, false)

		analyzed := 0
		if len(records) > 0 {
			workers, err := o.ensureWorkers(ctx, taskID)
			if err != nil {
				o.tracker.AppendError(taskID, err.Error())
			} else {
				o.tracker.SetPhase(taskID, PhaseAnalyzing)
				ids := make([]string, 0, len(records))
				for _, r := range records {
					ids = append(ids, r.ID)
				}
				analyzed = o.analyzeAll(ctx, taskID, ids, needObjects, workers)

				if o.settings.Vision.AutoUnload {
					o.registry.UnloadAll()
				}
			}
		}

		o.tracker.Complete(taskID, map[string]any{
			"found":      len(candidates),
			"downloaded": len(records),
			"analyzed":   analyzed,
		})
		getLogger().Info("search download analyze finished",
			"task_id", taskID, "query", query,
			"found", len(candidates), "downloaded", len(records), "analyzed", analyzed)
	})
	return taskID
}

func (o *Orchestrator) searchPhase(ctx context.Context, taskID, query string, pages map[string]int) []sources.Candidate {
	o.tracker.SetPhase(taskID, PhaseSearching)
	candidates := o.pipe.Search(ctx, query, pages)
	o.tracker.SetTotal(taskID, len(candidates))
	return candidates
}

func (o *Orchestrator) downloadPhase(ctx context.Context, taskID string, candidates []sources.Candidate, previewOnly bool) []*datastore.ImageRecord {
	if len(candidates) == 0 {
		return nil
	}
	o.tracker.SetPhase(taskID, PhaseDownloading)
	reqs := make([]pipeline.DownloadRequest, 0, len(candidates))
	for _, c := range candidates {
		reqs = append(reqs, pipeline.DownloadRequest{
			URL:         c.URL,
			Tags:        c.Tags,
			Source:      c.Source,
			Query:       c.Query,
			Alt:         c.Alt,
			PreviewOnly: previewOnly,
		})
	}
	return o.downloadAll(ctx, taskID, reqs)
}
