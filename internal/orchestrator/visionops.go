// visionops.go: vision fleet lifecycle as tracked operations.
package orchestrator

import (
	"context"
	"time"

	"github.com/pictora/pictora-go/internal/errors"
	"github.com/pictora/pictora-go/internal/hardware"
	"github.com/pictora/pictora-go/internal/planner"
	"github.com/pictora/pictora-go/internal/vision"
)

// PlanVision computes a load plan for the given strategy without loading
// anything. An empty strategy uses the configured one.
func (o *Orchestrator) PlanVision(ctx context.Context, strategy string) ([]planner.Entry, hardware.Inventory, error) {
	if strategy == "" {
		strategy = o.settings.Vision.Strategy
	}

	inv, err := hardware.Snapshot(ctx)
	if err != nil {
		return nil, inv, err
	}

	limits := planner.LimitsFromConfig(&o.settings.Vision)
	return planner.Plan(planner.Strategy(strategy), inv, limits), inv, nil
}

// AutoLoadVision starts a background task loading the vision fleet
// according to the planner. Returns the task id.
func (o *Orchestrator) AutoLoadVision(strategy string) string {
	taskID := o.tracker.Create("load_vision", 0)
	o.launch(taskID, func(ctx context.Context) {
		o.tracker.SetPhase(taskID, PhaseLoadingVision)

		plan, _, err := o.PlanVision(ctx, strategy)
		if err != nil {
			o.tracker.Fail(taskID, err.Error())
			return
		}
		if len(plan) == 0 {
			o.tracker.Fail(taskID, "no usable device for vision workers")
			return
		}

		o.tracker.SetTotal(taskID, planner.TotalInstances(plan))
		loaded := o.loadPlan(ctx, taskID, plan)

		devices := make([]string, 0, len(plan))
		for _, entry := range plan {
			devices = append(devices, entry.Device)
		}
		o.tracker.Complete(taskID, map[string]any{
			"loaded":  loaded,
			"devices": devices,
		})
	})
	return taskID
}

// loadPlan spawns and awaits the workers of a plan, registering the ones
// that confirm load. Returns the number loaded.
func (o *Orchestrator) loadPlan(ctx context.Context, taskID string, plan []planner.Entry) int {
	o.loadMu.Lock()
	defer o.loadMu.Unlock()

	loadTimeout := time.Duration(o.settings.Vision.LoadTimeout) * time.Second
	loaded := 0

	for _, entry := range plan {
		for i := 0; i < entry.Count; i++ {
			manager := vision.NewManager(&o.settings.Vision, entry.Device)

			if err := manager.Start(ctx); err != nil {
				getLogger().Error("vision worker spawn failed", "device", entry.Device, "error", err)
				o.tracker.AppendError(taskID, "Spawn failed: "+entry.Device)
				continue
			}
			if err := manager.WaitLoaded(loadTimeout); err != nil {
				getLogger().Error("vision worker load failed", "device", entry.Device, "error", err)
				o.tracker.AppendError(taskID, "Load failed: "+entry.Device)
				_ = manager.Unload()
				continue
			}

			o.registry.Add(manager)
			loaded++
			o.tracker.Progress(taskID, loaded)
			getLogger().Info("vision worker ready", "device", entry.Device, "loaded", loaded)
		}
	}
	return loaded
}

// UnloadAllVision starts a background task stopping every vision worker.
func (o *Orchestrator) UnloadAllVision() string {
	taskID := o.tracker.Create("unload_vision", o.registry.Count())
	o.launch(taskID, func(ctx context.Context) {
		count := o.registry.Count()
		o.registry.UnloadAll()
		o.tracker.Complete(taskID, map[string]any{"unloaded": count})
	})
	return taskID
}

// ensureWorkers returns the loaded fleet, auto-loading it first when
// configured. Fails when no worker ends up available.
func (o *Orchestrator) ensureWorkers(ctx context.Context, taskID string) ([]*vision.Manager, error) {
	if workers := o.registry.Loaded(); len(workers) > 0 {
		return workers, nil
	}

	if !o.settings.Vision.AutoLoad {
		return nil, errors.Newf("no vision workers loaded").
			Component("orchestrator").
			Category(errors.CategoryState).
			Build()
	}

	o.tracker.SetPhase(taskID, PhaseLoadingVision)
	plan, _, err := o.PlanVision(ctx, "")
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return nil, errors.Newf("no usable device for vision workers").
			Component("orchestrator").
			Category(errors.CategoryPlanner).
			Build()
	}

	o.loadPlan(ctx, taskID, plan)

	workers := o.registry.Loaded()
	if len(workers) == 0 {
		return nil, errors.Newf("vision workers failed to load").
			Component("orchestrator").
			Category(errors.CategoryWorker).
			Build()
	}
	return workers, nil
}
