// registry.go: tracks the fleet of vision worker managers.
package vision

import (
	"sync"
)

// Registry holds the live vision workers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	managers []*Manager
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a manager with the fleet.
func (r *Registry) Add(m *Manager) {
	r.mu.Lock()
	r.managers = append(r.managers, m)
	r.mu.Unlock()
}

// Managers returns a snapshot of the fleet.
func (r *Registry) Managers() []*Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Manager, len(r.managers))
	copy(out, r.managers)
	return out
}

// Count returns the number of registered workers, loaded or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.managers)
}

// LoadedCount returns the number of workers that confirmed model load.
func (r *Registry) LoadedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, m := range r.managers {
		if m.IsLoaded() {
			count++
		}
	}
	return count
}

// Loaded returns the workers that confirmed model load.
func (r *Registry) Loaded() []*Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Manager
	for _, m := range r.managers {
		if m.IsLoaded() {
			out = append(out, m)
		}
	}
	return out
}

// Devices lists the devices of all registered workers.
func (r *Registry) Devices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	devices := make([]string, 0, len(r.managers))
	for _, m := range r.managers {
		devices = append(devices, m.Device())
	}
	return devices
}

// UnloadAll stops every worker concurrently and empties the registry.
func (r *Registry) UnloadAll() {
	r.mu.Lock()
	managers := r.managers
	r.managers = nil
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range managers {
		wg.Add(1)
		go func(m *Manager) {
			defer wg.Done()
			if err := m.Unload(); err != nil {
				getLogger().Warn("worker unload failed", "device", m.Device(), "error", err)
			}
		}(m)
	}
	wg.Wait()

	if len(managers) > 0 {
		getLogger().Info("all vision workers unloaded", "count", len(managers))
	}
}
