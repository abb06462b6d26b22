package tasks

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	id := tracker.Create("download_batch", 10)

	task, ok := tracker.Get(id)
	require.True(t, ok)
	assert.Equal(t, "download_batch", task.Type)
	assert.Equal(t, StatusRunning, task.Status)
	assert.Equal(t, 10, task.Total)
	assert.Equal(t, 0, task.Completed)
	assert.Empty(t, task.Errors)
	assert.False(t, task.CreatedAt.IsZero())

	_, ok = tracker.Get("no-such-task")
	assert.False(t, ok)
}

func TestBatchCompletionSemantics(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	id := tracker.Create("download_batch", 10)

	completed := 0
	for i := range 10 {
		if i%3 == 0 && i > 0 {
			tracker.AppendError(id, fmt.Sprintf("item %d: connection reset", i))
			continue
		}
		completed++
		tracker.Progress(id, completed)
	}
	tracker.Complete(id, map[string]any{"downloaded": completed})

	task, ok := tracker.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, task.Status, "partial failure still completes")
	assert.Equal(t, 7, task.Completed)
	assert.Len(t, task.Errors, 3)
	assert.Equal(t, 7, task.Result["downloaded"])
}

func TestTerminalTasksAreImmutable(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	id := tracker.Create("vision_analyze", 5)
	tracker.Progress(id, 5)
	tracker.Complete(id, nil)

	tracker.Progress(id, 99)
	tracker.AppendError(id, "late error")
	tracker.SetPhase(id, "late phase")
	tracker.Fail(id, "cannot fail a completed task")

	task, _ := tracker.Get(id)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, 5, task.Completed)
	assert.Empty(t, task.Errors)
	assert.Empty(t, task.Phase)
}

func TestPhaseTransitions(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	id := tracker.Create("search_download_analyze", 0)

	for _, phase := range []string{"searching", "downloading", "loading_vision", "analyzing"} {
		tracker.SetPhase(id, phase)
		task, _ := tracker.Get(id)
		assert.Equal(t, phase, task.Phase)
	}

	tracker.Complete(id, nil)
	task, _ := tracker.Get(id)
	assert.Empty(t, task.Phase, "terminal task carries no phase")
}

func TestFailAppendsMessage(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	id := tracker.Create("search_download", 0)
	tracker.Fail(id, "no results")

	task, _ := tracker.Get(id)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, []string{"no results"}, task.Errors)
}

func TestSnapshotIsolation(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	id := tracker.Create("download_batch", 2)
	tracker.AppendError(id, "original")

	task, _ := tracker.Get(id)
	task.Errors[0] = "mutated"
	task.Result = map[string]any{"x": 1}

	fresh, _ := tracker.Get(id)
	assert.Equal(t, []string{"original"}, fresh.Errors)
	assert.Nil(t, fresh.Result)
}

func TestConcurrentMutation(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	id := tracker.Create("download_batch", 100)

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tracker.Progress(id, n)
			tracker.AppendError(id, fmt.Sprintf("err %d", n))
		}(i)
	}
	wg.Wait()

	task, _ := tracker.Get(id)
	assert.Len(t, task.Errors, 100)

	running, completed, failed := tracker.Counts()
	assert.Equal(t, 1, running)
	assert.Zero(t, completed)
	assert.Zero(t, failed)
}
