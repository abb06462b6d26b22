// Package vision manages external inference worker processes. Each Manager
// owns one worker subprocess bound to one device and speaks the line-JSON
// protocol with it; a Registry tracks the fleet. Workers are not restarted
// automatically, a dead worker surfaces as errors until reloaded.
package vision

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pictora/pictora-go/internal/conf"
	"github.com/pictora/pictora-go/internal/errors"
	"github.com/pictora/pictora-go/internal/logging"
)

var (
	visionLogger     *slog.Logger
	visionLoggerOnce sync.Once
)

func getLogger() *slog.Logger {
	visionLoggerOnce.Do(func() {
		visionLogger = logging.ForService("vision")
		if visionLogger == nil {
			visionLogger = slog.Default().With("service", "vision")
		}
	})
	return visionLogger
}

// Errors returned by manager operations
var (
	ErrNotLoaded       = errors.NewStd("vision worker is not loaded")
	ErrWorkerExited    = errors.NewStd("vision worker exited")
	ErrLoadTimeout     = errors.NewStd("timed out waiting for vision worker to load")
	ErrAnalysisTimeout = errors.NewStd("timed out waiting for analysis result")
)

// Stdout lines can carry long captions and object lists.
const maxLineBytes = 1 << 20

// Manager owns one vision worker process bound to one device.
type Manager struct {
	settings *conf.VisionSettings
	device   string

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan *workerResponse
	nextID    atomic.Int64

	loaded   atomic.Bool
	loadedCh chan struct{}
	loadErr  error
	done     chan struct{}
	doneOnce sync.Once

	errHandlerMu sync.Mutex
	errHandler   func(message string)
}

// NewManager creates a manager for one device. Start must be called before
// any analysis.
func NewManager(settings *conf.VisionSettings, device string) *Manager {
	return &Manager{
		settings: settings,
		device:   device,
		pending:  make(map[int64]chan *workerResponse),
		loadedCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Device returns the device this worker is bound to, e.g. cpu or cuda:0.
func (m *Manager) Device() string { return m.device }

// SetErrorHandler registers a callback for worker errors that cannot be
// correlated to a pending request. Without a handler they are only logged.
func (m *Manager) SetErrorHandler(fn func(message string)) {
	m.errHandlerMu.Lock()
	m.errHandler = fn
	m.errHandlerMu.Unlock()
}

func (m *Manager) reportError(message string) {
	m.errHandlerMu.Lock()
	fn := m.errHandler
	m.errHandlerMu.Unlock()
	if fn != nil {
		fn(message)
	}
}

// IsLoaded reports whether the worker has confirmed model load.
func (m *Manager) IsLoaded() bool { return m.loaded.Load() }

// Start spawns the worker process and sends the load command. It returns as
// soon as the process is running; use WaitLoaded to await model readiness.
func (m *Manager) Start(ctx context.Context) error {
	if len(m.settings.WorkerCommand) == 0 {
		return errors.Newf("no worker command configured").
			Component("vision").
			Category(errors.CategoryConfiguration).
			Build()
	}

	cmd := exec.CommandContext(ctx, m.settings.WorkerCommand[0], m.settings.WorkerCommand[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return startError(err, m.device)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return startError(err, m.device)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return startError(err, m.device)
	}

	if err := cmd.Start(); err != nil {
		return startError(err, m.device)
	}
	m.cmd = cmd
	m.stdin = stdin

	getLogger().Info("vision worker started", "device", m.device, "pid", cmd.Process.Pid)

	go m.readLoop(stdout)
	go m.logStderr(stderr)
	go func() {
		err := cmd.Wait()
		if err != nil {
			getLogger().Warn("vision worker exited", "device", m.device, "error", err)
		} else {
			getLogger().Debug("vision worker exited", "device", m.device)
		}
		m.markDead()
	}()

	return m.send(&workerRequest{Command: cmdLoad, Device: m.device})
}

// WaitLoaded blocks until the worker confirms model load, the worker dies
// or the timeout expires.
func (m *Manager) WaitLoaded(timeout time.Duration) error {
	select {
	case <-m.loadedCh:
		if m.loadErr != nil {
			return m.loadErr
		}
		return nil
	case <-m.done:
		return ErrWorkerExited
	case <-time.After(timeout):
		return ErrLoadTimeout
	}
}

// Analyze runs one image through the worker and returns the result. Requests
// are correlated by id, so concurrent callers may interleave freely.
func (m *Manager) Analyze(ctx context.Context, imagePath string, needObjects bool) (*AnalysisResult, error) {
	if !m.loaded.Load() {
		return nil, ErrNotLoaded
	}

	id := m.nextID.Add(1)
	ch := make(chan *workerResponse, 1)

	m.pendingMu.Lock()
	m.pending[id] = ch
	m.pendingMu.Unlock()
	defer func() {
		m.pendingMu.Lock()
		delete(m.pending, id)
		m.pendingMu.Unlock()
	}()

	err := m.send(&workerRequest{
		Command:     cmdFullAnalysis,
		ImagePath:   imagePath,
		RequestID:   id,
		NeedObjects: needObjects,
	})
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(m.settings.AnalysisTimeout) * time.Second
	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, errors.Newf("worker analysis failed: %s", resp.Error).
				Component("vision").
				Category(errors.CategoryWorker).
				Context("device", m.device).
				Context("image_path", imagePath).
				Build()
		}
		if resp.Analysis == nil {
			return nil, errors.Newf("worker response carried no analysis").
				Component("vision").
				Category(errors.CategoryWorkerProtocol).
				Context("device", m.device).
				Build()
		}
		return resp.Analysis, nil
	case <-m.done:
		return nil, ErrWorkerExited
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, ErrAnalysisTimeout
	}
}

// Unload asks the worker to exit and waits briefly for the process to stop,
// killing it if it lingers. Pending analyses fail with ErrWorkerExited.
func (m *Manager) Unload() error {
	if m.cmd == nil {
		return nil
	}

	if err := m.send(&workerRequest{Command: cmdExit}); err != nil {
		getLogger().Debug("exit command not delivered, killing worker",
			"device", m.device, "error", err)
	}

	select {
	case <-m.done:
	case <-time.After(5 * time.Second):
		getLogger().Warn("vision worker did not exit, killing", "device", m.device)
		if m.cmd.Process != nil {
			_ = m.cmd.Process.Kill()
		}
		select {
		case <-m.done:
		case <-time.After(2 * time.Second):
		}
	}

	getLogger().Info("vision worker unloaded", "device", m.device)
	return nil
}

// send writes one request line to the worker's stdin.
func (m *Manager) send(req *workerRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errors.New(err).
			Component("vision").
			Category(errors.CategoryWorkerProtocol).
			Build()
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	select {
	case <-m.done:
		return ErrWorkerExited
	default:
	}

	if _, err := m.stdin.Write(append(payload, '\n')); err != nil {
		return errors.New(err).
			Component("vision").
			Category(errors.CategoryWorker).
			Context("device", m.device).
			Build()
	}
	return nil
}

// readLoop consumes the worker's stdout line by line and dispatches
// responses. Malformed lines are logged and skipped.
func (m *Manager) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp workerResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			getLogger().Warn("unparseable worker output",
				"device", m.device, "line", string(line), "error", err)
			continue
		}
		m.dispatch(&resp)
	}
	m.markDead()
}

// dispatch routes one response line: load confirmation, correlated result
// or an uncorrelated error.
func (m *Manager) dispatch(resp *workerResponse) {
	if resp.Status == statusLoaded {
		m.loaded.Store(true)
		m.closeLoaded(nil)
		getLogger().Info("vision model loaded", "device", m.device)
		return
	}

	if resp.RequestID != 0 {
		m.pendingMu.Lock()
		ch, ok := m.pending[resp.RequestID]
		m.pendingMu.Unlock()
		if ok {
			ch <- resp
			return
		}
		getLogger().Debug("response for unknown request",
			"device", m.device, "request_id", resp.RequestID)
		if resp.Error != "" {
			m.reportError(resp.Error)
		}
		return
	}

	if resp.Error != "" {
		getLogger().Error("vision worker error", "device", m.device, "error", resp.Error)
		m.reportError(resp.Error)
		if !m.loaded.Load() {
			m.closeLoaded(fmt.Errorf("worker load failed: %s", resp.Error))
		}
	}
}

func (m *Manager) closeLoaded(err error) {
	select {
	case <-m.loadedCh:
	default:
		m.loadErr = err
		close(m.loadedCh)
	}
}

// markDead records that the worker process is gone and fails the pending
// requests so no caller waits on a dead worker.
func (m *Manager) markDead() {
	m.doneOnce.Do(func() {
		m.loaded.Store(false)
		close(m.done)

		m.pendingMu.Lock()
		for id, ch := range m.pending {
			ch <- &workerResponse{Error: ErrWorkerExited.Error(), RequestID: id}
		}
		m.pending = make(map[int64]chan *workerResponse)
		m.pendingMu.Unlock()
	})
}

func (m *Manager) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		getLogger().Debug("worker stderr", "device", m.device, "line", scanner.Text())
	}
}

func startError(err error, device string) error {
	return errors.New(err).
		Component("vision").
		Category(errors.CategoryWorker).
		Context("device", device).
		Build()
}
