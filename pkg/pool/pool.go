package pool

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tacore/tacore/pkg/log"
)

// Options configures the pool manager.
type Options struct {
	// Binary is the executable to spawn. Defaults to the current binary,
	// which re-executes itself with the worker subcommand.
	Binary string

	// BackendEndpoint is the broker address handed to each worker.
	BackendEndpoint string

	// Command overrides process construction. Used by tests; when nil the
	// default "<binary> worker --index N --endpoint E" command is built.
	Command func(index int) *exec.Cmd
}

// workerProcess pairs a pool slot with its OS process. The process handle
// is owned exclusively by the Manager.
type workerProcess struct {
	index int
	cmd   *exec.Cmd
	done  chan struct{}
}

func (p *workerProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Manager owns the fixed-size set of worker processes for the broker's
// lifetime. It only starts and stops processes; it never touches the
// dispatch queue.
type Manager struct {
	opts   Options
	logger zerolog.Logger

	mu    sync.Mutex
	procs []*workerProcess
}

// NewManager creates a pool manager.
func NewManager(opts Options) *Manager {
	return &Manager{
		opts:   opts,
		logger: log.WithComponent("pool"),
	}
}

// StartPool launches exactly size worker processes. Either the pool reaches
// full size or the error is returned with every already-started worker torn
// down; a partially-started pool is never left running.
func (m *Manager) StartPool(size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.procs) > 0 {
		return fmt.Errorf("pool already started with %d workers", len(m.procs))
	}
	if size < 1 {
		return fmt.Errorf("pool size must be at least 1, got %d", size)
	}

	for i := 0; i < size; i++ {
		proc, err := m.launch(i)
		if err != nil {
			m.teardown()
			return fmt.Errorf("failed to launch worker %d: %w", i, err)
		}
		m.procs = append(m.procs, proc)
		m.logger.Info().Int("worker_index", i).Int("pid", proc.cmd.Process.Pid).Msg("worker started")
	}

	return nil
}

func (m *Manager) launch(index int) (*workerProcess, error) {
	var cmd *exec.Cmd
	if m.opts.Command != nil {
		cmd = m.opts.Command(index)
	} else {
		binary := m.opts.Binary
		if binary == "" {
			self, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("cannot resolve own binary: %w", err)
			}
			binary = self
		}
		cmd = exec.Command(binary, "worker",
			"--index", strconv.Itoa(index),
			"--endpoint", m.opts.BackendEndpoint,
		)
		cmd.Env = os.Environ()
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	proc := &workerProcess{index: index, cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		close(proc.done)
		// Dead workers are not auto-replenished; the drop shows up in
		// the live-worker count instead.
		m.logger.Warn().Int("worker_index", index).Err(err).Msg("worker process exited")
	}()

	return proc, nil
}

// teardown force-kills every started process. Used when StartPool fails
// partway through.
func (m *Manager) teardown() {
	for _, proc := range m.procs {
		if !proc.exited() {
			_ = proc.cmd.Process.Kill()
			<-proc.done
		}
	}
	m.procs = nil
}

// StopPool requests graceful termination of every worker and force-kills
// any that have not exited within timeout. Idempotent: stopping an empty or
// already-stopped pool is a no-op, and workers that exited on their own are
// skipped.
func (m *Manager) StopPool(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.procs) == 0 {
		return nil
	}

	for _, proc := range m.procs {
		if proc.exited() {
			continue
		}
		if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			m.logger.Warn().Int("worker_index", proc.index).Err(err).Msg("SIGTERM failed")
		}
	}

	deadline := time.Now().Add(timeout)
	for _, proc := range m.procs {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		select {
		case <-proc.done:
		case <-time.After(remaining):
			// A worker killed mid-computation loses its current
			// request; there is no checkpointing of in-flight work.
			m.logger.Warn().Int("worker_index", proc.index).Msg("worker did not exit in time, killing")
			_ = proc.cmd.Process.Kill()
			<-proc.done
		}
	}

	m.logger.Info().Int("workers", len(m.procs)).Msg("pool stopped")
	m.procs = nil
	return nil
}

// Alive reports how many pool processes are still running.
func (m *Manager) Alive() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	alive := 0
	for _, proc := range m.procs {
		if !proc.exited() {
			alive++
		}
	}
	return alive
}

// Size reports how many processes the pool currently tracks.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.procs)
}
