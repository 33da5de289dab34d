package pool

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sleepCommand(int) *exec.Cmd {
	return exec.Command("sleep", "60")
}

func TestStartPoolAndStop(t *testing.T) {
	m := NewManager(Options{Command: sleepCommand})

	require.NoError(t, m.StartPool(3))
	assert.Equal(t, 3, m.Size())
	assert.Equal(t, 3, m.Alive())

	require.NoError(t, m.StopPool(5*time.Second))
	assert.Equal(t, 0, m.Size())
	assert.Equal(t, 0, m.Alive())
}

func TestStartPoolTwice(t *testing.T) {
	m := NewManager(Options{Command: sleepCommand})

	require.NoError(t, m.StartPool(1))
	defer func() { _ = m.StopPool(5 * time.Second) }()

	assert.Error(t, m.StartPool(1))
}

func TestStartPoolAllOrNothing(t *testing.T) {
	// The third launch fails; the two already-started workers must be
	// torn down rather than left running silently.
	m := NewManager(Options{Command: func(index int) *exec.Cmd {
		if index == 2 {
			return exec.Command("/nonexistent/definitely-not-a-binary")
		}
		return sleepCommand(index)
	}})

	err := m.StartPool(3)
	require.Error(t, err)
	assert.Equal(t, 0, m.Size())
	assert.Equal(t, 0, m.Alive())
}

func TestStartPoolInvalidSize(t *testing.T) {
	m := NewManager(Options{Command: sleepCommand})
	assert.Error(t, m.StartPool(0))
}

func TestStopPoolIdempotent(t *testing.T) {
	m := NewManager(Options{Command: sleepCommand})

	require.NoError(t, m.StartPool(2))
	require.NoError(t, m.StopPool(5*time.Second))
	require.NoError(t, m.StopPool(5*time.Second))
	require.NoError(t, m.StopPool(5*time.Second))
}

func TestStopPoolNeverStarted(t *testing.T) {
	m := NewManager(Options{Command: sleepCommand})
	require.NoError(t, m.StopPool(time.Second))
}

func TestStopPoolWithExitedWorker(t *testing.T) {
	// A worker that exits on its own must not break shutdown.
	m := NewManager(Options{Command: func(index int) *exec.Cmd {
		if index == 0 {
			return exec.Command("true")
		}
		return sleepCommand(index)
	}})

	require.NoError(t, m.StartPool(2))

	require.Eventually(t, func() bool {
		return m.Alive() == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, m.StopPool(5*time.Second))
	assert.Equal(t, 0, m.Size())
}

func TestStopPoolForceKillsStragglers(t *testing.T) {
	// sleep ignores nothing, but a shell trapping TERM does; the manager
	// must fall back to SIGKILL within the timeout.
	m := NewManager(Options{Command: func(int) *exec.Cmd {
		return exec.Command("sh", "-c", "trap '' TERM; sleep 60")
	}})

	require.NoError(t, m.StartPool(1))

	start := time.Now()
	require.NoError(t, m.StopPool(500*time.Millisecond))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 0, m.Alive())
}
