package health

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStatus struct {
	workers int
	depth   int
	uptime  time.Duration
}

func (s stubStatus) LiveWorkers() int      { return s.workers }
func (s stubStatus) QueueDepth() int       { return s.depth }
func (s stubStatus) Uptime() time.Duration { return s.uptime }

func TestHandleSystemHealth(t *testing.T) {
	m := New("inproc://health", stubStatus{workers: 3, depth: 7, uptime: 90 * time.Second})

	before := float64(time.Now().UnixNano()) / float64(time.Second)
	out := m.handle([]byte(`{"method":"system.health","id":42}`))

	var resp Response
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, 42, resp.ID)
	assert.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "healthy", resp.Result.Status)
	assert.Equal(t, 3, resp.Result.Workers)
	assert.Equal(t, 7, resp.Result.QueueDepth)
	assert.InDelta(t, 90.0, resp.Result.Uptime, 0.1)
	assert.GreaterOrEqual(t, resp.Result.Timestamp, before)
}

func TestHandleUnknownMethod(t *testing.T) {
	m := New("inproc://health", stubStatus{})

	out := m.handle([]byte(`{"method":"system.reboot","id":7}`))

	var resp Response
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, 7, resp.ID)
	assert.Nil(t, resp.Result)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
	assert.Equal(t, "Method not found", resp.Error.Message)
}

func TestHandleMalformedRequest(t *testing.T) {
	m := New("inproc://health", stubStatus{})

	out := m.handle([]byte(`not json`))

	var resp Response
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
}

// fakeRepSocket feeds queued requests and records replies.
type fakeRepSocket struct {
	mu       sync.Mutex
	sent     []zmq4.Msg
	recvCh   chan zmq4.Msg
	closedCh chan struct{}
}

func newFakeRepSocket() *fakeRepSocket {
	return &fakeRepSocket{
		recvCh:   make(chan zmq4.Msg, 10),
		closedCh: make(chan struct{}),
	}
}

func (f *fakeRepSocket) Listen(string) error { return nil }

func (f *fakeRepSocket) Send(msg zmq4.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeRepSocket) Recv() (zmq4.Msg, error) {
	select {
	case msg := <-f.recvCh:
		return msg, nil
	case <-f.closedCh:
		return zmq4.Msg{}, fmt.Errorf("socket closed")
	}
}

func (f *fakeRepSocket) Close() error {
	select {
	case <-f.closedCh:
	default:
		close(f.closedCh)
	}
	return nil
}

func (f *fakeRepSocket) replies() []zmq4.Msg {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]zmq4.Msg, len(f.sent))
	copy(out, f.sent)
	return out
}

func TestMonitorServeLoop(t *testing.T) {
	m := New("inproc://health", stubStatus{workers: 2})
	sock := newFakeRepSocket()
	m.sock = sock

	require.NoError(t, m.Start())

	sock.recvCh <- zmq4.NewMsgString(`{"method":"system.health","id":1}`)

	require.Eventually(t, func() bool {
		return len(sock.replies()) == 1
	}, 2*time.Second, 10*time.Millisecond, "health must answer promptly")

	var resp Response
	require.NoError(t, json.Unmarshal(sock.replies()[0].Bytes(), &resp))
	assert.Equal(t, 1, resp.ID)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 2, resp.Result.Workers)

	m.Stop()
}

// lockstepRepSocket enforces the REP contract: receiving a second request
// before the previous reply was sent misroutes that reply, so the fake
// flags any Recv that overlaps an unanswered request.
type lockstepRepSocket struct {
	mu          sync.Mutex
	outstanding int
	overlapped  bool
	sent        []zmq4.Msg
	recvCh      chan zmq4.Msg
	closedCh    chan struct{}
}

func newLockstepRepSocket() *lockstepRepSocket {
	return &lockstepRepSocket{
		recvCh:   make(chan zmq4.Msg, 10),
		closedCh: make(chan struct{}),
	}
}

func (f *lockstepRepSocket) Listen(string) error { return nil }

func (f *lockstepRepSocket) Send(msg zmq4.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outstanding--
	f.sent = append(f.sent, msg)
	return nil
}

func (f *lockstepRepSocket) Recv() (zmq4.Msg, error) {
	f.mu.Lock()
	f.outstanding++
	if f.outstanding > 1 {
		f.overlapped = true
	}
	f.mu.Unlock()

	select {
	case msg := <-f.recvCh:
		return msg, nil
	case <-f.closedCh:
		return zmq4.Msg{}, fmt.Errorf("socket closed")
	}
}

func (f *lockstepRepSocket) Close() error {
	select {
	case <-f.closedCh:
	default:
		close(f.closedCh)
	}
	return nil
}

func (f *lockstepRepSocket) replies() []zmq4.Msg {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]zmq4.Msg, len(f.sent))
	copy(out, f.sent)
	return out
}

func TestMonitorRepliesBeforeNextReceive(t *testing.T) {
	m := New("inproc://health", stubStatus{workers: 1})
	sock := newLockstepRepSocket()
	m.sock = sock

	require.NoError(t, m.Start())
	defer m.Stop()

	// Two probes hit the endpoint back to back, as when an external
	// liveness check races the health subcommand.
	sock.recvCh <- zmq4.NewMsgString(`{"method":"system.health","id":1}`)
	sock.recvCh <- zmq4.NewMsgString(`{"method":"system.health","id":2}`)

	require.Eventually(t, func() bool {
		return len(sock.replies()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	sock.mu.Lock()
	overlapped := sock.overlapped
	sock.mu.Unlock()
	assert.False(t, overlapped, "second request received before first reply was sent")

	// Replies come back in request order, each under its own id.
	for i, want := range []int{1, 2} {
		var resp Response
		require.NoError(t, json.Unmarshal(sock.replies()[i].Bytes(), &resp))
		assert.Equal(t, want, resp.ID)
		require.NotNil(t, resp.Result)
	}
}

func TestMonitorStopIdempotent(t *testing.T) {
	m := New("inproc://health", stubStatus{})
	m.sock = newFakeRepSocket()
	require.NoError(t, m.Start())

	done := make(chan struct{})
	go func() {
		m.Stop()
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestMonitorStopWithoutStart(t *testing.T) {
	m := New("inproc://health", stubStatus{})
	m.Stop() // must not crash or hang
}

func TestMonitorDoubleStart(t *testing.T) {
	m := New("inproc://health", stubStatus{})
	m.sock = newFakeRepSocket()
	require.NoError(t, m.Start())
	assert.Error(t, m.Start())
	m.Stop()
}
