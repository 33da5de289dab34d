package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"

	"github.com/tacore/tacore/pkg/log"
	"github.com/tacore/tacore/pkg/protocol"
)

// Socket is the subset of zmq4.Socket the broker uses. Narrowed so the
// routing logic can be exercised against in-memory fakes.
type Socket interface {
	Listen(endpoint string) error
	Send(msg zmq4.Msg) error
	Recv() (zmq4.Msg, error)
	Close() error
}

// Options configures a Broker.
type Options struct {
	FrontendEndpoint string
	BackendEndpoint  string

	// HeartbeatInterval is how often workers are expected to signal
	// liveness; LivenessFactor missed intervals mark a worker DEAD.
	HeartbeatInterval time.Duration
	LivenessFactor    int
}

// DefaultHeartbeatInterval matches the worker runtime default.
const DefaultHeartbeatInterval = 2500 * time.Millisecond

// DefaultLivenessFactor is the number of missed heartbeats tolerated.
const DefaultLivenessFactor = 3

// Broker routes client requests to workers and replies back to clients.
// All routing state is owned by the single run loop; the only values other
// goroutines may read are the atomic counters.
type Broker struct {
	opts Options

	frontend Socket
	backend  Socket
	ctx      context.Context
	cancel   context.CancelFunc

	state *state

	// Counters shared read-only with the health monitor.
	workersAlive   atomic.Int64
	queueDepth     atomic.Int64
	requestsServed atomic.Uint64
	startTime      time.Time

	mu      sync.Mutex
	running bool

	clientCh chan zmq4.Msg
	workerCh chan zmq4.Msg
	stopCh   chan struct{}
	doneCh   chan struct{}

	logger zerolog.Logger
}

// New creates a broker. Sockets are created and bound by Start.
func New(opts Options) *Broker {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.LivenessFactor <= 0 {
		opts.LivenessFactor = DefaultLivenessFactor
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		state:    newState(),
		clientCh: make(chan zmq4.Msg, 1000),
		workerCh: make(chan zmq4.Msg, 1000),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   log.WithComponent("broker"),
	}
}

// Start binds both endpoints and launches the routing loop. A bind failure
// on either endpoint is fatal: nothing is left running and the error
// propagates to the caller.
func (b *Broker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("broker already running")
	}

	if b.frontend == nil {
		b.frontend = zmq4.NewRouter(b.ctx)
	}
	if b.backend == nil {
		b.backend = zmq4.NewRouter(b.ctx)
	}

	if err := b.frontend.Listen(b.opts.FrontendEndpoint); err != nil {
		return fmt.Errorf("failed to bind frontend %s: %w", b.opts.FrontendEndpoint, err)
	}
	if err := b.backend.Listen(b.opts.BackendEndpoint); err != nil {
		_ = b.frontend.Close()
		return fmt.Errorf("failed to bind backend %s: %w", b.opts.BackendEndpoint, err)
	}

	b.startTime = time.Now()
	b.running = true

	go b.pump(b.frontend, b.clientCh)
	go b.pump(b.backend, b.workerCh)
	go b.run()

	return nil
}

// Stop shuts the routing loop down and closes both sockets. Safe to call
// more than once and safe to call on a broker that never started.
func (b *Broker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	b.running = false

	close(b.stopCh)
	<-b.doneCh

	b.cancel()
	_ = b.frontend.Close()
	_ = b.backend.Close()
}

// pump moves received messages from a socket into a channel so the run loop
// can multiplex both endpoints through one select.
func (b *Broker) pump(sock Socket, ch chan<- zmq4.Msg) {
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		msg, err := sock.Recv()
		if err != nil {
			select {
			case <-b.stopCh:
				return
			default:
			}
			// A malformed or interrupted frame is dropped; the loop
			// keeps serving.
			b.logger.Warn().Err(err).Msg("receive failed, frame dropped")
			continue
		}

		select {
		case ch <- msg:
		case <-b.stopCh:
			return
		}
	}
}

// run is the single routing loop. No routing decision happens outside it,
// so no two decisions can race on the same WorkerHandle or PendingRequest.
func (b *Broker) run() {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-b.clientCh:
			b.handleClientFrames(msg.Frames)
		case msg := <-b.workerCh:
			b.handleWorkerFrames(msg.Frames)
		case <-ticker.C:
			b.expireWorkers(time.Now())
			b.heartbeatWorkers()
		case <-b.stopCh:
			b.shutdownWorkers()
			return
		}
	}
}

// shutdownWorkers tells every live worker to go away. Best effort: the pool
// manager terminates the processes regardless.
func (b *Broker) shutdownWorkers() {
	for _, h := range b.state.workers {
		if h.State == WorkerStateDead {
			continue
		}
		_ = b.backend.Send(zmq4.NewMsgFrom(protocol.DisconnectFrames(h.Identity)...))
	}
}

// LiveWorkers reports the number of workers not DEAD. Safe for concurrent
// use; this is the health monitor's view of the pool.
func (b *Broker) LiveWorkers() int {
	return int(b.workersAlive.Load())
}

// QueueDepth reports the number of requests waiting for a worker.
func (b *Broker) QueueDepth() int {
	return int(b.queueDepth.Load())
}

// RequestsServed reports the number of replies forwarded to clients.
func (b *Broker) RequestsServed() uint64 {
	return b.requestsServed.Load()
}

// Uptime reports how long the broker has been running.
func (b *Broker) Uptime() time.Duration {
	if b.startTime.IsZero() {
		return 0
	}
	return time.Since(b.startTime)
}

func (b *Broker) expiry(now time.Time) time.Time {
	return now.Add(b.opts.HeartbeatInterval * time.Duration(b.opts.LivenessFactor))
}
