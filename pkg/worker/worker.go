package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"

	"github.com/tacore/tacore/pkg/log"
	"github.com/tacore/tacore/pkg/protocol"
)

// socket is the subset of zmq4.Socket the runtime uses.
type socket interface {
	Send(msg zmq4.Msg) error
	Recv() (zmq4.Msg, error)
	Close() error
}

// Handler is the computation contract a worker process fulfills: one opaque
// request in, one opaque reply out. This is the only interface the
// surrounding platform's strategy code consumes from the broker.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// EchoHandler replies with the request payload unchanged. Placeholder used
// when no computation is wired in.
func EchoHandler(_ context.Context, payload []byte) ([]byte, error) {
	return payload, nil
}

// Options configures a worker runtime.
type Options struct {
	// Index is the pool slot, stable for the process lifetime.
	Index int

	// Endpoint is the broker's worker-facing address.
	Endpoint string

	Handler Handler

	HeartbeatInterval time.Duration
	LivenessFactor    int
	ReconnectInterval time.Duration
}

// DefaultHeartbeatInterval matches the broker's liveness settings.
const DefaultHeartbeatInterval = 2500 * time.Millisecond

// DefaultLivenessFactor is the number of silent intervals tolerated before
// the worker assumes the broker is gone and reconnects.
const DefaultLivenessFactor = 3

// DefaultReconnectInterval is the pause between connection attempts.
const DefaultReconnectInterval = 2500 * time.Millisecond

// Worker pulls one request at a time from the broker's backend endpoint,
// runs the handler, and sends exactly one reply per request. It reconnects
// with a fresh connection identity whenever the broker goes silent.
type Worker struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool

	stopCh chan struct{}
	doneCh chan struct{}

	logger zerolog.Logger
}

// New creates a worker runtime.
func New(opts Options) (*Worker, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("worker endpoint cannot be empty")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("worker handler cannot be nil")
	}
	if opts.Index < 0 {
		return nil, fmt.Errorf("worker index must be non-negative, got %d", opts.Index)
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.LivenessFactor <= 0 {
		opts.LivenessFactor = DefaultLivenessFactor
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: log.WithWorkerIndex(opts.Index),
	}, nil
}

// Start launches the connect/serve loop.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("worker already running")
	}
	w.running = true

	go w.run()
	return nil
}

// Stop shuts the worker down. Idempotent.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false

	close(w.stopCh)
	w.cancel()
	<-w.doneCh
}

// Wait blocks until the worker loop has exited.
func (w *Worker) Wait() {
	<-w.doneCh
}

func (w *Worker) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		sock, err := w.connect()
		if err != nil {
			w.logger.Warn().Err(err).Msg("connect failed, retrying")
			select {
			case <-time.After(w.opts.ReconnectInterval):
			case <-w.stopCh:
				return
			}
			continue
		}

		w.serve(sock)
		_ = sock.Close()
	}
}

// connect dials the broker with a fresh connection identity and announces
// readiness. The fresh identity makes every reconnect distinguishable on
// the broker side.
func (w *Worker) connect() (socket, error) {
	identity := protocol.NewWorkerIdentity(w.opts.Index)
	sock := zmq4.NewDealer(w.ctx, zmq4.WithID(zmq4.SocketIdentity(identity)))

	if err := sock.Dial(w.opts.Endpoint); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("dial %s: %w", w.opts.Endpoint, err)
	}

	if err := sock.Send(zmq4.NewMsgFrom(protocol.ReadyFrames(w.opts.Index)...)); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}

	w.logger.Info().Str("identity", identity).Msg("connected to broker")
	return sock, nil
}

// reply pairs a finished computation with its routing frames.
type reply struct {
	clientID      []byte
	correlationID string
	payload       []byte
}

// serve processes broker messages until the connection dies, the broker
// goes silent, or the worker is stopped. The handler runs off-loop so
// heartbeats keep flowing during a long computation.
func (w *Worker) serve(sock socket) {
	msgCh := make(chan zmq4.Msg, 1)
	errCh := make(chan error, 1)
	go func() {
		for {
			msg, err := sock.Recv()
			if err != nil {
				select {
				case errCh <- err:
				case <-w.stopCh:
				}
				return
			}
			select {
			case msgCh <- msg:
			case <-w.stopCh:
				return
			}
		}
	}()

	resultCh := make(chan reply, 1)
	busy := false
	liveness := w.opts.LivenessFactor

	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgCh:
			liveness = w.opts.LivenessFactor
			cmd, err := protocol.ParseBrokerCommand(msg.Frames)
			if err != nil {
				w.logger.Warn().Err(err).Msg("dropping malformed broker frame")
				continue
			}
			switch cmd.Command {
			case protocol.CmdRequest:
				if busy {
					// The broker never assigns a second request to a
					// BUSY worker; drop rather than violate the
					// one-reply-per-request contract.
					w.logger.Error().Str("correlation_id", cmd.CorrelationID).Msg("request while busy dropped")
					continue
				}
				busy = true
				go w.compute(cmd, resultCh)
			case protocol.CmdHeartbeat:
				// Liveness already refreshed above.
			case protocol.CmdDisconnect:
				w.logger.Info().Msg("broker requested disconnect")
				return
			}

		case res := <-resultCh:
			busy = false
			frames := protocol.WorkerReplyFrames(res.clientID, res.correlationID, res.payload)
			if err := sock.Send(zmq4.NewMsgFrom(frames...)); err != nil {
				w.logger.Warn().Err(err).Msg("reply send failed")
				return
			}

		case <-ticker.C:
			if err := sock.Send(zmq4.NewMsgFrom(protocol.HeartbeatFrames()...)); err != nil {
				w.logger.Warn().Err(err).Msg("heartbeat send failed")
				return
			}
			liveness--
			if liveness <= 0 {
				w.logger.Warn().Msg("broker silent, reconnecting")
				return
			}

		case err := <-errCh:
			w.logger.Warn().Err(err).Msg("connection lost")
			return

		case <-w.stopCh:
			_ = sock.Send(zmq4.NewMsgFrom(protocol.WorkerDisconnectFrames()...))
			return
		}
	}
}

// compute runs the handler and converts an error into a structured error
// payload so the client always gets exactly one reply.
func (w *Worker) compute(cmd *protocol.BrokerCommand, resultCh chan<- reply) {
	payload, err := w.opts.Handler(w.ctx, cmd.Payload)
	if err != nil {
		w.logger.Warn().Err(err).Str("correlation_id", cmd.CorrelationID).Msg("handler failed")
		payload = errorPayload(err)
	}

	select {
	case resultCh <- reply{clientID: cmd.ClientID, correlationID: cmd.CorrelationID, payload: payload}:
	case <-w.stopCh:
	}
}

func errorPayload(err error) []byte {
	out, mErr := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    -32000,
			"message": err.Error(),
		},
	})
	if mErr != nil {
		return []byte(`{"error":{"code":-32000,"message":"internal error"}}`)
	}
	return out
}
