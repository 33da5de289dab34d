package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"

	"github.com/tacore/tacore/pkg/log"
	"github.com/tacore/tacore/pkg/metrics"
)

// MethodHealth is the only method the monitor answers.
const MethodHealth = "system.health"

// JSON-RPC style error codes.
const (
	CodeMethodNotFound = -32601
	CodeParseError     = -32700
)

// BrokerStatus is the read-only view of broker state the monitor may
// touch: atomic counters only, never the routing tables.
type BrokerStatus interface {
	LiveWorkers() int
	QueueDepth() int
	Uptime() time.Duration
}

// Request is the health wire request.
type Request struct {
	Method string `json:"method"`
	ID     int    `json:"id"`
}

// Result is the health payload of a successful response.
type Result struct {
	Status     string  `json:"status"`
	Timestamp  float64 `json:"timestamp"`
	Workers    int     `json:"workers"`
	Uptime     float64 `json:"uptime"`
	QueueDepth int     `json:"queue_depth"`
}

// Error is the error payload of a failed response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is the health wire response.
type Response struct {
	ID     int     `json:"id"`
	Result *Result `json:"result,omitempty"`
	Error  *Error  `json:"error,omitempty"`
}

// Socket is the subset of zmq4.Socket the monitor uses.
type Socket interface {
	Listen(endpoint string) error
	Send(msg zmq4.Msg) error
	Recv() (zmq4.Msg, error)
	Close() error
}

// Monitor answers synchronous health queries on a dedicated REP socket. It
// runs on its own goroutine and never shares a mutation path with the
// dispatch core, so a loaded broker cannot stall a liveness probe.
type Monitor struct {
	endpoint string
	status   BrokerStatus

	sock   Socket
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool

	stopCh chan struct{}
	doneCh chan struct{}

	logger zerolog.Logger
}

// New creates a health monitor reading counters from status.
func New(endpoint string, status BrokerStatus) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		endpoint: endpoint,
		status:   status,
		ctx:      ctx,
		cancel:   cancel,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   log.WithComponent("health"),
	}
}

// Start binds the health socket and launches the serve loop. Bind failure
// is returned to the caller and is fatal at startup.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("health monitor already running")
	}

	if m.sock == nil {
		m.sock = zmq4.NewRep(m.ctx)
	}
	if err := m.sock.Listen(m.endpoint); err != nil {
		return fmt.Errorf("failed to bind health endpoint %s: %w", m.endpoint, err)
	}

	m.running = true
	go m.run()
	return nil
}

// Stop shuts the monitor down and waits for its loop to exit. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false

	close(m.stopCh)
	m.cancel()
	_ = m.sock.Close()
	<-m.doneCh
}

// run receives one request at a time and answers it before receiving the
// next. The REP socket binds each reply to the connection that sent the
// request it is currently holding, so receive and send must stay strictly
// interleaved: a second Recv before the previous Send could hand one
// probe's reply to another probe's connection. Stop unblocks a pending
// Recv by closing the socket.
func (m *Monitor) run() {
	defer close(m.doneCh)

	for {
		msg, err := m.sock.Recv()
		if err != nil {
			select {
			case <-m.stopCh:
			default:
				m.logger.Warn().Err(err).Msg("health receive failed")
			}
			return
		}

		reply := m.handle(msg.Bytes())
		if err := m.sock.Send(zmq4.NewMsg(reply)); err != nil {
			select {
			case <-m.stopCh:
				return
			default:
			}
			m.logger.Warn().Err(err).Msg("health reply failed")
		}
	}
}

// handle builds the JSON reply for one request body.
func (m *Monitor) handle(body []byte) []byte {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		metrics.HealthRequestsTotal.WithLabelValues("parse_error").Inc()
		return mustMarshal(Response{
			ID:    req.ID,
			Error: &Error{Code: CodeParseError, Message: "Parse error"},
		})
	}

	if req.Method != MethodHealth {
		metrics.HealthRequestsTotal.WithLabelValues("method_not_found").Inc()
		return mustMarshal(Response{
			ID:    req.ID,
			Error: &Error{Code: CodeMethodNotFound, Message: "Method not found"},
		})
	}

	metrics.HealthRequestsTotal.WithLabelValues("ok").Inc()
	return mustMarshal(Response{
		ID: req.ID,
		Result: &Result{
			Status:     "healthy",
			Timestamp:  float64(time.Now().UnixNano()) / float64(time.Second),
			Workers:    m.status.LiveWorkers(),
			Uptime:     m.status.Uptime().Seconds(),
			QueueDepth: m.status.QueueDepth(),
		},
	})
}

func mustMarshal(resp Response) []byte {
	out, err := json.Marshal(resp)
	if err != nil {
		// Response contains only plain fields; this cannot happen.
		panic(err)
	}
	return out
}
