package broker

import (
	"time"

	"github.com/tacore/tacore/pkg/protocol"
)

// WorkerState represents the lifecycle state of a pool worker as seen by
// the broker.
type WorkerState string

const (
	WorkerStateStarting WorkerState = "starting"
	WorkerStateReady    WorkerState = "ready"
	WorkerStateBusy     WorkerState = "busy"
	WorkerStateDead     WorkerState = "dead"
)

// WorkerHandle is the broker-side record of one pool worker. Index is
// stable for the process lifetime; Identity is the current connection
// identity and changes whenever the worker reconnects.
type WorkerHandle struct {
	Index    int
	Identity []byte
	State    WorkerState
	Expiry   time.Time
	Served   uint64
}

// PendingRequest is an envelope in flight between the two endpoints. It is
// created when a client request arrives and destroyed when its reply is
// forwarded or the broker shuts down.
type PendingRequest struct {
	Env     *protocol.Envelope
	Arrived time.Time
}

// state holds the routing tables. It is owned exclusively by the run loop
// and therefore needs no locking.
type state struct {
	// workers maps connection identity to handle. DEAD handles are
	// removed immediately; a reconnect registers a fresh entry.
	workers map[string]*WorkerHandle

	// ready is the FIFO of workers waiting for a request.
	ready []*WorkerHandle

	// pending is the FIFO of requests waiting for a worker.
	pending []*PendingRequest

	// inflight maps a BUSY worker's connection identity to the request
	// it is serving.
	inflight map[string]*PendingRequest
}

func newState() *state {
	return &state{
		workers:  make(map[string]*WorkerHandle),
		inflight: make(map[string]*PendingRequest),
	}
}

// findByIndex returns the live handle occupying a pool slot, if any.
func (s *state) findByIndex(index int) *WorkerHandle {
	for _, h := range s.workers {
		if h.Index == index {
			return h
		}
	}
	return nil
}

// pushReady appends a worker to the tail of the ready queue, guarding
// against double insertion.
func (s *state) pushReady(h *WorkerHandle) {
	for _, w := range s.ready {
		if w == h {
			return
		}
	}
	s.ready = append(s.ready, h)
}

// popReady removes and returns the worker at the head of the ready queue.
func (s *state) popReady() *WorkerHandle {
	h := s.ready[0]
	s.ready = s.ready[1:]
	return h
}

// dropReady removes a worker from the ready queue wherever it sits.
func (s *state) dropReady(h *WorkerHandle) {
	for i, w := range s.ready {
		if w == h {
			s.ready = append(s.ready[:i], s.ready[i+1:]...)
			return
		}
	}
}

// enqueue appends a request at the tail of the pending queue.
func (s *state) enqueue(req *PendingRequest) {
	s.pending = append(s.pending, req)
}

// requeueFront puts a request back at the head of the pending queue so a
// worker crash cannot reorder it behind later arrivals.
func (s *state) requeueFront(req *PendingRequest) {
	s.pending = append([]*PendingRequest{req}, s.pending...)
}

// popPending removes and returns the request at the head of the queue.
func (s *state) popPending() *PendingRequest {
	req := s.pending[0]
	s.pending = s.pending[1:]
	return req
}
