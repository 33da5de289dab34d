package broker

import (
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/tacore/tacore/pkg/metrics"
	"github.com/tacore/tacore/pkg/protocol"
)

// handleClientFrames enqueues a client request and attempts assignment.
// The payload is never validated: it is opaque to the broker.
func (b *Broker) handleClientFrames(frames [][]byte) {
	env, err := protocol.ParseClientRequest(frames)
	if err != nil {
		b.logger.Warn().Err(err).Msg("dropping malformed client frame")
		return
	}

	b.state.enqueue(&PendingRequest{Env: env, Arrived: time.Now()})
	b.syncQueueDepth()
	metrics.RequestsTotal.Inc()

	b.logger.Debug().
		Str("correlation_id", env.CorrelationID).
		Int("queue_depth", len(b.state.pending)).
		Msg("request enqueued")

	b.dispatch()
}

// handleWorkerFrames processes one message from the worker-facing socket.
func (b *Broker) handleWorkerFrames(frames [][]byte) {
	msg, err := protocol.ParseWorkerMessage(frames)
	if err != nil {
		b.logger.Warn().Err(err).Msg("dropping malformed worker frame")
		return
	}

	identity := string(msg.Identity)
	handle := b.state.workers[identity]

	switch msg.Command {
	case protocol.CmdReady:
		b.handleWorkerReady(handle, msg)
	case protocol.CmdReply:
		b.handleWorkerReply(handle, msg)
	case protocol.CmdHeartbeat:
		if handle == nil {
			// Stale connection from before a broker restart; tell it
			// to reconnect and re-handshake.
			b.sendBackend(protocol.DisconnectFrames(msg.Identity))
			return
		}
		handle.Expiry = b.expiry(time.Now())
	case protocol.CmdDisconnect:
		if handle != nil {
			b.disconnectWorker(handle, "worker disconnected")
			b.dispatch()
		}
	}
}

// handleWorkerReady registers a worker connection, replacing any stale
// handle still occupying the same pool slot.
func (b *Broker) handleWorkerReady(handle *WorkerHandle, msg *protocol.WorkerMessage) {
	now := time.Now()

	if handle != nil {
		// Repeated READY on a live connection refreshes liveness.
		handle.Expiry = b.expiry(now)
		if handle.State == WorkerStateReady {
			b.state.pushReady(handle)
		}
		b.dispatch()
		return
	}

	if old := b.state.findByIndex(msg.WorkerIndex); old != nil {
		// The slot's previous connection is stale: the worker process
		// reconnected before its old identity expired.
		b.disconnectWorker(old, "replaced by reconnect")
	}

	handle = &WorkerHandle{
		Index:    msg.WorkerIndex,
		Identity: msg.Identity,
		State:    WorkerStateStarting,
		Expiry:   b.expiry(now),
	}
	b.state.workers[string(msg.Identity)] = handle
	b.workersAlive.Add(1)
	metrics.WorkersAlive.Set(float64(b.workersAlive.Load()))

	// Handshake complete: the worker may now receive requests.
	handle.State = WorkerStateReady
	b.state.pushReady(handle)

	b.logger.Info().
		Int("worker_index", handle.Index).
		Str("identity", string(handle.Identity)).
		Msg("worker ready")

	b.dispatch()
}

// handleWorkerReply forwards a reply to the exact origin recorded for the
// worker's in-flight request and returns the worker to the ready queue.
func (b *Broker) handleWorkerReply(handle *WorkerHandle, msg *protocol.WorkerMessage) {
	if handle == nil {
		b.logger.Warn().
			Str("identity", string(msg.Identity)).
			Str("correlation_id", msg.CorrelationID).
			Msg("reply from unknown worker dropped")
		b.sendBackend(protocol.DisconnectFrames(msg.Identity))
		return
	}

	identity := string(handle.Identity)
	req, ok := b.state.inflight[identity]
	if !ok {
		b.logger.Warn().
			Int("worker_index", handle.Index).
			Msg("reply without in-flight request dropped")
		handle.Expiry = b.expiry(time.Now())
		return
	}
	delete(b.state.inflight, identity)

	// Routing is address-exact: the reply goes to the origin stored with
	// the pending request, never to an address claimed by the worker.
	if err := b.frontend.Send(zmq4.NewMsgFrom(req.Env.ReplyFrames(msg.Payload)...)); err != nil {
		// The client connection vanished; there is no address left to
		// retry against.
		metrics.RepliesDropped.Inc()
		b.logger.Warn().Err(err).
			Str("correlation_id", req.Env.CorrelationID).
			Msg("reply undeliverable, client gone")
	} else {
		b.requestsServed.Add(1)
		metrics.RepliesTotal.Inc()
		b.logger.Debug().
			Str("correlation_id", req.Env.CorrelationID).
			Int("worker_index", handle.Index).
			Msg("reply forwarded")
	}

	handle.State = WorkerStateReady
	handle.Served++
	handle.Expiry = b.expiry(time.Now())
	b.state.pushReady(handle)

	b.dispatch()
}

// dispatch assigns queued requests to ready workers: strict FIFO on the
// request queue, first READY worker wins. Loops until one side is empty.
func (b *Broker) dispatch() {
	for len(b.state.pending) > 0 && len(b.state.ready) > 0 {
		worker := b.state.popReady()
		if worker.State != WorkerStateReady {
			continue
		}

		req := b.state.popPending()
		if err := b.backend.Send(zmq4.NewMsgFrom(protocol.RequestFrames(worker.Identity, req.Env)...)); err != nil {
			b.state.requeueFront(req)
			b.disconnectWorker(worker, "send failed")
			continue
		}

		worker.State = WorkerStateBusy
		b.state.inflight[string(worker.Identity)] = req
		metrics.DispatchLatency.Observe(time.Since(req.Arrived).Seconds())
		b.syncQueueDepth()

		b.logger.Debug().
			Str("correlation_id", req.Env.CorrelationID).
			Int("worker_index", worker.Index).
			Msg("request assigned")
	}
}

// disconnectWorker marks a worker DEAD and requeues its in-flight request
// at the front of the queue so the crash cannot reorder earlier requests
// behind later ones. Callers re-run dispatch afterwards.
func (b *Broker) disconnectWorker(handle *WorkerHandle, reason string) {
	if handle.State == WorkerStateDead {
		return
	}
	handle.State = WorkerStateDead

	identity := string(handle.Identity)
	b.state.dropReady(handle)
	delete(b.state.workers, identity)
	b.workersAlive.Add(-1)
	metrics.WorkersAlive.Set(float64(b.workersAlive.Load()))
	metrics.WorkerDisconnects.Inc()

	b.logger.Info().
		Int("worker_index", handle.Index).
		Str("reason", reason).
		Msg("worker dead")

	if req, ok := b.state.inflight[identity]; ok {
		delete(b.state.inflight, identity)
		b.state.requeueFront(req)
		b.syncQueueDepth()
		metrics.RequeuesTotal.Inc()
		b.logger.Info().
			Str("correlation_id", req.Env.CorrelationID).
			Msg("in-flight request requeued")
	}
}

// expireWorkers sweeps liveness deadlines. Runs on the routing loop's
// ticker so expiry cannot race a routing decision.
func (b *Broker) expireWorkers(now time.Time) {
	var expired []*WorkerHandle
	for _, h := range b.state.workers {
		if h.State != WorkerStateDead && now.After(h.Expiry) {
			expired = append(expired, h)
		}
	}
	for _, h := range expired {
		b.disconnectWorker(h, "liveness expired")
	}
	if len(expired) > 0 {
		b.dispatch()
	}
}

// heartbeatWorkers signals broker liveness to every live worker so an idle
// worker does not mistake a quiet broker for a dead one.
func (b *Broker) heartbeatWorkers() {
	for _, h := range b.state.workers {
		if h.State == WorkerStateDead {
			continue
		}
		b.sendBackend(protocol.BrokerHeartbeatFrames(h.Identity))
	}
}

func (b *Broker) sendBackend(frames [][]byte) {
	if err := b.backend.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		b.logger.Warn().Err(err).Msg("backend send failed")
	}
}

func (b *Broker) syncQueueDepth() {
	depth := len(b.state.pending)
	b.queueDepth.Store(int64(depth))
	metrics.QueueDepth.Set(float64(depth))
}
