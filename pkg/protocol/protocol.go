package protocol

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Worker command frames, one byte each. The command is always the first
// frame after the identity on the worker-facing socket.
const (
	CmdReady      = "\x01" // worker -> broker: handshake, carries worker index
	CmdReply      = "\x02" // worker -> broker: reply for a dispatched request
	CmdHeartbeat  = "\x03" // worker -> broker: liveness signal
	CmdDisconnect = "\x04" // either direction: orderly goodbye
	CmdRequest    = "\x05" // broker -> worker: dispatched client request
)

var (
	// ErrMalformedRequest reports an unparseable client frame sequence.
	ErrMalformedRequest = errors.New("malformed client request")
	// ErrMalformedWorkerMessage reports an unparseable worker frame sequence.
	ErrMalformedWorkerMessage = errors.New("malformed worker message")
	// ErrUnknownCommand reports a command byte outside the protocol.
	ErrUnknownCommand = errors.New("unknown command")
)

// Envelope is the unit of transport on the client-facing socket. Origin is
// the transport-assigned connection identity the reply must be routed back
// to. The correlation id is observability-only: it never influences routing.
type Envelope struct {
	Origin        []byte
	CorrelationID string
	Payload       []byte

	// reqStyle records whether the client spoke through a REQ socket
	// (empty delimiter frame) so the reply can mirror the framing.
	reqStyle bool
	// echoCorrelation records whether the client supplied the correlation
	// id itself, in which case the reply carries it back.
	echoCorrelation bool
}

// NewEnvelope builds an envelope with a generated correlation id. Used by
// tests and by the broker when requeueing.
func NewEnvelope(origin, payload []byte) *Envelope {
	return &Envelope{
		Origin:        origin,
		CorrelationID: uuid.NewString(),
		Payload:       payload,
	}
}

// ParseClientRequest decodes frames received on the frontend ROUTER socket.
// Accepted shapes after the identity frame (and an optional REQ empty
// delimiter): [payload] or [correlation_id, payload]. Payload bytes are
// opaque and never inspected.
func ParseClientRequest(frames [][]byte) (*Envelope, error) {
	if len(frames) < 2 {
		return nil, fmt.Errorf("%w: %d frames", ErrMalformedRequest, len(frames))
	}

	env := &Envelope{Origin: frames[0]}
	rest := frames[1:]

	if len(rest[0]) == 0 {
		env.reqStyle = true
		rest = rest[1:]
	}

	switch len(rest) {
	case 1:
		env.Payload = rest[0]
		env.CorrelationID = uuid.NewString()
	case 2:
		if corr := string(rest[0]); corr != "" {
			env.CorrelationID = corr
			env.echoCorrelation = true
		} else {
			env.CorrelationID = uuid.NewString()
		}
		env.Payload = rest[1]
	default:
		return nil, fmt.Errorf("%w: %d content frames", ErrMalformedRequest, len(rest))
	}

	return env, nil
}

// ReplyFrames builds the frontend frames that deliver payload back to the
// envelope's origin, mirroring the framing of the original request.
func (e *Envelope) ReplyFrames(payload []byte) [][]byte {
	frames := make([][]byte, 0, 4)
	frames = append(frames, e.Origin)
	if e.reqStyle {
		frames = append(frames, []byte{})
	}
	if e.echoCorrelation {
		frames = append(frames, []byte(e.CorrelationID))
	}
	return append(frames, payload)
}

// WorkerMessage is a decoded frame sequence from the worker-facing socket.
type WorkerMessage struct {
	Identity      []byte
	Command       string
	WorkerIndex   int
	ClientID      []byte
	CorrelationID string
	Payload       []byte
}

// ParseWorkerMessage decodes frames received on the backend ROUTER socket.
func ParseWorkerMessage(frames [][]byte) (*WorkerMessage, error) {
	if len(frames) < 2 {
		return nil, fmt.Errorf("%w: %d frames", ErrMalformedWorkerMessage, len(frames))
	}

	msg := &WorkerMessage{
		Identity: frames[0],
		Command:  string(frames[1]),
	}

	switch msg.Command {
	case CmdReady:
		if len(frames) != 3 {
			return nil, fmt.Errorf("%w: READY with %d frames", ErrMalformedWorkerMessage, len(frames))
		}
		index, err := strconv.Atoi(string(frames[2]))
		if err != nil || index < 0 {
			return nil, fmt.Errorf("%w: bad worker index %q", ErrMalformedWorkerMessage, frames[2])
		}
		msg.WorkerIndex = index
	case CmdReply:
		if len(frames) != 5 {
			return nil, fmt.Errorf("%w: REPLY with %d frames", ErrMalformedWorkerMessage, len(frames))
		}
		msg.ClientID = frames[2]
		msg.CorrelationID = string(frames[3])
		msg.Payload = frames[4]
	case CmdHeartbeat, CmdDisconnect:
		if len(frames) != 2 {
			return nil, fmt.Errorf("%w: %x with %d frames", ErrMalformedWorkerMessage, msg.Command, len(frames))
		}
	default:
		return nil, fmt.Errorf("%w: %x", ErrUnknownCommand, msg.Command)
	}

	return msg, nil
}

// RequestFrames builds the backend frames dispatching env to the worker with
// the given connection identity.
func RequestFrames(workerIdentity []byte, env *Envelope) [][]byte {
	return [][]byte{
		workerIdentity,
		[]byte(CmdRequest),
		env.Origin,
		[]byte(env.CorrelationID),
		env.Payload,
	}
}

// DisconnectFrames builds the backend frames telling a worker to go away.
func DisconnectFrames(workerIdentity []byte) [][]byte {
	return [][]byte{workerIdentity, []byte(CmdDisconnect)}
}

// BrokerHeartbeatFrames builds the backend frames signaling broker liveness
// to a worker.
func BrokerHeartbeatFrames(workerIdentity []byte) [][]byte {
	return [][]byte{workerIdentity, []byte(CmdHeartbeat)}
}

// Worker-side encoders. A DEALER socket prepends its own identity, so these
// frame sequences start at the command.

// ReadyFrames builds the handshake announcing a worker's pool index.
func ReadyFrames(index int) [][]byte {
	return [][]byte{[]byte(CmdReady), []byte(strconv.Itoa(index))}
}

// WorkerReplyFrames builds a reply carrying the client identity and
// correlation id the request arrived with.
func WorkerReplyFrames(clientID []byte, correlationID string, payload []byte) [][]byte {
	return [][]byte{[]byte(CmdReply), clientID, []byte(correlationID), payload}
}

// HeartbeatFrames builds a worker liveness frame.
func HeartbeatFrames() [][]byte {
	return [][]byte{[]byte(CmdHeartbeat)}
}

// WorkerDisconnectFrames builds a worker-side goodbye.
func WorkerDisconnectFrames() [][]byte {
	return [][]byte{[]byte(CmdDisconnect)}
}

// BrokerCommand is a decoded broker->worker frame sequence as seen by a
// worker's DEALER socket (no identity frame).
type BrokerCommand struct {
	Command       string
	ClientID      []byte
	CorrelationID string
	Payload       []byte
}

// ParseBrokerCommand decodes frames a worker received from the broker.
func ParseBrokerCommand(frames [][]byte) (*BrokerCommand, error) {
	if len(frames) < 1 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedWorkerMessage)
	}

	cmd := &BrokerCommand{Command: string(frames[0])}
	switch cmd.Command {
	case CmdRequest:
		if len(frames) != 4 {
			return nil, fmt.Errorf("%w: REQUEST with %d frames", ErrMalformedWorkerMessage, len(frames))
		}
		cmd.ClientID = frames[1]
		cmd.CorrelationID = string(frames[2])
		cmd.Payload = frames[3]
	case CmdHeartbeat, CmdDisconnect:
		if len(frames) != 1 {
			return nil, fmt.Errorf("%w: %x with %d frames", ErrMalformedWorkerMessage, cmd.Command, len(frames))
		}
	default:
		return nil, fmt.Errorf("%w: %x", ErrUnknownCommand, cmd.Command)
	}

	return cmd, nil
}

// NewWorkerIdentity returns a fresh connection identity for a worker. The
// index is stable for the process lifetime; the uuid suffix guarantees that
// a reconnect shows up as a new identity on the broker side.
func NewWorkerIdentity(index int) string {
	return fmt.Sprintf("worker-%d-%s", index, uuid.NewString()[:8])
}
