package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientRequest(t *testing.T) {
	tests := []struct {
		name        string
		frames      [][]byte
		wantErr     bool
		wantPayload string
		wantCorr    string // empty means generated
	}{
		{
			name:        "dealer single payload frame",
			frames:      [][]byte{[]byte("client"), []byte("payload")},
			wantPayload: "payload",
		},
		{
			name:        "req style with empty delimiter",
			frames:      [][]byte{[]byte("client"), {}, []byte("payload")},
			wantPayload: "payload",
		},
		{
			name:        "client supplied correlation id",
			frames:      [][]byte{[]byte("client"), []byte("corr-1"), []byte("payload")},
			wantPayload: "payload",
			wantCorr:    "corr-1",
		},
		{
			name:        "req style with correlation id",
			frames:      [][]byte{[]byte("client"), {}, []byte("corr-1"), []byte("payload")},
			wantPayload: "payload",
			wantCorr:    "corr-1",
		},
		{
			name:    "identity only",
			frames:  [][]byte{[]byte("client")},
			wantErr: true,
		},
		{
			name:    "too many content frames",
			frames:  [][]byte{[]byte("client"), []byte("a"), []byte("b"), []byte("c")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseClientRequest(tt.frames)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "client", string(env.Origin))
			assert.Equal(t, tt.wantPayload, string(env.Payload))
			if tt.wantCorr != "" {
				assert.Equal(t, tt.wantCorr, env.CorrelationID)
			} else {
				assert.NotEmpty(t, env.CorrelationID, "broker must generate a correlation id")
			}
		})
	}
}

func TestReplyFramesMirrorRequestFraming(t *testing.T) {
	// A REQ client gets its empty delimiter back; a client-supplied
	// correlation id is echoed; a generated one is not.
	env, err := ParseClientRequest([][]byte{[]byte("client"), {}, []byte("corr-9"), []byte("req")})
	require.NoError(t, err)

	frames := env.ReplyFrames([]byte("reply"))
	require.Len(t, frames, 4)
	assert.Equal(t, "client", string(frames[0]))
	assert.Empty(t, frames[1])
	assert.Equal(t, "corr-9", string(frames[2]))
	assert.Equal(t, "reply", string(frames[3]))

	env, err = ParseClientRequest([][]byte{[]byte("client"), []byte("req")})
	require.NoError(t, err)

	frames = env.ReplyFrames([]byte("reply"))
	require.Len(t, frames, 2)
	assert.Equal(t, "client", string(frames[0]))
	assert.Equal(t, "reply", string(frames[1]))
}

func TestParseWorkerMessage(t *testing.T) {
	tests := []struct {
		name    string
		frames  [][]byte
		wantErr error
	}{
		{
			name:   "ready",
			frames: [][]byte{[]byte("w0"), []byte(CmdReady), []byte("3")},
		},
		{
			name:    "ready with bad index",
			frames:  [][]byte{[]byte("w0"), []byte(CmdReady), []byte("many")},
			wantErr: ErrMalformedWorkerMessage,
		},
		{
			name:    "ready with negative index",
			frames:  [][]byte{[]byte("w0"), []byte(CmdReady), []byte("-1")},
			wantErr: ErrMalformedWorkerMessage,
		},
		{
			name:   "reply",
			frames: [][]byte{[]byte("w0"), []byte(CmdReply), []byte("client"), []byte("corr"), []byte("out")},
		},
		{
			name:    "reply missing payload",
			frames:  [][]byte{[]byte("w0"), []byte(CmdReply), []byte("client"), []byte("corr")},
			wantErr: ErrMalformedWorkerMessage,
		},
		{
			name:   "heartbeat",
			frames: [][]byte{[]byte("w0"), []byte(CmdHeartbeat)},
		},
		{
			name:    "heartbeat with trailing frame",
			frames:  [][]byte{[]byte("w0"), []byte(CmdHeartbeat), []byte("junk")},
			wantErr: ErrMalformedWorkerMessage,
		},
		{
			name:    "unknown command",
			frames:  [][]byte{[]byte("w0"), []byte("\x7f")},
			wantErr: ErrUnknownCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseWorkerMessage(tt.frames)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "w0", string(msg.Identity))
		})
	}
}

func TestRequestFramesRoundTrip(t *testing.T) {
	env := NewEnvelope([]byte("client"), []byte("compute this"))

	frames := RequestFrames([]byte("w2"), env)
	require.Equal(t, "w2", string(frames[0]))

	// The worker's DEALER socket sees everything after its identity.
	cmd, err := ParseBrokerCommand(frames[1:])
	require.NoError(t, err)
	assert.Equal(t, CmdRequest, cmd.Command)
	assert.Equal(t, "client", string(cmd.ClientID))
	assert.Equal(t, env.CorrelationID, cmd.CorrelationID)
	assert.Equal(t, "compute this", string(cmd.Payload))
}

func TestNewWorkerIdentityFreshPerConnection(t *testing.T) {
	a := NewWorkerIdentity(1)
	b := NewWorkerIdentity(1)
	assert.NotEqual(t, a, b, "reconnects must be distinguishable by identity")
}
