package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/workernode/types"
)

// Frame size constants for the streaming driver's wire envelope, adapted
// from ipc/frame.go's length-prefixed msgpack framing: the same
// length-prefix-then-payload shape, sized for the streaming channel's
// larger 50 MiB message cap instead of the child-process IPC channel's
// 16 MiB.
const (
	// MaxMessageSize is the maximum framed message size, including the
	// length prefix, per spec §4.2's "50 MiB message cap."
	MaxMessageSize = 50 * 1024 * 1024
	// MaxPayloadSize is the maximum envelope payload size.
	MaxPayloadSize = MaxMessageSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
	// compressThreshold is the payload size above which encodeEnvelope
	// gzip-packs any message's payload, whatever its type, per spec §4.2.
	compressThreshold = 64 * 1024
)

// messageType discriminates an envelope's Payload, a oneof-style switch as
// described in spec §4.2.
type messageType string

const (
	msgRegister      messageType = "register"
	msgRegisterAck   messageType = "register_ack"
	msgPing          messageType = "ping"
	msgPong          messageType = "pong"
	msgHeartbeat     messageType = "heartbeat"
	msgLogBatch      messageType = "log_batch"
	msgTaskStatus    messageType = "task_status"
	msgTaskAck       messageType = "task_ack"
	msgCancelAck     messageType = "cancel_ack"
	msgControlResult messageType = "control_result"
	msgTaskDispatch  messageType = "task_dispatch"
	msgTaskCancel    messageType = "task_cancel"
	msgConfigUpdate  messageType = "config_update"
	msgRuntimeManage messageType = "runtime_manage"
)

// envelope is the single wire structure every framed message on the stream
// carries, standing in for spec §4.2's "protobuf-equivalent envelope."
type envelope struct {
	Type       messageType `msgpack:"type"`
	Compressed bool        `msgpack:"compressed,omitempty"`
	Payload    []byte      `msgpack:"payload"`
}

// taskAckPayload/cancelAckPayload are the inner shapes for the ack message
// types, which carry no dedicated types.* struct.
type taskAckPayload struct {
	TaskID   string `msgpack:"task_id"`
	Accepted bool   `msgpack:"accepted"`
	Reason   string `msgpack:"reason,omitempty"`
}

type cancelAckPayload struct {
	TaskID string `msgpack:"task_id"`
	OK     bool   `msgpack:"ok"`
	Reason string `msgpack:"reason,omitempty"`
}

// encodeEnvelope msgpack-marshals inner into an envelope of the given type,
// then length-prefixes it. inner is marshaled as the opaque payload field
// so probing the type never requires decoding the whole message. forceGzip
// compresses regardless of size, honoring an upstream-decided Compressed
// flag (logbuffer.Buffer sets types.LogBatch.Compressed per spec §4.1 based
// on its own size estimate before the batch ever reaches this encoder).
func encodeEnvelope(typ messageType, inner any, forceGzip bool) ([]byte, error) {
	payload, err := msgpack.Marshal(inner)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal %s payload: %w", typ, err)
	}
	env := envelope{Type: typ, Payload: payload}
	if forceGzip || len(payload) > compressThreshold {
		compressed, err := gzipBytes(payload)
		if err == nil {
			env.Payload = compressed
			env.Compressed = true
		}
	}
	raw, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal envelope: %w", err)
	}
	if len(raw) > MaxPayloadSize {
		return nil, fmt.Errorf("transport: message of %d bytes exceeds %d byte cap", len(raw), MaxPayloadSize)
	}
	return frameBytes(raw), nil
}

// frameBytes prepends a 4-byte big-endian length prefix.
func frameBytes(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

// decodeInner unmarshals env's payload (decompressing first if flagged)
// into dst.
func decodeInner(env envelope, dst any) error {
	payload := env.Payload
	if env.Compressed {
		raw, err := gunzipBytes(payload)
		if err != nil {
			return fmt.Errorf("transport: decompress %s payload: %w", env.Type, err)
		}
		payload = raw
	}
	if err := msgpack.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("transport: unmarshal %s payload: %w", env.Type, err)
	}
	return nil
}

// frameReader reads length-prefixed envelopes from a stream.
type frameReader struct {
	r *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &frameReader{r: br}
}

var errFrameTooLarge = errors.New("transport: frame exceeds maximum message size")

// readEnvelope reads one frame and unmarshals it as an envelope. Returns
// io.EOF when the stream ends cleanly between frames.
func (fr *frameReader) readEnvelope() (envelope, int, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(fr.r, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return envelope{}, 0, io.EOF
		}
		return envelope{}, 0, fmt.Errorf("transport: read length prefix: %w", err)
	}

	size := binary.BigEndian.Uint32(lengthBuf[:])
	if size > MaxPayloadSize {
		return envelope{}, 0, errFrameTooLarge
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return envelope{}, 0, fmt.Errorf("transport: read payload: %w", err)
	}

	var env envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return envelope{}, 0, fmt.Errorf("transport: unmarshal envelope: %w", err)
	}
	return env, LengthPrefixSize + len(payload), nil
}

// registerPayload is sent once per Connect, per spec §4.2.
type registerPayload struct {
	MachineCode string         `msgpack:"machine_code"`
	APIKey      string         `msgpack:"api_key"`
	Node        types.NodeInfo `msgpack:"node"`
}

type registerAckPayload struct {
	Accepted bool   `msgpack:"accepted"`
	Reason   string `msgpack:"reason,omitempty"`
}
