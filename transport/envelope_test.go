package transport

import (
	"bytes"
	crand "crypto/rand"
	"strings"
	"testing"

	"github.com/pithecene-io/workernode/types"
)

func TestEnvelopeRoundTripsHeartbeat(t *testing.T) {
	hb := types.Heartbeat{NodeID: "node-1", Timestamp: 42}
	frame, err := encodeEnvelope(msgHeartbeat, hb, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	fr := newFrameReader(bytes.NewReader(frame))
	env, n, err := fr.readEnvelope()
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	if n != len(frame) {
		t.Fatalf("expected frame length %d consumed, got %d", len(frame), n)
	}
	if env.Type != msgHeartbeat {
		t.Fatalf("expected type %s, got %s", msgHeartbeat, env.Type)
	}

	var got types.Heartbeat
	if err := decodeInner(env, &got); err != nil {
		t.Fatalf("decode inner: %v", err)
	}
	if got.NodeID != hb.NodeID || got.Timestamp != hb.Timestamp {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, hb)
	}
}

func TestEnvelopeForceGzipRoundTrips(t *testing.T) {
	batch := types.LogBatch{ExecutionID: "run-1", Entries: []types.LogEntry{
		{ExecutionID: "run-1", LogType: types.LogTypeStdout, Content: strings.Repeat("x", 100)},
	}}
	frame, err := encodeEnvelope(msgLogBatch, batch, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	fr := newFrameReader(bytes.NewReader(frame))
	env, _, err := fr.readEnvelope()
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	if !env.Compressed {
		t.Fatal("expected compressed flag set")
	}

	var got types.LogBatch
	if err := decodeInner(env, &got); err != nil {
		t.Fatalf("decode inner: %v", err)
	}
	if got.ExecutionID != batch.ExecutionID || len(got.Entries) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestEncodeEnvelopeRejectsOversizedPayload(t *testing.T) {
	// Random, incompressible content so gzip can't shrink it under the cap.
	raw := make([]byte, MaxPayloadSize+1)
	_, _ = crand.Read(raw)
	huge := types.LogBatch{Entries: []types.LogEntry{{Content: string(raw)}}}
	if _, err := encodeEnvelope(msgLogBatch, huge, false); err == nil {
		t.Fatal("expected error for oversized payload")
	}
}
