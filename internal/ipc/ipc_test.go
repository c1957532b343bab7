package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := Envelope{
		MessageID:       uuid.New(),
		SessionID:       uuid.New(),
		MessageType:     "transport.play",
		ProtocolVersion: ProtocolVersion,
		TimestampNanos:  1234567890,
		CorrelationID:   "corr-1",
		Payload:         []byte("hello"),
	}
	buf := Encode(e)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got.MessageID != e.MessageID || got.SessionID != e.SessionID || got.MessageType != e.MessageType ||
		got.ProtocolVersion != e.ProtocolVersion || got.TimestampNanos != e.TimestampNanos ||
		got.CorrelationID != e.CorrelationID || string(got.Payload) != string(e.Payload) {
		t.Errorf("Decode(Encode(e)) = %+v, want %+v", got, e)
	}
}

func TestDecodeMalformedBuffer(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Error("Decode() of a malformed buffer should error")
	}
}

func TestDispatchPrefersControl(t *testing.T) {
	h := New(uuid.New(), nil, 4)
	ctx := context.Background()

	if err := h.Send(ctx, Shell, Envelope{MessageType: "shell.1"}); err != nil {
		t.Fatalf("Send(Shell) error: %v", err)
	}
	if err := h.Send(ctx, Control, Envelope{MessageType: "control.1"}); err != nil {
		t.Fatalf("Send(Control) error: %v", err)
	}

	ch, e, err := h.Dispatch(ctx)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if ch != Control || e.MessageType != "control.1" {
		t.Errorf("Dispatch() = (%v, %+v), want Control message serviced first", ch, e)
	}
}

func TestTrySendDropsOnFullQueue(t *testing.T) {
	h := New(uuid.New(), nil, 1)
	if !h.TrySend(IOPub, Envelope{MessageType: "a"}) {
		t.Fatal("first TrySend should succeed")
	}
	if h.TrySend(IOPub, Envelope{MessageType: "b"}) {
		t.Error("TrySend on a full queue should report false, not block")
	}
}

func TestWaitReconnectRespectsContext(t *testing.T) {
	h := New(uuid.New(), nil, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	// First call consumes the burst token immediately.
	if err := h.WaitReconnect(context.Background()); err != nil {
		t.Fatalf("first WaitReconnect() error: %v", err)
	}
	// Second call should have to wait longer than the cap bounds it within,
	// and a short-timeout context should therefore expire first.
	if err := h.WaitReconnect(ctx); err == nil {
		t.Error("second WaitReconnect() within a short-lived context should time out")
	}
}
