package ipc

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Channel names one of the five logical channels of spec.md §7.
type Channel int

const (
	// Control carries transport/session commands (play, pause, seek) and
	// is always drained before the other channels.
	Control Channel = iota
	// Shell carries request/reply RPCs (create region, approve latent).
	Shell
	// IOPub is fire-and-forget broadcast: position updates, latent
	// progress, log lines.
	IOPub
	// Heartbeat is a liveness ping/pong channel.
	Heartbeat
	// Query carries read-only graph-traversal queries.
	Query
)

func (c Channel) String() string {
	switch c {
	case Control:
		return "control"
	case Shell:
		return "shell"
	case IOPub:
		return "iopub"
	case Heartbeat:
		return "heartbeat"
	case Query:
		return "query"
	default:
		return "unknown"
	}
}

const (
	defaultQueueDepth    = 256
	defaultReconnectRate = 1 // tokens/sec, i.e. at most one reconnect attempt per second
	defaultReconnectBurst = 1
)

// Hub multiplexes the five channels for one connected peer. Reads and
// writes are non-blocking from the caller's perspective where possible;
// Control messages are always serviced before Shell/IOPub/Query on a
// given Dispatch pass, per spec.md §7's priority rule.
type Hub struct {
	sessionID uuid.UUID
	logger    *slog.Logger

	queues map[Channel]chan Envelope

	reconnectLimiter *rate.Limiter
}

// New creates a Hub for one peer session, with per-channel queues of
// depth queueDepth (defaultQueueDepth if 0).
func New(sessionID uuid.UUID, logger *slog.Logger, queueDepth int) *Hub {
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		sessionID: sessionID,
		logger:    logger.With("subsystem", "ipc", "session_id", sessionID),
		queues:    make(map[Channel]chan Envelope, 5),
		reconnectLimiter: rate.NewLimiter(rate.Limit(defaultReconnectRate), defaultReconnectBurst),
	}
	for _, ch := range []Channel{Control, Shell, IOPub, Heartbeat, Query} {
		h.queues[ch] = make(chan Envelope, queueDepth)
	}
	return h
}

// Send enqueues an outbound envelope on channel ch, blocking only if that
// channel's queue is full (backpressure, not data loss). IOPub callers
// that want fire-and-forget semantics should use TrySend instead.
func (h *Hub) Send(ctx context.Context, ch Channel, e Envelope) error {
	e.SessionID = h.sessionID
	e.ProtocolVersion = ProtocolVersion
	if e.MessageID == uuid.Nil {
		e.MessageID = uuid.New()
	}
	if e.TimestampNanos == 0 {
		e.TimestampNanos = time.Now().UnixNano()
	}
	select {
	case h.queues[ch] <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues e without blocking, dropping it if the channel's queue
// is full. Used for IOPub broadcasts, where a slow consumer should lose
// updates rather than stall the publisher.
func (h *Hub) TrySend(ch Channel, e Envelope) bool {
	e.SessionID = h.sessionID
	e.ProtocolVersion = ProtocolVersion
	if e.MessageID == uuid.Nil {
		e.MessageID = uuid.New()
	}
	if e.TimestampNanos == 0 {
		e.TimestampNanos = time.Now().UnixNano()
	}
	select {
	case h.queues[ch] <- e:
		return true
	default:
		return false
	}
}

// Outbound exposes a channel's send-side queue for a transport goroutine
// to drain and write to the wire, servicing Control first on every pass.
func (h *Hub) Outbound(ch Channel) <-chan Envelope {
	return h.queues[ch]
}

// Dispatch pulls exactly one envelope to send to the wire, preferring
// Control strictly over the other four channels, and otherwise servicing
// whichever channel is ready. It blocks until one channel has a message
// or ctx is canceled.
func (h *Hub) Dispatch(ctx context.Context) (Channel, Envelope, error) {
	select {
	case e := <-h.queues[Control]:
		return Control, e, nil
	default:
	}

	select {
	case e := <-h.queues[Control]:
		return Control, e, nil
	case e := <-h.queues[Shell]:
		return Shell, e, nil
	case e := <-h.queues[IOPub]:
		return IOPub, e, nil
	case e := <-h.queues[Heartbeat]:
		return Heartbeat, e, nil
	case e := <-h.queues[Query]:
		return Query, e, nil
	case <-ctx.Done():
		return 0, Envelope{}, ctx.Err()
	}
}

// WaitReconnect blocks until the bounded backoff permits the next
// reconnection attempt, capping how often the transport layer may retry
// after a dropped connection (spec.md §7's bounded-reconnect requirement).
func (h *Hub) WaitReconnect(ctx context.Context) error {
	return h.reconnectLimiter.Wait(ctx)
}

// Close drains nothing and releases no resources beyond letting the
// queues be garbage collected; transports are responsible for closing
// their own underlying connections before discarding a Hub.
func (h *Hub) Close() {
	h.logger.Info("hub closed")
}
