// Package ipc implements the IPC hub of spec.md §7: five logical
// channels (Control, Shell, IOPub, Heartbeat, Query) multiplexed with
// priority given to Control, framed with a compact self-describing binary
// envelope.
package ipc

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope field numbers for the protowire encoding. Chosen once and never
// renumbered, so older and newer daemon builds can still parse the fields
// they understand.
const (
	fieldMessageID      = 1
	fieldSessionID      = 2
	fieldMessageType    = 3
	fieldProtocolVersion = 4
	fieldTimestampNanos = 5
	fieldCorrelationID  = 6
	fieldPayload        = 7
)

// ProtocolVersion is bumped on any wire-incompatible envelope change.
const ProtocolVersion = 1

// ErrMalformedEnvelope is returned when Decode cannot parse a buffer as a
// valid envelope.
var ErrMalformedEnvelope = errors.New("ipc: malformed envelope")

// Envelope is one message exchanged over any channel.
type Envelope struct {
	MessageID       uuid.UUID
	SessionID       uuid.UUID
	MessageType     string
	ProtocolVersion uint32
	TimestampNanos  int64
	CorrelationID   string
	Payload         []byte
}

// Encode serializes e as a compact self-describing binary buffer: each
// field is keyed by tag, so unknown fields in a mismatched version are
// skipped rather than corrupting the stream.
func Encode(e Envelope) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldMessageID, protowire.BytesType)
	buf = protowire.AppendBytes(buf, e.MessageID[:])
	buf = protowire.AppendTag(buf, fieldSessionID, protowire.BytesType)
	buf = protowire.AppendBytes(buf, e.SessionID[:])
	buf = protowire.AppendTag(buf, fieldMessageType, protowire.BytesType)
	buf = protowire.AppendString(buf, e.MessageType)
	buf = protowire.AppendTag(buf, fieldProtocolVersion, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(e.ProtocolVersion))
	buf = protowire.AppendTag(buf, fieldTimestampNanos, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(e.TimestampNanos))
	buf = protowire.AppendTag(buf, fieldCorrelationID, protowire.BytesType)
	buf = protowire.AppendString(buf, e.CorrelationID)
	buf = protowire.AppendTag(buf, fieldPayload, protowire.BytesType)
	buf = protowire.AppendBytes(buf, e.Payload)
	return buf
}

// Decode parses buf into an Envelope, skipping any fields it does not
// recognize (forward compatibility with a newer sender).
func Decode(buf []byte) (Envelope, error) {
	var e Envelope
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
		}
		buf = buf[n:]

		switch num {
		case fieldMessageID:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			copy(e.MessageID[:], v)
			buf = buf[n:]
		case fieldSessionID:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			copy(e.SessionID[:], v)
			buf = buf[n:]
		case fieldMessageType:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			e.MessageType = v
			buf = buf[n:]
		case fieldProtocolVersion:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			e.ProtocolVersion = uint32(v)
			buf = buf[n:]
		case fieldTimestampNanos:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			e.TimestampNanos = int64(v)
			buf = buf[n:]
		case fieldCorrelationID:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			e.CorrelationID = v
			buf = buf[n:]
		case fieldPayload:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			e.Payload = append([]byte(nil), v...)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			buf = buf[n:]
		}
	}
	return e, nil
}
