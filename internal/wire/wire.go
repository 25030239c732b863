// Package wire implements the busd binary peer protocol: the greeting
// handshake, the framed-operation header, and the routed/ack frame
// encodings exchanged between a peer and the broker.
package wire

import "fmt"

// ProtocolVersion is advertised in the greeting and must match exactly.
const ProtocolVersion uint16 = 1

// Greeting is the first byte the server writes; the client must echo it.
const Greeting byte = 0xB5

// Status/error bytes written as single-byte sentinels during the
// handshake, or as the status byte of an ack frame.
const (
	RespOK           byte = 0x00
	ErrNotSupported  byte = 0x01
	ErrData          byte = 0x02
	ErrNotRegistered byte = 0x03
	ErrBusy          byte = 0x04
)

// OpAck marks a prepared acknowledgement frame on the wire. It is chosen
// outside the FrameKind range so a reader can distinguish an ack from a
// routed frame by inspecting only the first byte.
const OpAck byte = 0xAC

// FrameKind identifies the kind of a delivered frame.
type FrameKind byte

const (
	KindMessage FrameKind = iota + 1
	KindBroadcast
	KindPublish
	// KindPrepared marks a frame whose Buf is already the exact bytes to
	// write to the wire (used for acks); it is never itself transmitted.
	KindPrepared
)

func (k FrameKind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindBroadcast:
		return "broadcast"
	case KindPublish:
		return "publish"
	case KindPrepared:
		return "prepared"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// FrameOp is the client-requested operation, carried in the lower 6 bits
// of the op header's flags byte.
type FrameOp byte

const (
	OpNop FrameOp = iota
	OpMessage
	OpBroadcast
	OpPublishTopic
	OpSubscribeTopic
	OpUnsubscribeTopic
)

// ParseFrameOp validates a 6-bit op code from a received flags byte.
func ParseFrameOp(b byte) (FrameOp, error) {
	op := FrameOp(b & 0x3F)
	switch op {
	case OpNop, OpMessage, OpBroadcast, OpPublishTopic, OpSubscribeTopic, OpUnsubscribeTopic:
		return op, nil
	default:
		return 0, fmt.Errorf("wire: unsupported op code %d", op)
	}
}

// QoS selects whether the broker emits an acknowledgement for an
// operation, carried in bits 6-7 of the op header's flags byte.
type QoS byte

const (
	QoSNo QoS = iota
	QoSProcessed
)

// ParseQoS validates a 2-bit QoS value from a received flags byte.
func ParseQoS(b byte) (QoS, error) {
	q := QoS((b >> 6) & 0x03)
	switch q {
	case QoSNo, QoSProcessed:
		return q, nil
	default:
		return 0, fmt.Errorf("wire: unsupported qos %d", q)
	}
}

// TransportKind identifies how a client reached the broker.
type TransportKind string

const (
	TransportInternal TransportKind = "internal"
	TransportLocalIPC TransportKind = "local-ipc"
	TransportTCP      TransportKind = "tcp"
)

// Well-known identifiers reserved for broker-internal use.
const (
	BrokerClientName = ".broker"
	BrokerWarnTopic  = ".broker/warn"
	BrokerInfoTopic  = ".broker/info"
)

// DefaultQueueSize is the default bound on a client's outbound frame queue.
const DefaultQueueSize = 8192

// DefaultBufSize is the default per-connection buffered reader/writer
// capacity.
const DefaultBufSize = 16384

// OpHeaderLen is the fixed size of the client-to-server operation header.
const OpHeaderLen = 9
