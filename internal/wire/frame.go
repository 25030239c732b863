package wire

import (
	"encoding/binary"
	"fmt"
)

// Frame is the immutable, shared-readable unit of delivery. An empty
// Sender means "absent"; HasTopic reports whether Topic is present.
// Prepared frames (acks) carry their exact
// wire bytes in Buf and are written verbatim by the writer.
type Frame struct {
	Kind       FrameKind
	Sender     string
	HasTopic   bool
	Topic      string
	Header     []byte
	Buf        []byte
	PayloadPos int
}

// Payload returns the user payload slice of the frame.
func (f *Frame) Payload() []byte {
	return f.Buf[f.PayloadPos:]
}

// HeaderBytes returns the extension header, or nil if absent.
func (f *Frame) HeaderBytes() []byte {
	return f.Header
}

// NewPrepared wraps an already-encoded buffer (an ack) for verbatim write.
func NewPrepared(buf []byte) *Frame {
	return &Frame{Kind: KindPrepared, Buf: buf}
}

// EncodeGreeting returns the 3-byte greeting sentinel.
func EncodeGreeting() []byte {
	b := make([]byte, 3)
	b[0] = Greeting
	binary.LittleEndian.PutUint16(b[1:3], ProtocolVersion)
	return b
}

// CheckGreeting validates a peer-echoed greeting.
func CheckGreeting(b []byte) error {
	if len(b) != 3 {
		return fmt.Errorf("wire: short greeting (%d bytes)", len(b))
	}
	if b[0] != Greeting {
		return fmt.Errorf("wire: bad greeting byte %#x", b[0])
	}
	if v := binary.LittleEndian.Uint16(b[1:3]); v != ProtocolVersion {
		return fmt.Errorf("wire: unsupported protocol version %d", v)
	}
	return nil
}

// OpHeader is the decoded form of the 9-byte client-to-server header.
type OpHeader struct {
	OpID     uint32
	Op       FrameOp
	QoS      QoS
	BodyLen  uint32
	IsPing   bool
}

// DecodeOpHeader parses the fixed 9-byte operation header. A header whose
// 9 bytes are entirely zero is a ping.
func DecodeOpHeader(b []byte) (OpHeader, error) {
	if len(b) != OpHeaderLen {
		return OpHeader{}, fmt.Errorf("wire: op header must be %d bytes, got %d", OpHeaderLen, len(b))
	}
	allZero := true
	for _, c := range b {
		if c != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return OpHeader{IsPing: true}, nil
	}
	opID := binary.LittleEndian.Uint32(b[0:4])
	flags := b[4]
	op, err := ParseFrameOp(flags)
	if err != nil {
		return OpHeader{}, err
	}
	qos, err := ParseQoS(flags)
	if err != nil {
		return OpHeader{}, err
	}
	bodyLen := binary.LittleEndian.Uint32(b[5:9])
	return OpHeader{OpID: opID, Op: op, QoS: qos, BodyLen: bodyLen}, nil
}

// EncodeOpHeader serializes a client-to-server operation header.
func EncodeOpHeader(opID uint32, op FrameOp, qos QoS, bodyLen uint32) []byte {
	b := make([]byte, OpHeaderLen)
	binary.LittleEndian.PutUint32(b[0:4], opID)
	b[4] = byte(op) | (byte(qos) << 6)
	binary.LittleEndian.PutUint32(b[5:9], bodyLen)
	return b
}

// EncodeAck builds the Prepared buffer for an acknowledgement frame:
// OP_ACK, the 4-byte op id, and a single status byte.
func EncodeAck(opID uint32, status byte) []byte {
	b := make([]byte, 1+4+1)
	b[0] = OpAck
	binary.LittleEndian.PutUint32(b[1:5], opID)
	b[5] = status
	return b
}

// SplitTarget splits a Message/Broadcast/PublishTopic body into its
// leading \0-terminated UTF-8 target and the payload that follows.
func SplitTarget(body []byte) (target string, payloadPos int, err error) {
	for i, c := range body {
		if c == 0 {
			return string(body[:i]), i + 1, nil
		}
	}
	return "", 0, fmt.Errorf("wire: body missing target terminator")
}

// EncodeRoutedFrame builds the on-wire routed frame: kind byte,
// u32 total length, reserved byte, sender\0, optional topic\0, header,
// payload.
func EncodeRoutedFrame(kind FrameKind, sender string, topic string, hasTopic bool, header, payload []byte) []byte {
	body := len(sender) + 1
	if hasTopic {
		body += len(topic) + 1
	}
	body += len(header) + len(payload)

	buf := make([]byte, 6+body)
	buf[0] = byte(kind)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(body))
	buf[5] = 0x00

	pos := 6
	pos += copy(buf[pos:], sender)
	buf[pos] = 0
	pos++
	if hasTopic {
		pos += copy(buf[pos:], topic)
		buf[pos] = 0
		pos++
	}
	pos += copy(buf[pos:], header)
	copy(buf[pos:], payload)

	return buf
}

// DecodeRoutedFrame parses a complete routed frame body (everything after
// the 6-byte fixed kind/length/reserved prefix) back into its
// (kind, sender, topic, header, payload) tuple. headerLen is the length
// of the extension header prefix agreed out-of-band between peers (this
// implementation never emits one, so callers pass 0 unless testing the
// extension mechanism directly).
func DecodeRoutedFrame(kind FrameKind, body []byte, headerLen int) (*Frame, error) {
	sender, rest, err := cstring(body)
	if err != nil {
		return nil, fmt.Errorf("wire: routed frame missing sender terminator: %w", err)
	}

	f := &Frame{Kind: kind, Sender: sender}

	if kind == KindPublish {
		topic, rest2, err := cstring(rest)
		if err != nil {
			return nil, fmt.Errorf("wire: routed frame missing topic terminator: %w", err)
		}
		f.HasTopic = true
		f.Topic = topic
		rest = rest2
	}

	if headerLen > len(rest) {
		return nil, fmt.Errorf("wire: declared header length %d exceeds remaining body %d", headerLen, len(rest))
	}
	f.Header = rest[:headerLen]
	f.Buf = rest
	f.PayloadPos = headerLen
	return f, nil
}

func cstring(b []byte) (string, []byte, error) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:], nil
		}
	}
	return "", nil, fmt.Errorf("no terminator")
}
