// Package peer implements the per-connection state machine: the greeting
// handshake, name registration, and the split read/write loop pair that
// carries framed operations to and from the broker.
package peer

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"odin-busd/internal/broker"
	"odin-busd/internal/registry"
	"odin-busd/internal/wire"
)

// Config bounds a connection's buffering and deadlines.
type Config struct {
	Timeout   time.Duration
	BufSize   int
	QueueSize int
}

// Handler drives one connection through GreetingOut -> ... -> Closed.
type Handler struct {
	db    *broker.DB
	log   *zap.Logger
	cfg   Config
	onAck func(status byte)
}

// New returns a Handler that dispatches registrations and frames
// against db.
func New(db *broker.DB, log *zap.Logger, cfg Config) *Handler {
	return &Handler{db: db, log: log, cfg: cfg}
}

// OnAck registers a callback invoked with the status byte every time a
// QoS=Processed acknowledgement is emitted (used to drive the
// busd_acks_emitted_total metric).
func (h *Handler) OnAck(fn func(status byte)) {
	h.onAck = fn
}

// Handle runs the full state machine for one accepted connection. It
// blocks until the connection is torn down, at which point the client
// (if it ever registered) has been removed from every index.
func (h *Handler) Handle(conn net.Conn, transport wire.TransportKind, source, port string) {
	defer conn.Close()

	traceID := uuid.NewString()
	log := h.log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("trace_id", traceID), zap.String("transport", string(transport)))

	reader := bufio.NewReaderSize(conn, h.cfg.BufSize)
	writer := bufio.NewWriterSize(conn, h.cfg.BufSize)

	writeAndFlush := func(buf []byte) error {
		conn.SetWriteDeadline(time.Now().Add(h.cfg.Timeout))
		if _, err := writer.Write(buf); err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(h.cfg.Timeout))
		return writer.Flush()
	}

	if err := writeAndFlush(wire.EncodeGreeting()); err != nil {
		log.Debug("greeting write failed", zap.Error(err))
		return
	}

	greeting := make([]byte, 3)
	conn.SetReadDeadline(time.Now().Add(h.cfg.Timeout))
	if _, err := io.ReadFull(reader, greeting); err != nil {
		log.Debug("greeting read failed", zap.Error(err))
		return
	}
	if err := wire.CheckGreeting(greeting); err != nil {
		writeAndFlush([]byte{wire.ErrNotSupported})
		log.Debug("greeting rejected", zap.Error(err))
		return
	}

	if err := writeAndFlush([]byte{wire.RespOK}); err != nil {
		return
	}

	nameLenBuf := make([]byte, 2)
	conn.SetReadDeadline(time.Now().Add(h.cfg.Timeout))
	if _, err := io.ReadFull(reader, nameLenBuf); err != nil {
		log.Debug("name length read failed", zap.Error(err))
		return
	}
	nameLen := int(nameLenBuf[0]) | int(nameLenBuf[1])<<8

	nameBuf := make([]byte, nameLen)
	conn.SetReadDeadline(time.Now().Add(h.cfg.Timeout))
	if _, err := io.ReadFull(reader, nameBuf); err != nil {
		log.Debug("name bytes read failed", zap.Error(err))
		return
	}

	name := string(nameBuf)
	if name == "" || name[0] == '.' || !utf8.Valid(nameBuf) {
		writeAndFlush([]byte{wire.ErrData})
		log.Debug("invalid client name", zap.String("name", name))
		return
	}

	handle := registry.NewHandle(name, transport, source, port, h.cfg.QueueSize)
	if err := h.db.Register(handle); err != nil {
		writeAndFlush([]byte{wire.ErrBusy})
		log.Debug("registration failed", zap.String("name", name), zap.Error(err))
		return
	}
	if err := writeAndFlush([]byte{wire.RespOK}); err != nil {
		h.db.Unregister(handle)
		return
	}

	log = log.With(zap.String("client", name))
	log.Info("client registered")

	stopWriter := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(conn, writer, handle, stopWriter, log)
	}()

	h.readLoop(conn, reader, handle, log)

	close(stopWriter)
	wg.Wait()
	h.db.Unregister(handle)
	log.Info("client disconnected")
}

// writeLoop drains handle's outbound queue to the connection. It is the
// single writer for the connection's lifetime. stop is closed once the
// read loop has exited, so the loop never holds a reference to the
// outbound channel past teardown.
func (h *Handler) writeLoop(conn net.Conn, writer *bufio.Writer, handle *registry.Handle, stop <-chan struct{}, log *zap.Logger) {
	writeAndFlush := func(buf []byte) error {
		if len(buf) == 0 {
			return nil
		}
		conn.SetWriteDeadline(time.Now().Add(h.cfg.Timeout))
		if _, err := writer.Write(buf); err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(h.cfg.Timeout))
		return writer.Flush()
	}

	for {
		select {
		case <-stop:
			return
		case frame := <-handle.Outbound:
			if frame.Kind == wire.KindPrepared {
				if err := writeAndFlush(frame.Buf); err != nil {
					log.Debug("write failed", zap.Error(err))
					return
				}
				continue
			}
			buf := wire.EncodeRoutedFrame(frame.Kind, frame.Sender, frame.Topic, frame.HasTopic, frame.HeaderBytes(), frame.Payload())
			if err := writeAndFlush(buf); err != nil {
				log.Debug("write failed", zap.Error(err))
				return
			}
		}
	}
}

// readLoop decodes op headers and bodies and dispatches them against the
// broker until the connection errors or closes.
func (h *Handler) readLoop(conn net.Conn, reader *bufio.Reader, handle *registry.Handle, log *zap.Logger) {
	headerBuf := make([]byte, wire.OpHeaderLen)
	for {
		// Idle connections are permitted: the op header read is unbounded.
		conn.SetReadDeadline(time.Time{})
		if _, err := io.ReadFull(reader, headerBuf); err != nil {
			if err != io.EOF {
				log.Debug("read failed", zap.Error(err))
			}
			return
		}

		hdr, err := wire.DecodeOpHeader(headerBuf)
		if err != nil {
			// Unsupported op: drain the declared body so the stream stays
			// framed, report via ack when requested, keep the connection
			// open.
			log.Debug("bad op header", zap.Error(err))
			bodyLen := binary.LittleEndian.Uint32(headerBuf[5:9])
			conn.SetReadDeadline(time.Now().Add(h.cfg.Timeout))
			if _, derr := io.CopyN(io.Discard, reader, int64(bodyLen)); derr != nil {
				return
			}
			if qos, qerr := wire.ParseQoS(headerBuf[4]); qerr == nil && qos == wire.QoSProcessed {
				opID := binary.LittleEndian.Uint32(headerBuf[0:4])
				h.ackIfProcessed(handle, wire.OpHeader{OpID: opID, QoS: qos}, wire.ErrNotSupported)
			}
			continue
		}
		if hdr.IsPing {
			continue
		}

		conn.SetReadDeadline(time.Now().Add(h.cfg.Timeout))
		body := make([]byte, hdr.BodyLen)
		if _, err := io.ReadFull(reader, body); err != nil {
			log.Debug("read op body failed", zap.Error(err))
			return
		}

		h.dispatch(handle, hdr, body, log)
	}
}

func (h *Handler) dispatch(handle *registry.Handle, hdr wire.OpHeader, body []byte, log *zap.Logger) {
	switch hdr.Op {
	case wire.OpSubscribeTopic:
		h.dispatchTopicBatch(handle, hdr, body, log, true)
	case wire.OpUnsubscribeTopic:
		h.dispatchTopicBatch(handle, hdr, body, log, false)
	case wire.OpMessage:
		target, payloadPos, err := wire.SplitTarget(body)
		if err != nil {
			h.ackIfProcessed(handle, hdr, wire.ErrData)
			return
		}
		if h.db.Send(handle.Name, target, body[payloadPos:]) {
			h.ackIfProcessed(handle, hdr, wire.RespOK)
		} else {
			h.ackIfProcessed(handle, hdr, wire.ErrNotRegistered)
		}
	case wire.OpBroadcast:
		target, payloadPos, err := wire.SplitTarget(body)
		if err != nil {
			h.ackIfProcessed(handle, hdr, wire.ErrData)
			return
		}
		h.db.SendBroadcast(handle.Name, target, body[payloadPos:])
		h.ackIfProcessed(handle, hdr, wire.RespOK)
	case wire.OpPublishTopic:
		topic, payloadPos, err := wire.SplitTarget(body)
		if err != nil {
			h.ackIfProcessed(handle, hdr, wire.ErrData)
			return
		}
		h.db.Publish(handle.Name, topic, body[payloadPos:])
		h.ackIfProcessed(handle, hdr, wire.RespOK)
	default:
		h.ackIfProcessed(handle, hdr, wire.ErrNotSupported)
	}
}

// dispatchTopicBatch applies every \0-separated pattern in body up to
// the first malformed one: all valid segments preceding it are applied,
// then the batch reports ERR_DATA (QoS Processed) or stops silently
// (QoS No).
func (h *Handler) dispatchTopicBatch(handle *registry.Handle, hdr wire.OpHeader, body []byte, log *zap.Logger, subscribe bool) {
	status := wire.RespOK
	for _, seg := range bytes.Split(body, []byte{0}) {
		if !utf8.Valid(seg) {
			status = wire.ErrData
			break
		}
		pattern := string(seg)
		if subscribe {
			h.db.Subscribe(handle.Name, pattern)
		} else {
			h.db.Unsubscribe(handle.Name, pattern)
		}
	}
	h.ackIfProcessed(handle, hdr, status)
}

func (h *Handler) ackIfProcessed(handle *registry.Handle, hdr wire.OpHeader, status byte) {
	if hdr.QoS != wire.QoSProcessed {
		return
	}
	if h.onAck != nil {
		h.onAck(status)
	}
	handle.Enqueue(wire.NewPrepared(wire.EncodeAck(hdr.OpID, status)))
}
