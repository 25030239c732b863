package peer

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"odin-busd/internal/broker"
	"odin-busd/internal/wire"
)

// testClient drives the wire protocol from the client side of a
// net.Pipe, so peer.Handler can be exercised end to end without a real
// socket.
type testClient struct {
	t    *testing.T
	conn net.Conn
}

func newTestClient(t *testing.T, conn net.Conn, name string) *testClient {
	t.Helper()
	c := &testClient{t: t, conn: conn}
	c.handshake(name)
	return c
}

func (c *testClient) handshake(name string) {
	c.t.Helper()
	greeting := c.readN(3)
	if err := wire.CheckGreeting(greeting); err != nil {
		c.t.Fatalf("server sent invalid greeting: %v", err)
	}
	c.write(greeting)

	status := c.readN(1)
	if status[0] != wire.RespOK {
		c.t.Fatalf("greeting status = %#x, want RESPONSE_OK", status[0])
	}

	nameLen := make([]byte, 2)
	binary.LittleEndian.PutUint16(nameLen, uint16(len(name)))
	c.write(nameLen)
	c.write([]byte(name))

	status = c.readN(1)
	if status[0] != wire.RespOK {
		c.t.Fatalf("registration status = %#x, want RESPONSE_OK (name %q)", status[0], name)
	}
}

func (c *testClient) sendOp(opID uint32, op wire.FrameOp, qos wire.QoS, body []byte) {
	c.t.Helper()
	header := wire.EncodeOpHeader(opID, op, qos, uint32(len(body)))
	c.write(header)
	c.write(body)
}

func (c *testClient) sendPing() {
	c.t.Helper()
	c.write(make([]byte, wire.OpHeaderLen))
}

// recvAck reads one ack frame and returns (opID, status).
func (c *testClient) recvAck() (uint32, byte) {
	c.t.Helper()
	kind := c.readN(1)
	if kind[0] != wire.OpAck {
		c.t.Fatalf("frame kind = %#x, want OP_ACK", kind[0])
	}
	rest := c.readN(5)
	return binary.LittleEndian.Uint32(rest[0:4]), rest[4]
}

// recvRouted reads one routed frame and decodes it.
func (c *testClient) recvRouted() *wire.Frame {
	c.t.Helper()
	kindByte := c.readN(1)
	kind := wire.FrameKind(kindByte[0])
	rest := c.readN(5)
	bodyLen := binary.LittleEndian.Uint32(rest[0:4])
	body := c.readN(int(bodyLen))
	f, err := wire.DecodeRoutedFrame(kind, body, 0)
	if err != nil {
		c.t.Fatalf("DecodeRoutedFrame: %v", err)
	}
	return f
}

func (c *testClient) write(b []byte) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.conn.Write(b); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testClient) readN(n int) []byte {
	c.t.Helper()
	buf := make([]byte, n)
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		c.t.Fatalf("read %d bytes: %v", n, err)
	}
	return buf
}

func newTestHandler() (*Handler, *broker.DB) {
	db := broker.New(8, nil, broker.Hooks{})
	return New(db, nil, Config{Timeout: 2 * time.Second, BufSize: 4096, QueueSize: 8}), db
}

func TestHandshakeThenPingKeepsConnectionOpen(t *testing.T) {
	h, _ := newTestHandler()
	serverConn, clientConn := net.Pipe()
	go h.Handle(serverConn, wire.TransportTCP, "", "")

	c := newTestClient(t, clientConn, "abc")
	c.sendPing()

	// The server must not respond to a ping; prove the connection is
	// still usable by performing a second, real operation afterwards. A
	// self-directed message lands on our own queue before its ack does.
	c.sendOp(0x01, wire.OpMessage, wire.QoSProcessed, append([]byte("abc\x00"), []byte("hi")...))
	frame := c.recvRouted()
	if frame.Sender != "abc" || string(frame.Payload()) != "hi" {
		t.Fatalf("self-directed frame = sender %q payload %q, want abc/hi", frame.Sender, frame.Payload())
	}
	opID, status := c.recvAck()
	if opID != 0x01 || status != wire.RespOK {
		t.Fatalf("ack = (%#x, %#x), want (0x01, RESPONSE_OK) for a self-directed message", opID, status)
	}
}

func TestDirectedMessageWithAck(t *testing.T) {
	h, _ := newTestHandler()

	aServer, aClientConn := net.Pipe()
	bServer, bClientConn := net.Pipe()
	go h.Handle(aServer, wire.TransportTCP, "", "")
	go h.Handle(bServer, wire.TransportTCP, "", "")

	a := newTestClient(t, aClientConn, "A")
	b := newTestClient(t, bClientConn, "B")

	body := append([]byte("B\x00"), []byte("hello")...)
	a.sendOp(0x01020304, wire.OpMessage, wire.QoSProcessed, body)

	frame := b.recvRouted()
	if frame.Sender != "A" || string(frame.Payload()) != "hello" {
		t.Errorf("B received sender=%q payload=%q, want A/hello", frame.Sender, frame.Payload())
	}

	opID, status := a.recvAck()
	if opID != 0x01020304 || status != wire.RespOK {
		t.Errorf("A's ack = (%#x, %#x), want (0x01020304, RESPONSE_OK)", opID, status)
	}
}

func TestDirectedMessageToUnknownTarget(t *testing.T) {
	h, _ := newTestHandler()
	serverConn, clientConn := net.Pipe()
	go h.Handle(serverConn, wire.TransportTCP, "", "")

	a := newTestClient(t, clientConn, "A")
	body := append([]byte("Z\x00"), []byte("x")...)
	a.sendOp(0x05, wire.OpMessage, wire.QoSProcessed, body)

	opID, status := a.recvAck()
	if opID != 0x05 || status != wire.ErrNotRegistered {
		t.Errorf("ack = (%#x, %#x), want (0x05, ERR_NOT_REGISTERED)", opID, status)
	}
}

func TestTopicPublishFanOut(t *testing.T) {
	h, _ := newTestHandler()

	aServer, aClientConn := net.Pipe()
	bServer, bClientConn := net.Pipe()
	cServer, cClientConn := net.Pipe()
	go h.Handle(aServer, wire.TransportTCP, "", "")
	go h.Handle(bServer, wire.TransportTCP, "", "")
	go h.Handle(cServer, wire.TransportTCP, "", "")

	a := newTestClient(t, aClientConn, "A")
	b := newTestClient(t, bClientConn, "B")
	c := newTestClient(t, cClientConn, "C")

	b.sendOp(1, wire.OpSubscribeTopic, wire.QoSNo, []byte("room/+/chat"))
	c.sendOp(1, wire.OpSubscribeTopic, wire.QoSNo, []byte("room/#"))
	time.Sleep(50 * time.Millisecond) // let both subscriptions land before publishing

	body := append([]byte("room/7/chat\x00"), []byte("hi")...)
	a.sendOp(2, wire.OpPublishTopic, wire.QoSNo, body)

	bf := b.recvRouted()
	if bf.Sender != "A" || !bf.HasTopic || bf.Topic != "room/7/chat" || string(bf.Payload()) != "hi" {
		t.Errorf("B got unexpected frame: %+v", bf)
	}
	cf := c.recvRouted()
	if cf.Sender != "A" || !cf.HasTopic || cf.Topic != "room/7/chat" || string(cf.Payload()) != "hi" {
		t.Errorf("C got unexpected frame: %+v", cf)
	}
}

func TestBroadcastFanOut(t *testing.T) {
	h, _ := newTestHandler()

	t1Server, t1Client := net.Pipe()
	t2Server, t2Client := net.Pipe()
	humidServer, humidClient := net.Pipe()
	aServer, aClient := net.Pipe()
	go h.Handle(t1Server, wire.TransportTCP, "", "")
	go h.Handle(t2Server, wire.TransportTCP, "", "")
	go h.Handle(humidServer, wire.TransportTCP, "", "")
	go h.Handle(aServer, wire.TransportTCP, "", "")

	t1 := newTestClient(t, t1Client, "sensor.temp.1")
	t2 := newTestClient(t, t2Client, "sensor.temp.2")
	_ = newTestClient(t, humidClient, "sensor.humid.1")
	a := newTestClient(t, aClient, "A")

	body := append([]byte("sensor.temp.*\x00"), []byte("x")...)
	a.sendOp(1, wire.OpBroadcast, wire.QoSNo, body)

	if f := t1.recvRouted(); f.Sender != "A" {
		t.Errorf("sensor.temp.1 got sender=%q, want A", f.Sender)
	}
	if f := t2.recvRouted(); f.Sender != "A" {
		t.Errorf("sensor.temp.2 got sender=%q, want A", f.Sender)
	}
}

func TestDisconnectCleanupAllowsReregistration(t *testing.T) {
	h, db := newTestHandler()

	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		h.Handle(serverConn, wire.TransportTCP, "", "")
		close(done)
	}()

	a := newTestClient(t, clientConn, "A")
	a.sendOp(1, wire.OpSubscribeTopic, wire.QoSNo, []byte("t/#"))
	time.Sleep(20 * time.Millisecond)

	clientConn.Close()
	<-done

	if _, ok := db.Lookup("A"); ok {
		t.Fatal("A should be unregistered after disconnect")
	}

	server2, client2 := net.Pipe()
	go h.Handle(server2, wire.TransportTCP, "", "")
	newTestClient(t, client2, "A") // must not fail with busy
	client2.Close()
}

// expectHandshakeRejection performs the greeting, sends name, and returns
// the single status byte the server answers the name with.
func expectHandshakeRejection(t *testing.T, conn net.Conn, name string) byte {
	t.Helper()
	c := &testClient{t: t, conn: conn}
	greeting := c.readN(3)
	c.write(greeting)
	if s := c.readN(1); s[0] != wire.RespOK {
		t.Fatalf("greeting status = %#x, want RESPONSE_OK", s[0])
	}
	nameLen := make([]byte, 2)
	binary.LittleEndian.PutUint16(nameLen, uint16(len(name)))
	c.write(nameLen)
	if len(name) > 0 {
		c.write([]byte(name))
	}
	return c.readN(1)[0]
}

func TestHandshakeEmptyNameIsErrData(t *testing.T) {
	h, _ := newTestHandler()
	serverConn, clientConn := net.Pipe()
	go h.Handle(serverConn, wire.TransportTCP, "", "")

	if status := expectHandshakeRejection(t, clientConn, ""); status != wire.ErrData {
		t.Errorf("status = %#x, want ERR_DATA for an empty name", status)
	}
}

func TestHandshakeReservedNameIsErrData(t *testing.T) {
	h, _ := newTestHandler()
	serverConn, clientConn := net.Pipe()
	go h.Handle(serverConn, wire.TransportTCP, "", "")

	if status := expectHandshakeRejection(t, clientConn, ".sneaky"); status != wire.ErrData {
		t.Errorf("status = %#x, want ERR_DATA for a name beginning with a dot", status)
	}
}

func TestHandshakeDuplicateNameIsBusy(t *testing.T) {
	h, _ := newTestHandler()

	firstServer, firstClient := net.Pipe()
	go h.Handle(firstServer, wire.TransportTCP, "", "")
	newTestClient(t, firstClient, "A")

	secondServer, secondClient := net.Pipe()
	go h.Handle(secondServer, wire.TransportTCP, "", "")
	if status := expectHandshakeRejection(t, secondClient, "A"); status != wire.ErrBusy {
		t.Errorf("status = %#x, want BUSY for a duplicate name", status)
	}
}

func TestBadGreetingGetsNotSupported(t *testing.T) {
	h, _ := newTestHandler()
	serverConn, clientConn := net.Pipe()
	go h.Handle(serverConn, wire.TransportTCP, "", "")

	c := &testClient{t: t, conn: clientConn}
	greeting := c.readN(3)
	greeting[0] ^= 0xFF
	c.write(greeting)

	if status := c.readN(1)[0]; status != wire.ErrNotSupported {
		t.Errorf("status = %#x, want ERR_NOT_SUPPORTED for a mangled greeting", status)
	}
}

func TestUnsupportedOpAcksNotSupported(t *testing.T) {
	h, _ := newTestHandler()
	serverConn, clientConn := net.Pipe()
	go h.Handle(serverConn, wire.TransportTCP, "", "")

	c := newTestClient(t, clientConn, "A")
	header := make([]byte, wire.OpHeaderLen)
	binary.LittleEndian.PutUint32(header[0:4], 0x07)
	header[4] = 0x3F | byte(wire.QoSProcessed)<<6 // op code outside the defined range
	c.write(header)

	opID, status := c.recvAck()
	if opID != 0x07 || status != wire.ErrNotSupported {
		t.Errorf("ack = (%#x, %#x), want (0x07, ERR_NOT_SUPPORTED)", opID, status)
	}

	// The connection stays framed and usable afterwards.
	c.sendOp(0x08, wire.OpBroadcast, wire.QoSProcessed, []byte("nobody.*\x00x"))
	if opID, status := c.recvAck(); opID != 0x08 || status != wire.RespOK {
		t.Errorf("follow-up ack = (%#x, %#x), want (0x08, RESPONSE_OK)", opID, status)
	}
}
