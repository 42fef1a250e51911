package websocket

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
)

// mode is a connection's position in its lifecycle. It only ever moves
// forward, and is only touched by the event-loop goroutine.
type mode int

const (
	modeHTTP      mode = iota // Still parsing/answering plain HTTP.
	modeUpgrading             // 101 response queued, not yet flushed.
	modeWebSocket             // Framed message transport.
	modeClosing               // 400 response queued; no upgrade.
	modeClosed                // Torn down, or about to be.
)

// lastConnID is the source of monotonic connection ids,
// shared by every connection in the process.
var lastConnID atomic.Int64

// sendBuffer is one fully-encoded outbound byte buffer (a frame, or a
// handshake response) in the middle of being written to the socket.
type sendBuffer struct {
	data    []byte
	off     int
	isClose bool // Flushing this buffer completes our closing handshake.
}

func (b *sendBuffer) remaining() []byte { return b.data[b.off:] }
func (b *sendBuffer) drained() bool     { return b.off >= len(b.data) }

// Conn is one server-side WebSocket connection: the state machine that
// ties the frame decoder, the receive assembler, and the send scheduler
// to an event loop.
//
// A single event-loop goroutine owns the socket and performs all reads,
// writes, decoder advancement, and handler callbacks, by calling
// [Conn.Duplex] whenever the kernel reports readiness matching
// [Conn.Wants]. [Conn.SendMessage] and [Conn.Close] are the only entry
// points for other goroutines.
type Conn struct {
	id      int64
	logger  *slog.Logger
	sock    Socket
	loop    Wakeup
	handler Handler
	reg     *Registry
	headers http.Header // Headers of the upgrade request.

	mode      mode
	handshake *sendBuffer // Pending 101 or 400 response.

	// want is the readiness the connection asks of the event loop.
	// Atomic because producers force it to read+write when enqueueing.
	want atomic.Int32

	// Outbound state. sendq and controlFrames accept pushes from any
	// goroutine; sending and sendBuf belong to the event loop alone.
	sendqMu sync.Mutex
	sendq   []*MessageWriter

	cfMu          sync.Mutex
	controlFrames []*sendBuffer // LIFO, so a CLOSE overtakes queued PONGs.

	sending *MessageWriter
	sendBuf *sendBuffer

	// No need for synchronization: value changes are possible only in
	// one direction (false to true), and are always done by the
	// event-loop goroutine.
	closeSent     bool
	closeReceived bool

	// Inbound state, event-loop only.
	frame      *frameReader
	recvOpcode Opcode // Opcode of the in-progress message.
	recvActive bool
	utf8       utf8Validator
	ctrlBuf    []byte // Control-frame payload split across reads.

	upgradeDone bool
	closeDone   bool

	// onMessageSent observes outbound data messages whose final frame
	// has been flushed to the socket. Event-loop only.
	onMessageSent func(opcode Opcode, size int)
}

// NewConn wraps an accepted socket whose HTTP request has not been
// consumed yet. A nil handler installs one that rejects every upgrade;
// a nil registry gets the connection a private one.
func NewConn(sock Socket, loop Wakeup, handler Handler, reg *Registry, l *slog.Logger) *Conn {
	if handler == nil {
		handler = defaultHandler{}
	}
	if reg == nil {
		reg = NewRegistry()
	}
	if l == nil {
		l = slog.Default()
	}

	c := &Conn{
		id:      lastConnID.Add(1),
		sock:    sock,
		loop:    loop,
		handler: handler,
		reg:     reg,
	}
	c.logger = l.With(slog.Int64("conn_id", c.id))
	reg.add(c)
	return c
}

// ID returns the connection's process-unique monotonic id.
func (c *Conn) ID() int64 { return c.id }

// Handle returns the connection's weak reference.
func (c *Conn) Handle() *Handle { return &Handle{id: c.id, reg: c.reg} }

// OnMessageSent registers an observer for completed outbound data
// messages: it fires on the event-loop goroutine once a message's
// final frame has been written to the socket. Set it before the event
// loop starts servicing the connection.
func (c *Conn) OnMessageSent(f func(opcode Opcode, size int)) {
	c.onMessageSent = f
}

// Wants returns the socket readiness the connection is waiting for.
// Zero means the connection is done and should be torn down with
// [Conn.Shutdown].
func (c *Conn) Wants() Readiness { return Readiness(c.want.Load()) }

func (c *Conn) setWant(r Readiness) { c.want.Store(int32(r)) }

// UpgradeRequest feeds the connection the parsed HTTP request. A valid
// upgrade request queues the 101 response and switches the connection
// to websocket mode once it has flushed; anything else queues a 400.
// The caller drives the response out by servicing [Write] readiness.
func (c *Conn) UpgradeRequest(r *http.Request) {
	if err := checkUpgrade(r); err != nil {
		c.logger.Error("rejected WebSocket upgrade", slog.Any("error", err))
		c.handshake = &sendBuffer{data: badRequestResponse(err.Error())}
		c.mode = modeClosing
		c.setWant(Write)
		return
	}

	c.headers = r.Header
	c.handshake = &sendBuffer{data: handshakeResponse(r.Header.Get("Sec-WebSocket-Key"))}
	c.mode = modeUpgrading
	c.optimizeForPacket()
	if err := c.sock.SetNoDelay(true); err != nil {
		c.logger.Warn("failed to set TCP_NODELAY", slog.Any("error", err))
	}
	c.setWant(Write)
}

// Duplex performs at most one read and one write step for the given
// readiness, then recomputes the readiness the connection wants next.
// Any returned error is a socket failure; the caller must tear the
// connection down.
func (c *Conn) Duplex(ev Readiness) error {
	var err error
	switch c.mode {
	case modeHTTP, modeUpgrading, modeClosing:
		if ev&Write != 0 {
			err = c.writeHandshake()
		}
	case modeWebSocket:
		if ev&Read != 0 {
			err = c.wsRead()
		}
		if ev&Write != 0 && err == nil {
			err = c.wsWrite()
		}
	case modeClosed:
	}

	c.setWSState()
	return err
}

// writeHandshake drains the pending 101 or 400 response. Flushing the
// 101 completes the upgrade; flushing the 400 finishes the connection.
func (c *Conn) writeHandshake() error {
	if c.handshake == nil {
		return nil
	}

	n, err := c.sock.Send(c.handshake.remaining())
	c.handshake.off += n
	if err != nil {
		return err
	}
	if !c.handshake.drained() {
		return nil
	}

	c.handshake = nil
	if c.mode != modeUpgrading {
		c.mode = modeClosed
		return nil
	}

	c.frame = newFrameReader()
	c.mode = modeWebSocket
	c.endPacketOptimization()
	c.upgradeDone = true
	c.callUpgradeHandler()
	return nil
}

func (c *Conn) callUpgradeHandler() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in WebSocket upgrade handler", slog.Any("panic", r))
			c.Close(StatusInternalError, fmt.Sprintf("Unexpected error in handler: %v", r))
		}
	}()
	c.handler.HandleUpgrade(c.id, c.Handle(), c.headers)
}

// setWSState recomputes the connection's desired readiness. It runs
// after every I/O step, and implements the close-handshake sequencing:
// once our CLOSE is flushed we only read, awaiting the peer's; once
// both directions have closed, the connection wants nothing and the
// event loop tears it down.
func (c *Conn) setWSState() {
	switch c.mode {
	case modeHTTP, modeUpgrading, modeClosing:
		if c.handshake != nil {
			c.setWant(Write)
		} else {
			c.setWant(0)
		}
		return
	case modeClosed:
		c.setWant(0)
		return
	case modeWebSocket:
	}

	if c.closeSent {
		if c.closeReceived {
			c.mode = modeClosed
			c.setWant(0)
			return
		}
		c.setWant(Read)
		return
	}
	if c.closeReceived {
		c.setWant(Write)
		return
	}

	if c.sendBuf != nil || c.sending != nil {
		c.setWant(ReadWrite)
		return
	}
	if w := c.popSendq(); w != nil {
		c.sending = w
		c.setWant(ReadWrite)
		return
	}

	c.cfMu.Lock()
	pending := len(c.controlFrames) > 0
	c.cfMu.Unlock()
	if pending {
		c.setWant(ReadWrite)
	} else {
		c.setWant(Read)
	}
}

// wsRead advances the frame decoder by one socket read.
func (c *Conn) wsRead() error {
	return c.frame.step(c)
}

// wsWrite writes as many bytes of the in-flight buffer as the socket
// accepts, and picks the next buffer once it drains: control frames
// preempt message frames, and a drained [MessageWriter] makes room for
// the next queued message (via [Conn.setWSState]).
func (c *Conn) wsWrite() error {
	if c.closeSent {
		return nil
	}

	if c.sendBuf != nil {
		n, err := c.sock.Send(c.sendBuf.remaining())
		c.sendBuf.off += n
		if err != nil {
			return err
		}
		if c.sendBuf.drained() {
			c.endPacketOptimization()
			if c.sendBuf.isClose {
				c.closeSent = true
			}
			c.sendBuf = nil
		}
		return nil
	}

	c.cfMu.Lock()
	if n := len(c.controlFrames); n > 0 {
		c.sendBuf = c.controlFrames[n-1]
		c.controlFrames = c.controlFrames[:n-1]
	}
	c.cfMu.Unlock()

	if c.sendBuf == nil && c.sending != nil {
		if f := c.sending.createFrame(); f != nil {
			c.sendBuf = &sendBuffer{data: f}
		} else {
			if c.onMessageSent != nil {
				c.onMessageSent(c.sending.opcode(), c.sending.size())
			}
			c.sending = nil
		}
	}
	if c.sendBuf != nil {
		c.optimizeForPacket()
	}
	return nil
}

// SendMessage enqueues an outbound message. Safe to call from any
// goroutine; pass wakeup=false only when batching several enqueues
// and waking the loop once afterwards.
func (c *Conn) SendMessage(w *MessageWriter, wakeup bool) {
	c.sendqMu.Lock()
	c.sendq = append(c.sendq, w)
	c.sendqMu.Unlock()

	c.setWant(ReadWrite)
	if wakeup {
		c.wakeup()
	}
}

// SendTextMessage enqueues a UTF-8 text message. Safe from any goroutine.
func (c *Conn) SendTextMessage(text string) {
	c.SendMessage(NewTextMessage(text), true)
}

// SendBinaryMessage enqueues a binary message. Safe from any goroutine.
func (c *Conn) SendBinaryMessage(data []byte) {
	c.SendMessage(NewBinaryMessage(data), true)
}

func (c *Conn) popSendq() *MessageWriter {
	c.sendqMu.Lock()
	defer c.sendqMu.Unlock()
	if len(c.sendq) == 0 {
		return nil
	}
	w := c.sendq[0]
	c.sendq = c.sendq[1:]
	return w
}

// Close starts (or responds to) the closing handshake with the given
// status and reason, truncated to fit the control-frame payload limit.
// Safe to call from any goroutine, and idempotent at the wire level:
// the first close frame to flush latches closeSent, after which no
// further bytes are written.
func (c *Conn) Close(status StatusCode, reason string) {
	c.pushControlFrame(createFrame(true, OpcodeClose, closePayload(status, reason), nil), true)
	c.setWant(ReadWrite)
	c.wakeup()
}

func (c *Conn) pushControlFrame(frame []byte, isClose bool) {
	c.cfMu.Lock()
	c.controlFrames = append(c.controlFrames, &sendBuffer{data: frame, isClose: isClose})
	c.cfMu.Unlock()
}

// protocolError logs a client protocol violation and starts a close
// with [StatusProtocolError]. Decoding stops there: all further input
// is read and dropped instead of being parsed as frames.
func (c *Conn) protocolError(what, detail string) {
	c.logger.Error("WebSocket protocol violation", slog.String("violation", what), slog.String("detail", detail))
	c.Close(StatusProtocolError, detail)

	drop := make([]byte, chunkSize)
	c.frame.state = func(_ *frameReader, c *Conn) error {
		_, err := c.sock.Recv(drop)
		return err
	}
}

func (c *Conn) wakeup() {
	if c.loop != nil {
		c.loop.Wakeup()
	}
}

func (c *Conn) optimizeForPacket() {
	if p, ok := c.sock.(PacketOptimizer); ok {
		p.OptimizeForPacket()
	}
}

func (c *Conn) endPacketOptimization() {
	if p, ok := c.sock.(PacketOptimizer); ok {
		p.EndPacketOptimization()
	}
}

// Shutdown tears the connection down: on server shutdown, on socket
// error, or after the close handshake has completed (zero readiness).
// If the connection reached websocket mode, the handler's close
// callback fires exactly once, and a best-effort GoingAway close frame
// is written synchronously when none is already in flight.
func (c *Conn) Shutdown() {
	if c.upgradeDone && !c.closeDone {
		c.closeDone = true
		c.callCloseHandler()

		if !c.closeSent && c.sendBuf == nil {
			f := createFrame(true, OpcodeClose, closePayload(StatusGoingAway, "Shutting down"), nil)
			if _, err := c.sock.Send(f); err == nil {
				c.closeSent = true
			}
		}
	}

	c.reg.remove(c.id)
	if err := c.sock.Close(); err != nil {
		c.logger.Debug("error closing WebSocket socket", slog.Any("error", err))
	}
	c.mode = modeClosed
	c.setWant(0)
}

func (c *Conn) callCloseHandler() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in WebSocket close handler", slog.Any("panic", r))
		}
	}()
	c.handler.HandleClose(c.id)
}
