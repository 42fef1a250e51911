package websocket

// Shared test doubles: an in-memory non-blocking socket, a recording
// handler, and a pump that plays the role of the event loop.

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// fakeSocket is an in-memory [Socket]: bytes queued with feed() are
// what the client sent, and everything the connection writes lands in
// out. recvLimit and sendLimit simulate partial reads and short
// writes, 0 meaning unlimited.
type fakeSocket struct {
	mu        sync.Mutex
	in        bytes.Buffer
	out       bytes.Buffer
	recvLimit int
	sendLimit int
	recvErr   error
	closed    bool
	noDelay   bool
	woken     int
}

func (s *fakeSocket) feed(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.in.Write(p)
}

func (s *fakeSocket) Recv(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.in.Len() == 0 {
		if s.recvErr != nil {
			return 0, s.recvErr
		}
		return 0, nil
	}
	if s.recvLimit > 0 && len(p) > s.recvLimit {
		p = p[:s.recvLimit]
	}
	return s.in.Read(p)
}

func (s *fakeSocket) Send(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sendLimit > 0 && len(p) > s.sendLimit {
		p = p[:s.sendLimit]
	}
	return s.out.Write(p)
}

func (s *fakeSocket) SetNoDelay(noDelay bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noDelay = noDelay
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) Wakeup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.woken++
}

func (s *fakeSocket) output() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.out.Bytes())
}

func (s *fakeSocket) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.in.Len()
}

// dataEvent is one HandleData invocation, as seen by recordingHandler.
type dataEvent struct {
	opcode   Opcode
	data     string
	starting bool
	finished bool
}

type recordingHandler struct {
	mu       sync.Mutex
	upgrades int
	handle   *Handle
	headers  http.Header
	events   []dataEvent
	closes   int

	panicInData    bool
	panicInUpgrade bool
}

func (h *recordingHandler) HandleUpgrade(_ int64, conn *Handle, headers http.Header) {
	h.mu.Lock()
	h.upgrades++
	h.handle = conn
	h.headers = headers
	shouldPanic := h.panicInUpgrade
	h.mu.Unlock()
	if shouldPanic {
		panic("upgrade handler failure")
	}
}

func (h *recordingHandler) HandleData(_ int64, opcode Opcode, data []byte, starting, finished bool) {
	h.mu.Lock()
	h.events = append(h.events, dataEvent{opcode: opcode, data: string(data), starting: starting, finished: finished})
	shouldPanic := h.panicInData
	h.mu.Unlock()
	if shouldPanic {
		panic("data handler failure")
	}
}

func (h *recordingHandler) HandleClose(int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
}

func (h *recordingHandler) recorded() []dataEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]dataEvent(nil), h.events...)
}

// pump plays the event loop: it services the connection's desired
// readiness until the connection is done or no further progress is
// possible (nothing read, nothing written, and no readiness change in
// three passes in a row; a single pass may only advance internal
// state, such as dequeueing a message or staging its next frame).
func pump(c *Conn, s *fakeSocket) {
	idle := 0
	for range 100_000 {
		want := c.Wants()
		if want == 0 {
			return
		}

		inBefore, outBefore := s.pending(), len(s.output())
		if want&Write != 0 {
			if err := c.Duplex(Write); err != nil {
				return
			}
		}
		if want&Read != 0 {
			if err := c.Duplex(Read); err != nil {
				return
			}
		}

		if s.pending() == inBefore && len(s.output()) == outBefore && c.Wants() == want {
			idle++
			if idle == 3 {
				return
			}
		} else {
			idle = 0
		}
	}
}

// upgradedConn returns a connection that has completed its handshake,
// with the 101 response already drained from the fake socket's output.
func upgradedConn(h Handler) (*Conn, *fakeSocket) {
	s := &fakeSocket{}
	c := NewConn(s, s, h, nil, nil)
	c.UpgradeRequest(upgradeRequest())
	pump(c, s)
	s.mu.Lock()
	s.out.Reset()
	s.mu.Unlock()
	return c, s
}

func upgradeRequest() *http.Request {
	r, _ := http.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Upgrade", "websocket")
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	r.Header.Set("Sec-WebSocket-Version", "13")
	return r
}

// clientFrame builds a masked client-to-server frame.
func clientFrame(fin bool, op Opcode, payload []byte) []byte {
	return createFrame(fin, op, payload, []byte{0x37, 0xfa, 0x21, 0x3d})
}

// parsedFrame is a decoded server-to-client frame.
type parsedFrame struct {
	fin     bool
	opcode  Opcode
	payload []byte
}

// parseServerFrames decodes the unmasked frame stream the server wrote.
func parseServerFrames(b []byte) ([]parsedFrame, error) {
	r := bytes.NewReader(b)
	var frames []parsedFrame

	for r.Len() > 0 {
		var hdr [2]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, err
		}
		if hdr[1]&0x80 != 0 {
			return nil, fmt.Errorf("server frame is masked")
		}

		length := uint64(hdr[1] & 0x7f)
		switch length {
		case 126:
			var ext [2]byte
			if _, err := io.ReadFull(r, ext[:]); err != nil {
				return nil, err
			}
			length = uint64(binary.BigEndian.Uint16(ext[:]))
		case 127:
			var ext [8]byte
			if _, err := io.ReadFull(r, ext[:]); err != nil {
				return nil, err
			}
			length = binary.BigEndian.Uint64(ext[:])
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		frames = append(frames, parsedFrame{
			fin:     hdr[0]&0x80 != 0,
			opcode:  Opcode(hdr[0] & 0x0f),
			payload: payload,
		})
	}

	return frames, nil
}
