package websocket

import (
	"net/http"
	"sync"
)

// EchoHandler is a [Handler] that reassembles every data message and
// sends it back to its sender, preserving the text/binary distinction.
// It serves as the demo application and as the conformance-test
// handler; real applications supply their own [Handler].
type EchoHandler struct {
	mu    sync.Mutex
	conns map[int64]*Handle
	bufs  map[int64]*echoMessage
}

type echoMessage struct {
	opcode Opcode
	data   []byte
}

func NewEchoHandler() *EchoHandler {
	return &EchoHandler{
		conns: map[int64]*Handle{},
		bufs:  map[int64]*echoMessage{},
	}
}

func (h *EchoHandler) HandleUpgrade(id int64, conn *Handle, _ http.Header) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[id] = conn
}

func (h *EchoHandler) HandleData(id int64, opcode Opcode, data []byte, messageStarting, messageFinished bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if messageStarting {
		h.bufs[id] = &echoMessage{opcode: opcode}
	}
	msg := h.bufs[id]
	if msg == nil {
		return
	}
	msg.data = append(msg.data, data...)

	if !messageFinished {
		return
	}
	delete(h.bufs, id)

	conn := h.conns[id]
	if conn == nil {
		return
	}
	if msg.opcode == OpcodeText {
		conn.SendMessage(NewTextMessage(string(msg.data)))
	} else {
		conn.SendMessage(NewBinaryMessage(msg.data))
	}
}

func (h *EchoHandler) HandleClose(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
	delete(h.bufs, id)
}
